package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/openonco/policywatch/internal/model"
	"github.com/openonco/policywatch/internal/proposal"
	"github.com/openonco/policywatch/internal/store"
)

var proposalsCmd = &cobra.Command{
	Use:   "proposals",
	Short: "Review and apply staged changes",
	Long:  "Commands for listing, approving, rejecting, and applying proposals. Nothing reaches the authoritative coverage or delegation records without passing through here.",
}

// -- proposals list --

var proposalsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List proposals",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		status, _ := cmd.Flags().GetString("status")
		ptype, _ := cmd.Flags().GetString("type")
		limit, _ := cmd.Flags().GetInt("limit")

		proposals, err := st.ListProposals(ctx, store.ProposalFilter{
			Status: model.ProposalStatus(status),
			Type:   model.ProposalType(ptype),
			Limit:  limit,
		})
		if err != nil {
			return eris.Wrap(err, "proposals list")
		}

		if len(proposals) == 0 {
			fmt.Fprintln(os.Stderr, "No proposals found.")
			return nil
		}

		formatProposalsList(os.Stdout, proposals)
		return nil
	},
}

// -- proposals show --

var proposalsShowCmd = &cobra.Command{
	Use:   "show <proposal-id>",
	Short: "Show one proposal with payload and evidence",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		p, err := st.GetProposal(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "proposals show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(p)
	},
}

// -- proposals approve / reject / apply --

func reviewCommand(use, short string, act func(ctx context.Context, q *proposal.Queue, id string) (*model.Proposal, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <proposal-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			st, err := initStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck
			if err := st.Migrate(ctx); err != nil {
				return err
			}

			q := initQueue(st)
			p, err := act(ctx, q, args[0])
			if err != nil {
				return err
			}

			zap.L().Info("proposal "+string(p.Status),
				zap.String("id", p.ID),
				zap.String("type", string(p.Type)))

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(p)
		},
	}
}

func formatProposalsList(w io.Writer, proposals []model.Proposal) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tSTATUS\tPAYER\tCREATED")
	for _, p := range proposals {
		payer, _ := p.Payload["payer_id"].(string)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			p.ID,
			p.Type,
			p.Status,
			payer,
			p.CreatedAt.Format("2006-01-02 15:04"))
	}
	tw.Flush() //nolint:errcheck
}

func init() {
	proposalsListCmd.Flags().String("status", "", "filter by status (pending, approved, rejected, applied)")
	proposalsListCmd.Flags().String("type", "", "filter by type (coverage_assertion, delegation_update)")
	proposalsListCmd.Flags().Int("limit", 50, "max number of proposals to display")

	proposalsCmd.AddCommand(proposalsListCmd)
	proposalsCmd.AddCommand(proposalsShowCmd)
	proposalsCmd.AddCommand(reviewCommand("approve", "Approve a pending proposal",
		func(ctx context.Context, q *proposal.Queue, id string) (*model.Proposal, error) {
			return q.Approve(ctx, id)
		}))
	proposalsCmd.AddCommand(reviewCommand("reject", "Reject a pending proposal",
		func(ctx context.Context, q *proposal.Queue, id string) (*model.Proposal, error) {
			return q.Reject(ctx, id)
		}))
	proposalsCmd.AddCommand(reviewCommand("apply", "Apply an approved proposal",
		func(ctx context.Context, q *proposal.Queue, id string) (*model.Proposal, error) {
			return q.Apply(ctx, id)
		}))
	rootCmd.AddCommand(proposalsCmd)
}
