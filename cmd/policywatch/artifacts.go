package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/openonco/policywatch/internal/model"
	"github.com/openonco/policywatch/internal/store"
)

var artifactsCmd = &cobra.Command{
	Use:   "artifacts",
	Short: "Inspect stored policy snapshots",
}

// -- artifacts list --

var artifactsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored artifacts",
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

		payer, _ := cmd.Flags().GetString("payer")
		policy, _ := cmd.Flags().GetString("policy")
		limit, _ := cmd.Flags().GetInt("limit")

		artifacts, err := st.ListArtifacts(ctx, store.ArtifactFilter{
			PayerID:  payer,
			PolicyID: policy,
			Limit:    limit,
		})
		if err != nil {
			return eris.Wrap(err, "artifacts list")
		}

		if len(artifacts) == 0 {
			fmt.Fprintln(os.Stderr, "No artifacts found.")
			return nil
		}

		formatArtifactsList(os.Stdout, artifacts)
		return nil
	},
}

// -- artifacts show --

var artifactsShowCmd = &cobra.Command{
	Use:   "show <artifact-id>",
	Short: "Show one artifact, including anchors",
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

		a, err := st.GetArtifact(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "artifacts show")
		}

		withContent, _ := cmd.Flags().GetBool("content")
		if !withContent {
			a.Content = ""
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(a)
	},
}

func formatArtifactsList(w io.Writer, artifacts []model.Artifact) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ARTIFACT ID\tPAYER\tPOLICY\tFETCHED\tLAST CHECKED\tANCHORS")
	for _, a := range artifacts {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\n",
			a.ArtifactID,
			a.PayerID,
			a.PolicyID,
			a.FetchedAt.Format("2006-01-02"),
			a.LastCheckedAt.Format("2006-01-02"),
			len(a.Anchors))
	}
	tw.Flush() //nolint:errcheck
}

func init() {
	artifactsListCmd.Flags().String("payer", "", "filter by payer id")
	artifactsListCmd.Flags().String("policy", "", "filter by policy id")
	artifactsListCmd.Flags().Int("limit", 50, "max number of artifacts to display")

	artifactsShowCmd.Flags().Bool("content", false, "include the full canonical text")

	artifactsCmd.AddCommand(artifactsListCmd)
	artifactsCmd.AddCommand(artifactsShowCmd)
	rootCmd.AddCommand(artifactsCmd)
}
