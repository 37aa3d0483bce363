package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/openonco/policywatch/internal/model"
	"github.com/openonco/policywatch/internal/registry"
)

var delegationCmd = &cobra.Command{
	Use:   "delegation",
	Short: "Query who manages lab benefits for a payer",
}

var delegationStatusCmd = &cobra.Command{
	Use:   "status <payer-id>",
	Short: "Resolve the delegation status for one payer",
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

		eng, err := buildDelegationEngine(ctx, st)
		if err != nil {
			return err
		}

		lob, _ := cmd.Flags().GetString("lob")

		status := eng.Status(args[0], lob)
		if status == nil {
			fmt.Fprintf(os.Stderr, "No delegation on record for %s; payer manages lab benefits directly as far as we know.\n", args[0])
			return nil
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	},
}

// bulkDelegationWriter is implemented by stores with a fast bulk-merge path.
type bulkDelegationWriter interface {
	BulkUpsertDelegationFacts(ctx context.Context, facts []model.DelegationFact) error
}

var delegationImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import the curated seed file into the store",
	Long:  "Persists the delegation seed file so shared deployments resolve from the database instead of each operator's local file.",
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

		seed, err := registry.LoadDelegationSeed(cfg.Registry.DelegationSeedPath)
		if err != nil {
			return err
		}
		if len(seed) == 0 {
			fmt.Fprintln(os.Stderr, "Seed file is empty or missing; nothing to import.")
			return nil
		}

		facts := make([]model.DelegationFact, 0, len(seed))
		for _, f := range seed {
			facts = append(facts, f)
		}

		if bulk, ok := st.(bulkDelegationWriter); ok {
			if err := bulk.BulkUpsertDelegationFacts(ctx, facts); err != nil {
				return eris.Wrap(err, "delegation import")
			}
		} else {
			for _, f := range facts {
				if err := st.UpsertDelegationFact(ctx, f); err != nil {
					return eris.Wrapf(err, "delegation import %s", f.PayerID)
				}
			}
		}

		zap.L().Info("delegation seed imported", zap.Int("facts", len(facts)))
		return nil
	},
}

func init() {
	delegationStatusCmd.Flags().String("lob", "", "line of business to check applicability for (e.g. medicare_advantage)")

	delegationCmd.AddCommand(delegationStatusCmd)
	delegationCmd.AddCommand(delegationImportCmd)
	rootCmd.AddCommand(delegationCmd)
}
