package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/crm-dedupe/internal/dedupe"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		pool, err := connect(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := dedupe.Migrate(ctx, pool); err != nil {
			return err
		}
		zap.L().Info("migrations up to date")
		return nil
	},
}

var mergeCmd = &cobra.Command{
	Use:   "merge <source-kind:id> <target-kind:id>",
	Short: "Merge one record into another directly",
	Long: `Runs a merge outside the detection flow, for duplicates found by hand.

Examples:
  crm-dedupe merge lead:42 lead:7
  crm-dedupe merge lead:42 customer:12
  crm-dedupe merge customer:30 customer:12`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		source, err := parseRef(args[0])
		if err != nil {
			return err
		}
		target, err := parseRef(args[1])
		if err != nil {
			return err
		}

		svc, pool, err := newService(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		op, err := svc.MergeRecords(ctx, source, target, mergeUser)
		if err != nil {
			return err
		}
		return printJSON(op)
	},
}

var mergeUser string

func init() {
	mergeCmd.Flags().StringVar(&mergeUser, "user", "cli", "acting user recorded on the merge")
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(mergeCmd)
}
