package main

import (
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/crm-dedupe/internal/dedupe"
	"github.com/sells-group/crm-dedupe/internal/record"
)

var (
	historyStatus string
	historyType   string
	historyAction string
	historyLimit  int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect past detections and merges",
}

var historyDetectionsCmd = &cobra.Command{
	Use:   "detections",
	Short: "List duplicate detection results",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		svc, pool, err := newService(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		out, err := svc.DetectionHistory(ctx, dedupe.DetectionFilter{
			Status: historyStatus,
			Action: dedupe.Action(historyAction),
			Limit:  historyLimit,
		})
		if err != nil {
			return err
		}
		return printJSON(out)
	},
}

var historyMergesCmd = &cobra.Command{
	Use:   "merges",
	Short: "List merge operations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		svc, pool, err := newService(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		out, err := svc.MergeHistory(ctx, dedupe.MergeFilter{
			Status:     historyStatus,
			SourceKind: record.Kind(historyType),
			Limit:      historyLimit,
		})
		if err != nil {
			return err
		}
		return printJSON(out)
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <detection-id>",
	Short: "Show one detection result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		id, err := uuid.Parse(args[0])
		if err != nil {
			return eris.Wrap(err, "history: parse detection id")
		}

		svc, pool, err := newService(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		d, err := svc.GetDetection(ctx, id)
		if err != nil {
			return err
		}
		return printJSON(d)
	},
}

func init() {
	historyCmd.PersistentFlags().StringVar(&historyStatus, "status", "", "filter by status")
	historyCmd.PersistentFlags().IntVar(&historyLimit, "limit", 50, "max rows")
	historyDetectionsCmd.Flags().StringVar(&historyAction, "action", "", "filter by recommended action")
	historyMergesCmd.Flags().StringVar(&historyType, "type", "", "filter by source record kind (lead, customer)")

	historyCmd.AddCommand(historyDetectionsCmd)
	historyCmd.AddCommand(historyMergesCmd)
	historyCmd.AddCommand(historyShowCmd)
	rootCmd.AddCommand(historyCmd)
}
