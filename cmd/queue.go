package main

import (
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/crm-dedupe/internal/dedupe"
)

var (
	queueStatus   string
	queuePriority string
	queueAssignee string
	queueLimit    int
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and work the manual review queue",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List review items by priority",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		svc, pool, err := newService(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		items, err := svc.ListReviewQueue(ctx, dedupe.ReviewFilter{
			Status:     queueStatus,
			Priority:   queuePriority,
			AssignedTo: queueAssignee,
			Limit:      queueLimit,
		})
		if err != nil {
			return err
		}
		return printJSON(items)
	},
}

var queueAssignCmd = &cobra.Command{
	Use:   "assign <item-id> <user-id>",
	Short: "Claim a review item for a reviewer",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		itemID, err := uuid.Parse(args[0])
		if err != nil {
			return eris.Wrap(err, "queue: parse item id")
		}

		svc, pool, err := newService(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		item, err := svc.AssignReview(ctx, itemID, args[1])
		if err != nil {
			return err
		}
		return printJSON(item)
	},
}

var queueEscalateCmd = &cobra.Command{
	Use:   "escalate <item-id>",
	Short: "Raise a review item to urgent priority",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		itemID, err := uuid.Parse(args[0])
		if err != nil {
			return eris.Wrap(err, "queue: parse item id")
		}

		svc, pool, err := newService(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		return svc.EscalateReview(ctx, itemID)
	},
}

func init() {
	queueListCmd.Flags().StringVar(&queueStatus, "status", "", "filter by status (pending, in_progress, completed, escalated)")
	queueListCmd.Flags().StringVar(&queuePriority, "priority", "", "filter by priority (low, medium, high, urgent)")
	queueListCmd.Flags().StringVar(&queueAssignee, "assigned-to", "", "filter by assignee")
	queueListCmd.Flags().IntVar(&queueLimit, "limit", 0, "max items (default from config)")

	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueAssignCmd)
	queueCmd.AddCommand(queueEscalateCmd)
	rootCmd.AddCommand(queueCmd)
}
