package dedupe

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/crm-dedupe/internal/config"
)

// ReviewQueue manages the manual-review workflow for uncertain detections.
type ReviewQueue struct {
	ledger Ledger
	cfg    config.ReviewConfig
	log    *zap.Logger
}

// NewReviewQueue creates a ReviewQueue over the given ledger.
func NewReviewQueue(ledger Ledger, cfg config.ReviewConfig) *ReviewQueue {
	return &ReviewQueue{
		ledger: ledger,
		cfg:    cfg,
		log:    zap.L().With(zap.String("component", "dedupe.queue")),
	}
}

// Enqueue creates a pending review item for a detection. Priority is high
// when the confidence clears the configured threshold, medium otherwise.
func (q *ReviewQueue) Enqueue(ctx context.Context, detectionID uuid.UUID, confidence float64) (*ReviewItem, error) {
	priority := PriorityMedium
	if confidence > q.cfg.HighPriorityThreshold {
		priority = PriorityHigh
	}

	item := &ReviewItem{
		DetectionID: detectionID,
		Priority:    priority,
		Status:      ReviewPending,
	}
	if err := q.ledger.CreateReviewItem(ctx, item); err != nil {
		return nil, err
	}

	q.log.Info("review item enqueued",
		zap.String("item_id", item.ID.String()),
		zap.String("detection_id", detectionID.String()),
		zap.String("priority", priority),
		zap.Float64("confidence", confidence),
	)
	return item, nil
}

// Assign claims a pending item for a reviewer. Returns ErrNotFound if the
// item does not exist and ErrConflict if it is already claimed or closed.
func (q *ReviewQueue) Assign(ctx context.Context, itemID uuid.UUID, userID string) (*ReviewItem, error) {
	item, err := q.ledger.GetReviewItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, ErrNotFound
	}

	if err := q.ledger.AssignReviewItem(ctx, itemID, userID); err != nil {
		return nil, err
	}
	return q.ledger.GetReviewItem(ctx, itemID)
}

// CompleteForDetection closes the open review item attached to a detection,
// if any, recording the resolution. Missing items are not an error: most
// detections are auto-processed and never enter the queue.
func (q *ReviewQueue) CompleteForDetection(ctx context.Context, detectionID uuid.UUID, resolution string) error {
	item, err := q.ledger.GetReviewItemByDetection(ctx, detectionID)
	if err != nil {
		return err
	}
	if item == nil {
		return nil
	}
	return q.ledger.CompleteReviewItem(ctx, item.ID, resolution)
}

// Escalate raises an open item to urgent priority.
func (q *ReviewQueue) Escalate(ctx context.Context, itemID uuid.UUID) error {
	item, err := q.ledger.GetReviewItem(ctx, itemID)
	if err != nil {
		return err
	}
	if item == nil {
		return ErrNotFound
	}
	return q.ledger.EscalateReviewItem(ctx, itemID)
}

// List returns review items filtered and ordered by priority then age. A
// zero limit falls back to the configured default.
func (q *ReviewQueue) List(ctx context.Context, f ReviewFilter) ([]ReviewItem, error) {
	if f.Limit <= 0 {
		f.Limit = q.cfg.DefaultListLimit
	}
	return q.ledger.ListReviewItems(ctx, f)
}
