package dedupe

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/crm-dedupe/internal/config"
)

func testReviewConfig() config.ReviewConfig {
	return config.ReviewConfig{HighPriorityThreshold: 0.7, DefaultListLimit: 50}
}

func TestEnqueuePriority(t *testing.T) {
	ledger := newFakeLedger()
	queue := NewReviewQueue(ledger, testReviewConfig())
	ctx := context.Background()

	tests := []struct {
		name       string
		confidence float64
		want       string
	}{
		{"above threshold", 0.75, PriorityHigh},
		{"at threshold", 0.7, PriorityMedium},
		{"low band", 0.45, PriorityMedium},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item, err := queue.Enqueue(ctx, uuid.New(), tt.confidence)
			require.NoError(t, err)
			assert.Equal(t, tt.want, item.Priority)
			assert.Equal(t, ReviewPending, item.Status)
		})
	}
}

func TestAssign(t *testing.T) {
	ledger := newFakeLedger()
	queue := NewReviewQueue(ledger, testReviewConfig())
	ctx := context.Background()

	item, err := queue.Enqueue(ctx, uuid.New(), 0.5)
	require.NoError(t, err)

	got, err := queue.Assign(ctx, item.ID, "reviewer-1")
	require.NoError(t, err)
	assert.Equal(t, "reviewer-1", got.AssignedTo)
	assert.Equal(t, ReviewInProgress, got.Status)
	require.NotNil(t, got.ReviewStartedAt)
	assert.False(t, got.ReviewStartedAt.IsZero())

	// Second claim loses.
	_, err = queue.Assign(ctx, item.ID, "reviewer-2")
	assert.ErrorIs(t, err, ErrConflict)
}

func TestAssignUnknownItem(t *testing.T) {
	queue := NewReviewQueue(newFakeLedger(), testReviewConfig())

	_, err := queue.Assign(context.Background(), uuid.New(), "reviewer-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCompleteForDetection(t *testing.T) {
	ledger := newFakeLedger()
	queue := NewReviewQueue(ledger, testReviewConfig())
	ctx := context.Background()

	detectionID := uuid.New()
	item, err := queue.Enqueue(ctx, detectionID, 0.5)
	require.NoError(t, err)

	require.NoError(t, queue.CompleteForDetection(ctx, detectionID, "merged"))

	got, err := ledger.GetReviewItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, ReviewCompleted, got.Status)
	assert.Equal(t, "merged", got.Resolution)
	assert.NotNil(t, got.CompletedAt)
}

func TestCompleteForDetectionWithoutItem(t *testing.T) {
	queue := NewReviewQueue(newFakeLedger(), testReviewConfig())

	// Auto-processed detections never enter the queue; completing them is
	// a no-op, not an error.
	assert.NoError(t, queue.CompleteForDetection(context.Background(), uuid.New(), "created"))
}

func TestEscalate(t *testing.T) {
	ledger := newFakeLedger()
	queue := NewReviewQueue(ledger, testReviewConfig())
	ctx := context.Background()

	item, err := queue.Enqueue(ctx, uuid.New(), 0.5)
	require.NoError(t, err)

	require.NoError(t, queue.Escalate(ctx, item.ID))

	got, err := ledger.GetReviewItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, ReviewEscalated, got.Status)
	assert.Equal(t, PriorityUrgent, got.Priority)
}

func TestListAppliesDefaultLimit(t *testing.T) {
	ledger := newFakeLedger()
	queue := NewReviewQueue(ledger, config.ReviewConfig{HighPriorityThreshold: 0.7, DefaultListLimit: 25})

	_, err := queue.List(context.Background(), ReviewFilter{})
	require.NoError(t, err)
	assert.Equal(t, 25, ledger.lastReviewFilter.Limit)

	_, err = queue.List(context.Background(), ReviewFilter{Limit: 5})
	require.NoError(t, err)
	assert.Equal(t, 5, ledger.lastReviewFilter.Limit)
}
