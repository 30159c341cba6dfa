// Package dedupe implements duplicate detection, the review queue, and
// record merging for incoming contact records.
package dedupe

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/sells-group/crm-dedupe/internal/record"
)

// Detection statuses.
const (
	DetectionPending       = "pending"
	DetectionApproved      = "approved"
	DetectionRejected      = "rejected"
	DetectionAutoProcessed = "auto_processed"
)

// RecordSummary is the display snapshot of a candidate record, captured at
// detection time so the ledger stays readable after merges delete sources.
type RecordSummary struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// Candidate is one potential duplicate of the incoming contact.
type Candidate struct {
	Record     record.Ref    `json:"record"`
	Summary    RecordSummary `json:"summary"`
	Confidence float64       `json:"confidence"`
	Reasons    []string      `json:"reasons,omitempty"`
}

// ReviewItem priorities and statuses.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"

	ReviewPending    = "pending"
	ReviewInProgress = "in_progress"
	ReviewCompleted  = "completed"
	ReviewEscalated  = "escalated"
)

// ReviewItem is a queued manual-review task for one detection.
type ReviewItem struct {
	ID          uuid.UUID  `json:"id"`
	DetectionID uuid.UUID  `json:"detection_id"`
	Priority    string     `json:"priority"`
	Status      string     `json:"status"`
	AssignedTo  string     `json:"assigned_to,omitempty"`
	Resolution  string     `json:"resolution,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`

	ReviewStartedAt *time.Time `json:"review_started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// Merge operation statuses.
const (
	MergePending    = "pending"
	MergeInProgress = "in_progress"
	MergeCompleted  = "completed"
	MergeFailed     = "failed"
	MergeRolledBack = "rolled_back"
)

// MergeOperation is the audit row for one merge attempt. BeforeState and
// AfterState hold JSON snapshots of both records; a failed operation keeps
// its BeforeState and error message while the data transaction rolls back.
type MergeOperation struct {
	ID          uuid.UUID  `json:"id"`
	Source      record.Ref `json:"source"`
	Target      record.Ref `json:"target"`
	Status      string     `json:"status"`
	InitiatedBy string     `json:"initiated_by,omitempty"`
	DetectionID *uuid.UUID `json:"detection_id,omitempty"`
	Confidence  float64    `json:"confidence"` // score that triggered the merge, zero for manual

	BeforeState []byte `json:"before_state,omitempty"` // JSONB
	AfterState  []byte `json:"after_state,omitempty"`  // JSONB
	Error       string `json:"error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// DetectionFilter narrows ListDetections.
type DetectionFilter struct {
	Status string
	Action Action
	Limit  int
}

// ReviewFilter narrows ListReviewItems.
type ReviewFilter struct {
	Status     string
	Priority   string
	AssignedTo string
	Limit      int
}

// MergeFilter narrows ListMergeOps.
type MergeFilter struct {
	Status     string
	SourceKind record.Kind
	Limit      int
}

// Ledger persists detection results, review items, and merge operations.
// Rows are never hard-deleted; the ledger is the audit trail.
type Ledger interface {
	CreateDetection(ctx context.Context, d *DetectionRecord) error
	GetDetection(ctx context.Context, id uuid.UUID) (*DetectionRecord, error)
	FinalizeDetection(ctx context.Context, id uuid.UUID, status string, outcome Outcome) error
	ListDetections(ctx context.Context, f DetectionFilter) ([]DetectionRecord, error)

	CreateReviewItem(ctx context.Context, item *ReviewItem) error
	GetReviewItem(ctx context.Context, id uuid.UUID) (*ReviewItem, error)
	GetReviewItemByDetection(ctx context.Context, detectionID uuid.UUID) (*ReviewItem, error)
	AssignReviewItem(ctx context.Context, id uuid.UUID, userID string) error
	CompleteReviewItem(ctx context.Context, id uuid.UUID, resolution string) error
	EscalateReviewItem(ctx context.Context, id uuid.UUID) error
	ListReviewItems(ctx context.Context, f ReviewFilter) ([]ReviewItem, error)

	CreateMergeOp(ctx context.Context, op *MergeOperation) error
	GetMergeOp(ctx context.Context, id uuid.UUID) (*MergeOperation, error)
	StartMergeOp(ctx context.Context, id uuid.UUID) error
	CompleteMergeOp(ctx context.Context, id uuid.UUID, afterState []byte) error
	FailMergeOp(ctx context.Context, id uuid.UUID, errMsg string) error
	ListMergeOps(ctx context.Context, f MergeFilter) ([]MergeOperation, error)
}

// Outcome records what a finalized detection actually did.
type Outcome struct {
	FinalAction   Action
	ProcessedBy   string
	CreatedLeadID *int64
	MergedInto    *record.Ref
}

// DetectionRecord is the persisted outcome of one duplicate check.
type DetectionRecord struct {
	ID      uuid.UUID `json:"id"`
	Payload []byte    `json:"payload"` // raw incoming contact, JSONB

	Candidates        []Candidate `json:"candidates,omitempty"`
	Confidence        float64     `json:"confidence"`
	RecommendedAction Action      `json:"recommended_action"`
	Status            string      `json:"status"`

	// FinalAction is the disposition actually taken, which can differ
	// from the recommendation once a reviewer weighs in.
	FinalAction Action `json:"final_action,omitempty"`

	ProcessedBy   string      `json:"processed_by,omitempty"`
	CreatedLeadID *int64      `json:"created_lead_id,omitempty"`
	MergedInto    *record.Ref `json:"merged_into,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// TopCandidate returns the highest-confidence candidate, or nil.
func (d *DetectionRecord) TopCandidate() *Candidate {
	if len(d.Candidates) == 0 {
		return nil
	}
	return &d.Candidates[0]
}
