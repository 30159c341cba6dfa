package dedupe

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/crm-dedupe/internal/record"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// fakeStore implements the record.Store methods the dedupe package touches.
// Unused methods come from the embedded nil interface and panic if called.
type fakeStore struct {
	record.Store

	leads     []record.Lead
	customers []record.Customer

	created   []*record.Lead
	createErr error
	nextID    int64
}

func (f *fakeStore) FindLeadsByContact(_ context.Context, _, _ string) ([]record.Lead, error) {
	return f.leads, nil
}

func (f *fakeStore) FindCustomersByContact(_ context.Context, _, _ string) ([]record.Customer, error) {
	return f.customers, nil
}

func (f *fakeStore) CreateLead(_ context.Context, l *record.Lead) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.nextID++
	l.ID = f.nextID
	l.CreatedAt = time.Now()
	f.created = append(f.created, l)
	return nil
}

// fakeLedger is an in-memory Ledger with the same guard semantics as the
// Postgres implementation.
type fakeLedger struct {
	detections map[uuid.UUID]*DetectionRecord
	reviews    map[uuid.UUID]*ReviewItem
	ops        map[uuid.UUID]*MergeOperation

	lastReviewFilter ReviewFilter
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		detections: map[uuid.UUID]*DetectionRecord{},
		reviews:    map[uuid.UUID]*ReviewItem{},
		ops:        map[uuid.UUID]*MergeOperation{},
	}
}

func (f *fakeLedger) CreateDetection(_ context.Context, d *DetectionRecord) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	d.CreatedAt = time.Now()
	cp := *d
	f.detections[d.ID] = &cp
	return nil
}

func (f *fakeLedger) GetDetection(_ context.Context, id uuid.UUID) (*DetectionRecord, error) {
	d, ok := f.detections[id]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (f *fakeLedger) FinalizeDetection(_ context.Context, id uuid.UUID, status string, outcome Outcome) error {
	d, ok := f.detections[id]
	if !ok || d.Status != DetectionPending {
		return ErrConflict
	}
	now := time.Now()
	d.Status = status
	d.FinalAction = outcome.FinalAction
	d.ProcessedBy = outcome.ProcessedBy
	d.CreatedLeadID = outcome.CreatedLeadID
	d.MergedInto = outcome.MergedInto
	d.ProcessedAt = &now
	return nil
}

func (f *fakeLedger) ListDetections(_ context.Context, _ DetectionFilter) ([]DetectionRecord, error) {
	var out []DetectionRecord
	for _, d := range f.detections {
		out = append(out, *d)
	}
	return out, nil
}

func (f *fakeLedger) CreateReviewItem(_ context.Context, item *ReviewItem) error {
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	item.CreatedAt = time.Now()
	item.UpdatedAt = item.CreatedAt
	cp := *item
	f.reviews[item.ID] = &cp
	return nil
}

func (f *fakeLedger) GetReviewItem(_ context.Context, id uuid.UUID) (*ReviewItem, error) {
	item, ok := f.reviews[id]
	if !ok {
		return nil, nil
	}
	cp := *item
	return &cp, nil
}

func (f *fakeLedger) GetReviewItemByDetection(_ context.Context, detectionID uuid.UUID) (*ReviewItem, error) {
	for _, item := range f.reviews {
		if item.DetectionID == detectionID && item.Status != ReviewCompleted {
			cp := *item
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeLedger) AssignReviewItem(_ context.Context, id uuid.UUID, userID string) error {
	item, ok := f.reviews[id]
	if !ok || item.Status != ReviewPending || item.AssignedTo != "" {
		return ErrConflict
	}
	now := time.Now()
	item.AssignedTo = userID
	item.Status = ReviewInProgress
	item.ReviewStartedAt = &now
	return nil
}

func (f *fakeLedger) CompleteReviewItem(_ context.Context, id uuid.UUID, resolution string) error {
	item, ok := f.reviews[id]
	if !ok || item.Status == ReviewCompleted {
		return ErrConflict
	}
	now := time.Now()
	item.Status = ReviewCompleted
	item.Resolution = resolution
	item.CompletedAt = &now
	return nil
}

func (f *fakeLedger) EscalateReviewItem(_ context.Context, id uuid.UUID) error {
	item, ok := f.reviews[id]
	if !ok || (item.Status != ReviewPending && item.Status != ReviewInProgress) {
		return ErrConflict
	}
	item.Status = ReviewEscalated
	item.Priority = PriorityUrgent
	return nil
}

func (f *fakeLedger) ListReviewItems(_ context.Context, filter ReviewFilter) ([]ReviewItem, error) {
	f.lastReviewFilter = filter
	var out []ReviewItem
	for _, item := range f.reviews {
		if filter.Status != "" && item.Status != filter.Status {
			continue
		}
		if filter.AssignedTo != "" && item.AssignedTo != filter.AssignedTo {
			continue
		}
		out = append(out, *item)
	}
	return out, nil
}

func (f *fakeLedger) CreateMergeOp(_ context.Context, op *MergeOperation) error {
	if op.ID == uuid.Nil {
		op.ID = uuid.New()
	}
	op.CreatedAt = time.Now()
	cp := *op
	f.ops[op.ID] = &cp
	return nil
}

func (f *fakeLedger) GetMergeOp(_ context.Context, id uuid.UUID) (*MergeOperation, error) {
	op, ok := f.ops[id]
	if !ok {
		return nil, nil
	}
	cp := *op
	return &cp, nil
}

func (f *fakeLedger) StartMergeOp(_ context.Context, id uuid.UUID) error {
	op, ok := f.ops[id]
	if !ok || op.Status != MergePending {
		return ErrConflict
	}
	op.Status = MergeInProgress
	return nil
}

func (f *fakeLedger) CompleteMergeOp(_ context.Context, id uuid.UUID, afterState []byte) error {
	op, ok := f.ops[id]
	if !ok || op.Status != MergeInProgress {
		return ErrConflict
	}
	now := time.Now()
	op.Status = MergeCompleted
	op.AfterState = afterState
	op.CompletedAt = &now
	return nil
}

func (f *fakeLedger) FailMergeOp(_ context.Context, id uuid.UUID, errMsg string) error {
	op, ok := f.ops[id]
	if !ok || (op.Status != MergePending && op.Status != MergeInProgress) {
		return ErrConflict
	}
	now := time.Now()
	op.Status = MergeFailed
	op.Error = errMsg
	op.CompletedAt = &now
	return nil
}

func (f *fakeLedger) ListMergeOps(_ context.Context, _ MergeFilter) ([]MergeOperation, error) {
	var out []MergeOperation
	for _, op := range f.ops {
		out = append(out, *op)
	}
	return out, nil
}
