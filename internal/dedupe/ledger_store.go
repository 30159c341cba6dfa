package dedupe

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/crm-dedupe/internal/db"
	"github.com/sells-group/crm-dedupe/internal/record"
)

// PostgresLedger implements Ledger over Postgres. Like the record store it
// runs over any db.Querier, so the merge executor can write audit rows
// outside the data transaction.
type PostgresLedger struct {
	q db.Querier
}

// NewPostgresLedger creates a ledger over the given querier.
func NewPostgresLedger(q db.Querier) *PostgresLedger {
	return &PostgresLedger{q: q}
}

const detectionColumns = `id, payload, candidates, confidence, recommended_action, status,
	final_action, processed_by, created_lead_id, merged_into_kind, merged_into_id, created_at, processed_at`

// CreateDetection inserts a pending detection row, filling ID and CreatedAt.
func (s *PostgresLedger) CreateDetection(ctx context.Context, d *DetectionRecord) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	candidates, err := json.Marshal(d.Candidates)
	if err != nil {
		return eris.Wrap(err, "ledger: marshal candidates")
	}

	row := s.q.QueryRow(ctx, `
		INSERT INTO detection_results (id, payload, candidates, confidence, recommended_action, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`,
		d.ID, d.Payload, candidates, d.Confidence, string(d.RecommendedAction), d.Status,
	)
	if err := row.Scan(&d.CreatedAt); err != nil {
		return eris.Wrap(err, "ledger: create detection")
	}
	return nil
}

// GetDetection returns one detection, or nil if it does not exist.
func (s *PostgresLedger) GetDetection(ctx context.Context, id uuid.UUID) (*DetectionRecord, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+detectionColumns+` FROM detection_results WHERE id=$1`, id)
	if err != nil {
		return nil, eris.Wrap(err, "ledger: get detection")
	}
	defer rows.Close()

	out, err := scanDetections(rows)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return &out[0], nil
}

// FinalizeDetection records the status of a processed detection together
// with what was done about it. Only pending detections can be finalized.
func (s *PostgresLedger) FinalizeDetection(ctx context.Context, id uuid.UUID, status string, outcome Outcome) error {
	var mergedKind *string
	var mergedID *int64
	if outcome.MergedInto != nil {
		k := string(outcome.MergedInto.Kind)
		mergedKind, mergedID = &k, &outcome.MergedInto.ID
	}

	tag, err := s.q.Exec(ctx, `
		UPDATE detection_results
		SET status=$2, final_action=$3, processed_by=$4, created_lead_id=$5, merged_into_kind=$6, merged_into_id=$7, processed_at=now()
		WHERE id=$1 AND status='pending'`,
		id, status, string(outcome.FinalAction), outcome.ProcessedBy, outcome.CreatedLeadID, mergedKind, mergedID,
	)
	if err != nil {
		return eris.Wrap(err, "ledger: finalize detection")
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrConflict, "detection %s is not pending", id)
	}
	return nil
}

// ListDetections returns detections newest first, optionally filtered.
func (s *PostgresLedger) ListDetections(ctx context.Context, f DetectionFilter) ([]DetectionRecord, error) {
	query := `SELECT ` + detectionColumns + ` FROM detection_results WHERE 1=1`
	var args []any
	if f.Status != "" {
		args = append(args, f.Status)
		query += fmt.Sprintf(" AND status=$%d", len(args))
	}
	if f.Action != "" {
		args = append(args, string(f.Action))
		query += fmt.Sprintf(" AND recommended_action=$%d", len(args))
	}
	query += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "ledger: list detections")
	}
	defer rows.Close()
	return scanDetections(rows)
}

func scanDetections(rows pgx.Rows) ([]DetectionRecord, error) {
	var out []DetectionRecord
	for rows.Next() {
		var d DetectionRecord
		var candidates []byte
		var action, finalAction string
		var mergedKind *string
		var mergedID *int64
		if err := rows.Scan(
			&d.ID, &d.Payload, &candidates, &d.Confidence, &action, &d.Status,
			&finalAction, &d.ProcessedBy, &d.CreatedLeadID, &mergedKind, &mergedID, &d.CreatedAt, &d.ProcessedAt,
		); err != nil {
			return nil, eris.Wrap(err, "ledger: scan detection")
		}
		d.RecommendedAction = Action(action)
		d.FinalAction = Action(finalAction)
		if len(candidates) > 0 {
			if err := json.Unmarshal(candidates, &d.Candidates); err != nil {
				return nil, eris.Wrap(err, "ledger: unmarshal candidates")
			}
		}
		if mergedKind != nil && mergedID != nil {
			d.MergedInto = &record.Ref{Kind: record.Kind(*mergedKind), ID: *mergedID}
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

const reviewColumns = `id, detection_id, priority, status, assigned_to, resolution,
	created_at, updated_at, review_started_at, completed_at`

// CreateReviewItem inserts a pending review item, filling ID and timestamps.
func (s *PostgresLedger) CreateReviewItem(ctx context.Context, item *ReviewItem) error {
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	row := s.q.QueryRow(ctx, `
		INSERT INTO review_queue (id, detection_id, priority, status)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at`,
		item.ID, item.DetectionID, item.Priority, item.Status,
	)
	if err := row.Scan(&item.CreatedAt, &item.UpdatedAt); err != nil {
		return eris.Wrap(err, "ledger: create review item")
	}
	return nil
}

// GetReviewItem returns one review item, or nil if it does not exist.
func (s *PostgresLedger) GetReviewItem(ctx context.Context, id uuid.UUID) (*ReviewItem, error) {
	return s.getReviewItem(ctx,
		`SELECT `+reviewColumns+` FROM review_queue WHERE id=$1`, id)
}

// GetReviewItemByDetection returns the open review item for a detection, or
// nil if none exists.
func (s *PostgresLedger) GetReviewItemByDetection(ctx context.Context, detectionID uuid.UUID) (*ReviewItem, error) {
	return s.getReviewItem(ctx,
		`SELECT `+reviewColumns+` FROM review_queue
		WHERE detection_id=$1 AND status IN ('pending', 'in_progress', 'escalated')
		ORDER BY created_at DESC LIMIT 1`, detectionID)
}

func (s *PostgresLedger) getReviewItem(ctx context.Context, query string, arg any) (*ReviewItem, error) {
	rows, err := s.q.Query(ctx, query, arg)
	if err != nil {
		return nil, eris.Wrap(err, "ledger: get review item")
	}
	defer rows.Close()

	out, err := scanReviewItems(rows)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return &out[0], nil
}

// AssignReviewItem claims a review item for a user. The update is
// conditional on the item still being unassigned, so a lost race returns
// ErrConflict instead of silently stealing the item.
func (s *PostgresLedger) AssignReviewItem(ctx context.Context, id uuid.UUID, userID string) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE review_queue
		SET assigned_to=$2, status='in_progress', review_started_at=now(), updated_at=now()
		WHERE id=$1 AND status='pending' AND assigned_to=''`,
		id, userID,
	)
	if err != nil {
		return eris.Wrap(err, "ledger: assign review item")
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrConflict, "review item %s is not assignable", id)
	}
	return nil
}

// CompleteReviewItem marks an open review item completed with a resolution.
func (s *PostgresLedger) CompleteReviewItem(ctx context.Context, id uuid.UUID, resolution string) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE review_queue
		SET status='completed', resolution=$2, updated_at=now(), completed_at=now()
		WHERE id=$1 AND status IN ('pending', 'in_progress', 'escalated')`,
		id, resolution,
	)
	if err != nil {
		return eris.Wrap(err, "ledger: complete review item")
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrConflict, "review item %s is not open", id)
	}
	return nil
}

// EscalateReviewItem raises an open item to urgent priority.
func (s *PostgresLedger) EscalateReviewItem(ctx context.Context, id uuid.UUID) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE review_queue
		SET status='escalated', priority='urgent', updated_at=now()
		WHERE id=$1 AND status IN ('pending', 'in_progress')`,
		id,
	)
	if err != nil {
		return eris.Wrap(err, "ledger: escalate review item")
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrConflict, "review item %s is not open", id)
	}
	return nil
}

// ListReviewItems returns review items ordered by priority then age.
func (s *PostgresLedger) ListReviewItems(ctx context.Context, f ReviewFilter) ([]ReviewItem, error) {
	query := `SELECT ` + reviewColumns + ` FROM review_queue WHERE 1=1`
	var args []any
	if f.Status != "" {
		args = append(args, f.Status)
		query += fmt.Sprintf(" AND status=$%d", len(args))
	}
	if f.Priority != "" {
		args = append(args, f.Priority)
		query += fmt.Sprintf(" AND priority=$%d", len(args))
	}
	if f.AssignedTo != "" {
		args = append(args, f.AssignedTo)
		query += fmt.Sprintf(" AND assigned_to=$%d", len(args))
	}
	query += ` ORDER BY array_position(ARRAY['urgent','high','medium','low'], priority), created_at`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "ledger: list review items")
	}
	defer rows.Close()
	return scanReviewItems(rows)
}

func scanReviewItems(rows pgx.Rows) ([]ReviewItem, error) {
	var out []ReviewItem
	for rows.Next() {
		var item ReviewItem
		if err := rows.Scan(
			&item.ID, &item.DetectionID, &item.Priority, &item.Status,
			&item.AssignedTo, &item.Resolution,
			&item.CreatedAt, &item.UpdatedAt, &item.ReviewStartedAt, &item.CompletedAt,
		); err != nil {
			return nil, eris.Wrap(err, "ledger: scan review item")
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

const mergeColumns = `id, source_kind, source_id, target_kind, target_id, status,
	initiated_by, detection_id, confidence, before_state, after_state, error, created_at, completed_at`

// CreateMergeOp inserts a pending merge operation, filling ID and CreatedAt.
func (s *PostgresLedger) CreateMergeOp(ctx context.Context, op *MergeOperation) error {
	if op.ID == uuid.Nil {
		op.ID = uuid.New()
	}
	row := s.q.QueryRow(ctx, `
		INSERT INTO merge_operations
			(id, source_kind, source_id, target_kind, target_id, status, initiated_by, detection_id, confidence, before_state)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at`,
		op.ID, string(op.Source.Kind), op.Source.ID, string(op.Target.Kind), op.Target.ID,
		op.Status, op.InitiatedBy, op.DetectionID, op.Confidence, op.BeforeState,
	)
	if err := row.Scan(&op.CreatedAt); err != nil {
		return eris.Wrap(err, "ledger: create merge op")
	}
	return nil
}

// GetMergeOp returns one merge operation, or nil if it does not exist.
func (s *PostgresLedger) GetMergeOp(ctx context.Context, id uuid.UUID) (*MergeOperation, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+mergeColumns+` FROM merge_operations WHERE id=$1`, id)
	if err != nil {
		return nil, eris.Wrap(err, "ledger: get merge op")
	}
	defer rows.Close()

	out, err := scanMergeOps(rows)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return &out[0], nil
}

// StartMergeOp moves a pending operation to in_progress.
func (s *PostgresLedger) StartMergeOp(ctx context.Context, id uuid.UUID) error {
	return s.transitionMergeOp(ctx, id,
		`UPDATE merge_operations SET status='in_progress' WHERE id=$1 AND status='pending'`)
}

// CompleteMergeOp records a successful merge with the post-merge snapshot.
func (s *PostgresLedger) CompleteMergeOp(ctx context.Context, id uuid.UUID, afterState []byte) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE merge_operations
		SET status='completed', after_state=$2, completed_at=now()
		WHERE id=$1 AND status='in_progress'`,
		id, afterState,
	)
	if err != nil {
		return eris.Wrap(err, "ledger: complete merge op")
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrConflict, "merge op %s is not in progress", id)
	}
	return nil
}

// FailMergeOp records a failed merge. The data transaction has already
// rolled back by the time this runs, so the audit row survives the failure.
func (s *PostgresLedger) FailMergeOp(ctx context.Context, id uuid.UUID, errMsg string) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE merge_operations
		SET status='failed', error=$2, completed_at=now()
		WHERE id=$1 AND status IN ('pending', 'in_progress')`,
		id, errMsg,
	)
	if err != nil {
		return eris.Wrap(err, "ledger: fail merge op")
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrConflict, "merge op %s is not open", id)
	}
	return nil
}

func (s *PostgresLedger) transitionMergeOp(ctx context.Context, id uuid.UUID, query string) error {
	tag, err := s.q.Exec(ctx, query, id)
	if err != nil {
		return eris.Wrap(err, "ledger: transition merge op")
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrConflict, "merge op %s transition refused", id)
	}
	return nil
}

// ListMergeOps returns merge operations newest first, optionally filtered.
func (s *PostgresLedger) ListMergeOps(ctx context.Context, f MergeFilter) ([]MergeOperation, error) {
	query := `SELECT ` + mergeColumns + ` FROM merge_operations WHERE 1=1`
	var args []any
	if f.Status != "" {
		args = append(args, f.Status)
		query += fmt.Sprintf(" AND status=$%d", len(args))
	}
	if f.SourceKind != "" {
		args = append(args, string(f.SourceKind))
		query += fmt.Sprintf(" AND source_kind=$%d", len(args))
	}
	query += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "ledger: list merge ops")
	}
	defer rows.Close()
	return scanMergeOps(rows)
}

func scanMergeOps(rows pgx.Rows) ([]MergeOperation, error) {
	var out []MergeOperation
	for rows.Next() {
		var op MergeOperation
		var sourceKind, targetKind string
		if err := rows.Scan(
			&op.ID, &sourceKind, &op.Source.ID, &targetKind, &op.Target.ID, &op.Status,
			&op.InitiatedBy, &op.DetectionID, &op.Confidence, &op.BeforeState, &op.AfterState, &op.Error,
			&op.CreatedAt, &op.CompletedAt,
		); err != nil {
			return nil, eris.Wrap(err, "ledger: scan merge op")
		}
		op.Source.Kind = record.Kind(sourceKind)
		op.Target.Kind = record.Kind(targetKind)
		out = append(out, op)
	}
	return out, rows.Err()
}
