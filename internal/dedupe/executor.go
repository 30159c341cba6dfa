package dedupe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/crm-dedupe/internal/db"
	"github.com/sells-group/crm-dedupe/internal/record"
)

// MergeExecutor performs record merges. All data changes for one merge run
// in a single transaction; the audit rows in merge_operations are written
// outside it so a failed merge still leaves a failed entry behind.
type MergeExecutor struct {
	pool   db.Pool
	ledger Ledger
	log    *zap.Logger
}

// NewMergeExecutor creates a MergeExecutor over the given pool and ledger.
func NewMergeExecutor(pool db.Pool, ledger Ledger) *MergeExecutor {
	return &MergeExecutor{
		pool:   pool,
		ledger: ledger,
		log:    zap.L().With(zap.String("component", "dedupe.executor")),
	}
}

// Merge folds an existing source record into the target and returns the
// completed operation. Confidence is the score that triggered the merge;
// zero for manual merges. A target that has vanished since the decision is
// a conflict and leaves a failed operation on the ledger.
func (e *MergeExecutor) Merge(ctx context.Context, source, target record.Ref, initiatedBy string, detectionID *uuid.UUID, confidence float64) (*MergeOperation, error) {
	apply, err := e.shape(source, target)
	if err != nil {
		return nil, err
	}

	store := record.NewPostgresStore(e.pool)
	srcSnap, err := e.load(ctx, store, source)
	if err != nil {
		return nil, err
	}
	dstSnap, err := e.load(ctx, store, target)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, e.failMissingTarget(ctx, source, srcSnap, target, initiatedBy, detectionID, confidence)
		}
		return nil, err
	}

	before, err := marshalStates(srcSnap, dstSnap)
	if err != nil {
		return nil, err
	}
	op := &MergeOperation{
		Source:      source,
		Target:      target,
		Status:      MergePending,
		InitiatedBy: initiatedBy,
		DetectionID: detectionID,
		Confidence:  confidence,
		BeforeState: before,
	}
	if err := e.ledger.CreateMergeOp(ctx, op); err != nil {
		return nil, err
	}
	if err := e.ledger.StartMergeOp(ctx, op.ID); err != nil {
		return nil, err
	}

	var after any
	err = db.WithTx(ctx, e.pool, func(tx pgx.Tx) error {
		txStore := record.NewPostgresStore(tx)
		var mergeErr error
		after, mergeErr = apply(ctx, txStore, source, target, initiatedBy)
		return mergeErr
	})
	if err != nil {
		// The data transaction has rolled back; record the failure.
		e.fail(ctx, op, err)
		return nil, err
	}
	return e.finish(ctx, op, after)
}

// MergeIncoming inserts a not-yet-persisted lead and folds it into the
// target inside one transaction. A failed merge rolls the insert back too,
// so no orphaned duplicate lead survives the failure.
func (e *MergeExecutor) MergeIncoming(ctx context.Context, lead *record.Lead, target record.Ref, initiatedBy string, detectionID *uuid.UUID, confidence float64) (*MergeOperation, error) {
	if !target.Kind.Valid() {
		return nil, eris.Wrap(ErrValidation, "unknown record kind")
	}

	dstSnap, err := e.load(ctx, record.NewPostgresStore(e.pool), target)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, eris.Wrapf(ErrConflict, "%s %d no longer exists", target.Kind, target.ID)
		}
		return nil, err
	}

	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "executor: begin merge tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	txStore := record.NewPostgresStore(tx)
	if err := txStore.CreateLead(ctx, lead); err != nil {
		return nil, err
	}

	source := lead.Ref()
	apply, err := e.shape(source, target)
	if err != nil {
		return nil, err
	}

	before, err := marshalStates(lead, dstSnap)
	if err != nil {
		return nil, err
	}
	op := &MergeOperation{
		Source:      source,
		Target:      target,
		Status:      MergePending,
		InitiatedBy: initiatedBy,
		DetectionID: detectionID,
		Confidence:  confidence,
		BeforeState: before,
	}
	if err := e.ledger.CreateMergeOp(ctx, op); err != nil {
		return nil, err
	}
	if err := e.ledger.StartMergeOp(ctx, op.ID); err != nil {
		return nil, err
	}

	after, err := apply(ctx, txStore, source, target, initiatedBy)
	if err == nil {
		if commitErr := tx.Commit(ctx); commitErr != nil {
			err = eris.Wrap(commitErr, "executor: commit merge tx")
		}
	}
	if err != nil {
		e.fail(ctx, op, err)
		return nil, err
	}
	return e.finish(ctx, op, after)
}

// shape validates the source/target pair and picks the merge to run. Valid
// pairs are lead into lead, lead into customer, and customer into
// customer; a customer can never merge into a lead.
func (e *MergeExecutor) shape(source, target record.Ref) (mergeFn, error) {
	if !source.Kind.Valid() || !target.Kind.Valid() {
		return nil, eris.Wrap(ErrValidation, "unknown record kind")
	}
	if source == target {
		return nil, eris.Wrap(ErrValidation, "source and target are the same record")
	}
	if source.Kind == record.KindCustomer && target.Kind == record.KindLead {
		return nil, eris.Wrap(ErrValidation, "cannot merge a customer into a lead")
	}

	switch {
	case source.Kind == record.KindLead && target.Kind == record.KindLead:
		return e.mergeLeads, nil
	case source.Kind == record.KindLead && target.Kind == record.KindCustomer:
		return e.mergeLeadIntoCustomer, nil
	default:
		return e.mergeCustomers, nil
	}
}

// mergeFn applies one merge shape inside the transaction and returns the
// post-merge state of the target for the audit snapshot.
type mergeFn func(ctx context.Context, store record.Store, source, target record.Ref, initiatedBy string) (any, error)

// failMissingTarget records a failed operation for a merge whose target
// disappeared between the decision and its execution.
func (e *MergeExecutor) failMissingTarget(ctx context.Context, source record.Ref, srcSnap any, target record.Ref, initiatedBy string, detectionID *uuid.UUID, confidence float64) error {
	cause := eris.Wrapf(ErrConflict, "%s %d no longer exists", target.Kind, target.ID)

	before, err := json.Marshal(map[string]any{"source": srcSnap})
	if err != nil {
		return eris.Wrap(err, "executor: marshal before state")
	}
	op := &MergeOperation{
		Source:      source,
		Target:      target,
		Status:      MergePending,
		InitiatedBy: initiatedBy,
		DetectionID: detectionID,
		Confidence:  confidence,
		BeforeState: before,
	}
	if err := e.ledger.CreateMergeOp(ctx, op); err != nil {
		return err
	}
	e.fail(ctx, op, cause)
	return cause
}

func (e *MergeExecutor) fail(ctx context.Context, op *MergeOperation, cause error) {
	if err := e.ledger.FailMergeOp(ctx, op.ID, cause.Error()); err != nil {
		e.log.Error("failed to record merge failure",
			zap.String("op_id", op.ID.String()), zap.Error(err))
	}
	e.log.Warn("merge failed",
		zap.String("op_id", op.ID.String()),
		zap.Int64("source_id", op.Source.ID),
		zap.Int64("target_id", op.Target.ID),
		zap.Error(cause),
	)
}

func (e *MergeExecutor) finish(ctx context.Context, op *MergeOperation, after any) (*MergeOperation, error) {
	afterState, err := json.Marshal(map[string]any{"target": after})
	if err != nil {
		return nil, eris.Wrap(err, "executor: marshal after state")
	}
	if err := e.ledger.CompleteMergeOp(ctx, op.ID, afterState); err != nil {
		return nil, err
	}

	e.log.Info("merge completed",
		zap.String("op_id", op.ID.String()),
		zap.String("source_kind", string(op.Source.Kind)),
		zap.Int64("source_id", op.Source.ID),
		zap.String("target_kind", string(op.Target.Kind)),
		zap.Int64("target_id", op.Target.ID),
	)
	return e.ledger.GetMergeOp(ctx, op.ID)
}

// load fetches one record for the pre-merge snapshot, returning ErrNotFound
// when it does not exist.
func (e *MergeExecutor) load(ctx context.Context, store record.Store, ref record.Ref) (any, error) {
	switch ref.Kind {
	case record.KindLead:
		l, err := store.GetLead(ctx, ref.ID)
		if err != nil {
			return nil, err
		}
		if l == nil {
			return nil, eris.Wrapf(ErrNotFound, "lead %d", ref.ID)
		}
		return l, nil
	default:
		c, err := store.GetCustomer(ctx, ref.ID)
		if err != nil {
			return nil, err
		}
		if c == nil {
			return nil, eris.Wrapf(ErrNotFound, "customer %d", ref.ID)
		}
		return c, nil
	}
}

func marshalStates(src, dst any) ([]byte, error) {
	before, err := json.Marshal(map[string]any{"source": src, "target": dst})
	if err != nil {
		return nil, eris.Wrap(err, "executor: marshal before state")
	}
	return before, nil
}

// mergeLeads folds one lead into another. The target keeps its own values,
// takes the higher score, and absorbs the source's notes, interactions, and
// a merged_data history entry. The source row is deleted.
func (e *MergeExecutor) mergeLeads(ctx context.Context, store record.Store, source, target record.Ref, initiatedBy string) (any, error) {
	src, err := store.GetLeadForUpdate(ctx, source.ID)
	if err != nil {
		return nil, err
	}
	if src == nil {
		return nil, eris.Wrapf(ErrNotFound, "lead %d", source.ID)
	}
	dst, err := store.GetLeadForUpdate(ctx, target.ID)
	if err != nil {
		return nil, err
	}
	if dst == nil {
		return nil, eris.Wrapf(ErrNotFound, "lead %d", target.ID)
	}

	mergeLeadFields(dst, src)

	merged, err := appendMergedData(dst.OriginalData, mergedDataEntry{
		MergedLeadID: src.ID,
		MergedAt:     time.Now().UTC(),
		MergedBy:     initiatedBy,
		Original:     src,
	})
	if err != nil {
		return nil, err
	}
	dst.OriginalData = merged

	if err := store.UpdateLead(ctx, dst); err != nil {
		return nil, err
	}

	moved, err := store.RepointInteractions(ctx, src.ID, dst.ID)
	if err != nil {
		return nil, err
	}

	detail, err := json.Marshal(map[string]any{
		"merged_lead_id":     src.ID,
		"interactions_moved": moved,
	})
	if err != nil {
		return nil, eris.Wrap(err, "executor: marshal merge detail")
	}
	if err := store.AddInteraction(ctx, &record.Interaction{
		LeadID:      dst.ID,
		Type:        "note",
		Subject:     fmt.Sprintf("Merged duplicate lead #%d", src.ID),
		Description: fmt.Sprintf("Lead #%d (%s) was merged into this lead.", src.ID, src.FullName()),
		UserID:      initiatedBy,
		Data:        detail,
	}); err != nil {
		return nil, err
	}

	if err := store.DeleteLead(ctx, src.ID); err != nil {
		return nil, err
	}
	return dst, nil
}

// mergeLeadIntoCustomer attaches a duplicate lead to an existing customer.
// The customer gains a history entry and the lead's notes; the lead is
// marked converted and kept, so its intake trail survives.
func (e *MergeExecutor) mergeLeadIntoCustomer(ctx context.Context, store record.Store, source, target record.Ref, initiatedBy string) (any, error) {
	lead, err := store.GetLeadForUpdate(ctx, source.ID)
	if err != nil {
		return nil, err
	}
	if lead == nil {
		return nil, eris.Wrapf(ErrNotFound, "lead %d", source.ID)
	}
	cust, err := store.GetCustomerForUpdate(ctx, target.ID)
	if err != nil {
		return nil, err
	}
	if cust == nil {
		return nil, eris.Wrapf(ErrNotFound, "customer %d", target.ID)
	}

	leadData, err := json.Marshal(lead)
	if err != nil {
		return nil, eris.Wrap(err, "executor: marshal lead snapshot")
	}
	if err := store.AddHistory(ctx, &record.History{
		CustomerID:  cust.ID,
		Type:        "lead_merge",
		Title:       fmt.Sprintf("Duplicate lead #%d merged", lead.ID),
		Description: fmt.Sprintf("Lead #%d (%s) was identified as a duplicate of this customer.", lead.ID, lead.FullName()),
		UserID:      initiatedBy,
		NewValues:   leadData,
	}); err != nil {
		return nil, err
	}

	cust.Notes = appendNotes(cust.Notes, fmt.Sprintf("Merged from Lead #%d", lead.ID), lead.Notes)
	if err := store.UpdateCustomer(ctx, cust); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	lead.Status = record.LeadStatusConverted
	lead.ConvertedAt = &now
	if err := store.UpdateLead(ctx, lead); err != nil {
		return nil, err
	}
	return cust, nil
}

// mergeCustomers folds one customer into another. The target absorbs the
// source's financial totals, dependent rows, and notes. The source row is
// deleted.
func (e *MergeExecutor) mergeCustomers(ctx context.Context, store record.Store, source, target record.Ref, initiatedBy string) (any, error) {
	src, err := store.GetCustomerForUpdate(ctx, source.ID)
	if err != nil {
		return nil, err
	}
	if src == nil {
		return nil, eris.Wrapf(ErrNotFound, "customer %d", source.ID)
	}
	dst, err := store.GetCustomerForUpdate(ctx, target.ID)
	if err != nil {
		return nil, err
	}
	if dst == nil {
		return nil, eris.Wrapf(ErrNotFound, "customer %d", target.ID)
	}

	mergeCustomerFields(dst, src)

	if err := store.UpdateCustomer(ctx, dst); err != nil {
		return nil, err
	}

	if err := store.RepointCustomerDependents(ctx, src.ID, dst.ID); err != nil {
		return nil, err
	}

	srcData, err := json.Marshal(src)
	if err != nil {
		return nil, eris.Wrap(err, "executor: marshal customer snapshot")
	}
	if err := store.AddHistory(ctx, &record.History{
		CustomerID:  dst.ID,
		Type:        "merge",
		Title:       fmt.Sprintf("Merged duplicate customer #%d", src.ID),
		Description: fmt.Sprintf("Customer #%d (%s) was merged into this customer.", src.ID, src.FullName()),
		UserID:      initiatedBy,
		NewValues:   srcData,
	}); err != nil {
		return nil, err
	}

	if err := store.DeleteCustomer(ctx, src.ID); err != nil {
		return nil, err
	}
	return dst, nil
}

// mergeLeadFields applies the lead merge policy. The target never loses a
// value it holds: only a blank last name is filled, and a blank address is
// filled as a whole block so city and state never mix across records.
// Contact fields stay as they are; the source's email and phone survive in
// the before-state snapshot and the merge interaction.
func mergeLeadFields(dst, src *record.Lead) {
	fillBlank(&dst.LastName, src.LastName)
	if dst.Address == "" && src.Address != "" {
		dst.Address = src.Address
		dst.City = src.City
		dst.State = src.State
		dst.PostalCode = src.PostalCode
	}
	if src.Score > dst.Score {
		dst.Score = src.Score
	}
	dst.Notes = appendNotes(dst.Notes, fmt.Sprintf("Merged from Lead #%d", src.ID), src.Notes)
}

// mergeCustomerFields applies the customer merge policy: blank last name,
// company name, and GST number fill from the source, the address block
// moves as a unit, and financial totals sum.
func mergeCustomerFields(dst, src *record.Customer) {
	fillBlank(&dst.LastName, src.LastName)
	fillBlank(&dst.CompanyName, src.CompanyName)
	fillBlank(&dst.GSTNumber, src.GSTNumber)
	if dst.Address == "" && src.Address != "" {
		dst.Address = src.Address
		dst.City = src.City
		dst.State = src.State
		dst.PostalCode = src.PostalCode
	}
	dst.TotalValue += src.TotalValue
	dst.OutstandingAmount += src.OutstandingAmount
	dst.Notes = appendNotes(dst.Notes, fmt.Sprintf("Merged from Customer #%d", src.ID), src.Notes)
}

// mergedDataEntry is one element of the merged_data array kept inside a
// lead's original_data payload.
type mergedDataEntry struct {
	MergedLeadID int64        `json:"merged_lead_id"`
	MergedAt     time.Time    `json:"merged_at"`
	MergedBy     string       `json:"merged_by,omitempty"`
	Original     *record.Lead `json:"original_data"`
}

// appendMergedData appends an entry to the merged_data array inside a
// lead's original_data JSON object, creating either as needed.
func appendMergedData(original []byte, entry mergedDataEntry) ([]byte, error) {
	doc := map[string]json.RawMessage{}
	if len(original) > 0 {
		if err := json.Unmarshal(original, &doc); err != nil {
			return nil, eris.Wrap(err, "executor: parse original_data")
		}
	}

	var history []mergedDataEntry
	if raw, ok := doc["merged_data"]; ok {
		if err := json.Unmarshal(raw, &history); err != nil {
			return nil, eris.Wrap(err, "executor: parse merged_data")
		}
	}
	history = append(history, entry)

	raw, err := json.Marshal(history)
	if err != nil {
		return nil, eris.Wrap(err, "executor: marshal merged_data")
	}
	doc["merged_data"] = raw

	out, err := json.Marshal(doc)
	if err != nil {
		return nil, eris.Wrap(err, "executor: marshal original_data")
	}
	return out, nil
}

func fillBlank(dst *string, src string) {
	if *dst == "" {
		*dst = src
	}
}

// appendNotes merges source notes into the target's. A note-less source
// leaves the target untouched; a note-less target takes the source notes
// verbatim, without a separator.
func appendNotes(existing, label, merged string) string {
	if merged == "" {
		return existing
	}
	if existing == "" {
		return merged
	}
	return existing + "\n\n--- " + label + " ---\n" + merged
}
