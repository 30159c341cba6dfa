package dedupe

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/crm-dedupe/internal/record"
)

var leadCols = []string{
	"id", "first_name", "last_name", "email", "phone", "address", "city", "state", "postal_code",
	"status", "score", "notes", "original_data", "converted_at", "created_at", "updated_at",
}

var mergeOpCols = []string{
	"id", "source_kind", "source_id", "target_kind", "target_id", "status",
	"initiated_by", "detection_id", "confidence", "before_state", "after_state", "error", "created_at", "completed_at",
}

func leadRow(mock pgxmock.PgxPoolIface, id int64, name, email, phone, notes string) *pgxmock.Rows {
	now := time.Now()
	return mock.NewRows(leadCols).AddRow(
		id, name, "Patel", email, phone, "", "", "", "",
		"new", 10, notes, []byte(`{}`), nil, now, now,
	)
}

func TestMergeLeads(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	source := record.Ref{Kind: record.KindLead, ID: 2}
	target := record.Ref{Kind: record.KindLead, ID: 1}

	// Pre-merge snapshots.
	mock.ExpectQuery(`FROM leads WHERE id=\$1`).WithArgs(int64(2)).
		WillReturnRows(leadRow(mock, 2, "Amit", "amit@solar.in", "9876543210", "call back monday"))
	mock.ExpectQuery(`FROM leads WHERE id=\$1`).WithArgs(int64(1)).
		WillReturnRows(leadRow(mock, 1, "Amit", "", "9876543210", ""))

	// Audit row created and started before the data transaction.
	mock.ExpectQuery(`INSERT INTO merge_operations`).WithArgs(anyArgs(10)...).
		WillReturnRows(mock.NewRows([]string{"created_at"}).AddRow(time.Now()))
	mock.ExpectExec(`UPDATE merge_operations SET status='in_progress'`).WithArgs(pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM leads WHERE id=\$1 FOR UPDATE`).WithArgs(int64(2)).
		WillReturnRows(leadRow(mock, 2, "Amit", "amit@solar.in", "9876543210", "call back monday"))
	mock.ExpectQuery(`FROM leads WHERE id=\$1 FOR UPDATE`).WithArgs(int64(1)).
		WillReturnRows(leadRow(mock, 1, "Amit", "", "9876543210", ""))
	mock.ExpectExec(`UPDATE leads SET`).WithArgs(anyArgs(14)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE lead_interactions SET lead_id=\$2 WHERE lead_id=\$1`).
		WithArgs(int64(2), int64(1)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))
	mock.ExpectQuery(`INSERT INTO lead_interactions`).WithArgs(anyArgs(6)...).
		WillReturnRows(mock.NewRows([]string{"id", "created_at"}).AddRow(int64(50), time.Now()))
	mock.ExpectExec(`DELETE FROM leads WHERE id=\$1`).WithArgs(int64(2)).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()

	mock.ExpectExec(`UPDATE merge_operations\s+SET status='completed'`).WithArgs(anyArgs(2)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	opID := uuid.New()
	mock.ExpectQuery(`FROM merge_operations WHERE id=\$1`).WithArgs(pgxmock.AnyArg()).
		WillReturnRows(mock.NewRows(mergeOpCols).AddRow(
			opID, "lead", int64(2), "lead", int64(1), MergeCompleted,
			"admin", nil, 0.85, []byte(`{}`), []byte(`{}`), "", time.Now(), nil,
		))

	executor := NewMergeExecutor(mock, NewPostgresLedger(mock))
	op, err := executor.Merge(context.Background(), source, target, "admin", nil, 0.85)
	require.NoError(t, err)
	assert.Equal(t, MergeCompleted, op.Status)
	assert.Equal(t, source, op.Source)
	assert.Equal(t, target, op.Target)
	assert.InDelta(t, 0.85, op.Confidence, 1e-9)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMergeLeadsFailureRollsBack(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`FROM leads WHERE id=\$1`).WithArgs(int64(2)).
		WillReturnRows(leadRow(mock, 2, "Amit", "amit@solar.in", "", ""))
	mock.ExpectQuery(`FROM leads WHERE id=\$1`).WithArgs(int64(1)).
		WillReturnRows(leadRow(mock, 1, "Amit", "amit@solar.in", "", ""))
	mock.ExpectQuery(`INSERT INTO merge_operations`).WithArgs(anyArgs(10)...).
		WillReturnRows(mock.NewRows([]string{"created_at"}).AddRow(time.Now()))
	mock.ExpectExec(`UPDATE merge_operations SET status='in_progress'`).WithArgs(pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM leads WHERE id=\$1 FOR UPDATE`).WithArgs(int64(2)).
		WillReturnRows(leadRow(mock, 2, "Amit", "amit@solar.in", "", ""))
	mock.ExpectQuery(`FROM leads WHERE id=\$1 FOR UPDATE`).WithArgs(int64(1)).
		WillReturnRows(leadRow(mock, 1, "Amit", "amit@solar.in", "", ""))
	mock.ExpectExec(`UPDATE leads SET`).WithArgs(anyArgs(14)...).
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	// Data changes rolled back; the audit row records the failure.
	mock.ExpectExec(`UPDATE merge_operations\s+SET status='failed'`).WithArgs(anyArgs(2)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	executor := NewMergeExecutor(mock, NewPostgresLedger(mock))
	_, err = executor.Merge(context.Background(),
		record.Ref{Kind: record.KindLead, ID: 2},
		record.Ref{Kind: record.KindLead, ID: 1},
		"admin", nil, 0.9)
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMergeMissingTargetRecordsFailedOp(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`FROM leads WHERE id=\$1`).WithArgs(int64(2)).
		WillReturnRows(leadRow(mock, 2, "Amit", "amit@solar.in", "", ""))
	// Target vanished between decision and execution.
	mock.ExpectQuery(`FROM leads WHERE id=\$1`).WithArgs(int64(1)).
		WillReturnRows(mock.NewRows(leadCols))

	mock.ExpectQuery(`INSERT INTO merge_operations`).WithArgs(anyArgs(10)...).
		WillReturnRows(mock.NewRows([]string{"created_at"}).AddRow(time.Now()))
	mock.ExpectExec(`UPDATE merge_operations\s+SET status='failed'`).WithArgs(anyArgs(2)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	executor := NewMergeExecutor(mock, NewPostgresLedger(mock))
	_, err = executor.Merge(context.Background(),
		record.Ref{Kind: record.KindLead, ID: 2},
		record.Ref{Kind: record.KindLead, ID: 1},
		"admin", nil, 0.9)
	assert.ErrorIs(t, err, ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMergeIncomingRollsBackLeadInsert(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	target := record.Ref{Kind: record.KindLead, ID: 1}

	mock.ExpectQuery(`FROM leads WHERE id=\$1`).WithArgs(int64(1)).
		WillReturnRows(leadRow(mock, 1, "Amit", "amit@solar.in", "", ""))

	// The incoming lead is inserted inside the merge transaction.
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO leads`).WithArgs(anyArgs(12)...).
		WillReturnRows(mock.NewRows([]string{"id", "created_at", "updated_at"}).
			AddRow(int64(5), time.Now(), time.Now()))
	mock.ExpectQuery(`INSERT INTO merge_operations`).WithArgs(anyArgs(10)...).
		WillReturnRows(mock.NewRows([]string{"created_at"}).AddRow(time.Now()))
	mock.ExpectExec(`UPDATE merge_operations SET status='in_progress'`).WithArgs(pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery(`FROM leads WHERE id=\$1 FOR UPDATE`).WithArgs(int64(5)).
		WillReturnRows(leadRow(mock, 5, "Amit", "amit@solar.in", "9876543210", ""))
	mock.ExpectQuery(`FROM leads WHERE id=\$1 FOR UPDATE`).WithArgs(int64(1)).
		WillReturnRows(leadRow(mock, 1, "Amit", "amit@solar.in", "", ""))
	mock.ExpectExec(`UPDATE leads SET`).WithArgs(anyArgs(14)...).
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	// The rollback removed the lead; only the failed audit row remains.
	mock.ExpectExec(`UPDATE merge_operations\s+SET status='failed'`).WithArgs(anyArgs(2)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	executor := NewMergeExecutor(mock, NewPostgresLedger(mock))
	lead := &record.Lead{FirstName: "Amit", Email: "amit@solar.in", Phone: "9876543210"}
	_, err = executor.MergeIncoming(context.Background(), lead, target, "system", nil, 0.85)
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMergeIncomingMissingTarget(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`FROM leads WHERE id=\$1`).WithArgs(int64(1)).
		WillReturnRows(mock.NewRows(leadCols))

	executor := NewMergeExecutor(mock, NewPostgresLedger(mock))
	lead := &record.Lead{FirstName: "Amit", Email: "amit@solar.in"}
	_, err = executor.MergeIncoming(context.Background(), lead,
		record.Ref{Kind: record.KindLead, ID: 1}, "system", nil, 0.85)
	assert.ErrorIs(t, err, ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMergeRejectsInvalidPairs(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	executor := NewMergeExecutor(mock, NewPostgresLedger(mock))
	ctx := context.Background()

	lead := record.Ref{Kind: record.KindLead, ID: 1}
	customer := record.Ref{Kind: record.KindCustomer, ID: 2}

	_, err = executor.Merge(ctx, customer, lead, "admin", nil, 0)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = executor.Merge(ctx, lead, lead, "admin", nil, 0)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = executor.Merge(ctx, record.Ref{Kind: "contact", ID: 1}, lead, "admin", nil, 0)
	assert.ErrorIs(t, err, ErrValidation)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMergeLeadFieldsKeepsTargetContact(t *testing.T) {
	dst := &record.Lead{ID: 1, FirstName: "Amit", Address: "99 Lake View", Score: 40}
	src := &record.Lead{
		ID: 2, FirstName: "A.", LastName: "Patel",
		Email: "amit@solar.in", Phone: "9876543210",
		Address: "12 MG Road", City: "Pune", State: "MH", PostalCode: "411001",
		Score: 75,
	}

	mergeLeadFields(dst, src)

	// Contact fields never copy over; the target's address block stays
	// intact, so the source's city cannot attach to the target's street.
	assert.Empty(t, dst.Email)
	assert.Empty(t, dst.Phone)
	assert.Equal(t, "Amit", dst.FirstName)
	assert.Equal(t, "99 Lake View", dst.Address)
	assert.Empty(t, dst.City)

	assert.Equal(t, "Patel", dst.LastName)
	assert.Equal(t, 75, dst.Score)
}

func TestMergeLeadFieldsFillsAddressBlock(t *testing.T) {
	dst := &record.Lead{ID: 1, LastName: "Patel"}
	src := &record.Lead{
		ID: 2, Address: "12 MG Road", City: "Pune", State: "MH", PostalCode: "411001",
	}

	mergeLeadFields(dst, src)

	assert.Equal(t, "12 MG Road", dst.Address)
	assert.Equal(t, "Pune", dst.City)
	assert.Equal(t, "MH", dst.State)
	assert.Equal(t, "411001", dst.PostalCode)
}

func TestMergeCustomerFields(t *testing.T) {
	dst := &record.Customer{
		ID: 1, FirstName: "Sunita", Email: "",
		Address: "4 Hill Road", TotalValue: 100, OutstandingAmount: 100,
	}
	src := &record.Customer{
		ID: 2, LastName: "Rao", Email: "sunita@solar.in",
		CompanyName: "Rao Solar", GSTNumber: "27AAAAA0000A1Z5",
		Address: "8 Beach Road", City: "Chennai",
		TotalValue: 50, OutstandingAmount: 50,
	}

	mergeCustomerFields(dst, src)

	assert.Empty(t, dst.Email)
	assert.Equal(t, "4 Hill Road", dst.Address)
	assert.Empty(t, dst.City)
	assert.Equal(t, "Rao", dst.LastName)
	assert.Equal(t, "Rao Solar", dst.CompanyName)
	assert.Equal(t, "27AAAAA0000A1Z5", dst.GSTNumber)
	assert.InDelta(t, 150.0, dst.TotalValue, 1e-9)
	assert.InDelta(t, 150.0, dst.OutstandingAmount, 1e-9)
}

func TestAppendMergedData(t *testing.T) {
	src := &record.Lead{ID: 2, FirstName: "Amit", Email: "amit@solar.in"}

	out, err := appendMergedData([]byte(`{"source":"website","utm":"spring"}`), mergedDataEntry{
		MergedLeadID: 2,
		MergedAt:     time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		MergedBy:     "admin",
		Original:     src,
	})
	require.NoError(t, err)

	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(out, &doc))
	assert.JSONEq(t, `"website"`, string(doc["source"]))

	var history []mergedDataEntry
	require.NoError(t, json.Unmarshal(doc["merged_data"], &history))
	require.Len(t, history, 1)
	assert.Equal(t, int64(2), history[0].MergedLeadID)
	assert.Equal(t, "admin", history[0].MergedBy)

	// A second merge appends, not replaces.
	out, err = appendMergedData(out, mergedDataEntry{MergedLeadID: 7, MergedAt: time.Now().UTC()})
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(out, &doc))
	require.NoError(t, json.Unmarshal(doc["merged_data"], &history))
	assert.Len(t, history, 2)
}

func TestAppendNotes(t *testing.T) {
	got := appendNotes("existing note", "Merged from Lead #2", "call back monday")
	assert.Equal(t, "existing note\n\n--- Merged from Lead #2 ---\ncall back monday", got)

	// A note-less source leaves the target untouched.
	got = appendNotes("existing note", "Merged from Lead #2", "")
	assert.Equal(t, "existing note", got)

	// A note-less target takes the source notes verbatim.
	got = appendNotes("", "Merged from Lead #2", "call back monday")
	assert.Equal(t, "call back monday", got)

	assert.Empty(t, appendNotes("", "Merged from Lead #2", ""))
}
