package dedupe

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/crm-dedupe/internal/record"
)

func TestIdentityKeyIgnoresFormatting(t *testing.T) {
	a := identityKey(record.ContactPayload{Email: "Amit@Solar.IN", Phone: "+91 98765 43210"})
	b := identityKey(record.ContactPayload{Email: " amit@solar.in ", Phone: "9876543210"})
	assert.Equal(t, a, b)

	c := identityKey(record.ContactPayload{Email: "other@solar.in", Phone: "9876543210"})
	assert.NotEqual(t, a, c)
}

func TestAdvisorySectionLocksAndCommits(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock\(\$1\)`).
		WithArgs(int64(42)).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectCommit()

	section := advisorySection(mock)
	var got record.Store
	err = section(context.Background(), 42, func(store record.Store) error {
		got = store
		return nil
	})
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdvisorySectionRollsBackOnError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock\(\$1\)`).
		WithArgs(int64(7)).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectRollback()

	section := advisorySection(mock)
	err = section(context.Background(), 7, func(record.Store) error {
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckDuplicatesRunsInsideIdentitySection(t *testing.T) {
	store := &fakeStore{}
	ledger := newFakeLedger()
	svc := newTestService(store, ledger)

	var sectionKeys []int64
	base := svc.section
	svc.section = func(ctx context.Context, key int64, fn func(record.Store) error) error {
		sectionKeys = append(sectionKeys, key)
		return base(ctx, key, fn)
	}

	payload := record.ContactPayload{Email: "amit@solar.in"}
	_, err := svc.CheckDuplicates(context.Background(), payload, "intake")
	require.NoError(t, err)

	require.Len(t, sectionKeys, 1)
	assert.Equal(t, identityKey(payload), sectionKeys[0])
	require.Len(t, store.created, 1)
}
