package dedupe

import (
	"context"
	"hash/fnv"

	"github.com/rotisserie/eris"

	"github.com/sells-group/crm-dedupe/internal/db"
	"github.com/sells-group/crm-dedupe/internal/match"
	"github.com/sells-group/crm-dedupe/internal/record"
)

// identitySection runs fn inside the critical section for one contact
// identity. The store it hands to fn shares the section's transaction, so
// a lookup and the write it decides on cannot interleave with another
// submission of the same contact.
type identitySection func(ctx context.Context, key int64, fn func(store record.Store) error) error

// identityKey derives the lock key for a contact from its normalized email
// and phone, so every formatting variant of the same identity contends on
// the same key.
func identityKey(payload record.ContactPayload) int64 {
	h := fnv.New64a()
	h.Write([]byte(match.NormalizeEmail(payload.Email)))
	h.Write([]byte{'|'})
	h.Write([]byte(match.NormalizePhone(payload.Phone)))
	return int64(h.Sum64())
}

// advisorySection serializes per-identity work with a transaction-scoped
// advisory lock. Two submissions of the same contact queue on the lock;
// the second one runs its duplicate lookup only after the first has
// committed whatever it created.
func advisorySection(pool db.Pool) identitySection {
	return func(ctx context.Context, key int64, fn func(store record.Store) error) error {
		tx, err := pool.Begin(ctx)
		if err != nil {
			return eris.Wrap(err, "dedupe: begin identity section")
		}
		defer tx.Rollback(ctx) //nolint:errcheck

		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, key); err != nil {
			return eris.Wrap(err, "dedupe: acquire identity lock")
		}
		if err := fn(record.NewPostgresStore(tx)); err != nil {
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return eris.Wrap(err, "dedupe: commit identity section")
		}
		return nil
	}
}
