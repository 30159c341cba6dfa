package dedupe

import "github.com/rotisserie/eris"

// Sentinel errors surfaced to callers. HTTP handlers map these to status
// codes; everything else is a 500.
var (
	// ErrValidation marks a request the caller can fix.
	ErrValidation = eris.New("validation failed")

	// ErrNotFound marks a lookup for a row that does not exist.
	ErrNotFound = eris.New("not found")

	// ErrConflict marks an update that lost to a concurrent writer, such
	// as assigning a review item someone else already claimed.
	ErrConflict = eris.New("conflict")
)
