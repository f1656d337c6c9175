// Package limits implements the dual-window admission gates and the
// per-session request ledger they share.
package limits

import (
	"context"
	"time"
)

// Record is one admitted request in a session's ledger. Immutable once
// created; the ledger is never written out of timestamp order.
type Record struct {
	Timestamp time.Time
	Endpoint  string
}

// AdmitResult reports the outcome of a ledger operation.
type AdmitResult struct {
	// Allowed is false when the in-window count hit the limit.
	Allowed bool
	// Count is the number of in-window records after the operation,
	// including the caller's own record when it was kept.
	Count int
	// Oldest is the timestamp of the oldest in-window record. Zero when the
	// window is empty.
	Oldest time.Time
	// Token identifies the appended record so a later gate can roll it back.
	Token string
}

// Store owns request ledgers keyed by session. Implementations must make
// Admit and Confirm atomic per key: two concurrent requests for one session
// may never both pass a gate that has a single slot left.
type Store interface {
	// Admit counts the records within window of now and, when the count is
	// below limit, appends a new record and prunes everything older than the
	// retention horizon. Check and append are one atomic step.
	Admit(ctx context.Context, key string, window time.Duration, limit int, now time.Time, endpoint string) (AdmitResult, error)

	// Confirm re-counts the window including the record identified by token.
	// When the count exceeds limit the record is removed again, so a request
	// rejected by a later gate does not consume quota.
	Confirm(ctx context.Context, key string, window time.Duration, limit int, now time.Time, token string) (AdmitResult, error)

	// Count returns the in-window record count and the oldest in-window
	// timestamp without mutating the ledger.
	Count(ctx context.Context, key string, window time.Duration, now time.Time) (int, time.Time, error)
}
