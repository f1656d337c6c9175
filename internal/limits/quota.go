package limits

import (
	"context"
	"time"
)

// QuotaSnapshot is a derived, never-persisted view of one tier's remaining
// allowance, recomputed from the ledger on each read.
type QuotaSnapshot struct {
	Tier      Tier      `json:"tier"`
	Limit     int       `json:"limit"`
	Used      int       `json:"used"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"resetAt"`
}

// QuotaStatus pairs the two tier snapshots for one session.
type QuotaStatus struct {
	ShortTerm QuotaSnapshot `json:"shortTerm"`
	Hourly    QuotaSnapshot `json:"hourly"`
}

// Snapshot computes both tier snapshots without appending to the ledger.
func (l *Limiter) Snapshot(ctx context.Context, key string) (QuotaStatus, error) {
	now := l.clock.Now()

	short, err := l.snapshotTier(ctx, key, TierShortTerm, l.cfg.ShortLimit, l.cfg.ShortWindow, now)
	if err != nil {
		return QuotaStatus{}, err
	}
	hourly, err := l.snapshotTier(ctx, key, TierHourly, l.cfg.HourlyLimit, l.cfg.HourlyWindow, now)
	if err != nil {
		return QuotaStatus{}, err
	}
	return QuotaStatus{ShortTerm: short, Hourly: hourly}, nil
}

func (l *Limiter) snapshotTier(ctx context.Context, key string, tier Tier, limit int, window time.Duration, now time.Time) (QuotaSnapshot, error) {
	used, oldest, err := l.store.Count(ctx, key, window, now)
	if err != nil {
		return QuotaSnapshot{}, err
	}

	resetAt := now.Add(window)
	if used > 0 && !oldest.IsZero() {
		resetAt = oldest.Add(window)
	}
	return QuotaSnapshot{
		Tier:      tier,
		Limit:     limit,
		Used:      used,
		Remaining: clampRemaining(limit, used),
		ResetAt:   resetAt,
	}, nil
}
