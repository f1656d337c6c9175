package limits

import (
	"context"
	"time"
)

// Tier names one of the two admission gates.
type Tier string

const (
	TierShortTerm Tier = "short_term"
	TierHourly    Tier = "hourly"
)

// Clock abstracts wall time so gate scenarios are testable without waiting
// out real windows.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock reads the wall clock.
func SystemClock() Clock { return systemClock{} }

// Config carries the dual-window thresholds. Thresholds are constructor
// parameters rather than package constants so the same gate logic runs under
// test-sized windows.
type Config struct {
	ShortLimit   int
	ShortWindow  time.Duration
	HourlyLimit  int
	HourlyWindow time.Duration
}

// Retention is the ledger horizon: nothing older than the widest window can
// influence a gate, so it is pruned after every write.
func (c Config) Retention() time.Duration {
	if c.ShortWindow > c.HourlyWindow {
		return c.ShortWindow
	}
	return c.HourlyWindow
}

// Decision is one gate's verdict for one request.
type Decision struct {
	Allowed    bool
	Tier       Tier
	Limit      int
	Remaining  int
	RetryAfter time.Duration // zero when allowed
	ResetAt    time.Time
	// Token identifies the ledger record the short-term gate appended, so the
	// hourly gate can roll it back on rejection.
	Token string
}

// Limiter evaluates both gates against one shared ledger store.
type Limiter struct {
	store Store
	cfg   Config
	clock Clock
}

// NewLimiter builds a limiter over the given ledger store. A nil clock means
// wall time.
func NewLimiter(store Store, cfg Config, clock Clock) *Limiter {
	if clock == nil {
		clock = systemClock{}
	}
	return &Limiter{store: store, cfg: cfg, clock: clock}
}

// AdmitShortTerm runs the fine-grained sliding-window gate. On admission it
// appends the request record that both tiers subsequently count.
func (l *Limiter) AdmitShortTerm(ctx context.Context, key, endpoint string) (Decision, error) {
	now := l.clock.Now()
	res, err := l.store.Admit(ctx, key, l.cfg.ShortWindow, l.cfg.ShortLimit, now, endpoint)
	if err != nil {
		return Decision{}, err
	}
	return l.decide(TierShortTerm, l.cfg.ShortLimit, l.cfg.ShortWindow, now, res), nil
}

// ConfirmHourly runs the coarse gate against the same ledger. The count
// includes the record AdmitShortTerm just appended; when the count overshoots
// the hourly limit the record is rolled back so the rejected request consumes
// no quota.
func (l *Limiter) ConfirmHourly(ctx context.Context, key, token string) (Decision, error) {
	now := l.clock.Now()
	res, err := l.store.Confirm(ctx, key, l.cfg.HourlyWindow, l.cfg.HourlyLimit, now, token)
	if err != nil {
		return Decision{}, err
	}
	d := l.decide(TierHourly, l.cfg.HourlyLimit, l.cfg.HourlyWindow, now, res)
	d.Token = token
	return d, nil
}

// AdmitHourly is the fallback used when the hourly gate keys on the caller
// address instead of the session: the short-term gate's record lives in a
// different ledger, so this gate appends its own.
func (l *Limiter) AdmitHourly(ctx context.Context, key, endpoint string) (Decision, error) {
	now := l.clock.Now()
	res, err := l.store.Admit(ctx, key, l.cfg.HourlyWindow, l.cfg.HourlyLimit, now, endpoint)
	if err != nil {
		return Decision{}, err
	}
	return l.decide(TierHourly, l.cfg.HourlyLimit, l.cfg.HourlyWindow, now, res), nil
}

func (l *Limiter) decide(tier Tier, limit int, window time.Duration, now time.Time, res AdmitResult) Decision {
	d := Decision{
		Allowed: res.Allowed,
		Tier:    tier,
		Limit:   limit,
		Token:   res.Token,
	}
	if res.Allowed {
		d.Remaining = clampRemaining(limit, res.Count)
		d.ResetAt = now.Add(window)
		return d
	}

	d.Remaining = 0
	d.RetryAfter = cooldown(now, res.Oldest, window)
	d.ResetAt = now.Add(d.RetryAfter)
	return d
}

// cooldown is the time until the oldest in-window request ages out, rounded
// up to whole seconds.
func cooldown(now, oldest time.Time, window time.Duration) time.Duration {
	if oldest.IsZero() {
		return time.Second
	}
	remaining := oldest.Add(window).Sub(now)
	if remaining <= 0 {
		return time.Second
	}
	secs := (remaining + time.Second - 1) / time.Second
	return secs * time.Second
}

func clampRemaining(limit, used int) int {
	remaining := limit - used
	if remaining < 0 {
		return 0
	}
	return remaining
}
