package creditledger

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/singer-orchestrator/internal/errkind"
	"github.com/MrWong99/singer-orchestrator/internal/observe"
	"github.com/MrWong99/singer-orchestrator/internal/resilience"
	"github.com/MrWong99/singer-orchestrator/pkg/docstore"
)

const (
	secondsPerCredit = 30
	defaultResvTTL   = 30 * time.Minute
	reaperInterval   = time.Minute
	maxCASAttempts   = 5
)

func creditsFor(seconds int) int {
	if seconds <= 0 {
		return 0
	}
	return (seconds + secondsPerCredit - 1) / secondsPerCredit
}

// persistedAccount is the JSON form stored in docstore, since [Account]'s
// mutex-adjacent fields (reservations map) need stable encoding.
type persistedAccount struct {
	UserID       string                  `json:"user_id"`
	Balance      int                     `json:"balance"`
	Reserved     int                     `json:"reserved"`
	Overdrafted  bool                    `json:"overdrafted"`
	Reservations map[string]*Reservation `json:"reservations"`
	Entries      []LedgerEntry           `json:"entries"`
}

func (a *Account) toPersisted() persistedAccount {
	return persistedAccount{
		UserID:       a.UserID,
		Balance:      a.Balance,
		Reserved:     a.Reserved,
		Overdrafted:  a.Overdrafted,
		Reservations: a.reservations,
		Entries:      a.entries,
	}
}

func fromPersisted(p persistedAccount) *Account {
	a := newAccount(p.UserID)
	a.Balance = p.Balance
	a.Reserved = p.Reserved
	a.Overdrafted = p.Overdrafted
	if p.Reservations != nil {
		a.reservations = p.Reservations
	}
	a.entries = p.Entries
	return a
}

// Ledger is the CreditLedger component (C6). All mutating operations are
// serialized per user by an in-process mutex and persisted to a
// [docstore.Store] via compare-and-set, wrapped in a circuit breaker so a
// flaky backing store degrades to rejecting writes rather than silently
// diverging from it.
type Ledger struct {
	store   docstore.Store
	breaker *resilience.CircuitBreaker
	log     *slog.Logger
	metrics *observe.Metrics

	resvTTL time.Duration

	mu        sync.Mutex
	userLocks map[string]*sync.Mutex

	stopCh   chan struct{}
	stopOnce sync.Once
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithReservationTTL overrides the default 30-minute reservation TTL.
func WithReservationTTL(ttl time.Duration) Option {
	return func(l *Ledger) { l.resvTTL = ttl }
}

// New creates a Ledger backed by store and starts its TTL reaper.
func New(store docstore.Store, log *slog.Logger, metrics *observe.Metrics, opts ...Option) *Ledger {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	l := &Ledger{
		store:   store,
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "creditledger-docstore"}),
		log:     log,
		metrics: metrics,
		resvTTL: defaultResvTTL,
		userLocks: make(map[string]*sync.Mutex),
		stopCh:    make(chan struct{}),
	}
	go l.reapLoop()
	return l
}

// Close stops the TTL reaper.
func (l *Ledger) Close() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

func (l *Ledger) lockFor(userID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.userLocks[userID]
	if !ok {
		m = &sync.Mutex{}
		l.userLocks[userID] = m
	}
	return m
}

func accountKey(userID string) string { return "creditledger:account:" + userID }

func (l *Ledger) load(ctx context.Context, userID string) (*Account, int64, error) {
	var raw []byte
	var version int64
	err := l.breaker.Execute(func() error {
		var e error
		raw, version, e = l.store.Get(ctx, accountKey(userID))
		return e
	})
	if err == docstore.ErrNotFound {
		return newAccount(userID), 0, nil
	}
	if err != nil {
		return nil, 0, errkind.Wrap(errkind.Internal, "creditledger: load account", err)
	}
	var p persistedAccount
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, 0, errkind.Wrap(errkind.Internal, "creditledger: decode account", err)
	}
	return fromPersisted(p), version, nil
}

// mutate loads the account, applies fn, and CAS-writes the result, retrying
// on a version conflict up to maxCASAttempts times. fn returns the result to
// propagate to the caller alongside any error; returning a non-nil error
// aborts without writing.
func (l *Ledger) mutate(ctx context.Context, userID string, fn func(a *Account) (any, error)) (any, error) {
	lock := l.lockFor(userID)
	lock.Lock()
	defer lock.Unlock()

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		acct, version, err := l.load(ctx, userID)
		if err != nil {
			return nil, err
		}
		result, err := fn(acct)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(acct.toPersisted())
		if err != nil {
			return nil, errkind.Wrap(errkind.Internal, "creditledger: encode account", err)
		}
		casErr := l.breaker.Execute(func() error {
			_, e := l.store.CompareAndSwap(ctx, accountKey(userID), version, raw)
			return e
		})
		if casErr == nil {
			return result, nil
		}
		if casErr == docstore.ErrConflict {
			continue // another writer raced us; reload and retry
		}
		return nil, errkind.Wrap(errkind.Internal, "creditledger: persist account", casErr)
	}
	return nil, errkind.New(errkind.Internal, "creditledger: exhausted CAS retries")
}

// Grant credits delta to userID (positive for a top-up, negative to claw
// back), appending a grant ledger entry. Not gated by the overdraft flag.
func (l *Ledger) Grant(ctx context.Context, userID string, delta int) (int, error) {
	res, err := l.mutate(ctx, userID, func(a *Account) (any, error) {
		a.Balance += delta
		a.Overdrafted = a.Balance < 0
		a.entries = append(a.entries, LedgerEntry{
			UserID: userID, Kind: EntryGrant, Delta: delta, Balance: a.Balance, Timestamp: time.Now(),
		})
		return a.Balance, nil
	})
	if err != nil {
		return 0, err
	}
	return res.(int), nil
}

// Estimate is a pure computation (no state change) per spec.md §4.6.
func (l *Ledger) Estimate(ctx context.Context, userID string, estimatedSeconds int) (EstimateResult, error) {
	acct, _, err := l.load(ctx, userID)
	if err != nil {
		return EstimateResult{}, err
	}
	credits := creditsFor(estimatedSeconds)
	return EstimateResult{
		EstimatedSeconds: estimatedSeconds,
		EstimatedCredits: credits,
		Balance:          acct.Balance,
		Available:        acct.Available(),
		Projected:        acct.Available() - credits,
	}, nil
}

// Reserve holds estimatedCredits against jobID for userID. The caller (the
// Orchestrator) is responsible for the "no recent estimate attached to the
// session" check — that fact lives in sessionstore, which CreditLedger has
// no visibility into.
func (l *Ledger) Reserve(ctx context.Context, userID, jobID string, estimatedCredits int) (string, error) {
	res, err := l.mutate(ctx, userID, func(a *Account) (any, error) {
		if a.Overdrafted {
			return nil, errkind.New(errkind.Locked, "account is overdrafted")
		}
		if a.Available() < estimatedCredits {
			return nil, errkind.Newf(errkind.InsufficientCredits,
				"need %d credits, %d available", estimatedCredits, a.Available())
		}
		now := time.Now()
		a.reservations[jobID] = &Reservation{
			JobID: jobID, UserID: userID, EstimatedCredits: estimatedCredits,
			State: ReservationPending, CreatedAt: now, ExpiresAt: now.Add(l.resvTTL),
		}
		a.Reserved += estimatedCredits
		a.entries = append(a.entries, LedgerEntry{
			UserID: userID, JobID: jobID, Kind: EntryReserve, Delta: -estimatedCredits,
			Balance: a.Balance, Timestamp: now,
		})
		return jobID, nil
	})
	l.metrics.RecordReservation(ctx, "reserve", outcomeOf(err))
	if err != nil {
		return "", err
	}
	return res.(string), nil
}

// Settle finalizes jobID's reservation against the actual rendered duration.
func (l *Ledger) Settle(ctx context.Context, userID, jobID string, actualSeconds int) (SettleResult, error) {
	res, err := l.mutate(ctx, userID, func(a *Account) (any, error) {
		resv, ok := a.reservations[jobID]
		if !ok || resv.State != ReservationPending {
			return nil, errkind.Newf(errkind.InvalidInput, "no pending reservation for job %s", jobID)
		}
		actualCredits := creditsFor(actualSeconds)
		a.Reserved -= resv.EstimatedCredits
		a.Balance -= actualCredits
		a.Overdrafted = a.Balance < 0
		resv.State = ReservationSettled
		a.entries = append(a.entries, LedgerEntry{
			UserID: userID, JobID: jobID, Kind: EntrySettle, Delta: -actualCredits,
			Balance: a.Balance, Timestamp: time.Now(),
		})
		return SettleResult{ActualCredits: actualCredits, Balance: a.Balance, Overdrafted: a.Overdrafted}, nil
	})
	l.metrics.RecordReservation(ctx, "settle", outcomeOf(err))
	if err != nil {
		return SettleResult{}, err
	}
	return res.(SettleResult), nil
}

// Release restores jobID's reservation. A no-op (not an error) if the
// reservation is already released; unknown reservations are an error.
func (l *Ledger) Release(ctx context.Context, userID, jobID string) error {
	_, err := l.mutate(ctx, userID, func(a *Account) (any, error) {
		resv, ok := a.reservations[jobID]
		if !ok {
			return nil, errkind.Newf(errkind.InvalidInput, "no reservation for job %s", jobID)
		}
		if resv.State == ReservationReleased {
			return nil, nil
		}
		a.Reserved -= resv.EstimatedCredits
		resv.State = ReservationReleased
		a.entries = append(a.entries, LedgerEntry{
			UserID: userID, JobID: jobID, Kind: EntryRelease, Delta: resv.EstimatedCredits,
			Balance: a.Balance, Timestamp: time.Now(),
		})
		return nil, nil
	})
	l.metrics.RecordReservation(ctx, "release", outcomeOf(err))
	return err
}

// Snapshot returns the `/credits` endpoint's shape for userID.
func (l *Ledger) Snapshot(ctx context.Context, userID string) (CreditsSnapshot, error) {
	acct, _, err := l.load(ctx, userID)
	if err != nil {
		return CreditsSnapshot{}, err
	}
	snap := CreditsSnapshot{
		Balance: acct.Balance, Reserved: acct.Reserved,
		Available: acct.Available(), Overdrafted: acct.Overdrafted,
	}
	for _, r := range acct.reservations {
		if r.State == ReservationPending && (snap.ExpiresAt.IsZero() || r.ExpiresAt.Before(snap.ExpiresAt)) {
			snap.ExpiresAt = r.ExpiresAt
		}
	}
	return snap, nil
}

func outcomeOf(err error) string {
	if err == nil {
		return "ok"
	}
	return string(errkind.Of(err))
}

func (l *Ledger) reapLoop() {
	ticker := time.NewTicker(reaperInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.reapOnce(context.Background())
		}
	}
}

// reapOnce releases every pending reservation past its TTL, across every
// user this Ledger has mutated in-process. The docstore interface has no
// "list keys" operation, so a fresh process only starts tracking a user
// once it first calls Grant/Reserve/Settle/Release for them — acceptable
// since a user with no reservations has nothing for the reaper to release.
func (l *Ledger) reapOnce(ctx context.Context) {
	l.mu.Lock()
	users := make([]string, 0, len(l.userLocks))
	for u := range l.userLocks {
		users = append(users, u)
	}
	l.mu.Unlock()

	now := time.Now()
	for _, userID := range users {
		acct, _, err := l.load(ctx, userID)
		if err != nil {
			continue
		}
		var expired []string
		for jobID, r := range acct.reservations {
			if r.State == ReservationPending && now.After(r.ExpiresAt) {
				expired = append(expired, jobID)
			}
		}
		for _, jobID := range expired {
			if err := l.Release(ctx, userID, jobID); err != nil && l.log != nil {
				l.log.Warn("creditledger: reaper release failed", "user_id", userID, "job_id", jobID, "error", err)
			}
		}
	}
}
