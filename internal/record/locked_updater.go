package record

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"time"

	foremanerrors "foreman/internal/errors"
	"foreman/internal/logging"
	"foreman/internal/observability"
)

// UpdaterConfig bounds the retry loop of a LockedUpdater.
type UpdaterConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
}

// DefaultUpdaterConfig returns the standard retry budget.
func DefaultUpdaterConfig() UpdaterConfig {
	return UpdaterConfig{
		MaxAttempts: 10,
		BaseDelay:   200 * time.Millisecond,
		Multiplier:  1.5,
		MaxDelay:    2 * time.Second,
	}
}

// MutateFunc mutates a record in place. It may run more than once when the
// update retries, so it must not carry side effects of its own.
type MutateFunc func(rec *Record)

// LockedUpdater serializes read-modify-write updates to shared records.
//
// Cross-process exclusion rides on the record's Locked flag plus the store's
// optimistic version check. Within this process, a per-id mutex short-circuits
// contention so concurrent local callers queue instead of burning the retry
// budget against each other.
type LockedUpdater struct {
	store   Store
	config  UpdaterConfig
	logger  logging.Logger
	metrics *observability.Metrics

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLockedUpdater creates an updater over the given store.
func NewLockedUpdater(store Store, config UpdaterConfig, logger logging.Logger, metrics *observability.Metrics) *LockedUpdater {
	if config.MaxAttempts <= 0 {
		config = DefaultUpdaterConfig()
	}
	return &LockedUpdater{
		store:   store,
		config:  config,
		logger:  logging.OrNop(logger),
		metrics: metrics,
		locks:   make(map[string]*sync.Mutex),
	}
}

// Update applies mutate to the record under the lock protocol.
//
// It returns false when the record does not exist, when the context ends, or
// when the retry budget is exhausted. Contention and version conflicts are
// retried with backoff; a missing record is fatal immediately since retrying
// cannot make it appear.
func (u *LockedUpdater) Update(ctx context.Context, id string, mutate MutateFunc, description string) bool {
	idLock := u.idLock(id)
	idLock.Lock()
	defer idLock.Unlock()

	start := time.Now()
	backoff := foremanerrors.BackoffConfig{
		BaseDelay:  u.config.BaseDelay,
		Multiplier: u.config.Multiplier,
		MaxDelay:   u.config.MaxDelay,
	}

	for attempt := 0; attempt < u.config.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := foremanerrors.Sleep(ctx, backoff.DelayFor(attempt-1)); err != nil {
				u.logger.Warn("Update %s on %s abandoned: %v", description, id, err)
				return false
			}
		}

		rec, err := u.store.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			u.logger.Error("Update %s failed: record %s not found", description, id)
			return false
		}
		if err != nil {
			u.logger.Warn("Update %s on %s: fetch failed (attempt %d/%d): %v",
				description, id, attempt+1, u.config.MaxAttempts, err)
			continue
		}

		if rec.Locked {
			u.metrics.RecordLockConflict(ctx)
			u.logger.Debug("Update %s on %s: lock held, backing off (attempt %d/%d)",
				description, id, attempt+1, u.config.MaxAttempts)
			continue
		}

		rec.Locked = true
		if err := u.store.Update(ctx, id, rec); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				u.metrics.RecordLockConflict(ctx)
				u.logger.Debug("Update %s on %s: lost acquire race (attempt %d/%d)",
					description, id, attempt+1, u.config.MaxAttempts)
			} else {
				u.logger.Warn("Update %s on %s: lock write failed (attempt %d/%d): %v",
					description, id, attempt+1, u.config.MaxAttempts, err)
			}
			continue
		}

		// Lock acquired. Re-fetch so the mutation sees the post-acquire
		// version rather than the copy from before the lock write.
		current, err := u.store.Get(ctx, id)
		if err != nil {
			u.logger.Warn("Update %s on %s: re-fetch after acquire failed: %v", description, id, err)
			u.unlockBestEffort(ctx, id, description)
			continue
		}

		mutate(current)
		current.Locked = false

		if err := u.store.Update(ctx, id, current); err != nil {
			u.logger.Warn("Update %s on %s: persist failed: %v", description, id, err)
			u.unlockBestEffort(ctx, id, description)
			continue
		}

		u.verifyReadBack(ctx, id, current, description)
		u.metrics.RecordLockAcquired(ctx, time.Since(start).Seconds())
		u.logger.Debug("Update %s on %s applied after %d attempt(s)", description, id, attempt+1)
		return true
	}

	u.metrics.RecordRetriesExhausted(ctx)
	u.logger.Error("Update %s on %s gave up after %d attempts", description, id, u.config.MaxAttempts)
	return false
}

func (u *LockedUpdater) idLock(id string) *sync.Mutex {
	u.mu.Lock()
	defer u.mu.Unlock()
	lock, ok := u.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		u.locks[id] = lock
	}
	return lock
}

// unlockBestEffort clears a lock we hold after a failed persist. Failures are
// logged only: the next successful update cycle re-fetches and overwrites the
// stale flag, so the inconsistency window is bounded, not a deadlock.
func (u *LockedUpdater) unlockBestEffort(ctx context.Context, id, description string) {
	rec, err := u.store.Get(ctx, id)
	if err != nil {
		u.logger.Warn("Unlock of %s after failed %s: fetch failed: %v", id, description, err)
		return
	}
	if !rec.Locked {
		return
	}
	rec.Locked = false
	if err := u.store.Update(ctx, id, rec); err != nil {
		u.logger.Warn("Unlock of %s after failed %s: persist failed: %v", id, description, err)
	}
}

// verifyReadBack compares what was persisted against what the store now holds.
// A mismatch means another writer clobbered us; the update already happened
// from this caller's perspective, so it is logged as possible data loss only.
func (u *LockedUpdater) verifyReadBack(ctx context.Context, id string, sent *Record, description string) {
	got, err := u.store.Get(ctx, id)
	if err != nil {
		u.logger.Warn("Read-back of %s after %s failed: %v", id, description, err)
		return
	}
	if !reflect.DeepEqual(got.Fields, sent.Fields) {
		u.logger.Warn("Read-back of %s after %s does not match what was written, possible data loss", id, description)
	}
}
