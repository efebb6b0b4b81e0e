package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"policygate.org/internal/obs"
)

// DataPath is the engine data document holding the role-mapping snapshot.
const DataPath = "role_mappings"

// ErrSyncFailed reports that the engine could not be brought up to date.
// The store remains authoritative; a later sync reconciles.
var ErrSyncFailed = errors.New("registry: snapshot sync failed")

// DataPusher is the single engine capability the synchronizer needs.
type DataPusher interface {
	PushData(ctx context.Context, path string, data any) error
}

// Synchronizer pushes the full role-mapping snapshot to the policy engine.
//
// Concurrent Sync calls coalesce: each mutation bumps a generation counter,
// and one flight at a time reads the store and pushes. A caller whose
// generation was already covered by a finished flight returns without
// pushing, so the engine always converges on the latest store state.
type Synchronizer struct {
	store  Store
	engine DataPusher

	maxAttempts     int
	initialInterval time.Duration

	mu        sync.Mutex
	dirtyGen  uint64
	syncedGen uint64
	flight    sync.Mutex
}

// NewSynchronizer wires a synchronizer with the given retry settings.
// maxAttempts counts the first try; values below 1 mean a single attempt.
func NewSynchronizer(store Store, engine DataPusher, maxAttempts int, initialInterval time.Duration) *Synchronizer {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if initialInterval <= 0 {
		initialInterval = time.Second
	}
	return &Synchronizer{
		store:           store,
		engine:          engine,
		maxAttempts:     maxAttempts,
		initialInterval: initialInterval,
	}
}

// MarkDirty records that store state changed since the last push.
func (s *Synchronizer) MarkDirty() {
	s.mu.Lock()
	s.dirtyGen++
	s.mu.Unlock()
}

// Sync brings the engine up to date with the store. It blocks until the
// state as of the call (or newer) has been pushed, or returns ErrSyncFailed
// after retries are exhausted.
func (s *Synchronizer) Sync(ctx context.Context) error {
	s.mu.Lock()
	s.dirtyGen++
	want := s.dirtyGen
	s.mu.Unlock()

	for {
		s.mu.Lock()
		if s.syncedGen >= want {
			s.mu.Unlock()
			return nil
		}
		s.mu.Unlock()

		s.flight.Lock()

		s.mu.Lock()
		if s.syncedGen >= want {
			s.mu.Unlock()
			s.flight.Unlock()
			return nil
		}
		target := s.dirtyGen
		s.mu.Unlock()

		err := s.push(ctx)
		if err == nil {
			s.mu.Lock()
			if s.syncedGen < target {
				s.syncedGen = target
			}
			s.mu.Unlock()
		}
		s.flight.Unlock()

		if err != nil {
			return err
		}
		// Loop again: a mutation may have landed after we captured target.
	}
}

func (s *Synchronizer) push(ctx context.Context) error {
	mappings, err := s.store.ListAllRoleMappings(ctx)
	if err != nil {
		obs.ObserveSnapshotSync("failure")
		return fmt.Errorf("%w: read store: %v", ErrSyncFailed, err)
	}
	snap := BuildSnapshot(mappings)

	policy := backoff.WithContext(backoff.WithMaxRetries(
		backoff.NewExponentialBackOff(backoff.WithInitialInterval(s.initialInterval)),
		uint64(s.maxAttempts-1),
	), ctx)

	attempt := 0
	err = backoff.Retry(func() error {
		attempt++
		pushErr := s.engine.PushData(ctx, DataPath, snap)
		if pushErr != nil {
			obs.LogEvent("warn", "snapshot push failed", map[string]any{
				"attempt":  attempt,
				"mappings": len(mappings),
				"error":    pushErr.Error(),
			})
		}
		return pushErr
	}, policy)
	if err != nil {
		obs.ObserveSnapshotSync("failure")
		return fmt.Errorf("%w: %v", ErrSyncFailed, err)
	}
	obs.ObserveSnapshotSync("success")
	return nil
}
