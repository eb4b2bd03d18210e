// Package state decides whether entities need reprocessing based on
// their fingerprints and previous outcomes.
package state

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/canvaslabs/canvas-sync/internal/logging"
	"github.com/canvaslabs/canvas-sync/internal/metrics"
	"github.com/canvaslabs/canvas-sync/internal/store"
)

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// Manager wraps a StateStore with the skip/retry policy and a short
// read-through cache so repeated lookups within a run stay off the store.
type Manager struct {
	store      store.StateStore
	clock      Clock
	maxRetries int
	staleAfter time.Duration
	log        *zap.Logger

	mu       sync.Mutex
	cache    map[string]cachedState
	cacheTTL time.Duration
}

type cachedState struct {
	state store.SyncState
	at    time.Time
}

const cacheMaxEntries = 4096

// NewManager builds a Manager. maxRetries caps attempts for failed
// entities; zero gets the default of 3.
func NewManager(st store.StateStore, clock Clock, maxRetries int) *Manager {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Manager{
		store:      st,
		clock:      clock,
		maxRetries: maxRetries,
		staleAfter: time.Hour,
		log:        logging.L.Named("state"),
		cache:      make(map[string]cachedState),
		cacheTTL:   5 * time.Minute,
	}
}

func (m *Manager) getState(ctx context.Context, entityKey string) (store.SyncState, error) {
	now := m.clock.Now()

	m.mu.Lock()
	if c, ok := m.cache[entityKey]; ok && now.Sub(c.at) < m.cacheTTL {
		m.mu.Unlock()
		return c.state, nil
	}
	m.mu.Unlock()

	st, err := m.store.GetState(ctx, entityKey)
	if err != nil {
		return store.SyncState{}, err
	}
	m.remember(st, now)
	return st, nil
}

func (m *Manager) putState(ctx context.Context, st store.SyncState) error {
	if err := m.store.PutState(ctx, st); err != nil {
		return err
	}
	m.remember(st, m.clock.Now())
	return nil
}

func (m *Manager) remember(st store.SyncState, now time.Time) {
	m.mu.Lock()
	if len(m.cache) >= cacheMaxEntries {
		m.cache = make(map[string]cachedState)
	}
	m.cache[st.EntityKey] = cachedState{state: st, at: now}
	m.mu.Unlock()
}

// Key builds the state key for an entity.
func Key(entityType string, id any) string {
	return fmt.Sprintf("%s:%v", entityType, id)
}

// ShouldProcess reports whether the entity needs processing given its
// current fingerprint:
//   - unknown entities and state read errors: process
//   - completed with the same fingerprint: skip
//   - completed with a new fingerprint: process
//   - failed: process until the attempt cap is hit
//   - processing: skip unless the claim looks stale
func (m *Manager) ShouldProcess(ctx context.Context, entityKey, fingerprint string) bool {
	st, err := m.getState(ctx, entityKey)
	if errors.Is(err, store.ErrNotFound) {
		return true
	}
	if err != nil {
		m.log.Warn("state lookup failed, processing anyway",
			zap.String("entity", entityKey), zap.Error(err))
		return true
	}

	switch st.Status {
	case store.StatusCompleted:
		if st.Fingerprint == fingerprint {
			metrics.ObserveDuplicateSkip(st.EntityType)
			return false
		}
		return true
	case store.StatusFailed:
		if st.Attempts >= m.maxRetries && st.Fingerprint == fingerprint {
			m.log.Debug("giving up on entity",
				zap.String("entity", entityKey), zap.Int("attempts", st.Attempts))
			return false
		}
		return true
	case store.StatusProcessing:
		// reclaim claims abandoned by a crashed run
		return m.clock.Now().Sub(st.UpdatedAt) > m.staleAfter
	default:
		return true
	}
}

// MarkProcessing claims the entity before work starts.
func (m *Manager) MarkProcessing(ctx context.Context, entityKey, entityType, fingerprint string) error {
	attempts := 0
	if prev, err := m.getState(ctx, entityKey); err == nil {
		attempts = prev.Attempts
	}
	return m.putState(ctx, store.SyncState{
		EntityKey:   entityKey,
		EntityType:  entityType,
		Fingerprint: fingerprint,
		Status:      store.StatusProcessing,
		Attempts:    attempts,
		UpdatedAt:   m.clock.Now(),
	})
}

// MarkCompleted records a successful processing of the entity.
func (m *Manager) MarkCompleted(ctx context.Context, entityKey, entityType, fingerprint string) error {
	return m.putState(ctx, store.SyncState{
		EntityKey:   entityKey,
		EntityType:  entityType,
		Fingerprint: fingerprint,
		Status:      store.StatusCompleted,
		UpdatedAt:   m.clock.Now(),
	})
}

// MarkFailed records a failure and bumps the attempt counter. A
// fingerprint change later resets eligibility in ShouldProcess, not here.
func (m *Manager) MarkFailed(ctx context.Context, entityKey, entityType, fingerprint string, cause error) error {
	attempts := 1
	if prev, err := m.getState(ctx, entityKey); err == nil {
		if prev.Fingerprint == fingerprint {
			attempts = prev.Attempts + 1
		}
	}
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return m.putState(ctx, store.SyncState{
		EntityKey:   entityKey,
		EntityType:  entityType,
		Fingerprint: fingerprint,
		Status:      store.StatusFailed,
		Attempts:    attempts,
		LastError:   msg,
		UpdatedAt:   m.clock.Now(),
	})
}
