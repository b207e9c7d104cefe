// Package registry is the live-state serving layer: per-match writer
// serialization, a monotonically increasing version counter and a notify
// channel so any number of readers can poll or long-wait on a match.
package registry

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kapu/llm-chess-arena/internal/arena"
	"github.com/kapu/llm-chess-arena/internal/obslog"
	"github.com/kapu/llm-chess-arena/pkg/arenadto"
)

var ErrMatchNotFound = errors.New("match not found")

// Entry binds one match to its lock, version counter and notify channel.
// Writers hold playMu across a full ply; readers only ever touch published
// immutable snapshots, so polling needs no lock beyond the brief state read.
type Entry struct {
	ID string

	playMu sync.Mutex // serializes negotiate -> validate -> mutate -> bookkeeping
	match  *arena.Match

	mu      sync.Mutex
	version uint64
	snap    *arenadto.MatchSnapshot
	notify  chan struct{}
}

func newEntry(m *arena.Match) *Entry {
	e := &Entry{
		ID:     m.ID,
		match:  m,
		notify: make(chan struct{}),
	}
	e.publish(m.Snapshot())
	return e
}

// publish installs a new immutable snapshot, bumps the version and wakes
// all waiters by closing the notify channel.
func (e *Entry) publish(s *arenadto.MatchSnapshot) {
	e.mu.Lock()
	e.version++
	e.snap = s
	close(e.notify)
	e.notify = make(chan struct{})
	e.mu.Unlock()
}

// Snapshot returns the latest published snapshot and its version.
func (e *Entry) Snapshot() (*arenadto.MatchSnapshot, uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snap, e.version
}

// Wait blocks until the version moves past since, the timeout elapses, or
// ctx is done. The version is always re-checked after waking, so lost and
// spurious wakeups cannot strand a reader. changed=false on timeout means
// the caller should emit a keep-alive, never an error.
func (e *Entry) Wait(ctx context.Context, since uint64, timeout time.Duration) (snap *arenadto.MatchSnapshot, version uint64, changed bool, err error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		e.mu.Lock()
		if e.version != since {
			snap, version = e.snap, e.version
			e.mu.Unlock()
			return snap, version, true, nil
		}
		ch := e.notify
		e.mu.Unlock()

		select {
		case <-ch:
			// re-check the counter before reporting a change
		case <-deadline.C:
			snap, version = e.Snapshot()
			return snap, version, false, nil
		case <-ctx.Done():
			return nil, since, false, ctx.Err()
		}
	}
}

// Store abstracts the process-wide match map so it can later be backed by a
// distributed cache without touching the orchestrator.
type Store interface {
	Get(id string) (*Entry, bool)
	Put(e *Entry)
	Remove(id string)
}

// MemStore is the in-memory store. Entries live for the process lifetime;
// no eviction is performed.
type MemStore struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

func NewMemStore() *MemStore {
	return &MemStore{entries: map[string]*Entry{}}
}

func (s *MemStore) Get(id string) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	return e, ok
}

func (s *MemStore) Put(e *Entry) {
	s.mu.Lock()
	s.entries[e.ID] = e
	s.mu.Unlock()
}

func (s *MemStore) Remove(id string) {
	s.mu.Lock()
	delete(s.entries, id)
	s.mu.Unlock()
}

// Mirror receives every published snapshot, best effort.
type Mirror interface {
	SaveSnapshot(ctx context.Context, snap *arenadto.MatchSnapshot) error
}

// Registry is the serving-layer facade used by transports.
type Registry struct {
	store  Store
	mirror Mirror // optional
}

func New(store Store, mirror Mirror) *Registry {
	if store == nil {
		store = NewMemStore()
	}
	return &Registry{store: store, mirror: mirror}
}

// Create registers a match and publishes its initial snapshot.
func (r *Registry) Create(m *arena.Match) *Entry {
	e := newEntry(m)
	r.store.Put(e)
	r.mirrorLatest(context.Background(), e)
	obslog.L().Info("registry_create", zap.String("match_id", e.ID))
	return e
}

// Get looks up a match entry.
func (r *Registry) Get(id string) (*Entry, error) {
	e, ok := r.store.Get(id)
	if !ok {
		return nil, ErrMatchNotFound
	}
	return e, nil
}

// Remove drops a match from the store.
func (r *Registry) Remove(id string) { r.store.Remove(id) }

// Advance runs exactly one ply under the entry's writer lock and publishes
// the resulting snapshot. An orchestrator error marks the match failed; the
// failure snapshot is still published so readers terminate cleanly.
func (r *Registry) Advance(ctx context.Context, id string) (*arena.PlyOutcome, error) {
	e, err := r.Get(id)
	if err != nil {
		return nil, err
	}

	e.playMu.Lock()
	defer e.playMu.Unlock()

	out, stepErr := e.match.Step(ctx)
	if stepErr != nil {
		e.match.MarkFailed(stepErr.Error())
	}
	e.publish(e.match.Snapshot())
	r.mirrorLatest(ctx, e)
	if stepErr != nil {
		return nil, stepErr
	}
	return out, nil
}

// Fail marks a match failed outside the normal step path (e.g. a panicking
// driver) and publishes the failure snapshot so readers terminate.
func (r *Registry) Fail(ctx context.Context, id, detail string) {
	e, err := r.Get(id)
	if err != nil {
		return
	}
	e.playMu.Lock()
	defer e.playMu.Unlock()
	e.match.MarkFailed(detail)
	e.publish(e.match.Snapshot())
	r.mirrorLatest(ctx, e)
}

func (r *Registry) mirrorLatest(ctx context.Context, e *Entry) {
	if r.mirror == nil {
		return
	}
	snap, _ := e.Snapshot()
	if err := r.mirror.SaveSnapshot(ctx, snap); err != nil {
		obslog.L().Warn("registry_mirror_error", zap.String("match_id", e.ID), zap.Error(err))
	}
}
