// Package tasks is the scheduler that sits in front of the worker
// pipeline: a bounded channel, a per-repository active-task table holding
// cancellation tokens, and a concurrency-limiting semaphore.
package tasks

import (
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/archiveforge/gitarchiver/internal/model"
)

const channelBuffer = 100

// Kind is the closed set of task variants, dispatched by tag as a closed
// sum type rather than by dynamic lookup.
type Kind int

const (
	KindClone Kind = iota
	KindUpdate
	KindUpdateAll
	KindRefreshStatuses
	KindStop
)

// Task is the closed sum type enqueued onto the scheduler's channel.
type Task struct {
	Kind            Kind
	RepoID          int64 // Clone, Update
	IncludeArchived bool  // UpdateAll
}

func Clone(repoID int64) Task           { return Task{Kind: KindClone, RepoID: repoID} }
func Update(repoID int64) Task          { return Task{Kind: KindUpdate, RepoID: repoID} }
func UpdateAll(includeArchived bool) Task {
	return Task{Kind: KindUpdateAll, IncludeArchived: includeArchived}
}
func RefreshStatuses() Task { return Task{Kind: KindRefreshStatuses} }
func Stop() Task            { return Task{Kind: KindStop} }

// CancelToken is a cooperative cancellation signal: the pipeline polls
// Cancelled() at stage boundaries rather than being forcibly aborted.
type CancelToken struct {
	mu        sync.Mutex
	cancelled bool
	done      chan struct{}
}

// NewCancelToken returns a token in the not-cancelled state.
func NewCancelToken() *CancelToken {
	return &CancelToken{done: make(chan struct{})}
}

// Cancel signals the token. Safe to call more than once.
func (t *CancelToken) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.cancelled {
		t.cancelled = true
		close(t.done)
	}
}

// Cancelled reports whether Cancel has been called.
func (t *CancelToken) Cancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// Done returns a channel closed when the token is cancelled, for callers
// (like the pipeline's tokenContext) that want to select on it.
func (t *CancelToken) Done() <-chan struct{} {
	return t.done
}

// Manager is the C7 task manager.
type Manager struct {
	ch chan Task

	mu     sync.Mutex
	active map[int64]*CancelToken

	sem           *semaphore.Weighted
	maxConcurrent int64
}

// New builds a Manager whose concurrency permit count is
// clamp(maxConcurrentTasks, 1, 16).
func New(maxConcurrentTasks int) *Manager {
	clamped := clamp(maxConcurrentTasks, 1, 16)
	return &Manager{
		ch:            make(chan Task, channelBuffer),
		active:        make(map[int64]*CancelToken),
		sem:           semaphore.NewWeighted(int64(clamped)),
		maxConcurrent: int64(clamped),
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Tasks returns the receive side of the scheduler's channel for the
// worker loop to consume.
func (m *Manager) Tasks() <-chan Task {
	return m.ch
}

// Semaphore returns the concurrency-limiting permit pool.
func (m *Manager) Semaphore() *semaphore.Weighted {
	return m.sem
}

// MaxConcurrent returns the clamped permit count this Manager was built with.
func (m *Manager) MaxConcurrent() int64 {
	return m.maxConcurrent
}

// Enqueue accepts a Task. For Clone/Update, it enforces cross-kind
// deduplication: if RepoID already has an active-table entry (from either
// a Clone or an Update), the call fails with UserVisible("already in
// progress") rather than being queued. UpdateAll/RefreshStatuses/Stop
// carry no dedup key and are sent unconditionally.
//
// A full channel back-pressures the send rather than rejecting it: the
// call blocks until the worker loop drains room, decoupling queue depth
// from executing concurrency.
func (m *Manager) Enqueue(t Task) (err error) {
	switch t.Kind {
	case KindClone, KindUpdate:
		m.mu.Lock()
		if _, exists := m.active[t.RepoID]; exists {
			m.mu.Unlock()
			return model.UserVisible("already in progress")
		}
		token := NewCancelToken()
		m.active[t.RepoID] = token
		m.mu.Unlock()

		defer func() {
			if r := recover(); r != nil {
				m.mu.Lock()
				delete(m.active, t.RepoID)
				m.mu.Unlock()
				err = model.Custom("channel closed")
			}
		}()
		m.ch <- t
		return nil
	default:
		defer func() {
			if r := recover(); r != nil {
				err = model.Custom("channel closed")
			}
		}()
		m.ch <- t
		return nil
	}
}

// Cancel signals and removes the active-table entry for id. No-op if absent.
func (m *Manager) Cancel(id int64) {
	m.mu.Lock()
	token, exists := m.active[id]
	if exists {
		delete(m.active, id)
	}
	m.mu.Unlock()
	if exists {
		token.Cancel()
	}
}

// CancelAll snapshots the active table, then signals and clears every
// entry. Fire-and-forget: it does not wait for cancelled pipelines to drain.
func (m *Manager) CancelAll() {
	m.mu.Lock()
	tokens := make([]*CancelToken, 0, len(m.active))
	for id, token := range m.active {
		tokens = append(tokens, token)
		delete(m.active, id)
	}
	m.mu.Unlock()

	for _, token := range tokens {
		token.Cancel()
	}
}

// IsActive reports whether id currently holds a dedup slot.
func (m *Manager) IsActive(id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, exists := m.active[id]
	return exists
}

// ActiveCount returns the number of dedup slots currently held.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// GetCancellationToken returns the token for id, used by the pipeline to
// poll for cancellation before each expensive stage.
func (m *Manager) GetCancellationToken(id int64) (*CancelToken, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	token, exists := m.active[id]
	return token, exists
}

// MarkComplete frees id's dedup slot. Called by the pipeline after every
// per-id task, whether it succeeded, failed, or was cancelled.
func (m *Manager) MarkComplete(id int64) {
	m.mu.Lock()
	delete(m.active, id)
	m.mu.Unlock()
}
