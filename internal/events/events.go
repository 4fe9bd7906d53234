// Package events is the core-to-shell notification fan-out: task-progress
// and repo-updated events, broadcast to any number of subscribers. The
// original emits to exactly one frontend process via a Tauri app handle;
// this generalizes that to N concurrent listeners (e.g. several SSE
// clients) without changing delivery semantics.
package events

import (
	"context"
	"sync"

	"github.com/archiveforge/gitarchiver/internal/model"
)

// Kind distinguishes the two event shapes the pipeline emits.
type Kind string

const (
	KindTaskProgress Kind = "task-progress"
	KindRepoUpdated  Kind = "repo-updated"
)

// Event is the envelope delivered to every subscriber.
type Event struct {
	Kind     Kind                `json:"kind"`
	Progress *model.TaskProgress `json:"progress,omitempty"`
	Repo     *model.Repository   `json:"repo,omitempty"`
}

// TaskProgress builds a task-progress event.
func TaskProgress(p model.TaskProgress) Event {
	return Event{Kind: KindTaskProgress, Progress: &p}
}

// RepoUpdated builds a repo-updated event.
func RepoUpdated(r model.Repository) Event {
	return Event{Kind: KindRepoUpdated, Repo: &r}
}

const subscriberBuffer = 32

// Broadcaster fans out events to every currently subscribed channel. A
// slow subscriber that falls behind its buffer has the oldest-pending
// semantics of "drop the new event for that subscriber" rather than
// blocking the publisher — publishing must never stall the pipeline.
type Broadcaster struct {
	mu          sync.Mutex
	subscribers map[chan Event]struct{}
}

// NewBroadcaster returns an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subscribers: make(map[chan Event]struct{})}
}

// Subscribe registers a new listener and returns its receive-only channel.
// The channel is closed and deregistered when ctx is done.
func (b *Broadcaster) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, subscriberBuffer)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subscribers, ch)
		b.mu.Unlock()
		close(ch)
	}()

	return ch
}

// Publish delivers ev to every current subscriber, non-blocking.
func (b *Broadcaster) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
			// subscriber is behind; drop rather than block the pipeline.
		}
	}
}
