package api

import (
	"sync"

	"github.com/shortcast/shortcast-server/internal/generate"
)

// Hub fans generation status events out to websocket subscribers. The
// generation handler publishes every event it streams over HTTP, so a
// websocket on the same job sees the identical sequence, including events
// emitted before the socket connected.
type Hub struct {
	mu    sync.Mutex
	feeds map[string]*feed
}

type feed struct {
	history     []generate.Event
	subscribers map[chan generate.Event]struct{}
	closed      bool
}

func NewHub() *Hub {
	return &Hub{feeds: make(map[string]*feed)}
}

func (h *Hub) feedFor(jobID string) *feed {
	f, ok := h.feeds[jobID]
	if !ok {
		f = &feed{subscribers: make(map[chan generate.Event]struct{})}
		h.feeds[jobID] = f
	}
	return f
}

// Publish records an event and delivers it to live subscribers. Slow
// subscribers are dropped rather than blocking the pipeline.
func (h *Hub) Publish(jobID string, ev generate.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	f := h.feedFor(jobID)
	f.history = append(f.history, ev)
	for ch := range f.subscribers {
		select {
		case ch <- ev:
		default:
			delete(f.subscribers, ch)
			close(ch)
		}
	}
}

// Close marks a job's feed finished and disconnects its subscribers. The
// history stays available for late subscribers until Forget.
func (h *Hub) Close(jobID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	f := h.feedFor(jobID)
	f.closed = true
	for ch := range f.subscribers {
		close(ch)
	}
	f.subscribers = make(map[chan generate.Event]struct{})
}

// Forget drops a finished job's feed entirely.
func (h *Hub) Forget(jobID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.feeds, jobID)
}

// Subscribe returns the events already emitted for a job plus a channel for
// the rest. The channel is nil when the job has already finished. cancel is
// safe to call regardless.
func (h *Hub) Subscribe(jobID string) (history []generate.Event, ch chan generate.Event, cancel func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	f := h.feedFor(jobID)
	history = append([]generate.Event(nil), f.history...)
	if f.closed {
		return history, nil, func() {}
	}

	ch = make(chan generate.Event, 16)
	f.subscribers[ch] = struct{}{}
	cancel = func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := f.subscribers[ch]; ok {
			delete(f.subscribers, ch)
			close(ch)
		}
	}
	return history, ch, cancel
}
