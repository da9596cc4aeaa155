// Package server - Server-Sent Events for real-time job status streaming.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/spikeflow/spikeflow/pkg/sorting"
)

// SSEBroker manages Server-Sent Events connections, one subscription group
// per job.
type SSEBroker struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan SSEEvent]struct{}
}

// SSEEvent represents an event to send to clients.
type SSEEvent struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
	ID    string      `json:"id,omitempty"`
}

// NewSSEBroker creates a new SSE broker.
func NewSSEBroker() *SSEBroker {
	return &SSEBroker{
		subscribers: make(map[string]map[chan SSEEvent]struct{}),
	}
}

// Subscribe creates a subscription for a job.
func (b *SSEBroker) Subscribe(jobID string) chan SSEEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan SSEEvent, 10)

	if b.subscribers[jobID] == nil {
		b.subscribers[jobID] = make(map[chan SSEEvent]struct{})
	}
	b.subscribers[jobID][ch] = struct{}{}

	return ch
}

// Unsubscribe removes a subscription.
func (b *SSEBroker) Unsubscribe(jobID string, ch chan SSEEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if subs, ok := b.subscribers[jobID]; ok {
		delete(subs, ch)
		close(ch)
		if len(subs) == 0 {
			delete(b.subscribers, jobID)
		}
	}
}

// Publish sends an event to all subscribers of a job.
func (b *SSEBroker) Publish(jobID string, event SSEEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if subs, ok := b.subscribers[jobID]; ok {
		for ch := range subs {
			select {
			case ch <- event:
			default:
				// Channel full, skip
			}
		}
	}
}

// PublishStatus broadcasts a job snapshot. Terminal states are sent as
// "complete" or "error" events so clients know to disconnect.
func (b *SSEBroker) PublishStatus(job sorting.Job) {
	event := "status"
	switch job.Status {
	case sorting.StatusCompleted:
		event = "complete"
	case sorting.StatusFailed, sorting.StatusCancelled:
		event = "error"
	}
	b.Publish(job.ID, SSEEvent{
		Event: event,
		Data:  toJobPayload(job),
		ID:    fmt.Sprintf("%d", time.Now().UnixNano()),
	})
}

// HasSubscribers checks if a job has any subscribers.
func (b *SSEBroker) HasSubscribers(jobID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[jobID]) > 0
}

// --- HTTP Handler ---

// handleSortEvents streams job status updates: GET /api/sort/events?job_id=...
func (s *Server) handleSortEvents(w http.ResponseWriter, r *http.Request) {
	jobID := r.URL.Query().Get("job_id")
	if jobID == "" {
		http.Error(w, "job_id required", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	ch := s.broker.Subscribe(jobID)
	defer s.broker.Unsubscribe(jobID, ch)

	// Send initial state if the job exists.
	if job, err := s.orch.Get(jobID); err == nil {
		writeSSEEvent(w, SSEEvent{Event: "init", Data: toJobPayload(job)})
		flusher.Flush()
		if job.Status.Terminal() {
			return
		}
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			writeSSEEvent(w, event)
			flusher.Flush()

			if event.Event == "complete" || event.Event == "error" {
				return
			}
		}
	}
}

// writeSSEEvent writes an event in SSE format.
func writeSSEEvent(w http.ResponseWriter, event SSEEvent) {
	if event.ID != "" {
		fmt.Fprintf(w, "id: %s\n", event.ID)
	}
	fmt.Fprintf(w, "event: %s\n", event.Event)

	data, _ := json.Marshal(event.Data)
	fmt.Fprintf(w, "data: %s\n\n", data)
}
