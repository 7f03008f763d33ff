package progress

import (
	"context"
	"sync"

	"github.com/ICME-Lab/verifiable-agent-kit-sub000/pkg/models"
)

// DefaultHistory is the number of events kept per workflow.
const DefaultHistory = 256

// Recorder keeps the most recent events of each workflow in memory so
// late observers can catch up.
type Recorder struct {
	mu     sync.RWMutex
	limit  int
	events map[string][]models.Event
}

// NewRecorder creates a Recorder keeping up to limit events per workflow.
func NewRecorder(limit int) *Recorder {
	if limit <= 0 {
		limit = DefaultHistory
	}
	return &Recorder{limit: limit, events: make(map[string][]models.Event)}
}

// Publish implements Sink.
func (r *Recorder) Publish(_ context.Context, ev models.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := append(r.events[ev.WorkflowID], ev)
	if len(h) > r.limit {
		h = append([]models.Event(nil), h[len(h)-r.limit:]...)
	}
	r.events[ev.WorkflowID] = h
}

// Events returns the recorded events of workflowID, oldest first.
func (r *Recorder) Events(workflowID string) []models.Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]models.Event(nil), r.events[workflowID]...)
}

// Forget drops the history of workflowID.
func (r *Recorder) Forget(workflowID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.events, workflowID)
}
