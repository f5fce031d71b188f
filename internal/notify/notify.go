// package notify delivers reviewer and operator notifications. Delivery is
// fire-and-forget: failures are logged by callers, never fatal to the
// pipeline.
package notify

import (
	"context"
	"log"
	"sync"
)

// Event types emitted by the pipeline.
const (
	EventManualReviewRequired = "manual_review_required"
	EventProductionMoveFailed = "production_move_failed"
)

// Event is one notification item. A stage run emits a single batch covering
// every affected submission, not one call per item.
type Event struct {
	Type         string   `json:"type"`
	SubmissionID string   `json:"submissionId"`
	Reasons      []string `json:"reasons,omitempty"`
	Error        string   `json:"error,omitempty"`
}

type Notifier interface {
	Notify(ctx context.Context, events []Event) error
}

// LogNotifier writes notification batches to the process log. Used when no
// broker is configured.
type LogNotifier struct {
	Logger *log.Logger
}

func (n *LogNotifier) Notify(ctx context.Context, events []Event) error {
	logger := n.Logger
	if logger == nil {
		logger = log.Default()
	}
	for _, ev := range events {
		logger.Printf("[notify] type=%s submission=%s reasons=%v error=%q", ev.Type, ev.SubmissionID, ev.Reasons, ev.Error)
	}
	return nil
}

// MemoryNotifier captures batches for tests.
type MemoryNotifier struct {
	mu      sync.Mutex
	batches [][]Event
}

func NewMemoryNotifier() *MemoryNotifier {
	return &MemoryNotifier{}
}

func (n *MemoryNotifier) Notify(ctx context.Context, events []Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	batch := append([]Event(nil), events...)
	n.batches = append(n.batches, batch)
	return nil
}

// Batches returns every batch delivered so far.
func (n *MemoryNotifier) Batches() [][]Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([][]Event, len(n.batches))
	copy(out, n.batches)
	return out
}
