package watcher

import (
	"log/slog"
	"sync"
	"time"
)

// Debouncer coalesces rapid document events so a burst of editor writes
// produces one sync instead of many. Events for the same path within the
// window merge:
//   - CREATE + MODIFY = CREATE (still a new document)
//   - CREATE + DELETE = nothing (never really existed)
//   - MODIFY + DELETE = DELETE
//   - DELETE + CREATE = MODIFY (document was replaced)
type Debouncer struct {
	window  time.Duration
	pending map[string]*pendingEvent
	mu      sync.Mutex
	output  chan []Event
	timer   *time.Timer
	stopped bool
}

type pendingEvent struct {
	event   Event
	firstOp Operation
}

// NewDebouncer creates a debouncer with the given settle window.
func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{
		window:  window,
		pending: make(map[string]*pendingEvent),
		output:  make(chan []Event, 10),
	}
}

// Add submits an event for coalescing. The flush timer restarts on every
// add, so a continuous stream of writes keeps extending the window.
func (d *Debouncer) Add(event Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	if existing, ok := d.pending[event.Path]; ok {
		coalesced := coalesce(existing, event)
		if coalesced == nil {
			delete(d.pending, event.Path)
		} else {
			existing.event = *coalesced
		}
	} else {
		d.pending[event.Path] = &pendingEvent{
			event:   event,
			firstOp: event.Operation,
		}
	}

	d.scheduleFlush()
}

// coalesce merges a new event into an existing pending one.
// Returns nil when the pair cancels out.
func coalesce(existing *pendingEvent, incoming Event) *Event {
	switch existing.firstOp {
	case OpCreate:
		switch incoming.Operation {
		case OpModify:
			return &existing.event
		case OpDelete:
			return nil
		default:
			return &incoming
		}

	case OpDelete:
		if incoming.Operation == OpCreate {
			replaced := incoming
			replaced.Operation = OpModify
			return &replaced
		}
		return &incoming

	default:
		return &incoming
	}
}

func (d *Debouncer) scheduleFlush() {
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

func (d *Debouncer) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped || len(d.pending) == 0 {
		return
	}

	events := make([]Event, 0, len(d.pending))
	for _, pe := range d.pending {
		events = append(events, pe.event)
	}
	d.pending = make(map[string]*pendingEvent)

	select {
	case d.output <- events:
	default:
		slog.Warn("debouncer output full, dropping batch",
			slog.Int("batch_size", len(events)))
	}
}

// Output returns the channel of coalesced event batches.
func (d *Debouncer) Output() <-chan []Event {
	return d.output
}

// Stop stops the debouncer and closes the output channel.
// Safe to call multiple times.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	close(d.output)
}
