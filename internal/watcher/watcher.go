// Package watcher observes a project tree for screenplay document changes and
// emits debounced, batched events that drive incremental sync.
package watcher

import (
	"time"
)

// Operation represents a file system operation type.
type Operation int

const (
	// OpCreate indicates a new document was created.
	OpCreate Operation = iota
	// OpModify indicates an existing document was modified.
	OpModify
	// OpDelete indicates a document was deleted.
	OpDelete
	// OpRename indicates a document was renamed.
	OpRename
)

// String returns a human-readable representation of the operation.
func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	case OpRename:
		return "RENAME"
	default:
		return "UNKNOWN"
	}
}

// Event represents a document change.
type Event struct {
	// Path is the path of the document, relative to the watched root.
	Path string

	// Operation is the type of file system operation.
	Operation Operation

	// Timestamp is when the event was detected.
	Timestamp time.Time
}

// Options configures watcher behavior.
type Options struct {
	// DebounceWindow is the settle delay before coalesced events are emitted.
	// Editors often write a file several times in quick succession; the
	// window folds those into a single sync. Default: 500ms.
	DebounceWindow time.Duration

	// EventBufferSize is the size of the outgoing event channel buffer.
	// Default: 256.
	EventBufferSize int

	// Extensions are the document file extensions to watch, lowercase with
	// leading dot. Default: .fountain.
	Extensions []string

	// IgnoreDirs are directory names skipped entirely (never descended
	// into). The data directory must be listed here or metadata write-back
	// and index writes would re-trigger sync. Default: .git, .scenedex.
	IgnoreDirs []string
}

// DefaultOptions returns the default watcher options.
func DefaultOptions() Options {
	return Options{
		DebounceWindow:  500 * time.Millisecond,
		EventBufferSize: 256,
		Extensions:      []string{".fountain"},
		IgnoreDirs:      []string{".git", ".scenedex"},
	}
}

// WithDefaults returns options with defaults applied for zero values.
func (o Options) WithDefaults() Options {
	defaults := DefaultOptions()
	if o.DebounceWindow == 0 {
		o.DebounceWindow = defaults.DebounceWindow
	}
	if o.EventBufferSize == 0 {
		o.EventBufferSize = defaults.EventBufferSize
	}
	if len(o.Extensions) == 0 {
		o.Extensions = defaults.Extensions
	}
	if len(o.IgnoreDirs) == 0 {
		o.IgnoreDirs = defaults.IgnoreDirs
	}
	return o
}
