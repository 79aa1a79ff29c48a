package main

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// NodeLog is the diagnostic record list shown to the node's user. It keeps
// the newest MaxEntries records and mirrors every record to the process logger.
type NodeLog struct {
	mu         sync.RWMutex
	entries    []LogEntry
	maxEntries int
	events     *EventHub
}

// NewNodeLog creates a log holding at most maxEntries records.
func NewNodeLog(maxEntries int, events *EventHub) *NodeLog {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxLogEntries
	}
	return &NodeLog{maxEntries: maxEntries, events: events}
}

// Push records a titled diagnostic. Errors are flattened into their message.
func (l *NodeLog) Push(title string, data any) LogEntry {
	if err, ok := data.(error); ok {
		data = map[string]any{"error": err.Error()}
	}
	entry := LogEntry{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UnixMilli(),
		Title:     title,
		Data:      data,
	}

	l.mu.Lock()
	l.entries = append(l.entries, entry)
	if over := len(l.entries) - l.maxEntries; over > 0 {
		l.entries = append([]LogEntry(nil), l.entries[over:]...)
	}
	l.mu.Unlock()

	logger.Warn(title, "logEntryId", entry.ID, "data", data)
	l.events.Publish(Event{Collection: "log", Action: ActionInsert, Item: entry})
	return entry
}

// Entries returns the retained records, oldest first.
func (l *NodeLog) Entries() []LogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]LogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}
