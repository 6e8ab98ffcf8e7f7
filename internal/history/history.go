// Package history records the prompts a user has generated images with.
// Recording is best effort: callers log failures and carry on.
package history

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Entry is one prompt-history record.
type Entry struct {
	OwnerID    uuid.UUID
	Prompt     string
	TemplateID string
	Variables  map[string]string
	Succeeded  bool
	CreatedAt  time.Time
}

// Recorder appends prompt-history entries.
type Recorder interface {
	Record(ctx context.Context, entry Entry) error
}

// NopRecorder discards every entry.
type NopRecorder struct{}

// Record implements Recorder.
func (NopRecorder) Record(context.Context, Entry) error { return nil }

// MemoryRecorder keeps entries in memory. It backs the service when no
// database is configured and doubles as a test recorder.
type MemoryRecorder struct {
	mu      sync.Mutex
	entries []Entry
	now     func() time.Time
}

// NewMemoryRecorder creates an empty MemoryRecorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{now: time.Now}
}

// Record implements Recorder.
func (r *MemoryRecorder) Record(ctx context.Context, entry Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = r.now().UTC()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	return nil
}

// Entries returns a copy of the recorded entries for ownerID, oldest first.
func (r *MemoryRecorder) Entries(ownerID uuid.UUID) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Entry
	for _, e := range r.entries {
		if e.OwnerID == ownerID {
			out = append(out, e)
		}
	}
	return out
}
