// Package logbuffer keeps the bounded, ordered, de-duplicated log of the job
// currently being monitored.
package logbuffer

import (
	"sort"
	"strconv"
	"sync"

	"github.com/samber/lo"
	"github.com/stanstork/jobwatch/internal/models"
)

// DefaultCapacity is the number of entries kept when no capacity is given.
const DefaultCapacity = 2000

// Buffer holds log entries sorted ascending by id, unique by id, and never
// longer than its capacity. It is safe for concurrent use.
type Buffer struct {
	capacity int

	mu          sync.RWMutex
	entries     []models.LogEntry
	ids         map[int64]struct{}
	syntheticID int64
	// synthetic ids held per content key, in allocation order
	unnamed map[string][]int64
}

func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		capacity: capacity,
		ids:      make(map[int64]struct{}),
		unnamed:  make(map[string][]int64),
	}
}

// Merge folds entries into the buffer and returns how many were added.
//
// With reset the buffer is replaced by entries (most recent capacity kept)
// and synthetic id allocation starts over. Otherwise only ids not already
// present are appended, so merging the same batch twice is a no-op the second
// time. Entries without an id are matched on creation time and payload: the
// n-th such entry of a batch reuses the n-th synthetic id already held for the
// same content and only gets a fresh negative id past that.
func (b *Buffer) Merge(entries []models.LogEntry, reset bool) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if reset {
		b.entries = nil
		b.ids = make(map[int64]struct{}, len(entries))
		b.syntheticID = 0
		b.unnamed = make(map[string][]int64)
	}

	added := 0
	occurrences := map[string]int{}
	for _, e := range entries {
		if e.ID == 0 {
			key := contentKey(e)
			n := occurrences[key]
			occurrences[key]++
			if n < len(b.unnamed[key]) {
				continue
			}
			b.syntheticID--
			e = e.WithID(b.syntheticID)
			b.unnamed[key] = append(b.unnamed[key], e.ID)
		}
		if _, seen := b.ids[e.ID]; seen {
			continue
		}
		b.ids[e.ID] = struct{}{}
		b.entries = append(b.entries, e)
		added++
	}
	if added == 0 {
		return 0
	}

	sort.SliceStable(b.entries, func(i, j int) bool {
		return b.entries[i].ID < b.entries[j].ID
	})
	if overflow := len(b.entries) - b.capacity; overflow > 0 {
		for _, evicted := range b.entries[:overflow] {
			delete(b.ids, evicted.ID)
			if evicted.ID < 0 {
				b.forget(evicted)
			}
		}
		b.entries = append([]models.LogEntry(nil), b.entries[overflow:]...)
	}
	return added
}

// Snapshot returns a copy of the buffered entries in ascending id order.
func (b *Buffer) Snapshot() []models.LogEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]models.LogEntry(nil), b.entries...)
}

func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// MaxID returns the highest producer-assigned id held, or 0 when none.
func (b *Buffer) MaxID() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return MaxRealID(b.entries)
}

func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = nil
	b.ids = make(map[int64]struct{})
	b.syntheticID = 0
	b.unnamed = make(map[string][]int64)
}

// forget drops an evicted synthetic entry from its content key.
func (b *Buffer) forget(e models.LogEntry) {
	key := contentKey(e)
	held := lo.Without(b.unnamed[key], e.ID)
	if len(held) == 0 {
		delete(b.unnamed, key)
		return
	}
	b.unnamed[key] = held
}

func contentKey(e models.LogEntry) string {
	var at string
	if !e.CreatedAt.IsZero() {
		at = strconv.FormatInt(e.CreatedAt.UnixNano(), 10)
	}
	return at + "|" + string(e.Payload)
}

// MaxRealID returns the highest positive id in entries, or 0.
func MaxRealID(entries []models.LogEntry) int64 {
	identified := lo.Filter(entries, func(e models.LogEntry, _ int) bool { return e.ID > 0 })
	if len(identified) == 0 {
		return 0
	}
	return lo.MaxBy(identified, func(a, b models.LogEntry) bool { return a.ID > b.ID }).ID
}
