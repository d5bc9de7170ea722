package inmemory

import (
	"sync"

	"github.com/fllarpy/reqprof/domain"
	"github.com/fllarpy/reqprof/domain/profiles"
)

const (
	// DefaultHistorySize is the number of finished profiles kept by default.
	DefaultHistorySize = 100
)

// --- Store Implementation ---

var _ domain.ProfileStore = (*Store)(nil)

// Store is a thread-safe in-memory history of finished profiles.
// It keeps the most recent records and evicts the oldest when full.
type Store struct {
	mu      sync.RWMutex
	nextID  uint64
	evicted uint64
	records *ringBuffer[profiles.Record]
}

// NewStore creates a Store holding up to size records. A non-positive size
// selects DefaultHistorySize.
func NewStore(size int) *Store {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &Store{
		records: newRingBuffer[profiles.Record](size),
	}
}

// AddProfile stores a finished profile and returns the ID assigned to it.
func (s *Store) AddProfile(record profiles.Record) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	record.ID = s.nextID
	if s.records.add(record) {
		s.evicted++
	}
	return record.ID
}

// GetProfile returns the record with the given ID if it is still retained.
func (s *Store) GetProfile(id uint64) (profiles.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.records.getAll() {
		if r.ID == id {
			return r, true
		}
	}
	return profiles.Record{}, false
}

// GetSnapshot returns summaries of the retained records, oldest first.
func (s *Store) GetSnapshot() *domain.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := s.records.getAll()
	snapshot := &domain.Snapshot{
		Profiles: make([]profiles.Summary, 0, len(records)),
		Evicted:  s.evicted,
	}
	for _, r := range records {
		snapshot.Profiles = append(snapshot.Profiles, r.Summarize())
	}
	return snapshot
}

// --- Ring Buffer ---

// ringBuffer is a generic, thread-unsafe circular buffer.
// The locking must be handled by the parent (Store).
type ringBuffer[T any] struct {
	buffer []T
	size   int
	start  int
	count  int
}

// newRingBuffer creates a new ring buffer of a given size.
func newRingBuffer[T any](size int) *ringBuffer[T] {
	return &ringBuffer[T]{
		buffer: make([]T, size),
		size:   size,
	}
}

// add inserts an element into the buffer, overwriting the oldest if full.
// It reports whether an element was overwritten.
func (rb *ringBuffer[T]) add(item T) bool {
	index := (rb.start + rb.count) % rb.size
	rb.buffer[index] = item
	if rb.count < rb.size {
		rb.count++
		return false
	}
	rb.start = (rb.start + 1) % rb.size
	return true
}

// getAll returns all elements in the buffer in order.
func (rb *ringBuffer[T]) getAll() []T {
	if rb.count == 0 {
		return nil
	}
	items := make([]T, rb.count)
	for i := 0; i < rb.count; i++ {
		items[i] = rb.buffer[(rb.start+i)%rb.size]
	}
	return items
}
