package queue

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DeadLetterStore persists dead-letter records.
type DeadLetterStore interface {
	// Save stores rec. Saving a second record for the same OriginalJobID is a
	// no-op so a job is recorded exactly once.
	Save(ctx context.Context, rec DeadLetterRecord) error

	// Get returns a record by its own id.
	Get(ctx context.Context, id uuid.UUID) (DeadLetterRecord, error)

	// List returns records matching filter, newest first.
	List(ctx context.Context, filter DeadLetterFilter) ([]DeadLetterRecord, error)

	// ClaimReplay sets the record's replayed_at to at only while it still
	// equals expected, where nil means never replayed. A nil at clears the
	// stamp. It returns ErrReplayConflict when the stored value differs.
	ClaimReplay(ctx context.Context, id uuid.UUID, expected, at *time.Time) error

	// MarkReplayed stamps a record as manually replayed into jobID.
	MarkReplayed(ctx context.Context, id uuid.UUID, jobID uuid.UUID, at time.Time) error
}

// FallbackSink receives records the primary store could not save.
type FallbackSink interface {
	Append(ctx context.Context, rec DeadLetterRecord) error
}

// DeadLetterFilter narrows List results. Zero values match everything.
type DeadLetterFilter struct {
	Queue  string
	Since  time.Time
	Limit  int
	Offset int
}

// Match reports whether rec passes the filter's predicates.
func (f DeadLetterFilter) Match(rec DeadLetterRecord) bool {
	if f.Queue != "" && rec.OriginalQueue != f.Queue {
		return false
	}
	if !f.Since.IsZero() && rec.FailedAt.Before(f.Since) {
		return false
	}
	return true
}

// MemoryDeadLetterStore is an in-memory DeadLetterStore.
type MemoryDeadLetterStore struct {
	mu      sync.RWMutex
	records map[uuid.UUID]DeadLetterRecord
	byJob   map[uuid.UUID]uuid.UUID
}

// NewMemoryDeadLetterStore creates an empty store.
func NewMemoryDeadLetterStore() *MemoryDeadLetterStore {
	return &MemoryDeadLetterStore{
		records: make(map[uuid.UUID]DeadLetterRecord),
		byJob:   make(map[uuid.UUID]uuid.UUID),
	}
}

func (s *MemoryDeadLetterStore) Save(ctx context.Context, rec DeadLetterRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byJob[rec.OriginalJobID]; ok {
		return nil
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	s.records[rec.ID] = rec
	s.byJob[rec.OriginalJobID] = rec.ID
	return nil
}

func (s *MemoryDeadLetterStore) Get(ctx context.Context, id uuid.UUID) (DeadLetterRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return DeadLetterRecord{}, fmt.Errorf("%w: %s", ErrDeadLetterNotFound, id)
	}
	return rec, nil
}

func (s *MemoryDeadLetterStore) List(ctx context.Context, filter DeadLetterFilter) ([]DeadLetterRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]DeadLetterRecord, 0, len(s.records))
	for _, rec := range s.records {
		if filter.Match(rec) {
			out = append(out, rec)
		}
	}
	slices.SortFunc(out, func(a, b DeadLetterRecord) int {
		return b.FailedAt.Compare(a.FailedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return []DeadLetterRecord{}, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryDeadLetterStore) ClaimReplay(ctx context.Context, id uuid.UUID, expected, at *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrDeadLetterNotFound, id)
	}
	if !sameStamp(rec.ReplayedAt, expected) {
		return fmt.Errorf("%w: %s", ErrReplayConflict, id)
	}
	if at == nil {
		rec.ReplayedAt = nil
	} else {
		t := at.UTC()
		rec.ReplayedAt = &t
	}
	s.records[id] = rec
	return nil
}

func sameStamp(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func (s *MemoryDeadLetterStore) MarkReplayed(ctx context.Context, id uuid.UUID, jobID uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrDeadLetterNotFound, id)
	}
	at = at.UTC()
	rec.ReplayedAt = &at
	rec.ReplayJobID = &jobID
	s.records[id] = rec
	return nil
}
