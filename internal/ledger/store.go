package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxEntries is the record ceiling used when none is configured
const DefaultMaxEntries = 1000

// Store is the authoritative mileage ledger. All mutations are serialized
// by a single lock so the one-record-per-day and capacity rules hold under
// concurrent callers.
type Store struct {
	backend    Backend
	maxEntries int
	loc        *time.Location

	mu      sync.Mutex
	records []Record // ascending by date
	byDay   map[string]int64
	subs    map[*Subscription]struct{}
}

// Option configures a Store
type Option func(*Store)

// WithMaxEntries sets the record ceiling
func WithMaxEntries(n int) Option {
	return func(s *Store) {
		s.maxEntries = n
	}
}

// WithLocation sets the time zone calendar days are computed in
func WithLocation(loc *time.Location) Option {
	return func(s *Store) {
		s.loc = loc
	}
}

// Open loads every record from backend and returns a ready Store
func Open(ctx context.Context, backend Backend, opts ...Option) (*Store, error) {
	s := &Store{
		backend:    backend,
		maxEntries: DefaultMaxEntries,
		loc:        time.Local,
		byDay:      make(map[string]int64),
		subs:       make(map[*Subscription]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.maxEntries <= 0 {
		return nil, fmt.Errorf("max entries must be positive, got %d", s.maxEntries)
	}

	records, err := backend.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading entries: %w", err)
	}
	sort.SliceStable(records, func(i, j int) bool {
		return less(records[i], records[j])
	})
	for _, r := range records {
		day := r.Day(s.loc)
		if prev, ok := s.byDay[day]; ok {
			slog.Warn("Multiple stored entries share a day", "day", day, "id", r.ID, "existing_id", prev)
			continue
		}
		s.byDay[day] = r.ID
	}
	s.records = records

	if len(records) > s.maxEntries {
		slog.Warn("Stored entries exceed the configured maximum", "count", len(records), "max_entries", s.maxEntries)
	}
	return s, nil
}

func less(a, b Record) bool {
	if a.Date.Equal(b.Date) {
		return a.ID < b.ID
	}
	return a.Date.Before(b.Date)
}

// Insert stores a new record and returns it with its assigned ID
func (s *Store) Insert(ctx context.Context, record Record) (Record, error) {
	if err := record.validate(); err != nil {
		return Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	day := record.Day(s.loc)
	if _, ok := s.byDay[day]; ok {
		return Record{}, fmt.Errorf("%w: %s", ErrDuplicateDate, day)
	}
	if len(s.records) >= s.maxEntries {
		return Record{}, fmt.Errorf("%w: maximum %d entries allowed", ErrCapacityExceeded, s.maxEntries)
	}

	stored, err := s.backend.SaveInsert(ctx, record)
	if err != nil {
		return Record{}, fmt.Errorf("saving entry: %w", err)
	}

	i := sort.Search(len(s.records), func(i int) bool {
		return less(stored, s.records[i])
	})
	s.records = slices.Insert(s.records, i, stored)
	s.byDay[day] = stored.ID
	s.publishLocked()

	slog.Debug("Inserted entry", "id", stored.ID, "miles", stored.Miles, "day", day)
	return stored, nil
}

// Delete removes the record with the given ID
func (s *Store) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := slices.IndexFunc(s.records, func(r Record) bool { return r.ID == id })
	if i < 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}

	if err := s.backend.SaveDelete(ctx, id); err != nil {
		return fmt.Errorf("deleting entry: %w", err)
	}

	day := s.records[i].Day(s.loc)
	s.records = slices.Delete(s.records, i, i+1)
	if s.byDay[day] == id {
		delete(s.byDay, day)
		// a store loaded with duplicates keeps the day taken until the last one goes
		for _, r := range s.records {
			if r.Day(s.loc) == day {
				s.byDay[day] = r.ID
				break
			}
		}
	}
	s.publishLocked()

	slog.Debug("Deleted entry", "id", id, "day", day)
	return nil
}

// Query returns a copy of the collection in the requested order
func (s *Store) Query(order Order) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	if order == DateDesc {
		return s.snapshotLocked()
	}
	return slices.Clone(s.records)
}

// Count returns the number of stored records
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// MaxEntries returns the configured record ceiling
func (s *Store) MaxEntries() int {
	return s.maxEntries
}

// Location returns the time zone calendar days are computed in
func (s *Store) Location() *time.Location {
	return s.loc
}

// Summary describes the current collection
func (s *Store) Summary() Summary {
	return Summarize(s.Query(DateAsc), s.maxEntries)
}

// Subscribe registers a listener. The current snapshot is delivered first,
// then one snapshot after every successful Insert or Delete.
func (s *Store) Subscribe(ctx context.Context) *Subscription {
	sub := newSubscription(uuid.NewString())

	s.mu.Lock()
	s.subs[sub] = struct{}{}
	sub.push(s.snapshotLocked())
	s.mu.Unlock()

	go sub.run(ctx, func() {
		s.mu.Lock()
		delete(s.subs, sub)
		s.mu.Unlock()
	})
	return sub
}

func (s *Store) snapshotLocked() Snapshot {
	snap := make(Snapshot, len(s.records))
	for i, r := range s.records {
		snap[len(s.records)-1-i] = r
	}
	return snap
}

func (s *Store) publishLocked() {
	if len(s.subs) == 0 {
		return
	}
	snap := s.snapshotLocked()
	for sub := range s.subs {
		sub.push(snap)
	}
}

// Close closes the backend
func (s *Store) Close() error {
	return s.backend.Close()
}
