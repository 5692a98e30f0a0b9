package testsupport

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/goliatone/attendance-core/repositorycache"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ErrDuplicateKey is returned by MemoryStore.Insert for an existing id.
var ErrDuplicateKey = errors.New("testsupport: duplicate key")

type tenantOwned interface {
	GetTenantID() uuid.UUID
}

// MemoryStore is an in-memory repositorycache.Store. Rows are returned in id
// order. Writes made through a *MemoryTx are undone when it rolls back.
type MemoryStore[T repositorycache.Entity] struct {
	// Match evaluates criteria in memory. When nil, criteria are ignored.
	Match func(record T, criteria []repositorycache.Criteria) bool

	// OnSelect runs before every Select, after the call is recorded.
	OnSelect func()

	mu       sync.Mutex
	rows     map[uuid.UUID]T
	calls    map[string]int
	failures map[string][]error
}

// NewMemoryStore returns a store holding seed.
func NewMemoryStore[T repositorycache.Entity](seed ...T) *MemoryStore[T] {
	s := &MemoryStore[T]{
		rows:     make(map[uuid.UUID]T),
		calls:    make(map[string]int),
		failures: make(map[string][]error),
	}
	s.Seed(seed...)
	return s
}

// Seed writes records directly, bypassing transactions and call counting.
func (s *MemoryStore[T]) Seed(records ...T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, record := range records {
		s.rows[record.GetID()] = record
	}
}

// Row returns the stored record with id.
func (s *MemoryStore[T]) Row(id uuid.UUID) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.rows[id]
	return record, ok
}

// Len returns the number of stored rows.
func (s *MemoryStore[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

// Calls returns how often op ("select", "count", "exists", "insert",
// "update", "delete") was called.
func (s *MemoryStore[T]) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// ResetCalls zeroes the call counters.
func (s *MemoryStore[T]) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = make(map[string]int)
}

// FailNext queues errs for the next calls of op, in order.
func (s *MemoryStore[T]) FailNext(op string, errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = append(s.failures[op], errs...)
}

func (s *MemoryStore[T]) Select(ctx context.Context, _ bun.IDB, q repositorycache.Query) ([]T, error) {
	if err := s.enter(ctx, "select"); err != nil {
		return nil, err
	}
	if s.OnSelect != nil {
		s.OnSelect()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	matched := s.matchLocked(q)
	if q.Offset > 0 {
		if q.Offset >= len(matched) {
			return []T{}, nil
		}
		matched = matched[q.Offset:]
	}
	if q.Limit > 0 && q.Limit < len(matched) {
		matched = matched[:q.Limit]
	}
	return matched, nil
}

func (s *MemoryStore[T]) Count(ctx context.Context, _ bun.IDB, q repositorycache.Query) (int, error) {
	if err := s.enter(ctx, "count"); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.matchLocked(q)), nil
}

func (s *MemoryStore[T]) Exists(ctx context.Context, _ bun.IDB, q repositorycache.Query) (bool, error) {
	if err := s.enter(ctx, "exists"); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.matchLocked(q)) > 0, nil
}

func (s *MemoryStore[T]) Insert(ctx context.Context, db bun.IDB, record T) (int64, error) {
	if err := s.enter(ctx, "insert"); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id := record.GetID()
	if _, exists := s.rows[id]; exists {
		return 0, ErrDuplicateKey
	}
	s.rows[id] = record
	s.journal(db, func() { delete(s.rows, id) })
	return 1, nil
}

func (s *MemoryStore[T]) Update(ctx context.Context, db bun.IDB, record T, q repositorycache.Query) (int64, error) {
	if err := s.enter(ctx, "update"); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	previous, ok := s.rows[q.ID]
	if !ok || !tenantMatches(previous, q.TenantID) {
		return 0, nil
	}
	s.rows[q.ID] = record
	s.journal(db, func() { s.rows[q.ID] = previous })
	return 1, nil
}

func (s *MemoryStore[T]) Delete(ctx context.Context, db bun.IDB, _ T, q repositorycache.Query) (int64, error) {
	if err := s.enter(ctx, "delete"); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	previous, ok := s.rows[q.ID]
	if !ok || !tenantMatches(previous, q.TenantID) {
		return 0, nil
	}
	delete(s.rows, q.ID)
	s.journal(db, func() { s.rows[q.ID] = previous })
	return 1, nil
}

// enter records the call and pops a queued failure.
func (s *MemoryStore[T]) enter(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[op]++
	if queued := s.failures[op]; len(queued) > 0 {
		s.failures[op] = queued[1:]
		return queued[0]
	}
	return nil
}

// journal must be called with s.mu held; the undo runs under the lock taken
// by rollback.
func (s *MemoryStore[T]) journal(db bun.IDB, undo func()) {
	tx, ok := db.(*MemoryTx)
	if !ok {
		return
	}
	tx.journal(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		undo()
	})
}

func (s *MemoryStore[T]) matchLocked(q repositorycache.Query) []T {
	matched := make([]T, 0, len(s.rows))
	for id, record := range s.rows {
		if q.ID != uuid.Nil && id != q.ID {
			continue
		}
		if !tenantMatches(record, q.TenantID) {
			continue
		}
		if len(q.Criteria) > 0 && s.Match != nil && !s.Match(record, q.Criteria) {
			continue
		}
		matched = append(matched, record)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].GetID().String() < matched[j].GetID().String()
	})
	return matched
}

func tenantMatches(record any, tenantID uuid.UUID) bool {
	if tenantID == uuid.Nil {
		return true
	}
	owned, ok := record.(tenantOwned)
	return ok && owned.GetTenantID() == tenantID
}
