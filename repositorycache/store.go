package repositorycache

import (
	"context"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Entity is anything the repository can store: it has a unique id.
type Entity interface {
	GetID() uuid.UUID
}

// Criteria narrows a select query. Criteria are evaluated by the store and
// results filtered by them are never cached.
type Criteria func(q *bun.SelectQuery) *bun.SelectQuery

// Query describes the rows a store call addresses. Zero values mean "any":
// a nil ID matches every row, a nil TenantID applies no tenant filter and a
// zero Limit returns every matching row.
type Query struct {
	ID       uuid.UUID
	TenantID uuid.UUID
	Limit    int
	Offset   int
	Criteria []Criteria
}

// Store is the relational backend of a repository. Every call receives the
// bun.IDB to run on, which is the open transaction when there is one.
type Store[T Entity] interface {
	Select(ctx context.Context, db bun.IDB, q Query) ([]T, error)
	Count(ctx context.Context, db bun.IDB, q Query) (int, error)
	Exists(ctx context.Context, db bun.IDB, q Query) (bool, error)
	Insert(ctx context.Context, db bun.IDB, record T) (int64, error)
	Update(ctx context.Context, db bun.IDB, record T, q Query) (int64, error)
	Delete(ctx context.Context, db bun.IDB, record T, q Query) (int64, error)
}

// Operation is a staged write, run against the session's database handle
// when changes are saved. It returns the number of affected rows.
type Operation = func(ctx context.Context, db bun.IDB) (int64, error)

// Session is the unit of work a repository stages its writes in.
type Session interface {
	// IDB returns the open transaction, or the database outside one.
	IDB() bun.IDB
	InTransaction() bool
	Stage(op Operation)
	// AfterCommit registers fn to run once the staged writes are committed.
	AfterCommit(fn func(ctx context.Context))
}
