package storeinfra

import (
	"context"
	"reflect"

	"github.com/goliatone/attendance-core/repositorycache"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const (
	defaultIDColumn     = "id"
	defaultTenantColumn = "tenant_id"
)

// BunStore is a repositorycache.Store backed by bun queries against the
// table of T's bun model.
type BunStore[T repositorycache.Entity] struct {
	idColumn     string
	tenantColumn string
}

// BunStoreOption configures a BunStore.
type BunStoreOption func(*bunStoreConfig)

type bunStoreConfig struct {
	idColumn     string
	tenantColumn string
}

// WithIDColumn overrides the primary key column, "id" by default.
func WithIDColumn(column string) BunStoreOption {
	return func(c *bunStoreConfig) {
		c.idColumn = column
	}
}

// WithTenantColumn overrides the tenant column, "tenant_id" by default.
func WithTenantColumn(column string) BunStoreOption {
	return func(c *bunStoreConfig) {
		c.tenantColumn = column
	}
}

// NewBunStore returns a store for T.
func NewBunStore[T repositorycache.Entity](opts ...BunStoreOption) *BunStore[T] {
	cfg := bunStoreConfig{idColumn: defaultIDColumn, tenantColumn: defaultTenantColumn}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &BunStore[T]{idColumn: cfg.idColumn, tenantColumn: cfg.tenantColumn}
}

func (s *BunStore[T]) Select(ctx context.Context, db bun.IDB, q repositorycache.Query) ([]T, error) {
	records := make([]T, 0)
	query := s.selectQuery(db, &records, q).
		OrderExpr("?TableAlias.? ASC", bun.Ident(s.idColumn))
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}
	if q.Offset > 0 {
		query = query.Offset(q.Offset)
	}
	if err := query.Scan(ctx); err != nil {
		return nil, err
	}
	return records, nil
}

func (s *BunStore[T]) Count(ctx context.Context, db bun.IDB, q repositorycache.Query) (int, error) {
	var records []T
	return s.selectQuery(db, &records, q).Count(ctx)
}

func (s *BunStore[T]) Exists(ctx context.Context, db bun.IDB, q repositorycache.Query) (bool, error) {
	var records []T
	return s.selectQuery(db, &records, q).Exists(ctx)
}

func (s *BunStore[T]) Insert(ctx context.Context, db bun.IDB, record T) (int64, error) {
	res, err := db.NewInsert().Model(model(&record)).Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *BunStore[T]) Update(ctx context.Context, db bun.IDB, record T, q repositorycache.Query) (int64, error) {
	query := db.NewUpdate().
		Model(model(&record)).
		Where("? = ?", bun.Ident(s.idColumn), idOf(record, q))
	if q.TenantID != uuid.Nil {
		query = query.Where("? = ?", bun.Ident(s.tenantColumn), q.TenantID)
	}

	res, err := query.Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *BunStore[T]) Delete(ctx context.Context, db bun.IDB, record T, q repositorycache.Query) (int64, error) {
	query := db.NewDelete().
		Model(model(&record)).
		Where("? = ?", bun.Ident(s.idColumn), idOf(record, q))
	if q.TenantID != uuid.Nil {
		query = query.Where("? = ?", bun.Ident(s.tenantColumn), q.TenantID)
	}

	res, err := query.Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *BunStore[T]) selectQuery(db bun.IDB, records *[]T, q repositorycache.Query) *bun.SelectQuery {
	query := db.NewSelect().Model(records)
	if q.ID != uuid.Nil {
		query = query.Where("?TableAlias.? = ?", bun.Ident(s.idColumn), q.ID)
	}
	if q.TenantID != uuid.Nil {
		query = query.Where("?TableAlias.? = ?", bun.Ident(s.tenantColumn), q.TenantID)
	}
	for _, criteria := range q.Criteria {
		if criteria != nil {
			query = criteria(query)
		}
	}
	return query
}

// model hands bun a single pointer to the record whether T is a struct or a
// pointer to one.
func model[T any](record *T) any {
	if reflect.TypeOf(record).Elem().Kind() == reflect.Ptr {
		return *record
	}
	return record
}

func idOf[T repositorycache.Entity](record T, q repositorycache.Query) uuid.UUID {
	if q.ID != uuid.Nil {
		return q.ID
	}
	return record.GetID()
}
