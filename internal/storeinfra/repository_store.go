package storeinfra

import (
	"context"

	"github.com/goliatone/attendance-core/repositorycache"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// RepositoryStore adapts a go-repository-bun repository to
// repositorycache.Store, so models already served by that library can sit
// behind the cached repositories.
type RepositoryStore[T repositorycache.Entity] struct {
	repo         repository.Repository[T]
	idColumn     string
	tenantColumn string
}

// NewRepositoryStore wraps repo.
func NewRepositoryStore[T repositorycache.Entity](repo repository.Repository[T], opts ...BunStoreOption) *RepositoryStore[T] {
	cfg := bunStoreConfig{idColumn: defaultIDColumn, tenantColumn: defaultTenantColumn}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &RepositoryStore[T]{repo: repo, idColumn: cfg.idColumn, tenantColumn: cfg.tenantColumn}
}

func (s *RepositoryStore[T]) Select(ctx context.Context, db bun.IDB, q repositorycache.Query) ([]T, error) {
	criteria := append(s.selectCriteria(q), func(sq *bun.SelectQuery) *bun.SelectQuery {
		sq = sq.OrderExpr("?TableAlias.? ASC", bun.Ident(s.idColumn))
		if q.Limit > 0 {
			sq = sq.Limit(q.Limit)
		}
		if q.Offset > 0 {
			sq = sq.Offset(q.Offset)
		}
		return sq
	})

	records, _, err := s.repo.ListTx(ctx, db, criteria...)
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []T{}
	}
	return records, nil
}

func (s *RepositoryStore[T]) Count(ctx context.Context, db bun.IDB, q repositorycache.Query) (int, error) {
	return s.repo.CountTx(ctx, db, s.selectCriteria(q)...)
}

func (s *RepositoryStore[T]) Exists(ctx context.Context, db bun.IDB, q repositorycache.Query) (bool, error) {
	n, err := s.repo.CountTx(ctx, db, s.selectCriteria(q)...)
	return n > 0, err
}

func (s *RepositoryStore[T]) Insert(ctx context.Context, db bun.IDB, record T) (int64, error) {
	if _, err := s.repo.CreateTx(ctx, db, record); err != nil {
		return 0, err
	}
	return 1, nil
}

// Update reports one affected row on success; the wrapped repository does
// not expose the driver's count.
func (s *RepositoryStore[T]) Update(ctx context.Context, db bun.IDB, record T, q repositorycache.Query) (int64, error) {
	var criteria []repository.UpdateCriteria
	if q.TenantID != uuid.Nil {
		criteria = append(criteria, func(uq *bun.UpdateQuery) *bun.UpdateQuery {
			return uq.Where("? = ?", bun.Ident(s.tenantColumn), q.TenantID)
		})
	}
	if _, err := s.repo.UpdateTx(ctx, db, record, criteria...); err != nil {
		return 0, err
	}
	return 1, nil
}

func (s *RepositoryStore[T]) Delete(ctx context.Context, db bun.IDB, record T, q repositorycache.Query) (int64, error) {
	id := q.ID
	if id == uuid.Nil {
		id = record.GetID()
	}

	criteria := []repository.DeleteCriteria{
		func(dq *bun.DeleteQuery) *bun.DeleteQuery {
			return dq.Where("? = ?", bun.Ident(s.idColumn), id)
		},
	}
	if q.TenantID != uuid.Nil {
		criteria = append(criteria, func(dq *bun.DeleteQuery) *bun.DeleteQuery {
			return dq.Where("? = ?", bun.Ident(s.tenantColumn), q.TenantID)
		})
	}
	if err := s.repo.DeleteWhereTx(ctx, db, criteria...); err != nil {
		return 0, err
	}
	return 1, nil
}

func (s *RepositoryStore[T]) selectCriteria(q repositorycache.Query) []repository.SelectCriteria {
	var criteria []repository.SelectCriteria
	if q.ID != uuid.Nil {
		criteria = append(criteria, func(sq *bun.SelectQuery) *bun.SelectQuery {
			return sq.Where("?TableAlias.? = ?", bun.Ident(s.idColumn), q.ID)
		})
	}
	if q.TenantID != uuid.Nil {
		criteria = append(criteria, func(sq *bun.SelectQuery) *bun.SelectQuery {
			return sq.Where("?TableAlias.? = ?", bun.Ident(s.tenantColumn), q.TenantID)
		})
	}
	for _, c := range q.Criteria {
		if c != nil {
			criteria = append(criteria, repository.SelectCriteria(c))
		}
	}
	return criteria
}
