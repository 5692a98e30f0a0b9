package repositorycache

import (
	"context"

	"github.com/goliatone/attendance-core/tenant"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TenantAware is an entity owned by a tenant. WithTenant returns a copy of
// the entity stamped with id.
type TenantAware[T any] interface {
	Entity
	GetTenantID() uuid.UUID
	WithTenant(id uuid.UUID) T
}

// TenantRepository scopes a CachedRepository to the tenant active on the
// request context. Without an active tenant it behaves like the wrapped
// repository, which is how platform and admin callers see every tenant.
type TenantRepository[T TenantAware[T]] struct {
	base    *CachedRepository[T]
	resolve tenant.Resolver
}

// NewTenant wraps base. The tenant is read with tenant.FromContext unless
// resolver is non nil.
func NewTenant[T TenantAware[T]](base *CachedRepository[T], resolver tenant.Resolver) *TenantRepository[T] {
	if resolver == nil {
		resolver = tenant.FromContext
	}
	return &TenantRepository[T]{base: base, resolve: resolver}
}

// Base returns the unscoped repository.
func (r *TenantRepository[T]) Base() *CachedRepository[T] {
	return r.base
}

// scope resolves the active tenant once for the calling operation.
func (r *TenantRepository[T]) scope(ctx context.Context) Scope {
	id, ok := r.resolve(ctx)
	if !ok {
		return Scope{}
	}
	return Scope{TenantID: id}
}

// GetByID returns the entity with id if it belongs to the active tenant.
func (r *TenantRepository[T]) GetByID(ctx context.Context, id uuid.UUID) (T, bool, error) {
	return r.base.GetByIDIn(ctx, r.scope(ctx), id)
}

// GetAll returns the active tenant's entities.
func (r *TenantRepository[T]) GetAll(ctx context.Context) ([]T, error) {
	return r.base.GetAllIn(ctx, r.scope(ctx))
}

// GetPaged returns one page of the active tenant's entities.
func (r *TenantRepository[T]) GetPaged(ctx context.Context, page, pageSize int) ([]T, error) {
	return r.base.GetPagedIn(ctx, r.scope(ctx), page, pageSize)
}

// Find evaluates criteria within the active tenant.
func (r *TenantRepository[T]) Find(ctx context.Context, criteria ...Criteria) ([]T, error) {
	return r.base.FindIn(ctx, r.scope(ctx), criteria...)
}

// Count counts the active tenant's entities.
func (r *TenantRepository[T]) Count(ctx context.Context) (int, error) {
	return r.base.CountIn(ctx, r.scope(ctx))
}

// Exists reports whether id exists within the active tenant.
func (r *TenantRepository[T]) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	return r.base.ExistsIn(ctx, r.scope(ctx), id)
}

// Add stamps the active tenant on entities that carry none. An entity owned
// by another tenant is refused before anything is staged.
func (r *TenantRepository[T]) Add(ctx context.Context, entity T) (T, error) {
	scope := r.scope(ctx)
	if scope.scoped() {
		switch owner := entity.GetTenantID(); owner {
		case uuid.Nil:
			entity = entity.WithTenant(scope.TenantID)
		case scope.TenantID:
		default:
			r.base.logger.Warn("repository: refusing cross tenant insert",
				zap.Stringer("tenant_id", scope.TenantID),
				zap.Stringer("owner", owner),
			)
			var zero T
			return zero, ErrTenantMismatch
		}
	}
	return r.base.Add(ctx, entity)
}

// Update stages the update of an entity of the active tenant. The UPDATE is
// itself restricted to the tenant's rows.
func (r *TenantRepository[T]) Update(ctx context.Context, entity T) (T, error) {
	scope := r.scope(ctx)
	if scope.scoped() {
		switch owner := entity.GetTenantID(); owner {
		case uuid.Nil:
			entity = entity.WithTenant(scope.TenantID)
		case scope.TenantID:
		default:
			var zero T
			return zero, ErrTenantMismatch
		}
	}
	return r.base.UpdateIn(ctx, scope, entity)
}

// Delete stages the removal of id if it belongs to the active tenant.
func (r *TenantRepository[T]) Delete(ctx context.Context, id uuid.UUID) error {
	return r.base.DeleteIn(ctx, r.scope(ctx), id)
}

// GetByTenant returns every entity of tenantID regardless of the context.
func (r *TenantRepository[T]) GetByTenant(ctx context.Context, tenantID uuid.UUID) ([]T, error) {
	if tenantID == uuid.Nil {
		return nil, ErrMissingTenant
	}
	return r.base.GetAllIn(ctx, Scope{TenantID: tenantID})
}

// GetByIDAndTenant returns id only if it belongs to tenantID.
func (r *TenantRepository[T]) GetByIDAndTenant(ctx context.Context, id, tenantID uuid.UUID) (T, bool, error) {
	if tenantID == uuid.Nil {
		var zero T
		return zero, false, ErrMissingTenant
	}
	return r.base.GetByIDIn(ctx, Scope{TenantID: tenantID}, id)
}
