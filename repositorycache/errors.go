package repositorycache

import "errors"

var (
	// ErrMissingID is returned when an entity without an id is written.
	ErrMissingID = errors.New("repositorycache: entity id is required")

	// ErrInvalidPagination is returned for page or page size below 1.
	ErrInvalidPagination = errors.New("repositorycache: page and page size must be at least 1")

	// ErrTenantMismatch is returned when an entity belongs to a tenant other
	// than the active one.
	ErrTenantMismatch = errors.New("repositorycache: entity belongs to a different tenant")

	// ErrMissingTenant is returned by tenant scoped lookups given uuid.Nil.
	ErrMissingTenant = errors.New("repositorycache: tenant id is required")
)
