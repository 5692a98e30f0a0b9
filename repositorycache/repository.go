package repositorycache

import (
	"context"
	"time"

	"github.com/goliatone/attendance-core/cache"
	"github.com/goliatone/attendance-core/internal/retry"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// DefaultTTL is how long repository reads stay cached.
const DefaultTTL = 5 * time.Minute

// Repository is the generic data access contract for one entity type.
type Repository[T Entity] interface {
	GetByID(ctx context.Context, id uuid.UUID) (T, bool, error)
	GetAll(ctx context.Context) ([]T, error)
	GetPaged(ctx context.Context, page, pageSize int) ([]T, error)
	Find(ctx context.Context, criteria ...Criteria) ([]T, error)
	Count(ctx context.Context) (int, error)
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
	Add(ctx context.Context, entity T) (T, error)
	Update(ctx context.Context, entity T) (T, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// Scope restricts an operation to one tenant. The zero Scope is unscoped.
type Scope struct {
	TenantID uuid.UUID
}

func (s Scope) scoped() bool {
	return s.TenantID != uuid.Nil
}

func (s Scope) query() Query {
	return Query{TenantID: s.TenantID}
}

// CachedRepository implements Repository with cache-aside reads over a Store
// and writes staged in a Session.
type CachedRepository[T Entity] struct {
	session Session
	store   Store[T]
	cache   cache.CacheService
	keys    keyspace
	ttl     time.Duration
	policy  retry.Policy
	logger  *zap.Logger
}

// Option configures a CachedRepository.
type Option func(*options)

type options struct {
	ttl       time.Duration
	policy    *retry.Policy
	logger    *zap.Logger
	namespace string
}

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		o.ttl = ttl
	}
}

// WithRetryPolicy sets the policy applied to reads outside a transaction.
func WithRetryPolicy(p retry.Policy) Option {
	return func(o *options) {
		o.policy = &p
	}
}

// WithLogger sets the repository logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithNamespace overrides the cache namespace derived from the type name.
func WithNamespace(ns string) Option {
	return func(o *options) {
		o.namespace = ns
	}
}

// New creates a CachedRepository for T.
func New[T Entity](session Session, store Store[T], cacheService cache.CacheService, keySerializer cache.KeySerializer, opts ...Option) *CachedRepository[T] {
	o := &options{ttl: DefaultTTL}
	for _, opt := range opts {
		opt(o)
	}
	if o.namespace == "" {
		o.namespace = namespaceFor[T]()
	}
	if keySerializer == nil {
		keySerializer = cache.NewDefaultKeySerializer()
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	policy := retry.DefaultPolicy()
	if o.policy != nil {
		policy = *o.policy
	}

	return &CachedRepository[T]{
		session: session,
		store:   store,
		cache:   cacheService,
		keys:    keyspace{namespace: o.namespace, serializer: keySerializer},
		ttl:     o.ttl,
		policy:  policy,
		logger:  o.logger.With(zap.String("namespace", o.namespace)),
	}
}

// Namespace returns the cache namespace of this repository.
func (r *CachedRepository[T]) Namespace() string {
	return r.keys.namespace
}

// GetByID returns the entity with id. A missing entity is (zero, false, nil).
func (r *CachedRepository[T]) GetByID(ctx context.Context, id uuid.UUID) (T, bool, error) {
	return r.GetByIDIn(ctx, Scope{}, id)
}

// GetByIDIn is GetByID restricted to scope.
func (r *CachedRepository[T]) GetByIDIn(ctx context.Context, scope Scope, id uuid.UUID) (T, bool, error) {
	var zero T
	if id == uuid.Nil {
		return zero, false, nil
	}

	q := scope.query()
	q.ID = id
	q.Limit = 1
	return r.loadOne(ctx, r.keys.entity(id, scope), q)
}

// GetAll returns every entity.
func (r *CachedRepository[T]) GetAll(ctx context.Context) ([]T, error) {
	return r.GetAllIn(ctx, Scope{})
}

// GetAllIn is GetAll restricted to scope.
func (r *CachedRepository[T]) GetAllIn(ctx context.Context, scope Scope) ([]T, error) {
	return r.loadMany(ctx, r.keys.all(scope), scope.query())
}

// GetPaged returns page (1-based) of pageSize entities ordered by id. A page
// past the end is empty.
func (r *CachedRepository[T]) GetPaged(ctx context.Context, page, pageSize int) ([]T, error) {
	return r.GetPagedIn(ctx, Scope{}, page, pageSize)
}

// GetPagedIn is GetPaged restricted to scope.
func (r *CachedRepository[T]) GetPagedIn(ctx context.Context, scope Scope, page, pageSize int) ([]T, error) {
	if page < 1 || pageSize < 1 {
		return nil, ErrInvalidPagination
	}

	q := scope.query()
	q.Limit = pageSize
	q.Offset = (page - 1) * pageSize
	return r.loadMany(ctx, r.keys.page(scope, page, pageSize), q)
}

// Find returns the entities matching criteria. Results are never cached.
func (r *CachedRepository[T]) Find(ctx context.Context, criteria ...Criteria) ([]T, error) {
	return r.FindIn(ctx, Scope{}, criteria...)
}

// FindIn is Find restricted to scope.
func (r *CachedRepository[T]) FindIn(ctx context.Context, scope Scope, criteria ...Criteria) ([]T, error) {
	q := scope.query()
	q.Criteria = criteria

	var records []T
	err := r.read(ctx, "find", func(ctx context.Context) error {
		var err error
		records, err = r.store.Select(ctx, r.session.IDB(), q)
		return err
	})
	if err != nil {
		return nil, err
	}
	return normalize(records), nil
}

// Count returns the number of entities.
func (r *CachedRepository[T]) Count(ctx context.Context) (int, error) {
	return r.CountIn(ctx, Scope{})
}

// CountIn is Count restricted to scope.
func (r *CachedRepository[T]) CountIn(ctx context.Context, scope Scope) (int, error) {
	key := r.keys.count(scope)
	cacheable := !r.session.InTransaction()

	if cacheable {
		var cached int
		if r.cache.Get(ctx, key, &cached) {
			return cached, nil
		}
	}

	generation := r.cache.Generation()
	var count int
	err := r.read(ctx, "count", func(ctx context.Context) error {
		var err error
		count, err = r.store.Count(ctx, r.session.IDB(), scope.query())
		return err
	})
	if err != nil {
		return 0, err
	}
	if cacheable {
		r.cache.SetIfUnchanged(ctx, key, count, r.ttl, generation)
	}
	return count, nil
}

// Exists reports whether an entity with id exists without loading it.
func (r *CachedRepository[T]) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	return r.ExistsIn(ctx, Scope{}, id)
}

// ExistsIn is Exists restricted to scope.
func (r *CachedRepository[T]) ExistsIn(ctx context.Context, scope Scope, id uuid.UUID) (bool, error) {
	if id == uuid.Nil {
		return false, nil
	}

	q := scope.query()
	q.ID = id

	var exists bool
	err := r.read(ctx, "exists", func(ctx context.Context) error {
		var err error
		exists, err = r.store.Exists(ctx, r.session.IDB(), q)
		return err
	})
	return exists, err
}

// Add stages the insert of entity in the session and invalidates the views
// it affects. The row is written when the session saves its changes.
func (r *CachedRepository[T]) Add(ctx context.Context, entity T) (T, error) {
	if err := ctx.Err(); err != nil {
		var zero T
		return zero, err
	}
	id := entity.GetID()
	if id == uuid.Nil {
		var zero T
		return zero, ErrMissingID
	}

	r.session.Stage(func(ctx context.Context, db bun.IDB) (int64, error) {
		return r.store.Insert(ctx, db, entity)
	})
	r.invalidate(ctx, id)
	return entity, nil
}

// Update stages the update of entity.
func (r *CachedRepository[T]) Update(ctx context.Context, entity T) (T, error) {
	return r.UpdateIn(ctx, Scope{}, entity)
}

// UpdateIn is Update restricted to rows of scope.
func (r *CachedRepository[T]) UpdateIn(ctx context.Context, scope Scope, entity T) (T, error) {
	if err := ctx.Err(); err != nil {
		var zero T
		return zero, err
	}
	id := entity.GetID()
	if id == uuid.Nil {
		var zero T
		return zero, ErrMissingID
	}

	q := scope.query()
	q.ID = id
	r.session.Stage(func(ctx context.Context, db bun.IDB) (int64, error) {
		return r.store.Update(ctx, db, entity, q)
	})
	r.invalidate(ctx, id)
	return entity, nil
}

// Delete stages the removal of the entity with id. Deleting a missing entity
// is a no-op.
func (r *CachedRepository[T]) Delete(ctx context.Context, id uuid.UUID) error {
	return r.DeleteIn(ctx, Scope{}, id)
}

// DeleteIn is Delete restricted to scope.
func (r *CachedRepository[T]) DeleteIn(ctx context.Context, scope Scope, id uuid.UUID) error {
	entity, found, err := r.GetByIDIn(ctx, scope, id)
	if err != nil || !found {
		return err
	}
	return r.remove(ctx, scope, entity)
}

// Remove stages the removal of entity without loading it first.
func (r *CachedRepository[T]) Remove(ctx context.Context, entity T) error {
	return r.remove(ctx, Scope{}, entity)
}

func (r *CachedRepository[T]) remove(ctx context.Context, scope Scope, entity T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id := entity.GetID()
	if id == uuid.Nil {
		return ErrMissingID
	}

	q := scope.query()
	q.ID = id
	r.session.Stage(func(ctx context.Context, db bun.IDB) (int64, error) {
		return r.store.Delete(ctx, db, entity, q)
	})
	r.invalidate(ctx, id)
	return nil
}

// invalidate drops every key a write to id can make stale, now and again
// once the session commits, so a read that lands between staging and commit
// cannot keep the old value cached.
func (r *CachedRepository[T]) invalidate(ctx context.Context, id uuid.UUID) {
	r.evict(ctx, id)
	r.session.AfterCommit(func(ctx context.Context) {
		r.evict(ctx, id)
	})
}

func (r *CachedRepository[T]) evict(ctx context.Context, id uuid.UUID) {
	r.cache.RemoveByPattern(ctx, r.keys.entityPrefix(id))
	r.cache.RemoveByPattern(ctx, r.keys.viewPrefix())
}

func (r *CachedRepository[T]) loadOne(ctx context.Context, key string, q Query) (T, bool, error) {
	var zero T
	cacheable := !r.session.InTransaction()

	if cacheable {
		var cached T
		if r.cache.Get(ctx, key, &cached) {
			return cached, true, nil
		}
	}

	generation := r.cache.Generation()
	var records []T
	err := r.read(ctx, "get", func(ctx context.Context) error {
		var err error
		records, err = r.store.Select(ctx, r.session.IDB(), q)
		return err
	})
	if err != nil {
		return zero, false, err
	}
	if len(records) == 0 {
		return zero, false, nil
	}

	if cacheable {
		r.cache.SetIfUnchanged(ctx, key, records[0], r.ttl, generation)
	}
	return records[0], true, nil
}

func (r *CachedRepository[T]) loadMany(ctx context.Context, key string, q Query) ([]T, error) {
	cacheable := !r.session.InTransaction()

	if cacheable {
		var cached []T
		if r.cache.Get(ctx, key, &cached) {
			return normalize(cached), nil
		}
	}

	generation := r.cache.Generation()
	var records []T
	err := r.read(ctx, "list", func(ctx context.Context) error {
		var err error
		records, err = r.store.Select(ctx, r.session.IDB(), q)
		return err
	})
	if err != nil {
		return nil, err
	}

	records = normalize(records)
	if cacheable {
		r.cache.SetIfUnchanged(ctx, key, records, r.ttl, generation)
	}
	return records, nil
}

// read runs a store read, retrying transient failures unless a transaction
// is open; a failed statement aborts the transaction so retrying it there
// cannot succeed.
func (r *CachedRepository[T]) read(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if r.session.InTransaction() {
		return fn(ctx)
	}
	return retry.Do(ctx, r.policy, fn, func(err error, attempt int, next time.Duration) {
		r.logger.Warn("repository: retrying read",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", next),
			zap.Error(err),
		)
	})
}

func normalize[T any](records []T) []T {
	if records == nil {
		return []T{}
	}
	return records
}
