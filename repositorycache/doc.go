// Package repositorycache provides generic cached repositories over a
// relational Store.
//
// # Overview
//
// CachedRepository[T] serves reads cache-aside from a cache.CacheService and
// stages writes in a Session (normally a unitofwork.UnitOfWork).
// TenantRepository[T] wraps it and confines every call to the tenant found
// on the request context.
//
//	uow := unitofwork.New(db, storeinfra.NewBeginner(db))
//	records := repositorycache.New(uow, storeinfra.NewBunStore[*Record](), cacheService, nil)
//	scoped := repositorycache.NewTenant(records, nil)
//
//	err := uow.Do(ctx, func(ctx context.Context) error {
//		_, err := scoped.Add(ctx, record)
//		return err
//	})
//
// # Cached vs pass-through reads
//
// GetByID, GetAll, GetPaged and Count are cached. Find and Exists always go
// to the store. While the session has an open transaction every read goes to
// the transaction and nothing is cached, so uncommitted rows never leak.
// Reads outside a transaction retry transient store failures.
//
// # Keys and invalidation
//
// Keys live under a namespace derived from the entity type
// (*AttendanceRecord becomes attendance_record):
//
//	attendance_record::entity::<id>
//	attendance_record::entity::<id>::tenant::<tenant>
//	attendance_record::view::all
//	attendance_record::view::tenant::<tenant>::page::<page>::<size>
//	attendance_record::view::count::all
//
// Every write removes the entity's keys and the whole view prefix when it is
// staged and again after commit. Invalidation is per entity type, not per
// tenant, so a write by one tenant also drops other tenants' views.
//
// A read samples the cache generation before going to the store and only
// publishes its result if nothing was invalidated meanwhile.
//
// # Errors
//
// A missing entity is reported as (zero, false, nil), never as an error.
// Store errors propagate unchanged. Cache failures are absorbed by the cache.
package repositorycache
