package repositorycache

import (
	"reflect"
	"strconv"
	"strings"
	"unicode"

	"github.com/goliatone/attendance-core/cache"
	"github.com/google/uuid"
)

const (
	segmentEntity = "entity"
	segmentView   = "view"
	segmentTenant = "tenant"
	segmentAll    = "all"
	segmentPage   = "page"
	segmentCount  = "count"
)

// keyspace names every cache entry owned by one entity type.
//
//	<ns>::entity::<id>[::tenant::<tid>]
//	<ns>::view::[tenant::<tid>::]all
//	<ns>::view::[tenant::<tid>::]page::<page>::<size>
//	<ns>::view::[tenant::<tid>::]count::all
type keyspace struct {
	namespace  string
	serializer cache.KeySerializer
}

func (k keyspace) entity(id uuid.UUID, scope Scope) string {
	if scope.scoped() {
		return k.serializer.SerializeKey(k.namespace, segmentEntity, id, segmentTenant, scope.TenantID)
	}
	return k.serializer.SerializeKey(k.namespace, segmentEntity, id)
}

// entityPrefix covers the unscoped and every tenant scoped key of id.
func (k keyspace) entityPrefix(id uuid.UUID) string {
	return k.serializer.SerializeKey(k.namespace, segmentEntity, id)
}

func (k keyspace) view(scope Scope, segments ...any) string {
	parts := make([]any, 0, len(segments)+3)
	parts = append(parts, segmentView)
	if scope.scoped() {
		parts = append(parts, segmentTenant, scope.TenantID)
	}
	parts = append(parts, segments...)
	return k.serializer.SerializeKey(k.namespace, parts...)
}

func (k keyspace) all(scope Scope) string {
	return k.view(scope, segmentAll)
}

func (k keyspace) page(scope Scope, page, size int) string {
	return k.view(scope, segmentPage, strconv.Itoa(page), strconv.Itoa(size))
}

func (k keyspace) count(scope Scope) string {
	return k.view(scope, segmentCount, segmentAll)
}

// viewPrefix covers every list, page and count view, scoped or not.
func (k keyspace) viewPrefix() string {
	return k.serializer.SerializeKey(k.namespace, segmentView) + cache.KeySeparator
}

// namespaceFor derives the key namespace from the entity type name, so
// *AttendanceRecord becomes attendance_record.
func namespaceFor[T any]() string {
	t := reflect.TypeOf((*T)(nil)).Elem()
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	name := toSnake(t.Name())
	if name == "" {
		name = toSnake(t.String())
	}
	return name
}

// toSnake converts the provided string to snake_case using ASCII-aware rules.
// Punctuation from reflected type names (pointers, generic suffixes) is
// stripped so the namespace stays safe for prefix invalidation.
func toSnake(s string) string {
	if s == "" {
		return ""
	}

	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(runes) + len(runes)/2)

	lastUnderscore := false

	for i := 0; i < len(runes); i++ {
		r := runes[i]

		switch {
		case unicode.IsUpper(r):
			if b.Len() > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if (unicode.IsLower(prev) || unicode.IsDigit(prev) || nextLower) && !lastUnderscore {
					b.WriteByte('_')
					lastUnderscore = true
				}
			}
			b.WriteRune(unicode.ToLower(r))
			lastUnderscore = false

		case unicode.IsLower(r):
			b.WriteRune(r)
			lastUnderscore = false

		case unicode.IsDigit(r):
			if b.Len() > 0 {
				prev := runes[i-1]
				if !unicode.IsDigit(prev) && prev != '_' && !lastUnderscore {
					b.WriteByte('_')
				}
			}
			b.WriteRune(r)
			lastUnderscore = false

		case r == '_':
			if !lastUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				lastUnderscore = true
			}

		case r == '-' || unicode.IsSpace(r):
			if !lastUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				lastUnderscore = true
			}

		default:
			if !lastUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}

	return strings.Trim(b.String(), "_")
}
