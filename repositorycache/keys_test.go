package repositorycache

import (
	"strings"
	"testing"

	"github.com/goliatone/attendance-core/cache"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

type AttendanceRecord struct{}

type HTTPSession struct{}

func TestToSnake(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "AttendanceRecord", want: "attendance_record"},
		{in: "HTTPSession", want: "http_session"},
		{in: "Shift2Swap", want: "shift_2_swap"},
		{in: "*pkg.Type[int]", want: "pkg_type_int"},
		{in: "already_snake", want: "already_snake"},
		{in: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, toSnake(tt.in))
		})
	}
}

func TestNamespaceFor(t *testing.T) {
	assert.Equal(t, "attendance_record", namespaceFor[AttendanceRecord](), "value type")
	assert.Equal(t, "attendance_record", namespaceFor[*AttendanceRecord](), "pointer type")
	assert.Equal(t, "http_session", namespaceFor[HTTPSession](), "acronym")
}

func TestKeyspace_Layout(t *testing.T) {
	keys := keyspace{namespace: "attendance_record", serializer: cache.NewDefaultKeySerializer()}
	id := uuid.MustParse("11111111-1111-4111-8111-111111111111")
	tid := uuid.MustParse("22222222-2222-4222-8222-222222222222")
	scoped := Scope{TenantID: tid}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{name: "entity", got: keys.entity(id, Scope{}), want: "attendance_record::entity::" + id.String()},
		{name: "scoped entity", got: keys.entity(id, scoped), want: "attendance_record::entity::" + id.String() + "::tenant::" + tid.String()},
		{name: "all", got: keys.all(Scope{}), want: "attendance_record::view::all"},
		{name: "scoped all", got: keys.all(scoped), want: "attendance_record::view::tenant::" + tid.String() + "::all"},
		{name: "page", got: keys.page(Scope{}, 2, 25), want: "attendance_record::view::page::2::25"},
		{name: "count", got: keys.count(Scope{}), want: "attendance_record::view::count::all"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
		})
	}
}

func TestKeyspace_PrefixesCoverEveryVariant(t *testing.T) {
	keys := keyspace{namespace: "shift", serializer: cache.NewDefaultKeySerializer()}
	id := uuid.New()
	scoped := Scope{TenantID: uuid.New()}

	for _, key := range []string{keys.entity(id, Scope{}), keys.entity(id, scoped)} {
		assert.True(t, strings.HasPrefix(key, keys.entityPrefix(id)), "%q not covered by entity prefix", key)
	}
	for _, key := range []string{
		keys.all(Scope{}), keys.all(scoped),
		keys.page(Scope{}, 1, 10), keys.page(scoped, 1, 10),
		keys.count(Scope{}), keys.count(scoped),
	} {
		assert.True(t, strings.HasPrefix(key, keys.viewPrefix()), "%q not covered by view prefix", key)
	}
	assert.False(t, strings.HasPrefix(keys.entity(id, Scope{}), keys.viewPrefix()), "entity keys must not fall under the view prefix")
}
