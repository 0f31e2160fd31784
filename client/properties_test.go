package qubesadmin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qubes-tools/qubesadmin/shared/api"
)

// testHolder returns a VM-scoped holder with caching enabled.
func testHolder(transport Transport) (*App, *PropertyHolder) {
	app := newTestApp(transport)
	vm := app.Domains.GetBlind("work")
	return app, vm.PropertyHolder
}

func TestGetPropertyBulkFetchAndCachedRead(t *testing.T) {
	transport := newMockTransport()
	transport.respond("work", "admin.vm.property.GetAll", "",
		"netvm\tD\tvm\tsys-firewall\nmemory\t-\tint\t400\n")

	_, h := testHolder(transport)

	value, err := h.GetProperty("memory")
	require.NoError(t, err)
	assert.Equal(t, int64(400), value.Int)

	// A second read of the same and of a sibling property is served from
	// the cache.
	value, err = h.GetProperty("memory")
	require.NoError(t, err)
	assert.Equal(t, int64(400), value.Int)

	value, err = h.GetProperty("netvm")
	require.NoError(t, err)
	require.NotNil(t, value.VM)
	assert.Equal(t, "sys-firewall", value.VM.Name())

	assert.Equal(t, 1, transport.callCount("work", "admin.vm.property.GetAll", ""))
	assert.Equal(t, 0, transport.callCount("work", "admin.vm.property.Get", "memory"))
}

func TestGetPropertyBulkFetchFallback(t *testing.T) {
	transport := newMockTransport()
	transport.respondError("work", "admin.vm.property.GetAll", "",
		"QubesException", "not allowed")
	transport.respond("work", "admin.vm.property.Get", "memory", "default=False type=int 400")
	transport.respond("work", "admin.vm.property.Get", "maxmem", "default=True type=int 4000")

	_, h := testHolder(transport)

	value, err := h.GetProperty("memory")
	require.NoError(t, err)
	assert.Equal(t, int64(400), value.Int)

	// The failed bulk fetch is not retried for later lookups.
	_, err = h.GetProperty("maxmem")
	require.NoError(t, err)
	assert.Equal(t, 1, transport.callCount("work", "admin.vm.property.GetAll", ""))

	// Individually fetched values are still cached.
	_, err = h.GetProperty("memory")
	require.NoError(t, err)
	assert.Equal(t, 1, transport.callCount("work", "admin.vm.property.Get", "memory"))
}

func TestSetPropertyThenRead(t *testing.T) {
	transport := newMockTransport()
	transport.respond("work", "admin.vm.property.Set", "memory", "")

	_, h := testHolder(transport)

	err := h.SetProperty("memory", IntValue(600))
	require.NoError(t, err)

	value, err := h.GetProperty("memory")
	require.NoError(t, err)
	assert.Equal(t, int64(600), value.Int)

	isDefault, err := h.PropertyIsDefault("memory")
	require.NoError(t, err)
	assert.False(t, isDefault)

	// The write populated the cache; no read round trip happened.
	assert.Equal(t, 0, transport.callCount("work", "admin.vm.property.Get", "memory"))
	assert.Equal(t, 0, transport.callCount("work", "admin.vm.property.GetAll", ""))
}

func TestResetPropertyMarksStale(t *testing.T) {
	transport := newMockTransport()
	transport.respond("work", "admin.vm.property.GetAll", "",
		"memory\t-\tint\t400\n")
	transport.respond("work", "admin.vm.property.Reset", "memory", "")
	transport.respond("work", "admin.vm.property.Get", "memory", "default=True type=int 4000")

	_, h := testHolder(transport)

	_, err := h.GetProperty("memory")
	require.NoError(t, err)

	err = h.ResetProperty("memory")
	require.NoError(t, err)

	// The holder is exhaustive, but a reset property is stale rather than
	// absent: exactly one refresh round trip.
	isDefault, err := h.PropertyIsDefault("memory")
	require.NoError(t, err)
	assert.True(t, isDefault)
	assert.Equal(t, 1, transport.callCount("work", "admin.vm.property.Get", "memory"))

	value, err := h.GetProperty("memory")
	require.NoError(t, err)
	assert.Equal(t, int64(4000), value.Int)
	assert.Equal(t, 1, transport.callCount("work", "admin.vm.property.Get", "memory"))
}

func TestExhaustiveShortCircuit(t *testing.T) {
	transport := newMockTransport()
	transport.respond("work", "admin.vm.property.GetAll", "",
		"memory\t-\tint\t400\n")

	_, h := testHolder(transport)

	_, err := h.GetProperty("memory")
	require.NoError(t, err)

	calls := len(transport.calls)
	_, err = h.GetProperty("no_such_property")
	require.Error(t, err)
	assert.True(t, api.IsPropertyAccess(err))

	// The complete bulk fetch proved the property doesn't exist; no round
	// trip happened.
	assert.Equal(t, calls, len(transport.calls))
}

func TestBulkFetchPartialCorruption(t *testing.T) {
	transport := newMockTransport()
	transport.respond("work", "admin.vm.property.GetAll", "",
		"memory\t-\tint\t400\nbroken line\nnetvm\tD\tvm\tsys-net\n")
	transport.respond("work", "admin.vm.property.Get", "other", "default=True type=str x")

	_, h := testHolder(transport)

	value, err := h.GetProperty("memory")
	require.NoError(t, err)
	assert.Equal(t, int64(400), value.Int)

	value, err = h.GetProperty("netvm")
	require.NoError(t, err)
	require.NotNil(t, value.VM)
	assert.Equal(t, "sys-net", value.VM.Name())

	// The corrupted batch left the holder non-exhaustive: unknown names
	// fall back to a per-property fetch instead of failing outright.
	_, err = h.GetProperty("other")
	require.NoError(t, err)
	assert.Equal(t, 1, transport.callCount("work", "admin.vm.property.Get", "other"))
}

func TestGetAllDefaultMarkers(t *testing.T) {
	transport := newMockTransport()
	transport.respond("work", "admin.vm.property.GetAll", "",
		"name\tD\tstr\tfoo\nother\tX\tint\t5\n")

	_, h := testHolder(transport)

	value, err := h.GetProperty("name")
	require.NoError(t, err)
	assert.Equal(t, "foo", value.Str)

	isDefault, err := h.PropertyIsDefault("name")
	require.NoError(t, err)
	assert.True(t, isDefault)

	value, err = h.GetProperty("other")
	require.NoError(t, err)
	assert.Equal(t, int64(5), value.Int)

	isDefault, err = h.PropertyIsDefault("other")
	require.NoError(t, err)
	assert.False(t, isDefault)
}

func TestGetAllEscapedStrings(t *testing.T) {
	transport := newMockTransport()
	transport.respond("work", "admin.vm.property.GetAll", "",
		`kernelopts	-	str	line one\nline two\ttabbed`+"\n")

	_, h := testHolder(transport)

	value, err := h.GetProperty("kernelopts")
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two\ttabbed", value.Str)
}

func TestGetPropertyCacheDisabled(t *testing.T) {
	transport := newMockTransport()
	transport.respond("work", "admin.vm.property.Get", "memory", "default=False type=int 123")

	app := newApp(transport, (&ConnectionArgs{}).fill())
	vm := app.Domains.GetBlind("work")

	value, err := vm.GetProperty("memory")
	require.NoError(t, err)
	assert.Equal(t, int64(123), value.Int)

	isDefault, err := vm.PropertyIsDefault("memory")
	require.NoError(t, err)
	assert.False(t, isDefault)

	// Every read bypasses the cache.
	assert.Equal(t, 2, transport.callCount("work", "admin.vm.property.Get", "memory"))
	assert.Equal(t, 0, transport.callCount("work", "admin.vm.property.GetAll", ""))
}

func TestDecodeValueQuirks(t *testing.T) {
	transport := newMockTransport()
	transport.respond("work", "admin.vm.property.Get", "stubdom_xid", "default=True type=int ")
	transport.respond("work", "admin.vm.property.Get", "debug", "default=True type=bool ")
	transport.respond("work", "admin.vm.property.Get", "netvm", "default=True type=vm ")
	transport.respond("work", "admin.vm.property.Get", "weird", "default=True type=moon 42")

	app := newApp(transport, (&ConnectionArgs{}).fill())
	vm := app.Domains.GetBlind("work")

	// Empty int is the documented null quirk, not an error.
	value, err := vm.GetProperty("stubdom_xid")
	require.NoError(t, err)
	assert.True(t, value.Null)

	// Empty bool is not decodable.
	_, err = vm.GetProperty("debug")
	require.Error(t, err)
	assert.True(t, api.IsPropertyAccess(err))

	// Empty vm reference means "none".
	value, err = vm.GetProperty("netvm")
	require.NoError(t, err)
	assert.True(t, value.Null)
	assert.Nil(t, value.VM)

	// Unknown kinds are a protocol-level failure.
	_, err = vm.GetProperty("weird")
	require.Error(t, err)
	assert.True(t, api.IsCommunicationError(err))
}

func TestGetPropertyDenied(t *testing.T) {
	transport := newMockTransport()
	transport.respondRaw("work", "admin.vm.property.Get", "secret", nil)
	transport.respondError("work", "admin.vm.property.Get", "gone",
		"QubesNoSuchPropertyError", "no such property: %s", "gone")

	app := newApp(transport, (&ConnectionArgs{}).fill())
	vm := app.Domains.GetBlind("work")

	// An empty response (policy denial) reads as property access failure.
	_, err := vm.GetProperty("secret")
	require.Error(t, err)
	assert.True(t, api.IsPropertyAccess(err))

	// So does a nonexistent property.
	_, err = vm.GetProperty("gone")
	require.Error(t, err)
	assert.True(t, api.IsPropertyAccess(err))
}

func TestClearCacheForgetsEverything(t *testing.T) {
	transport := newMockTransport()
	transport.respond("work", "admin.vm.property.GetAll", "",
		"memory\t-\tint\t400\n")

	_, h := testHolder(transport)

	_, err := h.GetProperty("memory")
	require.NoError(t, err)

	h.ClearCache()

	_, err = h.GetProperty("memory")
	require.NoError(t, err)
	assert.Equal(t, 2, transport.callCount("work", "admin.vm.property.GetAll", ""))
}

func TestPropertyList(t *testing.T) {
	transport := newMockTransport()
	transport.respond("work", "admin.vm.property.List", "", "memory\nnetvm\nname\n")

	_, h := testHolder(transport)

	names, err := h.PropertyList()
	require.NoError(t, err)
	assert.Equal(t, []string{"memory", "netvm", "name"}, names)

	// Cached.
	_, err = h.PropertyList()
	require.NoError(t, err)
	assert.Equal(t, 1, transport.callCount("work", "admin.vm.property.List", ""))
}

func TestCloneProperties(t *testing.T) {
	transport := newMockTransport()
	transport.respond("src", "admin.vm.property.Get", "memory", "default=False type=int 600")
	transport.respondError("src", "admin.vm.property.Get", "gone",
		"QubesNoSuchPropertyError", "no such property: %s", "gone")
	transport.respond("dst", "admin.vm.property.Set", "memory", "")

	app := newApp(transport, (&ConnectionArgs{}).fill())
	src := app.Domains.GetBlind("src")
	dst := app.Domains.GetBlind("dst")

	err := dst.CloneProperties(src.PropertyHolder, []string{"memory", "gone"})
	require.NoError(t, err)
	assert.Equal(t, 1, transport.callCount("dst", "admin.vm.property.Set", "memory"))
}

func TestPropertyGetDefault(t *testing.T) {
	transport := newMockTransport()
	transport.respond("work", "admin.vm.property.GetDefault", "memory", "type=int 4000")
	transport.respondRaw("work", "admin.vm.property.GetDefault", "name", []byte{0x30, 0x00})

	_, h := testHolder(transport)

	value, err := h.PropertyGetDefault("memory")
	require.NoError(t, err)
	assert.Equal(t, int64(4000), value.Int)

	// A property with no default reads as access failure.
	_, err = h.PropertyGetDefault("name")
	require.Error(t, err)
	assert.True(t, api.IsPropertyAccess(err))
}
