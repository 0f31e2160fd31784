package qubesadmin

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qubes-tools/qubesadmin/shared/api"
)

// record builds one wire-format event record.
func record(subject string, event string, kv ...string) []byte {
	var buf bytes.Buffer
	buf.WriteString("1\x00")
	buf.WriteString(subject)
	buf.WriteByte(0x00)
	buf.WriteString(event)
	buf.WriteByte(0x00)
	for _, field := range kv {
		buf.WriteString(field)
		buf.WriteByte(0x00)
	}

	buf.WriteByte(0x00) // empty key ends the record
	return buf.Bytes()
}

func TestReadEvent(t *testing.T) {
	reader := bufio.NewReader(bytes.NewReader(
		record("work", "domain-start", "start_guid", "True")))

	event, err := readEvent(reader)
	require.NoError(t, err)
	assert.Equal(t, "work", event.Subject)
	assert.Equal(t, "domain-start", event.Name)
	assert.Equal(t, map[string]string{"start_guid": "True"}, event.Data)

	_, err = readEvent(reader)
	assert.Equal(t, io.EOF, err)
}

func TestReadEventGlobal(t *testing.T) {
	reader := bufio.NewReader(bytes.NewReader(record("", "domain-add")))

	event, err := readEvent(reader)
	require.NoError(t, err)
	assert.Empty(t, event.Subject)
	assert.Equal(t, "domain-add", event.Name)
	assert.Empty(t, event.Data)
}

func TestReadEventBadTag(t *testing.T) {
	reader := bufio.NewReader(bytes.NewReader([]byte("2\x00whatever\x00")))

	_, err := readEvent(reader)
	require.Error(t, err)
	assert.True(t, api.IsCommunicationError(err))
}

func TestReadEventTruncated(t *testing.T) {
	// Stream ends in the middle of a record.
	reader := bufio.NewReader(bytes.NewReader([]byte("1\x00work\x00domain-sta")))

	_, err := readEvent(reader)
	require.Error(t, err)
	assert.True(t, api.IsCommunicationError(err))
}

func TestDispatchOrderAndPanicGuard(t *testing.T) {
	transport := newMockTransport()
	app := newTestApp(transport)
	dispatcher := NewEventsDispatcher(app)

	var order []string
	_, err := dispatcher.AddHandler("domain-spawn", func(subject *VM, event api.Event) {
		order = append(order, "exact")
		panic("boom")
	})
	require.NoError(t, err)

	wildcard, err := dispatcher.AddHandler("*", func(subject *VM, event api.Event) {
		order = append(order, "wildcard")
	})
	require.NoError(t, err)

	dispatcher.handle(api.Event{Subject: "work", Name: "domain-spawn"})

	// Exact-name handlers fire first and a panicking handler does not
	// block the rest.
	assert.Equal(t, []string{"exact", "wildcard"}, order)

	err = dispatcher.RemoveHandler(wildcard)
	require.NoError(t, err)

	dispatcher.handle(api.Event{Subject: "work", Name: "domain-spawn"})
	assert.Equal(t, []string{"exact", "wildcard", "exact"}, order)
}

func TestDispatchGlobPattern(t *testing.T) {
	transport := newMockTransport()
	app := newTestApp(transport)
	dispatcher := NewEventsDispatcher(app)

	var seen []string
	_, err := dispatcher.AddHandler("property-set:*", func(subject *VM, event api.Event) {
		seen = append(seen, event.Name)
	})
	require.NoError(t, err)

	dispatcher.handle(api.Event{Subject: "work", Name: "property-set:netvm"})
	dispatcher.handle(api.Event{Subject: "work", Name: "domain-start"})
	dispatcher.handle(api.Event{Subject: "work", Name: "property-reset:netvm"})

	assert.Equal(t, []string{"property-set:netvm"}, seen)
}

func TestDispatchPropertyInvalidation(t *testing.T) {
	transport := newMockTransport()
	transport.respond("work", "admin.vm.property.GetAll", "",
		"memory\t-\tint\t400\n")
	transport.respond("work", "admin.vm.property.Get", "memory", "default=False type=int 600")

	app := newTestApp(transport)
	vm := app.Domains.GetBlind("work")

	value, err := vm.GetProperty("memory")
	require.NoError(t, err)
	assert.Equal(t, int64(400), value.Int)

	dispatcher := NewEventsDispatcher(app)
	dispatcher.handle(api.Event{
		Subject: "work",
		Name:    "property-set:memory",
		Data:    map[string]string{"name": "memory", "newvalue": "600"},
	})

	// The cached value was dropped; the next read refetches.
	value, err = vm.GetProperty("memory")
	require.NoError(t, err)
	assert.Equal(t, int64(600), value.Int)
	assert.Equal(t, 1, transport.callCount("work", "admin.vm.property.Get", "memory"))
}

func TestDispatchDomainListInvalidation(t *testing.T) {
	transport := newMockTransport()
	transport.respond("dom0", "admin.vm.List", "", "work class=AppVM state=Running\n")

	app := newTestApp(transport)

	_, err := app.Domains.Names()
	require.NoError(t, err)

	dispatcher := NewEventsDispatcher(app)
	dispatcher.handle(api.Event{Name: "domain-add", Data: map[string]string{"vm": "new"}})

	_, err = app.Domains.Names()
	require.NoError(t, err)
	assert.Equal(t, 2, transport.callCount("dom0", "admin.vm.List", ""))
}

func TestDispatchPowerStateCache(t *testing.T) {
	transport := newMockTransport()
	app := newTestApp(transport)
	vm := app.Domains.GetBlind("work")

	dispatcher := NewEventsDispatcher(app)
	dispatcher.handle(api.Event{Subject: "work", Name: "domain-start"})

	// The event-fed state is served without any round trip.
	state, err := vm.PowerState()
	require.NoError(t, err)
	assert.Equal(t, PowerStateRunning, state)
	assert.Empty(t, transport.calls)

	dispatcher.handle(api.Event{Subject: "work", Name: "domain-shutdown"})

	state, err = vm.PowerState()
	require.NoError(t, err)
	assert.Equal(t, PowerStateHalted, state)
}

func TestListenForEventsStream(t *testing.T) {
	var stream bytes.Buffer
	stream.Write(record("work", "domain-start"))
	stream.Write(record("", "domain-add", "vm", "new"))

	transport := newMockTransport()
	transport.events = io.NopCloser(bytes.NewReader(stream.Bytes()))

	app := newTestApp(transport)
	dispatcher := NewEventsDispatcher(app)

	var seen []string
	_, err := dispatcher.AddHandler("*", func(subject *VM, event api.Event) {
		seen = append(seen, event.Name)
	})
	require.NoError(t, err)

	err = dispatcher.ListenForEvents(context.Background(), nil, false)
	require.NoError(t, err)

	assert.Equal(t, []string{"connection-established", "domain-start", "domain-add"}, seen)
}

func TestListenForEventsFramingViolation(t *testing.T) {
	transport := newMockTransport()
	transport.events = io.NopCloser(bytes.NewReader([]byte("junk\x00")))

	app := newTestApp(transport)
	dispatcher := NewEventsDispatcher(app)

	// Protocol corruption is not retried, even with reconnect on.
	err := dispatcher.ListenForEvents(context.Background(), nil, true)
	require.Error(t, err)
	assert.True(t, api.IsCommunicationError(err))
	assert.Equal(t, 1, transport.eventsOpens)
}

func TestListenForEventsConnectionRefused(t *testing.T) {
	transport := newMockTransport()
	transport.eventsErr = syscall.ECONNREFUSED

	app := newTestApp(transport)
	dispatcher := NewEventsDispatcher(app)

	// Without reconnect a refused connection ends the call quietly.
	err := dispatcher.ListenForEvents(context.Background(), nil, false)
	require.NoError(t, err)
	assert.Equal(t, 1, transport.eventsOpens)
}
