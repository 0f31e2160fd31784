package qubesadmin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDevicesAvailable(t *testing.T) {
	transport := newMockTransport()
	transport.respond("sys-usb", "admin.vm.device.block.Available", "",
		"sda1 device_node=/dev/sda1 size=1024 description=Kingston DataTraveler\n"+
			"sdb device_node=/dev/sdb size=2048 description=spare disk\n")

	app := newTestApp(transport)
	vm := app.Domains.GetBlind("sys-usb")

	devices, err := vm.Devices("block").Available()
	require.NoError(t, err)
	require.Len(t, devices, 2)

	assert.Equal(t, "sys-usb", devices[0].Backend)
	assert.Equal(t, "sda1", devices[0].Ident)
	assert.Equal(t, "Kingston DataTraveler", devices[0].Description)
	assert.Equal(t, map[string]string{"device_node": "/dev/sda1", "size": "1024"}, devices[0].Data)

	assert.Equal(t, "sdb", devices[1].Ident)
	assert.Equal(t, "spare disk", devices[1].Description)
}

func TestDevicesAvailableEmpty(t *testing.T) {
	transport := newMockTransport()
	transport.respond("work", "admin.vm.device.usb.Available", "", "")

	app := newTestApp(transport)
	vm := app.Domains.GetBlind("work")

	devices, err := vm.Devices("usb").Available()
	require.NoError(t, err)
	assert.Empty(t, devices)
}

func TestDevicesAssignments(t *testing.T) {
	transport := newMockTransport()
	transport.respond("work", "admin.vm.device.block.List", "",
		"sys-usb+sda1 persistent=yes read-only=yes\n"+
			"sys-usb+sdb persistent=no\n")

	app := newTestApp(transport)
	vm := app.Domains.GetBlind("work")

	assignments, err := vm.Devices("block").Assignments()
	require.NoError(t, err)
	require.Len(t, assignments, 2)

	assert.Equal(t, "sys-usb", assignments[0].Backend)
	assert.Equal(t, "sda1", assignments[0].Ident)
	assert.True(t, assignments[0].Persistent)
	assert.Equal(t, map[string]string{"read-only": "yes"}, assignments[0].Options)

	assert.Equal(t, "sdb", assignments[1].Ident)
	assert.False(t, assignments[1].Persistent)
	assert.Empty(t, assignments[1].Options)
}

func TestDevicesAssignmentsBadAddress(t *testing.T) {
	transport := newMockTransport()
	transport.respond("work", "admin.vm.device.block.List", "", "noplus\n")

	app := newTestApp(transport)
	vm := app.Domains.GetBlind("work")

	_, err := vm.Devices("block").Assignments()
	require.Error(t, err)
}

func TestDevicesAttach(t *testing.T) {
	transport := newMockTransport()
	transport.respond("work", "admin.vm.device.block.Attach", "sys-usb+sda1", "")

	app := newTestApp(transport)
	vm := app.Domains.GetBlind("work")

	err := vm.Devices("block").Attach(DeviceAssignment{
		Backend:    "sys-usb",
		Ident:      "sda1",
		Persistent: true,
		Options:    map[string]string{"read-only": "yes"},
	})
	require.NoError(t, err)

	// Options travel in the payload, sorted by key.
	payload := transport.lastPayload("work", "admin.vm.device.block.Attach", "sys-usb+sda1")
	assert.Equal(t, "persistent=True read-only=yes", string(payload))
}

func TestDevicesDetach(t *testing.T) {
	transport := newMockTransport()
	transport.respond("work", "admin.vm.device.block.Detach", "sys-usb+sda1", "")

	app := newTestApp(transport)
	vm := app.Domains.GetBlind("work")

	err := vm.Devices("block").Detach("sys-usb", "sda1")
	require.NoError(t, err)
	assert.Equal(t, 1, transport.callCount("work", "admin.vm.device.block.Detach", "sys-usb+sda1"))
}

func TestDevicesUpdatePersistent(t *testing.T) {
	transport := newMockTransport()
	transport.respond("work", "admin.vm.device.block.Set.persistent", "sys-usb+sda1", "")

	app := newTestApp(transport)
	vm := app.Domains.GetBlind("work")

	err := vm.Devices("block").UpdatePersistent("sys-usb", "sda1", false)
	require.NoError(t, err)

	payload := transport.lastPayload("work", "admin.vm.device.block.Set.persistent", "sys-usb+sda1")
	assert.Equal(t, "False", string(payload))
}
