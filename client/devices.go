package qubesadmin

import (
	"fmt"
	"sort"
	"strings"

	"github.com/qubes-tools/qubesadmin/shared/api"
)

// DeviceInfo describes a device exposed by a backend domain.
type DeviceInfo struct {
	// Backend is the name of the domain exposing the device.
	Backend string

	// Ident is the device's identifier within the backend.
	Ident string

	// Description is the device's human-readable description.
	Description string

	// Data holds the remaining device attributes, all values as strings.
	Data map[string]string
}

// DeviceAssignment describes a device attached (or assigned) to a domain.
type DeviceAssignment struct {
	// Backend is the name of the domain exposing the device.
	Backend string

	// Ident is the device's identifier within the backend.
	Ident string

	// Persistent marks an assignment that survives domain restarts.
	Persistent bool

	// Options holds the attachment options (e.g. read-only).
	Options map[string]string
}

// Devices is a per-class view of one domain's devices: the devices the
// domain exposes, and the devices of other domains attached to it.
type Devices struct {
	vm    *VM
	class string
}

// Devices returns the domain's device view for the given device class
// (pci, block, usb, mic, ...).
func (vm *VM) Devices(class string) *Devices {
	return &Devices{vm: vm, class: class}
}

// deviceArg renders the backend+ident pair used to address one device.
func deviceArg(backend string, ident string) string {
	return fmt.Sprintf("%s+%s", backend, ident)
}

// Available returns the devices of this class the domain exposes.
func (d *Devices) Available() ([]DeviceInfo, error) {
	data, err := d.vm.call(fmt.Sprintf("admin.vm.device.%s.Available", d.class), "", nil)
	if err != nil {
		return nil, err
	}

	var devices []DeviceInfo
	for _, line := range splitLines(string(data)) {
		ident, info, _ := strings.Cut(line, " ")

		// The description comes last and is the one field that may
		// itself contain spaces.
		info, description, _ := strings.Cut(info, "description=")

		device := DeviceInfo{
			Backend:     d.vm.name,
			Ident:       ident,
			Description: description,
			Data:        map[string]string{},
		}

		for _, field := range strings.Fields(info) {
			key, value, ok := strings.Cut(field, "=")
			if !ok {
				return nil, api.CommunicationErrorf("Invalid device field: %q", field)
			}

			device.Data[key] = value
		}

		devices = append(devices, device)
	}

	return devices, nil
}

// Assignments returns the devices of this class attached or assigned to the
// domain.
func (d *Devices) Assignments() ([]DeviceAssignment, error) {
	data, err := d.vm.call(fmt.Sprintf("admin.vm.device.%s.List", d.class), "", nil)
	if err != nil {
		return nil, err
	}

	var assignments []DeviceAssignment
	for _, line := range splitLines(string(data)) {
		device, options, _ := strings.Cut(line, " ")
		backend, ident, ok := strings.Cut(device, "+")
		if !ok {
			return nil, api.CommunicationErrorf("Invalid device address: %q", device)
		}

		assignment := DeviceAssignment{
			Backend: backend,
			Ident:   ident,
			Options: map[string]string{},
		}

		for _, field := range strings.Fields(options) {
			key, value, ok := strings.Cut(field, "=")
			if !ok {
				return nil, api.CommunicationErrorf("Invalid device option: %q", field)
			}

			if key == "persistent" {
				assignment.Persistent = value == "True" || value == "yes"
				continue
			}

			assignment.Options[key] = value
		}

		assignments = append(assignments, assignment)
	}

	return assignments, nil
}

// Attach attaches a device to the domain. The assignment's Backend and
// Ident select the device; Options and Persistent are forwarded.
func (d *Devices) Attach(assignment DeviceAssignment) error {
	options := map[string]string{}
	for key, value := range assignment.Options {
		options[key] = value
	}

	if assignment.Persistent {
		options["persistent"] = "True"
	}

	keys := make([]string, 0, len(options))
	for key := range options {
		keys = append(keys, key)
	}

	sort.Strings(keys)
	fields := make([]string, 0, len(keys))
	for _, key := range keys {
		fields = append(fields, fmt.Sprintf("%s=%s", key, options[key]))
	}

	_, err := d.vm.call(fmt.Sprintf("admin.vm.device.%s.Attach", d.class),
		deviceArg(assignment.Backend, assignment.Ident),
		[]byte(strings.Join(fields, " ")))
	return err
}

// Detach detaches a device from the domain.
func (d *Devices) Detach(backend string, ident string) error {
	_, err := d.vm.call(fmt.Sprintf("admin.vm.device.%s.Detach", d.class),
		deviceArg(backend, ident), nil)
	return err
}

// UpdatePersistent changes the persistent flag of an already attached
// device.
func (d *Devices) UpdatePersistent(backend string, ident string, persistent bool) error {
	value := "False"
	if persistent {
		value = "True"
	}

	_, err := d.vm.call(fmt.Sprintf("admin.vm.device.%s.Set.persistent", d.class),
		deviceArg(backend, ident), []byte(value))
	return err
}
