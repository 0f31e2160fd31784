package qubesadmin

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/qubes-tools/qubesadmin/shared/api"
)

// Power states reported by the daemon.
const (
	PowerStateHalted    = "Halted"
	PowerStateTransient = "Transient"
	PowerStateRunning   = "Running"
	PowerStatePaused    = "Paused"
	PowerStateSuspended = "Suspended"
	PowerStateNA        = "NA"
)

// VM wraps one managed domain. Property reads and writes go through the
// embedded holder; lifecycle calls go straight to the daemon.
type VM struct {
	*PropertyHolder

	// Features holds the VM's feature flags.
	Features *Features

	// Tags holds the VM's tags.
	Tags *Tags

	app  *App
	name string

	klass      string
	powerState string
}

func newVM(app *App, name string) *VM {
	vm := &VM{app: app, name: name}
	vm.PropertyHolder = newPropertyHolder(app, "admin.vm.property.", name)
	vm.PropertyHolder.useCache = app.cacheEnabled
	vm.Features = &Features{vm: vm}
	vm.Tags = &Tags{vm: vm}
	return vm
}

// Name returns the VM's name.
func (vm *VM) Name() string {
	return vm.name
}

// String implements fmt.Stringer.
func (vm *VM) String() string {
	return vm.name
}

// SetName renames the VM. The collection cache is dropped since it is keyed
// by the old name; re-fetch the VM afterwards.
func (vm *VM) SetName(newName string) error {
	err := vm.SetProperty("name", StringValue(newName))
	if err != nil {
		return err
	}

	vm.app.Domains.ClearCache()
	return nil
}

// Class returns the VM's class name (AppVM, TemplateVM, ...).
func (vm *VM) Class() (string, error) {
	if vm.klass != "" {
		return vm.klass, nil
	}

	klass, err := vm.GetString("klass")
	if err != nil {
		return "", err
	}

	vm.klass = klass
	return klass, nil
}

// Start starts the VM.
func (vm *VM) Start() error {
	_, err := vm.call("admin.vm.Start", "", nil)
	return err
}

// Shutdown asks the VM to shut down. With force true the request overrides
// guest-side veto (e.g. connected clients).
func (vm *VM) Shutdown(force bool) error {
	arg := ""
	if force {
		arg = "force"
	}

	_, err := vm.call("admin.vm.Shutdown", arg, nil)
	return err
}

// Kill stops the VM immediately without giving the guest a chance to react.
func (vm *VM) Kill() error {
	_, err := vm.call("admin.vm.Kill", "", nil)
	return err
}

// Pause freezes the VM's CPUs.
func (vm *VM) Pause() error {
	_, err := vm.call("admin.vm.Pause", "", nil)
	return err
}

// Unpause resumes a paused VM.
func (vm *VM) Unpause() error {
	_, err := vm.call("admin.vm.Unpause", "", nil)
	return err
}

// Suspend suspends the VM to memory.
func (vm *VM) Suspend() error {
	_, err := vm.call("admin.vm.Suspend", "", nil)
	return err
}

// Resume resumes a suspended VM.
func (vm *VM) Resume() error {
	_, err := vm.call("admin.vm.Resume", "", nil)
	return err
}

// CurrentState returns the VM's runtime state fields as reported by the
// daemon (power_state, mem, mem_static_max, cputime).
func (vm *VM) CurrentState() (map[string]string, error) {
	data, err := vm.call("admin.vm.CurrentState", "", nil)
	if err != nil {
		return nil, err
	}

	state := map[string]string{}
	for _, field := range strings.Fields(string(data)) {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			return nil, api.CommunicationErrorf("Invalid state field: %q", field)
		}

		state[key] = value
	}

	return state, nil
}

// PowerState returns the VM's power state. With caching on, a state learned
// from the event feed is served without a round trip. A VM the daemon no
// longer knows, or a daemon that cannot be reached, reports as NA rather
// than an error.
func (vm *VM) PowerState() (string, error) {
	if vm.useCache && vm.powerState != "" {
		return vm.powerState, nil
	}

	state, err := vm.CurrentState()
	if err != nil {
		if api.IsNoResponse(err) || api.IsVMNotFound(err) {
			return PowerStateNA, nil
		}

		return "", err
	}

	power, ok := state["power_state"]
	if !ok {
		return "", api.CommunicationErrorf("Power state missing from state report")
	}

	if vm.useCache {
		vm.powerState = power
	}

	return power, nil
}

// IsRunning reports whether the VM is up, including transient and paused
// states.
func (vm *VM) IsRunning() (bool, error) {
	state, err := vm.PowerState()
	if err != nil {
		return false, err
	}

	return state != PowerStateHalted && state != PowerStateNA, nil
}

// IsHalted reports whether the VM is shut off.
func (vm *VM) IsHalted() (bool, error) {
	state, err := vm.PowerState()
	if err != nil {
		return false, err
	}

	return state == PowerStateHalted, nil
}

// IsPaused reports whether the VM is paused or suspended.
func (vm *VM) IsPaused() (bool, error) {
	state, err := vm.PowerState()
	if err != nil {
		return false, err
	}

	return state == PowerStatePaused || state == PowerStateSuspended, nil
}

// Mem returns the VM's current memory usage in bytes, or 0 when the VM is
// not running.
func (vm *VM) Mem() (int64, error) {
	state, err := vm.CurrentState()
	if err != nil {
		return 0, err
	}

	mem, ok := state["mem"]
	if !ok || mem == "" {
		return 0, nil
	}

	n, err := strconv.ParseInt(mem, 10, 64)
	if err != nil {
		return 0, api.CommunicationErrorf("Invalid memory value: %q", mem)
	}

	return n, nil
}

// Volumes returns the VM's volumes keyed by volume name (root, private,
// volatile, kernel).
func (vm *VM) Volumes() (map[string]*Volume, error) {
	data, err := vm.call("admin.vm.volume.List", "", nil)
	if err != nil {
		return nil, err
	}

	volumes := map[string]*Volume{}
	for _, name := range splitLines(string(data)) {
		volumes[name] = &Volume{app: vm.app, dest: vm.name, volumeName: name}
	}

	return volumes, nil
}

// Notes returns the VM's free-form notes.
func (vm *VM) Notes() (string, error) {
	data, err := vm.call("admin.vm.notes.Get", "", nil)
	if err != nil {
		return "", err
	}

	return string(data), nil
}

// SetNotes replaces the VM's free-form notes.
func (vm *VM) SetNotes(notes string) error {
	_, err := vm.call("admin.vm.notes.Set", "", []byte(notes))
	return err
}

// ServiceCommand returns a command that runs the given qrexec service in the
// VM, with stdin/stdout/stderr left for the caller to wire.
func (vm *VM) ServiceCommand(service string) *exec.Cmd {
	return vm.app.transport.ServiceCommand(vm.name, service)
}

// call dispatches a non-property method to this VM.
func (vm *VM) call(method string, arg string, payload []byte) ([]byte, error) {
	data, err := vm.app.Call(vm.name, method, arg, payload)
	if err != nil {
		return nil, fmt.Errorf("Failed %s call on %s: %w", method, vm.name, err)
	}

	return data, nil
}
