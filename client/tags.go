package qubesadmin

import (
	"github.com/qubes-tools/qubesadmin/shared/api"
)

// Tags exposes a VM's tags: plain markers mostly used by policy rules.
type Tags struct {
	vm *VM
}

// List returns the tags set on the VM.
func (t *Tags) List() ([]string, error) {
	data, err := t.vm.call("admin.vm.tag.List", "", nil)
	if err != nil {
		return nil, err
	}

	return splitLines(string(data)), nil
}

// Has reports whether the VM carries the tag.
func (t *Tags) Has(name string) (bool, error) {
	data, err := t.vm.call("admin.vm.tag.Get", name, nil)
	if err != nil {
		if api.IsServerError(err, api.ErrnameTagNotFound) {
			return false, nil
		}

		return false, err
	}

	return string(data) == "1", nil
}

// Add sets the tag on the VM.
func (t *Tags) Add(name string) error {
	_, err := t.vm.call("admin.vm.tag.Set", name, nil)
	return err
}

// Remove removes the tag from the VM.
func (t *Tags) Remove(name string) error {
	_, err := t.vm.call("admin.vm.tag.Remove", name, nil)
	return err
}
