package qubesadmin

import (
	"github.com/qubes-tools/qubesadmin/shared/api"
)

// Features exposes a VM's feature flags: free-form key/value pairs used to
// advertise guest capabilities and tweak behavior.
type Features struct {
	vm *VM
}

// List returns the names of the features set on the VM.
func (f *Features) List() ([]string, error) {
	data, err := f.vm.call("admin.vm.feature.List", "", nil)
	if err != nil {
		return nil, err
	}

	return splitLines(string(data)), nil
}

// Get returns the value of a feature. A missing feature is a
// QubesFeatureNotFoundError.
func (f *Features) Get(name string) (string, error) {
	data, err := f.vm.call("admin.vm.feature.Get", name, nil)
	if err != nil {
		return "", err
	}

	return string(data), nil
}

// GetWithDefault returns the value of a feature, or fallback when the
// feature is not set.
func (f *Features) GetWithDefault(name string, fallback string) (string, error) {
	value, err := f.Get(name)
	if err != nil {
		if api.IsServerError(err, api.ErrnameFeatureNotFound) {
			return fallback, nil
		}

		return "", err
	}

	return value, nil
}

// Set sets a feature.
func (f *Features) Set(name string, value string) error {
	_, err := f.vm.call("admin.vm.feature.Set", name, []byte(value))
	return err
}

// SetBool sets a feature to its boolean encoding: "1" for true, the empty
// string for false.
func (f *Features) SetBool(name string, value bool) error {
	if value {
		return f.Set(name, "1")
	}

	return f.Set(name, "")
}

// Remove unsets a feature.
func (f *Features) Remove(name string) error {
	_, err := f.vm.call("admin.vm.feature.Remove", name, nil)
	return err
}

// CheckWithTemplate returns the value of a feature, falling back to the
// VM's template when the VM itself does not set it.
func (f *Features) CheckWithTemplate(name string) (string, error) {
	data, err := f.vm.call("admin.vm.feature.CheckWithTemplate", name, nil)
	if err != nil {
		return "", err
	}

	return string(data), nil
}

// Enabled reports whether a feature is set to a non-empty value, checking
// the template as a fallback.
func (f *Features) Enabled(name string) (bool, error) {
	value, err := f.CheckWithTemplate(name)
	if err != nil {
		if api.IsServerError(err, api.ErrnameFeatureNotFound) {
			return false, nil
		}

		return false, err
	}

	return value != "", nil
}
