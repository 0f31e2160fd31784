package qubesadmin

import (
	"sort"
	"strings"
	"sync"

	"github.com/qubes-tools/qubesadmin/shared/api"
	"github.com/qubes-tools/qubesadmin/shared/logger"
)

// namedCollection caches the name list of one class of daemon-side objects
// and hands out wrapper objects for them. Wrappers are cached so repeated
// lookups share property state.
type namedCollection[T any] struct {
	app        *App
	listMethod string
	construct  func(app *App, name string) T
	notFound   func(name string) error

	mu      sync.Mutex
	names   []string
	objects map[string]T
}

// LabelCollection is the collection of VM labels.
type LabelCollection = namedCollection[*Label]

// PoolCollection is the collection of storage pools.
type PoolCollection = namedCollection[*Pool]

func (c *namedCollection[T]) refresh() error {
	if c.names != nil {
		return nil
	}

	data, err := c.app.Call("dom0", c.listMethod, "", nil)
	if err != nil {
		return err
	}

	c.names = splitLines(string(data))
	sort.Strings(c.names)
	return nil
}

// Names returns the sorted object names, fetching the list from the daemon
// when not cached.
func (c *namedCollection[T]) Names() ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.refresh()
	if err != nil {
		return nil, err
	}

	names := make([]string, len(c.names))
	copy(names, c.names)
	return names, nil
}

// Get returns the named object, checking that it exists unless the App runs
// in blind mode.
func (c *namedCollection[T]) Get(name string) (T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T
	if !c.app.BlindMode {
		err := c.refresh()
		if err != nil {
			return zero, err
		}

		found := false
		for _, candidate := range c.names {
			if candidate == name {
				found = true
				break
			}
		}

		if !found {
			return zero, c.notFound(name)
		}
	}

	return c.get(name), nil
}

// GetBlind returns the named object without checking that it exists.
func (c *namedCollection[T]) GetBlind(name string) T {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.get(name)
}

func (c *namedCollection[T]) get(name string) T {
	obj, ok := c.objects[name]
	if ok {
		return obj
	}

	if c.objects == nil {
		c.objects = map[string]T{}
	}

	obj = c.construct(c.app, name)
	c.objects[name] = obj
	return obj
}

// ClearCache drops the cached name list. Wrapper objects stay cached so
// existing references keep working.
func (c *namedCollection[T]) ClearCache() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.names = nil
}

// vmEntry is one line of the admin.vm.List response.
type vmEntry struct {
	Class string
	State string
}

// VMCollection tracks the VMs known to the daemon. Unlike the simpler
// collections it also caches each VM's class and last reported power state,
// and evicts wrapper objects whose identity changed on the daemon side.
type VMCollection struct {
	app *App

	mu      sync.Mutex
	list    map[string]vmEntry
	objects map[string]*VM
}

// RefreshCache fetches the VM list. With force false a cached list is kept.
func (c *VMCollection) RefreshCache(force bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.refresh(force)
}

func (c *VMCollection) refresh(force bool) error {
	if !force && c.list != nil {
		return nil
	}

	data, err := c.app.Call("dom0", "admin.vm.List", "", nil)
	if err != nil {
		return err
	}

	list := map[string]vmEntry{}
	for _, line := range splitLines(string(data)) {
		name, rest, _ := strings.Cut(line, " ")
		entry := vmEntry{}
		for _, field := range strings.Fields(rest) {
			key, value, ok := strings.Cut(field, "=")
			if !ok {
				continue
			}

			switch key {
			case "class":
				entry.Class = value
			case "state":
				entry.State = value
			}
		}

		list[name] = entry
	}

	// Evict wrappers for VMs that disappeared or changed class; a stale
	// wrapper would keep serving cached properties of a dead object.
	for name, vm := range c.objects {
		entry, ok := list[name]
		if ok && entry.Class == vm.klass {
			continue
		}

		delete(c.objects, name)
	}

	c.list = list
	return nil
}

// Names returns the sorted VM names.
func (c *VMCollection) Names() ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.refresh(false)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(c.list))
	for name := range c.list {
		names = append(names, name)
	}

	sort.Strings(names)
	return names, nil
}

// Get returns the named VM. Unless the App runs in blind mode the name is
// checked against the (possibly refreshed) VM list first.
func (c *VMCollection) Get(name string) (*VM, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.app.BlindMode {
		err := c.refresh(false)
		if err != nil {
			return nil, err
		}

		_, ok := c.list[name]
		if !ok {
			// The cached list may be stale; retry once from the daemon.
			err = c.refresh(true)
			if err != nil {
				return nil, err
			}

			_, ok = c.list[name]
		}

		if !ok {
			return nil, api.NewServerError(api.ErrnameVMNotFound, "No such domain: %s", name)
		}
	}

	return c.get(name), nil
}

// GetBlind returns the named VM without checking that it exists.
func (c *VMCollection) GetBlind(name string) *VM {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.get(name)
}

func (c *VMCollection) get(name string) *VM {
	vm, ok := c.objects[name]
	if ok {
		return vm
	}

	if c.objects == nil {
		c.objects = map[string]*VM{}
	}

	vm = newVM(c.app, name)
	if entry, ok := c.list[name]; ok {
		vm.klass = entry.Class
		vm.powerState = entry.State
	}

	c.objects[name] = vm
	return vm
}

// Remove destroys the named VM and drops it from the cache.
func (c *VMCollection) Remove(name string) error {
	_, err := c.app.Call(name, "admin.vm.Remove", "", nil)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.objects, name)
	delete(c.list, name)
	return nil
}

// ClearCache drops the cached VM list and all wrapper objects.
func (c *VMCollection) ClearCache() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.list = nil
	c.objects = nil
}

// setPowerState records a power state reported by an event, creating the
// wrapper if needed so later PowerState reads hit the cache.
func (c *VMCollection) setPowerState(name string, state string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	vm := c.get(name)
	logger.Debugf("Updating cached power state of %s to %s", name, state)
	vm.powerState = state
}
