package qubesadmin

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/qubes-tools/qubesadmin/shared/api"
	"github.com/qubes-tools/qubesadmin/shared/logger"
)

// App is the entry point to the admin API: the global property holder for
// dom0 plus the collections of managed objects.
type App struct {
	*PropertyHolder

	// Domains holds the system's VMs.
	Domains *VMCollection

	// Labels holds the VM label definitions.
	Labels *LabelCollection

	// Pools holds the storage pools.
	Pools *PoolCollection

	transport Transport

	// BlindMode skips object existence checks before lookups.
	BlindMode bool

	cacheEnabled   bool
	reconnectDelay int64 // nanoseconds, see ConnectionArgs.ReconnectDelay
	poolDrivers    map[string][]string
	localName      string
}

func newApp(transport Transport, args *ConnectionArgs) *App {
	app := &App{
		transport:      transport,
		cacheEnabled:   args.EnableCache,
		reconnectDelay: int64(args.ReconnectDelay),
	}

	app.PropertyHolder = newPropertyHolder(app, "admin.property.", "dom0")
	app.PropertyHolder.useCache = args.EnableCache

	app.Domains = &VMCollection{app: app}

	app.Labels = &LabelCollection{
		app:        app,
		listMethod: "admin.label.List",
		construct:  func(app *App, name string) *Label { return &Label{app: app, name: name} },
		notFound: func(name string) error {
			return api.NewServerError(api.ErrnameLabelNotFound, "No such label: %s", name)
		},
	}

	app.Pools = &PoolCollection{
		app:        app,
		listMethod: "admin.pool.List",
		construct:  func(app *App, name string) *Pool { return &Pool{app: app, name: name} },
		notFound: func(name string) error {
			return api.NewServerError(api.ErrnameStoragePool, "No such pool: %s", name)
		},
	}

	return app
}

// Call performs one admin API call through the transport and decodes the
// response envelope.
func (app *App) Call(dest string, method string, arg string, payload []byte) ([]byte, error) {
	data, err := app.transport.Call(dest, method, arg, payload)
	if err != nil {
		return nil, err
	}

	return parseResponse(data)
}

// Transport returns the transport the App was connected with.
func (app *App) Transport() Transport {
	return app.transport
}

// CacheEnabled reports whether property caching is on.
func (app *App) CacheEnabled() bool {
	return app.cacheEnabled
}

// SetCacheEnabled toggles property caching for the App and for every
// already-constructed holder. Run an EventsDispatcher alongside an enabled
// cache, otherwise daemon-side changes go unnoticed.
func (app *App) SetCacheEnabled(enable bool) {
	app.cacheEnabled = enable
	app.EnableCache(enable)

	app.Domains.mu.Lock()
	defer app.Domains.mu.Unlock()
	for _, vm := range app.Domains.objects {
		vm.EnableCache(enable)
	}
}

// ListVMClasses returns the available VM class names.
func (app *App) ListVMClasses() ([]string, error) {
	data, err := app.Call("dom0", "admin.vmclass.List", "", nil)
	if err != nil {
		return nil, err
	}

	classes := splitLines(string(data))
	sort.Strings(classes)
	return classes, nil
}

// ListDeviceClasses returns the available device class names.
func (app *App) ListDeviceClasses() ([]string, error) {
	data, err := app.Call("dom0", "admin.deviceclass.List", "", nil)
	if err != nil {
		return nil, err
	}

	classes := splitLines(string(data))
	sort.Strings(classes)
	return classes, nil
}

func (app *App) refreshPoolDrivers() error {
	if app.poolDrivers != nil {
		return nil
	}

	data, err := app.Call("dom0", "admin.pool.ListDrivers", "", nil)
	if err != nil {
		return err
	}

	drivers := map[string][]string{}
	for _, line := range splitLines(string(data)) {
		name, options, _ := strings.Cut(line, " ")
		drivers[name] = strings.Fields(options)
	}

	app.poolDrivers = drivers
	return nil
}

// PoolDrivers returns the names of the available storage pool drivers.
func (app *App) PoolDrivers() ([]string, error) {
	err := app.refreshPoolDrivers()
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(app.poolDrivers))
	for name := range app.poolDrivers {
		names = append(names, name)
	}

	sort.Strings(names)
	return names, nil
}

// PoolDriverParameters returns the parameters accepted when creating a pool
// with the given driver.
func (app *App) PoolDriverParameters(driver string) ([]string, error) {
	err := app.refreshPoolDrivers()
	if err != nil {
		return nil, err
	}

	params, ok := app.poolDrivers[driver]
	if !ok {
		return nil, fmt.Errorf("Unknown pool driver %q", driver)
	}

	return params, nil
}

// AddPool creates a storage pool using the given driver and parameters.
func (app *App) AddPool(name string, driver string, params map[string]string) error {
	payload := fmt.Sprintf("name=%s\n", name)

	// Sorted only to make the payload deterministic.
	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}

	sort.Strings(keys)
	for _, key := range keys {
		payload += fmt.Sprintf("%s=%s\n", key, params[key])
	}

	_, err := app.Call("dom0", "admin.pool.Add", driver, []byte(payload))
	if err != nil {
		return err
	}

	app.Pools.ClearCache()
	return nil
}

// RemovePool removes a storage pool.
func (app *App) RemovePool(name string) error {
	_, err := app.Call("dom0", "admin.pool.Remove", name, nil)
	if err != nil {
		return err
	}

	app.Pools.ClearCache()
	return nil
}

// GetLabel finds a label by name, or by numeric index when no label of that
// name exists.
func (app *App) GetLabel(label string) (*Label, error) {
	l, err := app.Labels.Get(label)
	if err == nil {
		return l, nil
	}

	index, convErr := strconv.Atoi(label)
	if convErr != nil {
		return nil, err
	}

	names, err := app.Labels.Names()
	if err != nil {
		return nil, err
	}

	for _, name := range names {
		candidate := app.Labels.GetBlind(name)
		candidateIndex, err := candidate.Index()
		if err != nil {
			continue
		}

		if candidateIndex == index {
			return candidate, nil
		}
	}

	return nil, api.NewServerError(api.ErrnameLabelNotFound, "No such label: %s", label)
}

// LocalName returns the local host name.
func (app *App) LocalName() string {
	if app.localName == "" {
		hostname, err := os.Hostname()
		if err == nil {
			app.localName = hostname
		}
	}

	return app.localName
}

// AddNewVM creates a new VM. template may be empty to use the class default;
// pool forces all volumes into one pool, pools forces specific volumes into
// specific pools (only one of the two may be given).
func (app *App) AddNewVM(class string, name string, label string, template string, pool string, pools map[string]string) (*VM, error) {
	if pool != "" && len(pools) > 0 {
		return nil, fmt.Errorf("Only one of pool and pools can be used")
	}

	methodPrefix := "admin.vm.Create."
	payload := fmt.Sprintf("name=%s label=%s", name, label)
	if pool != "" {
		payload += fmt.Sprintf(" pool=%s", pool)
		methodPrefix = "admin.vm.CreateInPool."
	}

	if len(pools) > 0 {
		volumes := make([]string, 0, len(pools))
		for volume := range pools {
			volumes = append(volumes, volume)
		}

		sort.Strings(volumes)
		for _, volume := range volumes {
			payload += fmt.Sprintf(" pool:%s=%s", volume, pools[volume])
		}

		methodPrefix = "admin.vm.CreateInPool."
	}

	_, err := app.Call("dom0", methodPrefix+class, template, []byte(payload))
	if err != nil {
		return nil, err
	}

	app.Domains.ClearCache()
	return app.Domains.Get(name)
}

// Properties the create call already handled, never copied during a clone.
var clonePropertySkip = map[string]bool{
	"name":             true,
	"qid":              true,
	"template":         true,
	"label":            true,
	"uuid":             true,
	"installed_by_rpm": true,
}

// CloneVM clones a VM: creates a destination with the source's class, label
// and template, then copies explicitly-set properties, tags, features and
// persistent volume contents. On failure the partially-configured
// destination is removed before the error is returned.
func (app *App) CloneVM(src *VM, newName string) (*VM, error) {
	class, err := src.Class()
	if err != nil {
		return nil, err
	}

	label, err := src.GetString("label")
	if err != nil {
		return nil, err
	}

	template, err := src.GetString("template")
	if err != nil && !api.IsPropertyAccess(err) {
		return nil, err
	}

	dst, err := app.AddNewVM(class, newName, label, template, "", nil)
	if err != nil {
		return nil, err
	}

	err = app.cloneVMConfig(src, dst)
	if err != nil {
		// Compensate: a half-configured clone is worse than none.
		removeErr := app.Domains.Remove(newName)
		if removeErr != nil {
			logger.Errorf("Failed to remove partially cloned VM %s: %v", newName, removeErr)
		}

		return nil, err
	}

	return dst, nil
}

func (app *App) cloneVMConfig(src *VM, dst *VM) error {
	names, err := src.PropertyList()
	if err != nil {
		return err
	}

	for _, name := range names {
		if clonePropertySkip[name] {
			continue
		}

		isDefault, err := src.PropertyIsDefault(name)
		if err != nil {
			if api.IsPropertyAccess(err) {
				continue
			}

			return err
		}

		if isDefault {
			continue
		}

		value, err := src.GetProperty(name)
		if err != nil {
			if api.IsPropertyAccess(err) {
				continue
			}

			return err
		}

		err = dst.SetProperty(name, value)
		if err != nil {
			return fmt.Errorf("Failed to set %q property: %w", name, err)
		}
	}

	tags, err := src.Tags.List()
	if err != nil {
		return err
	}

	for _, tag := range tags {
		if strings.HasPrefix(tag, "created-by-") {
			continue
		}

		err = dst.Tags.Add(tag)
		if err != nil {
			return fmt.Errorf("Failed to add %q tag: %w", tag, err)
		}
	}

	features, err := src.Features.List()
	if err != nil {
		return err
	}

	for _, feature := range features {
		value, err := src.Features.Get(feature)
		if err != nil {
			return err
		}

		err = dst.Features.Set(feature, value)
		if err != nil {
			return fmt.Errorf("Failed to set %q feature: %w", feature, err)
		}
	}

	srcVolumes, err := src.Volumes()
	if err != nil {
		return err
	}

	dstVolumes, err := dst.Volumes()
	if err != nil {
		return err
	}

	for name, dstVolume := range dstVolumes {
		srcVolume, ok := srcVolumes[name]
		if !ok {
			continue
		}

		saveOnStop, err := dstVolume.SaveOnStop()
		if err != nil {
			return err
		}

		if !saveOnStop {
			// Only persistent volumes carry data worth cloning.
			continue
		}

		logger.Infof("Cloning %s volume of %s", name, dst.Name())
		err = dstVolume.CloneFrom(srcVolume)
		if err != nil {
			return err
		}
	}

	return nil
}

// invalidatePropertyCache drops a cached property value in response to a
// property-set or property-reset event. A nil subject means the global
// (dom0) holder.
func (app *App) invalidatePropertyCache(subject *VM, name string) {
	if subject == nil {
		app.invalidate(name)
		return
	}

	subject.invalidate(name)
}

// invalidateCacheAll drops all cached data. Used when a new event feed
// connection is established, as events before that point may have been lost.
func (app *App) invalidateCacheAll() {
	app.Domains.mu.Lock()
	for _, vm := range app.Domains.objects {
		vm.ClearCache()
		vm.powerState = ""
	}

	app.Domains.mu.Unlock()
	app.Domains.ClearCache()
	app.PropertyHolder.ClearCache()
}
