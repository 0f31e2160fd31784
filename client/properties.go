package qubesadmin

import (
	"strconv"
	"strings"

	"github.com/qubes-tools/qubesadmin/shared/api"
	"github.com/qubes-tools/qubesadmin/shared/logger"
)

// PropertyHolder mediates access to the remote properties of one managed
// object (a domain, dom0 or a pool), minimizing round trips through a local
// cache.
//
// The cache works in two regimes. Before a successful bulk fetch, it only
// knows the properties that were individually read. Once a GetAll call has
// succeeded, the holder is exhaustive: a name absent from the cache is known
// not to exist remotely and reads of it fail without a round trip, until the
// whole cache is cleared.
//
// A PropertyHolder is not safe for concurrent use; confine each holder to a
// single goroutine or add external locking around the whole read path.
type PropertyHolder struct {
	app          *App
	methodPrefix string
	methodDest   string

	useCache     bool
	props        []string
	values       map[string]Value
	explicit     map[string]bool
	updateNeeded map[string]bool
	exhaustive   bool
	getAllTried  bool
}

func newPropertyHolder(app *App, methodPrefix string, methodDest string) *PropertyHolder {
	return &PropertyHolder{
		app:          app,
		methodPrefix: methodPrefix,
		methodDest:   methodDest,
		values:       map[string]Value{},
		explicit:     map[string]bool{},
		updateNeeded: map[string]bool{},
	}
}

// call performs one admin API call against this holder's destination.
func (h *PropertyHolder) call(method string, arg string, payload []byte) ([]byte, error) {
	return h.app.Call(h.methodDest, h.methodPrefix+method, arg, payload)
}

// PropertyList returns the names of the properties this object supports, in
// server order. The list is fetched once and cached until ClearCache.
func (h *PropertyHolder) PropertyList() ([]string, error) {
	if h.props == nil {
		data, err := h.call("List", "", nil)
		if err != nil {
			return nil, err
		}

		h.props = splitLines(string(data))
	}

	names := make([]string, len(h.props))
	copy(names, h.props)
	return names, nil
}

// PropertyHelp returns the free-text description of a property. Never cached.
func (h *PropertyHolder) PropertyHelp(name string) (string, error) {
	data, err := h.call("Help", name, nil)
	if err != nil {
		return "", err
	}

	return string(data), nil
}

// GetProperty returns the current value of a property, from the cache when
// possible. A nonexistent or inaccessible property fails with
// api.PropertyAccessError.
func (h *PropertyHolder) GetProperty(name string) (Value, error) {
	value, _, err := h.getProperty(name)
	return value, err
}

// PropertyIsDefault reports whether the property currently carries its
// implicit default value rather than an explicitly set one.
func (h *PropertyHolder) PropertyIsDefault(name string) (bool, error) {
	_, isDefault, err := h.getProperty(name)
	return isDefault, err
}

// getProperty implements the read path.
func (h *PropertyHolder) getProperty(name string) (Value, bool, error) {
	if !h.useCache {
		return h.fetchProperty(name)
	}

	if !h.updateNeeded[name] {
		value, ok := h.values[name]
		if ok {
			return value, !h.explicit[name], nil
		}
	} else {
		// Known stale: a single fetch refreshes it, bypassing the
		// bulk path.
		return h.fetchAndStore(name)
	}

	if h.exhaustive {
		// The last bulk fetch was complete and nothing has
		// invalidated this name since, so it conclusively does not
		// exist. No round trip.
		return Value{}, false, &api.PropertyAccessError{Property: name}
	}

	if !h.getAllTried {
		err := h.fetchAllProperties()
		if err != nil {
			logger.Debugf("Bulk property fetch for %s failed, falling back to per-property calls: %v", h.methodDest, err)
		} else {
			value, ok := h.values[name]
			if ok {
				return value, !h.explicit[name], nil
			}

			if h.exhaustive {
				return Value{}, false, &api.PropertyAccessError{Property: name}
			}
		}
	}

	return h.fetchAndStore(name)
}

// isPropertyDenied reports whether a property call failed in a way that
// means "no usable value here": the daemon gave no response (policy denial),
// the destination does not exist, or the property itself does not exist.
func isPropertyDenied(err error) bool {
	return api.IsNoResponse(err) || api.IsVMNotFound(err) ||
		api.IsServerError(err, api.ErrnameNoSuchProperty)
}

// fetchProperty performs a single-property Get round trip without touching
// the cache.
func (h *PropertyHolder) fetchProperty(name string) (Value, bool, error) {
	data, err := h.call("Get", name, nil)
	if err != nil {
		if isPropertyDenied(err) {
			return Value{}, false, &api.PropertyAccessError{Property: name}
		}

		return Value{}, false, err
	}

	return h.decodeProperty(name, string(data))
}

// fetchAndStore performs a single-property fetch and refreshes the cache
// entry for it.
func (h *PropertyHolder) fetchAndStore(name string) (Value, bool, error) {
	value, isDefault, err := h.fetchProperty(name)
	if err != nil {
		return Value{}, false, err
	}

	h.store(name, value, isDefault)
	return value, isDefault, nil
}

func (h *PropertyHolder) store(name string, value Value, isDefault bool) {
	h.values[name] = value
	if isDefault {
		delete(h.explicit, name)
	} else {
		h.explicit[name] = true
	}

	delete(h.updateNeeded, name)
}

// decodeProperty parses a Get response: "default=<True|False> type=<kind> <value>".
func (h *PropertyHolder) decodeProperty(name string, data string) (Value, bool, error) {
	parts := strings.SplitN(data, " ", 3)
	if len(parts) < 2 || !strings.HasPrefix(parts[0], "default=") || !strings.HasPrefix(parts[1], "type=") {
		return Value{}, false, api.CommunicationErrorf("Invalid property response for %q: %q", name, data)
	}

	isDefault := strings.TrimPrefix(parts[0], "default=") == "True"
	kind := api.PropertyKind(strings.TrimPrefix(parts[1], "type="))

	raw := ""
	if len(parts) == 3 {
		raw = parts[2]
	}

	value, err := h.decodeValue(name, kind, raw)
	if err != nil {
		return Value{}, false, err
	}

	return value, isDefault, nil
}

// decodeValue decodes a raw property value according to its declared kind.
func (h *PropertyHolder) decodeValue(name string, kind api.PropertyKind, raw string) (Value, error) {
	switch kind {
	case api.PropertyKindStr:
		return StringValue(raw), nil
	case api.PropertyKindBool:
		if raw == "" {
			return Value{}, &api.PropertyAccessError{Property: name}
		}

		return BoolValue(raw == "True"), nil
	case api.PropertyKindInt:
		if raw == "" {
			// One property (stubdom_xid) legitimately reports an
			// empty int; decode it as null rather than failing.
			return Value{Kind: api.PropertyKindInt, Null: true}, nil
		}

		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Value{}, api.CommunicationErrorf("Invalid int value %q for property %q", raw, name)
		}

		return IntValue(n), nil
	case api.PropertyKindVM:
		if raw == "" {
			return VMValue(nil), nil
		}

		return VMValue(h.app.Domains.GetBlind(raw)), nil
	case api.PropertyKindLabel:
		if raw == "" {
			return LabelValue(nil), nil
		}

		return LabelValue(h.app.Labels.GetBlind(raw)), nil
	default:
		return Value{}, api.CommunicationErrorf("Received invalid value type: %s", kind)
	}
}

// fetchAllProperties retrieves every property in one GetAll round trip. On
// success the whole cache is replaced. A line that fails to decode is logged
// and skipped, and leaves the holder non-exhaustive so later reads fall back
// to per-property fetches for anything not populated.
func (h *PropertyHolder) fetchAllProperties() error {
	h.getAllTried = true

	data, err := h.call("GetAll", "", nil)
	if err != nil {
		return err
	}

	// The bulk response is authoritative; drop everything cached before.
	h.values = map[string]Value{}
	h.explicit = map[string]bool{}

	complete := true
	for _, line := range splitLines(string(data)) {
		fields := strings.SplitN(line, "\t", 4)
		if len(fields) < 4 {
			logger.Warnf("Skipping malformed property line for %s: %q", h.methodDest, line)
			complete = false
			continue
		}

		name, marker, kind, raw := fields[0], fields[1], api.PropertyKind(fields[2]), fields[3]

		if kind == api.PropertyKindStr {
			raw, err = unescapeString(raw)
			if err != nil {
				logger.Warnf("Skipping property %q of %s: %v", name, h.methodDest, err)
				complete = false
				continue
			}
		}

		value, err := h.decodeValue(name, kind, raw)
		if err != nil {
			logger.Warnf("Skipping property %q of %s: %v", name, h.methodDest, err)
			complete = false
			continue
		}

		h.values[name] = value
		if marker != api.DefaultMarker {
			h.explicit[name] = true
		}

		delete(h.updateNeeded, name)
	}

	h.exhaustive = complete
	if complete {
		h.updateNeeded = map[string]bool{}
	}

	return nil
}

// PropertyGetDefault returns the default value of a property, regardless of
// its current value.
func (h *PropertyHolder) PropertyGetDefault(name string) (Value, error) {
	data, err := h.call("GetDefault", name, nil)
	if err != nil {
		if isPropertyDenied(err) {
			return Value{}, &api.PropertyAccessError{Property: name}
		}

		return Value{}, err
	}

	if len(data) == 0 {
		return Value{}, &api.PropertyAccessError{Property: name}
	}

	parts := strings.SplitN(string(data), " ", 2)
	if !strings.HasPrefix(parts[0], "type=") {
		return Value{}, api.CommunicationErrorf("Invalid property response for %q: %q", name, string(data))
	}

	raw := ""
	if len(parts) == 2 {
		raw = parts[1]
	}

	return h.decodeValue(name, api.PropertyKind(strings.TrimPrefix(parts[0], "type=")), raw)
}

// SetProperty sets a property to an explicit value. The cache is updated in
// place on success; no re-read is needed.
func (h *PropertyHolder) SetProperty(name string, value Value) error {
	_, err := h.call("Set", name, []byte(value.String()))
	if err != nil {
		if isPropertyDenied(err) {
			return &api.PropertyAccessError{Property: name}
		}

		return err
	}

	h.store(name, value, false)
	return nil
}

// ResetProperty resets a property to its default value. The new default is
// unknown until re-fetched, so the cache entry is marked stale rather than
// forgotten.
func (h *PropertyHolder) ResetProperty(name string) error {
	_, err := h.call("Reset", name, nil)
	if err != nil {
		if isPropertyDenied(err) {
			return &api.PropertyAccessError{Property: name}
		}

		return err
	}

	delete(h.values, name)
	delete(h.explicit, name)
	if h.exhaustive {
		h.updateNeeded[name] = true
	}

	return nil
}

// invalidate drops the cached value of one property, typically in response
// to a property-set or property-reset event.
func (h *PropertyHolder) invalidate(name string) {
	delete(h.values, name)
	delete(h.explicit, name)
	if h.exhaustive {
		h.updateNeeded[name] = true
	}
}

// ClearCache forgets all cached property state, including the property list
// and the bulk-fetch bookkeeping.
func (h *PropertyHolder) ClearCache() {
	h.props = nil
	h.values = map[string]Value{}
	h.explicit = map[string]bool{}
	h.updateNeeded = map[string]bool{}
	h.exhaustive = false
	h.getAllTried = false
}

// EnableCache toggles use of the cache. Disabling forgets nothing; it only
// stops reads from consulting cached values until re-enabled.
func (h *PropertyHolder) EnableCache(enable bool) {
	h.useCache = enable
}

// CloneProperties copies property values from another holder through the
// normal write path. Properties absent on the source are skipped; any other
// failure aborts the copy.
func (h *PropertyHolder) CloneProperties(src *PropertyHolder, names []string) error {
	var err error
	if names == nil {
		names, err = h.PropertyList()
		if err != nil {
			return err
		}
	}

	for _, name := range names {
		value, err := src.GetProperty(name)
		if err != nil {
			if api.IsPropertyAccess(err) {
				continue
			}

			return err
		}

		err = h.SetProperty(name, value)
		if err != nil {
			return err
		}
	}

	return nil
}

// GetString returns a property rendered as a string.
func (h *PropertyHolder) GetString(name string) (string, error) {
	value, err := h.GetProperty(name)
	if err != nil {
		return "", err
	}

	return value.String(), nil
}

// GetBool returns a bool-kind property.
func (h *PropertyHolder) GetBool(name string) (bool, error) {
	value, err := h.GetProperty(name)
	if err != nil {
		return false, err
	}

	if value.Kind != api.PropertyKindBool {
		return false, api.CommunicationErrorf("Property %q is not a bool", name)
	}

	return value.Bool, nil
}

// GetInt returns an int-kind property. The null int state reads as 0 with
// no error.
func (h *PropertyHolder) GetInt(name string) (int64, error) {
	value, err := h.GetProperty(name)
	if err != nil {
		return 0, err
	}

	if value.Kind != api.PropertyKindInt {
		return 0, api.CommunicationErrorf("Property %q is not an int", name)
	}

	return value.Int, nil
}

// splitLines splits a newline-terminated response into its lines, ignoring
// the trailing empty element.
func splitLines(data string) []string {
	lines := []string{}
	for _, line := range strings.Split(data, "\n") {
		if line != "" {
			lines = append(lines, line)
		}
	}

	return lines
}
