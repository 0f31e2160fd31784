package qubesadmin

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/qubes-tools/qubesadmin/shared/api"
)

// Pool is a storage pool.
type Pool struct {
	app  *App
	name string

	config map[string]string
}

// Name returns the pool's name.
func (p *Pool) Name() string {
	return p.name
}

// String implements fmt.Stringer.
func (p *Pool) String() string {
	return p.name
}

// Config returns the pool's configuration (driver plus driver-specific
// keys), fetched once and cached.
func (p *Pool) Config() (map[string]string, error) {
	if p.config != nil {
		return p.config, nil
	}

	data, err := p.app.Call("dom0", "admin.pool.Info", p.name, nil)
	if err != nil {
		return nil, err
	}

	config, err := parseKeyValueLines(string(data))
	if err != nil {
		return nil, err
	}

	p.config = config
	return config, nil
}

// Driver returns the pool's driver name.
func (p *Pool) Driver() (string, error) {
	config, err := p.Config()
	if err != nil {
		return "", err
	}

	return config["driver"], nil
}

// UsageDetails returns the pool's usage counters. Not every driver reports
// every counter.
func (p *Pool) UsageDetails() (map[string]int64, error) {
	data, err := p.app.Call("dom0", "admin.pool.UsageDetails", p.name, nil)
	if err != nil {
		return nil, err
	}

	fields, err := parseKeyValueLines(string(data))
	if err != nil {
		return nil, err
	}

	usage := map[string]int64{}
	for key, value := range fields {
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, api.CommunicationErrorf("Invalid usage value for %s: %q", key, value)
		}

		usage[key] = n
	}

	return usage, nil
}

// Size returns the pool's total size in bytes, or 0 when the driver does
// not report it.
func (p *Pool) Size() (int64, error) {
	usage, err := p.UsageDetails()
	if err != nil {
		return 0, err
	}

	return usage["data_size"], nil
}

// Usage returns the pool's used space in bytes, or 0 when the driver does
// not report it.
func (p *Pool) Usage() (int64, error) {
	usage, err := p.UsageDetails()
	if err != nil {
		return 0, err
	}

	return usage["data_usage"], nil
}

// Volumes returns the volumes stored in the pool, addressed by pool and
// volume id.
func (p *Pool) Volumes() ([]*Volume, error) {
	data, err := p.app.Call("dom0", "admin.pool.volume.List", p.name, nil)
	if err != nil {
		return nil, err
	}

	var volumes []*Volume
	for _, vid := range splitLines(string(data)) {
		volumes = append(volumes, &Volume{app: p.app, pool: p.name, vid: vid})
	}

	return volumes, nil
}

// Volume is one storage volume. A volume is addressed either through its
// owning VM (dest and volumeName set) or through its pool (pool and vid
// set); every method works with both addressings.
type Volume struct {
	app *App

	dest       string
	volumeName string

	pool string
	vid  string

	info map[string]string
}

// Name returns the volume's name within its VM (root, private, ...). For a
// pool-addressed volume this requires an Info round trip.
func (v *Volume) Name() (string, error) {
	if v.volumeName != "" {
		return v.volumeName, nil
	}

	info, err := v.Info()
	if err != nil {
		return "", err
	}

	return info["name"], nil
}

// call dispatches a volume method through whichever addressing the volume
// was created with.
func (v *Volume) call(method string, payload []byte) ([]byte, error) {
	if v.pool != "" {
		// Pool addressing carries the volume id as the payload's first
		// line; the method's own payload follows.
		body := []byte(v.vid)
		if len(payload) > 0 {
			body = append(body, ' ')
			body = append(body, payload...)
		}

		return v.app.Call("dom0", "admin.pool.volume."+method, v.pool, body)
	}

	return v.app.Call(v.dest, "admin.vm.volume."+method, v.volumeName, payload)
}

// Info returns the volume's attributes, fetched once and cached. Mutating
// calls drop the cache.
func (v *Volume) Info() (map[string]string, error) {
	if v.info != nil {
		return v.info, nil
	}

	data, err := v.call("Info", nil)
	if err != nil {
		return nil, err
	}

	info, err := parseKeyValueLines(string(data))
	if err != nil {
		return nil, err
	}

	v.info = info
	return info, nil
}

func (v *Volume) infoInt(key string) (int64, error) {
	info, err := v.Info()
	if err != nil {
		return 0, err
	}

	value, ok := info[key]
	if !ok {
		return 0, api.CommunicationErrorf("Missing %q volume attribute", key)
	}

	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, api.CommunicationErrorf("Invalid %q volume attribute: %q", key, value)
	}

	return n, nil
}

func (v *Volume) infoBool(key string) (bool, error) {
	info, err := v.Info()
	if err != nil {
		return false, err
	}

	return info[key] == "True", nil
}

// Pool returns the name of the pool holding the volume.
func (v *Volume) Pool() (string, error) {
	if v.pool != "" {
		return v.pool, nil
	}

	info, err := v.Info()
	if err != nil {
		return "", err
	}

	return info["pool"], nil
}

// Vid returns the volume's pool-internal id.
func (v *Volume) Vid() (string, error) {
	if v.vid != "" {
		return v.vid, nil
	}

	info, err := v.Info()
	if err != nil {
		return "", err
	}

	return info["vid"], nil
}

// Size returns the volume's size in bytes.
func (v *Volume) Size() (int64, error) {
	return v.infoInt("size")
}

// Usage returns the volume's used space in bytes.
func (v *Volume) Usage() (int64, error) {
	return v.infoInt("usage")
}

// RevisionsToKeep returns how many revisions the volume retains.
func (v *Volume) RevisionsToKeep() (int64, error) {
	return v.infoInt("revisions_to_keep")
}

// Rw reports whether the VM sees the volume read-write.
func (v *Volume) Rw() (bool, error) {
	return v.infoBool("rw")
}

// SaveOnStop reports whether the volume's content persists across VM
// shutdown.
func (v *Volume) SaveOnStop() (bool, error) {
	return v.infoBool("save_on_stop")
}

// SnapOnStart reports whether the volume starts from a snapshot of its
// source.
func (v *Volume) SnapOnStart() (bool, error) {
	return v.infoBool("snap_on_start")
}

// IsOutdated reports whether the volume's source changed since the snapshot
// the volume runs on was taken.
func (v *Volume) IsOutdated() (bool, error) {
	return v.infoBool("is_outdated")
}

// Resize changes the volume's size. Only growing is guaranteed to be
// supported.
func (v *Volume) Resize(size int64) error {
	_, err := v.call("Resize", []byte(strconv.FormatInt(size, 10)))
	if err != nil {
		return err
	}

	v.info = nil
	return nil
}

// Revisions returns the ids of the volume's saved revisions, oldest first.
func (v *Volume) Revisions() ([]string, error) {
	data, err := v.call("ListSnapshots", nil)
	if err != nil {
		return nil, err
	}

	return splitLines(string(data)), nil
}

// Revert rolls the volume back to the given revision.
func (v *Volume) Revert(revision string) error {
	_, err := v.call("Revert", []byte(revision))
	if err != nil {
		return err
	}

	v.info = nil
	return nil
}

// SetRevisionsToKeep changes how many revisions the volume retains.
func (v *Volume) SetRevisionsToKeep(n int64) error {
	_, err := v.call("Set.revisions_to_keep", []byte(strconv.FormatInt(n, 10)))
	if err != nil {
		return err
	}

	v.info = nil
	return nil
}

// SetRw changes whether the VM sees the volume read-write.
func (v *Volume) SetRw(rw bool) error {
	value := "False"
	if rw {
		value = "True"
	}

	_, err := v.call("Set.rw", []byte(value))
	if err != nil {
		return err
	}

	v.info = nil
	return nil
}

// CloneFrom copies the content of src into this volume. The copy is
// brokered by the daemon: src hands out a one-use token which is then
// redeemed against the destination.
func (v *Volume) CloneFrom(src *Volume) error {
	token, err := src.call("CloneFrom", nil)
	if err != nil {
		return fmt.Errorf("Failed to obtain clone token: %w", err)
	}

	_, err = v.call("CloneTo", token)
	if err != nil {
		return err
	}

	v.info = nil
	return nil
}

// parseKeyValueLines decodes a newline-separated key=value response body.
func parseKeyValueLines(body string) (map[string]string, error) {
	fields := map[string]string{}
	for _, line := range splitLines(body) {
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, api.CommunicationErrorf("Invalid response line: %q", line)
		}

		fields[key] = value
	}

	return fields, nil
}
