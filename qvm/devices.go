package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	qubesadmin "github.com/qubes-tools/qubesadmin/client"
	"github.com/qubes-tools/qubesadmin/shared/api"
	cli "github.com/qubes-tools/qubesadmin/shared/cmd"
)

type cmdDevices struct {
	global *cmdGlobal
}

func (c *cmdDevices) command() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Use = usage("devices")
	cmd.Short = "Manage domain devices"
	cmd.Long = `Description:
  List, attach and detach the devices domains expose to each other,
  per device class (pci, block, usb, mic, ...). Devices are addressed
  as <backend>:<ident>.
`

	// devices list
	devicesListCmd := cmdDevicesList{global: c.global}
	cmd.AddCommand(devicesListCmd.command())

	// devices attach
	devicesAttachCmd := cmdDevicesAttach{global: c.global}
	cmd.AddCommand(devicesAttachCmd.command())

	// devices detach
	devicesDetachCmd := cmdDevicesDetach{global: c.global}
	cmd.AddCommand(devicesDetachCmd.command())

	// devices attached
	devicesAttachedCmd := cmdDevicesAttached{global: c.global}
	cmd.AddCommand(devicesAttachedCmd.command())

	return cmd
}

// parseDeviceAddress splits the <backend>:<ident> form used on the command
// line.
func parseDeviceAddress(address string) (string, string, error) {
	backend, ident, ok := strings.Cut(address, ":")
	if !ok || backend == "" || ident == "" {
		return "", "", fmt.Errorf("Invalid device %q, expected <backend>:<ident>", address)
	}

	return backend, ident, nil
}

// List.
type cmdDevicesList struct {
	global *cmdGlobal

	flagFormat string
}

func (c *cmdDevicesList) command() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Use = usage("list", "<class> [<vm>...]")
	cmd.Aliases = []string{"ls"}
	cmd.Short = "List available devices"
	cmd.Long = `Description:
  List the devices of the given class exposed by the named domains, or
  by every domain when none is named. Domains that cannot report their
  devices (halted, or not a backend for this class) are skipped.
`
	cmd.RunE = c.run
	cmd.Flags().StringVarP(&c.flagFormat, "format", "f", cli.TableFormatTable, "Format (csv|json|table|yaml|compact)"+"``")

	return cmd
}

// deviceStatus is the raw form of one device row, used for json/yaml output.
type deviceStatus struct {
	Backend     string   `json:"backend" yaml:"backend"`
	Ident       string   `json:"ident" yaml:"ident"`
	Description string   `json:"description" yaml:"description"`
	UsedBy      []string `json:"used_by" yaml:"used_by"`
}

func (c *cmdDevicesList) run(cmd *cobra.Command, args []string) error {
	exit, err := c.global.CheckArgs(cmd, args, 1, -1)
	if exit {
		return err
	}

	class := args[0]

	names := args[1:]
	if len(names) == 0 {
		names, err = c.global.app.Domains.Names()
		if err != nil {
			return err
		}
	}

	// Who has what attached, keyed by backend:ident.
	usedBy := map[string][]string{}
	for _, name := range names {
		vm := c.global.app.Domains.GetBlind(name)

		assignments, err := vm.Devices(class).Assignments()
		if err != nil {
			if api.IsNoResponse(err) || api.IsVMNotFound(err) {
				continue
			}

			return err
		}

		for _, assignment := range assignments {
			address := fmt.Sprintf("%s:%s", assignment.Backend, assignment.Ident)
			usedBy[address] = append(usedBy[address], name)
		}
	}

	statuses := []deviceStatus{}
	data := [][]string{}
	for _, name := range names {
		vm := c.global.app.Domains.GetBlind(name)

		devices, err := vm.Devices(class).Available()
		if err != nil {
			if api.IsNoResponse(err) || api.IsVMNotFound(err) {
				continue
			}

			return err
		}

		for _, device := range devices {
			address := fmt.Sprintf("%s:%s", device.Backend, device.Ident)
			frontends := usedBy[address]

			statuses = append(statuses, deviceStatus{
				Backend:     device.Backend,
				Ident:       device.Ident,
				Description: device.Description,
				UsedBy:      frontends,
			})
			data = append(data, []string{address, device.Description, strings.Join(frontends, ", ")})
		}
	}

	cli.SortTable(data)

	header := []string{"DEVICE", "DESCRIPTION", "USED BY"}
	return cli.RenderTable(os.Stdout, c.flagFormat, header, data, statuses)
}

// Attach.
type cmdDevicesAttach struct {
	global *cmdGlobal

	flagPersistent bool
	flagOptions    []string
}

func (c *cmdDevicesAttach) command() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Use = usage("attach", "<class> <vm> <backend>:<ident>")
	cmd.Short = "Attach a device to a domain"
	cmd.Example = `qvm devices attach block work sys-usb:sda1 -o read-only=yes
    Attach sys-usb's sda1 to work, read-only`
	cmd.RunE = c.run
	cmd.Flags().BoolVarP(&c.flagPersistent, "persistent", "p", false, "Reattach the device on domain restart")
	cmd.Flags().StringArrayVarP(&c.flagOptions, "option", "o", nil, "Attachment option, key=value"+"``")

	return cmd
}

func (c *cmdDevicesAttach) run(cmd *cobra.Command, args []string) error {
	exit, err := c.global.CheckArgs(cmd, args, 3, 3)
	if exit {
		return err
	}

	vm, err := c.global.app.Domains.Get(args[1])
	if err != nil {
		return err
	}

	backend, ident, err := parseDeviceAddress(args[2])
	if err != nil {
		return err
	}

	options := map[string]string{}
	for _, option := range c.flagOptions {
		key, value, ok := strings.Cut(option, "=")
		if !ok {
			return fmt.Errorf("Invalid option %q, expected key=value", option)
		}

		options[key] = value
	}

	return vm.Devices(args[0]).Attach(qubesadmin.DeviceAssignment{
		Backend:    backend,
		Ident:      ident,
		Persistent: c.flagPersistent,
		Options:    options,
	})
}

// Detach.
type cmdDevicesDetach struct {
	global *cmdGlobal
}

func (c *cmdDevicesDetach) command() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Use = usage("detach", "<class> <vm> <backend>:<ident>")
	cmd.Short = "Detach a device from a domain"
	cmd.RunE = c.run

	return cmd
}

func (c *cmdDevicesDetach) run(cmd *cobra.Command, args []string) error {
	exit, err := c.global.CheckArgs(cmd, args, 3, 3)
	if exit {
		return err
	}

	vm, err := c.global.app.Domains.Get(args[1])
	if err != nil {
		return err
	}

	backend, ident, err := parseDeviceAddress(args[2])
	if err != nil {
		return err
	}

	return vm.Devices(args[0]).Detach(backend, ident)
}

// Attached.
type cmdDevicesAttached struct {
	global *cmdGlobal
}

func (c *cmdDevicesAttached) command() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Use = usage("attached", "<class> <vm>")
	cmd.Short = "List the devices attached to a domain"
	cmd.RunE = c.run

	return cmd
}

func (c *cmdDevicesAttached) run(cmd *cobra.Command, args []string) error {
	exit, err := c.global.CheckArgs(cmd, args, 2, 2)
	if exit {
		return err
	}

	vm, err := c.global.app.Domains.Get(args[1])
	if err != nil {
		return err
	}

	assignments, err := vm.Devices(args[0]).Assignments()
	if err != nil {
		return err
	}

	data := [][]string{}
	for _, assignment := range assignments {
		persistent := "no"
		if assignment.Persistent {
			persistent = "yes"
		}

		options := make([]string, 0, len(assignment.Options))
		for key, value := range assignment.Options {
			options = append(options, fmt.Sprintf("%s=%s", key, value))
		}

		sort.Strings(options)

		address := fmt.Sprintf("%s:%s", assignment.Backend, assignment.Ident)
		data = append(data, []string{address, persistent, strings.Join(options, " ")})
	}

	cli.SortTable(data)

	header := []string{"DEVICE", "PERSISTENT", "OPTIONS"}
	return cli.RenderTable(os.Stdout, cli.TableFormatTable, header, data, assignments)
}
