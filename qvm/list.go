package main

import (
	"os"

	"github.com/spf13/cobra"

	qubesadmin "github.com/qubes-tools/qubesadmin/client"
	"github.com/qubes-tools/qubesadmin/shared/api"
	cli "github.com/qubes-tools/qubesadmin/shared/cmd"
)

type cmdList struct {
	global *cmdGlobal

	flagFormat  string
	flagRunning bool
}

// vmStatus is the raw form of one list row, used for json/yaml output.
type vmStatus struct {
	Name     string `json:"name" yaml:"name"`
	State    string `json:"state" yaml:"state"`
	Class    string `json:"class" yaml:"class"`
	Label    string `json:"label" yaml:"label"`
	Template string `json:"template,omitempty" yaml:"template,omitempty"`
	NetVM    string `json:"netvm,omitempty" yaml:"netvm,omitempty"`
}

func (c *cmdList) command() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Use = usage("list")
	cmd.Aliases = []string{"ls"}
	cmd.Short = "List domains"
	cmd.Long = `Description:
  List domains with their state, class, label, template and network VM.
`
	cmd.RunE = c.run
	cmd.Flags().StringVarP(&c.flagFormat, "format", "f", cli.TableFormatTable, "Format (csv|json|table|yaml|compact)"+"``")
	cmd.Flags().BoolVar(&c.flagRunning, "running", false, "Show only running domains")

	return cmd
}

func (c *cmdList) run(cmd *cobra.Command, args []string) error {
	exit, err := c.global.CheckArgs(cmd, args, 0, 0)
	if exit {
		return err
	}

	names, err := c.global.app.Domains.Names()
	if err != nil {
		return err
	}

	statuses := []vmStatus{}
	for _, name := range names {
		vm := c.global.app.Domains.GetBlind(name)

		status, err := c.status(vm)
		if err != nil {
			return err
		}

		if c.flagRunning && status.State == qubesadmin.PowerStateHalted {
			continue
		}

		statuses = append(statuses, status)
	}

	data := [][]string{}
	for _, status := range statuses {
		data = append(data, []string{
			status.Name, status.State, status.Class,
			status.Label, status.Template, status.NetVM,
		})
	}

	cli.SortTable(data)

	header := []string{"NAME", "STATE", "CLASS", "LABEL", "TEMPLATE", "NETVM"}
	return cli.RenderTable(os.Stdout, c.flagFormat, header, data, statuses)
}

func (c *cmdList) status(vm *qubesadmin.VM) (vmStatus, error) {
	status := vmStatus{Name: vm.Name()}

	var err error
	status.State, err = vm.PowerState()
	if err != nil {
		return vmStatus{}, err
	}

	status.Class, err = vm.Class()
	if err != nil {
		return vmStatus{}, err
	}

	status.Label, err = vm.GetString("label")
	if err != nil {
		return vmStatus{}, err
	}

	// Not every class has a template or a network VM.
	status.Template, err = c.optionalRef(vm, "template")
	if err != nil {
		return vmStatus{}, err
	}

	status.NetVM, err = c.optionalRef(vm, "netvm")
	if err != nil {
		return vmStatus{}, err
	}

	return status, nil
}

func (c *cmdList) optionalRef(vm *qubesadmin.VM, property string) (string, error) {
	value, err := vm.GetProperty(property)
	if err != nil {
		if api.IsPropertyAccess(err) {
			return "", nil
		}

		return "", err
	}

	if value.Null || value.VM == nil {
		return "", nil
	}

	return value.VM.Name(), nil
}
