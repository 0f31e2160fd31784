package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	qubesadmin "github.com/qubes-tools/qubesadmin/client"
	"github.com/qubes-tools/qubesadmin/shared/api"
	cli "github.com/qubes-tools/qubesadmin/shared/cmd"
)

type cmdPrefs struct {
	global *cmdGlobal

	flagFormat  string
	flagDefault bool
}

func (c *cmdPrefs) command() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Use = usage("prefs", "<vm> [<property> [<value>]]")
	cmd.Short = "Show or change domain properties"
	cmd.Long = `Description:
  With no property, list all properties of the domain. With a property,
  print its value. With a property and a value, set it. With --default,
  reset the property to its default value.
`
	cmd.Example = `qvm prefs work
    List all properties of work

qvm prefs work netvm sys-firewall
    Route work's network through sys-firewall

qvm prefs --default work netvm
    Go back to the default network VM`
	cmd.RunE = c.run
	cmd.Flags().StringVarP(&c.flagFormat, "format", "f", cli.TableFormatTable, "Format (csv|json|table|yaml|compact)"+"``")
	cmd.Flags().BoolVarP(&c.flagDefault, "default", "D", false, "Reset the property to its default value")

	return cmd
}

func (c *cmdPrefs) run(cmd *cobra.Command, args []string) error {
	exit, err := c.global.CheckArgs(cmd, args, 1, 3)
	if exit {
		return err
	}

	vm, err := c.global.app.Domains.Get(args[0])
	if err != nil {
		return err
	}

	if c.flagDefault {
		if len(args) != 2 {
			return fmt.Errorf("Resetting requires exactly one property name")
		}

		return vm.ResetProperty(args[1])
	}

	switch len(args) {
	case 1:
		return c.list(vm)
	case 2:
		value, err := vm.GetProperty(args[1])
		if err != nil {
			return err
		}

		fmt.Printf("%s\n", value.String())
		return nil
	default:
		return vm.SetProperty(args[1], qubesadmin.StringValue(args[2]))
	}
}

// prefEntry is the raw form of one property row, used for json/yaml output.
type prefEntry struct {
	Name    string `json:"name" yaml:"name"`
	Default bool   `json:"default" yaml:"default"`
	Value   string `json:"value" yaml:"value"`
}

func (c *cmdPrefs) list(vm *qubesadmin.VM) error {
	names, err := vm.PropertyList()
	if err != nil {
		return err
	}

	entries := []prefEntry{}
	data := [][]string{}
	for _, name := range names {
		isDefault, err := vm.PropertyIsDefault(name)
		if err != nil {
			if api.IsPropertyAccess(err) {
				// Property exists but has no value for this domain.
				continue
			}

			return err
		}

		value, err := vm.GetProperty(name)
		if err != nil {
			if api.IsPropertyAccess(err) {
				continue
			}

			return err
		}

		entry := prefEntry{Name: name, Default: isDefault, Value: value.String()}
		entries = append(entries, entry)

		marker := "-"
		if isDefault {
			marker = "default"
		}

		data = append(data, []string{name, marker, entry.Value})
	}

	cli.SortTable(data)

	header := []string{"PROPERTY", "SOURCE", "VALUE"}
	return cli.RenderTable(os.Stdout, c.flagFormat, header, data, entries)
}
