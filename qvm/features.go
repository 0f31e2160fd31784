package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

type cmdFeatures struct {
	global *cmdGlobal

	flagUnset bool
}

func (c *cmdFeatures) command() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Use = usage("features", "<vm> [<feature> [<value>]]")
	cmd.Short = "Show or change domain features"
	cmd.Long = `Description:
  With no feature, list all features of the domain. With a feature,
  print its value. With a feature and a value, set it. With --unset,
  remove the feature.
`
	cmd.RunE = c.run
	cmd.Flags().BoolVarP(&c.flagUnset, "unset", "D", false, "Remove the feature")

	return cmd
}

func (c *cmdFeatures) run(cmd *cobra.Command, args []string) error {
	exit, err := c.global.CheckArgs(cmd, args, 1, 3)
	if exit {
		return err
	}

	vm, err := c.global.app.Domains.Get(args[0])
	if err != nil {
		return err
	}

	if c.flagUnset {
		if len(args) != 2 {
			return fmt.Errorf("Unsetting requires exactly one feature name")
		}

		return vm.Features.Remove(args[1])
	}

	switch len(args) {
	case 1:
		names, err := vm.Features.List()
		if err != nil {
			return err
		}

		for _, name := range names {
			value, err := vm.Features.Get(name)
			if err != nil {
				return err
			}

			fmt.Printf("%s=%s\n", name, value)
		}

		return nil
	case 2:
		value, err := vm.Features.Get(args[1])
		if err != nil {
			return err
		}

		fmt.Printf("%s\n", value)
		return nil
	default:
		return vm.Features.Set(args[1], args[2])
	}
}
