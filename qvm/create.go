package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

type cmdCreate struct {
	global *cmdGlobal

	flagClass    string
	flagLabel    string
	flagTemplate string
	flagPool     string
}

func (c *cmdCreate) command() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Use = usage("create", "<vm>")
	cmd.Short = "Create a new domain"
	cmd.Long = `Description:
  Create a new domain of the given class, based on a template where the
  class requires one.
`
	cmd.Example = `qvm create --class AppVM --label red --template fedora-40 work
    Create an AppVM named work based on the fedora-40 template`
	cmd.RunE = c.run
	cmd.Flags().StringVarP(&c.flagClass, "class", "C", "AppVM", "Class of the new domain"+"``")
	cmd.Flags().StringVarP(&c.flagLabel, "label", "l", "", "Label (color) of the new domain"+"``")
	cmd.Flags().StringVarP(&c.flagTemplate, "template", "t", "", "Template the new domain is based on"+"``")
	cmd.Flags().StringVarP(&c.flagPool, "pool", "p", "", "Storage pool for all the domain's volumes"+"``")

	return cmd
}

func (c *cmdCreate) run(cmd *cobra.Command, args []string) error {
	exit, err := c.global.CheckArgs(cmd, args, 1, 1)
	if exit {
		return err
	}

	if c.flagLabel == "" {
		return fmt.Errorf("A label must be provided")
	}

	// Resolve the label up front so typos fail before the domain exists.
	label, err := c.global.app.GetLabel(c.flagLabel)
	if err != nil {
		return err
	}

	_, err = c.global.app.AddNewVM(c.flagClass, args[0], label.Name(), c.flagTemplate, c.flagPool, nil)
	if err != nil {
		return fmt.Errorf("Failed to create %s: %w", args[0], err)
	}

	return nil
}
