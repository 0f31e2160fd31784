package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

type cmdClone struct {
	global *cmdGlobal
}

func (c *cmdClone) command() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Use = usage("clone", "<vm> <new-name>")
	cmd.Short = "Clone a domain"
	cmd.Long = `Description:
  Clone a domain: its class, properties, tags, features and persistent
  volume contents. The source domain must be halted.
`
	cmd.RunE = c.run

	return cmd
}

func (c *cmdClone) run(cmd *cobra.Command, args []string) error {
	exit, err := c.global.CheckArgs(cmd, args, 2, 2)
	if exit {
		return err
	}

	src, err := c.global.app.Domains.Get(args[0])
	if err != nil {
		return err
	}

	halted, err := src.IsHalted()
	if err != nil {
		return err
	}

	if !halted {
		return fmt.Errorf("Domain %s must be halted before cloning", args[0])
	}

	_, err = c.global.app.CloneVM(src, args[1])
	if err != nil {
		return fmt.Errorf("Failed to clone %s: %w", args[0], err)
	}

	return nil
}
