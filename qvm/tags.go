package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

type cmdTags struct {
	global *cmdGlobal
}

func (c *cmdTags) command() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Use = usage("tags", "<vm> [add|del|list] [<tag>...]")
	cmd.Short = "Show or change domain tags"
	cmd.Long = `Description:
  List, add or remove the tags of a domain. Tags are plain markers,
  mostly consumed by qrexec policy rules.
`
	cmd.RunE = c.run

	return cmd
}

func (c *cmdTags) run(cmd *cobra.Command, args []string) error {
	exit, err := c.global.CheckArgs(cmd, args, 1, -1)
	if exit {
		return err
	}

	vm, err := c.global.app.Domains.Get(args[0])
	if err != nil {
		return err
	}

	action := "list"
	if len(args) > 1 {
		action = args[1]
	}

	switch action {
	case "list", "ls":
		tags, err := vm.Tags.List()
		if err != nil {
			return err
		}

		for _, tag := range tags {
			fmt.Println(tag)
		}

		return nil
	case "add":
		if len(args) < 3 {
			return fmt.Errorf("At least one tag must be provided")
		}

		for _, tag := range args[2:] {
			err := vm.Tags.Add(tag)
			if err != nil {
				return err
			}
		}

		return nil
	case "del", "rm":
		if len(args) < 3 {
			return fmt.Errorf("At least one tag must be provided")
		}

		for _, tag := range args[2:] {
			err := vm.Tags.Remove(tag)
			if err != nil {
				return err
			}
		}

		return nil
	default:
		return fmt.Errorf("Unknown action %q", action)
	}
}
