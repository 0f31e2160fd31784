package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	cli "github.com/qubes-tools/qubesadmin/shared/cmd"
)

type cmdPool struct {
	global *cmdGlobal
}

func (c *cmdPool) command() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Use = usage("pool")
	cmd.Short = "Manage storage pools"
	cmd.Long = `Description:
  Manage the storage pools domains keep their volumes in.
`

	// pool list
	poolListCmd := cmdPoolList{global: c.global}
	cmd.AddCommand(poolListCmd.command())

	// pool info
	poolInfoCmd := cmdPoolInfo{global: c.global}
	cmd.AddCommand(poolInfoCmd.command())

	// pool drivers
	poolDriversCmd := cmdPoolDrivers{global: c.global}
	cmd.AddCommand(poolDriversCmd.command())

	// pool add
	poolAddCmd := cmdPoolAdd{global: c.global}
	cmd.AddCommand(poolAddCmd.command())

	// pool remove
	poolRemoveCmd := cmdPoolRemove{global: c.global}
	cmd.AddCommand(poolRemoveCmd.command())

	return cmd
}

// List.
type cmdPoolList struct {
	global *cmdGlobal

	flagFormat string
}

// poolStatus is the raw form of one pool row, used for json/yaml output.
type poolStatus struct {
	Name   string `json:"name" yaml:"name"`
	Driver string `json:"driver" yaml:"driver"`
	Size   int64  `json:"size" yaml:"size"`
	Usage  int64  `json:"usage" yaml:"usage"`
}

func (c *cmdPoolList) command() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Use = usage("list")
	cmd.Aliases = []string{"ls"}
	cmd.Short = "List storage pools"
	cmd.RunE = c.run
	cmd.Flags().StringVarP(&c.flagFormat, "format", "f", cli.TableFormatTable, "Format (csv|json|table|yaml|compact)"+"``")

	return cmd
}

func (c *cmdPoolList) run(cmd *cobra.Command, args []string) error {
	exit, err := c.global.CheckArgs(cmd, args, 0, 0)
	if exit {
		return err
	}

	names, err := c.global.app.Pools.Names()
	if err != nil {
		return err
	}

	statuses := []poolStatus{}
	data := [][]string{}
	for _, name := range names {
		pool := c.global.app.Pools.GetBlind(name)

		driver, err := pool.Driver()
		if err != nil {
			return err
		}

		size, err := pool.Size()
		if err != nil {
			return err
		}

		usage, err := pool.Usage()
		if err != nil {
			return err
		}

		statuses = append(statuses, poolStatus{Name: name, Driver: driver, Size: size, Usage: usage})
		data = append(data, []string{name, driver, fmt.Sprintf("%d", size), fmt.Sprintf("%d", usage)})
	}

	cli.SortTable(data)

	header := []string{"NAME", "DRIVER", "SIZE", "USAGE"}
	return cli.RenderTable(os.Stdout, c.flagFormat, header, data, statuses)
}

// Info.
type cmdPoolInfo struct {
	global *cmdGlobal
}

func (c *cmdPoolInfo) command() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Use = usage("info", "<pool>")
	cmd.Short = "Show storage pool configuration"
	cmd.RunE = c.run

	return cmd
}

func (c *cmdPoolInfo) run(cmd *cobra.Command, args []string) error {
	exit, err := c.global.CheckArgs(cmd, args, 1, 1)
	if exit {
		return err
	}

	pool, err := c.global.app.Pools.Get(args[0])
	if err != nil {
		return err
	}

	config, err := pool.Config()
	if err != nil {
		return err
	}

	data := [][]string{}
	for key, value := range config {
		data = append(data, []string{key, value})
	}

	cli.SortTable(data)

	header := []string{"KEY", "VALUE"}
	return cli.RenderTable(os.Stdout, cli.TableFormatTable, header, data, config)
}

// Drivers.
type cmdPoolDrivers struct {
	global *cmdGlobal
}

func (c *cmdPoolDrivers) command() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Use = usage("drivers")
	cmd.Short = "List storage pool drivers and their parameters"
	cmd.RunE = c.run

	return cmd
}

func (c *cmdPoolDrivers) run(cmd *cobra.Command, args []string) error {
	exit, err := c.global.CheckArgs(cmd, args, 0, 0)
	if exit {
		return err
	}

	drivers, err := c.global.app.PoolDrivers()
	if err != nil {
		return err
	}

	data := [][]string{}
	for _, driver := range drivers {
		params, err := c.global.app.PoolDriverParameters(driver)
		if err != nil {
			return err
		}

		data = append(data, []string{driver, strings.Join(params, ", ")})
	}

	header := []string{"DRIVER", "PARAMETERS"}
	return cli.RenderTable(os.Stdout, cli.TableFormatTable, header, data, drivers)
}

// Add.
type cmdPoolAdd struct {
	global *cmdGlobal

	flagDriver string
}

func (c *cmdPoolAdd) command() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Use = usage("add", "<pool> [<key>=<value>...]")
	cmd.Short = "Create a storage pool"
	cmd.Example = `qvm pool add -d lvm_thin big volume_group=qubes thin_pool=big
    Create an LVM thin pool named big`
	cmd.RunE = c.run
	cmd.Flags().StringVarP(&c.flagDriver, "driver", "d", "", "Storage driver for the new pool"+"``")

	return cmd
}

func (c *cmdPoolAdd) run(cmd *cobra.Command, args []string) error {
	exit, err := c.global.CheckArgs(cmd, args, 1, -1)
	if exit {
		return err
	}

	if c.flagDriver == "" {
		return fmt.Errorf("A driver must be provided")
	}

	// Validate the parameters against what the driver accepts.
	accepted, err := c.global.app.PoolDriverParameters(c.flagDriver)
	if err != nil {
		return err
	}

	params := map[string]string{}
	for _, arg := range args[1:] {
		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			return fmt.Errorf("Invalid parameter %q, expected key=value", arg)
		}

		known := false
		for _, name := range accepted {
			if name == key {
				known = true
				break
			}
		}

		if !known {
			return fmt.Errorf("Driver %s does not accept a %q parameter", c.flagDriver, key)
		}

		params[key] = value
	}

	return c.global.app.AddPool(args[0], c.flagDriver, params)
}

// Remove.
type cmdPoolRemove struct {
	global *cmdGlobal
}

func (c *cmdPoolRemove) command() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Use = usage("remove", "<pool>")
	cmd.Aliases = []string{"rm"}
	cmd.Short = "Remove a storage pool"
	cmd.RunE = c.run

	return cmd
}

func (c *cmdPoolRemove) run(cmd *cobra.Command, args []string) error {
	exit, err := c.global.CheckArgs(cmd, args, 1, 1)
	if exit {
		return err
	}

	return c.global.app.RemovePool(args[0])
}
