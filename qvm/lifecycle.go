package main

import (
	"fmt"
	"time"

	"github.com/Rican7/retry"
	"github.com/Rican7/retry/strategy"
	"github.com/spf13/cobra"

	qubesadmin "github.com/qubes-tools/qubesadmin/client"
	"github.com/qubes-tools/qubesadmin/shared/api"
)

// Start.
type cmdStart struct {
	global *cmdGlobal

	flagSkipIfRunning bool
}

func (c *cmdStart) command() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Use = usage("start", "<vm> [<vm>...]")
	cmd.Short = "Start domains"
	cmd.Long = `Description:
  Start domains.
`
	cmd.RunE = c.run
	cmd.Flags().BoolVar(&c.flagSkipIfRunning, "skip-if-running", false, "Do not fail when the domain is already running")

	return cmd
}

func (c *cmdStart) run(cmd *cobra.Command, args []string) error {
	exit, err := c.global.CheckArgs(cmd, args, 1, -1)
	if exit {
		return err
	}

	for _, name := range args {
		vm, err := c.global.app.Domains.Get(name)
		if err != nil {
			return err
		}

		err = vm.Start()
		if err != nil {
			if c.flagSkipIfRunning && api.IsVMNotHalted(err) {
				continue
			}

			return fmt.Errorf("Failed to start %s: %w", name, err)
		}
	}

	return nil
}

// Shutdown.
type cmdShutdown struct {
	global *cmdGlobal

	flagForce   bool
	flagWait    bool
	flagTimeout uint
}

func (c *cmdShutdown) command() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Use = usage("shutdown", "<vm> [<vm>...]")
	cmd.Short = "Shut down domains"
	cmd.Long = `Description:
  Ask domains to shut down cleanly.
`
	cmd.RunE = c.run
	cmd.Flags().BoolVar(&c.flagForce, "force", false, "Shut down even when the guest objects")
	cmd.Flags().BoolVar(&c.flagWait, "wait", false, "Wait until the domain is halted")
	cmd.Flags().UintVar(&c.flagTimeout, "timeout", 60, "Seconds to wait with --wait before giving up"+"``")

	return cmd
}

func (c *cmdShutdown) run(cmd *cobra.Command, args []string) error {
	exit, err := c.global.CheckArgs(cmd, args, 1, -1)
	if exit {
		return err
	}

	for _, name := range args {
		vm, err := c.global.app.Domains.Get(name)
		if err != nil {
			return err
		}

		err = vm.Shutdown(c.flagForce)
		if err != nil {
			return fmt.Errorf("Failed to shut down %s: %w", name, err)
		}
	}

	if !c.flagWait {
		return nil
	}

	for _, name := range args {
		vm := c.global.app.Domains.GetBlind(name)
		err := c.waitHalted(vm)
		if err != nil {
			return err
		}
	}

	return nil
}

func (c *cmdShutdown) waitHalted(vm *qubesadmin.VM) error {
	return retry.Retry(func(attempt uint) error {
		halted, err := vm.IsHalted()
		if err != nil {
			return err
		}

		if !halted {
			return fmt.Errorf("Domain %s still not halted", vm.Name())
		}

		return nil
	}, strategy.Limit(c.flagTimeout), strategy.Wait(time.Second))
}

// Kill.
type cmdKill struct {
	global *cmdGlobal
}

func (c *cmdKill) command() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Use = usage("kill", "<vm> [<vm>...]")
	cmd.Short = "Stop domains immediately"
	cmd.Long = `Description:
  Stop domains immediately, without giving the guest a chance to react.
`
	cmd.RunE = c.run

	return cmd
}

func (c *cmdKill) run(cmd *cobra.Command, args []string) error {
	exit, err := c.global.CheckArgs(cmd, args, 1, -1)
	if exit {
		return err
	}

	for _, name := range args {
		vm, err := c.global.app.Domains.Get(name)
		if err != nil {
			return err
		}

		err = vm.Kill()
		if err != nil && !api.IsServerError(err, api.ErrnameVMNotStarted) {
			return fmt.Errorf("Failed to kill %s: %w", name, err)
		}
	}

	return nil
}

// Pause.
type cmdPause struct {
	global *cmdGlobal
}

func (c *cmdPause) command() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Use = usage("pause", "<vm> [<vm>...]")
	cmd.Short = "Pause domains"
	cmd.Long = `Description:
  Freeze the CPUs of running domains.
`
	cmd.RunE = c.run

	return cmd
}

func (c *cmdPause) run(cmd *cobra.Command, args []string) error {
	exit, err := c.global.CheckArgs(cmd, args, 1, -1)
	if exit {
		return err
	}

	for _, name := range args {
		vm, err := c.global.app.Domains.Get(name)
		if err != nil {
			return err
		}

		err = vm.Pause()
		if err != nil {
			return fmt.Errorf("Failed to pause %s: %w", name, err)
		}
	}

	return nil
}

// Unpause.
type cmdUnpause struct {
	global *cmdGlobal
}

func (c *cmdUnpause) command() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Use = usage("unpause", "<vm> [<vm>...]")
	cmd.Short = "Resume paused domains"
	cmd.Long = `Description:
  Resume paused domains.
`
	cmd.RunE = c.run

	return cmd
}

func (c *cmdUnpause) run(cmd *cobra.Command, args []string) error {
	exit, err := c.global.CheckArgs(cmd, args, 1, -1)
	if exit {
		return err
	}

	for _, name := range args {
		vm, err := c.global.app.Domains.Get(name)
		if err != nil {
			return err
		}

		err = vm.Unpause()
		if err != nil {
			return fmt.Errorf("Failed to unpause %s: %w", name, err)
		}
	}

	return nil
}

// Remove.
type cmdRemove struct {
	global *cmdGlobal
}

func (c *cmdRemove) command() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Use = usage("remove", "<vm> [<vm>...]")
	cmd.Aliases = []string{"rm"}
	cmd.Short = "Remove domains"
	cmd.Long = `Description:
  Remove halted domains, including their storage.
`
	cmd.RunE = c.run

	return cmd
}

func (c *cmdRemove) run(cmd *cobra.Command, args []string) error {
	exit, err := c.global.CheckArgs(cmd, args, 1, -1)
	if exit {
		return err
	}

	for _, name := range args {
		err := c.global.app.Domains.Remove(name)
		if err != nil {
			return fmt.Errorf("Failed to remove %s: %w", name, err)
		}
	}

	return nil
}
