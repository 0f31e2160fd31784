package main

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/kballard/go-shellquote"
	"github.com/spf13/cobra"
)

type cmdRun struct {
	global *cmdGlobal

	flagUser    string
	flagService bool
}

func (c *cmdRun) command() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Use = usage("run", "<vm> <command> [<arg>...]")
	cmd.Short = "Run a command in a domain"
	cmd.Long = `Description:
  Run a command in a domain through the qubes.VMShell qrexec service,
  wiring the local stdin, stdout and stderr to it. With --service the
  command argument names a qrexec service to invoke directly.
`
	cmd.Example = `qvm run work firefox
    Run firefox in the work domain

qvm run --service work qubes.Filecopy
    Invoke the qubes.Filecopy service in work`
	cmd.RunE = c.run
	cmd.Flags().StringVarP(&c.flagUser, "user", "u", "", "Run the command as this user"+"``")
	cmd.Flags().BoolVar(&c.flagService, "service", false, "Invoke a qrexec service instead of a shell command")

	return cmd
}

func (c *cmdRun) run(cmd *cobra.Command, args []string) error {
	exit, err := c.global.CheckArgs(cmd, args, 2, -1)
	if exit {
		return err
	}

	vm, err := c.global.app.Domains.Get(args[0])
	if err != nil {
		return err
	}

	running, err := vm.IsRunning()
	if err != nil {
		return err
	}

	if !running {
		return fmt.Errorf("Domain %s is not running", args[0])
	}

	var proc *exec.Cmd
	if c.flagService {
		if len(args) != 2 {
			return fmt.Errorf("Service invocation takes no command arguments")
		}

		proc = vm.ServiceCommand(args[1])
		proc.Stdin = os.Stdin
	} else {
		// The shell reads one command line from the service's stdin.
		command := shellquote.Join(args[1:]...)
		if c.flagUser != "" {
			command = fmt.Sprintf("su - %s -c %s", c.flagUser, shellquote.Join(command))
		}

		proc = vm.ServiceCommand("qubes.VMShell")
		proc.Stdin = strings.NewReader(command + "\n")
	}

	proc.Stdout = os.Stdout
	proc.Stderr = os.Stderr

	return proc.Run()
}
