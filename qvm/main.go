package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	qubesadmin "github.com/qubes-tools/qubesadmin/client"
	"github.com/qubes-tools/qubesadmin/shared/logger"
)

// Version is the qvm tool version.
var Version = "4.2.0"

type cmdGlobal struct {
	app *qubesadmin.App

	flagHelp    bool
	flagVersion bool
	flagVerbose bool
	flagDebug   bool
	flagCache   bool
	flagSocket  string
}

func main() {
	// global command (qvm)
	app := &cobra.Command{}
	app.Use = "qvm"
	app.Short = "Manage Qubes domains"
	app.Long = `Description:
  Manage Qubes domains

  This tool talks to the qubesd daemon, either directly over its local
  socket (in dom0) or through qrexec service calls (in a management VM).
`
	app.SilenceUsage = true
	app.SilenceErrors = true
	app.CompletionOptions = cobra.CompletionOptions{DisableDefaultCmd: true}

	// Global flags
	globalCmd := cmdGlobal{}
	app.PersistentFlags().BoolVar(&globalCmd.flagVersion, "version", false, "Print version number")
	app.PersistentFlags().BoolVarP(&globalCmd.flagHelp, "help", "h", false, "Print help")
	app.PersistentFlags().BoolVarP(&globalCmd.flagVerbose, "verbose", "v", false, "Show all information messages")
	app.PersistentFlags().BoolVarP(&globalCmd.flagDebug, "debug", "d", false, "Show all debug messages")
	app.PersistentFlags().BoolVar(&globalCmd.flagCache, "cache", false, "Cache property values between calls")
	app.PersistentFlags().StringVar(&globalCmd.flagSocket, "socket", "", "Path to the qubesd socket"+"``")

	// Wrappers
	app.PersistentPreRunE = globalCmd.PreRun

	// Version handling
	app.SetVersionTemplate("{{.Version}}\n")
	app.Version = Version

	// clone sub-command
	cloneCmd := cmdClone{global: &globalCmd}
	app.AddCommand(cloneCmd.command())

	// create sub-command
	createCmd := cmdCreate{global: &globalCmd}
	app.AddCommand(createCmd.command())

	// devices sub-command
	devicesCmd := cmdDevices{global: &globalCmd}
	app.AddCommand(devicesCmd.command())

	// features sub-command
	featuresCmd := cmdFeatures{global: &globalCmd}
	app.AddCommand(featuresCmd.command())

	// kill sub-command
	killCmd := cmdKill{global: &globalCmd}
	app.AddCommand(killCmd.command())

	// list sub-command
	listCmd := cmdList{global: &globalCmd}
	app.AddCommand(listCmd.command())

	// monitor sub-command
	monitorCmd := cmdMonitor{global: &globalCmd}
	app.AddCommand(monitorCmd.command())

	// pause sub-command
	pauseCmd := cmdPause{global: &globalCmd}
	app.AddCommand(pauseCmd.command())

	// pool sub-command
	poolCmd := cmdPool{global: &globalCmd}
	app.AddCommand(poolCmd.command())

	// prefs sub-command
	prefsCmd := cmdPrefs{global: &globalCmd}
	app.AddCommand(prefsCmd.command())

	// remove sub-command
	removeCmd := cmdRemove{global: &globalCmd}
	app.AddCommand(removeCmd.command())

	// run sub-command
	runCmd := cmdRun{global: &globalCmd}
	app.AddCommand(runCmd.command())

	// shutdown sub-command
	shutdownCmd := cmdShutdown{global: &globalCmd}
	app.AddCommand(shutdownCmd.command())

	// start sub-command
	startCmd := cmdStart{global: &globalCmd}
	app.AddCommand(startCmd.command())

	// tags sub-command
	tagsCmd := cmdTags{global: &globalCmd}
	app.AddCommand(tagsCmd.command())

	// unpause sub-command
	unpauseCmd := cmdUnpause{global: &globalCmd}
	app.AddCommand(unpauseCmd.command())

	// Run the main command and handle errors
	err := app.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// PreRun sets up logging and the daemon connection before any sub-command
// runs.
func (c *cmdGlobal) PreRun(cmd *cobra.Command, args []string) error {
	logger.InitLogger(c.flagVerbose, c.flagDebug)

	c.app = qubesadmin.Connect(&qubesadmin.ConnectionArgs{
		SocketPath:  c.flagSocket,
		EnableCache: c.flagCache,
	})

	return nil
}

// CheckArgs validates the number of positional arguments.
func (c *cmdGlobal) CheckArgs(cmd *cobra.Command, args []string, minArgs int, maxArgs int) (bool, error) {
	if len(args) < minArgs || (maxArgs != -1 && len(args) > maxArgs) {
		_ = cmd.Help()

		if len(args) == 0 {
			return true, nil
		}

		return true, fmt.Errorf("Invalid number of arguments")
	}

	return false, nil
}

// usage formats the Use string for a sub-command.
func usage(name string, args ...string) string {
	if len(args) == 0 {
		return name
	}

	return name + " " + args[0]
}
