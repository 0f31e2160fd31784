package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"

	"github.com/spf13/cobra"

	qubesadmin "github.com/qubes-tools/qubesadmin/client"
	"github.com/qubes-tools/qubesadmin/shared/api"
)

type cmdMonitor struct {
	global *cmdGlobal

	flagVM    string
	flagEvent string
}

func (c *cmdMonitor) command() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Use = usage("monitor")
	cmd.Short = "Monitor daemon events"
	cmd.Long = `Description:
  Subscribe to the daemon's event feed and print each event as it
  arrives, until interrupted. While the daemon's socket refuses
  connections the subscription is retried; a cleanly closed feed ends
  the command.
`
	cmd.RunE = c.run
	cmd.Flags().StringVar(&c.flagVM, "vm", "", "Only show events concerning this domain"+"``")
	cmd.Flags().StringVar(&c.flagEvent, "event", "*", "Only show this event"+"``")

	return cmd
}

func (c *cmdMonitor) run(cmd *cobra.Command, args []string) error {
	exit, err := c.global.CheckArgs(cmd, args, 0, 0)
	if exit {
		return err
	}

	var vm *qubesadmin.VM
	if c.flagVM != "" {
		vm, err = c.global.app.Domains.Get(c.flagVM)
		if err != nil {
			return err
		}
	}

	dispatcher := qubesadmin.NewEventsDispatcher(c.global.app)
	_, err = dispatcher.AddHandler(c.flagEvent, printEvent)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	return dispatcher.ListenForEvents(ctx, vm, true)
}

func printEvent(subject *qubesadmin.VM, event api.Event) {
	target := "-"
	if subject != nil {
		target = subject.Name()
	}

	keys := make([]string, 0, len(event.Data))
	for key := range event.Data {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	line := fmt.Sprintf("%s %s", target, event.Name)
	for _, key := range keys {
		line += fmt.Sprintf(" %s=%s", key, event.Data[key])
	}

	fmt.Println(line)
}
