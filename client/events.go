package qubesadmin

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"syscall"
	"time"

	"gopkg.in/tomb.v2"

	"github.com/qubes-tools/qubesadmin/shared/api"
	"github.com/qubes-tools/qubesadmin/shared/logger"
)

// EventHandler is called for each delivered event. subject is nil for
// global events.
type EventHandler func(subject *VM, event api.Event)

// The EventTarget struct is returned to the caller of AddHandler and used in
// RemoveHandler.
type EventTarget struct {
	function EventHandler
	event    string
}

// EventsDispatcher maintains a subscription to the daemon's event feed and
// delivers events to registered handlers. It also keeps the App's property
// and power state caches in sync with what the feed reports.
type EventsDispatcher struct {
	app *App

	targets     map[string][]*EventTarget
	targetsLock sync.Mutex

	t tomb.Tomb
}

// NewEventsDispatcher returns a dispatcher for the App's event feed.
func NewEventsDispatcher(app *App) *EventsDispatcher {
	return &EventsDispatcher{
		app:     app,
		targets: map[string][]*EventTarget{},
	}
}

// AddHandler registers a function to be called whenever the named event is
// received. event may be a glob pattern ("*" for everything,
// "property-set:*" for a family); pattern handlers run after the exact-name
// ones.
func (e *EventsDispatcher) AddHandler(event string, function EventHandler) (*EventTarget, error) {
	if function == nil {
		return nil, fmt.Errorf("A valid function must be provided")
	}

	e.targetsLock.Lock()
	defer e.targetsLock.Unlock()

	target := EventTarget{function: function, event: event}
	e.targets[event] = append(e.targets[event], &target)
	return &target, nil
}

// RemoveHandler removes a previously registered handler.
func (e *EventsDispatcher) RemoveHandler(target *EventTarget) error {
	if target == nil {
		return fmt.Errorf("A valid event target must be provided")
	}

	e.targetsLock.Lock()
	defer e.targetsLock.Unlock()

	targets := e.targets[target.event]
	for i, entry := range targets {
		if entry == target {
			copy(targets[i:], targets[i+1:])
			targets[len(targets)-1] = nil
			e.targets[target.event] = targets[:len(targets)-1]
			return nil
		}
	}

	return fmt.Errorf("Couldn't find this function and event combination")
}

// ListenForEvents reads the event feed until the context is cancelled or
// the feed ends. vm limits the subscription to one VM's events; nil
// subscribes to everything. With reconnect true a refused connection is
// retried after the App's reconnect delay instead of being returned.
func (e *EventsDispatcher) ListenForEvents(ctx context.Context, vm *VM, reconnect bool) error {
	dest := "dom0"
	if vm != nil {
		dest = vm.Name()
	}

	delay := time.Duration(e.app.reconnectDelay)
	for {
		err := e.listenOnce(ctx, dest)
		if err == nil {
			return nil
		}

		if ctx.Err() != nil {
			return nil
		}

		if !errors.Is(err, syscall.ECONNREFUSED) {
			return err
		}

		if !reconnect {
			return nil
		}

		logger.Warnf("Connection to qubesd refused, reconnecting in %v", delay)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

func (e *EventsDispatcher) listenOnce(ctx context.Context, dest string) error {
	stream, err := e.app.transport.OpenEvents(dest, "admin.Events")
	if err != nil {
		return err
	}

	defer func() { _ = stream.Close() }()

	// Close the stream on cancellation to unblock the reader.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = stream.Close()
		case <-done:
		}
	}()

	// Events emitted before this point were never seen, so anything cached
	// may be stale.
	e.app.invalidateCacheAll()
	e.handle(api.Event{Name: "connection-established"})

	reader := bufio.NewReader(stream)
	for {
		event, err := readEvent(reader)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}

			return err
		}

		e.handle(event)
	}
}

// readEvent reads one NUL-delimited event record. A clean EOF before the
// first byte of a record surfaces as io.EOF; EOF mid-record is a framing
// failure.
func readEvent(reader *bufio.Reader) (api.Event, error) {
	tag, err := readField(reader)
	if err != nil {
		if errors.Is(err, io.EOF) && tag == "" {
			return api.Event{}, io.EOF
		}

		return api.Event{}, api.CommunicationErrorf("Event stream ended mid-record")
	}

	if tag != "1" {
		return api.Event{}, api.CommunicationErrorf("Non-event received on events connection: %q", tag)
	}

	var event api.Event
	event.Subject, err = readField(reader)
	if err != nil {
		return api.Event{}, api.CommunicationErrorf("Event stream ended mid-record")
	}

	event.Name, err = readField(reader)
	if err != nil {
		return api.Event{}, api.CommunicationErrorf("Event stream ended mid-record")
	}

	event.Data = map[string]string{}
	for {
		key, err := readField(reader)
		if err != nil {
			return api.Event{}, api.CommunicationErrorf("Event stream ended mid-record")
		}

		if key == "" {
			return event, nil
		}

		value, err := readField(reader)
		if err != nil {
			return api.Event{}, api.CommunicationErrorf("Event stream ended mid-record")
		}

		event.Data[key] = value
	}
}

// readField reads one NUL-terminated field, without the terminator.
func readField(reader *bufio.Reader) (string, error) {
	data, err := reader.ReadBytes(0x00)
	if err != nil {
		return string(data), err
	}

	return string(data[:len(data)-1]), nil
}

// handle resolves the event's subject, applies the built-in cache
// maintenance and invokes registered handlers. Cache maintenance runs
// before the handlers so they observe fresh state.
func (e *EventsDispatcher) handle(event api.Event) {
	var subject *VM
	if event.Subject != "" {
		if event.Name == "property-set:name" {
			// A rename invalidates the name-keyed collection cache.
			e.app.Domains.ClearCache()
		}

		subject = e.app.Domains.GetBlind(event.Subject)
	} else {
		switch event.Name {
		case "domain-add", "domain-delete":
			e.app.Domains.ClearCache()
		}
	}

	property, isPropertyEvent := strings.CutPrefix(event.Name, "property-set:")
	if !isPropertyEvent {
		property, isPropertyEvent = strings.CutPrefix(event.Name, "property-reset:")
	}

	if isPropertyEvent {
		e.app.invalidatePropertyCache(subject, property)
	} else if subject != nil {
		switch event.Name {
		case "domain-pre-start":
			e.app.Domains.setPowerState(event.Subject, PowerStateTransient)
		case "domain-start":
			e.app.Domains.setPowerState(event.Subject, PowerStateRunning)
		case "domain-start-failed", "domain-shutdown":
			e.app.Domains.setPowerState(event.Subject, PowerStateHalted)
		case "domain-paused":
			e.app.Domains.setPowerState(event.Subject, PowerStatePaused)
		case "domain-unpaused":
			e.app.Domains.setPowerState(event.Subject, PowerStateRunning)
		}
	}

	e.targetsLock.Lock()
	targets := make([]*EventTarget, 0, len(e.targets[event.Name]))
	targets = append(targets, e.targets[event.Name]...)
	for pattern, patternTargets := range e.targets {
		if pattern == event.Name {
			continue
		}

		ok, err := path.Match(pattern, event.Name)
		if err == nil && ok {
			targets = append(targets, patternTargets...)
		}
	}

	e.targetsLock.Unlock()

	for _, target := range targets {
		e.invoke(target, subject, event)
	}
}

// invoke runs one handler; a panicking handler must not prevent delivery to
// the remaining handlers.
func (e *EventsDispatcher) invoke(target *EventTarget, subject *VM, event api.Event) {
	defer func() {
		r := recover()
		if r != nil {
			logger.Errorf("Failed to handle event %s on %q: %v", event.Name, event.Subject, r)
		}
	}()

	target.function(subject, event)
}

// Start runs ListenForEvents in the background. Use Stop to terminate it
// and Wait to collect the result.
func (e *EventsDispatcher) Start(vm *VM, reconnect bool) {
	ctx, cancel := context.WithCancel(context.Background())

	e.t.Go(func() error {
		defer cancel()
		return e.ListenForEvents(ctx, vm, reconnect)
	})

	e.t.Go(func() error {
		select {
		case <-e.t.Dying():
			cancel()
		case <-ctx.Done():
		}

		return nil
	})
}

// Stop terminates a background listener started with Start.
func (e *EventsDispatcher) Stop() {
	e.t.Kill(nil)
}

// Wait blocks until the background listener has terminated and returns its
// error, if any.
func (e *EventsDispatcher) Wait() error {
	return e.t.Wait()
}
