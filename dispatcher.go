package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

const (
	commandQueueName = "commands"
	eventQueueName   = "events"
)

// Notifier shows text to players in game.
type Notifier interface {
	Tell(ctx context.Context, client Client, msg string)
	Reply(ctx context.Context, cmd Command, msg string)
}

// Dispatcher owns the command and event queues and their single consumers.
type Dispatcher struct {
	commands *FactQueue[Command]
	events   *FactQueue[Event]
	cmdReg   *CommandRegistry
	evReg    *EventRegistry
	notifier Notifier
	prefix   string
	metrics  *Metrics

	// pending counts facts accepted by Post* and not yet fully dispatched.
	pending atomic.Int64
}

func NewDispatcher(cfg DispatchConfig, cmds *CommandRegistry, evs *EventRegistry, n Notifier, m *Metrics) *Dispatcher {
	return &Dispatcher{
		commands: NewFactQueue[Command](commandQueueName, cfg.CommandQueueSize, m),
		events:   NewFactQueue[Event](eventQueueName, cfg.EventQueueSize, m),
		cmdReg:   cmds,
		evReg:    evs,
		notifier: n,
		prefix:   cfg.Prefixes.Normal,
		metrics:  m,
	}
}

// PostCommand blocks until cmd is queued.
func (d *Dispatcher) PostCommand(ctx context.Context, cmd Command) error {
	d.pending.Add(1)
	if err := d.commands.Put(ctx, cmd); err != nil {
		d.pending.Add(-1)
		return fmt.Errorf("post %s: %w", cmd, err)
	}
	return nil
}

// PostEvent blocks until ev is queued.
func (d *Dispatcher) PostEvent(ctx context.Context, ev Event) error {
	d.pending.Add(1)
	if err := d.events.Put(ctx, ev); err != nil {
		d.pending.Add(-1)
		return fmt.Errorf("post %s: %w", ev, err)
	}
	return nil
}

// Run runs both workers until ctx is cancelled or the queues are closed and drained.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		d.RunCommands(ctx)
	}()
	go func() {
		defer wg.Done()
		d.RunEvents(ctx)
	}()
	wg.Wait()
}

// Close stops both queues from accepting facts. Workers drain what is left.
func (d *Dispatcher) Close() {
	d.commands.Close()
	d.events.Close()
}

// Flush waits until every accepted fact has been dispatched.
func (d *Dispatcher) Flush(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for d.pending.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// QueueDepths reports queue lengths for the depth gauge.
func (d *Dispatcher) QueueDepths() map[string]func() int {
	return map[string]func() int{
		commandQueueName: d.commands.Len,
		eventQueueName:   d.events.Len,
	}
}

func (d *Dispatcher) RunCommands(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		cmd, err := d.commands.Take(ctx)
		if err != nil {
			return
		}
		// The fact in hand is finished even if ctx is cancelled meanwhile.
		d.dispatchCommand(context.WithoutCancel(ctx), cmd)
		d.pending.Add(-1)
		d.metrics.FactDispatched(commandQueueName)
	}
}

func (d *Dispatcher) RunEvents(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		ev, err := d.events.Take(ctx)
		if err != nil {
			return
		}
		d.dispatchEvent(context.WithoutCancel(ctx), ev)
		d.pending.Add(-1)
		d.metrics.FactDispatched(eventQueueName)
	}
}

func (d *Dispatcher) dispatchCommand(ctx context.Context, cmd Command) {
	client := cmd.Client()

	spec, ok := d.cmdReg.Lookup(cmd.Handle())
	if !ok {
		d.notifier.Tell(ctx, client, fmt.Sprintf("Unknown command %s%s", d.prefix, cmd.Handle()))
		return
	}
	if !cmd.Force() && client.Level < spec.MinLevel {
		d.notifier.Tell(ctx, client, fmt.Sprintf("You do not have sufficient access to use %s%s", d.prefix, spec.Handle))
		return
	}
	if spec.Plugin != nil && !spec.Plugin.Enabled() {
		d.notifier.Tell(ctx, client, fmt.Sprintf("Plugin %s is disabled", spec.Plugin.Name()))
		return
	}

	out := callCommand(ctx, spec.Handler, cmd)
	if out.Kind != OutcomeFailure {
		return
	}

	var ue *UserError
	switch {
	case errors.As(out.Err, &ue) && ue.Kind == SyntaxFailure:
		d.metrics.HandlerFailed(commandQueueName, "syntax")
		d.notifier.Tell(ctx, client, ue.Msg)
		d.notifier.Tell(ctx, client, fmt.Sprintf("Usage: %s%s %s", d.prefix, spec.Handle, spec.Usage))
	case errors.As(out.Err, &ue):
		d.metrics.HandlerFailed(commandQueueName, "runtime")
		d.notifier.Tell(ctx, client, ue.Msg)
	default:
		d.logFailure(commandQueueName, pluginName(spec.Plugin), cmd, out.Err)
	}
}

func (d *Dispatcher) dispatchEvent(ctx context.Context, ev Event) {
	for _, e := range d.evReg.Lookup(ev.Type()) {
		if e.plugin != nil && !e.plugin.Enabled() {
			continue
		}

		out := callEvent(ctx, e.handler, ev)
		if out.Kind != OutcomeFailure {
			continue
		}

		var ue *UserError
		if errors.As(out.Err, &ue) {
			kind := "runtime"
			if ue.Kind == SyntaxFailure {
				kind = "syntax"
			}
			d.metrics.HandlerFailed(eventQueueName, kind)
			if c, ok := ev.Client(); ok {
				d.notifier.Tell(ctx, c, ue.Msg)
			} else {
				log.Printf("dispatch: plugin %s: %s: %v", pluginName(e.plugin), ev, ue)
			}
			continue
		}
		d.logFailure(eventQueueName, pluginName(e.plugin), ev, out.Err)
	}
}

func (d *Dispatcher) logFailure(queue, plugin string, f Fact, err error) {
	var pe *PanicError
	if errors.As(err, &pe) {
		d.metrics.HandlerFailed(queue, "panic")
		log.Printf("dispatch: plugin %s panicked on %s (%s): %v\n%s", plugin, f.Type(), f.ID(), pe.Value, pe.Stack)
		return
	}
	d.metrics.HandlerFailed(queue, "unexpected")
	log.Printf("dispatch: plugin %s failed on %s (%s): %v", plugin, f.Type(), f.ID(), err)
}

func callCommand(ctx context.Context, h CommandHandler, cmd Command) (out Outcome) {
	defer recoverOutcome(&out)
	return h(ctx, cmd)
}

func callEvent(ctx context.Context, h EventHandler, ev Event) (out Outcome) {
	defer recoverOutcome(&out)
	return h(ctx, ev)
}

func recoverOutcome(out *Outcome) {
	if r := recover(); r != nil {
		*out = Fail(&PanicError{Value: r, Stack: debug.Stack()})
	}
}

func pluginName(p Plugin) string {
	if p == nil {
		return "<none>"
	}
	return p.Name()
}
