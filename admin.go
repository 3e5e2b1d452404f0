package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// AdminPlugin provides the built-in administration commands.
type AdminPlugin struct {
	*BasePlugin
	commands  *CommandRegistry
	plugins   *PluginRegistry
	clients   *ClientDirectory
	messenger *Messenger
	rcon      Commander

	mu      sync.Mutex
	mapName string
}

func NewAdminPlugin(cmds *CommandRegistry, plugins *PluginRegistry, clients *ClientDirectory, m *Messenger, rcon Commander) *AdminPlugin {
	return &AdminPlugin{
		BasePlugin: NewBasePlugin("admin"),
		commands:   cmds,
		plugins:    plugins,
		clients:    clients,
		messenger:  m,
		rcon:       rcon,
	}
}

// Register wires the plugin's commands and event handlers.
func (p *AdminPlugin) Register(evs *EventRegistry) error {
	specs := []CommandSpec{
		{Handle: "help", Aliases: []string{"h"}, Usage: "[command]", Help: "list commands or show usage", Handler: p.cmdHelp},
		{Handle: "mapinfo", Help: "show the current map", Handler: p.cmdMapInfo},
		{Handle: "say", MinLevel: 20, Usage: "<message>", Help: "broadcast a message", Handler: p.cmdSay},
		{Handle: "kick", Aliases: []string{"k"}, MinLevel: 40, Usage: "<player> [reason]", Help: "kick a player", Handler: p.cmdKick},
		{Handle: "plugins", MinLevel: 80, Help: "list plugins", Handler: p.cmdPlugins},
		{Handle: "enable", MinLevel: LevelSuperAdmin, Usage: "<plugin>", Help: "enable a plugin", Handler: p.cmdEnable},
		{Handle: "disable", MinLevel: LevelSuperAdmin, Usage: "<plugin>", Help: "disable a plugin", Handler: p.cmdDisable},
	}
	for _, s := range specs {
		s.Plugin = p
		if err := p.commands.Register(s); err != nil {
			return fmt.Errorf("admin plugin: %w", err)
		}
	}
	evs.Register(p, TypeInitGame, p.onInitGame)
	return nil
}

func (p *AdminPlugin) cmdHelp(ctx context.Context, cmd Command) Outcome {
	if h := strings.TrimSpace(cmd.Args()); h != "" {
		spec, ok := p.commands.Lookup(h)
		if !ok || spec.MinLevel > cmd.Client().Level {
			return Fail(RuntimeError("Unknown command %s", h))
		}
		p.messenger.Reply(ctx, cmd, fmt.Sprintf("%s %s: %s", spec.Handle, spec.Usage, spec.Help))
		return Continue()
	}

	var handles []string
	for _, s := range p.commands.Available(cmd.Client().Level) {
		handles = append(handles, s.Handle)
	}
	p.messenger.Reply(ctx, cmd, "Available commands: "+strings.Join(handles, ", "))
	return Continue()
}

func (p *AdminPlugin) cmdMapInfo(ctx context.Context, cmd Command) Outcome {
	p.mu.Lock()
	name := p.mapName
	p.mu.Unlock()
	if name == "" {
		return Fail(RuntimeError("Map not known yet"))
	}
	p.messenger.Reply(ctx, cmd, "Current map: "+name)
	return Continue()
}

func (p *AdminPlugin) cmdSay(ctx context.Context, cmd Command) Outcome {
	if cmd.Args() == "" {
		return Fail(SyntaxError("Missing message"))
	}
	p.messenger.Say(ctx, fmt.Sprintf("%s: %s", cmd.Client().Name, cmd.Args()))
	return Continue()
}

func (p *AdminPlugin) cmdKick(ctx context.Context, cmd Command) Outcome {
	who, reason, _ := strings.Cut(cmd.Args(), " ")
	if who == "" {
		return Fail(SyntaxError("Missing player"))
	}

	target, err := p.findClient(who)
	if err != nil {
		return Fail(err)
	}
	if target.Level >= cmd.Client().Level && !cmd.Force() {
		return Fail(RuntimeError("%s is protected", target.Name))
	}

	p.rcon.Send(ctx, fmt.Sprintf("kick %d", target.Slot))
	msg := fmt.Sprintf("%s was kicked by %s", target.Name, cmd.Client().Name)
	if reason = strings.TrimSpace(reason); reason != "" {
		msg += ": " + reason
	}
	p.messenger.Reply(ctx, cmd, msg)
	return Continue()
}

// findClient resolves a slot number or a unique name fragment.
func (p *AdminPlugin) findClient(who string) (Client, error) {
	if slot, err := strconv.Atoi(who); err == nil {
		c := p.clients.Lookup(slot, "")
		if c.Name == "" {
			return Client{}, RuntimeError("No player in slot %d", slot)
		}
		return c, nil
	}
	matches := p.clients.FindByName(who)
	switch len(matches) {
	case 0:
		return Client{}, RuntimeError("No player found matching %s", who)
	case 1:
		return matches[0], nil
	default:
		return Client{}, RuntimeError("%d players match %s", len(matches), who)
	}
}

func (p *AdminPlugin) cmdPlugins(ctx context.Context, cmd Command) Outcome {
	var parts []string
	for _, name := range p.plugins.Names() {
		pl, _ := p.plugins.Get(name)
		state := "on"
		if !pl.Enabled() {
			state = "off"
		}
		parts = append(parts, name+"("+state+")")
	}
	p.messenger.Reply(ctx, cmd, "Plugins: "+strings.Join(parts, ", "))
	return Continue()
}

func (p *AdminPlugin) cmdEnable(ctx context.Context, cmd Command) Outcome {
	return p.toggle(ctx, cmd, true)
}

func (p *AdminPlugin) cmdDisable(ctx context.Context, cmd Command) Outcome {
	return p.toggle(ctx, cmd, false)
}

func (p *AdminPlugin) toggle(ctx context.Context, cmd Command, enabled bool) Outcome {
	name := strings.TrimSpace(cmd.Args())
	if name == "" {
		return Fail(SyntaxError("Missing plugin name"))
	}
	pl, ok := p.plugins.Get(name)
	if !ok {
		return Fail(RuntimeError("No plugin named %s", name))
	}
	if pl == Plugin(p) && !enabled {
		return Fail(RuntimeError("The admin plugin cannot be disabled"))
	}
	pl.SetEnabled(enabled)

	state := "disabled"
	if enabled {
		state = "enabled"
	}
	p.messenger.Reply(ctx, cmd, fmt.Sprintf("Plugin %s %s", name, state))
	return Continue()
}

func (p *AdminPlugin) onInitGame(_ context.Context, ev Event) Outcome {
	p.mu.Lock()
	p.mapName = ev.Data("mapname")
	p.mu.Unlock()
	return Continue()
}
