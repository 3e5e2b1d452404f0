package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// FactType tags a fact. Commands share a single tag; events carry one tag per
// kind of game occurrence.
type FactType string

const (
	TypeCommand FactType = "command"

	TypeClientConnect    FactType = "client_connect"
	TypeClientUserinfo   FactType = "client_userinfo"
	TypeClientDisconnect FactType = "client_disconnect"
	TypeSay              FactType = "say"
	TypeTeamSay          FactType = "team_say"
	TypeKill             FactType = "kill"
	TypeCallvote         FactType = "callvote"
	TypeVote             FactType = "vote"
	TypeInitGame         FactType = "init_game"
	TypeExit             FactType = "exit"
	TypeShutdownGame     FactType = "shutdown_game"
	TypeServerStatus     FactType = "server_status"
)

// Fact is the unit of dispatch. It is implemented by Command and Event only.
type Fact interface {
	ID() string
	Type() FactType
	Time() time.Time
	isFact()
}

// Client identifies a connected player as seen by the agent at parse time.
type Client struct {
	Slot  int
	Name  string
	GUID  string
	IP    string
	Level int
}

func (c Client) String() string {
	return fmt.Sprintf("%s[%d]", c.Name, c.Slot)
}

// PrefixMode controls who sees the reply to a command.
type PrefixMode uint8

const (
	// PrefixNormal replies privately to the issuer.
	PrefixNormal PrefixMode = iota
	// PrefixLoud replies to the whole server.
	PrefixLoud
	// PrefixBig replies with centre-screen text.
	PrefixBig
)

func (m PrefixMode) String() string {
	switch m {
	case PrefixNormal:
		return "normal"
	case PrefixLoud:
		return "loud"
	case PrefixBig:
		return "big"
	default:
		return "unknown"
	}
}

// Command is a user-issued chat command such as "!kick foo".
type Command struct {
	id     string
	time   time.Time
	client Client
	handle string
	mode   PrefixMode
	force  bool
	args   string
}

func NewCommand(client Client, handle, args string, mode PrefixMode, force bool) Command {
	return Command{
		id:     uuid.NewString(),
		time:   time.Now(),
		client: client,
		handle: handle,
		mode:   mode,
		force:  force,
		args:   args,
	}
}

func (c Command) ID() string       { return c.id }
func (c Command) Type() FactType   { return TypeCommand }
func (c Command) Time() time.Time  { return c.time }
func (c Command) Client() Client   { return c.client }
func (c Command) Handle() string   { return c.handle }
func (c Command) Mode() PrefixMode { return c.mode }
func (c Command) Force() bool      { return c.force }
func (c Command) Args() string     { return c.args }
func (Command) isFact()            {}

func (c Command) String() string {
	return fmt.Sprintf("command %s %q from %s", c.handle, c.args, c.client)
}

// Event is a passive notification parsed from the log or produced by a poller.
type Event struct {
	id     string
	typ    FactType
	time   time.Time
	client *Client
	target *Client
	data   map[string]string
}

// EventOption sets an optional field of an Event at construction.
type EventOption func(*Event)

// WithClient sets the acting client (the killer for a kill, the speaker for say).
func WithClient(c Client) EventOption {
	return func(e *Event) { e.client = &c }
}

// WithTarget sets the client acted upon (the victim for a kill).
func WithTarget(c Client) EventOption {
	return func(e *Event) { e.target = &c }
}

func WithData(key, value string) EventOption {
	return func(e *Event) {
		if e.data == nil {
			e.data = make(map[string]string)
		}
		e.data[key] = value
	}
}

func NewEvent(typ FactType, opts ...EventOption) Event {
	e := Event{
		id:   uuid.NewString(),
		typ:  typ,
		time: time.Now(),
	}
	for _, opt := range opts {
		opt(&e)
	}
	return e
}

func (e Event) ID() string      { return e.id }
func (e Event) Type() FactType  { return e.typ }
func (e Event) Time() time.Time { return e.time }
func (Event) isFact()           {}

func (e Event) Client() (Client, bool) {
	if e.client == nil {
		return Client{}, false
	}
	return *e.client, true
}

func (e Event) Target() (Client, bool) {
	if e.target == nil {
		return Client{}, false
	}
	return *e.target, true
}

// Data returns the payload field for key, or "" when absent.
func (e Event) Data(key string) string {
	return e.data[key]
}

// DataMap returns a copy of the payload so callers cannot mutate the event.
func (e Event) DataMap() map[string]string {
	out := make(map[string]string, len(e.data))
	for k, v := range e.data {
		out[k] = v
	}
	return out
}

func (e Event) String() string {
	return fmt.Sprintf("event %s %s", e.typ, e.id)
}
