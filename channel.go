package main

import "context"

// Channel abstracts an external chat platform (Discord, Slack, Telegram, etc.).
type Channel interface {
	Name() string
	Send(ctx context.Context, ev Event) error
	Messages() <-chan InboundMessage
	Start(ctx context.Context) error
	Close() error
}

// InboundMessage represents a message from an external channel destined for the game.
type InboundMessage struct {
	Source  string // Channel name (e.g., "Discord")
	Author  string
	Content string
}
