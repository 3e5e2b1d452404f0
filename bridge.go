package main

import (
	"context"
	"fmt"
	"log"
)

// Bridge fans out bus facts to all channels and handles inbound messages.
type Bridge struct {
	rcon     Commander
	channels []Channel
	events   chan Event
}

func NewBridge(rcon Commander, channels []Channel) *Bridge {
	return &Bridge{
		rcon:     rcon,
		channels: channels,
		events:   make(chan Event, 100),
	}
}

func (b *Bridge) Subscriptions() []Subscription {
	types := []FactType{TypeSay, TypeClientConnect, TypeClientDisconnect, TypeKill, TypeInitGame, TypeServerStatus}
	subs := make([]Subscription, 0, len(types))
	for _, t := range types {
		subs = append(subs, Subscription{Type: t, Handler: b.onFact})
	}
	return subs
}

func (b *Bridge) onFact(_ context.Context, f Fact) Outcome {
	ev, ok := f.(Event)
	if !ok {
		return Continue()
	}
	select {
	case b.events <- ev:
	default:
		// Drop event if channel is full (avoid blocking the bus)
	}
	return Continue()
}

// FanOutEvents reads events and sends them to all channels.
func (b *Bridge) FanOutEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-b.events:
			for _, ch := range b.channels {
				if err := ch.Send(ctx, ev); err != nil {
					log.Printf("send to %s: %v", ch.Name(), err)
				}
			}
		}
	}
}

// HandleInbound reads messages from a channel and says them in game.
func (b *Bridge) HandleInbound(ctx context.Context, ch Channel) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-ch.Messages():
			b.sendToGame(ctx, msg)
		}
	}
}

func (b *Bridge) sendToGame(ctx context.Context, msg InboundMessage) {
	safe := sanitizeChat(msg.Content)
	if len(safe) > 120 {
		safe = safe[:120] + "..."
	}
	b.rcon.Send(ctx, fmt.Sprintf("say ^5[%s]^7 %s: %s", msg.Source, sanitizeChat(msg.Author), safe))
}
