package main

import (
	"context"
	"fmt"
	"strings"
)

const maxChatLine = 150

// Messenger sends in-game text through the control channel.
type Messenger struct {
	rcon Commander
}

func NewMessenger(rcon Commander) *Messenger {
	return &Messenger{rcon: rcon}
}

// Tell whispers msg to a single client.
func (m *Messenger) Tell(ctx context.Context, client Client, msg string) {
	for _, line := range wrapChat(msg) {
		m.rcon.Send(ctx, fmt.Sprintf("tell %d %s", client.Slot, line))
	}
}

// Say broadcasts msg to everyone.
func (m *Messenger) Say(ctx context.Context, msg string) {
	for _, line := range wrapChat(msg) {
		m.rcon.Send(ctx, "say "+line)
	}
}

// BigText shows msg in the centre of every screen.
func (m *Messenger) BigText(ctx context.Context, msg string) {
	m.rcon.Send(ctx, fmt.Sprintf(`bigtext "%s"`, sanitizeChat(msg)))
}

// Reply answers a command with the visibility its prefix asked for.
func (m *Messenger) Reply(ctx context.Context, cmd Command, msg string) {
	switch cmd.Mode() {
	case PrefixLoud:
		m.Say(ctx, msg)
	case PrefixBig:
		m.BigText(ctx, msg)
	default:
		m.Tell(ctx, cmd.Client(), msg)
	}
}

// sanitizeChat strips characters the game console would interpret.
func sanitizeChat(s string) string {
	s = strings.ReplaceAll(s, `"`, `'`)
	s = strings.ReplaceAll(s, ";", ",")
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.TrimSpace(s)
}

// wrapChat splits msg into lines of at most maxChatLine bytes on word boundaries.
func wrapChat(msg string) []string {
	msg = sanitizeChat(msg)
	if msg == "" {
		return nil
	}
	var lines []string
	var cur strings.Builder
	for _, word := range strings.Fields(msg) {
		for len(word) > maxChatLine {
			if cur.Len() > 0 {
				lines = append(lines, cur.String())
				cur.Reset()
			}
			lines = append(lines, word[:maxChatLine])
			word = word[maxChatLine:]
		}
		if cur.Len() > 0 && cur.Len()+1+len(word) > maxChatLine {
			lines = append(lines, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(word)
	}
	if cur.Len() > 0 {
		lines = append(lines, cur.String())
	}
	return lines
}
