package main

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/bwmarrin/discordgo"
)

const relayBuffer = 100

// DiscordChannel mirrors game events into one Discord text channel and relays
// chat typed there back into the game as "say" lines.
type DiscordChannel struct {
	session  *discordgo.Session
	target   string
	selfID   string
	prefixes PrefixConfig
	cfg      *Config
	inbound  chan InboundMessage
}

func NewDiscordChannel(cfg *Config) (*DiscordChannel, error) {
	session, err := discordgo.New("Bot " + cfg.Discord.BotToken)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentMessageContent

	dc := newDiscordRelay(cfg)
	dc.session = session
	session.AddHandler(dc.onMessage)
	return dc, nil
}

func newDiscordRelay(cfg *Config) *DiscordChannel {
	return &DiscordChannel{
		target:   cfg.Discord.ChannelID,
		prefixes: cfg.Dispatch.Prefixes,
		cfg:      cfg,
		inbound:  make(chan InboundMessage, relayBuffer),
	}
}

func (dc *DiscordChannel) Name() string { return "Discord" }

// Start opens the gateway session and holds it until ctx is done.
func (dc *DiscordChannel) Start(ctx context.Context) error {
	if err := dc.session.Open(); err != nil {
		return fmt.Errorf("discord open: %w", err)
	}
	defer dc.session.Close()

	if u := dc.session.State.User; u != nil {
		dc.selfID = u.ID
		log.Printf("discord relay connected as %s, channel %s", u.Username, dc.target)
	}
	<-ctx.Done()
	return nil
}

func (dc *DiscordChannel) Send(ctx context.Context, ev Event) error {
	if !dc.cfg.discordEventAllowed(ev.Type()) {
		return nil
	}
	msg := formatEvent(ev)
	if msg == "" {
		return nil
	}
	if _, err := dc.session.ChannelMessageSend(dc.target, msg, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord send %s: %w", ev.Type(), err)
	}
	return nil
}

func (dc *DiscordChannel) Messages() <-chan InboundMessage { return dc.inbound }

func (dc *DiscordChannel) Close() error {
	if dc.session == nil {
		return nil
	}
	return dc.session.Close()
}

// onMessage runs on the discordgo event goroutine and must never block it.
func (dc *DiscordChannel) onMessage(_ *discordgo.Session, m *discordgo.MessageCreate) {
	msg, ok := dc.relayable(m.Message)
	if !ok {
		return
	}
	select {
	case dc.inbound <- msg:
	default:
		log.Printf("discord relay: inbound buffer full, dropping message from %s", msg.Author)
	}
}

// relayable filters chat worth saying in game: human messages in the
// relay channel that do not look like agent commands.
func (dc *DiscordChannel) relayable(m *discordgo.Message) (InboundMessage, bool) {
	if m == nil || m.Author == nil || m.Author.Bot || m.Author.ID == dc.selfID {
		return InboundMessage{}, false
	}
	if m.ChannelID != dc.target {
		return InboundMessage{}, false
	}
	text := strings.TrimSpace(m.Content)
	if text == "" || dc.isCommand(text) {
		return InboundMessage{}, false
	}

	author := m.Author.GlobalName
	if author == "" {
		author = m.Author.Username
	}
	return InboundMessage{Source: dc.Name(), Author: author, Content: text}, true
}

func (dc *DiscordChannel) isCommand(text string) bool {
	for _, p := range []string{dc.prefixes.Normal, dc.prefixes.Loud, dc.prefixes.Big} {
		if p != "" && strings.HasPrefix(text, p) {
			return true
		}
	}
	return false
}

func formatEvent(ev Event) string {
	client, _ := ev.Client()
	switch ev.Type() {
	case TypeSay:
		return fmt.Sprintf("💬 **%s**: %s", client.Name, ev.Data("message"))
	case TypeClientConnect:
		return fmt.Sprintf("➡️ player connected in slot %d", client.Slot)
	case TypeClientDisconnect:
		if client.Name == "" {
			return fmt.Sprintf("⬅️ slot %d disconnected", client.Slot)
		}
		return fmt.Sprintf("⬅️ **%s** left the game", client.Name)
	case TypeKill:
		target, _ := ev.Target()
		return fmt.Sprintf("💀 **%s** killed **%s** (%s)", client.Name, target.Name, ev.Data("cause"))
	case TypeInitGame:
		return fmt.Sprintf("🗺️ Map started: **%s**", ev.Data("mapname"))
	case TypeServerStatus:
		return fmt.Sprintf("📊 %s players on **%s**", ev.Data("players"), ev.Data("map"))
	default:
		return ""
	}
}
