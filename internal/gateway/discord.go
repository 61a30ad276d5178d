package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/BanjoBob15/gabby-discord-bot/internal/relay"
)

// DiscordConfig configures the Discord gateway.
type DiscordConfig struct {
	Token    string
	Activity string // presence text shown once connected; empty skips it
	Name     string // assistant name used in the ready log line
}

// Discord relays guild and DM messages over the Discord gateway.
type Discord struct {
	cfg    DiscordConfig
	logger *slog.Logger
}

// NewDiscord creates a Discord gateway. The connection is opened by Run.
func NewDiscord(cfg DiscordConfig, logger *slog.Logger) (*Discord, error) {
	if cfg.Token == "" {
		return nil, errors.New("discord token is empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Discord{cfg: cfg, logger: logger.With("component", "discord")}, nil
}

func (d *Discord) Name() string { return "discord" }

func (d *Discord) Run(ctx context.Context, h Handler) error {
	s, err := discordgo.New("Bot " + d.cfg.Token)
	if err != nil {
		return fmt.Errorf("creating discord session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentGuilds | discordgo.IntentGuildMessages | discordgo.IntentMessageContent

	s.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		d.logger.Info(fmt.Sprintf("%s is online as %s", d.cfg.Name, r.User.String()))
		if d.cfg.Activity == "" {
			return
		}
		if err := s.UpdateGameStatus(0, d.cfg.Activity); err != nil {
			d.logger.Warn("setting activity failed", "error", err)
		}
	})

	s.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		msg, ok := discordMessage(selfID(s), m)
		if !ok {
			return
		}
		reply, ok := h(ctx, msg)
		if !ok {
			return
		}
		if _, err := s.ChannelMessageSendReply(m.ChannelID, reply, m.Reference()); err != nil {
			d.logger.Error("sending reply failed", "channel", m.ChannelID, "error", err)
		}
	})

	if err := s.Open(); err != nil {
		return fmt.Errorf("opening discord connection: %w", err)
	}
	<-ctx.Done()
	if err := s.Close(); err != nil {
		d.logger.Warn("closing discord connection", "error", err)
	}
	return nil
}

func selfID(s *discordgo.Session) string {
	if s.State == nil || s.State.User == nil {
		return ""
	}
	return s.State.User.ID
}

// discordMessage converts a gateway event. Messages from bots, including
// this one, are dropped.
func discordMessage(self string, m *discordgo.MessageCreate) (relay.Message, bool) {
	if m == nil || m.Message == nil || m.Author == nil || m.Author.Bot {
		return relay.Message{}, false
	}
	msg := relay.Message{
		ID:         m.ID,
		ChannelID:  m.ChannelID,
		AuthorID:   m.Author.ID,
		AuthorName: m.Author.Username,
		Text:       m.Content,
		FromSelf:   self != "" && m.Author.ID == self,
	}
	for _, u := range m.Mentions {
		if u != nil && self != "" && u.ID == self {
			msg.Mentioned = true
			break
		}
	}
	return msg, true
}
