package events

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"stockticker/internal/game"
	"stockticker/internal/model"
)

const (
	colorStarted = 0x10B981
	colorEnded   = 0xF59E0B
	colorMarket  = 0xEF4444
)

// DiscordSender is the part of *discordgo.Session the announcer uses.
type DiscordSender interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

type DiscordConfig struct {
	Sender    DiscordSender
	ChannelID string
}

// DiscordSink announces game starts, splits, crashes and final standings
// in a Discord channel. Other events are ignored.
type DiscordSink struct {
	sender    DiscordSender
	channelID string
}

// NewDiscordSession opens a bot session for token.
func NewDiscordSession(token string) (*discordgo.Session, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("token cannot be empty")
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}
	return session, nil
}

func NewDiscord(cfg *DiscordConfig) (*DiscordSink, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if cfg.Sender == nil {
		return nil, errors.New("sender cannot be nil")
	}
	if cfg.ChannelID == "" {
		return nil, errors.New("channel id cannot be empty")
	}
	return &DiscordSink{sender: cfg.Sender, channelID: cfg.ChannelID}, nil
}

func (s *DiscordSink) Deliver(ctx context.Context, env Envelope) error {
	embed := announcement(env)
	if embed == nil {
		return nil
	}
	_, err := s.sender.ChannelMessageSendComplex(s.channelID, &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{embed},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("send discord message: %w", err)
	}
	return nil
}

func announcement(env Envelope) *discordgo.MessageEmbed {
	switch p := env.Payload.(type) {
	case game.SessionPayload:
		if env.Event != game.EventGameStarted {
			return nil
		}
		return &discordgo.MessageEmbed{
			Title:       fmt.Sprintf("%s has started", p.Session.Name),
			Description: fmt.Sprintf("Join with invite code **%s**. %d minutes on the clock.", p.Session.InviteCode, p.Session.DurationMinutes),
			Color:       colorStarted,
		}
	case game.PriceUpdatedPayload:
		if p.EventType != model.EventSplit && p.EventType != model.EventCrash {
			return nil
		}
		return &discordgo.MessageEmbed{
			Title:       p.Instrument.Symbol,
			Description: p.Message,
			Color:       colorMarket,
		}
	case game.GameEndedPayload:
		embed := &discordgo.MessageEmbed{
			Title: fmt.Sprintf("%s is over", p.Session.Name),
			Color: colorEnded,
		}
		for _, r := range p.Rankings {
			embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
				Name:  fmt.Sprintf("#%d %s", r.Rank, r.UserID),
				Value: fmt.Sprintf("$%d", r.NetWorth),
			})
		}
		return embed
	}
	return nil
}
