// Package events lets moderators schedule community events through a short
// wizard and reminds the channel shortly before each one starts.
package events

import (
	"context"
	"fmt"
	"time"

	"gatekeeper/internal/clock"
	"gatekeeper/internal/discord"
	"gatekeeper/internal/metrics"
	"gatekeeper/internal/sequence"
	"gatekeeper/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const KindWizard = "event"

const (
	storeTimeout = 5 * time.Second
	defaultLead  = 15 * time.Minute
)

type Config struct {
	Store        *storage.Store
	Sequences    *sequence.Manager
	Messenger    discord.Messenger
	Notifier     *discord.Notifier
	Clock        clock.Clock
	Logger       *zap.Logger
	Sigil        string
	Announce     bool
	Color        int
	ReminderLead time.Duration
}

type Module struct {
	store     *storage.Store
	sequences *sequence.Manager
	messenger discord.Messenger
	notifier  *discord.Notifier
	clock     clock.Clock
	logger    *zap.Logger
	sigil     string
	announce  bool
	color     int
	lead      time.Duration
}

func New(cfg Config) *Module {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Sigil == "" {
		cfg.Sigil = "!"
	}
	if cfg.ReminderLead <= 0 {
		cfg.ReminderLead = defaultLead
	}
	return &Module{
		store:     cfg.Store,
		sequences: cfg.Sequences,
		messenger: cfg.Messenger,
		notifier:  cfg.Notifier,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
		sigil:     cfg.Sigil,
		announce:  cfg.Announce,
		color:     cfg.Color,
		lead:      cfg.ReminderLead,
	}
}

// RunReminders posts due reminders every interval until ctx is done.
func (m *Module) RunReminders(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Remind(ctx)
		}
	}
}

// Remind posts a reminder for every event starting within the reminder lead
// and returns how many it posted. An event is marked before its reminder is
// sent, so a failed send is not repeated.
func (m *Module) Remind(ctx context.Context) (sent int) {
	defer func() {
		if rec := recover(); rec != nil {
			m.logger.Error("event reminders panicked", zap.Any("panic", rec))
		}
	}()

	now := m.clock.Now()
	due, err := m.store.DueEventReminders(ctx, now.Add(m.lead))
	if err != nil {
		m.logger.Warn("due event lookup failed", zap.Error(err))
		return 0
	}
	for _, event := range due {
		logger := m.logger.With(zap.String("guild_id", event.GuildID), zap.Int64("event_id", event.ID))
		if err := m.store.MarkEventReminded(ctx, event.ID); err != nil {
			logger.Warn("event reminder not marked", zap.Error(err))
			continue
		}
		if event.StartsAt.Before(now) {
			logger.Info("event started before its reminder, skipped")
			continue
		}
		m.messenger.Send(event.ChannelID, &discordgo.MessageSend{
			Content: fmt.Sprintf("Starting %s: **%s**", discordTime(event.StartsAt, "R"), event.Title),
			Embeds:  []*discordgo.MessageEmbed{m.eventEmbed(event)},
		}, func(_ *discordgo.Message, err error) {
			if err != nil {
				metrics.EventReminders.WithLabelValues("failed").Inc()
				logger.Warn("event reminder not delivered", zap.Error(err))
				return
			}
			metrics.EventReminders.WithLabelValues("sent").Inc()
		})
		sent++
	}
	return sent
}

func (m *Module) eventEmbed(event storage.Event) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       event.Title,
		URL:         event.Link,
		Description: fmt.Sprintf("%s (%s)", discordTime(event.StartsAt, "F"), discordTime(event.StartsAt, "R")),
		Color:       m.color,
		Footer:      &discordgo.MessageEmbedFooter{Text: fmt.Sprintf("Event #%d", event.ID)},
	}
	if event.CreatorID != "" {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Host", Value: discord.Mention(event.CreatorID), Inline: true})
	}
	if event.Link != "" {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Link", Value: event.Link, Inline: true})
	}
	return embed
}

// discordTime renders a timestamp that each client shows in its own zone.
func discordTime(t time.Time, style string) string {
	return fmt.Sprintf("<t:%d:%s>", t.Unix(), style)
}

func storeContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), storeTimeout)
}
