// Package audit records moderation actions as numbered cases.
package audit

import (
	"context"
	"fmt"
	"time"

	"gatekeeper/internal/discord"
	"gatekeeper/internal/metrics"
	"gatekeeper/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const (
	ActionWarn   = "warn"
	ActionKick   = "kick"
	ActionMute   = "mute"
	ActionUnmute = "unmute"
)

// Entry describes a moderation action before it has a case number.
type Entry struct {
	GuildID     string
	UserID      string
	ModeratorID string
	Action      string
	Reason      string
	// Duration is zero for permanent or instant actions.
	Duration time.Duration
}

type Logger struct {
	store  *storage.Store
	logger *zap.Logger
	now    func() time.Time
	notify func(context.Context, storage.ModerationNote)
}

func NewLogger(store *storage.Store, logger *zap.Logger) *Logger {
	return &Logger{store: store, logger: logger, now: time.Now}
}

func (l *Logger) SetNotifier(notify func(context.Context, storage.ModerationNote)) {
	l.notify = notify
}

// Record allocates one case number for entry, saves the note and notifies the
// log channel. A failed save leaves a gap in the numbering, never a reuse.
func (l *Logger) Record(ctx context.Context, entry Entry) (storage.ModerationNote, error) {
	number, err := l.store.NextCaseNumber(ctx, entry.GuildID)
	if err != nil {
		return storage.ModerationNote{}, fmt.Errorf("allocate case number: %w", err)
	}

	note := storage.ModerationNote{
		GuildID:     entry.GuildID,
		UserID:      entry.UserID,
		ModeratorID: entry.ModeratorID,
		Action:      entry.Action,
		CaseNumber:  number,
		Reason:      entry.Reason,
		Duration:    entry.Duration,
		CreatedAt:   l.now(),
	}
	id, err := l.store.SaveModerationNote(ctx, note)
	if err != nil {
		return storage.ModerationNote{}, fmt.Errorf("save case %d: %w", number, err)
	}
	note.ID = id

	if l.notify != nil {
		l.notify(ctx, note)
	}
	metrics.CasesOpened.WithLabelValues(entry.Action).Inc()
	l.logger.Info("moderation case recorded",
		zap.String("guild_id", entry.GuildID),
		zap.String("user_id", entry.UserID),
		zap.String("moderator_id", entry.ModeratorID),
		zap.String("action", entry.Action),
		zap.Int64("case", number))
	return note, nil
}

// CaseColors picks the embed color of a posted case.
type CaseColors struct {
	Action  int
	Warning int
}

func (c CaseColors) For(action string) int {
	if action == ActionWarn {
		return c.Warning
	}
	return c.Action
}

// ChannelNotifier posts case embeds to the guild's log channel, or to
// fallbackChannelID when the guild has none configured.
func ChannelNotifier(store *storage.Store, messenger discord.Messenger, fallbackChannelID string, colors CaseColors, logger *zap.Logger) func(context.Context, storage.ModerationNote) {
	return func(ctx context.Context, note storage.ModerationNote) {
		channelID := fallbackChannelID
		settings, err := store.GetGuildSettings(ctx, note.GuildID)
		if err != nil {
			logger.Warn("guild settings lookup failed", zap.String("guild_id", note.GuildID), zap.Error(err))
		} else if settings.LogChannelID != "" {
			channelID = settings.LogChannelID
		}
		if channelID == "" {
			return
		}
		messenger.Send(channelID, &discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{CaseEmbed(note, colors.For(note.Action))}}, nil)
	}
}

func CaseEmbed(note storage.ModerationNote, color int) *discordgo.MessageEmbed {
	reason := note.Reason
	if reason == "" {
		reason = "no reason given"
	}
	fields := []*discordgo.MessageEmbedField{
		{Name: "Member", Value: discord.Mention(note.UserID), Inline: true},
		{Name: "Moderator", Value: discord.Mention(note.ModeratorID), Inline: true},
	}
	if note.Action == ActionMute {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Duration", Value: FormatDuration(note.Duration), Inline: true})
	}
	fields = append(fields, &discordgo.MessageEmbedField{Name: "Reason", Value: reason})
	return &discordgo.MessageEmbed{
		Title:     fmt.Sprintf("Case %d | %s", note.CaseNumber, note.Action),
		Color:     color,
		Fields:    fields,
		Timestamp: note.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// FormatDuration renders d as weeks, days, hours and minutes, or "permanent"
// when d is zero.
func FormatDuration(d time.Duration) string {
	if d <= 0 {
		return "permanent"
	}
	units := []struct {
		size   time.Duration
		suffix string
	}{
		{7 * 24 * time.Hour, "w"},
		{24 * time.Hour, "d"},
		{time.Hour, "h"},
		{time.Minute, "m"},
		{time.Second, "s"},
	}
	out := ""
	for _, unit := range units {
		if n := d / unit.size; n > 0 {
			out += fmt.Sprintf("%d%s", n, unit.suffix)
			d -= n * unit.size
		}
	}
	return out
}
