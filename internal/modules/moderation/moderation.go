// Package moderation implements the warn, kick and mute commands, the per
// guild moderation settings and the sweeper that lifts expired mutes.
package moderation

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"gatekeeper/internal/analytics"
	"gatekeeper/internal/clock"
	"gatekeeper/internal/discord"
	"gatekeeper/internal/modules/audit"
	"gatekeeper/internal/sequence"
	"gatekeeper/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const KindMute = "mute"

const storeTimeout = 5 * time.Second

type Config struct {
	Store     *storage.Store
	Audit     *audit.Logger
	Analytics *analytics.Service
	Sequences *sequence.Manager
	Members   discord.Members
	Messenger discord.Messenger
	Notifier  *discord.Notifier
	Clock     clock.Clock
	Logger    *zap.Logger
	Sigil     string
	DMTargets bool
	Announce  bool
	Color     int
}

type Module struct {
	store     *storage.Store
	audit     *audit.Logger
	analytics *analytics.Service
	sequences *sequence.Manager
	members   discord.Members
	messenger discord.Messenger
	notifier  *discord.Notifier
	clock     clock.Clock
	logger    *zap.Logger
	sigil     string
	dmTargets bool
	announce  bool
	color     int
	selfID    atomic.Value
}

func New(cfg Config) *Module {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Sigil == "" {
		cfg.Sigil = "!"
	}
	m := &Module{
		store:     cfg.Store,
		audit:     cfg.Audit,
		analytics: cfg.Analytics,
		sequences: cfg.Sequences,
		members:   cfg.Members,
		messenger: cfg.Messenger,
		notifier:  cfg.Notifier,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
		sigil:     cfg.Sigil,
		dmTargets: cfg.DMTargets,
		announce:  cfg.Announce,
		color:     cfg.Color,
	}
	m.selfID.Store("")
	return m
}

// SetSelfID records the bot user, which is credited with automatic unmutes.
func (m *Module) SetSelfID(id string) { m.selfID.Store(id) }

func (m *Module) self() string { return m.selfID.Load().(string) }

// action is one moderation step against a member.
type action struct {
	guildID     string
	channelID   string
	moderatorID string
	targetID    string
	reason      string
	roleID      string
	duration    time.Duration
}

func (a action) entry(kind string) audit.Entry {
	return audit.Entry{
		GuildID:     a.guildID,
		UserID:      a.targetID,
		ModeratorID: a.moderatorID,
		Action:      kind,
		Reason:      a.reason,
		Duration:    a.duration,
	}
}

// record saves the case and posts the confirmation. It reports the case
// number, or 0 when recording failed.
func (m *Module) record(a action, kind, confirmation string) int64 {
	ctx, cancel := storeContext()
	defer cancel()
	note, err := m.audit.Record(ctx, a.entry(kind))
	if err != nil {
		m.logger.Error("moderation case not recorded",
			zap.String("guild_id", a.guildID), zap.String("user_id", a.targetID), zap.String("action", kind), zap.Error(err))
		if a.channelID != "" {
			m.notifier.Transient(a.channelID, fmt.Sprintf("%s error: the %s was applied but the case could not be recorded.", discord.Mention(a.moderatorID), kind))
		}
		return 0
	}
	if confirmation != "" && a.channelID != "" {
		m.notifier.Transient(a.channelID, fmt.Sprintf("%s (case %d)", confirmation, note.CaseNumber))
	}
	return note.CaseNumber
}

func (m *Module) tell(a action, content string) {
	if !m.dmTargets {
		return
	}
	m.notifier.DirectOrPublic(a.targetID, a.channelID, &discordgo.MessageSend{Content: content})
}

func (m *Module) warn(a action) {
	m.record(a, audit.ActionWarn, fmt.Sprintf("Warned %s.", discord.Mention(a.targetID)))
	m.tell(a, "You have received a warning. Reason: "+a.reason)
}

// kick DMs the member first, since the DM channel may be gone once they leave.
func (m *Module) kick(a action) {
	run := func() {
		m.members.Kick(a.guildID, a.targetID, a.reason, func(err error) {
			if err != nil {
				m.logger.Warn("kick failed", zap.String("guild_id", a.guildID), zap.String("user_id", a.targetID), zap.Error(err))
				m.notifier.Transient(a.channelID, fmt.Sprintf("%s error: I could not kick %s.", discord.Mention(a.moderatorID), discord.Mention(a.targetID)))
				return
			}
			m.record(a, audit.ActionKick, fmt.Sprintf("Kicked %s.", discord.Mention(a.targetID)))
		})
	}
	if !m.dmTargets {
		run()
		return
	}
	m.messenger.SendDM(a.targetID, &discordgo.MessageSend{Content: "You have been kicked. Reason: " + reasonText(a.reason)}, func(_ *discordgo.Message, err error) {
		if err != nil {
			m.logger.Debug("kick notice not delivered", zap.String("user_id", a.targetID), zap.Error(err))
		}
		run()
	})
}

func (m *Module) mute(a action) {
	m.members.AddRole(a.guildID, a.targetID, a.roleID, func(err error) {
		if err != nil {
			m.logger.Warn("mute failed", zap.String("guild_id", a.guildID), zap.String("user_id", a.targetID), zap.Error(err))
			m.notifier.Transient(a.channelID, fmt.Sprintf("%s error: I could not mute %s.", discord.Mention(a.moderatorID), discord.Mention(a.targetID)))
			return
		}
		number := m.record(a, audit.ActionMute, fmt.Sprintf("Muted %s %s.", discord.Mention(a.targetID), describeDuration(a.duration)))

		var expires *time.Time
		if a.duration > 0 {
			at := m.clock.Now().Add(a.duration)
			expires = &at
		}
		ctx, cancel := storeContext()
		defer cancel()
		if err := m.store.SaveMute(ctx, storage.Mute{
			GuildID:    a.guildID,
			UserID:     a.targetID,
			RoleID:     a.roleID,
			CaseNumber: number,
			ExpiresAt:  expires,
			CreatedAt:  m.clock.Now(),
		}); err != nil {
			m.logger.Error("mute not saved", zap.String("guild_id", a.guildID), zap.String("user_id", a.targetID), zap.Error(err))
		}
		m.tell(a, fmt.Sprintf("You have been muted %s. Reason: %s", describeDuration(a.duration), reasonText(a.reason)))
	})
}

func (m *Module) unmute(a action, confirmation string) {
	m.members.RemoveRole(a.guildID, a.targetID, a.roleID, func(err error) {
		if err != nil {
			m.logger.Warn("unmute failed", zap.String("guild_id", a.guildID), zap.String("user_id", a.targetID), zap.Error(err))
			if confirmation != "" {
				m.notifier.Transient(a.channelID, fmt.Sprintf("%s error: I could not unmute %s.", discord.Mention(a.moderatorID), discord.Mention(a.targetID)))
			}
			return
		}
		m.lifted(a, confirmation)
	})
}

func (m *Module) lifted(a action, confirmation string) {
	ctx, cancel := storeContext()
	defer cancel()
	if err := m.store.DeleteMute(ctx, a.guildID, a.targetID); err != nil {
		m.logger.Error("mute not cleared", zap.String("guild_id", a.guildID), zap.String("user_id", a.targetID), zap.Error(err))
	}
	m.record(a, audit.ActionUnmute, confirmation)
}

// RunSweeper lifts expired mutes every interval until ctx is done.
func (m *Module) RunSweeper(ctx context.Context, interval time.Duration) {
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
			m.Sweep(ctx)
		}
	}
}

// Sweep lifts every mute whose expiry has passed and returns how many it
// attempted. A removal that fails while the member is still around is retried
// on the next sweep.
func (m *Module) Sweep(ctx context.Context) (attempted int) {
	defer func() {
		if rec := recover(); rec != nil {
			m.logger.Error("mute sweep panicked", zap.Any("panic", rec))
		}
	}()

	mutes, err := m.store.ExpiredMutes(ctx, m.clock.Now())
	if err != nil {
		m.logger.Warn("expired mute lookup failed", zap.Error(err))
		return 0
	}
	for _, mute := range mutes {
		a := action{
			guildID:     mute.GuildID,
			moderatorID: m.self(),
			targetID:    mute.UserID,
			roleID:      mute.RoleID,
			reason:      fmt.Sprintf("mute from case %d expired", mute.CaseNumber),
		}
		m.members.RemoveRole(a.guildID, a.targetID, a.roleID, func(err error) {
			if err != nil && m.members.InGuild(a.guildID, a.targetID) {
				m.logger.Warn("expired mute not lifted", zap.String("guild_id", a.guildID), zap.String("user_id", a.targetID), zap.Error(err))
				return
			}
			m.lifted(a, "")
		})
	}
	return len(mutes)
}

func describeDuration(d time.Duration) string {
	if d <= 0 {
		return "permanently"
	}
	return "for " + audit.FormatDuration(d)
}

func reasonText(reason string) string {
	if reason == "" {
		return "no reason given"
	}
	return reason
}

func storeContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), storeTimeout)
}
