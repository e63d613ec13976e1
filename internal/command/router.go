package command

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"gatekeeper/internal/discord"
	"gatekeeper/internal/metrics"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// SequenceChecker reports whether a user is inside an interactive sequence.
type SequenceChecker interface {
	HasActive(userID string) bool
}

type PermissionResolver interface {
	Permissions(channelID, userID string) (int64, error)
}

type RouterConfig struct {
	Sigil       string
	Registry    *Registry
	Permissions PermissionResolver
	Sequences   SequenceChecker
	Messenger   discord.Messenger
	Notifier    *discord.Notifier
	Logger      *zap.Logger
}

type Router struct {
	registry  *Registry
	sigil     string
	perms     PermissionResolver
	sequences SequenceChecker
	messenger discord.Messenger
	notifier  *discord.Notifier
	logger    *zap.Logger
	selfID    atomic.Value
}

func NewRouter(cfg RouterConfig) *Router {
	sigil := cfg.Sigil
	if sigil == "" {
		sigil = "!"
	}
	r := &Router{
		registry:  cfg.Registry,
		sigil:     sigil,
		perms:     cfg.Permissions,
		sequences: cfg.Sequences,
		messenger: cfg.Messenger,
		notifier:  cfg.Notifier,
		logger:    cfg.Logger,
	}
	r.selfID.Store("")
	return r
}

func (r *Router) Sigil() string { return r.sigil }

// SetSelfID records the bot's own user id once the gateway session is ready.
func (r *Router) SetSelfID(id string) { r.selfID.Store(id) }

func (r *Router) SelfID() string { return r.selfID.Load().(string) }

// Normalize collapses runs of whitespace to single spaces and trims the ends.
func Normalize(content string) string {
	return strings.Join(strings.Fields(content), " ")
}

// Parse splits normalized text into a lowercased alias and its arguments.
func Parse(sigil, text string) (alias, args string, ok bool) {
	if sigil == "" || !strings.HasPrefix(text, sigil) {
		return "", "", false
	}
	alias, args, _ = strings.Cut(text[len(sigil):], " ")
	if alias == "" {
		return "", "", false
	}
	return strings.ToLower(alias), args, true
}

// Handle dispatches msg if it is a command the author may see. It reports
// whether a command was dispatched. Steps run strictly in order: permission
// check, execution, error notice, invocation cleanup, logging.
func (r *Router) Handle(ctx context.Context, msg *discordgo.Message) bool {
	if msg == nil || msg.Author == nil || msg.Author.Bot || msg.Author.ID == r.SelfID() {
		return false
	}
	text := Normalize(msg.Content)
	if text == "" {
		return false
	}
	if r.sequences != nil && r.sequences.HasActive(msg.Author.ID) {
		return false
	}
	alias, args, ok := Parse(r.sigil, text)
	if !ok {
		return false
	}
	cmd, ok := r.registry.Lookup(alias)
	if !ok || !cmd.allowedIn(msg.ChannelID) {
		return false
	}

	inv := &Invocation{Message: msg, Command: cmd, Alias: alias, Args: args, messenger: r.messenger}
	logger := r.logger.With(
		zap.String("command", cmd.Name()),
		zap.String("user_id", msg.Author.ID),
		zap.String("guild_id", msg.GuildID),
		zap.String("channel_id", msg.ChannelID),
	)

	started := time.Now()
	err := r.authorize(cmd, msg)
	if err == nil {
		err = r.execute(ctx, inv)
	}
	elapsed := time.Since(started)
	outcome := r.report(inv, err, logger)
	r.cleanup(cmd, msg, logger)

	metrics.CommandsTotal.WithLabelValues(cmd.Name(), outcome).Inc()
	metrics.CommandDuration.WithLabelValues(cmd.Name()).Observe(elapsed.Seconds())
	logger.Info("command handled", zap.String("outcome", outcome), zap.Duration("elapsed", elapsed))
	return true
}

func (r *Router) authorize(cmd *Command, msg *discordgo.Message) error {
	if cmd.Permissions == 0 {
		return nil
	}
	if msg.GuildID == "" {
		return &PermissionError{Reason: "this command must be used in a guild text channel"}
	}
	have, err := r.perms.Permissions(msg.ChannelID, msg.Author.ID)
	if err != nil {
		return fmt.Errorf("resolve permissions: %w", err)
	}
	if have&discordgo.PermissionAdministrator != 0 {
		return nil
	}
	if missing := cmd.Permissions &^ have; missing != 0 {
		return &PermissionError{Missing: discord.PermissionNames(missing)}
	}
	return nil
}

func (r *Router) execute(ctx context.Context, inv *Invocation) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("command %s panicked: %v", inv.Command.Name(), rec)
		}
	}()
	return inv.Command.Run(ctx, inv)
}

func (r *Router) report(inv *Invocation, err error, logger *zap.Logger) string {
	if err == nil {
		return "ok"
	}
	mention := discord.Mention(inv.AuthorID())
	switch {
	case IsPermission(err):
		logger.Warn("command permission issue", zap.Error(err))
		r.notify(inv, fmt.Sprintf("%s permission issue: %s", mention, err.Error()))
		return "permission"
	case IsValidation(err):
		logger.Warn("command rejected", zap.Error(err))
		r.notify(inv, fmt.Sprintf("%s error: %s", mention, err.Error()))
		return "invalid"
	default:
		logger.Error("command failed", zap.Error(err))
		r.notify(inv, fmt.Sprintf("%s error: something went wrong running `%s%s`.", mention, r.sigil, inv.Command.Name()))
		return "error"
	}
}

func (r *Router) notify(inv *Invocation, content string) {
	if r.notifier != nil {
		r.notifier.Transient(inv.ChannelID(), content)
	}
}

func (r *Router) cleanup(cmd *Command, msg *discordgo.Message, logger *zap.Logger) {
	if !cmd.CleanInvocation || msg.GuildID == "" {
		return
	}
	r.messenger.Delete(msg.ChannelID, msg.ID, func(err error) {
		if err != nil {
			logger.Warn("invocation cleanup failed", zap.String("message_id", msg.ID), zap.Error(err))
		}
	})
}
