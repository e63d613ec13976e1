// Package gate keeps new members out of the server until they answer a
// question. Correct answers grant the gate role straight away; anything else
// waits in a bounded review queue for a moderator.
package gate

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"gatekeeper/internal/clock"
	"gatekeeper/internal/discord"
	"gatekeeper/internal/metrics"
	"gatekeeper/internal/sequence"
	"gatekeeper/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const (
	KindQuestion = "gate"
	KindWizard   = "gate-wizard"
)

const storeTimeout = 5 * time.Second

type Config struct {
	Store          *storage.Store
	Sequences      *sequence.Manager
	Members        discord.Members
	Messenger      discord.Messenger
	Notifier       *discord.Notifier
	Clock          clock.Clock
	Logger         *zap.Logger
	Sigil          string
	GreetingTTL    time.Duration
	ReviewCapacity int
	Announce       bool
}

type Module struct {
	store       *storage.Store
	sequences   *sequence.Manager
	members     discord.Members
	messenger   discord.Messenger
	notifier    *discord.Notifier
	clock       clock.Clock
	logger      *zap.Logger
	sigil       string
	greetingTTL time.Duration
	capacity    int
	announce    bool
	pick        func(n int) int

	mu     sync.Mutex
	queues map[string]*ReviewQueue
}

func New(cfg Config) *Module {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Sigil == "" {
		cfg.Sigil = "!"
	}
	if cfg.GreetingTTL <= 0 && cfg.Notifier != nil {
		cfg.GreetingTTL = cfg.Notifier.TTL()
	}
	return &Module{
		store:       cfg.Store,
		sequences:   cfg.Sequences,
		members:     cfg.Members,
		messenger:   cfg.Messenger,
		notifier:    cfg.Notifier,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
		sigil:       cfg.Sigil,
		greetingTTL: cfg.GreetingTTL,
		capacity:    cfg.ReviewCapacity,
		announce:    cfg.Announce,
		pick:        rand.Intn,
		queues:      make(map[string]*ReviewQueue),
	}
}

// Queue returns the guild's review queue, creating it on first use.
func (m *Module) Queue(guildID string) *ReviewQueue {
	m.mu.Lock()
	defer m.mu.Unlock()
	queue := m.queues[guildID]
	if queue == nil {
		queue = NewReviewQueue(m.capacity)
		m.queues[guildID] = queue
	}
	return queue
}

// HandleJoin greets a new member in the welcome channel.
func (m *Module) HandleJoin(ctx context.Context, guildID, userID string) {
	cfg, err := m.store.GetGateConfig(ctx, guildID)
	if err != nil {
		m.logger.Warn("gate config lookup failed", zap.String("guild_id", guildID), zap.Error(err))
		return
	}
	if !cfg.Enabled || cfg.WelcomeChannelID == "" {
		return
	}
	content := fmt.Sprintf("Welcome %s! Type `%sverify` in this channel to answer a short question and get access.", discord.Mention(userID), m.sigil)
	m.notifier.TransientFor(cfg.WelcomeChannelID, &discordgo.MessageSend{Content: content}, m.greetingTTL)
}

// HandleRoleChange drops a pending review and any open question once the
// member holds the gate role, however it was granted.
func (m *Module) HandleRoleChange(ctx context.Context, guildID, userID string, roles []string) {
	cfg, err := m.store.GetGateConfig(ctx, guildID)
	if err != nil || cfg.RoleID == "" || !contains(roles, cfg.RoleID) {
		return
	}
	if _, ok := m.Queue(guildID).Resolve(userID); ok {
		metrics.GateReviews.WithLabelValues("dropped").Inc()
		m.logger.Info("gate review dropped, role granted elsewhere", zap.String("guild_id", guildID), zap.String("user_id", userID))
	}
	m.endQuestions(guildID, userID, sequence.ReasonCancelled)
}

// HandleLeave forgets a member's pending review.
func (m *Module) HandleLeave(guildID, userID string) {
	if _, ok := m.Queue(guildID).Resolve(userID); ok {
		metrics.GateReviews.WithLabelValues("dropped").Inc()
	}
}

func (m *Module) endQuestions(guildID, userID string, reason sequence.Reason) {
	for _, seq := range m.sequences.ForOwner(userID) {
		if seq.Kind == KindQuestion && seq.GuildID == guildID {
			m.sequences.Destroy(seq, reason)
		}
	}
}

// grant adds the gate role and reports failures in channelID.
func (m *Module) grant(guildID, userID, roleID, channelID string) {
	m.members.AddRole(guildID, userID, roleID, func(err error) {
		if err != nil {
			m.logger.Warn("gate role grant failed", zap.String("guild_id", guildID), zap.String("user_id", userID), zap.String("role_id", roleID), zap.Error(err))
			m.notifier.Transient(channelID, fmt.Sprintf("%s I could not grant your role. A moderator has to do it manually.", discord.Mention(userID)))
			return
		}
		m.logger.Info("gate role granted", zap.String("guild_id", guildID), zap.String("user_id", userID))
	})
}

func (m *Module) questions(ctx context.Context, guildID string) ([]Question, error) {
	stored, err := m.store.ListGateQuestions(ctx, guildID)
	if err != nil {
		return nil, err
	}
	out := make([]Question, 0, len(stored))
	for _, q := range stored {
		out = append(out, Question{ID: q.ID, Prompt: q.Prompt, Keywords: q.Keywords})
	}
	return out, nil
}

func contains(values []string, want string) bool {
	for _, value := range values {
		if value == want {
			return true
		}
	}
	return false
}

func storeContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), storeTimeout)
}
