// Package bot is the application context: it owns the gateway session, the
// command router, the sequence manager and the feature modules, and feeds
// gateway events to them in arrival order.
package bot

import (
	"context"
	"sync"
	"time"

	"gatekeeper/internal/analytics"
	"gatekeeper/internal/clock"
	"gatekeeper/internal/command"
	"gatekeeper/internal/config"
	"gatekeeper/internal/discord"
	"gatekeeper/internal/modules/audit"
	"gatekeeper/internal/modules/events"
	"gatekeeper/internal/modules/gate"
	"gatekeeper/internal/modules/moderation"
	"gatekeeper/internal/sequence"
	"gatekeeper/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

type Bot struct {
	cfg       config.Config
	logger    *zap.Logger
	store     *storage.Store
	audit     *audit.Logger
	analytics *analytics.Service
	session   *discordgo.Session

	notifier   *discord.Notifier
	sequences  *sequence.Manager
	registry   *command.Registry
	router     *command.Router
	gate       *gate.Module
	moderation *moderation.Module
	events     *events.Module

	cancel context.CancelFunc
	jobs   sync.WaitGroup
}

// Deps are the outbound collaborators. New fills them from the session;
// tests pass fakes to Assemble.
type Deps struct {
	Messenger discord.Messenger
	Members   discord.Members
	Clock     clock.Clock
}

func New(cfg config.Config, logger *zap.Logger, store *storage.Store, auditLogger *audit.Logger, analyticsService *analytics.Service) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, err
	}

	// Handlers run one at a time, in gateway order.
	session.SyncEvents = true
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	client := discord.NewClient(session, logger)
	b := Assemble(cfg, logger, store, auditLogger, analyticsService, Deps{Messenger: client, Members: client, Clock: clock.Real()})
	b.session = session
	return b, nil
}

// Assemble wires the engine and the modules without a gateway session.
func Assemble(cfg config.Config, logger *zap.Logger, store *storage.Store, auditLogger *audit.Logger, analyticsService *analytics.Service, deps Deps) *Bot {
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	sigil := cfg.CommandPrefix

	notifier := discord.NewNotifier(deps.Messenger, deps.Clock, cfg.NoticeTTL(), logger)
	sequences := sequence.NewManager(sequence.Config{
		IdleTimeout: cfg.IdleTimeout(),
		Clock:       deps.Clock,
		Messenger:   deps.Messenger,
		Notifier:    notifier,
		Members:     deps.Members,
		Logger:      logger,
	})
	auditLogger.SetNotifier(audit.ChannelNotifier(store, deps.Messenger, cfg.DefaultLogChannel, audit.CaseColors{Action: cfg.EmbedColors.Action, Warning: cfg.EmbedColors.Warning}, logger))

	b := &Bot{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		audit:     auditLogger,
		analytics: analyticsService,
		notifier:  notifier,
		sequences: sequences,
		registry:  command.NewRegistry(logger),
	}
	b.gate = gate.New(gate.Config{
		Store:          store,
		Sequences:      sequences,
		Members:        deps.Members,
		Messenger:      deps.Messenger,
		Notifier:       notifier,
		Clock:          deps.Clock,
		Logger:         logger.Named("gate"),
		Sigil:          sigil,
		GreetingTTL:    cfg.GreetingTTL(),
		ReviewCapacity: cfg.Gate.ReviewCapacity,
		Announce:       cfg.Sequences.Announce,
	})
	b.moderation = moderation.New(moderation.Config{
		Store:     store,
		Audit:     auditLogger,
		Analytics: analyticsService,
		Sequences: sequences,
		Members:   deps.Members,
		Messenger: deps.Messenger,
		Notifier:  notifier,
		Clock:     deps.Clock,
		Logger:    logger.Named("moderation"),
		Sigil:     sigil,
		DMTargets: cfg.Moderation.DMTargets,
		Announce:  cfg.Sequences.Announce,
		Color:     cfg.EmbedColors.Action,
	})
	b.events = events.New(events.Config{
		Store:        store,
		Sequences:    sequences,
		Messenger:    deps.Messenger,
		Notifier:     notifier,
		Clock:        deps.Clock,
		Logger:       logger.Named("events"),
		Sigil:        sigil,
		Announce:     cfg.Sequences.Announce,
		Color:        cfg.EmbedColors.Action,
		ReminderLead: time.Duration(cfg.Events.ReminderLeadMinutes) * time.Minute,
	})

	b.registry.MustRegister(b.helpCommand())
	b.registry.MustRegister(b.gate.Commands()...)
	b.registry.MustRegister(b.moderation.Commands()...)
	b.registry.MustRegister(b.events.Commands()...)

	b.router = command.NewRouter(command.RouterConfig{
		Sigil:       sigil,
		Registry:    b.registry,
		Permissions: deps.Members,
		Sequences:   sequences,
		Messenger:   deps.Messenger,
		Notifier:    notifier,
		Logger:      logger,
	})
	return b
}

func (b *Bot) Start() error {
	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onMessageCreate)
	b.session.AddHandler(b.onGuildMemberAdd)
	b.session.AddHandler(b.onGuildMemberRemove)
	b.session.AddHandler(b.onGuildMemberUpdate)

	if err := b.session.Open(); err != nil {
		return err
	}

	b.startJobs()
	return nil
}

// startJobs runs the mute sweeper and the event reminders until Close.
func (b *Bot) startJobs() {
	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel

	sweep := time.Duration(b.cfg.Moderation.MuteSweepSeconds) * time.Second
	poll := time.Duration(b.cfg.Events.PollSeconds) * time.Second
	b.jobs.Add(2)
	go func() {
		defer b.jobs.Done()
		b.moderation.RunSweeper(ctx, sweep)
	}()
	go func() {
		defer b.jobs.Done()
		b.events.RunReminders(ctx, poll)
	}()
}

// Close stops the background jobs, ends every live sequence and disconnects.
func (b *Bot) Close(ctx context.Context) {
	if b.cancel != nil {
		b.cancel()
	}
	stopped := make(chan struct{})
	go func() {
		b.jobs.Wait()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		b.logger.Warn("background jobs did not stop in time", zap.Error(ctx.Err()))
	}

	b.sequences.Close()
	if b.session != nil {
		_ = b.session.Close()
	}
}
