package command

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"gatekeeper/internal/discord"
	"gatekeeper/internal/testutil"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeSequences map[string]bool

func (f fakeSequences) HasActive(userID string) bool { return f[userID] }

type routerFixture struct {
	router    *Router
	registry  *Registry
	messenger *testutil.Messenger
	members   *testutil.Members
	clock     *testutil.Clock
	logs      *observer.ObservedLogs
	sequences fakeSequences
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)
	messenger := testutil.NewMessenger()
	members := testutil.NewMembers()
	clk := testutil.NewClock(time.Unix(0, 0))
	registry := NewRegistry(logger)
	sequences := fakeSequences{}

	router := NewRouter(RouterConfig{
		Sigil:       "!",
		Registry:    registry,
		Permissions: members,
		Sequences:   sequences,
		Messenger:   messenger,
		Notifier:    discord.NewNotifier(messenger, clk, 5*time.Minute, logger),
		Logger:      logger,
	})
	router.SetSelfID("bot")
	return &routerFixture{router: router, registry: registry, messenger: messenger, members: members, clock: clk, logs: logs, sequences: sequences}
}

func message(id, authorID, guildID, channelID, content string) *discordgo.Message {
	return &discordgo.Message{
		ID:        id,
		ChannelID: channelID,
		GuildID:   guildID,
		Content:   content,
		Author:    &discordgo.User{ID: authorID},
	}
}

func TestRouterDispatchesArguments(t *testing.T) {
	f := newRouterFixture(t)
	var got *Invocation
	f.registry.MustRegister(&Command{Aliases: []string{"Warn"}, Run: func(_ context.Context, inv *Invocation) error {
		got = inv
		return nil
	}})

	handled := f.router.Handle(context.Background(), message("1", "u1", "g1", "c1", "!warn   @user spam"))
	require.True(t, handled)
	require.NotNil(t, got)
	assert.Equal(t, "warn", got.Alias)
	assert.Equal(t, "@user spam", got.Args)
	assert.Equal(t, []string{"@user", "spam"}, got.Fields())
}

func TestRouterBareAliasHasNoArguments(t *testing.T) {
	f := newRouterFixture(t)
	args := "unset"
	f.registry.MustRegister(&Command{Aliases: []string{"help"}, Run: func(_ context.Context, inv *Invocation) error {
		args = inv.Args
		return nil
	}})

	require.True(t, f.router.Handle(context.Background(), message("1", "u1", "g1", "c1", "  !HELP  ")))
	assert.Equal(t, "", args)
}

func TestRouterIgnoresIneligibleMessages(t *testing.T) {
	f := newRouterFixture(t)
	calls := 0
	f.registry.MustRegister(&Command{Aliases: []string{"ping"}, Channels: []string{"c1"}, Run: func(context.Context, *Invocation) error {
		calls++
		return nil
	}})
	f.sequences["busy"] = true

	botMsg := message("1", "other-bot", "g1", "c1", "!ping")
	botMsg.Author.Bot = true

	cases := []*discordgo.Message{
		botMsg,
		message("2", "bot", "g1", "c1", "!ping"),
		message("3", "u1", "g1", "c1", "   "),
		message("4", "busy", "g1", "c1", "!ping"),
		message("5", "u1", "g1", "c1", "ping"),
		message("6", "u1", "g1", "c1", "!unknown"),
		message("7", "u1", "g1", "c2", "!ping"),
	}
	for _, msg := range cases {
		assert.False(t, f.router.Handle(context.Background(), msg), "message %s", msg.ID)
	}
	assert.Zero(t, calls)
	assert.Empty(t, f.messenger.Messages())
}

func TestRouterMissingPermissionStillCleansUp(t *testing.T) {
	f := newRouterFixture(t)
	ran := false
	f.registry.MustRegister(&Command{
		Aliases:         []string{"kick"},
		Permissions:     discordgo.PermissionKickMembers,
		CleanInvocation: true,
		Run: func(context.Context, *Invocation) error {
			ran = true
			return nil
		},
	})
	f.members.Grant("c1", "u1", discordgo.PermissionSendMessages)

	require.True(t, f.router.Handle(context.Background(), message("trigger", "u1", "g1", "c1", "!kick @someone")))
	assert.False(t, ran)

	sent, ok := f.messenger.LastSent()
	require.True(t, ok)
	assert.Contains(t, sent.Content, "permission issue")
	assert.Contains(t, sent.Content, "KICK_MEMBERS")
	assert.Equal(t, []string{"trigger"}, f.messenger.DeletedIDs())

	warns := f.logs.FilterMessage("command permission issue").All()
	require.Len(t, warns, 1)
	assert.Equal(t, zapcore.WarnLevel, warns[0].Level)

	f.clock.Advance(5 * time.Minute)
	assert.ElementsMatch(t, []string{"trigger", sent.ID}, f.messenger.DeletedIDs())
}

func TestRouterRequiresGuildForPermissionedCommands(t *testing.T) {
	f := newRouterFixture(t)
	f.registry.MustRegister(&Command{
		Aliases:         []string{"kick"},
		Permissions:     discordgo.PermissionKickMembers,
		CleanInvocation: true,
		Run:             noop,
	})

	require.True(t, f.router.Handle(context.Background(), message("dm1", "u1", "", "dm", "!kick")))
	sent, ok := f.messenger.LastSent()
	require.True(t, ok)
	assert.Contains(t, sent.Content, "must be used in a guild text channel")
	assert.Empty(t, f.messenger.DeletedIDs(), "direct messages are not cleaned up")
}

func TestRouterAdministratorBypassesChecks(t *testing.T) {
	f := newRouterFixture(t)
	ran := false
	f.registry.MustRegister(&Command{
		Aliases:     []string{"resetcases"},
		Permissions: discordgo.PermissionManageServer | discordgo.PermissionKickMembers,
		Run: func(context.Context, *Invocation) error {
			ran = true
			return nil
		},
	})
	f.members.Grant("c1", "admin", discordgo.PermissionAdministrator)

	require.True(t, f.router.Handle(context.Background(), message("1", "admin", "g1", "c1", "!resetcases")))
	assert.True(t, ran)
}

func TestRouterHandlerErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		level   zapcore.Level
		framing string
	}{
		{"validation", Invalid("a reason is required"), zapcore.WarnLevel, "error: a reason is required"},
		{"internal", errors.New("db down"), zapcore.ErrorLevel, "error: something went wrong"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newRouterFixture(t)
			f.registry.MustRegister(&Command{Aliases: []string{"warn"}, CleanInvocation: true, Run: func(context.Context, *Invocation) error {
				return tt.err
			}})

			require.True(t, f.router.Handle(context.Background(), message("1", "u1", "g1", "c1", "!warn")))
			sent, ok := f.messenger.LastSent()
			require.True(t, ok)
			assert.Contains(t, sent.Content, tt.framing)
			assert.NotContains(t, sent.Content, "permission issue")
			assert.Equal(t, []string{"1"}, f.messenger.DeletedIDs())

			entries := f.logs.FilterLevelExact(tt.level).All()
			require.NotEmpty(t, entries)
		})
	}
}

func TestRouterRecoversPanics(t *testing.T) {
	f := newRouterFixture(t)
	f.registry.MustRegister(&Command{Aliases: []string{"boom"}, Run: func(context.Context, *Invocation) error {
		panic("kaboom")
	}})

	require.NotPanics(t, func() {
		f.router.Handle(context.Background(), message("1", "u1", "g1", "c1", "!boom"))
	})
	failures := f.logs.FilterMessage("command failed").All()
	require.Len(t, failures, 1)
	assert.True(t, strings.Contains(failures[0].ContextMap()["error"].(string), "kaboom"))
}

func TestRouterCleanupFailureIsLogged(t *testing.T) {
	f := newRouterFixture(t)
	f.messenger.FailDelete = true
	f.registry.MustRegister(&Command{Aliases: []string{"ping"}, CleanInvocation: true, Run: noop})

	require.True(t, f.router.Handle(context.Background(), message("1", "u1", "g1", "c1", "!ping")))
	assert.Len(t, f.logs.FilterMessage("invocation cleanup failed").All(), 1)
	assert.Empty(t, f.messenger.Messages(), "delete failures are never surfaced to the user")
}
