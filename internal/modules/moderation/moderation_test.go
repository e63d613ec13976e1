package moderation

import (
	"context"
	"strconv"
	"testing"
	"time"

	"gatekeeper/internal/analytics"
	"gatekeeper/internal/command"
	"gatekeeper/internal/discord"
	"gatekeeper/internal/modules/audit"
	"gatekeeper/internal/sequence"
	"gatekeeper/internal/storage"
	"gatekeeper/internal/testutil"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	guildID   = "900000000000000001"
	channelID = "900000000000000002"
	logID     = "900000000000000003"
	muteRole  = "900000000000000004"
	target    = "100000000000000001"
	moderator = "100000000000000002"
	botID     = "100000000000000099"
)

type fixture struct {
	module    *Module
	store     *storage.Store
	manager   *sequence.Manager
	router    *command.Router
	messenger *testutil.Messenger
	members   *testutil.Members
	clock     *testutil.Clock
	nextID    int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(store.Close)
	require.NoError(t, store.Migrate())

	logger := zap.NewNop()
	messenger := testutil.NewMessenger()
	members := testutil.NewMembers()
	clk := testutil.NewClock(time.Unix(1_700_000_000, 0))
	notifier := discord.NewNotifier(messenger, clk, 5*time.Minute, logger)
	manager := sequence.NewManager(sequence.Config{
		Clock:     clk,
		Messenger: messenger,
		Notifier:  notifier,
		Members:   members,
		Logger:    logger,
	})
	auditLogger := audit.NewLogger(store, logger)
	auditLogger.SetNotifier(audit.ChannelNotifier(store, messenger, "", audit.CaseColors{}, logger))

	module := New(Config{
		Store:     store,
		Audit:     auditLogger,
		Analytics: analytics.New(store),
		Sequences: manager,
		Members:   members,
		Messenger: messenger,
		Notifier:  notifier,
		Clock:     clk,
		Logger:    logger,
		Sigil:     "!",
		DMTargets: true,
	})
	module.SetSelfID(botID)

	registry := command.NewRegistry(logger)
	registry.MustRegister(module.Commands()...)
	router := command.NewRouter(command.RouterConfig{
		Sigil:       "!",
		Registry:    registry,
		Permissions: members,
		Sequences:   manager,
		Messenger:   messenger,
		Notifier:    notifier,
		Logger:      logger,
	})
	router.SetSelfID(botID)

	require.NoError(t, store.UpsertGuildSettings(context.Background(), storage.GuildSettings{
		GuildID:      guildID,
		LogChannelID: logID,
		MuteRoleID:   muteRole,
	}))
	members.Grant(channelID, moderator, discordgo.PermissionKickMembers|discordgo.PermissionManageRoles)
	members.Guilds[target] = true
	members.Join(guildID, target)

	return &fixture{module: module, store: store, manager: manager, router: router, messenger: messenger, members: members, clock: clk}
}

func (f *fixture) say(author, content string) string {
	f.nextID++
	msg := &discordgo.Message{
		ID:        "in" + strconv.Itoa(f.nextID),
		ChannelID: channelID,
		GuildID:   guildID,
		Content:   content,
		Author:    &discordgo.User{ID: author},
	}
	if !f.manager.HandleMessage(msg) {
		f.router.Handle(context.Background(), msg)
	}
	return msg.ID
}

func (f *fixture) lastIn(t *testing.T, channel string) testutil.SentMessage {
	t.Helper()
	var last *testutil.SentMessage
	for _, msg := range f.messenger.Messages() {
		if msg.ChannelID == channel {
			msg := msg
			last = &msg
		}
	}
	require.NotNil(t, last, "nothing sent to %s", channel)
	return *last
}

func (f *fixture) notes(t *testing.T) []storage.ModerationNote {
	t.Helper()
	notes, err := f.store.ListModerationNotes(context.Background(), guildID, target)
	require.NoError(t, err)
	return notes
}

func TestWarnRecordsCase(t *testing.T) {
	f := newFixture(t)

	f.say(moderator, "!warn <@"+target+"> posting   spam links")

	notes := f.notes(t)
	require.Len(t, notes, 1)
	assert.Equal(t, int64(1), notes[0].CaseNumber)
	assert.Equal(t, audit.ActionWarn, notes[0].Action)
	assert.Equal(t, "posting spam links", notes[0].Reason)
	assert.Equal(t, moderator, notes[0].ModeratorID)

	logged := f.lastIn(t, logID)
	require.Len(t, logged.Embeds, 1)
	assert.Equal(t, "Case 1 | warn", logged.Embeds[0].Title)
	assert.Contains(t, f.lastIn(t, channelID).Content, "Warned <@"+target+">. (case 1)")
	assert.Contains(t, f.lastIn(t, "dm-"+target).Content, "posting spam links")
}

func TestWarnRequiresReasonAndAllocatesNothing(t *testing.T) {
	f := newFixture(t)

	f.say(moderator, "!warn <@"+target+">")

	assert.Contains(t, f.lastIn(t, channelID).Content, "a reason is required")
	current, err := f.store.CurrentCaseNumber(context.Background(), guildID)
	require.NoError(t, err)
	assert.Zero(t, current)
}

func TestWarnRejectsSelfTargets(t *testing.T) {
	f := newFixture(t)

	f.say(moderator, "!warn <@"+moderator+"> testing")
	assert.Contains(t, f.lastIn(t, channelID).Content, "yourself")
	f.say(moderator, "!warn <@"+botID+"> testing")
	assert.Contains(t, f.lastIn(t, channelID).Content, "to me")
	assert.Empty(t, f.notes(t))
}

func TestKickWithoutPermissionStillCleansUp(t *testing.T) {
	f := newFixture(t)
	intruder := "100000000000000003"

	id := f.say(intruder, "!kick <@"+target+"> bye")

	assert.Empty(t, f.members.Kicked)
	assert.Contains(t, f.lastIn(t, channelID).Content, "permission issue")
	assert.Contains(t, f.lastIn(t, channelID).Content, "KICK_MEMBERS")
	assert.Contains(t, f.messenger.DeletedIDs(), id)
}

func TestKickNotifiesThenRecords(t *testing.T) {
	f := newFixture(t)

	id := f.say(moderator, "!kick <@"+target+"> raiding")

	assert.Equal(t, []string{target}, f.members.Kicked)
	assert.Contains(t, f.lastIn(t, "dm-"+target).Content, "raiding")
	notes := f.notes(t)
	require.Len(t, notes, 1)
	assert.Equal(t, audit.ActionKick, notes[0].Action)
	assert.Contains(t, f.messenger.DeletedIDs(), id)
}

func TestKickFailureRecordsNothing(t *testing.T) {
	f := newFixture(t)
	f.members.FailKick = true
	f.messenger.FailDM = true

	f.say(moderator, "!kick <@"+target+"> raiding")

	assert.Empty(t, f.notes(t))
	assert.Contains(t, f.lastIn(t, channelID).Content, "I could not kick")
}

func TestMuteWithInlineDuration(t *testing.T) {
	f := newFixture(t)

	f.say(moderator, "!mute <@"+target+"> 2h flooding")

	assert.Equal(t, []testutil.RoleChange{{GuildID: guildID, UserID: target, RoleID: muteRole, Added: true}}, f.members.Changes())
	notes := f.notes(t)
	require.Len(t, notes, 1)
	assert.Equal(t, 2*time.Hour, notes[0].Duration)
	assert.Equal(t, "flooding", notes[0].Reason)
	assert.False(t, f.manager.HasActive(moderator))

	ctx := context.Background()
	expired, err := f.store.ExpiredMutes(ctx, f.clock.Now().Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, int64(1), expired[0].CaseNumber)
}

func TestMutePromptsForDuration(t *testing.T) {
	f := newFixture(t)

	f.say(moderator, "!mute <@"+target+"> being rude")
	require.True(t, f.manager.HasActive(moderator))
	assert.Contains(t, f.lastIn(t, channelID).Content, "How long should")

	f.say(moderator, "a while")
	assert.True(t, f.manager.HasActive(moderator))
	assert.Contains(t, f.lastIn(t, channelID).Content, "I did not understand that")
	assert.Empty(t, f.members.Changes())

	f.say(moderator, "1d12h")
	assert.False(t, f.manager.HasActive(moderator))
	notes := f.notes(t)
	require.Len(t, notes, 1)
	assert.Equal(t, 36*time.Hour, notes[0].Duration)
	assert.Equal(t, "being rude", notes[0].Reason)
	assert.Len(t, f.members.Changes(), 1)
}

func TestMutePromptCanBeStopped(t *testing.T) {
	f := newFixture(t)

	f.say(moderator, "!mute <@"+target+">")
	f.say(moderator, "STOP")

	assert.False(t, f.manager.HasActive(moderator))
	assert.Empty(t, f.members.Changes())
	assert.Empty(t, f.notes(t))
}

func TestMuteWithoutRoleIsRejected(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.UpsertGuildSettings(context.Background(), storage.GuildSettings{GuildID: guildID}))

	f.say(moderator, "!mute <@"+target+"> 1h")

	assert.Contains(t, f.lastIn(t, channelID).Content, "no mute role is set")
	assert.Empty(t, f.members.Changes())
}

func TestUnmuteLiftsAndRecords(t *testing.T) {
	f := newFixture(t)
	f.say(moderator, "!mute <@"+target+"> permanent")
	f.say(moderator, "!unmute <@"+target+"> appealed")

	changes := f.members.Changes()
	require.Len(t, changes, 2)
	assert.False(t, changes[1].Added)

	notes := f.notes(t)
	require.Len(t, notes, 2)
	assert.Equal(t, audit.ActionUnmute, notes[0].Action)
	assert.Zero(t, notes[1].Duration, "permanent mutes have no duration")

	expired, err := f.store.ExpiredMutes(context.Background(), f.clock.Now().Add(24*365*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, expired)
}

func TestSweepLiftsExpiredMutes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.say(moderator, "!mute <@"+target+"> 30m")

	assert.Zero(t, f.module.Sweep(ctx))
	f.clock.Advance(31 * time.Minute)
	assert.Equal(t, 1, f.module.Sweep(ctx))

	changes := f.members.Changes()
	require.Len(t, changes, 2)
	assert.False(t, changes[1].Added)
	notes := f.notes(t)
	require.Len(t, notes, 2)
	assert.Equal(t, audit.ActionUnmute, notes[0].Action)
	assert.Equal(t, botID, notes[0].ModeratorID)
	assert.Zero(t, f.module.Sweep(ctx))
}

func TestSweepRetriesWhileMemberIsPresent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.say(moderator, "!mute <@"+target+"> 30m")
	f.clock.Advance(time.Hour)
	f.members.FailRoles = true

	assert.Equal(t, 1, f.module.Sweep(ctx))
	assert.Equal(t, 1, f.module.Sweep(ctx), "still pending")

	f.members.Leave(guildID, target)
	f.module.Sweep(ctx)
	assert.Zero(t, f.module.Sweep(ctx), "dropped once the member is gone")
}

func TestSweepDropsMuteOnceMemberLeftItsGuild(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.say(moderator, "!mute <@"+target+"> 30m")
	f.clock.Advance(time.Hour)
	f.members.FailRoles = true
	f.members.Leave(guildID, target)
	f.members.Join("other-guild", target)

	assert.Equal(t, 1, f.module.Sweep(ctx))
	assert.Zero(t, f.module.Sweep(ctx), "another shared guild keeps nothing pending")
	notes := f.notes(t)
	require.NotEmpty(t, notes)
	assert.Equal(t, audit.ActionUnmute, notes[0].Action)
}

func TestResetCasesNeedsAdministratorAndConfirm(t *testing.T) {
	f := newFixture(t)
	f.say(moderator, "!warn <@"+target+"> one")

	f.say(moderator, "!resetcases confirm")
	assert.Contains(t, f.lastIn(t, channelID).Content, "ADMINISTRATOR")

	admin := "100000000000000004"
	f.members.Grant(channelID, admin, discordgo.PermissionAdministrator)
	f.say(admin, "!resetcases")
	assert.Contains(t, f.lastIn(t, channelID).Content, "add `confirm` to proceed")

	f.say(admin, "!resetcases confirm")
	f.say(admin, "!warn <@"+target+"> two")
	notes := f.notes(t)
	require.Len(t, notes, 2)
	assert.Equal(t, int64(1), notes[0].CaseNumber)
}

func TestSettingsCommands(t *testing.T) {
	f := newFixture(t)
	admin := "100000000000000004"
	f.members.Grant(channelID, admin, discordgo.PermissionManageServer)

	f.say(admin, "!muterole <@&900000000000000044>")
	f.say(admin, "!modlog <#900000000000000045>")

	settings, err := f.store.GetGuildSettings(context.Background(), guildID)
	require.NoError(t, err)
	assert.Equal(t, "900000000000000044", settings.MuteRoleID)
	assert.Equal(t, "900000000000000045", settings.LogChannelID)

	f.say(admin, "!modlog")
	assert.Equal(t, "Cases are logged in <#900000000000000045>.", f.lastIn(t, channelID).Content)
}

func TestNotesAndStats(t *testing.T) {
	f := newFixture(t)
	f.say(moderator, "!warn <@"+target+"> one")
	f.say(moderator, "!warn <@"+target+"> two")

	f.say(moderator, "!notes <@"+target+">")
	embed := f.lastIn(t, channelID).Embeds
	require.Len(t, embed, 1)
	assert.Equal(t, "Moderation cases (2)", embed[0].Title)
	assert.Equal(t, "Case 2 | warn", embed[0].Fields[0].Name)

	f.say(moderator, "!modstats 30")
	stats := f.lastIn(t, channelID).Embeds
	require.Len(t, stats, 1)
	assert.Equal(t, "Moderation over the last 30 days", stats[0].Title)
	assert.Equal(t, "2", stats[0].Fields[0].Value)
}
