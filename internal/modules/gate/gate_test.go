package gate

import (
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"gatekeeper/internal/command"
	"gatekeeper/internal/discord"
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
	roleID    = "900000000000000002"
	welcome   = "900000000000000003"
	reviews   = "900000000000000004"
	member    = "100000000000000001"
	moderator = "100000000000000002"
)

type gateFixture struct {
	module    *Module
	store     *storage.Store
	manager   *sequence.Manager
	router    *command.Router
	messenger *testutil.Messenger
	members   *testutil.Members
	clock     *testutil.Clock
	nextID    int
}

func newGateFixture(t *testing.T) *gateFixture {
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
		IdleTimeout: 5 * time.Minute,
		Clock:       clk,
		Messenger:   messenger,
		Notifier:    notifier,
		Members:     members,
		Logger:      logger,
	})
	module := New(Config{
		Store:          store,
		Sequences:      manager,
		Members:        members,
		Messenger:      messenger,
		Notifier:       notifier,
		Clock:          clk,
		Logger:         logger,
		Sigil:          "!",
		GreetingTTL:    30 * time.Minute,
		ReviewCapacity: 50,
	})
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

	ctx := context.Background()
	require.NoError(t, store.UpsertGateConfig(ctx, storage.GateConfig{
		GuildID:          guildID,
		Enabled:          true,
		RoleID:           roleID,
		WelcomeChannelID: welcome,
		ReviewChannelID:  reviews,
	}))
	_, err = store.AddGateQuestion(ctx, storage.GateQuestion{
		GuildID:  guildID,
		Prompt:   "Will you follow the rules?",
		Keywords: [][]string{{"yes"}, {"please", "ok"}},
	})
	require.NoError(t, err)

	return &gateFixture{module: module, store: store, manager: manager, router: router, messenger: messenger, members: members, clock: clk}
}

// say delivers a message the way the bot does: sequences first, then commands.
func (f *gateFixture) say(author, channelID, content string) {
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
}

func (f *gateFixture) lastContent(t *testing.T) string {
	t.Helper()
	sent, ok := f.messenger.LastSent()
	require.True(t, ok)
	return sent.Content
}

func (f *gateFixture) sentTo(channelID string) []testutil.SentMessage {
	var out []testutil.SentMessage
	for _, msg := range f.messenger.Messages() {
		if msg.ChannelID == channelID {
			out = append(out, msg)
		}
	}
	return out
}

func TestVerifyCorrectAnswerGrantsRole(t *testing.T) {
	f := newGateFixture(t)

	f.say(member, welcome, "!verify")
	require.True(t, f.manager.HasActive(member))
	assert.Contains(t, f.lastContent(t), "Will you follow the rules?")

	f.say(member, welcome, "Yes please")
	assert.False(t, f.manager.HasActive(member))
	assert.Equal(t, []testutil.RoleChange{{GuildID: guildID, UserID: member, RoleID: roleID, Added: true}}, f.members.Changes())
	assert.Zero(t, f.module.Queue(guildID).Len())
	assert.Contains(t, f.lastContent(t), "you now have access")

	bulk := f.messenger.BulkDeletes()
	require.Len(t, bulk, 1)
	assert.Contains(t, bulk[0], "in2", "the answer is removed with the transcript")

	f.say(member, welcome, "!verify")
	assert.Contains(t, f.lastContent(t), "you already have access")
}

func TestVerifyWrongAnswerQueuesForReview(t *testing.T) {
	f := newGateFixture(t)

	f.say(member, welcome, "!verify")
	f.say(member, welcome, "no thanks")

	assert.False(t, f.manager.HasActive(member))
	assert.Empty(t, f.members.Changes())
	review, ok := f.module.Queue(guildID).Get(member)
	require.True(t, ok)
	assert.Equal(t, "no thanks", review.Answer)
	assert.Equal(t, welcome, review.ChannelID)

	posted := f.sentTo(reviews)
	require.Len(t, posted, 1)
	assert.Contains(t, posted[0].Content, "!review <@"+member+"> yes")
	require.Len(t, posted[0].Embeds, 1)

	f.say(member, welcome, "!verify")
	assert.False(t, f.manager.HasActive(member), "a pending member cannot start another question")
	assert.Contains(t, f.lastContent(t), "already waiting for a moderator")
	assert.Equal(t, 1, f.module.Queue(guildID).Len())
}

func TestVerifyChecks(t *testing.T) {
	f := newGateFixture(t)

	f.say(member, reviews, "!verify")
	assert.Contains(t, f.lastContent(t), "please run this command in <#"+welcome+">")
	assert.False(t, f.manager.HasActive(member))

	f.members.Grant(welcome, moderator, discordgo.PermissionManageServer)
	f.say(moderator, welcome, "!gate off")
	f.say(member, welcome, "!verify")
	assert.Contains(t, f.lastContent(t), "the gate is not enabled")
}

func TestReviewYesGrantsRole(t *testing.T) {
	f := newGateFixture(t)
	f.say(member, welcome, "!verify")
	f.say(member, welcome, "maybe")
	f.members.Grant(reviews, moderator, discordgo.PermissionManageRoles)

	f.say(moderator, reviews, "!review <@"+member+"> YES")

	assert.Equal(t, []testutil.RoleChange{{GuildID: guildID, UserID: member, RoleID: roleID, Added: true}}, f.members.Changes())
	assert.False(t, f.module.Queue(guildID).Pending(member))
	assert.Contains(t, f.lastContent(t), "Approved <@"+member+">")

	approved := f.sentTo(welcome)
	assert.Contains(t, approved[len(approved)-1].Content, "your answer was approved")
}

func TestReviewNoRemovesEntryAndAllowsRetry(t *testing.T) {
	f := newGateFixture(t)
	f.say(member, welcome, "!verify")
	f.say(member, welcome, "maybe")
	f.members.Grant(reviews, moderator, discordgo.PermissionManageRoles)

	f.say(moderator, reviews, "!review <@!"+member+"> no")

	assert.Empty(t, f.members.Changes())
	assert.False(t, f.module.Queue(guildID).Pending(member))
	assert.Contains(t, f.lastContent(t), "follow up with them directly")

	f.say(member, welcome, "!verify")
	assert.True(t, f.manager.HasActive(member))
}

func TestReviewErrors(t *testing.T) {
	f := newGateFixture(t)

	f.say(moderator, reviews, "!review <@"+member+"> yes")
	assert.Contains(t, f.lastContent(t), "permission issue")
	assert.Contains(t, f.lastContent(t), "MANAGE_ROLES")

	f.members.Grant(reviews, moderator, discordgo.PermissionManageRoles)
	f.say(moderator, reviews, "!review <@"+member+"> yes")
	assert.Contains(t, f.lastContent(t), "has no answer waiting for review")

	f.say(moderator, reviews, "!review <@"+member+"> perhaps")
	assert.Contains(t, f.lastContent(t), "the verdict must be yes or no")
}

func TestReviewListsPendingOldestFirst(t *testing.T) {
	f := newGateFixture(t)
	queue := f.module.Queue(guildID)
	for i, user := range []string{"100000000000000011", "100000000000000012", "100000000000000013"} {
		queue.Enqueue(Review{UserID: user, Question: "q", Answer: "a", QueuedAt: f.clock.Now().Add(time.Duration(i) * time.Minute)})
	}
	f.members.Grant(reviews, moderator, discordgo.PermissionManageRoles)

	f.say(moderator, reviews, "!review")

	sent, ok := f.messenger.LastSent()
	require.True(t, ok)
	require.Len(t, sent.Embeds, 1)
	embed := sent.Embeds[0]
	assert.Equal(t, "Pending gate reviews (3/50)", embed.Title)
	require.Len(t, embed.Fields, 3)
	assert.True(t, strings.HasPrefix(embed.Fields[0].Value, "<@100000000000000011>"))
	assert.True(t, strings.HasPrefix(embed.Fields[2].Value, "<@100000000000000013>"))
}

func TestRoleChangeDropsReviewAndOpenQuestion(t *testing.T) {
	f := newGateFixture(t)
	other := "100000000000000005"
	f.module.Queue(guildID).Enqueue(Review{UserID: other})
	f.say(member, welcome, "!verify")
	require.True(t, f.manager.HasActive(member))

	ctx := context.Background()
	f.module.HandleRoleChange(ctx, guildID, member, []string{"unrelated"})
	assert.True(t, f.manager.HasActive(member))

	f.module.HandleRoleChange(ctx, guildID, member, []string{roleID})
	assert.False(t, f.manager.HasActive(member))

	f.module.HandleRoleChange(ctx, guildID, other, []string{roleID})
	assert.False(t, f.module.Queue(guildID).Pending(other))
}

func TestLeaveDropsReview(t *testing.T) {
	f := newGateFixture(t)
	f.module.Queue(guildID).Enqueue(Review{UserID: member})

	f.module.HandleLeave(guildID, member)
	assert.Zero(t, f.module.Queue(guildID).Len())
}

func TestJoinGreetingExpires(t *testing.T) {
	f := newGateFixture(t)

	f.module.HandleJoin(context.Background(), guildID, member)
	greeting := f.sentTo(welcome)
	require.Len(t, greeting, 1)
	assert.Contains(t, greeting[0].Content, "<@"+member+">")
	assert.Contains(t, greeting[0].Content, "`!verify`")

	f.clock.Advance(29 * time.Minute)
	assert.Empty(t, f.messenger.DeletedIDs())
	f.clock.Advance(time.Minute)
	assert.Equal(t, []string{greeting[0].ID}, f.messenger.DeletedIDs())
}

func TestAddQuestionWizard(t *testing.T) {
	f := newGateFixture(t)
	staff := "900000000000000009"
	f.members.Grant(staff, moderator, discordgo.PermissionManageServer)

	f.say(moderator, staff, "!addquestion")
	require.True(t, f.manager.HasActive(moderator))

	f.say(moderator, staff, "What is the password?")
	assert.Contains(t, f.lastContent(t), "keywords")

	f.say(moderator, staff, " ; ")
	assert.Contains(t, f.lastContent(t), "at least one keyword")
	assert.True(t, f.manager.HasActive(moderator))

	f.say(moderator, staff, "swordfish; please, pls")
	assert.False(t, f.manager.HasActive(moderator))
	assert.Contains(t, f.lastContent(t), "swordfish; please | pls")

	questions, err := f.store.ListGateQuestions(context.Background(), guildID)
	require.NoError(t, err)
	require.Len(t, questions, 2)
	assert.Equal(t, "What is the password?", questions[1].Prompt)
	assert.Equal(t, [][]string{{"swordfish"}, {"please", "pls"}}, questions[1].Keywords)
	assert.Equal(t, moderator, questions[1].CreatedBy)
}

func TestGateCommandUpdatesConfig(t *testing.T) {
	f := newGateFixture(t)
	staff := "900000000000000009"
	f.members.Grant(staff, moderator, discordgo.PermissionManageServer)
	ctx := context.Background()

	f.say(moderator, staff, "!gate role <@&900000000000000077>")
	cfg, err := f.store.GetGateConfig(ctx, guildID)
	require.NoError(t, err)
	assert.Equal(t, "900000000000000077", cfg.RoleID)

	f.say(moderator, staff, "!gate reviews <#900000000000000078>")
	f.say(moderator, staff, "!gate off")
	cfg, err = f.store.GetGateConfig(ctx, guildID)
	require.NoError(t, err)
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "900000000000000078", cfg.ReviewChannelID)

	f.say(moderator, staff, "!gate remove 1")
	questions, err := f.store.ListGateQuestions(ctx, guildID)
	require.NoError(t, err)
	assert.Empty(t, questions)

	f.say(moderator, staff, "!gate remove 1")
	assert.Contains(t, f.lastContent(t), "there is no question #1")

	f.say(moderator, staff, "!gate sideways")
	assert.Contains(t, f.lastContent(t), "unknown setting sideways")
}
