package bot

import (
	"context"
	"strconv"
	"testing"
	"time"

	"gatekeeper/internal/analytics"
	"gatekeeper/internal/config"
	"gatekeeper/internal/modules/audit"
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
	userID    = "100000000000000001"
	botID     = "100000000000000099"
)

type fixture struct {
	bot       *Bot
	store     *storage.Store
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
	b := Assemble(config.DefaultConfig(), logger, store, audit.NewLogger(store, logger), analytics.New(store), Deps{
		Messenger: messenger,
		Members:   members,
		Clock:     clk,
	})
	b.onReady(nil, &discordgo.Ready{User: &discordgo.User{ID: botID, Username: "gatekeeper"}})
	return &fixture{bot: b, store: store, messenger: messenger, members: members, clock: clk}
}

func (f *fixture) say(author, content string) {
	f.nextID++
	f.bot.onMessageCreate(nil, &discordgo.MessageCreate{Message: &discordgo.Message{
		ID:        "in" + strconv.Itoa(f.nextID),
		ChannelID: channelID,
		GuildID:   guildID,
		Content:   content,
		Author:    &discordgo.User{ID: author},
	}})
}

func (f *fixture) last(t *testing.T) testutil.SentMessage {
	t.Helper()
	msg, ok := f.messenger.LastSent()
	require.True(t, ok, "nothing was sent")
	return msg
}

func TestHelpListsEveryModule(t *testing.T) {
	f := newFixture(t)

	f.say(userID, "!help")

	msg := f.last(t)
	require.Len(t, msg.Embeds, 1)
	assert.Equal(t, "Commands", msg.Embeds[0].Title)
	var names []string
	for _, field := range msg.Embeds[0].Fields {
		names = append(names, field.Name)
	}
	assert.Contains(t, names, "!help")
	assert.Contains(t, names, "!verify")
	assert.Contains(t, names, "!warn")
	assert.Contains(t, names, "!event")
	assert.LessOrEqual(t, len(names), 25)
}

func TestHelpForOneCommand(t *testing.T) {
	f := newFixture(t)

	f.say(userID, "!help addq")

	msg := f.last(t)
	require.Len(t, msg.Embeds, 1)
	embed := msg.Embeds[0]
	assert.Equal(t, "!addquestion", embed.Title)
	require.Len(t, embed.Fields, 3)
	assert.Equal(t, "`!addquestion`", embed.Fields[0].Value)
	assert.Equal(t, "!addq", embed.Fields[1].Value)
	assert.Equal(t, "MANAGE_GUILD", embed.Fields[2].Value)
}

func TestHelpUnknownCommand(t *testing.T) {
	f := newFixture(t)

	f.say(userID, "!help frobnicate")

	assert.Contains(t, f.last(t).Content, "there is no command called frobnicate")
}

func TestOwnMessagesAreIgnored(t *testing.T) {
	f := newFixture(t)

	f.say(botID, "!help")

	assert.Empty(t, f.messenger.Messages())
}

func TestSequenceConsumesMessagesBeforeRouter(t *testing.T) {
	f := newFixture(t)
	f.members.Grant(channelID, userID, discordgo.PermissionManageEvents)

	f.say(userID, "!event")
	require.True(t, f.bot.sequences.HasActive(userID))

	f.say(userID, "!help")
	msg := f.last(t)
	assert.Empty(t, msg.Embeds)
	assert.Contains(t, msg.Content, "When does it start?")
}

func TestMemberRemoveEndsSequences(t *testing.T) {
	f := newFixture(t)
	f.members.Grant(channelID, userID, discordgo.PermissionManageEvents)
	f.say(userID, "!event")
	require.True(t, f.bot.sequences.HasActive(userID))

	f.bot.onGuildMemberRemove(nil, &discordgo.GuildMemberRemove{Member: &discordgo.Member{
		GuildID: guildID,
		User:    &discordgo.User{ID: userID},
	}})

	assert.False(t, f.bot.sequences.HasActive(userID))
}

func TestCloseEndsSequences(t *testing.T) {
	f := newFixture(t)
	f.members.Grant(channelID, userID, discordgo.PermissionManageEvents)
	f.say(userID, "!event")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	f.bot.Close(ctx)

	assert.False(t, f.bot.sequences.HasActive(userID))
	assert.Zero(t, f.bot.sequences.Len())
}
