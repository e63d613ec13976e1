// Package command parses sigil-prefixed text messages and dispatches them to
// registered handlers under permission and channel constraints.
package command

import (
	"context"
	"strings"

	"gatekeeper/internal/discord"

	"github.com/bwmarrin/discordgo"
)

type Func func(ctx context.Context, inv *Invocation) error

// Command is an immutable descriptor. The first alias is its canonical name.
type Command struct {
	Aliases     []string
	Usage       string
	Description string
	// Permissions is a discordgo permission bitmask the invoking member must hold.
	Permissions int64
	// CleanInvocation deletes the triggering message after the handler runs.
	CleanInvocation bool
	// Channels restricts the command to these channel ids when non-empty.
	Channels []string
	Run      Func
}

func (c *Command) Name() string {
	if len(c.Aliases) == 0 {
		return ""
	}
	return strings.ToLower(c.Aliases[0])
}

func (c *Command) allowedIn(channelID string) bool {
	if len(c.Channels) == 0 {
		return true
	}
	for _, id := range c.Channels {
		if id == channelID {
			return true
		}
	}
	return false
}

// Invocation is a parsed command message.
type Invocation struct {
	Message *discordgo.Message
	Command *Command
	Alias   string
	// Args is everything after the alias and one space, or "" when the message
	// is exactly the alias.
	Args string

	messenger discord.Messenger
}

func (inv *Invocation) Fields() []string {
	return strings.Fields(inv.Args)
}

func (inv *Invocation) AuthorID() string {
	if inv.Message.Author == nil {
		return ""
	}
	return inv.Message.Author.ID
}

func (inv *Invocation) GuildID() string   { return inv.Message.GuildID }
func (inv *Invocation) ChannelID() string { return inv.Message.ChannelID }

func (inv *Invocation) InGuild() bool { return inv.Message.GuildID != "" }

// Reply posts content to the invoking channel.
func (inv *Invocation) Reply(content string) {
	inv.Send(&discordgo.MessageSend{Content: content})
}

func (inv *Invocation) ReplyEmbed(embed *discordgo.MessageEmbed) {
	inv.Send(&discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{embed}})
}

func (inv *Invocation) Send(msg *discordgo.MessageSend) {
	if inv.messenger == nil {
		return
	}
	inv.messenger.Send(inv.Message.ChannelID, msg, nil)
}

// NewInvocation builds an invocation outside the router, mainly for tests.
func NewInvocation(msg *discordgo.Message, cmd *Command, args string, messenger discord.Messenger) *Invocation {
	alias := ""
	if cmd != nil {
		alias = cmd.Name()
	}
	return &Invocation{Message: msg, Command: cmd, Alias: alias, Args: args, messenger: messenger}
}
