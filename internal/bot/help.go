package bot

import (
	"context"
	"fmt"
	"strings"

	"gatekeeper/internal/command"
	"gatekeeper/internal/discord"

	"github.com/bwmarrin/discordgo"
)

const helpColor = 0x5865F2

func (b *Bot) helpCommand() *command.Command {
	return &command.Command{
		Aliases:         []string{"help", "commands"},
		Usage:           b.cfg.CommandPrefix + "help [command]",
		Description:     "List the commands, or show how to use one.",
		CleanInvocation: true,
		Run:             b.help,
	}
}

func (b *Bot) help(_ context.Context, inv *command.Invocation) error {
	sigil := b.router.Sigil()
	if name := strings.TrimPrefix(strings.TrimSpace(inv.Args), sigil); name != "" {
		cmd, ok := b.registry.Lookup(name)
		if !ok || !visibleIn(cmd, inv.ChannelID()) {
			return command.Invalid("there is no command called %s", name)
		}
		inv.ReplyEmbed(commandHelp(sigil, cmd))
		return nil
	}

	embed := &discordgo.MessageEmbed{
		Title:       "Commands",
		Description: fmt.Sprintf("Use `%shelp <command>` for details.", sigil),
		Color:       helpColor,
	}
	for _, cmd := range b.registry.Commands() {
		if !visibleIn(cmd, inv.ChannelID()) {
			continue
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  sigil + cmd.Name(),
			Value: cmd.Description,
		})
	}
	inv.ReplyEmbed(embed)
	return nil
}

func commandHelp(sigil string, cmd *command.Command) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       sigil + cmd.Name(),
		Description: cmd.Description,
		Color:       helpColor,
	}
	if cmd.Usage != "" {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Usage", Value: "`" + cmd.Usage + "`"})
	}
	if len(cmd.Aliases) > 1 {
		aliases := make([]string, 0, len(cmd.Aliases)-1)
		for _, alias := range cmd.Aliases[1:] {
			aliases = append(aliases, sigil+strings.ToLower(alias))
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Aliases", Value: strings.Join(aliases, ", "), Inline: true})
	}
	if cmd.Permissions != 0 {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Requires", Value: strings.Join(discord.PermissionNames(cmd.Permissions), ", "), Inline: true})
	}
	return embed
}

func visibleIn(cmd *command.Command, channelID string) bool {
	if len(cmd.Channels) == 0 {
		return true
	}
	for _, id := range cmd.Channels {
		if id == channelID {
			return true
		}
	}
	return false
}
