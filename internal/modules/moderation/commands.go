package moderation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gatekeeper/internal/command"
	"gatekeeper/internal/discord"
	"gatekeeper/internal/modules/audit"
	"gatekeeper/internal/sequence"
	"gatekeeper/internal/storage"
	"gatekeeper/internal/utils"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const notesLimit = 10

func (m *Module) Commands() []*command.Command {
	return []*command.Command{
		{
			Aliases:         []string{"warn"},
			Usage:           m.sigil + "warn @member <reason>",
			Description:     "Warn a member and record a case.",
			Permissions:     discordgo.PermissionKickMembers,
			CleanInvocation: true,
			Run:             m.warnCommand,
		},
		{
			Aliases:         []string{"kick"},
			Usage:           m.sigil + "kick @member [reason]",
			Description:     "Kick a member and record a case.",
			Permissions:     discordgo.PermissionKickMembers,
			CleanInvocation: true,
			Run:             m.kickCommand,
		},
		{
			Aliases:         []string{"mute"},
			Usage:           m.sigil + "mute @member [duration] [reason]",
			Description:     "Give a member the mute role. Without a duration you are asked for one.",
			Permissions:     discordgo.PermissionManageRoles,
			CleanInvocation: true,
			Run:             m.muteCommand,
		},
		{
			Aliases:         []string{"unmute"},
			Usage:           m.sigil + "unmute @member [reason]",
			Description:     "Remove the mute role from a member.",
			Permissions:     discordgo.PermissionManageRoles,
			CleanInvocation: true,
			Run:             m.unmuteCommand,
		},
		{
			Aliases:         []string{"notes", "cases"},
			Usage:           m.sigil + "notes @member",
			Description:     "Show the latest moderation cases for a member.",
			Permissions:     discordgo.PermissionKickMembers,
			CleanInvocation: true,
			Run:             m.notesCommand,
		},
		{
			Aliases:         []string{"muterole"},
			Usage:           m.sigil + "muterole [@role]",
			Description:     "Show or set the role used for mutes.",
			Permissions:     discordgo.PermissionManageServer,
			CleanInvocation: true,
			Run:             m.muteRoleCommand,
		},
		{
			Aliases:         []string{"modlog"},
			Usage:           m.sigil + "modlog [#channel]",
			Description:     "Show or set the channel that receives case logs.",
			Permissions:     discordgo.PermissionManageServer,
			CleanInvocation: true,
			Run:             m.modLogCommand,
		},
		{
			Aliases:         []string{"resetcases"},
			Usage:           m.sigil + "resetcases confirm",
			Description:     "Restart case numbering at 1.",
			Permissions:     discordgo.PermissionAdministrator,
			CleanInvocation: true,
			Run:             m.resetCasesCommand,
		},
		{
			Aliases:         []string{"modstats"},
			Usage:           m.sigil + "modstats [days]",
			Description:     "Summarise recent moderation activity.",
			Permissions:     discordgo.PermissionKickMembers,
			CleanInvocation: true,
			Run:             m.modStatsCommand,
		},
	}
}

// target parses the member mention in the first argument and returns it with
// the remaining text.
func (m *Module) target(inv *command.Invocation) (string, []string, error) {
	args := inv.Fields()
	if len(args) == 0 {
		return "", nil, command.Usage(inv.Command, "a member is required")
	}
	userID, ok := discord.ParseUserID(args[0])
	if !ok {
		return "", nil, command.Usage(inv.Command, "that is not a member mention")
	}
	switch userID {
	case inv.AuthorID():
		return "", nil, command.Invalid("you cannot do that to yourself")
	case m.self():
		return "", nil, command.Invalid("you cannot do that to me")
	}
	return userID, args[1:], nil
}

func (m *Module) newAction(inv *command.Invocation, targetID, reason string) action {
	return action{
		guildID:     inv.GuildID(),
		channelID:   inv.ChannelID(),
		moderatorID: inv.AuthorID(),
		targetID:    targetID,
		reason:      reason,
	}
}

func (m *Module) warnCommand(_ context.Context, inv *command.Invocation) error {
	targetID, rest, err := m.target(inv)
	if err != nil {
		return err
	}
	if len(rest) == 0 {
		return command.Usage(inv.Command, "a reason is required")
	}
	m.warn(m.newAction(inv, targetID, strings.Join(rest, " ")))
	return nil
}

func (m *Module) kickCommand(_ context.Context, inv *command.Invocation) error {
	targetID, rest, err := m.target(inv)
	if err != nil {
		return err
	}
	m.kick(m.newAction(inv, targetID, strings.Join(rest, " ")))
	return nil
}

func (m *Module) muteCommand(ctx context.Context, inv *command.Invocation) error {
	targetID, rest, err := m.target(inv)
	if err != nil {
		return err
	}
	roleID, err := m.store.FindMuteRole(ctx, inv.GuildID())
	if err != nil {
		return fmt.Errorf("find mute role: %w", err)
	}
	if roleID == "" {
		return command.Invalid("no mute role is set, use `%smuterole @role` first", m.sigil)
	}

	a := m.newAction(inv, targetID, "")
	a.roleID = roleID
	if len(rest) > 0 {
		if duration, err := utils.ParseDuration(rest[0]); err == nil {
			a.duration = duration
			a.reason = strings.Join(rest[1:], " ")
			m.mute(a)
			return nil
		}
	}

	a.reason = strings.Join(rest, " ")
	_, err = m.sequences.Start(sequence.Spec{
		Kind:      KindMute,
		Owner:     inv.AuthorID(),
		ChannelID: inv.ChannelID(),
		GuildID:   inv.GuildID(),
		New:       func() sequence.Handler { return &muteFlow{module: m, action: a} },
		Cleanup:   true,
		Announce:  m.announce,
	})
	if errors.Is(err, sequence.ErrAlreadyActive) {
		return command.Invalid("finish your open conversation here first")
	}
	return err
}

func (m *Module) unmuteCommand(ctx context.Context, inv *command.Invocation) error {
	targetID, rest, err := m.target(inv)
	if err != nil {
		return err
	}
	roleID, err := m.store.FindMuteRole(ctx, inv.GuildID())
	if err != nil {
		return fmt.Errorf("find mute role: %w", err)
	}
	if roleID == "" {
		return command.Invalid("no mute role is set, use `%smuterole @role` first", m.sigil)
	}
	a := m.newAction(inv, targetID, strings.Join(rest, " "))
	a.roleID = roleID
	m.unmute(a, fmt.Sprintf("Unmuted %s.", discord.Mention(targetID)))
	return nil
}

func (m *Module) notesCommand(ctx context.Context, inv *command.Invocation) error {
	args := inv.Fields()
	if len(args) == 0 {
		return command.Usage(inv.Command, "a member is required")
	}
	userID, ok := discord.ParseUserID(args[0])
	if !ok {
		return command.Usage(inv.Command, "that is not a member mention")
	}
	notes, err := m.store.ListModerationNotes(ctx, inv.GuildID(), userID)
	if err != nil {
		return fmt.Errorf("list notes: %w", err)
	}
	inv.ReplyEmbed(m.notesEmbed(userID, notes))
	return nil
}

func (m *Module) notesEmbed(userID string, notes []storage.ModerationNote) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("Moderation cases (%d)", len(notes)),
		Description: discord.Mention(userID),
		Color:       m.color,
	}
	if len(notes) == 0 {
		embed.Description += " has a clean record."
		return embed
	}
	for i, note := range notes {
		if i == notesLimit {
			embed.Footer = &discordgo.MessageEmbedFooter{Text: fmt.Sprintf("%d older cases not shown", len(notes)-notesLimit)}
			break
		}
		name := fmt.Sprintf("Case %d | %s", note.CaseNumber, note.Action)
		if note.Action == audit.ActionMute {
			name += " " + audit.FormatDuration(note.Duration)
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  name,
			Value: fmt.Sprintf("%s by %s <t:%d:d>", reasonText(note.Reason), discord.Mention(note.ModeratorID), note.CreatedAt.Unix()),
		})
	}
	return embed
}

func (m *Module) muteRoleCommand(ctx context.Context, inv *command.Invocation) error {
	settings, err := m.store.GetGuildSettings(ctx, inv.GuildID())
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	args := inv.Fields()
	if len(args) == 0 {
		if settings.MuteRoleID == "" {
			inv.Reply("No mute role is set.")
		} else {
			inv.Reply("The mute role is " + discord.RoleMention(settings.MuteRoleID) + ".")
		}
		return nil
	}
	roleID, ok := discord.ParseRoleID(args[0])
	if !ok {
		return command.Usage(inv.Command, "that is not a role mention")
	}
	settings.MuteRoleID = roleID
	if err := m.store.UpsertGuildSettings(ctx, settings); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	m.logger.Info("mute role updated", zap.String("guild_id", inv.GuildID()), zap.String("role_id", roleID))
	inv.Reply("The mute role is now " + discord.RoleMention(roleID) + ".")
	return nil
}

func (m *Module) modLogCommand(ctx context.Context, inv *command.Invocation) error {
	settings, err := m.store.GetGuildSettings(ctx, inv.GuildID())
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	args := inv.Fields()
	if len(args) == 0 {
		if settings.LogChannelID == "" {
			inv.Reply("No log channel is set.")
		} else {
			inv.Reply("Cases are logged in " + discord.ChannelMention(settings.LogChannelID) + ".")
		}
		return nil
	}
	channelID, ok := discord.ParseChannelID(args[0])
	if !ok {
		return command.Usage(inv.Command, "that is not a channel mention")
	}
	settings.LogChannelID = channelID
	if err := m.store.UpsertGuildSettings(ctx, settings); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	m.logger.Info("log channel updated", zap.String("guild_id", inv.GuildID()), zap.String("channel_id", channelID))
	inv.Reply("Cases are now logged in " + discord.ChannelMention(channelID) + ".")
	return nil
}

func (m *Module) resetCasesCommand(ctx context.Context, inv *command.Invocation) error {
	if args := inv.Fields(); len(args) != 1 || strings.ToLower(args[0]) != "confirm" {
		return command.Usage(inv.Command, "this restarts case numbering, add `confirm` to proceed")
	}
	if err := m.store.ResetCases(ctx, inv.GuildID()); err != nil {
		return fmt.Errorf("reset cases: %w", err)
	}
	m.logger.Warn("case numbering reset", zap.String("guild_id", inv.GuildID()), zap.String("user_id", inv.AuthorID()))
	inv.Reply("Case numbering was reset. The next case is number 1.")
	return nil
}

func (m *Module) modStatsCommand(ctx context.Context, inv *command.Invocation) error {
	days := 7
	if args := inv.Fields(); len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 || n > 365 {
			return command.Usage(inv.Command, "days must be a number from 1 to 365")
		}
		days = n
	}
	report, err := m.analytics.Report(ctx, inv.GuildID(), m.clock.Now().Add(-time.Duration(days)*24*time.Hour))
	if err != nil {
		return fmt.Errorf("build report: %w", err)
	}

	var top []string
	for _, entry := range report.TopModerators(5) {
		top = append(top, fmt.Sprintf("%s: %d", discord.Mention(entry.ModeratorID), entry.Count))
	}
	if len(top) == 0 {
		top = append(top, "none")
	}
	inv.ReplyEmbed(&discordgo.MessageEmbed{
		Title: fmt.Sprintf("Moderation over the last %d days", days),
		Color: m.color,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Cases", Value: strconv.Itoa(report.Total), Inline: true},
			{Name: "Members", Value: strconv.Itoa(report.Members), Inline: true},
			{Name: "Warns", Value: strconv.Itoa(report.ByAction[audit.ActionWarn]), Inline: true},
			{Name: "Kicks", Value: strconv.Itoa(report.ByAction[audit.ActionKick]), Inline: true},
			{Name: "Mutes", Value: strconv.Itoa(report.ByAction[audit.ActionMute]), Inline: true},
			{Name: "Unmutes", Value: strconv.Itoa(report.ByAction[audit.ActionUnmute]), Inline: true},
			{Name: "Top moderators", Value: strings.Join(top, "\n")},
		},
	})
	return nil
}
