package gate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gatekeeper/internal/command"
	"gatekeeper/internal/discord"
	"gatekeeper/internal/metrics"
	"gatekeeper/internal/sequence"
	"gatekeeper/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const colorInfo = 0x5865F2

// reviewListLimit keeps the pending list within one embed.
const reviewListLimit = 10

func (m *Module) Commands() []*command.Command {
	return []*command.Command{
		{
			Aliases:         []string{"verify"},
			Usage:           m.sigil + "verify",
			Description:     "Answer a question to get access to the server.",
			CleanInvocation: true,
			Run:             m.verify,
		},
		{
			Aliases:         []string{"review"},
			Usage:           m.sigil + "review [@member yes|no]",
			Description:     "List answers waiting for review, or accept or reject one.",
			Permissions:     discordgo.PermissionManageRoles,
			CleanInvocation: true,
			Run:             m.review,
		},
		{
			Aliases:         []string{"gate"},
			Usage:           m.sigil + "gate [on|off|role @role|welcome #channel|reviews #channel|questions|remove <id>]",
			Description:     "Show or change the member gate settings.",
			Permissions:     discordgo.PermissionManageServer,
			CleanInvocation: true,
			Run:             m.gate,
		},
		{
			Aliases:         []string{"addquestion", "addq"},
			Usage:           m.sigil + "addquestion",
			Description:     "Add a gate question step by step.",
			Permissions:     discordgo.PermissionManageServer,
			CleanInvocation: true,
			Run:             m.addQuestion,
		},
	}
}

func (m *Module) verify(ctx context.Context, inv *command.Invocation) error {
	if !inv.InGuild() {
		return &command.PermissionError{Reason: "this command must be used in a guild text channel"}
	}
	guildID, userID := inv.GuildID(), inv.AuthorID()

	cfg, err := m.store.GetGateConfig(ctx, guildID)
	if err != nil {
		return fmt.Errorf("load gate config: %w", err)
	}
	if !cfg.Enabled || cfg.RoleID == "" {
		return command.Invalid("the gate is not enabled on this server")
	}
	if cfg.WelcomeChannelID != "" && inv.ChannelID() != cfg.WelcomeChannelID {
		return command.Invalid("please run this command in %s", discord.ChannelMention(cfg.WelcomeChannelID))
	}
	has, err := m.members.HasRole(guildID, userID, cfg.RoleID)
	if err != nil {
		return fmt.Errorf("check gate role: %w", err)
	}
	if has {
		return command.Invalid("you already have access")
	}
	if m.Queue(guildID).Pending(userID) {
		return command.Invalid("your answer is already waiting for a moderator, please be patient")
	}

	questions, err := m.questions(ctx, guildID)
	if err != nil {
		return fmt.Errorf("load gate questions: %w", err)
	}
	if len(questions) == 0 {
		return command.Invalid("no gate questions are set up yet, please ask a moderator")
	}
	question := questions[m.pick(len(questions))]

	_, err = m.sequences.Start(sequence.Spec{
		Kind:      KindQuestion,
		Owner:     userID,
		ChannelID: inv.ChannelID(),
		GuildID:   guildID,
		New: func() sequence.Handler {
			return &questionFlow{module: m, question: question, config: cfg}
		},
		Cleanup:  true,
		Announce: m.announce,
	})
	if errors.Is(err, sequence.ErrAlreadyActive) {
		return command.Invalid("you already have a question open here")
	}
	return err
}

func (m *Module) review(ctx context.Context, inv *command.Invocation) error {
	guildID := inv.GuildID()
	queue := m.Queue(guildID)
	args := inv.Fields()
	if len(args) == 0 {
		inv.ReplyEmbed(pendingEmbed(queue))
		return nil
	}
	if len(args) != 2 {
		return command.Usage(inv.Command, "expected a member and yes or no")
	}
	userID, ok := discord.ParseUserID(args[0])
	if !ok {
		return command.Usage(inv.Command, "that is not a member mention")
	}
	verdict := strings.ToLower(args[1])
	if verdict != "yes" && verdict != "no" {
		return command.Usage(inv.Command, "the verdict must be yes or no")
	}

	var cfg storage.GateConfig
	if verdict == "yes" {
		var err error
		if cfg, err = m.store.GetGateConfig(ctx, guildID); err != nil {
			return fmt.Errorf("load gate config: %w", err)
		}
		if cfg.RoleID == "" {
			return command.Invalid("no gate role is configured, set one with `%sgate role @role`", m.sigil)
		}
	}

	pending, ok := queue.Resolve(userID)
	if !ok {
		return command.Invalid("%s has no answer waiting for review", discord.Mention(userID))
	}
	m.logger.Info("gate review resolved",
		zap.String("guild_id", guildID),
		zap.String("user_id", userID),
		zap.String("moderator_id", inv.AuthorID()),
		zap.String("verdict", verdict))

	if verdict == "yes" {
		m.grant(guildID, userID, cfg.RoleID, pending.ChannelID)
		metrics.GateReviews.WithLabelValues("approved").Inc()
		m.notifier.Transient(pending.ChannelID, fmt.Sprintf("%s your answer was approved. Welcome!", discord.Mention(userID)))
		inv.Reply(fmt.Sprintf("Approved %s.", discord.Mention(userID)))
		return nil
	}
	metrics.GateReviews.WithLabelValues("rejected").Inc()
	inv.Reply(fmt.Sprintf("Rejected the answer from %s. Please follow up with them directly; they can run `%sverify` again for a new question.",
		discord.Mention(userID), m.sigil))
	return nil
}

func pendingEmbed(queue *ReviewQueue) *discordgo.MessageEmbed {
	reviews := queue.List()
	embed := &discordgo.MessageEmbed{
		Title: fmt.Sprintf("Pending gate reviews (%d/%d)", len(reviews), queue.Capacity()),
		Color: colorInfo,
	}
	if len(reviews) == 0 {
		embed.Description = "No answers are waiting for review."
		return embed
	}
	for i, review := range reviews {
		if i == reviewListLimit {
			embed.Footer = &discordgo.MessageEmbedFooter{Text: fmt.Sprintf("and %d more", len(reviews)-reviewListLimit)}
			break
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  fmt.Sprintf("%d. queued <t:%d:R>", i+1, review.QueuedAt.Unix()),
			Value: fmt.Sprintf("%s\nQ: %s\nA: %s", discord.Mention(review.UserID), truncate(review.Question, 300), truncate(review.Answer, 500)),
		})
	}
	return embed
}

func (m *Module) gate(ctx context.Context, inv *command.Invocation) error {
	guildID := inv.GuildID()
	cfg, err := m.store.GetGateConfig(ctx, guildID)
	if err != nil {
		return fmt.Errorf("load gate config: %w", err)
	}

	args := inv.Fields()
	sub := "status"
	if len(args) > 0 {
		sub = strings.ToLower(args[0])
	}
	value := ""
	if len(args) > 1 {
		value = args[1]
	}

	switch sub {
	case "status":
		questions, err := m.questions(ctx, guildID)
		if err != nil {
			return fmt.Errorf("load gate questions: %w", err)
		}
		inv.ReplyEmbed(statusEmbed(cfg, len(questions), m.Queue(guildID).Len()))
		return nil
	case "questions":
		questions, err := m.questions(ctx, guildID)
		if err != nil {
			return fmt.Errorf("load gate questions: %w", err)
		}
		inv.ReplyEmbed(questionsEmbed(questions))
		return nil
	case "remove":
		id, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return command.Usage(inv.Command, "expected a question id")
		}
		removed, err := m.store.RemoveGateQuestion(ctx, guildID, id)
		if err != nil {
			return fmt.Errorf("remove gate question: %w", err)
		}
		if !removed {
			return command.Invalid("there is no question #%d", id)
		}
		inv.Reply(fmt.Sprintf("Removed question #%d.", id))
		return nil
	case "on":
		if cfg.RoleID == "" {
			return command.Invalid("set a role first with `%sgate role @role`", m.sigil)
		}
		cfg.Enabled = true
	case "off":
		cfg.Enabled = false
	case "role":
		roleID, ok := discord.ParseRoleID(value)
		if !ok {
			return command.Usage(inv.Command, "expected a role mention")
		}
		cfg.RoleID = roleID
	case "welcome", "reviews":
		channelID, ok := discord.ParseChannelID(value)
		if !ok {
			return command.Usage(inv.Command, "expected a channel mention")
		}
		if sub == "welcome" {
			cfg.WelcomeChannelID = channelID
		} else {
			cfg.ReviewChannelID = channelID
		}
	default:
		return command.Usage(inv.Command, "unknown setting "+sub)
	}

	cfg.GuildID = guildID
	if err := m.store.UpsertGateConfig(ctx, cfg); err != nil {
		return fmt.Errorf("save gate config: %w", err)
	}
	m.logger.Info("gate config updated", zap.String("guild_id", guildID), zap.String("user_id", inv.AuthorID()), zap.String("setting", sub))
	inv.ReplyEmbed(statusEmbed(cfg, -1, m.Queue(guildID).Len()))
	return nil
}

func statusEmbed(cfg storage.GateConfig, questions, pending int) *discordgo.MessageEmbed {
	state := "off"
	if cfg.Enabled {
		state = "on"
	}
	embed := &discordgo.MessageEmbed{
		Title: "Member gate",
		Color: colorInfo,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Status", Value: state, Inline: true},
			{Name: "Role", Value: orNone(cfg.RoleID, discord.RoleMention), Inline: true},
			{Name: "Welcome channel", Value: orNone(cfg.WelcomeChannelID, discord.ChannelMention), Inline: true},
			{Name: "Review channel", Value: orNone(cfg.ReviewChannelID, discord.ChannelMention), Inline: true},
			{Name: "Pending reviews", Value: strconv.Itoa(pending), Inline: true},
		},
	}
	if questions >= 0 {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Questions", Value: strconv.Itoa(questions), Inline: true})
	}
	return embed
}

func questionsEmbed(questions []Question) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{Title: "Gate questions", Color: colorInfo}
	if len(questions) == 0 {
		embed.Description = "No questions yet."
		return embed
	}
	for i, q := range questions {
		if i == 25 {
			break
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  fmt.Sprintf("#%d", q.ID),
			Value: truncate(q.Prompt, 600) + "\nKeywords: " + truncate(FormatKeywords(q.Keywords), 400),
		})
	}
	return embed
}

func orNone(id string, format func(string) string) string {
	if id == "" {
		return "not set"
	}
	return format(id)
}

func (m *Module) addQuestion(_ context.Context, inv *command.Invocation) error {
	_, err := m.sequences.Start(sequence.Spec{
		Kind:      KindWizard,
		Owner:     inv.AuthorID(),
		ChannelID: inv.ChannelID(),
		GuildID:   inv.GuildID(),
		New:       func() sequence.Handler { return &questionWizard{module: m} },
		Cleanup:   true,
		Announce:  m.announce,
	})
	if errors.Is(err, sequence.ErrAlreadyActive) {
		return command.Invalid("you already have a conversation open here")
	}
	return err
}
