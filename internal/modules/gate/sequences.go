package gate

import (
	"fmt"
	"strings"

	"gatekeeper/internal/discord"
	"gatekeeper/internal/metrics"
	"gatekeeper/internal/sequence"
	"gatekeeper/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// questionFlow asks one question and either grants the role or queues the
// answer for review. It always finishes after the first answer.
type questionFlow struct {
	module   *Module
	question Question
	config   storage.GateConfig
}

func (f *questionFlow) Start(seq *sequence.Sequence) error {
	seq.Reply(fmt.Sprintf("%s please answer this question to get access:\n> %s\nType `%s` to cancel.",
		discord.Mention(seq.Owner), f.question.Prompt, sequence.StopKeyword))
	return nil
}

func (f *questionFlow) HandleMessage(seq *sequence.Sequence, msg *discordgo.Message) (sequence.Status, error) {
	answer := strings.TrimSpace(msg.Content)
	if answer == "" {
		seq.Reply("Please answer with text.")
		return sequence.Continue, nil
	}
	m := f.module
	logger := m.logger.With(zap.String("guild_id", seq.GuildID), zap.String("user_id", seq.Owner), zap.Int64("question_id", f.question.ID))

	if f.question.Matches(answer) {
		m.grant(seq.GuildID, seq.Owner, f.config.RoleID, seq.ChannelID)
		metrics.GateReviews.WithLabelValues("accepted").Inc()
		logger.Info("gate answer accepted")
		m.notifier.Transient(seq.ChannelID, fmt.Sprintf("Welcome %s, you now have access!", discord.Mention(seq.Owner)))
		return sequence.Done, nil
	}

	review := Review{
		UserID:    seq.Owner,
		ChannelID: seq.ChannelID,
		Question:  f.question.Prompt,
		Answer:    answer,
		QueuedAt:  m.clock.Now(),
	}
	added, evicted := m.Queue(seq.GuildID).Enqueue(review)
	if !added {
		m.notifier.Transient(seq.ChannelID, fmt.Sprintf("%s your earlier answer is still waiting for a moderator.", discord.Mention(seq.Owner)))
		return sequence.Done, nil
	}
	metrics.GateReviews.WithLabelValues("enqueued").Inc()
	if evicted != nil {
		metrics.GateReviews.WithLabelValues("evicted").Inc()
		logger.Warn("gate review queue full, oldest review evicted", zap.String("evicted_user_id", evicted.UserID))
	}
	logger.Info("gate answer queued for review")

	m.postReview(seq.GuildID, f.config, review)
	m.notifier.Transient(seq.ChannelID, fmt.Sprintf("%s thanks! A moderator will review your answer shortly.", discord.Mention(seq.Owner)))
	return sequence.Done, nil
}

func (m *Module) postReview(guildID string, cfg storage.GateConfig, review Review) {
	channelID := cfg.ReviewChannelID
	if channelID == "" {
		channelID = review.ChannelID
	}
	mention := discord.Mention(review.UserID)
	m.messenger.Send(channelID, &discordgo.MessageSend{
		Content: fmt.Sprintf("%s needs a review. Reply with `%sreview %s yes` or `%sreview %s no`.", mention, m.sigil, mention, m.sigil, mention),
		Embeds:  []*discordgo.MessageEmbed{reviewEmbed(review)},
	}, func(_ *discordgo.Message, err error) {
		if err != nil {
			m.logger.Warn("gate review notice failed", zap.String("guild_id", guildID), zap.String("channel_id", channelID), zap.Error(err))
		}
	})
}

func reviewEmbed(review Review) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title: "Gate answer",
		Color: colorInfo,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Member", Value: discord.Mention(review.UserID), Inline: true},
			{Name: "Question", Value: truncate(review.Question, 1000)},
			{Name: "Answer", Value: truncate(review.Answer, 1000)},
		},
	}
}

// questionWizard collects a prompt and its keyword groups, then saves them.
type questionWizard struct {
	module *Module
	prompt string
}

func (w *questionWizard) Start(seq *sequence.Sequence) error {
	seq.Reply(fmt.Sprintf("What question should new members answer? Type `%s` to cancel.", sequence.StopKeyword))
	return nil
}

func (w *questionWizard) HandleMessage(seq *sequence.Sequence, msg *discordgo.Message) (sequence.Status, error) {
	text := strings.TrimSpace(msg.Content)
	if w.prompt == "" {
		if text == "" {
			seq.Reply("The question cannot be empty. What should new members answer?")
			return sequence.Continue, nil
		}
		w.prompt = text
		seq.Reply("Now list the keywords a correct answer must contain. Separate groups with `;` and alternatives with `,` or `|`. " +
			"Every group must match. Example: `rules; read, agree`")
		return sequence.Continue, nil
	}

	groups, err := ParseKeywords(text)
	if err != nil {
		seq.Reply("I need at least one keyword. Try again, for example `rules; read, agree`.")
		return sequence.Continue, nil
	}

	ctx, cancel := storeContext()
	defer cancel()
	id, err := w.module.store.AddGateQuestion(ctx, storage.GateQuestion{
		GuildID:   seq.GuildID,
		Prompt:    w.prompt,
		Keywords:  groups,
		CreatedBy: seq.Owner,
		CreatedAt: w.module.clock.Now(),
	})
	if err != nil {
		return sequence.Continue, fmt.Errorf("save gate question: %w", err)
	}
	w.module.logger.Info("gate question added", zap.String("guild_id", seq.GuildID), zap.String("user_id", seq.Owner), zap.Int64("question_id", id))
	w.module.notifier.Transient(seq.ChannelID, fmt.Sprintf("Saved question #%d: %s (keywords: %s)", id, w.prompt, FormatKeywords(groups)))
	return sequence.Done, nil
}

func truncate(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit-1]) + "…"
}
