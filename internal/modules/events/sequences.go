package events

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"gatekeeper/internal/sequence"
	"gatekeeper/internal/storage"
	"gatekeeper/internal/utils"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const (
	titleLimit = 100
	timeLayout = "2006-01-02 15:04"
)

var (
	errBadStart = errors.New("use `YYYY-MM-DD HH:MM` in UTC or something like `in 2h`")
	errPast     = errors.New("that time has already passed")
)

type wizardStep int

const (
	stepTitle wizardStep = iota
	stepStart
	stepLink
)

// eventWizard collects a title, a start time and an optional link.
type eventWizard struct {
	module *Module
	step   wizardStep
	event  storage.Event
}

func (w *eventWizard) Start(seq *sequence.Sequence) error {
	seq.Reply(fmt.Sprintf("What is the event called? Type `%s` at any point to cancel.", sequence.StopKeyword))
	return nil
}

func (w *eventWizard) HandleMessage(seq *sequence.Sequence, msg *discordgo.Message) (sequence.Status, error) {
	text := strings.TrimSpace(msg.Content)
	switch w.step {
	case stepTitle:
		if text == "" {
			seq.Reply("The title cannot be empty.")
			return sequence.Continue, nil
		}
		if utf8.RuneCountInString(text) > titleLimit {
			seq.Reply(fmt.Sprintf("Please keep the title within %d characters.", titleLimit))
			return sequence.Continue, nil
		}
		w.event.Title = text
		w.step = stepStart
		seq.Reply("When does it start? Send `YYYY-MM-DD HH:MM` in UTC or something like `in 2h`.")

	case stepStart:
		starts, err := ParseStart(text, w.module.clock.Now())
		if err != nil {
			seq.Reply("I did not understand that, " + err.Error() + ".")
			return sequence.Continue, nil
		}
		w.event.StartsAt = starts
		w.step = stepLink
		seq.Reply("Where does it take place? Send a link, or `none`.")

	case stepLink:
		link, err := parseLink(text)
		if err != nil {
			seq.Reply("That does not look like a link. Send a link, or `none`.")
			return sequence.Continue, nil
		}
		w.event.Link = link
		return sequence.Done, w.save(seq)
	}
	return sequence.Continue, nil
}

func (w *eventWizard) save(seq *sequence.Sequence) error {
	m := w.module
	event := w.event
	event.GuildID = seq.GuildID
	event.ChannelID = seq.ChannelID
	event.CreatorID = seq.Owner
	event.CreatedAt = m.clock.Now()

	ctx, cancel := storeContext()
	defer cancel()
	id, err := m.store.SaveEvent(ctx, event)
	if err != nil {
		return fmt.Errorf("save event: %w", err)
	}
	event.ID = id

	logger := m.logger.With(zap.String("guild_id", event.GuildID), zap.Int64("event_id", id))
	logger.Info("event scheduled", zap.String("user_id", event.CreatorID), zap.Time("starts_at", event.StartsAt))
	m.messenger.Send(event.ChannelID, &discordgo.MessageSend{
		Content: "New event scheduled!",
		Embeds:  []*discordgo.MessageEmbed{m.eventEmbed(event)},
	}, func(_ *discordgo.Message, err error) {
		if err != nil {
			logger.Warn("event announcement not delivered", zap.Error(err))
		}
	})
	return nil
}

// ParseStart reads an absolute UTC time ("2006-01-02 15:04") or an offset
// from now ("in 2h"). The result must lie in the future.
func ParseStart(raw string, now time.Time) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if rest, ok := strings.CutPrefix(strings.ToLower(raw), "in "); ok {
		offset, err := utils.ParseDuration(rest)
		if err != nil || offset <= 0 {
			return time.Time{}, errBadStart
		}
		starts := now.Add(offset).Truncate(time.Minute)
		if !starts.After(now) {
			return time.Time{}, errPast
		}
		return starts, nil
	}
	starts, err := time.ParseInLocation(timeLayout, raw, time.UTC)
	if err != nil {
		return time.Time{}, errBadStart
	}
	if !starts.After(now) {
		return time.Time{}, errPast
	}
	return starts, nil
}

func parseLink(raw string) (string, error) {
	switch strings.ToLower(raw) {
	case "none", "no", "-":
		return "", nil
	}
	if urls := utils.ExtractURLs(raw); len(urls) > 0 {
		raw = urls[0]
	}
	link, _, err := utils.NormalizeLink(raw)
	return link, err
}
