package events

import (
	"context"
	"errors"
	"fmt"

	"gatekeeper/internal/command"
	"gatekeeper/internal/sequence"

	"github.com/bwmarrin/discordgo"
)

const upcomingLimit = 10

func (m *Module) Commands() []*command.Command {
	return []*command.Command{
		{
			Aliases:         []string{"event", "newevent"},
			Usage:           m.sigil + "event",
			Description:     "Schedule an event step by step.",
			Permissions:     discordgo.PermissionManageEvents,
			CleanInvocation: true,
			Run:             m.newEvent,
		},
		{
			Aliases:         []string{"events"},
			Usage:           m.sigil + "events",
			Description:     "List upcoming events.",
			CleanInvocation: true,
			Run:             m.upcoming,
		},
	}
}

func (m *Module) newEvent(_ context.Context, inv *command.Invocation) error {
	_, err := m.sequences.Start(sequence.Spec{
		Kind:      KindWizard,
		Owner:     inv.AuthorID(),
		ChannelID: inv.ChannelID(),
		GuildID:   inv.GuildID(),
		New:       func() sequence.Handler { return &eventWizard{module: m} },
		Cleanup:   true,
		Announce:  m.announce,
	})
	if errors.Is(err, sequence.ErrAlreadyActive) {
		return command.Invalid("finish your open conversation here first")
	}
	return err
}

func (m *Module) upcoming(ctx context.Context, inv *command.Invocation) error {
	if !inv.InGuild() {
		return &command.PermissionError{Reason: "this command must be used in a guild text channel"}
	}
	events, err := m.store.UpcomingEvents(ctx, inv.GuildID(), m.clock.Now(), upcomingLimit)
	if err != nil {
		return fmt.Errorf("list events: %w", err)
	}

	embed := &discordgo.MessageEmbed{
		Title: fmt.Sprintf("Upcoming events (%d)", len(events)),
		Color: m.color,
	}
	if len(events) == 0 {
		embed.Description = fmt.Sprintf("Nothing is scheduled. Moderators can add one with `%sevent`.", m.sigil)
	}
	for _, event := range events {
		value := fmt.Sprintf("%s (%s)", discordTime(event.StartsAt, "F"), discordTime(event.StartsAt, "R"))
		if event.Link != "" {
			value += "\n" + event.Link
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  fmt.Sprintf("#%d %s", event.ID, event.Title),
			Value: value,
		})
	}
	inv.ReplyEmbed(embed)
	return nil
}
