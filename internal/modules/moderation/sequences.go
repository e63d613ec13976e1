package moderation

import (
	"fmt"

	"gatekeeper/internal/discord"
	"gatekeeper/internal/sequence"
	"gatekeeper/internal/utils"

	"github.com/bwmarrin/discordgo"
)

// muteFlow asks the moderator how long the mute should last.
type muteFlow struct {
	module *Module
	action action
}

func (f *muteFlow) Start(seq *sequence.Sequence) error {
	seq.Reply(fmt.Sprintf("How long should %s be muted? For example `30m`, `2h`, `1d12h`, `1w` or `permanent`. Type `%s` to cancel.",
		discord.Mention(f.action.targetID), sequence.StopKeyword))
	return nil
}

func (f *muteFlow) HandleMessage(seq *sequence.Sequence, msg *discordgo.Message) (sequence.Status, error) {
	duration, err := utils.ParseDuration(msg.Content)
	if err != nil {
		seq.Reply("I did not understand that, " + err.Error() + ".")
		return sequence.Continue, nil
	}
	f.action.duration = duration
	f.module.mute(f.action)
	return sequence.Done, nil
}
