package bot

import (
	"context"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

func (b *Bot) onReady(_ *discordgo.Session, event *discordgo.Ready) {
	if event.User == nil {
		return
	}
	b.router.SetSelfID(event.User.ID)
	b.moderation.SetSelfID(event.User.ID)
	b.logger.Info("discord ready", zap.String("user", event.User.Username), zap.Int("guilds", len(event.Guilds)))
}

func (b *Bot) onMessageCreate(_ *discordgo.Session, msg *discordgo.MessageCreate) {
	b.handleMessage(context.Background(), msg.Message)
}

// handleMessage offers msg to the author's live sequence first. Only a
// message no sequence consumed can be a command.
func (b *Bot) handleMessage(ctx context.Context, msg *discordgo.Message) {
	if msg == nil || msg.Author == nil || msg.Author.Bot {
		return
	}
	if b.sequences.HandleMessage(msg) {
		return
	}
	b.router.Handle(ctx, msg)
}

func (b *Bot) onGuildMemberAdd(_ *discordgo.Session, event *discordgo.GuildMemberAdd) {
	if event.Member == nil || event.User == nil || event.User.Bot {
		return
	}
	b.gate.HandleJoin(context.Background(), event.GuildID, event.User.ID)
}

func (b *Bot) onGuildMemberRemove(_ *discordgo.Session, event *discordgo.GuildMemberRemove) {
	if event.Member == nil || event.User == nil {
		return
	}
	b.sequences.HandleMemberLeave(event.GuildID, event.User.ID)
	b.gate.HandleLeave(event.GuildID, event.User.ID)
}

func (b *Bot) onGuildMemberUpdate(_ *discordgo.Session, event *discordgo.GuildMemberUpdate) {
	if event.Member == nil || event.User == nil {
		return
	}
	b.gate.HandleRoleChange(context.Background(), event.GuildID, event.User.ID, event.Roles)
}
