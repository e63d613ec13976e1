package discord

import (
	"time"

	"gatekeeper/internal/clock"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// Notifier posts notices that remove themselves after a delay.
type Notifier struct {
	messenger Messenger
	clock     clock.Clock
	ttl       time.Duration
	logger    *zap.Logger
}

func NewNotifier(messenger Messenger, clk clock.Clock, ttl time.Duration, logger *zap.Logger) *Notifier {
	return &Notifier{messenger: messenger, clock: clk, ttl: ttl, logger: logger}
}

func (n *Notifier) TTL() time.Duration { return n.ttl }

func (n *Notifier) Transient(channelID, content string) {
	n.TransientFor(channelID, &discordgo.MessageSend{Content: content}, n.ttl)
}

func (n *Notifier) TransientEmbed(channelID string, embed *discordgo.MessageEmbed) {
	n.TransientFor(channelID, &discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{embed}}, n.ttl)
}

func (n *Notifier) TransientFor(channelID string, msg *discordgo.MessageSend, ttl time.Duration) {
	n.messenger.Send(channelID, msg, func(sent *discordgo.Message, err error) {
		if err != nil {
			n.logger.Warn("notice failed", zap.String("channel_id", channelID), zap.Error(err))
			return
		}
		n.clock.AfterFunc(ttl, func() {
			n.messenger.Delete(channelID, sent.ID, func(err error) {
				if err != nil {
					n.logger.Debug("notice cleanup failed", zap.String("channel_id", channelID), zap.String("message_id", sent.ID), zap.Error(err))
				}
			})
		})
	})
}

// DirectOrPublic DMs the user. If the DM cannot be delivered the message is
// posted as a transient notice mentioning the user in fallbackChannelID.
func (n *Notifier) DirectOrPublic(userID, fallbackChannelID string, msg *discordgo.MessageSend) {
	n.messenger.SendDM(userID, msg, func(_ *discordgo.Message, err error) {
		if err == nil {
			return
		}
		n.logger.Info("dm failed, falling back to channel", zap.String("user_id", userID), zap.String("channel_id", fallbackChannelID), zap.Error(err))
		if fallbackChannelID == "" {
			return
		}
		public := *msg
		public.Content = Mention(userID) + " " + msg.Content
		n.TransientFor(fallbackChannelID, &public, n.ttl)
	})
}
