// Package discord adapts a discordgo session to the narrow outbound contract
// the engine needs. Every call returns immediately; the REST round trip runs
// on its own goroutine and reports through an optional completion callback.
package discord

import (
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// Messenger sends and deletes messages. Callbacks may be nil.
type Messenger interface {
	Send(channelID string, msg *discordgo.MessageSend, done func(*discordgo.Message, error))
	SendDM(userID string, msg *discordgo.MessageSend, done func(*discordgo.Message, error))
	Delete(channelID, messageID string, done func(error))
	BulkDelete(channelID string, messageIDs []string, done func(error))
}

// Members resolves permissions and changes member state.
type Members interface {
	Permissions(channelID, userID string) (int64, error)
	HasRole(guildID, userID, roleID string) (bool, error)
	AddRole(guildID, userID, roleID string, done func(error))
	RemoveRole(guildID, userID, roleID string, done func(error))
	Kick(guildID, userID, reason string, done func(error))
	SharesGuild(userID string) bool
	InGuild(guildID, userID string) bool
}

// TransportError wraps a failed REST call.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("discord %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func transportErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransportError{Op: op, Err: err}
}

type Client struct {
	session *discordgo.Session
	logger  *zap.Logger
}

func NewClient(session *discordgo.Session, logger *zap.Logger) *Client {
	return &Client{session: session, logger: logger}
}

func (c *Client) Send(channelID string, msg *discordgo.MessageSend, done func(*discordgo.Message, error)) {
	go func() {
		sent, err := c.session.ChannelMessageSendComplex(channelID, msg)
		c.finishMessage("send", done, sent, err, zap.String("channel_id", channelID))
	}()
}

func (c *Client) SendDM(userID string, msg *discordgo.MessageSend, done func(*discordgo.Message, error)) {
	go func() {
		channel, err := c.session.UserChannelCreate(userID)
		if err != nil {
			c.finishMessage("open dm", done, nil, err, zap.String("user_id", userID))
			return
		}
		sent, err := c.session.ChannelMessageSendComplex(channel.ID, msg)
		c.finishMessage("send dm", done, sent, err, zap.String("user_id", userID))
	}()
}

func (c *Client) Delete(channelID, messageID string, done func(error)) {
	go func() {
		err := c.session.ChannelMessageDelete(channelID, messageID)
		c.finish("delete", done, err, zap.String("channel_id", channelID), zap.String("message_id", messageID))
	}()
}

func (c *Client) BulkDelete(channelID string, messageIDs []string, done func(error)) {
	go func() {
		err := c.session.ChannelMessagesBulkDelete(channelID, messageIDs)
		c.finish("bulk delete", done, err, zap.String("channel_id", channelID), zap.Int("count", len(messageIDs)))
	}()
}

func (c *Client) AddRole(guildID, userID, roleID string, done func(error)) {
	go func() {
		err := c.session.GuildMemberRoleAdd(guildID, userID, roleID)
		c.finish("add role", done, err, zap.String("guild_id", guildID), zap.String("user_id", userID), zap.String("role_id", roleID))
	}()
}

func (c *Client) RemoveRole(guildID, userID, roleID string, done func(error)) {
	go func() {
		err := c.session.GuildMemberRoleRemove(guildID, userID, roleID)
		c.finish("remove role", done, err, zap.String("guild_id", guildID), zap.String("user_id", userID), zap.String("role_id", roleID))
	}()
}

func (c *Client) Kick(guildID, userID, reason string, done func(error)) {
	go func() {
		err := c.session.GuildMemberDeleteWithReason(guildID, userID, reason)
		c.finish("kick", done, err, zap.String("guild_id", guildID), zap.String("user_id", userID))
	}()
}

// Permissions resolves channel permissions from the state cache, falling back
// to REST lookups when the member or channel is not cached.
func (c *Client) Permissions(channelID, userID string) (int64, error) {
	if c.session.State != nil {
		if perms, err := c.session.State.UserChannelPermissions(userID, channelID); err == nil {
			return perms, nil
		}
	}
	perms, err := c.session.UserChannelPermissions(userID, channelID)
	return perms, transportErr("permissions", err)
}

func (c *Client) HasRole(guildID, userID, roleID string) (bool, error) {
	member, err := c.member(guildID, userID)
	if err != nil {
		return false, err
	}
	for _, id := range member.Roles {
		if id == roleID {
			return true, nil
		}
	}
	return false, nil
}

// SharesGuild reports whether the user is a cached member of any guild the
// bot is in.
func (c *Client) SharesGuild(userID string) bool {
	if c.session.State == nil {
		return false
	}
	c.session.State.RLock()
	guildIDs := make([]string, 0, len(c.session.State.Guilds))
	for _, guild := range c.session.State.Guilds {
		guildIDs = append(guildIDs, guild.ID)
	}
	c.session.State.RUnlock()

	for _, guildID := range guildIDs {
		if _, err := c.session.State.Member(guildID, userID); err == nil {
			return true
		}
	}
	return false
}

// InGuild reports whether the user still belongs to guildID. Only an explicit
// unknown member answer from Discord counts as gone; transport failures
// report true so callers retry later.
func (c *Client) InGuild(guildID, userID string) bool {
	if c.session.State != nil {
		if _, err := c.session.State.Member(guildID, userID); err == nil {
			return true
		}
	}
	_, err := c.session.GuildMember(guildID, userID)
	if err == nil {
		return true
	}
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Message != nil && restErr.Message.Code == discordgo.ErrCodeUnknownMember {
		return false
	}
	c.logger.Debug("member lookup failed", zap.String("guild_id", guildID), zap.String("user_id", userID), zap.Error(err))
	return true
}

func (c *Client) member(guildID, userID string) (*discordgo.Member, error) {
	if c.session.State != nil {
		if member, err := c.session.State.Member(guildID, userID); err == nil {
			return member, nil
		}
	}
	member, err := c.session.GuildMember(guildID, userID)
	if err != nil {
		return nil, transportErr("member", err)
	}
	return member, nil
}

func (c *Client) finishMessage(op string, done func(*discordgo.Message, error), sent *discordgo.Message, err error, fields ...zap.Field) {
	err = transportErr(op, err)
	if err != nil && done == nil {
		c.logger.Warn("discord call failed", append(fields, zap.String("op", op), zap.Error(err))...)
	}
	if done != nil {
		done(sent, err)
	}
}

func (c *Client) finish(op string, done func(error), err error, fields ...zap.Field) {
	err = transportErr(op, err)
	if err != nil && done == nil {
		c.logger.Warn("discord call failed", append(fields, zap.String("op", op), zap.Error(err))...)
	}
	if done != nil {
		done(err)
	}
}
