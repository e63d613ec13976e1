package discord

import (
	"sort"
	"strings"

	"github.com/bwmarrin/discordgo"
)

func Mention(userID string) string { return "<@" + userID + ">" }

func RoleMention(roleID string) string { return "<@&" + roleID + ">" }

func ChannelMention(channelID string) string { return "<#" + channelID + ">" }

// ParseUserID accepts <@id>, <@!id> or a bare snowflake.
func ParseUserID(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "<@") && strings.HasSuffix(raw, ">") && !strings.HasPrefix(raw, "<@&") {
		raw = strings.TrimPrefix(raw[2:len(raw)-1], "!")
	}
	return raw, isSnowflake(raw)
}

// ParseRoleID accepts <@&id> or a bare snowflake.
func ParseRoleID(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "<@&") && strings.HasSuffix(raw, ">") {
		raw = raw[3 : len(raw)-1]
	}
	return raw, isSnowflake(raw)
}

// ParseChannelID accepts <#id> or a bare snowflake.
func ParseChannelID(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "<#") && strings.HasSuffix(raw, ">") {
		raw = raw[2 : len(raw)-1]
	}
	return raw, isSnowflake(raw)
}

func isSnowflake(value string) bool {
	if len(value) < 2 || len(value) > 20 {
		return false
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

var permissionNames = map[int64]string{
	discordgo.PermissionCreateInstantInvite: "CREATE_INSTANT_INVITE",
	discordgo.PermissionKickMembers:         "KICK_MEMBERS",
	discordgo.PermissionBanMembers:          "BAN_MEMBERS",
	discordgo.PermissionAdministrator:       "ADMINISTRATOR",
	discordgo.PermissionManageChannels:      "MANAGE_CHANNELS",
	discordgo.PermissionManageServer:        "MANAGE_GUILD",
	discordgo.PermissionAddReactions:        "ADD_REACTIONS",
	discordgo.PermissionViewAuditLogs:       "VIEW_AUDIT_LOG",
	discordgo.PermissionViewChannel:         "VIEW_CHANNEL",
	discordgo.PermissionSendMessages:        "SEND_MESSAGES",
	discordgo.PermissionManageMessages:      "MANAGE_MESSAGES",
	discordgo.PermissionEmbedLinks:          "EMBED_LINKS",
	discordgo.PermissionAttachFiles:         "ATTACH_FILES",
	discordgo.PermissionReadMessageHistory:  "READ_MESSAGE_HISTORY",
	discordgo.PermissionMentionEveryone:     "MENTION_EVERYONE",
	discordgo.PermissionManageNicknames:     "MANAGE_NICKNAMES",
	discordgo.PermissionManageRoles:         "MANAGE_ROLES",
	discordgo.PermissionManageWebhooks:      "MANAGE_WEBHOOKS",
	discordgo.PermissionManageEvents:        "MANAGE_EVENTS",
	discordgo.PermissionManageThreads:       "MANAGE_THREADS",
	discordgo.PermissionModerateMembers:     "MODERATE_MEMBERS",
}

// PermissionNames lists the names of the bits set in perms, sorted.
func PermissionNames(perms int64) []string {
	var names []string
	for bit, name := range permissionNames {
		if perms&bit != 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
