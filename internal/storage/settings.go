package storage

import "context"

type GuildSettings struct {
	GuildID      string
	LogChannelID string
	MuteRoleID   string
}

func (s *Store) GetGuildSettings(ctx context.Context, guildID string) (GuildSettings, error) {
	if cached, ok := s.settings.Get(guildID); ok {
		return cached, nil
	}

	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT log_channel_id, mute_role_id FROM guild_settings WHERE guild_id = ?
	`), guildID)

	result := GuildSettings{GuildID: guildID}
	if err := row.Scan(&result.LogChannelID, &result.MuteRoleID); err != nil && !isNoRows(err) {
		return GuildSettings{}, err
	}
	s.settings.Add(guildID, result)
	return result, nil
}

func (s *Store) UpsertGuildSettings(ctx context.Context, settings GuildSettings) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO guild_settings (guild_id, log_channel_id, mute_role_id)
		VALUES (?, ?, ?)
		ON CONFLICT(guild_id) DO UPDATE SET
			log_channel_id = excluded.log_channel_id,
			mute_role_id = excluded.mute_role_id
	`), settings.GuildID, settings.LogChannelID, settings.MuteRoleID)
	s.settings.Remove(settings.GuildID)
	return err
}

// FindMuteRole returns the configured mute role, or "" when none is set.
func (s *Store) FindMuteRole(ctx context.Context, guildID string) (string, error) {
	settings, err := s.GetGuildSettings(ctx, guildID)
	if err != nil {
		return "", err
	}
	return settings.MuteRoleID, nil
}
