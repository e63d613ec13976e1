package storage

import (
	"context"
	"database/sql"
	"time"
)

type Mute struct {
	GuildID    string
	UserID     string
	RoleID     string
	CaseNumber int64
	ExpiresAt  *time.Time
	CreatedAt  time.Time
}

func (s *Store) SaveMute(ctx context.Context, mute Mute) error {
	if mute.CreatedAt.IsZero() {
		mute.CreatedAt = time.Now()
	}
	var expires any
	if mute.ExpiresAt != nil {
		expires = mute.ExpiresAt.Unix()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO mutes (guild_id, user_id, role_id, case_number, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(guild_id, user_id) DO UPDATE SET
			role_id = excluded.role_id,
			case_number = excluded.case_number,
			expires_at = excluded.expires_at,
			created_at = excluded.created_at
	`), mute.GuildID, mute.UserID, mute.RoleID, mute.CaseNumber, expires, mute.CreatedAt.Unix())
	return err
}

func (s *Store) DeleteMute(ctx context.Context, guildID, userID string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM mutes WHERE guild_id = ? AND user_id = ?`), guildID, userID)
	return err
}

// ExpiredMutes lists timed mutes whose expiry is at or before now.
func (s *Store) ExpiredMutes(ctx context.Context, now time.Time) ([]Mute, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT guild_id, user_id, role_id, case_number, expires_at, created_at
		FROM mutes
		WHERE expires_at IS NOT NULL AND expires_at <= ?
		ORDER BY expires_at
	`), now.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var mutes []Mute
	for rows.Next() {
		var mute Mute
		var expires sql.NullInt64
		var created int64
		if err := rows.Scan(&mute.GuildID, &mute.UserID, &mute.RoleID, &mute.CaseNumber, &expires, &created); err != nil {
			return nil, err
		}
		if expires.Valid {
			value := time.Unix(expires.Int64, 0)
			mute.ExpiresAt = &value
		}
		mute.CreatedAt = time.Unix(created, 0)
		mutes = append(mutes, mute)
	}
	return mutes, rows.Err()
}
