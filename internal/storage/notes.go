package storage

import (
	"context"
	"database/sql"
	"time"
)

type ModerationNote struct {
	ID          int64
	GuildID     string
	UserID      string
	ModeratorID string
	Action      string
	CaseNumber  int64
	Reason      string
	Duration    time.Duration
	CreatedAt   time.Time
}

func (s *Store) SaveModerationNote(ctx context.Context, note ModerationNote) (int64, error) {
	if note.CreatedAt.IsZero() {
		note.CreatedAt = time.Now()
	}
	row := s.db.QueryRowContext(ctx, s.rebind(`
		INSERT INTO moderation_notes (guild_id, user_id, moderator_id, action, case_number, reason, duration_seconds, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`), note.GuildID, note.UserID, note.ModeratorID, note.Action, note.CaseNumber, note.Reason,
		int64(note.Duration/time.Second), note.CreatedAt.Unix())

	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Store) ListModerationNotes(ctx context.Context, guildID, userID string) ([]ModerationNote, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, guild_id, user_id, moderator_id, action, case_number, reason, duration_seconds, created_at
		FROM moderation_notes
		WHERE guild_id = ? AND user_id = ?
		ORDER BY case_number DESC
	`), guildID, userID)
	if err != nil {
		return nil, err
	}
	return scanNotes(rows)
}

func (s *Store) ListModerationNotesSince(ctx context.Context, guildID string, since time.Time) ([]ModerationNote, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, guild_id, user_id, moderator_id, action, case_number, reason, duration_seconds, created_at
		FROM moderation_notes
		WHERE guild_id = ? AND created_at >= ?
		ORDER BY created_at DESC
	`), guildID, since.Unix())
	if err != nil {
		return nil, err
	}
	return scanNotes(rows)
}

func scanNotes(rows *sql.Rows) ([]ModerationNote, error) {
	defer rows.Close()

	var notes []ModerationNote
	for rows.Next() {
		var note ModerationNote
		var duration, created int64
		if err := rows.Scan(&note.ID, &note.GuildID, &note.UserID, &note.ModeratorID, &note.Action,
			&note.CaseNumber, &note.Reason, &duration, &created); err != nil {
			return nil, err
		}
		note.Duration = time.Duration(duration) * time.Second
		note.CreatedAt = time.Unix(created, 0)
		notes = append(notes, note)
	}
	return notes, rows.Err()
}
