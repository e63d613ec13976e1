package storage

import (
	"context"
	"database/sql"
	"time"
)

type Event struct {
	ID        int64
	GuildID   string
	ChannelID string
	CreatorID string
	Title     string
	Link      string
	StartsAt  time.Time
	Reminded  bool
	CreatedAt time.Time
}

const eventColumns = `id, guild_id, channel_id, creator_id, title, link, starts_at, reminded, created_at`

func (s *Store) SaveEvent(ctx context.Context, event Event) (int64, error) {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	row := s.db.QueryRowContext(ctx, s.rebind(`
		INSERT INTO events (guild_id, channel_id, creator_id, title, link, starts_at, reminded, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?)
		RETURNING id
	`), event.GuildID, event.ChannelID, event.CreatorID, event.Title, event.Link, event.StartsAt.Unix(), event.CreatedAt.Unix())

	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Store) UpcomingEvents(ctx context.Context, guildID string, now time.Time, limit int) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT `+eventColumns+`
		FROM events
		WHERE guild_id = ? AND starts_at >= ?
		ORDER BY starts_at
		LIMIT ?
	`), guildID, now.Unix(), limit)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// DueEventReminders lists events starting at or before the given instant that
// have not been announced yet.
func (s *Store) DueEventReminders(ctx context.Context, before time.Time) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT `+eventColumns+`
		FROM events
		WHERE reminded = 0 AND starts_at <= ?
		ORDER BY starts_at
	`), before.Unix())
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

func (s *Store) MarkEventReminded(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`UPDATE events SET reminded = 1 WHERE id = ?`), id)
	return err
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var event Event
		var starts, created int64
		var reminded int
		if err := rows.Scan(&event.ID, &event.GuildID, &event.ChannelID, &event.CreatorID, &event.Title,
			&event.Link, &starts, &reminded, &created); err != nil {
			return nil, err
		}
		event.StartsAt = time.Unix(starts, 0)
		event.Reminded = reminded == 1
		event.CreatedAt = time.Unix(created, 0)
		events = append(events, event)
	}
	return events, rows.Err()
}
