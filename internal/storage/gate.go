package storage

import (
	"context"
	"encoding/json"
	"time"
)

type GateConfig struct {
	GuildID          string
	Enabled          bool
	RoleID           string
	WelcomeChannelID string
	ReviewChannelID  string
}

type GateQuestion struct {
	ID        int64
	GuildID   string
	Prompt    string
	Keywords  [][]string
	CreatedBy string
	CreatedAt time.Time
}

func (s *Store) GetGateConfig(ctx context.Context, guildID string) (GateConfig, error) {
	if cached, ok := s.gates.Get(guildID); ok {
		return cached, nil
	}

	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT enabled, role_id, welcome_channel_id, review_channel_id
		FROM gate_configs WHERE guild_id = ?
	`), guildID)

	result := GateConfig{GuildID: guildID}
	var enabled int
	if err := row.Scan(&enabled, &result.RoleID, &result.WelcomeChannelID, &result.ReviewChannelID); err != nil {
		if !isNoRows(err) {
			return GateConfig{}, err
		}
	}
	result.Enabled = enabled == 1
	s.gates.Add(guildID, result)
	return result, nil
}

func (s *Store) UpsertGateConfig(ctx context.Context, cfg GateConfig) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO gate_configs (guild_id, enabled, role_id, welcome_channel_id, review_channel_id)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(guild_id) DO UPDATE SET
			enabled = excluded.enabled,
			role_id = excluded.role_id,
			welcome_channel_id = excluded.welcome_channel_id,
			review_channel_id = excluded.review_channel_id
	`), cfg.GuildID, boolToInt(cfg.Enabled), cfg.RoleID, cfg.WelcomeChannelID, cfg.ReviewChannelID)
	s.gates.Remove(cfg.GuildID)
	return err
}

func (s *Store) ListGateQuestions(ctx context.Context, guildID string) ([]GateQuestion, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, guild_id, prompt, keywords, created_by, created_at
		FROM gate_questions WHERE guild_id = ?
		ORDER BY id
	`), guildID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []GateQuestion
	for rows.Next() {
		var q GateQuestion
		var keywords string
		var created int64
		if err := rows.Scan(&q.ID, &q.GuildID, &q.Prompt, &keywords, &q.CreatedBy, &created); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(keywords), &q.Keywords); err != nil {
			return nil, err
		}
		q.CreatedAt = time.Unix(created, 0)
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

func (s *Store) AddGateQuestion(ctx context.Context, q GateQuestion) (int64, error) {
	keywords, err := json.Marshal(q.Keywords)
	if err != nil {
		return 0, err
	}
	if q.CreatedAt.IsZero() {
		q.CreatedAt = time.Now()
	}
	row := s.db.QueryRowContext(ctx, s.rebind(`
		INSERT INTO gate_questions (guild_id, prompt, keywords, created_by, created_at)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id
	`), q.GuildID, q.Prompt, string(keywords), q.CreatedBy, q.CreatedAt.Unix())

	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// RemoveGateQuestion reports whether a question with that id existed in the guild.
func (s *Store) RemoveGateQuestion(ctx context.Context, guildID string, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM gate_questions WHERE guild_id = ? AND id = ?`), guildID, id)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}
