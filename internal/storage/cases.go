package storage

import "context"

// NextCaseNumber allocates the next case number for a guild. The increment and
// read happen in one statement so concurrent callers never share a number.
func (s *Store) NextCaseNumber(ctx context.Context, guildID string) (int64, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		INSERT INTO case_counters (guild_id, last_case) VALUES (?, 1)
		ON CONFLICT(guild_id) DO UPDATE SET last_case = case_counters.last_case + 1
		RETURNING last_case
	`), guildID)

	var next int64
	if err := row.Scan(&next); err != nil {
		return 0, err
	}
	return next, nil
}

// ResetCases sets the guild counter back to zero; the next case is number 1.
func (s *Store) ResetCases(ctx context.Context, guildID string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO case_counters (guild_id, last_case) VALUES (?, 0)
		ON CONFLICT(guild_id) DO UPDATE SET last_case = 0
	`), guildID)
	return err
}

func (s *Store) CurrentCaseNumber(ctx context.Context, guildID string) (int64, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT last_case FROM case_counters WHERE guild_id = ?`), guildID)
	var current int64
	if err := row.Scan(&current); err != nil {
		if isNoRows(err) {
			return 0, nil
		}
		return 0, err
	}
	return current, nil
}
