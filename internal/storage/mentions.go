package storage

import (
	"context"
	"time"
)

const ActionKicked = "kicked"

type MentionRecord struct {
	GuildID     string
	UserID      string
	MentionTime time.Time
	ActionTaken string
}

// CountRecentMentions returns how many broadcast mentions the user has on
// record inside the trailing window ending at now.
func (s *Store) CountRecentMentions(ctx context.Context, guildID, userID string, window time.Duration, now time.Time) (int, error) {
	cutoff := now.Add(-window).Unix()
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM mention_tracker
		WHERE guild_id = ? AND user_id = ? AND mention_time > ?
	`, guildID, userID, cutoff)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) AddMentionRecord(ctx context.Context, guildID, userID, actionTaken string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mention_tracker (guild_id, user_id, mention_time, action_taken)
		VALUES (?, ?, ?, ?)
	`, guildID, userID, now.Unix(), nullString(actionTaken))
	return err
}

// CleanupOldMentions purges records older than the retention horizon.
func (s *Store) CleanupOldMentions(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays).Unix()
	result, err := s.db.ExecContext(ctx, `DELETE FROM mention_tracker WHERE mention_time < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (s *Store) ListMentionRecords(ctx context.Context, guildID, userID string) ([]MentionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT guild_id, user_id, mention_time, COALESCE(action_taken, '')
		FROM mention_tracker
		WHERE guild_id = ? AND user_id = ?
		ORDER BY mention_time
	`, guildID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []MentionRecord
	for rows.Next() {
		var record MentionRecord
		var at int64
		if err := rows.Scan(&record.GuildID, &record.UserID, &at, &record.ActionTaken); err != nil {
			return nil, err
		}
		record.MentionTime = time.Unix(at, 0)
		records = append(records, record)
	}
	return records, rows.Err()
}
