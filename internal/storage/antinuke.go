package storage

import (
	"context"
	"encoding/json"
	"time"
)

type AntiNukeLog struct {
	ID         int64
	GuildID    string
	ActionType string
	TargetID   string
	ExecutorID string
	Details    map[string]any
	CreatedAt  time.Time
}

func (s *Store) AddAntiNukeLog(ctx context.Context, entry AntiNukeLog) error {
	details := entry.Details
	if details == nil {
		details = map[string]any{}
	}
	blob, err := json.Marshal(details)
	if err != nil {
		return err
	}
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO antinuke_logs (guild_id, action_type, target_id, executor_id, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, entry.GuildID, entry.ActionType, nullString(entry.TargetID), nullString(entry.ExecutorID), string(blob), createdAt.Unix())
	return err
}

func (s *Store) ListAntiNukeLogs(ctx context.Context, guildID string, since time.Time) ([]AntiNukeLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT log_id, guild_id, action_type, COALESCE(target_id, ''), COALESCE(executor_id, ''), details, created_at
		FROM antinuke_logs
		WHERE guild_id = ? AND created_at >= ?
		ORDER BY created_at DESC
	`, guildID, since.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []AntiNukeLog
	for rows.Next() {
		var entry AntiNukeLog
		var blob string
		var created int64
		if err := rows.Scan(&entry.ID, &entry.GuildID, &entry.ActionType, &entry.TargetID, &entry.ExecutorID, &blob, &created); err != nil {
			return nil, err
		}
		entry.CreatedAt = time.Unix(created, 0)
		if blob != "" {
			if err := json.Unmarshal([]byte(blob), &entry.Details); err != nil {
				return nil, err
			}
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
