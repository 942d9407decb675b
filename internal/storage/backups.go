package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

const (
	ChannelKindText  = "text"
	ChannelKindVoice = "voice"
)

const (
	OverwriteRole   = "role"
	OverwriteMember = "member"
)

// Overwrite is one per-target allow/deny permission pair attached to a
// channel backup. Allow and deny masks come straight from the platform and
// are stored as stringified uint64 for portability.
type Overwrite struct {
	Kind  string
	Allow uint64
	Deny  uint64
}

type ChannelBackup struct {
	GuildID          string
	ChannelID        string
	Name             string
	Kind             string
	Position         int
	ParentID         string
	Topic            string
	NSFW             bool
	RateLimitPerUser int
	Bitrate          int
	UserLimit        int
	Overwrites       map[string]Overwrite
	UpdatedAt        time.Time
}

type RoleBackup struct {
	GuildID     string
	RoleID      string
	Name        string
	Color       int
	Hoist       bool
	Position    int
	Permissions int64
	Mentionable bool
	UpdatedAt   time.Time
}

type overwriteJSON struct {
	Type  string `json:"type"`
	Allow string `json:"allow"`
	Deny  string `json:"deny"`
}

func encodeOverwrites(overwrites map[string]Overwrite) (string, error) {
	out := make(map[string]overwriteJSON, len(overwrites))
	for targetID, ow := range overwrites {
		out[targetID] = overwriteJSON{
			Type:  ow.Kind,
			Allow: strconv.FormatUint(ow.Allow, 10),
			Deny:  strconv.FormatUint(ow.Deny, 10),
		}
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeOverwrites(raw string) (map[string]Overwrite, error) {
	if raw == "" {
		return map[string]Overwrite{}, nil
	}
	var in map[string]overwriteJSON
	if err := json.Unmarshal([]byte(raw), &in); err != nil {
		return nil, err
	}
	out := make(map[string]Overwrite, len(in))
	for targetID, ow := range in {
		allow, err := strconv.ParseUint(ow.Allow, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("overwrite %s: bad allow mask: %w", targetID, err)
		}
		deny, err := strconv.ParseUint(ow.Deny, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("overwrite %s: bad deny mask: %w", targetID, err)
		}
		out[targetID] = Overwrite{Kind: ow.Type, Allow: allow, Deny: deny}
	}
	return out, nil
}

func (s *Store) UpsertChannelBackup(ctx context.Context, backup ChannelBackup) error {
	overwrites, err := encodeOverwrites(backup.Overwrites)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO channel_backups (
			guild_id, channel_id, channel_name, channel_type, position, parent_id,
			topic, nsfw, rate_limit_per_user, bitrate, user_limit,
			permission_overwrites, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(channel_id) DO UPDATE SET
			guild_id = excluded.guild_id,
			channel_name = excluded.channel_name,
			channel_type = excluded.channel_type,
			position = excluded.position,
			parent_id = excluded.parent_id,
			topic = excluded.topic,
			nsfw = excluded.nsfw,
			rate_limit_per_user = excluded.rate_limit_per_user,
			bitrate = excluded.bitrate,
			user_limit = excluded.user_limit,
			permission_overwrites = excluded.permission_overwrites,
			updated_at = excluded.updated_at
	`,
		backup.GuildID,
		backup.ChannelID,
		backup.Name,
		backup.Kind,
		backup.Position,
		nullString(backup.ParentID),
		nullString(backup.Topic),
		boolToInt(backup.NSFW),
		backup.RateLimitPerUser,
		nullInt(backup.Bitrate),
		nullInt(backup.UserLimit),
		overwrites,
		time.Now().Unix(),
	)
	return err
}

func (s *Store) GetChannelBackup(ctx context.Context, channelID string) (ChannelBackup, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT guild_id, channel_id, channel_name, channel_type, position,
			COALESCE(parent_id, ''), COALESCE(topic, ''), nsfw, rate_limit_per_user,
			COALESCE(bitrate, 0), COALESCE(user_limit, 0), permission_overwrites, updated_at
		FROM channel_backups WHERE channel_id = ?`, channelID)

	backup, err := scanChannelBackup(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ChannelBackup{}, false, nil
		}
		return ChannelBackup{}, false, err
	}
	return backup, true, nil
}

func (s *Store) DeleteChannelBackup(ctx context.Context, channelID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM channel_backups WHERE channel_id = ?`, channelID)
	return err
}

// RekeyChannelBackup moves a backup row from the deleted channel id to the
// freshly created one in a single transaction, keeping every other field.
func (s *Store) RekeyChannelBackup(ctx context.Context, oldChannelID, newChannelID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	result, err := tx.ExecContext(ctx, `
		UPDATE channel_backups SET channel_id = ?, updated_at = ? WHERE channel_id = ?
	`, newChannelID, time.Now().Unix(), oldChannelID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		err = fmt.Errorf("no backup row for channel %s", oldChannelID)
		return err
	}
	return tx.Commit()
}

func (s *Store) ListChannelBackups(ctx context.Context, guildID string) ([]ChannelBackup, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT guild_id, channel_id, channel_name, channel_type, position,
			COALESCE(parent_id, ''), COALESCE(topic, ''), nsfw, rate_limit_per_user,
			COALESCE(bitrate, 0), COALESCE(user_limit, 0), permission_overwrites, updated_at
		FROM channel_backups WHERE guild_id = ? ORDER BY position`, guildID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var backups []ChannelBackup
	for rows.Next() {
		backup, err := scanChannelBackup(rows)
		if err != nil {
			return nil, err
		}
		backups = append(backups, backup)
	}
	return backups, rows.Err()
}

func (s *Store) CountChannelBackups(ctx context.Context, guildID string) (int, error) {
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM channel_backups WHERE guild_id = ?`, guildID)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) UpsertRoleBackup(ctx context.Context, backup RoleBackup) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO role_backups (
			guild_id, role_id, role_name, color, hoist, position,
			permissions, mentionable, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(role_id) DO UPDATE SET
			guild_id = excluded.guild_id,
			role_name = excluded.role_name,
			color = excluded.color,
			hoist = excluded.hoist,
			position = excluded.position,
			permissions = excluded.permissions,
			mentionable = excluded.mentionable,
			updated_at = excluded.updated_at
	`,
		backup.GuildID,
		backup.RoleID,
		backup.Name,
		backup.Color,
		boolToInt(backup.Hoist),
		backup.Position,
		backup.Permissions,
		boolToInt(backup.Mentionable),
		time.Now().Unix(),
	)
	return err
}

func (s *Store) ListRoleBackups(ctx context.Context, guildID string) ([]RoleBackup, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT guild_id, role_id, role_name, color, hoist, position, permissions, mentionable, updated_at
		FROM role_backups WHERE guild_id = ? ORDER BY position DESC`, guildID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var backups []RoleBackup
	for rows.Next() {
		var backup RoleBackup
		var hoist, mentionable int
		var updated int64
		if err := rows.Scan(&backup.GuildID, &backup.RoleID, &backup.Name, &backup.Color, &hoist, &backup.Position, &backup.Permissions, &mentionable, &updated); err != nil {
			return nil, err
		}
		backup.Hoist = hoist == 1
		backup.Mentionable = mentionable == 1
		backup.UpdatedAt = time.Unix(updated, 0)
		backups = append(backups, backup)
	}
	return backups, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChannelBackup(row rowScanner) (ChannelBackup, error) {
	var backup ChannelBackup
	var nsfw int
	var overwrites string
	var updated int64
	err := row.Scan(
		&backup.GuildID,
		&backup.ChannelID,
		&backup.Name,
		&backup.Kind,
		&backup.Position,
		&backup.ParentID,
		&backup.Topic,
		&nsfw,
		&backup.RateLimitPerUser,
		&backup.Bitrate,
		&backup.UserLimit,
		&overwrites,
		&updated,
	)
	if err != nil {
		return ChannelBackup{}, err
	}
	backup.NSFW = nsfw == 1
	backup.UpdatedAt = time.Unix(updated, 0)
	backup.Overwrites, err = decodeOverwrites(overwrites)
	if err != nil {
		return ChannelBackup{}, err
	}
	return backup, nil
}

func nullString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullInt(value int) any {
	if value == 0 {
		return nil
	}
	return value
}
