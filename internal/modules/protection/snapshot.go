package protection

import (
	"context"

	"middleman-guard/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// ScanGuild snapshots every text and voice channel in the guild except
// ticket channels, then arms protection. A single channel failing to
// persist is skipped; the returned count covers fully captured channels
// only.
func (m *Module) ScanGuild(ctx context.Context, guildID string) (int, error) {
	channels, err := m.api.GuildChannels(guildID)
	if err != nil {
		return 0, err
	}

	captured := 0
	for _, channel := range channels {
		if channel == nil || IsTicketChannel(channel.Name) {
			continue
		}
		kind, ok := channelKind(channel.Type)
		if !ok {
			continue
		}

		backup := storage.ChannelBackup{
			GuildID:          guildID,
			ChannelID:        channel.ID,
			Name:             channel.Name,
			Kind:             kind,
			Position:         channel.Position,
			ParentID:         channel.ParentID,
			Topic:            channel.Topic,
			NSFW:             channel.NSFW,
			RateLimitPerUser: channel.RateLimitPerUser,
			Bitrate:          channel.Bitrate,
			UserLimit:        channel.UserLimit,
			Overwrites:       captureOverwrites(channel.PermissionOverwrites),
		}
		if err := m.store.UpsertChannelBackup(ctx, backup); err != nil {
			m.logger.Warn("channel backup skipped",
				zap.String("guild_id", guildID),
				zap.String("channel_id", channel.ID),
				zap.Error(err))
			continue
		}
		captured++
	}

	m.backupRoles(ctx, guildID)
	m.runtime.SetProtection(guildID, true)
	return captured, nil
}

func captureOverwrites(overwrites []*discordgo.PermissionOverwrite) map[string]storage.Overwrite {
	out := make(map[string]storage.Overwrite, len(overwrites))
	for _, ow := range overwrites {
		if ow == nil {
			continue
		}
		kind := storage.OverwriteMember
		if ow.Type == discordgo.PermissionOverwriteTypeRole {
			kind = storage.OverwriteRole
		}
		out[ow.ID] = storage.Overwrite{
			Kind:  kind,
			Allow: uint64(ow.Allow),
			Deny:  uint64(ow.Deny),
		}
	}
	return out
}

// backupRoles captures role configuration alongside the channel scan. Role
// backups are best effort; a failure here never fails the scan.
func (m *Module) backupRoles(ctx context.Context, guildID string) {
	roles, err := m.api.GuildRoles(guildID)
	if err != nil {
		m.logger.Warn("role backup skipped", zap.String("guild_id", guildID), zap.Error(err))
		return
	}
	for _, role := range roles {
		if role == nil || role.ID == guildID || role.Managed {
			continue
		}
		backup := storage.RoleBackup{
			GuildID:     guildID,
			RoleID:      role.ID,
			Name:        role.Name,
			Color:       role.Color,
			Hoist:       role.Hoist,
			Position:    role.Position,
			Permissions: role.Permissions,
			Mentionable: role.Mentionable,
		}
		if err := m.store.UpsertRoleBackup(ctx, backup); err != nil {
			m.logger.Warn("role backup skipped",
				zap.String("guild_id", guildID),
				zap.String("role_id", role.ID),
				zap.Error(err))
		}
	}
}

// ProtectedCount reports how many channels currently hold a live snapshot.
func (m *Module) ProtectedCount(ctx context.Context, guildID string) int {
	count, err := m.store.CountChannelBackups(ctx, guildID)
	if err != nil {
		m.logger.Warn("backup count failed", zap.String("guild_id", guildID), zap.Error(err))
		return 0
	}
	return count
}
