package protection

import (
	"context"
	"fmt"

	"middleman-guard/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// Restore recreates a deleted channel from its backup and rekeys the backup
// row to the new channel id. Overwrites whose target no longer exists are
// dropped; a missing parent category falls back to no parent. Any failure
// before the channel exists aborts with the old backup row untouched.
func (m *Module) Restore(ctx context.Context, guildID string, backup storage.ChannelBackup, deletedChannelID string) (string, error) {
	overwrites, err := m.resolveOverwrites(guildID, backup.Overwrites)
	if err != nil {
		return "", err
	}

	parentID := backup.ParentID
	if parentID != "" && !m.categoryExists(guildID, parentID) {
		parentID = ""
	}

	data := discordgo.GuildChannelCreateData{
		Name:                 backup.Name,
		Position:             backup.Position,
		ParentID:             parentID,
		PermissionOverwrites: overwrites,
	}
	switch backup.Kind {
	case storage.ChannelKindText:
		data.Type = discordgo.ChannelTypeGuildText
		data.Topic = backup.Topic
		data.NSFW = backup.NSFW
		data.RateLimitPerUser = backup.RateLimitPerUser
	case storage.ChannelKindVoice:
		data.Type = discordgo.ChannelTypeGuildVoice
		data.Bitrate = backup.Bitrate
		if data.Bitrate == 0 {
			data.Bitrate = m.voiceBitrate
		}
		data.UserLimit = backup.UserLimit
	default:
		return "", fmt.Errorf("unknown channel kind %q", backup.Kind)
	}

	channel, err := m.api.GuildChannelCreateComplex(guildID, data)
	if err != nil {
		return "", fmt.Errorf("recreate channel %s: %w", backup.Name, err)
	}

	// The channel exists from here on. A rekey failure leaves the old row
	// pointing at a dead channel until the next full rescan; that stale
	// state is preferred over retry loops or duplicate rows.
	if err := m.store.RekeyChannelBackup(ctx, deletedChannelID, channel.ID); err != nil {
		m.logger.Error("backup rekey failed after restore",
			zap.String("guild_id", guildID),
			zap.String("old_channel_id", deletedChannelID),
			zap.String("new_channel_id", channel.ID),
			zap.Error(err))
		return channel.ID, nil
	}

	if _, err := m.api.ChannelMessageSendEmbed(channel.ID, restoredEmbed(backup.Name)); err != nil {
		m.logger.Warn("restore notice failed", zap.String("channel_id", channel.ID), zap.Error(err))
	}
	return channel.ID, nil
}

func (m *Module) resolveOverwrites(guildID string, stored map[string]storage.Overwrite) ([]*discordgo.PermissionOverwrite, error) {
	roles, err := m.api.GuildRoles(guildID)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	liveRoles := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		if role != nil {
			liveRoles[role.ID] = struct{}{}
		}
	}

	overwrites := make([]*discordgo.PermissionOverwrite, 0, len(stored))
	for targetID, ow := range stored {
		switch ow.Kind {
		case storage.OverwriteRole:
			if _, ok := liveRoles[targetID]; !ok {
				continue
			}
			overwrites = append(overwrites, &discordgo.PermissionOverwrite{
				ID:    targetID,
				Type:  discordgo.PermissionOverwriteTypeRole,
				Allow: int64(ow.Allow),
				Deny:  int64(ow.Deny),
			})
		case storage.OverwriteMember:
			if m.resolveMember(guildID, targetID) == nil {
				continue
			}
			overwrites = append(overwrites, &discordgo.PermissionOverwrite{
				ID:    targetID,
				Type:  discordgo.PermissionOverwriteTypeMember,
				Allow: int64(ow.Allow),
				Deny:  int64(ow.Deny),
			})
		}
	}
	return overwrites, nil
}

func (m *Module) categoryExists(guildID, categoryID string) bool {
	channels, err := m.api.GuildChannels(guildID)
	if err != nil {
		return false
	}
	for _, channel := range channels {
		if channel != nil && channel.ID == categoryID && channel.Type == discordgo.ChannelTypeGuildCategory {
			return true
		}
	}
	return false
}

func restoredEmbed(name string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       "Channel Restored",
		Description: fmt.Sprintf("**#%s** was automatically restored", name),
		Color:       0x2ECC71,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Protection", Value: "Anti-nuke active", Inline: true},
		},
	}
}
