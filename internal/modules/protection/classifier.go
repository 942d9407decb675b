package protection

import (
	"context"
	"time"

	"middleman-guard/internal/modules/audit"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const unknownExecutor = "Unknown"

// HandleChannelDelete classifies a channel-deletion event and restores the
// channel unless the deletion is attributable to an owner. The audit source
// lags the gateway event, so the handler waits once, queries once, and when
// the lookup still comes back empty it restores anyway: absence of evidence
// of an authorized deleter is treated as unauthorized.
func (m *Module) HandleChannelDelete(ctx context.Context, guildID, channelID, channelName string) {
	if !m.runtime.ProtectionEnabled(guildID) {
		return
	}
	if IsTicketChannel(channelName) {
		return
	}

	backup, found, err := m.store.GetChannelBackup(ctx, channelID)
	if err != nil {
		m.logger.Warn("backup lookup failed", zap.String("channel_id", channelID), zap.Error(err))
		return
	}
	if !found {
		return
	}

	time.Sleep(m.auditWait)
	deleterID := m.lookupDeleter(guildID, channelID)

	if deleterID != "" {
		if member := m.resolveMember(guildID, deleterID); member != nil && m.classifier.HasOwnerRole(member) {
			// Owner deletions come through the safe-delete path; a lingering
			// backup row here means the event raced the command, not an attack.
			return
		}
	}

	newChannelID, err := m.Restore(ctx, guildID, backup, channelID)
	if err != nil {
		m.logger.Error("channel restore failed",
			zap.String("guild_id", guildID),
			zap.String("channel_id", channelID),
			zap.Error(err))
		return
	}

	executor := deleterID
	if executor == "" {
		executor = unknownExecutor
	}
	m.audit.Log(ctx, guildID, audit.ActionChannelRestored, newChannelID, deleterID, map[string]any{
		"channel_name": backup.Name,
		"deleted_by":   executor,
	})
}

// lookupDeleter asks the audit source for the most recent delete entry for
// this exact channel. Entries older than a minute are ignored; they belong
// to some earlier deletion.
func (m *Module) lookupDeleter(guildID, channelID string) string {
	logs, err := m.api.GuildAuditLog(guildID, "", "", int(discordgo.AuditLogActionChannelDelete), 5)
	if err != nil || logs == nil {
		return ""
	}
	for _, entry := range logs.AuditLogEntries {
		if entry == nil || entry.TargetID != channelID {
			continue
		}
		ts, err := discordgo.SnowflakeTimestamp(entry.ID)
		if err == nil && time.Since(ts) > time.Minute {
			continue
		}
		return entry.UserID
	}
	return ""
}

// SafeDelete removes a protected channel on an owner's behalf. The backup
// row goes first so the delete event that follows finds no snapshot and
// no-ops; the command path never consults the audit log.
func (m *Module) SafeDelete(ctx context.Context, guildID, channelID, channelName, executorID string) error {
	if err := m.store.DeleteChannelBackup(ctx, channelID); err != nil {
		return err
	}
	if _, err := m.api.ChannelDelete(channelID); err != nil {
		return err
	}
	m.audit.Log(ctx, guildID, audit.ActionChannelDeleted, channelID, executorID, map[string]any{
		"channel_name": channelName,
	})
	return nil
}
