package audit

import (
	"context"

	"middleman-guard/internal/storage"

	"go.uber.org/zap"
)

// Action types recorded in the protective-action trail.
const (
	ActionChannelsScanned = "channels_scanned"
	ActionChannelDeleted  = "channel_deleted"
	ActionChannelRestored = "channel_restored"
	ActionUserKickedSpam  = "user_kicked_spam"
	ActionMassRoleRemoval = "mass_role_removal"
	ActionUserDemoted     = "user_demoted"
	ActionMassDemotion    = "mass_demotion"
	ActionMassRoleGrant   = "mass_role_grant"
	ActionRolesStripped   = "roles_stripped"
	ActionMassStrip       = "mass_role_strip"
	ActionRolesGranted    = "roles_granted"
)

// Logger appends protective actions to the append-only antinuke trail,
// mirrors them to the process log, and optionally notifies a channel sink.
type Logger struct {
	store  *storage.Store
	logger *zap.Logger
	notify func(context.Context, storage.AntiNukeLog)
}

func NewLogger(store *storage.Store, logger *zap.Logger) *Logger {
	return &Logger{store: store, logger: logger}
}

func (l *Logger) SetNotifier(notify func(context.Context, storage.AntiNukeLog)) {
	l.notify = notify
}

func (l *Logger) Log(ctx context.Context, guildID, actionType, targetID, executorID string, details map[string]any) {
	entry := storage.AntiNukeLog{
		GuildID:    guildID,
		ActionType: actionType,
		TargetID:   targetID,
		ExecutorID: executorID,
		Details:    details,
	}
	if l.store != nil {
		if err := l.store.AddAntiNukeLog(ctx, entry); err != nil {
			l.logger.Warn("antinuke log write failed", zap.Error(err))
		}
	}
	if l.notify != nil {
		l.notify(ctx, entry)
	}
	l.logger.Info("antinuke",
		zap.String("guild_id", guildID),
		zap.String("action", actionType),
		zap.String("target_id", targetID),
		zap.String("executor_id", executorID),
		zap.Any("details", details),
	)
}
