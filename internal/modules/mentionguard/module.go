package mentionguard

import (
	"context"
	"strings"
	"time"

	"middleman-guard/internal/authz"
	"middleman-guard/internal/modules/audit"
	"middleman-guard/internal/state"
	"middleman-guard/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// MessageAPI is the slice of the platform client the mention guard needs.
// *discordgo.Session satisfies it.
type MessageAPI interface {
	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
	GuildMemberDeleteWithReason(guildID, userID, reason string, options ...discordgo.RequestOption) error
	GuildRoles(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Role, error)
	GuildMember(guildID, userID string, options ...discordgo.RequestOption) (*discordgo.Member, error)
}

// Module watches for broadcast mentions and kicks repeat offenders. Every
// broadcast mention is recorded; the count of records already inside the
// window decides whether this one crosses the line.
type Module struct {
	api        MessageAPI
	store      *storage.Store
	runtime    *state.Runtime
	classifier *authz.Classifier
	audit      *audit.Logger
	logger     *zap.Logger
	botID      func() string
	window     time.Duration
	threshold  int
	now        func() time.Time
}

// New wires the guard. botID is resolved lazily; the session does not know
// its own user until the gateway handshake completes.
func New(api MessageAPI, store *storage.Store, runtime *state.Runtime, classifier *authz.Classifier, auditLogger *audit.Logger, logger *zap.Logger, botID func() string, window time.Duration, threshold int) *Module {
	if window <= 0 {
		window = 60 * time.Second
	}
	if threshold <= 0 {
		threshold = 1
	}
	return &Module{
		api:        api,
		store:      store,
		runtime:    runtime,
		classifier: classifier,
		audit:      auditLogger,
		logger:     logger,
		botID:      botID,
		window:     window,
		threshold:  threshold,
		now:        time.Now,
	}
}

// WithClock overrides the time source. Test hook.
func (m *Module) WithClock(now func() time.Time) *Module {
	m.now = now
	return m
}

// HandleMessage inspects one inbound message. Non-broadcast messages and
// messages from bots or staff at or above the bot's rank pass through.
func (m *Module) HandleMessage(ctx context.Context, msg *discordgo.Message) {
	if msg == nil || msg.Author == nil || msg.Author.Bot || msg.GuildID == "" {
		return
	}
	if !isBroadcastMention(msg) {
		return
	}

	member := m.resolveMember(msg.GuildID, msg.Author.ID)
	if member != nil && m.exempt(msg.GuildID, member) {
		return
	}

	now := m.now()
	prior, err := m.store.CountRecentMentions(ctx, msg.GuildID, msg.Author.ID, m.window, now)
	if err != nil {
		m.logger.Warn("mention count failed",
			zap.String("guild_id", msg.GuildID),
			zap.String("user_id", msg.Author.ID),
			zap.Error(err))
		return
	}
	if err := m.store.AddMentionRecord(ctx, msg.GuildID, msg.Author.ID, "", now); err != nil {
		m.logger.Warn("mention record failed", zap.String("user_id", msg.Author.ID), zap.Error(err))
	}

	if prior < m.threshold {
		return
	}

	if err := m.api.ChannelMessageDelete(msg.ChannelID, msg.ID); err != nil {
		m.logger.Warn("mention message delete failed", zap.String("message_id", msg.ID), zap.Error(err))
	}
	if err := m.api.GuildMemberDeleteWithReason(msg.GuildID, msg.Author.ID, "Mention spam: repeated broadcast mentions"); err != nil {
		// Missing kick permission is survivable; the deletion plus the
		// record still dampen the spam.
		m.logger.Warn("mention kick failed",
			zap.String("guild_id", msg.GuildID),
			zap.String("user_id", msg.Author.ID),
			zap.Error(err))
		return
	}

	if err := m.store.AddMentionRecord(ctx, msg.GuildID, msg.Author.ID, storage.ActionKicked, now); err != nil {
		m.logger.Warn("kick record failed", zap.String("user_id", msg.Author.ID), zap.Error(err))
	}
	m.audit.Log(ctx, msg.GuildID, audit.ActionUserKickedSpam, msg.Author.ID, "", map[string]any{
		"username":   msg.Author.Username,
		"channel_id": msg.ChannelID,
	})
	if _, err := m.api.ChannelMessageSendEmbed(msg.ChannelID, kickedEmbed(msg.Author.Username)); err != nil {
		m.logger.Warn("kick notice failed", zap.String("channel_id", msg.ChannelID), zap.Error(err))
	}
}

func isBroadcastMention(msg *discordgo.Message) bool {
	if msg.MentionEveryone {
		return true
	}
	return strings.Contains(msg.Content, "@everyone") || strings.Contains(msg.Content, "@here")
}

// exempt reports whether a member may broadcast freely: only members whose
// highest role sits at or above the bot's. Owner roles carry no exemption of
// their own; an owner ranked below the bot is tracked like anyone else.
func (m *Module) exempt(guildID string, member *discordgo.Member) bool {
	roles, err := m.api.GuildRoles(guildID)
	if err != nil {
		return false
	}
	botMember := m.resolveMember(guildID, m.botID())
	if botMember == nil {
		return false
	}
	return m.classifier.HasBotRoleOrHigher(authz.NewRoleRanker(roles), member, botMember)
}

func (m *Module) resolveMember(guildID, userID string) *discordgo.Member {
	if member := m.runtime.CachedMember(guildID, userID); member != nil {
		return member
	}
	member, err := m.api.GuildMember(guildID, userID)
	if err != nil || member == nil {
		return nil
	}
	m.runtime.CacheMember(guildID, member)
	return member
}

func kickedEmbed(username string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       "Member Kicked",
		Description: "**" + username + "** was kicked for repeated broadcast mentions",
		Color:       0xE74C3C,
	}
}
