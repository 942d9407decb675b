package protection

import (
	"strings"
	"time"

	"middleman-guard/internal/authz"
	"middleman-guard/internal/modules/audit"
	"middleman-guard/internal/state"
	"middleman-guard/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// ChannelAPI is the slice of the platform client the protection module
// needs. *discordgo.Session satisfies it.
type ChannelAPI interface {
	GuildChannels(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Channel, error)
	GuildChannelCreateComplex(guildID string, data discordgo.GuildChannelCreateData, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelDelete(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
	GuildAuditLog(guildID, userID, beforeID string, actionType, limit int, options ...discordgo.RequestOption) (*discordgo.GuildAuditLog, error)
	GuildRoles(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Role, error)
	GuildMember(guildID, userID string, options ...discordgo.RequestOption) (*discordgo.Member, error)
}

type Module struct {
	api          ChannelAPI
	store        *storage.Store
	runtime      *state.Runtime
	classifier   *authz.Classifier
	audit        *audit.Logger
	logger       *zap.Logger
	auditWait    time.Duration
	voiceBitrate int
}

func New(api ChannelAPI, store *storage.Store, runtime *state.Runtime, classifier *authz.Classifier, auditLogger *audit.Logger, logger *zap.Logger, auditWait time.Duration, voiceBitrate int) *Module {
	if auditWait <= 0 {
		auditWait = time.Second
	}
	if voiceBitrate <= 0 {
		voiceBitrate = 64000
	}
	return &Module{
		api:          api,
		store:        store,
		runtime:      runtime,
		classifier:   classifier,
		audit:        auditLogger,
		logger:       logger,
		auditWait:    auditWait,
		voiceBitrate: voiceBitrate,
	}
}

// IsTicketChannel reports whether a channel name belongs to the ticket
// workflow. Ticket channels are high churn and never protected.
func IsTicketChannel(name string) bool {
	return strings.Contains(strings.ToLower(name), "ticket")
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

func channelKind(channelType discordgo.ChannelType) (string, bool) {
	switch channelType {
	case discordgo.ChannelTypeGuildText:
		return storage.ChannelKindText, true
	case discordgo.ChannelTypeGuildVoice:
		return storage.ChannelKindVoice, true
	default:
		return "", false
	}
}
