package bot

import (
	"context"
	"fmt"
	"time"

	"middleman-guard/internal/analytics"
	"middleman-guard/internal/authz"
	"middleman-guard/internal/config"
	"middleman-guard/internal/modules/audit"
	"middleman-guard/internal/modules/massrole"
	"middleman-guard/internal/modules/mentionguard"
	"middleman-guard/internal/modules/protection"
	"middleman-guard/internal/modules/tickets"
	"middleman-guard/internal/state"
	"middleman-guard/internal/storage"
	"middleman-guard/internal/utils"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const (
	emojiApprove = "✅"
	emojiReject  = "❌"
)

type Bot struct {
	cfg        config.Config
	logger     *zap.Logger
	store      *storage.Store
	audit      *audit.Logger
	analytics  *analytics.Service
	session    *discordgo.Session
	runtime    *state.Runtime
	classifier *authz.Classifier
	confirms   *utils.Confirmations
	protection *protection.Module
	mentions   *mentionguard.Module
	massrole   *massrole.Module
	tickets    *tickets.Module
	sweepStop  chan struct{}
}

func New(cfg config.Config, logger *zap.Logger, store *storage.Store, auditLogger *audit.Logger, analyticsSvc *analytics.Service) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, err
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsMessageContent |
		discordgo.IntentsGuildMessageReactions

	b := &Bot{
		cfg:        cfg,
		logger:     logger,
		store:      store,
		audit:      auditLogger,
		analytics:  analyticsSvc,
		session:    session,
		runtime:    state.NewRuntime(time.Duration(cfg.Protection.MemberCacheTTL) * time.Second),
		classifier: authz.NewClassifier(cfg.OwnerRoleIDs),
		confirms:   utils.NewConfirmations(),
		sweepStop:  make(chan struct{}),
	}

	b.protection = protection.New(
		session, store, b.runtime, b.classifier, auditLogger, logger,
		time.Duration(cfg.Protection.AuditWaitMillis)*time.Millisecond,
		cfg.Protection.VoiceBitrate,
	)
	b.tickets = tickets.New(session, store, logger, cfg.Tickets.CategoryID)

	// The session only learns its own user after Open, so the modules take a
	// lazy resolver instead of a fixed ID.
	b.mentions = mentionguard.New(
		session, store, b.runtime, b.classifier, auditLogger, logger, b.botUserID,
		time.Duration(cfg.Mentions.WindowSeconds)*time.Second,
		cfg.Mentions.Threshold,
	)
	b.massrole = massrole.New(
		session, b.classifier, auditLogger, logger, b.confirmMassAction, b.botUserID,
		time.Duration(cfg.MassRole.StepDelayMillis)*time.Millisecond,
	)

	if b.audit != nil && cfg.LogChannelID != "" {
		b.audit.SetNotifier(b.notifyAction)
	}

	return b, nil
}

func (b *Bot) botUserID() string {
	if b.session.State != nil && b.session.State.User != nil {
		return b.session.State.User.ID
	}
	return ""
}

func (b *Bot) Start() error {
	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onMessageCreate)
	b.session.AddHandler(b.onChannelDelete)
	b.session.AddHandler(b.onMessageReactionAdd)
	b.session.AddHandler(b.onInteractionCreate)

	if err := b.session.Open(); err != nil {
		return err
	}

	if err := b.registerCommands(); err != nil {
		return err
	}

	b.startRetentionSweep()

	return nil
}

func (b *Bot) Close(ctx context.Context) {
	_ = ctx
	close(b.sweepStop)
	if b.session != nil {
		_ = b.session.Close()
	}
}

// confirmMassAction posts a reaction prompt in the invoking channel and
// waits for the invoker to approve or reject it.
func (b *Bot) confirmMassAction(ctx context.Context, req massrole.ConfirmRequest) (bool, error) {
	msg, err := b.session.ChannelMessageSendEmbed(req.ChannelID, &discordgo.MessageEmbed{
		Title:       "Confirmation Required",
		Description: fmt.Sprintf("<@%s>, react %s within %ds to %s", req.ActorID, emojiApprove, b.cfg.MassRole.ConfirmTimeoutSeconds, req.Summary),
		Color:       0xF1C40F,
	})
	if err != nil {
		return false, err
	}
	_ = b.session.MessageReactionAdd(req.ChannelID, msg.ID, emojiApprove)
	_ = b.session.MessageReactionAdd(req.ChannelID, msg.ID, emojiReject)

	timeout := time.Duration(b.cfg.MassRole.ConfirmTimeoutSeconds) * time.Second
	result := b.confirms.Await(ctx, msg.ID, req.ActorID, timeout)
	return result == utils.ConfirmApproved, nil
}

// notifyAction mirrors protective actions to the configured log channel.
func (b *Bot) notifyAction(ctx context.Context, entry storage.AntiNukeLog) {
	_ = ctx
	fields := make([]*discordgo.MessageEmbedField, 0, len(entry.Details)+2)
	if entry.TargetID != "" {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Target", Value: entry.TargetID, Inline: true})
	}
	if entry.ExecutorID != "" {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Executor", Value: entry.ExecutorID, Inline: true})
	}
	for key, value := range entry.Details {
		fields = append(fields, &discordgo.MessageEmbedField{Name: key, Value: fmt.Sprint(value), Inline: true})
	}
	if _, err := b.session.ChannelMessageSendEmbed(b.cfg.LogChannelID, &discordgo.MessageEmbed{
		Title:  "Guard Action: " + entry.ActionType,
		Color:  0xE67E22,
		Fields: fields,
	}); err != nil {
		b.logger.Warn("log channel notify failed", zap.Error(err))
	}
}

// startRetentionSweep purges stale mention records on a fixed interval.
func (b *Bot) startRetentionSweep() {
	hours := b.cfg.Protection.SweepHours
	if hours <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(time.Duration(hours) * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				purged, err := b.store.CleanupOldMentions(context.Background(), b.cfg.Protection.RetentionDays)
				if err != nil {
					b.logger.Warn("mention retention sweep failed", zap.Error(err))
					continue
				}
				b.logger.Info("mention retention sweep", zap.Int64("purged", purged))
			case <-b.sweepStop:
				return
			}
		}
	}()
}

func (b *Bot) respond(session *discordgo.Session, interaction *discordgo.InteractionCreate, content string, ephemeral bool) {
	flags := discordgo.MessageFlags(0)
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	_ = session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   flags,
		},
	})
}

func (b *Bot) respondEmbed(session *discordgo.Session, interaction *discordgo.InteractionCreate, embed *discordgo.MessageEmbed, ephemeral bool) {
	if embed == nil {
		b.respond(session, interaction, "No response available.", ephemeral)
		return
	}
	flags := discordgo.MessageFlags(0)
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	_ = session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{embed},
			Flags:  flags,
		},
	})
}
