package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"middleman-guard/internal/modules/audit"
	"middleman-guard/internal/modules/massrole"
	"middleman-guard/internal/modules/tickets"
	"middleman-guard/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

func (b *Bot) onReady(session *discordgo.Session, event *discordgo.Ready) {
	b.logger.Info("discord ready",
		zap.String("user", session.State.User.Username),
		zap.Int("guilds", len(event.Guilds)))
}

func (b *Bot) onMessageCreate(session *discordgo.Session, msg *discordgo.MessageCreate) {
	if msg.Author == nil || msg.Author.Bot || msg.GuildID == "" {
		return
	}
	b.mentions.HandleMessage(context.Background(), msg.Message)
}

func (b *Bot) onChannelDelete(session *discordgo.Session, event *discordgo.ChannelDelete) {
	if event.Channel == nil || event.GuildID == "" {
		return
	}
	// The handler waits on the audit log; never block the gateway loop.
	go b.protection.HandleChannelDelete(context.Background(), event.GuildID, event.ID, event.Name)
}

func (b *Bot) onMessageReactionAdd(session *discordgo.Session, event *discordgo.MessageReactionAdd) {
	if session.State != nil && session.State.User != nil && event.UserID == session.State.User.ID {
		return
	}
	switch event.Emoji.Name {
	case emojiApprove:
		b.confirms.Resolve(event.MessageID, event.UserID, true)
	case emojiReject:
		b.confirms.Resolve(event.MessageID, event.UserID, false)
	}
}

func (b *Bot) onInteractionCreate(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	if interaction.Type != discordgo.InteractionApplicationCommand {
		return
	}
	if interaction.GuildID == "" || interaction.Member == nil || interaction.Member.User == nil {
		b.respond(session, interaction, "This command only works inside a server.", true)
		return
	}

	ctx := context.Background()
	data := interaction.ApplicationCommandData()
	switch data.Name {
	case "scanchannels":
		b.handleScanChannels(ctx, session, interaction)
	case "delete":
		b.handleDelete(ctx, session, interaction, data.Options)
	case "roleall", "rolemass", "demoteeverymod", "roleremoveall", "rolestrip":
		b.handleMassMutation(ctx, session, interaction, data.Name, data.Options)
	case "demote", "grantall":
		b.handleMemberMutation(ctx, session, interaction, data.Name, data.Options)
	case "guardstatus":
		b.handleGuardStatus(ctx, session, interaction)
	case "ticket":
		b.handleTicket(ctx, session, interaction, data.Options)
	}
}

func (b *Bot) handleScanChannels(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	if !b.isOwnerOrAdmin(interaction.GuildID, interaction.Member) {
		b.respond(session, interaction, "You need an owner role or administrator permission.", true)
		return
	}

	count, err := b.protection.ScanGuild(ctx, interaction.GuildID)
	if err != nil {
		b.logger.Error("channel scan failed", zap.String("guild_id", interaction.GuildID), zap.Error(err))
		b.respond(session, interaction, "Channel scan failed.", true)
		return
	}
	b.audit.Log(ctx, interaction.GuildID, audit.ActionChannelsScanned, "", interaction.Member.User.ID, map[string]any{
		"channels": count,
	})
	b.respondEmbed(session, interaction, &discordgo.MessageEmbed{
		Title:       "Protection Armed",
		Description: fmt.Sprintf("Captured **%d** channels. Unauthorized deletions will be restored.", count),
		Color:       0x2ECC71,
	}, false)
}

func (b *Bot) handleDelete(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	if !b.isOwner(interaction.Member) {
		b.respond(session, interaction, "Only owners may delete protected channels.", true)
		return
	}
	channel := optionChannel(session, options, "channel")
	if channel == nil {
		b.respond(session, interaction, "Channel option is required.", true)
		return
	}

	if err := b.protection.SafeDelete(ctx, interaction.GuildID, channel.ID, channel.Name, interaction.Member.User.ID); err != nil {
		b.logger.Error("safe delete failed", zap.String("channel_id", channel.ID), zap.Error(err))
		b.respond(session, interaction, "Deletion failed.", true)
		return
	}
	b.respond(session, interaction, fmt.Sprintf("Deleted **#%s** without triggering a restore.", channel.Name), true)
}

// handleMassMutation covers the confirmation-gated guild-wide operations.
// The confirmation can take up to the full timeout, far past the interaction
// deadline, so the work happens off the handler with a summary posted to the
// invoking channel.
func (b *Bot) handleMassMutation(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, name string, options []*discordgo.ApplicationCommandInteractionDataOption) {
	if !b.isOwner(interaction.Member) {
		b.respond(session, interaction, "Only owners may run mass role operations.", true)
		return
	}

	var roleID string
	if name == "roleall" || name == "rolemass" {
		role := optionRole(session, interaction.GuildID, options, "role")
		if role == nil {
			b.respond(session, interaction, "Role option is required.", true)
			return
		}
		roleID = role.ID
	}
	var userID string
	if name == "rolestrip" {
		user := optionUser(session, options, "user")
		if user == nil {
			b.respond(session, interaction, "User option is required.", true)
			return
		}
		userID = user.ID
	}

	guildID := interaction.GuildID
	channelID := interaction.ChannelID
	executorID := interaction.Member.User.ID
	b.respond(session, interaction, "A confirmation prompt is on its way.", true)

	go func() {
		var result massrole.Result
		var err error
		var title string
		switch name {
		case "roleall":
			title = "Mass Role Grant"
			result, err = b.massrole.GrantRoleToAll(ctx, guildID, channelID, roleID, executorID)
		case "rolemass":
			title = "Mass Role Removal"
			result, err = b.massrole.RemoveRoleFromAll(ctx, guildID, channelID, roleID, executorID)
		case "demoteeverymod":
			title = "Mass Demotion"
			result, err = b.massrole.DemoteAllAdmins(ctx, guildID, channelID, executorID)
		case "roleremoveall":
			title = "Mass Role Strip"
			result, err = b.massrole.StripAllMembers(ctx, guildID, channelID, executorID)
		case "rolestrip":
			title = "Role Strip"
			result, err = b.massrole.StripMember(ctx, guildID, channelID, userID, executorID)
		}
		b.reportMassResult(channelID, title, result, err)
	}()
}

func (b *Bot) handleMemberMutation(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, name string, options []*discordgo.ApplicationCommandInteractionDataOption) {
	if !b.isOwner(interaction.Member) {
		b.respond(session, interaction, "Only owners may run role operations.", true)
		return
	}
	user := optionUser(session, options, "user")
	if user == nil {
		b.respond(session, interaction, "User option is required.", true)
		return
	}

	var result massrole.Result
	var err error
	var title, verb string
	switch name {
	case "demote":
		title = "Demoted"
		verb = "removed"
		result, err = b.massrole.DemoteMember(ctx, interaction.GuildID, user.ID, interaction.Member.User.ID)
	case "grantall":
		title = "Roles Granted"
		verb = "granted"
		result, err = b.massrole.GrantAllRoles(ctx, interaction.GuildID, user.ID, interaction.Member.User.ID)
	}
	if err != nil {
		b.logger.Error("member mutation failed", zap.String("command", name), zap.Error(err))
		b.respond(session, interaction, "Operation failed.", true)
		return
	}
	b.respondEmbed(session, interaction, &discordgo.MessageEmbed{
		Title:       title,
		Description: fmt.Sprintf("<@%s>: %s %d roles (%d failed)", user.ID, verb, result.Affected, result.Failed),
		Color:       0xE67E22,
	}, false)
}

func (b *Bot) handleGuardStatus(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	if !b.isOwnerOrAdmin(interaction.GuildID, interaction.Member) {
		b.respond(session, interaction, "You need an owner role or administrator permission.", true)
		return
	}

	armed := "disarmed"
	if b.runtime.ProtectionEnabled(interaction.GuildID) {
		armed = "armed"
	}
	protected := b.protection.ProtectedCount(ctx, interaction.GuildID)

	fields := []*discordgo.MessageEmbedField{
		{Name: "Protection", Value: armed, Inline: true},
		{Name: "Protected Channels", Value: fmt.Sprintf("%d", protected), Inline: true},
	}
	if report, err := b.analytics.Report(ctx, interaction.GuildID, time.Now().Add(-24*time.Hour)); err == nil {
		lines := make([]string, 0, len(report.ByAction))
		for action, count := range report.ByAction {
			lines = append(lines, fmt.Sprintf("%s: %d", action, count))
		}
		value := "none"
		if len(lines) > 0 {
			value = strings.Join(lines, "\n")
		}
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Last 24h", Value: value})
	}

	b.respondEmbed(session, interaction, &discordgo.MessageEmbed{
		Title:  "Guard Status",
		Color:  0x3498DB,
		Fields: fields,
	}, true)
}

func (b *Bot) handleTicket(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	if len(options) == 0 {
		b.respond(session, interaction, "Missing subcommand.", true)
		return
	}
	sub := options[0]
	switch sub.Name {
	case "open":
		b.handleTicketOpen(ctx, session, interaction, sub.Options)
	case "claim":
		if !b.isOwnerOrAdmin(interaction.GuildID, interaction.Member) {
			b.respond(session, interaction, "Only staff may claim tickets.", true)
			return
		}
		ticket, err := b.tickets.Claim(ctx, interaction.ChannelID, interaction.Member.User.ID)
		if errors.Is(err, tickets.ErrNotTicketChannel) {
			b.respond(session, interaction, "This is not an open ticket channel.", true)
			return
		}
		if err != nil {
			b.respond(session, interaction, "Claim failed.", true)
			return
		}
		b.respond(session, interaction, fmt.Sprintf("Ticket #%d claimed.", ticket.TicketID), true)
	case "close":
		if !b.isOwnerOrAdmin(interaction.GuildID, interaction.Member) {
			b.respond(session, interaction, "Only staff may close tickets.", true)
			return
		}
		b.respond(session, interaction, "Closing ticket.", true)
		if err := b.tickets.Close(ctx, interaction.ChannelID, interaction.Member.User.ID); err != nil {
			b.logger.Warn("ticket close failed", zap.String("channel_id", interaction.ChannelID), zap.Error(err))
		}
	case "list":
		if !b.isOwnerOrAdmin(interaction.GuildID, interaction.Member) {
			b.respond(session, interaction, "Only staff may list tickets.", true)
			return
		}
		open, err := b.tickets.ListOpen(ctx)
		if err != nil {
			b.respond(session, interaction, "Listing failed.", true)
			return
		}
		b.respondEmbed(session, interaction, openTicketsEmbed(open), true)
	}
}

func (b *Bot) handleTicketOpen(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	request := storage.Ticket{RequesterID: interaction.Member.User.ID}
	for _, opt := range options {
		switch opt.Name {
		case "trader":
			request.TraderUsername = opt.StringValue()
		case "giving":
			request.Giving = opt.StringValue()
		case "receiving":
			request.Receiving = opt.StringValue()
		case "tier":
			request.Tier = opt.StringValue()
		}
	}

	ticket, err := b.tickets.Open(ctx, interaction.GuildID, request)
	if errors.Is(err, tickets.ErrDuplicateTicket) {
		b.respond(session, interaction, "You already have an open ticket for this trade.", true)
		return
	}
	if err != nil {
		b.logger.Error("ticket open failed", zap.Error(err))
		b.respond(session, interaction, "Ticket creation failed.", true)
		return
	}
	b.respond(session, interaction, fmt.Sprintf("Ticket opened: <#%s>", ticket.ChannelID), true)
}

func (b *Bot) reportMassResult(channelID, title string, result massrole.Result, err error) {
	switch {
	case errors.Is(err, massrole.ErrNotConfirmed):
		_, _ = b.session.ChannelMessageSend(channelID, "Operation cancelled: not confirmed in time.")
	case errors.Is(err, massrole.ErrRoleTooHigh):
		_, _ = b.session.ChannelMessageSend(channelID, "That role ranks at or above me; I cannot touch it.")
	case err != nil:
		b.logger.Error("mass mutation failed", zap.String("operation", title), zap.Error(err))
		_, _ = b.session.ChannelMessageSend(channelID, "Operation failed.")
	default:
		_, _ = b.session.ChannelMessageSendEmbed(channelID, &discordgo.MessageEmbed{
			Title:       title + " Complete",
			Description: fmt.Sprintf("%d members affected, %d failures", result.Affected, result.Failed),
			Color:       0x2ECC71,
		})
	}
}

func (b *Bot) isOwner(member *discordgo.Member) bool {
	return b.classifier.HasOwnerRole(member)
}

func (b *Bot) isOwnerOrAdmin(guildID string, member *discordgo.Member) bool {
	roles, err := b.session.GuildRoles(guildID)
	if err != nil {
		b.logger.Warn("role lookup failed", zap.String("guild_id", guildID), zap.Error(err))
		return b.classifier.HasOwnerRole(member)
	}
	return b.classifier.IsOwnerOrAdmin(roles, member)
}

func optionChannel(session *discordgo.Session, options []*discordgo.ApplicationCommandInteractionDataOption, name string) *discordgo.Channel {
	for _, opt := range options {
		if opt.Name == name {
			return opt.ChannelValue(session)
		}
	}
	return nil
}

func optionRole(session *discordgo.Session, guildID string, options []*discordgo.ApplicationCommandInteractionDataOption, name string) *discordgo.Role {
	for _, opt := range options {
		if opt.Name == name {
			return opt.RoleValue(session, guildID)
		}
	}
	return nil
}

func optionUser(session *discordgo.Session, options []*discordgo.ApplicationCommandInteractionDataOption, name string) *discordgo.User {
	for _, opt := range options {
		if opt.Name == name {
			return opt.UserValue(session)
		}
	}
	return nil
}

func openTicketsEmbed(open []storage.Ticket) *discordgo.MessageEmbed {
	if len(open) == 0 {
		return &discordgo.MessageEmbed{
			Title:       "Open Tickets",
			Description: "No open tickets.",
			Color:       0x3498DB,
		}
	}
	lines := make([]string, 0, len(open))
	for _, ticket := range open {
		claimed := "unclaimed"
		if ticket.ClaimedBy != "" {
			claimed = "claimed by <@" + ticket.ClaimedBy + ">"
		}
		lines = append(lines, fmt.Sprintf("#%d <#%s> %s tier, %s", ticket.TicketID, ticket.ChannelID, ticket.Tier, claimed))
	}
	return &discordgo.MessageEmbed{
		Title:       "Open Tickets",
		Description: strings.Join(lines, "\n"),
		Color:       0x3498DB,
	}
}
