package tickets

import (
	"context"
	"errors"
	"fmt"

	"middleman-guard/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// ErrDuplicateTicket is returned when the requester already has an open
// ticket for the same trader and tier.
var ErrDuplicateTicket = errors.New("duplicate open ticket")

// ErrNotTicketChannel is returned when a ticket command runs in a channel
// with no ticket bound to it.
var ErrNotTicketChannel = errors.New("no ticket bound to this channel")

// TicketAPI is the slice of the platform client the ticket workflow needs.
// *discordgo.Session satisfies it.
type TicketAPI interface {
	GuildChannelCreateComplex(guildID string, data discordgo.GuildChannelCreateData, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelDelete(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Module runs the trade-ticket workflow. Ticket channels are created under
// a dedicated category and are invisible to everyone but the requester and
// the staff roles inherited from the category.
type Module struct {
	api        TicketAPI
	store      *storage.Store
	logger     *zap.Logger
	categoryID string
}

func New(api TicketAPI, store *storage.Store, logger *zap.Logger, categoryID string) *Module {
	return &Module{api: api, store: store, logger: logger, categoryID: categoryID}
}

// Open creates a ticket row and its private channel. One open ticket per
// requester, trader and tier.
func (m *Module) Open(ctx context.Context, guildID string, ticket storage.Ticket) (storage.Ticket, error) {
	exists, err := m.store.HasOpenTicket(ctx, ticket.RequesterID, ticket.TraderUsername, ticket.Tier)
	if err != nil {
		return storage.Ticket{}, err
	}
	if exists {
		return storage.Ticket{}, ErrDuplicateTicket
	}

	ticketID, err := m.store.CreateTicket(ctx, ticket)
	if err != nil {
		return storage.Ticket{}, err
	}

	channel, err := m.api.GuildChannelCreateComplex(guildID, discordgo.GuildChannelCreateData{
		Name:     fmt.Sprintf("ticket-%d", ticketID),
		Type:     discordgo.ChannelTypeGuildText,
		ParentID: m.categoryID,
		PermissionOverwrites: []*discordgo.PermissionOverwrite{
			{
				ID:   guildID,
				Type: discordgo.PermissionOverwriteTypeRole,
				Deny: discordgo.PermissionViewChannel,
			},
			{
				ID:    ticket.RequesterID,
				Type:  discordgo.PermissionOverwriteTypeMember,
				Allow: discordgo.PermissionViewChannel | discordgo.PermissionSendMessages,
			},
		},
	})
	if err != nil {
		return storage.Ticket{}, fmt.Errorf("create ticket channel: %w", err)
	}

	if err := m.store.SetTicketChannel(ctx, ticketID, channel.ID); err != nil {
		m.logger.Error("ticket channel binding failed",
			zap.Int64("ticket_id", ticketID),
			zap.String("channel_id", channel.ID),
			zap.Error(err))
	}
	if err := m.store.AddTicketLog(ctx, ticketID, "opened", ticket.RequesterID); err != nil {
		m.logger.Warn("ticket log failed", zap.Int64("ticket_id", ticketID), zap.Error(err))
	}
	if _, err := m.api.ChannelMessageSendEmbed(channel.ID, openedEmbed(ticketID, ticket)); err != nil {
		m.logger.Warn("ticket welcome failed", zap.String("channel_id", channel.ID), zap.Error(err))
	}

	opened, _, err := m.store.GetTicketByID(ctx, ticketID)
	if err != nil {
		return storage.Ticket{}, err
	}
	return opened, nil
}

// Claim marks the ticket in this channel as handled by a middleman.
func (m *Module) Claim(ctx context.Context, channelID, userID string) (storage.Ticket, error) {
	ticket, found, err := m.store.GetTicketByChannel(ctx, channelID)
	if err != nil {
		return storage.Ticket{}, err
	}
	if !found || ticket.Status != storage.TicketOpen {
		return storage.Ticket{}, ErrNotTicketChannel
	}

	if err := m.store.ClaimTicket(ctx, channelID, userID); err != nil {
		return storage.Ticket{}, err
	}
	if err := m.store.AddTicketLog(ctx, ticket.TicketID, "claimed", userID); err != nil {
		m.logger.Warn("ticket log failed", zap.Int64("ticket_id", ticket.TicketID), zap.Error(err))
	}
	if _, err := m.api.ChannelMessageSendEmbed(channelID, claimedEmbed(userID)); err != nil {
		m.logger.Warn("claim notice failed", zap.String("channel_id", channelID), zap.Error(err))
	}
	ticket.ClaimedBy = userID
	return ticket, nil
}

// Close closes the ticket in this channel and removes the channel.
func (m *Module) Close(ctx context.Context, channelID, userID string) error {
	ticket, found, err := m.store.GetTicketByChannel(ctx, channelID)
	if err != nil {
		return err
	}
	if !found || ticket.Status != storage.TicketOpen {
		return ErrNotTicketChannel
	}

	if err := m.store.CloseTicket(ctx, channelID); err != nil {
		return err
	}
	if err := m.store.AddTicketLog(ctx, ticket.TicketID, "closed", userID); err != nil {
		m.logger.Warn("ticket log failed", zap.Int64("ticket_id", ticket.TicketID), zap.Error(err))
	}
	if _, err := m.api.ChannelDelete(channelID); err != nil {
		return fmt.Errorf("delete ticket channel: %w", err)
	}
	return nil
}

// ListOpen returns every open ticket, newest first.
func (m *Module) ListOpen(ctx context.Context) ([]storage.Ticket, error) {
	return m.store.ListOpenTickets(ctx)
}

func openedEmbed(ticketID int64, ticket storage.Ticket) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("Ticket #%d", ticketID),
		Description: "A middleman will claim this ticket shortly.",
		Color:       0x3498DB,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Trading With", Value: ticket.TraderUsername, Inline: true},
			{Name: "Tier", Value: ticket.Tier, Inline: true},
			{Name: "Giving", Value: ticket.Giving},
			{Name: "Receiving", Value: ticket.Receiving},
		},
	}
}

func claimedEmbed(userID string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       "Ticket Claimed",
		Description: fmt.Sprintf("<@%s> is now handling this trade", userID),
		Color:       0x2ECC71,
	}
}
