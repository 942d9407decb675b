package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

const (
	TicketOpen   = "open"
	TicketClosed = "closed"
)

type Ticket struct {
	TicketID       int64
	ChannelID      string
	RequesterID    string
	TraderUsername string
	Giving         string
	Receiving      string
	Tier           string
	ClaimedBy      string
	Status         string
	CreatedAt      time.Time
	ClosedAt       *time.Time
}

func (s *Store) CreateTicket(ctx context.Context, ticket Ticket) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO tickets (channel_id, requester_id, trader_username, giving, receiving, tier, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, nullString(ticket.ChannelID), ticket.RequesterID, ticket.TraderUsername, ticket.Giving, ticket.Receiving, ticket.Tier, TicketOpen, time.Now().Unix())
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (s *Store) SetTicketChannel(ctx context.Context, ticketID int64, channelID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tickets SET channel_id = ? WHERE ticket_id = ?`, channelID, ticketID)
	return err
}

func (s *Store) GetTicketByChannel(ctx context.Context, channelID string) (Ticket, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT ticket_id, COALESCE(channel_id, ''), requester_id, trader_username,
			COALESCE(giving, ''), COALESCE(receiving, ''), COALESCE(tier, ''),
			COALESCE(claimed_by, ''), status, created_at, closed_at
		FROM tickets WHERE channel_id = ?`, channelID)
	return scanTicket(row)
}

func (s *Store) GetTicketByID(ctx context.Context, ticketID int64) (Ticket, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT ticket_id, COALESCE(channel_id, ''), requester_id, trader_username,
			COALESCE(giving, ''), COALESCE(receiving, ''), COALESCE(tier, ''),
			COALESCE(claimed_by, ''), status, created_at, closed_at
		FROM tickets WHERE ticket_id = ?`, ticketID)
	return scanTicket(row)
}

// HasOpenTicket reports whether the requester already has an open ticket for
// the same trader and tier.
func (s *Store) HasOpenTicket(ctx context.Context, requesterID, traderUsername, tier string) (bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT ticket_id FROM tickets
		WHERE requester_id = ? AND trader_username = ? AND tier = ? AND status = ?
	`, requesterID, traderUsername, tier, TicketOpen)
	var id int64
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *Store) ClaimTicket(ctx context.Context, channelID, userID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tickets SET claimed_by = ? WHERE channel_id = ?`, userID, channelID)
	return err
}

func (s *Store) CloseTicket(ctx context.Context, channelID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tickets SET status = ?, closed_at = ? WHERE channel_id = ?
	`, TicketClosed, time.Now().Unix(), channelID)
	return err
}

func (s *Store) ListOpenTickets(ctx context.Context) ([]Ticket, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ticket_id, COALESCE(channel_id, ''), requester_id, trader_username,
			COALESCE(giving, ''), COALESCE(receiving, ''), COALESCE(tier, ''),
			COALESCE(claimed_by, ''), status, created_at, closed_at
		FROM tickets WHERE status = ? ORDER BY created_at DESC`, TicketOpen)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []Ticket
	for rows.Next() {
		ticket, ok, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		if ok {
			tickets = append(tickets, ticket)
		}
	}
	return tickets, rows.Err()
}

func (s *Store) AddTicketLog(ctx context.Context, ticketID int64, action, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ticket_logs (ticket_id, action, user_id, created_at)
		VALUES (?, ?, ?, ?)
	`, ticketID, action, userID, time.Now().Unix())
	return err
}

func scanTicket(row rowScanner) (Ticket, bool, error) {
	var ticket Ticket
	var created int64
	var closed sql.NullInt64
	err := row.Scan(
		&ticket.TicketID,
		&ticket.ChannelID,
		&ticket.RequesterID,
		&ticket.TraderUsername,
		&ticket.Giving,
		&ticket.Receiving,
		&ticket.Tier,
		&ticket.ClaimedBy,
		&ticket.Status,
		&created,
		&closed,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Ticket{}, false, nil
		}
		return Ticket{}, false, err
	}
	ticket.CreatedAt = time.Unix(created, 0)
	if closed.Valid {
		value := time.Unix(closed.Int64, 0)
		ticket.ClosedAt = &value
	}
	return ticket, true, nil
}
