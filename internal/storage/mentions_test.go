package storage

import (
	"context"
	"testing"
	"time"
)

func TestMentionWindowCounting(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	if err := store.AddMentionRecord(ctx, "g1", "u1", "", now.Add(-90*time.Second)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := store.AddMentionRecord(ctx, "g1", "u1", "", now.Add(-30*time.Second)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := store.AddMentionRecord(ctx, "g1", "u2", "", now); err != nil {
		t.Fatalf("add: %v", err)
	}

	count, err := store.CountRecentMentions(ctx, "g1", "u1", time.Minute, now)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("only the 30s-old record is inside the window, got %d", count)
	}

	count, err = store.CountRecentMentions(ctx, "g2", "u1", time.Minute, now)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("counts must not leak across guilds, got %d", count)
	}
}

func TestCleanupOldMentions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	if err := store.AddMentionRecord(ctx, "g1", "u1", "", now.AddDate(0, 0, -40)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := store.AddMentionRecord(ctx, "g1", "u1", ActionKicked, now.Add(-time.Hour)); err != nil {
		t.Fatalf("add: %v", err)
	}

	purged, err := store.CleanupOldMentions(ctx, 30)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if purged != 1 {
		t.Fatalf("expected 1 purged record, got %d", purged)
	}

	records, err := store.ListMentionRecords(ctx, "g1", "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 1 || records[0].ActionTaken != ActionKicked {
		t.Fatalf("young record must survive the sweep: %+v", records)
	}
}

func TestTicketLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ticketID, err := store.CreateTicket(ctx, Ticket{
		RequesterID:    "u1",
		TraderUsername: "TraderJoe",
		Giving:         "neon dragon",
		Receiving:      "400 robux",
		Tier:           "high",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	dup, err := store.HasOpenTicket(ctx, "u1", "TraderJoe", "high")
	if err != nil {
		t.Fatalf("dup check: %v", err)
	}
	if !dup {
		t.Fatalf("open ticket not detected")
	}
	dup, _ = store.HasOpenTicket(ctx, "u1", "TraderJoe", "low")
	if dup {
		t.Fatalf("tier is part of the duplicate key")
	}

	if err := store.SetTicketChannel(ctx, ticketID, "tc1"); err != nil {
		t.Fatalf("bind channel: %v", err)
	}
	if err := store.ClaimTicket(ctx, "tc1", "mod1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := store.CloseTicket(ctx, "tc1"); err != nil {
		t.Fatalf("close: %v", err)
	}

	ticket, found, err := store.GetTicketByChannel(ctx, "tc1")
	if err != nil || !found {
		t.Fatalf("get: found=%v err=%v", found, err)
	}
	if ticket.ClaimedBy != "mod1" || ticket.Status != TicketClosed || ticket.ClosedAt == nil {
		t.Fatalf("lifecycle fields mismatch: %+v", ticket)
	}

	open, err := store.HasOpenTicket(ctx, "u1", "TraderJoe", "high")
	if err != nil {
		t.Fatalf("dup check after close: %v", err)
	}
	if open {
		t.Fatalf("closed ticket must free the duplicate key")
	}
}
