package storage

import (
	"context"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func TestMigrateTwice(t *testing.T) {
	store := newTestStore(t)
	if err := store.Migrate(); err != nil {
		t.Fatalf("second migrate must be a no-op: %v", err)
	}
}

func TestChannelBackupUpsertAndRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	backup := ChannelBackup{
		GuildID:          "g1",
		ChannelID:        "c1",
		Name:             "general",
		Kind:             ChannelKindText,
		Position:         4,
		ParentID:         "cat1",
		Topic:            "trading hub",
		NSFW:             true,
		RateLimitPerUser: 10,
		Overwrites: map[string]Overwrite{
			"r1": {Kind: OverwriteRole, Allow: 1 << 40, Deny: 2048},
			"u1": {Kind: OverwriteMember, Allow: 66560, Deny: 1 << 62},
		},
	}
	if err := store.UpsertChannelBackup(ctx, backup); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, found, err := store.GetChannelBackup(ctx, "c1")
	if err != nil || !found {
		t.Fatalf("get: found=%v err=%v", found, err)
	}
	if got.Name != "general" || got.Kind != ChannelKindText || got.Position != 4 ||
		got.ParentID != "cat1" || got.Topic != "trading hub" || !got.NSFW || got.RateLimitPerUser != 10 {
		t.Fatalf("field mismatch: %+v", got)
	}
	if len(got.Overwrites) != 2 {
		t.Fatalf("expected 2 overwrites, got %d", len(got.Overwrites))
	}
	for id, want := range backup.Overwrites {
		have, ok := got.Overwrites[id]
		if !ok || have != want {
			t.Fatalf("overwrite %s: want %+v got %+v", id, want, have)
		}
	}

	// Same channel id again replaces, never duplicates.
	backup.Name = "general-renamed"
	backup.Overwrites = nil
	if err := store.UpsertChannelBackup(ctx, backup); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	count, err := store.CountChannelBackups(ctx, "g1")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("upsert duplicated the row: %d", count)
	}
	got, _, _ = store.GetChannelBackup(ctx, "c1")
	if got.Name != "general-renamed" || len(got.Overwrites) != 0 {
		t.Fatalf("re-upsert did not replace: %+v", got)
	}
}

func TestVoiceBackupFields(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.UpsertChannelBackup(ctx, ChannelBackup{
		GuildID:   "g1",
		ChannelID: "v1",
		Name:      "lounge",
		Kind:      ChannelKindVoice,
		Bitrate:   96000,
		UserLimit: 8,
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, _, err := store.GetChannelBackup(ctx, "v1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Bitrate != 96000 || got.UserLimit != 8 {
		t.Fatalf("voice fields lost: %+v", got)
	}
}

func TestRekeyChannelBackup(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.UpsertChannelBackup(ctx, ChannelBackup{
		GuildID:   "g1",
		ChannelID: "old",
		Name:      "general",
		Kind:      ChannelKindText,
		Overwrites: map[string]Overwrite{
			"r1": {Kind: OverwriteRole, Allow: 1024},
		},
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if err := store.RekeyChannelBackup(ctx, "old", "new"); err != nil {
		t.Fatalf("rekey: %v", err)
	}
	if _, found, _ := store.GetChannelBackup(ctx, "old"); found {
		t.Fatalf("old key must be gone")
	}
	got, found, err := store.GetChannelBackup(ctx, "new")
	if err != nil || !found {
		t.Fatalf("new key missing: %v", err)
	}
	if got.Name != "general" || got.Overwrites["r1"].Allow != 1024 {
		t.Fatalf("rekey lost data: %+v", got)
	}

	if err := store.RekeyChannelBackup(ctx, "old", "newer"); err == nil {
		t.Fatalf("rekeying a missing row must fail")
	}
}

func TestRoleBackupUpsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	backup := RoleBackup{
		GuildID:     "g1",
		RoleID:      "r1",
		Name:        "Middleman",
		Color:       0x00FF00,
		Hoist:       true,
		Position:    6,
		Permissions: 8,
		Mentionable: true,
	}
	if err := store.UpsertRoleBackup(ctx, backup); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	backup.Position = 7
	if err := store.UpsertRoleBackup(ctx, backup); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}

	roles, err := store.ListRoleBackups(ctx, "g1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(roles) != 1 {
		t.Fatalf("expected 1 role backup, got %d", len(roles))
	}
	got := roles[0]
	if got.Name != "Middleman" || got.Position != 7 || !got.Hoist || !got.Mentionable || got.Permissions != 8 {
		t.Fatalf("role fields mismatch: %+v", got)
	}
}

func TestAntiNukeLogDetails(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.AddAntiNukeLog(ctx, AntiNukeLog{
		GuildID:    "g1",
		ActionType: "channel_restored",
		TargetID:   "c2",
		ExecutorID: "raider",
		Details:    map[string]any{"channel_name": "general"},
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	logs, err := store.ListAntiNukeLogs(ctx, "g1", time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(logs))
	}
	if logs[0].Details["channel_name"] != "general" {
		t.Fatalf("details lost: %+v", logs[0].Details)
	}

	logs, err = store.ListAntiNukeLogs(ctx, "g1", time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("list future: %v", err)
	}
	if len(logs) != 0 {
		t.Fatalf("since filter ignored")
	}
}
