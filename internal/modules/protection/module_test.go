package protection

import (
	"context"
	"strconv"
	"testing"
	"time"

	"middleman-guard/internal/authz"
	"middleman-guard/internal/modules/audit"
	"middleman-guard/internal/state"
	"middleman-guard/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

type fakeAPI struct {
	channels     []*discordgo.Channel
	roles        []*discordgo.Role
	members      map[string]*discordgo.Member
	auditEntries []*discordgo.AuditLogEntry
	created      []discordgo.GuildChannelCreateData
	deleted      []string
	embeds       map[string]int
	nextID       int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		members: make(map[string]*discordgo.Member),
		embeds:  make(map[string]int),
		nextID:  100,
	}
}

func (f *fakeAPI) GuildChannels(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Channel, error) {
	return f.channels, nil
}

func (f *fakeAPI) GuildChannelCreateComplex(guildID string, data discordgo.GuildChannelCreateData, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	f.created = append(f.created, data)
	f.nextID++
	channel := &discordgo.Channel{
		ID:      strconv.Itoa(f.nextID),
		GuildID: guildID,
		Name:    data.Name,
		Type:    data.Type,
	}
	f.channels = append(f.channels, channel)
	return channel, nil
}

func (f *fakeAPI) ChannelDelete(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	f.deleted = append(f.deleted, channelID)
	return &discordgo.Channel{ID: channelID}, nil
}

func (f *fakeAPI) ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.embeds[channelID]++
	return &discordgo.Message{ID: "m1", ChannelID: channelID}, nil
}

func (f *fakeAPI) GuildAuditLog(guildID, userID, beforeID string, actionType, limit int, options ...discordgo.RequestOption) (*discordgo.GuildAuditLog, error) {
	return &discordgo.GuildAuditLog{AuditLogEntries: f.auditEntries}, nil
}

func (f *fakeAPI) GuildRoles(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Role, error) {
	return f.roles, nil
}

func (f *fakeAPI) GuildMember(guildID, userID string, options ...discordgo.RequestOption) (*discordgo.Member, error) {
	member, ok := f.members[userID]
	if !ok {
		return nil, discordgo.ErrStateNotFound
	}
	return member, nil
}

// recentSnowflake builds an entry id whose embedded timestamp is "now".
func recentSnowflake() string {
	return strconv.FormatInt((time.Now().UnixMilli()-1420070400000)<<22, 10)
}

func newTestModule(t *testing.T, api ChannelAPI) (*Module, *storage.Store, *state.Runtime) {
	t.Helper()
	store, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	runtime := state.NewRuntime(time.Minute)
	classifier := authz.NewClassifier([]string{"owner-role"})
	auditLogger := audit.NewLogger(store, zap.NewNop())
	module := New(api, store, runtime, classifier, auditLogger, zap.NewNop(), time.Millisecond, 64000)
	return module, store, runtime
}

func TestScanSkipsTicketsAndStaysIdempotent(t *testing.T) {
	api := newFakeAPI()
	api.channels = []*discordgo.Channel{
		{ID: "c1", Name: "general", Type: discordgo.ChannelTypeGuildText, PermissionOverwrites: []*discordgo.PermissionOverwrite{
			{ID: "r1", Type: discordgo.PermissionOverwriteTypeRole, Allow: 1024, Deny: 2048},
		}},
		{ID: "c2", Name: "Ticket-0042", Type: discordgo.ChannelTypeGuildText},
		{ID: "c3", Name: "Trades", Type: discordgo.ChannelTypeGuildCategory},
		{ID: "c4", Name: "lounge", Type: discordgo.ChannelTypeGuildVoice, Bitrate: 96000},
	}
	module, store, runtime := newTestModule(t, api)
	ctx := context.Background()

	count, err := module.ScanGuild(ctx, "g1")
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 captured channels, got %d", count)
	}
	if !runtime.ProtectionEnabled("g1") {
		t.Fatalf("scan must arm protection")
	}

	count, err = module.ScanGuild(ctx, "g1")
	if err != nil {
		t.Fatalf("rescan: %v", err)
	}
	if count != 2 {
		t.Fatalf("rescan expected 2, got %d", count)
	}
	stored, err := store.CountChannelBackups(ctx, "g1")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if stored != 2 {
		t.Fatalf("expected 2 rows after rescan, got %d", stored)
	}

	if _, found, _ := store.GetChannelBackup(ctx, "c2"); found {
		t.Fatalf("ticket channel must never be captured")
	}
}

func TestRestoreRoundTrip(t *testing.T) {
	api := newFakeAPI()
	api.roles = []*discordgo.Role{{ID: "r1", Position: 2}}
	api.members["u1"] = &discordgo.Member{User: &discordgo.User{ID: "u1"}}
	module, store, _ := newTestModule(t, api)
	ctx := context.Background()

	backup := storage.ChannelBackup{
		GuildID:          "g1",
		ChannelID:        "c1",
		Name:             "general",
		Kind:             storage.ChannelKindText,
		Position:         3,
		Topic:            "trade talk",
		RateLimitPerUser: 5,
		Overwrites: map[string]storage.Overwrite{
			"r1": {Kind: storage.OverwriteRole, Allow: 1024, Deny: 2048},
			"u1": {Kind: storage.OverwriteMember, Allow: 66560, Deny: 0},
		},
	}
	if err := store.UpsertChannelBackup(ctx, backup); err != nil {
		t.Fatalf("seed backup: %v", err)
	}

	newID, err := module.Restore(ctx, "g1", backup, "c1")
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if len(api.created) != 1 {
		t.Fatalf("expected one channel creation, got %d", len(api.created))
	}
	created := api.created[0]
	if created.Name != "general" || created.Topic != "trade talk" || created.RateLimitPerUser != 5 {
		t.Fatalf("channel config not carried over: %+v", created)
	}
	if len(created.PermissionOverwrites) != 2 {
		t.Fatalf("expected 2 overwrites, got %d", len(created.PermissionOverwrites))
	}
	for _, ow := range created.PermissionOverwrites {
		want := backup.Overwrites[ow.ID]
		if uint64(ow.Allow) != want.Allow || uint64(ow.Deny) != want.Deny {
			t.Fatalf("overwrite %s mask mismatch: allow=%d deny=%d", ow.ID, ow.Allow, ow.Deny)
		}
	}

	if _, found, _ := store.GetChannelBackup(ctx, "c1"); found {
		t.Fatalf("old backup row must be gone")
	}
	rekeyed, found, err := store.GetChannelBackup(ctx, newID)
	if err != nil || !found {
		t.Fatalf("expected backup under new id %s", newID)
	}
	if len(rekeyed.Overwrites) != 2 {
		t.Fatalf("rekeyed row lost overwrites")
	}
	if api.embeds[newID] != 1 {
		t.Fatalf("expected restore notice in new channel")
	}
}

func TestRestoreDropsDanglingTargets(t *testing.T) {
	api := newFakeAPI()
	api.roles = []*discordgo.Role{{ID: "r1", Position: 2}}
	module, _, _ := newTestModule(t, api)
	ctx := context.Background()

	backup := storage.ChannelBackup{
		GuildID:   "g1",
		ChannelID: "c1",
		Name:      "general",
		Kind:      storage.ChannelKindText,
		Overwrites: map[string]storage.Overwrite{
			"gone-role":   {Kind: storage.OverwriteRole, Allow: 1, Deny: 0},
			"gone-member": {Kind: storage.OverwriteMember, Allow: 1, Deny: 0},
			"r1":          {Kind: storage.OverwriteRole, Allow: 4, Deny: 8},
		},
	}
	seedBackup(t, module, backup)

	if _, err := module.Restore(ctx, "g1", backup, "c1"); err != nil {
		t.Fatalf("restore: %v", err)
	}
	created := api.created[0]
	if len(created.PermissionOverwrites) != 1 || created.PermissionOverwrites[0].ID != "r1" {
		t.Fatalf("dangling targets must be dropped, got %+v", created.PermissionOverwrites)
	}
}

func TestRestoreMissingParentFallsBack(t *testing.T) {
	api := newFakeAPI()
	module, _, _ := newTestModule(t, api)

	backup := storage.ChannelBackup{
		GuildID:   "g1",
		ChannelID: "c1",
		Name:      "lounge",
		Kind:      storage.ChannelKindVoice,
		ParentID:  "dead-category",
	}
	seedBackup(t, module, backup)

	if _, err := module.Restore(context.Background(), "g1", backup, "c1"); err != nil {
		t.Fatalf("restore: %v", err)
	}
	created := api.created[0]
	if created.ParentID != "" {
		t.Fatalf("missing category must fall back to no parent")
	}
	if created.Bitrate != 64000 {
		t.Fatalf("voice bitrate default expected, got %d", created.Bitrate)
	}
}

func TestDeleteClassifierFailClosed(t *testing.T) {
	api := newFakeAPI()
	module, store, runtime := newTestModule(t, api)
	ctx := context.Background()

	seedBackup(t, module, storage.ChannelBackup{
		GuildID:   "g1",
		ChannelID: "c1",
		Name:      "general",
		Kind:      storage.ChannelKindText,
	})
	runtime.SetProtection("g1", true)

	// Audit source returns nothing: lag exceeded the wait. Restore anyway.
	module.HandleChannelDelete(ctx, "g1", "c1", "general")

	if len(api.created) != 1 {
		t.Fatalf("expected restore despite empty audit log")
	}
	logs, err := store.ListAntiNukeLogs(ctx, "g1", time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("list logs: %v", err)
	}
	if len(logs) != 1 || logs[0].ActionType != audit.ActionChannelRestored {
		t.Fatalf("expected one channel_restored entry, got %+v", logs)
	}
	if logs[0].Details["deleted_by"] != unknownExecutor {
		t.Fatalf("unknown deleter must be recorded as %q", unknownExecutor)
	}
}

func TestDeleteClassifierOwnerNoop(t *testing.T) {
	api := newFakeAPI()
	api.auditEntries = []*discordgo.AuditLogEntry{
		{ID: recentSnowflake(), TargetID: "c1", UserID: "owner-user"},
	}
	api.members["owner-user"] = &discordgo.Member{
		User:  &discordgo.User{ID: "owner-user"},
		Roles: []string{"owner-role"},
	}
	module, store, runtime := newTestModule(t, api)
	ctx := context.Background()

	seedBackup(t, module, storage.ChannelBackup{
		GuildID:   "g1",
		ChannelID: "c1",
		Name:      "general",
		Kind:      storage.ChannelKindText,
	})
	runtime.SetProtection("g1", true)

	module.HandleChannelDelete(ctx, "g1", "c1", "general")

	if len(api.created) != 0 {
		t.Fatalf("owner deletion must not be restored")
	}
	logs, _ := store.ListAntiNukeLogs(ctx, "g1", time.Now().Add(-time.Hour))
	if len(logs) != 0 {
		t.Fatalf("owner deletion must not be logged as restore")
	}
}

func TestDeleteClassifierHostileActorRestores(t *testing.T) {
	api := newFakeAPI()
	api.auditEntries = []*discordgo.AuditLogEntry{
		{ID: recentSnowflake(), TargetID: "c1", UserID: "raider"},
	}
	api.members["raider"] = &discordgo.Member{
		User:  &discordgo.User{ID: "raider"},
		Roles: []string{"plain-role"},
	}
	module, store, runtime := newTestModule(t, api)
	ctx := context.Background()

	seedBackup(t, module, storage.ChannelBackup{
		GuildID:   "g1",
		ChannelID: "c1",
		Name:      "general",
		Kind:      storage.ChannelKindText,
	})
	runtime.SetProtection("g1", true)

	module.HandleChannelDelete(ctx, "g1", "c1", "general")

	if len(api.created) != 1 {
		t.Fatalf("hostile deletion must be restored")
	}
	logs, _ := store.ListAntiNukeLogs(ctx, "g1", time.Now().Add(-time.Hour))
	if len(logs) != 1 || logs[0].ExecutorID != "raider" {
		t.Fatalf("expected restore log attributed to raider, got %+v", logs)
	}
}

func TestSafeDeleteBypassesRestore(t *testing.T) {
	api := newFakeAPI()
	module, store, runtime := newTestModule(t, api)
	ctx := context.Background()

	seedBackup(t, module, storage.ChannelBackup{
		GuildID:   "g1",
		ChannelID: "c1",
		Name:      "general",
		Kind:      storage.ChannelKindText,
	})
	runtime.SetProtection("g1", true)

	if err := module.SafeDelete(ctx, "g1", "c1", "general", "owner-user"); err != nil {
		t.Fatalf("safe delete: %v", err)
	}
	if len(api.deleted) != 1 || api.deleted[0] != "c1" {
		t.Fatalf("expected live channel deletion")
	}
	if _, found, _ := store.GetChannelBackup(ctx, "c1"); found {
		t.Fatalf("backup row must be removed before channel deletion")
	}

	// The delete event that follows finds no snapshot and no-ops.
	module.HandleChannelDelete(ctx, "g1", "c1", "general")
	if len(api.created) != 0 {
		t.Fatalf("safe-deleted channel must not be restored")
	}
	logs, _ := store.ListAntiNukeLogs(ctx, "g1", time.Now().Add(-time.Hour))
	for _, entry := range logs {
		if entry.ActionType == audit.ActionChannelRestored {
			t.Fatalf("no restore log expected after safe delete")
		}
	}
}

func TestTicketChannelDeleteIgnored(t *testing.T) {
	api := newFakeAPI()
	module, _, runtime := newTestModule(t, api)
	runtime.SetProtection("g1", true)

	module.HandleChannelDelete(context.Background(), "g1", "c9", "Ticket-0099")
	if len(api.created) != 0 {
		t.Fatalf("ticket channels are never restored")
	}
}

func TestUnprotectedGuildIgnored(t *testing.T) {
	api := newFakeAPI()
	module, _, _ := newTestModule(t, api)
	module.HandleChannelDelete(context.Background(), "g1", "c1", "general")
	if len(api.created) != 0 {
		t.Fatalf("disarmed guild must be ignored")
	}
}

func seedBackup(t *testing.T, module *Module, backup storage.ChannelBackup) {
	t.Helper()
	if err := module.store.UpsertChannelBackup(context.Background(), backup); err != nil {
		t.Fatalf("seed backup: %v", err)
	}
}
