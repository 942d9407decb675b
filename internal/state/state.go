package state

import (
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
)

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Runtime holds per-process mutable state: the per-guild protection flag and
// a short-lived member lookup cache. Protection is deliberately volatile; it
// must be re-armed with a fresh scan after every restart.
type Runtime struct {
	mu        sync.RWMutex
	clock     Clock
	cacheTTL  time.Duration
	protected map[string]bool
	members   map[string]memberEntry
}

type memberEntry struct {
	member    *discordgo.Member
	expiresAt time.Time
}

func NewRuntime(cacheTTL time.Duration) *Runtime {
	if cacheTTL <= 0 {
		cacheTTL = time.Minute
	}
	return &Runtime{
		clock:     realClock{},
		cacheTTL:  cacheTTL,
		protected: make(map[string]bool),
		members:   make(map[string]memberEntry),
	}
}

func (r *Runtime) WithClock(clock Clock) {
	r.clock = clock
}

func (r *Runtime) SetProtection(guildID string, enabled bool) {
	r.mu.Lock()
	r.protected[guildID] = enabled
	r.mu.Unlock()
}

func (r *Runtime) ProtectionEnabled(guildID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.protected[guildID]
}

// CachedMember returns a previously cached member, or nil when absent or
// expired.
func (r *Runtime) CachedMember(guildID, userID string) *discordgo.Member {
	key := guildID + ":" + userID
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.members[key]
	if !ok {
		return nil
	}
	if r.clock.Now().After(entry.expiresAt) {
		delete(r.members, key)
		return nil
	}
	return entry.member
}

func (r *Runtime) CacheMember(guildID string, member *discordgo.Member) {
	if member == nil || member.User == nil {
		return
	}
	key := guildID + ":" + member.User.ID
	r.mu.Lock()
	r.members[key] = memberEntry{member: member, expiresAt: r.clock.Now().Add(r.cacheTTL)}
	r.mu.Unlock()
}
