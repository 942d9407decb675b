package authz

import (
	"github.com/bwmarrin/discordgo"
)

// Ranker is a total order over a guild's roles. Higher rank means more
// seniority; every above/below comparison in the bot reduces to comparing
// these integers.
type Ranker interface {
	Rank(roleID string) int
}

// RoleRanker derives ranks from the platform's native role positions.
type RoleRanker struct {
	positions map[string]int
}

func NewRoleRanker(roles []*discordgo.Role) *RoleRanker {
	positions := make(map[string]int, len(roles))
	for _, role := range roles {
		if role == nil {
			continue
		}
		positions[role.ID] = role.Position
	}
	return &RoleRanker{positions: positions}
}

func (r *RoleRanker) Rank(roleID string) int {
	return r.positions[roleID]
}

// HighestRank returns the rank of the member's most senior role.
func HighestRank(ranker Ranker, member *discordgo.Member) int {
	highest := 0
	for _, roleID := range member.Roles {
		if rank := ranker.Rank(roleID); rank > highest {
			highest = rank
		}
	}
	return highest
}

// Classifier decides whether an actor may perform privileged actions. It is
// built once from the statically configured owner role set.
type Classifier struct {
	ownerRoles map[string]struct{}
}

func NewClassifier(ownerRoleIDs []string) *Classifier {
	owners := make(map[string]struct{}, len(ownerRoleIDs))
	for _, id := range ownerRoleIDs {
		owners[id] = struct{}{}
	}
	return &Classifier{ownerRoles: owners}
}

// HasOwnerRole reports whether the member holds at least one configured
// owner role.
func (c *Classifier) HasOwnerRole(member *discordgo.Member) bool {
	if member == nil {
		return false
	}
	for _, roleID := range member.Roles {
		if _, ok := c.ownerRoles[roleID]; ok {
			return true
		}
	}
	return false
}

// IsOwnerOrAdmin reports whether the member holds an owner role or an
// administrator permission grant through any of its roles.
func (c *Classifier) IsOwnerOrAdmin(roles []*discordgo.Role, member *discordgo.Member) bool {
	if c.HasOwnerRole(member) {
		return true
	}
	return hasAdminPermission(roles, member)
}

// HasBotRoleOrHigher reports whether the member's highest role ranks at or
// above the bot's own highest role.
func (c *Classifier) HasBotRoleOrHigher(ranker Ranker, member, botMember *discordgo.Member) bool {
	if member == nil || botMember == nil {
		return false
	}
	return HighestRank(ranker, member) >= HighestRank(ranker, botMember)
}

func hasAdminPermission(roles []*discordgo.Role, member *discordgo.Member) bool {
	if member == nil {
		return false
	}
	roleMap := make(map[string]*discordgo.Role, len(roles))
	for _, role := range roles {
		if role != nil {
			roleMap[role.ID] = role
		}
	}
	var perms int64
	for _, roleID := range member.Roles {
		if role := roleMap[roleID]; role != nil {
			perms |= role.Permissions
		}
	}
	return perms&discordgo.PermissionAdministrator != 0
}
