package massrole

import (
	"context"
	"errors"
	"fmt"
	"time"

	"middleman-guard/internal/authz"
	"middleman-guard/internal/modules/audit"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// ErrNotConfirmed is returned when the executor declined the confirmation
// prompt or let it expire. Nothing was mutated and nothing was logged.
var ErrNotConfirmed = errors.New("operation not confirmed")

// ErrRoleTooHigh is returned when the requested role sits at or above the
// bot's own highest role and can therefore never be assigned or removed.
var ErrRoleTooHigh = errors.New("role ranks at or above the bot")

const memberPageSize = 1000

// RoleAPI is the slice of the platform client the mass-role executor needs.
// *discordgo.Session satisfies it.
type RoleAPI interface {
	GuildMembers(guildID, after string, limit int, options ...discordgo.RequestOption) ([]*discordgo.Member, error)
	GuildMemberRoleAdd(guildID, userID, roleID string, options ...discordgo.RequestOption) error
	GuildMemberRoleRemove(guildID, userID, roleID string, options ...discordgo.RequestOption) error
	GuildRoles(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Role, error)
	GuildMember(guildID, userID string, options ...discordgo.RequestOption) (*discordgo.Member, error)
}

// ConfirmFunc asks the invoking user to approve a mass mutation. The bot
// layer implements it with a reaction prompt in the invoking channel; tests
// stub it.
type ConfirmFunc func(ctx context.Context, req ConfirmRequest) (bool, error)

// ConfirmRequest describes the pending mutation to the approver.
type ConfirmRequest struct {
	GuildID   string
	ChannelID string
	ActorID   string
	Summary   string
}

// Result summarizes one batch operation.
type Result struct {
	Affected int
	Failed   int
}

// Module executes bulk role mutations. Every guild-wide operation is gated
// behind a confirmation and every mutation respects the role hierarchy: the
// bot only ever touches roles strictly below its own highest role.
type Module struct {
	api        RoleAPI
	classifier *authz.Classifier
	audit      *audit.Logger
	logger     *zap.Logger
	confirm    ConfirmFunc
	botID      func() string
	stepDelay  time.Duration
}

// New wires the executor. botID is resolved lazily; the session does not
// know its own user until the gateway handshake completes.
func New(api RoleAPI, classifier *authz.Classifier, auditLogger *audit.Logger, logger *zap.Logger, confirm ConfirmFunc, botID func() string, stepDelay time.Duration) *Module {
	return &Module{
		api:        api,
		classifier: classifier,
		audit:      auditLogger,
		logger:     logger,
		confirm:    confirm,
		botID:      botID,
		stepDelay:  stepDelay,
	}
}

// guildView captures the role hierarchy at the start of an operation.
type guildView struct {
	roles   []*discordgo.Role
	ranker  *authz.RoleRanker
	botRank int
}

func (m *Module) loadGuild(guildID string) (*guildView, error) {
	roles, err := m.api.GuildRoles(guildID)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	botMember, err := m.api.GuildMember(guildID, m.botID())
	if err != nil {
		return nil, fmt.Errorf("resolve bot member: %w", err)
	}
	ranker := authz.NewRoleRanker(roles)
	return &guildView{
		roles:   roles,
		ranker:  ranker,
		botRank: authz.HighestRank(ranker, botMember),
	}, nil
}

// mutableRole reports whether the bot may assign or remove this role.
func (v *guildView) mutableRole(guildID, roleID string) bool {
	if roleID == guildID {
		return false
	}
	for _, role := range v.roles {
		if role != nil && role.ID == roleID {
			return !role.Managed && role.Position < v.botRank
		}
	}
	return false
}

func (v *guildView) adminRoleIDs() map[string]struct{} {
	admins := make(map[string]struct{})
	for _, role := range v.roles {
		if role != nil && role.Permissions&discordgo.PermissionAdministrator != 0 {
			admins[role.ID] = struct{}{}
		}
	}
	return admins
}

// GrantRoleToAll assigns a role to every human member that lacks it.
func (m *Module) GrantRoleToAll(ctx context.Context, guildID, channelID, roleID, executorID string) (Result, error) {
	view, err := m.loadGuild(guildID)
	if err != nil {
		return Result{}, err
	}
	if !view.mutableRole(guildID, roleID) {
		return Result{}, ErrRoleTooHigh
	}
	if err := m.confirmOrAbort(ctx, guildID, channelID, executorID, fmt.Sprintf("grant role <@&%s> to every member", roleID)); err != nil {
		return Result{}, err
	}

	members, err := m.allMembers(guildID)
	if err != nil {
		return Result{}, err
	}
	var result Result
	for _, member := range members {
		if skipMember(member) || hasRole(member, roleID) {
			continue
		}
		if err := m.api.GuildMemberRoleAdd(guildID, member.User.ID, roleID); err != nil {
			result.Failed++
			m.logger.Warn("role grant failed",
				zap.String("user_id", member.User.ID),
				zap.String("role_id", roleID),
				zap.Error(err))
			continue
		}
		result.Affected++
		m.pace()
	}

	m.audit.Log(ctx, guildID, audit.ActionMassRoleGrant, roleID, executorID, map[string]any{
		"role_id":  roleID,
		"affected": result.Affected,
		"failed":   result.Failed,
	})
	return result, nil
}

// RemoveRoleFromAll strips a role from every member that holds it.
func (m *Module) RemoveRoleFromAll(ctx context.Context, guildID, channelID, roleID, executorID string) (Result, error) {
	view, err := m.loadGuild(guildID)
	if err != nil {
		return Result{}, err
	}
	if !view.mutableRole(guildID, roleID) {
		return Result{}, ErrRoleTooHigh
	}
	if err := m.confirmOrAbort(ctx, guildID, channelID, executorID, fmt.Sprintf("remove role <@&%s> from every member", roleID)); err != nil {
		return Result{}, err
	}

	members, err := m.allMembers(guildID)
	if err != nil {
		return Result{}, err
	}
	var result Result
	for _, member := range members {
		if member == nil || member.User == nil || !hasRole(member, roleID) {
			continue
		}
		if err := m.api.GuildMemberRoleRemove(guildID, member.User.ID, roleID); err != nil {
			result.Failed++
			m.logger.Warn("role removal failed",
				zap.String("user_id", member.User.ID),
				zap.String("role_id", roleID),
				zap.Error(err))
			continue
		}
		result.Affected++
		m.pace()
	}

	m.audit.Log(ctx, guildID, audit.ActionMassRoleRemoval, roleID, executorID, map[string]any{
		"role_id":  roleID,
		"affected": result.Affected,
		"failed":   result.Failed,
	})
	return result, nil
}

// DemoteMember removes every administrator-granting role the bot can reach
// from one member.
func (m *Module) DemoteMember(ctx context.Context, guildID, userID, executorID string) (Result, error) {
	view, err := m.loadGuild(guildID)
	if err != nil {
		return Result{}, err
	}
	member, err := m.api.GuildMember(guildID, userID)
	if err != nil {
		return Result{}, fmt.Errorf("resolve member: %w", err)
	}

	result := m.removeRoleSet(guildID, member, view, view.adminRoleIDs())
	m.audit.Log(ctx, guildID, audit.ActionUserDemoted, userID, executorID, map[string]any{
		"removed": result.Affected,
		"failed":  result.Failed,
	})
	return result, nil
}

// DemoteAllAdmins removes administrator-granting roles from every member
// except owners and the bot itself.
func (m *Module) DemoteAllAdmins(ctx context.Context, guildID, channelID, executorID string) (Result, error) {
	view, err := m.loadGuild(guildID)
	if err != nil {
		return Result{}, err
	}
	if err := m.confirmOrAbort(ctx, guildID, channelID, executorID, "demote every administrator"); err != nil {
		return Result{}, err
	}

	members, err := m.allMembers(guildID)
	if err != nil {
		return Result{}, err
	}
	admins := view.adminRoleIDs()
	var result Result
	demoted := 0
	for _, member := range members {
		if skipMember(member) || member.User.ID == m.botID() {
			continue
		}
		if m.classifier.HasOwnerRole(member) {
			continue
		}
		sub := m.removeRoleSet(guildID, member, view, admins)
		if sub.Affected > 0 {
			demoted++
		}
		result.Affected += sub.Affected
		result.Failed += sub.Failed
	}

	m.audit.Log(ctx, guildID, audit.ActionMassDemotion, "", executorID, map[string]any{
		"members_demoted": demoted,
		"roles_removed":   result.Affected,
		"failed":          result.Failed,
	})
	return result, nil
}

// StripMember removes every role the bot can reach from one member. The
// mutation is destructive enough to require the same confirmation as the
// guild-wide operations.
func (m *Module) StripMember(ctx context.Context, guildID, channelID, userID, executorID string) (Result, error) {
	view, err := m.loadGuild(guildID)
	if err != nil {
		return Result{}, err
	}
	member, err := m.api.GuildMember(guildID, userID)
	if err != nil {
		return Result{}, fmt.Errorf("resolve member: %w", err)
	}
	if err := m.confirmOrAbort(ctx, guildID, channelID, executorID, fmt.Sprintf("remove every role from <@%s>", userID)); err != nil {
		return Result{}, err
	}

	result := m.removeRoleSet(guildID, member, view, roleSet(member))
	m.audit.Log(ctx, guildID, audit.ActionRolesStripped, userID, executorID, map[string]any{
		"removed": result.Affected,
		"failed":  result.Failed,
	})
	return result, nil
}

// StripAllMembers removes every reachable role from every human member.
func (m *Module) StripAllMembers(ctx context.Context, guildID, channelID, executorID string) (Result, error) {
	view, err := m.loadGuild(guildID)
	if err != nil {
		return Result{}, err
	}
	if err := m.confirmOrAbort(ctx, guildID, channelID, executorID, "remove every role from every member"); err != nil {
		return Result{}, err
	}

	members, err := m.allMembers(guildID)
	if err != nil {
		return Result{}, err
	}
	var result Result
	stripped := 0
	for _, member := range members {
		if skipMember(member) || member.User.ID == m.botID() {
			continue
		}
		sub := m.removeRoleSet(guildID, member, view, roleSet(member))
		if sub.Affected > 0 {
			stripped++
		}
		result.Affected += sub.Affected
		result.Failed += sub.Failed
	}

	m.audit.Log(ctx, guildID, audit.ActionMassStrip, "", executorID, map[string]any{
		"members_stripped": stripped,
		"roles_removed":    result.Affected,
		"failed":           result.Failed,
	})
	return result, nil
}

// GrantAllRoles assigns every assignable role the member does not yet hold.
func (m *Module) GrantAllRoles(ctx context.Context, guildID, userID, executorID string) (Result, error) {
	view, err := m.loadGuild(guildID)
	if err != nil {
		return Result{}, err
	}
	member, err := m.api.GuildMember(guildID, userID)
	if err != nil {
		return Result{}, fmt.Errorf("resolve member: %w", err)
	}

	held := roleSet(member)
	var result Result
	for _, role := range view.roles {
		if role == nil || !view.mutableRole(guildID, role.ID) {
			continue
		}
		if _, ok := held[role.ID]; ok {
			continue
		}
		if err := m.api.GuildMemberRoleAdd(guildID, userID, role.ID); err != nil {
			result.Failed++
			m.logger.Warn("role grant failed",
				zap.String("user_id", userID),
				zap.String("role_id", role.ID),
				zap.Error(err))
			continue
		}
		result.Affected++
		m.pace()
	}

	m.audit.Log(ctx, guildID, audit.ActionRolesGranted, userID, executorID, map[string]any{
		"granted": result.Affected,
		"failed":  result.Failed,
	})
	return result, nil
}

// removeRoleSet removes the member's roles that appear in the wanted set and
// that the bot is allowed to touch.
func (m *Module) removeRoleSet(guildID string, member *discordgo.Member, view *guildView, wanted map[string]struct{}) Result {
	var result Result
	for _, roleID := range member.Roles {
		if _, ok := wanted[roleID]; !ok {
			continue
		}
		if !view.mutableRole(guildID, roleID) {
			continue
		}
		if err := m.api.GuildMemberRoleRemove(guildID, member.User.ID, roleID); err != nil {
			result.Failed++
			m.logger.Warn("role removal failed",
				zap.String("user_id", member.User.ID),
				zap.String("role_id", roleID),
				zap.Error(err))
			continue
		}
		result.Affected++
		m.pace()
	}
	return result
}

func (m *Module) confirmOrAbort(ctx context.Context, guildID, channelID, actorID, summary string) error {
	if m.confirm == nil {
		return ErrNotConfirmed
	}
	ok, err := m.confirm(ctx, ConfirmRequest{
		GuildID:   guildID,
		ChannelID: channelID,
		ActorID:   actorID,
		Summary:   summary,
	})
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotConfirmed
	}
	return nil
}

func (m *Module) allMembers(guildID string) ([]*discordgo.Member, error) {
	var members []*discordgo.Member
	after := ""
	for {
		page, err := m.api.GuildMembers(guildID, after, memberPageSize)
		if err != nil {
			return nil, fmt.Errorf("list members: %w", err)
		}
		members = append(members, page...)
		if len(page) < memberPageSize {
			return members, nil
		}
		after = page[len(page)-1].User.ID
	}
}

// pace spaces mutations out so a large batch does not trip rate limits.
func (m *Module) pace() {
	if m.stepDelay > 0 {
		time.Sleep(m.stepDelay)
	}
}

func skipMember(member *discordgo.Member) bool {
	return member == nil || member.User == nil || member.User.Bot
}

func roleSet(member *discordgo.Member) map[string]struct{} {
	set := make(map[string]struct{}, len(member.Roles))
	for _, roleID := range member.Roles {
		set[roleID] = struct{}{}
	}
	return set
}

func hasRole(member *discordgo.Member, roleID string) bool {
	for _, id := range member.Roles {
		if id == roleID {
			return true
		}
	}
	return false
}
