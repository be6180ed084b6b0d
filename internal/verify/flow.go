package verify

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/loykin/rankvisor/internal/roblox"
	"github.com/loykin/rankvisor/internal/store"
)

// Pending is a started verification as shown to the user.
type Pending struct {
	DiscordID      string
	RobloxUserID   int64
	RobloxUsername string
	Code           string
	ExpiresAt      time.Time
}

// Verified is the outcome of a successful confirmation.
type Verified struct {
	DiscordID      string
	RobloxUserID   int64
	RobloxUsername string
	DisplayName    string
	RankName       string // empty when not in the group
}

// BlacklistReport lists the blacklisted groups a user is in.
type BlacklistReport struct {
	Groups []roblox.Group
}

func (r BlacklistReport) Blacklisted() bool { return len(r.Groups) > 0 }

// Background is the result of a background check on any Roblox user.
type Background struct {
	User        roblox.User
	AgeDays     int
	Blacklisted BlacklistReport
}

// Standing is a verified user's current position.
type Standing struct {
	Verified    store.Verified
	InGroup     bool
	Role        roblox.Role
	Blacklisted BlacklistReport
}

// RankChange describes a completed rank assignment.
type RankChange struct {
	User roblox.User
	From roblox.Role
	To   roblox.Role
}

// Begin resolves the username and stores a fresh pending verification,
// replacing any earlier one for the same Discord user.
func (s *Service) Begin(ctx context.Context, discordID, username string) (Pending, error) {
	u, err := s.resolve(ctx, username)
	if err != nil {
		return Pending{}, err
	}
	code, err := NewCode()
	if err != nil {
		return Pending{}, fmt.Errorf("generate code: %w", err)
	}
	now := s.now()
	p := store.Pending{
		UserID:         discordID,
		RobloxUserID:   u.ID,
		RobloxUsername: u.Name,
		Code:           code,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.ttl),
	}
	if err := s.store.SetPending(ctx, p); err != nil {
		return Pending{}, fmt.Errorf("save pending: %w", err)
	}
	s.log.Info("verification started", "discord_id", discordID, "roblox_user", u.Name)
	return Pending{DiscordID: discordID, RobloxUserID: u.ID, RobloxUsername: u.Name, Code: code, ExpiresAt: p.ExpiresAt}, nil
}

// Confirm completes a pending verification once its code appears in the
// Roblox profile description and the user is in no blacklisted group.
func (s *Service) Confirm(ctx context.Context, discordID string) (Verified, error) {
	v, err := s.confirm(ctx, discordID)
	s.obs.Verification(outcome(err))
	return v, err
}

func (s *Service) confirm(ctx context.Context, discordID string) (Verified, error) {
	p, err := s.store.GetPending(ctx, discordID)
	if errors.Is(err, store.ErrNotFound) {
		return Verified{}, ErrNoPending
	}
	if err != nil {
		return Verified{}, err
	}
	profile, err := s.roblox.User(ctx, p.RobloxUserID)
	if err != nil {
		return Verified{}, err
	}
	if !strings.Contains(profile.Description, p.Code) {
		return Verified{}, ErrCodeMissing
	}
	memberships, err := s.roblox.UserGroupRoles(ctx, p.RobloxUserID)
	if err != nil {
		return Verified{}, err
	}
	report, err := s.blacklisted(ctx, memberships)
	if err != nil {
		return Verified{}, err
	}
	if report.Blacklisted() {
		s.log.Warn("verification refused: blacklisted group", "discord_id", discordID, "roblox_user", p.RobloxUsername, "groups", len(report.Groups))
		return Verified{}, &BlacklistedError{Groups: report.Groups}
	}
	if err := s.store.SetVerified(ctx, store.Verified{
		UserID:         discordID,
		RobloxUserID:   p.RobloxUserID,
		RobloxUsername: p.RobloxUsername,
		VerifiedAt:     s.now(),
	}); err != nil {
		return Verified{}, fmt.Errorf("save verified: %w", err)
	}
	if err := s.store.DeletePending(ctx, discordID); err != nil {
		s.log.Warn("could not delete pending verification", "discord_id", discordID, "error", err)
	}
	out := Verified{
		DiscordID:      discordID,
		RobloxUserID:   p.RobloxUserID,
		RobloxUsername: p.RobloxUsername,
		DisplayName:    profile.DisplayName,
	}
	if m, ok := membershipIn(memberships, s.groupID); ok {
		out.RankName = m.Role.Name
	}
	s.log.Info("verification completed", "discord_id", discordID, "roblox_user", p.RobloxUsername)
	return out, nil
}

// CheckBlacklist reports which blacklisted groups the Roblox user is in.
func (s *Service) CheckBlacklist(ctx context.Context, robloxUserID int64) (BlacklistReport, error) {
	ms, err := s.roblox.UserGroupRoles(ctx, robloxUserID)
	if err != nil {
		return BlacklistReport{}, err
	}
	return s.blacklisted(ctx, ms)
}

// Background looks up username and reports its account age and any
// blacklisted groups it belongs to.
func (s *Service) Background(ctx context.Context, username string) (Background, error) {
	u, err := s.resolve(ctx, username)
	if err != nil {
		return Background{}, err
	}
	profile, err := s.roblox.User(ctx, u.ID)
	if err != nil {
		return Background{}, err
	}
	report, err := s.CheckBlacklist(ctx, u.ID)
	if err != nil {
		return Background{}, err
	}
	bg := Background{User: profile, Blacklisted: report}
	if !profile.Created.IsZero() {
		bg.AgeDays = int(s.now().Sub(profile.Created).Hours() / 24)
	}
	return bg, nil
}

func (s *Service) blacklisted(ctx context.Context, ms []roblox.Membership) (BlacklistReport, error) {
	groups, err := s.store.BlacklistedGroups(ctx)
	if err != nil {
		return BlacklistReport{}, fmt.Errorf("load blacklist: %w", err)
	}
	if len(groups) == 0 {
		return BlacklistReport{}, nil
	}
	listed := make(map[int64]struct{}, len(groups))
	for _, g := range groups {
		listed[g.GroupID] = struct{}{}
	}
	var r BlacklistReport
	for _, m := range ms {
		if _, ok := listed[m.Group.ID]; ok {
			r.Groups = append(r.Groups, m.Group)
		}
	}
	return r, nil
}

// Update returns the current rank and blacklist status of a verified user.
func (s *Service) Update(ctx context.Context, discordID string) (Standing, error) {
	v, err := s.store.GetVerified(ctx, discordID)
	if errors.Is(err, store.ErrNotFound) {
		return Standing{}, ErrNotVerified
	}
	if err != nil {
		return Standing{}, err
	}
	ms, err := s.roblox.UserGroupRoles(ctx, v.RobloxUserID)
	if err != nil {
		return Standing{}, err
	}
	report, err := s.blacklisted(ctx, ms)
	if err != nil {
		return Standing{}, err
	}
	st := Standing{Verified: v, Blacklisted: report}
	if m, ok := membershipIn(ms, s.groupID); ok {
		st.InGroup, st.Role = true, m.Role
	}
	return st, nil
}

// Rank sets username's role in the group. rank is either a role name
// (case-insensitive) or a rank number.
func (s *Service) Rank(ctx context.Context, username, rank string) (RankChange, error) {
	c, err := s.rank(ctx, username, rank)
	s.obs.RankChange(outcome(err))
	return c, err
}

func (s *Service) rank(ctx context.Context, username, rank string) (RankChange, error) {
	u, err := s.resolve(ctx, username)
	if err != nil {
		return RankChange{}, err
	}
	roles, err := s.roblox.GroupRoles(ctx, s.groupID)
	if err != nil {
		return RankChange{}, err
	}
	target, ok := findRole(roles, rank)
	if !ok {
		return RankChange{}, fmt.Errorf("%w: %q", ErrRoleNotFound, rank)
	}
	ms, err := s.roblox.UserGroupRoles(ctx, u.ID)
	if err != nil {
		return RankChange{}, err
	}
	current, ok := membershipIn(ms, s.groupID)
	if !ok {
		return RankChange{}, ErrNotInGroup
	}
	if err := s.roblox.SetRank(ctx, s.groupID, u.ID, target.ID); err != nil {
		return RankChange{}, err
	}
	s.log.Info("rank changed", "roblox_user", u.Name, "from", current.Role.Name, "to", target.Name)
	return RankChange{User: u, From: current.Role, To: target}, nil
}

func findRole(roles []roblox.Role, want string) (roblox.Role, bool) {
	want = strings.TrimSpace(want)
	if n, err := strconv.Atoi(want); err == nil {
		for _, r := range roles {
			if r.Rank == n {
				return r, true
			}
		}
		return roblox.Role{}, false
	}
	for _, r := range roles {
		if strings.EqualFold(r.Name, want) {
			return r, true
		}
	}
	return roblox.Role{}, false
}

func membershipIn(ms []roblox.Membership, groupID int64) (roblox.Membership, bool) {
	for _, m := range ms {
		if m.Group.ID == groupID {
			return m, true
		}
	}
	return roblox.Membership{}, false
}

// AddBlacklist blacklists a group and returns the new total.
func (s *Service) AddBlacklist(ctx context.Context, groupID int64) (int, error) {
	if groupID <= 0 {
		return 0, ErrInvalidGroup
	}
	return s.store.AddBlacklistedGroup(ctx, groupID)
}

// RemoveBlacklist reports whether the group was blacklisted.
func (s *Service) RemoveBlacklist(ctx context.Context, groupID int64) (bool, error) {
	if groupID <= 0 {
		return false, ErrInvalidGroup
	}
	return s.store.RemoveBlacklistedGroup(ctx, groupID)
}

// ListBlacklist returns blacklisted group ids in ascending order.
func (s *Service) ListBlacklist(ctx context.Context) ([]int64, error) {
	gs, err := s.store.BlacklistedGroups(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, len(gs))
	for i, g := range gs {
		ids[i] = g.GroupID
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrBlacklisted):
		return "blacklisted"
	case errors.Is(err, ErrNoPending), errors.Is(err, ErrCodeMissing), errors.Is(err, ErrUserNotFound),
		errors.Is(err, ErrRoleNotFound), errors.Is(err, ErrNotInGroup):
		return "rejected"
	default:
		return "error"
	}
}
