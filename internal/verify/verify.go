// Package verify links Discord users to Roblox accounts and manages their
// rank in the configured Roblox group.
package verify

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/loykin/rankvisor/internal/roblox"
	"github.com/loykin/rankvisor/internal/store"
)

var (
	ErrUserNotFound = errors.New("roblox user not found")
	ErrNoPending    = errors.New("no pending verification")
	ErrCodeMissing  = errors.New("verification code not found in profile description")
	ErrBlacklisted  = errors.New("member of a blacklisted group")
	ErrNotVerified  = errors.New("discord user is not verified")
	ErrRoleNotFound = errors.New("rank not found in group")
	ErrNotInGroup   = errors.New("user is not in the group")
	ErrInvalidGroup = errors.New("invalid group id")
)

const (
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeLength   = 6

	DefaultPendingTTL = 10 * time.Minute
)

// BlacklistedError names the blacklisted groups a user belongs to.
type BlacklistedError struct {
	Groups []roblox.Group
}

func (e *BlacklistedError) Error() string {
	names := make([]string, len(e.Groups))
	for i, g := range e.Groups {
		names[i] = fmt.Sprintf("%s (%d)", g.Name, g.ID)
	}
	return fmt.Sprintf("%s: %s", ErrBlacklisted, strings.Join(names, ", "))
}

func (e *BlacklistedError) Is(target error) bool { return target == ErrBlacklisted }

// Store is the persistence the service needs.
type Store interface {
	SetPending(ctx context.Context, p store.Pending) error
	GetPending(ctx context.Context, userID string) (store.Pending, error)
	DeletePending(ctx context.Context, userID string) error
	SetVerified(ctx context.Context, v store.Verified) error
	GetVerified(ctx context.Context, userID string) (store.Verified, error)
	AddBlacklistedGroup(ctx context.Context, groupID int64) (int, error)
	RemoveBlacklistedGroup(ctx context.Context, groupID int64) (bool, error)
	BlacklistedGroups(ctx context.Context) ([]store.BlacklistedGroup, error)
}

// Roblox is the subset of the web API the service calls.
type Roblox interface {
	UserByUsername(ctx context.Context, username string) (roblox.User, error)
	User(ctx context.Context, id int64) (roblox.User, error)
	UserGroupRoles(ctx context.Context, id int64) ([]roblox.Membership, error)
	GroupRoles(ctx context.Context, groupID int64) ([]roblox.Role, error)
	SetRank(ctx context.Context, groupID, userID, roleID int64) error
}

// Observer receives outcome counts. Implementations must be safe for
// concurrent use.
type Observer interface {
	Verification(result string)
	RankChange(result string)
}

type nopObserver struct{}

func (nopObserver) Verification(string) {}
func (nopObserver) RankChange(string)   {}

// Options wires a Service.
type Options struct {
	Store      Store
	Roblox     Roblox
	GroupID    int64
	PendingTTL time.Duration
	Observer   Observer
	Log        *slog.Logger
	Now        func() time.Time
}

type Service struct {
	store   Store
	roblox  Roblox
	groupID int64
	ttl     time.Duration
	obs     Observer
	log     *slog.Logger
	now     func() time.Time
}

func New(o Options) *Service {
	s := &Service{
		store:   o.Store,
		roblox:  o.Roblox,
		groupID: o.GroupID,
		ttl:     o.PendingTTL,
		obs:     o.Observer,
		log:     o.Log,
		now:     o.Now,
	}
	if s.ttl <= 0 {
		s.ttl = DefaultPendingTTL
	}
	if s.obs == nil {
		s.obs = nopObserver{}
	}
	if s.log == nil {
		s.log = slog.New(slog.DiscardHandler)
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// GroupID is the group ranks are managed in.
func (s *Service) GroupID() int64 { return s.groupID }

// NewCode returns a random code drawn from A-Z and 0-9.
func NewCode() (string, error) {
	b := make([]byte, codeLength)
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = codeAlphabet[n.Int64()]
	}
	return string(b), nil
}

func (s *Service) resolve(ctx context.Context, username string) (roblox.User, error) {
	u, err := s.roblox.UserByUsername(ctx, username)
	if errors.Is(err, roblox.ErrNotFound) {
		return roblox.User{}, fmt.Errorf("%w: %s", ErrUserNotFound, username)
	}
	return u, err
}

// ParseGroupID accepts a positive decimal group id.
func ParseGroupID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidGroup, s)
	}
	return id, nil
}
