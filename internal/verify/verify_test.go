package verify

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/rankvisor/internal/roblox"
	"github.com/loykin/rankvisor/internal/store"
)

const groupID = 5

type fakeRoblox struct {
	users   map[string]roblox.User
	groups  map[int64][]roblox.Membership
	roles   []roblox.Role
	setRank []int64
}

func (f *fakeRoblox) UserByUsername(_ context.Context, name string) (roblox.User, error) {
	u, ok := f.users[strings.ToLower(name)]
	if !ok {
		return roblox.User{}, roblox.ErrNotFound
	}
	return u, nil
}

func (f *fakeRoblox) User(_ context.Context, id int64) (roblox.User, error) {
	for _, u := range f.users {
		if u.ID == id {
			return u, nil
		}
	}
	return roblox.User{}, errors.New("no such id")
}

func (f *fakeRoblox) UserGroupRoles(_ context.Context, id int64) ([]roblox.Membership, error) {
	return f.groups[id], nil
}

func (f *fakeRoblox) GroupRoles(context.Context, int64) ([]roblox.Role, error) { return f.roles, nil }

func (f *fakeRoblox) SetRank(_ context.Context, _, _ int64, roleID int64) error {
	f.setRank = append(f.setRank, roleID)
	return nil
}

type counter struct {
	mu   sync.Mutex
	seen map[string]int
}

func (c *counter) Verification(r string) { c.inc("verify:" + r) }
func (c *counter) RankChange(r string)   { c.inc("rank:" + r) }
func (c *counter) inc(k string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seen == nil {
		c.seen = map[string]int{}
	}
	c.seen[k]++
}

func setup(t *testing.T) (*Service, *fakeRoblox, *store.DB, *counter) {
	t.Helper()
	ctx := context.Background()
	db, err := store.Open(ctx, "sqlite://"+filepath.Join(t.TempDir(), "v.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.EnsureSchema(ctx))

	rb := &fakeRoblox{
		users: map[string]roblox.User{
			"builder": {ID: 77, Name: "Builder", DisplayName: "Bob", Created: time.Now().AddDate(0, 0, -400)},
		},
		groups: map[int64][]roblox.Membership{
			77: {
				{Group: roblox.Group{ID: groupID, Name: "Army"}, Role: roblox.Role{ID: 20, Name: "Private", Rank: 2}},
				{Group: roblox.Group{ID: 900, Name: "Raiders"}, Role: roblox.Role{ID: 1, Name: "Member", Rank: 1}},
			},
		},
		roles: []roblox.Role{
			{ID: 10, Name: "Recruit", Rank: 1},
			{ID: 20, Name: "Private", Rank: 2},
			{ID: 30, Name: "Corporal", Rank: 3},
		},
	}
	obs := &counter{}
	svc := New(Options{Store: db, Roblox: rb, GroupID: groupID, Observer: obs})
	return svc, rb, db, obs
}

func (f *fakeRoblox) setDescription(name, desc string) {
	u := f.users[name]
	u.Description = desc
	f.users[name] = u
}

func TestNewCode(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		c, err := NewCode()
		require.NoError(t, err)
		require.Len(t, c, 6)
		for _, r := range c {
			assert.True(t, strings.ContainsRune(codeAlphabet, r), c)
		}
		seen[c] = true
	}
	assert.Greater(t, len(seen), 45)
}

func TestBeginUnknownUser(t *testing.T) {
	svc, _, _, _ := setup(t)
	_, err := svc.Begin(context.Background(), "1", "nobody")
	assert.True(t, errors.Is(err, ErrUserNotFound))
}

func TestVerifyFlow(t *testing.T) {
	ctx := context.Background()
	svc, rb, db, obs := setup(t)

	_, err := svc.Confirm(ctx, "1")
	assert.True(t, errors.Is(err, ErrNoPending))

	p, err := svc.Begin(ctx, "1", "builder")
	require.NoError(t, err)
	assert.Equal(t, int64(77), p.RobloxUserID)
	assert.WithinDuration(t, time.Now().Add(DefaultPendingTTL), p.ExpiresAt, 5*time.Second)

	_, err = svc.Confirm(ctx, "1")
	assert.True(t, errors.Is(err, ErrCodeMissing))

	rb.setDescription("builder", "hello "+p.Code+" world")
	v, err := svc.Confirm(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "Builder", v.RobloxUsername)
	assert.Equal(t, "Bob", v.DisplayName)
	assert.Equal(t, "Private", v.RankName)

	stored, err := db.GetVerified(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, int64(77), stored.RobloxUserID)
	_, err = db.GetPending(ctx, "1")
	assert.True(t, errors.Is(err, store.ErrNotFound), "pending row is removed")

	assert.Equal(t, 1, obs.seen["verify:ok"])
	assert.Equal(t, 2, obs.seen["verify:rejected"])
}

func TestConfirmExpired(t *testing.T) {
	ctx := context.Background()
	svc, rb, db, _ := setup(t)
	p, err := svc.Begin(ctx, "1", "builder")
	require.NoError(t, err)
	rb.setDescription("builder", p.Code)

	db.SetClock(func() time.Time { return time.Now().Add(DefaultPendingTTL + time.Second) })
	_, err = svc.Confirm(ctx, "1")
	assert.True(t, errors.Is(err, ErrNoPending))
}

func TestConfirmBlacklisted(t *testing.T) {
	ctx := context.Background()
	svc, rb, db, obs := setup(t)
	_, err := svc.AddBlacklist(ctx, 900)
	require.NoError(t, err)

	p, err := svc.Begin(ctx, "1", "builder")
	require.NoError(t, err)
	rb.setDescription("builder", p.Code)

	_, err = svc.Confirm(ctx, "1")
	require.True(t, errors.Is(err, ErrBlacklisted))
	var be *BlacklistedError
	require.True(t, errors.As(err, &be))
	require.Len(t, be.Groups, 1)
	assert.Equal(t, "Raiders", be.Groups[0].Name)
	assert.Contains(t, err.Error(), "Raiders (900)")

	_, err = db.GetVerified(ctx, "1")
	assert.True(t, errors.Is(err, store.ErrNotFound))
	assert.Equal(t, 1, obs.seen["verify:blacklisted"])

	report, err := svc.CheckBlacklist(ctx, 77)
	require.NoError(t, err)
	assert.True(t, report.Blacklisted())
}

func TestBackground(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := setup(t)

	_, err := svc.Background(ctx, "nobody")
	assert.True(t, errors.Is(err, ErrUserNotFound))

	bg, err := svc.Background(ctx, "builder")
	require.NoError(t, err)
	assert.Equal(t, int64(77), bg.User.ID)
	assert.InDelta(t, 400, bg.AgeDays, 1)
	assert.False(t, bg.Blacklisted.Blacklisted())

	_, err = svc.AddBlacklist(ctx, 900)
	require.NoError(t, err)
	bg, err = svc.Background(ctx, "builder")
	require.NoError(t, err)
	require.Len(t, bg.Blacklisted.Groups, 1)
	assert.Equal(t, "Raiders", bg.Blacklisted.Groups[0].Name)
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	svc, _, db, _ := setup(t)

	_, err := svc.Update(ctx, "1")
	assert.True(t, errors.Is(err, ErrNotVerified))

	require.NoError(t, db.SetVerified(ctx, store.Verified{UserID: "1", RobloxUserID: 77, RobloxUsername: "Builder"}))
	st, err := svc.Update(ctx, "1")
	require.NoError(t, err)
	assert.True(t, st.InGroup)
	assert.Equal(t, "Private", st.Role.Name)
	assert.False(t, st.Blacklisted.Blacklisted())
}

func TestRank(t *testing.T) {
	ctx := context.Background()
	svc, rb, _, obs := setup(t)

	c, err := svc.Rank(ctx, "builder", "corporal")
	require.NoError(t, err)
	assert.Equal(t, "Private", c.From.Name)
	assert.Equal(t, "Corporal", c.To.Name)

	c, err = svc.Rank(ctx, "builder", "1")
	require.NoError(t, err)
	assert.Equal(t, "Recruit", c.To.Name)
	assert.Equal(t, []int64{30, 10}, rb.setRank)

	_, err = svc.Rank(ctx, "builder", "General")
	assert.True(t, errors.Is(err, ErrRoleNotFound))

	rb.groups[77] = nil
	_, err = svc.Rank(ctx, "builder", "Recruit")
	assert.True(t, errors.Is(err, ErrNotInGroup))

	assert.Equal(t, 2, obs.seen["rank:ok"])
	assert.Equal(t, 2, obs.seen["rank:rejected"])
}

func TestBlacklistAdmin(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := setup(t)

	_, err := svc.AddBlacklist(ctx, 0)
	assert.True(t, errors.Is(err, ErrInvalidGroup))

	for _, id := range []int64{30, 10, 20} {
		_, err := svc.AddBlacklist(ctx, id)
		require.NoError(t, err)
	}
	ids, err := svc.ListBlacklist(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{10, 20, 30}, ids)

	ok, err := svc.RemoveBlacklist(ctx, 20)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestParseGroupID(t *testing.T) {
	id, err := ParseGroupID(" 123 ")
	require.NoError(t, err)
	assert.Equal(t, int64(123), id)
	for _, bad := range []string{"", "abc", "-4", "0"} {
		_, err := ParseGroupID(bad)
		assert.True(t, errors.Is(err, ErrInvalidGroup), bad)
	}
}
