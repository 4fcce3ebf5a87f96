package ads

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/itranswarp/backend/internal/models"
	"github.com/itranswarp/backend/pkg/clock"
)

type testEnv struct {
	store   *memStore
	assets  *memAssets
	cache   *memCache
	inv     *Inventory
	serving *ServingCache
	now     time.Time

	mu      sync.Mutex
	changes []Change

	admin   models.User
	sponsor models.User
	rival   models.User
	reader  models.User
}

func newTestEnv(t *testing.T, today string) *testEnv {
	t.Helper()
	env := &testEnv{store: newMemStore(), assets: newMemAssets(), cache: newMemCache()}
	env.setToday(t, today)
	clk := clock.Func(func() time.Time { return env.now })
	logger := zaptest.NewLogger(t)

	env.inv = NewInventory(env.store, env.store, env.assets, clk, logger)
	env.serving = NewServingCache(env.cache, env.store, func(ref string) string {
		return env.assets.URLFor(ref, "0")
	}, clk, CacheOptions{}, logger)
	env.inv.OnCommit(env.serving.Hook())
	env.inv.OnCommit(func(_ context.Context, c Change) {
		env.mu.Lock()
		env.changes = append(env.changes, c)
		env.mu.Unlock()
	})

	env.admin = env.store.addUser("admin", models.RoleAdmin)
	env.sponsor = env.store.addUser("sponsor", models.RoleSponsor)
	env.rival = env.store.addUser("rival", models.RoleSponsor)
	env.reader = env.store.addUser("reader", models.RoleSubscriber)
	return env
}

func (env *testEnv) setToday(t *testing.T, today string) {
	t.Helper()
	d, err := models.ParseDate(today)
	require.NoError(t, err)
	env.now = d.Time().Add(12 * time.Hour)
}

func actorOf(u models.User) models.Actor { return models.Actor{ID: u.ID, Role: u.Role} }

func slotSpec(name string, numSlots int) SlotSpec {
	return SlotSpec{
		Name:        name,
		Description: "slot " + name,
		Price:       100,
		Width:       336,
		Height:      280,
		NumSlots:    numSlots,
		NumAutoFill: 1,
		AutoFill:    "<div>auto</div>",
	}
}

func (env *testEnv) createSlot(t *testing.T, name string, numSlots int) *models.AdSlot {
	t.Helper()
	s, err := env.inv.Slots.CreateSlot(context.Background(), slotSpec(name, numSlots))
	require.NoError(t, err)
	return s
}

func (env *testEnv) createPeriod(t *testing.T, slot *models.AdSlot, start string, months int) *models.AdPeriod {
	t.Helper()
	p, err := env.inv.Periods.CreatePeriod(context.Background(), env.sponsor.ID, slot.ID, start, months)
	require.NoError(t, err)
	return p
}

func materialSpec() MaterialSpec {
	return MaterialSpec{URL: "https://example.com/landing", Image: []byte("png-bytes")}
}

func (env *testEnv) changeKinds() []ChangeKind {
	env.mu.Lock()
	defer env.mu.Unlock()
	kinds := make([]ChangeKind, 0, len(env.changes))
	for _, c := range env.changes {
		kinds = append(kinds, c.Kind)
	}
	return kinds
}
