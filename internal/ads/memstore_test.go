package ads

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/itranswarp/backend/internal/models"
	"github.com/itranswarp/backend/pkg/apperr"
)

type memState struct {
	slots     map[uuid.UUID]models.AdSlot
	periods   map[uuid.UUID]models.AdPeriod
	materials map[uuid.UUID]models.AdMaterial
	users     map[uuid.UUID]models.User
	seq       int
}

func (s *memState) clone() *memState {
	c := &memState{
		slots:     make(map[uuid.UUID]models.AdSlot, len(s.slots)),
		periods:   make(map[uuid.UUID]models.AdPeriod, len(s.periods)),
		materials: make(map[uuid.UUID]models.AdMaterial, len(s.materials)),
		users:     s.users,
		seq:       s.seq,
	}
	for k, v := range s.slots {
		c.slots[k] = v
	}
	for k, v := range s.periods {
		c.periods[k] = v
	}
	for k, v := range s.materials {
		c.materials[k] = v
	}
	return c
}

// memStore is an in-memory Store. Transactions run one at a time on a copy
// of the state that replaces it on commit.
type memStore struct {
	mu      sync.RWMutex
	st      *memState
	failTx  error
	txCount int
}

func newMemStore() *memStore {
	return &memStore{st: &memState{
		slots:     map[uuid.UUID]models.AdSlot{},
		periods:   map[uuid.UUID]models.AdPeriod{},
		materials: map[uuid.UUID]models.AdMaterial{},
		users:     map[uuid.UUID]models.User{},
	}}
}

func (s *memStore) q() *memQueries { return &memQueries{st: func() *memState { return s.st }, mu: &s.mu} }

func (s *memStore) InTx(ctx context.Context, fn func(q Queries) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txCount++
	if s.failTx != nil {
		return s.failTx
	}
	work := s.st.clone()
	if err := fn(&memQueries{st: func() *memState { return work }}); err != nil {
		return err
	}
	s.st = work
	return nil
}

// addUser registers an account for the user directory.
func (s *memStore) addUser(name string, role models.Role) models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := models.User{ID: uuid.New(), Email: name + "@example.com", Name: name, Role: role}
	s.st.users[u.ID] = u
	return u
}

func (s *memStore) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.st.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (s *memStore) ListSlots(ctx context.Context) ([]models.AdSlot, error) { return s.q().ListSlots(ctx) }
func (s *memStore) GetSlot(ctx context.Context, id uuid.UUID) (*models.AdSlot, error) {
	return s.q().GetSlot(ctx, id)
}
func (s *memStore) LockSlot(ctx context.Context, id uuid.UUID) (*models.AdSlot, error) {
	return s.q().LockSlot(ctx, id)
}
func (s *memStore) SlotExists(ctx context.Context, name, alias string, excludeID uuid.UUID) (bool, bool, error) {
	return s.q().SlotExists(ctx, name, alias, excludeID)
}
func (s *memStore) InsertSlot(ctx context.Context, sl *models.AdSlot) error {
	return s.q().InsertSlot(ctx, sl)
}
func (s *memStore) UpdateSlot(ctx context.Context, sl *models.AdSlot) error {
	return s.q().UpdateSlot(ctx, sl)
}
func (s *memStore) DeleteSlot(ctx context.Context, id uuid.UUID) error { return s.q().DeleteSlot(ctx, id) }
func (s *memStore) ListPeriods(ctx context.Context, f PeriodFilter) ([]models.AdPeriod, error) {
	return s.q().ListPeriods(ctx, f)
}
func (s *memStore) GetPeriod(ctx context.Context, id uuid.UUID) (*models.AdPeriod, error) {
	return s.q().GetPeriod(ctx, id)
}
func (s *memStore) LockPeriod(ctx context.Context, id uuid.UUID) (*models.AdPeriod, error) {
	return s.q().LockPeriod(ctx, id)
}
func (s *memStore) CountPeriods(ctx context.Context, f PeriodFilter) (int, error) {
	return s.q().CountPeriods(ctx, f)
}
func (s *memStore) MaxDisplayOrder(ctx context.Context) (int64, bool, error) {
	return s.q().MaxDisplayOrder(ctx)
}
func (s *memStore) InsertPeriod(ctx context.Context, p *models.AdPeriod) error {
	return s.q().InsertPeriod(ctx, p)
}
func (s *memStore) UpdatePeriodEnd(ctx context.Context, p *models.AdPeriod) error {
	return s.q().UpdatePeriodEnd(ctx, p)
}
func (s *memStore) DeletePeriod(ctx context.Context, id uuid.UUID) error {
	return s.q().DeletePeriod(ctx, id)
}
func (s *memStore) ListMaterials(ctx context.Context, f MaterialFilter) ([]models.AdMaterial, error) {
	return s.q().ListMaterials(ctx, f)
}
func (s *memStore) GetMaterial(ctx context.Context, id uuid.UUID) (*models.AdMaterial, error) {
	return s.q().GetMaterial(ctx, id)
}
func (s *memStore) CountMaterials(ctx context.Context, periodID uuid.UUID) (int, error) {
	return s.q().CountMaterials(ctx, periodID)
}
func (s *memStore) InsertMaterial(ctx context.Context, m *models.AdMaterial) error {
	return s.q().InsertMaterial(ctx, m)
}
func (s *memStore) DeleteMaterial(ctx context.Context, id uuid.UUID) error {
	return s.q().DeleteMaterial(ctx, id)
}
func (s *memStore) DeleteMaterialsByPeriod(ctx context.Context, periodID uuid.UUID) ([]string, error) {
	return s.q().DeleteMaterialsByPeriod(ctx, periodID)
}

// memQueries implements Queries over a state. mu is nil inside a transaction.
type memQueries struct {
	st func() *memState
	mu *sync.RWMutex
}

func (q *memQueries) read() func() {
	if q.mu == nil {
		return func() {}
	}
	q.mu.RLock()
	return q.mu.RUnlock
}

func (q *memQueries) write() func() {
	if q.mu == nil {
		return func() {}
	}
	q.mu.Lock()
	return q.mu.Unlock
}

var baseTime = time.Date(2017, 1, 1, 0, 0, 0, 0, time.UTC)

func (q *memQueries) stamp() time.Time {
	st := q.st()
	st.seq++
	return baseTime.Add(time.Duration(st.seq) * time.Second)
}

func (q *memQueries) ListSlots(context.Context) ([]models.AdSlot, error) {
	defer q.read()()
	var list []models.AdSlot
	for _, s := range q.st().slots {
		list = append(list, s)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list, nil
}

func (q *memQueries) GetSlot(_ context.Context, id uuid.UUID) (*models.AdSlot, error) {
	defer q.read()()
	s, ok := q.st().slots[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (q *memQueries) LockSlot(ctx context.Context, id uuid.UUID) (*models.AdSlot, error) {
	return q.GetSlot(ctx, id)
}

func (q *memQueries) SlotExists(_ context.Context, name, alias string, excludeID uuid.UUID) (bool, bool, error) {
	defer q.read()()
	var nameTaken, aliasTaken bool
	for _, s := range q.st().slots {
		if s.ID == excludeID {
			continue
		}
		nameTaken = nameTaken || s.Name == name
		aliasTaken = aliasTaken || s.Alias == alias
	}
	return nameTaken, aliasTaken, nil
}

func (q *memQueries) InsertSlot(_ context.Context, s *models.AdSlot) error {
	defer q.write()()
	s.CreatedAt = q.stamp()
	s.UpdatedAt = s.CreatedAt
	q.st().slots[s.ID] = *s
	return nil
}

func (q *memQueries) UpdateSlot(_ context.Context, s *models.AdSlot) error {
	defer q.write()()
	cur, ok := q.st().slots[s.ID]
	if !ok || cur.Version != s.Version {
		return apperr.Conflict("version", "AdSlot was modified concurrently.")
	}
	s.Version++
	s.UpdatedAt = q.stamp()
	q.st().slots[s.ID] = *s
	return nil
}

func (q *memQueries) DeleteSlot(_ context.Context, id uuid.UUID) error {
	defer q.write()()
	delete(q.st().slots, id)
	return nil
}

func matchPeriod(p models.AdPeriod, f PeriodFilter) bool {
	if f.SlotID != nil && p.SlotID != *f.SlotID {
		return false
	}
	if f.SponsorID != nil && p.SponsorID != *f.SponsorID {
		return false
	}
	if f.ActiveOn != "" && !p.IsActive(f.ActiveOn) {
		return false
	}
	if f.UnexpiredOn != "" && p.IsExpired(f.UnexpiredOn) {
		return false
	}
	return true
}

func (q *memQueries) withName(p models.AdPeriod) models.AdPeriod {
	p.SponsorName = q.st().users[p.SponsorID].Name
	return p
}

func (q *memQueries) ListPeriods(_ context.Context, f PeriodFilter) ([]models.AdPeriod, error) {
	defer q.read()()
	var list []models.AdPeriod
	for _, p := range q.st().periods {
		if matchPeriod(p, f) {
			list = append(list, q.withName(p))
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].DisplayOrder != list[j].DisplayOrder {
			return list[i].DisplayOrder < list[j].DisplayOrder
		}
		return list[i].ID.String() < list[j].ID.String()
	})
	return list, nil
}

func (q *memQueries) GetPeriod(_ context.Context, id uuid.UUID) (*models.AdPeriod, error) {
	defer q.read()()
	p, ok := q.st().periods[id]
	if !ok {
		return nil, nil
	}
	p = q.withName(p)
	return &p, nil
}

func (q *memQueries) LockPeriod(ctx context.Context, id uuid.UUID) (*models.AdPeriod, error) {
	return q.GetPeriod(ctx, id)
}

func (q *memQueries) CountPeriods(_ context.Context, f PeriodFilter) (int, error) {
	defer q.read()()
	n := 0
	for _, p := range q.st().periods {
		if matchPeriod(p, f) {
			n++
		}
	}
	return n, nil
}

func (q *memQueries) MaxDisplayOrder(context.Context) (int64, bool, error) {
	defer q.read()()
	var max int64
	ok := false
	for _, p := range q.st().periods {
		if !ok || p.DisplayOrder > max {
			max, ok = p.DisplayOrder, true
		}
	}
	return max, ok, nil
}

func (q *memQueries) InsertPeriod(_ context.Context, p *models.AdPeriod) error {
	defer q.write()()
	if _, ok := q.st().slots[p.SlotID]; !ok {
		return errors.New("foreign key violation: adslot_id")
	}
	p.CreatedAt = q.stamp()
	p.UpdatedAt = p.CreatedAt
	stored := *p
	stored.SponsorName = ""
	q.st().periods[p.ID] = stored
	return nil
}

func (q *memQueries) UpdatePeriodEnd(_ context.Context, p *models.AdPeriod) error {
	defer q.write()()
	cur, ok := q.st().periods[p.ID]
	if !ok || cur.Version != p.Version {
		return apperr.Conflict("version", "AdPeriod was modified concurrently.")
	}
	cur.EndAt = p.EndAt
	cur.Version++
	cur.UpdatedAt = q.stamp()
	q.st().periods[p.ID] = cur
	p.Version, p.UpdatedAt = cur.Version, cur.UpdatedAt
	return nil
}

func (q *memQueries) DeletePeriod(_ context.Context, id uuid.UUID) error {
	defer q.write()()
	for _, m := range q.st().materials {
		if m.PeriodID == id {
			return fmt.Errorf("foreign key violation: period %s still has materials", id)
		}
	}
	delete(q.st().periods, id)
	return nil
}

func (q *memQueries) ListMaterials(_ context.Context, f MaterialFilter) ([]models.AdMaterial, error) {
	defer q.read()()
	in := make(map[uuid.UUID]bool, len(f.PeriodIDs))
	for _, id := range f.PeriodIDs {
		in[id] = true
	}
	var list []models.AdMaterial
	for _, m := range q.st().materials {
		if f.PeriodID != nil && m.PeriodID != *f.PeriodID {
			continue
		}
		if len(in) > 0 && !in[m.PeriodID] {
			continue
		}
		if f.SponsorID != nil && m.SponsorID != *f.SponsorID {
			continue
		}
		list = append(list, m)
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.Before(list[j].CreatedAt)
		}
		return list[i].ID.String() < list[j].ID.String()
	})
	return list, nil
}

func (q *memQueries) GetMaterial(_ context.Context, id uuid.UUID) (*models.AdMaterial, error) {
	defer q.read()()
	m, ok := q.st().materials[id]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (q *memQueries) CountMaterials(_ context.Context, periodID uuid.UUID) (int, error) {
	defer q.read()()
	n := 0
	for _, m := range q.st().materials {
		if m.PeriodID == periodID {
			n++
		}
	}
	return n, nil
}

func (q *memQueries) InsertMaterial(_ context.Context, m *models.AdMaterial) error {
	defer q.write()()
	m.CreatedAt = q.stamp()
	q.st().materials[m.ID] = *m
	return nil
}

func (q *memQueries) DeleteMaterial(_ context.Context, id uuid.UUID) error {
	defer q.write()()
	delete(q.st().materials, id)
	return nil
}

func (q *memQueries) DeleteMaterialsByPeriod(_ context.Context, periodID uuid.UUID) ([]string, error) {
	defer q.write()()
	var refs []string
	for id, m := range q.st().materials {
		if m.PeriodID == periodID {
			refs = append(refs, m.CoverRef)
			delete(q.st().materials, id)
		}
	}
	sort.Strings(refs)
	return refs, nil
}

// memAssets is an in-memory AttachmentStore.
type memAssets struct {
	mu        sync.Mutex
	stored    map[string][]byte
	released  []string
	failStore error
}

func newMemAssets() *memAssets { return &memAssets{stored: map[string][]byte{}} }

func (a *memAssets) Store(_ context.Context, data []byte, _ AssetMeta) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failStore != nil {
		return "", a.failStore
	}
	ref := uuid.NewString() + ".png"
	a.stored[ref] = data
	return ref, nil
}

func (a *memAssets) Release(_ context.Context, ref string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.stored, ref)
	a.released = append(a.released, ref)
	return nil
}

func (a *memAssets) URLFor(ref, size string) string { return "/files/attachments/" + ref + "/" + size }

func (a *memAssets) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.stored)
}

// memCache is an in-memory CacheStore.
type memCache struct {
	mu         sync.Mutex
	data       map[string][]byte
	sets       int
	deletes    int
	failDelete int
	// beforeSet runs outside the lock before each Set stores its value.
	beforeSet func()
}

func newMemCache() *memCache { return &memCache{data: map[string][]byte{}} }

func (c *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	if c.beforeSet != nil {
		c.beforeSet()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets++
	c.data[key] = value
	return nil
}

func (c *memCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deletes++
	if c.failDelete > 0 {
		c.failDelete--
		return errors.New("cache: connection reset")
	}
	delete(c.data, key)
	return nil
}

func (c *memCache) Incr(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int64
	if v, ok := c.data[key]; ok {
		parsed, err := strconv.ParseInt(string(v), 10, 64)
		if err != nil {
			return 0, err
		}
		n = parsed
	}
	n++
	c.data[key] = []byte(strconv.FormatInt(n, 10))
	return n, nil
}
