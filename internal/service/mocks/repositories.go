package mocks

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/SergeiKhy/fairlink/internal/models"
	"github.com/SergeiKhy/fairlink/internal/repository"
)

// ErrStoreDown is returned by mocks switched into failure mode.
var ErrStoreDown = errors.New("store unavailable")

// MockLinkRepository implements repository.LinkRepository for testing
type MockLinkRepository struct {
	mu     sync.RWMutex
	links  map[int64]*models.Link
	nextID int64

	// LookupErr is returned by GetByShortKey when set
	LookupErr   error
	LookupCalls int
	LookupDelay time.Duration
}

func NewMockLinkRepository() *MockLinkRepository {
	return &MockLinkRepository{
		links:  make(map[int64]*models.Link),
		nextID: 1,
	}
}

func (m *MockLinkRepository) Create(ctx context.Context, link *models.Link) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, l := range m.links {
		if l.Domain == link.Domain && strings.EqualFold(l.ShortKey, link.ShortKey) {
			return repository.ErrKeyExists
		}
	}

	link.ID = m.nextID
	m.nextID++
	m.links[link.ID] = clone(link)
	return nil
}

func (m *MockLinkRepository) GetByID(ctx context.Context, id int64) (*models.Link, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	link, exists := m.links[id]
	if !exists {
		return nil, repository.ErrLinkNotFound
	}
	return clone(link), nil
}

func (m *MockLinkRepository) GetByShortKey(ctx context.Context, shortKey string) (*models.Link, error) {
	m.mu.Lock()
	m.LookupCalls++
	delay, lookupErr := m.LookupDelay, m.LookupErr
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if lookupErr != nil {
		return nil, lookupErr
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var found *models.Link
	for _, l := range m.links {
		if l.ShortKey != shortKey {
			continue
		}
		if found == nil || l.ID < found.ID {
			found = l
		}
	}
	if found == nil {
		return nil, repository.ErrLinkNotFound
	}
	return clone(found), nil
}

func (m *MockLinkRepository) ShortKeyTaken(ctx context.Context, domain, shortKey string, excludeID int64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, l := range m.links {
		if l.ID != excludeID && l.Domain == domain && strings.EqualFold(l.ShortKey, shortKey) {
			return true, nil
		}
	}
	return false, nil
}

func (m *MockLinkRepository) Update(ctx context.Context, link *models.Link) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.links[link.ID]; !exists {
		return repository.ErrLinkNotFound
	}
	link.UpdatedAt = time.Now().UTC()
	m.links[link.ID] = clone(link)
	return nil
}

func (m *MockLinkRepository) Delete(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.links[id]; !exists {
		return repository.ErrLinkNotFound
	}
	delete(m.links, id)
	return nil
}

func (m *MockLinkRepository) List(ctx context.Context, filter models.LinkFilter) ([]*models.Link, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Link
	for id := int64(1); id < m.nextID; id++ {
		l, ok := m.links[id]
		if !ok || (filter.OwnerID != "" && l.OwnerID != filter.OwnerID) {
			continue
		}
		out = append(out, clone(l))
	}
	return out, int64(len(out)), nil
}

func (m *MockLinkRepository) Lookups() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LookupCalls
}

func clone(l *models.Link) *models.Link {
	c := *l
	c.Destinations = append([]string(nil), l.Destinations...)
	return &c
}

// MockCacheRepository implements repository.CacheRepository for testing.
// Dedup markers ignore TTL; use miniredis when expiry matters.
type MockCacheRepository struct {
	mu      sync.RWMutex
	cache   map[string]*models.CachedLink
	visits  map[string]bool
	Fail    bool
	Deleted []string
	Sets    int
}

func NewMockCacheRepository() *MockCacheRepository {
	return &MockCacheRepository{
		cache:  make(map[string]*models.CachedLink),
		visits: make(map[string]bool),
	}
}

func (m *MockCacheRepository) GetLink(ctx context.Context, shortKey string) (*models.CachedLink, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.Fail {
		return nil, ErrStoreDown
	}
	link, exists := m.cache[shortKey]
	if !exists {
		return nil, repository.ErrCacheMiss
	}
	return link, nil
}

func (m *MockCacheRepository) SetLink(ctx context.Context, shortKey string, link *models.CachedLink, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Fail {
		return ErrStoreDown
	}
	m.Sets++
	m.cache[shortKey] = link
	return nil
}

func (m *MockCacheRepository) DeleteLink(ctx context.Context, shortKeys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Fail {
		return ErrStoreDown
	}
	for _, k := range shortKeys {
		m.Deleted = append(m.Deleted, k)
		delete(m.cache, k)
	}
	return nil
}

func (m *MockCacheRepository) MarkVisit(ctx context.Context, domain, shortKey, ip string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Fail {
		return false, ErrStoreDown
	}
	key := repository.VisitKey(domain, shortKey, ip)
	if m.visits[key] {
		return false, nil
	}
	m.visits[key] = true
	return true, nil
}

func (m *MockCacheRepository) Cached(shortKey string) (*models.CachedLink, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	link, ok := m.cache[shortKey]
	return link, ok
}

func (m *MockCacheRepository) SetFail(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Fail = fail
}

// MockBalanceRepository implements repository.BalanceRepository in memory
// with the same min-count, sequence tie-break rule as the Redis script.
type MockBalanceRepository struct {
	mu     sync.Mutex
	counts map[string]map[int]int64
	seq    map[string]int64
	Fail   bool
	Picks  int
	Resets []string
}

func NewMockBalanceRepository() *MockBalanceRepository {
	return &MockBalanceRepository{
		counts: make(map[string]map[int]int64),
		seq:    make(map[string]int64),
	}
}

func (m *MockBalanceRepository) Pick(ctx context.Context, domain, shortKey string, n int, ttl time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Picks++
	if m.Fail {
		return 0, ErrStoreDown
	}

	key := repository.BalanceKey(domain, shortKey)
	counts, ok := m.counts[key]
	if !ok {
		counts = make(map[int]int64)
		m.counts[key] = counts
	}

	var candidates []int
	var lowest int64
	for i := 0; i < n; i++ {
		c := counts[i]
		switch {
		case len(candidates) == 0 || c < lowest:
			lowest = c
			candidates = []int{i}
		case c == lowest:
			candidates = append(candidates, i)
		}
	}

	m.seq[key]++
	selected := candidates[(m.seq[key]-1)%int64(len(candidates))]
	counts[selected]++
	return selected, nil
}

func (m *MockBalanceRepository) Counts(ctx context.Context, domain, shortKey string, n int) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Fail {
		return nil, ErrStoreDown
	}
	out := make([]int64, n)
	for i := range out {
		out[i] = m.counts[repository.BalanceKey(domain, shortKey)][i]
	}
	return out, nil
}

func (m *MockBalanceRepository) Reset(ctx context.Context, domain, shortKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Fail {
		return ErrStoreDown
	}
	key := repository.BalanceKey(domain, shortKey)
	m.Resets = append(m.Resets, key)
	delete(m.counts, key)
	delete(m.seq, key)
	return nil
}

func (m *MockBalanceRepository) PickCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Picks
}

func (m *MockBalanceRepository) SetFail(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Fail = fail
}

// MockClickRepository implements repository.ClickRepository for testing
type MockClickRepository struct {
	mu     sync.RWMutex
	clicks []*models.Click
	Fail   bool
	Calls  int
}

func NewMockClickRepository() *MockClickRepository {
	return &MockClickRepository{}
}

func (m *MockClickRepository) RecordClick(ctx context.Context, click *models.Click) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls++
	if m.Fail {
		return ErrStoreDown
	}
	click.ID = int64(len(m.clicks) + 1)
	m.clicks = append(m.clicks, click)
	return nil
}

func (m *MockClickRepository) GetStats(ctx context.Context, linkID int64) (*models.ClickStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &models.ClickStats{LinkID: linkID}
	uniqueIPs := make(map[string]bool)
	for _, c := range m.clicks {
		if c.LinkID != linkID || c.IsBot {
			continue
		}
		stats.TotalClicks++
		uniqueIPs[c.IPAddress] = true
		if stats.LastClickAt == nil || c.ClickedAt.After(*stats.LastClickAt) {
			t := c.ClickedAt
			stats.LastClickAt = &t
		}
	}
	stats.UniqueClicks = int64(len(uniqueIPs))
	return stats, nil
}

func (m *MockClickRepository) GetDailyStats(ctx context.Context, linkID int64, days int) ([]models.DailyClickStats, error) {
	return []models.DailyClickStats{}, nil
}

func (m *MockClickRepository) GetDestinationStats(ctx context.Context, linkID int64) ([]models.DestinationClickStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byURL := make(map[string]int64)
	var order []string
	for _, c := range m.clicks {
		if c.LinkID != linkID || c.IsBot {
			continue
		}
		if _, ok := byURL[c.SelectedURL]; !ok {
			order = append(order, c.SelectedURL)
		}
		byURL[c.SelectedURL]++
	}

	out := make([]models.DestinationClickStats, 0, len(order))
	for _, u := range order {
		out = append(out, models.DestinationClickStats{URL: u, Clicks: byURL[u]})
	}
	return out, nil
}

func (m *MockClickRepository) Clicks() []*models.Click {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*models.Click(nil), m.clicks...)
}

func (m *MockClickRepository) SetFail(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Fail = fail
}

var (
	_ repository.LinkRepository    = (*MockLinkRepository)(nil)
	_ repository.CacheRepository   = (*MockCacheRepository)(nil)
	_ repository.BalanceRepository = (*MockBalanceRepository)(nil)
	_ repository.ClickRepository   = (*MockClickRepository)(nil)
)
