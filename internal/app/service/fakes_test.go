package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sifan077/LinkSwift/internal/app/model"
	"github.com/sifan077/LinkSwift/internal/app/repository"
	"golang.org/x/crypto/bcrypt"
)

// memoryLinks is an in-memory LinkRepository with the same arbitration rules as the
// SQL one: unique keys on insert and compare-and-set handshake consumption.
type memoryLinks struct {
	mu    sync.Mutex
	links map[string]model.Link

	getCalls int
	getErr   error
	createFn func(link *model.Link) error
}

func newMemoryLinks() *memoryLinks {
	return &memoryLinks{links: make(map[string]model.Link)}
}

func (m *memoryLinks) put(link model.Link) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links[link.Key] = link
}

func (m *memoryLinks) get(key string) (model.Link, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	link, ok := m.links[key]
	return link, ok
}

func (m *memoryLinks) gets() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getCalls
}

func (m *memoryLinks) Create(_ context.Context, link *model.Link) error {
	if m.createFn != nil {
		if err := m.createFn(link); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.links[link.Key]; ok {
		return repository.ErrDuplicateKey
	}
	link.CreatedAt = time.Now().UTC()
	link.UpdatedAt = link.CreatedAt
	m.links[link.Key] = *link
	return nil
}

func (m *memoryLinks) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.links[key]
	return ok, nil
}

func (m *memoryLinks) GetByKey(_ context.Context, key string) (*model.Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	if m.getErr != nil {
		return nil, m.getErr
	}
	link, ok := m.links[key]
	if !ok {
		return nil, repository.ErrLinkNotFound
	}
	return &link, nil
}

func (m *memoryLinks) ListByOwner(_ context.Context, ownerID string, limit, offset int) ([]model.Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var owned []model.Link
	for _, link := range m.links {
		if link.OwnedBy(ownerID) {
			owned = append(owned, link)
		}
	}
	sort.Slice(owned, func(i, j int) bool { return owned[i].Key < owned[j].Key })
	if offset >= len(owned) {
		return nil, nil
	}
	owned = owned[offset:]
	if limit > 0 && len(owned) > limit {
		owned = owned[:limit]
	}
	return owned, nil
}

func (m *memoryLinks) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.links[key]; !ok {
		return repository.ErrLinkNotFound
	}
	delete(m.links, key)
	return nil
}

func (m *memoryLinks) RecordClick(_ context.Context, key string, click repository.ClickUpdate) (*model.Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	link, ok := m.links[key]
	if !ok {
		return nil, repository.ErrLinkNotFound
	}
	link.ApplyClick(click.Day, click.IP, click.RecentLimit)
	m.links[key] = link
	return &link, nil
}

func (m *memoryLinks) ConsumeHandshake(_ context.Context, key, token string, now time.Time) (*model.Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	link, ok := m.links[key]
	if !ok || link.Access != model.AccessHandshake || link.HandshakeToken == nil || *link.HandshakeToken != token {
		return nil, repository.ErrLinkNotFound
	}
	if link.HandshakeConsumed {
		return nil, repository.ErrHandshakeConsumed
	}
	if link.Expired(now) {
		return nil, repository.ErrLinkExpired
	}
	link.HandshakeConsumed = true
	m.links[key] = link
	return &link, nil
}

func (m *memoryLinks) DeleteExpired(_ context.Context, now time.Time, limit int) ([]model.Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed []model.Link
	for key, link := range m.links {
		if len(removed) == limit {
			break
		}
		if link.Expired(now) {
			removed = append(removed, link)
			delete(m.links, key)
		}
	}
	return removed, nil
}

func (m *memoryLinks) ActiveKeys(_ context.Context, now time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for key, link := range m.links {
		if !link.Expired(now) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// memoryCache is an in-memory LinkCache. Setting err makes every call fail as if
// Redis were unreachable.
type memoryCache struct {
	mu         sync.Mutex
	entries    map[string]model.CachedLink
	ttls       map[string]time.Duration
	handshakes map[string]model.CachedLink
	markers    map[string]bool
	err        error
}

func newMemoryCache() *memoryCache {
	return &memoryCache{
		entries:    make(map[string]model.CachedLink),
		ttls:       make(map[string]time.Duration),
		handshakes: make(map[string]model.CachedLink),
		markers:    make(map[string]bool),
	}
}

func (c *memoryCache) entry(key string) (model.CachedLink, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return e, ok
}

func (c *memoryCache) ttl(key string) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ttls[key]
}

func (c *memoryCache) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

func (c *memoryCache) Get(_ context.Context, key string) (*model.CachedLink, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	e, ok := c.entries[key]
	if !ok {
		return nil, repository.ErrCacheMiss
	}
	return &e, nil
}

func (c *memoryCache) Set(_ context.Context, entry model.CachedLink, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	if ttl <= 0 {
		return nil
	}
	c.entries[entry.Key] = entry
	c.ttls[entry.Key] = ttl
	return nil
}

func (c *memoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	delete(c.entries, key)
	delete(c.ttls, key)
	return nil
}

func (c *memoryCache) SetHandshake(_ context.Context, token string, entry model.CachedLink, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	if ttl <= 0 {
		return nil
	}
	c.handshakes[entry.Key+":"+token] = entry
	return nil
}

func (c *memoryCache) TakeHandshake(_ context.Context, key, token string) (*model.CachedLink, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	e, ok := c.handshakes[key+":"+token]
	if !ok {
		return nil, repository.ErrCacheMiss
	}
	delete(c.handshakes, key+":"+token)
	return &e, nil
}

func (c *memoryCache) MarkClick(_ context.Context, key, ip string, _ time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return false, c.err
	}
	marker := key + ":" + ip
	if c.markers[marker] {
		return false, nil
	}
	c.markers[marker] = true
	return true, nil
}

// expireMarkers simulates the debounce window elapsing.
func (c *memoryCache) expireMarkers() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markers = make(map[string]bool)
}

func (c *memoryCache) Ping(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.ClickEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, event model.ClickEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) published() []model.ClickEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.ClickEvent(nil), p.events...)
}

// sequenceKeys hands out the given keys in order, then repeats the last one.
type sequenceKeys struct {
	mu   sync.Mutex
	keys []string
	next int
}

func (s *sequenceKeys) Generate() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.next
	if i >= len(s.keys) {
		i = len(s.keys) - 1
	}
	s.next++
	return s.keys[i]
}

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testHasher() PasswordHasher {
	return NewBcryptHasher(bcrypt.MinCost)
}

func strPtr(s string) *string { return &s }

func boolPtr(b bool) *bool { return &b }
