package poller

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shehryarbajwa/newtab-sections/internal/bridge"
	"github.com/shehryarbajwa/newtab-sections/internal/extension"
	"github.com/shehryarbajwa/newtab-sections/internal/registry"
	"github.com/shehryarbajwa/newtab-sections/internal/topstories"
	"github.com/shehryarbajwa/newtab-sections/pkg/models"
)

type published struct {
	cards     []models.Card
	broadcast bool
}

// fakeSection records AddCards calls and lets tests drive lifecycle events
type fakeSection struct {
	mu      sync.Mutex
	calls   []published
	nextID  int
	inits   map[int]func()
	uninits map[int]func()
	ticks   map[int]func(any)
	ready   bool
}

func newFakeSection() *fakeSection {
	return &fakeSection{
		inits:   map[int]func(){},
		uninits: map[int]func(){},
		ticks:   map[int]func(any){},
	}
}

func (s *fakeSection) AddCards(cards []models.Card, broadcast bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, published{cards: cards, broadcast: broadcast})
}

func (s *fakeSection) OnInitialized(fn func()) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.inits[id] = fn
	ready := s.ready
	s.mu.Unlock()
	if ready {
		fn()
	}
	return func() { s.mu.Lock(); delete(s.inits, id); s.mu.Unlock() }
}

func (s *fakeSection) OnUninitialized(fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.uninits[id] = fn
	return func() { s.mu.Lock(); delete(s.uninits, id); s.mu.Unlock() }
}

func (s *fakeSection) OnSystemTick(fn func(any)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.ticks[id] = fn
	return func() { s.mu.Lock(); delete(s.ticks, id); s.mu.Unlock() }
}

func (s *fakeSection) initialize() {
	s.mu.Lock()
	s.ready = true
	fns := make([]func(), 0, len(s.inits))
	for _, fn := range s.inits {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (s *fakeSection) teardown() {
	s.mu.Lock()
	s.ready = false
	fns := make([]func(), 0, len(s.uninits))
	for _, fn := range s.uninits {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (s *fakeSection) tick() {
	s.mu.Lock()
	fns := make([]func(any), 0, len(s.ticks))
	for _, fn := range s.ticks {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(time.Now().UnixMilli())
	}
}

func (s *fakeSection) tickListeners() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ticks)
}

func (s *fakeSection) published() []published {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]published(nil), s.calls...)
}

// fakeSource returns queued results. If gate is set each fetch waits on it.
type fakeSource struct {
	mu      sync.Mutex
	results [][]models.Card
	errs    []error
	calls   int
	gate    chan struct{}
}

func (f *fakeSource) FetchCards(ctx context.Context) ([]models.Card, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if n-1 < len(f.errs) && f.errs[n-1] != nil {
		return nil, f.errs[n-1]
	}
	if n-1 < len(f.results) {
		return f.results[n-1], nil
	}
	return []models.Card{}, nil
}

func (f *fakeSource) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

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

func cards(titles ...string) []models.Card {
	out := make([]models.Card, 0, len(titles))
	for _, t := range titles {
		out = append(out, models.Card{Title: t, URL: "https://example.com/" + t, Hostname: "example.com"})
	}
	return out
}

func newTestPoller(section Section, source Source) (*Poller, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)}
	return New(section, source, WithClock(clock.Now)), clock
}

func TestEmptyCacheTickFetchesAndPublishes(t *testing.T) {
	section := newFakeSection()
	source := &fakeSource{results: [][]models.Card{cards("a", "b", "c")}}
	p, clock := newTestPoller(section, source)
	p.Start()
	section.initialize()

	section.tick()
	p.Wait()

	assert.Equal(t, 1, source.count())
	snap := p.Snapshot()
	assert.Equal(t, cards("a", "b", "c"), snap.Cards)
	assert.Equal(t, clock.Now(), snap.LastUpdated)

	calls := section.published()
	require.Len(t, calls, 1)
	assert.Equal(t, cards("a", "b", "c"), calls[0].cards)
	assert.True(t, calls[0].broadcast)
}

func TestFreshCacheRepublishesWithoutFetch(t *testing.T) {
	section := newFakeSection()
	source := &fakeSource{results: [][]models.Card{cards("a", "b")}}
	p, clock := newTestPoller(section, source)
	p.Start()
	section.initialize()

	section.tick()
	p.Wait()
	first := p.Snapshot().LastUpdated

	clock.Advance(10 * time.Minute)
	section.tick()
	p.Wait()

	assert.Equal(t, 1, source.count())
	assert.Equal(t, first, p.Snapshot().LastUpdated)
	calls := section.published()
	require.Len(t, calls, 2)
	assert.Equal(t, cards("a", "b"), calls[1].cards)
	assert.True(t, calls[1].broadcast)
}

func TestStaleCacheRefetchesOnce(t *testing.T) {
	section := newFakeSection()
	source := &fakeSource{results: [][]models.Card{cards("old"), cards("new")}}
	p, clock := newTestPoller(section, source)
	p.Start()
	section.initialize()

	section.tick()
	p.Wait()

	clock.Advance(16 * time.Minute)
	section.tick()
	p.Wait()

	assert.Equal(t, 2, source.count())
	snap := p.Snapshot()
	assert.Equal(t, cards("new"), snap.Cards)
	assert.Equal(t, clock.Now(), snap.LastUpdated)

	calls := section.published()
	require.Len(t, calls, 2)
	assert.Equal(t, cards("new"), calls[1].cards)
	assert.True(t, calls[1].broadcast)
}

func TestExactlyIntervalIsStillFresh(t *testing.T) {
	section := newFakeSection()
	source := &fakeSource{results: [][]models.Card{cards("a")}}
	p, clock := newTestPoller(section, source)
	p.Start()
	section.initialize()

	section.tick()
	p.Wait()
	clock.Advance(DefaultUpdateInterval)
	section.tick()
	p.Wait()

	assert.Equal(t, 1, source.count())
}

func TestFetchFailureKeepsCacheAndRetries(t *testing.T) {
	section := newFakeSection()
	source := &fakeSource{
		results: [][]models.Card{cards("good"), nil, cards("better")},
		errs:    []error{nil, errors.New("boom"), nil},
	}
	p, clock := newTestPoller(section, source)
	p.Start()
	section.initialize()

	section.tick()
	p.Wait()
	good := p.Snapshot()

	clock.Advance(20 * time.Minute)
	section.tick()
	p.Wait()

	assert.Equal(t, good, p.Snapshot(), "failed refresh leaves the cache intact")
	calls := section.published()
	require.Len(t, calls, 2)
	assert.Equal(t, cards("good"), calls[1].cards, "existing cards are re-asserted")

	section.tick()
	p.Wait()
	assert.Equal(t, 3, source.count())
	assert.Equal(t, cards("better"), p.Snapshot().Cards)
}

func TestFailureWithEmptyCachePublishesNothing(t *testing.T) {
	section := newFakeSection()
	source := &fakeSource{errs: []error{errors.New("offline")}}
	p, _ := newTestPoller(section, source)
	p.Start()
	section.initialize()

	section.tick()
	p.Wait()

	assert.Nil(t, p.Snapshot().Cards)
	assert.Empty(t, section.published())
}

func TestTicksIgnoredWhileInactive(t *testing.T) {
	section := newFakeSection()
	source := &fakeSource{}
	p, _ := newTestPoller(section, source)
	p.Start()

	p.Tick()
	p.Wait()
	assert.Zero(t, source.count())
	assert.False(t, p.Active())
}

func TestNoDoubleSubscription(t *testing.T) {
	section := newFakeSection()
	p, _ := newTestPoller(section, &fakeSource{})
	p.Start()

	for i := 0; i < 2; i++ {
		section.initialize()
		section.initialize()
		assert.Equal(t, 1, section.tickListeners())
		section.teardown()
		assert.Zero(t, section.tickListeners())
	}
	section.initialize()
	assert.Equal(t, 1, section.tickListeners())

	p.Stop()
	assert.Zero(t, section.tickListeners())
}

func TestStartCatchesUpWhenAlreadyInitialized(t *testing.T) {
	section := newFakeSection()
	section.initialize()

	p, _ := newTestPoller(section, &fakeSource{})
	p.Start()
	assert.True(t, p.Active())
	assert.Equal(t, 1, section.tickListeners())
}

func TestInFlightFetchDiscardedAfterUninit(t *testing.T) {
	section := newFakeSection()
	gate := make(chan struct{})
	source := &fakeSource{results: [][]models.Card{cards("late")}, gate: gate}
	p, _ := newTestPoller(section, source)
	p.Start()
	section.initialize()

	section.tick()
	require.Eventually(t, func() bool { return source.count() == 1 }, time.Second, time.Millisecond)

	section.teardown()
	close(gate)
	p.Wait()

	assert.Nil(t, p.Snapshot().Cards)
	assert.Empty(t, section.published())
}

func TestConcurrentTicksShareOneFetch(t *testing.T) {
	section := newFakeSection()
	gate := make(chan struct{})
	source := &fakeSource{results: [][]models.Card{cards("a")}, gate: gate}
	p, _ := newTestPoller(section, source)
	p.Start()
	section.initialize()

	section.tick()
	require.Eventually(t, func() bool { return source.count() == 1 }, time.Second, time.Millisecond)
	section.tick()
	section.tick()

	close(gate)
	p.Wait()

	assert.Equal(t, 1, source.count())
	assert.Len(t, section.published(), 1)
}

func TestPollerWithBridgeAndTopStories(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"results":[
			{"title":"One","abstract":"a1","url":"https://nyt/1","multimedia":[
				{"type":"image","width":150,"url":"https://img/150"},
				{"type":"image","width":320,"url":"https://img/320"},
				{"type":"image","width":280,"url":"https://img/280"}]},
			{"title":"Two","abstract":"a2","url":"https://nyt/2"},
			{"title":"Three","abstract":"a3","url":"https://nyt/3"}
		]}`)
	}))
	defer srv.Close()

	host := registry.NewManager()
	ext, err := extension.New("topstories@example.com", nil)
	require.NoError(t, err)
	b := bridge.New(host, ext)

	var updates []*models.Section
	var mu sync.Mutex
	host.Subscribe(func(ev models.Event) {
		if ev.Kind == models.EventUpdateSection {
			mu.Lock()
			updates = append(updates, ev.Section)
			mu.Unlock()
		}
	})

	source := topstories.NewClient("key", topstories.WithEndpoint(srv.URL), topstories.WithRateLimit(0))
	p := New(b, source)
	p.Start()
	b.Enable()
	host.Init()
	require.True(t, p.Active())

	host.Dispatch(models.ActionSystemTick, nil)
	p.Wait()

	snap := p.Snapshot()
	require.Len(t, snap.Cards, 3)
	assert.Equal(t, "https://img/280", snap.Cards[0].Image)
	assert.Equal(t, topstories.Hostname, snap.Cards[0].Hostname)

	mu.Lock()
	require.Len(t, updates, 1)
	assert.Equal(t, snap.Cards, updates[0].Options.Rows)
	mu.Unlock()

	// one lifecycle pair plus one tick listener, across re-enables
	listeners := host.ListenerCount()
	for i := 0; i < 2; i++ {
		b.Disable()
		assert.False(t, p.Active())
		b.Enable()
		assert.True(t, p.Active())
	}
	assert.Equal(t, listeners, host.ListenerCount())

	p.Stop()
	b.Close()
	assert.Equal(t, 1, host.ListenerCount(), "only the test's own listener remains")
}
