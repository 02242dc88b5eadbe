// Package poller keeps a section's cards fresh. While the section is
// initialized it listens for SystemTick and, on each tick, either refetches
// the cards or republishes the cached ones.
package poller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/shehryarbajwa/newtab-sections/internal/logging"
	"github.com/shehryarbajwa/newtab-sections/pkg/models"
)

// DefaultUpdateInterval is how long cached cards stay fresh
const DefaultUpdateInterval = 15 * time.Minute

var log = logging.ForComponent(logging.CompPoller)

// Source produces cards from a remote service
type Source interface {
	FetchCards(ctx context.Context) ([]models.Card, error)
}

// Section is the part of the section bridge the poller uses
type Section interface {
	AddCards(cards []models.Card, broadcast bool)
	OnInitialized(fn func()) func()
	OnUninitialized(fn func()) func()
	OnSystemTick(fn func(payload any)) func()
}

// Cache holds the last fetched cards. A nil Cards means nothing is cached.
type Cache struct {
	Cards       []models.Card
	LastUpdated time.Time
}

// Poller owns one cache and at most one tick subscription
type Poller struct {
	section  Section
	source   Source
	interval time.Duration
	now      func() time.Time

	mu         sync.Mutex
	cache      Cache
	active     bool
	generation uint64
	ctx        context.Context
	cancel     context.CancelFunc
	untick     func()
	lifecycle  []func()

	flights singleflight.Group
	wg      sync.WaitGroup
}

// Option configures a Poller
type Option func(*Poller)

// WithInterval sets how long cached cards stay fresh
func WithInterval(d time.Duration) Option {
	return func(p *Poller) { p.interval = d }
}

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(p *Poller) { p.now = now }
}

// New creates a poller. Call Start to attach it to the section.
func New(section Section, source Source, opts ...Option) *Poller {
	p := &Poller{
		section:  section,
		source:   source,
		interval: DefaultUpdateInterval,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start follows the section lifecycle. If the section is already
// initialized the poller becomes active immediately.
func (p *Poller) Start() {
	offUninit := p.section.OnUninitialized(p.deactivate)
	offInit := p.section.OnInitialized(p.activate)

	p.mu.Lock()
	p.lifecycle = append(p.lifecycle, offInit, offUninit)
	p.mu.Unlock()
}

// Stop detaches from the section and waits for in-flight fetches
func (p *Poller) Stop() {
	p.mu.Lock()
	lifecycle := p.lifecycle
	p.lifecycle = nil
	p.mu.Unlock()

	for _, off := range lifecycle {
		off()
	}
	p.deactivate()
	p.wg.Wait()
}

// Wait blocks until every fetch started so far has finished
func (p *Poller) Wait() {
	p.wg.Wait()
}

// Active reports whether the poller is subscribed to ticks
func (p *Poller) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Snapshot returns a copy of the cache
func (p *Poller) Snapshot() Cache {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := p.cache
	if c.Cards != nil {
		c.Cards = append([]models.Card{}, c.Cards...)
	}
	return c
}

func (p *Poller) activate() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.active {
		return
	}
	p.active = true
	p.generation++
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.untick = p.section.OnSystemTick(func(any) { p.Tick() })

	log.Info("poller_activated", slog.Uint64("generation", p.generation))
}

func (p *Poller) deactivate() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.active {
		return
	}
	p.active = false
	p.cancel()
	if p.untick != nil {
		p.untick()
		p.untick = nil
	}

	log.Info("poller_deactivated", slog.Uint64("generation", p.generation))
}

// Tick runs one refresh-and-publish step. Fetches run in the background so
// other events keep flowing while the request is in progress.
func (p *Poller) Tick() {
	p.mu.Lock()
	if !p.active {
		p.mu.Unlock()
		return
	}
	gen := p.generation
	ctx := p.ctx
	cached := p.cache.Cards
	stale := cached == nil || p.now().Sub(p.cache.LastUpdated) > p.interval
	p.mu.Unlock()

	if stale {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.refresh(ctx, gen)
		}()
		return
	}

	p.section.AddCards(cached, true)
}

// refresh fetches once per activation at a time; concurrent ticks join the
// fetch already in flight
func (p *Poller) refresh(ctx context.Context, gen uint64) {
	_, _, _ = p.flights.Do(fmt.Sprintf("refresh-%d", gen), func() (any, error) {
		// A flight that finished while this tick was starting already refreshed.
		p.mu.Lock()
		fresh := p.cache.Cards != nil && p.now().Sub(p.cache.LastUpdated) <= p.interval
		p.mu.Unlock()
		if fresh {
			return nil, nil
		}

		cards, err := p.source.FetchCards(ctx)

		p.mu.Lock()
		if !p.active || p.generation != gen {
			p.mu.Unlock()
			log.Debug("fetch_discarded", slog.Uint64("generation", gen))
			return nil, nil
		}
		if err != nil {
			cached := p.cache.Cards
			p.mu.Unlock()
			log.Warn("fetch_failed", slog.String("error", err.Error()), slog.Bool("cached", cached != nil))
			if cached != nil {
				p.section.AddCards(cached, true)
			}
			return nil, err
		}
		if cards == nil {
			cards = []models.Card{}
		}
		p.cache = Cache{Cards: cards, LastUpdated: p.now()}
		p.mu.Unlock()

		log.Info("cache_refreshed", slog.Int("cards", len(cards)))
		p.section.AddCards(cards, true)
		return nil, nil
	})
}
