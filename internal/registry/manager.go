package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shehryarbajwa/newtab-sections/internal/logging"
	"github.com/shehryarbajwa/newtab-sections/pkg/models"
)

var (
	ErrSectionNotFound = errors.New("section not found")
	ErrSectionExists   = errors.New("section already registered")
)

var log = logging.ForComponent(logging.CompRegistry)

// Listener receives registry events
type Listener func(models.Event)

type listenerEntry struct {
	id int
	fn Listener
}

// Manager is the host's section registry. It keeps every registered section,
// runs callbacks queued until initialization, and notifies listeners of
// lifecycle and action events.
type Manager struct {
	mu          sync.Mutex
	sections    map[string]*models.Section
	nextOrder   int
	initialized bool
	pending     []func()
	listeners   []listenerEntry
	nextID      int
	now         func() time.Time
}

// NewManager creates an uninitialized registry
func NewManager() *Manager {
	return &Manager{
		sections: make(map[string]*models.Section),
		now:      time.Now,
	}
}

// Init marks the registry ready, runs queued callbacks in order and emits INIT
func (m *Manager) Init() {
	m.mu.Lock()
	if m.initialized {
		m.mu.Unlock()
		return
	}
	m.initialized = true
	pending := m.pending
	m.pending = nil
	m.mu.Unlock()

	log.Info("registry_initialized", slog.Int("pending", len(pending)))

	for _, fn := range pending {
		fn()
	}
	m.emit(models.Event{Kind: models.EventInit})
}

// Uninit tears the registry down: UNINIT is emitted and every section dropped
func (m *Manager) Uninit() {
	m.mu.Lock()
	if !m.initialized {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	m.emit(models.Event{Kind: models.EventUninit})

	m.mu.Lock()
	m.initialized = false
	m.sections = make(map[string]*models.Section)
	m.mu.Unlock()

	log.Info("registry_uninitialized")
}

// Initialized reports whether Init has run since the last Uninit
func (m *Manager) Initialized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initialized
}

// WhenInitialized runs fn now if the registry is initialized, otherwise once
// on the next Init. If Init never happens fn never runs.
func (m *Manager) WhenInitialized(fn func()) {
	m.mu.Lock()
	if !m.initialized {
		m.pending = append(m.pending, fn)
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	fn()
}

// Has reports whether a section is registered
func (m *Manager) Has(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sections[id]
	return ok
}

// Get returns a copy of a registered section
func (m *Manager) Get(id string) (*models.Section, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sections[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSectionNotFound, id)
	}
	return cloneSection(s), nil
}

// List returns copies of all sections in registration order, optionally only
// the enabled ones
func (m *Manager) List(enabledOnly bool) []*models.Section {
	m.mu.Lock()
	defer m.mu.Unlock()

	sections := make([]*models.Section, 0, len(m.sections))
	for _, s := range m.sections {
		if enabledOnly && !s.Enabled {
			continue
		}
		sections = append(sections, cloneSection(s))
	}
	sort.Slice(sections, func(i, j int) bool { return sections[i].Order < sections[j].Order })
	return sections
}

// Add registers a new, disabled section
func (m *Manager) Add(id string, opts models.SectionOptions) error {
	if id == "" {
		return fmt.Errorf("section id is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sections[id]; ok {
		return fmt.Errorf("%w: %s", ErrSectionExists, id)
	}
	m.nextOrder++
	m.sections[id] = &models.Section{
		ID:        id,
		Options:   opts.Clone(),
		Order:     m.nextOrder,
		UpdatedAt: m.now(),
	}
	log.Debug("section_added", slog.String("section", id))
	return nil
}

// Update applies a partial update. With broadcast set, UPDATE_SECTION is
// emitted so that open new tab pages re-render.
func (m *Manager) Update(id string, patch models.SectionPatch, broadcast bool) error {
	m.mu.Lock()
	s, ok := m.sections[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSectionNotFound, id)
	}
	patch.Apply(&s.Options)
	s.UpdatedAt = m.now()
	snapshot := cloneSection(s)
	m.mu.Unlock()

	if broadcast {
		m.emit(models.Event{Kind: models.EventUpdateSection, SectionID: id, Section: snapshot})
	}
	return nil
}

// Remove unregisters a section. Removing an enabled section emits
// DISABLE_SECTION. Unknown ids are ignored.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	s, ok := m.sections[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.sections, id)
	wasEnabled := s.Enabled
	m.mu.Unlock()

	log.Debug("section_removed", slog.String("section", id))
	if wasEnabled {
		m.emit(models.Event{Kind: models.EventDisableSection, SectionID: id})
	}
}

// Enable makes a section visible. ENABLE_SECTION is emitted only when the
// section was disabled.
func (m *Manager) Enable(id string) error {
	return m.setEnabled(id, true)
}

// Disable hides a section. DISABLE_SECTION is emitted only when the section
// was enabled.
func (m *Manager) Disable(id string) error {
	return m.setEnabled(id, false)
}

func (m *Manager) setEnabled(id string, enabled bool) error {
	m.mu.Lock()
	s, ok := m.sections[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSectionNotFound, id)
	}
	if s.Enabled == enabled {
		m.mu.Unlock()
		return nil
	}
	s.Enabled = enabled
	s.UpdatedAt = m.now()
	snapshot := cloneSection(s)
	m.mu.Unlock()

	kind := models.EventDisableSection
	if enabled {
		kind = models.EventEnableSection
	}
	m.emit(models.Event{Kind: kind, SectionID: id, Section: snapshot})
	return nil
}

// Dispatch sends an action to every section
func (m *Manager) Dispatch(action string, payload any) {
	m.emit(models.Event{Kind: models.EventActionDispatch, Action: action, Payload: payload})
}

// DispatchTo sends an action to one section
func (m *Manager) DispatchTo(id, action string, payload any) {
	m.emit(models.Event{Kind: models.EventActionDispatch, SectionID: id, Action: action, Payload: payload})
}

// Subscribe registers a listener and returns a func that removes it.
// Listeners run synchronously on the emitting goroutine with the registry
// unlocked, so they may call back into the Manager.
func (m *Manager) Subscribe(fn Listener) func() {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.listeners = append(m.listeners, listenerEntry{id: id, fn: fn})
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			for i, l := range m.listeners {
				if l.id == id {
					m.listeners = append(m.listeners[:i:i], m.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// ListenerCount returns the number of live listeners
func (m *Manager) ListenerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.listeners)
}

// RunTicker dispatches SystemTick every interval until ctx is done
func (m *Manager) RunTicker(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case t := <-ticker.C:
			m.Dispatch(models.ActionSystemTick, t.UnixMilli())
		}
	}
}

func (m *Manager) emit(ev models.Event) {
	m.mu.Lock()
	listeners := make([]Listener, len(m.listeners))
	for i, l := range m.listeners {
		listeners[i] = l.fn
	}
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(ev)
	}
}

func cloneSection(s *models.Section) *models.Section {
	c := *s
	c.Options = s.Options.Clone()
	return &c
}
