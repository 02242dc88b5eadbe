// Package bridge lets an extension own one new tab section. It keeps the
// section's options, forwards them to the host registry and turns registry
// notifications into per-extension lifecycle and action events.
//
// No operation fails because of ordering: calls made before the registry is
// initialized are deferred, and calls against a section that is not
// registered are dropped.
package bridge

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/shehryarbajwa/newtab-sections/internal/extension"
	"github.com/shehryarbajwa/newtab-sections/internal/logging"
	"github.com/shehryarbajwa/newtab-sections/internal/registry"
	"github.com/shehryarbajwa/newtab-sections/pkg/models"
)

var log = logging.ForComponent(logging.CompBridge)

// Host is the registry capability the bridge drives
type Host interface {
	Has(id string) bool
	Get(id string) (*models.Section, error)
	Add(id string, opts models.SectionOptions) error
	Update(id string, patch models.SectionPatch, broadcast bool) error
	Remove(id string)
	Enable(id string) error
	WhenInitialized(fn func())
	Subscribe(fn registry.Listener) func()
}

// Bridge connects one extension to the host registry
type Bridge struct {
	host Host
	ext  *extension.Extension
	id   string

	mu      sync.Mutex
	options models.SectionOptions
	closed  bool
	subs    map[int]func()
	nextSub int
}

// New builds the section options from the extension's manifest. Nothing is
// registered with the host until Enable.
func New(host Host, ext *extension.Extension) *Bridge {
	return &Bridge{
		host:    host,
		ext:     ext,
		id:      ext.ID,
		options: BuildOptions(DefaultOptions, ext.Overrides(), ext),
		subs:    make(map[int]func()),
	}
}

// ID is the section id, the owning extension's id
func (b *Bridge) ID() string { return b.id }

// Options returns a copy of the current section options
func (b *Bridge) Options() models.SectionOptions {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.options.Clone()
}

// SetTitle changes the section heading
func (b *Bridge) SetTitle(title string) {
	b.mutate(func(o *models.SectionOptions) { o.Title = title })
}

// SetIcon sets the section icon, resolved against the extension base URL
func (b *Bridge) SetIcon(icon string) {
	icon = resolveIcon(b.ext, icon)
	b.mutate(func(o *models.SectionOptions) { o.Icon = icon })
}

// SetMaxRows sets how many rows of cards the page shows
func (b *Bridge) SetMaxRows(rows int) {
	b.mutate(func(o *models.SectionOptions) { o.MaxRows = rows })
}

// SetEmptyState sets what the page shows when there are no cards
func (b *Bridge) SetEmptyState(state models.EmptyState) {
	b.mutate(func(o *models.SectionOptions) { o.EmptyState = state })
}

// SetInfoOption sets the info popup; nil removes it
func (b *Bridge) SetInfoOption(info any) {
	b.mutate(func(o *models.SectionOptions) { o.InfoOption = info })
}

// SetContextMenuOptions sets the card context menu entries; an empty slice
// leaves the menu empty
func (b *Bridge) SetContextMenuOptions(opts []models.ContextMenuOption) {
	if opts != nil {
		opts = append([]models.ContextMenuOption{}, opts...)
	}
	b.mutate(func(o *models.SectionOptions) { o.ContextMenuOptions = opts })
}

// ApplyOverrides re-merges reloaded manifest overrides onto the defaults,
// keeping the current rows, and pushes the result to the host
func (b *Bridge) ApplyOverrides(overrides extension.Overrides) {
	next := BuildOptions(DefaultOptions, overrides, b.ext)
	b.mutate(func(o *models.SectionOptions) {
		next.Rows = o.Rows
		*o = next
	})
}

// mutate changes the local record and asks the host to apply the full record
// once it is initialized
func (b *Bridge) mutate(fn func(*models.SectionOptions)) {
	b.mu.Lock()
	fn(&b.options)
	b.mu.Unlock()

	b.host.WhenInitialized(b.push)
}

// push sends every option except the rows, which only AddCards writes
func (b *Bridge) push() {
	opts := b.Options()
	err := b.host.Update(b.id, models.OptionsPatch(opts), true)
	if err != nil && !errors.Is(err, registry.ErrSectionNotFound) {
		log.Warn("section_update_failed", slog.String("section", b.id), slog.String("error", err.Error()))
	}
}

// Enable registers the section with the current options if needed and makes
// it visible, once the host is initialized. Repeated calls are harmless.
func (b *Bridge) Enable() {
	b.host.WhenInitialized(func() {
		if !b.host.Has(b.id) {
			if err := b.host.Add(b.id, b.Options()); err != nil && !errors.Is(err, registry.ErrSectionExists) {
				log.Warn("section_add_failed", slog.String("section", b.id), slog.String("error", err.Error()))
				return
			}
		}
		if err := b.host.Enable(b.id); err != nil {
			log.Debug("section_enable_skipped", slog.String("section", b.id), slog.String("error", err.Error()))
		}
	})
}

// Disable removes the section from the host if it is registered
func (b *Bridge) Disable() {
	if b.host.Has(b.id) {
		b.host.Remove(b.id)
	}
}

// AddCards replaces the section's rows. If the section is not registered the
// cards are dropped, not queued.
func (b *Bridge) AddCards(cards []models.Card, broadcast bool) {
	if !b.host.Has(b.id) {
		log.Debug("cards_dropped", slog.String("section", b.id), slog.Int("cards", len(cards)))
		return
	}

	rows := append([]models.Card{}, cards...)
	b.mu.Lock()
	b.options.Rows = rows
	b.mu.Unlock()

	if err := b.host.Update(b.id, models.SectionPatch{Rows: &rows}, broadcast); err != nil {
		log.Debug("cards_dropped", slog.String("section", b.id), slog.String("error", err.Error()))
	}
}

// Close is called on extension shutdown. The section is removed and every
// listener registered through this bridge is detached.
func (b *Bridge) Close() {
	b.host.Remove(b.id)

	b.mu.Lock()
	b.closed = true
	subs := b.subs
	b.subs = make(map[int]func())
	b.mu.Unlock()

	for _, unsub := range subs {
		unsub()
	}
}
