package bridge

import (
	"sync"

	"github.com/shehryarbajwa/newtab-sections/pkg/models"
)

// OnInitialized calls fn each time the section becomes enabled. If the
// section is already enabled, fn is also called before OnInitialized returns.
// An enable that lands while subscribing is reported once, not twice.
func (b *Bridge) OnInitialized(fn func()) func() {
	var mu sync.Mutex
	settled, sawEnable := false, false

	unsub := b.subscribe(func(ev models.Event) {
		if ev.Kind != models.EventEnableSection || ev.SectionID != b.id {
			return
		}
		mu.Lock()
		if !settled {
			sawEnable = true
		}
		mu.Unlock()
		fn()
	})

	// Catch up late subscribers. The listener above is already live.
	s, err := b.host.Get(b.id)
	enabled := err == nil && s.Enabled

	mu.Lock()
	settled = true
	reported := sawEnable
	mu.Unlock()

	if enabled && !reported {
		fn()
	}
	return unsub
}

// OnUninitialized calls fn when the enabled section is disabled or removed,
// or when the registry is torn down while the section is enabled.
func (b *Bridge) OnUninitialized(fn func()) func() {
	return b.subscribe(func(ev models.Event) {
		switch ev.Kind {
		case models.EventDisableSection:
			if ev.SectionID == b.id {
				fn()
			}
		case models.EventUninit:
			// UNINIT is emitted before the registry drops its sections.
			if s, err := b.host.Get(b.id); err == nil && s.Enabled {
				fn()
			}
		}
	})
}

// OnAction calls fn for every action dispatched to all sections or to this one
func (b *Bridge) OnAction(fn func(action string, payload any)) func() {
	return b.subscribe(func(ev models.Event) {
		if ev.Kind != models.EventActionDispatch {
			return
		}
		if ev.SectionID != "" && ev.SectionID != b.id {
			return
		}
		fn(ev.Action, ev.Payload)
	})
}

// OnActionName calls fn with the payload of every matching action
func (b *Bridge) OnActionName(action string, fn func(payload any)) func() {
	return b.OnAction(func(name string, payload any) {
		if name == action {
			fn(payload)
		}
	})
}

// OnSystemTick calls fn on every SystemTick action
func (b *Bridge) OnSystemTick(fn func(payload any)) func() {
	return b.OnActionName(models.ActionSystemTick, fn)
}

// OnNewTabOpened calls fn each time a new tab page opens
func (b *Bridge) OnNewTabOpened(fn func(payload any)) func() {
	return b.OnActionName(models.ActionNewTabOpened, fn)
}

// subscribe registers with the host and tracks the subscription so Close can
// detach it. After Close it registers nothing.
func (b *Bridge) subscribe(fn func(models.Event)) func() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return func() {}
	}
	b.nextSub++
	key := b.nextSub
	b.mu.Unlock()

	unsub := b.host.Subscribe(fn)

	b.mu.Lock()
	b.subs[key] = unsub
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		_, live := b.subs[key]
		delete(b.subs, key)
		b.mu.Unlock()
		if live {
			unsub()
		}
	}
}
