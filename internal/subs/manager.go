// Package subs maintains one device-event subscription per device of
// interest: two feeds (transport + rendering) whose events are rewritten
// into shared state. Establishment is retried with backoff and is never
// surfaced to clients; teardown is best-effort and bounded.
package subs

import (
	"context"
	"log"
	"sync"
	"time"

	"sonobridge/internal/driver"
	"sonobridge/internal/state"
)

const (
	maxAttempts   = 3
	backoffBase   = 500 * time.Millisecond
	cancelTimeout = 3 * time.Second
)

// Listener is implemented by drivers that run shared event-listening
// infrastructure worth stopping when nobody is subscribed.
type Listener interface {
	StopListener(ctx context.Context) error
}

type subscription struct {
	device    string
	transport driver.Feed
	rendering driver.Feed
	createdAt time.Time
}

type Manager struct {
	drv   driver.Driver
	store *state.Store

	backoff time.Duration

	mu      sync.Mutex
	subs    map[string]*subscription
	pending map[string]struct{}
}

func New(drv driver.Driver, st *state.Store) *Manager {
	return &Manager{
		drv:     drv,
		store:   st,
		backoff: backoffBase,
		subs:    make(map[string]*subscription),
		pending: make(map[string]struct{}),
	}
}

// Subscribed reports whether the device currently has an established
// subscription.
func (m *Manager) Subscribed(device string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.subs[device]
	return ok
}

// Len reports the number of established subscriptions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// Subscribe establishes both event feeds for a device, retrying up to
// maxAttempts with exponential backoff. A device already subscribed or
// mid-subscribe is a no-op. Failure is logged, never returned: a missing
// subscription degrades freshness, it is not a user-facing fault. Callers
// on a hot path should invoke this in its own goroutine; a full retry
// cycle can take several seconds.
func (m *Manager) Subscribe(ctx context.Context, device string) {
	m.mu.Lock()
	if _, ok := m.subs[device]; ok {
		m.mu.Unlock()
		return
	}
	if _, ok := m.pending[device]; ok {
		m.mu.Unlock()
		return
	}
	m.pending[device] = struct{}{}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.pending, device)
		m.mu.Unlock()
	}()

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(m.backoff << (attempt - 1)):
			}
		}
		transport, rendering, err := m.establish(ctx, device)
		if err != nil {
			log.Printf("subscribe %s attempt %d/%d: %v", device, attempt+1, maxAttempts, err)
			continue
		}

		sub := &subscription{
			device:    device,
			transport: transport,
			rendering: rendering,
			createdAt: time.Now(),
		}
		m.mu.Lock()
		m.subs[device] = sub
		m.mu.Unlock()

		go m.consumeTransport(sub)
		go m.consumeRendering(sub)
		return
	}
	log.Printf("subscribe %s: giving up after %d attempts", device, maxAttempts)
}

func (m *Manager) establish(ctx context.Context, device string) (transport, rendering driver.Feed, err error) {
	transport, err = m.drv.SubscribeTransport(ctx, device)
	if err != nil {
		return nil, nil, err
	}
	rendering, err = m.drv.SubscribeRendering(ctx, device)
	if err != nil {
		cancelFeed(device, transport)
		return nil, nil, err
	}
	return transport, rendering, nil
}

// Unsubscribe removes the device's entry first, so concurrent callers see
// it gone immediately, then cancels both feeds best-effort. Runs during
// teardown and must neither hang nor fail.
func (m *Manager) Unsubscribe(device string) {
	m.mu.Lock()
	sub, ok := m.subs[device]
	delete(m.subs, device)
	m.mu.Unlock()
	if !ok {
		return
	}
	cancelFeed(device, sub.transport)
	cancelFeed(device, sub.rendering)
}

// UnsubscribeAll drains the map and cancels every subscription. When
// stopListener is set and the driver runs shared listening infrastructure,
// that is stopped too.
func (m *Manager) UnsubscribeAll(stopListener bool) {
	m.mu.Lock()
	drained := m.subs
	m.subs = make(map[string]*subscription)
	m.mu.Unlock()

	for device, sub := range drained {
		cancelFeed(device, sub.transport)
		cancelFeed(device, sub.rendering)
	}

	if stopListener {
		if l, ok := m.drv.(Listener); ok {
			ctx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
			defer cancel()
			if err := l.StopListener(ctx); err != nil {
				log.Printf("stopping event listener: %v", err)
			}
		}
	}
}

// The apply methods check the event's device against the active one under
// the store's own lock, so an event from a previously active device can
// never clobber state, whatever the interleaving with a device switch.

func (m *Manager) consumeTransport(sub *subscription) {
	for ev := range sub.transport.Events() {
		m.store.ApplyTransportEvent(ev.Device, ev.Track, ev.Playing)
	}
}

func (m *Manager) consumeRendering(sub *subscription) {
	for ev := range sub.rendering.Events() {
		if !ev.HasVol {
			continue
		}
		if err := m.store.ApplyVolumeEvent(ev.Device, ev.Volume); err != nil {
			log.Printf("volume event from %s: %v", ev.Device, err)
		}
	}
}

// cancelFeed cancels with a bounded timeout and swallows the result; a
// device that vanished mid-teardown must not stall shutdown.
func cancelFeed(device string, f driver.Feed) {
	done := make(chan error, 1)
	go func() { done <- f.Cancel() }()
	select {
	case err := <-done:
		if err != nil {
			log.Printf("cancel feed for %s: %v", device, err)
		}
	case <-time.After(cancelTimeout):
		log.Printf("cancel feed for %s: timed out", device)
	}
}
