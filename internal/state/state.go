// Package state is the shared view every client sees: volume, the device
// fleet, the active device, its favorites, and the now-playing snapshot.
// Every mutation is followed by exactly one broadcast of the changed field.
package state

import (
	"errors"
	"sync"

	"sonobridge/internal/hub"
	"sonobridge/internal/models"
)

var (
	ErrInvalidVolume = errors.New("invalid volume")
	ErrUnknownDevice = errors.New("device not found")
)

// Store holds the process-wide shared state. Setters validate, mutate under
// the lock, and enqueue a broadcast; they return before delivery completes.
type Store struct {
	hub *hub.Hub

	mu        sync.Mutex
	volume    int
	devices   []string
	active    string
	favorites []models.Favorite
	track     *models.TrackInfo
	playing   bool

	sendMu sync.Mutex
	closed bool
	queue  chan models.Event
	done   chan struct{}
}

func New(h *hub.Hub) *Store {
	s := &Store{
		hub:    h,
		volume: 50,
		queue:  make(chan models.Event, 128),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

// Close stops the broadcast worker after draining queued events. Mutations
// arriving afterwards (a straggling device callback during teardown) are
// dropped rather than panicking.
func (s *Store) Close() {
	s.sendMu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.sendMu.Unlock()
	<-s.done
}

func (s *Store) run() {
	defer close(s.done)
	for ev := range s.queue {
		s.hub.Broadcast(ev)
	}
}

func (s *Store) enqueue(ev models.Event) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.closed {
		return
	}
	s.queue <- ev
}

func (s *Store) Volume() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

func (s *Store) SetVolume(v int) error {
	if v < 0 || v > 100 {
		return ErrInvalidVolume
	}
	s.mu.Lock()
	s.volume = v
	s.mu.Unlock()
	s.enqueue(models.Event{Type: models.EventVolume, Data: v})
	return nil
}

func (s *Store) Devices() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.devices))
	copy(out, s.devices)
	return out
}

func (s *Store) SetDevices(names []string) {
	s.mu.Lock()
	// Non-nil so clients always see a JSON array, never null.
	s.devices = append(make([]string, 0, len(names)), names...)
	ev := models.Event{Type: models.EventDevices, Data: s.devices}
	s.mu.Unlock()
	s.enqueue(ev)
}

func (s *Store) ActiveDevice() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// SetActiveDevice selects one of the current devices. A name not in the
// fleet is rejected without mutating anything. The empty name clears the
// selection.
func (s *Store) SetActiveDevice(name string) error {
	s.mu.Lock()
	if name != "" && !contains(s.devices, name) {
		s.mu.Unlock()
		return ErrUnknownDevice
	}
	s.active = name
	s.mu.Unlock()
	s.enqueue(models.Event{Type: models.EventActiveDevice, Data: activeDeviceData(name)})
	return nil
}

func (s *Store) Favorites() []models.Favorite {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Favorite, len(s.favorites))
	copy(out, s.favorites)
	return out
}

// SetFavorites replaces the favorites list wholesale; favorites are always
// scoped to the active device, never accumulated across devices.
func (s *Store) SetFavorites(favs []models.Favorite) {
	s.mu.Lock()
	s.favorites = append(make([]models.Favorite, 0, len(favs)), favs...)
	ev := models.Event{Type: models.EventFavorites, Data: s.favorites}
	s.mu.Unlock()
	s.enqueue(ev)
}

// FavoriteByID looks up a favorite in the current list.
func (s *Store) FavoriteByID(id string) (models.Favorite, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.favorites {
		if f.ID == id {
			return f, true
		}
	}
	return models.Favorite{}, false
}

func (s *Store) TrackInfo() *models.TrackInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.track == nil {
		return nil
	}
	t := *s.track
	return &t
}

func (s *Store) SetTrackInfo(t models.TrackInfo) {
	s.mu.Lock()
	s.track = &t
	s.mu.Unlock()
	s.enqueue(models.Event{Type: models.EventPlay, Data: map[string]any{"track_info": t}})
}

func (s *Store) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

func (s *Store) SetPlaying(playing bool) {
	s.mu.Lock()
	s.playing = playing
	s.mu.Unlock()
	s.enqueue(models.Event{Type: models.EventPlaybackState, Data: map[string]any{"playing": playing}})
}

// ApplyTransportEvent applies a device-reported playback change only if the
// device is still the active one. The check and the mutation share the lock
// that guards selection, so a concurrent device switch cannot interleave
// between them. Reports whether the event was applied.
func (s *Store) ApplyTransportEvent(device string, track *models.TrackInfo, playing bool) bool {
	s.mu.Lock()
	if s.active != device {
		s.mu.Unlock()
		return false
	}
	var events []models.Event
	if track != nil {
		t := *track
		s.track = &t
		events = append(events, models.Event{Type: models.EventPlay, Data: map[string]any{"track_info": t}})
	}
	s.playing = playing
	events = append(events, models.Event{Type: models.EventPlaybackState, Data: map[string]any{"playing": playing}})
	s.mu.Unlock()

	for _, ev := range events {
		s.enqueue(ev)
	}
	return true
}

// ApplyVolumeEvent applies a device-reported volume change only if the
// device is still the active one, under the same atomicity rule as
// ApplyTransportEvent. A stale event is dropped silently; an out-of-range
// value is an error.
func (s *Store) ApplyVolumeEvent(device string, v int) error {
	if v < 0 || v > 100 {
		return ErrInvalidVolume
	}
	s.mu.Lock()
	if s.active != device {
		s.mu.Unlock()
		return nil
	}
	s.volume = v
	s.mu.Unlock()
	s.enqueue(models.Event{Type: models.EventVolume, Data: v})
	return nil
}

// SyncAll broadcasts every field in a fixed six-event order so client
// reducers see the same bootstrap sequence on every connect; track info is
// null when nothing has played yet. The current design sends the snapshot
// to all clients, not just the new one; that is intentional.
func (s *Store) SyncAll() {
	s.mu.Lock()
	var track any
	if s.track != nil {
		track = *s.track
	}
	events := []models.Event{
		{Type: models.EventVolume, Data: s.volume},
		{Type: models.EventDevices, Data: append(make([]string, 0, len(s.devices)), s.devices...)},
		{Type: models.EventActiveDevice, Data: activeDeviceData(s.active)},
		{Type: models.EventFavorites, Data: append(make([]models.Favorite, 0, len(s.favorites)), s.favorites...)},
		{Type: models.EventPlay, Data: map[string]any{"track_info": track}},
		{Type: models.EventPlaybackState, Data: map[string]any{"playing": s.playing}},
	}
	s.mu.Unlock()

	for _, ev := range events {
		s.enqueue(ev)
	}
}

func activeDeviceData(name string) models.ActiveDeviceData {
	if name == "" {
		return models.ActiveDeviceData{}
	}
	return models.ActiveDeviceData{DeviceName: &name}
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
