package state

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"sonobridge/internal/hub"
	"sonobridge/internal/models"
)

type mockConn struct {
	mu     sync.Mutex
	events []models.Event
}

func (m *mockConn) WriteJSON(v any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, v.(models.Event))
	return nil
}

func (m *mockConn) received() []models.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Event, len(m.events))
	copy(out, m.events)
	return out
}

func (m *mockConn) types() []string {
	var out []string
	for _, ev := range m.received() {
		out = append(out, ev.Type)
	}
	return out
}

// stalledConn never completes a write until released.
type stalledConn struct {
	release chan struct{}
}

func (c *stalledConn) WriteJSON(v any) error {
	<-c.release
	return nil
}

func newTestStore() (*Store, *hub.Hub, *mockConn) {
	h := hub.New()
	c := &mockConn{}
	h.Register(c)
	return New(h), h, c
}

// waitEvents polls until the connection has seen at least n events;
// delivery runs on the hub's writer goroutines.
func waitEvents(t *testing.T, c *mockConn, n int) []models.Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if evs := c.received(); len(evs) >= n {
			return evs
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d events, have %v", n, c.received())
	return nil
}

func TestSetVolumeBroadcasts(t *testing.T) {
	s, h, c := newTestStore()
	c2 := &mockConn{}
	h.Register(c2)

	if err := s.SetVolume(73); err != nil {
		t.Fatal(err)
	}
	s.Close() // drain the broadcast queue

	for _, conn := range []*mockConn{c, c2} {
		got := waitEvents(t, conn, 1)
		if got[0].Type != models.EventVolume || got[0].Data != 73 {
			t.Errorf("event = %+v, want volume 73", got[0])
		}
	}
	if s.Volume() != 73 {
		t.Errorf("volume = %d, want 73", s.Volume())
	}
}

func TestSetVolumeRejectsOutOfRange(t *testing.T) {
	s, _, c := newTestStore()

	for _, v := range []int{-1, 101, 150} {
		if err := s.SetVolume(v); err != ErrInvalidVolume {
			t.Errorf("SetVolume(%d) = %v, want ErrInvalidVolume", v, err)
		}
	}
	if s.Volume() != 50 {
		t.Errorf("volume mutated to %d by rejected sets", s.Volume())
	}

	s.Close()
	if got := c.received(); len(got) != 0 {
		t.Errorf("rejected sets broadcast %v", got)
	}
}

func TestSetActiveDeviceRequiresMembership(t *testing.T) {
	s, _, c := newTestStore()
	s.SetDevices([]string{"Living Room", "Kitchen"})

	if err := s.SetActiveDevice("Bathroom"); err != ErrUnknownDevice {
		t.Fatalf("err = %v, want ErrUnknownDevice", err)
	}
	if s.ActiveDevice() != "" {
		t.Errorf("active device mutated to %q", s.ActiveDevice())
	}

	if err := s.SetActiveDevice("Living Room"); err != nil {
		t.Fatal(err)
	}
	s.Close()
	waitEvents(t, c, 2)

	types := c.types()
	want := []string{models.EventDevices, models.EventActiveDevice}
	if len(types) != len(want) {
		t.Fatalf("events = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("events = %v, want %v", types, want)
		}
	}
}

func TestClearActiveDevice(t *testing.T) {
	s, _, c := newTestStore()
	s.SetDevices([]string{"Den"})
	if err := s.SetActiveDevice("Den"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetActiveDevice(""); err != nil {
		t.Fatal(err)
	}
	s.Close()

	events := waitEvents(t, c, 3)
	last := events[len(events)-1]
	data, ok := last.Data.(models.ActiveDeviceData)
	if !ok || data.DeviceName != nil {
		t.Errorf("last active-device payload = %+v, want nil device_name", last.Data)
	}
}

func TestSyncAllOrderIsFixed(t *testing.T) {
	s, _, c := newTestStore()
	s.SetDevices([]string{"Living Room"})
	if err := s.SetActiveDevice("Living Room"); err != nil {
		t.Fatal(err)
	}
	s.SetFavorites([]models.Favorite{{Title: "Jazz", ID: "pl:Jazz"}})
	s.SetTrackInfo(models.TrackInfo{Title: "So What", Artist: "Miles Davis"})
	s.SetPlaying(true)
	waitEvents(t, c, 5) // let the setter broadcasts land before resetting

	c.mu.Lock()
	c.events = nil
	c.mu.Unlock()

	s.SyncAll()
	s.Close()
	waitEvents(t, c, 6)

	want := []string{
		models.EventVolume,
		models.EventDevices,
		models.EventActiveDevice,
		models.EventFavorites,
		models.EventPlay,
		models.EventPlaybackState,
	}
	got := c.types()
	if len(got) != len(want) {
		t.Fatalf("sync sequence = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sync sequence = %v, want %v", got, want)
		}
	}
}

func TestSyncAllWithoutTrackEmitsNullPlay(t *testing.T) {
	s, _, c := newTestStore()

	s.SyncAll()
	s.Close()

	// The bootstrap sequence is always six events, track or no track.
	got := waitEvents(t, c, 6)
	if got[4].Type != models.EventPlay {
		t.Fatalf("event 4 = %s, want %s (sequence %v)", got[4].Type, models.EventPlay, c.types())
	}
	data, ok := got[4].Data.(map[string]any)
	if !ok || data["track_info"] != nil {
		t.Errorf("play payload = %+v, want null track_info", got[4].Data)
	}
}

func TestEmptyDevicesSerializeAsArray(t *testing.T) {
	s, _, c := newTestStore()
	s.SetDevices(nil)
	s.Close()

	got := waitEvents(t, c, 1)
	data, err := json.Marshal(got[0].Data)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "[]" {
		t.Errorf("devices payload = %s, want []", data)
	}
}

func TestFavoriteByID(t *testing.T) {
	s, _, _ := newTestStore()
	defer s.Close()
	s.SetFavorites([]models.Favorite{
		{Title: "Jazz", ID: "pl:Jazz"},
		{Title: "News", ID: "pl:News"},
	})

	fav, ok := s.FavoriteByID("pl:News")
	if !ok || fav.Title != "News" {
		t.Errorf("FavoriteByID = %+v, %v", fav, ok)
	}
	if _, ok := s.FavoriteByID("pl:Missing"); ok {
		t.Error("found a favorite that does not exist")
	}
}

func TestApplyTransportEventChecksActiveDevice(t *testing.T) {
	s, _, _ := newTestStore()
	defer s.Close()
	s.SetDevices([]string{"A", "B"})
	if err := s.SetActiveDevice("B"); err != nil {
		t.Fatal(err)
	}

	if s.ApplyTransportEvent("A", &models.TrackInfo{Title: "stale"}, true) {
		t.Error("event from a non-active device was applied")
	}
	if s.TrackInfo() != nil || s.Playing() {
		t.Error("state mutated by a stale event")
	}

	if !s.ApplyTransportEvent("B", &models.TrackInfo{Title: "fresh"}, true) {
		t.Fatal("event from the active device was not applied")
	}
	track := s.TrackInfo()
	if track == nil || track.Title != "fresh" {
		t.Errorf("track = %+v, want fresh", track)
	}
	if !s.Playing() {
		t.Error("playing not set by the applied event")
	}
}

func TestApplyVolumeEventChecksActiveDevice(t *testing.T) {
	s, _, _ := newTestStore()
	defer s.Close()
	s.SetDevices([]string{"A", "B"})
	if err := s.SetActiveDevice("B"); err != nil {
		t.Fatal(err)
	}

	if err := s.ApplyVolumeEvent("A", 99); err != nil {
		t.Fatal(err)
	}
	if s.Volume() != 50 {
		t.Errorf("volume = %d, mutated by a stale event", s.Volume())
	}

	if err := s.ApplyVolumeEvent("B", 31); err != nil {
		t.Fatal(err)
	}
	if s.Volume() != 31 {
		t.Errorf("volume = %d, want 31", s.Volume())
	}

	if err := s.ApplyVolumeEvent("B", 150); err != ErrInvalidVolume {
		t.Errorf("err = %v, want ErrInvalidVolume", err)
	}
}

func TestStalledClientDoesNotBlockSetters(t *testing.T) {
	h := hub.New()
	stalled := &stalledConn{release: make(chan struct{})}
	h.Register(stalled)
	s := New(h)

	// Far more mutations than any queue holds; every setter must return
	// promptly while the stalled client is dropped along the way.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			_ = s.SetVolume(i % 101)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("a stalled connection blocked state mutations")
	}
	close(stalled.release)
	s.Close()
}

func TestConcurrentVolumeSetsLastWriteWins(t *testing.T) {
	s, _, _ := newTestStore()

	var wg sync.WaitGroup
	for v := 0; v <= 100; v++ {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			_ = s.SetVolume(v)
		}(v)
	}
	wg.Wait()
	s.Close()

	got := s.Volume()
	if got < 0 || got > 100 {
		t.Errorf("volume = %d, out of range after concurrent sets", got)
	}
}
