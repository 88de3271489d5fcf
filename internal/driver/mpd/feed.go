package mpd

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"sync"

	"github.com/fhs/gompd/v2/mpd"

	"sonobridge/internal/driver"
)

// SubscribeTransport delivers now-playing and playback-state changes for
// one device, driven by MPD idle events on the player subsystem.
func (d *Driver) SubscribeTransport(ctx context.Context, device string) (driver.Feed, error) {
	return d.subscribe(ctx, device, "player")
}

// SubscribeRendering delivers volume changes, driven by the mixer
// subsystem.
func (d *Driver) SubscribeRendering(ctx context.Context, device string) (driver.Feed, error) {
	return d.subscribe(ctx, device, "mixer")
}

func (d *Driver) subscribe(ctx context.Context, device, subsystem string) (driver.Feed, error) {
	addr, err := d.addr(device)
	if err != nil {
		return nil, err
	}
	w, err := mpd.NewWatcher("tcp", addr, "", subsystem)
	if err != nil {
		return nil, fmt.Errorf("watching %s on %s: %w", subsystem, device, err)
	}
	f := &feed{
		driver:    d,
		device:    device,
		subsystem: subsystem,
		watcher:   w,
		events:    make(chan driver.Event, 16),
	}
	go f.run()
	go f.drainErrors()
	return f, nil
}

type feed struct {
	driver    *Driver
	device    string
	subsystem string
	watcher   *mpd.Watcher
	events    chan driver.Event
	closeOnce sync.Once
	closeErr  error
}

func (f *feed) Events() <-chan driver.Event { return f.events }

// Cancel closes the watcher, which ends the idle connection and closes
// Events. Safe to call more than once.
func (f *feed) Cancel() error {
	f.closeOnce.Do(func() { f.closeErr = f.watcher.Close() })
	return f.closeErr
}

func (f *feed) run() {
	defer close(f.events)
	for range f.watcher.Event {
		ev, err := f.snapshot()
		if err != nil {
			log.Printf("feed %s/%s: %v", f.device, f.subsystem, err)
			continue
		}
		f.events <- ev
	}
}

func (f *feed) drainErrors() {
	for err := range f.watcher.Error {
		log.Printf("feed %s/%s watcher: %v", f.device, f.subsystem, err)
	}
}

// snapshot queries the device for the state behind the idle notification;
// MPD's idle protocol only names the subsystem that changed.
func (f *feed) snapshot() (driver.Event, error) {
	ev := driver.Event{Device: f.device}
	err := f.driver.do(context.Background(), f.device, func(c *mpd.Client) error {
		st, err := c.Status()
		if err != nil {
			return err
		}
		switch f.subsystem {
		case "mixer":
			v, err := strconv.Atoi(st["volume"])
			if err != nil {
				return fmt.Errorf("volume not reported: %w", err)
			}
			ev.Volume = v
			ev.HasVol = true
		default:
			song, err := c.CurrentSong()
			if err != nil {
				return err
			}
			info := trackInfo(song)
			ev.Track = &info
			ev.Playing = st["state"] == "play"
		}
		return nil
	})
	return ev, err
}
