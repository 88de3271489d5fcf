// Package mpd implements the device driver against a fleet of MPD
// endpoints, one per zone. Commands use short-lived connections; event
// feeds wrap mpd.Watcher on the player and mixer subsystems.
package mpd

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fhs/gompd/v2/mpd"

	"sonobridge/internal/driver"
	"sonobridge/internal/models"
)

// Endpoint names one MPD server in the fleet.
type Endpoint struct {
	Name string
	Addr string // host:port
}

// ParseEndpoints parses a "Name=host:port,Name2=host:port" fleet spec.
func ParseEndpoints(s string) ([]Endpoint, error) {
	var out []Endpoint
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, addr, ok := strings.Cut(part, "=")
		if !ok || name == "" || addr == "" {
			return nil, fmt.Errorf("invalid device entry %q (want Name=host:port)", part)
		}
		out = append(out, Endpoint{Name: strings.TrimSpace(name), Addr: strings.TrimSpace(addr)})
	}
	return out, nil
}

type Driver struct {
	endpoints []Endpoint
	byName    map[string]string
	timeout   time.Duration
}

func New(endpoints []Endpoint) *Driver {
	byName := make(map[string]string, len(endpoints))
	for _, e := range endpoints {
		byName[e.Name] = e.Addr
	}
	return &Driver{endpoints: endpoints, byName: byName, timeout: 5 * time.Second}
}

func (d *Driver) addr(device string) (string, error) {
	a, ok := d.byName[device]
	if !ok {
		return "", fmt.Errorf("unknown device %q", device)
	}
	return a, nil
}

// do dials the device, runs fn, and closes the connection. MPD connections
// are cheap and idle ones get reaped server-side, so one per command beats
// keeping a pool alive.
func (d *Driver) do(ctx context.Context, device string, fn func(*mpd.Client) error) error {
	addr, err := d.addr(device)
	if err != nil {
		return err
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	type result struct {
		c   *mpd.Client
		err error
	}
	ch := make(chan result, 1)
	go func() {
		c, err := mpd.Dial("tcp", addr)
		ch <- result{c, err}
	}()
	select {
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.c != nil {
				r.c.Close()
			}
		}()
		return ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return fmt.Errorf("dialing %s: %w", device, r.err)
		}
		defer r.c.Close()
		return fn(r.c)
	}
}

// Discover pings every configured endpoint and returns the names that
// answered, preserving configuration order.
func (d *Driver) Discover(ctx context.Context) ([]string, error) {
	var names []string
	for _, e := range d.endpoints {
		err := d.do(ctx, e.Name, func(c *mpd.Client) error { return c.Ping() })
		if err != nil {
			log.Printf("discover: %s unreachable: %v", e.Name, err)
			continue
		}
		names = append(names, e.Name)
	}
	return names, nil
}

// Favorites exposes the device's stored playlists as playable favorites.
func (d *Driver) Favorites(ctx context.Context, device string) ([]models.Favorite, error) {
	var favs []models.Favorite
	err := d.do(ctx, device, func(c *mpd.Client) error {
		lists, err := c.ListPlaylists()
		if err != nil {
			return err
		}
		for _, attrs := range lists {
			name := attrs["playlist"]
			if name == "" {
				continue
			}
			favs = append(favs, models.Favorite{
				Title:       name,
				Class:       "playlist",
				URI:         "mpd:playlist:" + name,
				ID:          "pl:" + name,
				Description: "Stored playlist",
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(favs, func(i, j int) bool { return favs[i].Title < favs[j].Title })
	return favs, nil
}

func (d *Driver) PlayFavorite(ctx context.Context, device string, fav models.Favorite) error {
	return d.do(ctx, device, func(c *mpd.Client) error {
		if err := c.Clear(); err != nil {
			return err
		}
		switch fav.Class {
		case "playlist":
			name := strings.TrimPrefix(fav.URI, "mpd:playlist:")
			if err := c.PlaylistLoad(name, -1, -1); err != nil {
				return err
			}
		default:
			// Streams and single tracks carry a direct URI.
			if err := c.Add(fav.URI); err != nil {
				return err
			}
		}
		return c.Play(-1)
	})
}

func (d *Driver) Volume(ctx context.Context, device string) (int, error) {
	var vol int
	err := d.do(ctx, device, func(c *mpd.Client) error {
		st, err := c.Status()
		if err != nil {
			return err
		}
		v, err := strconv.Atoi(st["volume"])
		if err != nil {
			return fmt.Errorf("volume not reported: %w", err)
		}
		vol = v
		return nil
	})
	return vol, err
}

func (d *Driver) SetVolume(ctx context.Context, device string, v int) error {
	return d.do(ctx, device, func(c *mpd.Client) error { return c.SetVolume(v) })
}

func (d *Driver) TransportState(ctx context.Context, device string) (string, error) {
	var out string
	err := d.do(ctx, device, func(c *mpd.Client) error {
		st, err := c.Status()
		if err != nil {
			return err
		}
		out = transportState(st["state"])
		return nil
	})
	return out, err
}

func (d *Driver) Play(ctx context.Context, device string) error {
	return d.do(ctx, device, func(c *mpd.Client) error { return c.Play(-1) })
}

func (d *Driver) Pause(ctx context.Context, device string) error {
	return d.do(ctx, device, func(c *mpd.Client) error { return c.Pause(true) })
}

func (d *Driver) TrackInfo(ctx context.Context, device string) (models.TrackInfo, error) {
	var info models.TrackInfo
	err := d.do(ctx, device, func(c *mpd.Client) error {
		song, err := c.CurrentSong()
		if err != nil {
			return err
		}
		info = trackInfo(song)
		return nil
	})
	return info, err
}

func transportState(mpdState string) string {
	switch mpdState {
	case "play":
		return driver.StatePlaying
	case "pause":
		return driver.StatePaused
	default:
		return driver.StateStopped
	}
}

func trackInfo(song mpd.Attrs) models.TrackInfo {
	title := song["Title"]
	if title == "" {
		title = song["Name"] // stream metadata
	}
	if title == "" {
		title = song["file"]
	}
	return models.TrackInfo{Title: title, Artist: song["Artist"]}
}
