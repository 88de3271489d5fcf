// Package driver defines the capability surface the core consumes to talk
// to playback devices. Implementations live in subpackages; the core never
// sees a concrete device type.
package driver

import (
	"context"

	"sonobridge/internal/models"
)

// TransportState values as reported by a device.
const (
	StatePlaying = "PLAYING"
	StatePaused  = "PAUSED"
	StateStopped = "STOPPED"
)

// Event is a device-originated notification delivered on a Feed.
type Event struct {
	Device  string
	Volume  int  // rendering feed
	HasVol  bool // set when Volume is meaningful
	Track   *models.TrackInfo
	Playing bool
}

// Feed is a live event subscription to one device. Events is closed when
// the feed ends; Cancel is idempotent and must not block indefinitely.
type Feed interface {
	Events() <-chan Event
	Cancel() error
}

// Driver talks to the device fleet. Blocking calls take a context and are
// expected to honor its deadline.
type Driver interface {
	Discover(ctx context.Context) ([]string, error)
	Favorites(ctx context.Context, device string) ([]models.Favorite, error)
	PlayFavorite(ctx context.Context, device string, fav models.Favorite) error
	Volume(ctx context.Context, device string) (int, error)
	SetVolume(ctx context.Context, device string, v int) error
	TransportState(ctx context.Context, device string) (string, error)
	Play(ctx context.Context, device string) error
	Pause(ctx context.Context, device string) error
	TrackInfo(ctx context.Context, device string) (models.TrackInfo, error)
	SubscribeTransport(ctx context.Context, device string) (Feed, error)
	SubscribeRendering(ctx context.Context, device string) (Feed, error)
}
