package driver

import (
	"context"
	"testing"
	"time"

	"sonobridge/internal/models"
)

// blockingDriver holds every Volume call until released.
type blockingDriver struct {
	started chan struct{}
	release chan struct{}
}

func (d *blockingDriver) Volume(ctx context.Context, device string) (int, error) {
	d.started <- struct{}{}
	<-d.release
	return 0, nil
}

func (d *blockingDriver) Discover(ctx context.Context) ([]string, error) { return nil, nil }
func (d *blockingDriver) Favorites(ctx context.Context, device string) ([]models.Favorite, error) {
	return nil, nil
}
func (d *blockingDriver) PlayFavorite(ctx context.Context, device string, fav models.Favorite) error {
	return nil
}
func (d *blockingDriver) SetVolume(ctx context.Context, device string, v int) error { return nil }
func (d *blockingDriver) TransportState(ctx context.Context, device string) (string, error) {
	return StateStopped, nil
}
func (d *blockingDriver) Play(ctx context.Context, device string) error  { return nil }
func (d *blockingDriver) Pause(ctx context.Context, device string) error { return nil }
func (d *blockingDriver) TrackInfo(ctx context.Context, device string) (models.TrackInfo, error) {
	return models.TrackInfo{}, nil
}
func (d *blockingDriver) SubscribeTransport(ctx context.Context, device string) (Feed, error) {
	return nil, nil
}
func (d *blockingDriver) SubscribeRendering(ctx context.Context, device string) (Feed, error) {
	return nil, nil
}

func TestLimitBoundsConcurrentCalls(t *testing.T) {
	inner := &blockingDriver{
		started: make(chan struct{}, 2),
		release: make(chan struct{}),
	}
	d := Limit(inner, 1)

	go func() {
		_, _ = d.Volume(context.Background(), "A")
	}()
	<-inner.started // first call holds the only slot

	// The second call cannot start; it must give up when its context does.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := d.Volume(ctx, "B")
	if err != context.DeadlineExceeded {
		t.Errorf("err = %v, want context.DeadlineExceeded", err)
	}

	select {
	case <-inner.started:
		t.Error("second call ran despite the limit")
	default:
	}

	close(inner.release)
}
