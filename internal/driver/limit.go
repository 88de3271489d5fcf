package driver

import (
	"context"

	"golang.org/x/sync/semaphore"

	"sonobridge/internal/models"
)

// Limit wraps d so at most n blocking device calls run at once. Event loop
// goroutines acquire a slot before touching the network, so a slow device
// cannot starve the process of goroutines. Subscriptions are not bounded:
// feeds are long-lived and managed by the subscription manager.
func Limit(d Driver, n int64) Driver {
	return &limited{inner: d, sem: semaphore.NewWeighted(n)}
}

type limited struct {
	inner Driver
	sem   *semaphore.Weighted
}

func (l *limited) acquire(ctx context.Context) error {
	return l.sem.Acquire(ctx, 1)
}

func (l *limited) Discover(ctx context.Context) ([]string, error) {
	if err := l.acquire(ctx); err != nil {
		return nil, err
	}
	defer l.sem.Release(1)
	return l.inner.Discover(ctx)
}

func (l *limited) Favorites(ctx context.Context, device string) ([]models.Favorite, error) {
	if err := l.acquire(ctx); err != nil {
		return nil, err
	}
	defer l.sem.Release(1)
	return l.inner.Favorites(ctx, device)
}

func (l *limited) PlayFavorite(ctx context.Context, device string, fav models.Favorite) error {
	if err := l.acquire(ctx); err != nil {
		return err
	}
	defer l.sem.Release(1)
	return l.inner.PlayFavorite(ctx, device, fav)
}

func (l *limited) Volume(ctx context.Context, device string) (int, error) {
	if err := l.acquire(ctx); err != nil {
		return 0, err
	}
	defer l.sem.Release(1)
	return l.inner.Volume(ctx, device)
}

func (l *limited) SetVolume(ctx context.Context, device string, v int) error {
	if err := l.acquire(ctx); err != nil {
		return err
	}
	defer l.sem.Release(1)
	return l.inner.SetVolume(ctx, device, v)
}

func (l *limited) TransportState(ctx context.Context, device string) (string, error) {
	if err := l.acquire(ctx); err != nil {
		return "", err
	}
	defer l.sem.Release(1)
	return l.inner.TransportState(ctx, device)
}

func (l *limited) Play(ctx context.Context, device string) error {
	if err := l.acquire(ctx); err != nil {
		return err
	}
	defer l.sem.Release(1)
	return l.inner.Play(ctx, device)
}

func (l *limited) Pause(ctx context.Context, device string) error {
	if err := l.acquire(ctx); err != nil {
		return err
	}
	defer l.sem.Release(1)
	return l.inner.Pause(ctx, device)
}

func (l *limited) TrackInfo(ctx context.Context, device string) (models.TrackInfo, error) {
	if err := l.acquire(ctx); err != nil {
		return models.TrackInfo{}, err
	}
	defer l.sem.Release(1)
	return l.inner.TrackInfo(ctx, device)
}

func (l *limited) SubscribeTransport(ctx context.Context, device string) (Feed, error) {
	return l.inner.SubscribeTransport(ctx, device)
}

func (l *limited) SubscribeRendering(ctx context.Context, device string) (Feed, error) {
	return l.inner.SubscribeRendering(ctx, device)
}
