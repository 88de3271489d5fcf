// Package server is the HTTP surface: the /ws client socket plus a couple
// of plain endpoints (health, album-art proxy).
package server

import (
	"context"
	"log"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"sonobridge/internal/dispatch"
	"sonobridge/internal/driver"
	"sonobridge/internal/hub"
	"sonobridge/internal/state"
	"sonobridge/internal/subs"
)

type Server struct {
	router     chi.Router
	hub        *hub.Hub
	store      *state.Store
	drv        driver.Driver
	subs       *subs.Manager
	dispatcher *dispatch.Dispatcher
	corsOrigin string

	// connMu serializes last-disconnect teardown against a concurrent
	// connection's register-and-subscribe, so teardown cannot cancel a
	// subscription a live client just confirmed.
	connMu sync.Mutex
}

type Option func(*Server)

func WithCORSOrigin(origin string) Option {
	return func(s *Server) { s.corsOrigin = origin }
}

func New(h *hub.Hub, st *state.Store, drv driver.Driver, sm *subs.Manager, d *dispatch.Dispatcher, opts ...Option) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		hub:        h,
		store:      st,
		drv:        drv,
		subs:       sm,
		dispatcher: d,
	}
	for _, o := range opts {
		o(s)
	}
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Bootstrap runs the startup discovery pass: populate the fleet, select
// the first device, and subscribe to its events. Any failure is logged and
// leaves state at its safe default; the process starts regardless.
func (s *Server) Bootstrap(ctx context.Context) {
	s.refreshFleet(ctx)
	if active := s.store.ActiveDevice(); active != "" {
		// The subscription outlives the bootstrap deadline.
		go s.subs.Subscribe(s.dispatcher.BaseContext(), active)
	}
}

// refreshFleet re-discovers devices and keeps or re-selects the active
// device. When the selection changes, the new device's favorites, volume,
// and transport state are pulled in parallel.
func (s *Server) refreshFleet(ctx context.Context) {
	devices, err := s.drv.Discover(ctx)
	if err != nil {
		log.Printf("device discovery: %v", err)
		return
	}
	s.store.SetDevices(devices)

	active := s.store.ActiveDevice()
	if active != "" && containsName(devices, active) {
		return
	}
	if active != "" {
		s.subs.Unsubscribe(active)
	}
	if len(devices) == 0 {
		if active != "" {
			_ = s.store.SetActiveDevice("")
			s.store.SetFavorites(nil)
		}
		return
	}
	if err := s.store.SetActiveDevice(devices[0]); err != nil {
		log.Printf("selecting %s: %v", devices[0], err)
		return
	}
	s.adoptDevice(ctx, devices[0])
}

// adoptDevice seeds state from a newly selected device.
func (s *Server) adoptDevice(ctx context.Context, device string) {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		favs, err := s.drv.Favorites(ctx, device)
		if err != nil {
			return err
		}
		s.store.SetFavorites(favs)
		return nil
	})
	g.Go(func() error {
		v, err := s.drv.Volume(ctx, device)
		if err != nil {
			return err
		}
		return s.store.SetVolume(v)
	})
	g.Go(func() error {
		st, err := s.drv.TransportState(ctx, device)
		if err != nil {
			return err
		}
		s.store.SetPlaying(st == driver.StatePlaying)
		return nil
	})
	if err := g.Wait(); err != nil {
		log.Printf("adopting %s: %v", device, err)
	}
}

func containsName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
