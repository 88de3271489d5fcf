// Package dispatch routes client actions. It has no state of its own:
// state changes go through the store's setters, which broadcast; errors go
// back to the sender alone. The dispatcher never broadcasts anything.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"sonobridge/internal/driver"
	"sonobridge/internal/hub"
	"sonobridge/internal/models"
	"sonobridge/internal/state"
	"sonobridge/internal/subs"
)

type Dispatcher struct {
	hub   *hub.Hub
	store *state.Store
	drv   driver.Driver
	subs  *subs.Manager

	// baseCtx outlives any one connection; subscriptions started by a
	// command must not die with the socket that issued it.
	baseCtx context.Context
}

func New(ctx context.Context, h *hub.Hub, st *state.Store, drv driver.Driver, sm *subs.Manager) *Dispatcher {
	return &Dispatcher{hub: h, store: st, drv: drv, subs: sm, baseCtx: ctx}
}

// BaseContext returns the application-lifetime context, for work that must
// outlive the connection that triggered it.
func (d *Dispatcher) BaseContext() context.Context { return d.baseCtx }

// Dispatch handles one inbound action from one client. It is called from
// the connection's read loop, so messages from a single client are always
// processed in arrival order.
func (d *Dispatcher) Dispatch(ctx context.Context, c hub.Conn, action models.Action) {
	switch action.Type {
	case models.ActionPing:
		d.hub.SendTo(c, models.Event{Type: models.EventPong, Data: map[string]any{}})
	case models.ActionEcho:
		d.handleEcho(c, action.Data)
	case models.ActionActiveDevice:
		d.handleActiveDevice(ctx, c, action.Data)
	case models.ActionPlay:
		d.handlePlay(ctx, c, action.Data)
	case models.ActionVolume:
		d.handleVolume(ctx, c, action.Data)
	case models.ActionPause:
		d.handlePause(ctx, c)
	default:
		d.sendError(c, "Unknown action")
	}
}

func (d *Dispatcher) sendError(c hub.Conn, msg string) {
	d.hub.SendTo(c, models.Event{Type: models.EventError, Data: models.ErrorData{Message: msg}})
}

func (d *Dispatcher) handleEcho(c hub.Conn, data json.RawMessage) {
	var body struct {
		Message string `json:"message"`
	}
	_ = json.Unmarshal(data, &body)
	d.hub.SendTo(c, models.Event{Type: models.EventEcho, Data: map[string]any{"message": body.Message}})
}

func (d *Dispatcher) handleActiveDevice(ctx context.Context, c hub.Conn, data json.RawMessage) {
	var body struct {
		DeviceName string `json:"device_name"`
	}
	if err := json.Unmarshal(data, &body); err != nil || body.DeviceName == "" {
		d.sendError(c, "Device not found")
		return
	}

	previous := d.store.ActiveDevice()
	if err := d.store.SetActiveDevice(body.DeviceName); err != nil {
		d.sendError(c, "Device not found")
		return
	}

	favs, err := d.drv.Favorites(ctx, body.DeviceName)
	if err != nil {
		log.Printf("favorites for %s: %v", body.DeviceName, err)
		d.sendError(c, fmt.Sprintf("Favorites error: %v", err))
		favs = nil
	}
	d.store.SetFavorites(favs)

	if previous != "" && previous != body.DeviceName {
		d.subs.Unsubscribe(previous)
	}
	go d.subs.Subscribe(d.baseCtx, body.DeviceName)
}

func (d *Dispatcher) handlePlay(ctx context.Context, c hub.Conn, data json.RawMessage) {
	var body struct {
		FavoriteID string `json:"favorite_id"`
	}
	_ = json.Unmarshal(data, &body)

	device := d.store.ActiveDevice()
	if device == "" || body.FavoriteID == "" {
		d.sendError(c, "No active device or favorite ID")
		return
	}
	fav, ok := d.store.FavoriteByID(body.FavoriteID)
	if !ok {
		d.sendError(c, "Favorite not found")
		return
	}

	if err := d.drv.PlayFavorite(ctx, device, fav); err != nil {
		d.sendError(c, fmt.Sprintf("Playback error: %v", err))
		return
	}

	info, err := d.drv.TrackInfo(ctx, device)
	if err != nil {
		// Playback started; report it with what we know.
		log.Printf("track info for %s: %v", device, err)
		info = models.TrackInfo{Title: fav.Title, AlbumArt: fav.AlbumArtURI}
	}
	d.hub.SendTo(c, models.Event{Type: models.EventPlay, Data: map[string]any{
		"favorite_id": body.FavoriteID,
		"track_info":  info,
	}})
	d.store.SetTrackInfo(info)
	d.store.SetPlaying(true)
}

func (d *Dispatcher) handleVolume(ctx context.Context, c hub.Conn, data json.RawMessage) {
	var body struct {
		Volume *int `json:"volume"`
	}
	if err := json.Unmarshal(data, &body); err != nil || body.Volume == nil {
		d.sendError(c, "Invalid volume")
		return
	}
	if err := d.store.SetVolume(*body.Volume); err != nil {
		d.sendError(c, "Invalid volume")
		return
	}
	if device := d.store.ActiveDevice(); device != "" {
		if err := d.drv.SetVolume(ctx, device, *body.Volume); err != nil {
			log.Printf("set volume on %s: %v", device, err)
		}
	}
}

func (d *Dispatcher) handlePause(ctx context.Context, c hub.Conn) {
	device := d.store.ActiveDevice()
	if device == "" {
		d.sendError(c, "No active device")
		return
	}
	st, err := d.drv.TransportState(ctx, device)
	if err != nil {
		d.sendError(c, fmt.Sprintf("Transport error: %v", err))
		return
	}
	if st == driver.StatePlaying {
		err = d.drv.Pause(ctx, device)
	} else {
		err = d.drv.Play(ctx, device)
	}
	if err != nil {
		d.sendError(c, fmt.Sprintf("Transport error: %v", err))
		return
	}
	d.store.SetPlaying(st != driver.StatePlaying)
}
