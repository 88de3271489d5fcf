package models

import "encoding/json"

// Event types pushed to clients. Clients treat each as a reducer action,
// so the names double as the wire protocol.
const (
	EventVolume        = "volume"
	EventDevices       = "devices"
	EventActiveDevice  = "active-device"
	EventFavorites     = "favorites"
	EventPlay          = "play"
	EventPlaybackState = "playback-state"
	EventPong          = "pong"
	EventEcho          = "echo"
	EventError         = "error"
)

// Action types accepted from clients.
const (
	ActionPing         = "ping"
	ActionEcho         = "echo"
	ActionActiveDevice = "active-device"
	ActionPlay         = "play"
	ActionVolume       = "volume"
	ActionPause        = "pause"
)

// Action is the inbound client message envelope.
type Action struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Event is the outbound message envelope.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Favorite is a playable entry scoped to one device's library. Class tells
// the dispatcher how to start playback without asking the device again.
type Favorite struct {
	Title       string `json:"title"`
	Class       string `json:"class"`
	URI         string `json:"uri"`
	ID          string `json:"id"`
	Description string `json:"description"`
	AlbumArtURI string `json:"album_art"`
}

// TrackInfo is the last known now-playing snapshot for the active device.
type TrackInfo struct {
	Title    string `json:"title"`
	Artist   string `json:"artist"`
	AlbumArt string `json:"album_art"`
}

// ActiveDeviceData is the payload for active-device events. DeviceName is
// nil when no device is selected.
type ActiveDeviceData struct {
	DeviceName *string `json:"device_name"`
}

// ErrorData is the payload for error events sent to a single client.
type ErrorData struct {
	Message string `json:"message"`
}
