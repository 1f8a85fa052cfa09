package session

import "encoding/json"

// Message is the envelope for both directions. Seq echoes the client's
// sequence number on the frame that answers it.
type Message struct {
	Type    string          `json:"type"`
	Seq     int64           `json:"seq,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type SizePayload struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type PointerPayload struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type SelectPayload struct {
	ID string `json:"id"`
}

type HideResolvedPayload struct {
	Hide bool `json:"hide"`
}

type WelcomePayload struct {
	ClientID  string `json:"clientId"`
	ProjectID string `json:"projectId"`
	Author    string `json:"author"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

const (
	// Client to server
	TypeResize         = "resize"
	TypeOpen           = "open"
	TypeRetry          = "retry"
	TypeZoomIn         = "zoom.in"
	TypeZoomOut        = "zoom.out"
	TypeRotate         = "rotate"
	TypeResetView      = "view.reset"
	TypeTogglePlacing  = "mode.placing"
	TypeTogglePanning  = "mode.panning"
	TypeCancelMode     = "mode.cancel"
	TypePointerDown    = "pointer.down"
	TypePointerMove    = "pointer.move"
	TypePointerUp      = "pointer.up"
	TypeSelectDocument = "document.select"
	TypeSelectMarker   = "annotation.select"
	TypeHideResolved   = "annotations.hideResolved"

	// Server to client
	TypeWelcome = "welcome"
	TypeFrame   = "frame"
	TypeError   = "error"
)
