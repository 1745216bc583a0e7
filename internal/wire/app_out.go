package wire

import (
	"encoding/json"
	"time"
)

// Frame type discriminators (cloud → app).
const (
	TypeDataStream                = "DATA_STREAM"
	TypeCustomMessage             = "CUSTOM_MESSAGE"
	TypeStreamStatusCheckResponse = "STREAM_STATUS_CHECK_RESPONSE"
	TypeConnectionError           = "CONNECTION_ERROR"
)

// DataStream delivers one upstream event to one subscribed app.
// StreamType is the subscription key that matched this app, so an app
// subscribed to "touch_event:triple_tap" sees that key, not the base type.
type DataStream struct {
	Type       string          `json:"type"`
	SessionID  string          `json:"sessionId"`
	StreamType string          `json:"streamType"`
	Data       json.RawMessage `json:"data"`
	Timestamp  time.Time       `json:"timestamp"`
}

// NewDataStream builds a relay frame for one recipient. sessionID is the
// per-(session, package) sub-session id.
func NewDataStream(sessionID, streamType string, data json.RawMessage) DataStream {
	return DataStream{
		Type:       TypeDataStream,
		SessionID:  sessionID,
		StreamType: streamType,
		Data:       data,
		Timestamp:  Now(),
	}
}

// CustomMessage delivers an out-of-band message to an app (e.g. the cached
// user datetime on subscription).
type CustomMessage struct {
	Type      string    `json:"type"`
	SessionID string    `json:"sessionId"`
	Action    string    `json:"action"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// StreamStatusCheckResponse answers a STREAM_STATUS_CHECK. When both a
// managed and an unmanaged stream exist, the managed status wins.
type StreamStatusCheckResponse struct {
	Type      string    `json:"type"`
	SessionID string    `json:"sessionId"`
	Status    any       `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ConnectionError is the terminal error frame; the channel is closed with
// code 1008 right after it is sent.
type ConnectionError struct {
	Type      string    `json:"type"`
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// NewConnectionError builds a CONNECTION_ERROR frame.
func NewConnectionError(code ErrorCode, message string) ConnectionError {
	return ConnectionError{
		Type:      TypeConnectionError,
		Code:      code,
		Message:   message,
		Timestamp: Now(),
	}
}

// AppPhotoResponse delivers the photo result (or a typed failure on timeout)
// to the originating app.
type AppPhotoResponse struct {
	Type           string    `json:"type"`
	SessionID      string    `json:"sessionId"`
	RequestID      string    `json:"requestId"`
	Success        bool      `json:"success"`
	PhotoURL       string    `json:"photoUrl,omitempty"`
	SavedToGallery bool      `json:"savedToGallery,omitempty"`
	Error          string    `json:"error,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}
