package wire

import (
	"encoding/json"
	"time"
)

// Command type discriminators (cloud → glasses).
const (
	TypeMicrophoneStateChange = "MICROPHONE_STATE_CHANGE"
	TypeShowWifiSetup         = "SHOW_WIFI_SETUP"
	TypeAppStateChange        = "APP_STATE_CHANGE"
	// PHOTO_REQUEST, RGB_LED_CONTROL, AUDIO_PLAY_REQUEST and AUDIO_STOP_REQUEST
	// reuse the app-side discriminators when re-emitted upstream.
)

// MicrophoneStateChange drives the glasses' send-audio flag.
type MicrophoneStateChange struct {
	Type                string         `json:"type"`
	SessionID           string         `json:"sessionId"`
	IsMicrophoneEnabled bool           `json:"isMicrophoneEnabled"`
	RequiredData        []RequiredData `json:"requiredData"`
	BypassVad           bool           `json:"bypassVad"`
	Timestamp           time.Time      `json:"timestamp"`
}

// NewMicrophoneStateChange builds the mic command. RequiredData is forced to
// empty when disabling.
func NewMicrophoneStateChange(sessionID string, enabled bool, required []RequiredData, bypassVad bool) MicrophoneStateChange {
	if !enabled {
		required = []RequiredData{}
	} else if required == nil {
		required = []RequiredData{}
	}
	return MicrophoneStateChange{
		Type:                TypeMicrophoneStateChange,
		SessionID:           sessionID,
		IsMicrophoneEnabled: enabled,
		RequiredData:        required,
		BypassVad:           bypassVad,
		Timestamp:           Now(),
	}
}

// GlassesPhotoRequest asks the glasses to take a photo on behalf of an app.
type GlassesPhotoRequest struct {
	Type          string    `json:"type"`
	SessionID     string    `json:"sessionId"`
	RequestID     string    `json:"requestId"`
	AppID         string    `json:"appId"`
	SaveToGallery bool      `json:"saveToGallery,omitempty"`
	WebhookURL    string    `json:"webhookUrl,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// GlassesRgbLedControl re-emits an app LED command with the originating
// request id so the response can be routed back.
type GlassesRgbLedControl struct {
	Type        string    `json:"type"`
	SessionID   string    `json:"sessionId"`
	RequestID   string    `json:"requestId"`
	PackageName string    `json:"packageName"`
	Action      string    `json:"action"`
	Color       string    `json:"color,omitempty"`
	OnTime      int       `json:"ontime,omitempty"`
	OffTime     int       `json:"offtime,omitempty"`
	Count       int       `json:"count,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// GlassesAudioPlayRequest forwards an app audio-play command upstream.
// The app payload is carried verbatim so codec details stay opaque here.
type GlassesAudioPlayRequest struct {
	Type        string          `json:"type"`
	SessionID   string          `json:"sessionId"`
	PackageName string          `json:"packageName"`
	RequestID   string          `json:"requestId"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

// GlassesAudioStopRequest stops audio playback.
type GlassesAudioStopRequest struct {
	Type        string    `json:"type"`
	SessionID   string    `json:"sessionId"`
	PackageName string    `json:"packageName"`
	Timestamp   time.Time `json:"timestamp"`
}

// ShowWifiSetup asks the glasses to open the WiFi setup flow.
type ShowWifiSetup struct {
	Type      string    `json:"type"`
	SessionID string    `json:"sessionId"`
	Timestamp time.Time `json:"timestamp"`
}

// AppStateChange notifies the glasses that the set of running apps changed.
type AppStateChange struct {
	Type        string    `json:"type"`
	SessionID   string    `json:"sessionId"`
	RunningApps []string  `json:"runningApps"`
	Timestamp   time.Time `json:"timestamp"`
}
