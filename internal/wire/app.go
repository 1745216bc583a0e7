package wire

import (
	"encoding/json"
	"fmt"
)

// App message type discriminators (app → cloud).
const (
	TypeSubscriptionUpdate     = "SUBSCRIPTION_UPDATE"
	TypeDisplayRequest         = "DISPLAY_REQUEST"
	TypeDashboardContentUpdate = "DASHBOARD_CONTENT_UPDATE"
	TypeDashboardModeChange    = "DASHBOARD_MODE_CHANGE"
	TypeRgbLedControl          = "RGB_LED_CONTROL"
	TypeRtmpStreamRequest      = "RTMP_STREAM_REQUEST"
	TypeRtmpStreamStop         = "RTMP_STREAM_STOP"
	TypeManagedStreamRequest   = "MANAGED_STREAM_REQUEST"
	TypeManagedStreamStop      = "MANAGED_STREAM_STOP"
	TypeStreamStatusCheck      = "STREAM_STATUS_CHECK"
	TypePhotoRequest           = "PHOTO_REQUEST"
	TypeAudioPlayRequest       = "AUDIO_PLAY_REQUEST"
	TypeAudioStopRequest       = "AUDIO_STOP_REQUEST"
	TypeLocationPollRequest    = "LOCATION_POLL_REQUEST"
	TypeRequestWifiSetup       = "REQUEST_WIFI_SETUP"
	TypeOwnershipRelease       = "OWNERSHIP_RELEASE"
)

// AppMessage is implemented by every parsed app frame.
type AppMessage interface {
	AppType() string
	Package() string
	RawJSON() json.RawMessage
}

// appBase carries the fields common to all app frames.
type appBase struct {
	rawCarrier
	PackageName string `json:"packageName"`
}

func (b appBase) Package() string { return b.PackageName }

// SubscriptionUpdate replaces the app's subscription set.
type SubscriptionUpdate struct {
	appBase
	Subscriptions []string `json:"subscriptions"`
	LocationRate  string   `json:"locationRate,omitempty"`
}

func (SubscriptionUpdate) AppType() string { return TypeSubscriptionUpdate }

// DisplayRequest asks to show content on the glasses display.
// The layout payload is opaque to the core; the display manager interprets it.
type DisplayRequest struct {
	appBase
	View string `json:"view,omitempty"`
}

func (DisplayRequest) AppType() string { return TypeDisplayRequest }

// DashboardContentUpdate pushes dashboard card content.
type DashboardContentUpdate struct {
	appBase
}

func (DashboardContentUpdate) AppType() string { return TypeDashboardContentUpdate }

// DashboardModeChange switches the dashboard display mode.
type DashboardModeChange struct {
	appBase
	Mode string `json:"mode,omitempty"`
}

func (DashboardModeChange) AppType() string { return TypeDashboardModeChange }

// RgbLedControl drives the glasses LED.
type RgbLedControl struct {
	appBase
	RequestID string `json:"requestId"`
	Action    string `json:"action"`
	Color     string `json:"color,omitempty"`
	OnTime    int    `json:"ontime,omitempty"`
	OffTime   int    `json:"offtime,omitempty"`
	Count     int    `json:"count,omitempty"`
}

func (RgbLedControl) AppType() string { return TypeRgbLedControl }

// RtmpStreamRequest starts an unmanaged RTMP stream to the app's own endpoint.
type RtmpStreamRequest struct {
	appBase
	RtmpURL string `json:"rtmpUrl"`
}

func (RtmpStreamRequest) AppType() string { return TypeRtmpStreamRequest }

// RtmpStreamStop stops the app's unmanaged stream.
type RtmpStreamStop struct {
	appBase
}

func (RtmpStreamStop) AppType() string { return TypeRtmpStreamStop }

// ManagedStreamRequest starts a platform-managed stream (HLS/WebRTC egress).
type ManagedStreamRequest struct {
	appBase
	Quality string `json:"quality,omitempty"`
}

func (ManagedStreamRequest) AppType() string { return TypeManagedStreamRequest }

// ManagedStreamStop stops the app's managed stream.
type ManagedStreamStop struct {
	appBase
}

func (ManagedStreamStop) AppType() string { return TypeManagedStreamStop }

// StreamStatusCheck asks for the current stream status (managed preferred).
type StreamStatusCheck struct {
	appBase
}

func (StreamStatusCheck) AppType() string { return TypeStreamStatusCheck }

// PhotoRequest asks the glasses to take a photo.
type PhotoRequest struct {
	appBase
	RequestID     string `json:"requestId"`
	SaveToGallery bool   `json:"saveToGallery,omitempty"`
	WebhookURL    string `json:"webhookUrl,omitempty"`
}

func (PhotoRequest) AppType() string { return TypePhotoRequest }

// AudioPlayRequest asks the glasses to play audio. The payload beyond the
// request id is forwarded verbatim.
type AudioPlayRequest struct {
	appBase
	RequestID string `json:"requestId"`
}

func (AudioPlayRequest) AppType() string { return TypeAudioPlayRequest }

// AudioStopRequest stops audio playback on the glasses.
type AudioStopRequest struct {
	appBase
}

func (AudioStopRequest) AppType() string { return TypeAudioStopRequest }

// LocationPollRequest asks for a single location fix.
type LocationPollRequest struct {
	appBase
	CorrelationID string `json:"correlationId,omitempty"`
	Accuracy      string `json:"accuracy,omitempty"`
}

func (LocationPollRequest) AppType() string { return TypeLocationPollRequest }

// RequestWifiSetup asks the glasses to show the WiFi setup flow.
type RequestWifiSetup struct {
	appBase
}

func (RequestWifiSetup) AppType() string { return TypeRequestWifiSetup }

// OwnershipRelease marks the app session for handoff: a subsequent channel
// close parks the session as DORMANT instead of arming the grace timer.
type OwnershipRelease struct {
	appBase
}

func (OwnershipRelease) AppType() string { return TypeOwnershipRelease }

// UnknownApp wraps an app frame with an unrecognized type. The dispatcher
// rejects it as MALFORMED_MESSAGE.
type UnknownApp struct {
	appBase
	Type string
}

func (u UnknownApp) AppType() string { return u.Type }

// ParseAppMessage parses an app frame into its typed variant.
func ParseAppMessage(data []byte) (AppMessage, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("malformed app frame: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("app frame missing type")
	}

	base := appBase{rawCarrier: rawCarrier{raw: json.RawMessage(data)}}

	unmarshalInto := func(v AppMessage) (AppMessage, error) {
		if err := json.Unmarshal(data, v); err != nil {
			return nil, fmt.Errorf("malformed %s frame: %w", env.Type, err)
		}
		return v, nil
	}

	switch env.Type {
	case TypeSubscriptionUpdate:
		return unmarshalInto(&SubscriptionUpdate{appBase: base})
	case TypeDisplayRequest:
		return unmarshalInto(&DisplayRequest{appBase: base})
	case TypeDashboardContentUpdate:
		return unmarshalInto(&DashboardContentUpdate{appBase: base})
	case TypeDashboardModeChange:
		return unmarshalInto(&DashboardModeChange{appBase: base})
	case TypeRgbLedControl:
		return unmarshalInto(&RgbLedControl{appBase: base})
	case TypeRtmpStreamRequest:
		return unmarshalInto(&RtmpStreamRequest{appBase: base})
	case TypeRtmpStreamStop:
		return unmarshalInto(&RtmpStreamStop{appBase: base})
	case TypeManagedStreamRequest:
		return unmarshalInto(&ManagedStreamRequest{appBase: base})
	case TypeManagedStreamStop:
		return unmarshalInto(&ManagedStreamStop{appBase: base})
	case TypeStreamStatusCheck:
		return unmarshalInto(&StreamStatusCheck{appBase: base})
	case TypePhotoRequest:
		return unmarshalInto(&PhotoRequest{appBase: base})
	case TypeAudioPlayRequest:
		return unmarshalInto(&AudioPlayRequest{appBase: base})
	case TypeAudioStopRequest:
		return unmarshalInto(&AudioStopRequest{appBase: base})
	case TypeLocationPollRequest:
		return unmarshalInto(&LocationPollRequest{appBase: base})
	case TypeRequestWifiSetup:
		return unmarshalInto(&RequestWifiSetup{appBase: base})
	case TypeOwnershipRelease:
		return unmarshalInto(&OwnershipRelease{appBase: base})
	default:
		u := &UnknownApp{appBase: base, Type: env.Type}
		// Best effort: pull the package name for logging.
		_ = json.Unmarshal(data, &u.appBase)
		return u, nil
	}
}
