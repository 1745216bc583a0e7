package wire

import (
	"encoding/json"
	"fmt"
)

// Upstream message type discriminators (glasses → cloud).
const (
	TypeGlassesConnectionState = "GLASSES_CONNECTION_STATE"
	TypeVad                    = "VAD"
	TypeLocalTranscription     = "LOCAL_TRANSCRIPTION"
	TypeLocationUpdate         = "LOCATION_UPDATE"
	TypeCalendarEvent          = "CALENDAR_EVENT"
	TypeRtmpStreamStatus       = "RTMP_STREAM_STATUS"
	TypeKeepAliveAck           = "KEEP_ALIVE_ACK"
	TypePhotoResponse          = "PHOTO_RESPONSE"
	TypeAudioPlayResponse      = "AUDIO_PLAY_RESPONSE"
	TypeRgbLedControlResponse  = "RGB_LED_CONTROL_RESPONSE"
	TypeHeadPosition           = "HEAD_POSITION"
	TypeTouchEvent             = "TOUCH_EVENT"
	TypeUserDatetime           = "USER_DATETIME"
)

// UpstreamMessage is implemented by every parsed glasses frame.
type UpstreamMessage interface {
	UpstreamType() string
	// RawJSON returns the original frame bytes, used when a frame is relayed
	// to subscribed apps without reshaping.
	RawJSON() json.RawMessage
}

// rawCarrier holds the original frame bytes for relay.
type rawCarrier struct {
	raw json.RawMessage
}

func (r rawCarrier) RawJSON() json.RawMessage { return r.raw }

// GlassesConnectionState reports the wearable's connection status to the
// companion phone ("CONNECTED", "RECONNECTED", "DISCONNECTED").
type GlassesConnectionState struct {
	rawCarrier
	Status    string `json:"status"`
	ModelName string `json:"modelName,omitempty"`
}

func (GlassesConnectionState) UpstreamType() string { return TypeGlassesConnectionState }

// Vad reports a voice-activity transition from the glasses.
type Vad struct {
	rawCarrier
	Status bool `json:"status"`
}

func (Vad) UpstreamType() string { return TypeVad }

// LocalTranscription carries an on-device transcription result.
type LocalTranscription struct {
	rawCarrier
	Text               string `json:"text"`
	IsFinal            bool   `json:"isFinal"`
	TranscribeLanguage string `json:"transcribeLanguage,omitempty"`
}

func (LocalTranscription) UpstreamType() string { return TypeLocalTranscription }

// LocationUpdate carries a device location fix.
type LocationUpdate struct {
	rawCarrier
	Lat           float64 `json:"lat"`
	Lng           float64 `json:"lng"`
	Accuracy      float64 `json:"accuracy,omitempty"`
	CorrelationID string  `json:"correlationId,omitempty"`
}

func (LocationUpdate) UpstreamType() string { return TypeLocationUpdate }

// CalendarEvent carries a calendar entry pushed by the companion phone.
// The payload is opaque to the core; the calendar manager interprets it.
type CalendarEvent struct {
	rawCarrier
	Title string `json:"title,omitempty"`
}

func (CalendarEvent) UpstreamType() string { return TypeCalendarEvent }

// RtmpStreamStatus reports progress of a device-initiated RTMP stream.
type RtmpStreamStatus struct {
	rawCarrier
	StreamID string `json:"streamId,omitempty"`
	Status   string `json:"status,omitempty"`
}

func (RtmpStreamStatus) UpstreamType() string { return TypeRtmpStreamStatus }

// KeepAliveAck acknowledges a stream keep-alive; both stream extensions see
// it and filter by their own stream ids.
type KeepAliveAck struct {
	rawCarrier
	StreamID string `json:"streamId,omitempty"`
	AckID    string `json:"ackId,omitempty"`
}

func (KeepAliveAck) UpstreamType() string { return TypeKeepAliveAck }

// PhotoResponse is the glasses' reply to a PHOTO_REQUEST command.
type PhotoResponse struct {
	rawCarrier
	RequestID      string `json:"requestId"`
	PhotoURL       string `json:"photoUrl,omitempty"`
	SavedToGallery bool   `json:"savedToGallery,omitempty"`
}

func (PhotoResponse) UpstreamType() string { return TypePhotoResponse }

// AudioPlayResponse is the glasses' reply to an AUDIO_PLAY_REQUEST command.
type AudioPlayResponse struct {
	rawCarrier
	RequestID string `json:"requestId"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

func (AudioPlayResponse) UpstreamType() string { return TypeAudioPlayResponse }

// RgbLedControlResponse is the glasses' reply to an RGB_LED_CONTROL command.
type RgbLedControlResponse struct {
	rawCarrier
	RequestID string `json:"requestId"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

func (RgbLedControlResponse) UpstreamType() string { return TypeRgbLedControlResponse }

// HeadPosition reports head orientation ("up" or "down").
type HeadPosition struct {
	rawCarrier
	Position string `json:"position"`
}

func (HeadPosition) UpstreamType() string { return TypeHeadPosition }

// TouchEvent reports a touch gesture on the glasses frame.
type TouchEvent struct {
	rawCarrier
	GestureName string `json:"gesture_name"`
}

func (TouchEvent) UpstreamType() string { return TypeTouchEvent }

// UserDatetime carries the user's local datetime from the companion phone.
// The session caches the latest value for apps that subscribe later.
type UserDatetime struct {
	rawCarrier
	Datetime string `json:"datetime"`
}

func (UserDatetime) UpstreamType() string { return TypeUserDatetime }

// UnknownUpstream wraps a frame whose type the dispatcher has no handler for.
// Unknown frames are still relayed to apps subscribed to the matching stream.
type UnknownUpstream struct {
	rawCarrier
	Type string
}

func (u UnknownUpstream) UpstreamType() string { return u.Type }

// envelope extracts the discriminator from a frame.
type envelope struct {
	Type string `json:"type"`
}

// ParseUpstream parses a glasses frame into its typed variant.
// A missing or empty type, or malformed JSON, is an error; an unrecognized
// type is not (it yields UnknownUpstream for default relay).
func ParseUpstream(data []byte) (UpstreamMessage, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("malformed upstream frame: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("upstream frame missing type")
	}

	raw := rawCarrier{raw: json.RawMessage(data)}

	unmarshalInto := func(v UpstreamMessage) (UpstreamMessage, error) {
		if err := json.Unmarshal(data, v); err != nil {
			return nil, fmt.Errorf("malformed %s frame: %w", env.Type, err)
		}
		return v, nil
	}

	switch env.Type {
	case TypeGlassesConnectionState:
		return unmarshalInto(&GlassesConnectionState{rawCarrier: raw})
	case TypeVad:
		return unmarshalInto(&Vad{rawCarrier: raw})
	case TypeLocalTranscription:
		return unmarshalInto(&LocalTranscription{rawCarrier: raw})
	case TypeLocationUpdate:
		return unmarshalInto(&LocationUpdate{rawCarrier: raw})
	case TypeCalendarEvent:
		return unmarshalInto(&CalendarEvent{rawCarrier: raw})
	case TypeRtmpStreamStatus:
		return unmarshalInto(&RtmpStreamStatus{rawCarrier: raw})
	case TypeKeepAliveAck:
		return unmarshalInto(&KeepAliveAck{rawCarrier: raw})
	case TypePhotoResponse:
		return unmarshalInto(&PhotoResponse{rawCarrier: raw})
	case TypeAudioPlayResponse:
		return unmarshalInto(&AudioPlayResponse{rawCarrier: raw})
	case TypeRgbLedControlResponse:
		return unmarshalInto(&RgbLedControlResponse{rawCarrier: raw})
	case TypeHeadPosition:
		return unmarshalInto(&HeadPosition{rawCarrier: raw})
	case TypeTouchEvent:
		return unmarshalInto(&TouchEvent{rawCarrier: raw})
	case TypeUserDatetime:
		return unmarshalInto(&UserDatetime{rawCarrier: raw})
	default:
		return &UnknownUpstream{rawCarrier: raw, Type: env.Type}, nil
	}
}
