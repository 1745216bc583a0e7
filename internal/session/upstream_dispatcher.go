package session

import (
	"strings"

	"github.com/lenslink/cloud/internal/streams"
	"github.com/lenslink/cloud/internal/wire"
)

// Glasses connection statuses reported on the upstream channel.
const (
	glassesStatusConnected    = "CONNECTED"
	glassesStatusReconnected  = "RECONNECTED"
	glassesStatusDisconnected = "DISCONNECTED"
)

// HandleUpstreamMessage routes one text frame from the glasses channel.
// Malformed frames are dropped with an error; frames with an unrecognized
// type are relayed to matching subscribers, which lets new device firmware
// ship event types ahead of the cloud.
func (s *UserSession) HandleUpstreamMessage(data []byte) error {
	msg, err := wire.ParseUpstream(data)
	if err != nil {
		s.log.Warn("dropping malformed upstream frame", "error", err)
		return err
	}

	switch m := msg.(type) {
	case *wire.GlassesConnectionState:
		connected := m.Status == glassesStatusConnected || m.Status == glassesStatusReconnected
		s.setGlassesConnected(connected, m.ModelName)
		if connected {
			s.resumeSuspendedApps()
		}
		s.microphone.HandleConnectionStateChange(m.Status)
		s.RelayToApps(streams.Key{Type: streams.TypeGlassesConnectionState}, m.RawJSON())

	case *wire.Vad:
		if m.Status {
			s.deps.Transcription.EnsureStreams(s.subscriptions.MinimalLanguageSubscriptions())
		} else {
			s.deps.Transcription.FinalizeStreams()
		}
		s.RelayToApps(streams.Key{Type: streams.TypeVad}, m.RawJSON())

	case *wire.LocalTranscription:
		s.deps.Transcription.HandleLocalTranscription(m)
		s.RelayToApps(transcriptionEventKey(m.TranscribeLanguage), m.RawJSON())

	case *wire.LocationUpdate:
		s.deps.Location.HandleLocationUpdate(m)

	case *wire.CalendarEvent:
		s.deps.Calendar.HandleCalendarEvent(m)

	case *wire.RtmpStreamStatus:
		if !s.deps.ManagedStreams.HandleStatus(m) {
			s.deps.UnmanagedStreams.HandleStatus(m)
		}

	case *wire.KeepAliveAck:
		s.deps.ManagedStreams.HandleKeepAliveAck(m)
		s.deps.UnmanagedStreams.HandleKeepAliveAck(m)

	case *wire.PhotoResponse:
		s.photos.HandlePhotoResponse(m)

	case *wire.AudioPlayResponse:
		if pkg, ok := s.resolveAudioPlay(m.RequestID); ok {
			if err := s.SendToApp(pkg, m.RawJSON()); err != nil {
				s.log.Warn("failed to route audio play response",
					"package", pkg, "requestId", m.RequestID, "error", err)
			}
		} else {
			s.log.Warn("audio play response with unknown requestId", "requestId", m.RequestID)
		}

	case *wire.RgbLedControlResponse:
		s.RelayToApps(streams.Key{Type: streams.TypeRgbLedResponse}, m.RawJSON())

	case *wire.HeadPosition:
		if strings.EqualFold(m.Position, "up") {
			s.deps.Dashboard.CycleOnHeadUp()
		}
		s.RelayToApps(streams.Key{Type: streams.TypeHeadPosition}, m.RawJSON())

	case *wire.TouchEvent:
		event := streams.Key{
			Type:    streams.TypeTouchEvent,
			Gesture: strings.ToLower(strings.TrimSpace(m.GestureName)),
		}
		s.RelayToApps(event, m.RawJSON())

	case *wire.UserDatetime:
		s.CacheDatetime(m.Datetime)

	case *wire.UnknownUpstream:
		if key, err := streams.Parse(strings.ToLower(m.Type)); err == nil {
			s.RelayToApps(key, m.RawJSON())
		} else {
			s.log.Debug("ignoring upstream frame with unknown type", "type", m.Type)
		}
	}
	return nil
}

// transcriptionEventKey builds the event key for a transcription result,
// language-qualified when the device reported one.
func transcriptionEventKey(language string) streams.Key {
	if language == "" {
		return streams.Key{Type: streams.TypeTranscription}
	}
	key, err := streams.Parse(string(streams.TypeTranscription) + ":" + language)
	if err != nil {
		return streams.Key{Type: streams.TypeTranscription}
	}
	return key
}

// resumeSuspendedApps moves apps suspended by an upstream drop back to
// RUNNING once the device reports connected again.
func (s *UserSession) resumeSuspendedApps() {
	s.mu.RLock()
	apps := make([]*AppSession, 0, len(s.apps))
	for _, app := range s.apps {
		apps = append(apps, app)
	}
	s.mu.RUnlock()

	for _, app := range apps {
		app.Resume()
	}
}
