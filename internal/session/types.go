// Package session implements the per-user session core: one upstream glasses
// channel multiplexed against N app channels, with subscription-driven
// fan-out, microphone policy, photo correlation and app lifecycle.
package session

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/lenslink/cloud/internal/catalog"
	"github.com/lenslink/cloud/internal/streams"
	"github.com/lenslink/cloud/internal/wire"
)

// AppState is the lifecycle state of one app session.
type AppState string

const (
	// StateConnecting: started (webhook dispatched), channel not yet open.
	StateConnecting AppState = "CONNECTING"
	// StateRunning: channel open, messages flowing.
	StateRunning AppState = "RUNNING"
	// StateGracePeriod: channel closed, reconnect timer armed.
	StateGracePeriod AppState = "GRACE_PERIOD"
	// StateDormant: parked; subscriptions retained, nothing delivered.
	StateDormant AppState = "DORMANT"
	// StateResurrecting: grace expired with the user online; restart webhook
	// dispatched, waiting for the channel to come back.
	StateResurrecting AppState = "RESURRECTING"
	// StateStopping: stop requested, teardown in progress.
	StateStopping AppState = "STOPPING"
	// StateStopped: terminal.
	StateStopped AppState = "STOPPED"
)

var (
	// ErrAppSessionDisposed is returned by Enqueue after cleanup.
	ErrAppSessionDisposed = errors.New("session: app session disposed")

	// ErrGlassesNotConnected is returned when a command needs the upstream
	// channel and it is closed.
	ErrGlassesNotConnected = errors.New("session: glasses not connected")

	// ErrDuplicatePhotoRequest is returned when a photo request id is already
	// in flight.
	ErrDuplicatePhotoRequest = errors.New("session: photo request already pending")

	// ErrWifiNotConnected is returned by stream extensions when the glasses
	// have no WiFi link; it maps to the WIFI_NOT_CONNECTED wire code.
	ErrWifiNotConnected = errors.New("session: glasses wifi not connected")

	// ErrEmptySubscriptionsRefused is reported (not returned to the app) when
	// an empty update lands inside the post-reconnect window.
	ErrEmptySubscriptionsRefused = errors.New("session: empty subscription update refused after reconnect")
)

// SubscriptionResult reports what a subscription update did.
type SubscriptionResult struct {
	Applied bool
	Reason  string
	Old     []streams.Key
	New     []streams.Key
}

// DisplayManager owns the glasses display pipeline (layout arbitration,
// throttling). The core hands it raw frames and does not inspect layouts.
type DisplayManager interface {
	HandleDisplayRequest(packageName string, frame json.RawMessage) error
}

// DashboardManager owns the always-on dashboard.
type DashboardManager interface {
	HandleContentUpdate(packageName string, frame json.RawMessage) error
	HandleModeChange(packageName, mode string, frame json.RawMessage) error
	// CycleOnHeadUp advances the dashboard view when the user looks up.
	CycleOnHeadUp()
}

// LocationManager owns location fix routing and poll correlation.
type LocationManager interface {
	HandleLocationUpdate(update *wire.LocationUpdate)
	HandlePollRequest(packageName string, req *wire.LocationPollRequest) error
}

// CalendarManager consumes calendar entries pushed by the companion phone.
type CalendarManager interface {
	HandleCalendarEvent(event *wire.CalendarEvent)
}

// TranscriptionManager owns the speech pipeline. The core tells it which
// language tuples are needed and when voice activity starts and stops.
type TranscriptionManager interface {
	HandleLocalTranscription(t *wire.LocalTranscription)
	// EnsureStreams provisions recognition for the given language tuples.
	EnsureStreams(langs []streams.Key)
	// FinalizeStreams flushes and tears down recognition, keeping the
	// configured language set for the next voice activity.
	FinalizeStreams()
	// ConfigureLanguages replaces the wanted language set.
	ConfigureLanguages(langs []streams.Key)
}

// AudioManager consumes raw audio chunks (buffering, forwarding to the
// speech pipeline).
type AudioManager interface {
	HandleAudioChunk(data []byte)
}

// StreamStatus is the opaque status blob a stream extension reports.
type StreamStatus any

// StreamExtension is implemented by the managed and unmanaged RTMP stream
// subsystems. Status frames from the glasses are offered to the managed
// extension first; an unclaimed status falls through to the unmanaged one.
type StreamExtension interface {
	Start(packageName string, msg wire.AppMessage) error
	Stop(packageName string) error
	// HandleStatus reports whether the extension claimed the status frame.
	HandleStatus(status *wire.RtmpStreamStatus) bool
	HandleKeepAliveAck(ack *wire.KeepAliveAck)
	// Status returns the current status for the package, if any.
	Status(packageName string) (StreamStatus, bool)
}

// AppLauncher dispatches the start/resurrect webhook to an app's backend.
type AppLauncher interface {
	Launch(ctx context.Context, app *catalog.App, userID string) error
}

// No-op collaborators. A session wired without a subsystem still routes
// everything else.

type NoopDisplay struct{}

func (NoopDisplay) HandleDisplayRequest(string, json.RawMessage) error { return nil }

type NoopDashboard struct{}

func (NoopDashboard) HandleContentUpdate(string, json.RawMessage) error      { return nil }
func (NoopDashboard) HandleModeChange(string, string, json.RawMessage) error { return nil }
func (NoopDashboard) CycleOnHeadUp()                                         {}

type NoopLocation struct{}

func (NoopLocation) HandleLocationUpdate(*wire.LocationUpdate)                 {}
func (NoopLocation) HandlePollRequest(string, *wire.LocationPollRequest) error { return nil }

type NoopCalendar struct{}

func (NoopCalendar) HandleCalendarEvent(*wire.CalendarEvent) {}

type NoopTranscription struct{}

func (NoopTranscription) HandleLocalTranscription(*wire.LocalTranscription) {}
func (NoopTranscription) EnsureStreams([]streams.Key)                       {}
func (NoopTranscription) FinalizeStreams()                                  {}
func (NoopTranscription) ConfigureLanguages([]streams.Key)                  {}

type NoopAudio struct{}

func (NoopAudio) HandleAudioChunk([]byte) {}

type NoopStreams struct{}

func (NoopStreams) Start(string, wire.AppMessage) error      { return nil }
func (NoopStreams) Stop(string) error                        { return nil }
func (NoopStreams) HandleStatus(*wire.RtmpStreamStatus) bool { return false }
func (NoopStreams) HandleKeepAliveAck(*wire.KeepAliveAck)    {}
func (NoopStreams) Status(string) (StreamStatus, bool)       { return nil, false }

type NoopLauncher struct{}

func (NoopLauncher) Launch(context.Context, *catalog.App, string) error { return nil }
