package session

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lenslink/cloud/internal/wire"
)

func TestTouchEventFanOut(t *testing.T) {
	s, _ := newTestSession(t, Deps{})
	_, chA := connectApp(t, s, testPkg)
	_, chB := connectApp(t, s, testPkgB)
	_, chC := connectApp(t, s, testPkgC)

	updateSubs(t, s, testPkg, []string{"touch_event:triple_tap"}, "")
	updateSubs(t, s, testPkgB, []string{"touch_event"}, "")
	updateSubs(t, s, testPkgC, []string{"touch_event:single_tap"}, "")

	frame := []byte(`{"type":"TOUCH_EVENT","gesture_name":"triple_tap"}`)
	require.NoError(t, s.HandleUpstreamMessage(frame))

	// Gesture subscriber sees the qualified key, base subscriber the bare
	// type, and the other-gesture subscriber sees nothing.
	streamsA := chA.dataStreams()
	require.Len(t, streamsA, 1)
	assert.Equal(t, "touch_event:triple_tap", streamsA[0].StreamType)
	assert.Equal(t, testUser+"-"+testPkg, streamsA[0].SessionID)
	assert.JSONEq(t, string(frame), string(streamsA[0].Data))

	streamsB := chB.dataStreams()
	require.Len(t, streamsB, 1)
	assert.Equal(t, "touch_event", streamsB[0].StreamType)

	assert.Empty(t, chC.dataStreams())
}

func TestRelaySkipsNonRunningApps(t *testing.T) {
	s, _ := newTestSession(t, Deps{})
	appA, chA := connectApp(t, s, testPkg)
	updateSubs(t, s, testPkg, []string{"head_position"}, "")

	appA.ReleaseOwnership()
	chA.Close(1000, "handoff")
	s.HandleAppDisconnect(testPkg, chA)
	require.Equal(t, StateDormant, appA.State())

	require.NoError(t, s.HandleUpstreamMessage([]byte(`{"type":"HEAD_POSITION","position":"down"}`)))
	assert.Empty(t, chA.dataStreams(), "dormant apps receive nothing")
}

func TestVadDrivesTranscriptionLifecycle(t *testing.T) {
	ft := &fakeTranscription{}
	s, _ := newTestSession(t, Deps{Transcription: ft})
	connectApp(t, s, testPkg)
	updateSubs(t, s, testPkg, []string{"transcription:fr-FR"}, "")

	require.NoError(t, s.HandleUpstreamMessage([]byte(`{"type":"VAD","status":true}`)))
	calls := ft.ensuredCalls()
	require.Len(t, calls, 1)
	require.Len(t, calls[0], 1)
	assert.Equal(t, "transcription:fr-FR", calls[0][0].String())

	require.NoError(t, s.HandleUpstreamMessage([]byte(`{"type":"VAD","status":false}`)))
	ft.mu.Lock()
	finalized := ft.finalized
	ft.mu.Unlock()
	assert.Equal(t, 1, finalized)
}

func TestStreamStatusManagedClaimsFirst(t *testing.T) {
	managed := &fakeStreams{claim: true}
	unmanaged := &fakeStreams{}
	s, _ := newTestSession(t, Deps{ManagedStreams: managed, UnmanagedStreams: unmanaged})

	require.NoError(t, s.HandleUpstreamMessage([]byte(`{"type":"RTMP_STREAM_STATUS","streamId":"s1","status":"active"}`)))
	managed.mu.Lock()
	claimed := len(managed.statuses)
	managed.mu.Unlock()
	unmanaged.mu.Lock()
	fellThrough := len(unmanaged.statuses)
	unmanaged.mu.Unlock()

	assert.Equal(t, 1, claimed)
	assert.Equal(t, 0, fellThrough, "claimed status must not reach the unmanaged extension")
}

func TestAudioPlayResponseRoutedToOriginator(t *testing.T) {
	s, upstream := newTestSession(t, Deps{})
	_, chA := connectApp(t, s, testPkg)
	_, chB := connectApp(t, s, testPkgB)

	play := []byte(`{"type":"AUDIO_PLAY_REQUEST","packageName":"` + testPkg + `","requestId":"audio-1"}`)
	s.HandleAppMessage(testPkg, play)

	// Forwarded upstream with the payload intact.
	var forwarded []wire.GlassesAudioPlayRequest
	for _, f := range upstream.sentFrames() {
		if m, ok := f.(wire.GlassesAudioPlayRequest); ok {
			forwarded = append(forwarded, m)
		}
	}
	require.Len(t, forwarded, 1)
	assert.Equal(t, "audio-1", forwarded[0].RequestID)

	resp := []byte(`{"type":"AUDIO_PLAY_RESPONSE","requestId":"audio-1","success":true}`)
	require.NoError(t, s.HandleUpstreamMessage(resp))

	// Only the originator gets the response, delivered verbatim.
	var rawA []json.RawMessage
	for _, f := range chA.sentFrames() {
		if m, ok := f.(json.RawMessage); ok {
			rawA = append(rawA, m)
		}
	}
	require.Len(t, rawA, 1)
	assert.JSONEq(t, string(resp), string(rawA[0]))

	for _, f := range chB.sentFrames() {
		_, isRaw := f.(json.RawMessage)
		assert.False(t, isRaw, "non-originator must not receive the response")
	}

	// The origin record is consumed; a duplicate response goes nowhere.
	require.NoError(t, s.HandleUpstreamMessage(resp))
	rawA = rawA[:0]
	for _, f := range chA.sentFrames() {
		if m, ok := f.(json.RawMessage); ok {
			rawA = append(rawA, m)
		}
	}
	assert.Len(t, rawA, 1)
}

func TestDatetimeCachePushedToNewSubscriber(t *testing.T) {
	s, _ := newTestSession(t, Deps{})
	_, chA := connectApp(t, s, testPkg)

	require.NoError(t, s.HandleUpstreamMessage([]byte(`{"type":"USER_DATETIME","datetime":"2026-08-24T10:00:00+02:00"}`)))

	// Subscribing to custom_message after the fact still yields the cached
	// value.
	subscribe(t, s, testPkg, "custom_message")

	var msgs []wire.CustomMessage
	for _, f := range chA.sentFrames() {
		if m, ok := f.(wire.CustomMessage); ok {
			msgs = append(msgs, m)
		}
	}
	require.Len(t, msgs, 1)
	assert.Equal(t, "update_datetime", msgs[0].Action)
	payload, ok := msgs[0].Payload.(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "2026-08-24T10:00:00+02:00", payload["datetime"])
}

func TestPhotoRequestWithoutCameraPermissionClosesChannel(t *testing.T) {
	s, _ := newTestSession(t, Deps{})
	_, chA := connectApp(t, s, testPkg) // registered without CAMERA

	s.HandleAppMessage(testPkg, []byte(`{"type":"PHOTO_REQUEST","packageName":"`+testPkg+`","requestId":"p1"}`))

	errs := chA.connectionErrors()
	require.Len(t, errs, 1)
	assert.Equal(t, wire.ErrorPermissionDenied, errs[0].Code)

	code, _ := chA.closedWith()
	assert.Equal(t, wire.ClosePolicyViolation, code)
	assert.Equal(t, 0, s.photos.PendingCount())
}

func TestUnregisteredPackageClosesChannel(t *testing.T) {
	s, _ := newTestSession(t, Deps{})
	ghost := "com.example.ghost"
	_, ch := connectApp(t, s, ghost) // connects, but not in the catalog

	s.HandleAppMessage(ghost, []byte(`{"type":"PHOTO_REQUEST","packageName":"`+ghost+`","requestId":"p1"}`))

	errs := ch.connectionErrors()
	require.Len(t, errs, 1)
	assert.Equal(t, wire.ErrorPackageNotFound, errs[0].Code)
	assert.False(t, ch.Open())
}

func TestMalformedFrameClosesChannel(t *testing.T) {
	s, _ := newTestSession(t, Deps{})
	_, ch := connectApp(t, s, testPkg)

	s.HandleAppMessage(testPkg, []byte(`{not json`))

	errs := ch.connectionErrors()
	require.Len(t, errs, 1)
	assert.Equal(t, wire.ErrorMalformedMessage, errs[0].Code)
	code, _ := ch.closedWith()
	assert.Equal(t, wire.ClosePolicyViolation, code)
}

func TestUnknownAppMessageTypeRejected(t *testing.T) {
	s, _ := newTestSession(t, Deps{})
	_, ch := connectApp(t, s, testPkg)

	s.HandleAppMessage(testPkg, []byte(`{"type":"FROBNICATE","packageName":"`+testPkg+`"}`))

	errs := ch.connectionErrors()
	require.Len(t, errs, 1)
	assert.Equal(t, wire.ErrorMalformedMessage, errs[0].Code)
}

func TestPackageSpoofRejected(t *testing.T) {
	s, _ := newTestSession(t, Deps{})
	_, ch := connectApp(t, s, testPkg)
	connectApp(t, s, testPkgB)

	// A frame on testPkg's channel claiming testPkgB's identity.
	s.HandleAppMessage(testPkg, []byte(`{"type":"OWNERSHIP_RELEASE","packageName":"`+testPkgB+`"}`))

	errs := ch.connectionErrors()
	require.Len(t, errs, 1)
	assert.Equal(t, wire.ErrorMalformedMessage, errs[0].Code)
}

func TestWifiNotConnectedKeepsChannelOpen(t *testing.T) {
	unmanaged := &fakeStreams{startErr: ErrWifiNotConnected}
	s, _ := newTestSession(t, Deps{UnmanagedStreams: unmanaged})
	_, ch := connectApp(t, s, testCamApp)

	s.HandleAppMessage(testCamApp, []byte(`{"type":"RTMP_STREAM_REQUEST","packageName":"`+testCamApp+`","rtmpUrl":"rtmp://x"}`))

	errs := ch.connectionErrors()
	require.Len(t, errs, 1)
	assert.Equal(t, wire.ErrorWifiNotConnected, errs[0].Code)
	assert.True(t, ch.Open(), "device preconditions do not close the channel")
}

func TestStreamStatusCheckPrefersManaged(t *testing.T) {
	managed := &fakeStreams{status: map[string]string{"kind": "managed"}}
	unmanaged := &fakeStreams{status: map[string]string{"kind": "unmanaged"}}
	s, _ := newTestSession(t, Deps{ManagedStreams: managed, UnmanagedStreams: unmanaged})
	_, ch := connectApp(t, s, testCamApp)

	s.HandleAppMessage(testCamApp, []byte(`{"type":"STREAM_STATUS_CHECK","packageName":"`+testCamApp+`"}`))

	var resps []wire.StreamStatusCheckResponse
	for _, f := range ch.sentFrames() {
		if m, ok := f.(wire.StreamStatusCheckResponse); ok {
			resps = append(resps, m)
		}
	}
	require.Len(t, resps, 1)
	status, ok := resps[0].Status.(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "managed", status["kind"])
}

func TestUpstreamDisconnectSuspendsAndResumes(t *testing.T) {
	s, _ := newTestSession(t, Deps{})
	appA, _ := connectApp(t, s, testPkg)

	s.HandleUpstreamDisconnect()
	require.Equal(t, StateGracePeriod, appA.State())

	// Device reports back before grace expires; the app resumes.
	require.NoError(t, s.HandleUpstreamMessage([]byte(`{"type":"GLASSES_CONNECTION_STATE","status":"RECONNECTED"}`)))
	assert.Equal(t, StateRunning, appA.State())
}

func TestUnknownUpstreamTypeIsIgnoredQuietly(t *testing.T) {
	s, _ := newTestSession(t, Deps{})
	_, ch := connectApp(t, s, testPkg)
	updateSubs(t, s, testPkg, []string{"vad"}, "")

	require.NoError(t, s.HandleUpstreamMessage([]byte(`{"type":"FUTURE_SENSOR","reading":42}`)))
	assert.Empty(t, ch.dataStreams())
}

func TestMalformedUpstreamFrameReturnsError(t *testing.T) {
	s, _ := newTestSession(t, Deps{})
	assert.Error(t, s.HandleUpstreamMessage([]byte(`{"no":"type"}`)))
	assert.Error(t, s.HandleUpstreamMessage([]byte(`garbage`)))
}
