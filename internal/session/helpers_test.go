package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/lenslink/cloud/internal/catalog"
	"github.com/lenslink/cloud/internal/logger"
	"github.com/lenslink/cloud/internal/streams"
	"github.com/lenslink/cloud/internal/transport"
	"github.com/lenslink/cloud/internal/wire"
)

const (
	testUser    = "user@example.com"
	testPkg     = "com.example.captions"
	testPkgB    = "com.example.assistant"
	testPkgC    = "com.example.notes"
	testCamApp  = "com.example.camera"
	testTimeout = 2 * time.Second
)

// fakeChannel is an in-memory transport.Channel capturing everything sent.
type fakeChannel struct {
	mu          sync.Mutex
	open        bool
	frames      []any
	binary      [][]byte
	pings       int
	closeCode   int
	closeReason string
}

var _ transport.Channel = (*fakeChannel)(nil)

func newFakeChannel() *fakeChannel {
	return &fakeChannel{open: true}
}

func (c *fakeChannel) Send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return transport.ErrChannelClosed
	}
	c.frames = append(c.frames, v)
	return nil
}

func (c *fakeChannel) SendBinary(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return transport.ErrChannelClosed
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	c.binary = append(c.binary, buf)
	return nil
}

func (c *fakeChannel) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return transport.ErrChannelClosed
	}
	c.pings++
	return nil
}

func (c *fakeChannel) Close(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return nil
	}
	c.open = false
	c.closeCode = code
	c.closeReason = reason
	return nil
}

func (c *fakeChannel) State() transport.ReadyState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.open {
		return transport.StateOpen
	}
	return transport.StateClosed
}

func (c *fakeChannel) Open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *fakeChannel) sentFrames() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]any, len(c.frames))
	copy(out, c.frames)
	return out
}

func (c *fakeChannel) closedWith() (int, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode, c.closeReason
}

// micFrames returns the MICROPHONE_STATE_CHANGE frames sent on the channel.
func (c *fakeChannel) micFrames() []wire.MicrophoneStateChange {
	var out []wire.MicrophoneStateChange
	for _, f := range c.sentFrames() {
		if m, ok := f.(wire.MicrophoneStateChange); ok {
			out = append(out, m)
		}
	}
	return out
}

// dataStreams returns the DATA_STREAM frames sent on the channel.
func (c *fakeChannel) dataStreams() []wire.DataStream {
	var out []wire.DataStream
	for _, f := range c.sentFrames() {
		if m, ok := f.(wire.DataStream); ok {
			out = append(out, m)
		}
	}
	return out
}

// connectionErrors returns the CONNECTION_ERROR frames sent on the channel.
func (c *fakeChannel) connectionErrors() []wire.ConnectionError {
	var out []wire.ConnectionError
	for _, f := range c.sentFrames() {
		if m, ok := f.(wire.ConnectionError); ok {
			out = append(out, m)
		}
	}
	return out
}

// fakeTranscription records speech pipeline calls.
type fakeTranscription struct {
	mu         sync.Mutex
	ensured    [][]streams.Key
	finalized  int
	configured [][]streams.Key
}

func (f *fakeTranscription) HandleLocalTranscription(*wire.LocalTranscription) {}

func (f *fakeTranscription) EnsureStreams(langs []streams.Key) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensured = append(f.ensured, langs)
}

func (f *fakeTranscription) FinalizeStreams() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finalized++
}

func (f *fakeTranscription) ConfigureLanguages(langs []streams.Key) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configured = append(f.configured, langs)
}

func (f *fakeTranscription) ensuredCalls() [][]streams.Key {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]streams.Key, len(f.ensured))
	copy(out, f.ensured)
	return out
}

// fakeStreams is a recording StreamExtension.
type fakeStreams struct {
	mu       sync.Mutex
	claim    bool
	startErr error
	started  []string
	stopped  []string
	statuses []*wire.RtmpStreamStatus
	status   StreamStatus
}

func (f *fakeStreams) Start(pkg string, _ wire.AppMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.started = append(f.started, pkg)
	return nil
}

func (f *fakeStreams) Stop(pkg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, pkg)
	return nil
}

func (f *fakeStreams) HandleStatus(status *wire.RtmpStreamStatus) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, status)
	return f.claim
}

func (f *fakeStreams) HandleKeepAliveAck(*wire.KeepAliveAck) {}

func (f *fakeStreams) Status(string) (StreamStatus, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status, f.status != nil
}

func testLogger() *logger.Logger {
	return logger.New(logger.Config{Level: slog.LevelError, Format: "text"})
}

func testCatalog() *catalog.Memory {
	return catalog.NewMemory(
		catalog.App{PackageName: testPkg, Name: "Captions"},
		catalog.App{PackageName: testPkgB, Name: "Assistant"},
		catalog.App{PackageName: testPkgC, Name: "Notes"},
		catalog.App{PackageName: testCamApp, Name: "Camera",
			Permissions: []catalog.Permission{catalog.PermissionCamera}},
	)
}

// fakeLauncher records start webhooks and optionally fails them.
type fakeLauncher struct {
	mu       sync.Mutex
	err      error
	launched []string
}

var _ AppLauncher = (*fakeLauncher)(nil)

func (l *fakeLauncher) Launch(_ context.Context, app *catalog.App, _ string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	l.launched = append(l.launched, app.PackageName)
	return nil
}

func (l *fakeLauncher) launches() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.launched))
	copy(out, l.launched)
	return out
}

func shortAppTimings() appTimings {
	return appTimings{
		heartbeatInterval:       20 * time.Millisecond,
		gracePeriod:             40 * time.Millisecond,
		subscriptionGraceWindow: 30 * time.Millisecond,
		connectTimeout:          50 * time.Millisecond,
	}
}

func shortMicTimings() micTimings {
	return micTimings{
		sendDebounce:           15 * time.Millisecond,
		subscriptionDebounce:   5 * time.Millisecond,
		keepAliveInterval:      30 * time.Millisecond,
		offHoldDown:            25 * time.Millisecond,
		unauthorizedAudioGuard: 50 * time.Millisecond,
		snapshotMaxAge:         20 * time.Millisecond,
	}
}

// newTestSession builds a session on short timings with a fake upstream
// channel. Extra deps can be overridden by mutating the returned session's
// collaborators through opts before use.
func newTestSession(t *testing.T, deps Deps) (*UserSession, *fakeChannel) {
	t.Helper()
	upstream := newFakeChannel()
	if deps.Catalog == nil {
		deps.Catalog = testCatalog()
	}
	if deps.Log == nil {
		deps.Log = testLogger()
	}
	s := newUserSession(testUser, upstream, deps,
		shortAppTimings(), shortMicTimings(), 60*time.Millisecond, 10*time.Millisecond)
	t.Cleanup(s.Dispose)
	return s, upstream
}

// connectApp attaches a fake app channel to the session.
func connectApp(t *testing.T, s *UserSession, pkg string) (*AppSession, *fakeChannel) {
	t.Helper()
	ch := newFakeChannel()
	app, err := s.HandleAppConnect(pkg, ch)
	if err != nil {
		t.Fatalf("HandleAppConnect(%s): %v", pkg, err)
	}
	return app, ch
}

// subscribe sends a SUBSCRIPTION_UPDATE frame through the app dispatcher.
func subscribe(t *testing.T, s *UserSession, pkg string, keys ...string) {
	t.Helper()
	frame, err := json.Marshal(map[string]any{
		"type":          wire.TypeSubscriptionUpdate,
		"packageName":   pkg,
		"subscriptions": keys,
	})
	if err != nil {
		t.Fatalf("marshal subscription update: %v", err)
	}
	s.HandleAppMessage(pkg, frame)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s: %s", d, msg)
}

// neverWithin asserts cond stays false for the whole duration.
func neverWithin(t *testing.T, d time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			t.Fatalf("condition unexpectedly became true: %s", msg)
		}
		time.Sleep(2 * time.Millisecond)
	}
}
