package session

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lenslink/cloud/internal/catalog"
	"github.com/lenslink/cloud/internal/logger"
	"github.com/lenslink/cloud/internal/metrics"
	"github.com/lenslink/cloud/internal/resource"
	"github.com/lenslink/cloud/internal/streams"
	"github.com/lenslink/cloud/internal/transport"
	"github.com/lenslink/cloud/internal/wire"
)

// launchTimeout bounds one webhook dispatch (start or resurrection).
const launchTimeout = 15 * time.Second

// datetimeAction is the CUSTOM_MESSAGE action carrying the user's local
// datetime to subscribed apps.
const datetimeAction = "update_datetime"

// Deps are the collaborators a user session routes into. Nil fields get
// no-op implementations, so partial wiring (tests, degraded deployments)
// still routes everything else.
type Deps struct {
	Catalog          catalog.Catalog
	Launcher         AppLauncher
	Display          DisplayManager
	Dashboard        DashboardManager
	Location         LocationManager
	Calendar         CalendarManager
	Transcription    TranscriptionManager
	Audio            AudioManager
	ManagedStreams   StreamExtension
	UnmanagedStreams StreamExtension
	Log              *logger.Logger
}

func (d *Deps) fillDefaults() {
	if d.Catalog == nil {
		d.Catalog = catalog.NewMemory()
	}
	if d.Launcher == nil {
		d.Launcher = NoopLauncher{}
	}
	if d.Display == nil {
		d.Display = NoopDisplay{}
	}
	if d.Dashboard == nil {
		d.Dashboard = NoopDashboard{}
	}
	if d.Location == nil {
		d.Location = NoopLocation{}
	}
	if d.Calendar == nil {
		d.Calendar = NoopCalendar{}
	}
	if d.Transcription == nil {
		d.Transcription = NoopTranscription{}
	}
	if d.Audio == nil {
		d.Audio = NoopAudio{}
	}
	if d.ManagedStreams == nil {
		d.ManagedStreams = NoopStreams{}
	}
	if d.UnmanagedStreams == nil {
		d.UnmanagedStreams = NoopStreams{}
	}
	if d.Log == nil {
		d.Log = logger.New(logger.FromConfig("info", "text"))
	}
}

// UserSession is the hub for one user: the upstream glasses channel, the app
// sessions multiplexed under it, and the managers that mediate between them.
type UserSession struct {
	userID    string
	sessionID string
	createdAt time.Time

	log     *logger.Logger
	deps    Deps
	tracker *resource.Tracker

	subscriptions *SubscriptionManager
	microphone    *MicrophoneManager
	photos        *PhotoManager

	appTimings   appTimings
	langDebounce time.Duration

	mu               sync.RWMutex
	upstream         transport.Channel
	glassesConnected bool
	glassesModel     string
	apps             map[string]*AppSession
	lastDatetime     string
	audioPlayOrigins map[string]string
	langTimer        *resource.Timer
	lastLangSet      string
	disposed         bool
}

// New creates a session for a freshly authenticated glasses channel.
func New(userID string, upstream transport.Channel, deps Deps) *UserSession {
	return newUserSession(userID, upstream, deps,
		defaultAppTimings(), defaultMicTimings(), photoRequestTimeout, languageChangeDebounce)
}

func newUserSession(userID string, upstream transport.Channel, deps Deps,
	at appTimings, mt micTimings, photoTimeout, langDebounce time.Duration) *UserSession {

	deps.fillDefaults()

	s := &UserSession{
		userID:           userID,
		sessionID:        uuid.NewString(),
		createdAt:        time.Now(),
		deps:             deps,
		tracker:          resource.NewTracker(),
		appTimings:       at,
		langDebounce:     langDebounce,
		upstream:         upstream,
		apps:             make(map[string]*AppSession),
		audioPlayOrigins: make(map[string]string),
	}
	s.log = deps.Log.WithComponent("session").WithSession(userID, s.sessionID)
	s.subscriptions = newSubscriptionManager(s, s.log)
	s.microphone = newMicrophoneManager(s, mt, s.log)
	s.photos = newPhotoManager(s, photoTimeout, s.log)

	metrics.SessionsActive.Inc()
	s.log.Info("user session created")
	return s
}

// UserID returns the owning user's id.
func (s *UserSession) UserID() string { return s.userID }

// SessionID returns the session's unique id.
func (s *UserSession) SessionID() string { return s.sessionID }

// Subscriptions exposes the subscription manager.
func (s *UserSession) Subscriptions() *SubscriptionManager { return s.subscriptions }

// Microphone exposes the microphone manager.
func (s *UserSession) Microphone() *MicrophoneManager { return s.microphone }

// Photos exposes the photo manager.
func (s *UserSession) Photos() *PhotoManager { return s.photos }

// UpstreamOpen reports whether the glasses channel accepts writes.
func (s *UserSession) UpstreamOpen() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.upstream != nil && s.upstream.Open()
}

// SendToGlasses writes a command frame on the upstream channel.
func (s *UserSession) SendToGlasses(v any) error {
	s.mu.RLock()
	ch := s.upstream
	s.mu.RUnlock()
	if ch == nil || !ch.Open() {
		return ErrGlassesNotConnected
	}
	return ch.Send(v)
}

// app returns the app session for a package, or nil.
func (s *UserSession) app(packageName string) *AppSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.apps[packageName]
}

// ensureApp returns the live app session for a package, creating one in
// CONNECTING if none exists or the previous one stopped.
func (s *UserSession) ensureApp(packageName string) *AppSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	if app, ok := s.apps[packageName]; ok && app.State() != StateStopped {
		return app
	}
	app := newAppSession(s.userID, packageName, s.appTimings, appHooks{
		userOnline: s.UpstreamOpen,
		resurrect:  s.resurrectApp,
		stopped:    s.appStopped,
	}, s.log)
	s.apps[packageName] = app
	return app
}

// StartApp launches an app: catalog lookup, app session in CONNECTING, then
// the start webhook. The returned session may already be RUNNING if the app
// was started before.
func (s *UserSession) StartApp(ctx context.Context, packageName string) (*AppSession, error) {
	ctx = logger.WithPackage(logger.WithUserID(ctx, s.userID), packageName)

	reg, err := s.deps.Catalog.Get(ctx, packageName)
	if err != nil {
		return nil, err
	}

	app := s.ensureApp(packageName)
	if app.State() == StateRunning {
		return app, nil
	}

	if err := s.deps.Launcher.Launch(ctx, reg, s.userID); err != nil {
		s.log.LogError(ctx, err, "start webhook failed")
		app.Stop("start webhook failed")
		return nil, err
	}
	go s.watchAppConnect(app)
	s.notifyAppStateChange()
	return app, nil
}

// watchAppConnect abandons a started app whose SDK never opens its channel.
// Runs in its own goroutine; returns as soon as the channel opens.
func (s *UserSession) watchAppConnect(app *AppSession) {
	err := app.AwaitConnection(s.appTimings.connectTimeout)
	if err == nil || errors.Is(err, ErrAppSessionDisposed) {
		return
	}
	s.log.Warn("app did not connect after start webhook",
		"package", app.packageName, "error", err)
	app.Stop("app connection timeout")
}

// StopApp begins teardown for one app.
func (s *UserSession) StopApp(packageName, reason string) {
	if app := s.app(packageName); app != nil {
		app.Stop(reason)
	}
}

// resurrectApp re-dispatches the start webhook after a grace period expired
// with the user online. Runs from the grace timer goroutine.
func (s *UserSession) resurrectApp(packageName string) {
	ctx, cancel := context.WithTimeout(context.Background(), launchTimeout)
	defer cancel()
	ctx = logger.WithPackage(logger.WithUserID(ctx, s.userID), packageName)

	reg, err := s.deps.Catalog.Get(ctx, packageName)
	if err != nil {
		s.log.LogError(ctx, err, "cannot resurrect unregistered app")
		s.StopApp(packageName, "app no longer registered")
		return
	}
	if err := s.deps.Launcher.Launch(ctx, reg, s.userID); err != nil {
		s.log.LogError(ctx, err, "resurrection webhook failed")
	}
}

// appStopped runs once when an app session reaches STOPPED.
func (s *UserSession) appStopped(packageName string) {
	s.mu.Lock()
	if s.apps[packageName] != nil && s.apps[packageName].State() == StateStopped {
		delete(s.apps, packageName)
	}
	s.mu.Unlock()

	s.subscriptions.Remove(packageName)
	s.microphone.HandleSubscriptionChange()
	s.scheduleLanguageUpdate()
	s.notifyAppStateChange()
}

// HandleAppConnect binds an authenticated app channel to its session,
// creating the session if the app connected without a prior start (an
// SDK-initiated reconnect after a server restart).
func (s *UserSession) HandleAppConnect(packageName string, ch transport.Channel) (*AppSession, error) {
	app := s.ensureApp(packageName)
	if err := app.HandleConnect(ch); err != nil {
		return nil, err
	}
	s.notifyAppStateChange()
	return app, nil
}

// HandleAppDisconnect reacts to an app channel closing.
func (s *UserSession) HandleAppDisconnect(packageName string, ch transport.Channel) {
	if app := s.app(packageName); app != nil {
		app.HandleDisconnect(ch)
	}
	s.notifyAppStateChange()
}

// RunningApps returns the packages currently RUNNING, sorted.
func (s *UserSession) RunningApps() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.apps))
	for pkg, app := range s.apps {
		if app.State() == StateRunning {
			out = append(out, pkg)
		}
	}
	sort.Strings(out)
	return out
}

func (s *UserSession) notifyAppStateChange() {
	frame := wire.AppStateChange{
		Type:        wire.TypeAppStateChange,
		SessionID:   s.sessionID,
		RunningApps: s.RunningApps(),
		Timestamp:   wire.Now(),
	}
	if err := s.SendToGlasses(frame); err != nil && err != ErrGlassesNotConnected {
		s.log.Warn("failed to notify app state change", "error", err)
	}
}

// RelayToApps fans one upstream event out to every subscribed RUNNING app.
// Per-recipient failures are logged and counted, never propagated: one dead
// subscriber must not cost the others their frame.
func (s *UserSession) RelayToApps(event streams.Key, data json.RawMessage) {
	for _, sub := range s.subscriptions.SubscribersFor(event) {
		app := s.app(sub.PackageName)
		if app == nil || app.State() != StateRunning {
			continue
		}
		frame := wire.NewDataStream(app.SubSessionID(), sub.MatchedKey.String(), data)
		if err := app.Send(frame); err != nil {
			metrics.RelayErrors.Inc()
			s.log.Warn("relay send failed",
				"package", sub.PackageName, "stream", sub.MatchedKey.String(), "error", err)
			continue
		}
		metrics.FramesRelayed.Inc()
	}
}

// SendToApp delivers a frame to one app. A delivery attempt against a
// DORMANT app triggers resurrection; the frame itself is not queued.
func (s *UserSession) SendToApp(packageName string, v any) error {
	app := s.app(packageName)
	if app == nil {
		return transport.ErrChannelClosed
	}
	err := app.Send(v)
	if err != nil && app.State() == StateDormant {
		go s.resurrectApp(packageName)
	}
	return err
}

// HandleBinaryAudio is the hot path for raw audio from the glasses: hand to
// the audio pipeline, let the mic policy inspect it, and mirror the chunk to
// raw-PCM subscribers.
func (s *UserSession) HandleBinaryAudio(data []byte) {
	s.deps.Audio.HandleAudioChunk(data)
	s.microphone.OnAudioReceived()

	for _, sub := range s.subscriptions.SubscribersFor(streams.Key{Type: streams.TypePCM}) {
		app := s.app(sub.PackageName)
		if app == nil || app.State() != StateRunning {
			continue
		}
		if err := app.SendBinary(data); err != nil {
			metrics.RelayErrors.Inc()
		}
	}
}

// onSubscriptionsApplied runs the side effects of an applied subscription
// update: mic policy, (debounced) language reconfiguration, and the cached
// datetime push for new custom_message subscribers.
func (s *UserSession) onSubscriptionsApplied(packageName string, res SubscriptionResult) {
	s.microphone.HandleSubscriptionChange()
	s.scheduleLanguageUpdate()

	if s.newlySubscribed(res, streams.Key{Type: streams.TypeCustomMessage}) {
		s.pushDatetime(packageName)
	}
}

func (s *UserSession) newlySubscribed(res SubscriptionResult, key streams.Key) bool {
	inOld, inNew := false, false
	for _, k := range res.Old {
		if k == key || k.IsWildcard() {
			inOld = true
			break
		}
	}
	for _, k := range res.New {
		if k == key || k.IsWildcard() {
			inNew = true
			break
		}
	}
	return inNew && !inOld
}

// scheduleLanguageUpdate reconfigures the speech pipeline when the wanted
// language set changed, debounced so an app resubscribing to several
// languages causes one reconfiguration.
func (s *UserSession) scheduleLanguageUpdate() {
	langs := s.subscriptions.MinimalLanguageSubscriptions()
	sig := languageSignature(langs)

	s.mu.Lock()
	if sig == s.lastLangSet {
		s.mu.Unlock()
		return
	}
	if s.langTimer != nil {
		s.langTimer.Stop()
	}
	s.langTimer = s.tracker.AfterFunc(s.langDebounce, s.languageUpdateFired)
	s.mu.Unlock()
}

func (s *UserSession) languageUpdateFired() {
	langs := s.subscriptions.MinimalLanguageSubscriptions()
	sig := languageSignature(langs)

	s.mu.Lock()
	s.langTimer = nil
	if sig == s.lastLangSet {
		s.mu.Unlock()
		return
	}
	s.lastLangSet = sig
	s.mu.Unlock()

	s.log.Info("reconfiguring speech languages", "languages", sig)
	s.deps.Transcription.ConfigureLanguages(langs)
}

func languageSignature(langs []streams.Key) string {
	parts := make([]string, len(langs))
	for i, k := range langs {
		parts[i] = k.String()
	}
	return strings.Join(parts, ",")
}

// CacheDatetime stores the user's local datetime and pushes it to apps
// already subscribed to custom_message.
func (s *UserSession) CacheDatetime(datetime string) {
	s.mu.Lock()
	s.lastDatetime = datetime
	s.mu.Unlock()

	for _, sub := range s.subscriptions.SubscribersFor(streams.Key{Type: streams.TypeCustomMessage}) {
		s.pushDatetime(sub.PackageName)
	}
}

func (s *UserSession) pushDatetime(packageName string) {
	s.mu.RLock()
	datetime := s.lastDatetime
	s.mu.RUnlock()
	if datetime == "" {
		return
	}

	app := s.app(packageName)
	if app == nil || app.State() != StateRunning {
		return
	}
	frame := wire.CustomMessage{
		Type:      wire.TypeCustomMessage,
		SessionID: app.SubSessionID(),
		Action:    datetimeAction,
		Payload:   map[string]string{"datetime": datetime},
		Timestamp: wire.Now(),
	}
	if err := app.Send(frame); err != nil {
		s.log.Warn("failed to push datetime", "package", packageName, "error", err)
	}
}

// registerAudioPlay records which app originated an audio-play request so the
// response can be routed back to it alone.
func (s *UserSession) registerAudioPlay(requestID, packageName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audioPlayOrigins[requestID] = packageName
}

// resolveAudioPlay consumes the origin record for an audio-play response.
func (s *UserSession) resolveAudioPlay(requestID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pkg, ok := s.audioPlayOrigins[requestID]
	if ok {
		delete(s.audioPlayOrigins, requestID)
	}
	return pkg, ok
}

// setGlassesConnected records device connectivity reported on the upstream
// channel.
func (s *UserSession) setGlassesConnected(connected bool, model string) {
	s.mu.Lock()
	s.glassesConnected = connected
	if model != "" {
		s.glassesModel = model
	}
	s.mu.Unlock()
}

// GlassesConnected reports the device state as last reported upstream.
func (s *UserSession) GlassesConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.glassesConnected
}

// HandleUpstreamDisconnect reacts to the glasses channel closing: every
// RUNNING app enters its grace flow independently. The session itself stays
// in the registry; a reconnecting glasses channel replaces it.
func (s *UserSession) HandleUpstreamDisconnect() {
	s.mu.Lock()
	s.glassesConnected = false
	apps := make([]*AppSession, 0, len(s.apps))
	for _, app := range s.apps {
		apps = append(apps, app)
	}
	s.mu.Unlock()

	s.log.Info("glasses channel closed")
	for _, app := range apps {
		app.SuspendForUserOffline()
	}
}

// Dispose tears the session down: managers stopped, app sessions cleaned up,
// upstream channel closed. Idempotent.
func (s *UserSession) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	upstream := s.upstream
	s.upstream = nil
	apps := make([]*AppSession, 0, len(s.apps))
	for _, app := range s.apps {
		apps = append(apps, app)
	}
	s.apps = make(map[string]*AppSession)
	s.mu.Unlock()

	s.microphone.Stop()
	s.photos.Stop()
	for _, app := range apps {
		app.Cleanup()
	}
	s.tracker.Dispose()

	if upstream != nil && upstream.Open() {
		upstream.Close(closeGoingAway, "session disposed")
	}

	metrics.SessionsActive.Dec()
	s.log.Info("user session disposed")
}

// Disposed reports whether Dispose has run.
func (s *UserSession) Disposed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.disposed
}
