package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/lenslink/cloud/internal/logger"
	"github.com/lenslink/cloud/internal/metrics"
	"github.com/lenslink/cloud/internal/resource"
	"github.com/lenslink/cloud/internal/streams"
	"github.com/lenslink/cloud/internal/transport"
	"github.com/lenslink/cloud/internal/wire"
)

// closeGoingAway is sent on app channels torn down because the user went
// offline or the session was disposed.
const closeGoingAway = 1001

// SubscriptionChange is one entry in the per-app update history.
type SubscriptionChange struct {
	At      time.Time
	Applied bool
	Keys    []streams.Key
}

// appHooks are the callbacks an AppSession makes into its owning session.
// They are plain funcs rather than a back-pointer so the state machine can be
// tested without a full session.
type appHooks struct {
	// userOnline reports whether the glasses channel is up.
	userOnline func() bool
	// resurrect re-dispatches the start webhook after grace expires online.
	resurrect func(packageName string)
	// stopped is called once when the session reaches STOPPED.
	stopped func(packageName string)
}

type queuedOp struct {
	fn   func() error
	done chan error
}

// AppSession is the server-side state for one app within one user session.
//
// All lifecycle transitions and subscription mutations go through a single
// ordered operation queue (Enqueue) so two racing updates apply in arrival
// order; reads take the mutex directly.
type AppSession struct {
	userID       string
	packageName  string
	subSessionID string

	log     *logger.Logger
	timings appTimings
	tracker *resource.Tracker
	hooks   appHooks

	ops      chan queuedOp
	stop     chan struct{}
	stopOnce sync.Once

	mu                sync.Mutex
	state             AppState
	channel           transport.Channel
	subscriptions     []streams.Key
	locationRate      wire.LocationRate
	history           []SubscriptionChange
	lastConnectAt     time.Time
	ownershipReleased bool
	graceTimer        *resource.Timer
	heartbeatCancel   func()
	pendingConn       chan struct{}
}

func newAppSession(userID, packageName string, timings appTimings, hooks appHooks, log *logger.Logger) *AppSession {
	a := &AppSession{
		userID:       userID,
		packageName:  packageName,
		subSessionID: userID + "-" + packageName,
		log:          log.WithComponent("app_session").WithFields(map[string]interface{}{"package": packageName}),
		timings:      timings,
		tracker:      resource.NewTracker(),
		hooks:        hooks,
		ops:          make(chan queuedOp),
		stop:         make(chan struct{}),
		state:        StateConnecting,
		pendingConn:  make(chan struct{}),
	}
	metrics.AppSessionsActive.WithLabelValues(string(StateConnecting)).Inc()
	go a.runQueue()
	return a
}

// PackageName returns the app's package name.
func (a *AppSession) PackageName() string { return a.packageName }

// SubSessionID is the per-(session, package) id stamped onto frames sent to
// this app.
func (a *AppSession) SubSessionID() string { return a.subSessionID }

// State returns the current lifecycle state.
func (a *AppSession) State() AppState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Subscriptions returns a copy of the current subscription set.
func (a *AppSession) Subscriptions() []streams.Key {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]streams.Key, len(a.subscriptions))
	copy(out, a.subscriptions)
	return out
}

// LocationRate returns the requested location cadence, empty when the app has
// no location_stream subscription.
func (a *AppSession) LocationRate() wire.LocationRate {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.locationRate
}

// History returns a copy of the bounded subscription-change history.
func (a *AppSession) History() []SubscriptionChange {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]SubscriptionChange, len(a.history))
	copy(out, a.history)
	return out
}

// Enqueue runs fn on the session's ordered operation queue and returns its
// error. Operations submitted from one goroutine run in submission order. A
// panicking operation is contained; it fails that operation only.
func (a *AppSession) Enqueue(fn func() error) error {
	op := queuedOp{fn: fn, done: make(chan error, 1)}
	select {
	case a.ops <- op:
	case <-a.stop:
		return ErrAppSessionDisposed
	}
	select {
	case err := <-op.done:
		return err
	case <-a.stop:
		return ErrAppSessionDisposed
	}
}

func (a *AppSession) runQueue() {
	for {
		select {
		case op := <-a.ops:
			op.done <- a.runOp(op.fn)
		case <-a.stop:
			return
		}
	}
}

func (a *AppSession) runOp(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("queued operation panicked: %v", r)
			a.log.Error("queued operation panicked", "panic", r)
		}
	}()
	return fn()
}

// HandleConnect binds a freshly authenticated channel to the session and
// moves it to RUNNING. Covers the initial connect, a reconnect inside the
// grace period, and the post-resurrection connect.
func (a *AppSession) HandleConnect(ch transport.Channel) error {
	a.mu.Lock()
	if a.state == StateStopping || a.state == StateStopped {
		a.mu.Unlock()
		return fmt.Errorf("app %s is %s", a.packageName, a.state)
	}

	if a.graceTimer != nil {
		a.graceTimer.Stop()
		a.graceTimer = nil
	}
	if old := a.channel; old != nil && old != ch && old.Open() {
		old.Close(closeGoingAway, "superseded by new connection")
	}
	a.channel = ch
	a.ownershipReleased = false
	a.lastConnectAt = time.Now()
	a.setStateLocked(StateRunning)
	if a.pendingConn != nil {
		close(a.pendingConn)
		a.pendingConn = nil
	}
	a.startHeartbeatLocked()
	a.mu.Unlock()

	a.log.Info("app channel connected")
	return nil
}

// AwaitConnection blocks until the channel opens or the timeout elapses.
// Used by the start flow to report whether the webhook produced a connection.
func (a *AppSession) AwaitConnection(timeout time.Duration) error {
	a.mu.Lock()
	pending := a.pendingConn
	a.mu.Unlock()
	if pending == nil {
		return nil
	}
	select {
	case <-pending:
		return nil
	case <-a.stop:
		return ErrAppSessionDisposed
	case <-time.After(timeout):
		return fmt.Errorf("app %s did not connect within %s", a.packageName, timeout)
	}
}

// Send writes a frame to the app channel. Returns ErrChannelClosed when the
// session has no open channel (DORMANT, GRACE_PERIOD, ...).
func (a *AppSession) Send(v any) error {
	a.mu.Lock()
	ch := a.channel
	a.mu.Unlock()
	if ch == nil || !ch.Open() {
		return transport.ErrChannelClosed
	}
	return ch.Send(v)
}

// SendBinary writes a binary frame (raw PCM) to the app channel.
func (a *AppSession) SendBinary(data []byte) error {
	a.mu.Lock()
	ch := a.channel
	a.mu.Unlock()
	if ch == nil || !ch.Open() {
		return transport.ErrChannelClosed
	}
	return ch.SendBinary(data)
}

// SendError writes a CONNECTION_ERROR frame and, if closeChannel, tears the
// channel down with the policy-violation close code.
func (a *AppSession) SendError(code wire.ErrorCode, message string, closeChannel bool) {
	metrics.ConnectionErrors.WithLabelValues(string(code)).Inc()
	if err := a.Send(wire.NewConnectionError(code, message)); err != nil {
		a.log.Warn("failed to deliver connection error", "code", code, "error", err)
	}
	if closeChannel {
		a.mu.Lock()
		ch := a.channel
		a.mu.Unlock()
		if ch != nil {
			ch.Close(wire.ClosePolicyViolation, string(code))
		}
	}
}

// ReleaseOwnership marks the session for handoff: the next channel close
// parks it DORMANT instead of arming the grace timer.
func (a *AppSession) ReleaseOwnership() {
	a.mu.Lock()
	a.ownershipReleased = true
	a.mu.Unlock()
	a.log.Info("app released channel ownership")
}

// HandleDisconnect reacts to the app channel closing. ch identifies which
// connection closed; a close event from a superseded channel is ignored.
func (a *AppSession) HandleDisconnect(ch transport.Channel) {
	a.mu.Lock()
	if ch != nil && a.channel != nil && a.channel != ch {
		a.mu.Unlock()
		return
	}
	a.channel = nil
	a.stopHeartbeatLocked()

	switch a.state {
	case StateStopping:
		a.finalizeStoppedLocked()
		return

	case StateRunning, StateConnecting, StateResurrecting:
		if a.ownershipReleased {
			a.ownershipReleased = false
			a.setStateLocked(StateDormant)
			a.mu.Unlock()
			a.log.Info("app parked dormant after ownership release")
			return
		}
		a.setStateLocked(StateGracePeriod)
		a.graceTimer = a.tracker.AfterFunc(a.timings.gracePeriod, a.graceExpired)
		a.mu.Unlock()
		a.log.Info("app channel closed, grace period armed")
		return

	default:
		a.mu.Unlock()
	}
}

func (a *AppSession) graceExpired() {
	a.mu.Lock()
	if a.state != StateGracePeriod {
		a.mu.Unlock()
		return
	}
	a.graceTimer = nil
	a.mu.Unlock()

	// Lock order is session before app session; the online check takes the
	// session lock, so it runs unlocked here.
	online := a.hooks.userOnline != nil && a.hooks.userOnline()

	a.mu.Lock()
	if a.state != StateGracePeriod {
		a.mu.Unlock()
		return
	}
	if !online {
		a.setStateLocked(StateDormant)
		a.mu.Unlock()
		a.log.Info("grace expired with user offline, app parked dormant")
		return
	}

	a.setStateLocked(StateResurrecting)
	a.mu.Unlock()
	a.log.Info("grace expired with user online, resurrecting app")
	if a.hooks.resurrect != nil {
		a.hooks.resurrect(a.packageName)
	}
}

// SuspendForUserOffline moves a RUNNING session into the grace flow when the
// upstream glasses channel drops. The app channel stays open; if the user does
// not come back before grace expires the session parks DORMANT.
func (a *AppSession) SuspendForUserOffline() {
	a.mu.Lock()
	if a.state != StateRunning {
		a.mu.Unlock()
		return
	}
	a.setStateLocked(StateGracePeriod)
	a.graceTimer = a.tracker.AfterFunc(a.timings.gracePeriod, a.graceExpired)
	a.mu.Unlock()
}

// Resume moves a GRACE_PERIOD session whose channel is still open back to
// RUNNING (upstream came back before grace expired).
func (a *AppSession) Resume() {
	a.mu.Lock()
	if a.state != StateGracePeriod || a.channel == nil {
		a.mu.Unlock()
		return
	}
	if a.graceTimer != nil {
		a.graceTimer.Stop()
		a.graceTimer = nil
	}
	a.setStateLocked(StateRunning)
	a.mu.Unlock()
}

// Stop begins an explicit teardown. If a channel is open it is closed and the
// close event finalizes the session; otherwise the session finalizes now.
func (a *AppSession) Stop(reason string) {
	a.mu.Lock()
	if a.state == StateStopped || a.state == StateStopping {
		a.mu.Unlock()
		return
	}
	if a.graceTimer != nil {
		a.graceTimer.Stop()
		a.graceTimer = nil
	}
	a.setStateLocked(StateStopping)
	ch := a.channel
	if ch == nil {
		a.finalizeStoppedLocked()
		return
	}
	a.mu.Unlock()

	a.log.Info("stopping app", "reason", reason)
	ch.Close(closeGoingAway, reason)
}

// finalizeStoppedLocked completes teardown. Called with mu held; releases it.
func (a *AppSession) finalizeStoppedLocked() {
	a.stopHeartbeatLocked()
	a.setStateLocked(StateStopped)
	a.channel = nil
	a.subscriptions = nil
	a.locationRate = ""
	pending := a.pendingConn
	a.pendingConn = nil
	a.mu.Unlock()

	if pending != nil {
		close(pending)
	}
	a.stopOnce.Do(func() { close(a.stop) })
	a.tracker.Dispose()
	metrics.AppSessionsActive.WithLabelValues(string(StateStopped)).Dec()
	a.log.Info("app stopped")

	if a.hooks.stopped != nil {
		a.hooks.stopped(a.packageName)
	}
}

// Cleanup force-stops the session without waiting for a channel close event.
// Idempotent; used on session disposal.
func (a *AppSession) Cleanup() {
	a.mu.Lock()
	if a.state == StateStopped {
		a.mu.Unlock()
		return
	}
	ch := a.channel
	a.finalizeStoppedLocked()

	if ch != nil && ch.Open() {
		ch.Close(closeGoingAway, "session disposed")
	}
}

// applySubscriptions replaces the subscription set. Runs on the operation
// queue via the subscription manager. An empty set inside the post-connect
// window is refused so an SDK restoring state cannot tear down live streams.
func (a *AppSession) applySubscriptions(keys []streams.Key, rate wire.LocationRate) SubscriptionResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	old := make([]streams.Key, len(a.subscriptions))
	copy(old, a.subscriptions)

	if len(keys) == 0 && !a.lastConnectAt.IsZero() &&
		time.Since(a.lastConnectAt) < a.timings.subscriptionGraceWindow {
		a.appendHistoryLocked(SubscriptionChange{At: time.Now(), Applied: false, Keys: keys})
		a.log.Warn("refused empty subscription update inside reconnect window")
		return SubscriptionResult{
			Applied: false,
			Reason:  ErrEmptySubscriptionsRefused.Error(),
			Old:     old,
			New:     old,
		}
	}

	a.subscriptions = keys

	hasLocation := false
	for _, k := range keys {
		if k.Type == streams.TypeLocationStream {
			hasLocation = true
			break
		}
	}
	switch {
	case !hasLocation:
		a.locationRate = ""
	case rate != "":
		a.locationRate = rate
	}

	a.appendHistoryLocked(SubscriptionChange{At: time.Now(), Applied: true, Keys: keys})
	return SubscriptionResult{Applied: true, Old: old, New: keys}
}

func (a *AppSession) appendHistoryLocked(c SubscriptionChange) {
	a.history = append(a.history, c)
	if len(a.history) > subscriptionHistoryLimit {
		a.history = a.history[len(a.history)-subscriptionHistoryLimit:]
	}
}

func (a *AppSession) startHeartbeatLocked() {
	a.stopHeartbeatLocked()
	a.heartbeatCancel = a.tracker.SetInterval(a.timings.heartbeatInterval, func() {
		a.mu.Lock()
		ch := a.channel
		a.mu.Unlock()
		if ch == nil || !ch.Open() {
			return
		}
		if err := ch.Ping(); err != nil {
			a.log.Warn("heartbeat ping failed", "error", err)
		}
	})
}

func (a *AppSession) stopHeartbeatLocked() {
	if a.heartbeatCancel != nil {
		a.heartbeatCancel()
		a.heartbeatCancel = nil
	}
}

func (a *AppSession) setStateLocked(next AppState) {
	if a.state == next {
		return
	}
	metrics.AppSessionsActive.WithLabelValues(string(a.state)).Dec()
	metrics.AppSessionsActive.WithLabelValues(string(next)).Inc()
	a.state = next
}
