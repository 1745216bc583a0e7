package session

import (
	"strconv"
	"sync"
	"time"

	"github.com/lenslink/cloud/internal/logger"
	"github.com/lenslink/cloud/internal/metrics"
	"github.com/lenslink/cloud/internal/resource"
	"github.com/lenslink/cloud/internal/wire"
)

// micFrame is the mic state as last commanded (or about to be commanded).
type micFrame struct {
	enabled   bool
	required  []wire.RequiredData
	bypassVad bool
}

func (f micFrame) equal(o micFrame) bool {
	if f.enabled != o.enabled || f.bypassVad != o.bypassVad {
		return false
	}
	if len(f.required) != len(o.required) {
		return false
	}
	for i := range f.required {
		if f.required[i] != o.required[i] {
			return false
		}
	}
	return true
}

// micSnapshot caches the derived subscription booleans so the hot audio path
// does not hit the subscription index on every chunk.
type micSnapshot struct {
	hasPCM           bool
	hasTranscription bool
	takenAt          time.Time
}

func (s micSnapshot) hasMedia() bool { return s.hasPCM || s.hasTranscription }

// MicrophoneManager decides when the glasses microphone is on. It debounces
// subscription churn, coalesces redundant sends, keeps the state alive with a
// periodic re-send, and corrects drift (audio arriving without subscribers,
// subscribers without audio).
//
// State transitions that reach the wire always go through sendLocked so the
// keep-alive lifecycle and the last-sent record stay consistent.
type MicrophoneManager struct {
	session *UserSession
	log     *logger.Logger
	timings micTimings
	tracker *resource.Tracker

	mu              sync.Mutex
	snapshot        micSnapshot
	lastSent        *micFrame
	pending         *micFrame
	sendTimer       *resource.Timer
	changeTimer     *resource.Timer
	holdDownTimer   *resource.Timer
	keepAliveCancel func()
	audioGuardUntil time.Time
}

func newMicrophoneManager(s *UserSession, timings micTimings, log *logger.Logger) *MicrophoneManager {
	return &MicrophoneManager{
		session: s,
		log:     log.WithComponent("microphone"),
		timings: timings,
		tracker: resource.NewTracker(),
	}
}

// HandleSubscriptionChange schedules a policy recomputation. Calls within the
// debounce window collapse into one recomputation against fresh state.
func (m *MicrophoneManager) HandleSubscriptionChange() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.changeTimer != nil {
		m.changeTimer.Stop()
	}
	m.changeTimer = m.tracker.AfterFunc(m.timings.subscriptionDebounce, m.subscriptionChangeFired)
}

func (m *MicrophoneManager) subscriptionChangeFired() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.changeTimer = nil
	m.refreshSnapshotLocked(true)
	desired := m.desiredLocked()

	if desired.enabled {
		if m.holdDownTimer != nil {
			m.holdDownTimer.Stop()
			m.holdDownTimer = nil
		}
		m.scheduleSendLocked(desired, m.timings.sendDebounce)
		return
	}

	// No media subscriptions left. Hold the mic on briefly; an app
	// reconnecting through its grace period would otherwise bounce it.
	if m.lastSent == nil || !m.lastSent.enabled {
		return
	}
	if m.holdDownTimer == nil {
		m.holdDownTimer = m.tracker.AfterFunc(m.timings.offHoldDown, m.holdDownFired)
	}
}

func (m *MicrophoneManager) holdDownFired() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.holdDownTimer = nil
	m.refreshSnapshotLocked(true)
	desired := m.desiredLocked()
	if !desired.enabled {
		m.scheduleSendLocked(desired, m.timings.sendDebounce)
	}
}

// HandleConnectionStateChange forces a full resync when the glasses connect
// or reconnect. Not debounced and not deduplicated: device state after a
// reconnect is unknown, so the current state is always re-sent.
func (m *MicrophoneManager) HandleConnectionStateChange(status string) {
	if status != "CONNECTED" && status != "RECONNECTED" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshSnapshotLocked(true)
	m.cancelPendingSendLocked()
	m.sendLocked(m.desiredLocked())
}

// OnAudioReceived is called from the binary audio path. If audio arrives with
// no media subscriptions the mic is commanded off, at most once per guard
// window; if subscribers exist but the mic was never enabled, it is resynced.
func (m *MicrophoneManager) OnAudioReceived() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if now.Before(m.audioGuardUntil) {
		return
	}
	m.refreshSnapshotLocked(false)

	if !m.snapshot.hasMedia() {
		m.audioGuardUntil = now.Add(m.timings.unauthorizedAudioGuard)
		m.log.Warn("audio received with no media subscriptions, disabling microphone")
		m.cancelPendingSendLocked()
		m.sendLocked(micFrame{enabled: false})
		return
	}
	if m.lastSent == nil || !m.lastSent.enabled {
		m.sendLocked(m.desiredLocked())
	}
}

// Stop tears down all timers. Called on session disposal.
func (m *MicrophoneManager) Stop() {
	m.tracker.Dispose()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelPendingSendLocked()
	if m.changeTimer != nil {
		m.changeTimer.Stop()
		m.changeTimer = nil
	}
	if m.holdDownTimer != nil {
		m.holdDownTimer.Stop()
		m.holdDownTimer = nil
	}
	m.stopKeepAliveLocked()
}

func (m *MicrophoneManager) refreshSnapshotLocked(force bool) {
	if !force && !m.snapshot.takenAt.IsZero() &&
		time.Since(m.snapshot.takenAt) < m.timings.snapshotMaxAge {
		return
	}
	pcm, transcription := m.session.subscriptions.HasMediaSubscriptions()
	m.snapshot = micSnapshot{hasPCM: pcm, hasTranscription: transcription, takenAt: time.Now()}
}

// desiredLocked derives the mic command from the snapshot: on whenever any
// media subscription exists, raw PCM requested from the device either way
// (transcription runs server-side), VAD gating bypassed only when an app
// wants the raw stream.
func (m *MicrophoneManager) desiredLocked() micFrame {
	if !m.snapshot.hasMedia() {
		return micFrame{enabled: false}
	}
	return micFrame{
		enabled:   true,
		required:  []wire.RequiredData{wire.RequiredDataPCM},
		bypassVad: m.snapshot.hasPCM,
	}
}

// scheduleSendLocked coalesces a send. The first-ever send goes out
// immediately; later sends wait out the debounce so rapid flapping collapses
// to the final state. A send identical to the last one is dropped.
func (m *MicrophoneManager) scheduleSendLocked(f micFrame, delay time.Duration) {
	if m.pending == nil && m.lastSent != nil && m.lastSent.equal(f) {
		return
	}
	if m.lastSent == nil || delay <= 0 {
		m.cancelPendingSendLocked()
		m.sendLocked(f)
		return
	}
	m.pending = &f
	if m.sendTimer == nil {
		m.sendTimer = m.tracker.AfterFunc(delay, m.sendTimerFired)
	}
}

func (m *MicrophoneManager) sendTimerFired() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendTimer = nil
	pending := m.pending
	m.pending = nil
	if pending == nil {
		return
	}
	if m.lastSent != nil && m.lastSent.equal(*pending) {
		return
	}
	m.sendLocked(*pending)
}

func (m *MicrophoneManager) cancelPendingSendLocked() {
	if m.sendTimer != nil {
		m.sendTimer.Stop()
		m.sendTimer = nil
	}
	m.pending = nil
}

func (m *MicrophoneManager) sendLocked(f micFrame) {
	cmd := wire.NewMicrophoneStateChange(m.session.sessionID, f.enabled, f.required, f.bypassVad)
	if err := m.session.SendToGlasses(cmd); err != nil {
		m.log.Warn("failed to send microphone state", "enabled", f.enabled, "error", err)
		return
	}
	m.lastSent = &f
	metrics.MicStateSent.WithLabelValues(strconv.FormatBool(f.enabled)).Inc()
	m.log.Info("microphone state sent", "enabled", f.enabled, "bypassVad", f.bypassVad)

	if f.enabled {
		m.startKeepAliveLocked()
	} else {
		m.stopKeepAliveLocked()
	}
}

// startKeepAliveLocked re-sends the mic state periodically while enabled and
// corrects drift against a fresh snapshot on every tick.
func (m *MicrophoneManager) startKeepAliveLocked() {
	if m.keepAliveCancel != nil {
		return
	}
	m.keepAliveCancel = m.tracker.SetInterval(m.timings.keepAliveInterval, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.refreshSnapshotLocked(true)
		desired := m.desiredLocked()

		if m.lastSent == nil || desired.enabled != m.lastSent.enabled {
			m.log.Info("microphone state drift detected, resyncing")
			m.cancelPendingSendLocked()
			m.sendLocked(desired)
			return
		}
		if m.lastSent.enabled {
			m.sendLocked(*m.lastSent)
		}
	})
}

func (m *MicrophoneManager) stopKeepAliveLocked() {
	if m.keepAliveCancel != nil {
		m.keepAliveCancel()
		m.keepAliveCancel = nil
	}
}
