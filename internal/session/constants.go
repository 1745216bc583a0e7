package session

import "time"

// Timing policy for the session core. These literals are part of the
// platform contract with the SDK and the glasses firmware; change them only
// in lockstep with both.
const (
	// heartbeatInterval is how often an app channel is pinged while RUNNING.
	heartbeatInterval = 10 * time.Second

	// gracePeriod is how long a closed app channel may reconnect before the
	// app is resurrected or parked.
	gracePeriod = 5 * time.Second

	// subscriptionGraceWindow is how long after an app reconnect an empty
	// subscription update is refused. SDKs momentarily report an empty set
	// while they restore state; honoring it would tear down streams.
	subscriptionGraceWindow = 8 * time.Second

	// subscriptionChangeDebounce delays mic policy recomputation after a
	// subscription change.
	subscriptionChangeDebounce = 100 * time.Millisecond

	// languageChangeDebounce delays the transcription reconfiguration after
	// the language set changes.
	languageChangeDebounce = 500 * time.Millisecond

	// micSendDebounce coalesces mic-state sends.
	micSendDebounce = 1 * time.Second

	// micKeepAliveInterval re-sends the current mic state while enabled.
	micKeepAliveInterval = 10 * time.Second

	// micOffHoldDown is how long hasMedia must stay false before the mic is
	// actually turned off. Absorbs transient reconnect churn.
	micOffHoldDown = 3 * time.Second

	// unauthorizedAudioGuard suppresses repeated mic-off commands while
	// unauthorized audio frames keep arriving.
	unauthorizedAudioGuard = 5 * time.Second

	// subscriptionSnapshotMaxAge bounds how stale the mic manager's cached
	// subscription snapshot may be.
	subscriptionSnapshotMaxAge = 5 * time.Second

	// photoRequestTimeout bounds how long a photo request stays pending.
	photoRequestTimeout = 30 * time.Second

	// appConnectTimeout is how long after the start webhook the SDK may take
	// to open its channel before the start is abandoned.
	appConnectTimeout = 30 * time.Second

	// subscriptionHistoryLimit bounds the per-app update history.
	subscriptionHistoryLimit = 50
)

// appTimings groups the AppSession timers so tests can shrink them.
type appTimings struct {
	heartbeatInterval       time.Duration
	gracePeriod             time.Duration
	subscriptionGraceWindow time.Duration
	connectTimeout          time.Duration
}

func defaultAppTimings() appTimings {
	return appTimings{
		heartbeatInterval:       heartbeatInterval,
		gracePeriod:             gracePeriod,
		subscriptionGraceWindow: subscriptionGraceWindow,
		connectTimeout:          appConnectTimeout,
	}
}

// micTimings groups the MicrophoneManager timers so tests can shrink them.
type micTimings struct {
	sendDebounce           time.Duration
	subscriptionDebounce   time.Duration
	keepAliveInterval      time.Duration
	offHoldDown            time.Duration
	unauthorizedAudioGuard time.Duration
	snapshotMaxAge         time.Duration
}

func defaultMicTimings() micTimings {
	return micTimings{
		sendDebounce:           micSendDebounce,
		subscriptionDebounce:   subscriptionChangeDebounce,
		keepAliveInterval:      micKeepAliveInterval,
		offHoldDown:            micOffHoldDown,
		unauthorizedAudioGuard: unauthorizedAudioGuard,
		snapshotMaxAge:         subscriptionSnapshotMaxAge,
	}
}
