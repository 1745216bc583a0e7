package session

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lenslink/cloud/internal/streams"
	"github.com/lenslink/cloud/internal/wire"
)

func newTestAppSession(t *testing.T, hooks appHooks) *AppSession {
	t.Helper()
	a := newAppSession(testUser, testPkg, shortAppTimings(), hooks, testLogger())
	t.Cleanup(a.Cleanup)
	return a
}

func TestAppSessionConnectAndReconnectWithinGrace(t *testing.T) {
	a := newTestAppSession(t, appHooks{userOnline: func() bool { return true }})
	require.Equal(t, StateConnecting, a.State())

	ch := newFakeChannel()
	require.NoError(t, a.HandleConnect(ch))
	require.Equal(t, StateRunning, a.State())

	ch.Close(1000, "bye")
	a.HandleDisconnect(ch)
	require.Equal(t, StateGracePeriod, a.State())

	// Reconnect before grace expires; no resurrection should happen.
	ch2 := newFakeChannel()
	require.NoError(t, a.HandleConnect(ch2))
	require.Equal(t, StateRunning, a.State())

	neverWithin(t, 3*shortAppTimings().gracePeriod, func() bool {
		return a.State() != StateRunning
	}, "session left RUNNING after reconnect")
}

func TestAppSessionGraceExpiresOffline(t *testing.T) {
	a := newTestAppSession(t, appHooks{userOnline: func() bool { return false }})
	ch := newFakeChannel()
	require.NoError(t, a.HandleConnect(ch))

	ch.Close(1000, "bye")
	a.HandleDisconnect(ch)

	waitFor(t, testTimeout, func() bool { return a.State() == StateDormant },
		"grace expiry with user offline should park DORMANT")
}

func TestAppSessionGraceExpiresOnlineResurrects(t *testing.T) {
	var resurrected atomic.Int32
	a := newTestAppSession(t, appHooks{
		userOnline: func() bool { return true },
		resurrect:  func(string) { resurrected.Add(1) },
	})
	ch := newFakeChannel()
	require.NoError(t, a.HandleConnect(ch))

	ch.Close(1000, "bye")
	a.HandleDisconnect(ch)

	waitFor(t, testTimeout, func() bool { return a.State() == StateResurrecting },
		"grace expiry with user online should resurrect")
	waitFor(t, testTimeout, func() bool { return resurrected.Load() == 1 },
		"resurrect hook should run once")

	// The post-resurrection connect brings it back to RUNNING.
	require.NoError(t, a.HandleConnect(newFakeChannel()))
	require.Equal(t, StateRunning, a.State())
}

func TestAppSessionOwnershipReleaseParksDormant(t *testing.T) {
	var resurrected atomic.Int32
	a := newTestAppSession(t, appHooks{
		userOnline: func() bool { return true },
		resurrect:  func(string) { resurrected.Add(1) },
	})
	ch := newFakeChannel()
	require.NoError(t, a.HandleConnect(ch))

	a.ReleaseOwnership()
	ch.Close(1000, "handoff")
	a.HandleDisconnect(ch)

	require.Equal(t, StateDormant, a.State())
	neverWithin(t, 3*shortAppTimings().gracePeriod, func() bool {
		return resurrected.Load() != 0
	}, "released session must not resurrect")

	// A fresh connect (the new owner) resumes normal lifecycle.
	ch2 := newFakeChannel()
	require.NoError(t, a.HandleConnect(ch2))
	require.Equal(t, StateRunning, a.State())

	// The release marker must not leak into the next disconnect.
	ch2.Close(1000, "bye")
	a.HandleDisconnect(ch2)
	require.Equal(t, StateGracePeriod, a.State())
}

func TestAppSessionStaleDisconnectIgnored(t *testing.T) {
	a := newTestAppSession(t, appHooks{userOnline: func() bool { return true }})
	ch := newFakeChannel()
	require.NoError(t, a.HandleConnect(ch))

	ch2 := newFakeChannel()
	require.NoError(t, a.HandleConnect(ch2))

	// The superseded channel closing must not disturb the live one.
	a.HandleDisconnect(ch)
	require.Equal(t, StateRunning, a.State())
}

func TestAppSessionEmptySubscriptionsRefusedAfterReconnect(t *testing.T) {
	a := newTestAppSession(t, appHooks{})
	require.NoError(t, a.HandleConnect(newFakeChannel()))

	keys, err := streams.ParseList([]string{"transcription:en-US", "vad"})
	require.NoError(t, err)

	var res SubscriptionResult
	require.NoError(t, a.Enqueue(func() error {
		res = a.applySubscriptions(keys, "")
		return nil
	}))
	require.True(t, res.Applied)

	// Empty update inside the window is refused and the old set survives.
	require.NoError(t, a.Enqueue(func() error {
		res = a.applySubscriptions(nil, "")
		return nil
	}))
	assert.False(t, res.Applied)
	assert.Equal(t, keys, a.Subscriptions())

	// After the window the same update is honored.
	time.Sleep(shortAppTimings().subscriptionGraceWindow + 10*time.Millisecond)
	require.NoError(t, a.Enqueue(func() error {
		res = a.applySubscriptions(nil, "")
		return nil
	}))
	assert.True(t, res.Applied)
	assert.Empty(t, a.Subscriptions())
}

func TestAppSessionLocationRateClearedWithSubscription(t *testing.T) {
	a := newTestAppSession(t, appHooks{})
	require.NoError(t, a.HandleConnect(newFakeChannel()))

	keys, err := streams.ParseList([]string{"location_stream"})
	require.NoError(t, err)
	require.NoError(t, a.Enqueue(func() error {
		a.applySubscriptions(keys, wire.LocationRateHigh)
		return nil
	}))
	require.Equal(t, wire.LocationRateHigh, a.LocationRate())

	time.Sleep(shortAppTimings().subscriptionGraceWindow + 10*time.Millisecond)
	other, err := streams.ParseList([]string{"vad"})
	require.NoError(t, err)
	require.NoError(t, a.Enqueue(func() error {
		a.applySubscriptions(other, "")
		return nil
	}))
	assert.Empty(t, string(a.LocationRate()))
}

func TestAppSessionEnqueueOrderingAndPanicContainment(t *testing.T) {
	a := newTestAppSession(t, appHooks{})

	var order []int
	for i := 0; i < 20; i++ {
		i := i
		require.NoError(t, a.Enqueue(func() error {
			order = append(order, i)
			return nil
		}))
	}
	for i, v := range order {
		require.Equal(t, i, v, "operations must apply in submission order")
	}

	err := a.Enqueue(func() error { panic("boom") })
	require.Error(t, err)

	// The queue survives a panicking operation.
	require.NoError(t, a.Enqueue(func() error { return nil }))
}

func TestAppSessionHistoryBounded(t *testing.T) {
	a := newTestAppSession(t, appHooks{})
	keys, err := streams.ParseList([]string{"vad"})
	require.NoError(t, err)

	for i := 0; i < subscriptionHistoryLimit+10; i++ {
		require.NoError(t, a.Enqueue(func() error {
			a.applySubscriptions(keys, "")
			return nil
		}))
	}
	assert.Len(t, a.History(), subscriptionHistoryLimit)
}

func TestAppSessionCleanupIdempotent(t *testing.T) {
	a := newAppSession(testUser, testPkg, shortAppTimings(), appHooks{}, testLogger())
	ch := newFakeChannel()
	require.NoError(t, a.HandleConnect(ch))

	a.Cleanup()
	a.Cleanup()

	assert.Equal(t, StateStopped, a.State())
	assert.False(t, ch.Open())
	assert.Empty(t, a.Subscriptions())

	err := a.Enqueue(func() error { return nil })
	assert.True(t, errors.Is(err, ErrAppSessionDisposed))
}

func TestAppSessionStopFinalizesOnDisconnect(t *testing.T) {
	var stopped atomic.Int32
	a := newTestAppSession(t, appHooks{stopped: func(string) { stopped.Add(1) }})
	ch := newFakeChannel()
	require.NoError(t, a.HandleConnect(ch))

	a.Stop("test stop")
	require.Equal(t, StateStopping, a.State())
	require.False(t, ch.Open())

	a.HandleDisconnect(ch)
	require.Equal(t, StateStopped, a.State())
	require.Equal(t, int32(1), stopped.Load())
}

func TestAppSessionHeartbeatPingsWhileRunning(t *testing.T) {
	a := newTestAppSession(t, appHooks{})
	ch := newFakeChannel()
	require.NoError(t, a.HandleConnect(ch))

	waitFor(t, testTimeout, func() bool {
		ch.mu.Lock()
		defer ch.mu.Unlock()
		return ch.pings >= 2
	}, "heartbeat should ping the channel periodically")
}
