package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lenslink/cloud/internal/catalog"
)

func TestStartAppDispatchesWebhookAndAwaitsChannel(t *testing.T) {
	launcher := &fakeLauncher{}
	s, _ := newTestSession(t, Deps{Launcher: launcher})

	app, err := s.StartApp(context.Background(), testPkg)
	require.NoError(t, err)
	require.Equal(t, StateConnecting, app.State())
	assert.Equal(t, []string{testPkg}, launcher.launches())

	// The SDK connects back; the pending-connection watchdog stands down.
	connectApp(t, s, testPkg)
	require.Equal(t, StateRunning, app.State())

	neverWithin(t, 3*shortAppTimings().connectTimeout, func() bool {
		return app.State() != StateRunning
	}, "connected app must survive the connect timeout")
}

func TestStartAppStopsWhenAppNeverConnects(t *testing.T) {
	launcher := &fakeLauncher{}
	s, _ := newTestSession(t, Deps{Launcher: launcher})

	app, err := s.StartApp(context.Background(), testPkg)
	require.NoError(t, err)

	waitFor(t, testTimeout, func() bool { return app.State() == StateStopped },
		"app that never connects should be stopped")
	assert.NotContains(t, s.RunningApps(), testPkg)
}

func TestStartAppUnknownPackage(t *testing.T) {
	s, _ := newTestSession(t, Deps{Launcher: &fakeLauncher{}})

	_, err := s.StartApp(context.Background(), "com.example.ghost")
	require.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestStartAppWebhookFailureStopsSession(t *testing.T) {
	launcher := &fakeLauncher{err: assert.AnError}
	s, _ := newTestSession(t, Deps{Launcher: launcher})

	_, err := s.StartApp(context.Background(), testPkg)
	require.Error(t, err)

	// The failed start leaves no live app session behind.
	waitFor(t, testTimeout, func() bool {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return s.apps[testPkg] == nil
	}, "failed start should not leave an app session")
}

func TestStartAppAlreadyRunningIsIdempotent(t *testing.T) {
	launcher := &fakeLauncher{}
	s, _ := newTestSession(t, Deps{Launcher: launcher})

	app, err := s.StartApp(context.Background(), testPkg)
	require.NoError(t, err)
	connectApp(t, s, testPkg)

	again, err := s.StartApp(context.Background(), testPkg)
	require.NoError(t, err)
	assert.Same(t, app, again)
	assert.Len(t, launcher.launches(), 1)
}
