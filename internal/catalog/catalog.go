// Package catalog exposes the registered-app directory the session core
// consults for permission checks and webhook dispatch. The backing store
// (database, config service) lives outside the core; this package defines
// the interface plus an in-memory implementation seeded from a JSON file.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
)

// Permission is a capability an app declares at registration time.
type Permission string

const (
	PermissionCamera     Permission = "CAMERA"
	PermissionMicrophone Permission = "MICROPHONE"
	PermissionLocation   Permission = "LOCATION"
)

// App is one registered third-party app.
type App struct {
	PackageName string       `json:"packageName"`
	Name        string       `json:"name,omitempty"`
	WebhookURL  string       `json:"webhookUrl,omitempty"`
	Permissions []Permission `json:"permissions,omitempty"`
}

// HasPermission reports whether the app declared the given permission.
func (a *App) HasPermission(p Permission) bool {
	for _, perm := range a.Permissions {
		if perm == p {
			return true
		}
	}
	return false
}

// ErrNotFound is returned for unknown package names.
var ErrNotFound = errors.New("catalog: app not found")

// Catalog looks up registered apps by package name.
type Catalog interface {
	Get(ctx context.Context, packageName string) (*App, error)
}

// Memory is an in-memory catalog, used in tests and for file-seeded
// single-node deployments.
type Memory struct {
	mu   sync.RWMutex
	apps map[string]App
}

// NewMemory returns a catalog holding the given apps.
func NewMemory(apps ...App) *Memory {
	m := &Memory{apps: make(map[string]App, len(apps))}
	for _, app := range apps {
		m.apps[app.PackageName] = app
	}
	return m
}

// LoadFile reads a JSON array of apps into a Memory catalog.
func LoadFile(path string) (*Memory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	var apps []App
	if err := json.Unmarshal(data, &apps); err != nil {
		return nil, fmt.Errorf("catalog: parse %s: %w", path, err)
	}
	return NewMemory(apps...), nil
}

// Get returns the app registered under packageName.
func (m *Memory) Get(_ context.Context, packageName string) (*App, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	app, ok := m.apps[packageName]
	if !ok {
		return nil, ErrNotFound
	}
	return &app, nil
}

// Put registers or replaces an app.
func (m *Memory) Put(app App) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.apps[app.PackageName] = app
}
