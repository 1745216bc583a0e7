package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/lenslink/cloud/internal/catalog"
	"github.com/lenslink/cloud/internal/logger"
)

// sessionRequestType is the webhook payload type an app server receives when
// it should open (or re-open) a websocket back to this cloud.
const sessionRequestType = "session_request"

// webhookPayload is the body POSTed to an app's registered webhook URL.
type webhookPayload struct {
	Type         string `json:"type"`
	SessionID    string `json:"sessionId"`
	UserID       string `json:"userId"`
	WebSocketURL string `json:"websocketUrl"`
	Timestamp    string `json:"timestamp"`
}

// WebhookLauncher starts apps by POSTing a session request to their
// registered webhook URL. The app server is expected to connect back over
// websocket within the connect timeout.
type WebhookLauncher struct {
	client    *http.Client
	publicURL string
	log       *logger.Logger
}

// NewWebhookLauncher creates a launcher that advertises publicURL as the
// websocket endpoint apps should connect back to.
func NewWebhookLauncher(publicURL string, log *logger.Logger) *WebhookLauncher {
	return &WebhookLauncher{
		client:    &http.Client{Timeout: launchTimeout},
		publicURL: publicURL,
		log:       log.WithComponent("launcher"),
	}
}

// Launch POSTs a session request webhook for the given app.
func (l *WebhookLauncher) Launch(ctx context.Context, app *catalog.App, userID string) error {
	if app.WebhookURL == "" {
		return fmt.Errorf("launcher: app %s has no webhook URL", app.PackageName)
	}

	payload := webhookPayload{
		Type:         sessionRequestType,
		SessionID:    userID + "-" + app.PackageName,
		UserID:       userID,
		WebSocketURL: l.publicURL + "/app-ws",
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("launcher: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, app.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("launcher: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("launcher: webhook %s: %w", app.PackageName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("launcher: webhook %s returned status %d", app.PackageName, resp.StatusCode)
	}

	l.log.WithContext(ctx).Debug("session request webhook delivered")
	return nil
}
