package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/lenslink/cloud/internal/logger"
)

const (
	// NATS subject for cross-instance session release requests.
	sessionReleaseSubject = "session.release"

	// Timeout for distributed release requests.
	distributedReleaseTimeout = 5 * time.Second
)

// ReleaseRequest asks whichever instance holds a user's session to dispose
// it, so the user can reconnect to a different instance cleanly.
type ReleaseRequest struct {
	UserID     string `json:"user_id"`
	InstanceID string `json:"instance_id"`
}

// ReleaseResponse is the holding instance's reply.
type ReleaseResponse struct {
	Found      bool   `json:"found"`
	Released   bool   `json:"released"`
	InstanceID string `json:"instance_id"`
}

// ReleaseService handles cross-instance session release via NATS.
//
// Sessions live in-memory on the instance that accepted the glasses
// connection. When the glasses reconnect through a load balancer they may
// land on a different instance; before creating the new session, that
// instance asks the old holder to dispose its copy so the user never has two
// live sessions. Instances that do not hold the session stay silent, letting
// the holder's reply (or the timeout) resolve the request.
type ReleaseService struct {
	nc           *nats.Conn
	registry     *Registry
	log          *logger.Logger
	instanceID   string
	subscription *nats.Subscription
}

// NewReleaseService creates the release service. Returns nil if NATS is not
// configured; the registry then skips the remote handshake.
func NewReleaseService(nc *nats.Conn, registry *Registry, log *logger.Logger, instanceID string) *ReleaseService {
	if nc == nil {
		return nil
	}
	return &ReleaseService{
		nc:         nc,
		registry:   registry,
		log:        log.WithComponent("distributed-release"),
		instanceID: instanceID,
	}
}

// Start begins listening for release requests. Called once during startup.
func (s *ReleaseService) Start() error {
	sub, err := s.nc.Subscribe(sessionReleaseSubject, s.handleReleaseRequest)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", sessionReleaseSubject, err)
	}
	s.subscription = sub
	s.log.Info("distributed release service started",
		"subject", sessionReleaseSubject,
		"instance_id", s.instanceID)
	return nil
}

// Stop gracefully shuts down the service.
func (s *ReleaseService) Stop() error {
	if s.subscription != nil {
		if err := s.subscription.Drain(); err != nil {
			return fmt.Errorf("failed to drain subscription: %w", err)
		}
	}
	s.log.Info("distributed release service stopped")
	return nil
}

// RequestRelease asks other instances to release the user's session and
// waits for the holder's reply. A timeout or missing responders means no
// other instance held it, which is the common case.
func (s *ReleaseService) RequestRelease(ctx context.Context, userID string) *ReleaseResponse {
	data, err := json.Marshal(ReleaseRequest{UserID: userID, InstanceID: s.instanceID})
	if err != nil {
		s.log.Error("failed to marshal release request", "error", err)
		return &ReleaseResponse{}
	}

	reqCtx, cancel := context.WithTimeout(ctx, distributedReleaseTimeout)
	defer cancel()

	msg, err := s.nc.RequestWithContext(reqCtx, sessionReleaseSubject, data)
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) ||
			errors.Is(err, nats.ErrTimeout) ||
			errors.Is(err, context.DeadlineExceeded) {
			return &ReleaseResponse{}
		}
		s.log.Warn("release request failed", "user_id", userID, "error", err)
		return &ReleaseResponse{}
	}

	var resp ReleaseResponse
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		s.log.Warn("invalid release response", "error", err)
		return &ReleaseResponse{}
	}
	s.log.Info("remote session released",
		"user_id", userID,
		"holder_instance", resp.InstanceID,
		"released", resp.Released)
	return &resp
}

// handleReleaseRequest processes release requests from other instances. Only
// the instance holding the session replies.
func (s *ReleaseService) handleReleaseRequest(msg *nats.Msg) {
	var req ReleaseRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.log.Warn("received invalid release request", "error", err)
		return
	}
	if req.InstanceID == s.instanceID {
		// Our own broadcast; the local registry already checked.
		return
	}

	if _, ok := s.registry.Get(req.UserID); !ok {
		return
	}

	released := s.registry.Release(req.UserID)
	s.log.Info("released session on behalf of another instance",
		"user_id", req.UserID,
		"requester_instance", req.InstanceID)

	s.reply(msg, ReleaseResponse{Found: true, Released: released, InstanceID: s.instanceID})
}

func (s *ReleaseService) reply(msg *nats.Msg, resp ReleaseResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.log.Error("failed to marshal release response", "error", err)
		return
	}
	if err := msg.Respond(data); err != nil {
		s.log.Error("failed to send release response", "error", err)
	}
}
