package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/lenslink/cloud/internal/logger"
	"github.com/lenslink/cloud/internal/metrics"
	"github.com/lenslink/cloud/internal/resource"
	"github.com/lenslink/cloud/internal/wire"
)

type pendingPhoto struct {
	packageName string
	requestedAt time.Time
	timer       *resource.Timer
}

// PhotoManager correlates app photo requests with glasses responses. At most
// one request per requestId is in flight; a request that outlives the timeout
// resolves as a typed failure to the originating app.
type PhotoManager struct {
	session *UserSession
	log     *logger.Logger
	timeout time.Duration
	tracker *resource.Tracker

	mu      sync.Mutex
	pending map[string]*pendingPhoto
}

func newPhotoManager(s *UserSession, timeout time.Duration, log *logger.Logger) *PhotoManager {
	return &PhotoManager{
		session: s,
		log:     log.WithComponent("photo"),
		timeout: timeout,
		tracker: resource.NewTracker(),
		pending: make(map[string]*pendingPhoto),
	}
}

// RequestPhoto forwards an app's photo request to the glasses and registers
// it for response correlation. Fails fast when the glasses are offline or the
// request id is already pending.
func (p *PhotoManager) RequestPhoto(packageName string, req *wire.PhotoRequest) error {
	if !p.session.UpstreamOpen() {
		metrics.PhotoRequests.WithLabelValues("rejected").Inc()
		return ErrGlassesNotConnected
	}
	if req.RequestID == "" {
		metrics.PhotoRequests.WithLabelValues("rejected").Inc()
		return fmt.Errorf("photo request missing requestId")
	}

	p.mu.Lock()
	if _, exists := p.pending[req.RequestID]; exists {
		p.mu.Unlock()
		metrics.PhotoRequests.WithLabelValues("rejected").Inc()
		return fmt.Errorf("%w: %s", ErrDuplicatePhotoRequest, req.RequestID)
	}
	entry := &pendingPhoto{packageName: packageName, requestedAt: time.Now()}
	requestID := req.RequestID
	entry.timer = p.tracker.AfterFunc(p.timeout, func() { p.expire(requestID) })
	p.pending[requestID] = entry
	p.mu.Unlock()

	cmd := wire.GlassesPhotoRequest{
		Type:          wire.TypePhotoRequest,
		SessionID:     p.session.sessionID,
		RequestID:     req.RequestID,
		AppID:         packageName,
		SaveToGallery: req.SaveToGallery,
		WebhookURL:    req.WebhookURL,
		Timestamp:     wire.Now(),
	}
	if err := p.session.SendToGlasses(cmd); err != nil {
		p.remove(requestID)
		metrics.PhotoRequests.WithLabelValues("rejected").Inc()
		return fmt.Errorf("forwarding photo request: %w", err)
	}

	p.log.Info("photo request forwarded", "package", packageName, "requestId", requestID)
	return nil
}

// HandlePhotoResponse routes a glasses response back to the app that asked.
// A response with no pending entry (late, duplicate, unknown) is dropped.
func (p *PhotoManager) HandlePhotoResponse(resp *wire.PhotoResponse) {
	p.mu.Lock()
	entry, ok := p.pending[resp.RequestID]
	if ok {
		entry.timer.Stop()
		delete(p.pending, resp.RequestID)
	}
	p.mu.Unlock()

	if !ok {
		p.log.Warn("dropping photo response with no pending request", "requestId", resp.RequestID)
		return
	}

	metrics.PhotoRequests.WithLabelValues("responded").Inc()
	p.deliver(entry.packageName, wire.AppPhotoResponse{
		Type:           wire.TypePhotoResponse,
		RequestID:      resp.RequestID,
		Success:        true,
		PhotoURL:       resp.PhotoURL,
		SavedToGallery: resp.SavedToGallery,
		Timestamp:      wire.Now(),
	})
}

// expire resolves a request that outlived the timeout. The entry is removed
// before delivery, so a response racing the timeout is dropped, not delivered
// twice.
func (p *PhotoManager) expire(requestID string) {
	p.mu.Lock()
	entry, ok := p.pending[requestID]
	if ok {
		delete(p.pending, requestID)
	}
	p.mu.Unlock()
	if !ok {
		return
	}

	metrics.PhotoRequests.WithLabelValues("timeout").Inc()
	p.log.Warn("photo request timed out", "package", entry.packageName, "requestId", requestID)
	p.deliver(entry.packageName, wire.AppPhotoResponse{
		Type:      wire.TypePhotoResponse,
		RequestID: requestID,
		Success:   false,
		Error:     "timeout",
		Timestamp: wire.Now(),
	})
}

func (p *PhotoManager) deliver(packageName string, resp wire.AppPhotoResponse) {
	app := p.session.app(packageName)
	if app == nil {
		p.log.Warn("photo originator gone", "package", packageName, "requestId", resp.RequestID)
		return
	}
	resp.SessionID = app.SubSessionID()
	if err := app.Send(resp); err != nil {
		p.log.Warn("failed to deliver photo response",
			"package", packageName, "requestId", resp.RequestID, "error", err)
	}
}

func (p *PhotoManager) remove(requestID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if entry, ok := p.pending[requestID]; ok {
		entry.timer.Stop()
		delete(p.pending, requestID)
	}
}

// PendingCount reports in-flight requests.
func (p *PhotoManager) PendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Stop cancels all pending timers without delivering failures; used on
// session disposal where the app channels are going away anyway.
func (p *PhotoManager) Stop() {
	p.tracker.Dispose()
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, entry := range p.pending {
		entry.timer.Stop()
		delete(p.pending, id)
	}
}
