package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/lenslink/cloud/internal/catalog"
	"github.com/lenslink/cloud/internal/wire"
)

// dispatchErr is a wire-visible dispatch failure. Protocol violations close
// the channel after the CONNECTION_ERROR frame; precondition failures leave
// it open so the app can retry.
type dispatchErr struct {
	code         wire.ErrorCode
	message      string
	closeChannel bool
}

func malformed(format string, args ...any) *dispatchErr {
	return &dispatchErr{code: wire.ErrorMalformedMessage, message: fmt.Sprintf(format, args...), closeChannel: true}
}

func internal(format string, args ...any) *dispatchErr {
	return &dispatchErr{code: wire.ErrorInternal, message: fmt.Sprintf(format, args...)}
}

// HandleAppMessage routes one text frame from an app channel. packageName is
// the authenticated channel identity; a frame claiming a different package is
// a protocol violation.
func (s *UserSession) HandleAppMessage(packageName string, data []byte) {
	app := s.app(packageName)
	if app == nil {
		s.log.Warn("frame from app with no session", "package", packageName)
		return
	}

	msg, err := wire.ParseAppMessage(data)
	if err != nil {
		app.SendError(wire.ErrorMalformedMessage, err.Error(), true)
		return
	}
	if claimed := msg.Package(); claimed != "" && claimed != packageName {
		app.SendError(wire.ErrorMalformedMessage,
			fmt.Sprintf("packageName %q does not match channel identity %q", claimed, packageName), true)
		return
	}

	if derr := s.dispatchAppMessage(app, msg); derr != nil {
		s.log.Warn("app message rejected",
			"package", packageName, "type", msg.AppType(), "code", derr.code, "reason", derr.message)
		app.SendError(derr.code, derr.message, derr.closeChannel)
	}
}

func (s *UserSession) dispatchAppMessage(app *AppSession, msg wire.AppMessage) *dispatchErr {
	pkg := app.PackageName()

	switch m := msg.(type) {
	case *wire.SubscriptionUpdate:
		res, err := s.subscriptions.UpdateSubscriptions(pkg, m.Subscriptions, m.LocationRate)
		if err != nil {
			return malformed("invalid subscription update: %v", err)
		}
		if res.Applied {
			s.onSubscriptionsApplied(pkg, res)
		}
		s.notifyAppStateChange()
		return nil

	case *wire.DisplayRequest:
		if err := s.deps.Display.HandleDisplayRequest(pkg, m.RawJSON()); err != nil {
			return internal("display request failed: %v", err)
		}
		return nil

	case *wire.DashboardContentUpdate:
		if err := s.deps.Dashboard.HandleContentUpdate(pkg, m.RawJSON()); err != nil {
			return internal("dashboard update failed: %v", err)
		}
		return nil

	case *wire.DashboardModeChange:
		if err := s.deps.Dashboard.HandleModeChange(pkg, m.Mode, m.RawJSON()); err != nil {
			return internal("dashboard mode change failed: %v", err)
		}
		return nil

	case *wire.RgbLedControl:
		cmd := wire.GlassesRgbLedControl{
			Type:        wire.TypeRgbLedControl,
			SessionID:   s.sessionID,
			RequestID:   m.RequestID,
			PackageName: pkg,
			Action:      m.Action,
			Color:       m.Color,
			OnTime:      m.OnTime,
			OffTime:     m.OffTime,
			Count:       m.Count,
			Timestamp:   wire.Now(),
		}
		if err := s.SendToGlasses(cmd); err != nil {
			return internal("glasses not reachable: %v", err)
		}
		return nil

	case *wire.RtmpStreamRequest:
		if derr := s.requireCamera(pkg); derr != nil {
			return derr
		}
		return mapStreamErr(s.deps.UnmanagedStreams.Start(pkg, m))

	case *wire.RtmpStreamStop:
		if derr := s.requireCamera(pkg); derr != nil {
			return derr
		}
		return mapStreamErr(s.deps.UnmanagedStreams.Stop(pkg))

	case *wire.ManagedStreamRequest:
		if derr := s.requireCamera(pkg); derr != nil {
			return derr
		}
		return mapStreamErr(s.deps.ManagedStreams.Start(pkg, m))

	case *wire.ManagedStreamStop:
		if derr := s.requireCamera(pkg); derr != nil {
			return derr
		}
		return mapStreamErr(s.deps.ManagedStreams.Stop(pkg))

	case *wire.StreamStatusCheck:
		if derr := s.requireCamera(pkg); derr != nil {
			return derr
		}
		// Managed status wins when both stream kinds have state.
		status, ok := s.deps.ManagedStreams.Status(pkg)
		if !ok {
			status, _ = s.deps.UnmanagedStreams.Status(pkg)
		}
		resp := wire.StreamStatusCheckResponse{
			Type:      wire.TypeStreamStatusCheckResponse,
			SessionID: app.SubSessionID(),
			Status:    status,
			Timestamp: wire.Now(),
		}
		if err := app.Send(resp); err != nil {
			return internal("sending stream status: %v", err)
		}
		return nil

	case *wire.PhotoRequest:
		if derr := s.requireCamera(pkg); derr != nil {
			return derr
		}
		if err := s.photos.RequestPhoto(pkg, m); err != nil {
			if errors.Is(err, ErrDuplicatePhotoRequest) {
				return &dispatchErr{code: wire.ErrorMalformedMessage, message: err.Error()}
			}
			return internal("photo request failed: %v", err)
		}
		return nil

	case *wire.AudioPlayRequest:
		if m.RequestID == "" {
			return malformed("audio play request missing requestId")
		}
		s.registerAudioPlay(m.RequestID, pkg)
		cmd := wire.GlassesAudioPlayRequest{
			Type:        wire.TypeAudioPlayRequest,
			SessionID:   s.sessionID,
			PackageName: pkg,
			RequestID:   m.RequestID,
			Payload:     m.RawJSON(),
			Timestamp:   wire.Now(),
		}
		if err := s.SendToGlasses(cmd); err != nil {
			s.resolveAudioPlay(m.RequestID)
			return internal("glasses not reachable: %v", err)
		}
		return nil

	case *wire.AudioStopRequest:
		cmd := wire.GlassesAudioStopRequest{
			Type:        wire.TypeAudioStopRequest,
			SessionID:   s.sessionID,
			PackageName: pkg,
			Timestamp:   wire.Now(),
		}
		if err := s.SendToGlasses(cmd); err != nil {
			return internal("glasses not reachable: %v", err)
		}
		return nil

	case *wire.LocationPollRequest:
		if err := s.deps.Location.HandlePollRequest(pkg, m); err != nil {
			return internal("location poll failed: %v", err)
		}
		return nil

	case *wire.RequestWifiSetup:
		cmd := wire.ShowWifiSetup{
			Type:      wire.TypeShowWifiSetup,
			SessionID: s.sessionID,
			Timestamp: wire.Now(),
		}
		if err := s.SendToGlasses(cmd); err != nil {
			return internal("glasses not reachable: %v", err)
		}
		return nil

	case *wire.OwnershipRelease:
		app.ReleaseOwnership()
		return nil

	case *wire.UnknownApp:
		return malformed("unknown message type %q", m.Type)

	default:
		return malformed("unhandled message type %q", msg.AppType())
	}
}

// requireCamera gates camera-backed operations on the app's declared
// permissions. An unregistered package or a missing permission is terminal
// for the channel.
func (s *UserSession) requireCamera(packageName string) *dispatchErr {
	ctx, cancel := context.WithTimeout(context.Background(), launchTimeout)
	defer cancel()

	reg, err := s.deps.Catalog.Get(ctx, packageName)
	if errors.Is(err, catalog.ErrNotFound) {
		return &dispatchErr{
			code:         wire.ErrorPackageNotFound,
			message:      fmt.Sprintf("package %s is not registered", packageName),
			closeChannel: true,
		}
	}
	if err != nil {
		return internal("catalog lookup failed: %v", err)
	}
	if !reg.HasPermission(catalog.PermissionCamera) {
		return &dispatchErr{
			code:         wire.ErrorPermissionDenied,
			message:      fmt.Sprintf("package %s lacks the CAMERA permission", packageName),
			closeChannel: true,
		}
	}
	return nil
}

// mapStreamErr translates stream extension failures to wire codes. A missing
// WiFi link is a device precondition, not a protocol violation, so the
// channel stays open.
func mapStreamErr(err error) *dispatchErr {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrWifiNotConnected) {
		return &dispatchErr{code: wire.ErrorWifiNotConnected, message: err.Error()}
	}
	return internal("stream operation failed: %v", err)
}
