package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lenslink/cloud/internal/catalog"
	apierrors "github.com/lenslink/cloud/internal/errors"
	"github.com/lenslink/cloud/internal/session"
	"github.com/lenslink/cloud/internal/wire"
)

// appActionRequest is the body of the app start/stop endpoints.
type appActionRequest struct {
	PackageName string `json:"packageName"`
}

func (s *Server) bindAppAction(c *gin.Context) (appActionRequest, bool) {
	var req appActionRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.PackageName == "" {
		apierrors.AbortWithBadRequest(c, "packageName is required", wire.ErrorMalformedMessage)
		return req, false
	}
	return req, true
}

// handleAppStart dispatches the start webhook for an app within the caller's
// live session. The SDK is expected to connect back on the app endpoint; if
// it never does, the session core abandons the start.
func (s *Server) handleAppStart(c *gin.Context) {
	userID, ok := s.authGlassesUser(c)
	if !ok {
		return
	}
	req, ok := s.bindAppAction(c)
	if !ok {
		return
	}

	sess, ok := s.registry.Get(userID)
	if !ok {
		apierrors.AbortWithNotFound(c, "no live session for user", wire.ErrorSessionNotFound)
		return
	}

	app, err := sess.StartApp(c.Request.Context(), req.PackageName)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			apierrors.AbortWithNotFound(c, "app not registered", wire.ErrorPackageNotFound)
			return
		}
		apierrors.AbortWithInternal(c, "app start failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"packageName": req.PackageName,
		"state":       app.State(),
	})
}

// handleAppStop begins teardown for one app in the caller's live session.
func (s *Server) handleAppStop(c *gin.Context) {
	userID, ok := s.authGlassesUser(c)
	if !ok {
		return
	}
	req, ok := s.bindAppAction(c)
	if !ok {
		return
	}

	sess, ok := s.registry.Get(userID)
	if !ok {
		apierrors.AbortWithNotFound(c, "no live session for user", wire.ErrorSessionNotFound)
		return
	}

	sess.StopApp(req.PackageName, "stopped via api")
	c.JSON(http.StatusOK, gin.H{
		"packageName": req.PackageName,
		"state":       session.StateStopping,
	})
}
