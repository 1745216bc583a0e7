package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/lenslink/cloud/internal/auth"
	apierrors "github.com/lenslink/cloud/internal/errors"
	"github.com/lenslink/cloud/internal/logger"
	"github.com/lenslink/cloud/internal/session"
	"github.com/lenslink/cloud/internal/transport"
	"github.com/lenslink/cloud/internal/wire"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// connectionToken pulls the bearer token from the Authorization header, or
// from the token query parameter for clients that cannot set headers on a
// websocket upgrade.
func connectionToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return c.Query("token")
}

// abortUnauthorized maps a token validation error to a 401 with the matching
// error code.
func abortUnauthorized(c *gin.Context, err error) {
	code := wire.ErrorInvalidJWT
	if errors.Is(err, auth.ErrBadSignature) {
		code = wire.ErrorJWTSignatureFailed
	}
	apierrors.AbortWithUnauthorized(c, err.Error(), code)
}

// authGlassesUser validates the glasses token on a request, aborting with a
// 401 on failure.
func (s *Server) authGlassesUser(c *gin.Context) (string, bool) {
	token := connectionToken(c)
	if token == "" {
		apierrors.AbortWithUnauthorized(c, "missing connection token", wire.ErrorInvalidJWT)
		return "", false
	}
	userID, err := s.validator.ValidateGlassesToken(token)
	if err != nil {
		abortUnauthorized(c, err)
		return "", false
	}
	return userID, true
}

// handleGlassesWS authenticates and upgrades a glasses connection, creates or
// replaces the user's session, and pumps frames into it until the socket
// closes.
func (s *Server) handleGlassesWS(c *gin.Context) {
	userID, ok := s.authGlassesUser(c)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Error("glasses upgrade failed", "user_id", userID, "error", err)
		return
	}

	ch := transport.NewWSChannel(conn)
	ch.SetPongHandler(func(string) {
		s.log.Debug("glasses pong", "user_id", userID)
	})
	ctx := logger.WithUserID(c.Request.Context(), userID)
	sess := s.registry.CreateOrReplace(ctx, userID, ch)
	s.log.Info("glasses connected", "user_id", userID, "session_id", sess.SessionID())

	go s.glassesReadLoop(userID, sess, ch, conn)
}

// glassesPingInterval paces keep-alive pings on the glasses socket.
const glassesPingInterval = 10 * time.Second

func (s *Server) glassesReadLoop(userID string, sess *session.UserSession, ch *transport.WSChannel, conn *websocket.Conn) {
	done := make(chan struct{})
	defer func() {
		close(done)
		ch.MarkClosed()
		conn.Close()
		s.registry.HandleUpstreamDisconnect(userID, sess)
		s.log.Info("glasses disconnected", "user_id", userID, "session_id", sess.SessionID())
	}()

	go func() {
		ticker := time.NewTicker(glassesPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := ch.Ping(); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		switch messageType {
		case websocket.TextMessage:
			if err := sess.HandleUpstreamMessage(data); err != nil {
				s.log.Warn("dropping unreadable glasses frame",
					"user_id", userID, "error", err)
			}
		case websocket.BinaryMessage:
			sess.HandleBinaryAudio(data)
		}
	}
}

// handleAppWS authenticates and upgrades an app connection and binds it to
// the app's session within the user's live session.
func (s *Server) handleAppWS(c *gin.Context) {
	token := connectionToken(c)
	if token == "" {
		apierrors.AbortWithUnauthorized(c, "missing connection token", wire.ErrorInvalidJWT)
		return
	}

	userID, packageName, err := s.validator.ValidateAppToken(token)
	if err != nil {
		abortUnauthorized(c, err)
		return
	}

	sess, ok := s.registry.Get(userID)
	if !ok {
		apierrors.AbortWithNotFound(c, "no live session for user", wire.ErrorSessionNotFound)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Error("app upgrade failed",
			"user_id", userID, "package", packageName, "error", err)
		return
	}

	ch := transport.NewWSChannel(conn)
	ch.SetPongHandler(func(string) {
		s.log.Debug("app pong", "user_id", userID, "package", packageName)
	})
	app, err := sess.HandleAppConnect(packageName, ch)
	if err != nil {
		s.log.Warn("app connect rejected",
			"user_id", userID, "package", packageName, "error", err)
		ch.Close(websocket.ClosePolicyViolation, err.Error())
		return
	}
	s.log.Info("app connected",
		"user_id", userID, "package", packageName, "sub_session_id", app.SubSessionID())

	go s.appReadLoop(userID, packageName, sess, ch, conn)
}

func (s *Server) appReadLoop(userID, packageName string, sess *session.UserSession, ch *transport.WSChannel, conn *websocket.Conn) {
	defer func() {
		ch.MarkClosed()
		conn.Close()
		sess.HandleAppDisconnect(packageName, ch)
		s.log.Info("app disconnected", "user_id", userID, "package", packageName)
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType == websocket.TextMessage {
			sess.HandleAppMessage(packageName, data)
		}
	}
}
