package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"gamechat/domain"
)

const writeTimeout = 10 * time.Second

// handleChat runs one connection lifecycle: verify the credential, upgrade,
// register, then pump inbound frames into the router until the transport
// closes or the router declares the connection fatal.
//
// The token is verified before the upgrade so an invalid credential costs a
// plain 401, never a registered session.
func (s *Server) handleChat(c *gin.Context) {
	identity, err := s.verifier.Verify(c.Query("token"))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	ws, err := websocket.Accept(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Debug("websocket accept failed", "error", err)
		return
	}

	ctx := c.Request.Context()

	conn, err := s.router.Connect(identity, func(ctx context.Context, frame domain.Frame) error {
		writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
		defer cancel()
		return wsjson.Write(writeCtx, ws, frame)
	})
	if err != nil {
		_ = ws.Close(websocket.StatusInternalError, "registration failed")
		return
	}

	// Writer goroutine: drains the outbound queue. When it returns, whether
	// from a write error or a router-initiated close (SlowConsumer), closing
	// the websocket unblocks the read loop below.
	go func() {
		_ = conn.WriteLoop(ctx)
		_ = ws.Close(websocket.StatusNormalClosure, "closed")
	}()

	reason := "transport closed"
	for {
		_, raw, err := ws.Read(ctx)
		if err != nil {
			break
		}
		if fatal := s.router.Dispatch(conn, raw); fatal != nil {
			reason = fatal.Error()
			break
		}
	}

	s.router.Disconnect(conn, reason)
	_ = ws.Close(websocket.StatusNormalClosure, "bye")
}
