// Package httpapi wires the outer HTTP surface: the websocket chat endpoint,
// the read-side history endpoints and the internal notification ingest. All
// chat semantics live in the runtime package; handlers here only translate.
package httpapi

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"gamechat/contract"
	"gamechat/runtime"
)

type Server struct {
	log      *slog.Logger
	verifier contract.Verifier
	router   *runtime.Router
	history  contract.HistoryStore
	relay    *runtime.Relay
}

func NewServer(log *slog.Logger, verifier contract.Verifier, router *runtime.Router,
	history contract.HistoryStore, relay *runtime.Relay) *Server {
	return &Server{
		log:      log,
		verifier: verifier,
		router:   router,
		history:  history,
		relay:    relay,
	}
}

// Handler builds the gin engine with all routes mounted.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/ws/chat", s.handleChat)

	authed := engine.Group("/", s.requireIdentity())
	authed.GET("/history/rooms/:room", s.handleRoomHistory)
	authed.GET("/history/dm/:peer", s.handleDMHistory)

	// Reachable from the game services network only; deployment keeps it
	// off the public listener.
	engine.POST("/internal/notify", s.handleNotify)

	return engine
}

const identityKey = "identity"

// requireIdentity authenticates read-side requests. The token comes from the
// Authorization header, or from ?token= for parity with the websocket
// endpoint (browser websockets cannot set headers).
func (s *Server) requireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if token == "" {
			token = c.Query("token")
		}
		identity, err := s.verifier.Verify(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		c.Set(identityKey, identity)
		c.Next()
	}
}
