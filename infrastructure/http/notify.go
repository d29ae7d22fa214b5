package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"gamechat/domain"
)

type notifyRequest struct {
	UserID     string `json:"userId" binding:"required"`
	Type       string `json:"type" binding:"required"`
	FromUserID string `json:"fromUserId"`
	MatchID    string `json:"matchId"`
	P1         string `json:"p1"`
	P2         string `json:"p2"`
	ETA        int64  `json:"eta"`
}

// handleNotify ingests externally-originated game events and relays them to
// the target user's live connections. No live connection means the event is
// dropped here; offline durability is the notification service's concern.
func (s *Server) handleNotify(c *gin.Context) {
	var req notifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "MalformedCommand"})
		return
	}

	var frame domain.Frame
	switch req.Type {
	case "invite":
		frame = domain.NewInviteFrame(req.FromUserID, req.MatchID)
	case "tournamentAnnounce":
		frame = domain.NewTournamentFrame(req.MatchID, req.P1, req.P2, time.UnixMilli(req.ETA))
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "MalformedCommand"})
		return
	}

	delivered := s.relay.Notify(req.UserID, frame)
	c.JSON(http.StatusOK, gin.H{"delivered": delivered})
}
