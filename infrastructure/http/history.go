package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"gamechat/domain"
	gcerrors "gamechat/errors"
)

type messageResponse struct {
	ID   string `json:"id"`
	From string `json:"from"`
	Room string `json:"room,omitempty"`
	To   string `json:"to,omitempty"`
	Body string `json:"body"`
	TS   int64  `json:"ts"`
}

type historyResponse struct {
	Messages   []messageResponse `json:"messages"`
	NextCursor *string           `json:"nextCursor,omitempty"`
}

// handleRoomHistory serves paginated room history, newest-first. The store
// clamps oversized limits; rooms are not block-filtered.
func (s *Server) handleRoomHistory(c *gin.Context) {
	messages, next, err := s.history.QueryRoom(c.Param("room"), queryLimit(c), queryCursor(c))
	s.respondHistory(c, messages, next, err)
}

// handleDMHistory serves the caller's DM thread with a peer. Block filtering
// happens inside the store at read time.
func (s *Server) handleDMHistory(c *gin.Context) {
	viewer := c.GetString(identityKey)
	messages, next, err := s.history.QueryDM(viewer, c.Param("peer"), queryLimit(c), queryCursor(c))
	s.respondHistory(c, messages, next, err)
}

func (s *Server) respondHistory(c *gin.Context, messages []domain.Message, next *string, err error) {
	if err != nil {
		if errors.Is(err, gcerrors.ErrBadCursor) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad cursor"})
			return
		}
		s.log.Error("history query failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "TransientFailure"})
		return
	}

	c.JSON(http.StatusOK, historyResponse{
		Messages: lo.Map(messages, func(m domain.Message, _ int) messageResponse {
			return messageResponse{
				ID:   m.ID.String(),
				From: m.SenderID,
				Room: m.Room,
				To:   m.RecipientID,
				Body: m.Body,
				TS:   m.CreatedAt.UnixMilli(),
			}
		}),
		NextCursor: next,
	})
}

func queryLimit(c *gin.Context) int {
	limit, err := strconv.Atoi(c.Query("limit"))
	if err != nil {
		return 0 // store applies its default
	}
	return limit
}

func queryCursor(c *gin.Context) *string {
	if cursor := c.Query("cursor"); cursor != "" {
		return &cursor
	}
	return nil
}
