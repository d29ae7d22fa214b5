package domain

import "time"

// Frame is an outbound wire frame. Ordinary chat frames may be refused by a
// full per-connection queue; system frames (presence, notifications, error
// replies) are never the frames evicted to make room.
type Frame interface {
	FrameType() string
	System() bool
}

type MessageFrame struct {
	Type string `json:"type"`
	From string `json:"from"`
	Room string `json:"room,omitempty"`
	To   string `json:"to,omitempty"`
	Body string `json:"body"`
	TS   int64  `json:"ts"`
}

func (MessageFrame) FrameType() string { return "message" }
func (MessageFrame) System() bool      { return false }

// NewMessageFrame converts a persisted Message into its delivery frame.
func NewMessageFrame(m Message) MessageFrame {
	return MessageFrame{
		Type: "message",
		From: m.SenderID,
		Room: m.Room,
		To:   m.RecipientID,
		Body: m.Body,
		TS:   m.CreatedAt.UnixMilli(),
	}
}

type PresenceFrame struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
	Online bool   `json:"online"`
}

func (PresenceFrame) FrameType() string { return "presence" }
func (PresenceFrame) System() bool      { return true }

func NewPresenceFrame(userID string, online bool) PresenceFrame {
	return PresenceFrame{Type: "presence", UserID: userID, Online: online}
}

type InviteFrame struct {
	Type       string `json:"type"`
	FromUserID string `json:"fromUserId"`
	MatchID    string `json:"matchId"`
}

func (InviteFrame) FrameType() string { return "invite" }
func (InviteFrame) System() bool      { return true }

func NewInviteFrame(fromUserID, matchID string) InviteFrame {
	return InviteFrame{Type: "invite", FromUserID: fromUserID, MatchID: matchID}
}

type TournamentFrame struct {
	Type    string `json:"type"`
	MatchID string `json:"matchId"`
	P1      string `json:"p1"`
	P2      string `json:"p2"`
	ETA     int64  `json:"eta"`
}

func (TournamentFrame) FrameType() string { return "tournamentAnnounce" }
func (TournamentFrame) System() bool      { return true }

func NewTournamentFrame(matchID, p1, p2 string, eta time.Time) TournamentFrame {
	return TournamentFrame{
		Type:    "tournamentAnnounce",
		MatchID: matchID,
		P1:      p1,
		P2:      p2,
		ETA:     eta.UnixMilli(),
	}
}

// ErrorFrame is a direct reply to the offending connection. Kind carries the
// wire-level taxonomy name, never internal diagnostics.
type ErrorFrame struct {
	Type string `json:"type"`
	Kind string `json:"kind"`
}

func (ErrorFrame) FrameType() string { return "error" }
func (ErrorFrame) System() bool      { return true }

func NewErrorFrame(kind string) ErrorFrame {
	return ErrorFrame{Type: "error", Kind: kind}
}
