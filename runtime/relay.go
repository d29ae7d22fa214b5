package runtime

import (
	"log/slog"

	"gamechat/domain"
)

// Relay injects externally-originated game events (invites, tournament
// announcements) into the per-connection outbound path. The frames are
// system frames: the backpressure policy never evicts them, and they do not
// consume the inbound rate budget because they never cross the router.
type Relay struct {
	log      *slog.Logger
	registry *Registry
}

func NewRelay(log *slog.Logger, registry *Registry) *Relay {
	return &Relay{log: log, registry: registry}
}

// Notify delivers the frame to every live connection of the user and
// returns the delivered count. A user with no live connection gets nothing:
// offline durability belongs to an external collaborator.
func (r *Relay) Notify(userID string, frame domain.Frame) int {
	conns := r.registry.ConnectionsFor(userID)
	if len(conns) == 0 {
		r.log.Debug("notification dropped, user offline", "user", userID, "frame", frame.FrameType())
		return 0
	}

	delivered := 0
	for _, conn := range conns {
		if err := conn.Enqueue(frame); err != nil {
			r.log.Debug("notification skipped closed connection", "conn", conn.ID)
			continue
		}
		delivered++
	}
	return delivered
}
