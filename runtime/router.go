package runtime

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/abadojack/whatlanggo"
	"github.com/google/uuid"

	"gamechat/contract"
	"gamechat/domain"
	"gamechat/errors"
	"gamechat/moderation"
)

// Router validates inbound commands, applies block and rate-limit checks,
// persists chat messages and fans the resulting frames out to recipient
// connections.
//
// Persist-then-fanout runs under a single dispatch lock, so every recipient
// observes messages in exactly the order the store committed them. The lock
// is only ever held across non-blocking enqueues: a slow consumer can not
// stall the sender or unrelated recipients, it only overruns its own queue
// and gets closed with SlowConsumer.
type Router struct {
	log      *slog.Logger
	registry *Registry
	history  contract.HistoryStore
	blocks   contract.BlockRegistry
	censor   *moderation.Censor

	dispatchMu sync.Mutex

	limits         ConnectionLimits
	maxBody        int
	malformedLimit int

	now func() time.Time
}

func NewRouter(log *slog.Logger, registry *Registry, history contract.HistoryStore,
	blocks contract.BlockRegistry, censor *moderation.Censor,
	limits ConnectionLimits, maxBody, malformedLimit int) *Router {
	return &Router{
		log:            log,
		registry:       registry,
		history:        history,
		blocks:         blocks,
		censor:         censor,
		limits:         limits,
		maxBody:        maxBody,
		malformedLimit: malformedLimit,
		now:            time.Now,
	}
}

// Connect promotes a verified identity to an active connection: the identity
// was already confirmed by the verifier, so the session starts in the active
// state. The presence-online edge, if this is the identity's first
// connection, is broadcast to its room peers.
func (r *Router) Connect(identity string, write WriteFunc) (*Connection, error) {
	conn := NewConnection(identity, r.limits, write)
	wentOnline, err := r.registry.Register(conn)
	if err != nil {
		return nil, err
	}
	if wentOnline {
		r.broadcastPresence(identity, true, nil)
	}
	r.log.Info("connection opened", "conn", conn.ID, "identity", identity)
	return conn, nil
}

// Disconnect closes the connection and unregisters it. Idempotent: the
// registry treats an already-removed connection as a no-op, and a fan-out
// racing this call either lands in the discarded queue or skips the closed
// connection.
func (r *Router) Disconnect(conn *Connection, reason string) {
	conn.Close()
	rooms, wentOffline := r.registry.Unregister(conn.ID)
	if wentOffline {
		r.broadcastPresence(conn.Identity, false, rooms)
	}
	r.log.Info("connection closed", "conn", conn.ID, "identity", conn.Identity, "reason", reason)
}

// Dispatch processes one inbound frame for a connection. Commands of a
// single connection are dispatched from one reader goroutine, in receipt
// order. A non-nil return is fatal to the connection; per-command errors are
// answered with an error frame and return nil.
func (r *Router) Dispatch(conn *Connection, raw []byte) error {
	cmd, err := domain.ParseCommand(raw)
	if err != nil {
		conn.malformed++
		r.reply(conn, err)
		if conn.malformed >= r.malformedLimit {
			r.log.Warn("closing connection after repeated malformed commands",
				"conn", conn.ID, "count", conn.malformed)
			return errors.ErrMalformedCommand
		}
		return nil
	}

	// Moderation writes have their own, smaller admission budget; chat
	// commands share the main one. Exhaustion drops the command.
	budget := conn.chatBudget
	if _, ok := cmd.(domain.BlockCommand); ok {
		budget = conn.blockBudget
	}
	if !budget.TryAdmit() {
		r.reply(conn, errors.ErrRateLimited)
		return nil
	}

	switch c := cmd.(type) {
	case domain.JoinCommand:
		r.registry.Subscribe(conn.ID, c.Room)
	case domain.ChannelCommand:
		r.handleChannel(conn, c)
	case domain.DMCommand:
		r.handleDM(conn, c)
	case domain.BlockCommand:
		if err := r.blocks.Add(conn.Identity, c.UserID); err != nil {
			r.log.Error("block write failed", "error", err)
			r.reply(conn, err)
		}
	}
	return nil
}

func (r *Router) handleChannel(conn *Connection, cmd domain.ChannelCommand) {
	body, err := r.checkBody(cmd.Body)
	if err != nil {
		r.reply(conn, err)
		return
	}

	message := domain.Message{
		ID:        uuid.New(),
		SenderID:  conn.Identity,
		Room:      cmd.Room,
		Body:      r.moderate(conn.Identity, body),
		CreatedAt: r.now().UTC(),
	}

	r.dispatchMu.Lock()
	defer r.dispatchMu.Unlock()

	if err := r.history.Append(message); err != nil {
		r.log.Error("append failed, delivery aborted", "error", err)
		r.reply(conn, errors.ErrPersistenceFailure)
		return
	}

	// Room messages are not block-filtered; every subscriber receives them,
	// including the sender's own connections (multi-device echo).
	frame := domain.NewMessageFrame(message)
	for _, subscriber := range r.registry.SubscribersOf(cmd.Room) {
		r.deliver(subscriber, frame)
	}
}

func (r *Router) handleDM(conn *Connection, cmd domain.DMCommand) {
	body, err := r.checkBody(cmd.Body)
	if err != nil {
		r.reply(conn, err)
		return
	}

	blocked, err := r.blocks.IsBlocked(conn.Identity, cmd.To)
	if err != nil {
		r.log.Error("block lookup failed", "error", err)
		r.reply(conn, err)
		return
	}
	if blocked {
		// Same reply whichever party initiated the block.
		r.reply(conn, errors.ErrBlocked)
		return
	}

	message := domain.Message{
		ID:          uuid.New(),
		SenderID:    conn.Identity,
		RecipientID: cmd.To,
		Body:        r.moderate(conn.Identity, body),
		CreatedAt:   r.now().UTC(),
	}

	r.dispatchMu.Lock()
	defer r.dispatchMu.Unlock()

	if err := r.history.Append(message); err != nil {
		r.log.Error("append failed, delivery aborted", "error", err)
		r.reply(conn, errors.ErrPersistenceFailure)
		return
	}

	frame := domain.NewMessageFrame(message)
	delivered := make(map[string]struct{})
	recipients := append(r.registry.ConnectionsFor(cmd.To), r.registry.ConnectionsFor(conn.Identity)...)
	for _, recipient := range recipients {
		// Echo to the sender's other connections, never the originator.
		if recipient.ID == conn.ID {
			continue
		}
		if _, done := delivered[recipient.ID]; done {
			continue
		}
		delivered[recipient.ID] = struct{}{}
		r.deliver(recipient, frame)
	}
}

// deliver enqueues one frame. A queue overrun closes the overrun connection
// only; the close is diagnosable on the peer side as SlowConsumer.
func (r *Router) deliver(conn *Connection, frame domain.Frame) {
	switch err := conn.Enqueue(frame); err {
	case nil:
	case errors.ErrSlowConsumer:
		r.Disconnect(conn, "SlowConsumer")
	case errors.ErrConnectionClosed:
		// Raced a close; skip.
	default:
		r.log.Warn("enqueue failed", "conn", conn.ID, "error", err)
	}
}

// checkBody applies the 1..maxBody rune bound after trimming.
func (r *Router) checkBody(body string) (string, error) {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty body", errors.ErrInvalidMessage)
	}
	if len([]rune(trimmed)) > r.maxBody {
		return "", fmt.Errorf("%w: body exceeds %d characters", errors.ErrInvalidMessage, r.maxBody)
	}
	return trimmed, nil
}

func (r *Router) moderate(sender, body string) string {
	if r.censor == nil {
		return body
	}
	cleaned, found := r.censor.Clean(body)
	if len(found) > 0 {
		info := whatlanggo.Detect(body)
		r.log.Warn("message censored",
			"sender", sender,
			"words", len(found),
			"lang", info.Lang.Iso6391())
	}
	return cleaned
}

func (r *Router) reply(conn *Connection, err error) {
	if enqErr := conn.Enqueue(domain.NewErrorFrame(errors.Kind(err))); enqErr != nil {
		r.log.Debug("error reply dropped", "conn", conn.ID, "error", enqErr)
	}
}

// broadcastPresence fans a presence edge out to the subscribers of the rooms
// the identity was active in, skipping the identity's own connections.
func (r *Router) broadcastPresence(identity string, online bool, rooms []string) {
	frame := domain.NewPresenceFrame(identity, online)
	notified := make(map[string]struct{})
	for _, room := range rooms {
		for _, subscriber := range r.registry.SubscribersOf(room) {
			if subscriber.Identity == identity {
				continue
			}
			if _, done := notified[subscriber.ID]; done {
				continue
			}
			notified[subscriber.ID] = struct{}{}
			r.deliver(subscriber, frame)
		}
	}
}
