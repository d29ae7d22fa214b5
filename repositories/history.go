package repositories

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"gamechat/contract"
	"gamechat/domain"
	"gamechat/errors"
)

// HistoryRepository persists messages in BadgerDB as an append-only log.
//
// Keys are formatted as "msg:room:{room}:{timestamp_padded}:{uuid}" for room
// broadcasts and "msg:dm:{lo}:{hi}:{timestamp_padded}:{uuid}" for direct
// messages ({lo},{hi} is the lexicographically ordered user pair), to:
//  1. Ensure chronological sorting using 19-digit zero padding
//     (lexicographical order).
//  2. Prevent data loss by using UUID as a collision disconnector if two
//     messages arrive at the same nanosecond.
//
// The (timestamp, uuid) key suffix is a strict total order, so cursor
// continuation never skips or duplicates a row at page boundaries.
type HistoryRepository struct {
	db        *badger.DB
	log       *slog.Logger
	blocks    contract.BlockRegistry
	pageLimit int
}

func NewHistoryRepository(db *badger.DB, log *slog.Logger, blocks contract.BlockRegistry, pageLimit int) *HistoryRepository {
	return &HistoryRepository{db: db, log: log, blocks: blocks, pageLimit: pageLimit}
}

type storedMessage struct {
	ID          string `json:"id"`
	SenderID    string `json:"senderId"`
	Room        string `json:"room,omitempty"`
	RecipientID string `json:"recipientId,omitempty"`
	Body        string `json:"body"`
	CreatedAt   int64  `json:"createdAt"`
}

// Append persists one message. It never fans out: delivery is a separate
// step owned by the router, aborted when this returns an error.
func (r *HistoryRepository) Append(message domain.Message) error {
	key := messageKey(message)
	bytes, err := json.Marshal(fromMessage(message))
	if err != nil {
		return fmt.Errorf("%w: %v", errors.ErrPersistenceFailure, err)
	}
	err = r.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), bytes)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", errors.ErrPersistenceFailure, err)
	}
	return nil
}

// QueryRoom returns room messages newest-first. A cursor restricts results
// to strictly older than the (createdAt, id) pair it encodes.
func (r *HistoryRepository) QueryRoom(room string, limit int, cursor *string) ([]domain.Message, *string, error) {
	prefix := fmt.Sprintf("msg:room:%s:", room)
	return r.scan(prefix, limit, cursor)
}

// QueryDM returns the direct-message thread between viewer and peer,
// newest-first. The block relationship is evaluated at read time: a blocked
// pair reads an empty thread even though the rows still exist in storage.
func (r *HistoryRepository) QueryDM(viewer, peer string, limit int, cursor *string) ([]domain.Message, *string, error) {
	blocked, err := r.blocks.IsBlocked(viewer, peer)
	if err != nil {
		return nil, nil, err
	}
	if blocked {
		r.log.Debug("DM history suppressed by block", "viewer", viewer, "peer", peer)
		return nil, nil, nil
	}
	a, b := pairKey(viewer, peer)
	prefix := fmt.Sprintf("msg:dm:%s:%s:", a, b)
	return r.scan(prefix, limit, cursor)
}

// scan walks the prefix in reverse key order. Thanks to the padded timestamp
// in the key, messages come out naturally sorted newest-first.
func (r *HistoryRepository) scan(prefixStr string, limit int, cursor *string) ([]domain.Message, *string, error) {
	if limit <= 0 || limit > r.pageLimit {
		limit = r.pageLimit
	}

	var after string
	if cursor != nil {
		decoded, err := decodeCursor(*cursor)
		if err != nil {
			return nil, nil, err
		}
		after = decoded
	}

	var rows [][]byte
	var lastSuffix string
	hasMore := false

	err := r.db.View(func(txn *badger.Txn) error {
		prefix := []byte(prefixStr)
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		var seekKey []byte
		switch cursor {
		case nil:
			// Seek past any possible timestamp so the reverse iterator
			// lands on the newest key of the prefix.
			seekKey = append(prefix, []byte("9999999999999999999")...)
		default:
			seekKey = append(prefix, []byte(after)...)
		}

		it.Seek(seekKey)

		// The seek may land on the cursor row itself; the contract is
		// strictly older, so step over it.
		if cursor != nil && it.ValidForPrefix(prefix) &&
			string(it.Item().Key()[len(prefix):]) == after {
			it.Next()
		}

		for ; it.ValidForPrefix(prefix); it.Next() {
			if len(rows) == limit {
				hasMore = true
				break
			}
			item := it.Item()
			lastSuffix = string(item.Key()[len(prefix):])
			if err := item.Value(func(value []byte) error {
				rows = append(rows, append([]byte(nil), value...))
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	messages := make([]domain.Message, 0, len(rows))
	for _, b := range rows {
		var stored storedMessage
		if err := json.Unmarshal(b, &stored); err != nil {
			return nil, nil, err
		}
		message, err := toMessage(stored)
		if err != nil {
			return nil, nil, err
		}
		messages = append(messages, message)
	}

	var next *string
	if hasMore {
		next = lo.ToPtr(encodeCursor(lastSuffix))
	}
	return messages, next, nil
}

func messageKey(m domain.Message) string {
	if m.IsDM() {
		a, b := pairKey(m.SenderID, m.RecipientID)
		return fmt.Sprintf("msg:dm:%s:%s:%019d:%s", a, b, m.CreatedAt.UnixNano(), m.ID)
	}
	return fmt.Sprintf("msg:room:%s:%019d:%s", m.Room, m.CreatedAt.UnixNano(), m.ID)
}

// pairKey canonicalizes a DM pair so both directions share one thread.
func pairKey(a, b string) (string, string) {
	if a > b {
		return b, a
	}
	return a, b
}

// Cursors are opaque to clients: base64url over the "{timestamp}:{uuid}"
// key suffix of the last row returned. Raw offsets are never trusted.
func encodeCursor(suffix string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(suffix))
}

func decodeCursor(cursor string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errors.ErrBadCursor, err)
	}
	suffix := string(raw)
	parts := strings.SplitN(suffix, ":", 2)
	if len(parts) != 2 || len(parts[0]) != 19 {
		return "", errors.ErrBadCursor
	}
	if _, err := uuid.Parse(parts[1]); err != nil {
		return "", fmt.Errorf("%w: %v", errors.ErrBadCursor, err)
	}
	return suffix, nil
}

func fromMessage(m domain.Message) storedMessage {
	return storedMessage{
		ID:          m.ID.String(),
		SenderID:    m.SenderID,
		Room:        m.Room,
		RecipientID: m.RecipientID,
		Body:        m.Body,
		CreatedAt:   m.CreatedAt.UnixNano(),
	}
}

func toMessage(stored storedMessage) (domain.Message, error) {
	parsedID, err := uuid.Parse(stored.ID)
	if err != nil {
		return domain.Message{}, err
	}
	return domain.Message{
		ID:          parsedID,
		SenderID:    stored.SenderID,
		Room:        stored.Room,
		RecipientID: stored.RecipientID,
		Body:        stored.Body,
		CreatedAt:   time.Unix(0, stored.CreatedAt).UTC(),
	}, nil
}
