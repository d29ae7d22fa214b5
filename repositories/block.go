package repositories

import (
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
)

// BlockRepository stores directed block pairs as "block:{blocker}:{blocked}"
// keys. Add and Remove are idempotent set operations; concurrent writers are
// serialized by badger, last write wins.
type BlockRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewBlockRepository(db *badger.DB, log *slog.Logger) *BlockRepository {
	return &BlockRepository{db: db, log: log}
}

func blockKey(blocker, blocked string) []byte {
	return []byte(fmt.Sprintf("block:%s:%s", blocker, blocked))
}

func (r *BlockRepository) Add(blocker, blocked string) error {
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(blockKey(blocker, blocked), nil)
	})
}

func (r *BlockRepository) Remove(blocker, blocked string) error {
	return r.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(blockKey(blocker, blocked))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		return err
	})
}

// IsBlocked reports whether either party has blocked the other. Enforcement
// is symmetric: one directed pair suppresses delivery and history in both
// directions.
func (r *BlockRepository) IsBlocked(a, b string) (bool, error) {
	blocked := false
	err := r.db.View(func(txn *badger.Txn) error {
		for _, key := range [][]byte{blockKey(a, b), blockKey(b, a)} {
			_, err := txn.Get(key)
			switch err {
			case nil:
				blocked = true
				return nil
			case badger.ErrKeyNotFound:
				continue
			default:
				return err
			}
		}
		return nil
	})
	return blocked, err
}
