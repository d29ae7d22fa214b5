//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"reflect"

	"gamechat/domain"
)

// HistoryStore is the append-only message log with cursor pagination.
// Append never blocks on delivery: persistence and fan-out are independent
// steps, and a failed append aborts delivery for that message.
type HistoryStore interface {
	Append(message domain.Message) error
	QueryRoom(room string, limit int, cursor *string) ([]domain.Message, *string, error)
	QueryDM(viewer, peer string, limit int, cursor *string) ([]domain.Message, *string, error)
}

// BlockRegistry stores directed block pairs. IsBlocked is symmetric: it is
// true if either party has blocked the other.
type BlockRegistry interface {
	Add(blocker, blocked string) error
	Remove(blocker, blocked string) error
	IsBlocked(a, b string) (bool, error)
}

// Verifier turns a bearer credential into a user identity. Failures are
// deliberately generic so verification internals never leak.
type Verifier interface {
	Verify(token string) (string, error)
}

// Notifier injects externally-originated game events into the live delivery
// path of a user's connections.
type Notifier interface {
	Notify(userID string, frame domain.Frame) int
}

type WorkerName string

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker
// initialization or lifecycle events, avoiding the need for manual naming
// in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}
