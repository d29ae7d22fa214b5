package httpapi

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"gamechat/auth"
	"gamechat/domain"
	"gamechat/repositories"
	"gamechat/runtime"
)

const testSecret = "http-test-secret"

type fixture struct {
	handler http.Handler
	history *repositories.HistoryRepository
	router  *runtime.Router
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	blocks := repositories.NewBlockRepository(db, log)
	history := repositories.NewHistoryRepository(db, log, blocks, 100)
	registry := runtime.NewRegistry()
	limits := runtime.ConnectionLimits{
		ChatCapacity:      100,
		ChatRefillPerSec:  100,
		BlockCapacity:     10,
		BlockRefillPerSec: 10,
		QueueDepth:        16,
	}
	router := runtime.NewRouter(log, registry, history, blocks, nil, limits, 2000, 3)
	relay := runtime.NewRelay(log, registry)

	server := NewServer(log, auth.NewJWTVerifier(testSecret), router, history, relay)
	return &fixture{handler: server.Handler(), history: history, router: router}
}

func tokenFor(t *testing.T, userID string) string {
	t.Helper()
	claims := &auth.Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

func (f *fixture) get(t *testing.T, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestHistoryEndpoints_RequireAuth(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	rec := f.get(t, "/history/rooms/general", "")
	req.Equal(http.StatusUnauthorized, rec.Code)

	rec = f.get(t, "/history/dm/bob", "garbage")
	req.Equal(http.StatusUnauthorized, rec.Code)
}

func TestRoomHistoryEndpoint_ReturnsMessagesAndCursor(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	base := time.Now().UTC()
	for i := 0; i < 4; i++ {
		req.NoError(f.history.Append(domain.Message{
			ID:        uuid.New(),
			SenderID:  "alice",
			Room:      "general",
			Body:      "hi",
			CreatedAt: base.Add(time.Duration(i) * time.Millisecond),
		}))
	}

	rec := f.get(t, "/history/rooms/general?limit=3", tokenFor(t, "bob"))
	req.Equal(http.StatusOK, rec.Code)

	var resp historyResponse
	req.NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
	req.Len(resp.Messages, 3)
	req.NotNil(resp.NextCursor)
	req.Equal("alice", resp.Messages[0].From)

	// Following the cursor drains the rest. Decode into a fresh struct:
	// nextCursor is omitempty, so reusing resp would keep the stale pointer.
	rec = f.get(t, "/history/rooms/general?limit=3&cursor="+*resp.NextCursor, tokenFor(t, "bob"))
	req.Equal(http.StatusOK, rec.Code)
	resp = historyResponse{}
	req.NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
	req.Len(resp.Messages, 1)
	req.Nil(resp.NextCursor)
}

func TestRoomHistoryEndpoint_BadCursorIs400(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	rec := f.get(t, "/history/rooms/general?cursor=%3F%3F%3F", tokenFor(t, "bob"))
	req.Equal(http.StatusBadRequest, rec.Code)
}

func TestDMHistoryEndpoint_ViewerIsTheCaller(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	req.NoError(f.history.Append(domain.Message{
		ID:          uuid.New(),
		SenderID:    "alice",
		RecipientID: "bob",
		Body:        "hey bob",
		CreatedAt:   time.Now().UTC(),
	}))

	rec := f.get(t, "/history/dm/alice", tokenFor(t, "bob"))
	req.Equal(http.StatusOK, rec.Code)

	var resp historyResponse
	req.NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
	req.Len(resp.Messages, 1)
	req.Equal("hey bob", resp.Messages[0].Body)
}

func TestNotifyEndpoint_ReportsDeliveredCount(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	// One live connection for alice
	_, err := f.router.Connect("alice", nil)
	req.NoError(err)

	body := `{"userId":"alice","type":"invite","fromUserId":"bob","matchId":"m1"}`
	httpReq := httptest.NewRequest(http.MethodPost, "/internal/notify", strings.NewReader(body))
	httpReq.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httpReq)

	req.Equal(http.StatusOK, rec.Code)
	req.JSONEq(`{"delivered":1}`, rec.Body.String())

	// Offline target: dropped
	body = `{"userId":"ghost","type":"invite","fromUserId":"bob","matchId":"m1"}`
	httpReq = httptest.NewRequest(http.MethodPost, "/internal/notify", strings.NewReader(body))
	httpReq.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httpReq)
	req.JSONEq(`{"delivered":0}`, rec.Body.String())
}

func TestNotifyEndpoint_RejectsUnknownType(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	body := `{"userId":"alice","type":"confetti"}`
	httpReq := httptest.NewRequest(http.MethodPost, "/internal/notify", strings.NewReader(body))
	httpReq.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httpReq)

	req.Equal(http.StatusBadRequest, rec.Code)
}

func TestChatEndpoint_InvalidTokenIs401BeforeUpgrade(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	rec := f.get(t, "/ws/chat?token=garbage", "")
	req.Equal(http.StatusUnauthorized, rec.Code)
}
