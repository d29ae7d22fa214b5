package runtime

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gamechat/domain"
	"gamechat/errors"
)

type fakeHistory struct {
	mu       sync.Mutex
	appended []domain.Message
	failWith error
}

func (f *fakeHistory) Append(message domain.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	f.appended = append(f.appended, message)
	return nil
}

func (f *fakeHistory) QueryRoom(string, int, *string) ([]domain.Message, *string, error) {
	return nil, nil, nil
}

func (f *fakeHistory) QueryDM(string, string, int, *string) ([]domain.Message, *string, error) {
	return nil, nil, nil
}

func (f *fakeHistory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.appended)
}

type fakeBlocks struct {
	mu    sync.Mutex
	pairs map[string]struct{}
}

func newFakeBlocks() *fakeBlocks {
	return &fakeBlocks{pairs: make(map[string]struct{})}
}

func (f *fakeBlocks) Add(blocker, blocked string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pairs[blocker+"/"+blocked] = struct{}{}
	return nil
}

func (f *fakeBlocks) Remove(blocker, blocked string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.pairs, blocker+"/"+blocked)
	return nil
}

func (f *fakeBlocks) IsBlocked(a, b string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ab := f.pairs[a+"/"+b]
	_, ba := f.pairs[b+"/"+a]
	return ab || ba, nil
}

type routerFixture struct {
	router   *Router
	registry *Registry
	history  *fakeHistory
	blocks   *fakeBlocks
}

func newRouterFixture(t *testing.T, limits ConnectionLimits) *routerFixture {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := NewRegistry()
	history := &fakeHistory{}
	blocks := newFakeBlocks()
	router := NewRouter(log, registry, history, blocks, nil, limits, 2000, 3)
	return &routerFixture{router: router, registry: registry, history: history, blocks: blocks}
}

func (f *routerFixture) connect(t *testing.T, identity string) *Connection {
	t.Helper()
	conn, err := f.router.Connect(identity, nil)
	require.NoError(t, err)
	return conn
}

func (f *routerFixture) join(t *testing.T, conn *Connection, room string) {
	t.Helper()
	raw := fmt.Sprintf(`{"type":"join","room":%q}`, room)
	require.NoError(t, f.router.Dispatch(conn, []byte(raw)))
}

func frameKinds(frames []domain.Frame) []string {
	kinds := make([]string, 0, len(frames))
	for _, frame := range frames {
		if errFrame, ok := frame.(domain.ErrorFrame); ok {
			kinds = append(kinds, errFrame.Kind)
			continue
		}
		kinds = append(kinds, frame.FrameType())
	}
	return kinds
}

func TestRouter_ChannelMessage_DeliveredToSubscribers(t *testing.T) {
	req := require.New(t)
	f := newRouterFixture(t, testLimits())

	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")
	f.join(t, alice, "general")
	f.join(t, bob, "general")

	req.NoError(f.router.Dispatch(alice, []byte(`{"type":"channel","room":"general","body":"hi"}`)))

	frames := bob.drain()
	req.Len(frames, 1)
	message := frames[0].(domain.MessageFrame)
	req.Equal("message", message.Type)
	req.Equal("alice", message.From)
	req.Equal("general", message.Room)
	req.Equal("hi", message.Body)
	req.NotZero(message.TS)

	// The sender's own subscribed connection receives the echo too
	req.Len(alice.drain(), 1)
	req.Equal(1, f.history.count())
}

func TestRouter_ChannelMessages_SubscriberSeesCommitOrder(t *testing.T) {
	req := require.New(t)
	f := newRouterFixture(t, testLimits())

	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")
	carol := f.connect(t, "carol")
	f.join(t, alice, "general")
	f.join(t, bob, "general")
	f.join(t, carol, "general")

	for i := 0; i < 5; i++ {
		sender := alice
		if i%2 == 1 {
			sender = bob
		}
		raw := fmt.Sprintf(`{"type":"channel","room":"general","body":"m%d"}`, i)
		req.NoError(f.router.Dispatch(sender, []byte(raw)))
	}

	// Carol observes exactly the order the store committed
	frames := carol.drain()
	req.Len(frames, 5)
	for i, frame := range frames {
		req.Equal(f.history.appended[i].Body, frame.(domain.MessageFrame).Body)
	}
}

func TestRouter_DM_BlockedPair_RejectedWithoutLeak(t *testing.T) {
	req := require.New(t)
	f := newRouterFixture(t, testLimits())

	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")

	// Given alice has blocked bob
	req.NoError(f.blocks.Add("alice", "bob"))

	// When bob DMs alice
	req.NoError(f.router.Dispatch(bob, []byte(`{"type":"dm","to":"alice","body":"hey"}`)))

	// Then bob gets a Blocked error and alice receives nothing
	req.Equal([]string{"Blocked"}, frameKinds(bob.drain()))
	req.Empty(alice.drain())
	req.Equal(0, f.history.count())
}

func TestRouter_DM_DeliveredToRecipientAndEchoedToOtherDevices(t *testing.T) {
	req := require.New(t)
	f := newRouterFixture(t, testLimits())

	alicePhone := f.connect(t, "alice")
	aliceLaptop := f.connect(t, "alice")
	bobPhone := f.connect(t, "bob")
	bobTablet := f.connect(t, "bob")

	req.NoError(f.router.Dispatch(alicePhone, []byte(`{"type":"dm","to":"bob","body":"gg"}`)))

	// All of bob's connections receive, alice's other device gets the echo,
	// the originating connection gets nothing back
	req.Len(bobPhone.drain(), 1)
	req.Len(bobTablet.drain(), 1)
	req.Len(aliceLaptop.drain(), 1)
	req.Empty(alicePhone.drain())
	req.Equal(1, f.history.count())
}

func TestRouter_Block_WriteGoesToRegistry(t *testing.T) {
	req := require.New(t)
	f := newRouterFixture(t, testLimits())

	alice := f.connect(t, "alice")
	req.NoError(f.router.Dispatch(alice, []byte(`{"type":"block","userId":"bob"}`)))

	blocked, err := f.blocks.IsBlocked("alice", "bob")
	req.NoError(err)
	req.True(blocked)
}

func TestRouter_InvalidBody_Rejected_ConnectionStaysOpen(t *testing.T) {
	req := require.New(t)
	f := newRouterFixture(t, testLimits())

	alice := f.connect(t, "alice")
	f.join(t, alice, "general")

	// Empty after trim
	req.NoError(f.router.Dispatch(alice, []byte(`{"type":"channel","room":"general","body":"   "}`)))
	req.Equal([]string{"InvalidMessage"}, frameKinds(alice.drain()))

	// Still active
	req.NoError(f.router.Dispatch(alice, []byte(`{"type":"channel","room":"general","body":"ok"}`)))
	req.Equal(1, f.history.count())
}

func TestRouter_MalformedCommands_CloseAfterThreshold(t *testing.T) {
	req := require.New(t)
	f := newRouterFixture(t, testLimits())

	alice := f.connect(t, "alice")

	// Threshold is 3: two strikes stay open, the third is fatal
	req.NoError(f.router.Dispatch(alice, []byte(`not json`)))
	req.NoError(f.router.Dispatch(alice, []byte(`{"type":"warp"}`)))
	req.ErrorIs(f.router.Dispatch(alice, []byte(`{"type":"join"}`)), errors.ErrMalformedCommand)

	req.Equal([]string{"MalformedCommand", "MalformedCommand", "MalformedCommand"},
		frameKinds(alice.drain()))
}

func TestRouter_RateLimit_ExcessCommandsDroppedNotQueued(t *testing.T) {
	req := require.New(t)
	limits := testLimits()
	limits.ChatCapacity = 3
	limits.ChatRefillPerSec = 0.001
	f := newRouterFixture(t, limits)

	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")
	f.join(t, bob, "general")
	// Joining consumed one chat token; two sends remain in alice's budget
	f.join(t, alice, "general")

	for i := 0; i < 4; i++ {
		raw := fmt.Sprintf(`{"type":"channel","room":"general","body":"m%d"}`, i)
		req.NoError(f.router.Dispatch(alice, []byte(raw)))
	}

	// Exactly two admitted, the rest rejected with RateLimited
	req.Equal(2, f.history.count())
	req.Len(bob.drain(), 2)

	kinds := frameKinds(alice.drain())
	req.Equal([]string{"message", "message", "RateLimited", "RateLimited"}, kinds)
}

func TestRouter_PersistenceFailure_AbortsDelivery(t *testing.T) {
	req := require.New(t)
	f := newRouterFixture(t, testLimits())
	f.history.failWith = fmt.Errorf("disk full")

	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")
	f.join(t, alice, "general")
	f.join(t, bob, "general")

	req.NoError(f.router.Dispatch(alice, []byte(`{"type":"channel","room":"general","body":"hi"}`)))

	// The sender learns about the failure, nobody gets the message
	req.Equal([]string{"PersistenceFailure"}, frameKinds(alice.drain()))
	req.Empty(bob.drain())
}

func TestRouter_SlowConsumer_ClosedWithoutStallingOthers(t *testing.T) {
	req := require.New(t)
	limits := testLimits()
	limits.QueueDepth = 2
	f := newRouterFixture(t, limits)

	alice := f.connect(t, "alice")
	slow := f.connect(t, "bob")
	healthy := f.connect(t, "carol")
	f.join(t, alice, "general")
	f.join(t, slow, "general")
	f.join(t, healthy, "general")

	// Bob's transport never drains; the third chat frame overruns his queue.
	// Alice and carol drain normally so only bob falls behind.
	for i := 0; i < 3; i++ {
		alice.drain()
		healthy.drain()
		raw := fmt.Sprintf(`{"type":"channel","room":"general","body":"m%d"}`, i)
		req.NoError(f.router.Dispatch(alice, []byte(raw)))
	}

	// Bob is gone, carol keeps receiving
	select {
	case <-slow.Done():
	default:
		t.Fatal("slow consumer should have been closed")
	}
	req.False(f.registry.IsOnline("bob"))
	req.Equal(3, f.history.count())

	// Carol got the last message plus bob's presence-offline edge
	kinds := frameKinds(healthy.drain())
	req.Len(kinds, 2)
	req.Contains(kinds, "message")
	req.Contains(kinds, "presence")
}

func TestRouter_Disconnect_BroadcastsPresenceOfflineToRoomPeers(t *testing.T) {
	req := require.New(t)
	f := newRouterFixture(t, testLimits())

	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")
	f.join(t, alice, "general")
	f.join(t, bob, "general")
	bob.drain()

	f.router.Disconnect(alice, "transport closed")

	frames := bob.drain()
	req.Len(frames, 1)
	presence := frames[0].(domain.PresenceFrame)
	req.Equal("alice", presence.UserID)
	req.False(presence.Online)

	// Disconnect is idempotent
	f.router.Disconnect(alice, "transport closed")
	req.Empty(bob.drain())
}

func TestRouter_Disconnect_PresenceOnlyOnLastConnection(t *testing.T) {
	req := require.New(t)
	f := newRouterFixture(t, testLimits())

	alicePhone := f.connect(t, "alice")
	aliceLaptop := f.connect(t, "alice")
	bob := f.connect(t, "bob")
	f.join(t, alicePhone, "general")
	f.join(t, aliceLaptop, "general")
	f.join(t, bob, "general")
	bob.drain()

	f.router.Disconnect(alicePhone, "transport closed")
	req.Empty(bob.drain(), "first device closing is not an offline edge")

	f.router.Disconnect(aliceLaptop, "transport closed")
	frames := bob.drain()
	req.Len(frames, 1)
	req.False(frames[0].(domain.PresenceFrame).Online)
}

func TestRelay_Notify_DeliversToAllDevicesOrDrops(t *testing.T) {
	req := require.New(t)
	f := newRouterFixture(t, testLimits())
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	relay := NewRelay(log, f.registry)

	phone := f.connect(t, "alice")
	laptop := f.connect(t, "alice")

	invite := domain.NewInviteFrame("bob", "match-42")
	req.Equal(2, relay.Notify("alice", invite))
	req.Equal([]string{"invite"}, frameKinds(phone.drain()))
	req.Equal([]string{"invite"}, frameKinds(laptop.drain()))

	// No live connection: dropped, offline durability is not our concern
	req.Equal(0, relay.Notify("ghost", invite))
}

func TestRelay_Notify_NeverEvictedByBackpressure(t *testing.T) {
	req := require.New(t)
	limits := testLimits()
	limits.QueueDepth = 2
	f := newRouterFixture(t, limits)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	relay := NewRelay(log, f.registry)

	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")
	f.join(t, alice, "general")
	f.join(t, bob, "general")

	// Fill bob's queue with ordinary chat frames
	req.NoError(f.router.Dispatch(alice, []byte(`{"type":"channel","room":"general","body":"one"}`)))
	req.NoError(f.router.Dispatch(alice, []byte(`{"type":"channel","room":"general","body":"two"}`)))

	announce := domain.NewTournamentFrame("m7", "p1", "p2", time.Now())
	req.Equal(1, relay.Notify("bob", announce))

	frames := bob.drain()
	req.Len(frames, 2)
	// The announcement made it in; a chat frame was the one evicted
	req.Equal("tournamentAnnounce", frames[1].FrameType())
}
