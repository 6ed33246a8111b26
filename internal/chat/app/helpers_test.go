package app

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"realtime_chat_service/internal/chat/domain"
	"realtime_chat_service/internal/chat/repository"
	"realtime_chat_service/pkg/config"
	"realtime_chat_service/pkg/token"

	"github.com/gofiber/websocket/v2"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

// fakeClock manual clock shared by sessions and presence
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testRealtime() config.Realtime {
	return config.Realtime{
		SendQueueSize:     64,
		HistoryLimit:      50,
		MaxMessageChars:   200,
		OpTimeout:         time.Second,
		WriteTimeout:      time.Second,
		ReadIdleTimeout:   time.Minute,
		HeartbeatInterval: time.Hour,
		PresenceTimeout:   30 * time.Second,
		TypingTTL:         5 * time.Second,
		SweepInterval:     5 * time.Millisecond,
		DedupeWindow:      64,
		MailboxSize:       16,
		LeaveTimeout:      time.Second,
		Retry: config.Retry{
			InitialInterval: time.Millisecond,
			MaxInterval:     5 * time.Millisecond,
			MaxElapsed:      50 * time.Millisecond,
		},
	}
}

// testEnv single process chat engine on the in-memory stores
type testEnv struct {
	t             *testing.T
	clock         *fakeClock
	cfg           config.Realtime
	store         *repository.MemoryStore
	presence      *repository.MemoryPresence
	bus           *repository.MemoryPubSub
	notifications *repository.MemoryNotificationRepository
	verifier      *token.JWTVerifier
	hub           *Hub
	conns         *ConnectionHandler
	dispatcher    *NotificationDispatcher
	events        repository.Subscription[domain.Event]
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		t:             t,
		clock:         newFakeClock(),
		cfg:           testRealtime(),
		store:         repository.NewMemoryStore(),
		bus:           repository.NewMemoryPubSub(1024),
		notifications: repository.NewMemoryNotificationRepository(),
		verifier:      token.NewJWTVerifier([]byte("test_secret"), "chat-test"),
	}
	env.presence = repository.NewMemoryPresence(env.cfg.PresenceTimeout, env.clock.Now)
	env.hub = NewHub(SessionDeps{
		Rooms:       env.store,
		Messages:    env.store,
		Attachments: env.store,
		Presence:    env.presence,
		Bus:         env.bus,
		Config:      env.cfg,
		Now:         env.clock.Now,
	})
	env.conns = NewConnectionHandler(env.hub, env.verifier, env.bus, env.cfg)
	env.dispatcher = NewNotificationDispatcher(DispatcherDeps{
		Rooms:         env.store,
		Presence:      env.presence,
		Notifications: env.notifications,
		Pushers:       []repository.NotificationPusher{repository.NewChannelPusher(env.bus)},
		Retry:         env.cfg.Retry,
		Now:           env.clock.Now,
	})

	sub, err := env.bus.SubscribeAll(context.Background())
	require.NoError(t, err)
	env.events = sub
	t.Cleanup(func() {
		_ = sub.Close()
		env.hub.Close()
	})
	return env
}

func (e *testEnv) createRoom(id string, kind domain.RoomKind, members ...string) *domain.Room {
	e.t.Helper()
	room := &domain.Room{
		ID:        id,
		Kind:      kind,
		Members:   members,
		CreatedBy: members[0],
		CreatedAt: e.clock.Now(),
	}
	if kind == domain.RoomKindGroup {
		room.Admins = []string{members[0]}
		room.JoinMode = domain.JoinModeOpen
	}
	require.NoError(e.t, e.store.CreateRoom(context.Background(), room))
	return room
}

func (e *testEnv) token(userID string) string {
	e.t.Helper()
	tk, err := e.verifier.Issue(userID, "member")
	require.NoError(e.t, err)
	return tk
}

// dispatch feed every event published so far to the notification dispatcher
func (e *testEnv) dispatch() {
	e.t.Helper()
	for {
		select {
		case ev, ok := <-e.events.C():
			require.True(e.t, ok, "event subscription closed")
			require.NoError(e.t, e.dispatcher.Handle(context.Background(), ev))
		default:
			return
		}
	}
}

func nextEvent(t *testing.T, sub repository.Subscription[domain.Event]) domain.Event {
	t.Helper()
	select {
	case ev, ok := <-sub.C():
		require.True(t, ok, "subscription closed")
		return ev
	case <-time.After(waitFor):
		t.Fatal("no event published")
		return domain.Event{}
	}
}

func noEvent(t *testing.T, sub repository.Subscription[domain.Event], d time.Duration) {
	t.Helper()
	select {
	case ev := <-sub.C():
		t.Fatalf("unexpected %s event from %s", ev.Kind, ev.ActorID)
	case <-time.After(d):
	}
}

// rawFrame outbound frame as the client sees it
type rawFrame struct {
	Type domain.FrameType `json:"type"`
	Data json.RawMessage  `json:"data"`
}

func (f rawFrame) decode(t *testing.T, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(f.Data, v))
}

var errSocketClosed = errors.New("socket closed")

// fakeSocket in-memory Socket; the test plays the client
type fakeSocket struct {
	in     chan []byte
	out    chan rawFrame
	closed chan struct{}
	once   sync.Once

	// stall blocks WriteMessage until the socket closes
	stall bool

	mu        sync.Mutex
	closeCode int
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		in:     make(chan []byte, 16),
		out:    make(chan rawFrame, 256),
		closed: make(chan struct{}),
	}
}

func (s *fakeSocket) ReadMessage() (int, []byte, error) {
	select {
	case b := <-s.in:
		return websocket.TextMessage, b, nil
	case <-s.closed:
		return 0, nil, errSocketClosed
	}
}

func (s *fakeSocket) WriteMessage(_ int, data []byte) error {
	if s.stall {
		<-s.closed
		return errSocketClosed
	}
	select {
	case <-s.closed:
		return errSocketClosed
	default:
	}
	var f rawFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	s.out <- f
	return nil
}

func (s *fakeSocket) WriteControl(messageType int, data []byte, _ time.Time) error {
	if messageType == websocket.CloseMessage && len(data) >= 2 {
		s.mu.Lock()
		if s.closeCode == 0 {
			s.closeCode = int(binary.BigEndian.Uint16(data[:2]))
		}
		s.mu.Unlock()
	}
	return nil
}

func (s *fakeSocket) SetReadDeadline(time.Time) error  { return nil }
func (s *fakeSocket) SetWriteDeadline(time.Time) error { return nil }
func (s *fakeSocket) SetPongHandler(func(string) error) {}

func (s *fakeSocket) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeSocket) CloseCode() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCode
}

// send play a client frame
func (s *fakeSocket) send(t *testing.T, typ domain.FrameType, data interface{}) {
	t.Helper()
	frame := map[string]interface{}{"type": typ}
	if data != nil {
		frame["data"] = data
	}
	b, err := json.Marshal(frame)
	require.NoError(t, err)
	s.in <- b
}

// expect skip frames until one of typ arrives
func (s *fakeSocket) expect(t *testing.T, typ domain.FrameType) rawFrame {
	t.Helper()
	deadline := time.After(waitFor)
	for {
		select {
		case f := <-s.out:
			if f.Type == typ {
				return f
			}
		case <-deadline:
			t.Fatalf("no %s frame received", typ)
			return rawFrame{}
		}
	}
}

// expectPresence skip frames until the presence change of userID arrives
func (s *fakeSocket) expectPresence(t *testing.T, userID string, online bool) {
	t.Helper()
	deadline := time.After(waitFor)
	for {
		var p domain.PresenceChange
		select {
		case f := <-s.out:
			if f.Type != domain.FramePresence {
				continue
			}
			f.decode(t, &p)
			if p.UserID == userID && p.Online == online {
				return
			}
		case <-deadline:
			t.Fatalf("no presence %s online=%t", userID, online)
			return
		}
	}
}

// next the very next frame
func (s *fakeSocket) next(t *testing.T) rawFrame {
	t.Helper()
	select {
	case f := <-s.out:
		return f
	case <-time.After(waitFor):
		t.Fatal("no frame received")
		return rawFrame{}
	}
}

// client connected fake socket served by the connection handler
type client struct {
	sock *fakeSocket
	done chan struct{}
}

func (e *testEnv) connect(userID, roomID string) *client {
	e.t.Helper()
	c := e.dial(e.token(userID), roomID)
	c.sock.expect(e.t, domain.FrameJoin)
	return c
}

func (e *testEnv) dial(credential, roomID string) *client {
	c := &client{sock: newFakeSocket(), done: make(chan struct{})}
	go func() {
		defer close(c.done)
		e.conns.Serve(context.Background(), c.sock, roomID, credential)
	}()
	e.t.Cleanup(func() {
		_ = c.sock.Close()
		<-c.done
	})
	return c
}

// drop simulate the client vanishing
func (c *client) drop(t *testing.T) {
	t.Helper()
	_ = c.sock.Close()
	c.wait(t)
}

func (c *client) wait(t *testing.T) {
	t.Helper()
	select {
	case <-c.done:
	case <-time.After(waitFor):
		t.Fatal("connection did not end")
	}
}
