package router

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"realtime_chat_service/internal/chat/app"
	"realtime_chat_service/internal/chat/domain"
	"realtime_chat_service/internal/chat/repository"
	"realtime_chat_service/pkg/config"
	"realtime_chat_service/pkg/token"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type routerEnv struct {
	app        *fiber.App
	store      *repository.MemoryStore
	verifier   *token.JWTVerifier
	dispatcher *app.NotificationDispatcher
}

func newRouterEnv(t *testing.T) *routerEnv {
	t.Helper()
	rt := config.Realtime{}.WithDefaults()
	store := repository.NewMemoryStore()
	bus := repository.NewMemoryPubSub(64)
	presence := repository.NewMemoryPresence(rt.PresenceTimeout, time.Now)
	verifier := token.NewJWTVerifier([]byte("router_secret"), "chat-test")

	hub := app.NewHub(app.SessionDeps{
		Rooms:       store,
		Messages:    store,
		Attachments: store,
		Presence:    presence,
		Bus:         bus,
		Config:      rt,
	})
	t.Cleanup(hub.Close)

	dispatcher := app.NewNotificationDispatcher(app.DispatcherDeps{
		Rooms:         store,
		Presence:      presence,
		Notifications: repository.NewMemoryNotificationRepository(),
		Retry:         rt.Retry,
	})

	r := fiber.New()
	RegisterRoutes(r, Handlers{
		Connections:   app.NewConnectionHandler(hub, verifier, bus, rt),
		Notifications: app.NewNotificationHandler(dispatcher, bus, verifier, rt),
		Rooms:         app.NewRoomHandler(app.NewRoomUseCase(store, store, rt)),
		Verifier:      verifier,
	})
	return &routerEnv{app: r, store: store, verifier: verifier, dispatcher: dispatcher}
}

func (e *routerEnv) do(t *testing.T, method, path, user string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = strings.NewReader(string(b))
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if user != "" {
		tk, err := e.verifier.Issue(user, string(token.RoleMember))
		require.NoError(t, err)
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+tk)
	}

	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]interface{}{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp.StatusCode, out
}

func TestConnectCheck(t *testing.T) {
	env := newRouterEnv(t)
	resp, err := env.app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestDebugLogFlag(t *testing.T) {
	env := newRouterEnv(t)

	resp, err := env.app.Test(httptest.NewRequest(http.MethodPost, "/debug?status=true", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, err = env.app.Test(httptest.NewRequest(http.MethodPost, "/debug?status=maybe", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newRouterEnv(t)
	resp, err := env.app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestWebsocketRoutesRefusePlainRequests(t *testing.T) {
	env := newRouterEnv(t)

	resp, err := env.app.Test(httptest.NewRequest(http.MethodGet, "/ws/rooms/room-1", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUpgradeRequired, resp.StatusCode)
}

func TestRoomRoutes(t *testing.T) {
	env := newRouterEnv(t)

	status, _ := env.do(t, http.MethodPost, "/rooms", "", map[string]interface{}{"kind": "group"})
	assert.Equal(t, fiber.StatusUnauthorized, status)

	status, body := env.do(t, http.MethodPost, "/rooms", "alice", map[string]interface{}{
		"kind": "group", "name": "lobby", "members": []string{"bob"},
	})
	require.Equal(t, fiber.StatusCreated, status)
	roomID, _ := body["id"].(string)
	require.NotEmpty(t, roomID)

	status, _ = env.do(t, http.MethodPost, "/rooms/"+roomID+"/members", "carol", nil)
	assert.Equal(t, fiber.StatusOK, status)

	status, body = env.do(t, http.MethodGet, "/rooms/"+roomID, "carol", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.ElementsMatch(t, []interface{}{"alice", "bob", "carol"}, body["members"])

	status, body = env.do(t, http.MethodGet, "/rooms/"+roomID+"/messages", "mallory", nil)
	assert.Equal(t, fiber.StatusForbidden, status)
	assert.Equal(t, "not_a_member", body["kind"])

	status, _ = env.do(t, http.MethodGet, "/rooms/"+roomID+"/messages?limit=-1", "alice", nil)
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, body = env.do(t, http.MethodGet, "/rooms/"+roomID+"/messages", "alice", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Empty(t, body["messages"])

	status, _ = env.do(t, http.MethodDelete, "/rooms/"+roomID+"/members/me", "carol", nil)
	assert.Equal(t, fiber.StatusOK, status)

	status, _ = env.do(t, http.MethodGet, "/rooms/no-such-room", "alice", nil)
	assert.Equal(t, fiber.StatusNotFound, status)
}

func TestDirectRoomIsReused(t *testing.T) {
	env := newRouterEnv(t)

	status, first := env.do(t, http.MethodPost, "/rooms", "alice", map[string]interface{}{"kind": "direct", "members": []string{"bob"}})
	require.Equal(t, fiber.StatusCreated, status)

	status, second := env.do(t, http.MethodPost, "/rooms", "bob", map[string]interface{}{"kind": "direct", "members": []string{"alice"}})
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, first["id"], second["id"])
}

func TestNotificationRoutes(t *testing.T) {
	env := newRouterEnv(t)
	ctx := context.Background()
	require.NoError(t, env.store.CreateRoom(ctx, &domain.Room{
		ID: "room-1", Kind: domain.RoomKindGroup, Members: []string{"alice", "bob"}, CreatedBy: "alice",
	}))
	require.NoError(t, env.dispatcher.Handle(ctx, domain.NewMessageEvent(domain.EventMessage, "alice", &domain.Message{
		RoomID: "room-1", Seq: 1, Type: domain.MessageText, SenderID: "alice", Content: "hi bob",
	}, time.Now())))

	status, body := env.do(t, http.MethodGet, "/notifications/unread_count", "bob", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.EqualValues(t, 1, body["count"])

	status, body = env.do(t, http.MethodGet, "/notifications", "bob", nil)
	require.Equal(t, fiber.StatusOK, status)
	items, _ := body["notifications"].([]interface{})
	require.Len(t, items, 1)
	id, _ := items[0].(map[string]interface{})["id"].(string)
	require.NotEmpty(t, id)

	status, body = env.do(t, http.MethodPost, "/notifications/"+id+"/read", "alice", nil)
	assert.Equal(t, fiber.StatusForbidden, status)
	assert.Equal(t, "not_owner", body["kind"])

	status, _ = env.do(t, http.MethodPost, "/notifications/"+id+"/read", "bob", nil)
	assert.Equal(t, fiber.StatusOK, status)

	status, body = env.do(t, http.MethodPost, "/notifications/read_all", "bob", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.EqualValues(t, 0, body["updated"])
}
