package router

import (
	"context"
	"fmt"
	"strconv"

	"realtime_chat_service/internal/chat/app"
	"realtime_chat_service/pkg/logger"
	"realtime_chat_service/pkg/middlewares"
	"realtime_chat_service/pkg/token"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Handlers everything the routes dispatch to
type Handlers struct {
	Connections   *app.ConnectionHandler
	Notifications *app.NotificationHandler
	Rooms         *app.RoomHandler
	Verifier      token.Verifier
}

// RegisterRoutes 注册聊天服务的路由
func RegisterRoutes(r *fiber.App, h Handlers) {
	r.Get("/", connectCheck)
	r.Post("/debug", debugLogFlag)
	r.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// websocket: credential is verified after the upgrade so failures close with 4001
	ws := r.Group("/ws", upgradeOnly, middlewares.CredentialMiddleware())
	ws.Get("/rooms/:room_id", websocket.New(func(c *websocket.Conn) {
		credential, _ := c.Locals(middlewares.TokenCredential).(string)
		h.Connections.Serve(context.Background(), c, c.Params("room_id"), credential)
	}))
	ws.Get("/notifications", websocket.New(func(c *websocket.Conn) {
		credential, _ := c.Locals(middlewares.TokenCredential).(string)
		h.Notifications.Serve(context.Background(), c, credential)
	}))

	auth := middlewares.JWTMiddleware(h.Verifier)

	rooms := r.Group("/rooms", auth)
	rooms.Post("/", h.Rooms.Create)
	rooms.Get("/:room_id", h.Rooms.Get)
	rooms.Post("/:room_id/members", h.Rooms.Join)
	rooms.Delete("/:room_id/members/me", h.Rooms.Leave)
	rooms.Get("/:room_id/messages", h.Rooms.History)

	notifications := r.Group("/notifications", auth)
	notifications.Get("/", h.Notifications.List)
	notifications.Get("/unread_count", h.Notifications.UnreadCount)
	notifications.Post("/read_all", h.Notifications.MarkAllRead)
	notifications.Post("/:id/read", h.Notifications.MarkRead)
}

func upgradeOnly(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// connectCheck check chat service start
func connectCheck(c *fiber.Ctx) error {
	return c.SendString("chat service start!")
}

// debugLogFlag toggle debug log flag
func debugLogFlag(c *fiber.Ctx) error {
	statusStr := c.Query("status")
	logger.Log.Info("debug", zap.String("status", statusStr))
	status, err := strconv.ParseBool(statusStr)
	if err != nil {
		return c.SendStatus(fiber.StatusBadRequest)
	}
	logger.Log.SetDebugMode(status)
	return c.SendString(fmt.Sprintf("debug mode is : %t", status))
}
