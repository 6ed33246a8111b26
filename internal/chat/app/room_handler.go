package app

import (
	"realtime_chat_service/pkg/logger"
	"realtime_chat_service/pkg/middlewares"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// RoomHandler 处理聊天室相关的 HTTP 请求
type RoomHandler struct {
	uc *RoomUseCase
}

// NewRoomHandler create RoomHandler
func NewRoomHandler(uc *RoomUseCase) *RoomHandler {
	return &RoomHandler{uc: uc}
}

// Create POST /rooms
func (h *RoomHandler) Create(c *fiber.Ctx) error {
	var req CreateRoomInput
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request"})
	}

	userID := middlewares.MemberID(c)
	room, created, err := h.uc.CreateRoom(c.UserContext(), userID, req)
	if err != nil {
		return writeError(c, err)
	}
	if !created {
		return c.JSON(room)
	}
	logger.Log.Info("room.created", zap.String("room_id", room.ID), zap.String("kind", string(room.Kind)), zap.String("user_id", userID))
	return c.Status(fiber.StatusCreated).JSON(room)
}

// Get GET /rooms/:room_id
func (h *RoomHandler) Get(c *fiber.Ctx) error {
	room, err := h.uc.GetRoom(c.UserContext(), c.Params("room_id"), middlewares.MemberID(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(room)
}

// Join POST /rooms/:room_id/members
func (h *RoomHandler) Join(c *fiber.Ctx) error {
	type request struct {
		UserID   string `json:"user_id"`
		Password string `json:"password"`
	}

	var req request
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request"})
		}
	}

	roomID := c.Params("room_id")
	if err := h.uc.JoinRoom(c.UserContext(), roomID, middlewares.MemberID(c), req.UserID, req.Password); err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"message": "joined", "room_id": roomID})
}

// Leave DELETE /rooms/:room_id/members/me
func (h *RoomHandler) Leave(c *fiber.Ctx) error {
	roomID := c.Params("room_id")
	if err := h.uc.ExitRoom(c.UserContext(), roomID, middlewares.MemberID(c)); err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"message": "left", "room_id": roomID})
}

// History GET /rooms/:room_id/messages?before=&limit=
func (h *RoomHandler) History(c *fiber.Ctx) error {
	before := c.QueryInt("before", 0)
	limit := c.QueryInt("limit", 0)
	if before < 0 || limit < 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "before and limit must not be negative"})
	}

	msgs, err := h.uc.History(c.UserContext(), c.Params("room_id"), middlewares.MemberID(c), int64(before), limit)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"messages": msgs})
}
