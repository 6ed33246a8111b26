package app

import (
	errprocess "realtime_chat_service/pkg/err"
	"realtime_chat_service/pkg/logger"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// statusOf HTTP status of an error kind
func statusOf(kind errprocess.Kind) int {
	switch kind {
	case errprocess.Unauthorized:
		return fiber.StatusUnauthorized
	case errprocess.NotAMember, errprocess.NotAuthor, errprocess.NotOwner:
		return fiber.StatusForbidden
	case errprocess.NotFound:
		return fiber.StatusNotFound
	case errprocess.BadRequest, errprocess.InvalidReply:
		return fiber.StatusBadRequest
	case errprocess.SlowConsumer:
		return fiber.StatusTooManyRequests
	case errprocess.Transient:
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

// writeError render err as {"error", "kind"}
func writeError(c *fiber.Ctx, err error) error {
	kind := errprocess.KindOf(err)
	status := statusOf(kind)
	if status >= fiber.StatusInternalServerError {
		logger.Log.Error("http.error", zap.String("path", c.Path()), zap.Error(err))
	}
	if kind == "" {
		return c.Status(status).JSON(fiber.Map{"error": "internal error"})
	}
	return c.Status(status).JSON(fiber.Map{"error": errprocess.DetailOf(err), "kind": kind})
}
