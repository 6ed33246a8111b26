package app

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"realtime_chat_service/internal/chat/domain"
	"realtime_chat_service/internal/chat/repository"
	"realtime_chat_service/pkg/config"
	"realtime_chat_service/pkg/logger"
	"realtime_chat_service/pkg/metrics"
	"realtime_chat_service/pkg/middlewares"
	"realtime_chat_service/pkg/token"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
)

// NotificationHandler per user notification socket and the notification REST surface
type NotificationHandler struct {
	dispatcher *NotificationDispatcher
	channel    repository.NotificationChannel
	verifier   token.Verifier
	cfg        config.Realtime
}

// NewNotificationHandler create NotificationHandler
func NewNotificationHandler(d *NotificationDispatcher, channel repository.NotificationChannel, verifier token.Verifier, cfg config.Realtime) *NotificationHandler {
	return &NotificationHandler{
		dispatcher: d,
		channel:    channel,
		verifier:   verifier,
		cfg:        cfg.WithDefaults(),
	}
}

// UnreadCountData outbound unread_count payload
type UnreadCountData struct {
	Count int64 `json:"count"`
}

// Serve greet with the unread count, then forward notifications until the socket closes
func (h *NotificationHandler) Serve(ctx context.Context, sock Socket, credential string) {
	userID, err := h.verifier.Verify(ctx, credential)
	if err != nil {
		closeSocket(sock, domain.CloseUnauthorized, "unauthorized", h.cfg.WriteTimeout)
		return
	}
	log := logger.Log.With(zap.String("user_id", userID))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sub, err := h.channel.SubscribeNotifications(ctx, userID)
	if err != nil {
		log.Error("notification.subscribe", zap.Error(err))
		closeSocket(sock, websocket.CloseInternalServerErr, "subscribe failed", h.cfg.WriteTimeout)
		return
	}
	defer sub.Close()

	count, err := h.dispatcher.UnreadCount(ctx, userID)
	if err != nil {
		log.Warn("notification.unread_count", zap.Error(err))
	}

	metrics.NotificationSocketsActive.Inc()
	defer metrics.NotificationSocketsActive.Dec()

	out := newOutbound(sock, h.cfg.SendQueueSize, h.cfg.WriteTimeout, cancel)
	out.enqueue(domain.OutboundFrame{Type: domain.FrameUnreadCount, Data: UnreadCountData{Count: count}})

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		out.run(ctx)
	}()
	go func() {
		defer wg.Done()
		h.ping(ctx, out, sock)
	}()
	go func() {
		defer wg.Done()
		h.forward(ctx, out, sub)
	}()
	defer func() {
		cancel()
		wg.Wait()
		_ = sock.Close()
	}()

	_ = sock.SetReadDeadline(time.Now().Add(h.cfg.ReadIdleTimeout))
	sock.SetPongHandler(func(string) error {
		return sock.SetReadDeadline(time.Now().Add(h.cfg.ReadIdleTimeout))
	})

	for {
		_, data, err := sock.ReadMessage()
		if err != nil {
			return
		}
		_ = sock.SetReadDeadline(time.Now().Add(h.cfg.ReadIdleTimeout))

		var in domain.InboundFrame
		if err := json.Unmarshal(data, &in); err != nil || in.Type != domain.FramePing {
			continue
		}
		if !out.enqueue(domain.OutboundFrame{Type: domain.FramePong}) {
			metrics.SlowConsumerDisconnects.Inc()
			out.fail(domain.CloseSlowConsumer, "slow consumer")
			return
		}
	}
}

func (h *NotificationHandler) forward(ctx context.Context, out *outbound, sub repository.Subscription[domain.Notification]) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-sub.C():
			if !ok {
				if ctx.Err() == nil {
					metrics.SlowConsumerDisconnects.Inc()
					out.fail(domain.CloseSlowConsumer, "notification stream lost")
				}
				return
			}
			if !out.enqueue(domain.OutboundFrame{Type: domain.FrameNotification, Data: n}) {
				metrics.SlowConsumerDisconnects.Inc()
				out.fail(domain.CloseSlowConsumer, "slow consumer")
				return
			}
		}
	}
}

func (h *NotificationHandler) ping(ctx context.Context, out *outbound, sock Socket) {
	ticker := time.NewTicker(h.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sock.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.cfg.WriteTimeout)); err != nil {
				out.fail(0, "")
				return
			}
		}
	}
}

// List GET /notifications?limit=
func (h *NotificationHandler) List(c *fiber.Ctx) error {
	items, err := h.dispatcher.List(c.UserContext(), middlewares.MemberID(c), c.QueryInt("limit", 0))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"notifications": items})
}

// UnreadCount GET /notifications/unread_count
func (h *NotificationHandler) UnreadCount(c *fiber.Ctx) error {
	n, err := h.dispatcher.UnreadCount(c.UserContext(), middlewares.MemberID(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(UnreadCountData{Count: n})
}

// MarkRead POST /notifications/:id/read
func (h *NotificationHandler) MarkRead(c *fiber.Ctx) error {
	if err := h.dispatcher.MarkRead(c.UserContext(), c.Params("id"), middlewares.MemberID(c)); err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"message": "ok"})
}

// MarkAllRead POST /notifications/read_all
func (h *NotificationHandler) MarkAllRead(c *fiber.Ctx) error {
	n, err := h.dispatcher.MarkAllRead(c.UserContext(), middlewares.MemberID(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"updated": n})
}
