package app

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"realtime_chat_service/internal/chat/domain"
	"realtime_chat_service/internal/chat/repository"
	"realtime_chat_service/pkg/config"
	errprocess "realtime_chat_service/pkg/err"
	"realtime_chat_service/pkg/logger"
	"realtime_chat_service/pkg/metrics"
	"realtime_chat_service/pkg/token"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ConnectionHandler serve one room websocket per call to Serve
type ConnectionHandler struct {
	hub      *Hub
	verifier token.Verifier
	bus      repository.EventBus
	cfg      config.Realtime
}

// NewConnectionHandler create ConnectionHandler
func NewConnectionHandler(hub *Hub, verifier token.Verifier, bus repository.EventBus, cfg config.Realtime) *ConnectionHandler {
	return &ConnectionHandler{
		hub:      hub,
		verifier: verifier,
		bus:      bus,
		cfg:      cfg.WithDefaults(),
	}
}

// roomConn state of one connection
type roomConn struct {
	userID  string
	connID  string
	session *RoomSession
	out     *outbound
	log     *logger.LogInfo
}

// Serve authenticate, join the room and pump frames until the socket closes.
// Room events reach the client only through the bus subscription, the sender included.
func (h *ConnectionHandler) Serve(ctx context.Context, sock Socket, roomID, credential string) {
	userID, err := h.verifier.Verify(ctx, credential)
	if err != nil {
		closeSocket(sock, domain.CloseUnauthorized, "unauthorized", h.cfg.WriteTimeout)
		return
	}
	if roomID == "" {
		closeSocket(sock, domain.CloseNotAMember, "room not found", h.cfg.WriteTimeout)
		return
	}

	connID := uuid.NewString()
	log := logger.Log.With(zap.String("room_id", roomID), zap.String("user_id", userID), zap.String("conn_id", connID))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	session := h.hub.Acquire(roomID)
	defer h.hub.Release(roomID)

	// subscribe before join so nothing published after the snapshot is missed
	sub, err := h.bus.Subscribe(ctx, roomID)
	if err != nil {
		log.Error("room.subscribe", zap.Error(err))
		closeSocket(sock, websocket.CloseInternalServerErr, "subscribe failed", h.cfg.WriteTimeout)
		return
	}
	defer sub.Close()

	snap, err := session.Join(ctx, userID, connID)
	if err != nil {
		switch errprocess.KindOf(err) {
		case errprocess.NotAMember, errprocess.NotFound:
			closeSocket(sock, domain.CloseNotAMember, errprocess.DetailOf(err), h.cfg.WriteTimeout)
		default:
			log.Error("room.join", zap.Error(err))
			// the join job may still have finished after the wait timed out
			lctx, lcancel := context.WithTimeout(context.Background(), h.cfg.LeaveTimeout)
			if err := session.Leave(lctx, userID, connID); err != nil {
				log.Warn("room.leave", zap.Error(err))
			}
			lcancel()
			closeSocket(sock, websocket.CloseInternalServerErr, "join failed", h.cfg.WriteTimeout)
		}
		return
	}
	log.Info("room.connected")
	metrics.ConnectionsActive.Inc()

	c := &roomConn{
		userID:  userID,
		connID:  connID,
		session: session,
		out:     newOutbound(sock, h.cfg.SendQueueSize, h.cfg.WriteTimeout, cancel),
		log:     log,
	}
	c.out.enqueue(domain.OutboundFrame{Type: domain.FrameJoin, Data: snap})

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		c.out.run(ctx)
	}()
	go func() {
		defer wg.Done()
		h.forward(ctx, c, sub)
	}()
	go func() {
		defer wg.Done()
		h.heartbeat(ctx, c, sock)
	}()

	graceful := false
	defer func() {
		cancel()
		wg.Wait()
		if graceful {
			closeSocket(sock, websocket.CloseNormalClosure, "bye", h.cfg.WriteTimeout)
		} else {
			_ = sock.Close()
		}
		metrics.ConnectionsActive.Dec()

		lctx, lcancel := context.WithTimeout(context.Background(), h.cfg.LeaveTimeout)
		defer lcancel()
		if err := session.Leave(lctx, userID, connID); err != nil {
			log.Warn("room.leave", zap.Error(err))
		}
		log.Info("room.disconnected")
	}()

	_ = sock.SetReadDeadline(time.Now().Add(h.cfg.ReadIdleTimeout))
	sock.SetPongHandler(func(string) error {
		return sock.SetReadDeadline(time.Now().Add(h.cfg.ReadIdleTimeout))
	})

	for {
		_, data, err := sock.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) &&
				ctx.Err() == nil {
				log.Debug("room.read", zap.Error(err))
			}
			return
		}
		_ = sock.SetReadDeadline(time.Now().Add(h.cfg.ReadIdleTimeout))
		if c.dispatch(ctx, data) {
			graceful = true
			return
		}
	}
}

// forward relay bus events to the client, dropping replays
func (h *ConnectionHandler) forward(ctx context.Context, c *roomConn, sub repository.Subscription[domain.Event]) {
	seen := newDedupeWindow(h.cfg.DedupeWindow)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				// the bus dropped us for falling behind
				if ctx.Err() == nil {
					metrics.SlowConsumerDisconnects.Inc()
					c.out.fail(domain.CloseSlowConsumer, "event stream lost")
				}
				return
			}
			if !seen.Add(ev.DedupeKey()) {
				metrics.DuplicateEventsDropped.Inc()
				continue
			}
			if !c.out.enqueue(domain.FrameFromEvent(ev)) {
				metrics.SlowConsumerDisconnects.Inc()
				c.log.Warn("room.slow_consumer")
				c.out.fail(domain.CloseSlowConsumer, "slow consumer")
				return
			}
		}
	}
}

// heartbeat ping the client and refresh presence
func (h *ConnectionHandler) heartbeat(ctx context.Context, c *roomConn, sock Socket) {
	ticker := time.NewTicker(h.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sock.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.cfg.WriteTimeout)); err != nil {
				c.out.fail(0, "")
				return
			}
			if err := c.session.Touch(ctx, c.userID, c.connID); err != nil {
				c.log.Warn("presence.touch", zap.Error(err))
			}
		}
	}
}

func decodeData(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return errprocess.New(errprocess.BadRequest, "missing data")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errprocess.Newf(errprocess.BadRequest, "malformed data: %v", err)
	}
	return nil
}

// dispatch handle one inbound frame; true ends the connection gracefully
func (c *roomConn) dispatch(ctx context.Context, raw []byte) bool {
	var in domain.InboundFrame
	if err := json.Unmarshal(raw, &in); err != nil {
		c.sendError(errprocess.New(errprocess.BadRequest, "malformed frame"))
		return false
	}

	var err error
	switch in.Type {
	case domain.FrameJoin:
		var snap *domain.JoinData
		if snap, err = c.session.Join(ctx, c.userID, c.connID); err == nil {
			c.send(domain.OutboundFrame{Type: domain.FrameJoin, Data: snap})
		}
	case domain.FrameLeave:
		c.send(domain.OutboundFrame{Type: domain.FrameLeave, Data: domain.LeaveData{RoomID: c.session.RoomID()}})
		return true
	case domain.FrameMessage:
		var d domain.MessageData
		if err = decodeData(in.Data, &d); err == nil {
			_, err = c.session.PostMessage(ctx, c.userID, PostInput{
				Content:     d.Content,
				ReplyTo:     d.ReplyTo,
				ClientMsgID: d.ClientMsgID,
			})
		}
	case domain.FrameAttachment:
		var d domain.AttachmentData
		if err = decodeData(in.Data, &d); err == nil {
			_, err = c.session.PostMessage(ctx, c.userID, PostInput{
				Content:     d.Content,
				ReplyTo:     d.ReplyTo,
				Attachment:  &d,
				ClientMsgID: d.ClientMsgID,
			})
		}
	case domain.FrameTyping:
		var d domain.TypingData
		if err = decodeData(in.Data, &d); err == nil {
			if d.IsTyping == nil {
				err = errprocess.New(errprocess.BadRequest, "is_typing is required")
			} else {
				err = c.session.SetTyping(ctx, c.userID, *d.IsTyping)
			}
		}
	case domain.FrameEdit:
		var d domain.EditData
		if err = decodeData(in.Data, &d); err == nil {
			if d.MessageID == nil {
				err = errprocess.New(errprocess.BadRequest, "message_id is required")
			} else {
				_, err = c.session.EditMessage(ctx, c.userID, *d.MessageID, d.Content)
			}
		}
	case domain.FrameDelete:
		var d domain.DeleteData
		if err = decodeData(in.Data, &d); err == nil {
			if d.MessageID == nil {
				err = errprocess.New(errprocess.BadRequest, "message_id is required")
			} else {
				_, err = c.session.SoftDeleteMessage(ctx, c.userID, *d.MessageID)
			}
		}
	case domain.FramePing:
		c.send(domain.OutboundFrame{Type: domain.FramePong})
	default:
		err = errprocess.Newf(errprocess.BadRequest, "unknown frame type %q", in.Type)
	}

	if err != nil {
		c.sendError(err)
	}
	return false
}

func (c *roomConn) send(f domain.OutboundFrame) {
	if !c.out.enqueue(f) {
		metrics.SlowConsumerDisconnects.Inc()
		c.out.fail(domain.CloseSlowConsumer, "slow consumer")
	}
}

// sendError report err to this connection only
func (c *roomConn) sendError(err error) {
	kind := errprocess.KindOf(err)
	if kind == "" {
		kind = errprocess.Transient
	}
	metrics.OperationErrors.WithLabelValues(string(kind)).Inc()
	if kind == errprocess.Transient {
		c.log.Warn("room.op", zap.Error(err))
	}
	c.send(domain.OutboundFrame{Type: domain.FrameError, Data: domain.ErrorData{
		Kind:   string(kind),
		Detail: errprocess.DetailOf(err),
	}})
}
