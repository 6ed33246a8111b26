package app

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"realtime_chat_service/internal/chat/domain"

	"github.com/gofiber/websocket/v2"
)

// Socket subset of *websocket.Conn used by the handlers.
// Only the writer goroutine calls WriteMessage; WriteControl may run concurrently.
type Socket interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// closeSocket send a close frame and drop the connection
func closeSocket(sock Socket, code int, reason string, timeout time.Duration) {
	_ = sock.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(timeout))
	_ = sock.Close()
}

// outbound bounded send queue of one connection, drained by a single writer goroutine
type outbound struct {
	sock         Socket
	queue        chan domain.OutboundFrame
	writeTimeout time.Duration
	cancel       context.CancelFunc
	failOnce     sync.Once
}

func newOutbound(sock Socket, size int, writeTimeout time.Duration, cancel context.CancelFunc) *outbound {
	return &outbound{
		sock:         sock,
		queue:        make(chan domain.OutboundFrame, size),
		writeTimeout: writeTimeout,
		cancel:       cancel,
	}
}

// enqueue never blocks; false means the queue is full
func (o *outbound) enqueue(f domain.OutboundFrame) bool {
	select {
	case o.queue <- f:
		return true
	default:
		return false
	}
}

// fail end the connection once; code 0 skips the close frame
func (o *outbound) fail(code int, reason string) {
	o.failOnce.Do(func() {
		if code != 0 {
			closeSocket(o.sock, code, reason, o.writeTimeout)
		} else {
			_ = o.sock.Close()
		}
		o.cancel()
	})
}

func (o *outbound) write(f domain.OutboundFrame) error {
	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	if err := o.sock.SetWriteDeadline(time.Now().Add(o.writeTimeout)); err != nil {
		return err
	}
	return o.sock.WriteMessage(websocket.TextMessage, b)
}

// run write frames in queue order; on ctx done flush what is already queued
func (o *outbound) run(ctx context.Context) {
	for {
		select {
		case f := <-o.queue:
			if err := o.write(f); err != nil {
				o.fail(0, "")
				return
			}
		case <-ctx.Done():
			for {
				select {
				case f := <-o.queue:
					if err := o.write(f); err != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}
