package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"realtime_chat_service/internal/chat/domain"
	"realtime_chat_service/internal/chat/repository"
	"realtime_chat_service/pkg/config"
	errprocess "realtime_chat_service/pkg/err"
	"realtime_chat_service/pkg/logger"
	"realtime_chat_service/pkg/metrics"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// SessionDeps collaborators shared by every room session
type SessionDeps struct {
	Rooms       repository.RoomRepository
	Messages    repository.MessageRepository
	Attachments repository.AttachmentRepository
	Presence    repository.PresenceRegistry
	Bus         repository.EventBus
	Locker      repository.RoomLocker
	Resolver    repository.AttachmentResolver
	Config      config.Realtime
	Now         func() time.Time
}

func (d SessionDeps) withDefaults() SessionDeps {
	d.Config = d.Config.WithDefaults()
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Locker == nil {
		d.Locker = repository.NopRoomLocker{}
	}
	if d.Resolver == nil {
		d.Resolver = repository.PassthroughResolver{}
	}
	return d
}

// PostInput message to post; Attachment is nil for plain text
type PostInput struct {
	Content     string
	ReplyTo     *int64
	Attachment  *domain.AttachmentData
	ClientMsgID string
}

// RoomSession single writer of one room. Every mutating op runs as a job on the
// session goroutine while holding the room lock, so seq assignment, persist and
// publish happen in the same order for every subscriber.
type RoomSession struct {
	roomID string
	deps   SessionDeps

	mailbox  chan func()
	stop     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once

	// owned by the session goroutine
	typing map[string]time.Time
	conns  map[string]string
}

func newRoomSession(roomID string, deps SessionDeps) *RoomSession {
	s := &RoomSession{
		roomID:  roomID,
		deps:    deps,
		mailbox: make(chan func(), deps.Config.MailboxSize),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
		typing:  make(map[string]time.Time),
		conns:   make(map[string]string),
	}
	go s.run()
	return s
}

// RoomID room served by the session
func (s *RoomSession) RoomID() string {
	return s.roomID
}

func (s *RoomSession) run() {
	defer close(s.stopped)
	ticker := time.NewTicker(s.deps.Config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case job := <-s.mailbox:
			job()
		case <-ticker.C:
			s.sweep()
		case <-s.stop:
			return
		}
	}
}

// Stop end the session goroutine; queued jobs fail with Transient
func (s *RoomSession) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.stopped
}

var errSessionClosed = errprocess.New(errprocess.Transient, "room session closed")

// do run fn on the session goroutine under the room lock, bounded by OpTimeout
func (s *RoomSession) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.deps.Config.OpTimeout)
	defer cancel()
	start := time.Now()
	defer func() {
		metrics.OpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	res := make(chan error, 1)
	job := func() {
		if err := ctx.Err(); err != nil {
			res <- err
			return
		}
		unlock, err := s.deps.Locker.Lock(ctx, s.roomID)
		if err != nil {
			res <- err
			return
		}
		defer unlock()
		res <- fn(ctx)
	}

	select {
	case s.mailbox <- job:
	case <-ctx.Done():
		return classify(op, ctx.Err())
	case <-s.stopped:
		return errSessionClosed
	}

	select {
	case err := <-res:
		return classify(op, err)
	case <-ctx.Done():
		return classify(op, ctx.Err())
	case <-s.stopped:
		return errSessionClosed
	}
}

// classify every error leaving the session carries a kind
func classify(op string, err error) error {
	if err == nil || errprocess.KindOf(err) != "" {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errprocess.Newf(errprocess.Transient, "%s timed out", op)
	}
	return errprocess.Wrap(errprocess.Transient, err)
}

func (s *RoomSession) retry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return withRetry(ctx, s.deps.Config.Retry, op, fn)
}

func (s *RoomSession) loadRoom(ctx context.Context) (*domain.Room, error) {
	var room *domain.Room
	err := s.retry(ctx, "room.get", func(ctx context.Context) error {
		r, err := s.deps.Rooms.GetRoom(ctx, s.roomID)
		room = r
		return err
	})
	if errors.Is(err, errprocess.ErrNotFound) {
		return nil, errprocess.Newf(errprocess.NotFound, "room %s not found", s.roomID)
	}
	return room, err
}

func (s *RoomSession) loadMessage(ctx context.Context, seq int64) (*domain.Message, error) {
	var msg *domain.Message
	err := s.retry(ctx, "message.get", func(ctx context.Context) error {
		m, err := s.deps.Messages.GetMessage(ctx, s.roomID, seq)
		msg = m
		return err
	})
	return msg, err
}

func (s *RoomSession) publish(ctx context.Context, ev domain.Event) error {
	err := s.retry(ctx, "bus.publish", func(ctx context.Context) error {
		return s.deps.Bus.Publish(ctx, s.roomID, ev)
	})
	if err == nil {
		metrics.EventsPublished.WithLabelValues(string(ev.Kind)).Inc()
	}
	return err
}

func notAMember(userID, roomID string) error {
	return errprocess.Newf(errprocess.NotAMember, "user %s is not a member of room %s", userID, roomID)
}

// Join register presence for connID and return the room snapshot.
// The first live connection of the user announces presence online.
func (s *RoomSession) Join(ctx context.Context, userID, connID string) (*domain.JoinData, error) {
	var snap *domain.JoinData
	err := s.do(ctx, "join", func(ctx context.Context) error {
		room, err := s.loadRoom(ctx)
		if err != nil {
			return err
		}
		if !room.CanAct(userID) {
			return notAMember(userID, s.roomID)
		}

		var present bool
		err = s.retry(ctx, "presence.is_present", func(ctx context.Context) error {
			var err error
			present, err = s.deps.Presence.IsPresent(ctx, userID, s.roomID)
			return err
		})
		if err != nil {
			return err
		}
		err = s.retry(ctx, "presence.register", func(ctx context.Context) error {
			return s.deps.Presence.Register(ctx, userID, s.roomID, connID)
		})
		if err != nil {
			s.dropConn(userID, connID)
			return err
		}
		s.conns[connID] = userID

		if !present {
			if err := s.publish(ctx, domain.NewPresenceEvent(s.roomID, userID, true, s.deps.Now())); err != nil {
				s.dropConn(userID, connID)
				return err
			}
		}

		var online []string
		var history []domain.Message
		err = s.retry(ctx, "join.snapshot", func(ctx context.Context) error {
			var err error
			if online, err = s.deps.Presence.OnlineUsers(ctx, s.roomID); err != nil {
				return err
			}
			history, err = s.deps.Messages.ListMessages(ctx, s.roomID, 0, s.deps.Config.HistoryLimit)
			return err
		})
		if err != nil {
			s.dropConn(userID, connID)
			return err
		}
		if history == nil {
			history = []domain.Message{}
		}

		snap = &domain.JoinData{
			RoomID:   room.ID,
			Kind:     room.Kind,
			Members:  room.Members,
			Online:   online,
			Messages: history,
		}
		return nil
	})
	return snap, err
}

// dropConn undo the registration of a join that failed; the caller never calls Leave
func (s *RoomSession) dropConn(userID, connID string) {
	delete(s.conns, connID)
	ctx, cancel := context.WithTimeout(context.Background(), s.deps.Config.LeaveTimeout)
	defer cancel()
	if _, err := s.deps.Presence.Unregister(ctx, userID, s.roomID, connID); err != nil {
		logger.Log.Warn("presence.unregister", zap.String("room_id", s.roomID), zap.String("user_id", userID), zap.String("conn_id", connID), zap.Error(err))
	}
}

// Leave deregister connID; the user's last connection announces presence offline
func (s *RoomSession) Leave(ctx context.Context, userID, connID string) error {
	return s.do(ctx, "leave", func(ctx context.Context) error {
		_, joined := s.conns[connID]
		delete(s.conns, connID)

		var still bool
		err := s.retry(ctx, "presence.unregister", func(ctx context.Context) error {
			var err error
			still, err = s.deps.Presence.Unregister(ctx, userID, s.roomID, connID)
			return err
		})
		if err != nil || still || !joined {
			return err
		}

		now := s.deps.Now()
		if _, typing := s.typing[userID]; typing {
			delete(s.typing, userID)
			if err := s.publish(ctx, domain.NewTypingEvent(s.roomID, userID, false, now)); err != nil {
				return err
			}
		}
		return s.publish(ctx, domain.NewPresenceEvent(s.roomID, userID, false, now))
	})
}

func (s *RoomSession) validateContent(content string, allowEmpty bool) error {
	if !allowEmpty && strings.TrimSpace(content) == "" {
		return errprocess.New(errprocess.BadRequest, "content is empty")
	}
	if n := utf8.RuneCountInString(content); n > s.deps.Config.MaxMessageChars {
		return errprocess.Newf(errprocess.BadRequest, "content exceeds %d characters", s.deps.Config.MaxMessageChars)
	}
	return nil
}

// PostMessage assign the next seq, persist, then publish
func (s *RoomSession) PostMessage(ctx context.Context, userID string, in PostInput) (*domain.Message, error) {
	if err := s.validateContent(in.Content, in.Attachment != nil); err != nil {
		return nil, err
	}
	var att *domain.Attachment
	if in.Attachment != nil {
		a, err := newAttachment(s.roomID, userID, *in.Attachment, s.deps.Now())
		if err != nil {
			return nil, err
		}
		att = a
	}

	var out *domain.Message
	err := s.do(ctx, "post", func(ctx context.Context) error {
		room, err := s.loadRoom(ctx)
		if err != nil {
			return err
		}
		if !room.CanAct(userID) {
			return notAMember(userID, s.roomID)
		}

		if in.ReplyTo != nil {
			if _, err := s.loadMessage(ctx, *in.ReplyTo); err != nil {
				if errors.Is(err, errprocess.ErrNotFound) {
					return errprocess.Newf(errprocess.InvalidReply, "reply target %d not found in room", *in.ReplyTo)
				}
				return err
			}
		}

		if att != nil {
			if err := s.storeAttachment(ctx, att); err != nil {
				return err
			}
		}

		now := s.deps.Now()
		msg := &domain.Message{
			RoomID:      s.roomID,
			Type:        domain.MessageText,
			SenderID:    userID,
			Content:     in.Content,
			ReplyTo:     in.ReplyTo,
			Attachment:  att,
			Nonce:       in.ClientMsgID,
			ClientMsgID: in.ClientMsgID,
			CreatedAt:   now,
		}
		if att != nil {
			msg.Type = domain.MessageAttachment
		}
		// a server nonce keeps a retried append from taking a second seq
		if msg.Nonce == "" {
			msg.Nonce = ulid.Make().String()
		}

		var stored *domain.Message
		err = s.retry(ctx, "message.append", func(ctx context.Context) error {
			m, err := s.deps.Messages.AppendMessage(ctx, msg)
			stored = m
			return err
		})
		if err != nil {
			return err
		}

		if att != nil && stored.Attachment != nil && stored.Attachment.ID == att.ID {
			seq := stored.Seq
			if s.deps.Attachments != nil {
				err := s.retry(ctx, "attachment.link", func(ctx context.Context) error {
					return s.deps.Attachments.LinkAttachment(ctx, att.ID, seq)
				})
				if err != nil {
					logger.Log.Error("attachment.link", zap.String("attachment_id", att.ID), zap.Int64("seq", seq), zap.Error(err))
				}
			}
			stored.Attachment.MessageSeq = &seq
		}

		if err := s.publish(ctx, domain.NewMessageEvent(domain.EventMessage, userID, stored, now)); err != nil {
			return err
		}
		out = stored
		return nil
	})
	return out, err
}

// loadOwned message seq authored by userID and not deleted
func (s *RoomSession) loadOwned(ctx context.Context, userID string, seq int64) (*domain.Message, error) {
	m, err := s.loadMessage(ctx, seq)
	if errors.Is(err, errprocess.ErrNotFound) || (err == nil && m.Deleted) {
		return nil, errprocess.Newf(errprocess.NotFound, "message %d not found", seq)
	}
	if err != nil {
		return nil, err
	}
	if m.SenderID != userID {
		return nil, errprocess.Newf(errprocess.NotAuthor, "message %d belongs to another user", seq)
	}
	return m, nil
}

// EditMessage replace content of the author's own message
func (s *RoomSession) EditMessage(ctx context.Context, userID string, seq int64, content string) (*domain.Message, error) {
	if err := s.validateContent(content, false); err != nil {
		return nil, err
	}
	var out *domain.Message
	err := s.do(ctx, "edit", func(ctx context.Context) error {
		if _, err := s.loadOwned(ctx, userID, seq); err != nil {
			return err
		}
		now := s.deps.Now()
		var updated *domain.Message
		err := s.retry(ctx, "message.edit", func(ctx context.Context) error {
			m, err := s.deps.Messages.MarkEdited(ctx, s.roomID, seq, content, now)
			updated = m
			return err
		})
		if err != nil {
			return err
		}
		if err := s.publish(ctx, domain.NewMessageEvent(domain.EventEdit, userID, updated, now)); err != nil {
			return err
		}
		out = updated
		return nil
	})
	return out, err
}

// SoftDeleteMessage clear content and keep the seq slot
func (s *RoomSession) SoftDeleteMessage(ctx context.Context, userID string, seq int64) (*domain.Message, error) {
	var out *domain.Message
	err := s.do(ctx, "delete", func(ctx context.Context) error {
		if _, err := s.loadOwned(ctx, userID, seq); err != nil {
			return err
		}
		now := s.deps.Now()
		var deleted *domain.Message
		err := s.retry(ctx, "message.delete", func(ctx context.Context) error {
			m, err := s.deps.Messages.MarkDeleted(ctx, s.roomID, seq, now)
			deleted = m
			return err
		})
		if err != nil {
			return err
		}
		if err := s.publish(ctx, domain.NewMessageEvent(domain.EventDelete, userID, deleted, now)); err != nil {
			return err
		}
		out = deleted
		return nil
	})
	return out, err
}

// SetTyping start or stop the typing indicator. Repeated starts only push the
// expiry forward; events go out on state changes.
func (s *RoomSession) SetTyping(ctx context.Context, userID string, isTyping bool) error {
	return s.do(ctx, "typing", func(ctx context.Context) error {
		room, err := s.loadRoom(ctx)
		if err != nil {
			return err
		}
		if !room.CanAct(userID) {
			return notAMember(userID, s.roomID)
		}

		now := s.deps.Now()
		exp, had := s.typing[userID]
		active := had && exp.After(now)
		if isTyping {
			s.typing[userID] = now.Add(s.deps.Config.TypingTTL)
			if active {
				return nil
			}
		} else {
			if !had {
				return nil
			}
			delete(s.typing, userID)
		}
		return s.publish(ctx, domain.NewTypingEvent(s.roomID, userID, isTyping, now))
	})
}

// Touch refresh the presence heartbeat of connID
func (s *RoomSession) Touch(ctx context.Context, userID, connID string) error {
	return s.deps.Presence.Register(ctx, userID, s.roomID, connID)
}

// sweep expire typing entries and purge presence entries whose heartbeat lapsed
func (s *RoomSession) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.deps.Config.OpTimeout)
	defer cancel()

	now := s.deps.Now()
	var events []domain.Event
	for userID, exp := range s.typing {
		if !exp.After(now) {
			delete(s.typing, userID)
			events = append(events, domain.NewTypingEvent(s.roomID, userID, false, now))
		}
	}

	gone, err := s.deps.Presence.Purge(ctx, s.roomID)
	if err != nil {
		logger.Log.Warn("presence.purge", zap.String("room_id", s.roomID), zap.Error(err))
	}
	for _, userID := range gone {
		if _, typing := s.typing[userID]; typing {
			delete(s.typing, userID)
			events = append(events, domain.NewTypingEvent(s.roomID, userID, false, now))
		}
		for connID, owner := range s.conns {
			if owner == userID {
				delete(s.conns, connID)
			}
		}
		events = append(events, domain.NewPresenceEvent(s.roomID, userID, false, now))
	}
	if len(events) == 0 {
		return
	}

	unlock, err := s.deps.Locker.Lock(ctx, s.roomID)
	if err != nil {
		logger.Log.Warn("room.sweep.lock", zap.String("room_id", s.roomID), zap.Error(err))
		return
	}
	defer unlock()
	for _, ev := range events {
		if err := s.publish(ctx, ev); err != nil {
			logger.Log.Warn("room.sweep.publish", zap.String("room_id", s.roomID), zap.String("kind", string(ev.Kind)), zap.Error(err))
		}
	}
}

type hubEntry struct {
	session *RoomSession
	refs    int
}

// Hub create room sessions on first use and stop them when the last holder releases
type Hub struct {
	deps SessionDeps

	mu       sync.Mutex
	sessions map[string]*hubEntry
	stopping map[string]chan struct{}
}

// NewHub create Hub
func NewHub(deps SessionDeps) *Hub {
	return &Hub{
		deps:     deps.withDefaults(),
		sessions: make(map[string]*hubEntry),
		stopping: make(map[string]chan struct{}),
	}
}

// Acquire return the room's session, starting one if needed; pair with Release
func (h *Hub) Acquire(roomID string) *RoomSession {
	for {
		h.mu.Lock()
		if e, ok := h.sessions[roomID]; ok {
			e.refs++
			h.mu.Unlock()
			return e.session
		}
		// a previous session of the room is still finishing its last job
		if done, ok := h.stopping[roomID]; ok {
			h.mu.Unlock()
			<-done
			continue
		}
		s := newRoomSession(roomID, h.deps)
		h.sessions[roomID] = &hubEntry{session: s, refs: 1}
		h.mu.Unlock()
		metrics.RoomSessionsActive.Inc()
		return s
	}
}

// Release drop one reference; the last one stops the session
func (h *Hub) Release(roomID string) {
	h.mu.Lock()
	e, ok := h.sessions[roomID]
	if !ok {
		h.mu.Unlock()
		return
	}
	e.refs--
	if e.refs > 0 {
		h.mu.Unlock()
		return
	}
	delete(h.sessions, roomID)
	done := make(chan struct{})
	h.stopping[roomID] = done
	h.mu.Unlock()

	e.session.Stop()
	metrics.RoomSessionsActive.Dec()

	h.mu.Lock()
	delete(h.stopping, roomID)
	h.mu.Unlock()
	close(done)
}

// Active number of running sessions
func (h *Hub) Active() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Close stop every session
func (h *Hub) Close() {
	h.mu.Lock()
	entries := make([]*hubEntry, 0, len(h.sessions))
	for id, e := range h.sessions {
		entries = append(entries, e)
		delete(h.sessions, id)
	}
	h.mu.Unlock()

	for _, e := range entries {
		e.session.Stop()
		metrics.RoomSessionsActive.Dec()
	}
}
