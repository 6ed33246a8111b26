package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"realtime_chat_service/internal/chat/domain"
	"realtime_chat_service/pkg"
	errprocess "realtime_chat_service/pkg/err"
)

// MemoryStore in-process RoomRepository and MessageRepository, used by tests and single node dev runs
type MemoryStore struct {
	mu          sync.RWMutex
	rooms       map[string]*domain.Room
	messages    map[string]map[int64]*domain.Message
	nonces      map[string]map[string]int64
	seq         map[string]int64
	attachments map[string]*domain.Attachment
}

// NewMemoryStore create MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms:       make(map[string]*domain.Room),
		messages:    make(map[string]map[int64]*domain.Message),
		nonces:      make(map[string]map[string]int64),
		seq:         make(map[string]int64),
		attachments: make(map[string]*domain.Attachment),
	}
}

func cloneRoom(r *domain.Room) *domain.Room {
	c := *r
	c.Members = append([]string(nil), r.Members...)
	c.FormerMembers = append([]string(nil), r.FormerMembers...)
	c.Admins = append([]string(nil), r.Admins...)
	return &c
}

func cloneMessage(m *domain.Message) *domain.Message {
	c := *m
	if m.Attachment != nil {
		a := *m.Attachment
		c.Attachment = &a
	}
	return &c
}

// CreateRoom create room
func (s *MemoryStore) CreateRoom(_ context.Context, room *domain.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[room.ID]; ok {
		return errprocess.Newf(errprocess.BadRequest, "room %s already exists", room.ID)
	}
	s.rooms[room.ID] = cloneRoom(room)
	return nil
}

// GetRoom find room by id
func (s *MemoryStore) GetRoom(_ context.Context, roomID string) (*domain.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return nil, errprocess.ErrNotFound
	}
	return cloneRoom(r), nil
}

// GetMembers current members of the room
func (s *MemoryStore) GetMembers(ctx context.Context, roomID string) ([]string, error) {
	r, err := s.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return r.Members, nil
}

// AddMember add userID to the room, clearing any former membership
func (s *MemoryStore) AddMember(_ context.Context, roomID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return errprocess.ErrNotFound
	}
	r.Members = pkg.AppendIfMissing(r.Members, userID)
	r.FormerMembers = pkg.Remove(r.FormerMembers, userID)
	return nil
}

// RemoveMember move userID to the former members
func (s *MemoryStore) RemoveMember(_ context.Context, roomID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return errprocess.ErrNotFound
	}
	if !pkg.Contains(r.Members, userID) {
		return nil
	}
	r.Members = pkg.Remove(r.Members, userID)
	r.FormerMembers = pkg.AppendIfMissing(r.FormerMembers, userID)
	return nil
}

// FindDirectRoom find the direct room between two users
func (s *MemoryStore) FindDirectRoom(_ context.Context, userA, userB string) (*domain.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.rooms {
		if r.Kind != domain.RoomKindDirect {
			continue
		}
		if r.WasMember(userA) && r.WasMember(userB) {
			return cloneRoom(r), nil
		}
	}
	return nil, errprocess.ErrNotFound
}

// AppendMessage assign the next seq and store msg
func (s *MemoryStore) AppendMessage(_ context.Context, msg *domain.Message) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.Nonce != "" {
		if seq, ok := s.nonces[msg.RoomID][nonceKey(msg)]; ok {
			return cloneMessage(s.messages[msg.RoomID][seq]), nil
		}
	}

	s.seq[msg.RoomID]++
	stored := cloneMessage(msg)
	stored.Seq = s.seq[msg.RoomID]
	if stored.Attachment != nil {
		seq := stored.Seq
		stored.Attachment.MessageSeq = &seq
	}

	if s.messages[msg.RoomID] == nil {
		s.messages[msg.RoomID] = make(map[int64]*domain.Message)
	}
	s.messages[msg.RoomID][stored.Seq] = stored
	if msg.Nonce != "" {
		if s.nonces[msg.RoomID] == nil {
			s.nonces[msg.RoomID] = make(map[string]int64)
		}
		s.nonces[msg.RoomID][nonceKey(msg)] = stored.Seq
	}
	return cloneMessage(stored), nil
}

// nonceKey nonces are scoped to their sender
func nonceKey(msg *domain.Message) string {
	return msg.SenderID + "\x00" + msg.Nonce
}

// GetMessage find message by seq
func (s *MemoryStore) GetMessage(_ context.Context, roomID string, seq int64) (*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[roomID][seq]
	if !ok {
		return nil, errprocess.ErrNotFound
	}
	return cloneMessage(m), nil
}

// MarkEdited replace content of a live message
func (s *MemoryStore) MarkEdited(_ context.Context, roomID string, seq int64, content string, at time.Time) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[roomID][seq]
	if !ok || m.Deleted {
		return nil, errprocess.ErrNotFound
	}
	m.Content = content
	m.EditedAt = &at
	m.Revision++
	return cloneMessage(m), nil
}

// MarkDeleted soft delete a live message; the seq slot stays occupied
func (s *MemoryStore) MarkDeleted(_ context.Context, roomID string, seq int64, at time.Time) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[roomID][seq]
	if !ok || m.Deleted {
		return nil, errprocess.ErrNotFound
	}
	m.Deleted = true
	m.DeletedAt = &at
	m.Content = ""
	m.Attachment = nil
	m.Revision++
	return cloneMessage(m), nil
}

// ListMessages ascending page ending before beforeSeq
func (s *MemoryStore) ListMessages(_ context.Context, roomID string, beforeSeq int64, limit int) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seqs := make([]int64, 0, len(s.messages[roomID]))
	for seq := range s.messages[roomID] {
		if beforeSeq <= 0 || seq < beforeSeq {
			seqs = append(seqs, seq)
		}
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	if limit > 0 && len(seqs) > limit {
		seqs = seqs[len(seqs)-limit:]
	}

	out := make([]domain.Message, 0, len(seqs))
	for _, seq := range seqs {
		out = append(out, *cloneMessage(s.messages[roomID][seq]))
	}
	return out, nil
}

// LatestSeq last assigned seq of the room
func (s *MemoryStore) LatestSeq(_ context.Context, roomID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seq[roomID], nil
}

// CreateAttachment store an attachment not yet owned by a message
func (s *MemoryStore) CreateAttachment(_ context.Context, att *domain.Attachment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *att
	s.attachments[att.ID] = &c
	return nil
}

// LinkAttachment set the owning message
func (s *MemoryStore) LinkAttachment(_ context.Context, attachmentID string, seq int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attachments[attachmentID]
	if !ok {
		return errprocess.ErrNotFound
	}
	a.MessageSeq = &seq
	return nil
}

// GetAttachment find attachment by id
func (s *MemoryStore) GetAttachment(_ context.Context, attachmentID string) (*domain.Attachment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.attachments[attachmentID]
	if !ok {
		return nil, errprocess.ErrNotFound
	}
	c := *a
	return &c, nil
}
