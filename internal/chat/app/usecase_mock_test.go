package app

import (
	"context"
	"time"

	"realtime_chat_service/internal/chat/domain"

	"github.com/stretchr/testify/mock"
)

// MockRoomRepository Mock RoomRepository
type MockRoomRepository struct {
	mock.Mock
}

// CreateRoom mock create room
func (m *MockRoomRepository) CreateRoom(ctx context.Context, room *domain.Room) error {
	args := m.Called(ctx, room)
	return args.Error(0)
}

// GetRoom mock find room by id
func (m *MockRoomRepository) GetRoom(ctx context.Context, roomID string) (*domain.Room, error) {
	args := m.Called(ctx, roomID)
	if args.Get(0) != nil {
		return args.Get(0).(*domain.Room), args.Error(1)
	}
	return nil, args.Error(1)
}

// GetMembers mock room members
func (m *MockRoomRepository) GetMembers(ctx context.Context, roomID string) ([]string, error) {
	args := m.Called(ctx, roomID)
	if args.Get(0) != nil {
		return args.Get(0).([]string), args.Error(1)
	}
	return nil, args.Error(1)
}

// AddMember mock add member
func (m *MockRoomRepository) AddMember(ctx context.Context, roomID, userID string) error {
	args := m.Called(ctx, roomID, userID)
	return args.Error(0)
}

// RemoveMember mock remove member
func (m *MockRoomRepository) RemoveMember(ctx context.Context, roomID, userID string) error {
	args := m.Called(ctx, roomID, userID)
	return args.Error(0)
}

// FindDirectRoom mock find direct room
func (m *MockRoomRepository) FindDirectRoom(ctx context.Context, userA, userB string) (*domain.Room, error) {
	args := m.Called(ctx, userA, userB)
	if args.Get(0) != nil {
		return args.Get(0).(*domain.Room), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockMessageRepository Mock MessageRepository
type MockMessageRepository struct {
	mock.Mock
}

// AppendMessage mock append
func (m *MockMessageRepository) AppendMessage(ctx context.Context, msg *domain.Message) (*domain.Message, error) {
	args := m.Called(ctx, msg)
	if args.Get(0) != nil {
		return args.Get(0).(*domain.Message), args.Error(1)
	}
	return nil, args.Error(1)
}

// GetMessage mock get message
func (m *MockMessageRepository) GetMessage(ctx context.Context, roomID string, seq int64) (*domain.Message, error) {
	args := m.Called(ctx, roomID, seq)
	if args.Get(0) != nil {
		return args.Get(0).(*domain.Message), args.Error(1)
	}
	return nil, args.Error(1)
}

// MarkEdited mock edit
func (m *MockMessageRepository) MarkEdited(ctx context.Context, roomID string, seq int64, content string, at time.Time) (*domain.Message, error) {
	args := m.Called(ctx, roomID, seq, content, at)
	if args.Get(0) != nil {
		return args.Get(0).(*domain.Message), args.Error(1)
	}
	return nil, args.Error(1)
}

// MarkDeleted mock delete
func (m *MockMessageRepository) MarkDeleted(ctx context.Context, roomID string, seq int64, at time.Time) (*domain.Message, error) {
	args := m.Called(ctx, roomID, seq, at)
	if args.Get(0) != nil {
		return args.Get(0).(*domain.Message), args.Error(1)
	}
	return nil, args.Error(1)
}

// ListMessages mock history
func (m *MockMessageRepository) ListMessages(ctx context.Context, roomID string, beforeSeq int64, limit int) ([]domain.Message, error) {
	args := m.Called(ctx, roomID, beforeSeq, limit)
	if args.Get(0) != nil {
		return args.Get(0).([]domain.Message), args.Error(1)
	}
	return nil, args.Error(1)
}

// LatestSeq mock latest seq
func (m *MockMessageRepository) LatestSeq(ctx context.Context, roomID string) (int64, error) {
	args := m.Called(ctx, roomID)
	return args.Get(0).(int64), args.Error(1)
}

// MockNotificationPusher Mock NotificationPusher
type MockNotificationPusher struct {
	mock.Mock
}

// Push mock push
func (m *MockNotificationPusher) Push(ctx context.Context, n domain.Notification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}
