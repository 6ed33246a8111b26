package app

import (
	"context"
	"errors"
	"time"

	"realtime_chat_service/internal/chat/domain"
	"realtime_chat_service/internal/chat/repository"
	"realtime_chat_service/pkg"
	"realtime_chat_service/pkg/config"
	"realtime_chat_service/pkg/encrypt"
	errprocess "realtime_chat_service/pkg/err"

	"github.com/google/uuid"
)

const maxHistoryPage = 200

// RoomUseCase - 建立聊天室 (群組或 1對1), 群組加入/退出, 歷史訊息
type RoomUseCase struct {
	rooms    repository.RoomRepository
	messages repository.MessageRepository
	cfg      config.Realtime
	now      func() time.Time
}

// NewRoomUseCase init room use case
func NewRoomUseCase(rooms repository.RoomRepository, messages repository.MessageRepository, cfg config.Realtime) *RoomUseCase {
	return &RoomUseCase{
		rooms:    rooms,
		messages: messages,
		cfg:      cfg.WithDefaults(),
		now:      time.Now,
	}
}

// CreateRoomInput request to create a room
type CreateRoomInput struct {
	Kind     domain.RoomKind `json:"kind"`
	Name     string          `json:"name"`
	Members  []string        `json:"members"`
	JoinMode domain.JoinMode `json:"join_mode"`
	Password string          `json:"password"`
}

// CreateRoom create room; a direct room of the same pair is returned instead
// of a second one, with created false
func (uc *RoomUseCase) CreateRoom(ctx context.Context, creatorID string, in CreateRoomInput) (*domain.Room, bool, error) {
	members := []string{creatorID}
	for _, m := range in.Members {
		members = pkg.AppendIfMissing(members, m)
	}
	if !domain.ValidateMembers(in.Kind, members) {
		return nil, false, errprocess.Newf(errprocess.BadRequest, "invalid members for %q room", in.Kind)
	}

	room := &domain.Room{
		ID:        uuid.NewString(),
		Kind:      in.Kind,
		Name:      in.Name,
		Members:   members,
		CreatedBy: creatorID,
		CreatedAt: uc.now(),
	}

	switch in.Kind {
	case domain.RoomKindDirect:
		existing, err := uc.rooms.FindDirectRoom(ctx, members[0], members[1])
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, errprocess.ErrNotFound) {
			return nil, false, err
		}
	case domain.RoomKindGroup:
		// 預設建立者當 admin
		room.Admins = []string{creatorID}
		room.JoinMode = in.JoinMode
		if room.JoinMode == "" {
			room.JoinMode = domain.JoinModeOpen
		}
		switch room.JoinMode {
		case domain.JoinModeOpen, domain.JoinModeApprove:
		case domain.JoinModePassword:
			hash, err := encrypt.HashPassword(in.Password)
			if err != nil {
				return nil, false, errprocess.New(errprocess.BadRequest, err.Error())
			}
			room.PasswordHash = hash
		default:
			return nil, false, errprocess.Newf(errprocess.BadRequest, "unknown join mode %q", in.JoinMode)
		}
	}

	if err := uc.rooms.CreateRoom(ctx, room); err != nil {
		return nil, false, err
	}
	return room, true, nil
}

// GetRoom room visible to current and former members
func (uc *RoomUseCase) GetRoom(ctx context.Context, roomID, userID string) (*domain.Room, error) {
	room, err := uc.loadRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.WasMember(userID) {
		return nil, notAMember(userID, roomID)
	}
	return room, nil
}

func (uc *RoomUseCase) loadRoom(ctx context.Context, roomID string) (*domain.Room, error) {
	room, err := uc.rooms.GetRoom(ctx, roomID)
	if errors.Is(err, errprocess.ErrNotFound) {
		return nil, errprocess.Newf(errprocess.NotFound, "room %s not found", roomID)
	}
	return room, err
}

// JoinRoom add a member to a group room. targetID other than userID is an admin
// adding someone, which is also how approve mode rooms grow.
func (uc *RoomUseCase) JoinRoom(ctx context.Context, roomID, userID, targetID, password string) error {
	room, err := uc.loadRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if room.Kind != domain.RoomKindGroup {
		return errprocess.New(errprocess.BadRequest, "not a group chat room")
	}
	if targetID == "" {
		targetID = userID
	}
	if room.IsMember(targetID) {
		return nil
	}

	if targetID != userID {
		if !pkg.Contains(room.Admins, userID) || !room.IsMember(userID) {
			return errprocess.Newf(errprocess.NotAMember, "user %s is not an admin of room %s", userID, roomID)
		}
		return uc.rooms.AddMember(ctx, roomID, targetID)
	}

	switch room.JoinMode {
	case domain.JoinModePassword:
		if err := encrypt.CheckPassword(room.PasswordHash, password); err != nil {
			return errprocess.New(errprocess.Unauthorized, "invalid password")
		}
	case domain.JoinModeApprove:
		return errprocess.Newf(errprocess.NotAMember, "room %s needs admin approval", roomID)
	}
	return uc.rooms.AddMember(ctx, roomID, userID)
}

// ExitRoom member exit room; a direct room becomes void for the other member too
func (uc *RoomUseCase) ExitRoom(ctx context.Context, roomID, userID string) error {
	room, err := uc.loadRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if !room.IsMember(userID) {
		return notAMember(userID, roomID)
	}
	return uc.rooms.RemoveMember(ctx, roomID, userID)
}

// History page of messages with seq < before (0 = newest), ascending; current members only
func (uc *RoomUseCase) History(ctx context.Context, roomID, userID string, before int64, limit int) ([]domain.Message, error) {
	room, err := uc.loadRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.IsMember(userID) {
		return nil, notAMember(userID, roomID)
	}
	if limit <= 0 {
		limit = uc.cfg.HistoryLimit
	}
	limit = min(limit, maxHistoryPage)

	out, err := uc.messages.ListMessages(ctx, roomID, before, limit)
	if out == nil {
		out = []domain.Message{}
	}
	return out, err
}
