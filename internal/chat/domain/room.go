package domain

import (
	"time"

	"realtime_chat_service/pkg"
)

// RoomKind definition chat room kind
type RoomKind string

const (
	// RoomKindDirect 1對1, membership fixed at creation
	RoomKindDirect RoomKind = "direct"
	// RoomKindGroup 群組, members join and leave
	RoomKindGroup RoomKind = "group"
)

// JoinMode 決定加入群組條件
type JoinMode string

const (
	// JoinModeOpen allow all
	JoinModeOpen JoinMode = "open"
	// JoinModePassword need password
	JoinModePassword JoinMode = "password"
	// JoinModeApprove need approve
	JoinModeApprove JoinMode = "approve"
)

// Room definition chat room
type Room struct {
	ID            string    `bson:"_id" json:"id"`
	Kind          RoomKind  `bson:"kind" json:"kind"`
	Name          string    `bson:"name,omitempty" json:"name,omitempty"`
	Members       []string  `bson:"members" json:"members"`
	FormerMembers []string  `bson:"former_members,omitempty" json:"former_members,omitempty"`
	Admins        []string  `bson:"admins,omitempty" json:"admins,omitempty"`
	JoinMode      JoinMode  `bson:"join_mode,omitempty" json:"join_mode,omitempty"`
	PasswordHash  string    `bson:"password_hash,omitempty" json:"-"`
	CreatedBy     string    `bson:"created_by" json:"created_by"`
	CreatedAt     time.Time `bson:"created_at" json:"created_at"`
}

// IsMember report current membership
func (r *Room) IsMember(userID string) bool {
	return pkg.Contains(r.Members, userID)
}

// WasMember report current or former membership
func (r *Room) WasMember(userID string) bool {
	return r.IsMember(userID) || pkg.Contains(r.FormerMembers, userID)
}

// CanAct report whether userID may join, post or type in the room.
// A direct room whose other member is gone is void for both sides.
func (r *Room) CanAct(userID string) bool {
	if !r.IsMember(userID) {
		return false
	}
	if r.Kind == RoomKindDirect && len(r.Members) != 2 {
		return false
	}
	return true
}

// Others return members other than userID
func (r *Room) Others(userID string) []string {
	return pkg.Remove(r.Members, userID)
}

// ValidateMembers check the member set shape for the room kind
func ValidateMembers(kind RoomKind, members []string) bool {
	seen := make(map[string]struct{}, len(members))
	for _, m := range members {
		if m == "" {
			return false
		}
		if _, dup := seen[m]; dup {
			return false
		}
		seen[m] = struct{}{}
	}
	switch kind {
	case RoomKindDirect:
		return len(members) == 2
	case RoomKindGroup:
		return len(members) >= 1
	default:
		return false
	}
}
