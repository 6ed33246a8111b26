package repository

import (
	"context"
	"errors"

	"realtime_chat_service/internal/chat/domain"
	errprocess "realtime_chat_service/pkg/err"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const roomCollection = "chat_rooms"

type mongoRoomRepository struct {
	roomsColl *mongo.Collection
}

// NewMongoRoomRepository create new mongo room repository
func NewMongoRoomRepository(db *mongo.Database) RoomRepository {
	return &mongoRoomRepository{
		roomsColl: db.Collection(roomCollection),
	}
}

// CreateRoom create room
func (r *mongoRoomRepository) CreateRoom(ctx context.Context, room *domain.Room) error {
	_, err := r.roomsColl.InsertOne(ctx, room)
	if mongo.IsDuplicateKeyError(err) {
		return errprocess.Newf(errprocess.BadRequest, "room %s already exists", room.ID)
	}
	return err
}

// GetRoom find room by id
func (r *mongoRoomRepository) GetRoom(ctx context.Context, roomID string) (*domain.Room, error) {
	var room domain.Room
	err := r.roomsColl.FindOne(ctx, bson.M{"_id": roomID}).Decode(&room)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errprocess.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

// GetMembers current members only
func (r *mongoRoomRepository) GetMembers(ctx context.Context, roomID string) ([]string, error) {
	var doc struct {
		Members []string `bson:"members"`
	}
	opts := options.FindOne().SetProjection(bson.M{"members": 1})
	err := r.roomsColl.FindOne(ctx, bson.M{"_id": roomID}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errprocess.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc.Members, nil
}

// AddMember $addToSet keeps the write idempotent
func (r *mongoRoomRepository) AddMember(ctx context.Context, roomID, userID string) error {
	res, err := r.roomsColl.UpdateOne(ctx,
		bson.M{"_id": roomID},
		bson.M{
			"$addToSet": bson.M{"members": userID},
			"$pull":     bson.M{"former_members": userID},
		})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return errprocess.ErrNotFound
	}
	return nil
}

// RemoveMember only a current member is moved to former_members
func (r *mongoRoomRepository) RemoveMember(ctx context.Context, roomID, userID string) error {
	res, err := r.roomsColl.UpdateOne(ctx,
		bson.M{"_id": roomID, "members": userID},
		bson.M{
			"$pull":     bson.M{"members": userID},
			"$addToSet": bson.M{"former_members": userID},
		})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		// already removed, or no such room
		if _, err := r.GetRoom(ctx, roomID); err != nil {
			return err
		}
	}
	return nil
}

// FindDirectRoom find direct room between two users, current or former members
func (r *mongoRoomRepository) FindDirectRoom(ctx context.Context, userA, userB string) (*domain.Room, error) {
	filter := bson.M{
		"kind": domain.RoomKindDirect,
		"$and": bson.A{
			bson.M{"$or": bson.A{bson.M{"members": userA}, bson.M{"former_members": userA}}},
			bson.M{"$or": bson.A{bson.M{"members": userB}, bson.M{"former_members": userB}}},
		},
	}
	var room domain.Room
	err := r.roomsColl.FindOne(ctx, filter).Decode(&room)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errprocess.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}
