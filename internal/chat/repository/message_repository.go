package repository

import (
	"context"
	"errors"
	"time"

	"realtime_chat_service/internal/chat/domain"
	errprocess "realtime_chat_service/pkg/err"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	messageCollection = "chat_messages"
	counterCollection = "chat_room_counters"
)

type mongoMessageRepository struct {
	messages *mongo.Collection
	counters *mongo.Collection
}

// NewMongoMessageRepository create mongo message repository
func NewMongoMessageRepository(db *mongo.Database) MessageRepository {
	return &mongoMessageRepository{
		messages: db.Collection(messageCollection),
		counters: db.Collection(counterCollection),
	}
}

// EnsureMessageIndexes (room_id, seq) unique, (room_id, sender_id, nonce) unique when nonce is set
func EnsureMessageIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection(messageCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "room_id", Value: 1}, {Key: "seq", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "room_id", Value: 1}, {Key: "sender_id", Value: 1}, {Key: "nonce", Value: 1}},
			Options: options.Index().SetUnique(true).
				SetPartialFilterExpression(bson.M{"nonce": bson.M{"$exists": true}}),
		},
	})
	return err
}

func (r *mongoMessageRepository) findByNonce(ctx context.Context, roomID, senderID, nonce string) (*domain.Message, error) {
	var m domain.Message
	err := r.messages.FindOne(ctx, bson.M{"room_id": roomID, "sender_id": senderID, "nonce": nonce}).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errprocess.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// AppendMessage $inc on the room counter hands out each seq exactly once.
// A failed insert leaves a gap that is never reused.
func (r *mongoMessageRepository) AppendMessage(ctx context.Context, msg *domain.Message) (*domain.Message, error) {
	if msg.Nonce != "" {
		existing, err := r.findByNonce(ctx, msg.RoomID, msg.SenderID, msg.Nonce)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, errprocess.ErrNotFound) {
			return nil, err
		}
	}

	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := r.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": msg.RoomID},
		bson.M{"$inc": bson.M{"seq": 1}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return nil, err
	}

	stored := *msg
	stored.Seq = counter.Seq
	// the embedded attachment carries its seq so history matches the live event
	if msg.Attachment != nil {
		att := *msg.Attachment
		seq := counter.Seq
		att.MessageSeq = &seq
		stored.Attachment = &att
	}
	if _, err := r.messages.InsertOne(ctx, &stored); err != nil {
		if mongo.IsDuplicateKeyError(err) && msg.Nonce != "" {
			return r.findByNonce(ctx, msg.RoomID, msg.SenderID, msg.Nonce)
		}
		return nil, err
	}
	return &stored, nil
}

// GetMessage find message by seq
func (r *mongoMessageRepository) GetMessage(ctx context.Context, roomID string, seq int64) (*domain.Message, error) {
	var m domain.Message
	err := r.messages.FindOne(ctx, bson.M{"room_id": roomID, "seq": seq}).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errprocess.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *mongoMessageRepository) updateLive(ctx context.Context, roomID string, seq int64, update bson.M) (*domain.Message, error) {
	var m domain.Message
	err := r.messages.FindOneAndUpdate(ctx,
		bson.M{"room_id": roomID, "seq": seq, "deleted": false},
		update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errprocess.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// MarkEdited conditional on the message not being deleted
func (r *mongoMessageRepository) MarkEdited(ctx context.Context, roomID string, seq int64, content string, at time.Time) (*domain.Message, error) {
	return r.updateLive(ctx, roomID, seq, bson.M{
		"$set": bson.M{"content": content, "edited_at": at},
		"$inc": bson.M{"revision": 1},
	})
}

// MarkDeleted clear content, keep the seq slot
func (r *mongoMessageRepository) MarkDeleted(ctx context.Context, roomID string, seq int64, at time.Time) (*domain.Message, error) {
	return r.updateLive(ctx, roomID, seq, bson.M{
		"$set":   bson.M{"content": "", "deleted": true, "deleted_at": at},
		"$unset": bson.M{"attachment": ""},
		"$inc":   bson.M{"revision": 1},
	})
}

// ListMessages newest page first from mongo, returned ascending
func (r *mongoMessageRepository) ListMessages(ctx context.Context, roomID string, beforeSeq int64, limit int) ([]domain.Message, error) {
	filter := bson.M{"room_id": roomID}
	if beforeSeq > 0 {
		filter["seq"] = bson.M{"$lt": beforeSeq}
	}
	opts := options.Find().SetSort(bson.D{{Key: "seq", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cur, err := r.messages.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []domain.Message
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// LatestSeq last seq handed out by the room counter
func (r *mongoMessageRepository) LatestSeq(ctx context.Context, roomID string) (int64, error) {
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := r.counters.FindOne(ctx, bson.M{"_id": roomID}).Decode(&counter)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return counter.Seq, nil
}
