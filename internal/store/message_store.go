package store

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MessageTarget addresses a chat message: the global feed, one room, or one
// user directly.
type MessageTarget struct {
	Type string `bson:"type" json:"type"` // "all" | "room" | "user"
	ID   string `bson:"id,omitempty" json:"id,omitempty"`
}

type Message struct {
	ID        string        `bson:"_id" json:"id"`
	Sender    string        `bson:"sender" json:"sender"`
	To        MessageTarget `bson:"to" json:"to"`
	Text      string        `bson:"text" json:"text"`
	CreatedAt time.Time     `bson:"createdAt" json:"createdAt"`
}

type MessageStore struct {
	col *mongo.Collection
}

func NewMessageStore(db *mongo.Database) *MessageStore {
	return &MessageStore{col: db.Collection("messages")}
}

func (s *MessageStore) Create(ctx context.Context, m Message) error {
	_, err := s.col.InsertOne(ctx, m)
	return err
}

func (s *MessageStore) ListRoom(ctx context.Context, roomID string, limit int64) ([]Message, error) {
	return s.list(ctx, bson.M{"to.type": "room", "to.id": roomID}, limit)
}

func (s *MessageStore) ListPublic(ctx context.Context, limit int64) ([]Message, error) {
	return s.list(ctx, bson.M{"to.type": "all"}, limit)
}

// ListPrivate returns the direct-message history between two users, in both
// directions.
func (s *MessageStore) ListPrivate(ctx context.Context, userA, userB string, limit int64) ([]Message, error) {
	return s.list(ctx, bson.M{
		"to.type": "user",
		"$or": bson.A{
			bson.M{"sender": userA, "to.id": userB},
			bson.M{"sender": userB, "to.id": userA},
		},
	}, limit)
}

func (s *MessageStore) list(ctx context.Context, filter bson.M, limit int64) ([]Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}})
	if limit > 0 {
		opts = opts.SetLimit(limit)
	}
	cur, err := s.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	msgs := []Message{}
	if err := cur.All(ctx, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}
