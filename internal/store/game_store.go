package store

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"example.com/mafia/internal/game"
)

// GameStore persists Game documents in Mongo. It implements game.Store by
// translating the engine's field operators into the matching Mongo update
// operators; FindOneAndUpdate returns the post-update document so every
// mutation yields the state to broadcast.
type GameStore struct {
	col *mongo.Collection
}

func NewGameStore(db *mongo.Database) *GameStore {
	return &GameStore{col: db.Collection("games")}
}

func (s *GameStore) Insert(ctx context.Context, g *game.Game) error {
	_, err := s.col.InsertOne(ctx, g)
	return err
}

func (s *GameStore) FindByID(ctx context.Context, id string) (*game.Game, error) {
	var g game.Game
	err := s.col.FindOne(ctx, bson.M{"_id": id}).Decode(&g)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, game.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *GameStore) List(ctx context.Context) ([]*game.Game, error) {
	cur, err := s.col.Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}))
	if err != nil {
		return nil, err
	}
	var games []*game.Game
	if err := cur.All(ctx, &games); err != nil {
		return nil, err
	}
	return games, nil
}

func (s *GameStore) Update(ctx context.Context, id string, u game.Update) (*game.Game, error) {
	update := bson.M{}
	if len(u.Set) > 0 {
		update["$set"] = bson.M(u.Set)
	}
	if len(u.AddToSet) > 0 {
		update["$addToSet"] = toBSON(u.AddToSet)
	}
	if len(u.Pull) > 0 {
		update["$pull"] = toBSON(u.Pull)
	}
	if len(u.Push) > 0 {
		update["$push"] = toBSON(u.Push)
	}
	if len(u.Inc) > 0 {
		inc := bson.M{}
		for k, v := range u.Inc {
			inc[k] = v
		}
		update["$inc"] = inc
	}
	if len(update) == 0 {
		return s.FindByID(ctx, id)
	}

	var g game.Game
	err := s.col.FindOneAndUpdate(ctx, bson.M{"_id": id}, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&g)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, game.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func toBSON(m map[string]string) bson.M {
	out := bson.M{}
	for k, v := range m {
		out[k] = v
	}
	return out
}
