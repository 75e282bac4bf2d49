package repository

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/example/orderdesk/pkg/models"
)

type SessionOrderStore struct {
	coll *mongo.Collection
}

func NewSessionOrderStore(coll *mongo.Collection) *SessionOrderStore {
	return &SessionOrderStore{coll: coll}
}

func (s *SessionOrderStore) Get(ctx context.Context, id primitive.ObjectID) (*models.SessionStartedOrder, error) {
	var session models.SessionStartedOrder
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&session)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find session order %s: %w", id.Hex(), err)
	}
	return &session, nil
}

// List returns session orders, newest first.
func (s *SessionOrderStore) List(ctx context.Context) ([]*models.SessionStartedOrder, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	cursor, err := s.coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("list session orders: %w", err)
	}
	defer cursor.Close(ctx)

	var sessions []*models.SessionStartedOrder
	if err := cursor.All(ctx, &sessions); err != nil {
		return nil, fmt.Errorf("decode session orders: %w", err)
	}
	return sessions, nil
}

func (s *SessionOrderStore) Delete(ctx context.Context, id primitive.ObjectID) error {
	res, err := s.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete session order %s: %w", id.Hex(), err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}
