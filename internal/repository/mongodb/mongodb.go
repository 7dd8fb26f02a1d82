// Package mongodb implements the repository interfaces on MongoDB.
package mongodb

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/welldanyogia/steel-scrap-yard/internal/repository"
)

// Connect opens a client, verifies it with a ping and ensures indexes
func Connect(ctx context.Context, uri, database string) (*mongo.Client, *mongo.Database, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("connect mongodb: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, nil, fmt.Errorf("ping mongodb: %w", err)
	}

	db := client.Database(database)
	if err := EnsureIndexes(ctx, db); err != nil {
		_ = client.Disconnect(ctx)
		return nil, nil, err
	}
	return client, db, nil
}

// EnsureIndexes creates the unique keys every collection relies on
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	unique := []struct {
		collection string
		field      string
	}{
		{repository.CollectionUsers, "email"},
		{repository.CollectionFactories, "name"},
		{repository.CollectionSessions, "token_hash"},
		{repository.CollectionTrucks, "truck_number"},
		{repository.CollectionHistory, "analysis_id"},
	}
	for _, idx := range unique {
		_, err := db.Collection(idx.collection).Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys:    bson.D{{Key: idx.field, Value: 1}},
			Options: options.Index().SetUnique(true),
		})
		if err != nil {
			return fmt.Errorf("create index %s.%s: %w", idx.collection, idx.field, err)
		}
	}

	_, err := db.Collection(repository.CollectionHistory).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "factory_id", Value: 1}, {Key: "timestamp", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("create history index: %w", err)
	}
	return nil
}

// NewStore wires the MongoDB repositories into a repository.Store
func NewStore(client *mongo.Client, db *mongo.Database) *repository.Store {
	return &repository.Store{
		Users:     NewUserRepository(db),
		Factories: NewFactoryRepository(db),
		Sessions:  NewSessionRepository(db),
		Trucks:    NewTruckRepository(db),
		Scraps:    NewScrapRepository(db),
		History:   NewHistoryRepository(db),
		Ping: func(ctx context.Context) error {
			return client.Ping(ctx, readpref.Primary())
		},
		Counts: func(ctx context.Context) (map[string]int64, error) {
			counts := make(map[string]int64, len(repository.Collections))
			for _, name := range repository.Collections {
				n, err := db.Collection(name).CountDocuments(ctx, bson.D{})
				if err != nil {
					return nil, err
				}
				counts[name] = n
			}
			return counts, nil
		},
		Reset: func(ctx context.Context) error {
			for _, name := range repository.Collections {
				if err := db.Collection(name).Drop(ctx); err != nil {
					return err
				}
			}
			return EnsureIndexes(ctx, db)
		},
		Close: client.Disconnect,
	}
}

func newID() string {
	return bson.NewObjectID().Hex()
}

// mapErr translates driver errors into repository errors
func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return repository.ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return repository.ErrDuplicate
	}
	return err
}

func setField(ctx context.Context, coll *mongo.Collection, id, field string, value any) error {
	res, err := coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{field: value}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}
