package mongodb

import (
	"context"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/welldanyogia/steel-scrap-yard/internal/repository"
)

type userRepository struct {
	coll *mongo.Collection
}

// NewUserRepository creates a UserRepository backed by the users collection
func NewUserRepository(db *mongo.Database) repository.UserRepository {
	return &userRepository{coll: db.Collection(repository.CollectionUsers)}
}

func (r *userRepository) Create(ctx context.Context, user *repository.User) error {
	user.Email = strings.ToLower(user.Email)
	if err := repository.Validate(user); err != nil {
		return err
	}
	if user.ID == "" {
		user.ID = newID()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := r.coll.InsertOne(ctx, user)
	return mapErr(err)
}

func (r *userRepository) GetByID(ctx context.Context, id string) (*repository.User, error) {
	var user repository.User
	if err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&user); err != nil {
		return nil, mapErr(err)
	}
	return &user, nil
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*repository.User, error) {
	var user repository.User
	err := r.coll.FindOne(ctx, bson.M{"email": strings.ToLower(email)}).Decode(&user)
	if err != nil {
		return nil, mapErr(err)
	}
	return &user, nil
}

func userQuery(f repository.UserFilter) bson.M {
	q := bson.M{}
	if f.Role != "" {
		q["role"] = f.Role
	}
	if f.FactoryID != "" {
		q["factory_id"] = f.FactoryID
	}
	if f.CreatedBy != "" {
		q["created_by"] = f.CreatedBy
	}
	return q
}

func (r *userRepository) List(ctx context.Context, filter repository.UserFilter) ([]repository.User, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cursor, err := r.coll.Find(ctx, userQuery(filter), opts)
	if err != nil {
		return nil, err
	}

	users := make([]repository.User, 0)
	if err := cursor.All(ctx, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (r *userRepository) Count(ctx context.Context, filter repository.UserFilter) (int64, error) {
	return r.coll.CountDocuments(ctx, userQuery(filter))
}

func (r *userRepository) SetActive(ctx context.Context, id string, active bool) error {
	return setField(ctx, r.coll, id, "is_active", active)
}

func (r *userRepository) SetFactory(ctx context.Context, id, factoryID string) error {
	return setField(ctx, r.coll, id, "factory_id", factoryID)
}

type factoryRepository struct {
	coll *mongo.Collection
}

// NewFactoryRepository creates a FactoryRepository backed by the factories collection
func NewFactoryRepository(db *mongo.Database) repository.FactoryRepository {
	return &factoryRepository{coll: db.Collection(repository.CollectionFactories)}
}

func (r *factoryRepository) Create(ctx context.Context, factory *repository.Factory) error {
	if err := repository.Validate(factory); err != nil {
		return err
	}
	if factory.ID == "" {
		factory.ID = newID()
	}
	if factory.CreatedAt.IsZero() {
		factory.CreatedAt = time.Now().UTC()
	}

	_, err := r.coll.InsertOne(ctx, factory)
	return mapErr(err)
}

func (r *factoryRepository) GetByID(ctx context.Context, id string) (*repository.Factory, error) {
	var factory repository.Factory
	if err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&factory); err != nil {
		return nil, mapErr(err)
	}
	return &factory, nil
}

func (r *factoryRepository) GetByOwner(ctx context.Context, ownerID string) (*repository.Factory, error) {
	var factory repository.Factory
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: 1}})
	if err := r.coll.FindOne(ctx, bson.M{"owner_id": ownerID}, opts).Decode(&factory); err != nil {
		return nil, mapErr(err)
	}
	return &factory, nil
}

func (r *factoryRepository) List(ctx context.Context) ([]repository.Factory, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cursor, err := r.coll.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, err
	}

	factories := make([]repository.Factory, 0)
	if err := cursor.All(ctx, &factories); err != nil {
		return nil, err
	}
	return factories, nil
}

func (r *factoryRepository) Count(ctx context.Context) (int64, error) {
	return r.coll.CountDocuments(ctx, bson.D{})
}

func (r *factoryRepository) SetActive(ctx context.Context, id string, active bool) error {
	return setField(ctx, r.coll, id, "is_active", active)
}

type sessionRepository struct {
	coll *mongo.Collection
}

// NewSessionRepository creates a SessionRepository backed by user_sessions
func NewSessionRepository(db *mongo.Database) repository.SessionRepository {
	return &sessionRepository{coll: db.Collection(repository.CollectionSessions)}
}

func (r *sessionRepository) Create(ctx context.Context, session *repository.Session) error {
	if err := repository.Validate(session); err != nil {
		return err
	}
	if session.ID == "" {
		session.ID = newID()
	}

	_, err := r.coll.InsertOne(ctx, session)
	return mapErr(err)
}

func (r *sessionRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*repository.Session, error) {
	var session repository.Session
	if err := r.coll.FindOne(ctx, bson.M{"token_hash": tokenHash}).Decode(&session); err != nil {
		return nil, mapErr(err)
	}
	return &session, nil
}

func (r *sessionRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.coll.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lte": before}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}
