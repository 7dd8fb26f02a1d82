package mongodb

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/welldanyogia/steel-scrap-yard/internal/repository"
)

type truckRepository struct {
	coll *mongo.Collection
}

// NewTruckRepository creates a TruckRepository backed by truck_records
func NewTruckRepository(db *mongo.Database) repository.TruckRepository {
	return &truckRepository{coll: db.Collection(repository.CollectionTrucks)}
}

// Resolve upserts on the unique truck_number index. Fields are only
// written on insert, so an existing record is returned unchanged.
func (r *truckRepository) Resolve(ctx context.Context, truck *repository.TruckRecord) (*repository.TruckRecord, error) {
	if err := repository.Validate(truck); err != nil {
		return nil, err
	}
	createdAt := truck.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	predictions := truck.PlatePredictions
	if predictions == nil {
		predictions = repository.Predictions{}
	}

	update := bson.M{"$setOnInsert": bson.M{
		"_id":               newID(),
		"plate_image":       truck.PlateImage,
		"plate_predictions": predictions,
		"created_at":        createdAt,
	}}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var rec repository.TruckRecord
	err := r.coll.FindOneAndUpdate(ctx, bson.M{"truck_number": truck.TruckNumber}, update, opts).Decode(&rec)
	if mongo.IsDuplicateKeyError(err) {
		// a concurrent upsert won the insert; the record now exists
		return r.GetByNumber(ctx, truck.TruckNumber)
	}
	if err != nil {
		return nil, mapErr(err)
	}
	return &rec, nil
}

func (r *truckRepository) GetByNumber(ctx context.Context, truckNumber string) (*repository.TruckRecord, error) {
	var rec repository.TruckRecord
	if err := r.coll.FindOne(ctx, bson.M{"truck_number": truckNumber}).Decode(&rec); err != nil {
		return nil, mapErr(err)
	}
	return &rec, nil
}

func (r *truckRepository) Count(ctx context.Context) (int64, error) {
	return r.coll.CountDocuments(ctx, bson.D{})
}

type scrapRepository struct {
	coll *mongo.Collection
}

// NewScrapRepository creates a ScrapRepository backed by scrap_records
func NewScrapRepository(db *mongo.Database) repository.ScrapRepository {
	return &scrapRepository{coll: db.Collection(repository.CollectionScraps)}
}

func (r *scrapRepository) Create(ctx context.Context, scrap *repository.ScrapRecord) error {
	if err := repository.Validate(scrap); err != nil {
		return err
	}
	if scrap.ID == "" {
		scrap.ID = newID()
	}
	if scrap.ScrapPredictions == nil {
		scrap.ScrapPredictions = repository.Predictions{}
	}

	_, err := r.coll.InsertOne(ctx, scrap)
	return mapErr(err)
}

func (r *scrapRepository) ListByTruck(ctx context.Context, truckID string) ([]repository.ScrapRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}})
	cursor, err := r.coll.Find(ctx, bson.M{"truck_id": truckID}, opts)
	if err != nil {
		return nil, err
	}

	scraps := make([]repository.ScrapRecord, 0)
	if err := cursor.All(ctx, &scraps); err != nil {
		return nil, err
	}
	return scraps, nil
}

type historyRepository struct {
	coll *mongo.Collection
}

// NewHistoryRepository creates a HistoryRepository backed by analysis_history
func NewHistoryRepository(db *mongo.Database) repository.HistoryRepository {
	return &historyRepository{coll: db.Collection(repository.CollectionHistory)}
}

func (r *historyRepository) Create(ctx context.Context, record *repository.AnalysisRecord) error {
	if record.VerificationStatus == "" {
		record.VerificationStatus = repository.VerificationPending
	}
	if err := repository.Validate(record); err != nil {
		return err
	}
	if record.ID == "" {
		record.ID = newID()
	}

	_, err := r.coll.InsertOne(ctx, record)
	return mapErr(err)
}

func historyQuery(f repository.HistoryFilter) bson.M {
	q := bson.M{}
	if f.FactoryID != "" {
		q["factory_id"] = f.FactoryID
	}
	if f.Since != nil {
		q["timestamp"] = bson.M{"$gte": *f.Since}
	}
	if f.VerificationStatus != "" {
		q["verification_status"] = f.VerificationStatus
	}
	return q
}

func (r *historyRepository) List(ctx context.Context, filter repository.HistoryFilter) ([]repository.AnalysisRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}})
	if filter.Offset > 0 {
		opts.SetSkip(int64(filter.Offset))
	}
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}

	cursor, err := r.coll.Find(ctx, historyQuery(filter), opts)
	if err != nil {
		return nil, err
	}

	records := make([]repository.AnalysisRecord, 0)
	if err := cursor.All(ctx, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (r *historyRepository) Count(ctx context.Context, filter repository.HistoryFilter) (int64, error) {
	return r.coll.CountDocuments(ctx, historyQuery(filter))
}

func (r *historyRepository) GetByAnalysisID(ctx context.Context, analysisID string) (*repository.AnalysisRecord, error) {
	var rec repository.AnalysisRecord
	if err := r.coll.FindOne(ctx, bson.M{"analysis_id": analysisID}).Decode(&rec); err != nil {
		return nil, mapErr(err)
	}
	return &rec, nil
}

// update applies set while the record is in one of from. No match means
// the record is missing or in the wrong state.
func (r *historyRepository) update(ctx context.Context, analysisID string, from []string, set bson.M) (*repository.AnalysisRecord, error) {
	filter := bson.M{
		"analysis_id":         analysisID,
		"verification_status": bson.M{"$in": from},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var rec repository.AnalysisRecord
	err := r.coll.FindOneAndUpdate(ctx, filter, bson.M{"$set": set}, opts).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		n, cerr := r.coll.CountDocuments(ctx, bson.M{"analysis_id": analysisID})
		if cerr != nil {
			return nil, cerr
		}
		if n > 0 {
			return nil, repository.ErrConflict
		}
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, mapErr(err)
	}
	return &rec, nil
}

func (r *historyRepository) Submit(ctx context.Context, analysisID string, u repository.SubmissionUpdate) (*repository.AnalysisRecord, error) {
	return r.update(ctx, analysisID, repository.SubmittableStatuses, bson.M{
		"verification_status": repository.VerificationSubmitted,
		"labourer_notes":      u.Notes,
		"submitted_at":        u.SubmittedAt,
	})
}

func (r *historyRepository) Verify(ctx context.Context, analysisID string, u repository.VerificationUpdate) (*repository.AnalysisRecord, error) {
	set := bson.M{
		"verification_status": u.Status,
		"owner_notes":         u.OwnerNotes,
		"verified_by":         u.VerifiedBy,
		"verified_at":         u.VerifiedAt,
	}
	if u.ScrapPredictions != nil {
		set["scrap_predictions"] = u.ScrapPredictions
	}
	if u.PlatePredictions != nil {
		set["plate_predictions"] = u.PlatePredictions
	}
	return r.update(ctx, analysisID, repository.DecidableStatuses, set)
}

func (r *historyRepository) Delete(ctx context.Context, analysisID string) error {
	res, err := r.coll.DeleteOne(ctx, bson.M{"analysis_id": analysisID})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}
