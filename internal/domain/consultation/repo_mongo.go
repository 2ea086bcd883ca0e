package consultation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const consultationCollection = "consultations"

type repoMongo struct {
	coll *mongo.Collection
}

func NewRepoMongo(database *mongo.Database) Repository {
	return &repoMongo{coll: database.Collection(consultationCollection)}
}

// EnsureIndexes creates the lookup indexes the repository relies on.
func EnsureIndexes(ctx context.Context, database *mongo.Database) error {
	_, err := database.Collection(consultationCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "patient_id", Value: 1}, {Key: "is_active", Value: 1}}},
		{Keys: bson.D{{Key: "expires_at", Value: 1}, {Key: "status", Value: 1}}},
		{
			Keys: bson.D{{Key: "payment.payment_id", Value: 1}},
			Options: options.Index().SetUnique(true).
				SetPartialFilterExpression(bson.M{"payment.payment_id": bson.M{"$exists": true}}),
		},
	})
	return err
}

type consultationDoc struct {
	ID           string `bson:"_id"`
	DoctorID     string `bson:"doctor_id,omitempty"`
	SessionID    string `bson:"session_id,omitempty"`
	Consultation `bson:",inline"`
}

func toDoc(c *Consultation) consultationDoc {
	d := consultationDoc{ID: c.ID.String(), Consultation: *c}
	if c.DoctorID != nil {
		d.DoctorID = c.DoctorID.String()
	}
	if c.SessionID != nil {
		d.SessionID = c.SessionID.String()
	}
	d.StatusHistory = nonNilHistory(c.StatusHistory)
	return d
}

func (d consultationDoc) model() (*Consultation, error) {
	c := d.Consultation
	var err error
	if c.ID, err = uuid.Parse(d.ID); err != nil {
		return nil, err
	}
	if d.DoctorID != "" {
		id, err := uuid.Parse(d.DoctorID)
		if err != nil {
			return nil, err
		}
		c.DoctorID = &id
	}
	if d.SessionID != "" {
		id, err := uuid.Parse(d.SessionID)
		if err != nil {
			return nil, err
		}
		c.SessionID = &id
	}
	return &c, nil
}

var nonTerminalFilter = bson.M{"$nin": bson.A{StatusCompleted, StatusCancelled, StatusExpired}}

func (r *repoMongo) Create(ctx context.Context, c *Consultation) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	_, err := r.coll.InsertOne(ctx, toDoc(c))
	if c.Payment != nil && mongo.IsDuplicateKeyError(err) {
		return paymentConfirmed(c.Payment.PaymentID)
	}
	return err
}

func (r *repoMongo) GetByID(ctx context.Context, id uuid.UUID) (*Consultation, error) {
	var doc consultationDoc
	err := r.coll.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, err
	}
	return doc.model()
}

func (r *repoMongo) ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Consultation, int, error) {
	filter := bson.M{"patient_id": patientID}
	total, err := r.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	cur, err := r.coll.Find(ctx, filter, options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit)).
		SetSkip(int64(offset)))
	if err != nil {
		return nil, 0, err
	}
	defer cur.Close(ctx)

	var out []*Consultation
	for cur.Next(ctx) {
		var doc consultationDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, 0, err
		}
		c, err := doc.model()
		if err != nil {
			return nil, 0, err
		}
		out = append(out, c)
	}
	return out, int(total), cur.Err()
}

func (r *repoMongo) ApplyTransition(ctx context.Context, u TransitionUpdate) (*Consultation, error) {
	set := bson.M{
		"status":     u.Change.Status,
		"is_active":  u.IsActive,
		"updated_at": u.UpdatedAt,
	}
	unset := bson.M{}
	for field, v := range map[string]*time.Time{
		"started_at":   u.StartedAt,
		"completed_at": u.CompletedAt,
		"cancelled_at": u.CancelledAt,
	} {
		if v != nil {
			set[field] = *v
		} else {
			unset[field] = ""
		}
	}
	update := bson.M{"$set": set, "$push": bson.M{"status_history": u.Change}}
	if len(unset) > 0 {
		update["$unset"] = unset
	}

	var doc consultationDoc
	err := r.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": u.ID.String(), "status": u.From},
		update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		if _, gerr := r.GetByID(ctx, u.ID); gerr != nil {
			return nil, gerr
		}
		return nil, staleUpdate(u.ID, u.From)
	}
	if err != nil {
		return nil, err
	}
	return doc.model()
}

func (r *repoMongo) SetActive(ctx context.Context, id uuid.UUID, at time.Time) (*Consultation, error) {
	var doc consultationDoc
	err := r.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": id.String(), "status": nonTerminalFilter},
		bson.M{"$set": bson.M{"is_active": true, "updated_at": at}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		if _, gerr := r.GetByID(ctx, id); gerr != nil {
			return nil, gerr
		}
		return nil, staleUpdate(id, "a non-terminal status")
	}
	if err != nil {
		return nil, err
	}
	return doc.model()
}

func (r *repoMongo) DeactivateOthers(ctx context.Context, patientID string, keep uuid.UUID, change BulkChange) (int64, error) {
	filter := bson.M{
		"patient_id": patientID,
		"_id":        bson.M{"$ne": keep.String()},
		"is_active":  true,
		"status":     nonTerminalFilter,
	}
	return r.bulkStatus(ctx, filter, StatusCancelled, change)
}

func (r *repoMongo) ExpireDue(ctx context.Context, change BulkChange) (int64, error) {
	filter := bson.M{
		"expires_at": bson.M{"$lte": change.Timestamp.UTC()},
		"status":     nonTerminalFilter,
	}
	return r.bulkStatus(ctx, filter, StatusExpired, change)
}

// bulkStatus uses a pipeline update so each appended history entry can
// reference the document's own previous status.
func (r *repoMongo) bulkStatus(ctx context.Context, filter bson.M, to Status, change BulkChange) (int64, error) {
	at := change.Timestamp.UTC()
	entry := bson.D{
		{Key: "status", Value: to},
		{Key: "previous_status", Value: "$status"},
		{Key: "timestamp", Value: at},
		{Key: "actor", Value: bson.M{"$literal": change.Actor}},
		{Key: "reason", Value: bson.M{"$literal": change.Reason}},
	}
	if len(change.Metadata) > 0 {
		entry = append(entry, bson.E{Key: "metadata", Value: bson.M{"$literal": change.Metadata}})
	}

	set := bson.D{
		{Key: "status_history", Value: bson.M{"$concatArrays": bson.A{
			bson.M{"$ifNull": bson.A{"$status_history", bson.A{}}},
			bson.A{entry},
		}}},
		{Key: "status", Value: to},
		{Key: "is_active", Value: false},
		{Key: "updated_at", Value: at},
	}
	if to == StatusCancelled {
		set = append(set, bson.E{Key: "cancelled_at", Value: at})
	}

	res, err := r.coll.UpdateMany(ctx, filter, mongo.Pipeline{{{Key: "$set", Value: set}}})
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (r *repoMongo) FindActiveByPatient(ctx context.Context, patientID string) (*Consultation, error) {
	var doc consultationDoc
	err := r.coll.FindOne(ctx,
		bson.M{"patient_id": patientID, "is_active": true, "status": nonTerminalFilter},
		options.FindOne().SetSort(bson.D{{Key: "updated_at", Value: -1}}),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return doc.model()
}

func (r *repoMongo) FindByPaymentID(ctx context.Context, paymentID string) (*Consultation, error) {
	var doc consultationDoc
	err := r.coll.FindOne(ctx, bson.M{"payment.payment_id": paymentID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return doc.model()
}
