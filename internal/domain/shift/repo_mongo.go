package shift

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/telecare/telecare/internal/platform/apperr"
)

const shiftCollection = "doctor_shifts"

type repoMongo struct {
	coll *mongo.Collection
}

func NewRepoMongo(database *mongo.Database) Repository {
	return &repoMongo{coll: database.Collection(shiftCollection)}
}

// shiftDoc stores uuids as strings so documents stay readable in the shell.
type shiftDoc struct {
	ID          string `bson:"_id"`
	DoctorID    string `bson:"doctor_id"`
	DoctorShift `bson:",inline"`
}

func toDoc(s *DoctorShift) shiftDoc {
	return shiftDoc{ID: s.ID.String(), DoctorID: s.DoctorID.String(), DoctorShift: *s}
}

func (d shiftDoc) model() (*DoctorShift, error) {
	s := d.DoctorShift
	var err error
	if s.ID, err = uuid.Parse(d.ID); err != nil {
		return nil, err
	}
	if s.DoctorID, err = uuid.Parse(d.DoctorID); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *repoMongo) Create(ctx context.Context, s *DoctorShift) error {
	s.ID = uuid.New()
	s.CreatedAt = time.Now().UTC()
	_, err := r.coll.InsertOne(ctx, toDoc(s))
	return err
}

func (r *repoMongo) GetByID(ctx context.Context, id uuid.UUID) (*DoctorShift, error) {
	var doc shiftDoc
	err := r.coll.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperr.NotFound(apperr.CodeNotFound, "doctor shift %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return doc.model()
}

func (r *repoMongo) List(ctx context.Context, limit, offset int) ([]*DoctorShift, int, error) {
	total, err := r.coll.CountDocuments(ctx, bson.M{})
	if err != nil {
		return nil, 0, err
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit)).
		SetSkip(int64(offset))
	shifts, err := r.find(ctx, bson.M{}, opts)
	return shifts, int(total), err
}

func (r *repoMongo) ListActive(ctx context.Context, at time.Time) ([]*DoctorShift, error) {
	filter := bson.M{
		"status":         StatusActive,
		"effective_from": bson.M{"$lte": at},
		"$or": bson.A{
			bson.M{"effective_to": bson.M{"$exists": false}},
			bson.M{"effective_to": nil},
			bson.M{"effective_to": bson.M{"$gt": at}},
		},
	}
	return r.find(ctx, filter, options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
}

func (r *repoMongo) SetStatus(ctx context.Context, id uuid.UUID, status Status) error {
	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": id.String()}, bson.M{"$set": bson.M{"status": status}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return apperr.NotFound(apperr.CodeNotFound, "doctor shift %s not found", id)
	}
	return nil
}

func (r *repoMongo) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*DoctorShift, error) {
	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []*DoctorShift
	for cur.Next(ctx) {
		var doc shiftDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		s, err := doc.model()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, cur.Err()
}
