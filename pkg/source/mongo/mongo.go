package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/g-uva/GreenDIGIT-CIM/pkg/metric"
	"github.com/g-uva/GreenDIGIT-CIM/pkg/source"
)

// DefaultCollection is the collection the intake API writes metrics to.
const DefaultCollection = "metrics"

// Store reads metric documents from a MongoDB collection. The ObjectID
// doubles as the monotonic document identifier: it sorts in insert order and
// breaks ties between documents sharing a timestamp.
type Store struct {
	col *mongo.Collection
}

type storedDocument struct {
	ID        primitive.ObjectID `bson:"_id"`
	Publisher string             `bson:"publisher_email"`
	Timestamp string             `bson:"timestamp"`
	Body      any                `bson:"body"`
}

// New creates a document source on the given database. An empty collection
// name selects DefaultCollection.
func New(db *mongo.Database, collection string) *Store {
	if collection == "" {
		collection = DefaultCollection
	}
	return &Store{col: db.Collection(collection)}
}

// EnsureIndexes creates the helper indexes the intake path relies on.
// Idempotent; safe to run on every startup.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "publisher_email", Value: 1}},
			Options: options.Index().SetName("ix_publisher_email"),
		},
		{
			Keys:    bson.D{{Key: "timestamp", Value: 1}},
			Options: options.Index().SetName("ix_timestamp"),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create source indexes: %w", err)
	}
	return nil
}

// ListSince returns documents strictly after (opts.Timestamp, opts.ID),
// ascending by (timestamp, _id). With no watermark it returns everything.
func (s *Store) ListSince(ctx context.Context, opts source.SinceOptions) ([]metric.Document, error) {
	filter := bson.M{}
	if opts.Publisher != "" {
		filter["publisher_email"] = opts.Publisher
	}

	// Tuple comparison against the watermark: strictly newer timestamp, or
	// the same timestamp with a strictly greater id.
	if opts.Timestamp != "" || opts.ID != "" {
		or := bson.A{}
		if opts.Timestamp != "" {
			or = append(or, bson.M{"timestamp": bson.M{"$gt": opts.Timestamp}})
		}
		if opts.ID != "" {
			oid, err := primitive.ObjectIDFromHex(opts.ID)
			if err != nil {
				return nil, fmt.Errorf("invalid watermark id %q: %w", opts.ID, err)
			}
			idClause := bson.M{"_id": bson.M{"$gt": oid}}
			if opts.Timestamp != "" {
				idClause = bson.M{"timestamp": opts.Timestamp, "_id": bson.M{"$gt": oid}}
			}
			or = append(or, idClause)
		}
		filter["$or"] = or
	}

	findOpts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}, {Key: "_id", Value: 1}})
	if opts.Limit > 0 {
		findOpts = findOpts.SetLimit(opts.Limit)
	}

	return s.find(ctx, filter, findOpts)
}

// ListAll returns documents newest-first, optionally filtered by publisher
// and capped by limit.
func (s *Store) ListAll(ctx context.Context, opts source.ListOptions) ([]metric.Document, error) {
	filter := bson.M{}
	if opts.Publisher != "" {
		filter["publisher_email"] = opts.Publisher
	}

	findOpts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}})
	if opts.Limit > 0 {
		findOpts = findOpts.SetLimit(opts.Limit)
	}

	return s.find(ctx, filter, findOpts)
}

func (s *Store) find(ctx context.Context, filter bson.M, findOpts *options.FindOptions) ([]metric.Document, error) {
	cursor, err := s.col.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to query metrics: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []metric.Document
	for cursor.Next(ctx) {
		var stored storedDocument
		if err := cursor.Decode(&stored); err != nil {
			return nil, fmt.Errorf("failed to decode metric document: %w", err)
		}
		docs = append(docs, metric.Document{
			ID:        stored.ID.Hex(),
			Publisher: stored.Publisher,
			Timestamp: stored.Timestamp,
			Body:      normalize(stored.Body),
		})
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate metrics: %w", err)
	}
	return docs, nil
}

// normalize rewrites the BSON decoder's container types (bson.D, bson.M,
// primitive.A) into the plain JSON shapes the flattener traverses. Scalars
// pass through; ObjectIDs inside a body become hex strings.
func normalize(v any) any {
	switch t := v.(type) {
	case bson.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = normalize(e.Value)
		}
		return out
	case bson.M:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalize(val)
		}
		return out
	case primitive.A:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalize(val)
		}
		return out
	case primitive.ObjectID:
		return t.Hex()
	default:
		return v
	}
}
