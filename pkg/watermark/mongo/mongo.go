package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/g-uva/GreenDIGIT-CIM/pkg/watermark"
)

// DefaultCollection is the collection holding per-processor cursors.
const DefaultCollection = "cursors"

// Store implements watermark.Store on a MongoDB collection, one document per
// processor name. This keeps the cursor next to the source data, so the
// watermark survives anywhere the source does.
type Store struct {
	col *mongo.Collection
}

type cursorDoc struct {
	Name      string `bson:"name"`
	LastTS    string `bson:"last_ts_iso"`
	LastID    string `bson:"last_id"`
	UpdatedAt string `bson:"updated_at"`
}

// New creates a watermark store on the given database. An empty collection
// name selects DefaultCollection.
func New(db *mongo.Database, collection string) *Store {
	if collection == "" {
		collection = DefaultCollection
	}
	return &Store{col: db.Collection(collection)}
}

// Load returns the watermark for the processor, if one was ever saved.
func (s *Store) Load(ctx context.Context, processor string) (watermark.Watermark, bool, error) {
	var doc cursorDoc
	err := s.col.FindOne(ctx, bson.M{"name": processor}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return watermark.Watermark{}, false, nil
	}
	if err != nil {
		return watermark.Watermark{}, false, fmt.Errorf("failed to load watermark for %q: %w", processor, err)
	}

	wm := watermark.Watermark{
		Processor: doc.Name,
		Timestamp: doc.LastTS,
		ID:        doc.LastID,
	}
	if doc.UpdatedAt != "" {
		if t, perr := time.Parse(time.RFC3339Nano, doc.UpdatedAt); perr == nil {
			wm.UpdatedAt = t
		}
	}
	return wm, true, nil
}

// Save upserts the watermark for the processor.
func (s *Store) Save(ctx context.Context, processor, timestamp, id string) error {
	doc := cursorDoc{
		Name:      processor,
		LastTS:    timestamp,
		LastID:    id,
		UpdatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	_, err := s.col.UpdateOne(ctx,
		bson.M{"name": processor},
		bson.M{"$set": doc},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to save watermark for %q: %w", processor, err)
	}
	return nil
}

// Close is a no-op; the underlying client is owned by the caller.
func (s *Store) Close() error { return nil }
