package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/g-uva/GreenDIGIT-CIM/pkg/source"
)

// Watch opens a change stream over the metrics collection, filtered to
// insert events only. Updates and deletes are not observed; the pipeline
// only ever reacts to newly inserted documents.
func (s *Store) Watch(ctx context.Context) (source.ChangeFeed, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "operationType", Value: "insert"}}}},
	}
	stream, err := s.col.Watch(ctx, pipeline,
		options.ChangeStream().SetFullDocument(options.UpdateLookup))
	if err != nil {
		return nil, fmt.Errorf("failed to open change stream: %w", err)
	}
	return &changeFeed{stream: stream}, nil
}

type changeFeed struct {
	stream *mongo.ChangeStream
}

type changeEvent struct {
	FullDocument struct {
		ID primitive.ObjectID `bson:"_id"`
	} `bson:"fullDocument"`
}

// TryNext polls the change stream for one event. It performs at most one
// short server round-trip; ok=false means nothing arrived.
func (f *changeFeed) TryNext(ctx context.Context) (source.Event, bool, error) {
	if f.stream.TryNext(ctx) {
		var ev changeEvent
		if err := f.stream.Decode(&ev); err != nil {
			return source.Event{}, false, fmt.Errorf("failed to decode change event: %w", err)
		}
		return source.Event{DocumentID: ev.FullDocument.ID.Hex()}, true, nil
	}
	if err := f.stream.Err(); err != nil {
		return source.Event{}, false, fmt.Errorf("change stream error: %w", err)
	}
	return source.Event{}, false, nil
}

func (f *changeFeed) Close(ctx context.Context) error {
	return f.stream.Close(ctx)
}
