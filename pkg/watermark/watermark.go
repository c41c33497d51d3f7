package watermark

import (
	"context"
	"time"
)

// Watermark is the last successfully exported position for one named
// processor: the (timestamp, id) of the newest document whose rows are known
// to be committed in the sink.
type Watermark struct {
	Processor string
	Timestamp string // ISO-8601 timestamp of the last exported document
	ID        string // document identifier, tie-break for equal timestamps
	UpdatedAt time.Time
}

// Store persists one watermark per processor name.
//
// Implementations: mongo (cursors collection next to the source data), badger
// (local durable store beside the watcher), memory (testing).
//
// Load returns ok=false when the processor has never exported, which the
// exporter treats as "export everything". Save is an idempotent upsert and is
// the only mutation; the pipeline never deletes a watermark. A single writer
// per processor name is assumed, so Save does not need cross-writer
// coordination, only atomicity against concurrent Loads.
type Store interface {
	Load(ctx context.Context, processor string) (Watermark, bool, error)
	Save(ctx context.Context, processor, timestamp, id string) error
	Close() error
}
