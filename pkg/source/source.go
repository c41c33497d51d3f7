package source

import (
	"context"

	"github.com/g-uva/GreenDIGIT-CIM/pkg/metric"
)

// SinceOptions selects documents strictly after a watermark position.
type SinceOptions struct {
	// Timestamp and ID form the exclusive lower bound: a document is included
	// when its timestamp is strictly greater, or the timestamp ties and its
	// ID is strictly greater. Both empty means "from the beginning".
	Timestamp string
	ID        string

	// Publisher filters to one submitter (optional).
	Publisher string

	// Limit caps the result count for throttled backfills (0 = no limit).
	Limit int64
}

// ListOptions filters a full listing.
type ListOptions struct {
	Publisher string
	Limit     int64
}

// Reader is the read side of the document store.
//
// Implementations: mongo (production), memory (testing).
type Reader interface {
	// ListSince returns documents after the watermark position, ascending by
	// (timestamp, id) so the caller gets a stable resume point.
	ListSince(ctx context.Context, opts SinceOptions) ([]metric.Document, error)

	// ListAll returns documents newest-first, optionally filtered. The order
	// is not watermark-relevant; full exports rely on sink idempotency, not
	// ordering.
	ListAll(ctx context.Context, opts ListOptions) ([]metric.Document, error)
}

// Event is one insert notification from the change feed. Only inserts are
// observed; the source is append-only from the exporter's point of view.
type Event struct {
	DocumentID string
}

// ChangeFeed is a consumable stream of insert notifications.
type ChangeFeed interface {
	// TryNext returns the next available event without blocking beyond the
	// feed's own short poll interval. ok=false means no event was available.
	TryNext(ctx context.Context) (Event, bool, error)

	Close(ctx context.Context) error
}
