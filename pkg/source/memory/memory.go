package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/g-uva/GreenDIGIT-CIM/pkg/metric"
	"github.com/g-uva/GreenDIGIT-CIM/pkg/source"
)

// Store keeps documents in memory. Data is lost on restart.
// Useful for testing and development.
type Store struct {
	docs []metric.Document
	mu   sync.RWMutex

	feedMu sync.Mutex
	feeds  []*Feed
}

// New creates an in-memory document source.
func New() *Store {
	return &Store{}
}

// Insert appends a document and notifies any open change feeds. Mirrors the
// intake API's append-only insert; existing documents are never touched.
func (s *Store) Insert(doc metric.Document) {
	s.mu.Lock()
	s.docs = append(s.docs, doc)
	s.mu.Unlock()

	s.feedMu.Lock()
	defer s.feedMu.Unlock()
	for _, f := range s.feeds {
		f.notify(source.Event{DocumentID: doc.ID})
	}
}

// ListSince returns documents strictly after (opts.Timestamp, opts.ID),
// ascending by (timestamp, id).
func (s *Store) ListSince(ctx context.Context, opts source.SinceOptions) ([]metric.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []metric.Document
	for _, d := range s.docs {
		if opts.Publisher != "" && d.Publisher != opts.Publisher {
			continue
		}
		if (opts.Timestamp != "" || opts.ID != "") && d.Before(opts.Timestamp, opts.ID) {
			continue
		}
		results = append(results, d)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Less(results[j]) })

	if opts.Limit > 0 && int64(len(results)) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// ListAll returns documents newest-first, optionally filtered.
func (s *Store) ListAll(ctx context.Context, opts source.ListOptions) ([]metric.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []metric.Document
	for _, d := range s.docs {
		if opts.Publisher != "" && d.Publisher != opts.Publisher {
			continue
		}
		results = append(results, d)
	}

	sort.Slice(results, func(i, j int) bool { return results[j].Less(results[i]) })

	if opts.Limit > 0 && int64(len(results)) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// Watch opens a change feed fed by subsequent Insert calls.
func (s *Store) Watch(ctx context.Context) (source.ChangeFeed, error) {
	f := &Feed{events: make(chan source.Event, 1024)}
	s.feedMu.Lock()
	s.feeds = append(s.feeds, f)
	s.feedMu.Unlock()
	return f, nil
}

// Feed is a channel-backed change feed for tests.
type Feed struct {
	events chan source.Event

	mu     sync.Mutex
	closed bool
	err    error
}

// Fail makes every subsequent TryNext return the given error, simulating a
// broken change stream.
func (f *Feed) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *Feed) notify(ev source.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	select {
	case f.events <- ev:
	default:
		// Feed buffer full; the poll loop will catch up from the source
		// itself, events only trigger batching.
	}
}

// TryNext returns a buffered event, if any.
func (f *Feed) TryNext(ctx context.Context) (source.Event, bool, error) {
	f.mu.Lock()
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return source.Event{}, false, err
	}

	select {
	case ev := <-f.events:
		return ev, true, nil
	default:
		return source.Event{}, false, nil
	}
}

// Close stops the feed. Pending events are discarded.
func (f *Feed) Close(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
