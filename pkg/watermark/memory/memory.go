package memory

import (
	"context"
	"sync"
	"time"

	"github.com/g-uva/GreenDIGIT-CIM/pkg/watermark"
)

// Store keeps watermarks in memory. Data is lost on restart.
// Useful for testing and development.
type Store struct {
	marks map[string]watermark.Watermark
	mu    sync.RWMutex
}

// New creates an in-memory watermark store.
func New() *Store {
	return &Store{marks: make(map[string]watermark.Watermark)}
}

// Load returns the watermark for the processor, if one was ever saved.
func (s *Store) Load(ctx context.Context, processor string) (watermark.Watermark, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wm, ok := s.marks[processor]
	return wm, ok, nil
}

// Save upserts the watermark for the processor.
func (s *Store) Save(ctx context.Context, processor, timestamp, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.marks[processor] = watermark.Watermark{
		Processor: processor,
		Timestamp: timestamp,
		ID:        id,
		UpdatedAt: time.Now().UTC(),
	}
	return nil
}

// Close is a no-op for the memory backend.
func (s *Store) Close() error { return nil }
