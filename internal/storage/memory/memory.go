package memory

import (
	"context"
	"sync"
)

// Store keeps everything in process memory. Values are copied on the way in
// and out.
type Store struct {
	mu      sync.RWMutex
	values  map[string][]byte
	records map[string][][]byte
}

func New() *Store {
	return &Store{
		values:  make(map[string][]byte),
		records: make(map[string][][]byte),
	}
}

func (s *Store) Load(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.values[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), data...), true, nil
}

func (s *Store) Save(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] = append([]byte(nil), data...)
	return nil
}

func (s *Store) AppendRecord(ctx context.Context, list string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[list] = append(s.records[list], append([]byte(nil), data...))
	return nil
}

func (s *Store) Records(ctx context.Context, list string) ([][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([][]byte, 0, len(s.records[list]))
	for _, r := range s.records[list] {
		out = append(out, append([]byte(nil), r...))
	}
	return out, nil
}

func (s *Store) Clear(ctx context.Context, key, list string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.values, key)
	delete(s.records, list)
	return nil
}

func (s *Store) Close() error {
	return nil
}
