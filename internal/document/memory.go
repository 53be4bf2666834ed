package document

import (
	"context"
	"sort"
	"sync"
)

// MemorySource is an in-memory Source, used by tests and embedders that
// push documents programmatically.
type MemorySource struct {
	mu   sync.RWMutex
	docs map[int64]*Document
}

// NewMemorySource returns a MemorySource seeded with docs.
func NewMemorySource(docs ...*Document) *MemorySource {
	s := &MemorySource{docs: make(map[int64]*Document, len(docs))}
	for _, d := range docs {
		s.docs[d.ID] = d
	}
	return s
}

// Put inserts or replaces a document.
func (s *MemorySource) Put(d *Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[d.ID] = d
}

// Remove deletes a document; unknown ids are ignored.
func (s *MemorySource) Remove(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, id)
}

func (s *MemorySource) Get(_ context.Context, id int64) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return d, nil
}

func (s *MemorySource) List(ctx context.Context, docType string, offset, limit int) ([]*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	var matched []*Document
	for _, d := range s.docs {
		if d.Type == docType {
			matched = append(matched, d)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	if offset >= len(matched) {
		return nil, nil
	}
	end := len(matched)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return matched[offset:end], nil
}

func (s *MemorySource) Types(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, d := range s.docs {
		seen[d.Type] = struct{}{}
	}
	types := make([]string, 0, len(seen))
	for t := range seen {
		types = append(types, t)
	}
	sort.Strings(types)
	return types, nil
}
