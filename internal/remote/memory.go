package remote

import (
	"context"
	"encoding/json"
	"sync"
)

// MemoryStore is an in-process DocumentStore. Notifications are delivered
// synchronously to subscribers after the write is applied.
type MemoryStore struct {
	mu          sync.Mutex
	docs        map[string]Document
	nextID      int
	subscribers map[string]map[int]func(Document)
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:        make(map[string]Document),
		subscribers: make(map[string]map[int]func(Document)),
	}
}

func (s *MemoryStore) Write(_ context.Context, path string, fields map[string]json.RawMessage, meta Metadata) error {
	s.mu.Lock()
	current := s.docs[path]
	doc := Document{
		Path:     path,
		Fields:   MergeFields(current.Fields, fields),
		Metadata: meta,
	}.Clone()
	s.docs[path] = doc
	listeners := s.listenersLocked(path)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(doc.Clone())
	}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, path string) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[path]
	if !ok {
		return Document{}, ErrNotFound
	}
	return doc.Clone(), nil
}

func (s *MemoryStore) Subscribe(_ context.Context, path string, onChange func(Document)) (func(), error) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	if s.subscribers[path] == nil {
		s.subscribers[path] = make(map[int]func(Document))
	}
	s.subscribers[path][id] = onChange
	doc, ok := s.docs[path]
	if ok {
		doc = doc.Clone()
	}
	s.mu.Unlock()

	if ok {
		onChange(doc)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subscribers[path], id)
		})
	}, nil
}

func (s *MemoryStore) listenersLocked(path string) []func(Document) {
	listeners := make([]func(Document), 0, len(s.subscribers[path]))
	for _, fn := range s.subscribers[path] {
		listeners = append(listeners, fn)
	}
	return listeners
}
