// Package memory provides an in-memory object store for tests, with hooks to
// inject failures and observe operations.
package memory

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/couchcryptid/rainfall-ingest-service/internal/storage"
)

// Store is an in-memory storage.Store. Safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	objects map[string][]byte

	// FailPuts makes the next N Put calls fail with a synthetic error.
	FailPuts int
	// PutHook, when set, runs before each Put with the object key.
	PutHook func(key string)
	// GetHook, when set, runs before each Get with the object key.
	GetHook func(key string)
}

// New creates an empty store.
func New() *Store {
	return &Store{objects: make(map[string][]byte)}
}

type syntheticErr struct{}

func (syntheticErr) Error() string { return "memory: injected failure" }

func (s *Store) Put(_ context.Context, key string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	s.mu.Lock()
	hook := s.PutHook
	if s.FailPuts > 0 {
		s.FailPuts--
		s.mu.Unlock()
		return syntheticErr{}
	}
	s.mu.Unlock()

	if hook != nil {
		hook(key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	return nil
}

func (s *Store) Get(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	hook := s.GetHook
	data, ok := s.objects[key]
	s.mu.Unlock()

	if hook != nil {
		hook(key)
		// Re-read in case the hook mutated the store.
		s.mu.Lock()
		data, ok = s.objects[key]
		s.mu.Unlock()
	}
	if !ok {
		return nil, storage.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *Store) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok, nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

func (s *Store) List(_ context.Context, prefix string) ([]storage.Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var objs []storage.Object
	for key, data := range s.objects {
		if strings.HasPrefix(key, prefix) {
			objs = append(objs, storage.Object{Key: key, Size: int64(len(data))})
		}
	}
	sort.Slice(objs, func(i, j int) bool { return objs[i].Key < objs[j].Key })
	return objs, nil
}

// Bytes returns a copy of the object's content, or nil if absent.
func (s *Store) Bytes(key string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil
	}
	return append([]byte(nil), data...)
}

// Len reports the number of stored objects.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}
