package faketokenstore

import (
	"context"
	"maps"
	"sync"

	"github.com/jrsteele09/go-auth-session/tokenstore"
)

var _ tokenstore.Store = (*FakeTokenStore)(nil)

// FakeTokenStore is an in-memory store. The Fail* fields inject errors for the next and every
// following call until cleared.
type FakeTokenStore struct {
	values map[tokenstore.Key]string
	lock   sync.RWMutex

	FailGet    error
	FailSet    error
	FailRemove error
}

func NewFakeTokenStore() *FakeTokenStore {
	return &FakeTokenStore{values: make(map[tokenstore.Key]string)}
}

// NewFakeTokenStoreWith returns a store preloaded with tokens; empty values are not stored.
func NewFakeTokenStoreWith(access, refresh string) *FakeTokenStore {
	s := NewFakeTokenStore()
	if access != "" {
		s.values[tokenstore.KeyAccess] = access
	}
	if refresh != "" {
		s.values[tokenstore.KeyRefresh] = refresh
	}
	return s
}

func (s *FakeTokenStore) Get(_ context.Context, key tokenstore.Key) (string, bool, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	if s.FailGet != nil {
		return "", false, s.FailGet
	}
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *FakeTokenStore) Set(_ context.Context, key tokenstore.Key, value string) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.FailSet != nil {
		return s.FailSet
	}
	s.values[key] = value
	return nil
}

func (s *FakeTokenStore) Remove(_ context.Context, key tokenstore.Key) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.FailRemove != nil {
		return s.FailRemove
	}
	delete(s.values, key)
	return nil
}

// Values returns a copy of everything stored.
func (s *FakeTokenStore) Values() map[tokenstore.Key]string {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return maps.Clone(s.values)
}

// Has reports whether key is present.
func (s *FakeTokenStore) Has(key tokenstore.Key) bool {
	s.lock.RLock()
	defer s.lock.RUnlock()
	_, ok := s.values[key]
	return ok
}
