package runtime

import (
	"fmt"
	"sort"
	"sync"

	"github.com/Jeffail/gabs/v2"
)

// DataStore is a key/value store handed to save and restore handlers.
// Values are JSON-friendly scalars, slices, maps or nested stores.
type DataStore struct {
	mu     sync.RWMutex
	values map[string]any
}

func NewDataStore() *DataStore {
	return &DataStore{
		values: make(map[string]any),
	}
}

// Set stores value under key. A nil value deletes the key.
func (s *DataStore) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if value == nil {
		delete(s.values, key)
		return
	}
	s.values[key] = value
}

func (s *DataStore) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *DataStore) SetString(key, value string) {
	s.Set(key, value)
}

// String returns the string stored under key.
func (s *DataStore) String(key string) (string, bool) {
	v, ok := s.Get(key)
	if !ok {
		return "", false
	}
	str, ok := v.(string)
	return str, ok
}

// SetStore nests another store under key.
func (s *DataStore) SetStore(key string, store *DataStore) {
	if store == nil {
		s.Set(key, nil)
		return
	}
	s.Set(key, store)
}

// Store returns the nested store under key.
func (s *DataStore) Store(key string) (*DataStore, bool) {
	v, ok := s.Get(key)
	if !ok {
		return nil, false
	}
	store, ok := v.(*DataStore)
	return store, ok
}

// Keys returns the keys in sorted order.
func (s *DataStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *DataStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

// Foreach calls fn for every entry in key order until fn returns false.
func (s *DataStore) Foreach(fn func(key string, value any) bool) {
	for _, k := range s.Keys() {
		v, ok := s.Get(k)
		if !ok {
			continue
		}
		if !fn(k, v) {
			return
		}
	}
}

// MarshalJSON encodes the store, nested stores becoming nested objects.
func (s *DataStore) MarshalJSON() ([]byte, error) {
	c, err := s.container()
	if err != nil {
		return nil, err
	}
	return c.Bytes(), nil
}

func (s *DataStore) container() (*gabs.Container, error) {
	c := gabs.New()
	if _, err := c.Set(map[string]any{}); err != nil {
		return nil, err
	}

	var err error
	s.Foreach(func(key string, value any) bool {
		if nested, ok := value.(*DataStore); ok {
			var child *gabs.Container
			if child, err = nested.container(); err != nil {
				return false
			}
			value = child.Data()
		}
		if _, err = c.Set(value, key); err != nil {
			err = fmt.Errorf("datastore key %q: %w", key, err)
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// UnmarshalJSON replaces the store content. JSON objects become nested stores.
func (s *DataStore) UnmarshalJSON(data []byte) error {
	c, err := gabs.ParseJSON(data)
	if err != nil {
		return fmt.Errorf("failed to parse datastore: %w", err)
	}

	values, err := storeValues(c)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.values = values
	s.mu.Unlock()
	return nil
}

func storeValues(c *gabs.Container) (map[string]any, error) {
	if _, ok := c.Data().(map[string]any); !ok {
		return nil, fmt.Errorf("datastore must be a JSON object, got %T", c.Data())
	}

	values := make(map[string]any)
	for key, child := range c.ChildrenMap() {
		if _, ok := child.Data().(map[string]any); ok {
			nested, err := storeValues(child)
			if err != nil {
				return nil, err
			}
			values[key] = &DataStore{values: nested}
			continue
		}
		if child.Data() != nil {
			values[key] = child.Data()
		}
	}
	return values, nil
}
