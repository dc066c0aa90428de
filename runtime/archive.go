package runtime

import (
	"sort"
	"sync"
)

// Archive is a loadable collection of objects keyed by id. Archives read by
// the archive loader hold *Plugin objects.
type Archive interface {
	Loadable
	AddObject(id string, obj any) bool
	QueryObject(id string) (any, bool)
	QueryObjects() []any
	RemoveObject(id string) bool
	Save(file string) error
}

// ObjectArchive is the id -> object store embedded by archive formats.
type ObjectArchive struct {
	mu      sync.RWMutex
	objects map[string]any
}

// AddObject stores obj under id. It returns false if id is empty or taken.
func (a *ObjectArchive) AddObject(id string, obj any) bool {
	if id == "" || obj == nil {
		return false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.objects == nil {
		a.objects = make(map[string]any)
	}
	if _, dup := a.objects[id]; dup {
		return false
	}
	a.objects[id] = obj
	return true
}

func (a *ObjectArchive) QueryObject(id string) (any, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	obj, ok := a.objects[id]
	return obj, ok
}

// QueryObjects returns all objects ordered by id.
func (a *ObjectArchive) QueryObjects() []any {
	a.mu.RLock()
	defer a.mu.RUnlock()

	ids := make([]string, 0, len(a.objects))
	for id := range a.objects {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	result := make([]any, len(ids))
	for i, id := range ids {
		result[i] = a.objects[id]
	}
	return result
}

func (a *ObjectArchive) RemoveObject(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.objects[id]; !ok {
		return false
	}
	delete(a.objects, id)
	return true
}

// Clear drops every object.
func (a *ObjectArchive) Clear() {
	a.mu.Lock()
	a.objects = nil
	a.mu.Unlock()
}

// Plugins returns the *Plugin objects of the archive ordered by id.
func (a *ObjectArchive) Plugins() []*Plugin {
	var result []*Plugin
	for _, obj := range a.QueryObjects() {
		if p, ok := obj.(*Plugin); ok {
			result = append(result, p)
		}
	}
	return result
}
