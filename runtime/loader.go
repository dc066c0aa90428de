package runtime

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
)

type factoryEntry struct {
	suffix  string
	factory Factory
}

// Loader turns file names into Loadables using factories keyed by file suffix.
// A factory registered with an empty suffix is the fallback, tried after the
// suffix matches. Relative names are retried against the search paths.
type Loader struct {
	mu        sync.Mutex
	factories []factoryEntry
	paths     []string
	cache     map[string]Loadable // nil when caching is off
}

func NewLoader() *Loader {
	return &Loader{}
}

// NewCachedLoader returns a loader that hands out the same Loadable for
// repeated loads of the same name.
func NewCachedLoader() *Loader {
	return &Loader{cache: make(map[string]Loadable)}
}

// Register adds factory for suffix. It returns false if the suffix is taken.
func (l *Loader) Register(suffix string, factory Factory) bool {
	if factory == nil {
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, e := range l.factories {
		if e.suffix == suffix {
			return false
		}
	}

	entry := factoryEntry{suffix: suffix, factory: factory}
	if suffix == "" {
		l.factories = append(l.factories, entry)
	} else {
		l.factories = append([]factoryEntry{entry}, l.factories...)
	}
	return true
}

// Unregister removes the factory for suffix.
func (l *Loader) Unregister(suffix string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, e := range l.factories {
		if e.suffix == suffix {
			l.factories = append(l.factories[:i], l.factories[i+1:]...)
			return true
		}
	}
	return false
}

// AddPaths pushes search paths to the front. Each argument may itself be a
// list separated by os.PathListSeparator.
func (l *Loader) AddPaths(paths ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, dir := range splitPathList(paths) {
		l.paths = append([]string{dir}, l.paths...)
	}
}

// RemovePaths removes the given search paths.
func (l *Loader) RemovePaths(paths ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, dir := range splitPathList(paths) {
		for i, p := range l.paths {
			if p == dir {
				l.paths = append(l.paths[:i], l.paths[i+1:]...)
				break
			}
		}
	}
}

// Paths returns a copy of the search paths, most recently added first.
func (l *Loader) Paths() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.paths...)
}

// Load finds a factory for file and loads it, trying the search paths for
// relative names. Cached loaders return the previously loaded object.
func (l *Loader) Load(ctx context.Context, file string) (Loadable, error) {
	if file == "" {
		return nil, NewError(ErrorCodeNoFile, "empty file name")
	}

	suffix := fileSuffix(file)

	l.mu.Lock()
	if l.cache != nil {
		if obj, ok := l.cache[file]; ok {
			l.mu.Unlock()
			return obj, nil
		}
	}

	var candidates []Factory
	var fallback []Factory
	for _, e := range l.factories {
		switch {
		case e.suffix == "":
			fallback = append(fallback, e.factory)
		case e.suffix == suffix:
			candidates = append(candidates, e.factory)
		}
	}
	candidates = append(candidates, fallback...)
	paths := append([]string(nil), l.paths...)
	l.mu.Unlock()

	if len(candidates) == 0 {
		return nil, NewError(ErrorCodeNoFactory, "no factory for %q", file)
	}

	names := []string{file}
	if !filepath.IsAbs(file) {
		for _, dir := range paths {
			names = append(names, filepath.Join(dir, file))
		}
	}

	var errs []error
	for _, name := range names {
		for _, factory := range candidates {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			obj := factory()
			if obj == nil {
				continue
			}
			err := obj.Load(ctx, name)
			if err == nil {
				return l.store(file, obj), nil
			}
			errs = append(errs, err)
		}
	}

	return nil, WrapError(ErrorCodeNoFile, errors.Join(errs...), "cannot load %q", file)
}

func (l *Loader) store(file string, obj Loadable) Loadable {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cache == nil {
		return obj
	}
	if existing, ok := l.cache[file]; ok {
		_ = obj.Unload()
		return existing
	}
	l.cache[file] = obj
	return obj
}

// Cached returns the objects held by a cached loader.
func (l *Loader) Cached() []Loadable {
	l.mu.Lock()
	defer l.mu.Unlock()

	result := make([]Loadable, 0, len(l.cache))
	for _, obj := range l.cache {
		result = append(result, obj)
	}
	return result
}

// Close unloads and forgets every cached object.
func (l *Loader) Close() error {
	l.mu.Lock()
	cached := l.cache
	if l.cache != nil {
		l.cache = make(map[string]Loadable)
	}
	l.mu.Unlock()

	var errs []error
	for file, obj := range cached {
		if err := obj.Unload(); err != nil {
			errs = append(errs, WrapError(ErrorCodeUnload, err, "unload %q", file))
		}
	}
	return errors.Join(errs...)
}

// fileSuffix returns the text after the last dot of the base name.
func fileSuffix(file string) string {
	base := filepath.Base(file)
	i := strings.LastIndexByte(base, '.')
	if i < 0 {
		return ""
	}
	return base[i+1:]
}

func splitPathList(paths []string) []string {
	var result []string
	for _, list := range paths {
		for _, dir := range filepath.SplitList(list) {
			if dir != "" {
				result = append(result, dir)
			}
		}
	}
	return result
}
