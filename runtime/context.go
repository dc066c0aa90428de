package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"sync"

	"github.com/BDNK1/gimo/runtime/internal/graph"
	"github.com/panjf2000/ants/v2"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/samber/lo"
)

// StateObserver is notified of every plugin state transition.
type StateObserver func(p *Plugin, old, new State)

// Runnable is work that can be handed to Context.AsyncRun.
type Runnable interface {
	Run(ctx context.Context)
}

// Context is the plugin registry. It owns the installed plugins, the core
// loaders, a shared binding store and the async worker pool.
type Context struct {
	logger  *slog.Logger
	config  Config
	metrics *Metrics
	pool    *ants.Pool

	mu        sync.Mutex
	plugins   map[string]*Plugin
	paths     []string
	destroyed bool

	obsMu            sync.RWMutex
	stateObservers   []StateObserver
	destroyObservers []func(c *Context)
	gcObservers      []func(maybeGC bool)

	bindings *xsync.Map[string, any]
}

// NewContext builds a context, installs and starts the core loader plugin and
// then every built-in plugin unless cfg.DisableBuiltins is set.
func NewContext(ctx context.Context, cfg Config, logger *slog.Logger) (*Context, error) {
	if err := PrepareConfig(&cfg); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	pool, err := ants.NewPool(cfg.AsyncWorkers)
	if err != nil {
		return nil, fmt.Errorf("failed to create async pool: %w", err)
	}

	c := &Context{
		logger:   logger,
		config:   cfg,
		metrics:  newMetrics(),
		pool:     pool,
		plugins:  make(map[string]*Plugin),
		bindings: xsync.NewMap[string, any](),
	}

	if err := c.installCoreLoader(ctx); err != nil {
		pool.Release()
		return nil, err
	}

	if !cfg.DisableBuiltins {
		for _, d := range builtinDescriptors() {
			p := NewPlugin(d)
			if err := c.InstallPlugin("", p); err != nil {
				pool.Release()
				return nil, err
			}
			if err := p.Start(ctx); err != nil {
				logger.Error("Built-in plugin failed to start",
					"plugin", d.ID,
					"error", err)
			}
		}
	}

	if len(cfg.Paths) > 0 {
		if err := c.AddPaths(ctx, cfg.Paths...); err != nil {
			pool.Release()
			return nil, err
		}
	}

	return c, nil
}

func (c *Context) installCoreLoader(ctx context.Context) error {
	p := NewPlugin(Descriptor{
		ID:       CoreLoaderID,
		Name:     "File Loader",
		Version:  "1.0",
		Provider: "gimoapp.com",
		ExtPoints: []*ExtPoint{
			NewExtPoint("archive", "Object Archive Loader"),
			NewExtPoint("module", "Dynamic Module Loader"),
		},
	})

	modules := NewCachedLoader()
	if c.config.DisableModuleCache {
		modules = NewLoader()
	}
	modules.Register("", NewBuiltinModule)

	if err := p.Define("archive", NewLoader()); err != nil {
		return err
	}
	if err := p.Define("module", modules); err != nil {
		return err
	}
	if err := c.InstallPlugin("", p); err != nil {
		return err
	}
	return p.Start(ctx)
}

func (c *Context) Logger() *slog.Logger { return c.logger }
func (c *Context) Metrics() *Metrics    { return c.metrics }
func (c *Context) Config() Config       { return c.config }

// InstallPlugin registers p. Its path is joined onto curPath when relative.
func (c *Context) InstallPlugin(curPath string, p *Plugin) error {
	if p == nil {
		return NewError(ErrorCodeInvalidObject, "nil plugin")
	}
	if p.ID() == "" {
		return NewError(ErrorCodeInvalidID, "plugin has no id")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.destroyed {
		return NewError(ErrorCodeInvalidState, "context destroyed")
	}
	if _, dup := c.plugins[p.ID()]; dup {
		return NewError(ErrorCodeConflict, "plugin %q already installed", p.ID())
	}
	if err := p.install(c, curPath); err != nil {
		return err
	}

	c.plugins[p.ID()] = p
	c.metrics.loaded.Inc()
	c.logger.Debug("Plugin installed",
		"plugin", p.ID(),
		"path", p.Path())
	return nil
}

// UninstallPlugin stops and removes a plugin.
func (c *Context) UninstallPlugin(ctx context.Context, id string) error {
	p, err := c.QueryPlugin(id)
	if err != nil {
		return err
	}

	p.Stop(ctx)

	c.mu.Lock()
	delete(c.plugins, id)
	c.mu.Unlock()

	old := p.State()
	p.uninstall()
	c.stateChanged(p, old, StateUninstalled)
	return nil
}

// QueryPlugin returns the installed plugin with id.
func (c *Context) QueryPlugin(id string) (*Plugin, error) {
	if id == "" {
		return nil, NewError(ErrorCodeInvalidID, "empty plugin id")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.plugins[id]
	if !ok {
		return nil, NewError(ErrorCodeNoPlugin, "plugin %q not installed", id)
	}
	return p, nil
}

// QueryPlugins returns every installed plugin ordered by id.
func (c *Context) QueryPlugins() []*Plugin {
	c.mu.Lock()
	plugins := lo.Values(c.plugins)
	c.mu.Unlock()

	sort.Slice(plugins, func(i, j int) bool {
		return plugins[i].ID() < plugins[j].ID()
	})
	return plugins
}

// QueryExtPoint finds an extension point by its full id.
func (c *Context) QueryExtPoint(id string) (*ExtPoint, error) {
	pluginID, localID, err := ParseExtensionID(id)
	if err != nil {
		return nil, err
	}

	p, err := c.QueryPlugin(pluginID)
	if err != nil {
		return nil, err
	}

	ep := p.ExtPoint(localID)
	if ep == nil {
		return nil, NewError(ErrorCodeNoExtPoint, "plugin %q has no extension point %q", pluginID, localID)
	}
	return ep, nil
}

// QueryExtensions collects the extensions of every plugin contributing to extptID.
func (c *Context) QueryExtensions(extptID string) []*Extension {
	return lo.FlatMap(c.QueryPlugins(), func(p *Plugin, _ int) []*Extension {
		return p.QueryExtensions(extptID)
	})
}

// ResolveExtPoint returns the object the owning plugin binds to the
// extension point's local id.
func (c *Context) ResolveExtPoint(ctx context.Context, id string) (any, error) {
	ep, err := c.QueryExtPoint(id)
	if err != nil {
		return nil, err
	}

	p := ep.Plugin()
	if p == nil {
		return nil, NewError(ErrorCodeNoPlugin, "extension point %q is detached", id)
	}
	return p.Resolve(ctx, ep.LocalID)
}

// ResolveLoader resolves an extension point that must be bound to a *Loader.
func (c *Context) ResolveLoader(ctx context.Context, id string) (*Loader, error) {
	obj, err := c.ResolveExtPoint(ctx, id)
	if err != nil {
		return nil, err
	}
	loader, ok := obj.(*Loader)
	if !ok {
		return nil, NewError(ErrorCodeInvalidType, "extension point %q resolves to %T, not a loader", id, obj)
	}
	return loader, nil
}

// AddPaths pushes plugin search paths to the front and shares them with the
// archive and module loaders.
func (c *Context) AddPaths(ctx context.Context, paths ...string) error {
	archives, err := c.ResolveLoader(ctx, ArchiveExtPointID)
	if err != nil {
		return err
	}
	modules, err := c.ResolveLoader(ctx, ModuleExtPointID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	for _, dir := range splitPathList(paths) {
		c.paths = append([]string{dir}, c.paths...)
	}
	c.mu.Unlock()

	archives.AddPaths(paths...)
	modules.AddPaths(paths...)
	return nil
}

// Paths returns the search paths, most recently added first.
func (c *Context) Paths() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.paths...)
}

// LoadPlugin installs the plugins found at path. A file is read as an
// archive; a directory is scanned, descending into subdirectories when
// recursive is set. Relative paths that do not exist are looked up in the
// search paths.
func (c *Context) LoadPlugin(ctx context.Context, path string, recursive bool) (int, []*Plugin, error) {
	fullPath := c.findPath(path)
	if fullPath == "" {
		return 0, nil, NewError(ErrorCodeNoFile, "plugin path %q does not exist", path)
	}

	archives, err := c.ResolveLoader(ctx, ArchiveExtPointID)
	if err != nil {
		return 0, nil, err
	}

	info, err := os.Stat(fullPath)
	if err != nil {
		return 0, nil, WrapError(ErrorCodeInvalidFile, err, "stat %q", fullPath)
	}

	if info.Mode().IsRegular() {
		return c.loadArchive(ctx, archives, filepath.Dir(fullPath), fullPath)
	}
	if info.IsDir() {
		return c.loadDir(ctx, archives, fullPath, recursive)
	}
	return 0, nil, NewError(ErrorCodeInvalidFile, "%q is neither a file nor a directory", fullPath)
}

func (c *Context) findPath(path string) string {
	if _, err := os.Stat(path); err == nil {
		return path
	}
	if filepath.IsAbs(path) {
		return ""
	}
	for _, dir := range c.Paths() {
		full := filepath.Join(dir, path)
		if _, err := os.Stat(full); err == nil {
			return full
		}
	}
	return ""
}

func (c *Context) loadArchive(ctx context.Context, archives *Loader, curPath, file string) (int, []*Plugin, error) {
	obj, err := archives.Load(ctx, file)
	if err != nil {
		return 0, nil, err
	}
	archive, ok := obj.(Archive)
	if !ok {
		return 0, nil, NewError(ErrorCodeInvalidObject, "%T loaded from %q is not an archive", obj, file)
	}
	defer archive.Unload()

	var installed []*Plugin
	for _, o := range archive.QueryObjects() {
		p, ok := o.(*Plugin)
		if !ok {
			continue
		}
		if err := c.InstallPlugin(curPath, p); err != nil {
			c.logger.Warn("Skipping plugin from archive",
				"plugin", p.ID(),
				"file", file,
				"error", err)
			continue
		}
		installed = append(installed, p)
	}
	return len(installed), installed, nil
}

func (c *Context) loadDir(ctx context.Context, archives *Loader, dir string, recursive bool) (int, []*Plugin, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, nil, WrapError(ErrorCodeInvalidFile, err, "enumerate %q", dir)
	}

	var installed []*Plugin
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return len(installed), installed, err
		}

		child := filepath.Join(dir, entry.Name())
		switch {
		case entry.Type().IsRegular():
			_, plugins, err := c.loadArchive(ctx, archives, dir, child)
			if err != nil {
				c.logger.Debug("Not a plugin archive",
					"file", child,
					"error", err)
				continue
			}
			installed = append(installed, plugins...)

		case recursive && entry.IsDir():
			_, plugins, err := c.loadDir(ctx, archives, child, recursive)
			installed = append(installed, plugins...)
			if err != nil {
				return len(installed), installed, err
			}
		}
	}
	return len(installed), installed, nil
}

// StartPlugins starts the plugins named by ids, or every installed plugin
// when ids is empty, dependencies first. Failures are logged and joined.
func (c *Context) StartPlugins(ctx context.Context, ids ...string) error {
	order := c.startOrder()

	wanted := lo.SliceToMap(ids, func(id string) (string, bool) { return id, true })

	var errs []error
	for _, id := range ids {
		if _, err := c.QueryPlugin(id); err != nil {
			errs = append(errs, err)
		}
	}

	for _, id := range order {
		if len(ids) > 0 && !wanted[id] {
			continue
		}
		p, err := c.QueryPlugin(id)
		if err != nil {
			continue
		}
		if err := p.Start(ctx); err != nil {
			c.logger.Error("Plugin failed to start",
				"plugin", id,
				"error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// startOrder sorts installed plugins by requires. Cycles fall back to id order.
func (c *Context) startOrder() []string {
	plugins := c.QueryPlugins()

	g, err := graph.BuildGraph(dependencyNodes(plugins), true)
	if err == nil {
		var order []string
		if order, err = g.TopologicalSort(); err == nil {
			return order
		}
	}

	c.logger.Warn("Cannot order plugins by requires, using id order",
		"error", err)
	return lo.Map(plugins, func(p *Plugin, _ int) string { return p.ID() })
}

// CheckDependencies reports missing mandatory requires and cycles.
func (c *Context) CheckDependencies() error {
	_, err := graph.BuildGraph(dependencyNodes(c.QueryPlugins()), false)
	return err
}

func dependencyNodes(plugins []*Plugin) []graph.Node {
	return lo.Map(plugins, func(p *Plugin, _ int) graph.Node {
		return graph.Node{
			ID: p.ID(),
			Requires: lo.Map(p.Requires(), func(r Require, _ int) graph.Edge {
				return graph.Edge{ID: r.PluginID, Optional: r.Optional}
			}),
		}
	})
}

// RunPlugins emits run on every active plugin.
func (c *Context) RunPlugins(ctx context.Context) {
	for _, p := range c.QueryPlugins() {
		p.Run(ctx)
	}
}

// AsyncRun runs r on the context worker pool.
func (c *Context) AsyncRun(ctx context.Context, r Runnable) error {
	if r == nil {
		return NewError(ErrorCodeInvalidObject, "nil runnable")
	}
	return c.pool.Submit(func() {
		r.Run(ctx)
	})
}

// CallGC notifies gc observers; maybeGC marks the request as a hint.
func (c *Context) CallGC(maybeGC bool) {
	c.obsMu.RLock()
	observers := slices.Clone(c.gcObservers)
	c.obsMu.RUnlock()

	for _, fn := range observers {
		fn(maybeGC)
	}
}

// Save gives every plugin its own sub-store of store, keyed by plugin id.
func (c *Context) Save(ctx context.Context, store *DataStore) {
	for _, p := range c.QueryPlugins() {
		s := NewDataStore()
		p.Save(ctx, s)
		store.SetStore(p.ID(), s)
	}
}

// Restore hands each sub-store of store to the plugin with the matching id.
func (c *Context) Restore(ctx context.Context, store *DataStore) {
	store.Foreach(func(key string, value any) bool {
		sub, ok := value.(*DataStore)
		if !ok {
			return true
		}
		p, err := c.QueryPlugin(key)
		if err != nil {
			c.logger.Debug("No plugin for saved state",
				"plugin", key)
			return true
		}
		p.Restore(ctx, sub)
		return true
	})
}

// Destroy notifies destroy observers, stops every plugin in reverse id
// order, unloads cached modules and releases the worker pool.
func (c *Context) Destroy(ctx context.Context) error {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return nil
	}
	c.destroyed = true
	c.mu.Unlock()

	c.obsMu.RLock()
	observers := slices.Clone(c.destroyObservers)
	c.obsMu.RUnlock()
	for _, fn := range observers {
		fn(c)
	}

	plugins := c.QueryPlugins()
	for i := len(plugins) - 1; i >= 0; i-- {
		plugins[i].Stop(ctx)
	}

	var errs []error
	if modules, err := c.ResolveLoader(ctx, ModuleExtPointID); err != nil {
		errs = append(errs, err)
	} else if err := modules.Close(); err != nil {
		errs = append(errs, err)
	}

	c.pool.Release()
	c.bindings.Clear()

	if len(errs) > 0 {
		return fmt.Errorf("destroy errors: %w", errors.Join(errs...))
	}
	return nil
}

// OnStateChanged registers an observer of plugin state transitions.
func (c *Context) OnStateChanged(fn StateObserver) {
	c.obsMu.Lock()
	c.stateObservers = append(c.stateObservers, fn)
	c.obsMu.Unlock()
}

// OnDestroy registers fn to run at the start of Destroy.
func (c *Context) OnDestroy(fn func(c *Context)) {
	c.obsMu.Lock()
	c.destroyObservers = append(c.destroyObservers, fn)
	c.obsMu.Unlock()
}

// OnCallGC registers fn to run on CallGC.
func (c *Context) OnCallGC(fn func(maybeGC bool)) {
	c.obsMu.Lock()
	c.gcObservers = append(c.gcObservers, fn)
	c.obsMu.Unlock()
}

func (c *Context) stateChanged(p *Plugin, old, new State) {
	c.metrics.observeTransition(p.ID(), old, new)
	c.logger.Debug("Plugin state changed",
		"plugin", p.ID(),
		"from", old.String(),
		"to", new.String())

	c.obsMu.RLock()
	observers := append([]StateObserver(nil), c.stateObservers...)
	c.obsMu.RUnlock()

	for _, fn := range observers {
		fn(p, old, new)
	}
}

// BindString stores a string in the context binding store, replacing any
// previous value under key.
func (c *Context) BindString(key, value string) {
	c.bindings.Store(key, value)
}

// LookupString reads a string bound with BindString.
func (c *Context) LookupString(key string) (string, bool) {
	v, ok := c.bindings.Load(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// BindObject stores obj under key. A nil obj removes the binding.
func (c *Context) BindObject(key string, obj any) {
	if obj == nil {
		c.bindings.Delete(key)
		return
	}
	c.bindings.Store(key, obj)
}

// LookupObject reads a value bound with BindObject or BindString.
func (c *Context) LookupObject(key string) (any, bool) {
	return c.bindings.Load(key)
}
