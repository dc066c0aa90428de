package runtime

import (
	"context"
	"path/filepath"
	"sort"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/BDNK1/gimo/runtime")

// State is a plugin's lifecycle state.
type State int

const (
	StateUninstalled State = iota
	StateInstalled
	StateResolved
	StateStarting
	StateStopping
	StateActive
)

func (s State) String() string {
	switch s {
	case StateUninstalled:
		return "UNINSTALLED"
	case StateInstalled:
		return "INSTALLED"
	case StateResolved:
		return "RESOLVED"
	case StateStarting:
		return "STARTING"
	case StateStopping:
		return "STOPPING"
	case StateActive:
		return "ACTIVE"
	default:
		return "UNKNOWN"
	}
}

// Descriptor holds the static description of a plugin, as read from an archive.
type Descriptor struct {
	ID         string
	Name       string
	Version    string
	Provider   string
	Path       string
	Module     string
	Symbol     string
	Requires   []Require
	ExtPoints  []*ExtPoint
	Extensions []*Extension
}

// Plugin is a unit of host-loaded functionality with lifecycle hooks.
type Plugin struct {
	id         string
	name       string
	version    string
	provider   string
	module     string
	symbol     string
	requires   []Require
	extpoints  []*ExtPoint
	extensions []*Extension

	mu       sync.RWMutex
	path     string
	state    State
	context  *Context
	runtime  Module
	objects  map[string]any
	handlers map[Event][]handlerFunc
}

// NewPlugin creates an uninstalled plugin. Extension points and extensions
// are copied, sorted by local id and attached to the new plugin.
func NewPlugin(d Descriptor) *Plugin {
	p := &Plugin{
		id:       d.ID,
		name:     d.Name,
		version:  d.Version,
		provider: d.Provider,
		path:     d.Path,
		module:   d.Module,
		symbol:   d.Symbol,
		requires: append([]Require(nil), d.Requires...),
		objects:  make(map[string]any),
		handlers: make(map[Event][]handlerFunc),
	}

	for _, e := range d.ExtPoints {
		ep := e.clone()
		ep.attach(p)
		p.extpoints = append(p.extpoints, ep)
	}
	sort.SliceStable(p.extpoints, func(i, j int) bool {
		return p.extpoints[i].LocalID < p.extpoints[j].LocalID
	})

	for _, e := range d.Extensions {
		ext := e.clone()
		ext.attach(p)
		p.extensions = append(p.extensions, ext)
	}
	sort.SliceStable(p.extensions, func(i, j int) bool {
		return p.extensions[i].LocalID < p.extensions[j].LocalID
	})

	return p
}

func (p *Plugin) ID() string         { return p.id }
func (p *Plugin) Name() string       { return p.name }
func (p *Plugin) Version() string    { return p.version }
func (p *Plugin) Provider() string   { return p.provider }
func (p *Plugin) ModuleName() string { return p.module }
func (p *Plugin) Symbol() string     { return p.symbol }

func (p *Plugin) Path() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.path
}

func (p *Plugin) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

func (p *Plugin) Requires() []Require {
	return append([]Require(nil), p.requires...)
}

func (p *Plugin) ExtPoints() []*ExtPoint {
	return append([]*ExtPoint(nil), p.extpoints...)
}

func (p *Plugin) Extensions() []*Extension {
	return append([]*Extension(nil), p.extensions...)
}

// Descriptor returns the static description of the plugin.
func (p *Plugin) Descriptor() Descriptor {
	return Descriptor{
		ID:         p.id,
		Name:       p.name,
		Version:    p.version,
		Provider:   p.provider,
		Path:       p.Path(),
		Module:     p.module,
		Symbol:     p.symbol,
		Requires:   p.Requires(),
		ExtPoints:  p.ExtPoints(),
		Extensions: p.Extensions(),
	}
}

// QueryContext returns the context the plugin is installed in, nil if uninstalled.
func (p *Plugin) QueryContext() *Context {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.context
}

// ExtPoint returns the extension point with the given local id.
func (p *Plugin) ExtPoint(localID string) *ExtPoint {
	i := sort.Search(len(p.extpoints), func(i int) bool {
		return p.extpoints[i].LocalID >= localID
	})
	if i < len(p.extpoints) && p.extpoints[i].LocalID == localID {
		return p.extpoints[i]
	}
	return nil
}

// Extension returns the extension with the given local id.
func (p *Plugin) Extension(localID string) *Extension {
	i := sort.Search(len(p.extensions), func(i int) bool {
		return p.extensions[i].LocalID >= localID
	})
	if i < len(p.extensions) && p.extensions[i].LocalID == localID {
		return p.extensions[i]
	}
	return nil
}

// QueryExtensions returns the plugin's extensions contributing to extptID.
func (p *Plugin) QueryExtensions(extptID string) []*Extension {
	var result []*Extension
	for _, ext := range p.extensions {
		if ext.ExtPointID == extptID {
			result = append(result, ext)
		}
	}
	return result
}

// Connect registers handler for event. Several handlers may be connected to
// the same event; they fire in registration order.
func (p *Plugin) Connect(event Event, handler any) error {
	if _, err := ParseEvent(string(event)); err != nil {
		return err
	}
	fn, err := normalizeHandler(event, handler)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.handlers[event] = append(p.handlers[event], fn)
	p.mu.Unlock()
	return nil
}

// Define binds obj to symbol on this plugin. Defined objects are resolved
// before the plugin module.
func (p *Plugin) Define(symbol string, obj any) error {
	if symbol == "" {
		return NewError(ErrorCodeInvalidSymbol, "empty symbol on plugin %q", p.id)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, dup := p.objects[symbol]; dup {
		return NewError(ErrorCodeConflict, "symbol %q already defined on plugin %q", symbol, p.id)
	}
	p.objects[symbol] = obj
	return nil
}

func (p *Plugin) object(symbol string) (any, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	obj, ok := p.objects[symbol]
	return obj, ok
}

// Resolve returns a defined object, falling back to the plugin module.
// The module is not loaded on demand.
func (p *Plugin) Resolve(ctx context.Context, symbol string) (any, error) {
	if obj, ok := p.object(symbol); ok {
		return obj, nil
	}

	p.mu.RLock()
	m := p.runtime
	p.mu.RUnlock()

	if m == nil {
		return nil, NewError(ErrorCodeNoSymbol, "symbol %q not found on plugin %q", symbol, p.id)
	}
	obj, err := m.Resolve(ctx, symbol, nil, false)
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, NewError(ErrorCodeNoSymbol, "symbol %q not found on plugin %q", symbol, p.id)
	}
	return obj, nil
}

// Start loads the plugin module, resolves its requires and emits start.
// Starting an active plugin is a no-op.
func (p *Plugin) Start(ctx context.Context) error {
	if p.State() == StateActive {
		return nil
	}

	ctx, span := tracer.Start(ctx, "plugin.start", trace.WithAttributes(
		attribute.String("plugin.id", p.id),
	))
	defer span.End()

	if _, err := p.queryModule(ctx, true); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	p.setState(StateStarting)

	if !p.emit(ctx, EventStart, nil) {
		p.setState(StateResolved)
		err := NewError(ErrorCodeStart, "plugin %q refused to start", p.id)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	p.setState(StateActive)
	return nil
}

// Stop emits stop on an active or starting plugin and returns it to RESOLVED.
func (p *Plugin) Stop(ctx context.Context) {
	state := p.State()
	if state != StateActive && state != StateStarting {
		return
	}

	ctx, span := tracer.Start(ctx, "plugin.stop", trace.WithAttributes(
		attribute.String("plugin.id", p.id),
	))
	defer span.End()

	if _, err := p.queryModule(ctx, false); err != nil {
		return
	}

	p.setState(StateStopping)
	p.emit(ctx, EventStop, nil)
	p.setState(StateResolved)
}

// Run emits run on an active plugin.
func (p *Plugin) Run(ctx context.Context) {
	if p.State() != StateActive {
		return
	}
	p.emit(ctx, EventRun, nil)
}

// Save emits save with store.
func (p *Plugin) Save(ctx context.Context, store *DataStore) {
	p.emit(ctx, EventSave, store)
}

// Restore emits restore with store.
func (p *Plugin) Restore(ctx context.Context, store *DataStore) {
	p.emit(ctx, EventRestore, store)
}

// emit invokes the handlers of event in registration order. A start handler
// returning false stops the emission and makes the result false.
func (p *Plugin) emit(ctx context.Context, event Event, store *DataStore) bool {
	p.mu.RLock()
	handlers := append([]handlerFunc(nil), p.handlers[event]...)
	p.mu.RUnlock()

	if len(handlers) == 0 {
		return true
	}

	inv := newInvocation(ctx, event, p, store)
	for _, h := range handlers {
		if !h(inv) {
			return false
		}
	}
	return true
}

func (p *Plugin) setState(state State) {
	p.mu.Lock()
	old := p.state
	p.state = state
	c := p.context
	p.mu.Unlock()

	if c != nil && old != state {
		c.stateChanged(p, old, state)
	}
}

// queryModule returns the plugin module, loading it when load is set.
// Loading resolves the entry symbol with the plugin as argument, then makes
// sure every required plugin has its module loaded too.
func (p *Plugin) queryModule(ctx context.Context, load bool) (Module, error) {
	p.mu.RLock()
	m := p.runtime
	c := p.context
	p.mu.RUnlock()

	if m != nil {
		return m, nil
	}
	if !load {
		return nil, NewError(ErrorCodeInvalidState, "plugin %q has no module loaded", p.id)
	}
	if c == nil {
		return nil, NewError(ErrorCodeInvalidState, "plugin %q is not installed", p.id)
	}

	m, err := p.loadModule(ctx, c)
	if err != nil {
		return nil, WrapError(ErrorCodeLoad, err, "plugin %q module %q symbol %q", p.id, p.module, p.symbol)
	}

	p.mu.Lock()
	if p.runtime == nil {
		p.runtime = m
	}
	m = p.runtime
	p.state = StateResolved
	p.mu.Unlock()

	for _, r := range p.requires {
		dep, err := c.QueryPlugin(r.PluginID)
		if err == nil {
			_, err = dep.queryModule(ctx, true)
		} else if r.Optional {
			continue
		}
		if err != nil {
			p.mu.Lock()
			p.runtime = nil
			p.state = StateInstalled
			p.mu.Unlock()
			return nil, WrapError(ErrorCodeLoad, err, "plugin %q requires %q", p.id, r.PluginID)
		}
	}

	c.stateChanged(p, StateInstalled, StateResolved)
	return m, nil
}

// loadModule opens the plugin module and calls its entry symbol. Plugins
// without a module are served by the objects defined on them.
func (p *Plugin) loadModule(ctx context.Context, c *Context) (Module, error) {
	if p.module == "" {
		return &objectModule{plugin: p}, nil
	}

	loader, err := c.ResolveLoader(ctx, ModuleExtPointID)
	if err != nil {
		return nil, err
	}

	var candidates []string
	if path := p.Path(); path != "" {
		candidates = append(candidates, filepath.Join(path, p.module))
	}
	candidates = append(candidates, p.module)

	var loaded Loadable
	for _, name := range candidates {
		if loaded, err = loader.Load(ctx, name); err == nil {
			break
		}
	}
	if err != nil {
		return nil, err
	}

	m, ok := loaded.(Module)
	if !ok {
		return nil, NewError(ErrorCodeInvalidObject, "%T loaded from %q is not a module", loaded, p.module)
	}

	if p.symbol != "" {
		obj, err := m.Resolve(ctx, p.symbol, []any{p}, true)
		if err != nil {
			return nil, err
		}
		if obj == nil {
			return nil, NewError(ErrorCodeInvalidSymbol, "entry %q of plugin %q returned nil", p.symbol, p.id)
		}
	}
	return m, nil
}

func (p *Plugin) install(c *Context, curPath string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.context != nil {
		return NewError(ErrorCodeInvalidState, "plugin %q is already installed", p.id)
	}

	p.context = c
	p.state = StateInstalled

	if curPath != "" {
		if p.path != "" && !filepath.IsAbs(p.path) {
			p.path = filepath.Join(curPath, p.path)
		} else if p.path == "" {
			p.path = curPath
		}
	}
	return nil
}

func (p *Plugin) uninstall() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.runtime = nil
	p.context = nil
	p.state = StateUninstalled

	for _, ep := range p.extpoints {
		ep.attach(nil)
	}
	for _, ext := range p.extensions {
		ext.attach(nil)
	}
}
