package runtime

import (
	"context"
	"sort"
	"sync"
)

// Loadable is anything a Loader can produce from a file or name.
type Loadable interface {
	Load(ctx context.Context, file string) error
	Unload() error
}

// Factory makes a fresh, unloaded Loadable.
type Factory func() Loadable

// Module is a loaded unit of code whose exported symbols can be looked up by name.
type Module interface {
	Loadable
	Name() string
	// Resolve looks up symbol. Function exports are called with args.
	// An absent symbol yields nil, which is an error only when mustExist is set.
	Resolve(ctx context.Context, symbol string, args []any, mustExist bool) (any, error)
}

// ExportKind tags the variant held by an Export.
type ExportKind int

const (
	ExportValue ExportKind = iota
	ExportFunc
)

// Func is an exported function. Plugin entry points receive the plugin as args[0].
type Func func(ctx context.Context, args ...any) (any, error)

// Export is one entry of a module's export table.
type Export struct {
	Kind  ExportKind
	Value any
	Func  Func
}

// ValueExport exports a plain value.
func ValueExport(v any) Export {
	return Export{Kind: ExportValue, Value: v}
}

// FuncExport exports a callable.
func FuncExport(fn Func) Export {
	return Export{Kind: ExportFunc, Func: fn}
}

// Exports maps symbol names to exports.
type Exports map[string]Export

// Resolve implements the lookup shared by every export-table module.
func (x Exports) Resolve(ctx context.Context, module, symbol string, args []any, mustExist bool) (any, error) {
	export, ok := x[symbol]
	if !ok {
		if mustExist {
			return nil, NewError(ErrorCodeNoSymbol, "symbol %q not found in module %q", symbol, module)
		}
		return nil, nil
	}

	switch export.Kind {
	case ExportFunc:
		if export.Func == nil {
			return nil, NewError(ErrorCodeInvalidSymbol, "symbol %q in module %q has no function", symbol, module)
		}
		return export.Func(ctx, args...)
	default:
		return export.Value, nil
	}
}

var (
	modulesMu sync.RWMutex
	modules   = make(map[string]Exports)
)

// RegisterModule makes a compiled-in module available to the fallback
// module factory under name. It panics on duplicates, like database/sql drivers.
func RegisterModule(name string, exports Exports) {
	modulesMu.Lock()
	defer modulesMu.Unlock()

	if name == "" {
		panic("gimo: RegisterModule with empty name")
	}
	if _, dup := modules[name]; dup {
		panic("gimo: RegisterModule called twice for module " + name)
	}
	modules[name] = exports
}

// Modules returns the names of all registered built-in modules.
func Modules() []string {
	modulesMu.RLock()
	defer modulesMu.RUnlock()

	names := make([]string, 0, len(modules))
	for name := range modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func lookupModule(name string) (Exports, bool) {
	modulesMu.RLock()
	defer modulesMu.RUnlock()
	exports, ok := modules[name]
	return exports, ok
}

// BuiltinModule opens modules registered with RegisterModule.
type BuiltinModule struct {
	name    string
	exports Exports
}

// NewBuiltinModule is the Factory for built-in modules.
func NewBuiltinModule() Loadable {
	return &BuiltinModule{}
}

func (m *BuiltinModule) Load(ctx context.Context, file string) error {
	exports, ok := lookupModule(file)
	if !ok {
		return NewError(ErrorCodeNoFile, "no built-in module %q", file)
	}
	m.name = file
	m.exports = exports
	return nil
}

func (m *BuiltinModule) Unload() error {
	m.exports = nil
	return nil
}

func (m *BuiltinModule) Name() string {
	return m.name
}

func (m *BuiltinModule) Resolve(ctx context.Context, symbol string, args []any, mustExist bool) (any, error) {
	if m.exports == nil {
		return nil, NewError(ErrorCodeInvalidState, "module %q is not loaded", m.name)
	}
	return m.exports.Resolve(ctx, m.name, symbol, args, mustExist)
}

// objectModule serves objects defined directly on a plugin that has no module file.
type objectModule struct {
	plugin *Plugin
}

func (m *objectModule) Load(ctx context.Context, file string) error { return nil }
func (m *objectModule) Unload() error                               { return nil }
func (m *objectModule) Name() string                                { return m.plugin.ID() }

func (m *objectModule) Resolve(ctx context.Context, symbol string, args []any, mustExist bool) (any, error) {
	if obj, ok := m.plugin.object(symbol); ok {
		return obj, nil
	}
	if mustExist {
		return nil, NewError(ErrorCodeNoSymbol, "symbol %q not defined on plugin %q", symbol, m.plugin.ID())
	}
	return nil, nil
}
