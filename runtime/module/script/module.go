// Package script loads plugin modules written in Risor.
//
// A script module is a .risor file of top-level functions. The plugin entry
// symbol receives a plugin object and connects its handlers by name:
//
//	func hello_plugin(plugin) {
//	  plugin.connect("start", "on_start")
//	  return plugin
//	}
//
//	func on_start(plugin) {
//	  plugin.bind_string("hello", "world")
//	  return true
//	}
//
// Scripts run without the default Risor globals, so only the plugin and
// store objects handed to them are reachable.
package script

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/BDNK1/gimo/runtime"
	"github.com/risor-io/risor"
	"github.com/risor-io/risor/compiler"
	"github.com/risor-io/risor/object"
	"github.com/risor-io/risor/parser"
	"github.com/risor-io/risor/vm"
)

const (
	PluginID   = "org.gimo.core.risor.module"
	ModuleName = "gimo-risor-module"
	Symbol     = "risor_module_plugin"
	Suffix     = "risor"
)

// Module is a runtime.Module backed by a Risor source file. The file runs
// once on Load; its globals live in one VM until Unload, and every symbol
// lookup or handler call runs against that VM.
type Module struct {
	mu   sync.Mutex
	name string
	vm   *vm.VirtualMachine
}

var _ runtime.Module = (*Module)(nil)

// New is the module loader factory.
func New() runtime.Loadable {
	return &Module{}
}

// Load compiles file and runs its top level.
func (m *Module) Load(ctx context.Context, file string) error {
	data, err := os.ReadFile(file)
	if err != nil {
		return runtime.WrapError(runtime.ErrorCodeNoFile, err, "read script %q", file)
	}

	machine, err := compile(ctx, string(data))
	if err != nil {
		return runtime.WrapError(runtime.ErrorCodeLoad, err, "evaluate script %q", file)
	}

	m.mu.Lock()
	m.name = file
	m.vm = machine
	m.mu.Unlock()
	return nil
}

func (m *Module) Unload() error {
	m.mu.Lock()
	m.vm = nil
	m.mu.Unlock()
	return nil
}

func (m *Module) Name() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.name
}

// Resolve looks up a top-level symbol. Functions are called with args;
// a *runtime.Plugin argument is passed as a plugin object.
func (m *Module) Resolve(ctx context.Context, symbol string, args []any, mustExist bool) (any, error) {
	if !isIdentifier(symbol) {
		return nil, runtime.NewError(runtime.ErrorCodeInvalidSymbol, "invalid symbol %q", symbol)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.vm == nil {
		return nil, runtime.NewError(runtime.ErrorCodeInvalidState, "script %q is not loaded", m.name)
	}

	value, err := m.vm.Get(symbol)
	if err != nil {
		if mustExist {
			return nil, runtime.WrapError(runtime.ErrorCodeNoSymbol, err, "symbol %q not found in script %q", symbol, m.name)
		}
		return nil, nil
	}

	fn, ok := value.(*object.Function)
	if !ok {
		return toGo(value), nil
	}

	result, proxy, plugin, err := m.invoke(ctx, symbol, fn, args)
	if err != nil {
		return nil, err
	}
	if proxy != nil && result == proxy {
		return plugin, nil
	}
	return toGo(result), nil
}

// call runs the top-level function symbol and returns its raw result.
func (m *Module) call(ctx context.Context, symbol string, args []any) (object.Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.vm == nil {
		return nil, runtime.NewError(runtime.ErrorCodeInvalidState, "script %q is not loaded", m.name)
	}

	value, err := m.vm.Get(symbol)
	if err != nil {
		return nil, runtime.WrapError(runtime.ErrorCodeNoSymbol, err, "symbol %q not found in script %q", symbol, m.name)
	}
	fn, ok := value.(*object.Function)
	if !ok {
		return nil, runtime.NewError(runtime.ErrorCodeInvalidSymbol, "%q in script %q is not a function", symbol, m.name)
	}

	result, _, _, err := m.invoke(ctx, symbol, fn, args)
	return result, err
}

// invoke calls fn on the module VM. m.mu must be held.
func (m *Module) invoke(ctx context.Context, symbol string, fn *object.Function, args []any) (object.Object, *object.Module, *runtime.Plugin, error) {
	params := make([]object.Object, len(args))
	var plugin *runtime.Plugin
	var proxy *object.Module

	for i, arg := range args {
		switch v := arg.(type) {
		case *runtime.Plugin:
			plugin = v
			proxy = pluginObject(ctx, m, v)
			params[i] = proxy
		case *runtime.DataStore:
			params[i] = storeObject(v)
		default:
			params[i] = fromGo(toRisor(fmt.Sprintf("arg%d", i), v))
		}
	}

	result, err := m.vm.Call(ctx, fn, params)
	if err != nil {
		return nil, nil, nil, runtime.WrapError(runtime.ErrorCodeInvalidSymbol, err, "call %q in script %q", symbol, m.name)
	}
	return result, proxy, plugin, nil
}

// compile parses source and runs its top level in a new VM.
func compile(ctx context.Context, source string) (*vm.VirtualMachine, error) {
	cfg := risor.NewConfig(risor.WithoutDefaultGlobals())

	ast, err := parser.Parse(ctx, source)
	if err != nil {
		return nil, err
	}
	main, err := compiler.Compile(ast, cfg.CompilerOpts()...)
	if err != nil {
		return nil, err
	}

	machine := vm.New(main, cfg.VMOpts()...)
	if err := machine.Run(ctx); err != nil {
		return nil, err
	}
	return machine, nil
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

func init() {
	runtime.RegisterModule(ModuleName, runtime.Exports{
		Symbol: runtime.FuncExport(runtime.ModulePluginEntry(New, Suffix)),
	})
	runtime.RegisterBuiltinPlugin(runtime.Descriptor{
		ID:       PluginID,
		Name:     "Risor Module Loader",
		Version:  "1.0",
		Provider: "gimoapp.com",
		Module:   ModuleName,
		Symbol:   Symbol,
		Requires: []runtime.Require{{PluginID: runtime.CoreLoaderID}},
	})
}
