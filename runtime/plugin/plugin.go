package plugin

import (
	"context"

	"github.com/BDNK1/gimo/runtime"
)

type (
	Plugin     = runtime.Plugin
	Context    = runtime.Context
	Invocation = runtime.Invocation
	DataStore  = runtime.DataStore
	Extension  = runtime.Extension
	ExtConfig  = runtime.ExtConfig
	Event      = runtime.Event
	State      = runtime.State
	Exports    = runtime.Exports
	Export     = runtime.Export
	Func       = runtime.Func

	StartHandler   = runtime.StartHandler
	RunHandler     = runtime.RunHandler
	StopHandler    = runtime.StopHandler
	SaveHandler    = runtime.SaveHandler
	RestoreHandler = runtime.RestoreHandler
)

const (
	EventStart   = runtime.EventStart
	EventRun     = runtime.EventRun
	EventStop    = runtime.EventStop
	EventSave    = runtime.EventSave
	EventRestore = runtime.EventRestore
)

// Register makes a compiled-in module available to every Context.
func Register(name string, exports Exports) {
	runtime.RegisterModule(name, exports)
}

// Value exports a plain value.
func Value(v any) Export {
	return runtime.ValueExport(v)
}

// Entry wraps setup as a plugin entry export. The plugin is returned to the
// host when setup succeeds.
func Entry(setup func(ctx context.Context, p *Plugin) error) Export {
	return runtime.FuncExport(func(ctx context.Context, args ...any) (any, error) {
		if len(args) == 0 {
			return nil, runtime.NewError(runtime.ErrorCodeInvalidObject, "plugin entry called without a plugin")
		}
		p, ok := args[0].(*Plugin)
		if !ok || p == nil {
			return nil, runtime.NewError(runtime.ErrorCodeInvalidType, "plugin entry expects *Plugin, got %T", args[0])
		}
		if err := setup(ctx, p); err != nil {
			return nil, err
		}
		return p, nil
	})
}

// Constructor exports fn as a function that takes no arguments.
func Constructor(fn func(ctx context.Context) (any, error)) Export {
	return runtime.FuncExport(func(ctx context.Context, args ...any) (any, error) {
		return fn(ctx)
	})
}

// InvocationFrom returns the invocation a handler runs under.
func InvocationFrom(ctx context.Context) (*Invocation, bool) {
	return runtime.InvocationFrom(ctx)
}
