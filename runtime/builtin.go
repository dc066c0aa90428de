package runtime

import (
	"context"
	"sort"
	"sync"
)

// Ids of the plugins and extension points every Context starts with.
const (
	CoreLoaderID      = "org.gimo.core.loader"
	ArchiveExtPointID = CoreLoaderID + ".archive"
	ModuleExtPointID  = CoreLoaderID + ".module"
)

var (
	builtinsMu sync.RWMutex
	builtins   = make(map[string]Descriptor)
)

// RegisterBuiltinPlugin adds a plugin that every new Context installs and
// starts right after the core loader. Packages call it from init, usually
// together with RegisterModule for the plugin's entry point.
func RegisterBuiltinPlugin(d Descriptor) {
	builtinsMu.Lock()
	defer builtinsMu.Unlock()

	if d.ID == "" {
		panic("gimo: RegisterBuiltinPlugin with empty id")
	}
	if _, dup := builtins[d.ID]; dup {
		panic("gimo: RegisterBuiltinPlugin called twice for plugin " + d.ID)
	}
	builtins[d.ID] = d
}

// builtinDescriptors returns registered built-in plugins sorted by id.
func builtinDescriptors() []Descriptor {
	builtinsMu.RLock()
	defer builtinsMu.RUnlock()

	result := make([]Descriptor, 0, len(builtins))
	for _, d := range builtins {
		result = append(result, d)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})
	return result
}

// FactoryPluginEntry returns the entry point of a plugin that contributes
// factory to the loader bound at extptID, for each of the given suffixes,
// while the plugin is active.
func FactoryPluginEntry(extptID string, factory Factory, suffixes ...string) Func {
	return func(ctx context.Context, args ...any) (any, error) {
		p, err := entryPlugin(args)
		if err != nil {
			return nil, err
		}

		start := func(ctx context.Context, p *Plugin) bool {
			c := p.QueryContext()
			if c == nil {
				return false
			}
			loader, err := c.ResolveLoader(ctx, extptID)
			if err != nil {
				c.Logger().Error("Cannot reach loader",
					"plugin", p.ID(),
					"extpoint", extptID,
					"error", err)
				return false
			}
			for _, suffix := range suffixes {
				if !loader.Register(suffix, factory) {
					c.Logger().Warn("Loader suffix already registered",
						"plugin", p.ID(),
						"suffix", suffix)
				}
			}
			return true
		}

		stop := func(ctx context.Context, p *Plugin) {
			c := p.QueryContext()
			if c == nil {
				return
			}
			loader, err := c.ResolveLoader(ctx, extptID)
			if err != nil {
				return
			}
			for _, suffix := range suffixes {
				loader.Unregister(suffix)
			}
		}

		if err := p.Connect(EventStart, start); err != nil {
			return nil, err
		}
		if err := p.Connect(EventStop, stop); err != nil {
			return nil, err
		}
		return p, nil
	}
}

// ArchivePluginEntry is FactoryPluginEntry for the archive loader.
func ArchivePluginEntry(factory Factory, suffixes ...string) Func {
	return FactoryPluginEntry(ArchiveExtPointID, factory, suffixes...)
}

// ModulePluginEntry is FactoryPluginEntry for the module loader.
func ModulePluginEntry(factory Factory, suffixes ...string) Func {
	return FactoryPluginEntry(ModuleExtPointID, factory, suffixes...)
}

func entryPlugin(args []any) (*Plugin, error) {
	if len(args) == 0 {
		return nil, NewError(ErrorCodeInvalidObject, "plugin entry called without a plugin")
	}
	p, ok := args[0].(*Plugin)
	if !ok || p == nil {
		return nil, NewError(ErrorCodeInvalidType, "plugin entry expects *Plugin, got %T", args[0])
	}
	return p, nil
}
