package script

import (
	"context"
	"log/slog"

	"github.com/BDNK1/gimo/runtime"
	"github.com/risor-io/risor/object"
)

// pluginObject exposes p to scripts.
func pluginObject(ctx context.Context, m *Module, p *runtime.Plugin) *object.Module {
	return newModule("plugin", map[string]any{
		"id":      func() string { return p.ID() },
		"name":    func() string { return p.Name() },
		"version": func() string { return p.Version() },
		"state":   func() string { return p.State().String() },
		"connect": func(event, fn string) error {
			return connect(m, p, runtime.Event(event), fn)
		},
		"bind_string": func(key, value string) error {
			c := p.QueryContext()
			if c == nil {
				return runtime.NewError(runtime.ErrorCodeInvalidState, "plugin %q is not installed", p.ID())
			}
			c.BindString(key, value)
			return nil
		},
		"lookup_string": func(key string) any {
			c := p.QueryContext()
			if c == nil {
				return nil
			}
			if v, ok := c.LookupString(key); ok {
				return v
			}
			return nil
		},
		"resolve_extpoint_loaded": func(id string) bool {
			c := p.QueryContext()
			if c == nil {
				return false
			}
			obj, err := c.ResolveExtPoint(ctx, id)
			return err == nil && obj != nil
		},
		"log": func(msg string) {
			logger(p).Info(msg, "plugin", p.ID())
		},
	})
}

// storeObject exposes a save/restore data store to scripts.
func storeObject(s *runtime.DataStore) *object.Module {
	return newModule("store", map[string]any{
		"set": func(key string, value any) {
			s.Set(key, value)
		},
		"get": func(key string) any {
			v, ok := s.Get(key)
			if !ok {
				return nil
			}
			if nested, ok := v.(*runtime.DataStore); ok {
				return storeObject(nested)
			}
			return v
		},
		"keys": func() []any {
			keys := s.Keys()
			result := make([]any, len(keys))
			for i, k := range keys {
				result[i] = k
			}
			return result
		},
	})
}

// connect binds event on p to the script function fn.
func connect(m *Module, p *runtime.Plugin, event runtime.Event, fn string) error {
	if !isIdentifier(fn) {
		return runtime.NewError(runtime.ErrorCodeInvalidSymbol, "invalid handler name %q", fn)
	}

	var handler any
	switch event {
	case runtime.EventStart:
		handler = func(ctx context.Context, p *runtime.Plugin) bool {
			result, err := m.call(ctx, fn, []any{p})
			if err != nil {
				logger(p).Error("Script start handler failed",
					"plugin", p.ID(),
					"handler", fn,
					"error", err)
				return false
			}
			return result != nil && result.IsTruthy()
		}

	case runtime.EventRun, runtime.EventStop:
		handler = func(ctx context.Context, p *runtime.Plugin) {
			if _, err := m.call(ctx, fn, []any{p}); err != nil {
				logger(p).Error("Script handler failed",
					"plugin", p.ID(),
					"event", string(event),
					"handler", fn,
					"error", err)
			}
		}

	case runtime.EventSave, runtime.EventRestore:
		handler = func(ctx context.Context, p *runtime.Plugin, store *runtime.DataStore) {
			if _, err := m.call(ctx, fn, []any{p, store}); err != nil {
				logger(p).Error("Script handler failed",
					"plugin", p.ID(),
					"event", string(event),
					"handler", fn,
					"error", err)
			}
		}
	}

	return p.Connect(event, handler)
}

func logger(p *runtime.Plugin) *slog.Logger {
	if c := p.QueryContext(); c != nil {
		return c.Logger()
	}
	return slog.Default()
}
