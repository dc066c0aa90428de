package runtime

import (
	"context"
)

// Event names a lifecycle signal a plugin can be connected to.
type Event string

const (
	EventStart   Event = "start"
	EventRun     Event = "run"
	EventStop    Event = "stop"
	EventSave    Event = "save"
	EventRestore Event = "restore"
)

// Handler types accepted by Plugin.Connect, one per event.
type (
	StartHandler   func(ctx context.Context, p *Plugin) bool
	RunHandler     func(ctx context.Context, p *Plugin)
	StopHandler    func(ctx context.Context, p *Plugin)
	SaveHandler    func(ctx context.Context, p *Plugin, store *DataStore)
	RestoreHandler func(ctx context.Context, p *Plugin, store *DataStore)
)

// handlerFunc is the normalized form stored in a plugin's event table.
// Only start handlers can return false.
type handlerFunc func(inv *Invocation) bool

// ParseEvent validates an event name.
func ParseEvent(name string) (Event, error) {
	switch e := Event(name); e {
	case EventStart, EventRun, EventStop, EventSave, EventRestore:
		return e, nil
	}
	return "", NewError(ErrorCodeInvalidSignal, "unknown event %q", name)
}

// normalizeHandler checks handler against the signature expected for event.
// Both the named handler types and plain func literals are accepted.
func normalizeHandler(event Event, handler any) (handlerFunc, error) {
	if handler == nil {
		return nil, NewError(ErrorCodeInvalidType, "nil handler for event %q", event)
	}

	switch event {
	case EventStart:
		var fn StartHandler
		switch h := handler.(type) {
		case StartHandler:
			fn = h
		case func(context.Context, *Plugin) bool:
			fn = h
		}
		if fn != nil {
			return func(inv *Invocation) bool { return fn(inv, inv.Plugin) }, nil
		}

	case EventRun, EventStop:
		var fn func(context.Context, *Plugin)
		switch h := handler.(type) {
		case RunHandler:
			fn = h
		case StopHandler:
			fn = h
		case func(context.Context, *Plugin):
			fn = h
		}
		if fn != nil {
			return func(inv *Invocation) bool {
				fn(inv, inv.Plugin)
				return true
			}, nil
		}

	case EventSave, EventRestore:
		var fn func(context.Context, *Plugin, *DataStore)
		switch h := handler.(type) {
		case SaveHandler:
			fn = h
		case RestoreHandler:
			fn = h
		case func(context.Context, *Plugin, *DataStore):
			fn = h
		}
		if fn != nil {
			return func(inv *Invocation) bool {
				fn(inv, inv.Plugin, inv.Store)
				return true
			}, nil
		}
	}

	return nil, NewError(ErrorCodeInvalidType, "handler %T does not match event %q", handler, event)
}
