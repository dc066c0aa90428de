package runtime

import (
	"context"
	"time"

	"github.com/google/uuid"
)

var _ context.Context = &Invocation{}

type invocationKey struct{}

// Invocation is the context handed to every lifecycle handler.
// It identifies one emission of one event on one plugin.
type Invocation struct {
	ID     string
	Event  Event
	Plugin *Plugin
	Store  *DataStore // set for save/restore only
	ctx    context.Context
}

func newInvocation(ctx context.Context, event Event, plugin *Plugin, store *DataStore) *Invocation {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Invocation{
		ID:     uuid.NewString(),
		Event:  event,
		Plugin: plugin,
		Store:  store,
		ctx:    ctx,
	}
}

// InvocationFrom returns the invocation carried by ctx, if any.
func InvocationFrom(ctx context.Context) (*Invocation, bool) {
	if ctx == nil {
		return nil, false
	}
	inv, ok := ctx.Value(invocationKey{}).(*Invocation)
	return inv, ok
}

func (i *Invocation) Deadline() (deadline time.Time, ok bool) {
	return i.ctx.Deadline()
}

func (i *Invocation) Done() <-chan struct{} {
	return i.ctx.Done()
}

func (i *Invocation) Err() error {
	return i.ctx.Err()
}

func (i *Invocation) Value(key any) any {
	if _, ok := key.(invocationKey); ok {
		return i
	}
	return i.ctx.Value(key)
}
