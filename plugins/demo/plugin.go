// Package demo is a compiled-in module used by examples and tests.
//
// Importing it registers the "demo-plugin" module. A plugin descriptor with
// module "demo-plugin" and symbol "demo_plugin" gets start, run and stop
// handlers that leave dl_* bindings on the Context.
package demo

import (
	"context"

	"github.com/BDNK1/gimo/runtime"
	"github.com/BDNK1/gimo/runtime/plugin"
)

const ModuleName = "demo-plugin"

// Object is bound as dl_object when the demo plugin starts.
type Object struct {
	PluginID string
}

func init() {
	plugin.Register(ModuleName, plugin.Exports{
		"test_plugin_new": plugin.Constructor(newTestPlugin),
		"demo_plugin":     plugin.Entry(setup),
		"version":         plugin.Value("1.0"),
	})
}

func newTestPlugin(ctx context.Context) (any, error) {
	return runtime.NewPlugin(runtime.Descriptor{
		ID:   "org.gimo.test.plugin",
		Name: "Test Plugin",
	}), nil
}

func setup(ctx context.Context, p *plugin.Plugin) error {
	if err := p.Connect(plugin.EventStart, plugin.StartHandler(start)); err != nil {
		return err
	}
	if err := p.Connect(plugin.EventRun, plugin.RunHandler(run)); err != nil {
		return err
	}
	return p.Connect(plugin.EventStop, plugin.StopHandler(stop))
}

func start(ctx context.Context, p *plugin.Plugin) bool {
	c := p.QueryContext()
	c.BindString("dl_start", "dl_start")
	c.BindObject("dl_object", &Object{PluginID: p.ID()})
	return true
}

func run(ctx context.Context, p *plugin.Plugin) {
	p.QueryContext().BindString("dl_run", "dl_run")
}

func stop(ctx context.Context, p *plugin.Plugin) {
	p.QueryContext().BindString("dl_stop", "dl_stop")
}
