// Package plugin provides the minimal surface for writing compiled-in GIMO
// plugins.
//
// Plugin authors import this package and register a module from init:
//
//	import "github.com/BDNK1/gimo/runtime/plugin"
//
// # Plugin Structure
//
// A compiled-in plugin is a module with an entry function. The host calls
// the entry with the plugin being started; the entry connects lifecycle
// handlers and returns the plugin:
//
//	func init() {
//	    plugin.Register("hello-module", plugin.Exports{
//	        "hello_plugin": plugin.Entry(func(ctx context.Context, p *plugin.Plugin) error {
//	            return p.Connect(plugin.EventStart, plugin.StartHandler(start))
//	        }),
//	    })
//	}
//
//	func start(ctx context.Context, p *plugin.Plugin) bool {
//	    p.QueryContext().BindString("hello", "world")
//	    return true
//	}
//
// An archive then points a plugin at the module:
//
//	plugins:
//	  - id: org.example.hello
//	    module: hello-module
//	    symbol: hello_plugin
//
// # Lifecycle
//
// Handlers run in registration order. A start handler returning false
// leaves the plugin RESOLVED and makes Start fail:
//
//	INSTALLED -> RESOLVED -> STARTING -> ACTIVE
//	ACTIVE -> STOPPING -> RESOLVED
//
// Every handler receives an *Invocation as its context.Context:
//
//	func run(ctx context.Context, p *plugin.Plugin) {
//	    inv, _ := plugin.InvocationFrom(ctx)
//	    slog.Info("run", "invocation", inv.ID)
//	}
//
// # Configuration
//
// Extensions carry a config tree. Decode maps it into a struct with
// declarative tags; defaults, ${VAR:default} expansion and validation are
// handled by the framework:
//
//	type RouteConfig struct {
//	    Path    string        `yaml:"path" validate:"required"`
//	    Timeout time.Duration `yaml:"timeout" default:"30s" validate:"gte=1s"`
//	}
//
//	for _, ext := range p.QueryContext().QueryExtensions("org.example.web.routes") {
//	    var cfg RouteConfig
//	    if err := ext.Decode(&cfg); err != nil {
//	        return err
//	    }
//	}
//
// # State
//
// Save and restore handlers get a DataStore scoped to the plugin:
//
//	func save(ctx context.Context, p *plugin.Plugin, store *plugin.DataStore) {
//	    store.SetString("last_run", time.Now().Format(time.RFC3339))
//	}
package plugin
