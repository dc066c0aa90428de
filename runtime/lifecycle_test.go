package runtime_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/BDNK1/gimo/plugins/demo"
	"github.com/BDNK1/gimo/runtime"
	"github.com/BDNK1/gimo/runtime/archive/xml"
	"github.com/BDNK1/gimo/runtime/archive/yaml"
	"github.com/BDNK1/gimo/runtime/module/script"
)

const demoArchive = `version: "1.0"
plugins:
  - id: org.gimo.test.demo
    name: Demo
    version: "1.0"
    module: demo-plugin
    symbol: demo_plugin
`

const helloScript = `
func hello_plugin(plugin) {
  plugin.connect("start", "on_start")
  plugin.connect("stop", "on_stop")
  return plugin
}

func on_start(plugin) {
  plugin.bind_string("hello", plugin.id())
  return true
}

func on_stop(plugin) {
  plugin.bind_string("hello", "stopped")
}

func greeting() {
  return "hi"
}
`

const helloArchive = `version: "1.0"
plugins:
  - id: org.example.hello
    module: hello.risor
    symbol: hello_plugin
    requires:
      - plugin: org.gimo.core.risor.module
`

const webArchive = `<archive version="1.0">
  <plugin id="org.example.web" name="Web">
    <extpoint id="routes" name="Routes"/>
    <extension id="api" point="org.example.web.routes">
      <config name="port" value="8080"/>
      <config name="tls">
        <config name="cert" value="/etc/cert.pem"/>
      </config>
    </extension>
  </plugin>
</archive>
`

func newContext(t *testing.T) *runtime.Context {
	t.Helper()

	c, err := runtime.NewContext(context.Background(), runtime.Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewContext failed: %v", err)
	}
	t.Cleanup(func() {
		c.Destroy(context.Background())
	})
	return c
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

func TestNewContext_BuiltinsActive(t *testing.T) {
	c := newContext(t)

	for _, id := range []string{runtime.CoreLoaderID, yaml.PluginID, xml.PluginID, script.PluginID} {
		p, err := c.QueryPlugin(id)
		if err != nil {
			t.Fatalf("QueryPlugin(%s) failed: %v", id, err)
		}
		if p.State() != runtime.StateActive {
			t.Errorf("Expected %s ACTIVE, got %s", id, p.State())
		}
	}
}

func TestPlugin_IDAndContext(t *testing.T) {
	c := newContext(t)
	p := runtime.NewPlugin(runtime.Descriptor{ID: "org.gimo.test.id"})

	if p.ID() != "org.gimo.test.id" {
		t.Errorf("Expected id org.gimo.test.id, got %s", p.ID())
	}
	if err := c.InstallPlugin("", p); err != nil {
		t.Fatalf("InstallPlugin failed: %v", err)
	}
	if p.QueryContext() != c {
		t.Error("Expected QueryContext to return the installing context")
	}
}

func TestContext_ResolveModuleLoader(t *testing.T) {
	c := newContext(t)

	obj, err := c.ResolveExtPoint(context.Background(), "org.gimo.core.loader.module")
	if err != nil {
		t.Fatalf("ResolveExtPoint failed: %v", err)
	}
	if obj == nil {
		t.Fatal("Expected the module loader, got nil")
	}
}

func TestLoader_LoadScript(t *testing.T) {
	c := newContext(t)
	file := writeFile(t, t.TempDir(), "hello.risor", helloScript)

	loader, err := c.ResolveLoader(context.Background(), runtime.ModuleExtPointID)
	if err != nil {
		t.Fatalf("ResolveLoader failed: %v", err)
	}

	obj, err := loader.Load(context.Background(), file)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	m, ok := obj.(runtime.Module)
	if !ok {
		t.Fatalf("Expected a module, got %T", obj)
	}

	v, err := m.Resolve(context.Background(), "greeting", nil, true)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if v != "hi" {
		t.Errorf("Expected greeting hi, got %v", v)
	}
}

func TestModule_ResolveBuiltin(t *testing.T) {
	c := newContext(t)

	loader, err := c.ResolveLoader(context.Background(), runtime.ModuleExtPointID)
	if err != nil {
		t.Fatalf("ResolveLoader failed: %v", err)
	}
	obj, err := loader.Load(context.Background(), demo.ModuleName)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	m := obj.(runtime.Module)

	v, err := m.Resolve(context.Background(), "test_plugin_new", nil, true)
	if err != nil {
		t.Fatalf("Resolve(test_plugin_new) failed: %v", err)
	}
	if p, ok := v.(*runtime.Plugin); !ok || p.ID() != "org.gimo.test.plugin" {
		t.Errorf("Expected a test plugin, got %v", v)
	}

	v, err = m.Resolve(context.Background(), "test_plugin_new2", nil, false)
	if err != nil || v != nil {
		t.Errorf("Expected nil without error for a missing optional symbol, got %v (%v)", v, err)
	}

	if _, err := m.Resolve(context.Background(), "test_plugin_new2", nil, true); runtime.CodeOf(err) != runtime.ErrorCodeNoSymbol {
		t.Errorf("Expected NO_SYMBOL, got %v", err)
	}
}

func TestLifecycle_DemoPlugin(t *testing.T) {
	c := newContext(t)
	file := writeFile(t, t.TempDir(), "demo.yaml", demoArchive)

	n, plugins, err := c.LoadPlugin(context.Background(), file, false)
	if err != nil {
		t.Fatalf("LoadPlugin failed: %v", err)
	}
	if n != 1 || plugins[0].ID() != "org.gimo.test.demo" {
		t.Fatalf("Expected the demo plugin, got %d plugins", n)
	}
	p := plugins[0]

	if err := c.StartPlugins(context.Background(), p.ID()); err != nil {
		t.Fatalf("StartPlugins failed: %v", err)
	}
	if v, _ := c.LookupString("dl_start"); v != "dl_start" {
		t.Errorf("Expected dl_start binding, got %q", v)
	}
	obj, ok := c.LookupObject("dl_object")
	if !ok || obj.(*demo.Object).PluginID != p.ID() {
		t.Errorf("Expected dl_object for %s, got %v", p.ID(), obj)
	}

	c.RunPlugins(context.Background())
	if v, _ := c.LookupString("dl_run"); v != "dl_run" {
		t.Errorf("Expected dl_run binding, got %q", v)
	}

	p.Stop(context.Background())
	if v, _ := c.LookupString("dl_stop"); v != "dl_stop" {
		t.Errorf("Expected dl_stop binding, got %q", v)
	}
	if p.State() != runtime.StateResolved {
		t.Errorf("Expected RESOLVED after stop, got %s", p.State())
	}
}

func TestLifecycle_ScriptPlugin(t *testing.T) {
	c := newContext(t)
	dir := t.TempDir()
	writeFile(t, dir, "hello.risor", helloScript)
	file := writeFile(t, dir, "hello.yaml", helloArchive)

	if _, _, err := c.LoadPlugin(context.Background(), file, false); err != nil {
		t.Fatalf("LoadPlugin failed: %v", err)
	}
	if err := c.StartPlugins(context.Background(), "org.example.hello"); err != nil {
		t.Fatalf("StartPlugins failed: %v", err)
	}
	if v, _ := c.LookupString("hello"); v != "org.example.hello" {
		t.Errorf("Expected script start handler to bind hello, got %q", v)
	}

	if err := c.UninstallPlugin(context.Background(), "org.example.hello"); err != nil {
		t.Fatalf("UninstallPlugin failed: %v", err)
	}
	if v, _ := c.LookupString("hello"); v != "stopped" {
		t.Errorf("Expected script stop handler to run, got %q", v)
	}
}

func TestLoadPlugin_XMLExtensions(t *testing.T) {
	c := newContext(t)
	file := writeFile(t, t.TempDir(), "web.xml", webArchive)

	if _, _, err := c.LoadPlugin(context.Background(), file, false); err != nil {
		t.Fatalf("LoadPlugin failed: %v", err)
	}

	exts, err := c.SelectExtensions("org.example.web.routes", `config.port == 8080 && defined("tls.cert")`)
	if err != nil {
		t.Fatalf("SelectExtensions failed: %v", err)
	}
	if len(exts) != 1 || exts[0].ID() != "org.example.web.api" {
		t.Fatalf("Expected org.example.web.api, got %v", exts)
	}
	if v, _ := exts[0].ConfigValue("tls.cert"); v != "/etc/cert.pem" {
		t.Errorf("Expected nested cert config, got %q", v)
	}
}

func TestLoadPlugin_Directory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "plugins:\n  - id: org.example.a\n")
	writeFile(t, dir, "notes.txt", "not an archive")
	writeFile(t, dir, "sub/b.yml", "plugins:\n  - id: org.example.b\n")

	flat := newContext(t)
	n, _, err := flat.LoadPlugin(context.Background(), dir, false)
	if err != nil {
		t.Fatalf("LoadPlugin failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 plugin without recursion, got %d", n)
	}

	deep := newContext(t)
	n, _, err = deep.LoadPlugin(context.Background(), dir, true)
	if err != nil {
		t.Fatalf("LoadPlugin failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 plugins with recursion, got %d", n)
	}
}

func TestLoadPlugin_SearchPaths(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "plugins:\n  - id: org.example.a\n")

	c := newContext(t)
	if err := c.AddPaths(context.Background(), dir); err != nil {
		t.Fatalf("AddPaths failed: %v", err)
	}

	n, _, err := c.LoadPlugin(context.Background(), "a.yaml", false)
	if err != nil || n != 1 {
		t.Fatalf("Expected plugin from search path, got %d (%v)", n, err)
	}

	if _, _, err := c.LoadPlugin(context.Background(), "missing.yaml", false); runtime.CodeOf(err) != runtime.ErrorCodeNoFile {
		t.Errorf("Expected NO_FILE, got %v", err)
	}
}

func TestLoadPlugin_DuplicateSkipped(t *testing.T) {
	dir := t.TempDir()
	first := writeFile(t, dir, "a.yaml", "plugins:\n  - id: org.example.a\n")
	second := writeFile(t, dir, "again.yaml", "plugins:\n  - id: org.example.a\n")

	c := newContext(t)
	if n, _, _ := c.LoadPlugin(context.Background(), first, false); n != 1 {
		t.Fatalf("Expected first load to install 1 plugin, got %d", n)
	}
	if n, _, _ := c.LoadPlugin(context.Background(), second, false); n != 0 {
		t.Errorf("Expected duplicate plugin to be skipped, got %d", n)
	}
}
