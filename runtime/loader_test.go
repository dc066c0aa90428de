package runtime

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

type fakeLoadable struct {
	kind     string
	file     string
	unloaded bool
	fail     bool
}

func (f *fakeLoadable) Load(ctx context.Context, file string) error {
	if f.fail {
		return errors.New("cannot load")
	}
	if _, err := os.Stat(file); err != nil {
		return err
	}
	f.file = file
	return nil
}

func (f *fakeLoadable) Unload() error {
	f.unloaded = true
	return nil
}

func fakeFactory(kind string) Factory {
	return func() Loadable { return &fakeLoadable{kind: kind} }
}

func writeFile(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

func TestLoader_RegisterSuffix(t *testing.T) {
	l := NewLoader()

	if !l.Register("yaml", fakeFactory("yaml")) {
		t.Fatal("Expected first registration to succeed")
	}
	if l.Register("yaml", fakeFactory("other")) {
		t.Error("Expected duplicate suffix to be rejected")
	}
	if l.Register("xml", nil) {
		t.Error("Expected nil factory to be rejected")
	}
	if !l.Unregister("yaml") {
		t.Error("Expected Unregister to find yaml")
	}
	if l.Unregister("yaml") {
		t.Error("Expected second Unregister to report false")
	}
}

func TestLoader_SuffixBeforeFallback(t *testing.T) {
	dir := t.TempDir()
	file := writeFile(t, dir, "plugin.yaml")

	l := NewLoader()
	l.Register("", fakeFactory("fallback"))
	l.Register("yaml", fakeFactory("yaml"))

	obj, err := l.Load(context.Background(), file)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := obj.(*fakeLoadable).kind; got != "yaml" {
		t.Errorf("Expected suffix factory to win, got %s", got)
	}

	other := writeFile(t, dir, "module.so")
	obj, err = l.Load(context.Background(), other)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := obj.(*fakeLoadable).kind; got != "fallback" {
		t.Errorf("Expected fallback factory for unknown suffix, got %s", got)
	}
}

func TestLoader_NoFactory(t *testing.T) {
	_, err := NewLoader().Load(context.Background(), "plugin.yaml")
	if CodeOf(err) != ErrorCodeNoFactory {
		t.Fatalf("Expected NO_FACTORY, got %v", err)
	}
}

func TestLoader_EmptyName(t *testing.T) {
	l := NewLoader()
	l.Register("", fakeFactory("fallback"))

	if _, err := l.Load(context.Background(), ""); CodeOf(err) != ErrorCodeNoFile {
		t.Fatalf("Expected NO_FILE, got %v", err)
	}
}

func TestLoader_SearchPaths(t *testing.T) {
	first := t.TempDir()
	second := t.TempDir()
	writeFile(t, first, "plugin.yaml")
	writeFile(t, second, "plugin.yaml")

	l := NewLoader()
	l.Register("yaml", fakeFactory("yaml"))
	l.AddPaths(first + string(os.PathListSeparator) + second)

	paths := l.Paths()
	if len(paths) != 2 || paths[0] != second {
		t.Fatalf("Expected most recently added path first, got %v", paths)
	}

	obj, err := l.Load(context.Background(), "plugin.yaml")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := obj.(*fakeLoadable).file; got != filepath.Join(second, "plugin.yaml") {
		t.Errorf("Expected load from %s, got %s", second, got)
	}

	l.RemovePaths(second)
	obj, err = l.Load(context.Background(), "plugin.yaml")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := obj.(*fakeLoadable).file; got != filepath.Join(first, "plugin.yaml") {
		t.Errorf("Expected load from %s after removal, got %s", first, got)
	}
}

func TestLoader_AllFactoriesFail(t *testing.T) {
	l := NewLoader()
	l.Register("", func() Loadable { return &fakeLoadable{fail: true} })

	_, err := l.Load(context.Background(), "module")
	if CodeOf(err) != ErrorCodeNoFile {
		t.Fatalf("Expected NO_FILE, got %v", err)
	}
}

func TestLoader_CanceledContext(t *testing.T) {
	l := NewLoader()
	l.Register("", fakeFactory("fallback"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := l.Load(ctx, "module"); !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
}

func TestCachedLoader(t *testing.T) {
	file := writeFile(t, t.TempDir(), "module.so")

	l := NewCachedLoader()
	l.Register("", fakeFactory("fallback"))

	first, err := l.Load(context.Background(), file)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	second, err := l.Load(context.Background(), file)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if first != second {
		t.Error("Expected cached loader to return the same object")
	}
	if len(l.Cached()) != 1 {
		t.Errorf("Expected 1 cached object, got %d", len(l.Cached()))
	}

	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !first.(*fakeLoadable).unloaded {
		t.Error("Expected Close to unload cached objects")
	}
	if len(l.Cached()) != 0 {
		t.Error("Expected empty cache after Close")
	}
}

func TestUncachedLoader(t *testing.T) {
	file := writeFile(t, t.TempDir(), "module.so")

	l := NewLoader()
	l.Register("", fakeFactory("fallback"))

	first, _ := l.Load(context.Background(), file)
	second, _ := l.Load(context.Background(), file)
	if first == second {
		t.Error("Expected uncached loader to produce a fresh object")
	}
}

func TestFileSuffix(t *testing.T) {
	tests := map[string]string{
		"plugin.yaml":       "yaml",
		"/a/b.c/plugin.xml": "xml",
		"/a/b.c/module":     "",
		"archive.tar.gz":    "gz",
		"script.risor":      "risor",
	}
	for file, want := range tests {
		if got := fileSuffix(file); got != want {
			t.Errorf("fileSuffix(%q) = %q, want %q", file, got, want)
		}
	}
}

func TestBuiltinModule(t *testing.T) {
	m := NewBuiltinModule().(*BuiltinModule)

	if _, err := m.Resolve(context.Background(), "answer", nil, false); CodeOf(err) != ErrorCodeInvalidState {
		t.Errorf("Expected INVALID_STATE before Load, got %v", err)
	}
	if err := m.Load(context.Background(), "no-such-module"); CodeOf(err) != ErrorCodeNoFile {
		t.Fatalf("Expected NO_FILE for unknown module, got %v", err)
	}
	if err := m.Load(context.Background(), testModuleName); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	v, err := m.Resolve(context.Background(), "answer", nil, true)
	if err != nil || v != 42 {
		t.Errorf("Expected answer=42, got %v (%v)", v, err)
	}

	v, err = m.Resolve(context.Background(), "missing", nil, false)
	if err != nil || v != nil {
		t.Errorf("Expected nil without error for optional lookup, got %v (%v)", v, err)
	}

	if _, err := m.Resolve(context.Background(), "missing", nil, true); CodeOf(err) != ErrorCodeNoSymbol {
		t.Errorf("Expected NO_SYMBOL, got %v", err)
	}
}
