package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const webArchive = `<archive version="1.0">
  <plugin id="org.example.web" name="Web">
    <extpoint id="routes" name="Routes"/>
    <extension id="api" point="org.example.web.routes">
      <config name="port" value="8080"/>
    </extension>
    <extension id="docs" point="org.example.web.routes">
      <config name="port" value="7070"/>
    </extension>
  </plugin>
</archive>
`

func writeArchive(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "web.xml")
	if err := os.WriteFile(path, []byte(webArchive), 0o644); err != nil {
		t.Fatalf("Failed to write archive: %v", err)
	}
	return path
}

func execute(t *testing.T, args ...string) string {
	t.Helper()

	t.Cleanup(func() {
		pointID, where = "", ""
		statePath, serveAddr = "", ""
		starts, silent = nil, false
		rootCmd.SetArgs(nil)
	})

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(args)

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("Execute %v failed: %v", args, err)
	}
	return out.String()
}

func TestInspect_ListsPlugins(t *testing.T) {
	out := execute(t, "inspect", writeArchive(t))

	for _, want := range []string{"org.example.web", "name:     Web", "extpoint: org.example.web.routes", "port = 8080", "port = 7070"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected output to contain %q, got:\n%s", want, out)
		}
	}
}

func TestInspect_PointWithFilter(t *testing.T) {
	out := execute(t, "inspect", writeArchive(t), "--point", "org.example.web.routes", "--where", "config.port > 8000")

	if !strings.Contains(out, "(1 extensions)") {
		t.Errorf("Expected one matching extension, got:\n%s", out)
	}
	if strings.Contains(out, "7070") {
		t.Errorf("Expected docs extension to be filtered out, got:\n%s", out)
	}
}

func TestInspect_WhereRequiresPoint(t *testing.T) {
	t.Cleanup(func() {
		where = ""
		rootCmd.SetArgs(nil)
	})

	rootCmd.SetOut(&bytes.Buffer{})
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs([]string{"inspect", "--where", "true"})

	if err := rootCmd.Execute(); err == nil {
		t.Fatal("Expected error for --where without --point")
	}
}

func TestLaunch_SavesState(t *testing.T) {
	state := filepath.Join(t.TempDir(), "state.json")

	out := execute(t, writeArchive(t), "--state", state)

	if !strings.Contains(out, "plugins") || !strings.Contains(out, "org.example.web") {
		t.Errorf("Expected summary with the web plugin, got:\n%s", out)
	}
	if _, err := os.Stat(state); err != nil {
		t.Errorf("Expected state file to be written: %v", err)
	}
}
