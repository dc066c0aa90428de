package runtime

import (
	"testing"
)

func installRoutes(t *testing.T, c *Context) {
	t.Helper()

	installPlugin(t, c, Descriptor{
		ID:        "org.example.web",
		ExtPoints: []*ExtPoint{NewExtPoint("routes", "Routes")},
	})
	installPlugin(t, c, Descriptor{
		ID: "org.example.api",
		Extensions: []*Extension{
			NewExtension("public", "Public API", "org.example.web.routes", ConfigsFromMap(map[string]any{
				"port": 8080,
				"tls":  map[string]any{"cert": "/etc/cert.pem"},
			})),
			NewExtension("admin", "Admin API", "org.example.web.routes", ConfigsFromMap(map[string]any{
				"port": 9090,
			})),
		},
	})
	installPlugin(t, c, Descriptor{
		ID: "org.example.docs",
		Extensions: []*Extension{
			NewExtension("docs", "Docs", "org.example.web.routes", ConfigsFromMap(map[string]any{
				"port": 7070,
			})),
		},
	})
}

func TestSelectExtensions(t *testing.T) {
	c := newTestContext(t)
	installRoutes(t, c)

	tests := []struct {
		name       string
		expression string
		want       []string
	}{
		{"empty matches all", "", []string{"org.example.api.admin", "org.example.api.public", "org.example.docs.docs"}},
		{"numeric config", "config.port > 8000", []string{"org.example.api.admin", "org.example.api.public"}},
		{"by plugin", `plugin == "org.example.docs"`, []string{"org.example.docs.docs"}},
		{"by name", `name startsWith "Admin"`, []string{"org.example.api.admin"}},
		{"defined path", `defined("tls.cert")`, []string{"org.example.api.public"}},
		{"nothing", `id == "none"`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exts, err := c.SelectExtensions("org.example.web.routes", tt.expression)
			if err != nil {
				t.Fatalf("SelectExtensions failed: %v", err)
			}
			if len(exts) != len(tt.want) {
				t.Fatalf("Expected %d extensions, got %d", len(tt.want), len(exts))
			}
			for i, ext := range exts {
				if ext.ID() != tt.want[i] {
					t.Errorf("Extension %d: got %s, want %s", i, ext.ID(), tt.want[i])
				}
			}
		})
	}
}

func TestCompileSelector_Invalid(t *testing.T) {
	for _, expression := range []string{"config.port >", `"not a bool"`} {
		if _, err := CompileSelector(expression); CodeOf(err) != ErrorCodeInvalidObject {
			t.Errorf("CompileSelector(%q): expected INVALID_OBJECT, got %v", expression, err)
		}
	}
}

func TestSelector_Match(t *testing.T) {
	sel, err := CompileSelector(`extpoint == "org.example.web.routes" && config.enabled`)
	if err != nil {
		t.Fatalf("CompileSelector failed: %v", err)
	}
	if sel.String() != `extpoint == "org.example.web.routes" && config.enabled` {
		t.Errorf("Unexpected source %q", sel.String())
	}

	on := NewExtension("on", "", "org.example.web.routes", ConfigsFromMap(map[string]any{"enabled": true}))
	off := NewExtension("off", "", "org.example.web.routes", ConfigsFromMap(map[string]any{"enabled": false}))

	if ok, err := sel.Match(on); err != nil || !ok {
		t.Errorf("Expected match for enabled extension, got %v (%v)", ok, err)
	}
	if ok, err := sel.Match(off); err != nil || ok {
		t.Errorf("Expected no match for disabled extension, got %v (%v)", ok, err)
	}
}
