package runtime

import (
	"strings"
	"testing"

	"pgregory.net/rapid"
)

func testExtension() *Extension {
	return NewExtension("routes", "Routes", "org.example.web.routes", ConfigsFromMap(map[string]any{
		"port": 8080,
		"tls":  false,
		"db": map[string]any{
			"host": "localhost",
			"user": "${GIMO_TEST_DB_USER:admin}",
		},
		"hosts": []any{"a", "b"},
	}))
}

func TestExtension_ConfigPath(t *testing.T) {
	ext := testExtension()

	tests := []struct {
		path  string
		want  string
		found bool
	}{
		{"port", "8080", true},
		{"tls", "false", true},
		{"db.host", "localhost", true},
		{"hosts.1", "b", true},
		{"db.missing", "", false},
		{"missing", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, ok := ext.ConfigValue(tt.path)
			if ok != tt.found {
				t.Fatalf("ConfigValue(%q) found=%v, want %v", tt.path, ok, tt.found)
			}
			if got != tt.want {
				t.Errorf("ConfigValue(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestExtension_ConfigsSorted(t *testing.T) {
	ext := testExtension()

	names := make([]string, len(ext.Configs))
	for i, c := range ext.Configs {
		names[i] = c.Name
	}
	if strings.Join(names, ",") != "db,hosts,port,tls" {
		t.Errorf("Expected sorted config names, got %v", names)
	}
}

func TestExtension_IDFollowsPlugin(t *testing.T) {
	ext := testExtension()
	if ext.ID() != "routes" {
		t.Errorf("Expected local id while detached, got %q", ext.ID())
	}

	ext.attach(NewPlugin(Descriptor{ID: "org.example.web"}))
	if ext.ID() != "org.example.web.routes" {
		t.Errorf("Expected full id once attached, got %q", ext.ID())
	}
}

func TestExtension_Decode(t *testing.T) {
	type dbConfig struct {
		Host string `yaml:"host" validate:"required"`
		User string `yaml:"user"`
	}
	type routesConfig struct {
		Port    int      `yaml:"port" validate:"gte=1"`
		TLS     bool     `yaml:"tls"`
		Retries int      `yaml:"retries" default:"3"`
		DB      dbConfig `yaml:"db"`
	}

	var cfg routesConfig
	if err := testExtension().Decode(&cfg); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("Expected port 8080, got %d", cfg.Port)
	}
	if cfg.Retries != 3 {
		t.Errorf("Expected default retries 3, got %d", cfg.Retries)
	}
	if cfg.DB.Host != "localhost" {
		t.Errorf("Expected db host localhost, got %q", cfg.DB.Host)
	}
	if cfg.DB.User != "admin" {
		t.Errorf("Expected env default admin, got %q", cfg.DB.User)
	}
}

func TestExtension_DecodeFromEnv(t *testing.T) {
	t.Setenv("GIMO_TEST_DB_USER", "svc")

	var cfg struct {
		DB struct {
			User string `yaml:"user"`
		} `yaml:"db"`
	}
	if err := testExtension().Decode(&cfg); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if cfg.DB.User != "svc" {
		t.Errorf("Expected user from env, got %q", cfg.DB.User)
	}
}

func TestExtension_CloneIsDetached(t *testing.T) {
	ext := testExtension()
	ext.attach(NewPlugin(Descriptor{ID: "org.example.web"}))

	c := ext.clone()
	if c.Plugin() != nil {
		t.Error("Expected clone to be detached")
	}
	c.Configs[0].Value = "changed"
	if ext.Configs[0].Value == "changed" {
		t.Error("Expected clone to copy the config tree")
	}
}

func TestParseExtensionID(t *testing.T) {
	pluginID, localID, err := ParseExtensionID("org.gimo.core.loader.module")
	if err != nil {
		t.Fatalf("ParseExtensionID failed: %v", err)
	}
	if pluginID != "org.gimo.core.loader" || localID != "module" {
		t.Errorf("got %q %q", pluginID, localID)
	}

	for _, id := range []string{"", "module", ".module", "org.gimo."} {
		if _, _, err := ParseExtensionID(id); CodeOf(err) != ErrorCodeInvalidID {
			t.Errorf("Expected INVALID_ID for %q, got %v", id, err)
		}
	}
}

func TestParseExtensionID_RoundTrip(t *testing.T) {
	segment := rapid.StringMatching(`[a-z][a-z0-9_-]{0,8}`)

	rapid.Check(t, func(t *rapid.T) {
		parts := rapid.SliceOfN(segment, 1, 4).Draw(t, "plugin")
		pluginID := strings.Join(parts, ".")
		localID := segment.Draw(t, "local")

		gotPlugin, gotLocal, err := ParseExtensionID(pluginID + "." + localID)
		if err != nil {
			t.Fatalf("ParseExtensionID failed: %v", err)
		}
		if gotPlugin != pluginID || gotLocal != localID {
			t.Fatalf("got %q %q, want %q %q", gotPlugin, gotLocal, pluginID, localID)
		}
	})
}
