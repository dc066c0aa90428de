package runtime

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Require declares a dependency on another plugin.
type Require struct {
	PluginID string `yaml:"plugin" json:"plugin"`
	Version  string `yaml:"version,omitempty" json:"version,omitempty"`
	Optional bool   `yaml:"optional,omitempty" json:"optional,omitempty"`
}

// ExtPoint is a named contract published by a plugin.
// Its full id is "<plugin id>.<local id>" once attached to a plugin.
type ExtPoint struct {
	LocalID string
	Name    string

	mu     sync.RWMutex
	plugin *Plugin
}

func NewExtPoint(localID, name string) *ExtPoint {
	return &ExtPoint{LocalID: localID, Name: name}
}

// ID returns the full extension point id, or the local id when detached.
func (e *ExtPoint) ID() string {
	if p := e.Plugin(); p != nil {
		return p.ID() + "." + e.LocalID
	}
	return e.LocalID
}

// Plugin returns the owning plugin, nil after teardown.
func (e *ExtPoint) Plugin() *Plugin {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.plugin
}

func (e *ExtPoint) attach(p *Plugin) {
	e.mu.Lock()
	e.plugin = p
	e.mu.Unlock()
}

func (e *ExtPoint) clone() *ExtPoint {
	return NewExtPoint(e.LocalID, e.Name)
}

// Extension contributes configuration to an extension point.
type Extension struct {
	LocalID    string
	Name       string
	ExtPointID string
	Configs    []*ExtConfig

	mu     sync.RWMutex
	plugin *Plugin
}

func NewExtension(localID, name, extPointID string, configs []*ExtConfig) *Extension {
	ext := &Extension{
		LocalID:    localID,
		Name:       name,
		ExtPointID: extPointID,
		Configs:    configs,
	}
	sortConfigs(ext.Configs)
	return ext
}

// ID returns the full extension id, or the local id when detached.
func (e *Extension) ID() string {
	if p := e.Plugin(); p != nil {
		return p.ID() + "." + e.LocalID
	}
	return e.LocalID
}

// Plugin returns the owning plugin, nil after teardown.
func (e *Extension) Plugin() *Plugin {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.plugin
}

func (e *Extension) attach(p *Plugin) {
	e.mu.Lock()
	e.plugin = p
	e.mu.Unlock()
}

func (e *Extension) clone() *Extension {
	configs := make([]*ExtConfig, len(e.Configs))
	for i, c := range e.Configs {
		configs[i] = c.clone()
	}
	return NewExtension(e.LocalID, e.Name, e.ExtPointID, configs)
}

// Config walks a dotted path ("a.b.c") through the config tree.
func (e *Extension) Config(path string) *ExtConfig {
	if path == "" {
		return nil
	}
	configs := e.Configs
	var found *ExtConfig
	for _, name := range strings.Split(path, ".") {
		found = findConfig(configs, name)
		if found == nil {
			return nil
		}
		configs = found.Configs
	}
	return found
}

// ConfigValue returns the value at path and whether it exists.
func (e *Extension) ConfigValue(path string) (string, bool) {
	c := e.Config(path)
	if c == nil {
		return "", false
	}
	return c.Value, true
}

// ConfigMap converts the config tree to nested maps.
// Leaves are strings; nodes with children become map[string]any.
func (e *Extension) ConfigMap() map[string]any {
	return configsToMap(e.Configs)
}

// Decode maps the extension config into target, a pointer to a struct
// using yaml tags. Defaults and validation tags are applied, and
// ${VAR} / ${VAR:default} values are read from the environment.
func (e *Extension) Decode(target any) error {
	raw, err := ExpandEnvValues(e.ConfigMap())
	if err != nil {
		return fmt.Errorf("extension %s: %w", e.ID(), err)
	}
	if err := InitializeConfig(target, raw); err != nil {
		return fmt.Errorf("extension %s: %w", e.ID(), err)
	}
	return nil
}

// ExtConfig is one node of an extension's configuration tree.
type ExtConfig struct {
	Name    string
	Value   string
	Configs []*ExtConfig
}

func NewExtConfig(name, value string, configs []*ExtConfig) *ExtConfig {
	c := &ExtConfig{Name: name, Value: value, Configs: configs}
	sortConfigs(c.Configs)
	return c
}

// Config returns the direct child with the given name.
func (c *ExtConfig) Config(name string) *ExtConfig {
	return findConfig(c.Configs, name)
}

func (c *ExtConfig) clone() *ExtConfig {
	children := make([]*ExtConfig, len(c.Configs))
	for i, child := range c.Configs {
		children[i] = child.clone()
	}
	return &ExtConfig{Name: c.Name, Value: c.Value, Configs: children}
}

// ConfigsFromMap builds a sorted config tree from decoded YAML/JSON data.
// Slices become children named by index.
func ConfigsFromMap(m map[string]any) []*ExtConfig {
	configs := make([]*ExtConfig, 0, len(m))
	for name, value := range m {
		configs = append(configs, configFromValue(name, value))
	}
	sortConfigs(configs)
	return configs
}

func configFromValue(name string, value any) *ExtConfig {
	switch v := value.(type) {
	case map[string]any:
		return &ExtConfig{Name: name, Configs: ConfigsFromMap(v)}
	case []any:
		children := make([]*ExtConfig, len(v))
		for i, item := range v {
			children[i] = configFromValue(fmt.Sprintf("%d", i), item)
		}
		sortConfigs(children)
		return &ExtConfig{Name: name, Configs: children}
	case nil:
		return &ExtConfig{Name: name}
	default:
		return &ExtConfig{Name: name, Value: fmt.Sprint(v)}
	}
}

func configsToMap(configs []*ExtConfig) map[string]any {
	m := make(map[string]any, len(configs))
	for _, c := range configs {
		if len(c.Configs) > 0 {
			m[c.Name] = configsToMap(c.Configs)
		} else {
			m[c.Name] = c.Value
		}
	}
	return m
}

func sortConfigs(configs []*ExtConfig) {
	sort.SliceStable(configs, func(i, j int) bool {
		return configs[i].Name < configs[j].Name
	})
}

func findConfig(configs []*ExtConfig, name string) *ExtConfig {
	i := sort.Search(len(configs), func(i int) bool {
		return configs[i].Name >= name
	})
	if i < len(configs) && configs[i].Name == name {
		return configs[i]
	}
	return nil
}

// ParseExtensionID splits a full id at its last dot into plugin id and local id.
//
//	ParseExtensionID("org.gimo.core.loader.module") -> "org.gimo.core.loader", "module"
func ParseExtensionID(id string) (pluginID, localID string, err error) {
	i := strings.LastIndexByte(id, '.')
	if i <= 0 || i == len(id)-1 {
		return "", "", NewError(ErrorCodeInvalidID, "invalid extension id %q", id)
	}
	return id[:i], id[i+1:], nil
}
