// Package yaml reads and writes plugin archives in YAML.
//
//	version: "1.0"
//	plugins:
//	  - id: org.example.hello
//	    module: hello.risor
//	    symbol: hello_plugin
//	    requires:
//	      - plugin: org.example.base
//	    extpoints:
//	      - id: greeting
//	    extensions:
//	      - id: english
//	        point: org.example.hello.greeting
//	        config:
//	          text: hello
//
// Importing the package registers a built-in plugin that adds the yaml and
// yml suffixes to the archive loader of every new Context.
package yaml

import (
	"context"
	"fmt"
	"os"

	"github.com/BDNK1/gimo/runtime"
	goyaml "gopkg.in/yaml.v3"
)

const (
	PluginID   = "org.gimo.core.yaml.archive"
	ModuleName = "gimo-yaml-archive"
	Symbol     = "yaml_archive_plugin"
)

var suffixes = []string{"yaml", "yml"}

// Document is the on-disk layout of a YAML archive.
type Document struct {
	Version string      `yaml:"version" default:"1.0"`
	Plugins []PluginDoc `yaml:"plugins" validate:"dive"`
}

type PluginDoc struct {
	ID         string            `yaml:"id" validate:"required,plugin_id"`
	Name       string            `yaml:"name,omitempty"`
	Version    string            `yaml:"version,omitempty"`
	Provider   string            `yaml:"provider,omitempty"`
	Path       string            `yaml:"path,omitempty"`
	Module     string            `yaml:"module,omitempty"`
	Symbol     string            `yaml:"symbol,omitempty"`
	Requires   []runtime.Require `yaml:"requires,omitempty"`
	ExtPoints  []ExtPointDoc     `yaml:"extpoints,omitempty" validate:"dive"`
	Extensions []ExtensionDoc    `yaml:"extensions,omitempty" validate:"dive"`
}

type ExtPointDoc struct {
	ID   string `yaml:"id" validate:"required"`
	Name string `yaml:"name,omitempty"`
}

type ExtensionDoc struct {
	ID     string         `yaml:"id" validate:"required"`
	Name   string         `yaml:"name,omitempty"`
	Point  string         `yaml:"point" validate:"required"`
	Config map[string]any `yaml:"config,omitempty"`
}

// Archive is a runtime.Archive backed by a YAML file.
type Archive struct {
	runtime.ObjectArchive
	file string
}

// New is the archive loader factory.
func New() runtime.Loadable {
	return &Archive{}
}

func (a *Archive) File() string { return a.file }

// Load parses file and adds one *runtime.Plugin per entry.
func (a *Archive) Load(ctx context.Context, file string) error {
	data, err := os.ReadFile(file)
	if err != nil {
		return runtime.WrapError(runtime.ErrorCodeNoFile, err, "read archive %q", file)
	}
	if err := a.Decode(data); err != nil {
		return runtime.WrapError(runtime.ErrorCodeInvalidFile, err, "parse archive %q", file)
	}
	a.file = file
	return nil
}

// Decode adds the plugins described by data to the archive.
func (a *Archive) Decode(data []byte) error {
	var doc Document
	if err := goyaml.Unmarshal(data, &doc); err != nil {
		return err
	}
	if err := runtime.PrepareConfig(&doc); err != nil {
		return err
	}

	for _, pd := range doc.Plugins {
		p := runtime.NewPlugin(pd.descriptor())
		if !a.AddObject(p.ID(), p) {
			return runtime.NewError(runtime.ErrorCodeConflict, "duplicate plugin %q", p.ID())
		}
	}
	return nil
}

func (a *Archive) Unload() error {
	a.Clear()
	return nil
}

// Save writes the plugins held by the archive to file.
func (a *Archive) Save(file string) error {
	data, err := a.Encode()
	if err != nil {
		return err
	}
	if err := os.WriteFile(file, data, 0o644); err != nil {
		return fmt.Errorf("failed to write archive %q: %w", file, err)
	}
	return nil
}

// Encode renders the archive as YAML.
func (a *Archive) Encode() ([]byte, error) {
	doc := Document{Version: "1.0"}
	for _, p := range a.Plugins() {
		doc.Plugins = append(doc.Plugins, pluginDoc(p.Descriptor()))
	}
	return goyaml.Marshal(&doc)
}

func (pd PluginDoc) descriptor() runtime.Descriptor {
	d := runtime.Descriptor{
		ID:       pd.ID,
		Name:     pd.Name,
		Version:  pd.Version,
		Provider: pd.Provider,
		Path:     pd.Path,
		Module:   pd.Module,
		Symbol:   pd.Symbol,
		Requires: pd.Requires,
	}
	for _, ep := range pd.ExtPoints {
		d.ExtPoints = append(d.ExtPoints, runtime.NewExtPoint(ep.ID, ep.Name))
	}
	for _, ext := range pd.Extensions {
		d.Extensions = append(d.Extensions,
			runtime.NewExtension(ext.ID, ext.Name, ext.Point, runtime.ConfigsFromMap(ext.Config)))
	}
	return d
}

func pluginDoc(d runtime.Descriptor) PluginDoc {
	pd := PluginDoc{
		ID:       d.ID,
		Name:     d.Name,
		Version:  d.Version,
		Provider: d.Provider,
		Path:     d.Path,
		Module:   d.Module,
		Symbol:   d.Symbol,
		Requires: d.Requires,
	}
	for _, ep := range d.ExtPoints {
		pd.ExtPoints = append(pd.ExtPoints, ExtPointDoc{ID: ep.LocalID, Name: ep.Name})
	}
	for _, ext := range d.Extensions {
		doc := ExtensionDoc{ID: ext.LocalID, Name: ext.Name, Point: ext.ExtPointID}
		if len(ext.Configs) > 0 {
			doc.Config = ext.ConfigMap()
		}
		pd.Extensions = append(pd.Extensions, doc)
	}
	return pd
}

func init() {
	runtime.RegisterModule(ModuleName, runtime.Exports{
		Symbol: runtime.FuncExport(runtime.ArchivePluginEntry(New, suffixes...)),
	})
	runtime.RegisterBuiltinPlugin(runtime.Descriptor{
		ID:       PluginID,
		Name:     "YAML Archive",
		Version:  "1.0",
		Provider: "gimoapp.com",
		Module:   ModuleName,
		Symbol:   Symbol,
		Requires: []runtime.Require{{PluginID: runtime.CoreLoaderID}},
	})
}
