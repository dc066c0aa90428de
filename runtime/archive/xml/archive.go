// Package xml reads and writes plugin archives in XML.
//
//	<archive version="1.0">
//	  <plugin id="org.example.hello" module="hello.risor" symbol="hello_plugin">
//	    <require plugin="org.example.base" optional="true"/>
//	    <extpoint id="greeting" name="Greetings"/>
//	    <extension id="english" point="org.example.hello.greeting">
//	      <config name="text" value="hello"/>
//	    </extension>
//	  </plugin>
//	</archive>
package xml

import (
	"context"
	"encoding/xml"
	"fmt"
	"os"

	"github.com/BDNK1/gimo/runtime"
)

const (
	PluginID   = "org.gimo.core.xml.archive"
	ModuleName = "gimo-xml-archive"
	Symbol     = "xml_archive_plugin"
)

type Document struct {
	XMLName xml.Name    `xml:"archive"`
	Version string      `xml:"version,attr" default:"1.0"`
	Plugins []PluginDoc `xml:"plugin" validate:"dive"`
}

type PluginDoc struct {
	ID         string         `xml:"id,attr" validate:"required,plugin_id"`
	Name       string         `xml:"name,attr,omitempty"`
	Version    string         `xml:"version,attr,omitempty"`
	Provider   string         `xml:"provider,attr,omitempty"`
	Path       string         `xml:"path,attr,omitempty"`
	Module     string         `xml:"module,attr,omitempty"`
	Symbol     string         `xml:"symbol,attr,omitempty"`
	Requires   []RequireDoc   `xml:"require" validate:"dive"`
	ExtPoints  []ExtPointDoc  `xml:"extpoint" validate:"dive"`
	Extensions []ExtensionDoc `xml:"extension" validate:"dive"`
}

type RequireDoc struct {
	Plugin   string `xml:"plugin,attr" validate:"required"`
	Version  string `xml:"version,attr,omitempty"`
	Optional bool   `xml:"optional,attr,omitempty"`
}

type ExtPointDoc struct {
	ID   string `xml:"id,attr" validate:"required"`
	Name string `xml:"name,attr,omitempty"`
}

type ExtensionDoc struct {
	ID      string      `xml:"id,attr" validate:"required"`
	Name    string      `xml:"name,attr,omitempty"`
	Point   string      `xml:"point,attr" validate:"required"`
	Configs []ConfigDoc `xml:"config"`
}

type ConfigDoc struct {
	Name    string      `xml:"name,attr"`
	Value   string      `xml:"value,attr,omitempty"`
	Configs []ConfigDoc `xml:"config"`
}

// Archive is a runtime.Archive backed by an XML file.
type Archive struct {
	runtime.ObjectArchive
	file string
}

func New() runtime.Loadable {
	return &Archive{}
}

func (a *Archive) File() string { return a.file }

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

func (a *Archive) Decode(data []byte) error {
	var doc Document
	if err := xml.Unmarshal(data, &doc); err != nil {
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

func (a *Archive) Encode() ([]byte, error) {
	doc := Document{Version: "1.0"}
	for _, p := range a.Plugins() {
		doc.Plugins = append(doc.Plugins, pluginDoc(p.Descriptor()))
	}

	data, err := xml.MarshalIndent(&doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), data...), nil
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
	}
	for _, r := range pd.Requires {
		d.Requires = append(d.Requires, runtime.Require{
			PluginID: r.Plugin,
			Version:  r.Version,
			Optional: r.Optional,
		})
	}
	for _, ep := range pd.ExtPoints {
		d.ExtPoints = append(d.ExtPoints, runtime.NewExtPoint(ep.ID, ep.Name))
	}
	for _, ext := range pd.Extensions {
		d.Extensions = append(d.Extensions,
			runtime.NewExtension(ext.ID, ext.Name, ext.Point, extConfigs(ext.Configs)))
	}
	return d
}

func extConfigs(docs []ConfigDoc) []*runtime.ExtConfig {
	configs := make([]*runtime.ExtConfig, 0, len(docs))
	for _, c := range docs {
		configs = append(configs, runtime.NewExtConfig(c.Name, c.Value, extConfigs(c.Configs)))
	}
	return configs
}

func configDocs(configs []*runtime.ExtConfig) []ConfigDoc {
	docs := make([]ConfigDoc, 0, len(configs))
	for _, c := range configs {
		docs = append(docs, ConfigDoc{Name: c.Name, Value: c.Value, Configs: configDocs(c.Configs)})
	}
	return docs
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
	}
	for _, r := range d.Requires {
		pd.Requires = append(pd.Requires, RequireDoc{Plugin: r.PluginID, Version: r.Version, Optional: r.Optional})
	}
	for _, ep := range d.ExtPoints {
		pd.ExtPoints = append(pd.ExtPoints, ExtPointDoc{ID: ep.LocalID, Name: ep.Name})
	}
	for _, ext := range d.Extensions {
		pd.Extensions = append(pd.Extensions, ExtensionDoc{
			ID:      ext.LocalID,
			Name:    ext.Name,
			Point:   ext.ExtPointID,
			Configs: configDocs(ext.Configs),
		})
	}
	return pd
}

func init() {
	runtime.RegisterModule(ModuleName, runtime.Exports{
		Symbol: runtime.FuncExport(runtime.ArchivePluginEntry(New, "xml")),
	})
	runtime.RegisterBuiltinPlugin(runtime.Descriptor{
		ID:       PluginID,
		Name:     "XML Archive",
		Version:  "1.0",
		Provider: "gimoapp.com",
		Module:   ModuleName,
		Symbol:   Symbol,
		Requires: []runtime.Require{{PluginID: runtime.CoreLoaderID}},
	})
}
