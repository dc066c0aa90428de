// Package admin serves a small HTTP API over a running plugin Context.
package admin

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/BDNK1/gimo/runtime"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PluginView is the JSON form of a plugin.
type PluginView struct {
	ID         string            `json:"id"`
	Name       string            `json:"name,omitempty"`
	Version    string            `json:"version,omitempty"`
	Provider   string            `json:"provider,omitempty"`
	Path       string            `json:"path,omitempty"`
	Module     string            `json:"module,omitempty"`
	State      string            `json:"state"`
	Requires   []runtime.Require `json:"requires,omitempty"`
	ExtPoints  []string          `json:"extpoints,omitempty"`
	Extensions []ExtensionView   `json:"extensions,omitempty"`
}

// ExtensionView is the JSON form of an extension.
type ExtensionView struct {
	ID       string         `json:"id"`
	Name     string         `json:"name,omitempty"`
	ExtPoint string         `json:"extpoint"`
	Config   map[string]any `json:"config,omitempty"`
}

func NewPluginView(p *runtime.Plugin) PluginView {
	v := PluginView{
		ID:       p.ID(),
		Name:     p.Name(),
		Version:  p.Version(),
		Provider: p.Provider(),
		Path:     p.Path(),
		Module:   p.ModuleName(),
		State:    p.State().String(),
		Requires: p.Requires(),
	}
	for _, ep := range p.ExtPoints() {
		v.ExtPoints = append(v.ExtPoints, ep.ID())
	}
	for _, ext := range p.Extensions() {
		v.Extensions = append(v.Extensions, NewExtensionView(ext))
	}
	return v
}

func NewExtensionView(ext *runtime.Extension) ExtensionView {
	return ExtensionView{
		ID:       ext.ID(),
		Name:     ext.Name,
		ExtPoint: ext.ExtPointID,
		Config:   ext.ConfigMap(),
	}
}

// Register mounts the admin routes on g.
//
//	GET  /plugins
//	GET  /plugins/:id
//	POST /plugins/:id/start
//	POST /plugins/:id/stop
//	GET  /extpoints/:id/extensions?where=<expr>
//	GET  /metrics
func Register(g gin.IRouter, c *runtime.Context) {
	g.GET("/plugins", listPlugins(c))
	g.GET("/plugins/:id", getPlugin(c))
	g.POST("/plugins/:id/start", startPlugin(c))
	g.POST("/plugins/:id/stop", stopPlugin(c))
	g.GET("/extpoints/:id/extensions", listExtensions(c))
	g.GET("/metrics", gin.WrapH(promhttp.HandlerFor(c.Metrics().Registry(), promhttp.HandlerOpts{})))
}

// NewEngine returns a gin engine in release mode with the admin routes.
func NewEngine(c *runtime.Context) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	g := gin.New()
	g.Use(gin.Recovery())
	Register(g, c)
	return g
}

func listPlugins(c *runtime.Context) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		plugins := c.QueryPlugins()
		views := make([]PluginView, 0, len(plugins))
		for _, p := range plugins {
			views = append(views, NewPluginView(p))
		}
		ctx.JSON(http.StatusOK, views)
	}
}

func getPlugin(c *runtime.Context) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		p, err := c.QueryPlugin(ctx.Param("id"))
		if err != nil {
			writeError(ctx, err)
			return
		}
		ctx.JSON(http.StatusOK, NewPluginView(p))
	}
}

func startPlugin(c *runtime.Context) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		p, err := c.QueryPlugin(ctx.Param("id"))
		if err != nil {
			writeError(ctx, err)
			return
		}
		if err := p.Start(ctx.Request.Context()); err != nil {
			slog.Error("Admin start failed",
				"plugin", p.ID(),
				"error", err)
			writeError(ctx, err)
			return
		}
		ctx.JSON(http.StatusOK, NewPluginView(p))
	}
}

func stopPlugin(c *runtime.Context) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		p, err := c.QueryPlugin(ctx.Param("id"))
		if err != nil {
			writeError(ctx, err)
			return
		}
		p.Stop(ctx.Request.Context())
		ctx.JSON(http.StatusOK, NewPluginView(p))
	}
}

func listExtensions(c *runtime.Context) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		id := ctx.Param("id")
		if _, err := c.QueryExtPoint(id); err != nil {
			writeError(ctx, err)
			return
		}

		exts, err := c.SelectExtensions(id, ctx.Query("where"))
		if err != nil {
			writeError(ctx, err)
			return
		}

		views := make([]ExtensionView, 0, len(exts))
		for _, ext := range exts {
			views = append(views, NewExtensionView(ext))
		}
		ctx.JSON(http.StatusOK, views)
	}
}

func writeError(ctx *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, runtime.ErrNoPlugin), errors.Is(err, runtime.ErrNoExtPoint):
		status = http.StatusNotFound
	case errors.Is(err, runtime.ErrInvalidID):
		status = http.StatusBadRequest
	case runtime.CodeOf(err) == runtime.ErrorCodeInvalidObject:
		status = http.StatusBadRequest
	case errors.Is(err, runtime.ErrStart):
		status = http.StatusConflict
	}

	ctx.JSON(status, gin.H{
		"code":    string(runtime.CodeOf(err)),
		"message": err.Error(),
	})
}
