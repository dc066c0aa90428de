// Package remote downloads plugin archives served over HTTP so they can be
// loaded like local files.
package remote

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/BDNK1/gimo/runtime"
	"github.com/BDNK1/gimo/runtime/internal/security"
	"github.com/go-resty/resty/v2"
)

// Config holds the fetcher settings with declarative tags
type Config struct {
	CacheDir    string        `yaml:"cache_dir" validate:"required"`
	Timeout     time.Duration `yaml:"timeout" default:"30s" validate:"gte=1s"`
	MaxRetries  int           `yaml:"max_retries" default:"3" validate:"gte=0,lte=10"`
	RetryWaitMS int           `yaml:"retry_wait_ms" default:"100" validate:"gte=0,lte=10000"`
	Debug       bool          `yaml:"debug" default:"false"`
}

// Fetcher copies remote archives into a cache directory.
type Fetcher struct {
	config Config
	client *resty.Client
}

func NewFetcher(cfg Config) (*Fetcher, error) {
	if err := runtime.PrepareConfig(&cfg); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.CacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir %q: %w", cfg.CacheDir, err)
	}

	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(time.Duration(cfg.RetryWaitMS) * time.Millisecond).
		SetDebug(cfg.Debug)

	return &Fetcher{config: cfg, client: client}, nil
}

// IsRemote reports whether location is an http or https URL.
func IsRemote(location string) bool {
	return strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://")
}

// Fetch downloads rawURL and returns the local file. The file is named after
// the last URL path element, so the archive suffix picks the loader factory.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", runtime.NewError(runtime.ErrorCodeInvalidFile, "not an http(s) archive url: %q", rawURL)
	}

	name := path.Base(u.Path)
	if name == "" || name == "/" || name == "." {
		return "", runtime.NewError(runtime.ErrorCodeInvalidFile, "archive url %q has no file name", rawURL)
	}

	target, err := security.JoinWithinBoundary(f.config.CacheDir, name)
	if err != nil {
		return "", runtime.WrapError(runtime.ErrorCodeInvalidFile, err, "archive url %q", rawURL)
	}

	resp, err := f.client.R().
		SetContext(ctx).
		SetOutput(target).
		Get(rawURL)
	if err != nil {
		return "", runtime.WrapError(runtime.ErrorCodeNoFile, err, "fetch %q", rawURL)
	}
	if resp.IsError() {
		_ = os.Remove(target)
		return "", runtime.NewError(runtime.ErrorCodeNoFile, "fetch %q: %s", rawURL, resp.Status())
	}

	slog.Debug("Fetched remote archive",
		"url", rawURL,
		"file", target,
		"duration", resp.Time())
	return target, nil
}

// Load fetches location when it is remote and loads it into c.
func (f *Fetcher) Load(ctx context.Context, c *runtime.Context, location string, recursive bool) (int, []*runtime.Plugin, error) {
	if !IsRemote(location) {
		return c.LoadPlugin(ctx, location, recursive)
	}
	file, err := f.Fetch(ctx, location)
	if err != nil {
		return 0, nil, err
	}
	return c.LoadPlugin(ctx, file, false)
}
