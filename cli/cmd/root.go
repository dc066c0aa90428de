package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/BDNK1/gimo/cli/internal/config"
	"github.com/BDNK1/gimo/runtime"
	"github.com/BDNK1/gimo/runtime/admin"
	"github.com/BDNK1/gimo/runtime/archive/remote"
	"github.com/spf13/cobra"

	// Built-in archive formats and script modules.
	_ "github.com/BDNK1/gimo/runtime/archive/xml"
	_ "github.com/BDNK1/gimo/runtime/archive/yaml"
	_ "github.com/BDNK1/gimo/runtime/module/script"
)

var (
	configPath string
	starts     []string
	silent     bool
	statePath  string
	serveAddr  string
)

var rootCmd = &cobra.Command{
	Use:   "gimo-launch [files...]",
	Short: "GIMO - plugin launcher",
	Long: `gimo-launch loads plugin archives, starts the plugins and runs them.

Files may be archives (.yaml, .yml, .xml), directories scanned recursively,
or http(s) URLs of archives. Without files the "plugins" directory is used.

Example:
  gimo-launch
  gimo-launch ./plugins/hello.yaml --start org.example.hello
  gimo-launch ./plugins --state state.json --serve :9090
`,
	Args:         cobra.ArbitraryArgs,
	SilenceUsage: true,
	RunE:         runLaunch,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Launcher config file (YAML)")
	rootCmd.Flags().StringArrayVarP(&starts, "start", "s", nil, "Startup plugins (repeatable); default starts every loaded plugin")
	rootCmd.Flags().BoolVarP(&silent, "silent", "l", false, "Run silently")
	rootCmd.Flags().StringVar(&statePath, "state", "", "JSON state file restored before run and saved after")
	rootCmd.Flags().StringVar(&serveAddr, "serve", "", "Serve the admin API on this address and wait for a signal")

	rootCmd.AddCommand(inspectCmd)
}

// launcher holds what one invocation of the command builds.
type launcher struct {
	cfg     *config.LaunchConfig
	logger  *slog.Logger
	context *runtime.Context
	fetcher *remote.Fetcher
}

func newLauncher(ctx context.Context, cmd *cobra.Command) (*launcher, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	applyFlags(cmd, cfg)

	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: cfg.Level()}))

	c, err := runtime.NewContext(ctx, cfg.Runtime(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create context: %w", err)
	}

	if exe, err := os.Executable(); err == nil {
		if err := c.AddPaths(ctx, filepath.Dir(exe)); err != nil {
			logger.Warn("Cannot add executable dir to search paths", "error", err)
		}
	}

	fetcher, err := remote.NewFetcher(cfg.Remote())
	if err != nil {
		_ = c.Destroy(ctx)
		return nil, err
	}

	return &launcher{cfg: cfg, logger: logger, context: c, fetcher: fetcher}, nil
}

func applyFlags(cmd *cobra.Command, cfg *config.LaunchConfig) {
	if cmd.Flags().Changed("start") {
		cfg.Start = starts
	}
	if cmd.Flags().Changed("silent") {
		cfg.Silent = silent
	}
	if cmd.Flags().Changed("state") {
		cfg.StateFile = statePath
	}
	if cmd.Flags().Changed("serve") {
		cfg.AdminAddr = serveAddr
	}
}

// load installs the plugins found at each file; failures are logged and
// loading continues with the next file.
func (l *launcher) load(ctx context.Context, files []string) []*runtime.Plugin {
	if len(files) == 0 {
		files = l.cfg.Files
	}
	if len(files) == 0 {
		files = []string{config.DefaultPluginDir}
	}

	var loaded []*runtime.Plugin
	for _, file := range files {
		_, plugins, err := l.fetcher.Load(ctx, l.context, file, true)
		if err != nil {
			l.logger.Warn("Load plugin error",
				"file", file,
				"error", err)
		}
		loaded = append(loaded, plugins...)
	}
	return loaded
}

func runLaunch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	l, err := newLauncher(ctx, cmd)
	if err != nil {
		return err
	}

	loaded := l.load(ctx, args)

	ids := l.cfg.Start
	if len(ids) == 0 {
		for _, p := range loaded {
			ids = append(ids, p.ID())
		}
	}
	if len(ids) > 0 {
		if err := l.context.StartPlugins(ctx, ids...); err != nil {
			l.logger.Warn("Start plugin error", "error", err)
		}
	}

	if err := l.restore(ctx); err != nil {
		l.logger.Warn("Restore state error", "error", err)
	}

	l.context.RunPlugins(ctx)

	if l.cfg.AdminAddr != "" {
		if err := l.serve(ctx); err != nil {
			l.logger.Error("Admin server error", "error", err)
		}
	}

	if err := l.save(ctx); err != nil {
		l.logger.Warn("Save state error", "error", err)
	}

	if !l.cfg.Silent {
		printSummary(cmd, l.context.QueryPlugins())
	}

	// Destroy must not see the cancelled signal context.
	return l.context.Destroy(context.WithoutCancel(ctx))
}

func (l *launcher) restore(ctx context.Context) error {
	if l.cfg.StateFile == "" {
		return nil
	}
	data, err := os.ReadFile(l.cfg.StateFile)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	store := runtime.NewDataStore()
	if err := store.UnmarshalJSON(data); err != nil {
		return err
	}
	l.context.Restore(ctx, store)
	return nil
}

func (l *launcher) save(ctx context.Context) error {
	if l.cfg.StateFile == "" {
		return nil
	}

	store := runtime.NewDataStore()
	l.context.Save(ctx, store)

	data, err := store.MarshalJSON()
	if err != nil {
		return err
	}
	return os.WriteFile(l.cfg.StateFile, data, 0o644)
}

// serve runs the admin API until ctx is cancelled.
func (l *launcher) serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              l.cfg.AdminAddr,
		Handler:           admin.NewEngine(l.context),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		l.logger.Info("Admin API listening", "addr", l.cfg.AdminAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func printSummary(cmd *cobra.Command, plugins []*runtime.Plugin) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s\n", titleStyle.Render(fmt.Sprintf("%d plugins", len(plugins))))
	for _, p := range plugins {
		fmt.Fprintf(out, "  %s %s\n", stateStyle(p.State()).Render(fmt.Sprintf("%-11s", p.State())), p.ID())
	}
}
