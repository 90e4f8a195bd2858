package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"szuro.net/plughost/internal/config"
	"szuro.net/plughost/internal/logger"
	"szuro.net/plughost/internal/plugin"
)

const shutdownTimeout = 5 * time.Second

type serveConfig struct {
	configFile string
}

func newServeCmd() *cobra.Command {
	cfg := &serveConfig{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Load the configured plugins and serve metrics until stopped",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runServe(cfg)
		},
	}

	cmd.Flags().StringVarP(&cfg.configFile, "config", "c", "/etc/plughost.yaml", "Path of config file")

	return cmd
}

func runServe(cfg *serveConfig) error {
	conf, err := config.ParsePlugHostConfig(cfg.configFile)
	if err != nil {
		return err
	}
	logger.SetDefault(logger.Setup(conf.LogFormat, conf.GetLogLevel(), os.Stderr))

	config.NewBuildInfo(prometheus.DefaultRegisterer)
	m := newManager(conf, prometheus.DefaultRegisterer)

	loaded := loadConfigured(m, conf.Plugins)
	logger.Info("Plugins loaded", slog.Int("loaded", loaded), slog.Int("configured", len(conf.Plugins)))
	for _, p := range m.List() {
		logger.Info("Loaded plugin",
			slog.String("name", p.Name),
			slog.String("version", p.Version),
			slog.String("runtime", string(p.Runtime)))
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", conf.Http.ListenAddress, conf.Http.ListenPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Serving metrics", slog.String("address", srv.Addr))
		serveErr <- srv.ListenAndServe()
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sig)

	var runErr error
	select {
	case s := <-sig:
		logger.Info("Received signal", slog.String("signal", s.String()))
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("metrics server: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("stopping metrics server failed", slog.Any("error", err))
	}

	if err := m.Close(); err != nil {
		logger.Error("plugin teardown failed", slog.Any("error", err))
		runErr = errors.Join(runErr, err)
	}
	logger.Info("Exiting...")
	return runErr
}

// newManager builds a Manager from the daemon configuration.
func newManager(conf config.PlugHostConf, reg prometheus.Registerer) *plugin.Manager {
	factory := &plugin.DefaultClientFactory{Logger: logger.NewHCLogAdapter()}
	return plugin.NewManager(
		plugin.WithDefaultRuntime(conf.Runtime),
		plugin.WithDuplicatePolicy(conf.OnDuplicate),
		plugin.WithOpener(plugin.RuntimeProcess, plugin.NewProcessOpener(factory)),
		plugin.WithRegisterer(reg),
	)
}

// loadConfigured loads every configured plugin and returns how many
// succeeded. A failed plugin is logged and skipped.
func loadConfigured(m *plugin.Manager, plugins []config.PluginConf) int {
	loaded := 0
	for _, p := range plugins {
		_, err := m.Load(p.Path, plugin.WithRuntime(p.Runtime), plugin.WithConfig(p.Config))
		if err != nil {
			continue
		}
		loaded++
	}
	return loaded
}
