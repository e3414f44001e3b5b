package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/jwtauth"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tendant/simple-cms/pkg/simplecms/api"
	"github.com/tendant/simple-cms/pkg/simplecms/config"
)

func main() {
	configFile := flag.String("config", os.Getenv("CMS_CONFIG_FILE"), "optional YAML or TOML configuration file")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage of %s:\n", os.Args[0])
		flag.PrintDefaults()
		fmt.Fprintln(flag.CommandLine.Output(), config.Usage())
	}
	flag.Parse()

	_ = godotenv.Load()

	serverConfig, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load server configuration", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: serverConfig.SlogLevel()}))
	slog.SetDefault(logger)

	var registry *prometheus.Registry
	opts := config.BuildOptions{Logger: logger}
	if serverConfig.MetricsEnabled {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		opts.Registerer = registry
	}

	rt, err := config.Build(serverConfig, opts)
	if err != nil {
		slog.Error("Failed to build repository", "err", err)
		os.Exit(1)
	}

	var handlerOpts []api.Option
	handlerOpts = append(handlerOpts, api.WithLogger(logger))
	if serverConfig.Auth.JWTSecret != "" {
		handlerOpts = append(handlerOpts, api.WithJWTAuth(jwtauth.New("HS256", []byte(serverConfig.Auth.JWTSecret), nil)))
	}
	handler := api.NewHandler(rt.Repository, handlerOpts...)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	if registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}
	r.Mount("/api/v1", handler.Routes())

	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%s", serverConfig.Host, serverConfig.Port),
		Handler: r,
	}

	go func() {
		slog.Info("simple-cms server starting", "addr", httpServer.Addr, "storage", serverConfig.Storage.Type, "workflow", serverConfig.CMS.UseWorkflow)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server error", "err", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "err", err)
		os.Exit(1)
	}

	slog.Info("Server exiting")
}
