package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/surfacekit/uibridge/internal/bridge"
	"github.com/surfacekit/uibridge/internal/catalog"
	"github.com/surfacekit/uibridge/internal/config"
	"github.com/surfacekit/uibridge/internal/logx"
	"github.com/surfacekit/uibridge/internal/metrics"
	"github.com/surfacekit/uibridge/internal/server"
	"github.com/surfacekit/uibridge/internal/state"
)

var (
	version   = "dev"
	buildSHA  = "unknown"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	var cfg config.HostConfig
	// Resolve config with precedence: defaults < file < env < args
	cfg.SetDefaults()
	cfg.ApplyEnv() // allows CONFIG_FILE from env
	// Allow --config to override file path before loading it
	for i := 1; i < len(os.Args); i++ {
		a := os.Args[i]
		if a == "--config" && i+1 < len(os.Args) {
			cfg.ConfigFile = os.Args[i+1]
			break
		}
		if strings.HasPrefix(a, "--config=") {
			cfg.ConfigFile = strings.TrimPrefix(a, "--config=")
			break
		}
	}
	if cfg.ConfigFile != "" {
		if err := cfg.LoadFile(cfg.ConfigFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			logx.Log.Fatal().Err(err).Str("path", cfg.ConfigFile).Msg("load config")
		}
	}
	cfg.ApplyEnv()
	cfg.BindFlags()
	flag.Parse()
	if *showVersion {
		fmt.Printf("uibridge version=%s sha=%s date=%s\n", version, buildSHA, buildDate)
		return
	}

	logx.Configure(cfg.LogLevel)
	metrics.SetBuildInfo(version, buildSHA, buildDate)
	bridge.SetDefaultCallTimeout(cfg.CallTimeout)

	if cfg.RedisAddr != "" {
		rs, err := state.NewRedisStore(cfg.RedisAddr)
		if err != nil {
			logx.Log.Fatal().Err(err).Msg("connect redis")
		}
		state.UseStore(rs)
		logx.Log.Info().Str("addr", cfg.RedisAddr).Msg("using redis state store")
	}

	var cat catalog.Catalog
	if cfg.MCPAddr != "" || cfg.MCPCommand != "" {
		m, err := catalog.Connect(context.Background(), catalog.Config{URL: cfg.MCPAddr, Command: cfg.MCPCommand})
		if err != nil {
			logx.Log.Fatal().Err(err).Msg("connect catalog")
		}
		defer func() { _ = m.Close() }()
		cat = m
	} else {
		logx.Log.Info().Msg("no catalog configured; sessions mount inline content only")
	}

	sessions := server.NewSessions()
	handler := server.New(cfg, sessions, cat)
	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: handler}
	var metricsSrv *http.Server
	if cfg.MetricsAddr != fmt.Sprintf(":%d", cfg.Port) {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		for range sigCh {
			if state.IsDraining() || cfg.DrainTimeout == 0 {
				logx.Log.Warn().Msg("termination requested")
				sessions.TeardownAll(context.Background())
				cancel()
				return
			}
			state.StartDrain()
			logx.Log.Info().Int("active_sessions", sessions.Len()).Dur("timeout", cfg.DrainTimeout).Msg("draining; send SIGTERM again to terminate immediately")
			go func() {
				waitCtx, stop := context.WithTimeout(ctx, cfg.DrainTimeout)
				defer stop()
				for sessions.Len() > 0 && waitCtx.Err() == nil {
					time.Sleep(100 * time.Millisecond)
				}
				if n := sessions.Len(); n > 0 {
					logx.Log.Warn().Int("active_sessions", n).Msg("drain timeout exceeded; tearing sessions down")
					sessions.TeardownAll(context.Background())
				} else {
					logx.Log.Info().Msg("drain complete; terminating")
				}
				cancel()
			}()
		}
	}()
	go func() {
		<-ctx.Done()
		if err := srv.Shutdown(context.Background()); err != nil {
			logx.Log.Error().Err(err).Msg("server shutdown")
		}
	}()
	if metricsSrv != nil {
		go func() {
			<-ctx.Done()
			if err := metricsSrv.Shutdown(context.Background()); err != nil {
				logx.Log.Error().Err(err).Msg("metrics server shutdown")
			}
		}()
		go func() {
			logx.Log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics server starting")
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logx.Log.Error().Err(err).Msg("metrics server error")
			}
		}()
	}

	state.SetStatus("ready")
	if cfg.GuestKey != "" {
		logx.Log.Info().Msg("guest key required")
	}
	logx.Log.Info().Int("port", cfg.Port).Msg("host starting")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logx.Log.Fatal().Err(err).Msg("server error")
	}
}
