package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/getdproxy/dproxy/internal/matching"
	"github.com/getdproxy/dproxy/pkg/capture"
	"github.com/getdproxy/dproxy/pkg/config"
	"github.com/getdproxy/dproxy/pkg/forward"
	"github.com/getdproxy/dproxy/pkg/interceptor"
	"github.com/getdproxy/dproxy/pkg/logging"
	"github.com/getdproxy/dproxy/pkg/metrics"
	"github.com/getdproxy/dproxy/pkg/mode"
	"github.com/getdproxy/dproxy/pkg/proxy"
	"github.com/getdproxy/dproxy/pkg/proxyctx"
	"github.com/getdproxy/dproxy/pkg/session"
	"github.com/getdproxy/dproxy/pkg/template"
)

type serveFlags struct {
	configPath string
	addr       string
	mode       string
	logLevel   string
}

func newServeCmd() *cobra.Command {
	flags := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the proxy",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, flags)
		},
	}
	cmd.Flags().StringVarP(&flags.configPath, "config", "c", "", "path to the YAML config file")
	cmd.Flags().StringVar(&flags.addr, "addr", "", "listen address (overrides config)")
	cmd.Flags().StringVar(&flags.mode, "mode", "", "initial mode: passthrough, recording, or replay (overrides config)")
	cmd.Flags().StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
	return cmd
}

func runServe(cmd *cobra.Command, flags *serveFlags) error {
	cfg := config.Default()
	if flags.configPath != "" {
		loaded, err := config.Load(flags.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if flags.addr != "" {
		cfg.Server.Addr = flags.addr
	}
	if flags.mode != "" {
		cfg.Server.Mode = flags.mode
	}
	if flags.logLevel != "" {
		cfg.Server.LogLevel = flags.logLevel
	}

	logCfg := logging.Config{
		Level:  logging.ParseLevel(cfg.Server.LogLevel),
		Format: logging.ParseFormat(cfg.Server.LogFormat),
		Output: os.Stderr,
	}
	if cfg.Server.AuditLog != "" {
		audit, err := os.OpenFile(cfg.Server.AuditLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("opening audit log: %w", err)
		}
		defer func() { _ = audit.Close() }()
		logCfg.Mirror = audit
	}
	logger := logging.New(logCfg)

	initial, err := mode.Parse(cfg.Server.Mode)
	if err != nil {
		return err
	}

	factory := proxyctx.NewFactory()
	m := metrics.NewProxy()
	templates := template.NewMemoryStore()

	var repo capture.Repository
	if cfg.Storage.CaptureDir != "" {
		fileRepo, err := capture.NewFileRepository(cfg.Storage.CaptureDir)
		if err != nil {
			return fmt.Errorf("opening capture store: %w", err)
		}
		logger.Info("persisting captures", "dir", cfg.Storage.CaptureDir, "loaded", fileRepo.Count())
		repo = fileRepo
	} else {
		repo = capture.NewMemoryRepository()
	}

	var sessions session.Manager
	if cfg.Session.SigningKey != "" {
		sessions, err = session.NewJWTManager(cfg.Session)
		if err != nil {
			return fmt.Errorf("building session manager: %w", err)
		}
	} else {
		logger.Warn("no session signing key configured, session handling disabled")
	}

	fwd := forward.New(forward.Options{
		Config:  cfg,
		Logger:  logger,
		Factory: factory,
		Metrics: m,
	})

	chain := interceptor.NewChain(logger)
	chain.AddRequestInterceptor(interceptor.NewCorrelation())
	chain.AddRequestInterceptor(interceptor.NewRequestLogger(logger))
	chain.AddResponseInterceptor(interceptor.NewResponseLogger(logger))

	classifier, err := proxy.NewTrafficClassifier(cfg.Classifier)
	if err != nil {
		return fmt.Errorf("building traffic classifier: %w", err)
	}

	var persister mode.StatePersister
	if cfg.Server.ModeFile != "" {
		persister = mode.NewFilePersister(cfg.Server.ModeFile)
	}

	svc, err := mode.NewService(mode.ServiceOptions{
		Initial:     initial,
		Passthrough: mode.NewPassthrough(chain, fwd, factory, logger),
		Recording:   mode.NewRecording(chain, fwd, repo, sessions, cfg, factory, logger, m),
		Replay: mode.NewReplay(chain, repo, matching.NewEngine(), sessions,
			templates, fwd, cfg, factory, logger, m),
		Classifier: classifier,
		Persister:  persister,
		Forwarder:  fwd,
		Factory:    factory,
		Logger:     logger,
		Metrics:    m,
	})
	if err != nil {
		return err
	}

	srv := proxy.New(proxy.Options{
		Config:    cfg,
		Service:   svc,
		Factory:   factory,
		Forwarder: fwd,
		Repo:      repo,
		Metrics:   m,
		Logger:    logger,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("proxy server: %w", err)
	}
	logger.Info("dproxy stopped")
	return nil
}
