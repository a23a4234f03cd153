package app

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/searchktools/adaptive-server/config"
	"github.com/searchktools/adaptive-server/core"
	"github.com/searchktools/adaptive-server/core/monitor"
)

// App wires the epoll engine, the adaptive layer, and the monitoring
// surface into a runnable server.
type App struct {
	cfg     *config.Config
	engine  *core.Engine
	monitor *monitor.Monitor
	log     *zap.Logger
}

// New creates an application instance
func New(cfg *config.Config) (*App, error) {
	log, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}

	engine, err := core.NewEngine(
		core.WithLogger(log),
		core.WithAdaptiveConfig(cfg.Adaptive),
	)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:    cfg,
		engine: engine,
		log:    log,
	}

	if cfg.MetricsPort > 0 {
		addr := fmt.Sprintf(":%d", cfg.MetricsPort)
		a.monitor = monitor.New(engine.Adaptive(), addr, log.Named("monitor"))
	}

	return a, nil
}

// Engine returns the underlying engine for route registration
func (a *App) Engine() *core.Engine {
	return a.engine
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.log
}

// Run starts the application and blocks until shutdown.
func (a *App) Run() error {
	go a.awaitSignal()

	if a.monitor != nil {
		go func() {
			if err := a.monitor.Run(); err != nil {
				a.log.Error("monitor server failed", zap.Error(err))
			}
		}()
	}

	addr := fmt.Sprintf(":%d", a.cfg.Port)
	a.log.Info("server starting",
		zap.Int("port", a.cfg.Port),
		zap.String("env", a.cfg.Env),
		zap.Int("metrics_port", a.cfg.MetricsPort))

	return a.engine.Run(addr)
}

func (a *App) awaitSignal() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	a.log.Info("signal received, shutting down", zap.String("signal", sig.String()))

	if a.monitor != nil {
		if err := a.monitor.Close(); err != nil {
			a.log.Warn("monitor close failed", zap.Error(err))
		}
	}
	a.engine.Shutdown()
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.Env == "production" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}

	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("app: invalid log level %q: %w", cfg.LogLevel, err)
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	return zc.Build()
}
