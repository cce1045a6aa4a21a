// Package app assembles the process-wide collaborators shared by the
// binaries: configuration, logger, admission, retry, symbol mapping and the
// aggregation engine.
package app

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"exchangehub/config"
	"exchangehub/connector"
	"exchangehub/connector/exchanges"
	"exchangehub/internal/errs"
	"exchangehub/internal/ratelimit"
	"exchangehub/internal/retry"
	"exchangehub/internal/symbols"
	"exchangehub/logger"
	"exchangehub/processor"
)

type Options struct {
	ConfigPath string
	ShardPath  string
	Getenv     func(string) string
}

type App struct {
	Config  *config.Config
	Log     *logger.Log
	Deps    connector.Deps
	Engine  *processor.Engine
	Skipped map[string]error
}

// LoadEnv reads .env when present.
func LoadEnv(log *logger.Log) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("error loading .env file")
	}
}

// New loads configuration, configures logging and metrics, and opens one
// connector per exchange with complete credentials.
func New(ctx context.Context, opts Options) (*App, error) {
	log := logger.GetLogger()
	getenv := opts.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}

	cfg, err := config.LoadConfig(config.ResolveConfigPath(opts.ConfigPath))
	if err != nil {
		return nil, err
	}
	if opts.ShardPath != "" {
		shards, err := config.LoadIPShards(opts.ShardPath)
		if err != nil {
			return nil, err
		}
		shards.Apply(cfg)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		return nil, fmt.Errorf("failed to configure logger: %w", err)
	}
	env := config.AppEnvironment()
	log.WithFields(logger.Fields{
		"service":     cfg.App.Name,
		"version":     cfg.App.Version,
		"environment": env,
	}).Info("starting exchangehub")

	if cfg.Metrics.CloudWatch {
		logger.InitCloudWatch(ctx, cfg.Metrics.Region, cfg.Metrics.Namespace, cfg.Metrics.DashboardName)
	}
	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, cfg.Metrics.ReportInterval)
	}

	deps := connector.Deps{
		Limiter: ratelimit.New(ratelimit.Config{
			Quotas:       cfg.Admission.Quotas,
			DefaultQuota: cfg.Admission.DefaultQuota,
			Window:       cfg.Admission.Window,
			Backoff:      cfg.Admission.Backoff,
		}, log),
		Retry:   retry.New(cfg.Retry.MaxRetries, cfg.Retry.BaseDelay, log),
		Mapper:  symbols.NewMapper(),
		Log:     log,
		Options: connector.OptionsFromConfig(cfg.Connector),
	}

	creds, skipped := config.LoadCredentials(getenv, exchanges.Order)
	for ex, reason := range skipped {
		log.WithComponent("main").WithError(reason).WithFields(logger.Fields{"exchange": ex}).Debug("credentials incomplete")
	}

	engine := processor.NewEngine(creds, deps, cfg)
	if len(engine.Connectors()) == 0 && config.IsProductionLike(env) {
		return nil, fmt.Errorf("%w in %s", errs.ErrNoConnectors, env)
	}

	return &App{Config: cfg, Log: log, Deps: deps, Engine: engine, Skipped: skipped}, nil
}
