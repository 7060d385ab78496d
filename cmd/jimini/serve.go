package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jglowsoap/jimini/internal/audit"
	"github.com/jglowsoap/jimini/internal/auth"
	"github.com/jglowsoap/jimini/internal/circuitbreaker"
	"github.com/jglowsoap/jimini/internal/config"
	"github.com/jglowsoap/jimini/internal/dlq"
	"github.com/jglowsoap/jimini/internal/engine"
	"github.com/jglowsoap/jimini/internal/forward"
	"github.com/jglowsoap/jimini/internal/gateway"
	"github.com/jglowsoap/jimini/internal/httpapi"
	"github.com/jglowsoap/jimini/internal/metrics"
	"github.com/jglowsoap/jimini/internal/retry"
	"github.com/jglowsoap/jimini/internal/rules"
	"github.com/jglowsoap/jimini/internal/tracing"
)

func newServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the policy gateway",
		RunE: func(_ *cobra.Command, _ []string) error {
			return serve(configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to the YAML config file")
	return cmd
}

func serve(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return &exitCodeError{code: exitConfigInvalid, err: err}
	}
	if err := cfg.Validate(); err != nil {
		return &exitCodeError{code: exitConfigInvalid, err: err}
	}

	logger, err := newLogger(cfg.App.LogLevel)
	if err != nil {
		return &exitCodeError{code: exitError, err: err}
	}
	defer logger.Sync()

	shutdownTracing, err := tracing.Initialize(cfg.OTel, logger)
	if err != nil {
		logger.Warn("Tracing init failed, continuing without traces", zap.Error(err))
		shutdownTracing = func(context.Context) error { return nil }
	}

	store, err := rules.NewStore(cfg.App.RulesPath, logger)
	if err != nil {
		return &exitCodeError{code: exitRuleLoad, err: err}
	}

	chain, err := audit.Open(cfg.App.AuditLogPath, logger)
	if err != nil {
		return &exitCodeError{code: exitError, err: err}
	}
	defer chain.Close()

	dead, err := dlq.Open(cfg.DLQ.Path, logger)
	if err != nil {
		return &exitCodeError{code: exitError, err: err}
	}
	defer dead.Close()

	breakers := circuitbreaker.NewRegistry(circuitbreaker.Config{
		FailureThreshold:   uint32(cfg.Breaker.FailureThreshold),
		RecoveryTimeout:    cfg.Breaker.RecoveryTimeout,
		HalfOpenProbeLimit: uint32(cfg.Breaker.HalfOpenProbeLimit),
	}, logger)
	policy := retry.Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		MaxDelay:    cfg.Retry.MaxDelay,
	}
	fwdConfig := forward.Config{
		QueueSize:     cfg.SIEM.QueueSize,
		FlushInterval: cfg.SIEM.FlushInterval,
		BatchSize:     cfg.SIEM.BatchSize,
	}

	forwarders, alerts, err := buildForwarders(cfg, breakers, policy, dead, fwdConfig, logger)
	if err != nil {
		return &exitCodeError{code: exitConfigInvalid, err: err}
	}
	for _, f := range forwarders {
		f.Start()
	}
	if alerts != nil {
		alerts.Start()
	}

	eng := engine.New(logger, engine.WithShadowMode(cfg.App.ShadowMode))
	counters := metrics.NewStore()

	opts := []gateway.Option{gateway.WithVersion(version), gateway.WithForwarders(forwarders...)}
	if cfg.Security.AuthEnabled {
		if cfg.Security.JWTSecret != "" {
			opts = append(opts, gateway.WithAuthorizer(auth.NewJWTAuthorizer(cfg.Security.JWTSecret)))
		} else {
			opts = append(opts, gateway.WithAuthorizer(auth.NewAPIKeyAuthorizer(cfg.Security.APIKey)))
		}
	}
	if alerts != nil {
		opts = append(opts, gateway.WithAlertWebhook(alerts))
	}
	gw := gateway.New(store, eng, chain, counters, logger, opts...)

	logger.Info("Gateway starting",
		zap.String("version", version),
		zap.Int("rules", store.Active().Len()),
		zap.Bool("shadow_mode", cfg.App.ShadowMode),
		zap.Int("forwarders", len(forwarders)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watcher := rules.NewWatcher(store, logger)
	watcher.OnReload(func(err error) {
		status := "ok"
		meta := map[string]string{}
		if err != nil {
			status = "failed"
			meta["error"] = err.Error()
		}
		meta["status"] = status
		metrics.RuleReloads.WithLabelValues(status).Inc()
		if appendErr := chain.Append(ctx, audit.AdminRecord("rules_reload", meta)); appendErr != nil {
			logger.Warn("Failed to audit rule reload", zap.Error(appendErr))
		}
	})
	go func() {
		if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("Rules watcher stopped", zap.Error(err))
		}
	}()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for range hup {
			logger.Info("SIGHUP received, reloading rules")
			if err := gw.ReloadRules(ctx); err != nil {
				logger.Warn("Rule reload failed", zap.Error(err))
			}
		}
	}()

	srv := httpapi.NewServer(fmt.Sprintf("%s:%d", cfg.App.Host, cfg.App.Port), gw, logger)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		if err != nil {
			return &exitCodeError{code: exitError, err: err}
		}
	case sig := <-stop:
		logger.Info("Shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", zap.Error(err))
	}
	for _, f := range forwarders {
		f.Stop()
	}
	if alerts != nil {
		alerts.Stop()
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("Tracing shutdown incomplete", zap.Error(err))
	}
	return nil
}

// buildForwarders assembles the configured SIEM forwarders and the alert
// webhook forwarder.
func buildForwarders(cfg *config.Config, breakers *circuitbreaker.Registry, policy retry.Policy, dead *dlq.Store, fwdConfig forward.Config, logger *zap.Logger) ([]*forward.Forwarder, *forward.Forwarder, error) {
	var forwarders []*forward.Forwarder

	if cfg.SIEM.File.Enabled {
		sink, err := forward.NewFileSink("siem-file", cfg.SIEM.File.Path)
		if err != nil {
			return nil, nil, err
		}
		forwarders = append(forwarders, forward.New(sink, breakers.Get(sink.Name()), policy, dead, fwdConfig, logger))
	}
	if cfg.SIEM.HEC.Enabled {
		sink := forward.NewHECSink("siem-hec", cfg.SIEM.HEC.URL, cfg.SIEM.HEC.Token)
		forwarders = append(forwarders, forward.New(sink, breakers.Get(sink.Name()), policy, dead, fwdConfig, logger))
	}
	if cfg.SIEM.Elastic.Enabled {
		sink := forward.NewElasticSink("siem-elastic", cfg.SIEM.Elastic.URL, cfg.SIEM.Elastic.Index)
		forwarders = append(forwarders, forward.New(sink, breakers.Get(sink.Name()), policy, dead, fwdConfig, logger))
	}

	var alerts *forward.Forwarder
	if cfg.Notifiers.Webhook.Enabled {
		sink := forward.NewWebhookSink("webhook", cfg.Notifiers.Webhook.URL, cfg.Notifiers.Webhook.RatePerMinute)
		alerts = forward.New(sink, breakers.Get(sink.Name()), policy, dead, fwdConfig, logger)
	}
	return forwarders, alerts, nil
}
