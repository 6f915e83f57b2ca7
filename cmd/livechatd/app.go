package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"pkt.systems/pslog"

	"github.com/agendaautomatizada/whatsapp"
	"github.com/agendaautomatizada/whatsapp/internal/svcfields"
)

func submain(ctx context.Context) int {
	baseLogger := pslog.NewStructured(os.Stderr).With("app", "livechatd")
	if level, ok := pslog.ParseLevel(os.Getenv("LIVECHAT_LOG_LEVEL")); ok {
		baseLogger = baseLogger.LogLevel(level)
	}
	cmd := newRootCommand(baseLogger)
	ctx = withSignalCancel(ctx)
	if _, err := cmd.ExecuteContextC(ctx); err != nil {
		if err != context.Canceled {
			svcfields.WithSubsystem(baseLogger, "cli.root").Error("command failed", "error", err)
		}
		return 1
	}
	return 0
}

func withSignalCancel(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(signals)
	}()
	return ctx
}

func newRootCommand(baseLogger pslog.Logger) *cobra.Command {
	var cfg whatsapp.Config

	cmd := &cobra.Command{
		Use:           "livechatd",
		Short:         "livechatd relays conversation lease requests between clients and automation webhooks",
		SilenceErrors: true,
		Example: `
  # Quickstart with a fixed token and an in-memory settings store
  LIVECHAT_STATIC_TOKEN=tok=acct-1 livechatd --default-webhook-url https://n8n.example/webhook/lease

  # JWT auth with operator settings persisted in SQLite
  LIVECHAT_JWT_SECRET=s3cret livechatd --settings /var/lib/livechatd/settings.db

  # Expose Prometheus metrics alongside the API
  livechatd --metrics-listen :9090
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := baseLogger
			cliLogger := svcfields.WithSubsystem(logger, "cli.root")
			ctx := cmd.Context()
			cmd.SilenceUsage = true

			configFile, err := loadConfigFile()
			if err != nil {
				return err
			}
			if configFile != "" {
				cliLogger.Info("loaded config file", "path", configFile)
			}

			if err := bindConfig(&cfg); err != nil {
				return err
			}

			logLevel := strings.TrimSpace(viper.GetString("log-level"))
			if logLevel == "" {
				logLevel = "info"
			}
			if level, ok := pslog.ParseLevel(logLevel); ok {
				logger = logger.LogLevel(level)
				cliLogger = svcfields.WithSubsystem(logger, "cli.root")
			}

			server, err := whatsapp.NewServer(cfg, whatsapp.WithLogger(logger))
			if err != nil {
				return err
			}
			svcfields.WithSubsystem(logger, "server.lifecycle.init").Info(
				"welcome to livechatd",
				"pid", os.Getpid(),
				"listen", cfg.Listen,
			)
			return server.Start(ctx)
		},
	}

	cmd.PersistentFlags().StringP("config", "c", "", "path to YAML config file (defaults to $HOME/.livechatd/"+whatsapp.DefaultConfigFileName+")")

	flags := cmd.Flags()
	flags.String("listen", whatsapp.DefaultListen, "listen address")
	flags.String("listen-proto", whatsapp.DefaultListenProto, "listen network (tcp, tcp4, tcp6, unix)")
	flags.String("metrics-listen", whatsapp.DefaultMetricsListen, "metrics listen address (Prometheus scrape endpoint; empty disables)")
	flags.String("pprof-listen", whatsapp.DefaultPprofListen, "pprof listen address (debug/pprof endpoints; empty disables)")
	flags.Bool("enable-profiling-metrics", false, "enable Go runtime profiling metrics on the Prometheus endpoint")
	flags.String("otlp-endpoint", "", "OTLP collector endpoint (e.g. grpc://localhost:4317)")
	flags.Bool("disable-http-tracing", false, "disable OpenTelemetry spans for HTTP handlers")
	flags.String("settings", "", "SQLite settings database path (empty selects in-memory store)")
	flags.String("jwt-secret", "", "HS256 secret verifying operator bearer tokens")
	flags.StringSlice("static-token", nil, "fixed bearer token mapping, token=operator-id (repeatable; used when no jwt-secret)")
	flags.String("verify-token", "", "shared secret for Meta webhook subscription handshakes")
	flags.String("graph-base-url", "", "WhatsApp Cloud API base URL override")
	flags.String("default-webhook-url", "", "automation webhook used for operators without one of their own")
	flags.String("default-webhook-auth", "", "credential sent to the default automation webhook")
	flags.Duration("webhook-timeout", whatsapp.DefaultWebhookTimeout, "timeout for each upstream webhook or Graph API call")
	flags.Int("default-ttl-hours", whatsapp.DefaultTTLHours, "lease duration in hours when requests omit ttlHours")
	flags.Duration("shutdown-timeout", whatsapp.DefaultShutdownTimeout, "graceful shutdown timeout")
	flags.String("log-level", "info", "log level (trace, debug, info, warn, error)")

	viper.SetEnvPrefix("LIVECHAT")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	names := []string{
		"config",
		"listen", "listen-proto", "metrics-listen", "pprof-listen", "enable-profiling-metrics",
		"otlp-endpoint", "disable-http-tracing",
		"settings", "jwt-secret", "static-token", "verify-token", "graph-base-url",
		"default-webhook-url", "default-webhook-auth",
		"webhook-timeout", "default-ttl-hours", "shutdown-timeout", "log-level",
	}
	for _, name := range names {
		flag := flags.Lookup(name)
		if flag == nil {
			flag = cmd.PersistentFlags().Lookup(name)
		}
		if flag == nil {
			panic(fmt.Sprintf("flag %q not found", name))
		}
		if err := viper.BindPFlag(name, flag); err != nil {
			panic(err)
		}
	}

	cmd.AddCommand(newTokenCommand(baseLogger))
	cmd.AddCommand(newConfigCommand())
	cmd.AddCommand(newVersionCommand())

	return cmd
}

func bindConfig(cfg *whatsapp.Config) error {
	cfg.Listen = viper.GetString("listen")
	cfg.ListenProto = viper.GetString("listen-proto")
	cfg.MetricsListen = viper.GetString("metrics-listen")
	cfg.PprofListen = viper.GetString("pprof-listen")
	cfg.EnableProfilingMetrics = viper.GetBool("enable-profiling-metrics")
	cfg.OTLPEndpoint = viper.GetString("otlp-endpoint")
	cfg.DisableHTTPTracing = viper.GetBool("disable-http-tracing")
	cfg.SettingsPath = viper.GetString("settings")
	cfg.JWTSecret = viper.GetString("jwt-secret")
	tokens, err := parseStaticTokens(viper.GetStringSlice("static-token"))
	if err != nil {
		return err
	}
	cfg.StaticTokens = tokens
	cfg.VerifyToken = viper.GetString("verify-token")
	cfg.GraphBaseURL = viper.GetString("graph-base-url")
	cfg.DefaultWebhookURL = viper.GetString("default-webhook-url")
	cfg.DefaultWebhookAuth = viper.GetString("default-webhook-auth")
	cfg.WebhookTimeout = viper.GetDuration("webhook-timeout")
	cfg.DefaultTTLHours = viper.GetInt("default-ttl-hours")
	cfg.ShutdownTimeout = viper.GetDuration("shutdown-timeout")
	return nil
}

func parseStaticTokens(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	tokens := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		token, operator, ok := strings.Cut(pair, "=")
		if !ok || token == "" || operator == "" {
			return nil, fmt.Errorf("parse static-token %q: expected token=operator-id", pair)
		}
		tokens[token] = operator
	}
	if len(tokens) == 0 {
		return nil, nil
	}
	return tokens, nil
}

func loadConfigFile() (string, error) {
	cfgPath := strings.TrimSpace(viper.GetString("config"))
	explicit := cfgPath != ""

	if cfgPath == "" {
		if dir, err := whatsapp.DefaultConfigDir(); err == nil {
			candidate := filepath.Join(dir, whatsapp.DefaultConfigFileName)
			if _, err := os.Stat(candidate); err == nil {
				cfgPath = candidate
			}
		}
	}
	if cfgPath == "" {
		return "", nil
	}

	expanded, err := expandPath(cfgPath)
	if err != nil {
		return "", fmt.Errorf("expand config path %q: %w", cfgPath, err)
	}
	info, err := os.Stat(expanded)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return "", nil
		}
		return "", fmt.Errorf("config file %q: %w", expanded, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("config file %q is a directory", expanded)
	}

	viper.SetConfigFile(expanded)
	if err := viper.ReadInConfig(); err != nil {
		return "", fmt.Errorf("read config file %q: %w", expanded, err)
	}
	return expanded, nil
}

func expandPath(p string) (string, error) {
	if p == "" {
		return "", nil
	}
	if strings.HasPrefix(p, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		if len(p) == 1 {
			p = home
		} else if p[1] == '/' || p[1] == '\\' {
			p = filepath.Join(home, p[2:])
		}
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	return abs, nil
}
