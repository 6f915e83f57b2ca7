package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelruntime "go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	otelprometheus "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"pkt.systems/pslog"
)

type telemetryBundle struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	registry       *prometheus.Registry
	metricsServer  *http.Server
	metricsLn      net.Listener
	pprofServer    *http.Server
	pprofLn        net.Listener
	logger         pslog.Logger
}

type otelErrorHandler struct {
	logger pslog.Logger
}

func (h otelErrorHandler) Handle(err error) {
	if err == nil {
		return
	}
	if h.logger != nil {
		h.logger.Warn("telemetry.exporter.error", "error", err)
	}
}

func (t *telemetryBundle) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	var errs []error
	if t.meterProvider != nil {
		if err := t.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metric shutdown: %w", err))
		}
	}
	if t.metricsServer != nil {
		if err := t.metricsServer.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs = append(errs, fmt.Errorf("metrics server shutdown: %w", err))
		}
	}
	if t.metricsLn != nil {
		_ = t.metricsLn.Close()
	}
	if t.pprofServer != nil {
		if err := t.pprofServer.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs = append(errs, fmt.Errorf("pprof server shutdown: %w", err))
		}
	}
	if t.pprofLn != nil {
		_ = t.pprofLn.Close()
	}
	if t.tracerProvider != nil {
		if err := t.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("trace shutdown: %w", err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	if t.logger != nil {
		t.logger.Info("telemetry.shutdown.complete")
	}
	return nil
}

// Registerer exposes the metrics registry for gateway counters. Nil when
// metrics are disabled.
func (t *telemetryBundle) Registerer() prometheus.Registerer {
	if t == nil || t.registry == nil {
		return nil
	}
	return t.registry
}

type otlpTarget struct {
	protocol string // "grpc" or "http"
	endpoint string // host:port
	path     string
	insecure bool
}

func setupTelemetry(ctx context.Context, endpoint, metricsListen, pprofListen string, enableProfilingMetrics bool, logger pslog.Logger) (*telemetryBundle, error) {
	if strings.TrimSpace(endpoint) == "" && strings.TrimSpace(metricsListen) == "" && strings.TrimSpace(pprofListen) == "" && !enableProfilingMetrics {
		return nil, nil
	}
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	res, err := resource.New(ctx,
		resource.WithSchemaURL(semconv.SchemaURL),
		resource.WithAttributes(
			semconv.ServiceName("livechatd"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	var (
		traceProvider *sdktrace.TracerProvider
		meterProvider *sdkmetric.MeterProvider
		registry      *prometheus.Registry
		metricsServer *http.Server
		metricsLn     net.Listener
		pprofServer   *http.Server
		pprofLn       net.Listener
		target        otlpTarget
	)

	if strings.TrimSpace(endpoint) != "" {
		target, err = resolveOTLPTarget(endpoint)
		if err != nil {
			return nil, err
		}
		switch target.protocol {
		case "grpc":
			traceProvider, err = setupGRPCTracing(ctx, target, res)
		case "http":
			traceProvider, err = setupHTTPTracing(ctx, target, res)
		default:
			return nil, fmt.Errorf("telemetry: unsupported protocol %q", target.protocol)
		}
		if err != nil {
			return nil, err
		}
		otel.SetTracerProvider(traceProvider)
		logger.Info("telemetry.tracing.enabled",
			"protocol", target.protocol,
			"endpoint", target.endpoint,
			"path", target.path,
			"insecure", target.insecure,
		)
	}

	metricsListen = strings.TrimSpace(metricsListen)
	if metricsListen != "" {
		registry = prometheus.NewRegistry()
		exporterOpts := []otelprometheus.Option{otelprometheus.WithRegisterer(registry)}
		if enableProfilingMetrics {
			exporterOpts = append(exporterOpts, otelprometheus.WithProducer(otelruntime.NewProducer()))
		}
		exporter, err := otelprometheus.New(exporterOpts...)
		if err != nil {
			if traceProvider != nil {
				_ = traceProvider.Shutdown(ctx)
			}
			return nil, fmt.Errorf("telemetry: start prometheus exporter: %w", err)
		}
		meterProvider = sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(exporter),
		)
		otel.SetMeterProvider(meterProvider)
		if enableProfilingMetrics {
			if err := otelruntime.Start(otelruntime.WithMeterProvider(meterProvider)); err != nil {
				if traceProvider != nil {
					_ = traceProvider.Shutdown(ctx)
				}
				_ = meterProvider.Shutdown(ctx)
				return nil, fmt.Errorf("telemetry: start runtime metrics: %w", err)
			}
			logger.Info("profiling.metrics.enabled")
		}
		metricsHandler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
		metricsServer, metricsLn, err = startMetricsServer(metricsListen, metricsHandler, logger)
		if err != nil {
			if traceProvider != nil {
				_ = traceProvider.Shutdown(ctx)
			}
			_ = meterProvider.Shutdown(ctx)
			return nil, err
		}
		logger.Info("telemetry.metrics.enabled", "listen", metricsListen)
	} else if enableProfilingMetrics {
		return nil, fmt.Errorf("telemetry: profiling metrics require metrics listen address")
	}

	pprofListen = strings.TrimSpace(pprofListen)
	if pprofListen != "" {
		pprofServer, pprofLn, err = startPprofServer(pprofListen, logger)
		if err != nil {
			if traceProvider != nil {
				_ = traceProvider.Shutdown(ctx)
			}
			if meterProvider != nil {
				_ = meterProvider.Shutdown(ctx)
			}
			return nil, err
		}
		logger.Info("profiling.pprof.enabled", "listen", pprofListen)
	}

	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	)
	otel.SetErrorHandler(otelErrorHandler{logger: logger})

	return &telemetryBundle{
		tracerProvider: traceProvider,
		meterProvider:  meterProvider,
		registry:       registry,
		metricsServer:  metricsServer,
		metricsLn:      metricsLn,
		pprofServer:    pprofServer,
		pprofLn:        pprofLn,
		logger:         logger,
	}, nil
}

func setupGRPCTracing(ctx context.Context, target otlpTarget, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	traceOpts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(target.endpoint),
		otlptracegrpc.WithTimeout(10 * time.Second),
	}
	if target.insecure {
		traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
		traceOpts = append(traceOpts, otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
	} else {
		tlsConfig := credentials.NewClientTLSFromCert(nil, "")
		traceOpts = append(traceOpts, otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(tlsConfig)))
	}
	traceExporter, err := otlptracegrpc.New(ctx, traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: start trace exporter (grpc): %w", err)
	}

	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(1.0))),
		sdktrace.WithBatcher(traceExporter),
	)
	return traceProvider, nil
}

func setupHTTPTracing(ctx context.Context, target otlpTarget, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	traceOpts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(target.endpoint),
		otlptracehttp.WithTimeout(10 * time.Second),
	}
	if target.insecure {
		traceOpts = append(traceOpts, otlptracehttp.WithInsecure())
	}
	if target.path != "" && target.path != "/" {
		traceOpts = append(traceOpts, otlptracehttp.WithURLPath(target.path))
	}

	traceExporter, err := otlptracehttp.New(ctx, traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: start trace exporter (http): %w", err)
	}

	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(1.0))),
		sdktrace.WithBatcher(traceExporter),
	)
	return traceProvider, nil
}

func startMetricsServer(addr string, handler http.Handler, logger pslog.Logger) (*http.Server, net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("telemetry: metrics listen: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{
		Handler: mux,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			if logger != nil {
				logger.Warn("telemetry.metrics.serve_error", "error", err)
			}
		}
	}()
	return srv, ln, nil
}

func startPprofServer(addr string, logger pslog.Logger) (*http.Server, net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("profiling: pprof listen: %w", err)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	srv := &http.Server{
		Handler: mux,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			if logger != nil {
				logger.Warn("profiling.pprof.serve_error", "error", err)
			}
		}
	}()
	return srv, ln, nil
}

// resolveOTLPTarget accepts forms like "otel-collector:4317",
// "grpc://host:4317", "http://host:4318/v1/traces" or "https://host".
func resolveOTLPTarget(endpoint string) (otlpTarget, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return otlpTarget{}, fmt.Errorf("telemetry: empty endpoint")
	}
	if !strings.Contains(trimmed, "://") {
		return otlpTarget{protocol: "grpc", endpoint: trimmed, insecure: true}, nil
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return otlpTarget{}, fmt.Errorf("telemetry: parse endpoint: %w", err)
	}
	host := u.Host
	if host == "" {
		return otlpTarget{}, fmt.Errorf("telemetry: endpoint %q missing host", endpoint)
	}
	switch u.Scheme {
	case "grpc":
		return otlpTarget{protocol: "grpc", endpoint: host, insecure: true}, nil
	case "grpcs":
		return otlpTarget{protocol: "grpc", endpoint: host}, nil
	case "http":
		if u.Port() == "" {
			host = net.JoinHostPort(u.Hostname(), "4318")
		}
		return otlpTarget{protocol: "http", endpoint: host, path: u.Path, insecure: true}, nil
	case "https":
		if u.Port() == "" {
			host = net.JoinHostPort(u.Hostname(), "443")
		}
		return otlpTarget{protocol: "http", endpoint: host, path: u.Path}, nil
	default:
		return otlpTarget{}, fmt.Errorf("telemetry: unsupported scheme %q", u.Scheme)
	}
}
