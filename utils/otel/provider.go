package otel

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config holds OpenTelemetry initialization settings.
type Config struct {
	ServiceName  string
	Enabled      bool
	OTLPEndpoint string
}

// ConfigFromEnv reads OTel settings from the environment.
func ConfigFromEnv() Config {
	enabled := true
	if v := os.Getenv("OTEL_ENABLED"); v != "" {
		enabled = strings.EqualFold(v, "true") || v == "1"
	}

	serviceName := os.Getenv("OTEL_SERVICE_NAME")
	if serviceName == "" {
		serviceName = "osusu-auth"
	}

	return Config{
		ServiceName:  serviceName,
		Enabled:      enabled,
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}
}

// InitProvider sets up tracing and log export over OTLP/HTTP and returns a
// shutdown func. When disabled, both the provider and the shutdown func are
// no-ops.
func InitProvider(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
		),
	)
	if err != nil {
		return func(context.Context) error { return nil }, err
	}

	initCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var traceOpts []otlptracehttp.Option
	var logOpts []otlploghttp.Option
	if cfg.OTLPEndpoint != "" {
		traceOpts = append(traceOpts, otlptracehttp.WithEndpointURL(cfg.OTLPEndpoint))
		logOpts = append(logOpts, otlploghttp.WithEndpointURL(cfg.OTLPEndpoint))
	}

	traceExporter, err := otlptracehttp.New(initCtx, traceOpts...)
	if err != nil {
		return func(context.Context) error { return nil }, err
	}

	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logExporter, err := otlploghttp.New(initCtx, logOpts...)
	if err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracerProvider.Shutdown(shutdownCtx)
		return func(context.Context) error { return nil }, err
	}

	loggerProvider := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExporter)),
		sdklog.WithResource(res),
	)
	global.SetLoggerProvider(loggerProvider)

	shutdown := func(ctx context.Context) error {
		return errors.Join(
			tracerProvider.Shutdown(ctx),
			loggerProvider.Shutdown(ctx),
		)
	}
	return shutdown, nil
}
