// Package observability bootstraps tracing export and the process-level
// metrics that describe a running dispatcher.
package observability

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc/credentials"

	"github.com/tbourn/go-dispatch-backend/internal/config"
)

// Deployment describes the running process. It is attached to every span
// as resource attributes and exported once as the dispatch_build_info gauge.
type Deployment struct {
	Version      string
	StoreBackend string // sqlite|etcd
	Telegram     bool   // bot channel enabled
}

func (d Deployment) attributes(serviceName string) []attribute.KeyValue {
	return []attribute.KeyValue{
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(d.Version),
		attribute.String("dispatch.store_backend", d.StoreBackend),
		attribute.Bool("dispatch.telegram", d.Telegram),
	}
}

// test seams
var (
	newOTLPClient = otlptracegrpc.NewClient

	newOTLPExporterFn = func(ctx context.Context, client otlptrace.Client) (*otlptrace.Exporter, error) {
		return otlptrace.New(ctx, client)
	}

	newResourceFn = func(ctx context.Context, attrs ...attribute.KeyValue) (*resource.Resource, error) {
		return resource.New(ctx, resource.WithAttributes(attrs...))
	}
)

// SetupOTel configures OpenTelemetry tracing and returns a shutdown function.
// When tracing is disabled the globals are left alone and shutdown is a no-op.
func SetupOTel(ctx context.Context, cfg config.OTELConfig, d Deployment) (func(context.Context) error, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	} else {
		opts = append(opts, otlptracegrpc.WithTLSCredentials(credentials.NewClientTLSFromCert(nil, "")))
	}

	exp, err := newOTLPExporterFn(ctx, newOTLPClient(opts...))
	if err != nil {
		return nil, err
	}

	res, err := newResourceFn(ctx, d.attributes(cfg.ServiceName)...)
	if err != nil {
		return nil, errors.Join(err, exp.Shutdown(ctx))
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))

	return tp.Shutdown, nil
}

// NewBuildInfo returns a constant gauge set to 1 and labelled with d.
func NewBuildInfo(d Deployment) prometheus.Gauge {
	telegram := "off"
	if d.Telegram {
		telegram = "on"
	}
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dispatch_build_info",
		Help: "Build and deployment information of the running dispatcher.",
		ConstLabels: prometheus.Labels{
			"version":       d.Version,
			"store_backend": d.StoreBackend,
			"telegram":      telegram,
		},
	})
	g.Set(1)
	return g
}

// RegisterBuildInfo registers the build info gauge with reg. Registering the
// same deployment twice is not an error.
func RegisterBuildInfo(reg prometheus.Registerer, d Deployment) error {
	err := reg.Register(NewBuildInfo(d))
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		return nil
	}
	return err
}
