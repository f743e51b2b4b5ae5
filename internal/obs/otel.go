package obs

import (
	"context"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Providers bundles the tracer/meter handles a run needs and the function
// that flushes and tears them down at process exit.
type Providers struct {
	Tracer   trace.Tracer
	Meter    metric.Meter
	Shutdown func(context.Context)
}

// Init configures tracing and metrics for component. When
// OTEL_EXPORTER_OTLP_ENDPOINT is unset, a no-op provider is installed so a
// bare invocation never blocks trying to reach a collector.
func Init(ctx context.Context, component string) *Providers {
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		return &Providers{
			Tracer:   otel.Tracer(component),
			Meter:    otel.Meter(component),
			Shutdown: func(context.Context) {},
		}
	}

	res, _ := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(component),
	))

	traceExp, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		slog.Warn("otel trace exporter init failed, continuing with no-op tracer", "error", err)
		return &Providers{
			Tracer:   otel.Tracer(component),
			Meter:    otel.Meter(component),
			Shutdown: func(context.Context) {},
		}
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(traceExp), sdktrace.WithResource(res))
	otel.SetTracerProvider(tp)

	metricOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	metricExp, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(endpoint),
		otlpmetricgrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		slog.Warn("otel metric exporter init failed, metrics will not be exported", "error", err)
	} else {
		metricOpts = append(metricOpts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp, sdkmetric.WithInterval(10*time.Second))))
	}
	mp := sdkmetric.NewMeterProvider(metricOpts...)
	otel.SetMeterProvider(mp)

	slog.Info("otel initialized", "endpoint", endpoint)
	return &Providers{
		Tracer: otel.Tracer(component),
		Meter:  otel.Meter(component),
		Shutdown: func(ctx context.Context) {
			ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			defer cancel()
			_ = tp.Shutdown(ctx)
			_ = mp.Shutdown(ctx)
		},
	}
}
