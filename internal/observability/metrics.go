// Package observability provides OpenTelemetry instrumentation for tracing and metrics.
package observability

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
)

// InitMetrics initializes the OpenTelemetry metrics provider with a Prometheus exporter.
// It returns the HTTP handler for the /metrics endpoint and a shutdown function.
// The shutdown function should be called on application exit for graceful cleanup.
func InitMetrics() (http.Handler, func(context.Context) error, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := metric.NewMeterProvider(
		metric.WithReader(exporter),
	)

	otel.SetMeterProvider(provider)

	return promhttp.Handler(), provider.Shutdown, nil
}

// RegisterActiveJobsGauge registers an observable gauge reporting the
// number of active jobs per owner. The count callback runs only when the
// endpoint is scraped.
func RegisterActiveJobsGauge(serviceName string, owners func(context.Context) ([]string, error), count func(context.Context, string) (int, error)) error {
	meter := otel.Meter(serviceName)
	_, err := meter.Int64ObservableGauge("agentplane.jobs.active",
		otelmetric.WithDescription("Current number of queued and running jobs per owner"),
		otelmetric.WithInt64Callback(func(ctx context.Context, obs otelmetric.Int64Observer) error {
			ids, err := owners(ctx)
			if err != nil {
				// Never fail a scrape on a store error.
				return nil
			}
			for _, id := range ids {
				n, err := count(ctx, id)
				if err != nil {
					continue
				}
				obs.Observe(int64(n), otelmetric.WithAttributes(attribute.String("owner_id", id)))
			}
			return nil
		}),
	)
	return err
}
