// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics exposes engagement counters through OpenTelemetry with a
// Prometheus exporter.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelglobal "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

const meterName = "github.com/avasales/engage"

// Attribute keys shared by all instruments.
var (
	AttrLocation = attribute.Key("location")
	AttrOutcome  = attribute.Key("outcome")
	AttrReason   = attribute.Key("reason")
	AttrStatus   = attribute.Key("status")
)

// InitMeterProvider installs a global MeterProvider backed by a Prometheus
// registry and returns the /metrics handler.
func InitMeterProvider(ctx context.Context, serviceName string) (http.Handler, error) {
	if serviceName == "" {
		serviceName = "engage"
	}
	reg := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(reg))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, err
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)
	otelglobal.SetMeterProvider(provider)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true}), nil
}

// Meter returns the global meter for the service.
func Meter() metric.Meter {
	return otelglobal.Meter(meterName)
}

// Recorder holds the engagement instruments. A nil *Recorder is valid and
// records nothing.
type Recorder struct {
	outcomes      metric.Int64Counter
	escalations   metric.Int64Counter
	webhookEvents metric.Int64Counter
	tokenRefresh  metric.Int64Counter
	generation    metric.Float64Histogram
}

// NewRecorder creates the instruments on meter.
func NewRecorder(meter metric.Meter) (*Recorder, error) {
	r := &Recorder{}
	var err error
	r.outcomes, err = meter.Int64Counter("engage_events_total",
		metric.WithDescription("Processed inbound events by outcome"))
	if err != nil {
		return nil, err
	}
	r.escalations, err = meter.Int64Counter("engage_escalations_total",
		metric.WithDescription("Operator notifications by reason"))
	if err != nil {
		return nil, err
	}
	r.webhookEvents, err = meter.Int64Counter("engage_webhook_events_total",
		metric.WithDescription("Webhook deliveries by status"))
	if err != nil {
		return nil, err
	}
	r.tokenRefresh, err = meter.Int64Counter("engage_token_refresh_total",
		metric.WithDescription("CRM access token refreshes"))
	if err != nil {
		return nil, err
	}
	r.generation, err = meter.Float64Histogram("engage_generation_duration_seconds",
		metric.WithDescription("Reply generation latency in seconds"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Outcome counts one processed event.
func (r *Recorder) Outcome(ctx context.Context, location, outcome string) {
	if r == nil {
		return
	}
	r.outcomes.Add(ctx, 1, metric.WithAttributes(
		AttrLocation.String(location),
		AttrOutcome.String(outcome),
	))
}

// Escalation counts one operator notification.
func (r *Recorder) Escalation(ctx context.Context, location, reason string) {
	if r == nil {
		return
	}
	r.escalations.Add(ctx, 1, metric.WithAttributes(
		AttrLocation.String(location),
		AttrReason.String(reason),
	))
}

// WebhookEvent counts one webhook delivery.
func (r *Recorder) WebhookEvent(ctx context.Context, status string) {
	if r == nil {
		return
	}
	r.webhookEvents.Add(ctx, 1, metric.WithAttributes(AttrStatus.String(status)))
}

// TokenRefresh counts one access token refresh.
func (r *Recorder) TokenRefresh(ctx context.Context, location string) {
	if r == nil {
		return
	}
	r.tokenRefresh.Add(ctx, 1, metric.WithAttributes(AttrLocation.String(location)))
}

// Generation records how long a reply took to generate.
func (r *Recorder) Generation(ctx context.Context, location string, d time.Duration, ok bool) {
	if r == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	r.generation.Record(ctx, d.Seconds(), metric.WithAttributes(
		AttrLocation.String(location),
		AttrStatus.String(status),
	))
}
