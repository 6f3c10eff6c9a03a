// Package metricsink adapts the orchestrator's trade outcomes to Prometheus
// metrics, grounded on the teacher's MetricsCollector/MetricsProvider shape
// (pkg/observability/metrics.go) but built directly on
// github.com/prometheus/client_golang rather than the OpenTelemetry
// metrics bridge, since this module does not carry the OTel SDK/exporter
// dependency the teacher pairs with it.
package metricsink

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"
	"net/http"

	"github.com/solbotswarm/orchestrator/internal/domain"
	"github.com/solbotswarm/orchestrator/internal/orcherr"
)

// Sink implements collaborators.MetricsSink, recording trade outcomes as
// Prometheus counters/histograms and exposing them via an HTTP handler.
type Sink struct {
	registry *prometheus.Registry

	tradesTotal    *prometheus.CounterVec
	volumeTotal    *prometheus.CounterVec
	feesTotal      *prometheus.CounterVec
	tradeSize      *prometheus.HistogramVec
}

// New constructs a Sink with its own registry (callers mount Handler()
// wherever they expose /metrics).
func New() *Sink {
	reg := prometheus.NewRegistry()
	s := &Sink{
		registry: reg,
		tradesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_trades_total",
			Help: "Total trades recorded, partitioned by success and side.",
		}, []string{"success", "side"}),
		volumeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_trade_volume_total",
			Help: "Cumulative trade volume in quote units, partitioned by token.",
		}, []string{"token_mint"}),
		feesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_trade_fees_total",
			Help: "Cumulative fees paid, partitioned by token.",
		}, []string{"token_mint"}),
		tradeSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "orchestrator_trade_size",
			Help:    "Distribution of individual trade sizes.",
			Buckets: prometheus.ExponentialBuckets(10, 2, 12),
		}, []string{"token_mint"}),
	}
	reg.MustRegister(s.tradesTotal, s.volumeTotal, s.feesTotal, s.tradeSize)
	return s
}

// Handler exposes the registry in the Prometheus text exposition format.
func (s *Sink) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// RecordTrade folds one trade outcome into the registered metrics. trade
// must be a *domain.TradeRecord; any other type is a programmer error.
func (s *Sink) RecordTrade(ctx context.Context, trade interface{}) error {
	tr, ok := trade.(*domain.TradeRecord)
	if !ok {
		return orcherr.Validation("metrics_sink", "record_trade", fmt.Errorf("unsupported trade type %T", trade))
	}

	success := "false"
	if tr.Success {
		success = "true"
	}
	s.tradesTotal.WithLabelValues(success, string(tr.Side)).Inc()
	if !tr.Success {
		return nil
	}

	amount, _ := tr.Amount.Float64()
	fees, _ := tr.Fees.Float64()
	s.volumeTotal.WithLabelValues(tr.TokenMint).Add(amount)
	s.feesTotal.WithLabelValues(tr.TokenMint).Add(fees)
	s.tradeSize.WithLabelValues(tr.TokenMint).Observe(amount)
	return nil
}

// exportSnapshot is the JSON shape returned by Export("json").
type exportSnapshot struct {
	TradesTotal float64 `json:"trades_total"`
}

// Export gathers the current metric families and returns them in the
// requested format. Only "json" (a coarse trade-count snapshot) and
// "prometheus" (the full text exposition) are supported.
func (s *Sink) Export(ctx context.Context, format string) (string, error) {
	switch format {
	case "prometheus":
		families, err := s.registry.Gather()
		if err != nil {
			return "", orcherr.TransientExternal("metrics_sink", "export", err)
		}
		var out strings.Builder
		for _, f := range families {
			if _, err := expfmt.MetricFamilyToText(&out, f); err != nil {
				return "", orcherr.InternalInvariant("metrics_sink", "export", err)
			}
		}
		return out.String(), nil
	case "json", "":
		families, err := s.registry.Gather()
		if err != nil {
			return "", orcherr.TransientExternal("metrics_sink", "export", err)
		}
		snap := exportSnapshot{}
		for _, f := range families {
			if f.GetName() != "orchestrator_trades_total" {
				continue
			}
			for _, m := range f.GetMetric() {
				if m.GetCounter() != nil {
					snap.TradesTotal += m.GetCounter().GetValue()
				}
			}
		}
		b, err := json.Marshal(snap)
		if err != nil {
			return "", orcherr.InternalInvariant("metrics_sink", "export", err)
		}
		return string(b), nil
	default:
		return "", orcherr.Validation("metrics_sink", "export", fmt.Errorf("unsupported format %q", format))
	}
}
