// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "adpool"

// Metrics holds all prometheus collectors for ad pools and arbitration.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Pool metrics
	FetchesTotal  *prometheus.CounterVec
	FetchDuration *prometheus.HistogramVec
	Evictions     *prometheus.CounterVec
	AvailableAds  *prometheus.GaugeVec
	PoolSize      *prometheus.GaugeVec

	// Arbitration metrics
	ArbitrageWins      *prometheus.CounterVec
	ArbitrageFallbacks prometheus.Counter
	FetchesSkipped     *prometheus.CounterVec

	// Revenue metrics
	RevenuePaid *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on a private registry
func NewMetrics() (*Metrics, error) {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.FetchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fetches_total",
		Help:      "Total number of network fetches by result",
	}, []string{"network", "ad_unit", "result"})

	m.FetchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "fetch_duration_seconds",
		Help:      "Time spent waiting on the network for an ad",
		Buckets:   prometheus.DefBuckets,
	}, []string{"network"})

	m.Evictions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "evictions_total",
		Help:      "Total number of ads destroyed to keep the pool bounded",
	}, []string{"network", "ad_unit"})

	m.AvailableAds = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "available_ads",
		Help:      "Fresh, unlocked, servable ads in the pool",
	}, []string{"network", "ad_unit"})

	m.PoolSize = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pool_size",
		Help:      "Ads currently held by the pool",
	}, []string{"network", "ad_unit"})

	m.ArbitrageWins = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "arbitrage_wins_total",
		Help:      "Requests won by each network",
	}, []string{"network"})

	m.ArbitrageFallbacks = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "arbitrage_fallbacks_total",
		Help:      "Requests served with an already rendered ad",
	})

	m.FetchesSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fetches_skipped_total",
		Help:      "Fetches skipped because one was already in flight",
	}, []string{"network"})

	m.RevenuePaid = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "revenue_paid_total",
		Help:      "Revenue attributed by networks",
	}, []string{"network"})

	collectors := []prometheus.Collector{
		m.FetchesTotal,
		m.FetchDuration,
		m.Evictions,
		m.AvailableAds,
		m.PoolSize,
		m.ArbitrageWins,
		m.ArbitrageFallbacks,
		m.FetchesSkipped,
		m.RevenuePaid,
	}
	for _, c := range collectors {
		if err := m.registry.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// GetGatherer returns the prometheus gatherer for metrics export
func (m *Metrics) GetGatherer() prometheus.Gatherer {
	if m == nil {
		return prometheus.DefaultGatherer
	}
	return m.registry
}

// GetRegisterer returns the prometheus registerer
func (m *Metrics) GetRegisterer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// ObserveFetch records one completed fetch
func (m *Metrics) ObserveFetch(network, adUnit string, took time.Duration, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.FetchesTotal.WithLabelValues(network, adUnit, result).Inc()
	m.FetchDuration.WithLabelValues(network).Observe(took.Seconds())
}

func (m *Metrics) ObserveEviction(network, adUnit string) {
	if m == nil {
		return
	}
	m.Evictions.WithLabelValues(network, adUnit).Inc()
}

// SetPool publishes the pool gauges
func (m *Metrics) SetPool(network, adUnit string, size, available int) {
	if m == nil {
		return
	}
	m.PoolSize.WithLabelValues(network, adUnit).Set(float64(size))
	m.AvailableAds.WithLabelValues(network, adUnit).Set(float64(available))
}

func (m *Metrics) ObserveWin(network string) {
	if m == nil {
		return
	}
	m.ArbitrageWins.WithLabelValues(network).Inc()
}

func (m *Metrics) ObserveFallback() {
	if m == nil {
		return
	}
	m.ArbitrageFallbacks.Inc()
}

func (m *Metrics) ObserveSkippedFetch(network string) {
	if m == nil {
		return
	}
	m.FetchesSkipped.WithLabelValues(network).Inc()
}

func (m *Metrics) ObserveRevenue(network string, amount float64) {
	if m == nil || amount <= 0 {
		return
	}
	m.RevenuePaid.WithLabelValues(network).Add(amount)
}
