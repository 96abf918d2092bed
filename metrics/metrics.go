// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

// Package metrics exposes Prometheus instruments for the ledger replay.
// All methods are safe on a nil *Ledger.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type Ledger struct {
	eventsProcessed *prometheus.CounterVec
	handlerFailures *prometheus.CounterVec
	treasuryMints   prometheus.Counter
	readFailures    *prometheus.CounterVec
	lastBlock       prometheus.Gauge
	eventsSkipped   prometheus.Counter
	checkpoint      prometheus.Gauge
}

var (
	ledgerOnce     sync.Once
	ledgerRegistry *Ledger
)

// Default returns the process-wide instruments registered with the default
// Prometheus registerer.
func Default() *Ledger {
	ledgerOnce.Do(func() {
		ledgerRegistry = New()
		prometheus.MustRegister(ledgerRegistry.Collectors()...)
	})
	return ledgerRegistry
}

// New builds unregistered instruments.
func New() *Ledger {
	return &Ledger{
		eventsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lending_ledger_events_processed_total",
			Help: "Events applied to the ledger by kind.",
		}, []string{"kind"}),
		handlerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lending_ledger_handler_failures_total",
			Help: "Events whose handler returned an error, by kind.",
		}, []string{"kind"}),
		treasuryMints: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lending_ledger_treasury_mints_total",
			Help: "aToken mints credited to a treasury address.",
		}),
		readFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lending_ledger_contract_read_failures_total",
			Help: "Contract reads that reverted or failed, by call.",
		}, []string{"call"}),
		lastBlock: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lending_ledger_last_block",
			Help: "Block number of the last applied event.",
		}),
		eventsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lending_ledger_events_skipped_total",
			Help: "Events at or before the resume checkpoint.",
		}),
		checkpoint: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lending_replay_checkpoint_block",
			Help: "Block number of the persisted replay checkpoint.",
		}),
	}
}

// Collectors returns every instrument for registration.
func (m *Ledger) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.eventsProcessed,
		m.handlerFailures,
		m.treasuryMints,
		m.readFailures,
		m.lastBlock,
		m.eventsSkipped,
		m.checkpoint,
	}
}

func (m *Ledger) ObserveEvent(kind string, block uint64) {
	if m == nil {
		return
	}
	m.eventsProcessed.WithLabelValues(label(kind)).Inc()
	m.lastBlock.Set(float64(block))
}

func (m *Ledger) ObserveHandlerFailure(kind string) {
	if m == nil {
		return
	}
	m.handlerFailures.WithLabelValues(label(kind)).Inc()
}

func (m *Ledger) IncTreasuryMint() {
	if m == nil {
		return
	}
	m.treasuryMints.Inc()
}

func (m *Ledger) IncReadFailure(call string) {
	if m == nil {
		return
	}
	m.readFailures.WithLabelValues(label(call)).Inc()
}

func (m *Ledger) IncSkipped() {
	if m == nil {
		return
	}
	m.eventsSkipped.Inc()
}

func (m *Ledger) SetCheckpoint(block uint64) {
	if m == nil {
		return
	}
	m.checkpoint.Set(float64(block))
}

func label(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
