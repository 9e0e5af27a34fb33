// Package telemetry registers the server's prometheus collectors. The
// default registry is served on the admin /metrics endpoint.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// SessionsLive tracks currently connected client sessions.
	SessionsLive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "parley_sessions_live",
		Help: "Number of live client connections.",
	})

	// RequestsTotal counts dispatched protocol requests by opcode name.
	RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_requests_total",
		Help: "Protocol requests dispatched, by opcode.",
	}, []string{"opcode"})

	// BroadcastsTotal counts push frames fanned out to subscribers.
	BroadcastsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_broadcasts_total",
		Help: "Push frames fanned out, by kind (message|conversation).",
	}, []string{"kind"})

	// RelayCyclesTotal counts inbound relay poll cycles by outcome.
	RelayCyclesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_relay_cycles_total",
		Help: "Relay poll cycles, by outcome (ok|error|stalled).",
	}, []string{"outcome"})

	// RelayBundlesIngested counts bundles merged into the local store.
	RelayBundlesIngested = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "parley_relay_bundles_ingested_total",
		Help: "Relay bundles fully ingested.",
	})

	// ConnectionsRefused counts connections dropped by the accept limiter.
	ConnectionsRefused = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "parley_connections_refused_total",
		Help: "Connections refused by the per-IP accept limiter.",
	})
)

func init() {
	prometheus.MustRegister(
		SessionsLive,
		RequestsTotal,
		BroadcastsTotal,
		RelayCyclesTotal,
		RelayBundlesIngested,
		ConnectionsRefused,
	)
}
