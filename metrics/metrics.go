// Package metrics defines the Prometheus collectors exported by the node.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const Namespace = "eventnode"

const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

func NewCounter(name, subsystem, help string, labels []string) *prometheus.CounterVec {
	return promauto.NewCounterVec(prometheus.CounterOpts{Namespace: Namespace, Subsystem: subsystem, Name: name, Help: help}, labels)
}

func NewGauge(name, subsystem, help string, labels []string) *prometheus.GaugeVec {
	return promauto.NewGaugeVec(prometheus.GaugeOpts{Namespace: Namespace, Subsystem: subsystem, Name: name, Help: help}, labels)
}

func NewHistogram(name, subsystem, help string, labels []string, buckets []float64) *prometheus.HistogramVec {
	return promauto.NewHistogramVec(prometheus.HistogramOpts{Namespace: Namespace, Subsystem: subsystem, Name: name, Help: help, Buckets: buckets}, labels)
}

var (
	// PeerContacts counts peer calls by endpoint and outcome (ok, transport, status, parse).
	PeerContacts = NewCounter("contacts_total", "peer", "Peer endpoint calls by outcome", []string{"endpoint", "outcome"})

	KnownPeers  = NewGauge("known", "peer", "Number of peers in the registry", nil)
	ElectedPeer = NewGauge("elected_block", "peer", "Block height reported by the elected peer", nil)

	SyncRounds        = NewCounter("rounds_total", "sync", "Completed handshake rounds", nil)
	SyncRoundDuration = NewHistogram("round_seconds", "sync", "Duration of a handshake round", nil, prometheus.ExponentialBuckets(0.01, 2, 12))

	// ProviderChunks counts provider range queries by event kind and outcome.
	ProviderChunks = NewCounter("chunks_total", "provider", "Provider range queries by outcome", []string{"kind", "outcome"})
	ProviderStep   = NewGauge("step_blocks", "provider", "Current adaptive chunk size", []string{"kind"})

	IndexedEvents = NewGauge("indexed", "events", "Events stored in the local index", []string{"kind"})
	SyncedBlock   = NewGauge("synced_block", "events", "Highest block covered by the local index", nil)
)

func ObserveRound(d time.Duration) {
	SyncRounds.WithLabelValues().Inc()
	SyncRoundDuration.WithLabelValues().Observe(d.Seconds())
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
