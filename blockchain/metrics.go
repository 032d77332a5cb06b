package blockchain

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	blocksConnectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "candyd",
		Subsystem: "chain",
		Name:      "blocks_connected_total",
		Help:      "Blocks applied to the active chain.",
	})

	blocksDisconnectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "candyd",
		Subsystem: "chain",
		Name:      "blocks_disconnected_total",
		Help:      "Blocks undone from the active chain.",
	})

	reorgDepth = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "candyd",
		Subsystem: "chain",
		Name:      "reorg_depth",
		Help:      "Depth of chain reorganizations.",
		Buckets:   []float64{1, 2, 3, 5, 10, 20, 50},
	})

	blockValidationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "candyd",
		Subsystem: "chain",
		Name:      "block_validation_failures_total",
		Help:      "Blocks rejected by consensus validation.",
	})
)
