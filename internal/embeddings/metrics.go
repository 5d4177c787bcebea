package embeddings

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	batchCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "helix_embed_batch_count_total",
		Help: "Total number of batches run through the model",
	}, []string{"device"})

	sequencesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "helix_embed_sequences_total",
		Help: "Total number of sequences embedded by the model",
	}, []string{"device"})

	tokensProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "helix_embed_tokens_total",
		Help: "Total number of tokens embedded by the model",
	}, []string{"device"})

	batchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "helix_embed_batch_duration_seconds",
		Help:    "Time spent embedding one batch, cache lookups included",
		Buckets: prometheus.DefBuckets,
	})

	// Cache metrics
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "helix_cache_hits_total",
		Help: "Embeddings served from the cache, either strand",
	})

	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "helix_cache_misses_total",
		Help: "Embeddings computed because no strand was cached",
	})
)
