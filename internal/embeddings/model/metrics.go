package model

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StageDuration tracks end-to-end model passes
	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "helix_model_stage_duration_seconds",
		Help:    "Time spent in model forward, logits and pooling stages",
		Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"stage"})

	// TokensProcessed counts tokens run through the encoder
	TokensProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "helix_model_tokens_total",
		Help: "Total number of tokens encoded",
	})
)

func observe(stage string, start time.Time) {
	StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}
