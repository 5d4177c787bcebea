package device

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	poolHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "helix_cpu_pool_hits_total",
		Help: "Total number of tensor pool retrievals that reused a buffer",
	})

	poolMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "helix_cpu_pool_misses_total",
		Help: "Total number of tensor pool retrievals that allocated a buffer",
	})
)
