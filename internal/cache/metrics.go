package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quiver_cache_hits_total",
		Help: "Total number of allocations served from the call-site cache",
	}, []string{"device"})

	cacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quiver_cache_misses_total",
		Help: "Total number of call-site cache misses (allocations)",
	}, []string{"device"})

	cacheEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quiver_cache_evictions_total",
		Help: "Total number of cached regions freed because the site changed size",
	}, []string{"device"})

	cacheResident = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "quiver_cache_resident_regions",
		Help: "Current number of regions resident in the cache",
	}, []string{"device"})

	cacheResidentBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "quiver_cache_resident_bytes",
		Help: "Current size of regions resident in the cache in bytes",
	}, []string{"device"})
)

type cacheMetrics struct {
	hits          prometheus.Counter
	misses        prometheus.Counter
	evictions     prometheus.Counter
	resident      prometheus.Gauge
	residentBytes prometheus.Gauge
}

func newCacheMetrics(device string) cacheMetrics {
	return cacheMetrics{
		hits:          cacheHits.WithLabelValues(device),
		misses:        cacheMisses.WithLabelValues(device),
		evictions:     cacheEvictions.WithLabelValues(device),
		resident:      cacheResident.WithLabelValues(device),
		residentBytes: cacheResidentBytes.WithLabelValues(device),
	}
}
