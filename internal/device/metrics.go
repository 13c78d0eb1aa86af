package device

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	deviceAllocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quiver_device_allocations_total",
		Help: "Total number of regions allocated on the backend",
	}, []string{"device"})

	deviceFrees = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quiver_device_frees_total",
		Help: "Total number of regions released to the backend",
	}, []string{"device"})

	deviceLiveBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "quiver_device_live_bytes",
		Help: "Current size of live regions on the backend in bytes",
	}, []string{"device"})
)

type deviceMetrics struct {
	allocations prometheus.Counter
	frees       prometheus.Counter
	liveBytes   prometheus.Gauge
}

func newDeviceMetrics(name string) deviceMetrics {
	return deviceMetrics{
		allocations: deviceAllocations.WithLabelValues(name),
		frees:       deviceFrees.WithLabelValues(name),
		liveBytes:   deviceLiveBytes.WithLabelValues(name),
	}
}

func (s *Stats) allocated(m deviceMetrics, bytes int) {
	s.Allocations++
	s.LiveRegions++
	s.LiveBytes += bytes
	if s.LiveBytes > s.PeakBytes {
		s.PeakBytes = s.LiveBytes
	}
	m.allocations.Inc()
	m.liveBytes.Add(float64(bytes))
}

func (s *Stats) freed(m deviceMetrics, bytes int) {
	s.Frees++
	s.LiveRegions--
	s.LiveBytes -= bytes
	m.frees.Inc()
	m.liveBytes.Sub(float64(bytes))
}
