// Package metrics exposes firefly activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sweeney/fireflies/internal/logic"
)

var (
	flashesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fireflies",
		Name:      "flashes_total",
		Help:      "Number of times each firefly has lit",
	}, []string{"firefly"})

	lit = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "fireflies",
		Name:      "lit",
		Help:      "Whether each firefly is currently lit (1) or dark (0)",
	}, []string{"firefly"})

	faultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fireflies",
		Name:      "hardware_faults_total",
		Help:      "Number of output write failures per firefly",
	}, []string{"firefly"})

	nextDelay     prometheus.Histogram
	nextDelayOnce sync.Once
)

// Setup registers the pending delay histogram with buckets spanning the
// delays timing can draw. Only the first call has any effect; call it before
// the first Observe.
func Setup(timing logic.Timing) {
	nextDelayOnce.Do(func() {
		nextDelay = promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "fireflies",
			Name:      "pending_delay_seconds",
			Help:      "Pending delay drawn each time a firefly goes dark",
			Buckets:   delayBuckets(timing),
		})
	})
}

// delayBuckets splits [Light+MinDark, Light+MaxDark] into five equal bands.
func delayBuckets(t logic.Timing) []float64 {
	lo := (t.Light + t.MinDark).Seconds()
	span := (t.MaxDark - t.MinDark).Seconds()
	if span <= 0 {
		return []float64{lo}
	}
	return prometheus.LinearBuckets(lo, span/5, 6)
}

// Register initialises the per-firefly series so they are exported before
// the first flash.
func Register(label string) {
	flashesTotal.WithLabelValues(label)
	faultsTotal.WithLabelValues(label)
	lit.WithLabelValues(label).Set(0)
}

// Observe records a firefly event.
func Observe(ev logic.Event) {
	switch ev.Type {
	case logic.EventLightOn:
		flashesTotal.WithLabelValues(ev.Label).Inc()
		lit.WithLabelValues(ev.Label).Set(1)
	case logic.EventLightOff:
		lit.WithLabelValues(ev.Label).Set(0)
		// Shutdown darkening draws no delay.
		if nextDelay != nil && ev.NextDelay > 0 {
			nextDelay.Observe(ev.NextDelay.Seconds())
		}
	case logic.EventFault:
		faultsTotal.WithLabelValues(ev.Label).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler.
// This collects all promauto-registered metrics automatically.
func Handler() http.Handler {
	return promhttp.Handler()
}
