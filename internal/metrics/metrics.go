package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PixelsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ccdc_pixels_total",
			Help: "Pixels seen by the raster driver, by outcome",
		},
		[]string{"outcome"}, // skipped, unchanged, changed, failed
	)

	ChangesDetected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ccdc_changes_detected_total",
			Help: "Non-initial change events detected across all pixels",
		},
	)

	FitHalts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ccdc_fit_halts_total",
			Help: "Pixels whose segmentation stopped early on a fit window with too few observations",
		},
	)

	PixelLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ccdc_pixel_segmentation_seconds",
			Help:    "Time spent segmenting one pixel",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		},
	)

	RasterRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ccdc_raster_runs_total",
			Help: "Raster driver runs, by status",
		},
		[]string{"status"}, // ok, invalid, cancelled
	)

	FetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ccdc_fetch_files_total",
			Help: "Stack files fetched from remote sources, by status",
		},
		[]string{"source", "status"}, // status: downloaded, cached, error
	)

	FetchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ccdc_fetch_latency_seconds",
			Help:    "Remote file fetch latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)
)
