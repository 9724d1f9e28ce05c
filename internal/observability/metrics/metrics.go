package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"service", "method", "path", "status"},
	)

	HTTPRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: []float64{.005, .01, .05, .1, .5, 1, 5, 15, 30, 60},
		},
		[]string{"service", "method", "path"},
	)

	BindsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qrdrop_binds_total",
			Help: "Total number of bind requests by intent and result.",
		},
		[]string{"service", "intent", "result"},
	)

	PollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qrdrop_polls_total",
			Help: "Total number of completed long-polls by kind and outcome.",
		},
		[]string{"service", "kind", "outcome"},
	)

	FilesIngestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qrdrop_files_ingested_total",
			Help: "Total number of staged files.",
		},
		[]string{"service"},
	)

	FileBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "qrdrop_file_bytes",
			Help:    "Sizes of staged files.",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
		},
		[]string{"service"},
	)

	FilesDeliveredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qrdrop_files_delivered_total",
			Help: "Total number of files surfaced to a listing poll.",
		},
		[]string{"service"},
	)
)

func MustRegister(serviceName string) {
	HTTPRequestsTotal = HTTPRequestsTotal.MustCurryWith(prometheus.Labels{"service": serviceName})
	HTTPRequestDurationSeconds = HTTPRequestDurationSeconds.MustCurryWith(prometheus.Labels{"service": serviceName}).(*prometheus.HistogramVec)
	BindsTotal = BindsTotal.MustCurryWith(prometheus.Labels{"service": serviceName})
	PollsTotal = PollsTotal.MustCurryWith(prometheus.Labels{"service": serviceName})
	FilesIngestedTotal = FilesIngestedTotal.MustCurryWith(prometheus.Labels{"service": serviceName})
	FileBytes = FileBytes.MustCurryWith(prometheus.Labels{"service": serviceName}).(*prometheus.HistogramVec)
	FilesDeliveredTotal = FilesDeliveredTotal.MustCurryWith(prometheus.Labels{"service": serviceName})

	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDurationSeconds,
		BindsTotal,
		PollsTotal,
		FilesIngestedTotal,
		FileBytes,
		FilesDeliveredTotal,
	)
}
