package metrics

import (
	k8smetrics "k8s.io/component-base/metrics"
	"k8s.io/component-base/metrics/legacyregistry"
	"k8s.io/klog/v2"
)

var (
	archivePageFetches = k8smetrics.NewCounterVec(
		&k8smetrics.CounterOpts{
			Name: "pipelines_results_proxy_archive_page_fetches_total",
			Help: "Archive record pages fetched, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	mergedRecordsServed = k8smetrics.NewCounter(
		&k8smetrics.CounterOpts{
			Name: "pipelines_results_proxy_merged_records_served_total",
			Help: "Records returned to callers after live/archive merging.",
		},
	)

	requestDuration = k8smetrics.NewHistogramVec(
		&k8smetrics.HistogramOpts{
			Name:    "pipelines_results_proxy_request_duration_seconds",
			Help:    "Wall-clock time spent serving merged record requests.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"handler"},
	)

	buildInfo = k8smetrics.NewGaugeVec(
		&k8smetrics.GaugeOpts{
			Name: "pipelines_results_proxy_build_info",
			Help: "A metric with a constant '1' value labeled by git commit & git version from which the proxy was built.",
		},
		[]string{"gitCommit", "gitVersion"},
	)
)

func init() {
	legacyregistry.MustRegister(archivePageFetches)
	legacyregistry.MustRegister(mergedRecordsServed)
	legacyregistry.MustRegister(requestDuration)
	legacyregistry.MustRegister(buildInfo)
}

func HandlePageFetch(err error) {
	defer recoverMetricPanic()
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	archivePageFetches.WithLabelValues(outcome).Inc()
}

func HandleMergedRecords(count int) {
	defer recoverMetricPanic()
	mergedRecordsServed.Add(float64(count))
}

func ObserveRequest(handler string, seconds float64) {
	defer recoverMetricPanic()
	requestDuration.WithLabelValues(handler).Observe(seconds)
}

func RegisterVersion(gitCommit, gitVersion string) {
	defer recoverMetricPanic()
	buildInfo.WithLabelValues(gitCommit, gitVersion).Set(1)
}

// We never want to take the proxy down because of metric saving. Recover
// and error log for later diagnosis instead.
func recoverMetricPanic() {
	if r := recover(); r != nil {
		klog.Errorf("Recovering from metric function - %v", r)
	}
}
