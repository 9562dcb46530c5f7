// Package metrics exports judging counters in the Prometheus format.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/cutekitek/rankode-judge/internal/repository/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "judge"

type Recorder struct {
	registry    *prometheus.Registry
	submissions *prometheus.CounterVec
	tests       *prometheus.CounterVec
	judgeTime   *prometheus.HistogramVec
	compileTime *prometheus.HistogramVec
	testTime    *prometheus.HistogramVec
}

func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Judged submissions by language and final status.",
		}, []string{"language", "status"}),
		tests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "test_cases_total",
			Help:      "Judged test cases by language and status.",
		}, []string{"language", "status"}),
		judgeTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "submission_duration_seconds",
			Help:      "Wall time spent judging one submission.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"language"}),
		compileTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "compile_duration_seconds",
			Help:      "Compilation time by language and result.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"language", "ok"}),
		testTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "test_case_duration_seconds",
			Help:      "Reported run time of one test case.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"language"}),
	}
	r.registry.MustRegister(r.submissions, r.tests, r.judgeTime, r.compileTime, r.testTime)
	return r
}

func (r *Recorder) ObserveCompile(languageId string, ok bool, took time.Duration) {
	r.compileTime.WithLabelValues(languageId, strconv.FormatBool(ok)).Observe(took.Seconds())
}

func (r *Recorder) ObserveTest(languageId string, status models.Status, elapsedMs int64) {
	r.tests.WithLabelValues(languageId, status.String()).Inc()
	r.testTime.WithLabelValues(languageId).Observe(float64(elapsedMs) / 1000)
}

func (r *Recorder) ObserveSubmission(languageId string, res *models.FinalResult, took time.Duration) {
	r.submissions.WithLabelValues(languageId, res.Status.String()).Inc()
	r.judgeTime.WithLabelValues(languageId).Observe(took.Seconds())
}

func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
