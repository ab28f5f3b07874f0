package observer

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "klausjudge"

// PrometheusRecorder exports judge metrics through a Prometheus registry.
type PrometheusRecorder struct {
	compileSeconds    *prometheus.HistogramVec
	runSeconds        *prometheus.HistogramVec
	submissions       *prometheus.CounterVec
	submissionSeconds prometheus.Histogram
	testsPerJudge     prometheus.Histogram
	queueDepth        prometheus.Gauge
	jobErrors         *prometheus.CounterVec
}

// NewPrometheusRecorder creates the collectors and registers them on reg.
func NewPrometheusRecorder(reg prometheus.Registerer) (*PrometheusRecorder, error) {
	r := &PrometheusRecorder{
		compileSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "compile_duration_seconds",
			Help:      "Wall time of compile steps.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 8),
		}, []string{"language", "ok"}),
		runSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "test_duration_seconds",
			Help:      "Wall time of one judged test, including compilation.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"language", "verdict"}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Judged submissions by final verdict.",
		}, []string{"verdict"}),
		submissionSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "submission_duration_seconds",
			Help:      "Summed test time of judged submissions.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		testsPerJudge: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "submission_tests",
			Help:      "Number of tests executed per submission.",
			Buckets:   prometheus.LinearBuckets(0, 5, 10),
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Last observed length of the judge queue.",
		}),
		jobErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_errors_total",
			Help:      "Jobs that ended in a pipeline error, by error code.",
		}, []string{"code"}),
	}
	for _, c := range []prometheus.Collector{
		r.compileSeconds, r.runSeconds, r.submissions, r.submissionSeconds,
		r.testsPerJudge, r.queueDepth, r.jobErrors,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *PrometheusRecorder) ObserveCompile(_ context.Context, languageID string, ok bool, elapsed time.Duration) {
	r.compileSeconds.WithLabelValues(languageID, strconv.FormatBool(ok)).Observe(elapsed.Seconds())
}

func (r *PrometheusRecorder) ObserveRun(_ context.Context, languageID string, verdict string, elapsed time.Duration) {
	r.runSeconds.WithLabelValues(languageID, verdict).Observe(elapsed.Seconds())
}

func (r *PrometheusRecorder) ObserveSubmission(_ context.Context, verdict string, tests int, elapsed time.Duration) {
	r.submissions.WithLabelValues(verdict).Inc()
	r.submissionSeconds.Observe(elapsed.Seconds())
	r.testsPerJudge.Observe(float64(tests))
}

func (r *PrometheusRecorder) ObserveQueueDepth(depth int64) {
	r.queueDepth.Set(float64(depth))
}

func (r *PrometheusRecorder) ObserveJobError(_ context.Context, code string) {
	r.jobErrors.WithLabelValues(code).Inc()
}
