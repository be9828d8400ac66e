// Package metrics は生成ジョブの Prometheus メトリクスを提供します。
//
// nil の *Collector に対する記録呼び出しは何もしません。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "generation"

// Collector はジョブのライフサイクルに関するメトリクスを保持します。
type Collector struct {
	submitted      prometheus.Counter
	rejected       *prometheus.CounterVec
	dispatchFailed prometheus.Counter
	claimed        prometheus.Counter
	duplicates     prometheus.Counter
	completed      prometheus.Counter
	failed         *prometheus.CounterVec
	swept          prometheus.Counter
	duration       prometheus.Histogram
	inFlight       prometheus.Gauge
}

// NewCollector はメトリクスを作成し reg に登録します。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_submitted_total",
			Help:      "Jobs accepted and dispatched.",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_rejected_total",
			Help:      "Submissions rejected before a job was created.",
		}, []string{"reason"}),
		dispatchFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_dispatch_failed_total",
			Help:      "Jobs whose asynchronous hand-off was rejected.",
		}),
		claimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_claimed_total",
			Help:      "PENDING to PROCESSING transitions won by a worker.",
		}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_skipped_total",
			Help:      "Deliveries ignored because the job was missing, terminal or already claimed.",
		}),
		completed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_completed_total",
			Help:      "Jobs finished with an artifact.",
		}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_failed_total",
			Help:      "Jobs finished as FAILED by error category.",
		}, []string{"category"}),
		swept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_swept_total",
			Help:      "Stuck PROCESSING jobs failed by the sweeper.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "processing_duration_seconds",
			Help:      "Time from claim to terminal state.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 900},
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_in_flight",
			Help:      "Jobs currently being processed by this worker.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			c.submitted,
			c.rejected,
			c.dispatchFailed,
			c.claimed,
			c.duplicates,
			c.completed,
			c.failed,
			c.swept,
			c.duration,
			c.inFlight,
		)
	}
	return c
}

// Handler は gatherer の内容を公開する HTTP ハンドラーを返します。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func (c *Collector) RecordSubmitted() {
	if c == nil {
		return
	}
	c.submitted.Inc()
}

func (c *Collector) RecordRejected(reason string) {
	if c == nil {
		return
	}
	c.rejected.WithLabelValues(reason).Inc()
}

func (c *Collector) RecordDispatchFailed() {
	if c == nil {
		return
	}
	c.dispatchFailed.Inc()
}

// RecordClaimed は処理開始を記録し、in-flight を1増やします。
func (c *Collector) RecordClaimed() {
	if c == nil {
		return
	}
	c.claimed.Inc()
	c.inFlight.Inc()
}

func (c *Collector) RecordSkipped() {
	if c == nil {
		return
	}
	c.duplicates.Inc()
}

// RecordFinished は終了状態への遷移を記録します。category が空なら成功扱いです。
func (c *Collector) RecordFinished(category string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.inFlight.Dec()
	c.duration.Observe(elapsed.Seconds())
	if category == "" {
		c.completed.Inc()
		return
	}
	c.failed.WithLabelValues(category).Inc()
}

func (c *Collector) RecordSwept(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.swept.Add(float64(n))
}

// RecordLost は終了状態を書き込めなかったジョブの in-flight を戻します。
func (c *Collector) RecordLost() {
	if c == nil {
		return
	}
	c.inFlight.Dec()
}
