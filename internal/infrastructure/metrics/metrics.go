package metrics

import (
	"strconv"
	"time"

	"stock-alert/internal/application/alert"
	notifyDomain "stock-alert/internal/domain/notify"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "stock_alert"

// Collector 收集檢查週期與通知投遞的 Prometheus 指標。
type Collector struct {
	runs          *prometheus.CounterVec
	runDuration   prometheus.Histogram
	rulesChecked  *prometheus.CounterVec
	alertsCreated prometheus.Counter
	suppressed    prometheus.Counter
	lastRun       prometheus.Gauge

	deliveries       *prometheus.CounterVec
	deliveryDuration *prometheus.HistogramVec
	deliveryAttempts *prometheus.HistogramVec
}

// NewCollector 建立並註冊所有指標；reg 為 nil 時使用預設 registry。
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collector{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "check_runs_total",
			Help:      "Number of rule check runs, by whether the run finished.",
		}, []string{"partial"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "check_run_duration_seconds",
			Help:      "Wall time of a rule check run.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120},
		}),
		rulesChecked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_checks_total",
			Help:      "Rule evaluations by outcome.",
		}, []string{"outcome"}),
		alertsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_created_total",
			Help:      "Risk alerts created by the engine.",
		}),
		suppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_suppressed_total",
			Help:      "Triggers suppressed by the dedup window.",
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Start time of the latest check run.",
		}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification deliveries by channel type and result.",
		}, []string{"channel_type", "success"}),
		deliveryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "notification_duration_seconds",
			Help:      "Time spent delivering to one channel, retries included.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"channel_type"}),
		deliveryAttempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "notification_attempts",
			Help:      "Attempts used per channel delivery.",
			Buckets:   []float64{1, 2, 3, 5, 10},
		}, []string{"channel_type"}),
	}
	reg.MustRegister(
		c.runs, c.runDuration, c.rulesChecked, c.alertsCreated, c.suppressed, c.lastRun,
		c.deliveries, c.deliveryDuration, c.deliveryAttempts,
	)
	return c
}

// ObserveRun 記錄一次檢查週期的統計。
func (c *Collector) ObserveRun(s alert.RunStats) {
	c.runs.WithLabelValues(strconv.FormatBool(s.Partial)).Inc()
	c.runDuration.Observe(s.Duration.Seconds())
	c.rulesChecked.WithLabelValues("checked").Add(float64(s.CheckedRules))
	c.rulesChecked.WithLabelValues("triggered").Add(float64(s.TriggeredAlerts))
	c.rulesChecked.WithLabelValues("failed").Add(float64(s.FailedChecks))
	c.rulesChecked.WithLabelValues("skipped").Add(float64(s.SkippedChecks))
	c.rulesChecked.WithLabelValues("unchecked").Add(float64(s.UncheckedRules))
	c.alertsCreated.Add(float64(s.NewAlerts))
	c.suppressed.Add(float64(s.Suppressed))
	if !s.StartedAt.IsZero() {
		c.lastRun.Set(float64(s.StartedAt.Unix()))
	}
}

// ObserveDelivery 記錄單一通道的最終投遞結果。
func (c *Collector) ObserveDelivery(channelType notifyDomain.ChannelType, success bool, attempts int, elapsed time.Duration) {
	t := string(channelType)
	c.deliveries.WithLabelValues(t, strconv.FormatBool(success)).Inc()
	c.deliveryDuration.WithLabelValues(t).Observe(elapsed.Seconds())
	c.deliveryAttempts.WithLabelValues(t).Observe(float64(attempts))
}
