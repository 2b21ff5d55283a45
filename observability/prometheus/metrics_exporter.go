package prometheus

import (
	"errors"
	"fmt"
	"time"

	"github.com/Swind/go-thread-task-runner/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// ExporterOptions controls collector configuration.
type ExporterOptions struct {
	DurationBuckets []float64
	LifetimeBuckets []float64
}

// MetricsExporter adapts core.Metrics to Prometheus collectors.
type MetricsExporter struct {
	taskDurationSeconds   *prom.HistogramVec
	taskPanicTotal        *prom.CounterVec
	taskRejectedTotal     *prom.CounterVec
	queueDepth            *prom.GaugeVec
	threadsStartedTotal   *prom.CounterVec
	threadsLive           *prom.GaugeVec
	threadLifetimeSeconds *prom.HistogramVec
}

var _ core.Metrics = (*MetricsExporter)(nil)

// NewMetricsExporter creates and registers Prometheus collectors for core.Metrics.
func NewMetricsExporter(namespace string, reg prom.Registerer, opts ExporterOptions) (*MetricsExporter, error) {
	if namespace == "" {
		namespace = "taskrunner"
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	durationBuckets := opts.DurationBuckets
	if len(durationBuckets) == 0 {
		durationBuckets = prom.DefBuckets
	}
	lifetimeBuckets := opts.LifetimeBuckets
	if len(lifetimeBuckets) == 0 {
		lifetimeBuckets = prom.ExponentialBuckets(0.001, 10, 7) // 1ms .. 1000s
	}

	durationVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "task_duration_seconds",
		Help:      "Task execution duration in seconds.",
		Buckets:   durationBuckets,
	}, []string{"runner"})
	panicVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "task_panic_total",
		Help:      "Total number of task panics.",
	}, []string{"runner"})
	rejectedVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "task_rejected_total",
		Help:      "Total number of rejected tasks.",
	}, []string{"runner", "reason"})
	queueDepthVec := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Immediate tasks waiting to run, sampled at post time.",
	}, []string{"runner"})
	startedVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "threads_started_total",
		Help:      "Total number of task threads that published a runner.",
	}, []string{"runner"})
	liveVec := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "threads_live",
		Help:      "Task threads started and not yet joined.",
	}, []string{"runner"})
	lifetimeVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "thread_lifetime_seconds",
		Help:      "Time from task thread start to join, in seconds.",
		Buckets:   lifetimeBuckets,
	}, []string{"runner"})

	var err error
	if durationVec, err = registerCollector(reg, durationVec); err != nil {
		return nil, err
	}
	if panicVec, err = registerCollector(reg, panicVec); err != nil {
		return nil, err
	}
	if rejectedVec, err = registerCollector(reg, rejectedVec); err != nil {
		return nil, err
	}
	if queueDepthVec, err = registerCollector(reg, queueDepthVec); err != nil {
		return nil, err
	}
	if startedVec, err = registerCollector(reg, startedVec); err != nil {
		return nil, err
	}
	if liveVec, err = registerCollector(reg, liveVec); err != nil {
		return nil, err
	}
	if lifetimeVec, err = registerCollector(reg, lifetimeVec); err != nil {
		return nil, err
	}

	return &MetricsExporter{
		taskDurationSeconds:   durationVec,
		taskPanicTotal:        panicVec,
		taskRejectedTotal:     rejectedVec,
		queueDepth:            queueDepthVec,
		threadsStartedTotal:   startedVec,
		threadsLive:           liveVec,
		threadLifetimeSeconds: lifetimeVec,
	}, nil
}

// RecordTaskDuration records task execution duration.
func (m *MetricsExporter) RecordTaskDuration(runnerName string, duration time.Duration) {
	if m == nil {
		return
	}
	m.taskDurationSeconds.WithLabelValues(normalizeLabel(runnerName, "unknown")).Observe(duration.Seconds())
}

// RecordTaskPanic records task panic events.
func (m *MetricsExporter) RecordTaskPanic(runnerName string, panicInfo any) {
	if m == nil {
		return
	}
	m.taskPanicTotal.WithLabelValues(normalizeLabel(runnerName, "unknown")).Inc()
}

// RecordQueueDepth records queue depth.
func (m *MetricsExporter) RecordQueueDepth(runnerName string, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(normalizeLabel(runnerName, "unknown")).Set(float64(depth))
}

// RecordTaskRejected records task rejection events.
func (m *MetricsExporter) RecordTaskRejected(runnerName string, reason string) {
	if m == nil {
		return
	}
	m.taskRejectedTotal.WithLabelValues(normalizeLabel(runnerName, "unknown"), normalizeLabel(reason, "unknown")).Inc()
}

// RecordThreadStarted counts a started task thread.
func (m *MetricsExporter) RecordThreadStarted(runnerName string) {
	if m == nil {
		return
	}
	name := normalizeLabel(runnerName, "unknown")
	m.threadsStartedTotal.WithLabelValues(name).Inc()
	m.threadsLive.WithLabelValues(name).Inc()
}

// RecordThreadJoined records a joined task thread and its lifetime.
func (m *MetricsExporter) RecordThreadJoined(runnerName string, lifetime time.Duration) {
	if m == nil {
		return
	}
	name := normalizeLabel(runnerName, "unknown")
	m.threadsLive.WithLabelValues(name).Dec()
	m.threadLifetimeSeconds.WithLabelValues(name).Observe(lifetime.Seconds())
}

func normalizeLabel(v string, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var alreadyRegisteredErr prom.AlreadyRegisteredError
	if errors.As(err, &alreadyRegisteredErr) {
		existing, ok := alreadyRegisteredErr.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}

	return collector, err
}
