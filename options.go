package taskrunner

import (
	"strconv"
	"sync/atomic"

	"github.com/Swind/go-thread-task-runner/core"
)

// Option configures CreateAndStart.
type Option func(*options)

// Initializer runs on the task thread after the runner is constructed and
// before it is published, so anything it sets up is visible to the caller of
// CreateAndStart. A panic in the initializer is a fatal startup failure.
type Initializer func(runner *core.LoopTaskRunner)

type options struct {
	name                string
	logger              core.Logger
	metrics             core.Metrics
	panicHandler        core.PanicHandler
	rejectedTaskHandler core.RejectedTaskHandler
	initializer         Initializer
}

var threadSeq atomic.Uint64

func newOptions(opts []Option) *options {
	o := &options{}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	if o.name == "" {
		o.name = "task-thread-" + strconv.FormatUint(threadSeq.Add(1), 10)
	}
	if o.logger == nil {
		o.logger = core.NewNoOpLogger()
	}
	if o.metrics == nil {
		o.metrics = &core.NilMetrics{}
	}
	return o
}

func (o *options) runnerConfig() *core.RunnerConfig {
	return &core.RunnerConfig{
		Name:                o.name,
		Logger:              o.logger,
		Metrics:             o.metrics,
		PanicHandler:        o.panicHandler,
		RejectedTaskHandler: o.rejectedTaskHandler,
	}
}

// WithName labels the runner in logs and metrics.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithLogger sets the logger used by the handle and its runner.
func WithLogger(logger core.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetrics sets the metrics sink used by the handle and its runner.
func WithMetrics(metrics core.Metrics) Option {
	return func(o *options) { o.metrics = metrics }
}

// WithPanicHandler overrides how task panics are reported.
func WithPanicHandler(h core.PanicHandler) Option {
	return func(o *options) { o.panicHandler = h }
}

// WithRejectedTaskHandler overrides how tasks posted after Quit are reported.
func WithRejectedTaskHandler(h core.RejectedTaskHandler) Option {
	return func(o *options) { o.rejectedTaskHandler = h }
}

// WithInitializer runs fn on the task thread before CreateAndStart returns.
func WithInitializer(fn Initializer) Option {
	return func(o *options) { o.initializer = fn }
}
