package prometheus

import (
	"context"
	"sync"
	"time"

	"github.com/Swind/go-thread-task-runner/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// RunnerSnapshotProvider provides current runner stats snapshots.
// *core.LoopTaskRunner implements it.
type RunnerSnapshotProvider interface {
	Stats() core.RunnerStats
}

// SnapshotPoller periodically exports runner Stats() snapshots into Prometheus gauges.
type SnapshotPoller struct {
	interval time.Duration

	runnersMu sync.RWMutex
	runners   map[string]RunnerSnapshotProvider

	runnerPending  *prom.GaugeVec
	runnerDelayed  *prom.GaugeVec
	runnerExecuted *prom.GaugeVec
	runnerRejected *prom.GaugeVec
	runnerState    *prom.GaugeVec

	stateMu sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSnapshotPoller creates a snapshot poller and registers its collectors.
func NewSnapshotPoller(reg prom.Registerer, interval time.Duration) (*SnapshotPoller, error) {
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = time.Second
	}

	runnerPending := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "taskrunner",
		Name:      "runner_pending",
		Help:      "Immediate tasks queued per runner.",
	}, []string{"runner"})
	runnerDelayed := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "taskrunner",
		Name:      "runner_delayed",
		Help:      "Delayed tasks not yet due per runner.",
	}, []string{"runner"})
	runnerExecuted := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "taskrunner",
		Name:      "runner_executed_total",
		Help:      "Runner executed task count snapshot.",
	}, []string{"runner"})
	runnerRejected := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "taskrunner",
		Name:      "runner_rejected_total",
		Help:      "Runner rejected task count snapshot.",
	}, []string{"runner"})
	runnerState := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "taskrunner",
		Name:      "runner_state",
		Help:      "Runner lifecycle state (0=created, 1=running, 2=stopped, 3=closed).",
	}, []string{"runner"})

	var err error
	if runnerPending, err = registerCollector(reg, runnerPending); err != nil {
		return nil, err
	}
	if runnerDelayed, err = registerCollector(reg, runnerDelayed); err != nil {
		return nil, err
	}
	if runnerExecuted, err = registerCollector(reg, runnerExecuted); err != nil {
		return nil, err
	}
	if runnerRejected, err = registerCollector(reg, runnerRejected); err != nil {
		return nil, err
	}
	if runnerState, err = registerCollector(reg, runnerState); err != nil {
		return nil, err
	}

	return &SnapshotPoller{
		interval:       interval,
		runners:        make(map[string]RunnerSnapshotProvider),
		runnerPending:  runnerPending,
		runnerDelayed:  runnerDelayed,
		runnerExecuted: runnerExecuted,
		runnerRejected: runnerRejected,
		runnerState:    runnerState,
	}, nil
}

// AddRunner adds or replaces a runner snapshot provider by name.
func (p *SnapshotPoller) AddRunner(name string, provider RunnerSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "runner")
	p.runnersMu.Lock()
	p.runners[name] = provider
	p.runnersMu.Unlock()
}

// RemoveRunner stops exporting a runner and deletes its series.
func (p *SnapshotPoller) RemoveRunner(name string) {
	if p == nil {
		return
	}
	name = normalizeLabel(name, "runner")
	p.runnersMu.Lock()
	delete(p.runners, name)
	p.runnersMu.Unlock()

	p.runnerPending.DeleteLabelValues(name)
	p.runnerDelayed.DeleteLabelValues(name)
	p.runnerExecuted.DeleteLabelValues(name)
	p.runnerRejected.DeleteLabelValues(name)
	p.runnerState.DeleteLabelValues(name)
}

// Start begins periodic polling; repeated calls are no-ops.
func (p *SnapshotPoller) Start(ctx context.Context) {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if p.running {
		p.stateMu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	done := p.done
	p.stateMu.Unlock()

	go p.loop(pollCtx, done)
}

// Stop stops periodic polling; repeated calls are safe.
func (p *SnapshotPoller) Stop() {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if !p.running {
		p.stateMu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.stateMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	p.stateMu.Lock()
	p.running = false
	p.cancel = nil
	p.done = nil
	p.stateMu.Unlock()
}

func (p *SnapshotPoller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.collectOnce()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.collectOnce()
		}
	}
}

func (p *SnapshotPoller) collectOnce() {
	p.runnersMu.RLock()
	defer p.runnersMu.RUnlock()

	for name, provider := range p.runners {
		stats := provider.Stats()
		p.runnerPending.WithLabelValues(name).Set(float64(stats.Pending))
		p.runnerDelayed.WithLabelValues(name).Set(float64(stats.Delayed))
		p.runnerExecuted.WithLabelValues(name).Set(float64(stats.Executed))
		p.runnerRejected.WithLabelValues(name).Set(float64(stats.Rejected))
		p.runnerState.WithLabelValues(name).Set(float64(stats.State))
	}
}
