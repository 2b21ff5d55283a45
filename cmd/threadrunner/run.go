package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	taskrunner "github.com/Swind/go-thread-task-runner"
	"github.com/Swind/go-thread-task-runner/core"
	obs "github.com/Swind/go-thread-task-runner/observability/prometheus"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Create task threads, post work, move and join them",
	Long: `Starts --handles task threads, posts --tasks tasks plus one delayed task to
each, waits for them, hands every thread to a new handle and closes them all.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := defaultRunConfig()
		if path, _ := cmd.Flags().GetString("config"); path != "" {
			var err error
			if cfg, err = loadRunConfig(path, cfg); err != nil {
				return err
			}
		}
		cfg, err := applyFlags(cmd.Flags(), cfg)
		if err != nil {
			return err
		}
		if err := cfg.validate(); err != nil {
			return err
		}

		level, err := zerolog.ParseLevel(cfg.LogLevel)
		if err != nil {
			return fmt.Errorf("log level: %w", err)
		}
		zl := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		summary, err := runThreads(ctx, cfg, core.NewZerologLogger(zl))
		if err != nil {
			return err
		}
		summary.print(cmd.OutOrStdout())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	defaults := defaultRunConfig()
	runCmd.Flags().Int("handles", defaults.Handles, "Number of task threads to start")
	runCmd.Flags().Int("tasks", defaults.Tasks, "Immediate tasks posted to each thread")
	runCmd.Flags().Duration("delay", defaults.Delay, "Delay of the delayed task posted to each thread")
	runCmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
}

type runSummary struct {
	Handles   int
	Executed  uint64
	Delayed   uint64
	Panicked  uint64
	Moved     int
	Joined    int
	Elapsed   time.Duration
	LiveAfter float64
}

func (s runSummary) print(w io.Writer) {
	fmt.Fprintf(w, "threads:   %d started, %d moved, %d joined\n", s.Handles, s.Moved, s.Joined)
	fmt.Fprintf(w, "tasks:     %d executed (%d delayed), %d panicked\n", s.Executed, s.Delayed, s.Panicked)
	fmt.Fprintf(w, "live:      %.0f threads after close\n", s.LiveAfter)
	fmt.Fprintf(w, "elapsed:   %s\n", s.Elapsed.Round(time.Millisecond))
}

// runThreads drives one full create/post/move/close cycle.
func runThreads(ctx context.Context, cfg runConfig, logger core.Logger) (runSummary, error) {
	start := time.Now()
	summary := runSummary{Handles: cfg.Handles}

	reg := prom.NewRegistry()
	exporter, err := obs.NewMetricsExporter("threadrunner", reg, obs.ExporterOptions{})
	if err != nil {
		return summary, err
	}
	poller, err := obs.NewSnapshotPoller(reg, 100*time.Millisecond)
	if err != nil {
		return summary, err
	}

	if cfg.MetricsAddr != "" {
		shutdown, err := serveMetrics(cfg.MetricsAddr, reg, logger)
		if err != nil {
			return summary, err
		}
		defer shutdown()
	}

	handles := make([]*taskrunner.ThreadTaskRunner, cfg.Handles)
	runners := make([]*core.LoopTaskRunner, cfg.Handles)
	for i := range handles {
		handles[i] = taskrunner.CreateAndStart(
			taskrunner.WithName(fmt.Sprintf("worker-%d", i)),
			taskrunner.WithLogger(logger),
			taskrunner.WithMetrics(exporter),
		)
		runners[i] = handles[i].Get()
		poller.AddRunner(handles[i].Name(), runners[i])
	}
	poller.Start(ctx)
	defer poller.Stop()

	closeAll := func() {
		for _, h := range handles {
			h.Close()
		}
	}

	var delayedRan atomic.Uint64
	var wg sync.WaitGroup
	for _, h := range handles {
		r := h.Get()
		wg.Add(cfg.Tasks + 1)
		for range cfg.Tasks {
			r.PostTask(func(ctx context.Context) { wg.Done() })
		}
		r.PostDelayedTask(func(ctx context.Context) {
			delayedRan.Add(1)
			wg.Done()
		}, cfg.Delay)
	}

	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-ctx.Done():
		logger.Warn("run interrupted, closing threads")
		closeAll()
		return summary, ctx.Err()
	}

	for i, h := range handles {
		handles[i] = h.Move()
		summary.Moved++
	}

	closeAll()
	summary.Joined = len(handles)

	for _, r := range runners {
		stats := r.Stats()
		if stats.State != core.RunnerClosed || stats.ClosedOn != stats.ConstructedOn {
			return summary, fmt.Errorf("runner %s not closed on its own thread", stats.Name)
		}
		summary.Executed += stats.Executed
		summary.Panicked += stats.Panicked
	}
	summary.Delayed = delayedRan.Load()
	summary.LiveAfter = liveThreads(reg)
	summary.Elapsed = time.Since(start)
	return summary, nil
}

func serveMetrics(addr string, reg *prom.Registry, logger core.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listen: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", core.F("error", err))
		}
	}()
	logger.Info("serving metrics", core.F("addr", ln.Addr().String()))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}, nil
}

// liveThreads sums the threads_live gauge across runners.
func liveThreads(reg *prom.Registry) float64 {
	families, err := reg.Gather()
	if err != nil {
		return -1
	}
	var live float64
	for _, mf := range families {
		if mf.GetName() != "threadrunner_threads_live" {
			continue
		}
		for _, m := range mf.GetMetric() {
			live += m.GetGauge().GetValue()
		}
	}
	return live
}
