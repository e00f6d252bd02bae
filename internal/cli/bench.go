package cli

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/seqd/internal/engine"
)

// BenchOptions holds flags for the bench command.
type BenchOptions struct {
	*RootOptions
	Workers int
	Count   int
}

// BenchResult is the outcome of a bench run.
type BenchResult struct {
	Sequence   string `json:"sequence"`
	Workers    int    `json:"workers"`
	Values     int    `json:"values"`
	Duplicates int    `json:"duplicates"`
	ElapsedMS  int64  `json:"elapsed_ms"`
	Refills    int    `json:"refills"`
	Min        int64  `json:"min"`
	Max        int64  `json:"max"`
}

// NewBenchCommand creates the bench command.
func NewBenchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BenchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "bench <name>",
		Short: "Dispense concurrently and check every value is distinct",
		Long: `Dispense from one sequence on many goroutines at once.

Every worker takes --count values. The run fails if any value was handed out
twice, so a cycling sequence must not wrap during the run. Dispenser metrics
are printed at the end in the Prometheus text format.

Example:
  seqd bench orders --db ./seqd.db --workers 16 --count 1000`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBench(opts, args[0], cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Workers, "workers", 8, "number of concurrent workers")
	cmd.Flags().IntVar(&opts.Count, "count", 1000, "values dispensed per worker")

	return cmd
}

// maxBenchValues bounds the values a single bench run collects.
const maxBenchValues = 1 << 24

func runBench(opts *BenchOptions, name string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	if opts.Workers < 1 || opts.Count < 1 {
		return NewExitError(ExitCommandError, "workers and count must be at least 1")
	}
	if opts.Count > maxBenchValues/opts.Workers {
		return NewExitError(ExitCommandError,
			fmt.Sprintf("workers × count must not exceed %d", maxBenchValues))
	}

	var refills countingObserver
	s, err := opts.openSession(cmd, engine.WithObserver(refills.observe))
	if err != nil {
		return err
	}
	defer s.Close()

	registry := prometheus.NewRegistry()
	if err := registry.Register(s.engine.Metrics()); err != nil {
		return WrapExitError(ExitCommandError, "failed to register metrics", err)
	}

	ctx := commandContext(cmd)
	var mu sync.Mutex
	all := make([]int64, 0, opts.Workers*opts.Count)

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for w := range opts.Workers {
		g.Go(func() error {
			got := make([]int64, 0, opts.Count)
			for range opts.Count {
				v, err := s.engine.NextValue(gctx, name)
				if err != nil {
					return fmt.Errorf("worker %d: %w", w, err)
				}
				got = append(got, v)
			}
			mu.Lock()
			all = append(all, got...)
			mu.Unlock()
			return nil
		})
	}
	err = g.Wait()
	elapsed := time.Since(start)
	if err != nil {
		return fail(f, fmt.Sprintf("bench on %q stopped", name), err)
	}

	result := summarize(name, opts.Workers, all, elapsed)
	result.Refills = refills.load()
	s.logger.Info("bench finished",
		zap.String("sequence", name),
		zap.Int("values", result.Values),
		zap.Int("duplicates", result.Duplicates),
		zap.Duration("elapsed", elapsed))

	families, gatherErr := registry.Gather()
	if gatherErr != nil {
		return WrapExitError(ExitCommandError, "failed to gather metrics", gatherErr)
	}

	if err := f.Result(result, func(w io.Writer) {
		fmt.Fprintf(w, "%d values from %d workers in %s (%d refills)\n",
			result.Values, result.Workers, elapsed.Round(time.Millisecond), result.Refills)
		fmt.Fprintf(w, "range [%d, %d], %d duplicate(s)\n\n", result.Min, result.Max, result.Duplicates)
		for _, mf := range families {
			_, _ = expfmt.MetricFamilyToText(w, mf)
		}
	}); err != nil {
		return err
	}

	if result.Duplicates > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d duplicate value(s) dispensed", result.Duplicates))
	}
	return nil
}

// summarize counts values and duplicates.
func summarize(name string, workers int, values []int64, elapsed time.Duration) BenchResult {
	r := BenchResult{
		Sequence:  name,
		Workers:   workers,
		Values:    len(values),
		ElapsedMS: elapsed.Milliseconds(),
	}
	seen := make(map[int64]struct{}, len(values))
	for i, v := range values {
		if _, dup := seen[v]; dup {
			r.Duplicates++
		}
		seen[v] = struct{}{}
		if i == 0 || v < r.Min {
			r.Min = v
		}
		if i == 0 || v > r.Max {
			r.Max = v
		}
	}
	return r
}

// countingObserver counts successful refills.
type countingObserver struct {
	mu sync.Mutex
	n  int
}

func (c *countingObserver) observe(ev engine.Event) {
	if ev.Kind != engine.EventRefill || ev.Result == "failed" {
		return
	}
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *countingObserver) load() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}
