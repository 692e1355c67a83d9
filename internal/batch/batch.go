// Package batch runs keyed fetch jobs in paced concurrent groups so
// that large request lists stay inside provider rate limits.
package batch

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dpatwari/tokenworth/internal/observ"
	"github.com/dpatwari/tokenworth/internal/quote"
)

// Job is one keyed unit of fetch work.
type Job[T any] struct {
	Key   string
	Fetch func(ctx context.Context) (T, error)
}

// Options tunes group size, pacing, and retry behavior. Cheaper spot
// batches use a larger group and shorter delay than historical ones.
type Options struct {
	GroupSize   int
	GroupDelay  time.Duration
	MaxRetries  int
	BackoffUnit time.Duration // duration of one backoff unit, 1s in production
}

func (o Options) withDefaults() Options {
	if o.GroupSize <= 0 {
		o.GroupSize = 5
	}
	if o.GroupDelay < 0 {
		o.GroupDelay = 0
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.BackoffUnit <= 0 {
		o.BackoffUnit = time.Second
	}
	return o
}

// Result is a partial result set: every input key appears exactly once,
// either in Values or in Failed.
type Result[T any] struct {
	Values map[string]T
	Failed map[string]error
}

// Backoff returns the pause before retry number attempt (1-based):
// 2^attempt units.
func Backoff(attempt int, unit time.Duration) time.Duration {
	return time.Duration(1<<attempt) * unit
}

// Run partitions jobs into consecutive groups of at most GroupSize,
// runs each group's jobs concurrently with all-settled semantics, and
// waits GroupDelay between groups (not after the last one). A job that
// fails with a retryable error is retried with exponential backoff on
// its own goroutine; the pacing of later groups never waits for those
// retries. Duplicate keys are collapsed before batching. Run never
// returns an error: jobs that exhaust retries land in Failed.
func Run[T any](ctx context.Context, jobs []Job[T], opts Options) Result[T] {
	opts = opts.withDefaults()
	jobs = dedupe(jobs)

	res := Result[T]{
		Values: make(map[string]T, len(jobs)),
		Failed: make(map[string]error),
	}
	if len(jobs) == 0 {
		return res
	}

	runID := uuid.NewString()
	groups := (len(jobs) + opts.GroupSize - 1) / opts.GroupSize
	observ.Log("batch_run_start", map[string]any{
		"run_id": runID,
		"jobs":   len(jobs),
		"groups": groups,
	})

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	record := func(key string, v T, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			res.Failed[key] = err
			return
		}
		res.Values[key] = v
	}

	for start := 0; start < len(jobs); start += opts.GroupSize {
		end := min(start+opts.GroupSize, len(jobs))
		for _, job := range jobs[start:end] {
			wg.Add(1)
			go func(job Job[T]) {
				defer wg.Done()
				v, err := runWithRetries(ctx, job, opts)
				record(job.Key, v, err)
			}(job)
		}
		if end < len(jobs) {
			if err := pace(ctx, opts.GroupDelay); err != nil {
				// Deadline hit while pacing: the remaining jobs are
				// never launched and resolve to failures.
				for _, job := range jobs[end:] {
					var zero T
					record(job.Key, zero, quote.NewNetworkError(job.Key, "batch cancelled", err))
				}
				break
			}
		}
	}
	wg.Wait()

	observ.IncCounterBy("batch_jobs_total", map[string]string{"outcome": "ok"}, int64(len(res.Values)))
	observ.IncCounterBy("batch_jobs_total", map[string]string{"outcome": "failed"}, int64(len(res.Failed)))
	observ.Log("batch_run_done", map[string]any{
		"run_id": runID,
		"ok":     len(res.Values),
		"failed": len(res.Failed),
	})
	return res
}

func runWithRetries[T any](ctx context.Context, job Job[T], opts Options) (T, error) {
	v, err := job.Fetch(ctx)
	if err == nil {
		return v, nil
	}
	for attempt := 1; attempt <= opts.MaxRetries && quote.Retryable(err); attempt++ {
		observ.IncCounter("batch_retry_total", map[string]string{"key": job.Key})
		if werr := pace(ctx, Backoff(attempt, opts.BackoffUnit)); werr != nil {
			return v, err
		}
		v, err = job.Fetch(ctx)
		if err == nil {
			return v, nil
		}
	}
	return v, err
}

func pace(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func dedupe[T any](jobs []Job[T]) []Job[T] {
	seen := make(map[string]bool, len(jobs))
	out := jobs[:0:0]
	for _, j := range jobs {
		if seen[j.Key] {
			continue
		}
		seen[j.Key] = true
		out = append(out, j)
	}
	return out
}
