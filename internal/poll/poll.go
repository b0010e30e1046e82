// Package poll drives a snapshot sampler on a fixed interval and decides,
// tick by tick, whether to keep waiting, surface activity, or terminate.
package poll

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/marcin-skalski/prwatch/internal/github"
	"github.com/marcin-skalski/prwatch/internal/snapshot"
)

// Sampler produces a fresh snapshot of one PR's review/CI state.
type Sampler interface {
	Sample(ctx context.Context) (*snapshot.Snapshot, error)
}

// Outcome is a terminal state of a poll loop run.
type Outcome string

const (
	EventFound Outcome = "EVENT_FOUND"
	TimedOut   Outcome = "TIMEOUT"
	Merged     Outcome = "MERGED"
	Closed     Outcome = "CLOSED"
	Quiet      Outcome = "QUIET"
)

// Result reports how a run ended. Final is the last snapshot successfully
// sampled, nil when the loop timed out before its first sample.
type Result struct {
	Outcome Outcome
	Events  []snapshot.DeltaEvent
	Final   *snapshot.Snapshot
	Elapsed time.Duration
}

// Options configures one loop. Interval is the sampling period, Timeout the
// wall-clock budget (checked at the top of each tick, before sampling; a
// negative Timeout disables the budget). With StopOnFirstEvent the loop
// terminates on the first non-NoChange delta and leaves the baseline at the
// old snapshot. With QuietPeriod > 0 the loop instead keeps monitoring,
// feeding deltas to OnEvent, and terminates once QuietPeriod elapses with no
// activity; any event restarts the countdown.
type Options struct {
	Interval         time.Duration
	Timeout          time.Duration
	StopOnFirstEvent bool
	QuietPeriod      time.Duration

	// Baseline seeds the diff so the first sample can already produce
	// events. When nil the first sample becomes the baseline.
	Baseline *snapshot.Snapshot

	// OnEvent receives each non-NoChange delta in quiet-period mode so the
	// caller can process it before the quiet timer may succeed.
	OnEvent func(snapshot.DeltaEvent)

	// Filter drops events the caller does not care about; dropped events
	// neither stop the loop nor reset the quiet timer. Nil keeps all.
	Filter func(snapshot.DeltaEvent) bool
}

// Loop polls one PR. A Loop holds no shared state; independent loops run
// concurrently without coordination.
type Loop struct {
	sampler Sampler
	logger  *slog.Logger
	opts    Options
}

func New(sampler Sampler, logger *slog.Logger, opts Options) (*Loop, error) {
	if opts.Interval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive, got %s", opts.Interval)
	}
	if opts.StopOnFirstEvent && opts.QuietPeriod > 0 {
		return nil, fmt.Errorf("stop-on-first-event and quiet-period are mutually exclusive")
	}
	return &Loop{sampler: sampler, logger: logger, opts: opts}, nil
}

// Run polls until a terminal outcome. It returns an error only for
// cancellation and fatal failures (PR deleted, bad credentials, repeated
// malformed responses); transient fetch errors are retried against the same
// baseline and do not count as activity.
func (l *Loop) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	lastActivity := start
	baseline := l.opts.Baseline
	malformedStreak := 0

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if l.opts.Timeout >= 0 && time.Since(start) >= l.opts.Timeout {
			l.logger.Info("poll budget exhausted", "timeout", l.opts.Timeout)
			return &Result{Outcome: TimedOut, Final: baseline, Elapsed: time.Since(start)}, nil
		}

		curr, err := l.sampler.Sample(ctx)
		if err != nil {
			switch {
			case github.IsMalformed(err):
				malformedStreak++
				if malformedStreak > 1 {
					return nil, fmt.Errorf("repeated malformed responses: %w", err)
				}
				l.logger.Warn("malformed response, retrying once", "err", err)
				if err := l.sleep(ctx); err != nil {
					return nil, err
				}
				continue
			case github.IsTransient(err):
				malformedStreak = 0
				l.logger.Warn("transient fetch error, keeping baseline", "err", err)
				if err := l.sleep(ctx); err != nil {
					return nil, err
				}
				continue
			default:
				// NotFound, auth, cancellation: surface to the caller.
				return nil, err
			}
		}
		malformedStreak = 0

		switch curr.PRState {
		case snapshot.StateMerged:
			return &Result{Outcome: Merged, Final: curr, Elapsed: time.Since(start)}, nil
		case snapshot.StateClosed:
			return &Result{Outcome: Closed, Final: curr, Elapsed: time.Since(start)}, nil
		}

		if baseline == nil {
			baseline = curr
			if err := l.sleep(ctx); err != nil {
				return nil, err
			}
			continue
		}

		events := l.filter(snapshot.Diff(baseline, curr))
		if snapshot.HasActivity(events) {
			if l.opts.StopOnFirstEvent {
				// Baseline intentionally not advanced: the caller can
				// re-enter with the same baseline and see the same delta.
				return &Result{
					Outcome: EventFound,
					Events:  events,
					Final:   curr,
					Elapsed: time.Since(start),
				}, nil
			}
			lastActivity = time.Now()
			if l.opts.OnEvent != nil {
				for _, e := range events {
					if e.Kind != snapshot.NoChange {
						l.opts.OnEvent(e)
					}
				}
			}
		}

		baseline = curr

		if l.opts.QuietPeriod > 0 && time.Since(lastActivity) >= l.opts.QuietPeriod {
			l.logger.Info("quiet period reached", "quiet_period", l.opts.QuietPeriod)
			return &Result{Outcome: Quiet, Final: curr, Elapsed: time.Since(start)}, nil
		}

		if err := l.sleep(ctx); err != nil {
			return nil, err
		}
	}
}

func (l *Loop) filter(events []snapshot.DeltaEvent) []snapshot.DeltaEvent {
	if l.opts.Filter == nil {
		return events
	}
	var kept []snapshot.DeltaEvent
	for _, e := range events {
		if e.Kind == snapshot.NoChange || l.opts.Filter(e) {
			kept = append(kept, e)
		}
	}
	if len(kept) == 0 {
		return []snapshot.DeltaEvent{{Kind: snapshot.NoChange}}
	}
	return kept
}

func (l *Loop) sleep(ctx context.Context) error {
	t := time.NewTimer(l.opts.Interval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
