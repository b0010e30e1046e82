// Package worker reconciles one pull request: it watches review/CI activity
// until the PR goes quiet, then gates and optionally merges.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/marcin-skalski/prwatch/internal/config"
	"github.com/marcin-skalski/prwatch/internal/gate"
	"github.com/marcin-skalski/prwatch/internal/github"
	"github.com/marcin-skalski/prwatch/internal/poll"
	"github.com/marcin-skalski/prwatch/internal/snapshot"
)

// Actions is the mutation surface the worker needs from the host. Satisfied
// by *github.Client.
type Actions interface {
	ReplyToReviewThread(ctx context.Context, threadID, body string) (string, error)
	ResolveReviewThread(ctx context.Context, threadID string) (bool, error)
	MergePR(ctx context.Context, ref github.PRRef, strategy string, deleteBranch bool) error
}

// Status is the worker's terminal disposition for one run.
type Status string

const (
	StatusMerged   Status = "merged"
	StatusClosed   Status = "closed"
	StatusTimeout  Status = "timeout"
	StatusBlocked  Status = "blocked"
	StatusReady    Status = "ready" // gate passed but auto-merge disabled
	StatusGone     Status = "gone"  // PR deleted while watching
)

// Summary reports how a run ended; Verdict is set when the gate ran.
type Summary struct {
	Status  Status
	Outcome poll.Outcome
	Verdict *gate.Verdict
}

// Activity is a delta surfaced to the daemon for the dashboard feed.
type Activity struct {
	Ref    github.PRRef
	Kind   snapshot.DeltaKind
	Detail string
	At     time.Time
}

type Worker struct {
	repo    config.RepoConfig
	ref     github.PRRef
	sampler poll.Sampler
	actions Actions
	monitor config.MonitorConfig
	logger  *slog.Logger

	onActivity func(Activity)
}

func New(repo config.RepoConfig, ref github.PRRef, sampler poll.Sampler, actions Actions, monitor config.MonitorConfig, logger *slog.Logger, onActivity func(Activity)) *Worker {
	return &Worker{
		repo:       repo,
		ref:        ref,
		sampler:    sampler,
		actions:    actions,
		monitor:    monitor,
		logger:     logger.With("pr", ref.Number, "repo", ref.Owner+"/"+ref.Repo),
		onActivity: onActivity,
	}
}

// Run watches the PR until it goes quiet, then gates it. The worker exits
// after one pass; the daemon restarts it on a later poll if the PR is still
// open. NotFoundError while watching maps to StatusGone rather than an error
// so an externally deleted PR is not treated as a failure.
func (w *Worker) Run(ctx context.Context) (Summary, error) {
	w.logger.Info("worker started",
		"interval", w.monitor.Interval,
		"quiet_period", w.monitor.QuietPeriod,
		"timeout", w.monitor.Timeout)

	loop, err := poll.New(w.sampler, w.logger, poll.Options{
		Interval:    w.monitor.Interval,
		Timeout:     w.monitor.Timeout,
		QuietPeriod: w.monitor.QuietPeriod,
		OnEvent:     w.handleEvent(ctx),
	})
	if err != nil {
		return Summary{}, err
	}

	res, err := loop.Run(ctx)
	if err != nil {
		if github.IsNotFound(err) {
			w.logger.Warn("PR disappeared while watching", "err", err)
			return Summary{Status: StatusGone}, nil
		}
		return Summary{}, fmt.Errorf("watch %s: %w", w.ref, err)
	}

	switch res.Outcome {
	case poll.Merged:
		w.logger.Info("PR merged externally")
		return Summary{Status: StatusMerged, Outcome: res.Outcome}, nil
	case poll.Closed:
		w.logger.Info("PR closed without merge")
		return Summary{Status: StatusClosed, Outcome: res.Outcome}, nil
	case poll.TimedOut:
		w.logger.Info("watch budget exhausted", "elapsed", res.Elapsed)
		return Summary{Status: StatusTimeout, Outcome: res.Outcome}, nil
	}

	// Quiet: no activity for a full quiet window. Tidy up outdated threads
	// first so they do not linger as unresolved noise, then gate.
	if w.repo.ResolveOutdated && res.Final != nil {
		w.resolveOutdatedThreads(ctx, res.Final)
	}

	verdict := gate.Check(res.Final)
	if !verdict.Ready {
		w.logger.Info("merge blocked", "reasons", verdict.Reasons)
		return Summary{Status: StatusBlocked, Outcome: res.Outcome, Verdict: &verdict}, nil
	}

	if !w.repo.AutoMerge {
		w.logger.Info("PR ready, auto-merge disabled")
		return Summary{Status: StatusReady, Outcome: res.Outcome, Verdict: &verdict}, nil
	}

	deleteBranch := w.repo.DeleteBranch == nil || *w.repo.DeleteBranch
	if err := w.actions.MergePR(ctx, w.ref, w.repo.MergeMethod, deleteBranch); err != nil {
		return Summary{}, fmt.Errorf("merge: %w", err)
	}
	w.logger.Info("PR merged", "method", w.repo.MergeMethod)
	return Summary{Status: StatusMerged, Outcome: res.Outcome, Verdict: &verdict}, nil
}

// handleEvent processes deltas observed during the quiet window: every event
// restarts the quiet countdown, new unresolved threads optionally get an
// acknowledgement reply.
func (w *Worker) handleEvent(ctx context.Context) func(snapshot.DeltaEvent) {
	return func(e snapshot.DeltaEvent) {
		switch e.Kind {
		case snapshot.ThreadAdded:
			w.logger.Info("new review thread", "thread", e.Thread.ID, "path", e.Thread.Path, "line", e.Thread.Line)
			if w.ackEnabled() && !e.Thread.IsResolved {
				w.ackThread(ctx, e.Thread.ID)
			}
		case snapshot.ReviewAdded:
			w.logger.Info("new review", "author", e.Review.Author, "state", e.Review.State)
		case snapshot.CommentAdded:
			w.logger.Info("new comment", "author", e.Comment.Author)
		case snapshot.ResolutionCountChanged:
			w.logger.Info("unresolved thread count changed",
				"prev", e.PrevUnresolved, "curr", e.CurrUnresolved, "direction", e.Direction)
		}

		if w.onActivity != nil {
			w.onActivity(Activity{
				Ref:    w.ref,
				Kind:   e.Kind,
				Detail: describeEvent(e),
				At:     time.Now(),
			})
		}
	}
}

func (w *Worker) ackEnabled() bool {
	return w.repo.AckReply != nil && w.repo.AckReply.Enabled
}

func (w *Worker) ackThread(ctx context.Context, threadID string) {
	if _, err := w.actions.ReplyToReviewThread(ctx, threadID, w.repo.AckReply.Message); err != nil {
		// A vanished thread is not worth failing the watch over.
		w.logger.Warn("failed to acknowledge thread", "thread", threadID, "err", err)
	}
}

func (w *Worker) resolveOutdatedThreads(ctx context.Context, snap *snapshot.Snapshot) {
	for _, t := range snap.ReviewThreads {
		if t.IsResolved || !t.IsOutdated {
			continue
		}
		resolved, err := w.actions.ResolveReviewThread(ctx, t.ID)
		if err != nil {
			w.logger.Warn("failed to resolve outdated thread", "thread", t.ID, "err", err)
			continue
		}
		w.logger.Info("resolved outdated thread", "thread", t.ID, "resolved", resolved)
	}
}

func describeEvent(e snapshot.DeltaEvent) string {
	switch e.Kind {
	case snapshot.ThreadAdded:
		return fmt.Sprintf("thread %s:%d", e.Thread.Path, e.Thread.Line)
	case snapshot.ReviewAdded:
		return fmt.Sprintf("%s by %s", e.Review.State, e.Review.Author)
	case snapshot.CommentAdded:
		return fmt.Sprintf("comment by %s", e.Comment.Author)
	case snapshot.ResolutionCountChanged:
		return fmt.Sprintf("unresolved %d -> %d", e.PrevUnresolved, e.CurrUnresolved)
	default:
		return e.Kind.String()
	}
}
