// Package gate holds the one-shot merge-readiness check, distinct from the
// continuous poll loop.
package gate

import (
	"context"
	"fmt"
	"sort"

	"github.com/marcin-skalski/prwatch/internal/poll"
	"github.com/marcin-skalski/prwatch/internal/snapshot"
)

// Verdict answers "is this PR mergeable-ready". Reasons is empty iff Ready.
type Verdict struct {
	Ready   bool     `json:"ready"`
	Reasons []string `json:"reasons,omitempty"`

	UnresolvedThreads int `json:"unresolved_threads"`
	FailingChecks     int `json:"failing_checks"`
	PendingChecks     int `json:"pending_checks"`
	ChangesRequested  int `json:"changes_requested"`
}

func (v Verdict) Status() string {
	if v.Ready {
		return "READY"
	}
	return "BLOCKED"
}

// Evaluate samples once and classifies. Sampling errors propagate untouched
// so callers can tell transient from terminal.
func Evaluate(ctx context.Context, sampler poll.Sampler) (Verdict, error) {
	snap, err := sampler.Sample(ctx)
	if err != nil {
		return Verdict{}, fmt.Errorf("gate sample: %w", err)
	}
	return Check(snap), nil
}

// Check applies the readiness rules to a snapshot. Pure.
//
// READY requires: the PR is open; every check is PASS or SKIPPED (no checks
// configured is vacuously satisfied); zero unresolved non-outdated review
// threads; and no author's latest review is CHANGES_REQUESTED. The latest
// review per author supersedes that author's earlier ones, so an old
// CHANGES_REQUESTED followed by an APPROVED does not block.
func Check(snap *snapshot.Snapshot) Verdict {
	var v Verdict

	if snap.PRState != snapshot.StateOpen {
		v.Reasons = append(v.Reasons, fmt.Sprintf("pull request is %s", snap.PRState))
	}

	for _, c := range snap.CheckRuns {
		switch c.Bucket {
		case snapshot.CheckFail:
			v.FailingChecks++
			v.Reasons = append(v.Reasons, fmt.Sprintf("check %q failed", c.Name))
		case snapshot.CheckPending:
			v.PendingChecks++
			v.Reasons = append(v.Reasons, fmt.Sprintf("check %q still running", c.Name))
		}
	}

	for _, t := range snap.ActionableThreads() {
		v.UnresolvedThreads++
		v.Reasons = append(v.Reasons, fmt.Sprintf("unresolved review thread %s:%d", t.Path, t.Line))
	}

	latest := snap.LatestReviewPerAuthor()
	authors := make([]string, 0, len(latest))
	for a := range latest {
		authors = append(authors, a)
	}
	sort.Strings(authors)
	for _, a := range authors {
		if latest[a].State == snapshot.ReviewChangesRequested {
			v.ChangesRequested++
			v.Reasons = append(v.Reasons, fmt.Sprintf("changes requested by %s", a))
		}
	}

	v.Ready = len(v.Reasons) == 0
	return v
}
