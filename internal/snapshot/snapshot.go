package snapshot

import "time"

// PRState is the lifecycle state of a pull request as reported by the host.
type PRState string

const (
	StateOpen   PRState = "OPEN"
	StateMerged PRState = "MERGED"
	StateClosed PRState = "CLOSED"
)

// ReviewState is the stance a single review expresses.
type ReviewState string

const (
	ReviewApproved         ReviewState = "APPROVED"
	ReviewChangesRequested ReviewState = "CHANGES_REQUESTED"
	ReviewCommented        ReviewState = "COMMENTED"
	ReviewDismissed        ReviewState = "DISMISSED"
)

// CheckBucket normalizes the many status/conclusion combinations a CI
// provider reports into the four states the gate cares about.
type CheckBucket string

const (
	CheckPass    CheckBucket = "PASS"
	CheckFail    CheckBucket = "FAIL"
	CheckPending CheckBucket = "PENDING"
	CheckSkipped CheckBucket = "SKIPPED"
)

// Snapshot captures the review/CI state of one pull request at one sampling
// instant. Snapshots are value-immutable: a sampler builds a fresh one per
// sample and nothing mutates it afterwards, so holding one as a diff baseline
// across ticks is safe.
type Snapshot struct {
	PRState       PRState
	ReviewThreads []ReviewThread
	Reviews       []Review
	Comments      []Comment
	CheckRuns     []CheckRun
	SampledAt     time.Time
}

// ReviewThread is one review conversation anchored to a diff location.
type ReviewThread struct {
	ID         string
	IsResolved bool
	IsOutdated bool
	Path       string
	Line       int
	Comments   []Comment
}

// Review is a submitted PR review. Only the latest review per author counts
// toward the merge stance; earlier ones are superseded.
type Review struct {
	ID        string
	Author    string
	State     ReviewState
	Body      string
	CreatedAt time.Time
}

// Comment is a PR-level or thread-level comment.
type Comment struct {
	ID        string
	Author    string
	Body      string
	CreatedAt time.Time
	ReplyToID string
}

// CheckRun is one CI check, unique by name within a snapshot.
type CheckRun struct {
	Name   string
	Bucket CheckBucket
}

// UnresolvedThreads counts threads not marked resolved, regardless of
// outdatedness. This is the resolution count the differ tracks.
func (s *Snapshot) UnresolvedThreads() int {
	n := 0
	for _, t := range s.ReviewThreads {
		if !t.IsResolved {
			n++
		}
	}
	return n
}

// ActionableThreads returns unresolved threads that are not outdated, i.e.
// the ones that still block a merge.
func (s *Snapshot) ActionableThreads() []ReviewThread {
	var out []ReviewThread
	for _, t := range s.ReviewThreads {
		if !t.IsResolved && !t.IsOutdated {
			out = append(out, t)
		}
	}
	return out
}

// LatestReviewPerAuthor reduces the review set to each author's most recent
// review by CreatedAt. Ties keep the later entry in sampler order.
func (s *Snapshot) LatestReviewPerAuthor() map[string]Review {
	latest := make(map[string]Review, len(s.Reviews))
	for _, r := range s.Reviews {
		prev, ok := latest[r.Author]
		if !ok || !r.CreatedAt.Before(prev.CreatedAt) {
			latest[r.Author] = r
		}
	}
	return latest
}
