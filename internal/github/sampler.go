package github

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/marcin-skalski/prwatch/internal/snapshot"
)

// PRSampler binds a Client to one pull request and produces immutable
// snapshots of its review/CI state. Each Sample builds a fresh Snapshot;
// nothing is cached between calls.
type PRSampler struct {
	c   *Client
	ref PRRef
}

// Sampler returns a sampler for one PR.
func (c *Client) Sampler(ref PRRef) *PRSampler {
	return &PRSampler{c: c, ref: ref}
}

func (s *PRSampler) Ref() PRRef { return s.ref }

// Sample fetches PR state, reviews, comments, and checks in one gh call,
// then review threads with full cursor pagination. The two fetches are not
// globally consistent; the differ tolerates the skew.
func (s *PRSampler) Sample(ctx context.Context) (*snapshot.Snapshot, error) {
	args := []string{
		"pr", "view", fmt.Sprintf("%d", s.ref.Number),
		"-R", s.ref.Owner + "/" + s.ref.Repo,
		"--json", "state,reviews,comments,statusCheckRollup",
	}

	out, err := s.c.gh(ctx, s.ref.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("sample %s: %w", s.ref, err)
	}

	snap, err := parsePRView(out)
	if err != nil {
		return nil, fmt.Errorf("sample %s: %w", s.ref, err)
	}

	threads, err := s.fetchReviewThreads(ctx)
	if err != nil {
		return nil, fmt.Errorf("sample %s: %w", s.ref, err)
	}
	snap.ReviewThreads = threads
	snap.SampledAt = time.Now()

	return snap, nil
}

type prViewPayload struct {
	State   string `json:"state"`
	Reviews []struct {
		ID     string `json:"id"`
		Author Author `json:"author"`
		State  string `json:"state"`
		Body   string `json:"body"`

		SubmittedAt time.Time `json:"submittedAt"`
	} `json:"reviews"`
	Comments []struct {
		ID        string    `json:"id"`
		Author    Author    `json:"author"`
		Body      string    `json:"body"`
		CreatedAt time.Time `json:"createdAt"`
	} `json:"comments"`
	StatusCheckRollup []checkNode `json:"statusCheckRollup"`
}

type checkNode struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	Conclusion string `json:"conclusion"`
	Context    string `json:"context"`
	State      string `json:"state"`
}

func parsePRView(data []byte) (*snapshot.Snapshot, error) {
	var payload prViewPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, &MalformedResponseError{Err: fmt.Errorf("parse pr view: %w", err)}
	}

	state, err := parsePRState(payload.State)
	if err != nil {
		return nil, err
	}

	snap := &snapshot.Snapshot{PRState: state}

	for _, r := range payload.Reviews {
		snap.Reviews = append(snap.Reviews, snapshot.Review{
			ID:        r.ID,
			Author:    r.Author.Login,
			State:     snapshot.ReviewState(r.State),
			Body:      r.Body,
			CreatedAt: r.SubmittedAt,
		})
	}
	for _, c := range payload.Comments {
		snap.Comments = append(snap.Comments, snapshot.Comment{
			ID:        c.ID,
			Author:    c.Author.Login,
			Body:      c.Body,
			CreatedAt: c.CreatedAt,
		})
	}
	for _, n := range payload.StatusCheckRollup {
		snap.CheckRuns = append(snap.CheckRuns, bucketCheck(n))
	}

	return snap, nil
}

func parsePRState(s string) (snapshot.PRState, error) {
	switch snapshot.PRState(s) {
	case snapshot.StateOpen, snapshot.StateMerged, snapshot.StateClosed:
		return snapshot.PRState(s), nil
	default:
		return "", &MalformedResponseError{Err: fmt.Errorf("unknown PR state %q", s)}
	}
}

// bucketCheck normalizes a status-rollup node into a CheckRun. GitHub mixes
// check runs (status/conclusion) and commit statuses (context/state) in the
// same list.
func bucketCheck(n checkNode) snapshot.CheckRun {
	name := n.Name
	if name == "" {
		name = n.Context
	}

	var bucket snapshot.CheckBucket
	switch {
	case n.Status != "" && n.Status != "COMPLETED":
		bucket = snapshot.CheckPending
	case n.Conclusion != "":
		switch strings.ToUpper(n.Conclusion) {
		case "SUCCESS":
			bucket = snapshot.CheckPass
		case "SKIPPED", "NEUTRAL":
			bucket = snapshot.CheckSkipped
		default:
			// failure, cancelled, timed_out, action_required, stale
			bucket = snapshot.CheckFail
		}
	default:
		switch strings.ToUpper(n.State) {
		case "SUCCESS":
			bucket = snapshot.CheckPass
		case "FAILURE", "ERROR":
			bucket = snapshot.CheckFail
		default:
			// PENDING, EXPECTED, or missing entirely
			bucket = snapshot.CheckPending
		}
	}

	return snapshot.CheckRun{Name: name, Bucket: bucket}
}

const reviewThreadsQuery = `query($owner: String!, $repo: String!, $pr: Int!, $cursor: String) {
  repository(owner: $owner, name: $repo) {
    pullRequest(number: $pr) {
      reviewThreads(first: 100, after: $cursor) {
        pageInfo {
          hasNextPage
          endCursor
        }
        nodes {
          id
          isResolved
          isOutdated
          path
          line
          comments(first: 100) {
            nodes {
              id
              author { login }
              body
              createdAt
              replyTo { id }
            }
          }
        }
      }
    }
  }
}`

func (s *PRSampler) fetchReviewThreads(ctx context.Context) ([]snapshot.ReviewThread, error) {
	var threads []snapshot.ReviewThread
	cursor := ""

	for {
		args := []string{
			"api", "graphql",
			"-f", "owner=" + s.ref.Owner,
			"-f", "repo=" + s.ref.Repo,
			"-F", fmt.Sprintf("pr=%d", s.ref.Number),
		}
		if cursor != "" {
			args = append(args, "-f", "cursor="+cursor)
		}
		args = append(args, "-f", "query="+reviewThreadsQuery)

		out, err := s.c.gh(ctx, s.ref.String(), args...)
		if err != nil {
			return nil, fmt.Errorf("review threads: %w", err)
		}

		page, nextCursor, err := parseThreadsPage(out)
		if err != nil {
			return nil, err
		}
		threads = append(threads, page...)

		if nextCursor == "" {
			return threads, nil
		}
		cursor = nextCursor
	}
}

type threadsPayload struct {
	Data struct {
		Repository struct {
			PullRequest struct {
				ReviewThreads struct {
					PageInfo struct {
						HasNextPage bool   `json:"hasNextPage"`
						EndCursor   string `json:"endCursor"`
					} `json:"pageInfo"`
					Nodes []struct {
						ID         string `json:"id"`
						IsResolved bool   `json:"isResolved"`
						IsOutdated bool   `json:"isOutdated"`
						Path       string `json:"path"`
						Line       int    `json:"line"`
						Comments   struct {
							Nodes []struct {
								ID        string    `json:"id"`
								Author    Author    `json:"author"`
								Body      string    `json:"body"`
								CreatedAt time.Time `json:"createdAt"`
								ReplyTo   *struct {
									ID string `json:"id"`
								} `json:"replyTo"`
							} `json:"nodes"`
						} `json:"comments"`
					} `json:"nodes"`
				} `json:"reviewThreads"`
			} `json:"pullRequest"`
		} `json:"repository"`
	} `json:"data"`
}

// parseThreadsPage returns one page of threads and the cursor for the next
// page, empty when this was the last one.
func parseThreadsPage(data []byte) ([]snapshot.ReviewThread, string, error) {
	var payload threadsPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, "", &MalformedResponseError{Err: fmt.Errorf("parse review threads: %w", err)}
	}

	rt := payload.Data.Repository.PullRequest.ReviewThreads

	var threads []snapshot.ReviewThread
	for _, n := range rt.Nodes {
		t := snapshot.ReviewThread{
			ID:         n.ID,
			IsResolved: n.IsResolved,
			IsOutdated: n.IsOutdated,
			Path:       n.Path,
			Line:       n.Line,
		}
		for _, c := range n.Comments.Nodes {
			comment := snapshot.Comment{
				ID:        c.ID,
				Author:    c.Author.Login,
				Body:      c.Body,
				CreatedAt: c.CreatedAt,
			}
			if c.ReplyTo != nil {
				comment.ReplyToID = c.ReplyTo.ID
			}
			t.Comments = append(t.Comments, comment)
		}
		threads = append(threads, t)
	}

	if rt.PageInfo.HasNextPage {
		return threads, rt.PageInfo.EndCursor, nil
	}
	return threads, "", nil
}
