package github

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// PRRef identifies one pull request.
type PRRef struct {
	Owner  string
	Repo   string
	Number int
}

func (r PRRef) String() string {
	return fmt.Sprintf("%s/%s#%d", r.Owner, r.Repo, r.Number)
}

// Client wraps the gh CLI. Auth, transport, and retry-after handling belong
// to gh itself; this layer only shapes requests and classifies failures.
type Client struct {
	logger      *slog.Logger
	callTimeout time.Duration
}

// NewClient returns a client whose individual gh invocations are bounded by
// callTimeout, so a hung fetch cannot wedge a poll loop past its own budget.
func NewClient(logger *slog.Logger, callTimeout time.Duration) *Client {
	if callTimeout <= 0 {
		callTimeout = 60 * time.Second
	}
	return &Client{logger: logger, callTimeout: callTimeout}
}

type PRInfo struct {
	Number  int    `json:"number"`
	Title   string `json:"title"`
	HeadRef string `json:"headRefName"`
	URL     string `json:"url"`
	IsDraft bool   `json:"isDraft"`
	Author  Author `json:"author"`
}

type Author struct {
	Login string `json:"login"`
}

type Issue struct {
	Number int     `json:"number"`
	Title  string  `json:"title"`
	URL    string  `json:"url"`
	State  string  `json:"state"`
	Author Author  `json:"author"`
	Labels []Label `json:"labels"`
}

type Label struct {
	Name string `json:"name"`
}

// IssueFilters narrows a ListIssues call. Zero value lists open issues.
type IssueFilters struct {
	State    string
	Labels   []string
	Assignee string
	Limit    int
}

func (c *Client) ListOpenPRs(ctx context.Context, owner, repo string) ([]PRInfo, error) {
	args := []string{
		"pr", "list",
		"-R", owner + "/" + repo,
		"--json", "number,title,headRefName,url,isDraft,author",
		"--limit", "100",
	}

	out, err := c.gh(ctx, "pull requests", args...)
	if err != nil {
		return nil, fmt.Errorf("list PRs: %w", err)
	}

	var prs []PRInfo
	if err := json.Unmarshal(out, &prs); err != nil {
		return nil, &MalformedResponseError{Err: fmt.Errorf("parse PR list: %w", err)}
	}
	return prs, nil
}

func (c *Client) ListIssues(ctx context.Context, owner, repo string, f IssueFilters) ([]Issue, error) {
	args := []string{
		"issue", "list",
		"-R", owner + "/" + repo,
		"--json", "number,title,url,state,author,labels",
	}
	if f.State != "" {
		args = append(args, "--state", f.State)
	}
	for _, l := range f.Labels {
		args = append(args, "--label", l)
	}
	if f.Assignee != "" {
		args = append(args, "--assignee", f.Assignee)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, "--limit", fmt.Sprintf("%d", limit))

	out, err := c.gh(ctx, "issues", args...)
	if err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}

	var issues []Issue
	if err := json.Unmarshal(out, &issues); err != nil {
		return nil, &MalformedResponseError{Err: fmt.Errorf("parse issue list: %w", err)}
	}
	return issues, nil
}

// ReplyToReviewThread posts a reply on a review thread and returns the new
// comment id. Fails with NotFoundError when the thread is gone.
func (c *Client) ReplyToReviewThread(ctx context.Context, threadID, body string) (string, error) {
	mutation := `mutation($thread: ID!, $body: String!) {
  addPullRequestReviewThreadReply(input: {pullRequestReviewThreadId: $thread, body: $body}) {
    comment { id }
  }
}`

	args := []string{
		"api", "graphql",
		"-f", "thread=" + threadID,
		"-f", "body=" + body,
		"-f", "query=" + mutation,
	}

	out, err := c.gh(ctx, "review thread", args...)
	if err != nil {
		return "", fmt.Errorf("reply to thread %s: %w", threadID, err)
	}

	var resp struct {
		Data struct {
			AddPullRequestReviewThreadReply struct {
				Comment struct {
					ID string `json:"id"`
				} `json:"comment"`
			} `json:"addPullRequestReviewThreadReply"`
		} `json:"data"`
	}
	if err := json.Unmarshal(out, &resp); err != nil {
		return "", &MalformedResponseError{Err: fmt.Errorf("parse thread reply: %w", err)}
	}
	return resp.Data.AddPullRequestReviewThreadReply.Comment.ID, nil
}

// ResolveReviewThread marks a thread resolved and returns the state the host
// reports back.
func (c *Client) ResolveReviewThread(ctx context.Context, threadID string) (bool, error) {
	mutation := `mutation($thread: ID!) {
  resolveReviewThread(input: {threadId: $thread}) {
    thread { isResolved }
  }
}`

	args := []string{
		"api", "graphql",
		"-f", "thread=" + threadID,
		"-f", "query=" + mutation,
	}

	out, err := c.gh(ctx, "review thread", args...)
	if err != nil {
		return false, fmt.Errorf("resolve thread %s: %w", threadID, err)
	}

	var resp struct {
		Data struct {
			ResolveReviewThread struct {
				Thread struct {
					IsResolved bool `json:"isResolved"`
				} `json:"thread"`
			} `json:"resolveReviewThread"`
		} `json:"data"`
	}
	if err := json.Unmarshal(out, &resp); err != nil {
		return false, &MalformedResponseError{Err: fmt.Errorf("parse resolve thread: %w", err)}
	}
	return resp.Data.ResolveReviewThread.Thread.IsResolved, nil
}

// MergePR merges via gh. strategy is "squash" or "merge"; anything else
// falls back to squash.
func (c *Client) MergePR(ctx context.Context, ref PRRef, strategy string, deleteBranch bool) error {
	args := []string{
		"pr", "merge", fmt.Sprintf("%d", ref.Number),
		"-R", ref.Owner + "/" + ref.Repo,
	}
	if deleteBranch {
		args = append(args, "--delete-branch")
	}

	switch strategy {
	case "merge":
		args = append(args, "--merge")
	default:
		args = append(args, "--squash")
	}

	if _, err := c.gh(ctx, ref.String(), args...); err != nil {
		return fmt.Errorf("merge %s: %w", ref, err)
	}
	return nil
}

func (c *Client) gh(ctx context.Context, resource string, args ...string) ([]byte, error) {
	c.logger.Debug("gh", "args", strings.Join(args, " "))

	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	cmd := exec.CommandContext(callCtx, "gh", args...)
	out, err := cmd.Output()
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return nil, &TransientError{Err: fmt.Errorf("gh call exceeded %s", c.callTimeout)}
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			return nil, classifyExecError(resource, err, string(exitErr.Stderr))
		}
		return nil, &TransientError{Err: err}
	}
	return out, nil
}
