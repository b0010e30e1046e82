package github

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/marcin-skalski/prwatch/internal/snapshot"
)

func TestParsePRView(t *testing.T) {
	data := []byte(`{
		"state": "OPEN",
		"reviews": [
			{"id": "R1", "author": {"login": "alice"}, "state": "CHANGES_REQUESTED", "body": "fix it", "submittedAt": "2026-08-01T10:00:00Z"},
			{"id": "R2", "author": {"login": "alice"}, "state": "APPROVED", "body": "", "submittedAt": "2026-08-01T12:00:00Z"}
		],
		"comments": [
			{"id": "C1", "author": {"login": "bob"}, "body": "ping", "createdAt": "2026-08-01T11:00:00Z"}
		],
		"statusCheckRollup": [
			{"name": "unit", "status": "COMPLETED", "conclusion": "SUCCESS"},
			{"name": "lint", "status": "IN_PROGRESS", "conclusion": ""},
			{"context": "ci/legacy", "state": "FAILURE"}
		]
	}`)

	snap, err := parsePRView(data)
	require.NoError(t, err)
	require.Equal(t, snapshot.StateOpen, snap.PRState)

	require.Len(t, snap.Reviews, 2)
	require.Equal(t, "alice", snap.Reviews[0].Author)
	require.Equal(t, snapshot.ReviewChangesRequested, snap.Reviews[0].State)
	require.True(t, snap.Reviews[1].CreatedAt.After(snap.Reviews[0].CreatedAt))

	require.Len(t, snap.Comments, 1)
	require.Equal(t, "C1", snap.Comments[0].ID)

	require.Equal(t, []snapshot.CheckRun{
		{Name: "unit", Bucket: snapshot.CheckPass},
		{Name: "lint", Bucket: snapshot.CheckPending},
		{Name: "ci/legacy", Bucket: snapshot.CheckFail},
	}, snap.CheckRuns)
}

func TestParsePRViewRejectsUnknownState(t *testing.T) {
	_, err := parsePRView([]byte(`{"state": "WEIRD"}`))
	require.Error(t, err)
	require.True(t, IsMalformed(err))
}

func TestParsePRViewRejectsGarbage(t *testing.T) {
	_, err := parsePRView([]byte(`told ya`))
	require.Error(t, err)
	require.True(t, IsMalformed(err))
}

func TestBucketCheck(t *testing.T) {
	tests := []struct {
		name string
		node checkNode
		want snapshot.CheckBucket
	}{
		{"completed success", checkNode{Name: "unit", Status: "COMPLETED", Conclusion: "SUCCESS"}, snapshot.CheckPass},
		{"completed failure", checkNode{Name: "unit", Status: "COMPLETED", Conclusion: "FAILURE"}, snapshot.CheckFail},
		{"completed cancelled", checkNode{Name: "unit", Status: "COMPLETED", Conclusion: "CANCELLED"}, snapshot.CheckFail},
		{"completed skipped", checkNode{Name: "docs", Status: "COMPLETED", Conclusion: "SKIPPED"}, snapshot.CheckSkipped},
		{"completed neutral", checkNode{Name: "docs", Status: "COMPLETED", Conclusion: "NEUTRAL"}, snapshot.CheckSkipped},
		{"in progress", checkNode{Name: "unit", Status: "IN_PROGRESS"}, snapshot.CheckPending},
		{"queued", checkNode{Name: "unit", Status: "QUEUED"}, snapshot.CheckPending},
		{"status context success", checkNode{Context: "ci/build", State: "SUCCESS"}, snapshot.CheckPass},
		{"status context failure", checkNode{Context: "ci/build", State: "FAILURE"}, snapshot.CheckFail},
		{"status context error", checkNode{Context: "ci/build", State: "ERROR"}, snapshot.CheckFail},
		{"status context pending", checkNode{Context: "ci/build", State: "PENDING"}, snapshot.CheckPending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := bucketCheck(tt.node)
			require.Equal(t, tt.want, got.Bucket)
			require.NotEmpty(t, got.Name)
		})
	}
}

func TestParseThreadsPagePagination(t *testing.T) {
	page := []byte(`{"data": {"repository": {"pullRequest": {"reviewThreads": {
		"pageInfo": {"hasNextPage": true, "endCursor": "abc123"},
		"nodes": [
			{"id": "T1", "isResolved": false, "isOutdated": false, "path": "main.go", "line": 10,
			 "comments": {"nodes": [
				{"id": "TC1", "author": {"login": "alice"}, "body": "why?", "createdAt": "2026-08-01T10:00:00Z"},
				{"id": "TC2", "author": {"login": "bob"}, "body": "because", "createdAt": "2026-08-01T10:05:00Z", "replyTo": {"id": "TC1"}}
			 ]}}
		]
	}}}}}`)

	threads, cursor, err := parseThreadsPage(page)
	require.NoError(t, err)
	require.Equal(t, "abc123", cursor)
	require.Len(t, threads, 1)
	require.Equal(t, "T1", threads[0].ID)
	require.Len(t, threads[0].Comments, 2)
	require.Empty(t, threads[0].Comments[0].ReplyToID)
	require.Equal(t, "TC1", threads[0].Comments[1].ReplyToID)

	lastPage := []byte(`{"data": {"repository": {"pullRequest": {"reviewThreads": {
		"pageInfo": {"hasNextPage": false, "endCursor": "zzz"},
		"nodes": []
	}}}}}`)

	threads, cursor, err = parseThreadsPage(lastPage)
	require.NoError(t, err)
	require.Empty(t, cursor)
	require.Empty(t, threads)
}

func TestClassifyExecError(t *testing.T) {
	base := errors.New("exit status 1")

	tests := []struct {
		name   string
		stderr string
		check  func(error) bool
	}{
		{"http 404", "GraphQL: Could not resolve to a PullRequest with the number of 999.", IsNotFound},
		{"rest 404", "HTTP 404: Not Found (https://api.github.com/...)", IsNotFound},
		{"bad credentials", "HTTP 401: Bad credentials", IsAuth},
		{"needs login", "To get started with GitHub CLI, please run: gh auth login", IsAuth},
		{"server error", "HTTP 502: Bad Gateway", IsTransient},
		{"rate limited", "HTTP 403: API rate limit exceeded", IsTransient},
		{"network", "dial tcp: lookup api.github.com: no such host", IsTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyExecError("pr", base, tt.stderr)
			require.True(t, tt.check(err), "got %v", err)
			require.ErrorIs(t, err, base)
		})
	}
}
