package worker

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/marcin-skalski/prwatch/internal/config"
	"github.com/marcin-skalski/prwatch/internal/github"
	"github.com/marcin-skalski/prwatch/internal/snapshot"
)

type scriptedSampler struct {
	snaps []*snapshot.Snapshot
	calls int
}

func (s *scriptedSampler) Sample(ctx context.Context) (*snapshot.Snapshot, error) {
	i := s.calls
	if i >= len(s.snaps) {
		i = len(s.snaps) - 1
	}
	s.calls++
	return s.snaps[i], nil
}

type fakeActions struct {
	mu       sync.Mutex
	replies  []string
	resolved []string
	merged   bool
	method   string
}

func (f *fakeActions) ReplyToReviewThread(ctx context.Context, threadID, body string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, threadID)
	return "C_new", nil
}

func (f *fakeActions) ResolveReviewThread(ctx context.Context, threadID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolved = append(f.resolved, threadID)
	return true, nil
}

func (f *fakeActions) MergePR(ctx context.Context, ref github.PRRef, strategy string, deleteBranch bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.merged = true
	f.method = strategy
	return nil
}

func fastMonitor() config.MonitorConfig {
	return config.MonitorConfig{
		Interval:    time.Millisecond,
		Timeout:     5 * time.Second,
		QuietPeriod: 20 * time.Millisecond,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRef() github.PRRef {
	return github.PRRef{Owner: "acme", Repo: "widget", Number: 7}
}

func TestRunMergesWhenQuietAndReady(t *testing.T) {
	clean := &snapshot.Snapshot{
		PRState:   snapshot.StateOpen,
		CheckRuns: []snapshot.CheckRun{{Name: "unit", Bucket: snapshot.CheckPass}},
	}
	sampler := &scriptedSampler{snaps: []*snapshot.Snapshot{clean}}
	actions := &fakeActions{}

	repo := config.RepoConfig{Owner: "acme", Name: "widget", MergeMethod: "squash", AutoMerge: true}
	w := New(repo, testRef(), sampler, actions, fastMonitor(), testLogger(), nil)

	sum, err := w.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, StatusMerged, sum.Status)
	require.True(t, actions.merged)
	require.Equal(t, "squash", actions.method)
	require.NotNil(t, sum.Verdict)
	require.True(t, sum.Verdict.Ready)
}

func TestRunReportsReadyWithoutAutoMerge(t *testing.T) {
	clean := &snapshot.Snapshot{PRState: snapshot.StateOpen}
	sampler := &scriptedSampler{snaps: []*snapshot.Snapshot{clean}}
	actions := &fakeActions{}

	repo := config.RepoConfig{Owner: "acme", Name: "widget", MergeMethod: "squash"}
	w := New(repo, testRef(), sampler, actions, fastMonitor(), testLogger(), nil)

	sum, err := w.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, StatusReady, sum.Status)
	require.False(t, actions.merged)
}

func TestRunBlockedWhenThreadsUnresolved(t *testing.T) {
	blocked := &snapshot.Snapshot{
		PRState:       snapshot.StateOpen,
		ReviewThreads: []snapshot.ReviewThread{{ID: "T1", Path: "main.go", Line: 3}},
	}
	sampler := &scriptedSampler{snaps: []*snapshot.Snapshot{blocked}}
	actions := &fakeActions{}

	repo := config.RepoConfig{Owner: "acme", Name: "widget", MergeMethod: "squash", AutoMerge: true}
	w := New(repo, testRef(), sampler, actions, fastMonitor(), testLogger(), nil)

	sum, err := w.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, StatusBlocked, sum.Status)
	require.False(t, actions.merged)
	require.NotNil(t, sum.Verdict)
	require.Equal(t, 1, sum.Verdict.UnresolvedThreads)
}

func TestRunAcknowledgesNewThreads(t *testing.T) {
	base := &snapshot.Snapshot{PRState: snapshot.StateOpen}
	withThread := &snapshot.Snapshot{
		PRState:       snapshot.StateOpen,
		ReviewThreads: []snapshot.ReviewThread{{ID: "T1", Path: "a.go", Line: 1}},
	}
	resolvedAgain := &snapshot.Snapshot{
		PRState:       snapshot.StateOpen,
		ReviewThreads: []snapshot.ReviewThread{{ID: "T1", Path: "a.go", Line: 1, IsResolved: true}},
	}

	sampler := &scriptedSampler{snaps: []*snapshot.Snapshot{base, withThread, resolvedAgain}}
	actions := &fakeActions{}

	var activities []Activity
	repo := config.RepoConfig{
		Owner: "acme", Name: "widget", MergeMethod: "squash", AutoMerge: true,
		AckReply: &config.AckReply{Enabled: true, Message: "Looking into it."},
	}
	w := New(repo, testRef(), sampler, actions, fastMonitor(), testLogger(), func(a Activity) {
		activities = append(activities, a)
	})

	sum, err := w.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, StatusMerged, sum.Status)

	require.Equal(t, []string{"T1"}, actions.replies)
	require.NotEmpty(t, activities)
	require.Equal(t, snapshot.ThreadAdded, activities[0].Kind)
}

func TestRunResolvesOutdatedThreadsBeforeGate(t *testing.T) {
	snap := &snapshot.Snapshot{
		PRState: snapshot.StateOpen,
		ReviewThreads: []snapshot.ReviewThread{
			{ID: "T1", IsOutdated: true},
			{ID: "T2", IsResolved: true},
		},
	}
	sampler := &scriptedSampler{snaps: []*snapshot.Snapshot{snap}}
	actions := &fakeActions{}

	repo := config.RepoConfig{
		Owner: "acme", Name: "widget", MergeMethod: "merge",
		AutoMerge: true, ResolveOutdated: true,
	}
	w := New(repo, testRef(), sampler, actions, fastMonitor(), testLogger(), nil)

	sum, err := w.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, StatusMerged, sum.Status)
	require.Equal(t, []string{"T1"}, actions.resolved)
	require.Equal(t, "merge", actions.method)
}

func TestRunTimesOut(t *testing.T) {
	// Activity on every sample keeps resetting the quiet timer until the
	// wall-clock budget wins.
	snaps := make([]*snapshot.Snapshot, 0, 64)
	for i := 0; i < 64; i++ {
		s := &snapshot.Snapshot{PRState: snapshot.StateOpen}
		for j := 0; j <= i; j++ {
			s.Comments = append(s.Comments, snapshot.Comment{ID: string(rune('a' + j))})
		}
		snaps = append(snaps, s)
	}
	sampler := &scriptedSampler{snaps: snaps}

	monitor := fastMonitor()
	monitor.Timeout = 30 * time.Millisecond
	monitor.QuietPeriod = time.Minute

	repo := config.RepoConfig{Owner: "acme", Name: "widget", MergeMethod: "squash"}
	w := New(repo, testRef(), sampler, &fakeActions{}, monitor, testLogger(), nil)

	sum, err := w.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, StatusTimeout, sum.Status)
}
