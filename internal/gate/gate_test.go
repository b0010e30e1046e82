package gate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/marcin-skalski/prwatch/internal/snapshot"
)

func openPR() *snapshot.Snapshot {
	return &snapshot.Snapshot{PRState: snapshot.StateOpen, SampledAt: time.Now()}
}

func TestReadyWithNoChecksNoThreadsNoReviews(t *testing.T) {
	// No CI configured satisfies the CI criterion vacuously.
	v := Check(openPR())
	require.True(t, v.Ready)
	require.Empty(t, v.Reasons)
	require.Equal(t, "READY", v.Status())
}

func TestPendingOrFailingChecksBlock(t *testing.T) {
	s := openPR()
	s.CheckRuns = []snapshot.CheckRun{
		{Name: "unit", Bucket: snapshot.CheckPass},
		{Name: "lint", Bucket: snapshot.CheckPending},
		{Name: "e2e", Bucket: snapshot.CheckFail},
		{Name: "docs", Bucket: snapshot.CheckSkipped},
	}

	v := Check(s)
	require.False(t, v.Ready)
	require.Equal(t, 1, v.PendingChecks)
	require.Equal(t, 1, v.FailingChecks)
	require.Equal(t, "BLOCKED", v.Status())
}

func TestUnresolvedThreadBlocksButOutdatedDoesNot(t *testing.T) {
	s := openPR()
	s.ReviewThreads = []snapshot.ReviewThread{
		{ID: "t1", Path: "main.go", Line: 5},
		{ID: "t2", IsResolved: true},
		{ID: "t3", IsOutdated: true},
	}

	v := Check(s)
	require.False(t, v.Ready)
	require.Equal(t, 1, v.UnresolvedThreads)
	require.Contains(t, v.Reasons[0], "main.go:5")
}

func TestLatestReviewPerAuthorSupersedesEarlierStance(t *testing.T) {
	t1 := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(2 * time.Hour)

	s := openPR()
	s.Reviews = []snapshot.Review{
		{ID: "r1", Author: "alice", State: snapshot.ReviewChangesRequested, CreatedAt: t1},
		{ID: "r2", Author: "alice", State: snapshot.ReviewApproved, CreatedAt: t2},
	}

	v := Check(s)
	require.True(t, v.Ready, "alice's later approval must supersede her earlier request: %v", v.Reasons)
	require.Zero(t, v.ChangesRequested)
}

func TestCurrentChangesRequestedBlocks(t *testing.T) {
	t1 := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	s := openPR()
	s.Reviews = []snapshot.Review{
		{ID: "r1", Author: "alice", State: snapshot.ReviewApproved, CreatedAt: t1},
		{ID: "r2", Author: "alice", State: snapshot.ReviewChangesRequested, CreatedAt: t1.Add(time.Hour)},
		{ID: "r3", Author: "bob", State: snapshot.ReviewApproved, CreatedAt: t1},
	}

	v := Check(s)
	require.False(t, v.Ready)
	require.Equal(t, 1, v.ChangesRequested)
	require.Contains(t, v.Reasons[0], "alice")
}

func TestNonOpenPRBlocks(t *testing.T) {
	s := &snapshot.Snapshot{PRState: snapshot.StateMerged}
	v := Check(s)
	require.False(t, v.Ready)
	require.Contains(t, v.Reasons[0], "MERGED")
}

type staticSampler struct {
	snap *snapshot.Snapshot
	err  error
}

func (s *staticSampler) Sample(ctx context.Context) (*snapshot.Snapshot, error) {
	return s.snap, s.err
}

func TestEvaluateSamplesOnce(t *testing.T) {
	v, err := Evaluate(context.Background(), &staticSampler{snap: openPR()})
	require.NoError(t, err)
	require.True(t, v.Ready)
}

func TestEvaluatePropagatesSamplerError(t *testing.T) {
	boom := errors.New("boom")
	_, err := Evaluate(context.Background(), &staticSampler{err: boom})
	require.ErrorIs(t, err, boom)
}
