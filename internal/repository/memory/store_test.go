package memory

import (
	"context"
	"testing"
	"time"

	"github.com/cutekitek/rankode-judge/internal/judge"
	"github.com/cutekitek/rankode-judge/internal/repository/models"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

var _ judge.Store = (*Store)(nil)

func TestStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	s.AddProblem(models.Problem{Id: 7, TimeLimit: 1000, MemoryLimit: 64},
		models.TestCase{Id: 3, Order: 2},
		models.TestCase{Id: 1, Order: 1},
		models.TestCase{Id: 2, Order: 1},
	)
	s.AddSubmission(models.Submission{Id: 1, ProblemId: 7, Status: models.StatusAccepted})

	sub, err := s.GetSubmission(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, models.StatusPending, sub.Status)

	tests, err := s.ListTestCases(ctx, 7)
	require.NoError(t, err)
	var ids []int64
	for _, tc := range tests {
		ids = append(ids, tc.Id)
		require.EqualValues(t, 7, tc.ProblemId)
	}
	require.Equal(t, []int64{1, 2, 3}, ids)

	require.Error(t, s.SaveFinal(ctx, 1, &models.FinalResult{Status: models.StatusAccepted}))

	require.NoError(t, s.BeginRun(ctx, 1))
	require.NoError(t, s.AppendTestResult(ctx, 1, &models.TestCaseResult{TestCaseId: 1, Status: models.StatusAccepted}))
	require.Len(t, s.Results(1), 1)

	require.NoError(t, s.BeginRun(ctx, 1))
	require.Empty(t, s.Results(1))

	now := time.Now()
	require.NoError(t, s.SaveFinal(ctx, 1, &models.FinalResult{Status: models.StatusWrongAnswer, Score: 50, JudgedAt: now}))
	sub, err = s.GetSubmission(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, models.StatusWrongAnswer, sub.Status)
	require.Equal(t, 50, sub.Score)
	require.NotNil(t, sub.JudgedAt)
	require.True(t, sub.JudgedAt.Equal(now))
}

func TestStore_NotFound(t *testing.T) {
	s := NewStore()
	_, err := s.GetSubmission(context.Background(), 42)
	require.True(t, errors.Is(err, judge.ErrSubmissionNotFound))
	_, err = s.GetProblem(context.Background(), 42)
	require.Error(t, err)
}
