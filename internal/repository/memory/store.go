// Package memory is an in-process store used by tests and the try tool.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/cutekitek/rankode-judge/internal/judge"
	"github.com/cutekitek/rankode-judge/internal/repository/models"
	"github.com/pkg/errors"
)

type Store struct {
	mu          sync.Mutex
	submissions map[int64]*models.Submission
	problems    map[int64]*models.Problem
	tests       map[int64][]*models.TestCase
	results     map[int64][]models.TestCaseResult
}

func NewStore() *Store {
	return &Store{
		submissions: make(map[int64]*models.Submission),
		problems:    make(map[int64]*models.Problem),
		tests:       make(map[int64][]*models.TestCase),
		results:     make(map[int64][]models.TestCaseResult),
	}
}

func (s *Store) AddProblem(p models.Problem, tests ...models.TestCase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.problems[p.Id] = &p
	list := make([]*models.TestCase, 0, len(tests))
	for i := range tests {
		tc := tests[i]
		tc.ProblemId = p.Id
		list = append(list, &tc)
	}
	s.tests[p.Id] = list
}

// AddSubmission stores sub as PENDING.
func (s *Store) AddSubmission(sub models.Submission) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub.Status = models.StatusPending
	s.submissions[sub.Id] = &sub
}

func (s *Store) GetSubmission(_ context.Context, id int64) (*models.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.submissions[id]
	if !ok {
		return nil, errors.Wrapf(judge.ErrSubmissionNotFound, "id %d", id)
	}
	c := *sub
	return &c, nil
}

func (s *Store) GetProblem(_ context.Context, id int64) (*models.Problem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.problems[id]
	if !ok {
		return nil, errors.Errorf("problem %d not found", id)
	}
	c := *p
	return &c, nil
}

func (s *Store) ListTestCases(_ context.Context, problemId int64) ([]*models.TestCase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.TestCase, 0, len(s.tests[problemId]))
	for _, tc := range s.tests[problemId] {
		c := *tc
		out = append(out, &c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].Id < out[j].Id
	})
	return out, nil
}

func (s *Store) BeginRun(_ context.Context, submissionId int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.submissions[submissionId]
	if !ok {
		return errors.Wrapf(judge.ErrSubmissionNotFound, "id %d", submissionId)
	}
	sub.Status = models.StatusRunning
	sub.Score = 0
	sub.TestCasesPassed = 0
	sub.TotalTestCases = 0
	sub.ErrorMessage = ""
	sub.JudgedAt = nil
	delete(s.results, submissionId)
	return nil
}

func (s *Store) AppendTestResult(_ context.Context, submissionId int64, res *models.TestCaseResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.submissions[submissionId]; !ok {
		return errors.Wrapf(judge.ErrSubmissionNotFound, "id %d", submissionId)
	}
	s.results[submissionId] = append(s.results[submissionId], *res)
	return nil
}

func (s *Store) SaveFinal(_ context.Context, submissionId int64, res *models.FinalResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.submissions[submissionId]
	if !ok {
		return errors.Wrapf(judge.ErrSubmissionNotFound, "id %d", submissionId)
	}
	if sub.Status != models.StatusRunning {
		return errors.Errorf("submission %d is %s, not RUNNING", submissionId, sub.Status)
	}
	judgedAt := res.JudgedAt
	sub.Status = res.Status
	sub.Score = res.Score
	sub.ExecutionTime = res.ExecutionTime
	sub.MemoryUsed = res.MemoryUsed
	sub.TestCasesPassed = res.TestCasesPassed
	sub.TotalTestCases = res.TotalTestCases
	sub.ErrorMessage = res.ErrorMessage
	sub.JudgedAt = &judgedAt
	return nil
}

// Results returns the stored results of the latest run.
func (s *Store) Results(submissionId int64) []models.TestCaseResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.TestCaseResult, len(s.results[submissionId]))
	copy(out, s.results[submissionId])
	return out
}
