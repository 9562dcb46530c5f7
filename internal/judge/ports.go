package judge

import (
	"context"
	"time"

	"github.com/cutekitek/rankode-judge/internal/languages"
	"github.com/cutekitek/rankode-judge/internal/repository/models"
	"github.com/pkg/errors"
)

var ErrSubmissionNotFound = errors.New("submission not found")

type SubmissionSource interface {
	// GetSubmission returns ErrSubmissionNotFound for unknown ids.
	GetSubmission(ctx context.Context, id int64) (*models.Submission, error)
	GetProblem(ctx context.Context, id int64) (*models.Problem, error)
	// ListTestCases returns the problem's test cases ordered for judging.
	ListTestCases(ctx context.Context, problemId int64) ([]*models.TestCase, error)
}

type ResultSink interface {
	// BeginRun moves the submission to RUNNING and drops results of earlier runs.
	BeginRun(ctx context.Context, submissionId int64) error
	AppendTestResult(ctx context.Context, submissionId int64, res *models.TestCaseResult) error
	SaveFinal(ctx context.Context, submissionId int64, res *models.FinalResult) error
}

type Store interface {
	SubmissionSource
	ResultSink
}

type LanguageResolver interface {
	Resolve(languageId string) (languages.Strategy, error)
}

// TestCaseResolver loads test data that is not stored inline.
type TestCaseResolver interface {
	Resolve(ctx context.Context, tests []*models.TestCase) error
}

type Locker interface {
	// Acquire fails with a retryable error if the key is held elsewhere.
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// Observer receives judging events, used for metrics.
type Observer interface {
	ObserveCompile(languageId string, ok bool, took time.Duration)
	ObserveTest(languageId string, status models.Status, elapsedMs int64)
	ObserveSubmission(languageId string, res *models.FinalResult, took time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveCompile(string, bool, time.Duration) {}
func (nopObserver) ObserveTest(string, models.Status, int64) {}
func (nopObserver) ObserveSubmission(string, *models.FinalResult, time.Duration) {}
