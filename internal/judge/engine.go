// Package judge drives a submission from PENDING to its final verdict.
package judge

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/cutekitek/rankode-judge/internal/checker"
	"github.com/cutekitek/rankode-judge/internal/executor"
	"github.com/cutekitek/rankode-judge/internal/languages"
	"github.com/cutekitek/rankode-judge/internal/repository/models"
	"github.com/cutekitek/rankode-judge/internal/runner"
	"github.com/cutekitek/rankode-judge/internal/verdict"
	"github.com/pkg/errors"
)

// Report is the outcome of one completed run.
type Report struct {
	SubmissionId int64
	Final        models.FinalResult
	Tests        []models.TestCaseResult
}

type Engine struct {
	store      Store
	languages  LanguageResolver
	executors  *executor.Factory
	comparator *checker.Comparator
	testData   TestCaseResolver
	locker     Locker
	observer   Observer
	now        func() time.Time
}

type Option func(*Engine)

func WithTestCaseResolver(r TestCaseResolver) Option {
	return func(e *Engine) { e.testData = r }
}

func WithLocker(l Locker) Option {
	return func(e *Engine) { e.locker = l }
}

func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(store Store, langs LanguageResolver, execs *executor.Factory, cmp *checker.Comparator, opts ...Option) *Engine {
	e := &Engine{
		store:      store,
		languages:  langs,
		executors:  execs,
		comparator: cmp,
		observer:   nopObserver{},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Judge runs the submission. Unknown submissions are logged and skipped.
func (e *Engine) Judge(ctx context.Context, submissionId int64) error {
	_, err := e.Run(ctx, submissionId)
	if errors.Is(err, ErrSubmissionNotFound) {
		slog.Warn("submission not found, skipping", "submission_id", submissionId)
		return nil
	}
	return err
}

// Run judges the submission and returns what was persisted. Errors wrapping
// runner.ErrProvisioning leave the submission RUNNING for a retry.
func (e *Engine) Run(ctx context.Context, submissionId int64) (*Report, error) {
	started := e.now()
	sub, err := e.store.GetSubmission(ctx, submissionId)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get submission")
	}

	if e.locker != nil {
		release, err := e.locker.Acquire(ctx, fmt.Sprintf("judge:submission:%d", submissionId))
		if err != nil {
			return nil, err
		}
		defer release()
	}

	problem, err := e.store.GetProblem(ctx, sub.ProblemId)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get problem %d", sub.ProblemId)
	}
	tests, err := e.store.ListTestCases(ctx, sub.ProblemId)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list test cases of problem %d", sub.ProblemId)
	}
	sort.SliceStable(tests, func(i, j int) bool { return tests[i].Order < tests[j].Order })
	if e.testData != nil && len(tests) > 0 {
		if err := e.testData.Resolve(ctx, tests); err != nil {
			return nil, errors.Wrap(err, "failed to load test data")
		}
	}

	if err := e.store.BeginRun(ctx, submissionId); err != nil {
		return nil, errors.Wrap(err, "failed to begin run")
	}
	slog.Info("judging submission", "submission_id", submissionId, "language", sub.LanguageId, "tests", len(tests))

	report := &Report{SubmissionId: submissionId, Tests: make([]models.TestCaseResult, 0, len(tests))}
	var agg verdict.Aggregator
	record := func(res *models.TestCaseResult) error {
		res.SubmissionId = submissionId
		res.Output = cleanText(res.Output)
		res.ErrorMessage = cleanText(res.ErrorMessage)
		res.CreatedAt = e.now()
		if err := agg.Add(res); err != nil {
			return err
		}
		if err := e.store.AppendTestResult(ctx, submissionId, res); err != nil {
			return errors.Wrapf(err, "failed to save result of test case %d", res.TestCaseId)
		}
		e.observer.ObserveTest(sub.LanguageId, res.Status, res.ExecutionTime)
		report.Tests = append(report.Tests, *res)
		return nil
	}

	strategy, err := e.languages.Resolve(sub.LanguageId)
	switch {
	case errors.Is(err, languages.ErrUnsupportedLanguage):
		msg := "Unsupported language: " + sub.LanguageId
		for _, tc := range tests {
			if err := record(&models.TestCaseResult{TestCaseId: tc.Id, Status: models.StatusCompilationError, ErrorMessage: msg}); err != nil {
				return nil, err
			}
		}
	case err != nil:
		return nil, errors.Wrap(err, "failed to resolve language")
	default:
		if err := e.runTests(ctx, sub, problem, strategy, tests, record); err != nil {
			return nil, err
		}
	}

	report.Final = agg.Result()
	report.Final.JudgedAt = e.now()
	if err := e.store.SaveFinal(ctx, submissionId, &report.Final); err != nil {
		return nil, errors.Wrap(err, "failed to save final result")
	}
	e.observer.ObserveSubmission(sub.LanguageId, &report.Final, e.now().Sub(started))
	slog.Info("submission judged", "submission_id", submissionId, "status", report.Final.Status,
		"score", report.Final.Score, "passed", report.Final.TestCasesPassed, "total", report.Final.TotalTestCases)
	return report, nil
}

func (e *Engine) runTests(ctx context.Context, sub *models.Submission, problem *models.Problem, strategy languages.Strategy,
	tests []*models.TestCase, record func(*models.TestCaseResult) error) error {
	exec, err := e.executors.Prepare(strategy, sub.Code, problem)
	if err != nil {
		return runner.Provisioning(err, "failed to prepare workspace")
	}
	defer func() {
		if err := exec.Close(); err != nil {
			slog.Error("failed to release workspace", "submission_id", sub.Id, "error", err)
		}
	}()

	// set when the compile step itself broke, every test then fails the same way
	var broken error
	if len(tests) > 0 {
		compileStarted := e.now()
		err := compile(ctx, exec)
		var ce *executor.CompileError
		switch {
		case err == nil:
			e.observer.ObserveCompile(sub.LanguageId, true, e.now().Sub(compileStarted))
		case errors.As(err, &ce):
			e.observer.ObserveCompile(sub.LanguageId, false, e.now().Sub(compileStarted))
		case errors.Is(err, errPanic):
			e.observer.ObserveCompile(sub.LanguageId, false, e.now().Sub(compileStarted))
			slog.Error("compile step failed", "submission_id", sub.Id, "error", err)
			broken = err
		default:
			return err
		}
	}

	for _, tc := range tests {
		if broken != nil {
			res := &models.TestCaseResult{TestCaseId: tc.Id, Status: models.StatusRuntimeError, ErrorMessage: broken.Error()}
			if err := record(res); err != nil {
				return err
			}
			continue
		}
		res, err := e.judgeTest(ctx, exec, tc)
		if err != nil {
			if errors.Is(err, runner.ErrProvisioning) {
				return err
			}
			slog.Error("test case failed", "submission_id", sub.Id, "test_case_id", tc.Id, "error", err)
			res = &models.TestCaseResult{TestCaseId: tc.Id, Status: models.StatusRuntimeError, ErrorMessage: err.Error()}
		}
		if err := record(res); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) judgeTest(ctx context.Context, exec *executor.Executor, tc *models.TestCase) (res *models.TestCaseResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Wrapf(errPanic, "%v", r)
		}
	}()

	out, err := exec.Execute(ctx, normalizeInput(tc.InputData))
	if err != nil {
		return nil, err
	}
	res = &models.TestCaseResult{
		TestCaseId:    tc.Id,
		ExecutionTime: out.Elapsed,
		MemoryUsed:    out.MemoryBytes,
		Output:        out.Stdout,
	}
	if status, failed := out.Outcome.Status(); failed {
		res.Status = status
		res.ErrorMessage = out.Stderr
	} else {
		res.Status = e.comparator.Compare(out.Stdout, tc.ExpectedOutput)
	}
	slog.Debug("test case judged", "test_case_id", tc.Id, "status", res.Status, "elapsed_ms", res.ExecutionTime)
	return res, nil
}

var errPanic = errors.New("panic while judging")

// compile runs the cached compile step, turning a panic into errPanic.
func compile(ctx context.Context, exec *executor.Executor) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Wrapf(errPanic, "%v", r)
		}
	}()
	return exec.Compile(ctx)
}

// cleanText makes program output storable as text: NUL bytes are dropped and
// invalid UTF-8 is replaced.
func cleanText(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")
	return strings.ToValidUTF8(s, "\uFFFD")
}

func normalizeInput(in string) string {
	return strings.TrimSpace(in) + "\n"
}
