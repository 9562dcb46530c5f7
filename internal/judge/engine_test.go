package judge_test

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/cutekitek/rankode-judge/internal/checker"
	"github.com/cutekitek/rankode-judge/internal/executor"
	"github.com/cutekitek/rankode-judge/internal/judge"
	"github.com/cutekitek/rankode-judge/internal/languages"
	"github.com/cutekitek/rankode-judge/internal/repository/dto"
	"github.com/cutekitek/rankode-judge/internal/repository/memory"
	"github.com/cutekitek/rankode-judge/internal/repository/models"
	"github.com/cutekitek/rankode-judge/internal/runner"
	"github.com/cutekitek/rankode-judge/internal/runner/runnertest"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

const problemId = 10

var testLanguages = []models.Language{
	{Id: "python", FileExtension: "py", RunCommand: "python3 {file}", TimeMultiplier: 1, MemoryMultiplier: 1, IsActive: true},
	{Id: "c", FileExtension: "c", CompileCommand: "gcc -o {executable} {file}", RunCommand: "./{executable}", TimeMultiplier: 1, MemoryMultiplier: 1, IsActive: true},
}

type env struct {
	store   *memory.Store
	runner  *runnertest.Runner
	engine  *judge.Engine
	workDir string
}

// newEnv builds an engine over a scripted runner. The handler gets the
// program's source text so tests can decide behaviour per submission.
func newEnv(t *testing.T, tests []models.TestCase, handler func(code string, req *dto.ExecRequest) (*dto.ExecResult, error), opts ...judge.Option) *env {
	t.Helper()
	reg, err := languages.NewRegistry(testLanguages)
	require.NoError(t, err)

	workDir := t.TempDir()
	r := runnertest.New(func(_ context.Context, req *dto.ExecRequest) (*dto.ExecResult, error) {
		code := readSource(t, req)
		return handler(code, req)
	})
	store := memory.NewStore()
	store.AddProblem(models.Problem{Id: problemId, TimeLimit: 1000, MemoryLimit: 64}, tests...)
	execs := executor.NewFactory(r, executor.Config{WorkRoot: workDir})
	return &env{
		store:   store,
		runner:  r,
		engine:  judge.NewEngine(store, reg, execs, checker.NewComparator(0), opts...),
		workDir: workDir,
	}
}

func readSource(t *testing.T, req *dto.ExecRequest) string {
	entries, err := os.ReadDir(req.WorkDir)
	require.NoError(t, err)
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".py") || strings.HasSuffix(e.Name(), ".c") {
			data, err := os.ReadFile(filepath.Join(req.WorkDir, e.Name()))
			require.NoError(t, err)
			return string(data)
		}
	}
	return ""
}

func (e *env) submit(id int64, lang, code string) {
	e.store.AddSubmission(models.Submission{Id: id, ProblemId: problemId, LanguageId: lang, Code: code, SubmittedAt: time.Now()})
}

// assertReleased checks that no workspace or execution outlives Judge.
func (e *env) assertReleased(t *testing.T) {
	t.Helper()
	require.Zero(t, e.runner.Active())
	entries, err := os.ReadDir(e.workDir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func sumTests(n int) []models.TestCase {
	out := make([]models.TestCase, n)
	for i := range out {
		out[i] = models.TestCase{Id: int64(i + 1), Order: int32(i), InputData: strings.Repeat("1 ", i+1), ExpectedOutput: strconv.Itoa(i + 1), Points: 1}
	}
	return out
}

// summing adds the numbers on stdin, "wrong" answers off by one.
func summing(code string, req *dto.ExecRequest) (*dto.ExecResult, error) {
	n := len(strings.Fields(req.Stdin))
	if code == "wrong" && n%2 == 0 {
		n++
	}
	return &dto.ExecResult{Stdout: strconv.Itoa(n) + "\n", Duration: time.Duration(n*10) * time.Millisecond, MemoryBytes: int64(n) << 20}, nil
}

func TestEngine_AllAccepted(t *testing.T) {
	e := newEnv(t, sumTests(3), summing)
	e.submit(1, "python", "right")

	require.NoError(t, e.engine.Judge(context.Background(), 1))

	sub, err := e.store.GetSubmission(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, models.StatusAccepted, sub.Status)
	require.Equal(t, 100, sub.Score)
	require.Equal(t, 3, sub.TestCasesPassed)
	require.Equal(t, 3, sub.TotalTestCases)
	require.EqualValues(t, 20, sub.ExecutionTime)
	require.EqualValues(t, 3<<20, sub.MemoryUsed)
	require.NotNil(t, sub.JudgedAt)

	results := e.store.Results(1)
	require.Len(t, results, 3)
	for i, r := range results {
		require.EqualValues(t, i+1, r.TestCaseId)
		require.Equal(t, models.StatusAccepted, r.Status)
	}
	e.assertReleased(t)
}

func TestEngine_PartialScore(t *testing.T) {
	e := newEnv(t, sumTests(3), summing)
	e.submit(1, "python", "wrong")

	report, err := e.engine.Run(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, models.StatusWrongAnswer, report.Final.Status)
	require.Equal(t, 2, report.Final.TestCasesPassed)
	require.Equal(t, 67, report.Final.Score)
	require.Len(t, report.Tests, 3)
	require.Equal(t, models.StatusWrongAnswer, report.Tests[1].Status)
	e.assertReleased(t)
}

func TestEngine_TimeLimit(t *testing.T) {
	e := newEnv(t, sumTests(3), func(code string, req *dto.ExecRequest) (*dto.ExecResult, error) {
		if len(strings.Fields(req.Stdin)) == 3 {
			return &dto.ExecResult{Stdout: "partial", TimedOut: true, Duration: 2 * req.Timeout}, nil
		}
		return summing(code, req)
	})
	e.submit(1, "python", "sleepy")

	report, err := e.engine.Run(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, models.StatusTimeLimitExceeded, report.Final.Status)
	require.Equal(t, 67, report.Final.Score)

	tle := report.Tests[2]
	require.Equal(t, models.StatusTimeLimitExceeded, tle.Status)
	require.EqualValues(t, 1000, tle.ExecutionTime)
	require.Empty(t, tle.Output)
	e.assertReleased(t)
}

func TestEngine_CompilationError(t *testing.T) {
	compiles := 0
	e := newEnv(t, sumTests(3), func(code string, req *dto.ExecRequest) (*dto.ExecResult, error) {
		if req.Args[0] == "gcc" {
			compiles++
			return &dto.ExecResult{ExitCode: 1, Stderr: "main.c:1:1: error: expected ';'"}, nil
		}
		t.Fatalf("program must not run after a failed build")
		return nil, nil
	})
	e.submit(1, "c", "int main() {")

	report, err := e.engine.Run(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, 1, compiles)
	require.Equal(t, models.StatusCompilationError, report.Final.Status)
	require.Equal(t, 0, report.Final.Score)
	require.Equal(t, "main.c:1:1: error: expected ';'", report.Final.ErrorMessage)
	require.Len(t, e.store.Results(1), 3)
	for _, r := range report.Tests {
		require.Equal(t, models.StatusCompilationError, r.Status)
	}
	e.assertReleased(t)
}

func TestEngine_UnsupportedLanguage(t *testing.T) {
	e := newEnv(t, sumTests(2), func(string, *dto.ExecRequest) (*dto.ExecResult, error) {
		t.Fatalf("nothing must run for an unknown language")
		return nil, nil
	})
	e.submit(1, "brainfuck", "+++")

	report, err := e.engine.Run(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, models.StatusCompilationError, report.Final.Status)
	require.Equal(t, "Unsupported language: brainfuck", report.Final.ErrorMessage)
	require.Len(t, e.store.Results(1), 2)
	e.assertReleased(t)
}

func TestEngine_RuntimeErrorPrecedence(t *testing.T) {
	e := newEnv(t, sumTests(3), func(code string, req *dto.ExecRequest) (*dto.ExecResult, error) {
		switch len(strings.Fields(req.Stdin)) {
		case 1:
			return &dto.ExecResult{TimedOut: true}, nil
		case 2:
			return &dto.ExecResult{ExitCode: 1}, nil
		}
		return summing(code, req)
	})
	e.submit(1, "python", "crashy")

	report, err := e.engine.Run(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, models.StatusRuntimeError, report.Final.Status)
	require.Equal(t, 0, report.Final.Score)
	require.Equal(t, executor.RuntimeErrorMessage, report.Final.ErrorMessage)
}

func TestEngine_MemoryLimit(t *testing.T) {
	e := newEnv(t, sumTests(2), func(code string, req *dto.ExecRequest) (*dto.ExecResult, error) {
		if len(strings.Fields(req.Stdin)) == 2 {
			return &dto.ExecResult{OOMKilled: true, ExitCode: 137}, nil
		}
		return summing(code, req)
	})
	e.submit(1, "python", "hungry")

	report, err := e.engine.Run(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, models.StatusMemoryLimitExceeded, report.Final.Status)
	require.Equal(t, 50, report.Final.Score)
}

func TestEngine_PanicBecomesRuntimeError(t *testing.T) {
	e := newEnv(t, sumTests(3), func(code string, req *dto.ExecRequest) (*dto.ExecResult, error) {
		if len(strings.Fields(req.Stdin)) == 1 {
			panic("boom")
		}
		return summing(code, req)
	})
	e.submit(1, "python", "right")

	report, err := e.engine.Run(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, report.Tests, 3)
	require.Equal(t, models.StatusRuntimeError, report.Tests[0].Status)
	require.Contains(t, report.Tests[0].ErrorMessage, "boom")
	require.Equal(t, models.StatusAccepted, report.Tests[1].Status)
	require.Equal(t, models.StatusAccepted, report.Tests[2].Status)
	require.Equal(t, models.StatusRuntimeError, report.Final.Status)
	e.assertReleased(t)
}

func TestEngine_BinaryOutputIsCleaned(t *testing.T) {
	e := newEnv(t, sumTests(2), func(code string, req *dto.ExecRequest) (*dto.ExecResult, error) {
		if len(strings.Fields(req.Stdin)) == 1 {
			return &dto.ExecResult{Stdout: "a\x00b\xff\n"}, nil
		}
		return &dto.ExecResult{ExitCode: 139, Stderr: "\x00\xfe\xffsegfault"}, nil
	})
	e.submit(1, "python", "right")

	report, err := e.engine.Run(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, models.StatusRuntimeError, report.Final.Status)

	results := e.store.Results(1)
	require.Len(t, results, 2)
	require.Equal(t, models.StatusWrongAnswer, results[0].Status)
	require.Equal(t, "ab\uFFFD\n", results[0].Output)
	require.Equal(t, "\uFFFDsegfault", results[1].ErrorMessage)
	for _, r := range results {
		require.True(t, utf8.ValidString(r.Output))
		require.True(t, utf8.ValidString(r.ErrorMessage))
		require.NotContains(t, r.Output+r.ErrorMessage, "\x00")
	}
	require.True(t, utf8.ValidString(report.Final.ErrorMessage))
	e.assertReleased(t)
}

func TestEngine_CompilePanic(t *testing.T) {
	compiles := 0
	e := newEnv(t, sumTests(3), func(code string, req *dto.ExecRequest) (*dto.ExecResult, error) {
		if req.Args[0] == "gcc" {
			compiles++
			panic("compiler backend exploded")
		}
		t.Fatalf("program must not run after a broken build")
		return nil, nil
	})
	e.submit(1, "c", "right")

	report, err := e.engine.Run(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, 1, compiles)
	require.Equal(t, models.StatusRuntimeError, report.Final.Status)
	require.Len(t, report.Tests, 3)
	for _, r := range report.Tests {
		require.Equal(t, models.StatusRuntimeError, r.Status)
		require.Contains(t, r.ErrorMessage, "compiler backend exploded")
	}

	sub, err := e.store.GetSubmission(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, models.StatusRuntimeError, sub.Status)
	e.assertReleased(t)
}

func TestEngine_CompileInterrupted(t *testing.T) {
	compiles := 0
	e := newEnv(t, sumTests(3), func(code string, req *dto.ExecRequest) (*dto.ExecResult, error) {
		if req.Args[0] == "gcc" {
			compiles++
			return nil, context.Canceled
		}
		t.Fatalf("program must not run without a build")
		return nil, nil
	})
	e.submit(1, "c", "right")

	_, err := e.engine.Run(context.Background(), 1)
	require.Error(t, err)
	require.True(t, errors.Is(err, context.Canceled))
	require.Equal(t, 1, compiles)
	require.Empty(t, e.store.Results(1))
	e.assertReleased(t)
}

func TestEngine_ProvisioningFailure(t *testing.T) {
	e := newEnv(t, sumTests(3), func(code string, req *dto.ExecRequest) (*dto.ExecResult, error) {
		if len(strings.Fields(req.Stdin)) == 2 {
			return nil, runner.Provisioning(errors.New("connection refused"), "docker daemon unreachable")
		}
		return summing(code, req)
	})
	e.submit(1, "python", "right")

	err := e.engine.Judge(context.Background(), 1)
	require.Error(t, err)
	require.True(t, errors.Is(err, runner.ErrProvisioning))

	sub, err := e.store.GetSubmission(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, models.StatusRunning, sub.Status)
	require.Nil(t, sub.JudgedAt)
	e.assertReleased(t)
}

func TestEngine_Rejudge(t *testing.T) {
	e := newEnv(t, sumTests(4), summing)
	e.submit(1, "python", "wrong")

	first, err := e.engine.Run(context.Background(), 1)
	require.NoError(t, err)
	second, err := e.engine.Run(context.Background(), 1)
	require.NoError(t, err)

	require.Equal(t, first.Final.Status, second.Final.Status)
	require.Equal(t, first.Final.Score, second.Final.Score)
	require.Equal(t, first.Final.TestCasesPassed, second.Final.TestCasesPassed)
	require.Len(t, e.store.Results(1), 4)
	e.assertReleased(t)
}

func TestEngine_NoTests(t *testing.T) {
	e := newEnv(t, nil, summing)
	e.submit(1, "python", "right")

	report, err := e.engine.Run(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, models.StatusWrongAnswer, report.Final.Status)
	require.Equal(t, 0, report.Final.Score)
	require.Equal(t, 0, report.Final.TotalTestCases)
	require.Empty(t, e.store.Results(1))
	require.Empty(t, e.runner.Requests())
	e.assertReleased(t)
}

func TestEngine_SubmissionNotFound(t *testing.T) {
	e := newEnv(t, sumTests(1), summing)

	require.NoError(t, e.engine.Judge(context.Background(), 404))
	_, err := e.engine.Run(context.Background(), 404)
	require.True(t, errors.Is(err, judge.ErrSubmissionNotFound))
}

type stubLocker struct {
	mu       sync.Mutex
	held     map[string]bool
	acquired []string
}

func (l *stubLocker) Acquire(_ context.Context, key string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, errors.New("locked")
	}
	l.held[key] = true
	l.acquired = append(l.acquired, key)
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
	}, nil
}

func TestEngine_Lock(t *testing.T) {
	locker := &stubLocker{held: map[string]bool{}}
	e := newEnv(t, sumTests(1), summing, judge.WithLocker(locker))
	e.submit(1, "python", "right")

	require.NoError(t, e.engine.Judge(context.Background(), 1))
	require.Equal(t, []string{"judge:submission:1"}, locker.acquired)
	require.Empty(t, locker.held)

	locker.held["judge:submission:1"] = true
	require.Error(t, e.engine.Judge(context.Background(), 1))
}

type recordingObserver struct {
	compiles    []bool
	tests       []models.Status
	submissions []models.Status
}

func (o *recordingObserver) ObserveCompile(_ string, ok bool, _ time.Duration) {
	o.compiles = append(o.compiles, ok)
}

func (o *recordingObserver) ObserveTest(_ string, status models.Status, _ int64) {
	o.tests = append(o.tests, status)
}

func (o *recordingObserver) ObserveSubmission(_ string, res *models.FinalResult, _ time.Duration) {
	o.submissions = append(o.submissions, res.Status)
}

func TestEngine_Observer(t *testing.T) {
	obs := &recordingObserver{}
	e := newEnv(t, sumTests(2), func(code string, req *dto.ExecRequest) (*dto.ExecResult, error) {
		if req.Args[0] == "gcc" {
			return &dto.ExecResult{}, nil
		}
		return summing(code, req)
	}, judge.WithObserver(obs))
	e.submit(1, "c", "right")

	require.NoError(t, e.engine.Judge(context.Background(), 1))
	require.Equal(t, []bool{true}, obs.compiles)
	require.Equal(t, []models.Status{models.StatusAccepted, models.StatusAccepted}, obs.tests)
	require.Equal(t, []models.Status{models.StatusAccepted}, obs.submissions)
}

type fakeTestData map[string]string

func (f fakeTestData) Resolve(_ context.Context, tests []*models.TestCase) error {
	for _, tc := range tests {
		if tc.InputKey != "" {
			tc.InputData = f[tc.InputKey]
		}
		if tc.OutputKey != "" {
			tc.ExpectedOutput = f[tc.OutputKey]
		}
	}
	return nil
}

func TestEngine_TestCaseResolver(t *testing.T) {
	tests := []models.TestCase{{Id: 1, InputKey: "in/1", OutputKey: "out/1"}}
	data := fakeTestData{"in/1": "1 1 1", "out/1": "3"}
	e := newEnv(t, tests, summing, judge.WithTestCaseResolver(data))
	e.submit(1, "python", "right")

	report, err := e.engine.Run(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, models.StatusAccepted, report.Final.Status)
}
