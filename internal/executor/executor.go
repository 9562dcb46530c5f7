// Package executor runs one submission's program against test inputs inside
// a sandbox provided by a runner.Runner.
package executor

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cutekitek/rankode-judge/internal/languages"
	"github.com/cutekitek/rankode-judge/internal/repository/dto"
	"github.com/cutekitek/rankode-judge/internal/repository/models"
	"github.com/cutekitek/rankode-judge/internal/runner"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	RuntimeErrorMessage   = "Runtime error occurred"
	CompileTimeoutMessage = "Compilation timed out"

	DefaultMemoryLimit = 256 * 1024 * 1024
)

type Config struct {
	// Directory under which per-submission workspaces are created.
	WorkRoot       string
	CompileTimeout time.Duration
	// В байтах
	CompileMemory int64
	// Run memory cap when the problem sets none. В байтах
	DefaultMemory int64
	// CPU share for a test run, 0 means no cap.
	CPUs float64
	// Treat output on stderr of a successful run as accepted.
	AllowStderr bool
}

type Outcome int8

const (
	OutcomeSuccess Outcome = iota
	OutcomeRuntimeError
	OutcomeTimeLimitExceeded
	OutcomeMemoryLimitExceeded
	OutcomeCompilationError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "SUCCESS"
	case OutcomeRuntimeError:
		return models.StatusRuntimeError.String()
	case OutcomeTimeLimitExceeded:
		return models.StatusTimeLimitExceeded.String()
	case OutcomeMemoryLimitExceeded:
		return models.StatusMemoryLimitExceeded.String()
	case OutcomeCompilationError:
		return models.StatusCompilationError.String()
	}
	return "UNKNOWN"
}

// Status maps a failed outcome onto the verdict it produces. Success has no
// status of its own, the comparator decides it.
func (o Outcome) Status() (models.Status, bool) {
	switch o {
	case OutcomeRuntimeError:
		return models.StatusRuntimeError, true
	case OutcomeTimeLimitExceeded:
		return models.StatusTimeLimitExceeded, true
	case OutcomeMemoryLimitExceeded:
		return models.StatusMemoryLimitExceeded, true
	case OutcomeCompilationError:
		return models.StatusCompilationError, true
	case OutcomeSuccess:
		return 0, false
	}
	return models.StatusRuntimeError, true
}

type Result struct {
	Stdout  string
	Stderr  string
	Outcome Outcome
	// milliseconds
	Elapsed     int64
	MemoryBytes int64
}

// CompileError carries the compiler diagnostics of a failed build.
type CompileError struct {
	Diagnostics string
}

func (e *CompileError) Error() string {
	return "compilation failed: " + e.Diagnostics
}

type Factory struct {
	runner runner.Runner
	cfg    Config
}

func NewFactory(r runner.Runner, cfg Config) *Factory {
	if cfg.WorkRoot == "" {
		cfg.WorkRoot = os.TempDir()
	}
	if cfg.CompileTimeout <= 0 {
		cfg.CompileTimeout = 30 * time.Second
	}
	if cfg.DefaultMemory <= 0 {
		cfg.DefaultMemory = DefaultMemoryLimit
	}
	return &Factory{runner: r, cfg: cfg}
}

// Prepare creates a workspace holding the source code. The returned Executor
// must be closed.
func (f *Factory) Prepare(strategy languages.Strategy, code string, problem *models.Problem) (*Executor, error) {
	if err := os.MkdirAll(f.cfg.WorkRoot, 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create work root")
	}
	dir := filepath.Join(f.cfg.WorkRoot, "judge-"+uuid.NewString())
	if err := os.Mkdir(dir, 0o777); err != nil {
		return nil, errors.Wrap(err, "failed to create workspace")
	}
	// sandboxed users write build artifacts here
	if err := os.Chmod(dir, 0o777); err != nil {
		os.RemoveAll(dir)
		return nil, errors.Wrap(err, "failed to chmod workspace")
	}

	source := strategy.SourceFile(strings.ReplaceAll(uuid.NewString(), "-", ""))
	if err := os.WriteFile(filepath.Join(dir, source), []byte(code), 0o644); err != nil {
		os.RemoveAll(dir)
		return nil, errors.Wrap(err, "failed to write source file")
	}

	memory := problem.MemoryLimit * 1024 * 1024
	if memory <= 0 {
		memory = f.cfg.DefaultMemory
	}
	lang := strategy.Language()
	return &Executor{
		runner:   f.runner,
		cfg:      f.cfg,
		strategy: strategy,
		dir:      dir,
		source:   source,
		timeout:  scaleDuration(time.Duration(problem.TimeLimit)*time.Millisecond, lang.TimeMultiplier),
		memory:   scaleBytes(memory, lang.MemoryMultiplier),
	}, nil
}

type Executor struct {
	runner   runner.Runner
	cfg      Config
	strategy languages.Strategy
	dir      string
	source   string
	timeout  time.Duration
	memory   int64

	compiled   bool
	compileErr *CompileError
	closed     bool
}

func (e *Executor) WorkDir() string { return e.dir }

// Timeout is the effective wall-clock limit of one run.
func (e *Executor) Timeout() time.Duration { return e.timeout }

// Compile builds the program once. Later calls return the cached outcome.
// A *CompileError means the code is at fault, any other error is the sandbox's.
func (e *Executor) Compile(ctx context.Context) error {
	if e.compiled {
		if e.compileErr != nil {
			return e.compileErr
		}
		return nil
	}
	args := e.strategy.CompileArgs(e.source)
	if len(args) == 0 {
		e.compiled = true
		return nil
	}

	res, err := e.runner.Execute(ctx, &dto.ExecRequest{
		Image:       e.strategy.Image(),
		WorkDir:     e.dir,
		Args:        args,
		Timeout:     e.cfg.CompileTimeout,
		MemoryLimit: e.cfg.CompileMemory,
	})
	if err != nil {
		return errors.Wrap(err, "failed to run compiler")
	}
	e.compiled = true

	switch {
	case res.TimedOut:
		e.compileErr = &CompileError{Diagnostics: CompileTimeoutMessage}
	case res.ExitCode != 0 || res.OOMKilled:
		diag := res.Stderr
		if strings.TrimSpace(diag) == "" {
			diag = res.Stdout
		}
		e.compileErr = &CompileError{Diagnostics: diag}
	}
	if e.compileErr != nil {
		slog.Debug("compilation failed", "language", e.strategy.Language().Id, "exit_code", res.ExitCode)
		return e.compileErr
	}
	return nil
}

// Execute runs the program with input on stdin.
func (e *Executor) Execute(ctx context.Context, input string) (*Result, error) {
	if e.closed {
		return nil, errors.New("executor is closed")
	}
	if err := e.Compile(ctx); err != nil {
		var ce *CompileError
		if errors.As(err, &ce) {
			return &Result{Stderr: ce.Diagnostics, Outcome: OutcomeCompilationError}, nil
		}
		return nil, err
	}

	if !strings.HasSuffix(input, "\n") {
		input += "\n"
	}
	res, err := e.runner.Execute(ctx, &dto.ExecRequest{
		Image:       e.strategy.Image(),
		WorkDir:     e.dir,
		Args:        e.strategy.RunArgs(e.source),
		Stdin:       input,
		Timeout:     e.timeout,
		MemoryLimit: e.memory,
		CPUs:        e.cfg.CPUs,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to run program")
	}
	return e.classify(res), nil
}

func (e *Executor) classify(res *dto.ExecResult) *Result {
	out := &Result{
		Stdout:      res.Stdout,
		Stderr:      res.Stderr,
		Elapsed:     res.Duration.Milliseconds(),
		MemoryBytes: res.MemoryBytes,
	}
	switch {
	case res.TimedOut:
		out.Outcome = OutcomeTimeLimitExceeded
		out.Elapsed = e.timeout.Milliseconds()
		out.Stdout = ""
	case res.OOMKilled:
		out.Outcome = OutcomeMemoryLimitExceeded
		out.Stdout = ""
	case res.ExitCode != 0:
		out.Outcome = OutcomeRuntimeError
		if strings.TrimSpace(out.Stderr) == "" {
			out.Stderr = RuntimeErrorMessage
		}
	case res.Stderr != "" && !e.cfg.AllowStderr:
		out.Outcome = OutcomeRuntimeError
	default:
		out.Outcome = OutcomeSuccess
	}
	return out
}

// Close removes the workspace. It is safe to call more than once.
func (e *Executor) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	if err := os.RemoveAll(e.dir); err != nil {
		return errors.Wrap(err, "failed to remove workspace")
	}
	return nil
}

func scaleDuration(d time.Duration, multiplier float64) time.Duration {
	if multiplier <= 0 {
		return d
	}
	return time.Duration(float64(d) * multiplier)
}

func scaleBytes(n int64, multiplier float64) int64 {
	if multiplier <= 0 {
		return n
	}
	return int64(float64(n) * multiplier)
}
