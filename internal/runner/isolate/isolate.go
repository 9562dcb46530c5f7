// Package isolate runs programs with the isolate(1) sandbox used by IOI
// style judges. Boxes see the host toolchain read-only, the request image is
// ignored.
package isolate

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/cutekitek/rankode-judge/internal/repository/dto"
	"github.com/cutekitek/rankode-judge/internal/runner"
	"github.com/cutekitek/rankode-judge/pkg/shell"
	"github.com/pkg/errors"
)

const DefaultBinary = "isolate"

type IsolateRunnerConfig struct {
	MaxBoxCount int
	Binary      string
	// В байтах
	MaxOutputSize int64
	MaxFileSize   int64
	Processes     int
}

type IsolateRunner struct {
	cfg            IsolateRunnerConfig
	availableBoxes chan int
}

func NewIsolateRunner(cfg IsolateRunnerConfig) *IsolateRunner {
	if cfg.MaxBoxCount <= 0 {
		cfg.MaxBoxCount = 1
	}
	if cfg.Binary == "" {
		cfg.Binary = DefaultBinary
	}
	if cfg.MaxOutputSize <= 0 {
		cfg.MaxOutputSize = 16 * 1024 * 1024
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = 64 * 1024 * 1024
	}
	if cfg.Processes <= 0 {
		cfg.Processes = 64
	}
	boxes := make(chan int, cfg.MaxBoxCount)
	for i := 0; i < cfg.MaxBoxCount; i++ {
		boxes <- i
	}
	return &IsolateRunner{
		cfg:            cfg,
		availableBoxes: boxes,
	}
}

// Check verifies that the isolate binary can be found.
func (r *IsolateRunner) Check() error {
	if _, err := exec.LookPath(r.cfg.Binary); err != nil {
		return runner.Provisioning(err, "isolate is not installed")
	}
	return nil
}

func (r *IsolateRunner) Execute(ctx context.Context, req *dto.ExecRequest) (*dto.ExecResult, error) {
	// wait for box
	var boxId int
	select {
	case boxId = <-r.availableBoxes:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() {
		r.availableBoxes <- boxId
	}()

	box, err := newBox(ctx, r.cfg.Binary, boxId)
	if err != nil {
		return nil, runner.Provisioning(err, "failed to init box")
	}
	defer box.Clean()

	metafile, err := os.CreateTemp("", "boxmeta")
	if err != nil {
		return nil, runner.Provisioning(err, "failed to create a meta file")
	}
	metafile.Close()
	defer os.Remove(metafile.Name())

	args := box.RunArgs(runParams{
		WorkDir:     req.WorkDir,
		Args:        resolveCommand(req.Args),
		Timeout:     req.Timeout,
		MemoryLimit: req.MemoryLimit,
		MaxFileSize: r.cfg.MaxFileSize,
		Processes:   r.cfg.Processes,
		MetaPath:    metafile.Name(),
	})

	// isolate enforces the limit itself, the context only guards against a hung box
	runCtx, cancel := context.WithTimeout(ctx, 2*req.Timeout+5*time.Second)
	defer cancel()
	cmd := exec.CommandContext(runCtx, r.cfg.Binary, args...)
	cmd.Stdin = strings.NewReader(req.Stdin)
	stdout := &shell.LimitedBuffer{Limit: r.cfg.MaxOutputSize}
	stderr := &shell.LimitedBuffer{Limit: r.cfg.MaxOutputSize}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	runErr := cmd.Run()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		// exit status 1 means the program failed, anything else is isolate's own error
		if !errors.As(runErr, &exitErr) || exitErr.ExitCode() != 1 {
			return nil, runner.Provisioning(errors.Wrap(runErr, strings.TrimSpace(stderr.String())), "isolate failed")
		}
	}

	file, err := os.Open(metafile.Name())
	if err != nil {
		return nil, runner.Provisioning(err, "failed to open meta file")
	}
	defer file.Close()
	meta, err := parseMeta(file)
	if err != nil {
		return nil, runner.Provisioning(err, "failed to parse meta file")
	}
	res, err := meta.toExecResult()
	if err != nil {
		return nil, err
	}
	runner.CollectOutput(res, stdout, stderr)
	slog.Debug("execution result", "box", boxId, "exitCode", res.ExitCode, "timedOut", res.TimedOut,
		"oomKilled", res.OOMKilled, "time", res.Duration)
	return res, nil
}

// resolveCommand looks the program up on the host, isolate binds the host
// system directories at the same paths.
func resolveCommand(args []string) []string {
	if len(args) == 0 || strings.Contains(args[0], "/") {
		return args
	}
	path, err := exec.LookPath(args[0])
	if err != nil {
		return args
	}
	return append([]string{path}, args[1:]...)
}
