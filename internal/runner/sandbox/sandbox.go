package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/criyle/go-sandbox/container"
	"github.com/criyle/go-sandbox/pkg/cgroup"
	"github.com/criyle/go-sandbox/pkg/mount"
	"github.com/criyle/go-sandbox/pkg/rlimit"
	"github.com/criyle/go-sandbox/runner"
	"github.com/cutekitek/rankode-judge/internal/repository/dto"
	judgerunner "github.com/cutekitek/rankode-judge/internal/runner"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

var (
	rootCG    cgroup.Cgroup
	cgroupErr error
	cgOnce    sync.Once
)

func init() {
	container.Init()
}

func initCgroup() error {
	cgOnce.Do(func() {
		t := cgroup.DetectType()
		if t == cgroup.TypeV2 {
			cgroup.EnableV2Nesting()
		}
		ct, err := cgroup.GetAvailableController()
		if err != nil {
			cgroupErr = fmt.Errorf("cgroup.GetAvailableController: %w", err)
			return
		}
		rootCG, err = cgroup.New("rankode", ct)
		if err != nil {
			cgroupErr = fmt.Errorf("cgroup.New: %w", err)
		}
	})
	return cgroupErr
}

type SandboxRunnerConfig struct {
	ContainersPoolSize int
	// В байтах
	MaxOutputSize int64
	MaxFileSize   int64
}

// SandboxRunner runs programs in Linux namespaces with the host toolchain
// mounted read-only. The request image is ignored.
type SandboxRunner struct {
	Config  SandboxRunnerConfig
	slots   chan struct{}
	credGen *credGen
}

type containerRunner struct {
	container.Environment
	container.ExecveParam
}

func (r *containerRunner) Run(c context.Context) runner.Result {
	return r.Execve(c, r.ExecveParam)
}

func NewSandboxRunner(cfg SandboxRunnerConfig) *SandboxRunner {
	if cfg.ContainersPoolSize <= 0 {
		cfg.ContainersPoolSize = 1
	}
	if cfg.MaxOutputSize <= 0 {
		cfg.MaxOutputSize = 16 * 1024 * 1024
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = 64 * 1024 * 1024
	}
	return &SandboxRunner{
		Config:  cfg,
		slots:   make(chan struct{}, cfg.ContainersPoolSize),
		credGen: newCredGen(),
	}
}

func (r *SandboxRunner) Init() error {
	if err := initCgroup(); err != nil {
		return judgerunner.Provisioning(err, "failed to init cgroups")
	}
	return nil
}

// Close waits for running executions to finish.
func (r *SandboxRunner) Close() {
	for i := 0; i < cap(r.slots); i++ {
		r.slots <- struct{}{}
	}
}

func (r *SandboxRunner) Execute(ctx context.Context, req *dto.ExecRequest) (*dto.ExecResult, error) {
	if err := r.Init(); err != nil {
		return nil, err
	}
	select {
	case r.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-r.slots }()

	root, err := os.MkdirTemp("", "rankode-container-")
	if err != nil {
		return nil, judgerunner.Provisioning(err, "failed to create container root")
	}
	defer os.RemoveAll(root)

	env, err := r.PrepareContainer(root, req.WorkDir)
	if err != nil {
		return nil, judgerunner.Provisioning(err, "failed to create container")
	}
	defer env.Destroy()

	if err := env.Ping(); err != nil {
		return nil, judgerunner.Provisioning(err, "failed to ping container")
	}

	res, err := r.ExecuteInSandbox(ctx, RunParams{
		ContainerEnv:  env,
		Args:          resolveCommand(req.Args),
		MaxFileSize:   r.Config.MaxFileSize,
		Timeout:       req.Timeout,
		MemoryLimit:   req.MemoryLimit,
		Input:         req.Stdin,
		MaxOutputSize: r.Config.MaxOutputSize,
	})
	if err != nil {
		return nil, err
	}
	return toExecResult(res)
}

func toExecResult(res *executionResult) (*dto.ExecResult, error) {
	out := &dto.ExecResult{
		Stdout:      string(res.Output),
		Stderr:      string(res.Error),
		ExitCode:    res.ExitStatus,
		Duration:    res.Time,
		MemoryBytes: int64(res.Memory),
	}
	switch res.Status {
	case runner.StatusNormal, runner.StatusNonzeroExitStatus:
	case runner.StatusTimeLimitExceeded:
		out.TimedOut = true
	case runner.StatusMemoryLimitExceeded:
		out.OOMKilled = true
	case runner.StatusSignalled:
		out.ExitCode = 128 + res.ExitStatus
	case runner.StatusOutputLimitExceeded:
		judgerunner.LimitOutput(out)
	case runner.StatusRunnerError:
		return nil, judgerunner.Provisioning(errors.New(res.RunnerError), "sandbox runner error")
	default:
		if out.ExitCode == 0 {
			out.ExitCode = 1
		}
		if out.Stderr == "" {
			out.Stderr = res.Status.String()
		}
	}
	return out, nil
}

// resolveCommand looks the program up on the host, the same paths are
// mounted inside the container.
func resolveCommand(args []string) []string {
	if len(args) == 0 || strings.Contains(args[0], "/") {
		return args
	}
	path, err := exec.LookPath(args[0])
	if err != nil {
		return args
	}
	out := append([]string{path}, args[1:]...)
	return out
}

type RunParams struct {
	ContainerEnv  container.Environment
	Args          []string
	MaxFileSize   int64
	Timeout       time.Duration
	MemoryLimit   int64
	Input         string
	MaxOutputSize int64
}

type executionResult struct {
	Status      runner.Status
	ExitStatus  int
	Time        time.Duration
	Memory      runner.Size
	Error       []byte
	Output      []byte
	RunnerError string
}

func (r *SandboxRunner) ExecuteInSandbox(parent context.Context, params RunParams) (*executionResult, error) {
	cg, err := rootCG.Random("sandbox")
	if err != nil {
		return nil, judgerunner.Provisioning(err, "cgroup.Random")
	}
	defer cg.Destroy()

	if params.MemoryLimit > 0 {
		_ = cg.SetMemoryLimit(uint64(runner.Size(params.MemoryLimit)))
	}

	cgDir, err := cg.Open()
	if err != nil {
		return nil, judgerunner.Provisioning(err, "failed to open cg fd")
	}
	defer cgDir.Close()

	ctx, cancel := context.WithTimeout(parent, params.Timeout)
	defer cancel()

	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return nil, judgerunner.Provisioning(err, "failed to create pipe")
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		stdinR.Close()
		stdinW.Close()
		return nil, judgerunner.Provisioning(err, "failed to create pipe")
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdinR.Close()
		stdinW.Close()
		stdoutR.Close()
		stdoutW.Close()
		return nil, judgerunner.Provisioning(err, "failed to create pipe")
	}

	stdout := bytes.NewBuffer(nil)
	stderr := bytes.NewBuffer(nil)
	var outputExceeded atomic.Bool
	wg := &sync.WaitGroup{}
	wg.Add(2)
	go pipeWriter(ctx, stdinW, params.Input)
	go pipeReader(wg, &outputExceeded, stdoutR, stdout, params.MaxOutputSize)
	go pipeReader(wg, &outputExceeded, stderrR, stderr, params.MaxOutputSize)
	syncFunc := func(pid int) error {
		return cg.AddProc(pid)
	}

	rlims := rlimit.RLimits{
		CPU:      uint64(params.Timeout.Seconds()) + 1,
		CPUHard:  uint64(params.Timeout.Seconds()) + 2,
		FileSize: uint64(params.MaxFileSize),
		Stack:    128 * 1024 * 1024,
		OpenFile: 2048,
	}

	rs := containerRunner{
		Environment: params.ContainerEnv,
		ExecveParam: container.ExecveParam{
			Args:     params.Args,
			Env:      []string{"PATH=/usr/local/bin:/usr/bin:/bin", "HOME=/tmp", "GOCACHE=/tmp/gocache"},
			Files:    []uintptr{stdinR.Fd(), stdoutW.Fd(), stderrW.Fd()},
			RLimits:  rlims.PrepareRLimit(),
			SyncFunc: syncFunc,
			CgroupFD: cgDir.Fd(),
		},
	}

	res := rs.Run(ctx)
	timedOut := errors.Is(ctx.Err(), context.DeadlineExceeded) && parent.Err() == nil
	stdinR.Close()
	stdoutW.Close()
	stderrW.Close()
	wg.Wait()
	stdoutR.Close()
	stderrR.Close()

	if err := parent.Err(); err != nil {
		return nil, err
	}

	execRes := &executionResult{
		Status:     res.Status,
		ExitStatus: res.ExitStatus,
		Time:       res.Time,
		Memory:     res.Memory,
		Output:     stdout.Bytes(),
		Error:      stderr.Bytes(),
	}
	if res.Status == runner.StatusRunnerError {
		execRes.RunnerError = res.Error
	}
	if cpu, err := cg.CPUUsage(); err == nil {
		execRes.Time = time.Duration(cpu)
	}
	if mem, err := cg.MemoryMaxUsage(); err == nil {
		execRes.Memory = runner.Size(mem)
	}
	if params.MemoryLimit > 0 && execRes.Memory >= runner.Size(params.MemoryLimit) && execRes.Status != runner.StatusNormal {
		execRes.Status = runner.StatusMemoryLimitExceeded
	}
	if timedOut {
		execRes.Status = runner.StatusTimeLimitExceeded
	}
	if outputExceeded.Load() && execRes.Status != runner.StatusTimeLimitExceeded {
		execRes.Status = runner.StatusOutputLimitExceeded
	}

	slog.Debug("execution result", "status", execRes.Status, "exitStatus", execRes.ExitStatus, "memory", execRes.Memory, "error", res.Error, "time", execRes.Time)

	return execRes, nil
}

// pipeReader drains pipe into out. Bytes past maxSize are read and dropped
// so the writer never blocks.
func pipeReader(wg *sync.WaitGroup, exceeded *atomic.Bool, pipe *os.File, out *bytes.Buffer, maxSize int64) {
	defer wg.Done()
	buf := make([]byte, 1024)
	for {
		n, err := pipe.Read(buf)
		if n > 0 {
			room := maxSize - int64(out.Len())
			if maxSize > 0 && int64(n) > room {
				exceeded.Store(true)
				if room > 0 {
					out.Write(buf[:room])
				}
			} else {
				out.Write(buf[:n])
			}
		}
		if err != nil {
			return
		}
	}
}

func pipeWriter(ctx context.Context, pipe *os.File, in string) {
	buf := make([]byte, 1024)
	reader := strings.NewReader(in)
	defer pipe.Close()
	for {
		select {
		case <-ctx.Done():
			return
		default:
			if _, err := io.CopyBuffer(pipe, reader, buf); err != nil {
				return
			}
			if reader.Len() == 0 {
				return
			}
		}
	}
}

// PrepareContainer builds an environment rooted at root with workDir bound
// read-write at /w.
func (r *SandboxRunner) PrepareContainer(root, workDir string) (container.Environment, error) {
	mb := mount.NewBuilder().
		WithBind("/bin", "bin", true).
		WithBind("/lib", "lib", true).
		WithBind("/lib64", "lib64", true).
		WithBind("/usr", "usr", true).
		WithBind("/etc/ld.so.cache", "etc/ld.so.cache", true).
		WithBind("/etc/alternatives", "etc/alternatives", true).
		WithProc().
		WithBind("/dev/null", "dev/null", false).
		WithTmpfs("tmp", "size=128m,nr_inodes=4k").
		WithBind(workDir, "w", false).
		FilterNotExist()

	cloneFlag := unix.CLONE_NEWIPC | unix.CLONE_NEWNET | unix.CLONE_NEWNS | unix.CLONE_NEWPID | unix.CLONE_NEWUSER | unix.CLONE_NEWUTS

	b := container.Builder{
		Root:          root,
		WorkDir:       "/w",
		Mounts:        mb.Mounts,
		Stderr:        os.Stderr,
		CredGenerator: r.credGen,
		CloneFlags:    uintptr(cloneFlag),
	}
	return b.Build()
}

type credGen struct {
	cur uint32
}

func newCredGen() *credGen {
	return &credGen{cur: 10000}
}

func (c *credGen) Get() syscall.Credential {
	n := atomic.AddUint32(&c.cur, 1)
	return syscall.Credential{
		Uid: n,
		Gid: n,
	}
}
