package docker

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/cutekitek/rankode-judge/internal/repository/dto"
	"github.com/cutekitek/rankode-judge/internal/runner"
	"github.com/cutekitek/rankode-judge/pkg/shell"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/pkg/errors"
)

// Inside the container the workspace is always mounted here.
const workDir = "/code"

type DockerRunner struct {
	cli           *client.Client
	cfg           DockerRunnerConfig
	availableCPUs chan int
	images        sync.Map
}

type DockerRunnerConfig struct {
	// How many cpu cores will be used
	CpuCores int
	// how many tasks can be run on a single core
	TasksPerCpu int
	// Pull missing images instead of failing
	PullImages bool
	// Max captured bytes per stream
	MaxOutputSize int64
	PidsLimit     int64
}

func NewDockerRunner(cfg DockerRunnerConfig) (*DockerRunner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, errors.Wrap(err, "failed to create docker client")
	}
	if cfg.CpuCores <= 0 {
		cfg.CpuCores = 1
	}
	if cfg.TasksPerCpu <= 0 {
		cfg.TasksPerCpu = 1
	}
	if cfg.MaxOutputSize <= 0 {
		cfg.MaxOutputSize = 16 * 1024 * 1024
	}
	if cfg.PidsLimit <= 0 {
		cfg.PidsLimit = 64
	}
	cpusQueue := make(chan int, cfg.CpuCores*cfg.TasksPerCpu)
	for i := 0; i < cfg.CpuCores; i++ {
		for j := 0; j < cfg.TasksPerCpu; j++ {
			cpusQueue <- i
		}
	}
	return &DockerRunner{
		cli:           cli,
		cfg:           cfg,
		availableCPUs: cpusQueue,
	}, nil
}

// Ping checks that the daemon is reachable.
func (d *DockerRunner) Ping(ctx context.Context) error {
	if _, err := d.cli.Ping(ctx); err != nil {
		return runner.Provisioning(err, "docker daemon unreachable")
	}
	return nil
}

func (d *DockerRunner) Close() error {
	return d.cli.Close()
}

func (d *DockerRunner) Execute(ctx context.Context, req *dto.ExecRequest) (*dto.ExecResult, error) {
	// wait for cpu core
	var core int
	select {
	case core = <-d.availableCPUs:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() {
		d.availableCPUs <- core
	}()

	if err := d.ensureImage(ctx, req.Image); err != nil {
		return nil, err
	}

	cfg, hostCfg := containerConfig(req, core, d.cfg.PidsLimit)
	created, err := d.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, "")
	if err != nil {
		return nil, runner.Provisioning(err, "failed to create container")
	}
	id := created.ID
	defer func() {
		rmCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := d.cli.ContainerRemove(rmCtx, id, container.RemoveOptions{Force: true}); err != nil {
			slog.Error("failed to remove container", "id", id, "error", err)
		}
	}()

	conn, err := d.cli.ContainerAttach(ctx, id, container.AttachOptions{Stream: true, Stdin: true, Stdout: true, Stderr: true})
	if err != nil {
		return nil, runner.Provisioning(err, "failed to attach to container")
	}
	defer conn.Close()

	waitCtx, cancelWait := context.WithCancel(ctx)
	defer cancelWait()
	statusCh, errCh := d.cli.ContainerWait(waitCtx, id, container.WaitConditionNextExit)

	if err := d.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return nil, runner.Provisioning(err, "failed to start container")
	}
	started := time.Now()

	go func() {
		io.Copy(conn.Conn, bytes.NewBufferString(req.Stdin))
		conn.CloseWrite()
	}()
	stdout := &shell.LimitedBuffer{Limit: d.cfg.MaxOutputSize}
	stderr := &shell.LimitedBuffer{Limit: d.cfg.MaxOutputSize}
	copied := make(chan struct{})
	go func() {
		defer close(copied)
		stdcopy.StdCopy(stdout, stderr, conn.Reader)
	}()

	res := &dto.ExecResult{}
	timer := time.NewTimer(req.Timeout)
	defer timer.Stop()

	select {
	case <-timer.C:
		res.TimedOut = true
		if err := d.cli.ContainerKill(context.Background(), id, "KILL"); err != nil && !errdefs.IsNotFound(err) {
			slog.Warn("failed to kill container", "id", id, "error", err)
		}
	case status := <-statusCh:
		res.ExitCode = int(status.StatusCode)
	case err := <-errCh:
		return nil, runner.Provisioning(err, "failed to wait for container")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	res.Duration = time.Since(started)
	conn.Close()
	<-copied

	inspect, err := d.cli.ContainerInspect(context.Background(), id)
	if err != nil {
		return nil, runner.Provisioning(err, "failed to inspect container")
	}
	if inspect.State != nil {
		res.OOMKilled = inspect.State.OOMKilled
		if !res.TimedOut {
			if elapsed, ok := stateDuration(inspect.State.StartedAt, inspect.State.FinishedAt); ok {
				res.Duration = elapsed
			}
		}
	}
	runner.CollectOutput(res, stdout, stderr)

	slog.Debug("execution result", "image", req.Image, "exitCode", res.ExitCode, "timedOut", res.TimedOut,
		"oomKilled", res.OOMKilled, "time", res.Duration)
	return res, nil
}

func (d *DockerRunner) ensureImage(ctx context.Context, ref string) error {
	if ref == "" {
		return runner.Provisioning(errors.New("empty image"), "no image configured for language")
	}
	if _, ok := d.images.Load(ref); ok {
		return nil
	}
	_, _, err := d.cli.ImageInspectWithRaw(ctx, ref)
	if err != nil {
		if !errdefs.IsNotFound(err) || !d.cfg.PullImages {
			return runner.Provisioning(err, "image "+ref+" is not available")
		}
		slog.Info("pulling image", "image", ref)
		rc, err := d.cli.ImagePull(ctx, ref, image.PullOptions{})
		if err != nil {
			return runner.Provisioning(err, "failed to pull image "+ref)
		}
		_, err = io.Copy(io.Discard, rc)
		rc.Close()
		if err != nil {
			return runner.Provisioning(err, "failed to pull image "+ref)
		}
	}
	d.images.Store(ref, struct{}{})
	return nil
}

func containerConfig(req *dto.ExecRequest, core int, pids int64) (*container.Config, *container.HostConfig) {
	cfg := &container.Config{
		Image:           req.Image,
		Cmd:             req.Args,
		WorkingDir:      workDir,
		AttachStdin:     true,
		AttachStdout:    true,
		AttachStderr:    true,
		OpenStdin:       true,
		StdinOnce:       true,
		NetworkDisabled: true,
	}
	hostCfg := &container.HostConfig{
		Binds:       []string{req.WorkDir + ":" + workDir},
		NetworkMode: "none",
		CapDrop:     []string{"ALL"},
		SecurityOpt: []string{"no-new-privileges"},
		Resources: container.Resources{
			CpusetCpus: strconv.Itoa(core),
			PidsLimit:  &pids,
		},
	}
	if req.MemoryLimit > 0 {
		hostCfg.Resources.Memory = req.MemoryLimit
		hostCfg.Resources.MemorySwap = req.MemoryLimit
	}
	if req.CPUs > 0 {
		hostCfg.Resources.NanoCPUs = int64(req.CPUs * 1e9)
	}
	return cfg, hostCfg
}

func stateDuration(startedAt, finishedAt string) (time.Duration, bool) {
	start, err := time.Parse(time.RFC3339Nano, startedAt)
	if err != nil {
		return 0, false
	}
	end, err := time.Parse(time.RFC3339Nano, finishedAt)
	if err != nil || end.Before(start) {
		return 0, false
	}
	return end.Sub(start), true
}
