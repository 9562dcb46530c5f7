package isolate

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/cutekitek/rankode-judge/internal/repository/dto"
	"github.com/cutekitek/rankode-judge/internal/runner"
	"github.com/cutekitek/rankode-judge/pkg/shell"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestParseMeta(t *testing.T) {
	meta, err := parseMeta(strings.NewReader(`time:0.125
time-wall:0.300
max-rss:2048
cg-mem:4096
exitcode:3
status:RE
message:Exited with error status 3
`))
	require.NoError(t, err)
	require.Equal(t, 125*time.Millisecond, meta.RunTime)
	require.Equal(t, 300*time.Millisecond, meta.WallTime)
	require.EqualValues(t, 4096, meta.CgMemory)
	require.EqualValues(t, 2048, meta.MaxRSS)
	require.Equal(t, 3, meta.ExitCode)
	require.Equal(t, statusRuntimeError, meta.Status)
	require.Equal(t, "Exited with error status 3", meta.Message)

	_, err = parseMeta(strings.NewReader("garbage\n"))
	require.Error(t, err)
	_, err = parseMeta(strings.NewReader("time:fast\n"))
	require.Error(t, err)
}

func TestMetaToExecResult(t *testing.T) {
	tests := []struct {
		name     string
		meta     metaData
		expected dto.ExecResult
	}{
		{
			name:     "ok",
			meta:     metaData{RunTime: time.Second, CgMemory: 100},
			expected: dto.ExecResult{Duration: time.Second, MemoryBytes: 100 * 1024},
		},
		{
			name:     "rss fallback",
			meta:     metaData{MaxRSS: 7},
			expected: dto.ExecResult{MemoryBytes: 7 * 1024},
		},
		{
			name:     "runtime error",
			meta:     metaData{Status: statusRuntimeError, ExitCode: 2},
			expected: dto.ExecResult{ExitCode: 2},
		},
		{
			name:     "signaled",
			meta:     metaData{Status: statusSignaled, ExitSig: 11},
			expected: dto.ExecResult{ExitCode: 139},
		},
		{
			name:     "timeout",
			meta:     metaData{Status: statusTimeout},
			expected: dto.ExecResult{TimedOut: true},
		},
		{
			name:     "oom",
			meta:     metaData{Status: statusSignaled, ExitSig: 9, OOMKilled: true},
			expected: dto.ExecResult{ExitCode: 137, OOMKilled: true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := tt.meta.toExecResult()
			require.NoError(t, err)
			require.Equal(t, tt.expected, *res)
		})
	}

	_, err := (&metaData{Status: statusInternalError, Message: "cgroup missing"}).toExecResult()
	require.True(t, errors.Is(err, runner.ErrProvisioning))
}

func TestOutputLimit(t *testing.T) {
	stdout := &shell.LimitedBuffer{Limit: 4}
	stdout.Write([]byte("1 2 3 4 5\n"))
	stderr := &shell.LimitedBuffer{Limit: 4}

	res, err := (&metaData{}).toExecResult()
	require.NoError(t, err)
	runner.CollectOutput(res, stdout, stderr)
	require.Equal(t, "1 2 ", res.Stdout)
	require.Equal(t, 1, res.ExitCode)
	require.Equal(t, runner.OutputLimitMessage, res.Stderr)

	stdout = &shell.LimitedBuffer{Limit: 4}
	stdout.Write([]byte("many lines"))
	res, err = (&metaData{Status: statusTimeout}).toExecResult()
	require.NoError(t, err)
	runner.CollectOutput(res, stdout, stderr)
	require.True(t, res.TimedOut)
	require.Zero(t, res.ExitCode)
}

func TestRunArgs(t *testing.T) {
	box := &IsolatedBox{BoxId: 3}
	args := box.RunArgs(runParams{
		WorkDir:     "/tmp/judge-1",
		Args:        []string{"/usr/bin/python3", "main.py"},
		Timeout:     1500 * time.Millisecond,
		MemoryLimit: 64 << 20,
		MaxFileSize: 1 << 20,
		Processes:   16,
		MetaPath:    "/tmp/meta",
	})
	require.Contains(t, args, "--box-id=3")
	require.Contains(t, args, "--meta=/tmp/meta")
	require.Contains(t, args, "--time=1.500")
	require.Contains(t, args, "--wall-time=1.500")
	require.Contains(t, args, "--cg-mem=65536")
	require.Contains(t, args, "--fsize=1024")
	require.Contains(t, args, "--processes=16")
	require.Contains(t, args, "--dir=box=/tmp/judge-1:rw")
	require.Equal(t, []string{"--run", "--", "/usr/bin/python3", "main.py"}, args[len(args)-4:])

	args = box.RunArgs(runParams{Args: []string{"./a"}, Timeout: time.Second})
	for _, arg := range args {
		require.False(t, strings.HasPrefix(arg, "--cg-mem"))
	}
}

func TestIsolateRunner_Execute(t *testing.T) {
	if os.Getuid() != 0 {
		t.Skip("isolate tests require root privileges")
	}
	if _, err := exec.LookPath(DefaultBinary); err != nil {
		t.Skip("isolate is not installed")
	}
	r := NewIsolateRunner(IsolateRunnerConfig{MaxBoxCount: 2})
	require.NoError(t, r.Check())

	dir := t.TempDir()
	require.NoError(t, os.Chmod(dir, 0o777))

	res, err := r.Execute(context.Background(), &dto.ExecRequest{
		WorkDir: dir,
		Args:    []string{"sh", "-c", "read a; echo $((a * 2))"},
		Stdin:   "21\n",
		Timeout: 5 * time.Second,
	})
	require.NoError(t, err)
	require.Equal(t, "42\n", res.Stdout)
	require.Zero(t, res.ExitCode)

	res, err = r.Execute(context.Background(), &dto.ExecRequest{
		WorkDir: dir,
		Args:    []string{"sleep", "5"},
		Timeout: 300 * time.Millisecond,
	})
	require.NoError(t, err)
	require.True(t, res.TimedOut)
}
