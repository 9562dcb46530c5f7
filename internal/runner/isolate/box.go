package isolate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cutekitek/rankode-judge/pkg/shell"
	"github.com/pkg/errors"
)

const boxPath = "PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"

type IsolatedBox struct {
	BoxId   int
	BaseDir string
	binary  string
}

type runParams struct {
	WorkDir string
	Args    []string
	Timeout time.Duration
	// bytes, converted to kilobytes for isolate
	MemoryLimit int64
	MaxFileSize int64
	Processes   int
	MetaPath    string
}

func boxFlag(boxId int) string {
	return fmt.Sprintf("--box-id=%d", boxId)
}

func newBox(ctx context.Context, binary string, boxId int) (*IsolatedBox, error) {
	// a previous crash may have left the box behind
	shell.NewCommand(ctx, binary, "--cg", boxFlag(boxId), "--cleanup").RunAndCollectStdout()

	baseDir, err := shell.NewCommand(ctx, binary, "--cg", boxFlag(boxId), "--init").RunAndCollectStdout()
	if err != nil {
		return nil, errors.Wrap(err, "failed to init isolate box")
	}
	return &IsolatedBox{
		BoxId:   boxId,
		BaseDir: baseDir,
		binary:  binary,
	}, nil
}

// RunArgs builds the isolate command line. The workspace replaces the box
// directory, so the program starts in it.
func (b *IsolatedBox) RunArgs(params runParams) []string {
	seconds := params.Timeout.Seconds()
	args := []string{
		"--cg",
		boxFlag(b.BoxId),
		"--silent",
		"--meta=" + params.MetaPath,
		fmt.Sprintf("--time=%.3f", seconds),
		fmt.Sprintf("--wall-time=%.3f", seconds),
		fmt.Sprintf("--processes=%d", params.Processes),
		"--dir=box=" + params.WorkDir + ":rw",
		"--env=" + boxPath,
		"--env=HOME=/box",
	}
	if params.MemoryLimit > 0 {
		args = append(args, fmt.Sprintf("--cg-mem=%d", params.MemoryLimit/1024))
	}
	if params.MaxFileSize > 0 {
		args = append(args, fmt.Sprintf("--fsize=%d", params.MaxFileSize/1024))
	}
	args = append(args, "--run", "--")
	return append(args, params.Args...)
}

func (b *IsolatedBox) Clean() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := shell.NewCommand(ctx, b.binary, "--cg", boxFlag(b.BoxId), "--cleanup").RunAndCollectStdout(); err != nil {
		slog.Warn("failed to clean isolate box", "box", b.BoxId, "error", err)
	}
}
