package runner

import (
	"context"
	"strings"

	"github.com/cutekitek/rankode-judge/internal/repository/dto"
	"github.com/cutekitek/rankode-judge/pkg/shell"
	"github.com/pkg/errors"
)

const OutputLimitMessage = "output limit exceeded"

// ErrProvisioning marks failures of the sandbox itself (daemon, image, cgroups).
// They are retried by the dispatcher and never turned into a verdict.
var ErrProvisioning = errors.New("sandbox provisioning failed")

type Runner interface {
	// Syncronosly runs a program. If there are not enough resources(ram or cpu) to run it wait for other executions to finish
	Execute(ctx context.Context, req *dto.ExecRequest) (*dto.ExecResult, error)
}

func Provisioning(err error, message string) error {
	return &provisioningError{cause: errors.Wrap(err, message)}
}

type provisioningError struct {
	cause error
}

func (e *provisioningError) Error() string { return e.cause.Error() }

func (e *provisioningError) Unwrap() error { return e.cause }

func (e *provisioningError) Is(target error) bool { return target == ErrProvisioning }

// LimitOutput fails a run whose output did not fit. Timeouts and OOM kills
// keep their own outcome.
func LimitOutput(res *dto.ExecResult) {
	if res.TimedOut || res.OOMKilled {
		return
	}
	if res.ExitCode == 0 {
		res.ExitCode = 1
	}
	res.Stderr = strings.TrimSpace(res.Stderr + "\n" + OutputLimitMessage)
}

// CollectOutput copies captured streams into res.
func CollectOutput(res *dto.ExecResult, stdout, stderr *shell.LimitedBuffer) {
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	if stdout.Truncated() || stderr.Truncated() {
		LimitOutput(res)
	}
}
