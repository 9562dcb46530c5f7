package shell

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
)

// Command is an exec.Cmd whose stderr is kept for error messages.
type Command struct {
	Cmd    *exec.Cmd
	stderr bytes.Buffer
}

func NewCommand(ctx context.Context, command string, args ...string) *Command {
	c := &Command{Cmd: exec.CommandContext(ctx, command, args...)}
	c.Cmd.Stderr = &c.stderr
	return c
}

// RunAndCollectStdout returns the trimmed stdout. On failure the error
// carries whatever the command printed to stderr.
func (c *Command) RunAndCollectStdout() (string, error) {
	data, err := c.Cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(c.stderr.String()); msg != "" {
			return "", errors.Wrap(err, msg)
		}
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
