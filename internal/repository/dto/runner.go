package dto

import (
	"time"
)

// ExecRequest is a single program invocation inside a sandbox.
type ExecRequest struct {
	Image string
	// Host directory mounted as the program's working directory.
	WorkDir string
	Args    []string
	Stdin   string
	Timeout time.Duration
	// В байтах
	MemoryLimit int64
	CPUs        float64
}

type ExecResult struct {
	Stdout      string
	Stderr      string
	ExitCode    int
	Duration    time.Duration
	TimedOut    bool
	OOMKilled   bool
	MemoryBytes int64
}
