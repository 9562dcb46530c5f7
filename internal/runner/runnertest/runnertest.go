// Package runnertest provides a scripted runner.Runner for tests.
package runnertest

import (
	"context"
	"os"
	"sync"

	"github.com/cutekitek/rankode-judge/internal/repository/dto"
)

// Handler produces the result of one execution.
type Handler func(ctx context.Context, req *dto.ExecRequest) (*dto.ExecResult, error)

// Runner records every request and tracks executions in flight.
type Runner struct {
	Handler Handler

	mu       sync.Mutex
	requests []dto.ExecRequest
	active   int
}

func New(h Handler) *Runner {
	return &Runner{Handler: h}
}

func (r *Runner) Execute(ctx context.Context, req *dto.ExecRequest) (*dto.ExecResult, error) {
	r.mu.Lock()
	r.requests = append(r.requests, *req)
	r.active++
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.active--
		r.mu.Unlock()
	}()

	if _, err := os.Stat(req.WorkDir); err != nil {
		return nil, err
	}
	if r.Handler == nil {
		return &dto.ExecResult{}, nil
	}
	return r.Handler(ctx, req)
}

func (r *Runner) Requests() []dto.ExecRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]dto.ExecRequest, len(r.requests))
	copy(out, r.requests)
	return out
}

// Active is the number of executions that have not returned yet.
func (r *Runner) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Echo writes stdin back to stdout.
func Echo(_ context.Context, req *dto.ExecRequest) (*dto.ExecResult, error) {
	return &dto.ExecResult{Stdout: req.Stdin}, nil
}
