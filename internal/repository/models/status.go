package models

import "github.com/pkg/errors"

// Status is the judging state of a submission or a single test case.
type Status int8

const (
	StatusPending Status = iota
	StatusRunning
	StatusAccepted
	StatusWrongAnswer
	StatusTimeLimitExceeded
	StatusMemoryLimitExceeded
	StatusCompilationError
	StatusRuntimeError
)

var statusNames = [...]string{
	StatusPending:             "PENDING",
	StatusRunning:             "RUNNING",
	StatusAccepted:            "ACCEPTED",
	StatusWrongAnswer:         "WRONG_ANSWER",
	StatusTimeLimitExceeded:   "TIME_LIMIT_EXCEEDED",
	StatusMemoryLimitExceeded: "MEMORY_LIMIT_EXCEEDED",
	StatusCompilationError:    "COMPILATION_ERROR",
	StatusRuntimeError:        "RUNTIME_ERROR",
}

var ErrUnknownStatus = errors.New("unknown status")

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return "UNKNOWN"
	}
	return statusNames[s]
}

// Terminal reports whether s ends a judging run.
func (s Status) Terminal() bool {
	switch s {
	case StatusAccepted, StatusWrongAnswer, StatusTimeLimitExceeded,
		StatusMemoryLimitExceeded, StatusCompilationError, StatusRuntimeError:
		return true
	case StatusPending, StatusRunning:
		return false
	}
	return false
}

func ParseStatus(name string) (Status, error) {
	for i, n := range statusNames {
		if n == name {
			return Status(i), nil
		}
	}
	return 0, errors.Wrap(ErrUnknownStatus, name)
}

func (s Status) MarshalText() ([]byte, error) {
	if s < 0 || int(s) >= len(statusNames) {
		return nil, errors.Wrapf(ErrUnknownStatus, "%d", s)
	}
	return []byte(statusNames[s]), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
