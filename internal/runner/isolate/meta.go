package isolate

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/cutekitek/rankode-judge/internal/repository/dto"
	"github.com/cutekitek/rankode-judge/internal/runner"
	"github.com/pkg/errors"
)

// Status codes written by isolate to the meta file.
const (
	statusRuntimeError  = "RE"
	statusSignaled      = "SG"
	statusTimeout       = "TO"
	statusInternalError = "XX"
)

type metaData struct {
	RunTime  time.Duration
	WallTime time.Duration
	// kilobytes
	CgMemory  int64
	MaxRSS    int64
	ExitCode  int
	ExitSig   int
	Status    string
	OOMKilled bool
	Message   string
}

func parseMeta(r io.Reader) (*metaData, error) {
	meta := &metaData{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, errors.Errorf("invalid meta line %q", line)
		}
		var err error
		switch key {
		case "time":
			meta.RunTime, err = parseSeconds(value)
		case "time-wall":
			meta.WallTime, err = parseSeconds(value)
		case "cg-mem":
			meta.CgMemory, err = strconv.ParseInt(value, 10, 64)
		case "max-rss":
			meta.MaxRSS, err = strconv.ParseInt(value, 10, 64)
		case "exitcode":
			meta.ExitCode, err = strconv.Atoi(value)
		case "exitsig":
			meta.ExitSig, err = strconv.Atoi(value)
		case "status":
			meta.Status = value
		case "cg-oom-killed":
			meta.OOMKilled = true
		case "message":
			meta.Message = value
		}
		if err != nil {
			return nil, errors.Wrapf(err, "invalid meta value for %s", key)
		}
	}
	return meta, scanner.Err()
}

func parseSeconds(value string) (time.Duration, error) {
	seconds, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, err
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

// toExecResult maps the meta file, output is filled in by the caller.
func (m *metaData) toExecResult() (*dto.ExecResult, error) {
	res := &dto.ExecResult{
		ExitCode:  m.ExitCode,
		Duration:  m.RunTime,
		OOMKilled: m.OOMKilled,
	}
	if m.CgMemory > 0 {
		res.MemoryBytes = m.CgMemory * 1024
	} else {
		res.MemoryBytes = m.MaxRSS * 1024
	}
	switch m.Status {
	case "":
	case statusRuntimeError:
		if res.ExitCode == 0 {
			res.ExitCode = 1
		}
	case statusSignaled:
		res.ExitCode = 128 + m.ExitSig
	case statusTimeout:
		res.TimedOut = true
	case statusInternalError:
		return nil, runner.Provisioning(errors.New(m.Message), "isolate internal error")
	default:
		return nil, runner.Provisioning(errors.Errorf("unknown status %q", m.Status), "isolate meta")
	}
	return res, nil
}
