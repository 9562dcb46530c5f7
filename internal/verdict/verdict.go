// Package verdict folds per-test outcomes into the submission's final result.
package verdict

import (
	"math"

	"github.com/cutekitek/rankode-judge/internal/repository/models"
	"github.com/pkg/errors"
)

// NoTestsMessage is reported when a problem has nothing to judge against.
const NoTestsMessage = "problem has no test cases"

type Aggregator struct {
	total     int
	passed    int
	elapsed   int64
	peakMem   int64
	compile   bool
	runtime   bool
	memory    bool
	timeout   bool
	firstDiag string
}

// Add records one test case result. Results must be terminal.
func (a *Aggregator) Add(res *models.TestCaseResult) error {
	switch res.Status {
	case models.StatusAccepted:
		a.passed++
	case models.StatusWrongAnswer:
	case models.StatusCompilationError:
		a.compile = true
		a.diagnostic(res.ErrorMessage)
	case models.StatusRuntimeError:
		a.runtime = true
		a.diagnostic(res.ErrorMessage)
	case models.StatusMemoryLimitExceeded:
		a.memory = true
	case models.StatusTimeLimitExceeded:
		a.timeout = true
	case models.StatusPending, models.StatusRunning:
		return errors.Errorf("test case %d: non-terminal status %s", res.TestCaseId, res.Status)
	default:
		return errors.Wrapf(models.ErrUnknownStatus, "test case %d: %d", res.TestCaseId, res.Status)
	}
	a.total++
	a.elapsed += res.ExecutionTime
	if res.MemoryUsed > a.peakMem {
		a.peakMem = res.MemoryUsed
	}
	return nil
}

func (a *Aggregator) diagnostic(msg string) {
	if a.firstDiag == "" {
		a.firstDiag = msg
	}
}

func (a *Aggregator) Passed() int { return a.passed }

func (a *Aggregator) Total() int { return a.total }

// Result applies the verdict precedence: all passed, then compilation error,
// runtime error, memory limit, time limit, and finally wrong answer.
func (a *Aggregator) Result() models.FinalResult {
	res := models.FinalResult{
		TestCasesPassed: a.passed,
		TotalTestCases:  a.total,
		MemoryUsed:      a.peakMem,
	}
	if a.total == 0 {
		res.Status = models.StatusWrongAnswer
		res.ErrorMessage = NoTestsMessage
		return res
	}
	res.ExecutionTime = a.elapsed / int64(a.total)

	switch {
	case a.passed == a.total:
		res.Status = models.StatusAccepted
		res.Score = 100
	case a.compile:
		res.Status = models.StatusCompilationError
		res.ErrorMessage = a.firstDiag
	case a.runtime:
		res.Status = models.StatusRuntimeError
		res.ErrorMessage = a.firstDiag
	case a.memory:
		res.Status = models.StatusMemoryLimitExceeded
		res.Score = Score(a.passed, a.total)
	case a.timeout:
		res.Status = models.StatusTimeLimitExceeded
		res.Score = Score(a.passed, a.total)
	default:
		res.Status = models.StatusWrongAnswer
		res.Score = Score(a.passed, a.total)
	}
	return res
}

// Score is round(passed/total*100), halves rounded away from zero.
func Score(passed, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(passed) * 100 / float64(total)))
}
