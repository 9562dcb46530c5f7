package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cutekitek/rankode-judge/internal/judge"
	"github.com/cutekitek/rankode-judge/internal/repository/models"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

var _ judge.Observer = (*Recorder)(nil)

func TestRecorder(t *testing.T) {
	r := NewRecorder()
	r.ObserveCompile("c", true, 300*time.Millisecond)
	r.ObserveTest("c", models.StatusAccepted, 12)
	r.ObserveTest("c", models.StatusAccepted, 15)
	r.ObserveTest("c", models.StatusTimeLimitExceeded, 1000)
	r.ObserveSubmission("c", &models.FinalResult{Status: models.StatusTimeLimitExceeded}, 2*time.Second)

	require.Equal(t, 2.0, testutil.ToFloat64(r.tests.WithLabelValues("c", "ACCEPTED")))
	require.Equal(t, 1.0, testutil.ToFloat64(r.tests.WithLabelValues("c", "TIME_LIMIT_EXCEEDED")))
	require.Equal(t, 1.0, testutil.ToFloat64(r.submissions.WithLabelValues("c", "TIME_LIMIT_EXCEEDED")))

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	require.True(t, strings.Contains(body, `judge_submissions_total{language="c",status="TIME_LIMIT_EXCEEDED"} 1`), body)
	require.Contains(t, body, "judge_compile_duration_seconds_count")
}
