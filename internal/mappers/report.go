package mappers

import (
	"github.com/cutekitek/rankode-judge/internal/judge"
	"github.com/cutekitek/rankode-judge/internal/repository/models"
)

func ReportToJudgeResponse(report *judge.Report) *models.JudgeResponse {
	resp := &models.JudgeResponse{
		SubmissionId:  report.SubmissionId,
		Status:        report.Final.Status,
		Score:         report.Final.Score,
		ExecutionTime: report.Final.ExecutionTime,
		MemoryUsed:    report.Final.MemoryUsed,
		Passed:        report.Final.TestCasesPassed,
		Total:         report.Final.TotalTestCases,
		ErrorMessage:  report.Final.ErrorMessage,
		Tests:         make([]models.TestStatus, 0, len(report.Tests)),
	}
	for _, t := range report.Tests {
		resp.Tests = append(resp.Tests, models.TestStatus{
			CaseId:        t.TestCaseId,
			Status:        t.Status,
			ExecutionTime: t.ExecutionTime,
			MemoryUsed:    t.MemoryUsed,
		})
	}
	return resp
}
