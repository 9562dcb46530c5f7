package models

// JudgeRequest is consumed from the request queue.
type JudgeRequest struct {
	SubmissionId int64 `json:"submission_id"`
}

// JudgeResponse is published when a run completes.
type JudgeResponse struct {
	SubmissionId  int64        `json:"submission_id"`
	Status        Status       `json:"status"`
	Score         int          `json:"score"`
	ExecutionTime int64        `json:"execution_time"`
	MemoryUsed    int64        `json:"memory_used"`
	Passed        int          `json:"passed"`
	Total         int          `json:"total"`
	ErrorMessage  string       `json:"error_message,omitempty"`
	Tests         []TestStatus `json:"tests"`
}

type TestStatus struct {
	CaseId        int64  `json:"case_id"`
	Status        Status `json:"status"`
	ExecutionTime int64  `json:"execution_time"`
	MemoryUsed    int64  `json:"memory_used"`
}
