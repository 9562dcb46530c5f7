package models

import "time"

type TestCase struct {
	Id             int64  `db:"id" json:"id"`
	Order          int32  `db:"order" json:"order"`
	ProblemId      int64  `db:"problem_id" json:"problem_id"`
	InputData      string `db:"input" json:"input"`
	ExpectedOutput string `db:"output" json:"output"`
	IsSample       bool   `db:"is_sample" json:"is_sample"`
	Points         int    `db:"points" json:"points"`
	// Object storage keys, used when the texts are not stored inline.
	InputKey  string `db:"input_key" json:"input_key,omitempty"`
	OutputKey string `db:"output_key" json:"output_key,omitempty"`
}

type TestCaseResult struct {
	SubmissionId  int64     `json:"submission_id"`
	TestCaseId    int64     `json:"test_case_id"`
	Status        Status    `json:"status"`
	ExecutionTime int64     `json:"execution_time"`
	MemoryUsed    int64     `json:"memory_used"`
	Output        string    `json:"output"`
	ErrorMessage  string    `json:"error_message"`
	CreatedAt     time.Time `json:"created_at"`
}
