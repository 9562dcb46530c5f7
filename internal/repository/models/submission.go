package models

import "time"

type Problem struct {
	Id int64 `db:"id" json:"id"`
	// milliseconds
	TimeLimit int64 `db:"time_limit" json:"time_limit"`
	// megabytes
	MemoryLimit int64 `db:"memory_limit" json:"memory_limit"`
}

type Submission struct {
	Id              int64
	UserId          int64
	ProblemId       int64
	LanguageId      string
	Code            string
	Status          Status
	Score           int
	ExecutionTime   int64
	MemoryUsed      int64
	TestCasesPassed int
	TotalTestCases  int
	ErrorMessage    string
	SubmittedAt     time.Time
	JudgedAt        *time.Time
}

// FinalResult is what a finished run writes back to the submission.
type FinalResult struct {
	Status          Status
	Score           int
	ExecutionTime   int64
	MemoryUsed      int64
	TestCasesPassed int
	TotalTestCases  int
	ErrorMessage    string
	JudgedAt        time.Time
}
