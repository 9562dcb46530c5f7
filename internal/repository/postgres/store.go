// Package postgres implements the judge's storage ports on PostgreSQL.
package postgres

import (
	"context"
	_ "embed"

	"github.com/cutekitek/rankode-judge/internal/judge"
	"github.com/cutekitek/rankode-judge/internal/repository/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

//go:embed schema.sql
var schema string

type Store struct {
	pool *pgxpool.Pool
}

func Connect(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "failed to connect to postgres")
	}
	return &Store{pool: pool}, nil
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Close() {
	s.pool.Close()
}

// Migrate creates the tables the judge reads and writes.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return errors.Wrap(err, "failed to apply schema")
}

func (s *Store) GetSubmission(ctx context.Context, id int64) (*models.Submission, error) {
	var (
		sub    models.Submission
		status string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, problem_id, language_id, code, status, score, execution_time, memory_used,
		       test_cases_passed, total_test_cases, error_message, submitted_at, judged_at
		FROM submissions WHERE id = $1`, id).Scan(
		&sub.Id, &sub.UserId, &sub.ProblemId, &sub.LanguageId, &sub.Code, &status, &sub.Score,
		&sub.ExecutionTime, &sub.MemoryUsed, &sub.TestCasesPassed, &sub.TotalTestCases,
		&sub.ErrorMessage, &sub.SubmittedAt, &sub.JudgedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(judge.ErrSubmissionNotFound, "id %d", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to query submission")
	}
	if sub.Status, err = models.ParseStatus(status); err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *Store) GetProblem(ctx context.Context, id int64) (*models.Problem, error) {
	var p models.Problem
	err := s.pool.QueryRow(ctx, `SELECT id, time_limit, memory_limit FROM problems WHERE id = $1`, id).
		Scan(&p.Id, &p.TimeLimit, &p.MemoryLimit)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Errorf("problem %d not found", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to query problem")
	}
	return &p, nil
}

func (s *Store) ListTestCases(ctx context.Context, problemId int64) ([]*models.TestCase, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, problem_id, "order", input_data, expected_output, input_key, output_key, is_sample, points
		FROM test_cases WHERE problem_id = $1 ORDER BY "order", id`, problemId)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query test cases")
	}
	defer rows.Close()

	var tests []*models.TestCase
	for rows.Next() {
		tc := new(models.TestCase)
		if err := rows.Scan(&tc.Id, &tc.ProblemId, &tc.Order, &tc.InputData, &tc.ExpectedOutput,
			&tc.InputKey, &tc.OutputKey, &tc.IsSample, &tc.Points); err != nil {
			return nil, errors.Wrap(err, "failed to scan test case")
		}
		tests = append(tests, tc)
	}
	return tests, errors.Wrap(rows.Err(), "failed to read test cases")
}

func (s *Store) BeginRun(ctx context.Context, submissionId int64) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE submissions
			SET status = $2, score = 0, execution_time = 0, memory_used = 0,
			    test_cases_passed = 0, total_test_cases = 0, error_message = '', judged_at = NULL
			WHERE id = $1`, submissionId, models.StatusRunning.String())
		if err != nil {
			return errors.Wrap(err, "failed to mark submission running")
		}
		if tag.RowsAffected() == 0 {
			return errors.Wrapf(judge.ErrSubmissionNotFound, "id %d", submissionId)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM test_case_results WHERE submission_id = $1`, submissionId); err != nil {
			return errors.Wrap(err, "failed to delete previous results")
		}
		return nil
	})
}

func (s *Store) AppendTestResult(ctx context.Context, submissionId int64, res *models.TestCaseResult) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO test_case_results (submission_id, test_case_id, status, execution_time, memory_used, output, error_message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		submissionId, res.TestCaseId, res.Status.String(), res.ExecutionTime, res.MemoryUsed,
		res.Output, res.ErrorMessage, res.CreatedAt)
	return errors.Wrap(err, "failed to insert test case result")
}

// SaveFinal only touches a RUNNING submission, a concurrent rejudge that
// already reset it wins.
func (s *Store) SaveFinal(ctx context.Context, submissionId int64, res *models.FinalResult) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE submissions
		SET status = $2, score = $3, execution_time = $4, memory_used = $5,
		    test_cases_passed = $6, total_test_cases = $7, error_message = $8, judged_at = $9
		WHERE id = $1 AND status = $10`,
		submissionId, res.Status.String(), res.Score, res.ExecutionTime, res.MemoryUsed,
		res.TestCasesPassed, res.TotalTestCases, res.ErrorMessage, res.JudgedAt, models.StatusRunning.String())
	if err != nil {
		return errors.Wrap(err, "failed to save final result")
	}
	if tag.RowsAffected() == 0 {
		return errors.Errorf("submission %d is not running", submissionId)
	}
	return nil
}

// ListLanguages returns every language record, active or not.
func (s *Store) ListLanguages(ctx context.Context) ([]models.Language, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, version, file_extension, compile_command, run_command,
		       time_multiplier, memory_multiplier, image, source_name, is_active
		FROM languages ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query languages")
	}
	defer rows.Close()

	var langs []models.Language
	for rows.Next() {
		var l models.Language
		if err := rows.Scan(&l.Id, &l.Name, &l.Version, &l.FileExtension, &l.CompileCommand, &l.RunCommand,
			&l.TimeMultiplier, &l.MemoryMultiplier, &l.Image, &l.SourceName, &l.IsActive); err != nil {
			return nil, errors.Wrap(err, "failed to scan language")
		}
		langs = append(langs, l)
	}
	return langs, errors.Wrap(rows.Err(), "failed to read languages")
}

// UpsertLanguage stores a language record, used to seed the table.
func (s *Store) UpsertLanguage(ctx context.Context, l models.Language) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO languages (id, name, version, file_extension, compile_command, run_command,
		                       time_multiplier, memory_multiplier, image, source_name, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, version = EXCLUDED.version, file_extension = EXCLUDED.file_extension,
			compile_command = EXCLUDED.compile_command, run_command = EXCLUDED.run_command,
			time_multiplier = EXCLUDED.time_multiplier, memory_multiplier = EXCLUDED.memory_multiplier,
			image = EXCLUDED.image, source_name = EXCLUDED.source_name, is_active = EXCLUDED.is_active`,
		l.Id, l.Name, l.Version, l.FileExtension, l.CompileCommand, l.RunCommand,
		l.TimeMultiplier, l.MemoryMultiplier, l.Image, l.SourceName, l.IsActive)
	return errors.Wrapf(err, "failed to upsert language %s", l.Id)
}
