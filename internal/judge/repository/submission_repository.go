package repository

import (
	"context"
	"database/sql"
	"math"

	"klausjudge/internal/common/db"
	"klausjudge/internal/judge/model"
	appErr "klausjudge/pkg/errors"
	"klausjudge/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	selectSubmissionSQL = `SELECT id, problem_id, user_id, language, code, verdict
FROM submissions
WHERE id = $1`

	// The schema carries no per-case limit columns yet; NULL keeps the defaults in effect.
	selectTestCasesSQL = `SELECT id, problem_id, input, expected_output,
	CAST(NULL AS bigint) AS time_limit, CAST(NULL AS bigint) AS memory_limit, is_sample
FROM test_cases
WHERE problem_id = $1
ORDER BY order_index ASC`

	updateStatusSQL = `UPDATE submissions SET verdict = $1 WHERE id = $2`

	updateVerdictSQL = `UPDATE submissions
SET verdict = $1, execution_time = $2, memory_used = $3, judged_at = NOW()
WHERE id = $4`

	insertTestResultSQL = `INSERT INTO test_case_results
	(submission_id, test_case_id, verdict, execution_time, memory_used, output, error_message)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
)

// PersistenceClient is the storage surface the orchestrator needs.
type PersistenceClient interface {
	SetStatus(ctx context.Context, submissionID uuid.UUID, status string) error
	GetSubmission(ctx context.Context, submissionID uuid.UUID) (model.Submission, error)
	// ListTestCases returns the cases of a problem in ascending order_index.
	ListTestCases(ctx context.Context, problemID uuid.UUID) ([]model.TestCase, error)
	SetVerdict(ctx context.Context, submissionID uuid.UUID, verdict model.Verdict, timeMs float64, memoryKB int64) error
	SaveTestResults(ctx context.Context, submissionID uuid.UUID, results []model.TestResult) error
}

// PostgresRepository implements PersistenceClient on the submissions and test_cases tables.
type PostgresRepository struct {
	conn db.Database
}

func NewPostgresRepository(database db.Database) *PostgresRepository {
	return &PostgresRepository{conn: database}
}

func (r *PostgresRepository) getDB() (db.Database, error) {
	if r.conn == nil {
		return nil, appErr.New(appErr.DatabaseError).WithMessage("database is not initialized")
	}
	return r.conn, nil
}

// SetStatus writes the status column. Zero affected rows is logged, not returned.
func (r *PostgresRepository) SetStatus(ctx context.Context, submissionID uuid.UUID, status string) error {
	database, err := r.getDB()
	if err != nil {
		return err
	}
	res, err := database.Exec(ctx, updateStatusSQL, status, submissionID)
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "update submission status failed")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		logger.Warn(ctx, "no submission row updated", zap.String("submission_id", submissionID.String()), zap.String("status", status))
	}
	return nil
}

func (r *PostgresRepository) GetSubmission(ctx context.Context, submissionID uuid.UUID) (model.Submission, error) {
	database, err := r.getDB()
	if err != nil {
		return model.Submission{}, err
	}
	var sub model.Submission
	var status sql.NullString
	err = database.QueryRow(ctx, selectSubmissionSQL, submissionID).
		Scan(&sub.ID, &sub.ProblemID, &sub.UserID, &sub.Language, &sub.Code, &status)
	if err != nil {
		if db.IsNoRows(err) {
			return model.Submission{}, appErr.New(appErr.SubmissionNotFound).WithDetail("submission_id", submissionID.String())
		}
		return model.Submission{}, appErr.Wrapf(err, appErr.DatabaseError, "fetch submission failed")
	}
	sub.Status = status.String
	return sub, nil
}

func (r *PostgresRepository) ListTestCases(ctx context.Context, problemID uuid.UUID) ([]model.TestCase, error) {
	database, err := r.getDB()
	if err != nil {
		return nil, err
	}
	rows, err := database.Query(ctx, selectTestCasesSQL, problemID)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "fetch test cases failed")
	}
	defer rows.Close()

	var cases []model.TestCase
	for rows.Next() {
		var tc model.TestCase
		var timeLimit, memoryLimit sql.NullInt64
		if err := rows.Scan(&tc.ID, &tc.ProblemID, &tc.Input, &tc.ExpectedOutput, &timeLimit, &memoryLimit, &tc.IsSample); err != nil {
			return nil, appErr.Wrapf(err, appErr.DatabaseError, "scan test case failed")
		}
		if timeLimit.Valid {
			v := timeLimit.Int64
			tc.TimeLimitMs = &v
		}
		if memoryLimit.Valid {
			v := memoryLimit.Int64
			tc.MemoryLimitMB = &v
		}
		cases = append(cases, tc)
	}
	if err := rows.Err(); err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "iterate test cases failed")
	}
	return cases, nil
}

// SetVerdict stores the final projection; time and memory are truncated to integer columns.
func (r *PostgresRepository) SetVerdict(ctx context.Context, submissionID uuid.UUID, verdict model.Verdict, timeMs float64, memoryKB int64) error {
	database, err := r.getDB()
	if err != nil {
		return err
	}
	if _, err := database.Exec(ctx, updateVerdictSQL, verdict.String(), toInt32(timeMs), toInt32(float64(memoryKB)), submissionID); err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "update submission verdict failed")
	}
	return nil
}

// SaveTestResults inserts one row per produced result in a single transaction.
func (r *PostgresRepository) SaveTestResults(ctx context.Context, submissionID uuid.UUID, results []model.TestResult) error {
	if len(results) == 0 {
		return nil
	}
	database, err := r.getDB()
	if err != nil {
		return err
	}
	return database.Transaction(ctx, func(tx db.Transaction) error {
		for _, tr := range results {
			_, err := tx.Exec(ctx, insertTestResultSQL,
				submissionID, tr.TestCaseID, tr.Verdict.String(),
				toInt32(tr.ExecutionTimeMs), toInt32(float64(tr.MemoryUsedKB)),
				nullString(tr.Output), nullString(tr.ErrorMessage))
			if err != nil {
				if _, ok := db.UniqueViolation(err); ok {
					return appErr.Wrapf(err, appErr.RecordAlreadyExists, "test result already recorded")
				}
				if db.ForeignKeyViolation(err) {
					return appErr.Wrapf(err, appErr.TestCaseNotFound, "test case %s no longer exists", tr.TestCaseID)
				}
				return appErr.Wrapf(err, appErr.DatabaseError, "insert test result failed")
			}
		}
		return nil
	})
}

func toInt32(v float64) int32 {
	switch {
	case v >= math.MaxInt32:
		return math.MaxInt32
	case v <= 0:
		return 0
	}
	return int32(v)
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
