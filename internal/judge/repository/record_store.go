package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"nexoj/internal/judge/model"
	appErr "nexoj/pkg/errors"
)

// RecordStore persists judge records. Finalization is guarded by the
// pending flag so a replayed Finished message can never score twice.
type RecordStore interface {
	Create(ctx context.Context, record *model.JudgeRecord) error
	FindByTaskID(ctx context.Context, taskID string) (*model.JudgeRecord, error)
	SetCompilation(ctx context.Context, taskID string, compilation string) error
	FinalizeIfPending(ctx context.Context, taskID string, verdict model.ConvertedVerdict, compilation string) (bool, error)
	ListFinalized(ctx context.Context, query FinalizedQuery) ([]*model.JudgeRecord, error)
}

// FinalizedQuery selects finalized records for a ranklist rebuild:
// everything inside the window, scoped either to one contest or to the
// regular class, ordered by submit time.
type FinalizedQuery struct {
	StartTime  int64
	EndTime    int64
	ProblemIDs []int64
	Class      int
	ContestID  int64
}

type mysqlRecordStore struct {
	db *sql.DB
}

// NewMySQLRecordStore creates a record store backed by MySQL.
func NewMySQLRecordStore(db *sql.DB) RecordStore {
	return &mysqlRecordStore{db: db}
}

const recordColumns = "id, task_id, problem_id, user_id, class, contest_id, score, status, pending, submit_time, total_time, max_memory, compilation"

func (s *mysqlRecordStore) Create(ctx context.Context, record *model.JudgeRecord) error {
	if record == nil {
		return appErr.ValidationError("record", "required")
	}
	score := sql.NullInt64{}
	if record.Score != nil {
		score = sql.NullInt64{Int64: int64(*record.Score), Valid: true}
	}
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO judge_records (task_id, problem_id, user_id, class, contest_id, score, status, pending, submit_time, total_time, max_memory, compilation)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.TaskID, record.ProblemID, record.UserID, record.Class, record.ContestID,
		score, record.Status, record.Pending, record.SubmitTime,
		record.TotalTimeMS, record.MaxMemoryKB, record.Compilation)
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "insert judge record failed")
	}
	id, err := result.LastInsertId()
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "read judge record id failed")
	}
	record.ID = id
	return nil
}

func (s *mysqlRecordStore) FindByTaskID(ctx context.Context, taskID string) (*model.JudgeRecord, error) {
	if taskID == "" {
		return nil, appErr.ValidationError("task_id", "required")
	}
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM judge_records WHERE task_id = ?", recordColumns), taskID)
	record, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, appErr.New(appErr.JudgeRecordNotFound).WithDetail("task_id", taskID)
	}
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "query judge record failed")
	}
	return record, nil
}

func (s *mysqlRecordStore) SetCompilation(ctx context.Context, taskID string, compilation string) error {
	if taskID == "" {
		return appErr.ValidationError("task_id", "required")
	}
	_, err := s.db.ExecContext(ctx,
		"UPDATE judge_records SET compilation = ? WHERE task_id = ?", compilation, taskID)
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "update compilation failed")
	}
	return nil
}

// FinalizeIfPending writes the final verdict onto the record. The WHERE
// clause only matches pending rows, so the first caller wins and every
// later attempt reports applied=false.
func (s *mysqlRecordStore) FinalizeIfPending(ctx context.Context, taskID string, verdict model.ConvertedVerdict, compilation string) (bool, error) {
	if taskID == "" {
		return false, appErr.ValidationError("task_id", "required")
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE judge_records
		 SET score = ?, status = ?, pending = 0, total_time = ?, max_memory = ?, compilation = ?
		 WHERE task_id = ? AND pending = 1`,
		verdict.Score, verdict.Status, verdict.TimeMS, verdict.MemoryKB, compilation, taskID)
	if err != nil {
		return false, appErr.Wrapf(err, appErr.FinalizeFailed, "finalize judge record failed")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, appErr.Wrapf(err, appErr.FinalizeFailed, "read finalize result failed")
	}
	return affected > 0, nil
}

func (s *mysqlRecordStore) ListFinalized(ctx context.Context, query FinalizedQuery) ([]*model.JudgeRecord, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM judge_records WHERE pending = 0 AND submit_time >= ? AND submit_time <= ? AND class = ?", recordColumns)
	args := []interface{}{query.StartTime, query.EndTime, query.Class}

	if query.Class == model.ClassContest {
		sb.WriteString(" AND contest_id = ?")
		args = append(args, query.ContestID)
	}
	if len(query.ProblemIDs) > 0 {
		sb.WriteString(" AND problem_id IN (?" + strings.Repeat(", ?", len(query.ProblemIDs)-1) + ")")
		for _, id := range query.ProblemIDs {
			args = append(args, id)
		}
	}
	sb.WriteString(" ORDER BY submit_time ASC, id ASC")

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "list finalized records failed")
	}
	defer rows.Close()

	var records []*model.JudgeRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, appErr.Wrapf(err, appErr.DatabaseError, "scan judge record failed")
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "iterate judge records failed")
	}
	return records, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*model.JudgeRecord, error) {
	var record model.JudgeRecord
	var score sql.NullInt64
	err := row.Scan(&record.ID, &record.TaskID, &record.ProblemID, &record.UserID,
		&record.Class, &record.ContestID, &score, &record.Status, &record.Pending,
		&record.SubmitTime, &record.TotalTimeMS, &record.MaxMemoryKB, &record.Compilation)
	if err != nil {
		return nil, err
	}
	if score.Valid {
		v := int(score.Int64)
		record.Score = &v
	}
	return &record, nil
}
