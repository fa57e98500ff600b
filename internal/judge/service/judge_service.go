package service

import (
	"context"
	"fmt"

	"nexoj/internal/dispatch"
	"nexoj/internal/judge/model"
	"nexoj/internal/judge/repository"
	appErr "nexoj/pkg/errors"
	"nexoj/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Config holds judge service dependencies.
type Config struct {
	Queue      *dispatch.Queue
	StatusRepo *repository.StatusRepository
	Records    repository.RecordStore
}

// JudgeService owns submission intake: it creates the judge record, derives
// the task's effective priority and pushes it onto the dispatch queue.
type JudgeService struct {
	queue      *dispatch.Queue
	statusRepo *repository.StatusRepository
	records    repository.RecordStore
}

// NewJudgeService creates a new judge service.
func NewJudgeService(cfg Config) (*JudgeService, error) {
	if cfg.Queue == nil {
		return nil, fmt.Errorf("dispatch queue is required")
	}
	if cfg.StatusRepo == nil {
		return nil, fmt.Errorf("status repository is required")
	}
	if cfg.Records == nil {
		return nil, fmt.Errorf("record store is required")
	}
	return &JudgeService{
		queue:      cfg.Queue,
		statusRepo: cfg.StatusRepo,
		records:    cfg.Records,
	}, nil
}

// EnqueueInput describes one submission to judge.
type EnqueueInput struct {
	ProblemID  int64
	UserID     int64
	Class      int
	ContestID  int64
	SubmitTime int64
	TestDataID string
	Kind       model.TaskKind
	Param      *model.TaskParam
	ExtraData  []byte

	// Rejudge enqueues at the lowest priority class regardless of Class.
	Rejudge bool
}

// Enqueue creates a pending judge record and pushes its task. Contest
// submissions outrank regular ones; within a class the newest submission
// is dispatched first.
func (s *JudgeService) Enqueue(ctx context.Context, input EnqueueInput) (*model.JudgeRecord, error) {
	if input.TestDataID == "" {
		return nil, appErr.ValidationError("test_data_id", "required")
	}
	if input.Kind != model.TaskAnswerSubmission && input.Param == nil {
		return nil, appErr.ValidationError("param", "required for compiled tasks")
	}

	record := &model.JudgeRecord{
		TaskID:     uuid.New().String(),
		ProblemID:  input.ProblemID,
		UserID:     input.UserID,
		Class:      input.Class,
		ContestID:  input.ContestID,
		Status:     "Waiting",
		Pending:    true,
		SubmitTime: input.SubmitTime,
	}
	if err := s.records.Create(ctx, record); err != nil {
		return nil, err
	}

	class := model.PriorityRegular
	switch {
	case input.Rejudge:
		class = model.PriorityRejudge
	case input.Class == model.ClassContest:
		class = model.PriorityContest
	}

	task := &model.JudgeTask{
		TaskID:     record.TaskID,
		JudgeID:    record.ID,
		TestDataID: input.TestDataID,
		Kind:       input.Kind,
		Priority:   model.EffectivePriority(class, record.ID),
		Param:      input.Param,
		ExtraData:  input.ExtraData,
	}
	s.queue.Push(task)
	logger.Info(ctx, "judge task enqueued",
		zap.String("task_id", task.TaskID),
		zap.Int64("judge_id", record.ID),
		zap.Float64("priority", task.Priority))
	return record, nil
}

// RequeueExisting pushes a fresh task for an already persisted record, used
// for rejudges. The record goes back to pending first so the next verdict
// can land.
func (s *JudgeService) RequeueExisting(ctx context.Context, record *model.JudgeRecord, testDataID string, kind model.TaskKind, param *model.TaskParam) error {
	if record == nil {
		return appErr.ValidationError("record", "required")
	}
	task := &model.JudgeTask{
		TaskID:     record.TaskID,
		JudgeID:    record.ID,
		TestDataID: testDataID,
		Kind:       kind,
		Priority:   model.EffectivePriority(model.PriorityRejudge, record.ID),
		Param:      param,
	}
	s.queue.Push(task)
	logger.Info(ctx, "rejudge task enqueued",
		zap.String("task_id", task.TaskID), zap.Int64("judge_id", record.ID))
	return nil
}

// GetLastKnownStatus resolves the freshest view of a task: the live cache
// entry while the task is in flight (and for a short grace after it ends),
// then the durable record.
func (s *JudgeService) GetLastKnownStatus(ctx context.Context, taskID string) (model.CachedStatus, error) {
	status, err := s.statusRepo.Get(ctx, taskID)
	if err == nil {
		return status, nil
	}
	if !appErr.Is(err, appErr.StatusNotCached) {
		return model.CachedStatus{}, err
	}

	record, err := s.records.FindByTaskID(ctx, taskID)
	if err != nil {
		return model.CachedStatus{}, err
	}
	out := model.CachedStatus{
		Result:   record.Status,
		TimeMS:   record.TotalTimeMS,
		MemoryKB: record.MaxMemoryKB,
	}
	if record.Score != nil {
		out.Score = *record.Score
	}
	return out, nil
}
