package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"nexoj/internal/common/cache"
	"nexoj/internal/judge/model"
	"nexoj/internal/judge/repository"
	appErr "nexoj/pkg/errors"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type memRecordStore struct {
	mu     sync.Mutex
	byTask map[string]*model.JudgeRecord
	nextID int64
}

func newMemRecordStore() *memRecordStore {
	return &memRecordStore{byTask: make(map[string]*model.JudgeRecord)}
}

func (s *memRecordStore) Create(ctx context.Context, record *model.JudgeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	record.ID = s.nextID
	clone := *record
	s.byTask[record.TaskID] = &clone
	return nil
}

func (s *memRecordStore) FindByTaskID(ctx context.Context, taskID string) (*model.JudgeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.byTask[taskID]
	if !ok {
		return nil, appErr.New(appErr.JudgeRecordNotFound)
	}
	clone := *record
	return &clone, nil
}

func (s *memRecordStore) SetCompilation(ctx context.Context, taskID string, compilation string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record, ok := s.byTask[taskID]; ok {
		record.Compilation = compilation
	}
	return nil
}

func (s *memRecordStore) FinalizeIfPending(ctx context.Context, taskID string, verdict model.ConvertedVerdict, compilation string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.byTask[taskID]
	if !ok || !record.Pending {
		return false, nil
	}
	score := verdict.Score
	record.Score = &score
	record.Status = verdict.Status
	record.Pending = false
	record.TotalTimeMS = verdict.TimeMS
	record.MaxMemoryKB = verdict.MemoryKB
	record.Compilation = compilation
	return true, nil
}

func (s *memRecordStore) ListFinalized(ctx context.Context, query repository.FinalizedQuery) ([]*model.JudgeRecord, error) {
	return nil, nil
}

type countingPublisher struct {
	mu        sync.Mutex
	published []*model.JudgeRecord
}

func (p *countingPublisher) PublishFinalized(ctx context.Context, record *model.JudgeRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, record)
	return nil
}

func (p *countingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.published)
}

func newTestProtocol(t *testing.T) (*Protocol, *memRecordStore, *countingPublisher, *repository.StatusRepository) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	statusRepo := repository.NewStatusRepository(cache.NewRedisCacheFromClient(client), time.Hour, 5*time.Second)

	records := newMemRecordStore()
	publisher := &countingPublisher{}
	protocol, err := NewProtocol(ProtocolConfig{
		StatusRepo: statusRepo,
		Records:    records,
		Publisher:  publisher,
	})
	if err != nil {
		t.Fatalf("new protocol: %v", err)
	}
	return protocol, records, publisher, statusRepo
}

func pendingRecord(t *testing.T, records *memRecordStore, taskID string) {
	t.Helper()
	err := records.Create(context.Background(), &model.JudgeRecord{
		TaskID:     taskID,
		ProblemID:  1,
		UserID:     1,
		Status:     "Waiting",
		Pending:    true,
		SubmitTime: time.Now().Unix(),
	})
	if err != nil {
		t.Fatalf("seed record: %v", err)
	}
}

func acceptedProgress() *model.JudgeProgress {
	return &model.JudgeProgress{
		Compile: &model.CompileResult{Status: model.CaseAccepted},
		Subtasks: []model.SubtaskResult{{
			Score: 100,
			Cases: []model.CaseResult{
				{Status: model.CaseAccepted, Score: 50, TimeMS: 100, MemoryKB: 1024},
				{Status: model.CaseAccepted, Score: 50, TimeMS: 200, MemoryKB: 2048},
			},
		}},
	}
}

func TestStartedSeedsCompilingStatus(t *testing.T) {
	t.Parallel()
	protocol, records, _, statusRepo := newTestProtocol(t)
	pendingRecord(t, records, "t1")
	ctx := context.Background()

	err := protocol.HandleProgress(ctx, &model.ProgressMessage{Kind: model.ProgressStarted, TaskID: "t1"})
	if err != nil {
		t.Fatalf("handle started: %v", err)
	}
	status, err := statusRepo.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if status.Result != model.StatusCompiling {
		t.Fatalf("expected %s, got %s", model.StatusCompiling, status.Result)
	}
}

func TestRunningUpdatesCachedTally(t *testing.T) {
	t.Parallel()
	protocol, records, _, statusRepo := newTestProtocol(t)
	pendingRecord(t, records, "t1")
	ctx := context.Background()

	progress := &model.JudgeProgress{
		Subtasks: []model.SubtaskResult{{
			Score: 50,
			Cases: []model.CaseResult{
				{Status: model.CaseAccepted, TimeMS: 100, MemoryKB: 512},
				{Status: model.CaseRunning},
				{Status: model.CasePending},
			},
		}},
	}
	err := protocol.HandleProgress(ctx, &model.ProgressMessage{
		Kind: model.ProgressRunning, TaskID: "t1", Judge: progress,
	})
	if err != nil {
		t.Fatalf("handle running: %v", err)
	}

	status, err := statusRepo.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if status.Result != "Running 1/3" {
		t.Fatalf("expected Running 1/3, got %q", status.Result)
	}
}

func TestFinishedFinalizesAndPublishesOnce(t *testing.T) {
	t.Parallel()
	protocol, records, publisher, _ := newTestProtocol(t)
	pendingRecord(t, records, "t1")
	ctx := context.Background()

	msg := &model.ProgressMessage{Kind: model.ProgressFinished, TaskID: "t1", Judge: acceptedProgress()}

	// The worker reports Finished on both the live and the durable channel;
	// the pending flag lets only the first application through.
	if err := protocol.HandleProgress(ctx, msg); err != nil {
		t.Fatalf("handle progress finished: %v", err)
	}
	if err := protocol.HandleResult(ctx, msg); err != nil {
		t.Fatalf("handle result finished: %v", err)
	}

	record, err := records.FindByTaskID(ctx, "t1")
	if err != nil {
		t.Fatalf("find record: %v", err)
	}
	if record.Pending {
		t.Fatal("record still pending after finished")
	}
	if record.Score == nil || *record.Score != 100 {
		t.Fatalf("expected score 100, got %v", record.Score)
	}
	if record.Status != "Accepted" {
		t.Fatalf("expected Accepted, got %s", record.Status)
	}
	if record.TotalTimeMS != 300 || record.MaxMemoryKB != 2048 {
		t.Fatalf("bad time/memory fold: %d ms, %d KB", record.TotalTimeMS, record.MaxMemoryKB)
	}
	if publisher.count() != 1 {
		t.Fatalf("expected exactly 1 published verdict, got %d", publisher.count())
	}
}

func TestFinishedSchedulesEviction(t *testing.T) {
	t.Parallel()
	protocol, records, _, statusRepo := newTestProtocol(t)
	pendingRecord(t, records, "t1")
	ctx := context.Background()

	msg := &model.ProgressMessage{Kind: model.ProgressFinished, TaskID: "t1", Judge: acceptedProgress()}
	if err := protocol.HandleProgress(ctx, msg); err != nil {
		t.Fatalf("handle finished: %v", err)
	}

	status, err := statusRepo.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("final status must survive the grace window: %v", err)
	}
	if status.Result != "Accepted" || status.Score != 100 {
		t.Fatalf("bad cached final status: %+v", status)
	}
}

func TestStaleRunningAfterFinishedKeepsVerdict(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	statusRepo := repository.NewStatusRepository(cache.NewRedisCacheFromClient(client), time.Hour, 5*time.Second)

	records := newMemRecordStore()
	protocol, err := NewProtocol(ProtocolConfig{StatusRepo: statusRepo, Records: records})
	if err != nil {
		t.Fatalf("new protocol: %v", err)
	}
	pendingRecord(t, records, "t1")
	ctx := context.Background()

	finished := &model.ProgressMessage{Kind: model.ProgressFinished, TaskID: "t1", Judge: acceptedProgress()}
	if err := protocol.HandleProgress(ctx, finished); err != nil {
		t.Fatalf("handle finished: %v", err)
	}

	// Progress requests race each other, so a Running report can land after
	// the Finished one. The verdict must stay put.
	straggler := &model.ProgressMessage{
		Kind:   model.ProgressRunning,
		TaskID: "t1",
		Judge: &model.JudgeProgress{
			Subtasks: []model.SubtaskResult{{
				Cases: []model.CaseResult{
					{Status: model.CaseAccepted, TimeMS: 100},
					{Status: model.CaseRunning},
				},
			}},
		},
	}
	if err := protocol.HandleProgress(ctx, straggler); err != nil {
		t.Fatalf("handle stale running: %v", err)
	}

	status, err := statusRepo.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if status.Result != "Accepted" {
		t.Fatalf("straggler overwrote the verdict, got %q", status.Result)
	}

	// It must not have stretched the entry's lifetime either: the original
	// grace window still applies.
	mr.FastForward(6 * time.Second)
	if _, err := statusRepo.Get(ctx, "t1"); !appErr.Is(err, appErr.StatusNotCached) {
		t.Fatalf("entry must expire on the original grace window, got %v", err)
	}

	// And once evicted, a straggler must not bring the entry back.
	if err := protocol.HandleProgress(ctx, straggler); err != nil {
		t.Fatalf("handle post-eviction running: %v", err)
	}
	if _, err := statusRepo.Get(ctx, "t1"); !appErr.Is(err, appErr.StatusNotCached) {
		t.Fatalf("straggler recreated the evicted entry: %v", err)
	}
}

func TestResultCompiledStoresCompilation(t *testing.T) {
	t.Parallel()
	protocol, records, _, _ := newTestProtocol(t)
	pendingRecord(t, records, "t1")
	ctx := context.Background()

	err := protocol.HandleResult(ctx, &model.ProgressMessage{
		Kind:    model.ProgressCompiled,
		TaskID:  "t1",
		Compile: &model.CompileResult{Status: model.CaseAccepted, Message: "warning: unused variable"},
	})
	if err != nil {
		t.Fatalf("handle compiled: %v", err)
	}
	record, err := records.FindByTaskID(ctx, "t1")
	if err != nil {
		t.Fatalf("find record: %v", err)
	}
	if record.Compilation != "warning: unused variable" {
		t.Fatalf("compilation not stored, got %q", record.Compilation)
	}
}
