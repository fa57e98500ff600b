package service

import (
	"context"
	"fmt"

	"nexoj/internal/judge/model"
	"nexoj/internal/judge/repository"
	appErr "nexoj/pkg/errors"
	"nexoj/pkg/utils/logger"

	"go.uber.org/zap"
)

// ProtocolConfig holds the protocol handler's dependencies.
type ProtocolConfig struct {
	StatusRepo *repository.StatusRepository
	Records    repository.RecordStore
	Publisher  repository.VerdictPublisher
	Notifier   Notifier
}

// Protocol interprets decoded worker messages. Live progress feeds the
// status cache and subscribers; the result channel finalizes the durable
// record and announces the verdict downstream. Finalization is idempotent,
// so a Finished message seen on both channels still scores once.
type Protocol struct {
	statusRepo *repository.StatusRepository
	records    repository.RecordStore
	publisher  repository.VerdictPublisher
	notifier   Notifier
}

// NewProtocol creates a new protocol handler.
func NewProtocol(cfg ProtocolConfig) (*Protocol, error) {
	if cfg.StatusRepo == nil {
		return nil, fmt.Errorf("status repository is required")
	}
	if cfg.Records == nil {
		return nil, fmt.Errorf("record store is required")
	}
	if cfg.Publisher == nil {
		cfg.Publisher = repository.NoopVerdictPublisher{}
	}
	if cfg.Notifier == nil {
		cfg.Notifier = NewBroadcastNotifier()
	}
	return &Protocol{
		statusRepo: cfg.StatusRepo,
		records:    cfg.Records,
		publisher:  cfg.Publisher,
		notifier:   cfg.Notifier,
	}, nil
}

// HandleProgress consumes one live progress message.
func (p *Protocol) HandleProgress(ctx context.Context, msg *model.ProgressMessage) error {
	switch msg.Kind {
	case model.ProgressStarted:
		logger.Info(ctx, "judge started", zap.String("task_id", msg.TaskID))
		p.notifier.TaskStarted(msg.TaskID)
		return p.statusRepo.Set(ctx, msg.TaskID, model.CachedStatus{Result: model.StatusCompiling})

	case model.ProgressCompiled:
		p.notifier.CompileFinished(msg.TaskID, msg.Compile)
		return nil

	case model.ProgressRunning:
		p.notifier.ProgressUpdated(msg.TaskID, msg.Judge)
		// Progress messages arrive as independent requests, so a straggler
		// can land after Finished. The terminal status and its eviction
		// grace must survive it.
		current, err := p.statusRepo.Get(ctx, msg.TaskID)
		switch {
		case err == nil && current.Final():
			logger.Debug(ctx, "stale running progress ignored", zap.String("task_id", msg.TaskID))
			return nil
		case appErr.Is(err, appErr.StatusNotCached):
			record, rerr := p.records.FindByTaskID(ctx, msg.TaskID)
			if rerr == nil && !record.Pending {
				logger.Debug(ctx, "running progress for finalized record ignored",
					zap.String("task_id", msg.TaskID))
				return nil
			}
		}
		verdict := model.Convert(msg.Judge)
		return p.statusRepo.Set(ctx, msg.TaskID, model.CachedStatus{
			Result:   model.RunningSummary(msg.Judge),
			Score:    verdict.Score,
			TimeMS:   verdict.TimeMS,
			MemoryKB: verdict.MemoryKB,
		})

	case model.ProgressFinished:
		p.notifier.ResultReady(msg.TaskID, msg.Judge)
		verdict := model.Convert(msg.Judge)
		if err := p.statusRepo.Set(ctx, msg.TaskID, model.CachedStatus{
			Result:   verdict.Status,
			Score:    verdict.Score,
			TimeMS:   verdict.TimeMS,
			MemoryKB: verdict.MemoryKB,
		}); err != nil {
			logger.Warn(ctx, "cache final status failed", zap.String("task_id", msg.TaskID), zap.Error(err))
		}
		// Trailing polls keep resolving for the grace window, then the
		// entry goes away.
		if err := p.statusRepo.EvictAfterGrace(ctx, msg.TaskID); err != nil {
			logger.Warn(ctx, "schedule status eviction failed", zap.String("task_id", msg.TaskID), zap.Error(err))
		}
		return p.finalize(ctx, msg)

	case model.ProgressReported:
		logger.Info(ctx, "judge lifecycle reported complete", zap.String("task_id", msg.TaskID))
		p.notifier.TaskReported(msg.TaskID)
		return nil

	default:
		return appErr.Newf(appErr.UnknownProgressKind, "unknown progress kind %d", msg.Kind)
	}
}

// HandleResult consumes one durable result message.
func (p *Protocol) HandleResult(ctx context.Context, msg *model.ProgressMessage) error {
	switch msg.Kind {
	case model.ProgressCompiled:
		compilation := ""
		if msg.Compile != nil {
			compilation = msg.Compile.Message
		}
		return p.records.SetCompilation(ctx, msg.TaskID, compilation)

	case model.ProgressFinished:
		return p.finalize(ctx, msg)

	default:
		logger.Debug(ctx, "result message kind ignored",
			zap.String("task_id", msg.TaskID), zap.String("kind", msg.Kind.String()))
		return nil
	}
}

// finalize persists the final verdict and publishes it downstream. The
// pending-flag guard in the store makes repeated calls no-ops, which is
// what keeps double scoring out.
func (p *Protocol) finalize(ctx context.Context, msg *model.ProgressMessage) error {
	verdict := model.Convert(msg.Judge)
	compilation := ""
	if msg.Judge != nil && msg.Judge.Compile != nil {
		compilation = msg.Judge.Compile.Message
	}

	applied, err := p.records.FinalizeIfPending(ctx, msg.TaskID, verdict, compilation)
	if err != nil {
		return err
	}
	if !applied {
		logger.Debug(ctx, "record already finalized, skipping",
			zap.String("task_id", msg.TaskID))
		return nil
	}

	record, err := p.records.FindByTaskID(ctx, msg.TaskID)
	if err != nil {
		return err
	}
	logger.Info(ctx, "judge record finalized",
		zap.String("task_id", msg.TaskID),
		zap.String("status", record.Status),
		zap.Int("score", verdict.Score))

	if err := p.publisher.PublishFinalized(ctx, record); err != nil {
		// The record is final either way; downstream can rebuild from it.
		logger.Error(ctx, "publish finalized verdict failed",
			zap.String("task_id", msg.TaskID), zap.Error(err))
	}
	return nil
}
