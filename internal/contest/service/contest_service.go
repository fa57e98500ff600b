package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"nexoj/internal/common/mq"
	"nexoj/internal/contest/model"
	"nexoj/internal/contest/ranklist"
	"nexoj/internal/contest/repository"
	"nexoj/internal/contest/scoring"
	judgemodel "nexoj/internal/judge/model"
	judgerepo "nexoj/internal/judge/repository"
	appErr "nexoj/pkg/errors"
	"nexoj/pkg/utils/logger"

	"go.uber.org/zap"
)

// ServiceConfig holds contest service dependencies.
type ServiceConfig struct {
	Contests  repository.ContestStore
	Players   repository.PlayerStore
	Ranklists repository.RanklistStore
	Records   judgerepo.RecordStore
}

// ContestService folds finalized verdicts into contest standings and owns
// the rebuild and rule-set switch operations.
type ContestService struct {
	contests  repository.ContestStore
	players   repository.PlayerStore
	ranklists repository.RanklistStore
	records   judgerepo.RecordStore

	// One lock per (contest, user): two verdicts for the same player fold
	// serially, verdicts for different players do not contend.
	locks sync.Map
}

// NewContestService creates a new contest service.
func NewContestService(cfg ServiceConfig) (*ContestService, error) {
	if cfg.Contests == nil {
		return nil, fmt.Errorf("contest store is required")
	}
	if cfg.Players == nil {
		return nil, fmt.Errorf("player store is required")
	}
	if cfg.Ranklists == nil {
		return nil, fmt.Errorf("ranklist store is required")
	}
	if cfg.Records == nil {
		return nil, fmt.Errorf("record store is required")
	}
	return &ContestService{
		contests:  cfg.Contests,
		players:   cfg.Players,
		ranklists: cfg.Ranklists,
		records:   cfg.Records,
	}, nil
}

// VerdictFromRecord projects a finalized judge record onto the scoring
// engine's input.
func VerdictFromRecord(record *judgemodel.JudgeRecord) model.Verdict {
	return model.Verdict{
		JudgeID:    record.ID,
		ProblemID:  record.ProblemID,
		UserID:     record.UserID,
		Score:      record.Score,
		Accepted:   record.Accepted(),
		Compiled:   record.Compiled(),
		SubmitTime: record.SubmitTime,
	}
}

func (s *ContestService) lockPlayer(contestID, userID int64) func() {
	key := fmt.Sprintf("%d:%d", contestID, userID)
	actual, _ := s.locks.LoadOrStore(key, &sync.Mutex{})
	mu := actual.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// NewSubmission folds one finalized contest verdict into the standing.
// Regular-class records are skipped here; OPEN contests pick them up when
// their ranklist is rebuilt.
func (s *ContestService) NewSubmission(ctx context.Context, record *judgemodel.JudgeRecord) error {
	if record == nil {
		return appErr.ValidationError("record", "required")
	}
	if record.Pending {
		return appErr.New(appErr.VerdictStillPending).WithDetail("task_id", record.TaskID)
	}
	if record.Class != judgemodel.ClassContest {
		logger.Debug(ctx, "non-contest verdict skipped", zap.String("task_id", record.TaskID))
		return nil
	}

	contest, err := s.contests.FindByID(ctx, record.ContestID)
	if err != nil {
		return err
	}
	if !contest.Running(record.SubmitTime) {
		return appErr.New(appErr.OutsideContestWindow).
			WithDetail("contest_id", contest.ID).
			WithDetail("submit_time", record.SubmitTime)
	}
	if !contest.HasProblem(record.ProblemID) {
		return appErr.New(appErr.ProblemNotInContest).
			WithDetail("contest_id", contest.ID).
			WithDetail("problem_id", record.ProblemID)
	}

	unlock := s.lockPlayer(contest.ID, record.UserID)
	defer unlock()

	player, err := s.players.Find(ctx, contest.ID, record.UserID)
	if appErr.Is(err, appErr.PlayerNotFound) {
		player = model.NewContestPlayer(contest.ID, record.UserID)
		err = nil
	}
	if err != nil {
		return err
	}

	if err := scoring.Apply(player, record.ProblemID, VerdictFromRecord(record)); err != nil {
		return err
	}
	if err := s.players.Save(ctx, player); err != nil {
		return err
	}

	rl, err := s.ranklists.Find(ctx, contest.ID)
	if err != nil {
		return err
	}
	ranklist.UpdatePlayer(contest, rl, player, false)
	if err := s.ranklists.Save(ctx, rl); err != nil {
		return err
	}
	logger.Info(ctx, "contest verdict folded",
		zap.Int64("contest_id", contest.ID),
		zap.Int64("user_id", record.UserID),
		zap.Int64("judge_id", record.ID))
	return nil
}

// ProblemStanding is one problem's representative state for a player.
type ProblemStanding struct {
	ProblemID int64 `json:"problem_id"`
	JudgeID   int64 `json:"judge_id"`
	Score     *int  `json:"score"`
	Accepted  bool  `json:"accepted"`
}

// GetPlayerDetail reports, per problem, which judge record represents the
// player's standing under the contest's current rule set.
func (s *ContestService) GetPlayerDetail(ctx context.Context, contestID, userID int64) ([]ProblemStanding, error) {
	contest, err := s.contests.FindByID(ctx, contestID)
	if err != nil {
		return nil, err
	}
	player, err := s.players.Find(ctx, contestID, userID)
	if err != nil {
		return nil, err
	}

	out := make([]ProblemStanding, 0, len(contest.ProblemIDs))
	for _, problemID := range contest.ProblemIDs {
		detail, ok := player.ScoreDetails[problemID]
		if !ok {
			out = append(out, ProblemStanding{ProblemID: problemID})
			continue
		}
		standing := ProblemStanding{
			ProblemID: problemID,
			JudgeID:   detail.JudgeIDFor(contest.RuleSet),
			Accepted:  detail.Accepted,
		}
		if log, ok := detail.Submissions[standing.JudgeID]; ok {
			standing.Score = log.Score
		}
		out = append(out, standing)
	}
	return out, nil
}

// GetRanklist returns the current standing of a contest.
func (s *ContestService) GetRanklist(ctx context.Context, contestID int64) (*model.Ranklist, error) {
	if _, err := s.contests.FindByID(ctx, contestID); err != nil {
		return nil, err
	}
	return s.ranklists.Find(ctx, contestID)
}

// RebuildRanklist discards the standing and replays every finalized verdict
// in the contest window in submission order. OPEN contests replay the
// regular-class submissions on their problems; every other rule set replays
// the contest's own submissions.
func (s *ContestService) RebuildRanklist(ctx context.Context, contestID int64) error {
	contest, err := s.contests.FindByID(ctx, contestID)
	if err != nil {
		return err
	}

	query := judgerepo.FinalizedQuery{
		StartTime:  contest.StartTime,
		EndTime:    contest.EndTime,
		ProblemIDs: contest.ProblemIDs,
	}
	if contest.RuleSet == model.RuleOPEN {
		query.Class = judgemodel.ClassRegular
	} else {
		query.Class = judgemodel.ClassContest
		query.ContestID = contest.ID
	}
	records, err := s.records.ListFinalized(ctx, query)
	if err != nil {
		return appErr.Wrapf(err, appErr.RebuildFailed, "load finalized verdicts failed")
	}

	verdicts := make([]model.Verdict, 0, len(records))
	for _, record := range records {
		verdicts = append(verdicts, VerdictFromRecord(record))
	}

	rl, err := s.ranklists.Find(ctx, contest.ID)
	if err != nil {
		return err
	}
	players, err := ranklist.Reset(contest, rl, verdicts)
	if err != nil {
		return err
	}

	if err := s.players.DeleteAll(ctx, contest.ID); err != nil {
		return err
	}
	for _, player := range players {
		if err := s.players.Save(ctx, player); err != nil {
			return err
		}
	}
	if err := s.ranklists.Save(ctx, rl); err != nil {
		return err
	}
	logger.Info(ctx, "ranklist rebuilt",
		zap.Int64("contest_id", contest.ID),
		zap.Int("verdicts", len(verdicts)),
		zap.Int("players", len(players)))
	return nil
}

// ChangeRuleSet switches a contest's rule set and re-derives the standing
// from the stored per-player state. No verdict is replayed; the fold keeps
// every aggregate family current, so the switch only changes which family
// the ranklist reads.
func (s *ContestService) ChangeRuleSet(ctx context.Context, contestID int64, ruleSetName string) error {
	ruleSet, err := model.ParseRuleSet(ruleSetName)
	if err != nil {
		return err
	}
	contest, err := s.contests.FindByID(ctx, contestID)
	if err != nil {
		return err
	}
	contest.RuleSet = ruleSet

	all, err := s.players.FindAll(ctx, contest.ID)
	if err != nil {
		return err
	}
	players := make(map[int64]*model.ContestPlayer, len(all))
	for _, player := range all {
		players[player.UserID] = player
	}

	rl, err := s.ranklists.Find(ctx, contest.ID)
	if err != nil {
		return err
	}
	if err := ranklist.ChangeRuleSet(contest, rl, players); err != nil {
		return err
	}

	if err := s.contests.SetRuleSet(ctx, contest.ID, ruleSet); err != nil {
		return err
	}
	if err := s.ranklists.Save(ctx, rl); err != nil {
		return err
	}
	logger.Info(ctx, "contest rule set changed",
		zap.Int64("contest_id", contest.ID), zap.String("rule_set", string(ruleSet)))
	return nil
}

// StartVerdictConsumer subscribes to finalized-verdict events and folds
// them into contest standings. Scope violations (closed window, foreign
// problem) are dropped rather than retried.
func (s *ContestService) StartVerdictConsumer(ctx context.Context, queue mq.MessageQueue) error {
	return queue.Subscribe(ctx, judgerepo.TopicVerdictFinalized, func(ctx context.Context, msg *mq.Message) error {
		var event judgerepo.VerdictEvent
		if err := json.Unmarshal(msg.Body, &event); err != nil {
			logger.Error(ctx, "malformed verdict event dropped", zap.Error(err))
			return nil
		}
		err := s.NewSubmission(ctx, &event.Record)
		switch {
		case err == nil:
			return nil
		case appErr.Is(err, appErr.OutsideContestWindow),
			appErr.Is(err, appErr.ProblemNotInContest),
			appErr.Is(err, appErr.ContestNotFound):
			logger.Warn(ctx, "verdict outside contest scope dropped",
				zap.String("task_id", event.Record.TaskID), zap.Error(err))
			return nil
		default:
			return err
		}
	})
}
