package model

import (
	appErr "nexoj/pkg/errors"
)

// RuleSet selects how a contest scores and ranks its players.
type RuleSet string

const (
	// RuleNOI ranks by the latest submission per problem.
	RuleNOI RuleSet = "noi"
	// RuleIOI ranks by the best score per problem.
	RuleIOI RuleSet = "ioi"
	// RuleACM ranks by accepted count with time penalties.
	RuleACM RuleSet = "acm"
	// RuleOPEN is ACM ranking fed by regular submissions made during the
	// contest window instead of contest-class ones.
	RuleOPEN RuleSet = "open"
)

// ParseRuleSet validates a rule set name.
func ParseRuleSet(s string) (RuleSet, error) {
	switch RuleSet(s) {
	case RuleNOI, RuleIOI, RuleACM, RuleOPEN:
		return RuleSet(s), nil
	default:
		return "", appErr.Newf(appErr.InvalidRuleSet, "invalid rule set %q", s)
	}
}

// UsesPenalty reports whether the rule set ranks ACM-style.
func (r RuleSet) UsesPenalty() bool {
	return r == RuleACM || r == RuleOPEN
}

// Contest is the scoring-relevant view of a contest.
type Contest struct {
	ID            int64             `json:"id"`
	Title         string            `json:"title"`
	RuleSet       RuleSet           `json:"rule_set"`
	StartTime     int64             `json:"start_time"`
	EndTime       int64             `json:"end_time"`
	ProblemIDs    []int64           `json:"problem_ids"`
	RankingParams map[int64]float64 `json:"ranking_params"`
	RanklistID    int64             `json:"ranklist_id"`
}

// Running reports whether now falls inside the contest window.
func (c *Contest) Running(now int64) bool {
	return now >= c.StartTime && now <= c.EndTime
}

// HasProblem reports whether the problem belongs to this contest.
func (c *Contest) HasProblem(problemID int64) bool {
	for _, id := range c.ProblemIDs {
		if id == problemID {
			return true
		}
	}
	return false
}

// RankingParam returns the score multiplier for a problem, defaulting to 1.
func (c *Contest) RankingParam(problemID int64) float64 {
	if p, ok := c.RankingParams[problemID]; ok && p != 0 {
		return p
	}
	return 1.0
}

// SubmissionLog is one verdict remembered in a player's per-problem log,
// keyed by judge id. Score is nil when the submission never compiled.
type SubmissionLog struct {
	JudgeID    int64 `json:"judge_id"`
	Score      *int  `json:"score"`
	Accepted   bool  `json:"accepted"`
	Compiled   bool  `json:"compiled"`
	SubmitTime int64 `json:"time"`
}

// ScoreDetail carries every aggregate family for one (player, problem)
// pair. All families are updated on every fold so a rule-set change only
// has to switch which family is read.
type ScoreDetail struct {
	// Latest family: the most recent submission.
	LatestScore   *int  `json:"latest_score"`
	LatestJudgeID int64 `json:"latest_judge_id"`
	LatestTime    int64 `json:"latest_time"`

	// Best family: the highest score seen.
	BestScore   *int  `json:"best_score"`
	BestJudgeID int64 `json:"best_judge_id"`
	BestTime    int64 `json:"best_time"`

	// ACM family: first accept and the failed tries around it.
	Accepted             bool  `json:"accepted"`
	AcceptedTime         int64 `json:"accepted_time"`
	FirstAcceptedJudgeID int64 `json:"first_accepted_judge_id"`
	UnacceptedCount      int   `json:"unaccepted_count"`

	Submissions map[int64]SubmissionLog `json:"submissions"`
}

// JudgeIDFor returns the judge id that represents this detail's standing
// under a rule set: the best submission for IOI, the first accept for ACM,
// the latest submission otherwise. Zero means no representative yet.
func (d *ScoreDetail) JudgeIDFor(rule RuleSet) int64 {
	switch rule {
	case RuleIOI:
		return d.BestJudgeID
	case RuleACM:
		return d.FirstAcceptedJudgeID
	default:
		return d.LatestJudgeID
	}
}

// ContestPlayer is one participant's scoring state.
type ContestPlayer struct {
	ID           int64                  `json:"id"`
	ContestID    int64                  `json:"contest_id"`
	UserID       int64                  `json:"user_id"`
	ScoreDetails map[int64]*ScoreDetail `json:"score_details"`
}

// NewContestPlayer creates an empty player for a contest.
func NewContestPlayer(contestID, userID int64) *ContestPlayer {
	return &ContestPlayer{
		ContestID:    contestID,
		UserID:       userID,
		ScoreDetails: make(map[int64]*ScoreDetail),
	}
}

// Detail returns the score detail for a problem, creating it on first use.
func (p *ContestPlayer) Detail(problemID int64) *ScoreDetail {
	if p.ScoreDetails == nil {
		p.ScoreDetails = make(map[int64]*ScoreDetail)
	}
	detail, ok := p.ScoreDetails[problemID]
	if !ok {
		detail = &ScoreDetail{Submissions: make(map[int64]SubmissionLog)}
		p.ScoreDetails[problemID] = detail
	}
	return detail
}

// RankedPlayer is one row of the materialized ranklist.
type RankedPlayer struct {
	PlayerID int64 `json:"player_id"`
	UserID   int64 `json:"user_id"`
	Score    int   `json:"score"`
	Latest   int64 `json:"latest"`
	TimeSum  int64 `json:"time_sum"`
}

// Ranklist is the materialized standing of a contest.
type Ranklist struct {
	ID        int64          `json:"id"`
	ContestID int64          `json:"contest_id"`
	Players   []RankedPlayer `json:"players"`
}

// Verdict is the finalized judge outcome the scoring engine folds.
// Score is nil when the submission did not compile.
type Verdict struct {
	JudgeID    int64 `json:"judge_id"`
	ProblemID  int64 `json:"problem_id"`
	UserID     int64 `json:"user_id"`
	Score      *int  `json:"score"`
	Accepted   bool  `json:"accepted"`
	Compiled   bool  `json:"compiled"`
	SubmitTime int64 `json:"submit_time"`
}
