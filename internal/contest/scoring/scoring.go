package scoring

import (
	"nexoj/internal/contest/model"
	appErr "nexoj/pkg/errors"
)

// Fold applies one finalized verdict to a player's detail for its problem.
// Every aggregate family is updated on every fold, whatever the contest's
// current rule set: switching rules later only changes which family the
// ranklist reads, and a rebuild replay lands on identical state.
func Fold(detail *model.ScoreDetail, v model.Verdict) error {
	if detail == nil {
		return appErr.ValidationError("detail", "required")
	}
	if detail.Submissions == nil {
		detail.Submissions = make(map[int64]model.SubmissionLog)
	}
	detail.Submissions[v.JudgeID] = model.SubmissionLog{
		JudgeID:    v.JudgeID,
		Score:      v.Score,
		Accepted:   v.Accepted,
		Compiled:   v.Compiled,
		SubmitTime: v.SubmitTime,
	}

	// Latest family: a resubmission at the same second still wins.
	if detail.LatestJudgeID == 0 || v.SubmitTime >= detail.LatestTime {
		detail.LatestScore = v.Score
		detail.LatestJudgeID = v.JudgeID
		detail.LatestTime = v.SubmitTime
	}

	// Best family: ties go to the newer submission.
	if v.Score != nil && (detail.BestScore == nil || *v.Score >= *detail.BestScore) {
		detail.BestScore = v.Score
		detail.BestJudgeID = v.JudgeID
		detail.BestTime = v.SubmitTime
	}

	// ACM family: the earliest accept wins; compiled misses count toward
	// the penalty, compile errors do not.
	if v.Accepted {
		if !detail.Accepted || v.SubmitTime < detail.AcceptedTime {
			detail.Accepted = true
			detail.AcceptedTime = v.SubmitTime
			detail.FirstAcceptedJudgeID = v.JudgeID
		}
	} else if v.Compiled {
		detail.UnacceptedCount++
	}
	return nil
}

// Apply folds a verdict into the player, locating the detail by problem.
func Apply(player *model.ContestPlayer, problemID int64, v model.Verdict) error {
	if player == nil {
		return appErr.ValidationError("player", "required")
	}
	return Fold(player.Detail(problemID), v)
}
