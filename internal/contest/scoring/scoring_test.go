package scoring

import (
	"testing"

	"nexoj/internal/contest/model"
)

func intp(v int) *int { return &v }

func verdict(judgeID int64, score *int, accepted bool, submitTime int64) model.Verdict {
	return model.Verdict{
		JudgeID:    judgeID,
		ProblemID:  1,
		UserID:     1,
		Score:      score,
		Accepted:   accepted,
		Compiled:   score != nil,
		SubmitTime: submitTime,
	}
}

func TestLatestFamilyFollowsNewestSubmission(t *testing.T) {
	t.Parallel()
	detail := &model.ScoreDetail{}

	if err := Fold(detail, verdict(1, intp(50), false, 100)); err != nil {
		t.Fatalf("fold: %v", err)
	}
	if err := Fold(detail, verdict(2, intp(30), false, 200)); err != nil {
		t.Fatalf("fold: %v", err)
	}

	if detail.LatestScore == nil || *detail.LatestScore != 30 {
		t.Fatalf("latest must follow the newest submission, got %v", detail.LatestScore)
	}
	if detail.LatestJudgeID != 2 {
		t.Fatalf("latest judge id: got %d, want 2", detail.LatestJudgeID)
	}
	if detail.BestScore == nil || *detail.BestScore != 50 {
		t.Fatalf("best must keep the higher score, got %v", detail.BestScore)
	}
}

func TestLatestTieAtSameSecondGoesToNewer(t *testing.T) {
	t.Parallel()
	detail := &model.ScoreDetail{}
	_ = Fold(detail, verdict(1, intp(60), false, 100))
	_ = Fold(detail, verdict(2, intp(40), false, 100))

	if detail.LatestJudgeID != 2 || *detail.LatestScore != 40 {
		t.Fatalf("resubmission at the same second must win, got judge %d score %v",
			detail.LatestJudgeID, detail.LatestScore)
	}
}

func TestBestTiePrefersNewerSubmission(t *testing.T) {
	t.Parallel()
	detail := &model.ScoreDetail{}
	_ = Fold(detail, verdict(1, intp(50), false, 100))
	_ = Fold(detail, verdict(2, intp(50), false, 200))

	if detail.BestJudgeID != 2 {
		t.Fatalf("equal score must move best to the newer judge, got %d", detail.BestJudgeID)
	}
	if detail.BestTime != 200 {
		t.Fatalf("best time: got %d, want 200", detail.BestTime)
	}
}

func TestBestIgnoresUncompiledSubmissions(t *testing.T) {
	t.Parallel()
	detail := &model.ScoreDetail{}
	_ = Fold(detail, verdict(1, intp(70), false, 100))
	_ = Fold(detail, verdict(2, nil, false, 200))

	if detail.BestScore == nil || *detail.BestScore != 70 || detail.BestJudgeID != 1 {
		t.Fatalf("a compile error must not touch best, got %v (judge %d)",
			detail.BestScore, detail.BestJudgeID)
	}
	if detail.LatestScore != nil {
		t.Fatalf("latest must still follow the newest submission, got %v", detail.LatestScore)
	}
}

func TestACMFirstAcceptAndPenaltyCounting(t *testing.T) {
	t.Parallel()
	detail := &model.ScoreDetail{}

	// Compiled miss counts toward the penalty.
	_ = Fold(detail, verdict(1, intp(0), false, 100))
	// Compile error does not.
	_ = Fold(detail, verdict(2, nil, false, 150))
	// Accept pins the time.
	_ = Fold(detail, verdict(3, intp(100), true, 200))

	if detail.UnacceptedCount != 1 {
		t.Fatalf("unaccepted count: got %d, want 1", detail.UnacceptedCount)
	}
	if !detail.Accepted || detail.AcceptedTime != 200 || detail.FirstAcceptedJudgeID != 3 {
		t.Fatalf("bad accept state: %+v", detail)
	}

	// A later accept does not move the first-accept marker.
	_ = Fold(detail, verdict(4, intp(100), true, 300))
	if detail.AcceptedTime != 200 || detail.FirstAcceptedJudgeID != 3 {
		t.Fatalf("later accept moved the marker: %+v", detail)
	}

	// An out-of-order earlier accept does.
	_ = Fold(detail, verdict(5, intp(100), true, 120))
	if detail.AcceptedTime != 120 || detail.FirstAcceptedJudgeID != 5 {
		t.Fatalf("earlier accept must win: %+v", detail)
	}
}

func TestJudgeIDResolutionPerRuleSet(t *testing.T) {
	t.Parallel()
	detail := &model.ScoreDetail{}
	_ = Fold(detail, verdict(1, intp(90), false, 100))
	_ = Fold(detail, verdict(2, intp(100), true, 200))
	_ = Fold(detail, verdict(3, intp(40), false, 300))

	if got := detail.JudgeIDFor(model.RuleIOI); got != 2 {
		t.Fatalf("IOI must point at the best submission, got %d", got)
	}
	if got := detail.JudgeIDFor(model.RuleACM); got != 2 {
		t.Fatalf("ACM must point at the first accept, got %d", got)
	}
	if got := detail.JudgeIDFor(model.RuleNOI); got != 3 {
		t.Fatalf("NOI must point at the latest submission, got %d", got)
	}
	if got := detail.JudgeIDFor(model.RuleOPEN); got != 3 {
		t.Fatalf("OPEN must point at the latest submission, got %d", got)
	}
}

func TestFoldRecordsSubmissionLog(t *testing.T) {
	t.Parallel()
	player := model.NewContestPlayer(1, 1)
	if err := Apply(player, 7, verdict(42, intp(90), false, 100)); err != nil {
		t.Fatalf("apply: %v", err)
	}

	log, ok := player.ScoreDetails[7].Submissions[42]
	if !ok {
		t.Fatal("submission log entry missing")
	}
	if log.Score == nil || *log.Score != 90 || log.SubmitTime != 100 || !log.Compiled {
		t.Fatalf("bad log entry: %+v", log)
	}
}
