package ranklist

import (
	"reflect"
	"testing"

	"nexoj/internal/contest/model"
	"nexoj/internal/contest/scoring"
	appErr "nexoj/pkg/errors"
)

func intp(v int) *int { return &v }

func testContest(rule model.RuleSet) *model.Contest {
	return &model.Contest{
		ID:         1,
		RuleSet:    rule,
		StartTime:  1000,
		EndTime:    1000 + 5*3600,
		ProblemIDs: []int64{1, 2, 3},
	}
}

func foldAll(t *testing.T, player *model.ContestPlayer, verdicts []model.Verdict) {
	t.Helper()
	for _, v := range verdicts {
		if err := scoring.Apply(player, v.ProblemID, v); err != nil {
			t.Fatalf("apply verdict %d: %v", v.JudgeID, err)
		}
	}
}

func TestNOIEntryReadsLatestWithRankingParams(t *testing.T) {
	t.Parallel()
	contest := testContest(model.RuleNOI)
	contest.RankingParams = map[int64]float64{1: 1.5}

	player := model.NewContestPlayer(1, 10)
	foldAll(t, player, []model.Verdict{
		{JudgeID: 1, ProblemID: 1, UserID: 10, Score: intp(80), Compiled: true, SubmitTime: 1100},
		{JudgeID: 2, ProblemID: 2, UserID: 10, Score: intp(40), Compiled: true, SubmitTime: 1200},
	})

	entry := ComputeEntry(contest, player)
	// 80 * 1.5 = 120 on problem 1, 40 * 1.0 on problem 2.
	if entry.Score != 160 {
		t.Fatalf("score: got %d, want 160", entry.Score)
	}
	if entry.Latest != 1200 {
		t.Fatalf("latest: got %d, want 1200", entry.Latest)
	}
}

func TestIOIEntryReadsBestFamily(t *testing.T) {
	t.Parallel()
	contest := testContest(model.RuleIOI)
	player := model.NewContestPlayer(1, 10)
	foldAll(t, player, []model.Verdict{
		{JudgeID: 1, ProblemID: 1, UserID: 10, Score: intp(90), Compiled: true, SubmitTime: 1100},
		{JudgeID: 2, ProblemID: 1, UserID: 10, Score: intp(30), Compiled: true, SubmitTime: 1200},
	})

	entry := ComputeEntry(contest, player)
	if entry.Score != 90 {
		t.Fatalf("IOI must keep the best score, got %d", entry.Score)
	}
	if entry.Latest != 1100 {
		t.Fatalf("latest must track the best submission, got %d", entry.Latest)
	}
}

func TestACMEntryCountsAcceptsAndPenalty(t *testing.T) {
	t.Parallel()
	contest := testContest(model.RuleACM)
	player := model.NewContestPlayer(1, 10)
	foldAll(t, player, []model.Verdict{
		// Two misses then an accept on problem 1.
		{JudgeID: 1, ProblemID: 1, UserID: 10, Score: intp(0), Compiled: true, SubmitTime: 1100},
		{JudgeID: 2, ProblemID: 1, UserID: 10, Score: intp(0), Compiled: true, SubmitTime: 1200},
		{JudgeID: 3, ProblemID: 1, UserID: 10, Score: intp(100), Accepted: true, Compiled: true, SubmitTime: 1300},
		// Unsolved problem contributes nothing.
		{JudgeID: 4, ProblemID: 2, UserID: 10, Score: intp(0), Compiled: true, SubmitTime: 1400},
	})

	entry := ComputeEntry(contest, player)
	if entry.Score != 1 {
		t.Fatalf("score must be the accepted count, got %d", entry.Score)
	}
	// (1300 - 1000) elapsed + 2 misses * 20 minutes.
	want := int64(300 + 2*20*60)
	if entry.TimeSum != want {
		t.Fatalf("time sum: got %d, want %d", entry.TimeSum, want)
	}
}

func TestSortTieBreaks(t *testing.T) {
	t.Parallel()

	rl := &model.Ranklist{Players: []model.RankedPlayer{
		{UserID: 1, Score: 100, Latest: 2000},
		{UserID: 2, Score: 100, Latest: 1500},
		{UserID: 3, Score: 200, Latest: 3000},
	}}
	SortPlayers(model.RuleNOI, rl)
	if rl.Players[0].UserID != 3 || rl.Players[1].UserID != 2 || rl.Players[2].UserID != 1 {
		t.Fatalf("NOI order wrong: %+v", rl.Players)
	}

	rl = &model.Ranklist{Players: []model.RankedPlayer{
		{UserID: 1, Score: 2, TimeSum: 5000},
		{UserID: 2, Score: 2, TimeSum: 3000},
		{UserID: 3, Score: 1, TimeSum: 100},
	}}
	SortPlayers(model.RuleACM, rl)
	if rl.Players[0].UserID != 2 || rl.Players[1].UserID != 1 || rl.Players[2].UserID != 3 {
		t.Fatalf("ACM order wrong: %+v", rl.Players)
	}
}

func TestUpdatePlayerUpsertsByUser(t *testing.T) {
	t.Parallel()
	contest := testContest(model.RuleIOI)
	rl := &model.Ranklist{ContestID: 1}

	player := model.NewContestPlayer(1, 10)
	foldAll(t, player, []model.Verdict{
		{JudgeID: 1, ProblemID: 1, UserID: 10, Score: intp(40), Compiled: true, SubmitTime: 1100},
	})
	UpdatePlayer(contest, rl, player, false)
	foldAll(t, player, []model.Verdict{
		{JudgeID: 2, ProblemID: 1, UserID: 10, Score: intp(70), Compiled: true, SubmitTime: 1200},
	})
	UpdatePlayer(contest, rl, player, false)

	if len(rl.Players) != 1 {
		t.Fatalf("expected one row per user, got %d", len(rl.Players))
	}
	if rl.Players[0].Score != 70 {
		t.Fatalf("row not recomputed, score %d", rl.Players[0].Score)
	}
}

func TestResetReplayMatchesLiveFolding(t *testing.T) {
	t.Parallel()
	contest := testContest(model.RuleACM)
	verdicts := []model.Verdict{
		{JudgeID: 1, ProblemID: 1, UserID: 10, Score: intp(0), Compiled: true, SubmitTime: 1100},
		{JudgeID: 2, ProblemID: 1, UserID: 20, Score: intp(100), Accepted: true, Compiled: true, SubmitTime: 1150},
		{JudgeID: 3, ProblemID: 1, UserID: 10, Score: intp(100), Accepted: true, Compiled: true, SubmitTime: 1300},
		{JudgeID: 4, ProblemID: 2, UserID: 20, Score: intp(100), Accepted: true, Compiled: true, SubmitTime: 1400},
	}

	// Live path: fold one by one, resorting each time.
	live := &model.Ranklist{ContestID: 1}
	livePlayers := make(map[int64]*model.ContestPlayer)
	for _, v := range verdicts {
		player, ok := livePlayers[v.UserID]
		if !ok {
			player = model.NewContestPlayer(contest.ID, v.UserID)
			livePlayers[v.UserID] = player
		}
		if err := scoring.Apply(player, v.ProblemID, v); err != nil {
			t.Fatalf("apply: %v", err)
		}
		UpdatePlayer(contest, live, player, false)
	}

	// Rebuild path: replay everything from scratch.
	rebuilt := &model.Ranklist{ContestID: 1}
	if _, err := Reset(contest, rebuilt, verdicts); err != nil {
		t.Fatalf("reset: %v", err)
	}

	if !reflect.DeepEqual(live.Players, rebuilt.Players) {
		t.Fatalf("rebuild diverged from live:\nlive:    %+v\nrebuilt: %+v", live.Players, rebuilt.Players)
	}
}

func TestResetIsIdempotent(t *testing.T) {
	t.Parallel()
	contest := testContest(model.RuleNOI)
	verdicts := []model.Verdict{
		{JudgeID: 1, ProblemID: 1, UserID: 10, Score: intp(60), Compiled: true, SubmitTime: 1100},
		{JudgeID: 2, ProblemID: 2, UserID: 10, Score: intp(20), Compiled: true, SubmitTime: 1200},
	}

	rl := &model.Ranklist{ContestID: 1}
	if _, err := Reset(contest, rl, verdicts); err != nil {
		t.Fatalf("first reset: %v", err)
	}
	first := append([]model.RankedPlayer(nil), rl.Players...)
	if _, err := Reset(contest, rl, verdicts); err != nil {
		t.Fatalf("second reset: %v", err)
	}
	if !reflect.DeepEqual(first, rl.Players) {
		t.Fatalf("reset not idempotent:\nfirst:  %+v\nsecond: %+v", first, rl.Players)
	}
}

func TestChangeRuleSetRecomputesRows(t *testing.T) {
	t.Parallel()
	contest := testContest(model.RuleACM)
	rl := &model.Ranklist{ContestID: 1}

	player := model.NewContestPlayer(1, 10)
	foldAll(t, player, []model.Verdict{
		{JudgeID: 1, ProblemID: 1, UserID: 10, Score: intp(60), Compiled: true, SubmitTime: 1100},
		{JudgeID: 2, ProblemID: 1, UserID: 10, Score: intp(100), Accepted: true, Compiled: true, SubmitTime: 1200},
	})
	UpdatePlayer(contest, rl, player, false)
	if rl.Players[0].Score != 1 {
		t.Fatalf("ACM score: got %d, want 1", rl.Players[0].Score)
	}

	contest.RuleSet = model.RuleIOI
	players := map[int64]*model.ContestPlayer{10: player}
	if err := ChangeRuleSet(contest, rl, players); err != nil {
		t.Fatalf("change rule set: %v", err)
	}
	if rl.Players[0].Score != 100 {
		t.Fatalf("IOI score after switch: got %d, want 100", rl.Players[0].Score)
	}
}

func TestChangeRuleSetMissingPlayerIsFatal(t *testing.T) {
	t.Parallel()
	contest := testContest(model.RuleIOI)
	rl := &model.Ranklist{ContestID: 1, Players: []model.RankedPlayer{{UserID: 99, Score: 50}}}

	err := ChangeRuleSet(contest, rl, map[int64]*model.ContestPlayer{})
	if !appErr.Is(err, appErr.RanklistInconsistent) {
		t.Fatalf("expected RanklistInconsistent, got %v", err)
	}
}
