package ranklist

import (
	"math"
	"sort"

	"nexoj/internal/contest/model"
	"nexoj/internal/contest/scoring"
	appErr "nexoj/pkg/errors"
)

// Each compiled miss before the accept costs twenty minutes of penalty.
const penaltyPerMissSeconds = 20 * 60

// ComputeEntry derives a player's ranklist row under the contest's rule
// set. NOI reads the latest family, IOI the best family, ACM and OPEN the
// accept/penalty family.
func ComputeEntry(contest *model.Contest, player *model.ContestPlayer) model.RankedPlayer {
	entry := model.RankedPlayer{PlayerID: player.ID, UserID: player.UserID}

	for problemID, detail := range player.ScoreDetails {
		switch contest.RuleSet {
		case model.RuleNOI:
			if detail.LatestScore != nil {
				entry.Score += int(math.Round(float64(*detail.LatestScore) * contest.RankingParam(problemID)))
			}
			if detail.LatestTime > entry.Latest {
				entry.Latest = detail.LatestTime
			}
		case model.RuleIOI:
			if detail.BestScore != nil {
				entry.Score += int(math.Round(float64(*detail.BestScore) * contest.RankingParam(problemID)))
			}
			if detail.BestTime > entry.Latest {
				entry.Latest = detail.BestTime
			}
		default:
			if detail.Accepted {
				entry.Score++
				entry.TimeSum += (detail.AcceptedTime - contest.StartTime) +
					int64(detail.UnacceptedCount)*penaltyPerMissSeconds
			}
		}
	}
	return entry
}

// UpdatePlayer recomputes the player's row and upserts it by user id.
// During a bulk rebuild skipSort avoids resorting after every row.
func UpdatePlayer(contest *model.Contest, rl *model.Ranklist, player *model.ContestPlayer, skipSort bool) {
	entry := ComputeEntry(contest, player)
	replaced := false
	for i := range rl.Players {
		if rl.Players[i].UserID == player.UserID {
			rl.Players[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		rl.Players = append(rl.Players, entry)
	}
	if !skipSort {
		SortPlayers(contest.RuleSet, rl)
	}
}

// SortPlayers orders the standing: score descending, ties broken by the
// earlier latest-submission time (NOI/IOI) or the smaller penalty time
// (ACM/OPEN). The sort is stable so equal rows keep their replay order.
func SortPlayers(ruleSet model.RuleSet, rl *model.Ranklist) {
	players := rl.Players
	if ruleSet.UsesPenalty() {
		sort.SliceStable(players, func(i, j int) bool {
			if players[i].Score != players[j].Score {
				return players[i].Score > players[j].Score
			}
			return players[i].TimeSum < players[j].TimeSum
		})
		return
	}
	sort.SliceStable(players, func(i, j int) bool {
		if players[i].Score != players[j].Score {
			return players[i].Score > players[j].Score
		}
		return players[i].Latest < players[j].Latest
	})
}

// Reset rebuilds the standing from scratch by replaying finalized verdicts
// in submission order. It returns the fresh player states keyed by user id
// so the caller can persist them; the ranklist's rows are replaced.
func Reset(contest *model.Contest, rl *model.Ranklist, verdicts []model.Verdict) (map[int64]*model.ContestPlayer, error) {
	rl.Players = rl.Players[:0]
	players := make(map[int64]*model.ContestPlayer)

	for _, v := range verdicts {
		player, ok := players[v.UserID]
		if !ok {
			player = model.NewContestPlayer(contest.ID, v.UserID)
			players[v.UserID] = player
		}
		if err := scoring.Apply(player, v.ProblemID, v); err != nil {
			return nil, appErr.Wrapf(err, appErr.RebuildFailed, "replay verdict %d failed", v.JudgeID)
		}
		UpdatePlayer(contest, rl, player, true)
	}
	SortPlayers(contest.RuleSet, rl)
	return players, nil
}

// ChangeRuleSet re-derives every row under a new rule set. The player
// state behind each row must exist; a row with no backing player means the
// standing and the player store disagree, and the switch is refused.
func ChangeRuleSet(contest *model.Contest, rl *model.Ranklist, players map[int64]*model.ContestPlayer) error {
	for i := range rl.Players {
		player, ok := players[rl.Players[i].UserID]
		if !ok {
			return appErr.New(appErr.RanklistInconsistent).
				WithDetail("user_id", rl.Players[i].UserID)
		}
		rl.Players[i] = ComputeEntry(contest, player)
	}
	SortPlayers(contest.RuleSet, rl)
	return nil
}
