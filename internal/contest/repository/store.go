package repository

import (
	"context"
	"database/sql"
	"encoding/json"

	"nexoj/internal/contest/model"
	appErr "nexoj/pkg/errors"
)

// ContestStore reads contest metadata and updates its rule set.
type ContestStore interface {
	FindByID(ctx context.Context, contestID int64) (*model.Contest, error)
	SetRuleSet(ctx context.Context, contestID int64, ruleSet model.RuleSet) error
}

// PlayerStore persists per-player scoring state. Score details are stored
// as one JSON document per row, the shape the scoring engine works on.
type PlayerStore interface {
	Find(ctx context.Context, contestID, userID int64) (*model.ContestPlayer, error)
	FindAll(ctx context.Context, contestID int64) ([]*model.ContestPlayer, error)
	Save(ctx context.Context, player *model.ContestPlayer) error
	DeleteAll(ctx context.Context, contestID int64) error
}

// RanklistStore persists the materialized standing.
type RanklistStore interface {
	Find(ctx context.Context, contestID int64) (*model.Ranklist, error)
	Save(ctx context.Context, rl *model.Ranklist) error
}

type mysqlContestStore struct {
	db *sql.DB
}

// NewMySQLContestStore creates a contest store backed by MySQL.
func NewMySQLContestStore(db *sql.DB) ContestStore {
	return &mysqlContestStore{db: db}
}

func (s *mysqlContestStore) FindByID(ctx context.Context, contestID int64) (*model.Contest, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, title, rule_set, start_time, end_time, problem_ids, ranking_params FROM contests WHERE id = ?",
		contestID)

	var contest model.Contest
	var ruleSet string
	var problemIDs, rankingParams []byte
	err := row.Scan(&contest.ID, &contest.Title, &ruleSet, &contest.StartTime,
		&contest.EndTime, &problemIDs, &rankingParams)
	if err == sql.ErrNoRows {
		return nil, appErr.New(appErr.ContestNotFound).WithDetail("contest_id", contestID)
	}
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "query contest failed")
	}

	contest.RuleSet, err = model.ParseRuleSet(ruleSet)
	if err != nil {
		return nil, err
	}
	if len(problemIDs) > 0 {
		if err := json.Unmarshal(problemIDs, &contest.ProblemIDs); err != nil {
			return nil, appErr.Wrapf(err, appErr.DatabaseError, "decode contest problems failed")
		}
	}
	if len(rankingParams) > 0 {
		if err := json.Unmarshal(rankingParams, &contest.RankingParams); err != nil {
			return nil, appErr.Wrapf(err, appErr.DatabaseError, "decode ranking params failed")
		}
	}
	return &contest, nil
}

func (s *mysqlContestStore) SetRuleSet(ctx context.Context, contestID int64, ruleSet model.RuleSet) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE contests SET rule_set = ? WHERE id = ?", string(ruleSet), contestID)
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "update rule set failed")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "read rule set update result failed")
	}
	if affected == 0 {
		return appErr.New(appErr.ContestNotFound).WithDetail("contest_id", contestID)
	}
	return nil
}

type mysqlPlayerStore struct {
	db *sql.DB
}

// NewMySQLPlayerStore creates a player store backed by MySQL.
func NewMySQLPlayerStore(db *sql.DB) PlayerStore {
	return &mysqlPlayerStore{db: db}
}

func (s *mysqlPlayerStore) Find(ctx context.Context, contestID, userID int64) (*model.ContestPlayer, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, contest_id, user_id, score_details FROM contest_players WHERE contest_id = ? AND user_id = ?",
		contestID, userID)
	player, err := scanPlayer(row)
	if err == sql.ErrNoRows {
		return nil, appErr.New(appErr.PlayerNotFound).
			WithDetail("contest_id", contestID).
			WithDetail("user_id", userID)
	}
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "query contest player failed")
	}
	return player, nil
}

func (s *mysqlPlayerStore) FindAll(ctx context.Context, contestID int64) ([]*model.ContestPlayer, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, contest_id, user_id, score_details FROM contest_players WHERE contest_id = ?",
		contestID)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "list contest players failed")
	}
	defer rows.Close()

	var players []*model.ContestPlayer
	for rows.Next() {
		player, err := scanPlayer(rows)
		if err != nil {
			return nil, appErr.Wrapf(err, appErr.DatabaseError, "scan contest player failed")
		}
		players = append(players, player)
	}
	if err := rows.Err(); err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "iterate contest players failed")
	}
	return players, nil
}

func (s *mysqlPlayerStore) Save(ctx context.Context, player *model.ContestPlayer) error {
	if player == nil {
		return appErr.ValidationError("player", "required")
	}
	details, err := json.Marshal(player.ScoreDetails)
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "encode score details failed")
	}

	if player.ID == 0 {
		result, err := s.db.ExecContext(ctx,
			"INSERT INTO contest_players (contest_id, user_id, score_details) VALUES (?, ?, ?)",
			player.ContestID, player.UserID, details)
		if err != nil {
			return appErr.Wrapf(err, appErr.DatabaseError, "insert contest player failed")
		}
		player.ID, err = result.LastInsertId()
		if err != nil {
			return appErr.Wrapf(err, appErr.DatabaseError, "read contest player id failed")
		}
		return nil
	}

	_, err = s.db.ExecContext(ctx,
		"UPDATE contest_players SET score_details = ? WHERE id = ?", details, player.ID)
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "update contest player failed")
	}
	return nil
}

func (s *mysqlPlayerStore) DeleteAll(ctx context.Context, contestID int64) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM contest_players WHERE contest_id = ?", contestID)
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "delete contest players failed")
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPlayer(row rowScanner) (*model.ContestPlayer, error) {
	var player model.ContestPlayer
	var details []byte
	if err := row.Scan(&player.ID, &player.ContestID, &player.UserID, &details); err != nil {
		return nil, err
	}
	if len(details) > 0 {
		if err := json.Unmarshal(details, &player.ScoreDetails); err != nil {
			return nil, err
		}
	}
	if player.ScoreDetails == nil {
		player.ScoreDetails = make(map[int64]*model.ScoreDetail)
	}
	return &player, nil
}

type mysqlRanklistStore struct {
	db *sql.DB
}

// NewMySQLRanklistStore creates a ranklist store backed by MySQL.
func NewMySQLRanklistStore(db *sql.DB) RanklistStore {
	return &mysqlRanklistStore{db: db}
}

func (s *mysqlRanklistStore) Find(ctx context.Context, contestID int64) (*model.Ranklist, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, contest_id, players FROM ranklists WHERE contest_id = ?", contestID)

	var rl model.Ranklist
	var players []byte
	err := row.Scan(&rl.ID, &rl.ContestID, &players)
	if err == sql.ErrNoRows {
		// A contest with no submissions yet has an empty standing.
		return &model.Ranklist{ContestID: contestID}, nil
	}
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "query ranklist failed")
	}
	if len(players) > 0 {
		if err := json.Unmarshal(players, &rl.Players); err != nil {
			return nil, appErr.Wrapf(err, appErr.DatabaseError, "decode ranklist players failed")
		}
	}
	return &rl, nil
}

func (s *mysqlRanklistStore) Save(ctx context.Context, rl *model.Ranklist) error {
	if rl == nil {
		return appErr.ValidationError("ranklist", "required")
	}
	players, err := json.Marshal(rl.Players)
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "encode ranklist players failed")
	}

	if rl.ID == 0 {
		result, err := s.db.ExecContext(ctx,
			"INSERT INTO ranklists (contest_id, players) VALUES (?, ?)", rl.ContestID, players)
		if err != nil {
			return appErr.Wrapf(err, appErr.DatabaseError, "insert ranklist failed")
		}
		rl.ID, err = result.LastInsertId()
		if err != nil {
			return appErr.Wrapf(err, appErr.DatabaseError, "read ranklist id failed")
		}
		return nil
	}

	_, err = s.db.ExecContext(ctx,
		"UPDATE ranklists SET players = ? WHERE id = ?", players, rl.ID)
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "update ranklist failed")
	}
	return nil
}
