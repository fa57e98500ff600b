package handler

import (
	"net/http"

	"nexoj/internal/contest/service"
	appErr "nexoj/pkg/errors"

	"github.com/zeromicro/go-zero/rest"
	"github.com/zeromicro/go-zero/rest/httpx"
)

type contestRequest struct {
	ContestID int64 `path:"contestId"`
}

type playerRequest struct {
	ContestID int64 `path:"contestId"`
	UserID    int64 `path:"userId"`
}

type changeRuleSetRequest struct {
	ContestID int64  `path:"contestId"`
	RuleSet   string `json:"ruleSet"`
}

type apiResponse struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := appErr.GetCode(err)
	status := http.StatusInternalServerError
	switch code {
	case appErr.ContestNotFound, appErr.PlayerNotFound:
		status = http.StatusNotFound
	case appErr.ValidationFailed, appErr.InvalidParams, appErr.InvalidRuleSet:
		status = http.StatusBadRequest
	case appErr.RanklistInconsistent:
		status = http.StatusConflict
	}
	httpx.WriteJsonCtx(r.Context(), w, status, apiResponse{
		Code:    int(code),
		Message: err.Error(),
	})
}

func writeOK(w http.ResponseWriter, r *http.Request, data interface{}) {
	httpx.OkJsonCtx(r.Context(), w, apiResponse{
		Code:    int(appErr.Success),
		Message: "success",
		Data:    data,
	})
}

// GetRanklistHandler returns the current standing of a contest.
func GetRanklistHandler(svc *service.ContestService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req contestRequest
		if err := httpx.Parse(r, &req); err != nil {
			writeError(w, r, appErr.Wrap(err, appErr.InvalidParams))
			return
		}
		rl, err := svc.GetRanklist(r.Context(), req.ContestID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeOK(w, r, rl)
	}
}

// GetPlayerDetailHandler returns a player's per-problem standing, with the
// judge id representing each problem under the current rule set.
func GetPlayerDetailHandler(svc *service.ContestService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req playerRequest
		if err := httpx.Parse(r, &req); err != nil {
			writeError(w, r, appErr.Wrap(err, appErr.InvalidParams))
			return
		}
		detail, err := svc.GetPlayerDetail(r.Context(), req.ContestID, req.UserID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeOK(w, r, detail)
	}
}

// RebuildRanklistHandler discards the standing and replays the contest's
// finalized verdicts from scratch.
func RebuildRanklistHandler(svc *service.ContestService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req contestRequest
		if err := httpx.Parse(r, &req); err != nil {
			writeError(w, r, appErr.Wrap(err, appErr.InvalidParams))
			return
		}
		if err := svc.RebuildRanklist(r.Context(), req.ContestID); err != nil {
			writeError(w, r, err)
			return
		}
		writeOK(w, r, nil)
	}
}

// ChangeRuleSetHandler switches the contest's scoring rule set.
func ChangeRuleSetHandler(svc *service.ContestService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req changeRuleSetRequest
		if err := httpx.Parse(r, &req); err != nil {
			writeError(w, r, appErr.Wrap(err, appErr.InvalidParams))
			return
		}
		if err := svc.ChangeRuleSet(r.Context(), req.ContestID, req.RuleSet); err != nil {
			writeError(w, r, err)
			return
		}
		writeOK(w, r, nil)
	}
}

// RegisterAdminRoutes mounts the contest ranklist and admin endpoints.
func RegisterAdminRoutes(server *rest.Server, svc *service.ContestService) {
	server.AddRoutes([]rest.Route{
		{
			Method:  http.MethodGet,
			Path:    "/api/v1/contests/:contestId/ranklist",
			Handler: GetRanklistHandler(svc),
		},
		{
			Method:  http.MethodGet,
			Path:    "/api/v1/contests/:contestId/players/:userId",
			Handler: GetPlayerDetailHandler(svc),
		},
		{
			Method:  http.MethodPost,
			Path:    "/api/v1/contests/:contestId/ranklist/rebuild",
			Handler: RebuildRanklistHandler(svc),
		},
		{
			Method:  http.MethodPost,
			Path:    "/api/v1/contests/:contestId/ruleset",
			Handler: ChangeRuleSetHandler(svc),
		},
	})
}
