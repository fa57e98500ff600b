package handler

import (
	"net/http"
	"time"

	"nexoj/internal/judge/model"
	"nexoj/internal/judge/service"
	appErr "nexoj/pkg/errors"

	"github.com/zeromicro/go-zero/rest"
	"github.com/zeromicro/go-zero/rest/httpx"
)

type submitRequest struct {
	ProblemID     int64  `json:"problemId"`
	UserID        int64  `json:"userId"`
	ContestID     int64  `json:"contestId,optional"`
	TestDataID    string `json:"testData"`
	Kind          int    `json:"type,optional"`
	Language      string `json:"language,optional"`
	Code          string `json:"code,optional"`
	TimeLimitMS   int64  `json:"timeLimit,optional"`
	MemoryLimitMB int64  `json:"memoryLimit,optional"`
	ExtraData     []byte `json:"extraData,optional"`
	Rejudge       bool   `json:"rejudge,optional"`
}

type submitResponse struct {
	TaskID  string `json:"taskId"`
	JudgeID int64  `json:"judgeId"`
}

// SubmitHandler accepts one submission and enqueues its judge task.
func SubmitHandler(svc *service.JudgeService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req submitRequest
		if err := httpx.Parse(r, &req); err != nil {
			writeError(w, r, appErr.Wrap(err, appErr.InvalidParams))
			return
		}

		kind := model.TaskKind(req.Kind)
		if kind == 0 {
			kind = model.TaskStandard
		}
		input := service.EnqueueInput{
			ProblemID:  req.ProblemID,
			UserID:     req.UserID,
			ContestID:  req.ContestID,
			SubmitTime: time.Now().Unix(),
			TestDataID: req.TestDataID,
			Kind:       kind,
			ExtraData:  req.ExtraData,
			Rejudge:    req.Rejudge,
		}
		if req.ContestID != 0 {
			input.Class = model.ClassContest
		}
		if kind != model.TaskAnswerSubmission {
			input.Param = &model.TaskParam{
				Language:      req.Language,
				Code:          req.Code,
				TimeLimitMS:   req.TimeLimitMS,
				MemoryLimitMB: req.MemoryLimitMB,
			}
		}

		record, err := svc.Enqueue(r.Context(), input)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeOK(w, r, submitResponse{TaskID: record.TaskID, JudgeID: record.ID})
	}
}

// RegisterSubmitRoutes mounts the submission endpoint.
func RegisterSubmitRoutes(server *rest.Server, svc *service.JudgeService) {
	server.AddRoutes([]rest.Route{
		{
			Method:  http.MethodPost,
			Path:    "/api/v1/judge/submit",
			Handler: SubmitHandler(svc),
		},
	})
}
