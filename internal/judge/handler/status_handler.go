package handler

import (
	"net/http"

	"nexoj/internal/judge/service"
	appErr "nexoj/pkg/errors"

	"github.com/zeromicro/go-zero/rest"
	"github.com/zeromicro/go-zero/rest/httpx"
)

type getStatusRequest struct {
	TaskID string `path:"taskId"`
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
	case appErr.StatusNotCached, appErr.JudgeRecordNotFound, appErr.ContestNotFound, appErr.PlayerNotFound:
		status = http.StatusNotFound
	case appErr.ValidationFailed, appErr.InvalidParams, appErr.InvalidRuleSet:
		status = http.StatusBadRequest
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

// GetStatusHandler resolves the freshest known status of a judge task: the
// live cache entry while it is in flight, the durable record afterwards.
func GetStatusHandler(svc *service.JudgeService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req getStatusRequest
		if err := httpx.Parse(r, &req); err != nil {
			writeError(w, r, appErr.Wrap(err, appErr.InvalidParams))
			return
		}
		status, err := svc.GetLastKnownStatus(r.Context(), req.TaskID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeOK(w, r, status)
	}
}

// RegisterStatusRoutes mounts the judge status endpoint.
func RegisterStatusRoutes(server *rest.Server, svc *service.JudgeService) {
	server.AddRoutes([]rest.Route{
		{
			Method:  http.MethodGet,
			Path:    "/api/v1/judge/status/:taskId",
			Handler: GetStatusHandler(svc),
		},
	})
}
