package handler

import (
	"net/http"

	"github.com/newthinker/switchboard/internal/api/job"
	"github.com/newthinker/switchboard/internal/api/response"
)

// JobHandler reports async job state.
type JobHandler struct {
	store *job.Store
}

func NewJobHandler(store *job.Store) *JobHandler {
	return &JobHandler{store: store}
}

// Get returns the status of a job, with its result or error once done.
func (h *JobHandler) Get(w http.ResponseWriter, r *http.Request) {
	j, err := h.store.Get(r.PathValue("id"))
	if err != nil {
		response.Fail(w, err)
		return
	}

	resp := map[string]any{
		"job_id":     j.ID,
		"type":       j.Type,
		"status":     j.Status,
		"progress":   j.Progress,
		"created_at": j.CreatedAt,
		"updated_at": j.UpdatedAt,
	}
	if j.Status == job.StatusComplete {
		resp["result"] = j.Result
	}
	if j.Status == job.StatusFailed && j.Error != nil {
		detail := map[string]string{
			"code":    j.Error.Code,
			"message": j.Error.Message,
		}
		if j.Error.Cause != nil {
			detail["cause"] = j.Error.Cause.Error()
		}
		resp["error"] = detail
	}

	response.JSON(w, http.StatusOK, resp)
}
