// Package handler implements the /api/v1 endpoints.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/newthinker/switchboard/internal/api/job"
	"github.com/newthinker/switchboard/internal/api/response"
	"github.com/newthinker/switchboard/internal/core"
	"github.com/newthinker/switchboard/internal/dispatch"
	"github.com/newthinker/switchboard/internal/llm"
	"go.uber.org/zap"
)

// maxBodyBytes caps a chat request body.
const maxBodyBytes = 1 << 20

// Dispatcher is the part of dispatch.Dispatcher the handlers use.
type Dispatcher interface {
	Dispatch(ctx context.Context, req llm.ChatRequest) (*dispatch.Result, error)
	Providers() []dispatch.Entry
}

// ChatRequest is the request body for both chat endpoints. Prompt is a
// shorthand for a single user message.
type ChatRequest struct {
	llm.ChatRequest
	Prompt string `json:"prompt,omitempty"`
}

func (r ChatRequest) toLLM() llm.ChatRequest {
	req := r.ChatRequest
	if len(req.Messages) == 0 && r.Prompt != "" {
		req.Messages = []llm.Message{{Role: core.RoleUser, Content: r.Prompt}}
	}
	return req
}

// ChatHandler serves synchronous and queued chat dispatches.
type ChatHandler struct {
	dispatcher Dispatcher
	jobs       *job.Pool
	logger     *zap.Logger
}

// NewChatHandler creates a chat handler. jobs may be nil, which disables
// the async endpoint.
func NewChatHandler(dispatcher Dispatcher, jobs *job.Pool, logger *zap.Logger) *ChatHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatHandler{dispatcher: dispatcher, jobs: jobs, logger: logger}
}

// Chat dispatches the request and returns the annotated response.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	req, err := decodeChat(w, r)
	if err != nil {
		response.Fail(w, err)
		return
	}

	result, err := h.dispatcher.Dispatch(r.Context(), req)
	if err != nil {
		response.Fail(w, err)
		return
	}
	response.JSON(w, http.StatusOK, result)
}

// ChatAsync validates the request, queues it and returns the job id.
func (h *ChatHandler) ChatAsync(w http.ResponseWriter, r *http.Request) {
	if h.jobs == nil {
		response.Error(w, http.StatusServiceUnavailable,
			core.WrapError(core.ErrQueueFull, fmt.Errorf("async dispatch disabled")))
		return
	}

	req, err := decodeChat(w, r)
	if err != nil {
		response.Fail(w, err)
		return
	}

	j, err := h.jobs.Submit("chat", func(ctx context.Context) (any, error) {
		result, err := h.dispatcher.Dispatch(ctx, req)
		if err != nil {
			return nil, err
		}
		return result, nil
	})
	if err != nil {
		h.logger.Warn("chat job rejected", zap.Error(err))
		response.Fail(w, err)
		return
	}

	response.JSON(w, http.StatusAccepted, map[string]any{
		"job_id": j.ID,
		"status": j.Status,
	})
}

func decodeChat(w http.ResponseWriter, r *http.Request) (llm.ChatRequest, error) {
	var body ChatRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&body); err != nil {
		return llm.ChatRequest{}, core.WrapError(core.ErrInvalidRequest, fmt.Errorf("decoding body: %w", err))
	}
	req := body.toLLM()
	if err := req.Validate(); err != nil {
		return llm.ChatRequest{}, err
	}
	return req, nil
}
