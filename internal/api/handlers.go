package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/touchbase/followup/internal/engine"
	"github.com/touchbase/followup/internal/pkg/httputil"
	"github.com/touchbase/followup/internal/reply"
	"github.com/touchbase/followup/internal/store"
)

// Runner runs one full engine cycle.
type Runner interface {
	Run(ctx context.Context, limit int) (*engine.RunSummary, error)
}

// Correlator records one inbound message by provider id.
type Correlator interface {
	Process(ctx context.Context, ref reply.Ref) (reply.Outcome, error)
}

// MessageStore is the slice of the store the handlers use directly.
type MessageStore interface {
	ApproveMessage(ctx context.Context, id uuid.UUID) error
	DeactivateSequence(ctx context.Context, id uuid.UUID) error
}

// Handlers holds the engine collaborators behind the HTTP surface.
type Handlers struct {
	generator  engine.Stage
	promoter   engine.Stage
	sender     engine.Stage
	runner     Runner
	correlator Correlator
	store      MessageStore
	batchLimit int
}

func NewHandlers(generator, promoter, sender engine.Stage, runner Runner, correlator Correlator, s MessageStore, batchLimit int) *Handlers {
	if batchLimit <= 0 {
		batchLimit = engine.DefaultBatchLimit
	}
	return &Handlers{
		generator:  generator,
		promoter:   promoter,
		sender:     sender,
		runner:     runner,
		correlator: correlator,
		store:      s,
		batchLimit: batchLimit,
	}
}

// HealthCheck reports liveness.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]string{"status": "ok"})
}

func (h *Handlers) limit(r *http.Request) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return h.batchLimit
}

func (h *Handlers) runStage(w http.ResponseWriter, r *http.Request, stage engine.Stage) {
	summary, err := stage.Run(r.Context(), h.limit(r))
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, summary)
}

// TriggerFollowUps runs the follow-up generation stage.
func (h *Handlers) TriggerFollowUps(w http.ResponseWriter, r *http.Request) {
	h.runStage(w, r, h.generator)
}

// TriggerApprovals runs the approval promotion stage.
func (h *Handlers) TriggerApprovals(w http.ResponseWriter, r *http.Request) {
	h.runStage(w, r, h.promoter)
}

// TriggerSends runs the send stage.
func (h *Handlers) TriggerSends(w http.ResponseWriter, r *http.Request) {
	h.runStage(w, r, h.sender)
}

// TriggerRun runs the full cycle under the run lock.
func (h *Handlers) TriggerRun(w http.ResponseWriter, r *http.Request) {
	summary, err := h.runner.Run(r.Context(), h.limit(r))
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, summary)
}

type webhookRequest struct {
	MessageID string `json:"messageId"`
}

// ReplyWebhook records one inbound message flagged by the provider's
// push notification.
func (h *Handlers) ReplyWebhook(w http.ResponseWriter, r *http.Request) {
	var req webhookRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.MessageID == "" {
		httputil.BadRequest(w, "messageId is required")
		return
	}

	outcome, err := h.correlator.Process(r.Context(), reply.Ref{ID: req.MessageID})
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]string{"outcome": string(outcome)})
}

// ApproveMessage flips the approved flag on a message awaiting approval.
func (h *Handlers) ApproveMessage(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.BadRequest(w, "invalid message id")
		return
	}

	if err := h.store.ApproveMessage(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httputil.Error(w, http.StatusNotFound, "message is not awaiting approval")
			return
		}
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]bool{"approved": true})
}

// DeactivateSequence ends a sequence and cancels its in-flight messages.
func (h *Handlers) DeactivateSequence(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.BadRequest(w, "invalid sequence id")
		return
	}

	if err := h.store.DeactivateSequence(r.Context(), id); err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]bool{"deactivated": true})
}
