package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"complyd/internal/validation/models"
	dErrors "complyd/pkg/domain-errors"
	id "complyd/pkg/domain"
	audit "complyd/pkg/platform/audit"
	"complyd/pkg/platform/httputil"
	"complyd/pkg/requestcontext"
)

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service

// Service is the orchestrator surface the HTTP API needs.
type Service interface {
	Submit(ctx context.Context, req models.SubmitRequest) (id.RunID, error)
	Status(ctx context.Context, runID id.RunID) (models.State, error)
	Result(ctx context.Context, runID id.RunID) (models.Result, error)
	Cancel(ctx context.Context, runID id.RunID) (models.State, error)
	AuditTrail(ctx context.Context, runID id.RunID) ([]audit.Event, error)
}

// Handler serves the /validations API.
type Handler struct {
	svc    Service
	logger *slog.Logger
}

func New(svc Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Register mounts the validation routes on r. submit wraps only run creation.
func (h *Handler) Register(r chi.Router, submit ...func(http.Handler) http.Handler) {
	r.Route("/validations", func(r chi.Router) {
		r.With(submit...).Post("/", h.HandleSubmit)
		r.Route("/{runID}", func(r chi.Router) {
			r.Get("/status", h.HandleStatus)
			r.Get("/result", h.HandleResult)
			r.Post("/cancel", h.HandleCancel)
			r.Get("/audit", h.HandleAudit)
		})
	})
}

// HandleSubmit starts a validation run and answers before it finishes.
func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[SubmitRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	runID, err := h.svc.Submit(ctx, models.SubmitRequest{
		EvidenceRef:       req.EvidenceRef,
		ExplicitPolicyIDs: req.ExplicitPolicyIDs,
	})
	if err != nil {
		h.fail(ctx, w, "submit validation", requestID, err)
		return
	}

	httputil.WriteJSON(w, http.StatusAccepted, runStateResponse{
		RunID: runID.String(),
		State: models.StateCreated,
	})
}

func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	runID, ok := h.runID(w, r)
	if !ok {
		return
	}
	state, err := h.svc.Status(ctx, runID)
	if err != nil {
		h.fail(ctx, w, "get status", requestcontext.RequestID(ctx), err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, runStateResponse{RunID: runID.String(), State: state})
}

// HandleResult answers 202 while the run is in progress and 200 once it is
// terminal, whatever the outcome.
func (h *Handler) HandleResult(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	runID, ok := h.runID(w, r)
	if !ok {
		return
	}
	res, err := h.svc.Result(ctx, runID)
	if err != nil {
		h.fail(ctx, w, "get result", requestcontext.RequestID(ctx), err)
		return
	}
	status := http.StatusOK
	if res.Pending() {
		status = http.StatusAccepted
	}
	httputil.WriteJSON(w, status, toResultResponse(res))
}

func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	runID, ok := h.runID(w, r)
	if !ok {
		return
	}
	state, err := h.svc.Cancel(ctx, runID)
	if err != nil {
		h.fail(ctx, w, "cancel validation", requestcontext.RequestID(ctx), err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, runStateResponse{RunID: runID.String(), State: state})
}

func (h *Handler) HandleAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	runID, ok := h.runID(w, r)
	if !ok {
		return
	}
	events, err := h.svc.AuditTrail(ctx, runID)
	if err != nil {
		h.fail(ctx, w, "get audit trail", requestcontext.RequestID(ctx), err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toAuditTrailResponse(runID.String(), events))
}

func (h *Handler) runID(w http.ResponseWriter, r *http.Request) (id.RunID, bool) {
	runID, err := id.ParseRunID(chi.URLParam(r, "runID"))
	if err != nil {
		httputil.WriteError(w, err)
		return id.RunID{}, false
	}
	return runID, true
}

// fail logs client errors at warn and everything else at error, then writes
// the error envelope.
func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, op, requestID string, err error) {
	switch dErrors.CodeOf(err) {
	case dErrors.CodeBadRequest, dErrors.CodeValidation, dErrors.CodeNotFound:
		h.logger.WarnContext(ctx, op+" rejected",
			"request_id", requestID,
			"error", err,
		)
	default:
		h.logger.ErrorContext(ctx, op+" failed",
			"request_id", requestID,
			"error", err,
		)
	}
	httputil.WriteError(w, err)
}
