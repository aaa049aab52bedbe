package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"followup/internal/candidate/models"
	"followup/internal/candidate/service"
	id "followup/pkg/domain"
	dErrors "followup/pkg/domain-errors"
	"followup/pkg/platform/httputil"
	"followup/pkg/platform/middleware"
	"followup/pkg/requestcontext"
)

// Service is the candidate command surface used by the handler.
type Service interface {
	Create(ctx context.Context, personIdentifier string, source models.Source, opts ...models.Option) (*models.Candidate, error)
	Get(ctx context.Context, candidateID id.CandidateID) (*models.Candidate, error)
	RecordAnswer(ctx context.Context, candidateID id.CandidateID, answeredAt time.Time, wants id.WantsFollowUp) (*models.Candidate, error)
	Assess(ctx context.Context, cmd service.AssessCommand) (*models.Candidate, error)
}

// Handler serves the caseworker candidate endpoints.
type Handler struct {
	candidates Service
	logger     *slog.Logger
}

func New(candidates Service, logger *slog.Logger) *Handler {
	return &Handler{candidates: candidates, logger: logger}
}

// Register mounts the candidate routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Route("/candidates", func(cr chi.Router) {
		cr.Use(middleware.Caseworker)
		cr.Post("/", h.handleCreate)
		cr.Get("/{id}", h.handleGet)
		cr.Post("/{id}/answer", h.handleAnswer)
		cr.Post("/{id}/assessment", h.handleAssess)
	})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badBody(ctx, w, err)
		return
	}
	c, err := h.candidates.Create(ctx, req.PersonIdentifier, models.SourceCaseworker)
	if err != nil {
		h.writeError(ctx, w, "create candidate", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toResponse(c))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	candidateID, err := id.ParseCandidateID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	c, err := h.candidates.Get(ctx, candidateID)
	if err != nil {
		h.writeError(ctx, w, "get candidate", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(c))
}

func (h *Handler) handleAnswer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	candidateID, err := id.ParseCandidateID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badBody(ctx, w, err)
		return
	}
	wants, err := id.ParseWantsFollowUp(req.WantsFollowUp)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	answeredAt := requestcontext.Now(ctx)
	if req.AnsweredAt != nil {
		answeredAt = *req.AnsweredAt
	}
	c, err := h.candidates.RecordAnswer(ctx, candidateID, answeredAt, wants)
	if err != nil {
		h.writeError(ctx, w, "record answer", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(c))
}

func (h *Handler) handleAssess(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	candidateID, err := id.ParseCandidateID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	caseworker := requestcontext.Caseworker(ctx)
	if caseworker == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "missing "+middleware.CaseworkerHeader+" header"))
		return
	}
	var req assessmentRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.badBody(ctx, w, err)
			return
		}
	}
	c, err := h.candidates.Assess(ctx, service.AssessCommand{
		CandidateID:  candidateID,
		CaseworkerID: caseworker,
		Rationale:    req.Rationale,
	})
	if err != nil {
		h.writeError(ctx, w, "assess candidate", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(c))
}

func (h *Handler) badBody(ctx context.Context, w http.ResponseWriter, err error) {
	h.logger.WarnContext(ctx, "invalid request body",
		"request_id", requestcontext.RequestID(ctx),
		"error", err.Error(),
	)
	httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, op string, err error) {
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, "failed to "+op,
			"request_id", requestcontext.RequestID(ctx),
			"error", err.Error(),
		)
	} else {
		h.logger.WarnContext(ctx, "rejected "+op,
			"request_id", requestcontext.RequestID(ctx),
			"error", err.Error(),
		)
	}
	httputil.WriteError(w, err)
}
