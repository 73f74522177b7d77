package httptransport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"h2ledger/internal/ledger"
	"h2ledger/internal/platform/middleware"
	"h2ledger/internal/verification"
	id "h2ledger/pkg/domain"
	dErrors "h2ledger/pkg/domain-errors"
	"h2ledger/pkg/platform/httputil"
	"h2ledger/pkg/requestcontext"
)

// VerificationService defines the submission operations the transport needs.
type VerificationService interface {
	Submit(ctx context.Context, producerID id.ProducerID, amount int64, claimedAt time.Time, evidenceRef string, now time.Time) (*verification.Submission, error)
	Resolve(ctx context.Context, submissionID id.SubmissionID, verifier id.ActorID, verifierActive bool, accept bool, notes string, now time.Time) (*verification.Resolution, error)
	Submission(ctx context.Context, submissionID id.SubmissionID) (*verification.Submission, error)
}

// ProducerReader resolves producer ownership for submission authorization.
type ProducerReader interface {
	Producer(ctx context.Context, producerID id.ProducerID) (*ledger.Producer, error)
}

// VerificationHandler handles submission endpoints.
type VerificationHandler struct {
	verification VerificationService
	producers    ProducerReader
	logger       *slog.Logger
}

func NewVerificationHandler(svc VerificationService, producers ProducerReader, logger *slog.Logger) *VerificationHandler {
	return &VerificationHandler{verification: svc, producers: producers, logger: logger}
}

func (h *VerificationHandler) Register(r chi.Router) {
	r.Post("/submissions", h.handleSubmit)
	r.Get("/submissions/{submissionID}", h.handleGet)
	r.With(middleware.RequireRole(requestcontext.RoleVerifier)).
		Post("/submissions/{submissionID}/resolve", h.handleResolve)
}

type submitRequest struct {
	ProducerID  string    `json:"producer_id"`
	Amount      int64     `json:"amount"`
	ClaimedAt   time.Time `json:"claimed_at"`
	EvidenceRef string    `json:"evidence_ref"`
}

func (h *VerificationHandler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "invalid submit request",
			"request_id", requestcontext.RequestID(ctx), "error", err)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}

	producerID, err := id.ParseProducerID(req.ProducerID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	// Only the plant's registered owner may submit claims for it.
	producer, err := h.producers.Producer(ctx, producerID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if producer.Owner != requestcontext.ActorID(ctx) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "caller does not own this producer"))
		return
	}
	if !requestcontext.ActorActive(ctx) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "actor is not active"))
		return
	}

	sub, err := h.verification.Submit(ctx, producerID, req.Amount, req.ClaimedAt, req.EvidenceRef, requestcontext.Now(ctx))
	if err != nil {
		h.logger.WarnContext(ctx, "submission rejected",
			"request_id", requestcontext.RequestID(ctx), "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, sub)
}

type resolveRequest struct {
	Accept bool   `json:"accept"`
	Notes  string `json:"notes"`
}

type resolveResponse struct {
	Submission *verification.Submission `json:"submission"`
	Batch      *ledger.CreditBatch      `json:"batch,omitempty"`
}

func (h *VerificationHandler) handleResolve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	submissionID, err := id.ParseSubmissionID(chi.URLParam(r, "submissionID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}

	res, err := h.verification.Resolve(ctx, submissionID,
		requestcontext.ActorID(ctx), requestcontext.ActorActive(ctx),
		req.Accept, req.Notes, requestcontext.Now(ctx))
	if err != nil {
		h.logger.WarnContext(ctx, "resolution rejected",
			"request_id", requestcontext.RequestID(ctx),
			"submission_id", submissionID.String(), "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resolveResponse{Submission: res.Submission, Batch: res.Batch})
}

func (h *VerificationHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	submissionID, err := id.ParseSubmissionID(chi.URLParam(r, "submissionID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	sub, err := h.verification.Submission(r.Context(), submissionID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sub)
}
