package httptransport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"h2ledger/internal/ledger"
	id "h2ledger/pkg/domain"
	dErrors "h2ledger/pkg/domain-errors"
	"h2ledger/pkg/platform/httputil"
	"h2ledger/pkg/requestcontext"
)

// LedgerService defines the ledger operations the transport needs.
type LedgerService interface {
	RegisterProducer(ctx context.Context, owner id.ActorID, plantID string, source ledger.SourceCategory, monthlyLimit int64, now time.Time) (*ledger.Producer, error)
	Producer(ctx context.Context, producerID id.ProducerID) (*ledger.Producer, error)
	Retire(ctx context.Context, holder id.ActorID, batchIDs []id.BatchID, reason string, now time.Time) (*ledger.RetirementRecord, error)
	Transfer(ctx context.Context, batchID id.BatchID, from, to id.ActorID, now time.Time) error
	Balance(ctx context.Context, actor id.ActorID) (*ledger.Balance, error)
}

// LedgerHandler handles producer, batch, and balance endpoints.
type LedgerHandler struct {
	ledger LedgerService
	logger *slog.Logger
}

func NewLedgerHandler(svc LedgerService, logger *slog.Logger) *LedgerHandler {
	return &LedgerHandler{ledger: svc, logger: logger}
}

func (h *LedgerHandler) Register(r chi.Router) {
	r.Post("/producers", h.handleRegisterProducer)
	r.Get("/producers/{producerID}", h.handleGetProducer)
	r.Get("/balance", h.handleBalance)
	r.Post("/batches/retire", h.handleRetire)
	r.Post("/batches/{batchID}/transfer", h.handleTransfer)
}

type registerProducerRequest struct {
	PlantID      string `json:"plant_id"`
	Source       string `json:"source"`
	MonthlyLimit int64  `json:"monthly_limit"`
}

func (h *LedgerHandler) handleRegisterProducer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req registerProducerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}

	producer, err := h.ledger.RegisterProducer(ctx, requestcontext.ActorID(ctx),
		req.PlantID, ledger.SourceCategory(req.Source), req.MonthlyLimit, requestcontext.Now(ctx))
	if err != nil {
		h.logger.WarnContext(ctx, "producer registration rejected",
			"request_id", requestcontext.RequestID(ctx), "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, producer)
}

func (h *LedgerHandler) handleGetProducer(w http.ResponseWriter, r *http.Request) {
	producerID, err := id.ParseProducerID(chi.URLParam(r, "producerID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	producer, err := h.ledger.Producer(r.Context(), producerID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, producer)
}

func (h *LedgerHandler) handleBalance(w http.ResponseWriter, r *http.Request) {
	bal, err := h.ledger.Balance(r.Context(), requestcontext.ActorID(r.Context()))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, bal)
}

type retireRequest struct {
	BatchIDs []string `json:"batch_ids"`
	Reason   string   `json:"reason"`
}

func (h *LedgerHandler) handleRetire(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req retireRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}

	batchIDs := make([]id.BatchID, 0, len(req.BatchIDs))
	for _, raw := range req.BatchIDs {
		batchID, err := id.ParseBatchID(raw)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		batchIDs = append(batchIDs, batchID)
	}

	record, err := h.ledger.Retire(ctx, requestcontext.ActorID(ctx), batchIDs, req.Reason, requestcontext.Now(ctx))
	if err != nil {
		h.logger.WarnContext(ctx, "retirement rejected",
			"request_id", requestcontext.RequestID(ctx), "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, record)
}

type transferRequest struct {
	To string `json:"to"`
}

func (h *LedgerHandler) handleTransfer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	batchID, err := id.ParseBatchID(chi.URLParam(r, "batchID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}
	to, err := id.ParseActorID(req.To)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	if err := h.ledger.Transfer(ctx, batchID, requestcontext.ActorID(ctx), to, requestcontext.Now(ctx)); err != nil {
		h.logger.WarnContext(ctx, "transfer rejected",
			"request_id", requestcontext.RequestID(ctx), "error", err)
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
