package httptransport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"h2ledger/internal/marketplace"
	id "h2ledger/pkg/domain"
	dErrors "h2ledger/pkg/domain-errors"
	"h2ledger/pkg/platform/httputil"
	"h2ledger/pkg/requestcontext"
)

// MarketplaceService defines the listing operations the transport needs.
type MarketplaceService interface {
	CreateListing(ctx context.Context, seller id.ActorID, amount, pricePerUnit int64, now time.Time) (*marketplace.Listing, error)
	Purchase(ctx context.Context, listingID id.ListingID, buyer id.ActorID, amount int64, now time.Time) (*marketplace.Settlement, error)
	CancelListing(ctx context.Context, listingID id.ListingID, seller id.ActorID, now time.Time) error
	UpdatePrice(ctx context.Context, listingID id.ListingID, seller id.ActorID, newPrice int64, now time.Time) error
	Listing(ctx context.Context, listingID id.ListingID) (*marketplace.Listing, error)
}

// MarketplaceHandler handles listing and purchase endpoints.
type MarketplaceHandler struct {
	market MarketplaceService
	logger *slog.Logger
}

func NewMarketplaceHandler(svc MarketplaceService, logger *slog.Logger) *MarketplaceHandler {
	return &MarketplaceHandler{market: svc, logger: logger}
}

func (h *MarketplaceHandler) Register(r chi.Router) {
	r.Post("/listings", h.handleCreate)
	r.Get("/listings/{listingID}", h.handleGet)
	r.Post("/listings/{listingID}/purchase", h.handlePurchase)
	r.Post("/listings/{listingID}/cancel", h.handleCancel)
	r.Post("/listings/{listingID}/price", h.handlePrice)
}

type createListingRequest struct {
	Amount       int64 `json:"amount"`
	PricePerUnit int64 `json:"price_per_unit"`
}

func (h *MarketplaceHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req createListingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}

	listing, err := h.market.CreateListing(ctx, requestcontext.ActorID(ctx),
		req.Amount, req.PricePerUnit, requestcontext.Now(ctx))
	if err != nil {
		h.logger.WarnContext(ctx, "listing rejected",
			"request_id", requestcontext.RequestID(ctx), "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, listing)
}

func (h *MarketplaceHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	listingID, err := id.ParseListingID(chi.URLParam(r, "listingID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	listing, err := h.market.Listing(r.Context(), listingID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, listing)
}

type purchaseRequest struct {
	Amount int64 `json:"amount"`
}

func (h *MarketplaceHandler) handlePurchase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	listingID, err := id.ParseListingID(chi.URLParam(r, "listingID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var req purchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}

	settlement, err := h.market.Purchase(ctx, listingID, requestcontext.ActorID(ctx),
		req.Amount, requestcontext.Now(ctx))
	if err != nil {
		h.logger.WarnContext(ctx, "purchase rejected",
			"request_id", requestcontext.RequestID(ctx),
			"listing_id", listingID.String(), "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, settlement)
}

func (h *MarketplaceHandler) handleCancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	listingID, err := id.ParseListingID(chi.URLParam(r, "listingID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.market.CancelListing(ctx, listingID, requestcontext.ActorID(ctx), requestcontext.Now(ctx)); err != nil {
		h.logger.WarnContext(ctx, "cancel rejected",
			"request_id", requestcontext.RequestID(ctx),
			"listing_id", listingID.String(), "error", err)
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type priceRequest struct {
	PricePerUnit int64 `json:"price_per_unit"`
}

func (h *MarketplaceHandler) handlePrice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	listingID, err := id.ParseListingID(chi.URLParam(r, "listingID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var req priceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}

	if err := h.market.UpdatePrice(ctx, listingID, requestcontext.ActorID(ctx),
		req.PricePerUnit, requestcontext.Now(ctx)); err != nil {
		h.logger.WarnContext(ctx, "price update rejected",
			"request_id", requestcontext.RequestID(ctx),
			"listing_id", listingID.String(), "error", err)
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
