package httptransport

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	mirrorstore "h2ledger/internal/mirror/store"
	id "h2ledger/pkg/domain"
	"h2ledger/pkg/platform/httputil"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// QueryHandler serves the read-only mirror projection: the view external
// collaborators query for submissions, batches, listings, and settlements.
type QueryHandler struct {
	mirror mirrorstore.Store
}

func NewQueryHandler(mirror mirrorstore.Store) *QueryHandler {
	return &QueryHandler{mirror: mirror}
}

func (h *QueryHandler) Register(r chi.Router) {
	r.Get("/mirror/submissions", h.handleSubmissions)
	r.Get("/mirror/batches", h.handleBatches)
	r.Get("/mirror/batches/{batchID}/transfers", h.handleTransfers)
	r.Get("/mirror/listings", h.handleListings)
	r.Get("/mirror/settlements", h.handleSettlements)
}

func (h *QueryHandler) handleSubmissions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := mirrorstore.SubmissionFilter{Status: q.Get("status")}
	if raw := q.Get("producer"); raw != "" {
		producerID, err := id.ParseProducerID(raw)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		filter.Producer = producerID
	}
	limit, offset := page(r)
	subs, err := h.mirror.ListSubmissions(r.Context(), filter, limit, offset)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, listBody{Items: subs, Limit: limit, Offset: offset})
}

func (h *QueryHandler) handleBatches(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter mirrorstore.BatchFilter
	if raw := q.Get("producer"); raw != "" {
		producerID, err := id.ParseProducerID(raw)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		filter.Producer = producerID
	}
	if raw := q.Get("holder"); raw != "" {
		holder, err := id.ParseActorID(raw)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		filter.Holder = holder
	}
	if raw := q.Get("retired"); raw != "" {
		retired := raw == "true"
		filter.Retired = &retired
	}
	limit, offset := page(r)
	batches, err := h.mirror.ListBatches(r.Context(), filter, limit, offset)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, listBody{Items: batches, Limit: limit, Offset: offset})
}

func (h *QueryHandler) handleTransfers(w http.ResponseWriter, r *http.Request) {
	batchID, err := id.ParseBatchID(chi.URLParam(r, "batchID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	transfers, err := h.mirror.ListTransfers(r.Context(), batchID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, listBody{Items: transfers})
}

func (h *QueryHandler) handleListings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := mirrorstore.ListingFilter{Status: q.Get("status")}
	if raw := q.Get("seller"); raw != "" {
		seller, err := id.ParseActorID(raw)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		filter.Seller = seller
	}
	limit, offset := page(r)
	listings, err := h.mirror.ListListings(r.Context(), filter, limit, offset)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, listBody{Items: listings, Limit: limit, Offset: offset})
}

func (h *QueryHandler) handleSettlements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter mirrorstore.SettlementFilter
	if raw := q.Get("listing"); raw != "" {
		listingID, err := id.ParseListingID(raw)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		filter.Listing = listingID
	}
	if raw := q.Get("buyer"); raw != "" {
		buyer, err := id.ParseActorID(raw)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		filter.Buyer = buyer
	}
	if raw := q.Get("seller"); raw != "" {
		seller, err := id.ParseActorID(raw)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		filter.Seller = seller
	}
	limit, offset := page(r)
	recs, err := h.mirror.ListSettlements(r.Context(), filter, limit, offset)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, listBody{Items: recs, Limit: limit, Offset: offset})
}

type listBody struct {
	Items  any `json:"items"`
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

func page(r *http.Request) (limit, offset int) {
	limit = defaultPageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = min(n, maxPageSize)
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			offset = n
		}
	}
	return limit, offset
}
