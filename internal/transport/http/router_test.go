package httptransport_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"h2ledger/internal/ledger"
	ledgerstore "h2ledger/internal/ledger/store"
	"h2ledger/internal/marketplace"
	marketstore "h2ledger/internal/marketplace/store"
	mirrorstore "h2ledger/internal/mirror/store"
	"h2ledger/internal/token"
	httptransport "h2ledger/internal/transport/http"
	"h2ledger/internal/verification"
	verifstore "h2ledger/internal/verification/store"
	id "h2ledger/pkg/domain"
	"h2ledger/pkg/requestcontext"
)

type RouterSuite struct {
	suite.Suite
	router http.Handler
	tokens *token.Service

	ledger *ledger.Service

	producerOwner id.ActorID
	producerID    id.ProducerID
	verifier      id.ActorID
	buyer         id.ActorID
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}

func (s *RouterSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.tokens = token.NewService("router-test-key", "h2ledger")

	var err error
	s.ledger, err = ledger.New(ledgerstore.NewMemory(), ledger.WithLogger(logger))
	s.Require().NoError(err)
	verif, err := verification.New(verifstore.NewMemory(), s.ledger, verification.WithLogger(logger))
	s.Require().NoError(err)
	market, err := marketplace.New(marketstore.NewMemory(), s.ledger, marketplace.WithLogger(logger))
	s.Require().NoError(err)

	s.router = httptransport.NewRouter(httptransport.Deps{
		Verification: verif,
		Producers:    s.ledger,
		Ledger:       s.ledger,
		Marketplace:  market,
		Mirror:       mirrorstore.NewMemory(),
		Validator:    token.NewMiddlewareAdapter(s.tokens),
		Logger:       logger,
	})

	s.producerOwner = id.NewActorID()
	s.verifier = id.NewActorID()
	s.buyer = id.NewActorID()

	producer, err := s.ledger.RegisterProducer(s.T().Context(), s.producerOwner,
		"plant-router", ledger.SourceWind, 10_000, time.Now().UTC())
	s.Require().NoError(err)
	s.producerID = producer.ID
}

func (s *RouterSuite) bearer(actor id.ActorID, role requestcontext.Role) string {
	signed, err := s.tokens.GenerateAccessToken(actor, role, true, time.Hour)
	s.Require().NoError(err)
	return "Bearer " + signed
}

func (s *RouterSuite) do(method, path, auth string, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *RouterSuite) TestHealthAndAuth() {
	s.Run("healthz is open", func() {
		rec := s.do(http.MethodGet, "/healthz", "", nil)
		s.Equal(http.StatusOK, rec.Code)
	})

	s.Run("v1 requires a token", func() {
		rec := s.do(http.MethodGet, "/v1/balance", "", nil)
		s.Equal(http.StatusUnauthorized, rec.Code)
	})

	s.Run("garbage token rejected", func() {
		rec := s.do(http.MethodGet, "/v1/balance", "Bearer nonsense", nil)
		s.Equal(http.StatusUnauthorized, rec.Code)
	})
}

func (s *RouterSuite) TestSubmissionFlow() {
	claimedAt := time.Now().UTC().Add(-2 * time.Hour)
	submitBody := map[string]any{
		"producer_id":  s.producerID.String(),
		"amount":       700,
		"claimed_at":   claimedAt,
		"evidence_ref": "s3://evidence/router-1",
	}

	s.Run("non-owner cannot submit", func() {
		rec := s.do(http.MethodPost, "/v1/submissions",
			s.bearer(s.buyer, requestcontext.RoleProducer), submitBody)
		s.Equal(http.StatusForbidden, rec.Code)
	})

	var submissionID string
	s.Run("owner submits", func() {
		rec := s.do(http.MethodPost, "/v1/submissions",
			s.bearer(s.producerOwner, requestcontext.RoleProducer), submitBody)
		s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())

		var sub struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		}
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &sub))
		s.Equal("pending", sub.Status)
		submissionID = sub.ID
	})

	s.Run("producer role cannot resolve", func() {
		rec := s.do(http.MethodPost, fmt.Sprintf("/v1/submissions/%s/resolve", submissionID),
			s.bearer(s.producerOwner, requestcontext.RoleProducer),
			map[string]any{"accept": true})
		s.Equal(http.StatusForbidden, rec.Code)
	})

	s.Run("verifier resolves and a batch is issued", func() {
		rec := s.do(http.MethodPost, fmt.Sprintf("/v1/submissions/%s/resolve", submissionID),
			s.bearer(s.verifier, requestcontext.RoleVerifier),
			map[string]any{"accept": true, "notes": "meter data checks out"})
		s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

		var res struct {
			Submission struct {
				Status string `json:"status"`
			} `json:"submission"`
			Batch struct {
				Amount int64 `json:"amount"`
			} `json:"batch"`
		}
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &res))
		s.Equal("verified", res.Submission.Status)
		s.Equal(int64(700), res.Batch.Amount)
	})

	s.Run("owner balance reflects issuance", func() {
		rec := s.do(http.MethodGet, "/v1/balance",
			s.bearer(s.producerOwner, requestcontext.RoleProducer), nil)
		s.Require().Equal(http.StatusOK, rec.Code)

		var bal struct {
			Spendable int64 `json:"spendable"`
		}
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &bal))
		s.Equal(int64(700), bal.Spendable)
	})
}

func (s *RouterSuite) TestListingFlow() {
	// Issue credits to the owner directly so the marketplace has inventory.
	_, err := s.ledger.IssueBatch(s.T().Context(), s.producerID, 500,
		id.NewSubmissionID(), time.Now().UTC())
	s.Require().NoError(err)

	sellerAuth := s.bearer(s.producerOwner, requestcontext.RoleProducer)
	buyerAuth := s.bearer(s.buyer, requestcontext.RoleBuyer)

	var listingID string
	s.Run("create listing", func() {
		rec := s.do(http.MethodPost, "/v1/listings", sellerAuth,
			map[string]any{"amount": 300, "price_per_unit": 5})
		s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())

		var listing struct {
			ID        string `json:"id"`
			Remaining int64  `json:"remaining"`
		}
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &listing))
		s.Equal(int64(300), listing.Remaining)
		listingID = listing.ID
	})

	s.Run("seller cannot buy own listing", func() {
		rec := s.do(http.MethodPost, "/v1/listings/"+listingID+"/purchase", sellerAuth,
			map[string]any{"amount": 100})
		s.Equal(http.StatusForbidden, rec.Code)
	})

	s.Run("buyer purchases", func() {
		rec := s.do(http.MethodPost, "/v1/listings/"+listingID+"/purchase", buyerAuth,
			map[string]any{"amount": 100})
		s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

		var settlement struct {
			Amount     int64 `json:"amount"`
			TotalPrice int64 `json:"total_price"`
		}
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &settlement))
		s.Equal(int64(100), settlement.Amount)
		s.Equal(int64(500), settlement.TotalPrice)
	})

	s.Run("oversized purchase conflicts", func() {
		rec := s.do(http.MethodPost, "/v1/listings/"+listingID+"/purchase", buyerAuth,
			map[string]any{"amount": 10_000})
		s.Equal(http.StatusConflict, rec.Code)
	})

	s.Run("cancel returns remaining escrow", func() {
		rec := s.do(http.MethodPost, "/v1/listings/"+listingID+"/cancel", sellerAuth, nil)
		s.Require().Equal(http.StatusNoContent, rec.Code)
	})
}

func (s *RouterSuite) TestMirrorQueriesEmpty() {
	rec := s.do(http.MethodGet, "/v1/mirror/listings?status=active",
		s.bearer(s.buyer, requestcontext.RoleBuyer), nil)
	s.Require().Equal(http.StatusOK, rec.Code)

	var body struct {
		Items []json.RawMessage `json:"items"`
	}
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &body))
	s.Empty(body.Items)
}
