package main

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cloudx-io/batchclearing/attestation"
	"github.com/cloudx-io/batchclearing/clearingapi"
	"github.com/cloudx-io/batchclearing/core"
	"github.com/cloudx-io/batchclearing/facade"
	"github.com/cloudx-io/batchclearing/ledger"
)

const requestTimeout = 30 * time.Second

// ClearingServer serves the auction query API.
type ClearingServer struct {
	service    *facade.Service
	signer     *attestation.Signer
	maxWorkers int
	gatherer   prometheus.Gatherer
}

func NewClearingServer(service *facade.Service, signer *attestation.Signer, maxWorkers int, gatherer prometheus.Gatherer) *ClearingServer {
	return &ClearingServer{
		service:    service,
		signer:     signer,
		maxWorkers: maxWorkers,
		gatherer:   gatherer,
	}
}

// Routes builds the HTTP router. Query endpoints share a pool of maxWorkers
// slots; requests beyond it wait for a slot and are rejected on timeout.
func (s *ClearingServer) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(chimw.Throttle(s.maxWorkers))
		r.Use(chimw.Timeout(requestTimeout))

		r.Get("/auctions", s.handleListAuctions)
		r.Get("/auctions/{id}/clearing", s.handleClearing)
		r.Post("/auctions/{id}/refresh", s.handleRefresh)
		r.Get("/auctions/{id}/attestation", s.handleAttestation)
		r.Get("/attestation/key", s.handleKey)
	})
	return r
}

func (s *ClearingServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"type":     "health_response",
		"status":   "ok",
		"auctions": len(s.service.Auctions()),
	})
}

func (s *ClearingServer) handleListAuctions(w http.ResponseWriter, r *http.Request) {
	now := s.service.Now()
	stateParam := r.URL.Query().Get("state")

	var auctions []core.Auction
	if stateParam == "" {
		auctions = s.service.Auctions()
	} else {
		state, err := core.ParseAuctionState(stateParam)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_state", err)
			return
		}
		auctions = s.service.ListByState(state, now)
	}

	views := make([]clearingapi.AuctionView, 0, len(auctions))
	for _, a := range auctions {
		views = append(views, clearingapi.NewAuctionView(a, now))
	}
	writeJSON(w, http.StatusOK, clearingapi.AuctionListResponse{
		Type:     "auction_list_response",
		State:    stateParam,
		Auctions: views,
	})
}

func (s *ClearingServer) handleClearing(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	auctionID := chi.URLParam(r, "id")

	clearing, err := s.service.ClearingFor(r.Context(), auctionID)
	if err != nil {
		writeServiceError(w, auctionID, err)
		return
	}

	result := clearing.Run.Result
	writeJSON(w, http.StatusOK, clearingapi.ClearingResponse{
		Type:                "clearing_response",
		AuctionID:           auctionID,
		State:               clearing.State,
		LedgerUpdatedAt:     clearing.LastUpdated,
		BidCount:            len(clearing.Bids),
		Result:              result,
		PricePerToken:       result.PricePerToken(),
		FloorRejectedBidIDs: clearing.Run.FloorRejectedBidIDs,
		ProcessingTime:      time.Since(start).Milliseconds(),
	})
}

func (s *ClearingServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	auctionID := chi.URLParam(r, "id")

	entry, err := s.service.Refresh(r.Context(), auctionID)
	if err != nil {
		writeServiceError(w, auctionID, err)
		return
	}

	writeJSON(w, http.StatusOK, clearingapi.RefreshResponse{
		Type:        "refresh_response",
		AuctionID:   auctionID,
		LastUpdated: entry.LastUpdated,
		BidCount:    len(entry.Bids),
		Bids:        clearingapi.NewBidViews(entry.Bids),
	})
}

func (s *ClearingServer) handleAttestation(w http.ResponseWriter, r *http.Request) {
	auctionID := chi.URLParam(r, "id")

	clearing, err := s.service.ClearingFor(r.Context(), auctionID)
	if err != nil {
		writeServiceError(w, auctionID, err)
		return
	}

	coseBytes, doc, err := s.signer.Sign(clearing.Auction, clearing.Bids, clearing.LastUpdated, clearing.Run)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "attestation_failed", err)
		return
	}

	compressed, err := coseBytes.CompressGzip()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "attestation_failed", err)
		return
	}

	writeJSON(w, http.StatusOK, clearingapi.AttestationResponse{
		Type:                  "attestation_response",
		AttestationCOSEBase64: coseBytes.EncodeBase64(),
		AttestationCOSEGzip:   compressed,
		Attestation:           doc,
	})
}

func (s *ClearingServer) handleKey(w http.ResponseWriter, r *http.Request) {
	publicKeyPEM, err := s.signer.PublicKeyPEM()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "key_unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, clearingapi.KeyResponse{
		Type:         "key_response",
		KeyAlgorithm: attestation.KeyAlgorithm,
		PublicKey:    publicKeyPEM,
	})
}

// writeServiceError maps facade errors to HTTP statuses.
func writeServiceError(w http.ResponseWriter, auctionID string, err error) {
	switch {
	case errors.Is(err, facade.ErrAuctionNotFound):
		writeError(w, http.StatusNotFound, "auction_not_found", err)
	case errors.Is(err, ledger.ErrFetch):
		log.Printf("WARNING: Bid fetch for auction %s failed: %v", auctionID, err)
		writeError(w, http.StatusBadGateway, "bid_fetch_failed", err)
	case errors.Is(err, core.ErrInvalidSupply):
		writeError(w, http.StatusUnprocessableEntity, "invalid_auction", err)
	default:
		log.Printf("ERROR: Request for auction %s failed: %v", auctionID, err)
		writeError(w, http.StatusInternalServerError, "internal_error", err)
	}
}

func writeError(w http.ResponseWriter, status int, errType string, err error) {
	writeJSON(w, status, clearingapi.ErrorResponse{
		Type:    "error",
		Error:   errType,
		Message: err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("ERROR: Failed to write response: %v", err)
	}
}
