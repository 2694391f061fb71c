// Package api provides the HTTP handlers for basket administration,
// portfolio operations and read-side queries, plus the WebSocket feed of
// committed operations.
//
// All monetary values use shopspring/decimal and travel as JSON strings.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/euclidfi/basket-engine/internal/engine"
	"github.com/euclidfi/basket-engine/internal/model"
)

// CallerHeader carries the authenticated caller address. Authentication
// happens upstream; the engine trusts this value.
const CallerHeader = "X-Caller"

// Service adapts HTTP requests to engine operations.
type Service struct {
	engine *engine.Engine
	hub    *WSHub // optional
}

// NewService creates a new API service. Pass nil for hub if the WebSocket
// feed is not needed.
func NewService(eng *engine.Engine, hub *WSHub) *Service {
	return &Service{engine: eng, hub: hub}
}

// Routes registers every endpoint on r. Mount it under /api/v1.
func (s *Service) Routes(r chi.Router) {
	if s.hub != nil {
		r.Get("/ws", s.hub.HandleWS)
	}

	r.Get("/config", s.GetConfig)
	r.Put("/config", s.UpdateConfig)

	r.Get("/baskets", s.ListBaskets)
	r.Post("/baskets", s.CreateBasket)
	r.Get("/baskets/{name}", s.GetBasket)
	r.Put("/baskets/{name}", s.UpdateBasket)

	r.Post("/invest", s.Invest)
	r.Post("/withdraw", s.Withdraw)
	r.Post("/rewards/claim", s.ClaimRewards)
	r.Post("/auto-compound", s.SetAutoCompound)
	r.Post("/rebalance", s.Rebalance)

	r.Get("/portfolios/{address}", s.GetPortfolio)
	r.Get("/portfolios/{address}/history", s.GetHistory)
	r.Get("/portfolios/{address}/performance", s.GetPerformance)
	r.Get("/portfolios/{address}/rewards", s.GetRewards)

	r.Get("/prices", s.ListPrices)
	r.Put("/prices/{symbol}", s.SetPrice)
}

// --- Request types ---

// UpdateBasketRequest is the JSON body for PUT /baskets/{name}.
type UpdateBasketRequest struct {
	Tokens        []model.TokenWeight `json:"tokens"`
	MinInvestment *decimal.Decimal    `json:"min_investment,omitempty"`
	Active        bool                `json:"active"`
}

// SetPriceRequest is the JSON body for PUT /prices/{symbol}.
type SetPriceRequest struct {
	Price decimal.Decimal `json:"price"`
}

// --- Operations ---

// CreateBasket handles POST /api/v1/baskets
func (s *Service) CreateBasket(w http.ResponseWriter, r *http.Request) {
	var op engine.CreateBasket
	if !decode(w, r, &op) {
		return
	}
	s.execute(w, r, op, http.StatusCreated)
}

// UpdateBasket handles PUT /api/v1/baskets/{name}
func (s *Service) UpdateBasket(w http.ResponseWriter, r *http.Request) {
	var req UpdateBasketRequest
	if !decode(w, r, &req) {
		return
	}
	s.execute(w, r, engine.UpdateBasket{
		Name:          chi.URLParam(r, "name"),
		Tokens:        req.Tokens,
		MinInvestment: req.MinInvestment,
		Active:        req.Active,
	}, http.StatusOK)
}

// Invest handles POST /api/v1/invest
func (s *Service) Invest(w http.ResponseWriter, r *http.Request) {
	var op engine.Invest
	if !decode(w, r, &op) {
		return
	}
	s.execute(w, r, op, http.StatusOK)
}

// Withdraw handles POST /api/v1/withdraw
func (s *Service) Withdraw(w http.ResponseWriter, r *http.Request) {
	var op engine.Withdraw
	if !decode(w, r, &op) {
		return
	}
	s.execute(w, r, op, http.StatusOK)
}

// ClaimRewards handles POST /api/v1/rewards/claim
func (s *Service) ClaimRewards(w http.ResponseWriter, r *http.Request) {
	s.execute(w, r, engine.ClaimRewards{}, http.StatusOK)
}

// SetAutoCompound handles POST /api/v1/auto-compound
func (s *Service) SetAutoCompound(w http.ResponseWriter, r *http.Request) {
	var op engine.SetAutoCompound
	if !decode(w, r, &op) {
		return
	}
	s.execute(w, r, op, http.StatusOK)
}

// Rebalance handles POST /api/v1/rebalance
func (s *Service) Rebalance(w http.ResponseWriter, r *http.Request) {
	var op engine.Rebalance
	if !decode(w, r, &op) {
		return
	}
	s.execute(w, r, op, http.StatusOK)
}

// UpdateConfig handles PUT /api/v1/config
func (s *Service) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var op engine.UpdateConfig
	if !decode(w, r, &op) {
		return
	}
	s.execute(w, r, op, http.StatusOK)
}

// SetPrice handles PUT /api/v1/prices/{symbol}. Only the configured price
// feeder identity is accepted.
func (s *Service) SetPrice(w http.ResponseWriter, r *http.Request) {
	var req SetPriceRequest
	if !decode(w, r, &req) {
		return
	}
	s.execute(w, r, engine.SetPrice{Symbol: chi.URLParam(r, "symbol"), Price: req.Price}, http.StatusOK)
}

// --- Queries ---

// GetConfig handles GET /api/v1/config
func (s *Service) GetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.engine.GetConfig(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// ListBaskets handles GET /api/v1/baskets
// Returns every basket; ?active=true keeps only open ones.
func (s *Service) ListBaskets(w http.ResponseWriter, r *http.Request) {
	baskets, err := s.engine.ListBaskets(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if r.URL.Query().Get("active") == "true" {
		filtered := make([]model.BasketConfig, 0, len(baskets))
		for _, b := range baskets {
			if b.Active {
				filtered = append(filtered, b)
			}
		}
		baskets = filtered
	}
	writeJSON(w, http.StatusOK, baskets)
}

// GetBasket handles GET /api/v1/baskets/{name}
func (s *Service) GetBasket(w http.ResponseWriter, r *http.Request) {
	b, err := s.engine.GetBasket(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// GetPortfolio handles GET /api/v1/portfolios/{address}
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	p, err := s.engine.GetPortfolio(r.Context(), chi.URLParam(r, "address"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GetHistory handles GET /api/v1/portfolios/{address}/history?from=&to=
// Bounds are inclusive unix seconds; either may be omitted.
func (s *Service) GetHistory(w http.ResponseWriter, r *http.Request) {
	from, err := unixParam(r, "from")
	if err != nil {
		writeError(w, "from must be unix seconds", http.StatusBadRequest)
		return
	}
	to, err := unixParam(r, "to")
	if err != nil {
		writeError(w, "to must be unix seconds", http.StatusBadRequest)
		return
	}
	entries, err := s.engine.GetInvestmentHistory(r.Context(), chi.URLParam(r, "address"), from, to)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// GetPerformance handles GET /api/v1/portfolios/{address}/performance?basket=
func (s *Service) GetPerformance(w http.ResponseWriter, r *http.Request) {
	m, err := s.engine.GetPerformanceMetrics(r.Context(), chi.URLParam(r, "address"), r.URL.Query().Get("basket"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// GetRewards handles GET /api/v1/portfolios/{address}/rewards
func (s *Service) GetRewards(w http.ResponseWriter, r *http.Request) {
	view, err := s.engine.GetRewards(r.Context(), chi.URLParam(r, "address"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// ListPrices handles GET /api/v1/prices
func (s *Service) ListPrices(w http.ResponseWriter, r *http.Request) {
	prices, err := s.engine.ListPrices(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prices)
}

// --- helpers ---

func (s *Service) execute(w http.ResponseWriter, r *http.Request, op engine.Op, status int) {
	caller := r.Header.Get(CallerHeader)
	if caller == "" {
		writeError(w, CallerHeader+" header is required", http.StatusUnauthorized)
		return
	}
	res, err := s.engine.Execute(r.Context(), caller, op)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, status, res)
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func unixParam(r *http.Request, key string) (time.Time, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return time.Time{}, nil
	}
	sec, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0).UTC(), nil
}

// statusFor maps an engine error kind to an HTTP status.
func statusFor(kind string) int {
	switch kind {
	case "unauthorized":
		return http.StatusForbidden
	case "basket_not_found", "position_not_found", "token_not_found", "not_found":
		return http.StatusNotFound
	case "duplicate_basket", "no_rewards_available":
		return http.StatusConflict
	case "below_minimum_investment", "basket_inactive", "unsupported_chain":
		return http.StatusUnprocessableEntity
	case "not_instantiated":
		return http.StatusServiceUnavailable
	case "storage_failure":
		return http.StatusInternalServerError
	}
	return http.StatusBadRequest
}

func writeEngineError(w http.ResponseWriter, err error) {
	kind := engine.Kind(err)
	msg := err.Error()
	if kind == "storage_failure" {
		slog.Error("storage failure", "err", err)
		msg = "internal storage error"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusFor(kind))
	json.NewEncoder(w).Encode(map[string]string{"error": msg, "kind": kind})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
