package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/euclidfi/basket-engine/internal/api"
	"github.com/euclidfi/basket-engine/internal/engine"
	"github.com/euclidfi/basket-engine/internal/model"
	"github.com/euclidfi/basket-engine/internal/portfolio"
	"github.com/euclidfi/basket-engine/internal/store"
)

const (
	admin  = "cosmos1admin"
	alice  = "cosmos1alice"
	feeder = "cosmos1oracle"
)

func d(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

var start = time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

// newTestEnv creates an instantiated engine over the in-memory store and a
// chi router with every API route mounted.
func newTestEnv(t *testing.T) (*engine.Engine, chi.Router) {
	t.Helper()
	ms := store.NewMemoryStore()
	eng := engine.New(ms,
		engine.WithPriceFeeder(feeder),
		engine.WithClock(func() time.Time { return start }),
	)
	_, err := eng.Execute(context.Background(), admin, engine.Instantiate{
		Admin:       admin,
		RewardToken: "ueuclid",
		RewardRate:  d(10),
	})
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}

	svc := api.NewService(eng, nil)
	r := chi.NewRouter()
	r.Route("/api/v1", svc.Routes)
	return eng, r
}

func do(t *testing.T, router chi.Router, method, path, caller string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if caller != "" {
		req.Header.Set(api.CallerHeader, caller)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func seedBasketAndPrices(t *testing.T, router chi.Router) {
	t.Helper()
	for sym, px := range map[string]string{"A": "1", "B": "1"} {
		w := do(t, router, "PUT", "/api/v1/prices/"+sym, feeder, map[string]string{"price": px})
		if w.Code != http.StatusOK {
			t.Fatalf("set price %s: %d %s", sym, w.Code, w.Body.String())
		}
	}
	w := do(t, router, "POST", "/api/v1/baskets", admin, engine.CreateBasket{
		Name: "stable-mix",
		Tokens: []model.TokenWeight{
			{Token: model.Token{Symbol: "A", Chain: model.ChainCosmos}, Weight: 60},
			{Token: model.Token{Symbol: "B", Chain: model.ChainCosmos}, Weight: 40},
		},
		MinInvestment: d(100),
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create basket: %d %s", w.Code, w.Body.String())
	}
}

func errorKind(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body["kind"]
}

// --- Basket administration ---

func TestCreateBasket_Valid(t *testing.T) {
	_, router := newTestEnv(t)
	seedBasketAndPrices(t, router)

	w := do(t, router, "GET", "/api/v1/baskets/stable-mix", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var b model.BasketConfig
	json.NewDecoder(w.Body).Decode(&b)
	if !b.Active || len(b.Tokens) != 2 {
		t.Errorf("unexpected basket: %+v", b)
	}
	if !b.MinInvestment.Equal(d(100)) {
		t.Errorf("expected min investment 100, got %s", b.MinInvestment)
	}
}

func TestCreateBasket_Rejections(t *testing.T) {
	_, router := newTestEnv(t)
	seedBasketAndPrices(t, router)

	tests := []struct {
		name   string
		caller string
		body   any
		status int
		kind   string
	}{
		{"missing caller", "", engine.CreateBasket{Name: "x"}, http.StatusUnauthorized, ""},
		{"not admin", alice, engine.CreateBasket{Name: "x", Tokens: []model.TokenWeight{{Token: model.Token{Symbol: "A", Chain: model.ChainCosmos}, Weight: 100}}}, http.StatusForbidden, "unauthorized"},
		{"duplicate", admin, engine.CreateBasket{Name: "stable-mix", Tokens: []model.TokenWeight{{Token: model.Token{Symbol: "A", Chain: model.ChainCosmos}, Weight: 100}}}, http.StatusConflict, "duplicate_basket"},
		{"weights 90", admin, engine.CreateBasket{Name: "short", Tokens: []model.TokenWeight{{Token: model.Token{Symbol: "A", Chain: model.ChainCosmos}, Weight: 90}}}, http.StatusBadRequest, "invalid_weights"},
		{"bad evm address", admin, engine.CreateBasket{Name: "evm", Tokens: []model.TokenWeight{{Token: model.Token{Symbol: "WETH", Chain: model.ChainEthereum, Address: "0x123"}, Weight: 100}}}, http.StatusBadRequest, "invalid_token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, router, "POST", "/api/v1/baskets", tt.caller, tt.body)
			if w.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, w.Code, w.Body.String())
			}
			if tt.kind != "" {
				if got := errorKind(t, w); got != tt.kind {
					t.Errorf("expected kind %s, got %s", tt.kind, got)
				}
			}
		})
	}

	w := do(t, router, "GET", "/api/v1/baskets", "", nil)
	var baskets []model.BasketConfig
	json.NewDecoder(w.Body).Decode(&baskets)
	if len(baskets) != 1 {
		t.Errorf("expected 1 basket, got %d", len(baskets))
	}
}

func TestUpdateBasket_DeactivateAndFilter(t *testing.T) {
	_, router := newTestEnv(t)
	seedBasketAndPrices(t, router)

	w := do(t, router, "PUT", "/api/v1/baskets/stable-mix", admin, api.UpdateBasketRequest{
		Tokens: []model.TokenWeight{{Token: model.Token{Symbol: "A", Chain: model.ChainCosmos}, Weight: 100}},
		Active: false,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = do(t, router, "GET", "/api/v1/baskets?active=true", "", nil)
	var baskets []model.BasketConfig
	json.NewDecoder(w.Body).Decode(&baskets)
	if len(baskets) != 0 {
		t.Errorf("expected no active baskets, got %d", len(baskets))
	}

	w = do(t, router, "POST", "/api/v1/invest", alice, engine.Invest{BasketName: "stable-mix", Amount: d(100)})
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for inactive basket, got %d", w.Code)
	}

	w = do(t, router, "PUT", "/api/v1/baskets/missing", admin, api.UpdateBasketRequest{
		Tokens: []model.TokenWeight{{Token: model.Token{Symbol: "A", Chain: model.ChainCosmos}, Weight: 100}},
	})
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestGetBasket_NotFound(t *testing.T) {
	_, router := newTestEnv(t)
	w := do(t, router, "GET", "/api/v1/baskets/nope", "", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

// --- Portfolio operations ---

func TestInvestWithdraw_StableMix(t *testing.T) {
	_, router := newTestEnv(t)
	seedBasketAndPrices(t, router)

	w := do(t, router, "POST", "/api/v1/invest", alice, engine.Invest{BasketName: "stable-mix", Amount: d(100)})
	if w.Code != http.StatusOK {
		t.Fatalf("invest: %d %s", w.Code, w.Body.String())
	}

	w = do(t, router, "POST", "/api/v1/withdraw", alice, engine.Withdraw{BasketName: "stable-mix", Percentage: 50})
	if w.Code != http.StatusOK {
		t.Fatalf("withdraw: %d %s", w.Code, w.Body.String())
	}
	var res engine.Result
	json.NewDecoder(w.Body).Decode(&res)
	if len(res.Transfers) != 2 {
		t.Fatalf("expected 2 transfers, got %d", len(res.Transfers))
	}
	if !res.Transfers[0].Amount.Equal(d(30)) || !res.Transfers[1].Amount.Equal(d(20)) {
		t.Errorf("expected A:30 B:20, got %s %s", res.Transfers[0].Amount, res.Transfers[1].Amount)
	}

	w = do(t, router, "GET", "/api/v1/portfolios/"+alice, "", nil)
	var p model.UserPortfolio
	json.NewDecoder(w.Body).Decode(&p)
	if len(p.Positions) != 1 || !p.Positions[0].CurrentValue.Equal(d(50)) {
		t.Errorf("expected one position worth 50, got %+v", p.Positions)
	}
}

func TestWithdraw_InvalidPercentage(t *testing.T) {
	_, router := newTestEnv(t)
	seedBasketAndPrices(t, router)
	do(t, router, "POST", "/api/v1/invest", alice, engine.Invest{BasketName: "stable-mix", Amount: d(100)})

	w := do(t, router, "POST", "/api/v1/withdraw", alice, engine.Withdraw{BasketName: "stable-mix", Percentage: 150})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if kind := errorKind(t, w); kind != "invalid_withdrawal_percentage" {
		t.Errorf("unexpected kind %s", kind)
	}

	// Out-of-range values decode and map to the same kind.
	for _, pct := range []int{256, -5, 0} {
		body := map[string]any{"basket_name": "stable-mix", "percentage": pct}
		w = do(t, router, "POST", "/api/v1/withdraw", alice, body)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("percentage %d: expected 400, got %d", pct, w.Code)
		}
		if kind := errorKind(t, w); kind != "invalid_withdrawal_percentage" {
			t.Errorf("percentage %d: unexpected kind %s", pct, kind)
		}
	}

	w = do(t, router, "GET", "/api/v1/portfolios/"+alice, "", nil)
	var p model.UserPortfolio
	json.NewDecoder(w.Body).Decode(&p)
	if !p.TotalCurrentValue.Equal(d(100)) {
		t.Errorf("portfolio mutated: %s", p.TotalCurrentValue)
	}
}

func TestClaimRewards_NothingAccrued(t *testing.T) {
	_, router := newTestEnv(t)
	seedBasketAndPrices(t, router)
	do(t, router, "POST", "/api/v1/invest", alice, engine.Invest{BasketName: "stable-mix", Amount: d(100)})

	w := do(t, router, "POST", "/api/v1/rewards/claim", alice, nil)
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d: %s", w.Code, w.Body.String())
	}

	w = do(t, router, "GET", "/api/v1/portfolios/"+alice+"/rewards", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var view engine.RewardsView
	json.NewDecoder(w.Body).Decode(&view)
	if !view.Pending.IsZero() || view.RewardToken != "ueuclid" {
		t.Errorf("unexpected rewards view: %+v", view)
	}
}

func TestAutoCompoundAndRebalance(t *testing.T) {
	_, router := newTestEnv(t)
	seedBasketAndPrices(t, router)

	w := do(t, router, "POST", "/api/v1/auto-compound", alice, engine.SetAutoCompound{BasketName: "stable-mix", Enabled: true})
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 without a position, got %d", w.Code)
	}

	do(t, router, "POST", "/api/v1/invest", alice, engine.Invest{BasketName: "stable-mix", Amount: d(100)})
	w = do(t, router, "POST", "/api/v1/auto-compound", alice, engine.SetAutoCompound{BasketName: "stable-mix", Enabled: true})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	w = do(t, router, "POST", "/api/v1/rebalance", alice, engine.Rebalance{BasketName: "stable-mix"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var res engine.Result
	json.NewDecoder(w.Body).Decode(&res)
	if len(res.Transfers) != 0 {
		t.Errorf("balanced position should need no transfers, got %d", len(res.Transfers))
	}
}

// --- Queries ---

func TestHistoryAndPerformance(t *testing.T) {
	_, router := newTestEnv(t)
	seedBasketAndPrices(t, router)
	do(t, router, "POST", "/api/v1/invest", alice, engine.Invest{BasketName: "stable-mix", Amount: d(100)})

	w := do(t, router, "GET", "/api/v1/portfolios/"+alice+"/history?from=0", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var entries []model.InvestmentHistory
	json.NewDecoder(w.Body).Decode(&entries)
	if len(entries) != 1 || entries[0].Action != model.ActionDeposit {
		t.Errorf("unexpected history: %+v", entries)
	}

	w = do(t, router, "GET", "/api/v1/portfolios/"+alice+"/history?to=abc", "", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad bound, got %d", w.Code)
	}

	// Price of A doubles: 60 A at entry 1 marks to 120.
	do(t, router, "PUT", "/api/v1/prices/A", feeder, map[string]string{"price": "2"})
	w = do(t, router, "GET", "/api/v1/portfolios/"+alice+"/performance?basket=stable-mix", "", nil)
	var perf []portfolio.Metric
	json.NewDecoder(w.Body).Decode(&perf)
	if len(perf) != 1 {
		t.Fatalf("expected 1 metric, got %d", len(perf))
	}
	if !perf[0].MarkValue.Equal(d(160)) || !perf[0].UnrealizedPL.Equal(d(60)) {
		t.Errorf("expected mark 160 pnl 60, got %s %s", perf[0].MarkValue, perf[0].UnrealizedPL)
	}
	if perf[0].MarkPerfBps != 6000 {
		t.Errorf("expected 6000 bps, got %d", perf[0].MarkPerfBps)
	}
}

func TestGetPortfolio_NotFound(t *testing.T) {
	_, router := newTestEnv(t)
	w := do(t, router, "GET", "/api/v1/portfolios/nobody", "", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestSetPrice_OnlyFeeder(t *testing.T) {
	_, router := newTestEnv(t)

	w := do(t, router, "PUT", "/api/v1/prices/A", alice, map[string]string{"price": "5"})
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w.Code)
	}
	w = do(t, router, "PUT", "/api/v1/prices/A", feeder, map[string]string{"price": "-1"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
	w = do(t, router, "PUT", "/api/v1/prices/A", feeder, map[string]string{"price": "5"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	w = do(t, router, "GET", "/api/v1/prices", "", nil)
	var prices map[string]decimal.Decimal
	json.NewDecoder(w.Body).Decode(&prices)
	if !prices["A"].Equal(d(5)) {
		t.Errorf("expected A=5, got %s", prices["A"])
	}
}

func TestUpdateConfig(t *testing.T) {
	_, router := newTestEnv(t)

	w := do(t, router, "PUT", "/api/v1/config", alice, map[string]any{"reward_rate": "12"})
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w.Code)
	}
	w = do(t, router, "PUT", "/api/v1/config", admin, map[string]any{"reward_rate": "12", "min_lock_period": 86400})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = do(t, router, "GET", "/api/v1/config", "", nil)
	var cfg model.GlobalConfig
	json.NewDecoder(w.Body).Decode(&cfg)
	if !cfg.RewardRate.Equal(d(12)) || cfg.MinLockPeriod != 86400 {
		t.Errorf("config not updated: %+v", cfg)
	}
}

func TestInvalidBody(t *testing.T) {
	_, router := newTestEnv(t)
	req := httptest.NewRequest("POST", "/api/v1/invest", bytes.NewBufferString("{"))
	req.Header.Set(api.CallerHeader, alice)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}
