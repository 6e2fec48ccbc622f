package staking_test

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

	"github.com/atmx/staking-pool/internal/amount"
	"github.com/atmx/staking-pool/internal/ident"
	"github.com/atmx/staking-pool/internal/model"
	"github.com/atmx/staking-pool/internal/settlement"
	"github.com/atmx/staking-pool/internal/staking"
	"github.com/atmx/staking-pool/internal/store"
)

const (
	t0    = 1_700_000_000
	asset = "STK"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func u64(v uint64) *uint64 {
	return &v
}

type testEnv struct {
	svc    *staking.Service
	ms     *store.MemoryStore
	vault  *settlement.MemoryVault
	router chi.Router
	now    time.Time
}

func (e *testEnv) advance(seconds int64) {
	e.now = e.now.Add(time.Duration(seconds) * time.Second)
}

// newTestEnv creates a Service over an in-memory store and vault with a
// controllable clock. creator, alice and bob each hold 1,000,000 STK.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWith(t, nil)
}

// newTestEnvWith is newTestEnv with the service's store wrapped by wrap.
func newTestEnvWith(t *testing.T, wrap func(*store.MemoryStore) store.Store) *testEnv {
	t.Helper()
	e := &testEnv{
		ms:    store.NewMemoryStore(),
		vault: settlement.NewMemoryVault(),
		now:   time.Unix(t0, 0),
	}
	for _, acct := range []string{"creator", "alice", "bob"} {
		if err := e.vault.Mint(asset, acct, amount.New(1_000_000)); err != nil {
			t.Fatalf("mint %s: %v", acct, err)
		}
	}
	var st store.Store = e.ms
	if wrap != nil {
		st = wrap(e.ms)
	}
	e.svc = staking.NewService(st, e.vault, nil, staking.Config{
		Duration:    time.Hour,
		GracePeriod: 10 * time.Minute,
		Now:         func() time.Time { return e.now },
	})

	r := chi.NewRouter()
	r.Get("/api/v1/pools", e.svc.ListPools)
	r.Post("/api/v1/pools", e.svc.CreatePool)
	r.Get("/api/v1/pools/{poolID}", e.svc.GetPool)
	r.Get("/api/v1/pools/{poolID}/participants/{account}", e.svc.GetParticipant)
	r.Get("/api/v1/pools/{poolID}/history", e.svc.GetPoolHistory)
	r.Post("/api/v1/pools/{poolID}/fund", e.svc.Fund)
	r.Post("/api/v1/pools/{poolID}/deposit", e.svc.Deposit)
	r.Post("/api/v1/pools/{poolID}/withdraw", e.svc.Withdraw)
	r.Post("/api/v1/pools/{poolID}/claim", e.svc.Claim)
	r.Post("/api/v1/pools/{poolID}/sweep", e.svc.Sweep)
	r.Get("/api/v1/accounts/{account}/history", e.svc.GetAccountHistory)
	r.Post("/api/v1/dev/mint", e.svc.Mint)
	e.router = r
	return e
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// createPool creates a pool lasting 1000s with a 100s grace period.
func (e *testEnv) createPool(t *testing.T) model.PoolStats {
	t.Helper()
	w := e.do(t, "POST", "/api/v1/pools", staking.CreatePoolRequest{
		StakedAssetID:      asset,
		Creator:            "creator",
		DurationSeconds:    1000,
		GracePeriodSeconds: u64(100),
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create pool: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var stats model.PoolStats
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode pool: %v", err)
	}
	return stats
}

// fundedPool creates a pool and funds it with 1000 STK.
func (e *testEnv) fundedPool(t *testing.T) string {
	t.Helper()
	id := e.createPool(t).PoolID
	e.mustOp(t, id, "fund", "creator", "1000")
	return id
}

func (e *testEnv) op(t *testing.T, poolID, kind, account, amt string) *httptest.ResponseRecorder {
	t.Helper()
	req := map[string]string{"account": account}
	if amt != "" {
		req["amount"] = amt
	}
	return e.do(t, "POST", "/api/v1/pools/"+poolID+"/"+kind, req)
}

func (e *testEnv) mustOp(t *testing.T, poolID, kind, account, amt string) staking.OperationResponse {
	t.Helper()
	w := e.op(t, poolID, kind, account, amt)
	if w.Code != http.StatusOK {
		t.Fatalf("%s: expected 200, got %d: %s", kind, w.Code, w.Body.String())
	}
	var resp staking.OperationResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode %s response: %v", kind, err)
	}
	return resp
}

func expectCode(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if w.Code != status {
		t.Fatalf("expected %d, got %d: %s", status, w.Code, w.Body.String())
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body["code"] != code {
		t.Errorf("expected code %q, got %q (%s)", code, body["code"], body["error"])
	}
}

func (e *testEnv) balance(account string) decimal.Decimal {
	return amount.ToDecimal(e.vault.BalanceOf(asset, account))
}

// --- Registry ---

func TestCreatePool_Valid(t *testing.T) {
	e := newTestEnv(t)
	stats := e.createPool(t)

	if stats.PoolID == "" {
		t.Error("expected non-empty pool_id")
	}
	if stats.State != "unfunded" {
		t.Errorf("expected unfunded, got %s", stats.State)
	}
	if stats.GracePeriod != 100 {
		t.Errorf("expected grace period 100, got %d", stats.GracePeriod)
	}
}

func TestCreatePool_Defaults(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(t, "POST", "/api/v1/pools", staking.CreatePoolRequest{
		StakedAssetID: asset,
		Creator:       "creator",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var stats model.PoolStats
	json.Unmarshal(w.Body.Bytes(), &stats)

	p, err := e.ms.GetPool(context.Background(), stats.PoolID)
	if err != nil {
		t.Fatalf("get pool: %v", err)
	}
	if p.Duration != 3600 {
		t.Errorf("expected default duration 3600, got %d", p.Duration)
	}
	if p.GracePeriod != 600 {
		t.Errorf("expected default grace period 600, got %d", p.GracePeriod)
	}
}

func TestCreatePool_MissingFields(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(t, "POST", "/api/v1/pools", staking.CreatePoolRequest{StakedAssetID: asset})
	expectCode(t, w, http.StatusBadRequest, "invalid_request")

	w = e.do(t, "POST", "/api/v1/pools", staking.CreatePoolRequest{Creator: "creator"})
	expectCode(t, w, http.StatusBadRequest, "invalid_request")
}

func TestListPools_FilterByAsset(t *testing.T) {
	e := newTestEnv(t)
	e.createPool(t)
	e.do(t, "POST", "/api/v1/pools", staking.CreatePoolRequest{StakedAssetID: "OTHER", Creator: "creator"})

	w := e.do(t, "GET", "/api/v1/pools", nil)
	var all []model.PoolStats
	json.Unmarshal(w.Body.Bytes(), &all)
	if len(all) != 2 {
		t.Fatalf("expected 2 pools, got %d", len(all))
	}

	w = e.do(t, "GET", "/api/v1/pools?asset=OTHER", nil)
	var filtered []model.PoolStats
	json.Unmarshal(w.Body.Bytes(), &filtered)
	if len(filtered) != 1 || filtered[0].StakedAssetID != "OTHER" {
		t.Errorf("expected one OTHER pool, got %+v", filtered)
	}
}

func TestGetPool_NotFound(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(t, "GET", "/api/v1/pools/nope", nil)
	expectCode(t, w, http.StatusNotFound, "not_found")
}

func TestCreatePool_InvalidIdentifiers(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(t, "POST", "/api/v1/pools", staking.CreatePoolRequest{StakedAssetID: "not an asset", Creator: "creator"})
	expectCode(t, w, http.StatusBadRequest, "invalid_asset")

	w = e.do(t, "POST", "/api/v1/pools", staking.CreatePoolRequest{StakedAssetID: asset, Creator: "pool:x"})
	expectCode(t, w, http.StatusForbidden, "reserved_account")
}

// --- Funding ---

func TestFund_SetsBudgetAndRate(t *testing.T) {
	e := newTestEnv(t)
	id := e.fundedPool(t)

	w := e.do(t, "GET", "/api/v1/pools/"+id, nil)
	var stats model.PoolStats
	json.Unmarshal(w.Body.Bytes(), &stats)

	if stats.State != "funded" {
		t.Errorf("expected funded, got %s", stats.State)
	}
	if !stats.RewardBudget.Equal(d("1000")) {
		t.Errorf("expected budget 1000, got %s", stats.RewardBudget)
	}
	if !stats.RewardRate.Equal(d("1")) {
		t.Errorf("expected rate 1, got %s", stats.RewardRate)
	}
	if !e.balance("creator").Equal(d("999000")) {
		t.Errorf("expected creator balance 999000, got %s", e.balance("creator"))
	}
}

func TestFund_Rejections(t *testing.T) {
	e := newTestEnv(t)
	id := e.createPool(t).PoolID

	expectCode(t, e.op(t, id, "fund", "alice", "1000"), http.StatusForbidden, "unauthorized")
	expectCode(t, e.op(t, id, "fund", "creator", "0"), http.StatusUnprocessableEntity, "zero_reward")

	e.mustOp(t, id, "fund", "creator", "1000")
	expectCode(t, e.op(t, id, "fund", "creator", "1000"), http.StatusConflict, "already_funded")
}

// --- Operations ---

func TestDeposit_BeforeFunding(t *testing.T) {
	e := newTestEnv(t)
	id := e.createPool(t).PoolID
	expectCode(t, e.op(t, id, "deposit", "alice", "100"), http.StatusConflict, "not_funded")
}

func TestDeposit_InvalidAmounts(t *testing.T) {
	e := newTestEnv(t)
	id := e.fundedPool(t)

	expectCode(t, e.op(t, id, "deposit", "alice", "0"), http.StatusUnprocessableEntity, "zero_amount")
	expectCode(t, e.op(t, id, "deposit", "alice", "-5"), http.StatusBadRequest, "invalid_amount")
	expectCode(t, e.op(t, id, "deposit", "alice", "1.5"), http.StatusBadRequest, "invalid_amount")
	expectCode(t, e.op(t, id, "deposit", "", "10"), http.StatusBadRequest, "invalid_request")
	expectCode(t, e.op(t, id, "deposit", "bad account", "10"), http.StatusBadRequest, "invalid_account")
}

func TestDeposit_CustodyAccountRejected(t *testing.T) {
	e := newTestEnv(t)
	id := e.fundedPool(t)
	expectCode(t, e.op(t, id, "deposit", ident.CustodyAccount(id), "10"), http.StatusForbidden, "reserved_account")
}

func TestDeposit_UnknownPool(t *testing.T) {
	e := newTestEnv(t)
	expectCode(t, e.op(t, "nope", "deposit", "alice", "10"), http.StatusNotFound, "not_found")
}

func TestDeposit_StartsPool(t *testing.T) {
	e := newTestEnv(t)
	id := e.fundedPool(t)
	e.advance(50)

	resp := e.mustOp(t, id, "deposit", "alice", "100")
	if !resp.Started {
		t.Error("first deposit should start the pool")
	}
	if resp.EndTime != t0+50+1000 {
		t.Errorf("expected end %d, got %d", t0+50+1000, resp.EndTime)
	}
	if !resp.StakedBalance.Equal(d("100")) || !resp.TotalStaked.Equal(d("100")) {
		t.Errorf("unexpected balances: staked %s total %s", resp.StakedBalance, resp.TotalStaked)
	}
}

func TestDeposit_FeeOnTransfer(t *testing.T) {
	e := newTestEnv(t)
	id := e.fundedPool(t)
	e.vault.SetTransferFee(asset, 100) // 1%

	resp := e.mustOp(t, id, "deposit", "alice", "1000")
	if !resp.Requested.Equal(d("1000")) {
		t.Errorf("expected requested 1000, got %s", resp.Requested)
	}
	if !resp.Amount.Equal(d("990")) {
		t.Errorf("expected credited 990, got %s", resp.Amount)
	}
	if !resp.StakedBalance.Equal(d("990")) {
		t.Errorf("expected staked 990, got %s", resp.StakedBalance)
	}
}

func TestWithdraw_InsufficientBalance(t *testing.T) {
	e := newTestEnv(t)
	id := e.fundedPool(t)
	e.mustOp(t, id, "deposit", "alice", "100")

	expectCode(t, e.op(t, id, "withdraw", "alice", "101"), http.StatusConflict, "insufficient_balance")
	expectCode(t, e.op(t, id, "withdraw", "bob", "1"), http.StatusConflict, "insufficient_balance")
	expectCode(t, e.op(t, id, "withdraw", "alice", "0"), http.StatusUnprocessableEntity, "zero_amount")
}

func TestClaim_NothingToClaim(t *testing.T) {
	e := newTestEnv(t)
	id := e.fundedPool(t)
	expectCode(t, e.op(t, id, "claim", "alice", ""), http.StatusConflict, "nothing_to_claim")
}

func TestLifecycle_SingleStaker(t *testing.T) {
	e := newTestEnv(t)
	id := e.fundedPool(t)

	e.mustOp(t, id, "deposit", "alice", "100")
	e.advance(500)

	w := e.do(t, "GET", "/api/v1/pools/"+id+"/participants/alice", nil)
	var info model.ParticipantInfo
	json.Unmarshal(w.Body.Bytes(), &info)
	if !info.PendingReward.Equal(d("500")) {
		t.Errorf("expected pending 500, got %s", info.PendingReward)
	}

	claim := e.mustOp(t, id, "claim", "alice", "")
	if !claim.Reward.Equal(d("500")) {
		t.Errorf("expected claim 500, got %s", claim.Reward)
	}

	e.advance(600) // past end
	wd := e.mustOp(t, id, "withdraw", "alice", "100")
	if !wd.Amount.Equal(d("100")) || !wd.Reward.Equal(d("500")) {
		t.Errorf("expected withdraw 100 + 500 reward, got %s + %s", wd.Amount, wd.Reward)
	}
	if !e.balance("alice").Equal(d("1001000")) {
		t.Errorf("expected alice 1001000, got %s", e.balance("alice"))
	}

	w = e.do(t, "GET", "/api/v1/pools/"+id, nil)
	var stats model.PoolStats
	json.Unmarshal(w.Body.Bytes(), &stats)
	if stats.State != "ended" || !stats.Ended {
		t.Errorf("expected ended, got %s", stats.State)
	}
	if !stats.RewardPaid.Equal(d("1000")) {
		t.Errorf("expected reward paid 1000, got %s", stats.RewardPaid)
	}

	// Everything was distributed.
	e.advance(101)
	expectCode(t, e.op(t, id, "sweep", "creator", ""), http.StatusConflict, "nothing_to_sweep")
}

func TestWithdraw_EmptyPoolPauses(t *testing.T) {
	e := newTestEnv(t)
	id := e.fundedPool(t)
	e.mustOp(t, id, "deposit", "alice", "100")
	e.advance(200)

	wd := e.mustOp(t, id, "withdraw", "alice", "100")
	if !wd.Paused {
		t.Error("emptying the pool should pause it")
	}

	e.advance(300)
	dep := e.mustOp(t, id, "deposit", "bob", "50")
	if !dep.Resumed {
		t.Error("deposit into a paused pool should resume it")
	}
	if dep.EndTime != t0+1000+300 {
		t.Errorf("expected end pushed to %d, got %d", t0+1000+300, dep.EndTime)
	}
}

func TestSweep_UnstartedPool(t *testing.T) {
	e := newTestEnv(t)
	id := e.fundedPool(t)

	expectCode(t, e.op(t, id, "sweep", "alice", ""), http.StatusForbidden, "unauthorized")

	e.advance(100)
	expectCode(t, e.op(t, id, "sweep", "creator", ""), http.StatusConflict, "grace_period_active")

	e.advance(1)
	resp := e.mustOp(t, id, "sweep", "creator", "")
	if !resp.Amount.Equal(d("1000")) {
		t.Errorf("expected remainder 1000, got %s", resp.Amount)
	}
	if !e.balance("creator").Equal(d("1000000")) {
		t.Errorf("expected creator made whole, got %s", e.balance("creator"))
	}

	expectCode(t, e.op(t, id, "sweep", "creator", ""), http.StatusConflict, "already_swept")
	expectCode(t, e.op(t, id, "deposit", "alice", "10"), http.StatusConflict, "pool_ended")
}

func TestDeposit_AfterEnd(t *testing.T) {
	e := newTestEnv(t)
	id := e.fundedPool(t)
	e.mustOp(t, id, "deposit", "alice", "100")
	e.advance(1000)
	expectCode(t, e.op(t, id, "deposit", "bob", "10"), http.StatusConflict, "pool_ended")
}

func TestDeposit_AdapterFailure(t *testing.T) {
	e := newTestEnv(t)
	id := e.fundedPool(t)

	expectCode(t, e.op(t, id, "deposit", "carol", "10"), http.StatusBadGateway, "adapter_transfer_failed")

	w := e.do(t, "GET", "/api/v1/pools/"+id, nil)
	var stats model.PoolStats
	json.Unmarshal(w.Body.Bytes(), &stats)
	if stats.Started || !stats.TotalStaked.IsZero() {
		t.Errorf("failed deposit must leave pool untouched, got %+v", stats)
	}
}

// --- History ---

func TestHistory_RecordsCommittedOperations(t *testing.T) {
	e := newTestEnv(t)
	id := e.fundedPool(t)
	e.mustOp(t, id, "deposit", "alice", "100")
	e.advance(10)
	e.mustOp(t, id, "claim", "alice", "")
	e.op(t, id, "withdraw", "alice", "1000") // rejected, not recorded

	w := e.do(t, "GET", "/api/v1/pools/"+id+"/history", nil)
	var entries []model.LedgerEntry
	json.Unmarshal(w.Body.Bytes(), &entries)
	if len(entries) != 3 {
		t.Fatalf("expected 3 pool entries, got %d", len(entries))
	}
	kinds := []string{model.KindFund, model.KindDeposit, model.KindClaim}
	for i, k := range kinds {
		if entries[i].Kind != k {
			t.Errorf("entry %d: expected %s, got %s", i, k, entries[i].Kind)
		}
	}

	w = e.do(t, "GET", "/api/v1/accounts/alice/history", nil)
	var mine []model.LedgerEntry
	json.Unmarshal(w.Body.Bytes(), &mine)
	if len(mine) != 2 {
		t.Errorf("expected 2 entries for alice, got %d", len(mine))
	}
	if !mine[1].Reward.Equal(d("10")) {
		t.Errorf("expected claim reward 10, got %s", mine[1].Reward)
	}
}

func TestHistory_UnknownPool(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(t, "GET", "/api/v1/pools/nope/history", nil)
	expectCode(t, w, http.StatusNotFound, "not_found")
}

func TestAccountHistory_Empty(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(t, "GET", "/api/v1/accounts/nobody/history", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got := bytes.TrimSpace(w.Body.Bytes()); string(got) != "[]" {
		t.Errorf("expected empty array, got %s", got)
	}
}

// --- Dev mint ---

func TestMint(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(t, "POST", "/api/v1/dev/mint", staking.MintRequest{
		AssetID: asset,
		Account: "carol",
		Amount:  d("250"),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !e.balance("carol").Equal(d("250")) {
		t.Errorf("expected carol 250, got %s", e.balance("carol"))
	}

	w = e.do(t, "POST", "/api/v1/dev/mint", staking.MintRequest{AssetID: asset, Account: "carol", Amount: d("0.5")})
	expectCode(t, w, http.StatusBadRequest, "invalid_amount")
}
