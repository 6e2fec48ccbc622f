// Package staking provides the HTTP handlers and orchestration for the
// staking pool registry: creating pools, running pool operations through
// the state machine, persisting their outcome and broadcasting events.
//
// Amounts cross the API as decimal strings; the core works in exact
// 256-bit integers.
package staking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/atmx/staking-pool/internal/amount"
	"github.com/atmx/staking-pool/internal/ident"
	"github.com/atmx/staking-pool/internal/ledger"
	"github.com/atmx/staking-pool/internal/metrics"
	"github.com/atmx/staking-pool/internal/model"
	"github.com/atmx/staking-pool/internal/pool"
	"github.com/atmx/staking-pool/internal/settlement"
	"github.com/atmx/staking-pool/internal/store"
)

// Custodian hands out the settlement adapter bound to a pool's custody
// account.
type Custodian interface {
	Custody(account string) settlement.Adapter
}

// Minter credits test balances. Only the in-memory vault implements it.
type Minter interface {
	Mint(assetID, account string, amt uint256.Int) error
}

// Config holds pool defaults applied at creation time.
type Config struct {
	Duration    time.Duration
	GracePeriod time.Duration

	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

// Service handles pool operations. Operations are serialized by a mutex
// (single-instance); the pool machine itself is single-writer.
type Service struct {
	store     store.Store
	custodian Custodian
	cfg       Config
	now       func() time.Time
	mu        sync.Mutex
	wsHub     *WSHub // optional WebSocket hub for real-time broadcasts
}

// NewService creates a new staking service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(st store.Store, custodian Custodian, hub *WSHub, cfg Config) *Service {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:     st,
		custodian: custodian,
		cfg:       cfg,
		now:       now,
		wsHub:     hub,
	}
}

// --- Request/Response types ---

// CreatePoolRequest is the JSON body for pool creation.
type CreatePoolRequest struct {
	StakedAssetID      string  `json:"staked_asset_id"`
	Creator            string  `json:"creator"`
	DurationSeconds    uint64  `json:"duration_seconds"`     // 0 → configured default
	GracePeriodSeconds *uint64 `json:"grace_period_seconds"` // nil → configured default
}

// OperationRequest is the JSON body for fund, deposit, withdraw, claim and
// sweep. Amount is ignored by claim and sweep.
type OperationRequest struct {
	Account string          `json:"account"`
	Amount  decimal.Decimal `json:"amount"`
}

// MintRequest is the JSON body for POST /api/v1/dev/mint.
type MintRequest struct {
	AssetID string          `json:"asset_id"`
	Account string          `json:"account"`
	Amount  decimal.Decimal `json:"amount"`
}

// OperationResponse is returned from every committed pool operation.
type OperationResponse struct {
	EntryID        string          `json:"entry_id"`
	PoolID         string          `json:"pool_id"`
	Account        string          `json:"account"`
	Kind           string          `json:"kind"`
	Requested      decimal.Decimal `json:"requested"`
	Amount         decimal.Decimal `json:"amount"`
	Reward         decimal.Decimal `json:"reward"`
	Delivered      decimal.Decimal `json:"delivered"`
	StakedBalance  decimal.Decimal `json:"staked_balance"`
	TotalStaked    decimal.Decimal `json:"total_staked"`
	RewardPerShare decimal.Decimal `json:"reward_per_share"`
	EndTime        uint64          `json:"end_time"`
	Started        bool            `json:"started,omitempty"`
	Paused         bool            `json:"paused,omitempty"`
	Resumed        bool            `json:"resumed,omitempty"`
	Timestamp      uint64          `json:"timestamp"`
}

// --- Registry handlers ---

// CreatePool handles POST /api/v1/pools
func (s *Service) CreatePool(w http.ResponseWriter, r *http.Request) {
	var req CreatePoolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid_request", "invalid request body", http.StatusBadRequest)
		return
	}
	if req.StakedAssetID == "" {
		writeError(w, "invalid_request", "staked_asset_id is required", http.StatusBadRequest)
		return
	}
	if req.Creator == "" {
		writeError(w, "invalid_request", "creator is required", http.StatusBadRequest)
		return
	}
	if _, err := ident.ParseAsset(req.StakedAssetID); err != nil {
		writeErr(w, err)
		return
	}
	if err := ident.ValidateAccount(req.Creator); err != nil {
		writeErr(w, err)
		return
	}

	duration := req.DurationSeconds
	if duration == 0 {
		duration = uint64(s.cfg.Duration / time.Second)
	}
	if duration == 0 {
		writeError(w, "invalid_request", "duration_seconds must be positive", http.StatusBadRequest)
		return
	}
	grace := uint64(s.cfg.GracePeriod / time.Second)
	if req.GracePeriodSeconds != nil {
		grace = *req.GracePeriodSeconds
	}

	p := &model.Pool{
		ID:            uuid.New().String(),
		StakedAssetID: req.StakedAssetID,
		Creator:       req.Creator,
		CreatedAt:     s.unixNow(),
		Duration:      duration,
		GracePeriod:   grace,
	}

	ctx := r.Context()
	if err := s.store.CreatePool(ctx, p); err != nil {
		writeError(w, "conflict", err.Error(), http.StatusConflict)
		return
	}
	metrics.ActivePools.Inc()

	slog.Info("pool created",
		"id", p.ID,
		"asset", p.StakedAssetID,
		"creator", p.Creator,
		"duration", p.Duration,
		"grace_period", p.GracePeriod,
	)

	stats, err := pool.New(ledger.New(*p), nil).Stats(p.CreatedAt)
	if err != nil {
		writeErr(w, err)
		return
	}
	s.broadcast(WSMessage{Type: "pool_created", PoolID: p.ID, Account: p.Creator, State: stats.State})
	writeJSON(w, http.StatusCreated, stats)
}

// ListPools handles GET /api/v1/pools
// Optionally filtered by ?asset=<assetID>.
func (s *Service) ListPools(w http.ResponseWriter, r *http.Request) {
	pools, err := s.store.ListPools(r.Context())
	if err != nil {
		writeError(w, "internal", "failed to list pools", http.StatusInternalServerError)
		return
	}

	asset := r.URL.Query().Get("asset")
	now := s.unixNow()
	out := []model.PoolStats{}
	for _, p := range pools {
		if asset != "" && p.StakedAssetID != asset {
			continue
		}
		stats, err := pool.New(ledger.New(p), nil).Stats(now)
		if err != nil {
			writeErr(w, err)
			return
		}
		out = append(out, stats)
	}
	writeJSON(w, http.StatusOK, out)
}

// GetPool handles GET /api/v1/pools/{poolID}
func (s *Service) GetPool(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.GetPool(r.Context(), chi.URLParam(r, "poolID"))
	if err != nil {
		writeErr(w, err)
		return
	}
	stats, err := pool.New(ledger.New(*p), nil).Stats(s.unixNow())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// GetParticipant handles GET /api/v1/pools/{poolID}/participants/{account}
// Unknown accounts report zero balances.
func (s *Service) GetParticipant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	poolID := chi.URLParam(r, "poolID")
	account := chi.URLParam(r, "account")

	l, err := s.load(ctx, poolID, account, false)
	if err != nil {
		writeErr(w, err)
		return
	}
	info, err := pool.New(l, nil).ParticipantInfo(account, s.unixNow())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// GetPoolHistory handles GET /api/v1/pools/{poolID}/history
func (s *Service) GetPoolHistory(w http.ResponseWriter, r *http.Request) {
	poolID := chi.URLParam(r, "poolID")
	if _, err := s.store.GetPool(r.Context(), poolID); err != nil {
		writeErr(w, err)
		return
	}
	entries, err := s.store.GetLedgerEntriesByPool(r.Context(), poolID)
	if err != nil {
		writeError(w, "internal", "failed to get pool history", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []model.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// GetAccountHistory handles GET /api/v1/accounts/{account}/history
func (s *Service) GetAccountHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.GetLedgerEntriesByAccount(r.Context(), chi.URLParam(r, "account"))
	if err != nil {
		writeError(w, "internal", "failed to get account history", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []model.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// Mint handles POST /api/v1/dev/mint. It is only available when the
// custodian can mint.
func (s *Service) Mint(w http.ResponseWriter, r *http.Request) {
	minter, ok := s.custodian.(Minter)
	if !ok {
		writeError(w, "not_found", "minting not available", http.StatusNotFound)
		return
	}
	var req MintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid_request", "invalid request body", http.StatusBadRequest)
		return
	}
	if req.AssetID == "" || req.Account == "" {
		writeError(w, "invalid_request", "asset_id and account are required", http.StatusBadRequest)
		return
	}
	if _, err := ident.ParseAsset(req.AssetID); err != nil {
		writeErr(w, err)
		return
	}
	if err := ident.ValidateAccount(req.Account); err != nil {
		writeErr(w, err)
		return
	}
	amt, err := amount.FromDecimal(req.Amount)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := minter.Mint(req.AssetID, req.Account, amt); err != nil {
		writeErr(w, err)
		return
	}
	slog.Info("minted", "asset", req.AssetID, "account", req.Account, "amount", req.Amount.String())
	writeJSON(w, http.StatusOK, map[string]string{
		"asset_id": req.AssetID,
		"account":  req.Account,
		"amount":   req.Amount.String(),
	})
}

// --- Operation handlers ---

// Fund handles POST /api/v1/pools/{poolID}/fund
func (s *Service) Fund(w http.ResponseWriter, r *http.Request) {
	s.handleOperation(w, r, model.KindFund, true, func(ctx context.Context, m *pool.Machine, req OperationRequest, amt uint256.Int, now uint64) (pool.Receipt, error) {
		return m.Fund(ctx, req.Account, amt, now)
	})
}

// Deposit handles POST /api/v1/pools/{poolID}/deposit
func (s *Service) Deposit(w http.ResponseWriter, r *http.Request) {
	s.handleOperation(w, r, model.KindDeposit, true, func(ctx context.Context, m *pool.Machine, req OperationRequest, amt uint256.Int, now uint64) (pool.Receipt, error) {
		return m.Deposit(ctx, req.Account, amt, now)
	})
}

// Withdraw handles POST /api/v1/pools/{poolID}/withdraw
func (s *Service) Withdraw(w http.ResponseWriter, r *http.Request) {
	s.handleOperation(w, r, model.KindWithdraw, true, func(ctx context.Context, m *pool.Machine, req OperationRequest, amt uint256.Int, now uint64) (pool.Receipt, error) {
		return m.Withdraw(ctx, req.Account, amt, now)
	})
}

// Claim handles POST /api/v1/pools/{poolID}/claim
func (s *Service) Claim(w http.ResponseWriter, r *http.Request) {
	s.handleOperation(w, r, model.KindClaim, false, func(ctx context.Context, m *pool.Machine, req OperationRequest, _ uint256.Int, now uint64) (pool.Receipt, error) {
		return m.Claim(ctx, req.Account, now)
	})
}

// Sweep handles POST /api/v1/pools/{poolID}/sweep
func (s *Service) Sweep(w http.ResponseWriter, r *http.Request) {
	s.handleOperation(w, r, model.KindSweep, false, func(ctx context.Context, m *pool.Machine, req OperationRequest, _ uint256.Int, now uint64) (pool.Receipt, error) {
		return m.SweepRemainder(ctx, req.Account, now)
	})
}

type operation func(ctx context.Context, m *pool.Machine, req OperationRequest, amt uint256.Int, now uint64) (pool.Receipt, error)

func (s *Service) handleOperation(w http.ResponseWriter, r *http.Request, kind string, needsAmount bool, op operation) {
	var req OperationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid_request", "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Account == "" {
		writeError(w, "invalid_request", "account is required", http.StatusBadRequest)
		return
	}
	if err := ident.ValidateAccount(req.Account); err != nil {
		writeErr(w, err)
		return
	}
	var amt uint256.Int
	if needsAmount {
		var err error
		if amt, err = amount.FromDecimal(req.Amount); err != nil {
			writeErr(w, err)
			return
		}
	}

	resp, err := s.execute(r.Context(), chi.URLParam(r, "poolID"), kind, req, amt, op)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// execute runs one pool operation end to end: load, apply, persist,
// broadcast.
func (s *Service) execute(ctx context.Context, poolID, kind string, req OperationRequest, amt uint256.Int, op operation) (resp OperationResponse, err error) {
	start := time.Now()
	defer func() {
		metrics.OperationLatency.WithLabelValues(kind).Observe(time.Since(start).Seconds())
		outcome := "ok"
		if err != nil {
			outcome = "rejected"
			code, _ := classify(err)
			metrics.Rejections.WithLabelValues(code).Inc()
		}
		metrics.OperationsTotal.WithLabelValues(kind, outcome).Inc()
	}()

	// Serialize operation execution.
	s.mu.Lock()
	defer s.mu.Unlock()

	l, err := s.load(ctx, poolID, req.Account, true)
	if err != nil {
		return OperationResponse{}, err
	}
	var custody *deferredPayouts
	var adapter settlement.Adapter
	if s.custodian != nil {
		custody = &deferredPayouts{Adapter: s.custodian.Custody(ident.CustodyAccount(poolID))}
		adapter = custody
	}
	m := pool.New(l, adapter)

	now := s.unixNow()
	receipt, err := op(ctx, m, req, amt, now)
	if err != nil {
		code, _ := classify(err)
		slog.Warn("pool operation rejected",
			"pool", poolID,
			"kind", kind,
			"account", req.Account,
			"code", code,
			"err", err,
		)
		if custody != nil {
			custody.refund(ctx, poolID)
		}
		return OperationResponse{}, err
	}

	entry := &model.LedgerEntry{
		ID:        uuid.New().String(),
		PoolID:    poolID,
		Account:   req.Account,
		Kind:      kind,
		Requested: amount.ToDecimal(receipt.Requested),
		Amount:    amount.ToDecimal(receipt.Amount),
		Reward:    amount.ToDecimal(receipt.Reward),
		Timestamp: time.Unix(int64(receipt.Timestamp), 0).UTC(),
	}

	var touched *model.Participant
	if part, ok := m.Ledger().Lookup(req.Account); ok {
		touched = &part
	}
	p := m.Ledger().Pool()

	if err := s.verify(ctx, m, now); err != nil {
		slog.Error("pool invariants violated, operation discarded",
			"pool", poolID,
			"kind", kind,
			"account", req.Account,
			"err", err,
		)
		if custody != nil {
			custody.refund(ctx, poolID)
		}
		return OperationResponse{}, err
	}

	var settle store.SettleFunc
	if custody != nil {
		settle = custody.flush
	}
	if err := s.store.Commit(ctx, p, touched, entry, settle); err != nil {
		// Payouts run inside the commit, so only pulled-in funds can be
		// stranded here.
		slog.Error("commit failed",
			"pool", poolID,
			"kind", kind,
			"account", req.Account,
			"entry", entry.ID,
			"err", err,
		)
		if custody != nil {
			custody.refund(ctx, poolID)
		}
		return OperationResponse{}, fmt.Errorf("persist %s: %w", kind, err)
	}
	delivered := receipt.Delivered
	if custody != nil && len(custody.pushes) > 0 {
		delivered = custody.delivered
	}

	resp = OperationResponse{
		EntryID:        entry.ID,
		PoolID:         poolID,
		Account:        req.Account,
		Kind:           kind,
		Requested:      entry.Requested,
		Amount:         entry.Amount,
		Reward:         entry.Reward,
		Delivered:      amount.ToDecimal(delivered),
		StakedBalance:  amount.ToDecimal(receipt.StakedBalance),
		TotalStaked:    amount.ToDecimal(receipt.TotalStaked),
		RewardPerShare: amount.ToDecimal(receipt.RewardPerShare),
		EndTime:        receipt.EndTime,
		Started:        receipt.Started,
		Paused:         receipt.Paused,
		Resumed:        receipt.Resumed,
		Timestamp:      receipt.Timestamp,
	}

	switch kind {
	case model.KindDeposit:
		metrics.StakedVolume.WithLabelValues(p.StakedAssetID).Add(resp.Amount.InexactFloat64())
	case model.KindSweep:
		metrics.ActivePools.Dec()
	}
	if resp.Reward.IsPositive() {
		metrics.RewardPaid.WithLabelValues(p.StakedAssetID).Add(resp.Reward.InexactFloat64())
	}

	slog.Info("pool operation committed",
		"entry", entry.ID,
		"pool", poolID,
		"kind", kind,
		"account", req.Account,
		"requested", resp.Requested.String(),
		"amount", resp.Amount.String(),
		"reward", resp.Reward.String(),
		"total_staked", resp.TotalStaked.String(),
		"end_time", resp.EndTime,
		"started", resp.Started,
		"paused", resp.Paused,
		"resumed", resp.Resumed,
	)

	s.broadcast(WSMessage{
		Type:        eventType(kind),
		PoolID:      poolID,
		Account:     req.Account,
		Amount:      resp.Amount.String(),
		Reward:      resp.Reward.String(),
		TotalStaked: resp.TotalStaked.String(),
		EndTime:     resp.EndTime,
		State:       m.State(now).String(),
	})
	return resp, nil
}

// load builds a ledger over the stored pool and, if present, account's
// participant record. Operations that will write back pass uncached so
// they never start from a stale cache entry.
func (s *Service) load(ctx context.Context, poolID, account string, uncached bool) (*ledger.Ledger, error) {
	getPool, getParticipant := s.store.GetPool, s.store.GetParticipant
	if uncached {
		getPool, getParticipant = s.store.GetPoolUncached, s.store.GetParticipantUncached
	}

	p, err := getPool(ctx, poolID)
	if err != nil {
		return nil, err
	}
	var parts []model.Participant
	if account != "" {
		part, err := getParticipant(ctx, poolID, account)
		switch {
		case err == nil:
			parts = append(parts, *part)
		case !errors.Is(err, store.ErrNotFound):
			return nil, err
		}
	}
	return ledger.New(*p, parts...), nil
}

// verify checks the ledger invariants across the whole pool as it would be
// after committing m: every stored participant, with the records m holds
// taking precedence.
func (s *Service) verify(ctx context.Context, m *pool.Machine, now uint64) error {
	p := m.Ledger().Pool()
	stored, err := s.store.ListParticipants(ctx, p.ID)
	if err != nil {
		return err
	}
	byAccount := make(map[string]model.Participant, len(stored)+1)
	for _, part := range stored {
		byAccount[part.Account] = part
	}
	for _, part := range m.Ledger().Participants() {
		byAccount[part.Account] = part
	}
	all := make([]model.Participant, 0, len(byAccount))
	for _, part := range byAccount {
		all = append(all, part)
	}
	return ledger.New(*p, all...).Verify(now)
}

// RefreshGauges recomputes gauges that are derived from stored state.
func (s *Service) RefreshGauges(ctx context.Context) error {
	pools, err := s.store.ListPools(ctx)
	if err != nil {
		return err
	}
	active := 0
	for _, p := range pools {
		if !p.Swept {
			active++
		}
	}
	metrics.ActivePools.Set(float64(active))
	return nil
}

func (s *Service) unixNow() uint64 {
	return uint64(s.now().Unix())
}

func (s *Service) broadcast(msg WSMessage) {
	if s.wsHub != nil {
		s.wsHub.Broadcast(msg)
	}
}

func eventType(kind string) string {
	switch kind {
	case model.KindFund:
		return "fund"
	case model.KindDeposit:
		return "deposit"
	case model.KindWithdraw:
		return "withdraw"
	case model.KindClaim:
		return "claim"
	default:
		return "sweep"
	}
}
