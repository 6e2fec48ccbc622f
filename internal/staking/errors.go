package staking

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/atmx/staking-pool/internal/amount"
	"github.com/atmx/staking-pool/internal/ident"
	"github.com/atmx/staking-pool/internal/ledger"
	"github.com/atmx/staking-pool/internal/pool"
	"github.com/atmx/staking-pool/internal/store"
)

// errorMapping gives every rejection a stable code so clients can tell
// "grace period still active" from "insufficient balance".
var errorMapping = []struct {
	err    error
	code   string
	status int
}{
	{pool.ErrAlreadyFunded, "already_funded", http.StatusConflict},
	{pool.ErrZeroReward, "zero_reward", http.StatusUnprocessableEntity},
	{pool.ErrNotFunded, "not_funded", http.StatusConflict},
	{pool.ErrZeroAmount, "zero_amount", http.StatusUnprocessableEntity},
	{pool.ErrPoolEnded, "pool_ended", http.StatusConflict},
	{pool.ErrNoTokensReceived, "no_tokens_received", http.StatusUnprocessableEntity},
	{pool.ErrInsufficientBalance, "insufficient_balance", http.StatusConflict},
	{pool.ErrNothingToClaim, "nothing_to_claim", http.StatusConflict},
	{pool.ErrUnauthorized, "unauthorized", http.StatusForbidden},
	{pool.ErrAlreadySwept, "already_swept", http.StatusConflict},
	{pool.ErrGracePeriodActive, "grace_period_active", http.StatusConflict},
	{pool.ErrNothingToSweep, "nothing_to_sweep", http.StatusConflict},
	{pool.ErrAdapterTransferFailed, "adapter_transfer_failed", http.StatusBadGateway},
	{pool.ErrReentrantCall, "reentrant_call", http.StatusConflict},
	{pool.ErrArithmeticOverflow, "arithmetic_overflow", http.StatusUnprocessableEntity},
	{amount.ErrInvalidAmount, "invalid_amount", http.StatusBadRequest},
	{ident.ErrInvalidAsset, "invalid_asset", http.StatusBadRequest},
	{ident.ErrInvalidAccount, "invalid_account", http.StatusBadRequest},
	{ident.ErrReserved, "reserved_account", http.StatusForbidden},
	{store.ErrNotFound, "not_found", http.StatusNotFound},
	{ledger.ErrInvariantViolated, "invariant_violated", http.StatusInternalServerError},
}

// classify maps err to its code and HTTP status.
func classify(err error) (string, int) {
	for _, m := range errorMapping {
		if errors.Is(err, m.err) {
			return m.code, m.status
		}
	}
	return "internal", http.StatusInternalServerError
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message, "code": code})
}

// writeErr classifies err and writes it.
func writeErr(w http.ResponseWriter, err error) {
	code, status := classify(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeError(w, code, msg, status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
