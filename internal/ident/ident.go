// Package ident parses and validates the identifiers that cross the API:
// staked asset IDs and account names.
package ident

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// CustodyPrefix marks settlement accounts owned by pools. Callers may not
// act as them.
const CustodyPrefix = "pool:"

// assetRegex matches: {SYMBOL} or {SYMBOL}:{issuer}
// Example: STK, USDC:0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48
var assetRegex = regexp.MustCompile(
	`^([A-Z][A-Z0-9]{1,11})(?::([A-Za-z0-9._-]{1,64}))?$`,
)

var accountRegex = regexp.MustCompile(`^[A-Za-z0-9._:@-]{1,128}$`)

var (
	ErrInvalidAsset   = errors.New("ident: invalid asset id")
	ErrInvalidAccount = errors.New("ident: invalid account")
	ErrReserved       = errors.New("ident: reserved account")
)

// Asset is a parsed staked asset identifier.
type Asset struct {
	ID     string `json:"id"`
	Symbol string `json:"symbol"`
	Issuer string `json:"issuer,omitempty"`
}

// ParseAsset parses and validates an asset ID.
// Format: {SYMBOL}[:{issuer}]
func ParseAsset(id string) (*Asset, error) {
	matches := assetRegex.FindStringSubmatch(id)
	if matches == nil {
		return nil, fmt.Errorf("%w: %q (expected SYMBOL or SYMBOL:issuer)", ErrInvalidAsset, id)
	}
	return &Asset{
		ID:     id,
		Symbol: matches[1],
		Issuer: matches[2],
	}, nil
}

// ValidateAccount checks that account is well formed and not a pool's
// custody account.
func ValidateAccount(account string) error {
	if !accountRegex.MatchString(account) {
		return fmt.Errorf("%w: %q", ErrInvalidAccount, account)
	}
	if strings.HasPrefix(account, CustodyPrefix) {
		return fmt.Errorf("%w: %q", ErrReserved, account)
	}
	return nil
}

// CustodyAccount is the settlement account that holds a pool's assets.
func CustodyAccount(poolID string) string {
	return CustodyPrefix + poolID
}
