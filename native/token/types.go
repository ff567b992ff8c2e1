package token

import (
	"fmt"
	"math/big"
	"strings"
)

// Asset describes a fungible asset tracked by the ledger. Collateral assets
// are registered out-of-band; position tokens are registered by the pool
// registry with mint authority held by the protocol vault.
type Asset struct {
	Address         [20]byte
	Name            string
	Symbol          string
	Decimals        uint8
	Supply          *big.Int
	TransferFeeBps  uint32
	PermissionToken [20]byte
	MintAuthority   [20]byte
}

// Clone returns a deep copy of the asset so callers can safely mutate the copy
// without affecting the stored instance.
func (a *Asset) Clone() *Asset {
	if a == nil {
		return nil
	}
	clone := *a
	if a.Supply != nil {
		clone.Supply = new(big.Int).Set(a.Supply)
	} else {
		clone.Supply = big.NewInt(0)
	}
	return &clone
}

// SanitizeAsset validates and normalises the supplied asset definition,
// returning a cloned instance with a non-nil supply field. The function does
// not mutate the original value.
func SanitizeAsset(a *Asset) (*Asset, error) {
	if a == nil {
		return nil, fmt.Errorf("token: nil asset")
	}
	clone := a.Clone()
	clone.Symbol = strings.ToUpper(strings.TrimSpace(clone.Symbol))
	clone.Name = strings.TrimSpace(clone.Name)
	if clone.Symbol == "" {
		return nil, fmt.Errorf("token: symbol must not be empty")
	}
	if clone.Supply.Sign() < 0 {
		return nil, fmt.Errorf("token: supply must be non-negative")
	}
	if clone.TransferFeeBps > 10_000 {
		return nil, fmt.Errorf("token: transfer fee bps out of range")
	}
	return clone, nil
}
