package pool

import (
	"fmt"
	"math/big"
	"strings"

	"claimchain/native/gov"
)

// Status tracks the settlement progress of a pool's final reference value.
type Status uint8

const (
	StatusOpen Status = iota
	StatusSubmitted
	StatusChallenged
	StatusConfirmed
)

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusSubmitted, StatusChallenged, StatusConfirmed:
		return true
	default:
		return false
	}
}

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusSubmitted:
		return "submitted"
	case StatusChallenged:
		return "challenged"
	case StatusConfirmed:
		return "confirmed"
	default:
		return "unknown"
	}
}

var (
	// MinCollateralAmount is the smallest collateral deposit accepted at
	// pool creation.
	MinCollateralAmount = big.NewInt(1_000_000)
	// CapBound is the exclusive upper sanity bound on the payout-curve cap.
	CapBound = new(big.Int).Exp(big.NewInt(10), big.NewInt(59), nil)
)

const (
	MinCollateralDecimals uint8 = 6
	MaxCollateralDecimals uint8 = 18
)

// Params carries the caller-supplied pool definition validated at creation.
type Params struct {
	ReferenceAsset   string
	ExpiryTime       int64
	Floor            *big.Int
	Inflection       *big.Int
	Cap              *big.Int
	Gradient         *big.Int
	CollateralAmount *big.Int
	CollateralToken  [20]byte
	DataProvider     [20]byte
	Capacity         *big.Int
	LongRecipient    [20]byte
	ShortRecipient   [20]byte
	PermissionToken  [20]byte
}

// Pool is the stored record for one contingent pool. The payout-curve fields,
// collateral token, provider, capacity and the governance snapshot are
// immutable after creation; balance and settlement fields mutate over the
// lifecycle.
type Pool struct {
	ID                  uint64
	ReferenceAsset      string
	ExpiryTime          int64
	Floor               *big.Int
	Inflection          *big.Int
	Cap                 *big.Int
	Gradient            *big.Int
	CollateralToken     [20]byte
	CollateralBalance   *big.Int
	Capacity            *big.Int
	DataProvider        [20]byte
	PermissionToken     [20]byte
	LongToken           [20]byte
	ShortToken          [20]byte
	FeesIndex           uint64
	PeriodsIndex        uint64
	Fees                gov.Fees
	Periods             gov.Periods
	Status              Status
	StatusTimestamp     int64
	FinalReferenceValue *big.Int
	ChallengeValue      *big.Int
	PayoutLong          *big.Int
	PayoutShort         *big.Int
	CreatedAt           int64
}

// Clone returns a deep copy of the pool so callers can safely mutate the copy
// without affecting the stored instance.
func (p *Pool) Clone() *Pool {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Floor = cloneBigInt(p.Floor)
	clone.Inflection = cloneBigInt(p.Inflection)
	clone.Cap = cloneBigInt(p.Cap)
	clone.Gradient = cloneBigInt(p.Gradient)
	clone.CollateralBalance = cloneBigInt(p.CollateralBalance)
	clone.Capacity = cloneBigInt(p.Capacity)
	clone.FinalReferenceValue = cloneBigInt(p.FinalReferenceValue)
	clone.ChallengeValue = cloneBigInt(p.ChallengeValue)
	clone.PayoutLong = cloneBigInt(p.PayoutLong)
	clone.PayoutShort = cloneBigInt(p.PayoutShort)
	clone.Fees = p.Fees.Clone()
	return &clone
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// SanitizePool validates and normalises the supplied pool record, returning a
// cloned instance with non-nil amount fields. The function does not mutate the
// original value.
func SanitizePool(p *Pool) (*Pool, error) {
	if p == nil {
		return nil, fmt.Errorf("pool: nil pool")
	}
	clone := p.Clone()
	clone.ReferenceAsset = strings.TrimSpace(clone.ReferenceAsset)
	if clone.ReferenceAsset == "" {
		return nil, fmt.Errorf("pool: reference asset must not be empty")
	}
	if clone.Floor.Cmp(clone.Inflection) > 0 || clone.Inflection.Cmp(clone.Cap) > 0 {
		return nil, fmt.Errorf("pool: floor <= inflection <= cap violated")
	}
	if clone.CollateralBalance.Sign() < 0 {
		return nil, fmt.Errorf("pool: collateral balance must be non-negative")
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("pool: invalid status %d", clone.Status)
	}
	return clone, nil
}
