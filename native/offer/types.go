package offer

import (
	"math/big"
)

// Status is the derived, read-only state of an offer.
type Status uint8

const (
	StatusInvalid Status = iota
	StatusCancelled
	StatusFilled
	StatusExpired
	StatusFillable
)

func (s Status) String() string {
	switch s {
	case StatusInvalid:
		return "invalid"
	case StatusCancelled:
		return "cancelled"
	case StatusFilled:
		return "filled"
	case StatusExpired:
		return "expired"
	case StatusFillable:
		return "fillable"
	default:
		return "unknown"
	}
}

// Terms carries the fields shared by every offer variant. A zero taker means
// anyone may fill. The salt disambiguates otherwise identical offers, which
// would hash to the same value without it.
type Terms struct {
	Maker                  [20]byte
	Taker                  [20]byte
	OfferExpiry            int64
	MinimumTakerFillAmount *big.Int
	Salt                   *big.Int
}

// CreatePoolOffer is a signed agreement to create a contingent pool funded by
// both counterparties.
type CreatePoolOffer struct {
	Terms
	MakerCollateralAmount *big.Int
	TakerCollateralAmount *big.Int
	MakerIsLong           bool

	ReferenceAsset  string
	ExpiryTime      int64
	Floor           *big.Int
	Inflection      *big.Int
	Cap             *big.Int
	Gradient        *big.Int
	CollateralToken [20]byte
	DataProvider    [20]byte
	Capacity        *big.Int
	PermissionToken [20]byte
}

// AddLiquidityOffer is a signed agreement to jointly add liquidity to an
// existing pool.
type AddLiquidityOffer struct {
	Terms
	PoolID                uint64
	MakerCollateralAmount *big.Int
	TakerCollateralAmount *big.Int
	MakerIsLong           bool
}

// RemoveLiquidityOffer is a signed agreement to jointly remove liquidity: both
// parties burn their side's position tokens and split the returned collateral,
// with the maker receiving MakerCollateralAmount pro rata and the taker the
// remainder net of fees.
type RemoveLiquidityOffer struct {
	Terms
	PoolID                uint64
	PositionTokenAmount   *big.Int
	MakerCollateralAmount *big.Int
	MakerIsLong           bool
}

// FillState is the persisted bookkeeping for an offer hash. It is created on
// first fill or cancellation and persists indefinitely for replay protection.
type FillState struct {
	TakerFilled *big.Int
	Cancelled   bool
	PoolID      uint64
}

// Clone returns a deep copy of the fill state.
func (f *FillState) Clone() *FillState {
	if f == nil {
		return nil
	}
	clone := *f
	if f.TakerFilled != nil {
		clone.TakerFilled = new(big.Int).Set(f.TakerFilled)
	} else {
		clone.TakerFilled = big.NewInt(0)
	}
	return &clone
}

// State pairs the derived status with the amount that can actually be filled
// right now given balances, allowances and remaining capacity.
type State struct {
	Status               Status
	TakerFilled          *big.Int
	ActualFillableAmount *big.Int
	PoolID               uint64
}
