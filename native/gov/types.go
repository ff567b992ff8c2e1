package gov

import (
	"fmt"
	"math/big"
)

// Fixed-point scale used for fee rates and payout gradients: 1e18 == 100%.
var UnitScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

const (
	// Seconds per day, used by the period and delay constants.
	day = 24 * 60 * 60

	// MinPeriod and MaxPeriod bound every settlement window.
	MinPeriod int64 = 3 * day
	MaxPeriod int64 = 15 * day

	// MainDelay applies to fee, period and fallback-provider updates.
	MainDelay int64 = 60 * day
	// TreasuryDelay applies to treasury updates only.
	TreasuryDelay int64 = 2 * day

	// ModuleReturnCollateral names the pause switch guarding liquidity
	// removal and position redemption.
	ModuleReturnCollateral = "return_collateral"
)

// Fee bounds: a rate is either exactly zero or within [MinFeeRate, MaxFeeRate].
var (
	MinFeeRate = new(big.Int).Exp(big.NewInt(10), big.NewInt(14), nil) // 0.01%
	MaxFeeRate = new(big.Int).Mul(big.NewInt(15), new(big.Int).Exp(big.NewInt(10), big.NewInt(15), nil)) // 1.5%
)

// Fees is one entry of the append-only fee history. StartTime is the unix
// timestamp at which the entry becomes active.
type Fees struct {
	StartTime      int64
	ProtocolRate   *big.Int
	SettlementRate *big.Int
}

// Clone returns a deep copy of the fee entry.
func (f Fees) Clone() Fees {
	clone := f
	if f.ProtocolRate != nil {
		clone.ProtocolRate = new(big.Int).Set(f.ProtocolRate)
	} else {
		clone.ProtocolRate = big.NewInt(0)
	}
	if f.SettlementRate != nil {
		clone.SettlementRate = new(big.Int).Set(f.SettlementRate)
	} else {
		clone.SettlementRate = big.NewInt(0)
	}
	return clone
}

// Periods is one entry of the append-only settlement-period history. All
// windows are expressed in seconds.
type Periods struct {
	StartTime          int64
	Submission         int64
	Challenge          int64
	Review             int64
	FallbackSubmission int64
}

// Versioned carries the delayed-activation pattern for address parameters:
// reads resolve to Pending once the activation time has passed, otherwise to
// Previous. Activation == 0 means no pending update exists.
type Versioned struct {
	Previous   [20]byte
	Pending    [20]byte
	Activation int64
}

// Effective resolves the versioned value at the supplied time.
func (v Versioned) Effective(now int64) [20]byte {
	if v.Activation != 0 && now >= v.Activation {
		return v.Pending
	}
	return v.Previous
}

// PendingAt reports whether a not-yet-active update exists at the supplied time.
func (v Versioned) PendingAt(now int64) bool {
	return v.Activation != 0 && now < v.Activation
}

// Roles bundles the governed address parameters, the protocol owner, and the
// pause switches.
type Roles struct {
	Owner                  [20]byte
	Treasury               Versioned
	FallbackProvider       Versioned
	ReturnCollateralPaused bool
}

// Clone returns a copy of the roles record.
func (r *Roles) Clone() *Roles {
	if r == nil {
		return nil
	}
	clone := *r
	return &clone
}

// Snapshot is the resolved, active view of the governance ledger handed to the
// pool registry at creation time.
type Snapshot struct {
	Fees             Fees
	FeesIndex        uint64
	Periods          Periods
	PeriodsIndex     uint64
	Treasury         [20]byte
	FallbackProvider [20]byte
}

func validateFeeRate(rate *big.Int) error {
	if rate == nil || rate.Sign() < 0 {
		return fmt.Errorf("governance: fee rate must be non-negative")
	}
	if rate.Sign() == 0 {
		return nil
	}
	if rate.Cmp(MinFeeRate) < 0 || rate.Cmp(MaxFeeRate) > 0 {
		return fmt.Errorf("governance: fee rate outside [%s, %s]", MinFeeRate, MaxFeeRate)
	}
	return nil
}

func validatePeriod(name string, period int64) error {
	if period < MinPeriod || period > MaxPeriod {
		return fmt.Errorf("governance: %s period outside [%d, %d] seconds", name, MinPeriod, MaxPeriod)
	}
	return nil
}
