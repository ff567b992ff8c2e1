package events

import (
	"math/big"

	"claimchain/core/types"
)

const (
	TypeFeeClaimAllocated = "claim.allocated"
	TypeFeeClaimReserved  = "claim.reserved"
	TypeFeeClaimed        = "claim.claimed"
	TypeTipAdded          = "claim.tip_added"
)

type FeeClaimAllocated struct {
	Asset     [20]byte
	Recipient [20]byte
	Amount    *big.Int
}

func (FeeClaimAllocated) EventType() string { return TypeFeeClaimAllocated }

func (e FeeClaimAllocated) Event() *types.Event {
	return &types.Event{
		Type: TypeFeeClaimAllocated,
		Attributes: map[string]string{
			"asset":     addrString(e.Asset),
			"recipient": addrString(e.Recipient),
			"amount":    formatAmount(e.Amount),
		},
	}
}

type FeeClaimReserved struct {
	PoolID uint64
	Amount *big.Int
}

func (FeeClaimReserved) EventType() string { return TypeFeeClaimReserved }

func (e FeeClaimReserved) Event() *types.Event {
	return &types.Event{
		Type: TypeFeeClaimReserved,
		Attributes: map[string]string{
			"poolId": uintToString(e.PoolID),
			"amount": formatAmount(e.Amount),
		},
	}
}

type FeeClaimed struct {
	Asset     [20]byte
	Recipient [20]byte
	Amount    *big.Int
}

func (FeeClaimed) EventType() string { return TypeFeeClaimed }

func (e FeeClaimed) Event() *types.Event {
	return &types.Event{
		Type: TypeFeeClaimed,
		Attributes: map[string]string{
			"asset":     addrString(e.Asset),
			"recipient": addrString(e.Recipient),
			"amount":    formatAmount(e.Amount),
		},
	}
}

type TipAdded struct {
	PoolID uint64
	Tipper [20]byte
	Amount *big.Int
}

func (TipAdded) EventType() string { return TypeTipAdded }

func (e TipAdded) Event() *types.Event {
	return &types.Event{
		Type: TypeTipAdded,
		Attributes: map[string]string{
			"poolId": uintToString(e.PoolID),
			"tipper": addrString(e.Tipper),
			"amount": formatAmount(e.Amount),
		},
	}
}
