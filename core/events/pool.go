package events

import (
	"math/big"

	"claimchain/core/types"
)

const (
	TypePoolIssued       = "pool.issued"
	TypeLiquidityAdded   = "pool.liquidity_added"
	TypeLiquidityRemoved = "pool.liquidity_removed"
	TypePositionRedeemed = "pool.position_redeemed"
)

type PoolIssued struct {
	PoolID           uint64
	Creator          [20]byte
	ReferenceAsset   string
	CollateralToken  [20]byte
	CollateralAmount *big.Int
	ExpiryTime       int64
	DataProvider     [20]byte
	LongToken        [20]byte
	ShortToken       [20]byte
}

func (PoolIssued) EventType() string { return TypePoolIssued }

func (e PoolIssued) Event() *types.Event {
	return &types.Event{
		Type: TypePoolIssued,
		Attributes: map[string]string{
			"poolId":          uintToString(e.PoolID),
			"creator":         addrString(e.Creator),
			"referenceAsset":  e.ReferenceAsset,
			"collateralToken": addrString(e.CollateralToken),
			"amount":          formatAmount(e.CollateralAmount),
			"expiryTime":      intToString(e.ExpiryTime),
			"dataProvider":    addrString(e.DataProvider),
			"longToken":       addrString(e.LongToken),
			"shortToken":      addrString(e.ShortToken),
		},
	}
}

type LiquidityAdded struct {
	PoolID         uint64
	From           [20]byte
	Amount         *big.Int
	LongRecipient  [20]byte
	ShortRecipient [20]byte
}

func (LiquidityAdded) EventType() string { return TypeLiquidityAdded }

func (e LiquidityAdded) Event() *types.Event {
	return &types.Event{
		Type: TypeLiquidityAdded,
		Attributes: map[string]string{
			"poolId":         uintToString(e.PoolID),
			"from":           addrString(e.From),
			"amount":         formatAmount(e.Amount),
			"longRecipient":  addrString(e.LongRecipient),
			"shortRecipient": addrString(e.ShortRecipient),
		},
	}
}

type LiquidityRemoved struct {
	PoolID        uint64
	Caller        [20]byte
	Amount        *big.Int
	ProtocolFee   *big.Int
	SettlementFee *big.Int
	Returned      *big.Int
}

func (LiquidityRemoved) EventType() string { return TypeLiquidityRemoved }

func (e LiquidityRemoved) Event() *types.Event {
	return &types.Event{
		Type: TypeLiquidityRemoved,
		Attributes: map[string]string{
			"poolId":        uintToString(e.PoolID),
			"caller":        addrString(e.Caller),
			"amount":        formatAmount(e.Amount),
			"protocolFee":   formatAmount(e.ProtocolFee),
			"settlementFee": formatAmount(e.SettlementFee),
			"returned":      formatAmount(e.Returned),
		},
	}
}

type PositionRedeemed struct {
	PoolID        uint64
	Caller        [20]byte
	PositionToken [20]byte
	Amount        *big.Int
	Payout        *big.Int
}

func (PositionRedeemed) EventType() string { return TypePositionRedeemed }

func (e PositionRedeemed) Event() *types.Event {
	return &types.Event{
		Type: TypePositionRedeemed,
		Attributes: map[string]string{
			"poolId":        uintToString(e.PoolID),
			"caller":        addrString(e.Caller),
			"positionToken": addrString(e.PositionToken),
			"amount":        formatAmount(e.Amount),
			"payout":        formatAmount(e.Payout),
		},
	}
}
