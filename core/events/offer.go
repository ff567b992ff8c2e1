package events

import (
	"math/big"

	"claimchain/core/types"
)

const (
	TypeOfferFilled    = "offer.filled"
	TypeOfferCancelled = "offer.cancelled"
)

type OfferFilled struct {
	OfferHash   [32]byte
	Maker       [20]byte
	Taker       [20]byte
	PoolID      uint64
	TakerAmount *big.Int
	TakerFilled *big.Int
}

func (OfferFilled) EventType() string { return TypeOfferFilled }

func (e OfferFilled) Event() *types.Event {
	return &types.Event{
		Type: TypeOfferFilled,
		Attributes: map[string]string{
			"offerHash":   hashString(e.OfferHash),
			"maker":       addrString(e.Maker),
			"taker":       addrString(e.Taker),
			"poolId":      uintToString(e.PoolID),
			"takerAmount": formatAmount(e.TakerAmount),
			"takerFilled": formatAmount(e.TakerFilled),
		},
	}
}

type OfferCancelled struct {
	OfferHash [32]byte
	Maker     [20]byte
}

func (OfferCancelled) EventType() string { return TypeOfferCancelled }

func (e OfferCancelled) Event() *types.Event {
	return &types.Event{
		Type: TypeOfferCancelled,
		Attributes: map[string]string{
			"offerHash": hashString(e.OfferHash),
			"maker":     addrString(e.Maker),
		},
	}
}
