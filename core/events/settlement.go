package events

import (
	"math/big"

	"claimchain/core/types"
)

const (
	TypeFinalValueSubmitted  = "settlement.submitted"
	TypeFinalValueChallenged = "settlement.challenged"
	TypeFinalValueConfirmed  = "settlement.confirmed"
)

type FinalValueSubmitted struct {
	PoolID         uint64
	Submitter      [20]byte
	Value          *big.Int
	AllowChallenge bool
}

func (FinalValueSubmitted) EventType() string { return TypeFinalValueSubmitted }

func (e FinalValueSubmitted) Event() *types.Event {
	allow := "false"
	if e.AllowChallenge {
		allow = "true"
	}
	return &types.Event{
		Type: TypeFinalValueSubmitted,
		Attributes: map[string]string{
			"poolId":         uintToString(e.PoolID),
			"submitter":      addrString(e.Submitter),
			"value":          formatAmount(e.Value),
			"allowChallenge": allow,
		},
	}
}

type FinalValueChallenged struct {
	PoolID        uint64
	Challenger    [20]byte
	ProposedValue *big.Int
}

func (FinalValueChallenged) EventType() string { return TypeFinalValueChallenged }

func (e FinalValueChallenged) Event() *types.Event {
	return &types.Event{
		Type: TypeFinalValueChallenged,
		Attributes: map[string]string{
			"poolId":        uintToString(e.PoolID),
			"challenger":    addrString(e.Challenger),
			"proposedValue": formatAmount(e.ProposedValue),
		},
	}
}

type FinalValueConfirmed struct {
	PoolID      uint64
	Value       *big.Int
	PayoutLong  *big.Int
	PayoutShort *big.Int
	Recipient   [20]byte
}

func (FinalValueConfirmed) EventType() string { return TypeFinalValueConfirmed }

func (e FinalValueConfirmed) Event() *types.Event {
	return &types.Event{
		Type: TypeFinalValueConfirmed,
		Attributes: map[string]string{
			"poolId":      uintToString(e.PoolID),
			"value":       formatAmount(e.Value),
			"payoutLong":  formatAmount(e.PayoutLong),
			"payoutShort": formatAmount(e.PayoutShort),
			"recipient":   addrString(e.Recipient),
		},
	}
}
