package events

import (
	"claimchain/core/types"
)

const (
	TypeGovernanceUpdated = "gov.updated"
	TypeGovernanceRevoked = "gov.revoked"
	TypeGovernancePaused  = "gov.paused"
)

// GovernanceUpdated is emitted for every successful propose* call. Parameter
// identifies which ledger entry changed ("fees", "periods", "treasury",
// "fallbackProvider").
type GovernanceUpdated struct {
	Parameter  string
	Activation int64
}

func (GovernanceUpdated) EventType() string { return TypeGovernanceUpdated }

func (e GovernanceUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeGovernanceUpdated,
		Attributes: map[string]string{
			"parameter":  e.Parameter,
			"activation": intToString(e.Activation),
		},
	}
}

type GovernanceRevoked struct {
	Parameter string
}

func (GovernanceRevoked) EventType() string { return TypeGovernanceRevoked }

func (e GovernanceRevoked) Event() *types.Event {
	return &types.Event{
		Type: TypeGovernanceRevoked,
		Attributes: map[string]string{
			"parameter": e.Parameter,
		},
	}
}

type GovernancePaused struct {
	Module string
	Paused bool
}

func (GovernancePaused) EventType() string { return TypeGovernancePaused }

func (e GovernancePaused) Event() *types.Event {
	paused := "false"
	if e.Paused {
		paused = "true"
	}
	return &types.Event{
		Type: TypeGovernancePaused,
		Attributes: map[string]string{
			"module": e.Module,
			"paused": paused,
		},
	}
}
