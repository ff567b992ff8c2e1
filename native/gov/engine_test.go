package gov

import (
	"errors"
	"math/big"
	"testing"
)

type mockState struct {
	fees    []Fees
	periods []Periods
	rolesV  *Roles
}

func (m *mockState) GovFeesHistory() ([]Fees, error) {
	out := make([]Fees, len(m.fees))
	for i, f := range m.fees {
		out[i] = f.Clone()
	}
	return out, nil
}

func (m *mockState) GovFeesPutHistory(history []Fees) error {
	m.fees = make([]Fees, len(history))
	for i, f := range history {
		m.fees[i] = f.Clone()
	}
	return nil
}

func (m *mockState) GovPeriodsHistory() ([]Periods, error) {
	return append([]Periods{}, m.periods...), nil
}

func (m *mockState) GovPeriodsPutHistory(history []Periods) error {
	m.periods = append([]Periods{}, history...)
	return nil
}

func (m *mockState) GovRolesGet() (*Roles, bool, error) {
	if m.rolesV == nil {
		return nil, false, nil
	}
	return m.rolesV.Clone(), true, nil
}

func (m *mockState) GovRolesPut(r *Roles) error {
	m.rolesV = r.Clone()
	return nil
}

func addr(b byte) [20]byte {
	var out [20]byte
	out[19] = b
	return out
}

var (
	owner            = addr(1)
	treasury         = addr(2)
	fallbackProvider = addr(3)
)

func rate(n int64, exp int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(exp), nil))
}

func newTestEngine(t *testing.T, genesisTime int64) (*Engine, *int64) {
	t.Helper()
	now := genesisTime
	engine := NewEngine()
	engine.SetState(&mockState{})
	engine.SetNowFunc(func() int64 { return now })
	fees := Fees{ProtocolRate: rate(25, 14), SettlementRate: rate(5, 14)}
	periods := Periods{Submission: 7 * day, Challenge: 3 * day, Review: 5 * day, FallbackSubmission: 10 * day}
	if err := engine.InitGenesis(owner, treasury, fallbackProvider, fees, periods); err != nil {
		t.Fatalf("init genesis: %v", err)
	}
	return engine, &now
}

func TestInitGenesisRunsOnce(t *testing.T) {
	engine, _ := newTestEngine(t, 1000)
	err := engine.InitGenesis(owner, treasury, fallbackProvider,
		Fees{ProtocolRate: big.NewInt(0), SettlementRate: big.NewInt(0)},
		Periods{Submission: 7 * day, Challenge: 3 * day, Review: 5 * day, FallbackSubmission: 10 * day})
	if err == nil {
		t.Fatal("expected second genesis to fail")
	}
}

func TestProposeFeesActivatesAfterDelay(t *testing.T) {
	engine, now := newTestEngine(t, 1000)

	if err := engine.ProposeFees(addr(9), rate(1, 15), rate(1, 15)); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if err := engine.ProposeFees(owner, rate(1, 15), rate(1, 15)); err != nil {
		t.Fatalf("propose fees: %v", err)
	}

	snapshot, err := engine.CurrentParameters(*now)
	if err != nil {
		t.Fatalf("current parameters: %v", err)
	}
	if snapshot.Fees.ProtocolRate.Cmp(rate(25, 14)) != 0 {
		t.Fatalf("pending fees visible before activation: %s", snapshot.Fees.ProtocolRate)
	}
	if snapshot.FeesIndex != 0 {
		t.Fatalf("expected fee index 0, got %d", snapshot.FeesIndex)
	}

	*now += MainDelay
	snapshot, err = engine.CurrentParameters(*now)
	if err != nil {
		t.Fatalf("current parameters: %v", err)
	}
	if snapshot.Fees.ProtocolRate.Cmp(rate(1, 15)) != 0 {
		t.Fatalf("expected new fees after delay, got %s", snapshot.Fees.ProtocolRate)
	}
	if snapshot.FeesIndex != 1 {
		t.Fatalf("expected fee index 1, got %d", snapshot.FeesIndex)
	}

	// Superseded entries stay queryable by index.
	old, err := engine.FeesAt(0)
	if err != nil {
		t.Fatalf("fees at 0: %v", err)
	}
	if old.ProtocolRate.Cmp(rate(25, 14)) != 0 {
		t.Fatalf("expected genesis rate at index 0, got %s", old.ProtocolRate)
	}
}

func TestProposeFeesRejectsOutOfRange(t *testing.T) {
	engine, _ := newTestEngine(t, 1000)

	// Below the minimum but non-zero.
	if err := engine.ProposeFees(owner, rate(1, 13), big.NewInt(0)); err == nil {
		t.Fatal("expected sub-minimum rate to fail")
	}
	// Above the maximum.
	if err := engine.ProposeFees(owner, rate(2, 16), big.NewInt(0)); err == nil {
		t.Fatal("expected above-maximum rate to fail")
	}
	// Exactly zero is allowed.
	if err := engine.ProposeFees(owner, big.NewInt(0), big.NewInt(0)); err != nil {
		t.Fatalf("zero rate: %v", err)
	}
}

func TestProposeFeesBlocksSecondPending(t *testing.T) {
	engine, _ := newTestEngine(t, 1000)
	if err := engine.ProposeFees(owner, rate(1, 15), big.NewInt(0)); err != nil {
		t.Fatalf("propose: %v", err)
	}
	if err := engine.ProposeFees(owner, rate(2, 15), big.NewInt(0)); !errors.Is(err, ErrPendingUpdate) {
		t.Fatalf("expected ErrPendingUpdate, got %v", err)
	}
}

func TestRevokeFeesRestoresPrevious(t *testing.T) {
	engine, now := newTestEngine(t, 1000)

	if err := engine.RevokeFees(owner); !errors.Is(err, ErrNoPendingUpdate) {
		t.Fatalf("expected ErrNoPendingUpdate, got %v", err)
	}
	if err := engine.ProposeFees(owner, rate(1, 15), big.NewInt(0)); err != nil {
		t.Fatalf("propose: %v", err)
	}
	if err := engine.RevokeFees(owner); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	*now += MainDelay
	snapshot, err := engine.CurrentParameters(*now)
	if err != nil {
		t.Fatalf("current parameters: %v", err)
	}
	if snapshot.Fees.ProtocolRate.Cmp(rate(25, 14)) != 0 {
		t.Fatalf("expected genesis rate after revoke, got %s", snapshot.Fees.ProtocolRate)
	}

	// An activated entry can no longer be revoked.
	if err := engine.RevokeFees(owner); !errors.Is(err, ErrNoPendingUpdate) {
		t.Fatalf("expected ErrNoPendingUpdate, got %v", err)
	}
}

func TestProposePeriodsValidatesBounds(t *testing.T) {
	engine, now := newTestEngine(t, 1000)

	if err := engine.ProposePeriods(owner, 2*day, 3*day, 5*day, 10*day); err == nil {
		t.Fatal("expected sub-minimum period to fail")
	}
	if err := engine.ProposePeriods(owner, 16*day, 3*day, 5*day, 10*day); err == nil {
		t.Fatal("expected above-maximum period to fail")
	}
	if err := engine.ProposePeriods(owner, 4*day, 4*day, 4*day, 4*day); err != nil {
		t.Fatalf("propose periods: %v", err)
	}

	*now += MainDelay
	snapshot, err := engine.CurrentParameters(*now)
	if err != nil {
		t.Fatalf("current parameters: %v", err)
	}
	if snapshot.Periods.Submission != 4*day || snapshot.PeriodsIndex != 1 {
		t.Fatalf("expected new periods active, got %+v", snapshot.Periods)
	}
}

func TestTreasuryUsesShortDelay(t *testing.T) {
	engine, now := newTestEngine(t, 1000)

	next := addr(7)
	if err := engine.ProposeTreasury(owner, next); err != nil {
		t.Fatalf("propose treasury: %v", err)
	}
	effective, err := engine.Treasury(*now)
	if err != nil {
		t.Fatalf("treasury: %v", err)
	}
	if effective != treasury {
		t.Fatal("treasury changed before activation")
	}

	*now += TreasuryDelay
	effective, err = engine.Treasury(*now)
	if err != nil {
		t.Fatalf("treasury: %v", err)
	}
	if effective != next {
		t.Fatal("treasury not changed after delay")
	}
}

func TestFallbackProviderUsesMainDelay(t *testing.T) {
	engine, now := newTestEngine(t, 1000)

	next := addr(8)
	if err := engine.ProposeFallbackProvider(owner, next); err != nil {
		t.Fatalf("propose fallback: %v", err)
	}

	*now += TreasuryDelay
	effective, _ := engine.FallbackProvider(*now)
	if effective != fallbackProvider {
		t.Fatal("fallback provider changed before the main delay")
	}

	*now += MainDelay
	effective, _ = engine.FallbackProvider(*now)
	if effective != next {
		t.Fatal("fallback provider not changed after the main delay")
	}
}

func TestRevokeRoleClearsPending(t *testing.T) {
	engine, now := newTestEngine(t, 1000)

	if err := engine.ProposeTreasury(owner, addr(7)); err != nil {
		t.Fatalf("propose: %v", err)
	}
	if err := engine.RevokeTreasury(owner); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	*now += TreasuryDelay
	effective, _ := engine.Treasury(*now)
	if effective != treasury {
		t.Fatal("revoked treasury update still activated")
	}
}

func TestPauseSwitchIsImmediateAndIdempotent(t *testing.T) {
	engine, _ := newTestEngine(t, 1000)

	if engine.IsPaused(ModuleReturnCollateral) {
		t.Fatal("paused at genesis")
	}
	if err := engine.SetReturnCollateralPause(owner, true); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if !engine.IsPaused(ModuleReturnCollateral) {
		t.Fatal("not paused after switch")
	}
	// Re-pausing is a no-op, not an error.
	if err := engine.SetReturnCollateralPause(owner, true); err != nil {
		t.Fatalf("re-pause: %v", err)
	}
	if err := engine.SetReturnCollateralPause(owner, false); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	if engine.IsPaused(ModuleReturnCollateral) {
		t.Fatal("still paused after unpause")
	}
}
