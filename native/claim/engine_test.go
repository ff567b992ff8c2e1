package claim

import (
	"errors"
	"math/big"
	"testing"

	"claimchain/native/pool"
	"claimchain/native/token"
)

type mockState struct {
	claims     map[string]*big.Int
	reserved   map[uint64]*big.Int
	assets     map[[20]byte]*token.Asset
	balances   map[string]*big.Int
	allowances map[string]*big.Int
}

func newMockState() *mockState {
	return &mockState{
		claims:     make(map[string]*big.Int),
		reserved:   make(map[uint64]*big.Int),
		assets:     make(map[[20]byte]*token.Asset),
		balances:   make(map[string]*big.Int),
		allowances: make(map[string]*big.Int),
	}
}

func key(parts ...[20]byte) string {
	out := make([]byte, 0, len(parts)*20)
	for _, p := range parts {
		out = append(out, p[:]...)
	}
	return string(out)
}

func (m *mockState) ClaimGet(asset, recipient [20]byte) (*big.Int, error) {
	if bal, ok := m.claims[key(asset, recipient)]; ok {
		return new(big.Int).Set(bal), nil
	}
	return big.NewInt(0), nil
}

func (m *mockState) ClaimPut(asset, recipient [20]byte, amount *big.Int) error {
	m.claims[key(asset, recipient)] = new(big.Int).Set(amount)
	return nil
}

func (m *mockState) ReservedGet(poolID uint64) (*big.Int, error) {
	if amt, ok := m.reserved[poolID]; ok {
		return new(big.Int).Set(amt), nil
	}
	return big.NewInt(0), nil
}

func (m *mockState) ReservedPut(poolID uint64, amount *big.Int) error {
	m.reserved[poolID] = new(big.Int).Set(amount)
	return nil
}

func (m *mockState) TokenPut(a *token.Asset) error {
	m.assets[a.Address] = a.Clone()
	return nil
}

func (m *mockState) TokenGet(addr [20]byte) (*token.Asset, bool, error) {
	a, ok := m.assets[addr]
	if !ok {
		return nil, false, nil
	}
	return a.Clone(), true, nil
}

func (m *mockState) BalancePut(asset, holder [20]byte, amount *big.Int) error {
	m.balances[key(asset, holder)] = new(big.Int).Set(amount)
	return nil
}

func (m *mockState) BalanceGet(asset, holder [20]byte) (*big.Int, error) {
	if bal, ok := m.balances[key(asset, holder)]; ok {
		return new(big.Int).Set(bal), nil
	}
	return big.NewInt(0), nil
}

func (m *mockState) AllowancePut(asset, owner, spender [20]byte, amount *big.Int) error {
	m.allowances[key(asset, owner, spender)] = new(big.Int).Set(amount)
	return nil
}

func (m *mockState) AllowanceGet(asset, owner, spender [20]byte) (*big.Int, error) {
	if allowance, ok := m.allowances[key(asset, owner, spender)]; ok {
		return new(big.Int).Set(allowance), nil
	}
	return big.NewInt(0), nil
}

type stubPools struct {
	pool *pool.Pool
}

func (s *stubPools) Get(id uint64) (*pool.Pool, error) {
	if s.pool == nil || s.pool.ID != id {
		return nil, pool.ErrPoolNotFound
	}
	return s.pool.Clone(), nil
}

func addr(b byte) [20]byte {
	var out [20]byte
	out[19] = b
	return out
}

var (
	vault      = addr(100)
	recipient  = addr(1)
	tipper     = addr(2)
	collateral = addr(50)
)

type fixture struct {
	engine *Engine
	tokens *token.Ledger
	state  *mockState
	pools  *stubPools
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	state := newMockState()
	tokens := token.NewLedger()
	tokens.SetState(state)

	pools := &stubPools{pool: &pool.Pool{
		ID:              1,
		CollateralToken: collateral,
		Status:          pool.StatusOpen,
	}}

	engine := NewEngine()
	engine.SetState(state)
	engine.SetTokens(tokens)
	engine.SetPools(pools)
	engine.SetVault(vault)

	if err := tokens.Register(&token.Asset{
		Address:       collateral,
		Symbol:        "USDT",
		Decimals:      6,
		MintAuthority: vault,
	}); err != nil {
		t.Fatalf("register collateral: %v", err)
	}
	return &fixture{engine: engine, tokens: tokens, state: state, pools: pools}
}

func (f *fixture) fundVault(t *testing.T, amount int64) {
	t.Helper()
	if err := f.tokens.Mint(collateral, vault, vault, big.NewInt(amount)); err != nil {
		t.Fatalf("mint to vault: %v", err)
	}
}

func TestAllocateAccumulates(t *testing.T) {
	f := newFixture(t)

	if err := f.engine.Allocate(collateral, recipient, big.NewInt(100)); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if err := f.engine.Allocate(collateral, recipient, big.NewInt(50)); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	bal, err := f.engine.Claimable(collateral, recipient)
	if err != nil {
		t.Fatalf("claimable: %v", err)
	}
	if bal.Cmp(big.NewInt(150)) != 0 {
		t.Fatalf("claimable %s, want 150", bal)
	}
	if err := f.engine.Allocate(collateral, recipient, big.NewInt(0)); err == nil {
		t.Fatal("expected zero allocation to fail")
	}
}

func TestReserveAndResolve(t *testing.T) {
	f := newFixture(t)

	if err := f.engine.Reserve(1, big.NewInt(300)); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := f.engine.Reserve(1, big.NewInt(200)); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	reserved, _ := f.engine.Reserved(1)
	if reserved.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("reserved %s, want 500", reserved)
	}

	if err := f.engine.ResolveReserved(1, collateral, recipient); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	reserved, _ = f.engine.Reserved(1)
	if reserved.Sign() != 0 {
		t.Fatalf("reservation not cleared: %s", reserved)
	}
	bal, _ := f.engine.Claimable(collateral, recipient)
	if bal.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("claimable %s, want 500", bal)
	}

	// Resolving an empty reservation is a no-op.
	if err := f.engine.ResolveReserved(1, collateral, recipient); err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	bal, _ = f.engine.Claimable(collateral, recipient)
	if bal.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("claimable changed on empty resolve: %s", bal)
	}
}

func TestAddTipRequiresOpenPool(t *testing.T) {
	f := newFixture(t)

	if err := f.tokens.Mint(collateral, vault, tipper, big.NewInt(1000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := f.tokens.Approve(collateral, tipper, vault, big.NewInt(1000)); err != nil {
		t.Fatalf("approve: %v", err)
	}

	if err := f.engine.AddTip(tipper, 1, big.NewInt(400)); err != nil {
		t.Fatalf("tip: %v", err)
	}
	reserved, _ := f.engine.Reserved(1)
	if reserved.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("reserved %s, want 400", reserved)
	}
	vaultBal, _ := f.tokens.BalanceOf(collateral, vault)
	if vaultBal.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("vault holds %s, want 400", vaultBal)
	}

	f.pools.pool.Status = pool.StatusSubmitted
	if err := f.engine.AddTip(tipper, 1, big.NewInt(100)); !errors.Is(err, ErrTipNotOpen) {
		t.Fatalf("expected ErrTipNotOpen, got %v", err)
	}
	if err := f.engine.AddTip(tipper, 99, big.NewInt(100)); !errors.Is(err, pool.ErrPoolNotFound) {
		t.Fatalf("expected ErrPoolNotFound, got %v", err)
	}
}

func TestClaimPaysWholeBalanceFromVault(t *testing.T) {
	f := newFixture(t)
	f.fundVault(t, 1000)

	if err := f.engine.Allocate(collateral, recipient, big.NewInt(700)); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	paid, err := f.engine.Claim(collateral, recipient)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if paid.Cmp(big.NewInt(700)) != 0 {
		t.Fatalf("paid %s, want 700", paid)
	}
	bal, _ := f.tokens.BalanceOf(collateral, recipient)
	if bal.Cmp(big.NewInt(700)) != 0 {
		t.Fatalf("recipient balance %s, want 700", bal)
	}
	remaining, _ := f.engine.Claimable(collateral, recipient)
	if remaining.Sign() != 0 {
		t.Fatalf("claimable not cleared: %s", remaining)
	}

	// A second claim pays nothing and does not fail.
	paid, err = f.engine.Claim(collateral, recipient)
	if err != nil {
		t.Fatalf("empty claim: %v", err)
	}
	if paid.Sign() != 0 {
		t.Fatalf("empty claim paid %s", paid)
	}
}

func TestTransferClaimReassignsBalance(t *testing.T) {
	f := newFixture(t)
	other := addr(9)

	if err := f.engine.Allocate(collateral, recipient, big.NewInt(500)); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if err := f.engine.TransferClaim(collateral, recipient, big.NewInt(600), other); !errors.Is(err, ErrInsufficientClaim) {
		t.Fatalf("expected ErrInsufficientClaim, got %v", err)
	}
	if err := f.engine.TransferClaim(collateral, recipient, big.NewInt(200), other); err != nil {
		t.Fatalf("transfer claim: %v", err)
	}
	fromBal, _ := f.engine.Claimable(collateral, recipient)
	toBal, _ := f.engine.Claimable(collateral, other)
	if fromBal.Cmp(big.NewInt(300)) != 0 || toBal.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("balances %s/%s, want 300/200", fromBal, toBal)
	}
	if err := f.engine.TransferClaim(collateral, recipient, big.NewInt(10), [20]byte{}); err == nil {
		t.Fatal("expected zero recipient to fail")
	}

	// No physical assets moved.
	bal, _ := f.tokens.BalanceOf(collateral, other)
	if bal.Sign() != 0 {
		t.Fatalf("transfer claim moved assets: %s", bal)
	}
}
