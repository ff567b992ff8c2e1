package token

import (
	"errors"
	"math/big"
	"testing"
)

type mockState struct {
	assets     map[[20]byte]*Asset
	balances   map[string]*big.Int
	allowances map[string]*big.Int
}

func newMockState() *mockState {
	return &mockState{
		assets:     make(map[[20]byte]*Asset),
		balances:   make(map[string]*big.Int),
		allowances: make(map[string]*big.Int),
	}
}

func balanceKey(asset, holder [20]byte) string {
	return string(append(append([]byte{}, asset[:]...), holder[:]...))
}

func allowanceKey(asset, owner, spender [20]byte) string {
	key := append(append([]byte{}, asset[:]...), owner[:]...)
	return string(append(key, spender[:]...))
}

func (m *mockState) TokenPut(a *Asset) error {
	m.assets[a.Address] = a.Clone()
	return nil
}

func (m *mockState) TokenGet(addr [20]byte) (*Asset, bool, error) {
	a, ok := m.assets[addr]
	if !ok {
		return nil, false, nil
	}
	return a.Clone(), true, nil
}

func (m *mockState) BalancePut(asset, holder [20]byte, amount *big.Int) error {
	m.balances[balanceKey(asset, holder)] = new(big.Int).Set(amount)
	return nil
}

func (m *mockState) BalanceGet(asset, holder [20]byte) (*big.Int, error) {
	if bal, ok := m.balances[balanceKey(asset, holder)]; ok {
		return new(big.Int).Set(bal), nil
	}
	return big.NewInt(0), nil
}

func (m *mockState) AllowancePut(asset, owner, spender [20]byte, amount *big.Int) error {
	m.allowances[allowanceKey(asset, owner, spender)] = new(big.Int).Set(amount)
	return nil
}

func (m *mockState) AllowanceGet(asset, owner, spender [20]byte) (*big.Int, error) {
	if allowance, ok := m.allowances[allowanceKey(asset, owner, spender)]; ok {
		return new(big.Int).Set(allowance), nil
	}
	return big.NewInt(0), nil
}

func addr(b byte) [20]byte {
	var out [20]byte
	out[19] = b
	return out
}

func newTestLedger(t *testing.T) (*Ledger, *mockState) {
	t.Helper()
	ledger := NewLedger()
	state := newMockState()
	ledger.SetState(state)
	return ledger, state
}

func registerAsset(t *testing.T, ledger *Ledger, address, authority [20]byte) {
	t.Helper()
	err := ledger.Register(&Asset{
		Address:       address,
		Name:          "Test USD",
		Symbol:        "TUSD",
		Decimals:      6,
		MintAuthority: authority,
	})
	if err != nil {
		t.Fatalf("register asset: %v", err)
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	ledger, _ := newTestLedger(t)
	registerAsset(t, ledger, addr(1), addr(9))
	err := ledger.Register(&Asset{Address: addr(1), Symbol: "DUP", MintAuthority: addr(9)})
	if !errors.Is(err, ErrAssetExists) {
		t.Fatalf("expected ErrAssetExists, got %v", err)
	}
}

func TestMintRequiresAuthority(t *testing.T) {
	ledger, _ := newTestLedger(t)
	registerAsset(t, ledger, addr(1), addr(9))

	if err := ledger.Mint(addr(1), addr(8), addr(2), big.NewInt(100)); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
	if err := ledger.Mint(addr(1), addr(9), addr(2), big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	bal, err := ledger.BalanceOf(addr(1), addr(2))
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("expected balance 100, got %s", bal)
	}
	supply, err := ledger.TotalSupply(addr(1))
	if err != nil {
		t.Fatalf("supply: %v", err)
	}
	if supply.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("expected supply 100, got %s", supply)
	}
}

func TestBurnReducesSupplyAndBalance(t *testing.T) {
	ledger, _ := newTestLedger(t)
	registerAsset(t, ledger, addr(1), addr(9))
	if err := ledger.Mint(addr(1), addr(9), addr(2), big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	if err := ledger.Burn(addr(1), addr(9), addr(2), big.NewInt(40)); err != nil {
		t.Fatalf("burn: %v", err)
	}
	bal, _ := ledger.BalanceOf(addr(1), addr(2))
	if bal.Cmp(big.NewInt(60)) != 0 {
		t.Fatalf("expected balance 60, got %s", bal)
	}
	supply, _ := ledger.TotalSupply(addr(1))
	if supply.Cmp(big.NewInt(60)) != 0 {
		t.Fatalf("expected supply 60, got %s", supply)
	}
	if err := ledger.Burn(addr(1), addr(9), addr(2), big.NewInt(100)); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestTransferMovesBalance(t *testing.T) {
	ledger, _ := newTestLedger(t)
	registerAsset(t, ledger, addr(1), addr(9))
	if err := ledger.Mint(addr(1), addr(9), addr(2), big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	received, err := ledger.Transfer(addr(1), addr(2), addr(3), big.NewInt(25))
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if received.Cmp(big.NewInt(25)) != 0 {
		t.Fatalf("expected received 25, got %s", received)
	}
	from, _ := ledger.BalanceOf(addr(1), addr(2))
	to, _ := ledger.BalanceOf(addr(1), addr(3))
	if from.Cmp(big.NewInt(75)) != 0 || to.Cmp(big.NewInt(25)) != 0 {
		t.Fatalf("unexpected balances %s / %s", from, to)
	}
	if _, err := ledger.Transfer(addr(1), addr(2), addr(3), big.NewInt(1000)); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestTransferFeeBurnsOnTheWire(t *testing.T) {
	ledger, _ := newTestLedger(t)
	err := ledger.Register(&Asset{
		Address:        addr(1),
		Symbol:         "FEE",
		Decimals:       6,
		TransferFeeBps: 100,
		MintAuthority:  addr(9),
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := ledger.Mint(addr(1), addr(9), addr(2), big.NewInt(10_000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	received, err := ledger.Transfer(addr(1), addr(2), addr(3), big.NewInt(10_000))
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if received.Cmp(big.NewInt(9_900)) != 0 {
		t.Fatalf("expected received 9900, got %s", received)
	}
	supply, _ := ledger.TotalSupply(addr(1))
	if supply.Cmp(big.NewInt(9_900)) != 0 {
		t.Fatalf("expected supply 9900 after fee burn, got %s", supply)
	}
}

func TestTransferFromSpendsAllowance(t *testing.T) {
	ledger, _ := newTestLedger(t)
	registerAsset(t, ledger, addr(1), addr(9))
	if err := ledger.Mint(addr(1), addr(9), addr(2), big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	if _, err := ledger.TransferFrom(addr(1), addr(4), addr(2), addr(3), big.NewInt(30)); !errors.Is(err, ErrInsufficientAllow) {
		t.Fatalf("expected ErrInsufficientAllow, got %v", err)
	}
	if err := ledger.Approve(addr(1), addr(2), addr(4), big.NewInt(50)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := ledger.TransferFrom(addr(1), addr(4), addr(2), addr(3), big.NewInt(30)); err != nil {
		t.Fatalf("transferFrom: %v", err)
	}
	remaining, _ := ledger.Allowance(addr(1), addr(2), addr(4))
	if remaining.Cmp(big.NewInt(20)) != 0 {
		t.Fatalf("expected allowance 20, got %s", remaining)
	}
}

func TestPermissionGate(t *testing.T) {
	ledger, _ := newTestLedger(t)
	registerAsset(t, ledger, addr(1), addr(9))
	err := ledger.Register(&Asset{
		Address:         addr(5),
		Symbol:          "GATED",
		Decimals:        6,
		PermissionToken: addr(1),
		MintAuthority:   addr(9),
	})
	if err != nil {
		t.Fatalf("register gated: %v", err)
	}

	if err := ledger.Mint(addr(5), addr(9), addr(2), big.NewInt(10)); !errors.Is(err, ErrHolderNotPermitted) {
		t.Fatalf("expected ErrHolderNotPermitted, got %v", err)
	}
	if err := ledger.Mint(addr(1), addr(9), addr(2), big.NewInt(1)); err != nil {
		t.Fatalf("mint permission token: %v", err)
	}
	if err := ledger.Mint(addr(5), addr(9), addr(2), big.NewInt(10)); err != nil {
		t.Fatalf("mint gated after permission: %v", err)
	}
	// The zero address stays usable as a burn sink for gated assets.
	if err := ledger.Mint(addr(5), addr(9), [20]byte{}, big.NewInt(10)); err != nil {
		t.Fatalf("mint gated to zero address: %v", err)
	}
}
