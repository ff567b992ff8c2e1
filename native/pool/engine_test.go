package pool

import (
	"errors"
	"math/big"
	"testing"

	"claimchain/native/gov"
	"claimchain/native/token"
)

// mockState backs both the pool registry and the token ledger.
type mockState struct {
	nextID     uint64
	pools      map[uint64]*Pool
	assets     map[[20]byte]*token.Asset
	balances   map[string]*big.Int
	allowances map[string]*big.Int
}

func newMockState() *mockState {
	return &mockState{
		pools:      make(map[uint64]*Pool),
		assets:     make(map[[20]byte]*token.Asset),
		balances:   make(map[string]*big.Int),
		allowances: make(map[string]*big.Int),
	}
}

func (m *mockState) PoolNextID() (uint64, error) {
	m.nextID++
	return m.nextID, nil
}

func (m *mockState) PoolPut(p *Pool) error {
	m.pools[p.ID] = p.Clone()
	return nil
}

func (m *mockState) PoolGet(id uint64) (*Pool, bool, error) {
	p, ok := m.pools[id]
	if !ok {
		return nil, false, nil
	}
	return p.Clone(), true, nil
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

func balKey(asset, holder [20]byte) string {
	return string(append(append([]byte{}, asset[:]...), holder[:]...))
}

func allowKey(asset, owner, spender [20]byte) string {
	key := append(append([]byte{}, asset[:]...), owner[:]...)
	return string(append(key, spender[:]...))
}

func (m *mockState) BalancePut(asset, holder [20]byte, amount *big.Int) error {
	m.balances[balKey(asset, holder)] = new(big.Int).Set(amount)
	return nil
}

func (m *mockState) BalanceGet(asset, holder [20]byte) (*big.Int, error) {
	if bal, ok := m.balances[balKey(asset, holder)]; ok {
		return new(big.Int).Set(bal), nil
	}
	return big.NewInt(0), nil
}

func (m *mockState) AllowancePut(asset, owner, spender [20]byte, amount *big.Int) error {
	m.allowances[allowKey(asset, owner, spender)] = new(big.Int).Set(amount)
	return nil
}

func (m *mockState) AllowanceGet(asset, owner, spender [20]byte) (*big.Int, error) {
	if allowance, ok := m.allowances[allowKey(asset, owner, spender)]; ok {
		return new(big.Int).Set(allowance), nil
	}
	return big.NewInt(0), nil
}

// stubGov hands out a fixed snapshot.
type stubGov struct {
	snapshot gov.Snapshot
}

func (s *stubGov) CurrentParameters(int64) (gov.Snapshot, error) {
	return s.snapshot, nil
}

// recordingClaims captures fee routing.
type recordingClaims struct {
	allocated map[[20]byte]*big.Int
	reserved  map[uint64]*big.Int
}

func newRecordingClaims() *recordingClaims {
	return &recordingClaims{
		allocated: make(map[[20]byte]*big.Int),
		reserved:  make(map[uint64]*big.Int),
	}
}

func (c *recordingClaims) Allocate(asset, recipient [20]byte, amount *big.Int) error {
	total, ok := c.allocated[recipient]
	if !ok {
		total = big.NewInt(0)
	}
	c.allocated[recipient] = new(big.Int).Add(total, amount)
	return nil
}

func (c *recordingClaims) Reserve(poolID uint64, amount *big.Int) error {
	total, ok := c.reserved[poolID]
	if !ok {
		total = big.NewInt(0)
	}
	c.reserved[poolID] = new(big.Int).Add(total, amount)
	return nil
}

type stubPauses struct {
	paused bool
}

func (s *stubPauses) IsPaused(string) bool { return s.paused }

func addr(b byte) [20]byte {
	var out [20]byte
	out[19] = b
	return out
}

var (
	vault      = addr(100)
	treasury   = addr(101)
	creator    = addr(1)
	provider   = addr(2)
	collateral = addr(50)
)

func scaled(n int64, exp int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(exp), nil))
}

type fixture struct {
	engine *Engine
	tokens *token.Ledger
	state  *mockState
	claims *recordingClaims
	pauses *stubPauses
	now    *int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	state := newMockState()
	tokens := token.NewLedger()
	tokens.SetState(state)

	now := int64(1000)
	claims := newRecordingClaims()
	pauses := &stubPauses{}
	snapshot := gov.Snapshot{
		Fees: gov.Fees{
			StartTime:      0,
			ProtocolRate:   scaled(25, 14), // 0.25%
			SettlementRate: scaled(5, 14),  // 0.05%
		},
		Periods:  gov.Periods{Submission: 7 * 86400, Challenge: 3 * 86400, Review: 5 * 86400, FallbackSubmission: 10 * 86400},
		Treasury: treasury,
	}

	engine := NewEngine()
	engine.SetState(state)
	engine.SetTokens(tokens)
	engine.SetGovernance(&stubGov{snapshot: snapshot})
	engine.SetFeeLedger(claims)
	engine.SetPauses(pauses)
	engine.SetVault(vault)
	engine.SetNowFunc(func() int64 { return now })

	// Six-decimal collateral asset funded to the creator.
	if err := tokens.Register(&token.Asset{
		Address:       collateral,
		Symbol:        "USDT",
		Decimals:      6,
		MintAuthority: addr(99),
	}); err != nil {
		t.Fatalf("register collateral: %v", err)
	}
	fund(t, tokens, creator, scaled(1_000_000, 6))

	return &fixture{engine: engine, tokens: tokens, state: state, claims: claims, pauses: pauses, now: &now}
}

func fund(t *testing.T, tokens *token.Ledger, holder [20]byte, amount *big.Int) {
	t.Helper()
	if err := tokens.Mint(collateral, addr(99), holder, amount); err != nil {
		t.Fatalf("mint collateral: %v", err)
	}
	if err := tokens.Approve(collateral, holder, vault, scaled(1, 30)); err != nil {
		t.Fatalf("approve vault: %v", err)
	}
}

func defaultParams() Params {
	return Params{
		ReferenceAsset:   "BTC/USD",
		ExpiryTime:       100_000,
		Floor:            scaled(20_000, 18),
		Inflection:       scaled(40_000, 18),
		Cap:              scaled(60_000, 18),
		Gradient:         scaled(5, 17), // 0.5
		CollateralAmount: scaled(1000, 6),
		CollateralToken:  collateral,
		DataProvider:     provider,
		LongRecipient:    creator,
		ShortRecipient:   creator,
	}
}

func TestCreatePoolMintsMatchingPositions(t *testing.T) {
	f := newFixture(t)

	p, err := f.engine.CreatePool(creator, defaultParams())
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	if p.ID != 1 {
		t.Fatalf("expected pool id 1, got %d", p.ID)
	}
	if p.Status != StatusOpen {
		t.Fatalf("expected open status, got %v", p.Status)
	}

	// Long and short supply both equal the collateral balance.
	for _, side := range [][20]byte{p.LongToken, p.ShortToken} {
		supply, err := f.tokens.TotalSupply(side)
		if err != nil {
			t.Fatalf("supply: %v", err)
		}
		if supply.Cmp(p.CollateralBalance) != 0 {
			t.Fatalf("position supply %s != collateral balance %s", supply, p.CollateralBalance)
		}
		bal, _ := f.tokens.BalanceOf(side, creator)
		if bal.Cmp(p.CollateralBalance) != 0 {
			t.Fatalf("creator position balance %s != %s", bal, p.CollateralBalance)
		}
	}

	// Collateral moved into the vault.
	vaultBal, _ := f.tokens.BalanceOf(collateral, vault)
	if vaultBal.Cmp(scaled(1000, 6)) != 0 {
		t.Fatalf("expected vault balance 1000e6, got %s", vaultBal)
	}

	// Governance parameters are frozen into the pool.
	if p.Fees.ProtocolRate.Cmp(scaled(25, 14)) != 0 {
		t.Fatalf("fee snapshot missing: %s", p.Fees.ProtocolRate)
	}
	if p.Periods.Submission != 7*86400 {
		t.Fatalf("period snapshot missing: %d", p.Periods.Submission)
	}
}

func TestCreatePoolValidation(t *testing.T) {
	f := newFixture(t)

	params := defaultParams()
	params.ExpiryTime = 500 // before now
	if _, err := f.engine.CreatePool(creator, params); err == nil {
		t.Fatal("expected past expiry to fail")
	}

	params = defaultParams()
	params.Inflection = scaled(70_000, 18) // above cap
	if _, err := f.engine.CreatePool(creator, params); err == nil {
		t.Fatal("expected unordered curve to fail")
	}

	params = defaultParams()
	params.Gradient = scaled(2, 18) // above one
	if _, err := f.engine.CreatePool(creator, params); err == nil {
		t.Fatal("expected gradient above one to fail")
	}

	params = defaultParams()
	params.CollateralAmount = big.NewInt(100) // below the minimum
	if _, err := f.engine.CreatePool(creator, params); err == nil {
		t.Fatal("expected dust collateral to fail")
	}

	params = defaultParams()
	params.Capacity = scaled(500, 6) // below the deposit
	if _, err := f.engine.CreatePool(creator, params); !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}
}

func TestAddLiquidityRespectsExpiryAndCapacity(t *testing.T) {
	f := newFixture(t)

	params := defaultParams()
	params.Capacity = scaled(1500, 6)
	p, err := f.engine.CreatePool(creator, params)
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}

	if err := f.engine.AddLiquidity(creator, p.ID, scaled(400, 6), creator, creator); err != nil {
		t.Fatalf("add liquidity: %v", err)
	}
	updated, _ := f.engine.Get(p.ID)
	if updated.CollateralBalance.Cmp(scaled(1400, 6)) != 0 {
		t.Fatalf("expected balance 1400e6, got %s", updated.CollateralBalance)
	}

	if err := f.engine.AddLiquidity(creator, p.ID, scaled(200, 6), creator, creator); !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}

	*f.now = 200_000
	if err := f.engine.AddLiquidity(creator, p.ID, scaled(10, 6), creator, creator); !errors.Is(err, ErrPoolExpired) {
		t.Fatalf("expected ErrPoolExpired, got %v", err)
	}
}

func TestRemoveLiquidityDeductsSnapshottedFees(t *testing.T) {
	f := newFixture(t)

	p, err := f.engine.CreatePool(creator, defaultParams())
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}

	returned, err := f.engine.RemoveLiquidity(creator, p.ID, scaled(100, 6))
	if err != nil {
		t.Fatalf("remove liquidity: %v", err)
	}
	// 100e6 less 0.25% protocol fee and 0.05% settlement fee.
	if returned.Cmp(big.NewInt(99_700_000)) != 0 {
		t.Fatalf("expected 99.7e6 returned, got %s", returned)
	}
	if got := f.claims.allocated[treasury]; got == nil || got.Cmp(big.NewInt(250_000)) != 0 {
		t.Fatalf("expected protocol fee 0.25e6 allocated to treasury, got %s", got)
	}
	if got := f.claims.reserved[p.ID]; got == nil || got.Cmp(big.NewInt(50_000)) != 0 {
		t.Fatalf("expected settlement fee 0.05e6 reserved, got %s", got)
	}

	updated, _ := f.engine.Get(p.ID)
	if updated.CollateralBalance.Cmp(scaled(900, 6)) != 0 {
		t.Fatalf("expected balance 900e6, got %s", updated.CollateralBalance)
	}
	longSupply, _ := f.tokens.TotalSupply(p.LongToken)
	if longSupply.Cmp(scaled(900, 6)) != 0 {
		t.Fatalf("expected long supply 900e6, got %s", longSupply)
	}
}

func TestRemoveLiquidityRejectsDustWithNonZeroFee(t *testing.T) {
	f := newFixture(t)

	p, err := f.engine.CreatePool(creator, defaultParams())
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	// 100 units is below 1/rate, so the fee would round to zero.
	if _, err := f.engine.RemoveLiquidity(creator, p.ID, big.NewInt(100)); !errors.Is(err, ErrZeroFee) {
		t.Fatalf("expected ErrZeroFee, got %v", err)
	}
}

func TestRemoveLiquidityHonoursPause(t *testing.T) {
	f := newFixture(t)

	p, err := f.engine.CreatePool(creator, defaultParams())
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	f.pauses.paused = true
	if _, err := f.engine.RemoveLiquidity(creator, p.ID, scaled(100, 6)); err == nil {
		t.Fatal("expected removal to fail while paused")
	}
	f.pauses.paused = false
	if _, err := f.engine.RemoveLiquidity(creator, p.ID, scaled(100, 6)); err != nil {
		t.Fatalf("remove after unpause: %v", err)
	}
}

func TestBatchCreateAbortsOnFirstFailure(t *testing.T) {
	f := newFixture(t)

	bad := defaultParams()
	bad.ExpiryTime = 1
	_, err := f.engine.BatchCreatePool(creator, []Params{defaultParams(), bad, defaultParams()})
	if err == nil {
		t.Fatal("expected batch to fail")
	}
	// The first item settled before the failure aborted the batch.
	if _, err := f.engine.Get(1); err != nil {
		t.Fatalf("expected pool 1 to exist: %v", err)
	}
	if _, err := f.engine.Get(2); !errors.Is(err, ErrPoolNotFound) {
		t.Fatalf("expected pool 2 missing, got %v", err)
	}
}

func TestDerivePositionTokenIsStable(t *testing.T) {
	long := DerivePositionToken(7, 'L')
	short := DerivePositionToken(7, 'S')
	if long == short {
		t.Fatal("long and short tokens must differ")
	}
	if long != DerivePositionToken(7, 'L') {
		t.Fatal("derivation must be deterministic")
	}
	if long == DerivePositionToken(8, 'L') {
		t.Fatal("derivation must depend on the pool id")
	}
}
