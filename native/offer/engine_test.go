package offer

import (
	"crypto/ecdsa"
	"errors"
	"math/big"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"claimchain/native/gov"
	"claimchain/native/pool"
	"claimchain/native/token"
)

// mockState backs the offer fill records, the pool registry and the token
// ledger so fills can run against the real pool engine.
type mockState struct {
	nextID     uint64
	pools      map[uint64]*pool.Pool
	fills      map[[32]byte]*FillState
	assets     map[[20]byte]*token.Asset
	balances   map[string]*big.Int
	allowances map[string]*big.Int
}

func newMockState() *mockState {
	return &mockState{
		pools:      make(map[uint64]*pool.Pool),
		fills:      make(map[[32]byte]*FillState),
		assets:     make(map[[20]byte]*token.Asset),
		balances:   make(map[string]*big.Int),
		allowances: make(map[string]*big.Int),
	}
}

func (m *mockState) OfferFillGet(hash [32]byte) (*FillState, bool, error) {
	fs, ok := m.fills[hash]
	if !ok {
		return nil, false, nil
	}
	return fs.Clone(), true, nil
}

func (m *mockState) OfferFillPut(hash [32]byte, fs *FillState) error {
	m.fills[hash] = fs.Clone()
	return nil
}

func (m *mockState) PoolNextID() (uint64, error) {
	m.nextID++
	return m.nextID, nil
}

func (m *mockState) PoolPut(p *pool.Pool) error {
	m.pools[p.ID] = p.Clone()
	return nil
}

func (m *mockState) PoolGet(id uint64) (*pool.Pool, bool, error) {
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

func key(parts ...[20]byte) string {
	out := make([]byte, 0, len(parts)*20)
	for _, p := range parts {
		out = append(out, p[:]...)
	}
	return string(out)
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

type stubGov struct {
	snapshot gov.Snapshot
}

func (s *stubGov) CurrentParameters(int64) (gov.Snapshot, error) {
	return s.snapshot, nil
}

type recordingClaims struct{}

func (recordingClaims) Allocate(asset, recipient [20]byte, amount *big.Int) error { return nil }
func (recordingClaims) Reserve(poolID uint64, amount *big.Int) error              { return nil }

type stubPauses struct{}

func (stubPauses) IsPaused(string) bool { return false }

func addr(b byte) [20]byte {
	var out [20]byte
	out[19] = b
	return out
}

var (
	vault      = addr(100)
	treasury   = addr(101)
	provider   = addr(2)
	collateral = addr(50)
)

func scaled(n int64, exp int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(exp), nil))
}

type fixture struct {
	engine *Engine
	pools  *pool.Engine
	tokens *token.Ledger
	state  *mockState
	now    *int64

	makerKey *ecdsa.PrivateKey
	maker    [20]byte
	taker    [20]byte
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	state := newMockState()
	tokens := token.NewLedger()
	tokens.SetState(state)

	now := int64(1000)
	pools := pool.NewEngine()
	pools.SetState(state)
	pools.SetTokens(tokens)
	pools.SetGovernance(&stubGov{snapshot: gov.Snapshot{Treasury: treasury}})
	pools.SetFeeLedger(recordingClaims{})
	pools.SetPauses(stubPauses{})
	pools.SetVault(vault)

	engine := NewEngine()
	engine.SetState(state)
	engine.SetTokens(tokens)
	engine.SetPools(pools)
	engine.SetDomain(Domain{ChainID: 1, VerifyingContract: vault})

	f := &fixture{engine: engine, pools: pools, tokens: tokens, state: state, now: &now}
	pools.SetNowFunc(func() int64 { return *f.now })
	engine.SetNowFunc(func() int64 { return *f.now })

	makerKey, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	f.makerKey = makerKey
	f.maker = ethcrypto.PubkeyToAddress(makerKey.PublicKey)
	f.taker = addr(7)

	if err := tokens.Register(&token.Asset{
		Address:       collateral,
		Symbol:        "USDT",
		Decimals:      6,
		MintAuthority: vault,
	}); err != nil {
		t.Fatalf("register collateral: %v", err)
	}
	f.fund(t, f.maker, scaled(10_000, 6))
	f.fund(t, f.taker, scaled(10_000, 6))
	return f
}

func (f *fixture) fund(t *testing.T, holder [20]byte, amount *big.Int) {
	t.Helper()
	if err := f.tokens.Mint(collateral, vault, holder, amount); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := f.tokens.Approve(collateral, holder, vault, scaled(1, 30)); err != nil {
		t.Fatalf("approve: %v", err)
	}
}

func (f *fixture) createPoolOffer() *CreatePoolOffer {
	return &CreatePoolOffer{
		Terms: Terms{
			Maker:                  f.maker,
			OfferExpiry:            10_000,
			MinimumTakerFillAmount: scaled(100, 6),
			Salt:                   big.NewInt(1),
		},
		MakerCollateralAmount: scaled(500, 6),
		TakerCollateralAmount: scaled(500, 6),
		MakerIsLong:           true,
		ReferenceAsset:        "BTC/USD",
		ExpiryTime:            100_000,
		Floor:                 scaled(20_000, 18),
		Inflection:            scaled(40_000, 18),
		Cap:                   scaled(60_000, 18),
		Gradient:              scaled(5, 17),
		CollateralToken:       collateral,
		DataProvider:          provider,
		Capacity:              big.NewInt(0),
	}
}

func (f *fixture) sign(t *testing.T, digest [32]byte) []byte {
	t.Helper()
	sig, err := ethcrypto.Sign(digest[:], f.makerKey)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return sig
}

func TestFillCreatePoolOfferCreatesThenTopsUp(t *testing.T) {
	f := newFixture(t)
	o := f.createPoolOffer()
	sig := f.sign(t, o.Hash(f.engine.Domain()))

	poolID, err := f.engine.FillCreatePoolOffer(f.taker, o, sig, scaled(200, 6))
	if err != nil {
		t.Fatalf("first fill: %v", err)
	}
	if poolID != 1 {
		t.Fatalf("expected pool 1, got %d", poolID)
	}
	p, err := f.pools.Get(poolID)
	if err != nil {
		t.Fatalf("load pool: %v", err)
	}
	// Maker matched 1:1 on a 200e6 taker fill.
	if p.CollateralBalance.Cmp(scaled(400, 6)) != 0 {
		t.Fatalf("pool balance %s, want 400e6", p.CollateralBalance)
	}
	// The maker is long, the taker short.
	makerLong, _ := f.tokens.BalanceOf(p.LongToken, f.maker)
	takerShort, _ := f.tokens.BalanceOf(p.ShortToken, f.taker)
	if makerLong.Cmp(scaled(400, 6)) != 0 || takerShort.Cmp(scaled(400, 6)) != 0 {
		t.Fatalf("position balances %s/%s, want 400e6 each", makerLong, takerShort)
	}

	// A second fill lands in the same pool instead of creating a new one.
	again, err := f.engine.FillCreatePoolOffer(f.taker, o, sig, scaled(300, 6))
	if err != nil {
		t.Fatalf("second fill: %v", err)
	}
	if again != poolID {
		t.Fatalf("second fill created pool %d", again)
	}
	p, _ = f.pools.Get(poolID)
	if p.CollateralBalance.Cmp(scaled(1000, 6)) != 0 {
		t.Fatalf("pool balance %s, want 1000e6", p.CollateralBalance)
	}

	// The offer is now exhausted.
	if _, err := f.engine.FillCreatePoolOffer(f.taker, o, sig, scaled(1, 6)); !errors.Is(err, ErrFillTooLarge) {
		t.Fatalf("expected ErrFillTooLarge, got %v", err)
	}
}

func TestFirstFillMinimumBindsOnce(t *testing.T) {
	f := newFixture(t)
	o := f.createPoolOffer()
	sig := f.sign(t, o.Hash(f.engine.Domain()))

	if _, err := f.engine.FillCreatePoolOffer(f.taker, o, sig, scaled(50, 6)); !errors.Is(err, ErrFillBelowMinimum) {
		t.Fatalf("expected ErrFillBelowMinimum, got %v", err)
	}
	if _, err := f.engine.FillCreatePoolOffer(f.taker, o, sig, scaled(200, 6)); err != nil {
		t.Fatalf("first fill: %v", err)
	}
	// Later fills may go below the minimum.
	if _, err := f.engine.FillCreatePoolOffer(f.taker, o, sig, scaled(50, 6)); err != nil {
		t.Fatalf("small second fill: %v", err)
	}
}

func TestFillRejectsBadSignature(t *testing.T) {
	f := newFixture(t)
	o := f.createPoolOffer()

	otherKey, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	digest := o.Hash(f.engine.Domain())
	forged, err := ethcrypto.Sign(digest[:], otherKey)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := f.engine.FillCreatePoolOffer(f.taker, o, forged, scaled(200, 6)); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}

	// A valid signature over different terms must not carry over.
	sig := f.sign(t, digest)
	o.TakerCollateralAmount = scaled(900, 6)
	if _, err := f.engine.FillCreatePoolOffer(f.taker, o, sig, scaled(200, 6)); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature on tampered terms, got %v", err)
	}
}

func TestDesignatedTakerOnly(t *testing.T) {
	f := newFixture(t)
	o := f.createPoolOffer()
	o.Taker = f.taker
	sig := f.sign(t, o.Hash(f.engine.Domain()))

	if _, err := f.engine.FillCreatePoolOffer(addr(88), o, sig, scaled(200, 6)); !errors.Is(err, ErrTakerRestricted) {
		t.Fatalf("expected ErrTakerRestricted, got %v", err)
	}
	if _, err := f.engine.FillCreatePoolOffer(f.taker, o, sig, scaled(200, 6)); err != nil {
		t.Fatalf("designated taker fill: %v", err)
	}
}

func TestOfferExpiry(t *testing.T) {
	f := newFixture(t)
	o := f.createPoolOffer()
	sig := f.sign(t, o.Hash(f.engine.Domain()))

	*f.now = o.OfferExpiry + 1
	if _, err := f.engine.FillCreatePoolOffer(f.taker, o, sig, scaled(200, 6)); !errors.Is(err, ErrOfferExpired) {
		t.Fatalf("expected ErrOfferExpired, got %v", err)
	}
}

func TestCancelIsMakerOnlyAndIdempotent(t *testing.T) {
	f := newFixture(t)
	o := f.createPoolOffer()
	sig := f.sign(t, o.Hash(f.engine.Domain()))

	if err := f.engine.CancelCreatePoolOffer(f.taker, o); !errors.Is(err, ErrNotMaker) {
		t.Fatalf("expected ErrNotMaker, got %v", err)
	}
	if err := f.engine.CancelCreatePoolOffer(f.maker, o); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := f.engine.FillCreatePoolOffer(f.taker, o, sig, scaled(200, 6)); !errors.Is(err, ErrOfferCancelled) {
		t.Fatalf("expected ErrOfferCancelled, got %v", err)
	}
	if err := f.engine.CancelCreatePoolOffer(f.maker, o); err != nil {
		t.Fatalf("second cancel: %v", err)
	}
}

func TestOfferStateBoundsByMakerFunds(t *testing.T) {
	f := newFixture(t)
	o := f.createPoolOffer()
	sig := f.sign(t, o.Hash(f.engine.Domain()))

	st, err := f.engine.GetCreatePoolOfferState(o, sig)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if st.Status != StatusFillable {
		t.Fatalf("expected fillable, got %v", st.Status)
	}
	if st.ActualFillableAmount.Cmp(scaled(500, 6)) != 0 {
		t.Fatalf("fillable %s, want full 500e6", st.ActualFillableAmount)
	}

	// With the vault allowance lowered, the maker side binds the fill.
	if err := f.tokens.Approve(collateral, f.maker, vault, scaled(100, 6)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	st, err = f.engine.GetCreatePoolOfferState(o, sig)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if st.ActualFillableAmount.Cmp(scaled(100, 6)) != 0 {
		t.Fatalf("fillable %s, want allowance-bound 100e6", st.ActualFillableAmount)
	}

	// A wrong signature renders the offer invalid, not an error.
	st, err = f.engine.GetCreatePoolOfferState(o, make([]byte, 65))
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if st.Status != StatusInvalid {
		t.Fatalf("expected invalid, got %v", st.Status)
	}
}

func TestOfferStateRejectsUnfillablePoolParams(t *testing.T) {
	f := newFixture(t)

	// An offer whose pool expiry already passed can never be filled, so its
	// state must not report it fillable.
	o := f.createPoolOffer()
	o.ExpiryTime = *f.now - 500
	sig := f.sign(t, o.Hash(f.engine.Domain()))

	st, err := f.engine.GetCreatePoolOfferState(o, sig)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if st.Status != StatusInvalid {
		t.Fatalf("expected invalid, got %v", st.Status)
	}
	if st.ActualFillableAmount.Sign() != 0 {
		t.Fatalf("fillable %s, want 0", st.ActualFillableAmount)
	}
	if _, err := f.engine.FillCreatePoolOffer(f.taker, o, sig, scaled(200, 6)); err == nil {
		t.Fatal("fill of expired-pool offer must fail")
	}

	// Same for a malformed payout curve.
	o = f.createPoolOffer()
	o.Inflection = new(big.Int).Add(o.Cap, big.NewInt(1))
	sig = f.sign(t, o.Hash(f.engine.Domain()))
	st, err = f.engine.GetCreatePoolOfferState(o, sig)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if st.Status != StatusInvalid {
		t.Fatalf("expected invalid, got %v", st.Status)
	}
	if _, err := f.engine.FillCreatePoolOffer(f.taker, o, sig, scaled(200, 6)); err == nil {
		t.Fatal("fill of malformed-curve offer must fail")
	}
}

func TestFillAddLiquidityOffer(t *testing.T) {
	f := newFixture(t)
	o := f.createPoolOffer()
	sig := f.sign(t, o.Hash(f.engine.Domain()))
	poolID, err := f.engine.FillCreatePoolOffer(f.taker, o, sig, scaled(500, 6))
	if err != nil {
		t.Fatalf("create fill: %v", err)
	}

	add := &AddLiquidityOffer{
		Terms: Terms{
			Maker:       f.maker,
			OfferExpiry: 10_000,
			Salt:        big.NewInt(2),
		},
		PoolID:                poolID,
		MakerCollateralAmount: scaled(100, 6),
		TakerCollateralAmount: scaled(100, 6),
		MakerIsLong:           true,
	}
	addSig := f.sign(t, add.Hash(f.engine.Domain()))
	if err := f.engine.FillAddLiquidityOffer(f.taker, add, addSig, scaled(100, 6)); err != nil {
		t.Fatalf("add-liquidity fill: %v", err)
	}
	p, _ := f.pools.Get(poolID)
	if p.CollateralBalance.Cmp(scaled(1200, 6)) != 0 {
		t.Fatalf("pool balance %s, want 1200e6", p.CollateralBalance)
	}
}

func TestFillRemoveLiquidityOffer(t *testing.T) {
	f := newFixture(t)
	o := f.createPoolOffer()
	sig := f.sign(t, o.Hash(f.engine.Domain()))
	poolID, err := f.engine.FillCreatePoolOffer(f.taker, o, sig, scaled(500, 6))
	if err != nil {
		t.Fatalf("create fill: %v", err)
	}
	makerBefore, _ := f.tokens.BalanceOf(collateral, f.maker)
	takerBefore, _ := f.tokens.BalanceOf(collateral, f.taker)

	remove := &RemoveLiquidityOffer{
		Terms: Terms{
			Maker:       f.maker,
			OfferExpiry: 10_000,
			Salt:        big.NewInt(3),
		},
		PoolID:                poolID,
		PositionTokenAmount:   scaled(100, 6),
		MakerCollateralAmount: scaled(50, 6),
		MakerIsLong:           true,
	}
	removeSig := f.sign(t, remove.Hash(f.engine.Domain()))
	if err := f.engine.FillRemoveLiquidityOffer(f.taker, remove, removeSig, scaled(100, 6)); err != nil {
		t.Fatalf("remove-liquidity fill: %v", err)
	}

	p, _ := f.pools.Get(poolID)
	if p.CollateralBalance.Cmp(scaled(900, 6)) != 0 {
		t.Fatalf("pool balance %s, want 900e6", p.CollateralBalance)
	}
	// The maker takes their agreed share, the taker gets the rest net of
	// fees. Fees are zero here: the governance stub carries no rates.
	makerAfter, _ := f.tokens.BalanceOf(collateral, f.maker)
	takerAfter, _ := f.tokens.BalanceOf(collateral, f.taker)
	makerGain := new(big.Int).Sub(makerAfter, makerBefore)
	takerGain := new(big.Int).Sub(takerAfter, takerBefore)
	if makerGain.Cmp(scaled(50, 6)) != 0 {
		t.Fatalf("maker gain %s, want 50e6", makerGain)
	}
	if takerGain.Cmp(scaled(50, 6)) != 0 {
		t.Fatalf("taker gain %s, want 50e6", takerGain)
	}
	// Both position sides were burned.
	makerLong, _ := f.tokens.BalanceOf(p.LongToken, f.maker)
	if makerLong.Cmp(scaled(400, 6)) != 0 {
		t.Fatalf("maker long balance %s, want 400e6", makerLong)
	}
}

func TestHashDependsOnDomainAndSalt(t *testing.T) {
	f := newFixture(t)
	o := f.createPoolOffer()

	base := o.Hash(f.engine.Domain())
	if base == o.Hash(Domain{ChainID: 2, VerifyingContract: vault}) {
		t.Fatal("hash must bind the chain id")
	}
	other := f.createPoolOffer()
	other.Salt = big.NewInt(99)
	if base == other.Hash(f.engine.Domain()) {
		t.Fatal("hash must bind the salt")
	}
}
