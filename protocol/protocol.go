package protocol

import (
	"math/big"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"claimchain/core/events"
	"claimchain/native/claim"
	"claimchain/native/gov"
	"claimchain/native/offer"
	"claimchain/native/pool"
	"claimchain/native/settlement"
	"claimchain/native/token"
	"claimchain/state"
	"claimchain/storage"
)

// VaultAddress is the deterministic address holding pooled collateral and
// acting as position-token mint authority. No key exists for it; only the
// engines move its funds.
func VaultAddress() [20]byte {
	hash := ethcrypto.Keccak256([]byte("claimchain/protocol/vault"))
	var addr [20]byte
	copy(addr[:], hash[12:])
	return addr
}

// Protocol wires the module engines over a shared state database and
// serializes writes so every operation is atomic: a failing call rolls back
// all of its state changes. Reads take the shared side of the lock, so they
// never observe the overlay of an in-flight write.
type Protocol struct {
	mu sync.RWMutex

	state      *state.StateDB
	tokens     *token.Ledger
	gov        *gov.Engine
	pools      *pool.Engine
	claims     *claim.Engine
	settlement *settlement.Engine
	offers     *offer.Engine
	vault      [20]byte
}

// New assembles the engines over the supplied database. The chain id scopes
// signed offers to this deployment.
func New(db storage.Database, chainID uint64, emitter events.Emitter) *Protocol {
	sdb := state.NewStateDB(db)
	vault := VaultAddress()

	tokens := token.NewLedger()
	tokens.SetState(sdb)

	govEngine := gov.NewEngine()
	govEngine.SetState(sdb)
	govEngine.SetEmitter(emitter)

	claims := claim.NewEngine()
	claims.SetState(sdb)
	claims.SetTokens(tokens)
	claims.SetVault(vault)
	claims.SetEmitter(emitter)

	pools := pool.NewEngine()
	pools.SetState(sdb)
	pools.SetTokens(tokens)
	pools.SetGovernance(govEngine)
	pools.SetFeeLedger(claims)
	pools.SetPauses(govEngine)
	pools.SetVault(vault)
	pools.SetEmitter(emitter)

	claims.SetPools(pools)

	settle := settlement.NewEngine()
	settle.SetState(sdb)
	settle.SetTokens(tokens)
	settle.SetGovernance(govEngine)
	settle.SetClaims(claims)
	settle.SetPauses(govEngine)
	settle.SetVault(vault)
	settle.SetEmitter(emitter)

	offers := offer.NewEngine()
	offers.SetState(sdb)
	offers.SetTokens(tokens)
	offers.SetPools(pools)
	offers.SetDomain(offer.Domain{ChainID: chainID, VerifyingContract: vault})
	offers.SetEmitter(emitter)

	return &Protocol{
		state:      sdb,
		tokens:     tokens,
		gov:        govEngine,
		pools:      pools,
		claims:     claims,
		settlement: settle,
		offers:     offers,
		vault:      vault,
	}
}

// SetNowFunc overrides the time source of every engine, for tests.
func (p *Protocol) SetNowFunc(now func() int64) {
	p.gov.SetNowFunc(now)
	p.pools.SetNowFunc(now)
	p.claims.SetNowFunc(now)
	p.settlement.SetNowFunc(now)
	p.offers.SetNowFunc(now)
}

// Vault returns the protocol vault address.
func (p *Protocol) Vault() [20]byte { return p.vault }

// OfferDomain returns the signing domain for off-registry offers.
func (p *Protocol) OfferDomain() offer.Domain { return p.offers.Domain() }

// write runs fn under the write lock inside a state overlay. On error every
// write fn performed is discarded.
func (p *Protocol) write(fn func() error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state.Begin()
	if err := fn(); err != nil {
		p.state.Rollback()
		return err
	}
	return p.state.Commit()
}

// read runs fn under the read lock against committed state only.
func (p *Protocol) read(fn func() error) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return fn()
}

// --- Genesis ---

// InitGenesis seeds the governance ledger. It must run exactly once on a
// fresh database.
func (p *Protocol) InitGenesis(owner, treasury, fallbackProvider [20]byte, fees gov.Fees, periods gov.Periods) error {
	return p.write(func() error {
		return p.gov.InitGenesis(owner, treasury, fallbackProvider, fees, periods)
	})
}

// --- Token operations ---

// RegisterAsset registers a collateral asset with the ledger.
func (p *Protocol) RegisterAsset(a *token.Asset) error {
	return p.write(func() error { return p.tokens.Register(a) })
}

// MintAsset mints collateral, gated on the asset's mint authority.
func (p *Protocol) MintAsset(asset, caller, to [20]byte, amount *big.Int) error {
	return p.write(func() error { return p.tokens.Mint(asset, caller, to, amount) })
}

// Approve grants the spender an allowance over the owner's balance.
func (p *Protocol) Approve(asset, owner, spender [20]byte, amount *big.Int) error {
	return p.write(func() error { return p.tokens.Approve(asset, owner, spender, amount) })
}

// Transfer moves tokens between holders and returns the received amount.
func (p *Protocol) Transfer(asset, from, to [20]byte, amount *big.Int) (*big.Int, error) {
	var received *big.Int
	err := p.write(func() error {
		var err error
		received, err = p.tokens.Transfer(asset, from, to, amount)
		return err
	})
	return received, err
}

// BalanceOf returns a holder's asset balance.
func (p *Protocol) BalanceOf(asset, holder [20]byte) (*big.Int, error) {
	var bal *big.Int
	err := p.read(func() error {
		var err error
		bal, err = p.tokens.BalanceOf(asset, holder)
		return err
	})
	return bal, err
}

// Allowance returns a spender allowance.
func (p *Protocol) Allowance(asset, owner, spender [20]byte) (*big.Int, error) {
	var allowance *big.Int
	err := p.read(func() error {
		var err error
		allowance, err = p.tokens.Allowance(asset, owner, spender)
		return err
	})
	return allowance, err
}

// --- Governance operations ---

func (p *Protocol) ProposeFees(caller [20]byte, protocolRate, settlementRate *big.Int) error {
	return p.write(func() error { return p.gov.ProposeFees(caller, protocolRate, settlementRate) })
}

func (p *Protocol) RevokeFees(caller [20]byte) error {
	return p.write(func() error { return p.gov.RevokeFees(caller) })
}

func (p *Protocol) ProposePeriods(caller [20]byte, submission, challenge, review, fallbackSubmission int64) error {
	return p.write(func() error {
		return p.gov.ProposePeriods(caller, submission, challenge, review, fallbackSubmission)
	})
}

func (p *Protocol) RevokePeriods(caller [20]byte) error {
	return p.write(func() error { return p.gov.RevokePeriods(caller) })
}

func (p *Protocol) ProposeTreasury(caller, addr [20]byte) error {
	return p.write(func() error { return p.gov.ProposeTreasury(caller, addr) })
}

func (p *Protocol) RevokeTreasury(caller [20]byte) error {
	return p.write(func() error { return p.gov.RevokeTreasury(caller) })
}

func (p *Protocol) ProposeFallbackProvider(caller, addr [20]byte) error {
	return p.write(func() error { return p.gov.ProposeFallbackProvider(caller, addr) })
}

func (p *Protocol) RevokeFallbackProvider(caller [20]byte) error {
	return p.write(func() error { return p.gov.RevokeFallbackProvider(caller) })
}

func (p *Protocol) SetReturnCollateralPause(caller [20]byte, paused bool) error {
	return p.write(func() error { return p.gov.SetReturnCollateralPause(caller, paused) })
}

// GovernanceSnapshot returns the currently active parameters.
func (p *Protocol) GovernanceSnapshot(now int64) (gov.Snapshot, error) {
	var snapshot gov.Snapshot
	err := p.read(func() error {
		var err error
		snapshot, err = p.gov.CurrentParameters(now)
		return err
	})
	return snapshot, err
}

// Owner returns the protocol owner address.
func (p *Protocol) Owner() ([20]byte, error) {
	var owner [20]byte
	err := p.read(func() error {
		var err error
		owner, err = p.gov.Owner()
		return err
	})
	return owner, err
}

// --- Pool operations ---

func (p *Protocol) CreatePool(creator [20]byte, params pool.Params) (*pool.Pool, error) {
	var created *pool.Pool
	err := p.write(func() error {
		var err error
		created, err = p.pools.CreatePool(creator, params)
		return err
	})
	return created, err
}

func (p *Protocol) BatchCreatePool(creator [20]byte, items []pool.Params) ([]*pool.Pool, error) {
	var created []*pool.Pool
	err := p.write(func() error {
		var err error
		created, err = p.pools.BatchCreatePool(creator, items)
		return err
	})
	return created, err
}

func (p *Protocol) AddLiquidity(caller [20]byte, poolID uint64, amount *big.Int, longRecipient, shortRecipient [20]byte) error {
	return p.write(func() error {
		return p.pools.AddLiquidity(caller, poolID, amount, longRecipient, shortRecipient)
	})
}

func (p *Protocol) BatchAddLiquidity(caller [20]byte, items []pool.BatchAddLiquidityItem) error {
	return p.write(func() error { return p.pools.BatchAddLiquidity(caller, items) })
}

func (p *Protocol) RemoveLiquidity(caller [20]byte, poolID uint64, amount *big.Int) (*big.Int, error) {
	var returned *big.Int
	err := p.write(func() error {
		var err error
		returned, err = p.pools.RemoveLiquidity(caller, poolID, amount)
		return err
	})
	return returned, err
}

func (p *Protocol) BatchRemoveLiquidity(caller [20]byte, items []pool.BatchRemoveLiquidityItem) error {
	return p.write(func() error { return p.pools.BatchRemoveLiquidity(caller, items) })
}

// GetPool returns a copy of the stored pool.
func (p *Protocol) GetPool(id uint64) (*pool.Pool, error) {
	var found *pool.Pool
	err := p.read(func() error {
		var err error
		found, err = p.pools.Get(id)
		return err
	})
	return found, err
}

// --- Settlement operations ---

func (p *Protocol) SetFinalReferenceValue(caller [20]byte, poolID uint64, value *big.Int, allowChallenge bool) error {
	return p.write(func() error {
		return p.settlement.SetFinalReferenceValue(caller, poolID, value, allowChallenge)
	})
}

func (p *Protocol) ChallengeFinalReferenceValue(caller [20]byte, poolID uint64, proposedValue *big.Int) error {
	return p.write(func() error {
		return p.settlement.ChallengeFinalReferenceValue(caller, poolID, proposedValue)
	})
}

func (p *Protocol) ConfirmPendingValue(poolID uint64) error {
	return p.write(func() error { return p.settlement.ConfirmPendingValue(poolID) })
}

func (p *Protocol) RedeemPositionToken(caller [20]byte, poolID uint64, positionToken [20]byte, amount *big.Int) (*big.Int, error) {
	var paid *big.Int
	err := p.write(func() error {
		var err error
		paid, err = p.settlement.RedeemPositionToken(caller, poolID, positionToken, amount)
		return err
	})
	return paid, err
}

// --- Claim operations ---

func (p *Protocol) Claimable(asset, recipient [20]byte) (*big.Int, error) {
	var claimable *big.Int
	err := p.read(func() error {
		var err error
		claimable, err = p.claims.Claimable(asset, recipient)
		return err
	})
	return claimable, err
}

func (p *Protocol) Reserved(poolID uint64) (*big.Int, error) {
	var reserved *big.Int
	err := p.read(func() error {
		var err error
		reserved, err = p.claims.Reserved(poolID)
		return err
	})
	return reserved, err
}

func (p *Protocol) AddTip(tipper [20]byte, poolID uint64, amount *big.Int) error {
	return p.write(func() error { return p.claims.AddTip(tipper, poolID, amount) })
}

func (p *Protocol) ClaimFees(asset, recipient [20]byte) (*big.Int, error) {
	var paid *big.Int
	err := p.write(func() error {
		var err error
		paid, err = p.claims.Claim(asset, recipient)
		return err
	})
	return paid, err
}

func (p *Protocol) TransferClaim(asset, from [20]byte, amount *big.Int, to [20]byte) error {
	return p.write(func() error { return p.claims.TransferClaim(asset, from, amount, to) })
}

// --- Offer operations ---

func (p *Protocol) FillCreatePoolOffer(taker [20]byte, o *offer.CreatePoolOffer, sig []byte, amount *big.Int) (uint64, error) {
	var poolID uint64
	err := p.write(func() error {
		var err error
		poolID, err = p.offers.FillCreatePoolOffer(taker, o, sig, amount)
		return err
	})
	return poolID, err
}

func (p *Protocol) FillAddLiquidityOffer(taker [20]byte, o *offer.AddLiquidityOffer, sig []byte, amount *big.Int) error {
	return p.write(func() error { return p.offers.FillAddLiquidityOffer(taker, o, sig, amount) })
}

func (p *Protocol) FillRemoveLiquidityOffer(taker [20]byte, o *offer.RemoveLiquidityOffer, sig []byte, amount *big.Int) error {
	return p.write(func() error { return p.offers.FillRemoveLiquidityOffer(taker, o, sig, amount) })
}

func (p *Protocol) CancelCreatePoolOffer(caller [20]byte, o *offer.CreatePoolOffer) error {
	return p.write(func() error { return p.offers.CancelCreatePoolOffer(caller, o) })
}

func (p *Protocol) CancelAddLiquidityOffer(caller [20]byte, o *offer.AddLiquidityOffer) error {
	return p.write(func() error { return p.offers.CancelAddLiquidityOffer(caller, o) })
}

func (p *Protocol) CancelRemoveLiquidityOffer(caller [20]byte, o *offer.RemoveLiquidityOffer) error {
	return p.write(func() error { return p.offers.CancelRemoveLiquidityOffer(caller, o) })
}

func (p *Protocol) GetCreatePoolOfferState(o *offer.CreatePoolOffer, sig []byte) (*offer.State, error) {
	var st *offer.State
	err := p.read(func() error {
		var err error
		st, err = p.offers.GetCreatePoolOfferState(o, sig)
		return err
	})
	return st, err
}

func (p *Protocol) GetAddLiquidityOfferState(o *offer.AddLiquidityOffer, sig []byte) (*offer.State, error) {
	var st *offer.State
	err := p.read(func() error {
		var err error
		st, err = p.offers.GetAddLiquidityOfferState(o, sig)
		return err
	})
	return st, err
}

func (p *Protocol) GetRemoveLiquidityOfferState(o *offer.RemoveLiquidityOffer, sig []byte) (*offer.State, error) {
	var st *offer.State
	err := p.read(func() error {
		var err error
		st, err = p.offers.GetRemoveLiquidityOfferState(o, sig)
		return err
	})
	return st, err
}
