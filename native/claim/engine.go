package claim

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"claimchain/core/events"
	"claimchain/core/types"
	"claimchain/native/pool"
	"claimchain/native/token"
)

var (
	errNilState  = errors.New("claim ledger: state not configured")
	errNilTokens = errors.New("claim ledger: token ledger not configured")
	errNilPools  = errors.New("claim ledger: pool view not configured")

	// ErrTipNotOpen rejects tips on pools whose settlement has started.
	ErrTipNotOpen = errors.New("claim ledger: tips only allowed while pool is open")
	// ErrInsufficientClaim rejects transfers exceeding the claimable balance.
	ErrInsufficientClaim = errors.New("claim ledger: insufficient claimable balance")
)

type ledgerState interface {
	ClaimGet(asset, recipient [20]byte) (*big.Int, error)
	ClaimPut(asset, recipient [20]byte, amount *big.Int) error
	ReservedGet(poolID uint64) (*big.Int, error)
	ReservedPut(poolID uint64, amount *big.Int) error
}

type poolView interface {
	Get(id uint64) (*pool.Pool, error)
}

type claimEvent struct {
	evt *types.Event
}

func (c claimEvent) EventType() string {
	if c.evt == nil {
		return ""
	}
	return c.evt.Type
}

func (c claimEvent) Event() *types.Event { return c.evt }

// Engine maintains per-(asset, recipient) claimable balances and the per-pool
// reserved claims (settlement fees plus tips) that stay frozen until the
// pool's outcome is confirmed.
type Engine struct {
	state   ledgerState
	tokens  *token.Ledger
	pools   poolView
	vault   [20]byte
	emitter events.Emitter
	nowFn   func() int64
}

// NewEngine creates a claim ledger engine with a no-op emitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state ledgerState) { e.state = state }

// SetTokens wires the fungible asset ledger used for physical transfers.
func (e *Engine) SetTokens(l *token.Ledger) { e.tokens = l }

// SetPools wires the pool view used to gate tips on pool status.
func (e *Engine) SetPools(p poolView) { e.pools = p }

// SetVault configures the protocol vault address that physically holds
// reserved and claimable funds.
func (e *Engine) SetVault(addr [20]byte) { e.vault = addr }

// SetEmitter configures the event emitter used by the engine.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used by the engine.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(claimEvent{evt: event})
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// Claimable returns the recipient's claimable balance for the asset.
func (e *Engine) Claimable(asset, recipient [20]byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	bal, err := e.state.ClaimGet(asset, recipient)
	if err != nil {
		return nil, err
	}
	return cloneBigInt(bal), nil
}

// Reserved returns the pool's frozen settlement-fee-plus-tip reservation.
func (e *Engine) Reserved(poolID uint64) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	amt, err := e.state.ReservedGet(poolID)
	if err != nil {
		return nil, err
	}
	return cloneBigInt(amt), nil
}

// Allocate credits the recipient's claim balance. It never moves assets: the
// funds are already held by the vault when a claim is allocated.
func (e *Engine) Allocate(asset, recipient [20]byte, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return fmt.Errorf("claim ledger: allocation must be positive")
	}
	bal, err := e.state.ClaimGet(asset, recipient)
	if err != nil {
		return err
	}
	if err := e.state.ClaimPut(asset, recipient, new(big.Int).Add(cloneBigInt(bal), amt)); err != nil {
		return err
	}
	e.emit(events.FeeClaimAllocated{Asset: asset, Recipient: recipient, Amount: amt}.Event())
	return nil
}

// Reserve adds to the pool's frozen reservation bucket.
func (e *Engine) Reserve(poolID uint64, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return fmt.Errorf("claim ledger: reservation must be positive")
	}
	reserved, err := e.state.ReservedGet(poolID)
	if err != nil {
		return err
	}
	next := new(big.Int).Add(cloneBigInt(reserved), amt)
	if err := e.state.ReservedPut(poolID, next); err != nil {
		return err
	}
	e.emit(events.FeeClaimReserved{PoolID: poolID, Amount: amt}.Event())
	return nil
}

// AddTip pulls collateral from the tipper into the vault and adds it to the
// pool's reservation. Tips are only accepted while the pool is open; after a
// submission the reward for confirmation is already in play.
func (e *Engine) AddTip(tipper [20]byte, poolID uint64, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.tokens == nil {
		return errNilTokens
	}
	if e.pools == nil {
		return errNilPools
	}
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return fmt.Errorf("claim ledger: tip must be positive")
	}
	p, err := e.pools.Get(poolID)
	if err != nil {
		return err
	}
	if p.Status != pool.StatusOpen {
		return ErrTipNotOpen
	}
	received, err := e.tokens.TransferFrom(p.CollateralToken, e.vault, tipper, e.vault, amt)
	if err != nil {
		return err
	}
	if received.Cmp(amt) != 0 {
		return fmt.Errorf("claim ledger: fee-on-transfer collateral not supported")
	}
	reserved, err := e.state.ReservedGet(poolID)
	if err != nil {
		return err
	}
	if err := e.state.ReservedPut(poolID, new(big.Int).Add(cloneBigInt(reserved), amt)); err != nil {
		return err
	}
	e.emit(events.TipAdded{PoolID: poolID, Tipper: tipper, Amount: amt}.Event())
	return nil
}

// ResolveReserved zeroes the pool's reservation and credits it to the
// recipient's claim balance. Called exactly once, when the pool's status
// becomes confirmed.
func (e *Engine) ResolveReserved(poolID uint64, asset, recipient [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	reserved, err := e.state.ReservedGet(poolID)
	if err != nil {
		return err
	}
	amt := cloneBigInt(reserved)
	if amt.Sign() == 0 {
		return nil
	}
	if err := e.state.ReservedPut(poolID, big.NewInt(0)); err != nil {
		return err
	}
	return e.Allocate(asset, recipient, amt)
}

// Claim moves the recipient's entire claimable balance for the asset out of
// the vault. A zero balance is a no-op, not an error.
func (e *Engine) Claim(asset, recipient [20]byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.tokens == nil {
		return nil, errNilTokens
	}
	bal, err := e.state.ClaimGet(asset, recipient)
	if err != nil {
		return nil, err
	}
	amt := cloneBigInt(bal)
	if amt.Sign() == 0 {
		return big.NewInt(0), nil
	}
	if err := e.state.ClaimPut(asset, recipient, big.NewInt(0)); err != nil {
		return nil, err
	}
	if _, err := e.tokens.Transfer(asset, e.vault, recipient, amt); err != nil {
		return nil, err
	}
	e.emit(events.FeeClaimed{Asset: asset, Recipient: recipient, Amount: amt}.Event())
	return amt, nil
}

// TransferClaim reassigns part of the caller's claimable balance to another
// recipient without moving assets.
func (e *Engine) TransferClaim(asset, from [20]byte, amount *big.Int, to [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return fmt.Errorf("claim ledger: transfer amount must be positive")
	}
	if to == ([20]byte{}) {
		return fmt.Errorf("claim ledger: transfer recipient must be non-zero")
	}
	bal, err := e.state.ClaimGet(asset, from)
	if err != nil {
		return err
	}
	have := cloneBigInt(bal)
	if have.Cmp(amt) < 0 {
		return ErrInsufficientClaim
	}
	if err := e.state.ClaimPut(asset, from, have.Sub(have, amt)); err != nil {
		return err
	}
	toBal, err := e.state.ClaimGet(asset, to)
	if err != nil {
		return err
	}
	return e.state.ClaimPut(asset, to, new(big.Int).Add(cloneBigInt(toBal), amt))
}
