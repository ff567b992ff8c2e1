package offer

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"claimchain/core/events"
	"claimchain/core/types"
	"claimchain/native/pool"
	"claimchain/native/token"
)

var (
	errNilState  = errors.New("offer engine: state not configured")
	errNilTokens = errors.New("offer engine: token ledger not configured")
	errNilPools  = errors.New("offer engine: pool registry not configured")

	// ErrInvalidSignature is returned when the recovered signer does not
	// match the offer's maker.
	ErrInvalidSignature = errors.New("offer engine: invalid signature")
	// ErrOfferInvalid rejects malformed offers.
	ErrOfferInvalid = errors.New("offer engine: offer invalid")
	// ErrOfferCancelled rejects fills of cancelled offers.
	ErrOfferCancelled = errors.New("offer engine: offer cancelled")
	// ErrOfferExpired rejects fills past the offer expiry.
	ErrOfferExpired = errors.New("offer engine: offer expired")
	// ErrTakerRestricted rejects fills by anyone but the designated taker.
	ErrTakerRestricted = errors.New("offer engine: taker not authorized")
	// ErrFillTooLarge rejects fills above the remaining taker amount.
	ErrFillTooLarge = errors.New("offer engine: fill exceeds remaining amount")
	// ErrFillBelowMinimum rejects first fills below the offer's minimum.
	ErrFillBelowMinimum = errors.New("offer engine: fill below minimum taker amount")
	// ErrNotMaker rejects cancellations by anyone but the maker.
	ErrNotMaker = errors.New("offer engine: only the maker may cancel")
)

type offerState interface {
	OfferFillGet(hash [32]byte) (*FillState, bool, error)
	OfferFillPut(hash [32]byte, fs *FillState) error
}

// poolRegistry is the slice of the pool engine used to settle matched offers.
type poolRegistry interface {
	Get(id uint64) (*pool.Pool, error)
	Vault() [20]byte
	ValidateParams(params pool.Params) error
	CreatePoolFromSources(params pool.Params, makerSource [20]byte, makerAmount *big.Int, takerSource [20]byte, takerAmount *big.Int, longRecipient, shortRecipient [20]byte) (*pool.Pool, error)
	AddLiquidityFromSources(poolID uint64, makerSource [20]byte, makerAmount *big.Int, takerSource [20]byte, takerAmount *big.Int, longRecipient, shortRecipient [20]byte) error
	RemoveLiquiditySplit(poolID uint64, longHolder, shortHolder [20]byte, amount, makerShare *big.Int, makerRecipient, takerRecipient [20]byte) (*big.Int, error)
}

type offerEvent struct {
	evt *types.Event
}

func (o offerEvent) EventType() string {
	if o.evt == nil {
		return ""
	}
	return o.evt.Type
}

func (o offerEvent) Event() *types.Event { return o.evt }

// Engine matches off-registry signed offers against the pool registry. Fill
// progress is tracked per offer hash, so partially filled offers can be topped
// up by later fills until cancelled, expired or exhausted.
type Engine struct {
	state   offerState
	tokens  *token.Ledger
	pools   poolRegistry
	domain  Domain
	emitter events.Emitter
	nowFn   func() int64
}

// NewEngine creates an offer engine with a no-op emitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state offerState) { e.state = state }

// SetTokens wires the fungible asset ledger used for fillability checks.
func (e *Engine) SetTokens(l *token.Ledger) { e.tokens = l }

// SetPools wires the pool registry that settled fills flow into.
func (e *Engine) SetPools(p poolRegistry) { e.pools = p }

// SetDomain configures the signing domain offers must be signed under.
func (e *Engine) SetDomain(d Domain) { e.domain = d }

// Domain returns the engine's signing domain.
func (e *Engine) Domain() Domain { return e.domain }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
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
	e.emitter.Emit(offerEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) ready() error {
	switch {
	case e == nil || e.state == nil:
		return errNilState
	case e.tokens == nil:
		return errNilTokens
	case e.pools == nil:
		return errNilPools
	default:
		return nil
	}
}

// VerifySignature recovers the signer of the digest from a 65-byte
// recoverable signature and compares it against the expected maker.
func VerifySignature(digest [32]byte, maker [20]byte, sig []byte) error {
	if len(sig) != 65 {
		return fmt.Errorf("%w: signature must be 65 bytes", ErrInvalidSignature)
	}
	normalized := make([]byte, 65)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(digest[:], normalized)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	recovered := ethcrypto.PubkeyToAddress(*pub)
	if !bytes.Equal(recovered[:], maker[:]) {
		return ErrInvalidSignature
	}
	return nil
}

func (e *Engine) loadFillState(hash [32]byte) (*FillState, error) {
	fs, ok, err := e.state.OfferFillGet(hash)
	if err != nil {
		return nil, err
	}
	if !ok || fs == nil {
		fs = &FillState{}
	}
	fs = fs.Clone()
	if fs.TakerFilled == nil {
		fs.TakerFilled = big.NewInt(0)
	}
	return fs, nil
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// status derives the lifecycle state of an offer from its terms, the taker
// fill capacity and the recorded fill progress.
func status(t Terms, takerCapacity *big.Int, fs *FillState, now int64) Status {
	switch {
	case t.Maker == ([20]byte{}) || takerCapacity == nil || takerCapacity.Sign() <= 0:
		return StatusInvalid
	case fs.Cancelled:
		return StatusCancelled
	case fs.TakerFilled.Cmp(takerCapacity) >= 0:
		return StatusFilled
	case now >= t.OfferExpiry:
		return StatusExpired
	default:
		return StatusFillable
	}
}

// scaledMakerAmount returns makerCapacity * fill / takerCapacity, the maker
// contribution matching a taker fill, rounded down.
func scaledMakerAmount(makerCapacity, takerCapacity, fill *big.Int) *big.Int {
	if takerCapacity == nil || takerCapacity.Sign() == 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(bigOrZero(makerCapacity), fill)
	return out.Div(out, takerCapacity)
}

// makerSpendable returns how much of the asset the maker can currently commit
// through the vault: the smaller of balance and vault allowance.
func (e *Engine) makerSpendable(asset, maker [20]byte) (*big.Int, error) {
	bal, err := e.tokens.BalanceOf(asset, maker)
	if err != nil {
		return nil, err
	}
	allowance, err := e.tokens.Allowance(asset, maker, e.pools.Vault())
	if err != nil {
		return nil, err
	}
	if allowance.Cmp(bal) < 0 {
		return allowance, nil
	}
	return bal, nil
}

// fillable caps the remaining taker amount by what the maker can still fund.
// makerCapacity zero means the maker contributes nothing and only the
// remaining amount binds.
func fillable(remaining, makerCapacity, takerCapacity, makerAvailable *big.Int) *big.Int {
	out := new(big.Int).Set(remaining)
	if makerCapacity == nil || makerCapacity.Sign() == 0 {
		return out
	}
	// Invert the maker scaling to express maker funds in taker units.
	bound := new(big.Int).Mul(makerAvailable, takerCapacity)
	bound.Div(bound, makerCapacity)
	if bound.Cmp(out) < 0 {
		return bound
	}
	return out
}

func (e *Engine) checkFill(t Terms, takerCapacity *big.Int, fs *FillState, taker [20]byte, amount *big.Int, now int64) error {
	switch status(t, takerCapacity, fs, now) {
	case StatusInvalid:
		return ErrOfferInvalid
	case StatusCancelled:
		return ErrOfferCancelled
	case StatusFilled:
		return ErrFillTooLarge
	case StatusExpired:
		return ErrOfferExpired
	}
	if t.Taker != ([20]byte{}) && taker != t.Taker {
		return ErrTakerRestricted
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("offer engine: fill amount must be positive")
	}
	remaining := new(big.Int).Sub(takerCapacity, fs.TakerFilled)
	if amount.Cmp(remaining) > 0 {
		return ErrFillTooLarge
	}
	// The minimum binds the first fill only, and never above the capacity.
	if fs.TakerFilled.Sign() == 0 {
		minFill := bigOrZero(t.MinimumTakerFillAmount)
		if minFill.Cmp(takerCapacity) > 0 {
			minFill = takerCapacity
		}
		if amount.Cmp(minFill) < 0 {
			return ErrFillBelowMinimum
		}
	}
	return nil
}

func positionRecipients(maker, taker [20]byte, makerIsLong bool) (long, short [20]byte) {
	if makerIsLong {
		return maker, taker
	}
	return taker, maker
}

func createParams(o *CreatePoolOffer) pool.Params {
	return pool.Params{
		ReferenceAsset:  o.ReferenceAsset,
		ExpiryTime:      o.ExpiryTime,
		Floor:           o.Floor,
		Inflection:      o.Inflection,
		Cap:             o.Cap,
		Gradient:        o.Gradient,
		CollateralToken: o.CollateralToken,
		DataProvider:    o.DataProvider,
		Capacity:        o.Capacity,
		PermissionToken: o.PermissionToken,
	}
}

// GetCreatePoolOfferState derives the current state of a create-pool offer.
func (e *Engine) GetCreatePoolOfferState(o *CreatePoolOffer, sig []byte) (*State, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	hash := o.Hash(e.domain)
	fs, err := e.loadFillState(hash)
	if err != nil {
		return nil, err
	}
	takerCap := bigOrZero(o.TakerCollateralAmount)
	st := &State{Status: status(o.Terms, takerCap, fs, e.now()), TakerFilled: fs.TakerFilled, PoolID: fs.PoolID}
	if err := VerifySignature(hash, o.Maker, sig); err != nil {
		st.Status = StatusInvalid
	}
	st.ActualFillableAmount = big.NewInt(0)
	if st.Status == StatusFillable {
		// A fillable status also requires that the embedded pool
		// parameters would pass creation-time validation.
		params := createParams(o)
		params.CollateralAmount = new(big.Int).Add(bigOrZero(o.MakerCollateralAmount), takerCap)
		params.LongRecipient = o.Maker
		params.ShortRecipient = o.Taker
		if err := e.pools.ValidateParams(params); err != nil {
			st.Status = StatusInvalid
			return st, nil
		}
		avail, err := e.makerSpendable(o.CollateralToken, o.Maker)
		if err != nil {
			return nil, err
		}
		remaining := new(big.Int).Sub(takerCap, fs.TakerFilled)
		st.ActualFillableAmount = fillable(remaining, o.MakerCollateralAmount, takerCap, avail)
	}
	return st, nil
}

// GetAddLiquidityOfferState derives the current state of an add-liquidity
// offer.
func (e *Engine) GetAddLiquidityOfferState(o *AddLiquidityOffer, sig []byte) (*State, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	hash := o.Hash(e.domain)
	fs, err := e.loadFillState(hash)
	if err != nil {
		return nil, err
	}
	takerCap := bigOrZero(o.TakerCollateralAmount)
	st := &State{Status: status(o.Terms, takerCap, fs, e.now()), TakerFilled: fs.TakerFilled, PoolID: o.PoolID}
	p, err := e.pools.Get(o.PoolID)
	if err != nil {
		if errors.Is(err, pool.ErrPoolNotFound) {
			st.Status = StatusInvalid
			st.ActualFillableAmount = big.NewInt(0)
			return st, nil
		}
		return nil, err
	}
	if err := VerifySignature(hash, o.Maker, sig); err != nil {
		st.Status = StatusInvalid
	}
	st.ActualFillableAmount = big.NewInt(0)
	if st.Status == StatusFillable {
		avail, err := e.makerSpendable(p.CollateralToken, o.Maker)
		if err != nil {
			return nil, err
		}
		remaining := new(big.Int).Sub(takerCap, fs.TakerFilled)
		st.ActualFillableAmount = fillable(remaining, o.MakerCollateralAmount, takerCap, avail)
	}
	return st, nil
}

// GetRemoveLiquidityOfferState derives the current state of a
// remove-liquidity offer. The fillable amount is bounded by the maker's
// position token balance on their side.
func (e *Engine) GetRemoveLiquidityOfferState(o *RemoveLiquidityOffer, sig []byte) (*State, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	hash := o.Hash(e.domain)
	fs, err := e.loadFillState(hash)
	if err != nil {
		return nil, err
	}
	takerCap := bigOrZero(o.PositionTokenAmount)
	st := &State{Status: status(o.Terms, takerCap, fs, e.now()), TakerFilled: fs.TakerFilled, PoolID: o.PoolID}
	p, err := e.pools.Get(o.PoolID)
	if err != nil {
		if errors.Is(err, pool.ErrPoolNotFound) {
			st.Status = StatusInvalid
			st.ActualFillableAmount = big.NewInt(0)
			return st, nil
		}
		return nil, err
	}
	if err := VerifySignature(hash, o.Maker, sig); err != nil {
		st.Status = StatusInvalid
	}
	st.ActualFillableAmount = big.NewInt(0)
	if st.Status == StatusFillable {
		side := p.ShortToken
		if o.MakerIsLong {
			side = p.LongToken
		}
		bal, err := e.tokens.BalanceOf(side, o.Maker)
		if err != nil {
			return nil, err
		}
		remaining := new(big.Int).Sub(takerCap, fs.TakerFilled)
		st.ActualFillableAmount = remaining
		if bal.Cmp(remaining) < 0 {
			st.ActualFillableAmount = bal
		}
	}
	return st, nil
}

// FillCreatePoolOffer fills amount of the taker side of a signed create-pool
// offer. The first fill creates the pool; later fills add liquidity to it.
// Returns the pool id the fill settled into.
func (e *Engine) FillCreatePoolOffer(taker [20]byte, o *CreatePoolOffer, sig []byte, amount *big.Int) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	hash := o.Hash(e.domain)
	if err := VerifySignature(hash, o.Maker, sig); err != nil {
		return 0, err
	}
	fs, err := e.loadFillState(hash)
	if err != nil {
		return 0, err
	}
	takerCap := bigOrZero(o.TakerCollateralAmount)
	now := e.now()
	if err := e.checkFill(o.Terms, takerCap, fs, taker, amount, now); err != nil {
		return 0, err
	}
	makerAmount := scaledMakerAmount(o.MakerCollateralAmount, takerCap, amount)
	longRecipient, shortRecipient := positionRecipients(o.Maker, taker, o.MakerIsLong)
	if fs.PoolID == 0 {
		p, err := e.pools.CreatePoolFromSources(createParams(o), o.Maker, makerAmount, taker, amount, longRecipient, shortRecipient)
		if err != nil {
			return 0, err
		}
		fs.PoolID = p.ID
	} else {
		if err := e.pools.AddLiquidityFromSources(fs.PoolID, o.Maker, makerAmount, taker, amount, longRecipient, shortRecipient); err != nil {
			return 0, err
		}
	}
	fs.TakerFilled = new(big.Int).Add(fs.TakerFilled, amount)
	if err := e.state.OfferFillPut(hash, fs); err != nil {
		return 0, err
	}
	e.emit(events.OfferFilled{
		OfferHash:   hash,
		Maker:       o.Maker,
		Taker:       taker,
		PoolID:      fs.PoolID,
		TakerAmount: amount,
		TakerFilled: fs.TakerFilled,
	}.Event())
	return fs.PoolID, nil
}

// FillAddLiquidityOffer fills amount of the taker side of a signed
// add-liquidity offer against its target pool.
func (e *Engine) FillAddLiquidityOffer(taker [20]byte, o *AddLiquidityOffer, sig []byte, amount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	hash := o.Hash(e.domain)
	if err := VerifySignature(hash, o.Maker, sig); err != nil {
		return err
	}
	fs, err := e.loadFillState(hash)
	if err != nil {
		return err
	}
	takerCap := bigOrZero(o.TakerCollateralAmount)
	now := e.now()
	if err := e.checkFill(o.Terms, takerCap, fs, taker, amount, now); err != nil {
		return err
	}
	makerAmount := scaledMakerAmount(o.MakerCollateralAmount, takerCap, amount)
	longRecipient, shortRecipient := positionRecipients(o.Maker, taker, o.MakerIsLong)
	if err := e.pools.AddLiquidityFromSources(o.PoolID, o.Maker, makerAmount, taker, amount, longRecipient, shortRecipient); err != nil {
		return err
	}
	fs.PoolID = o.PoolID
	fs.TakerFilled = new(big.Int).Add(fs.TakerFilled, amount)
	if err := e.state.OfferFillPut(hash, fs); err != nil {
		return err
	}
	e.emit(events.OfferFilled{
		OfferHash:   hash,
		Maker:       o.Maker,
		Taker:       taker,
		PoolID:      o.PoolID,
		TakerAmount: amount,
		TakerFilled: fs.TakerFilled,
	}.Event())
	return nil
}

// FillRemoveLiquidityOffer burns amount position tokens from both sides and
// splits the returned collateral, the maker receiving their pro-rata share and
// the taker the remainder net of fees.
func (e *Engine) FillRemoveLiquidityOffer(taker [20]byte, o *RemoveLiquidityOffer, sig []byte, amount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	hash := o.Hash(e.domain)
	if err := VerifySignature(hash, o.Maker, sig); err != nil {
		return err
	}
	fs, err := e.loadFillState(hash)
	if err != nil {
		return err
	}
	takerCap := bigOrZero(o.PositionTokenAmount)
	now := e.now()
	if err := e.checkFill(o.Terms, takerCap, fs, taker, amount, now); err != nil {
		return err
	}
	makerShare := scaledMakerAmount(o.MakerCollateralAmount, takerCap, amount)
	longHolder, shortHolder := positionRecipients(o.Maker, taker, o.MakerIsLong)
	if _, err := e.pools.RemoveLiquiditySplit(o.PoolID, longHolder, shortHolder, amount, makerShare, o.Maker, taker); err != nil {
		return err
	}
	fs.PoolID = o.PoolID
	fs.TakerFilled = new(big.Int).Add(fs.TakerFilled, amount)
	if err := e.state.OfferFillPut(hash, fs); err != nil {
		return err
	}
	e.emit(events.OfferFilled{
		OfferHash:   hash,
		Maker:       o.Maker,
		Taker:       taker,
		PoolID:      o.PoolID,
		TakerAmount: amount,
		TakerFilled: fs.TakerFilled,
	}.Event())
	return nil
}

// cancel marks the offer hash cancelled. Cancelling an already cancelled or
// fully filled offer is a no-op.
func (e *Engine) cancel(hash [32]byte, maker, caller [20]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	if caller != maker {
		return ErrNotMaker
	}
	fs, err := e.loadFillState(hash)
	if err != nil {
		return err
	}
	if fs.Cancelled {
		return nil
	}
	fs.Cancelled = true
	if err := e.state.OfferFillPut(hash, fs); err != nil {
		return err
	}
	e.emit(events.OfferCancelled{OfferHash: hash, Maker: maker}.Event())
	return nil
}

// CancelCreatePoolOffer permanently voids the unfilled remainder of the offer.
func (e *Engine) CancelCreatePoolOffer(caller [20]byte, o *CreatePoolOffer) error {
	return e.cancel(o.Hash(e.domain), o.Maker, caller)
}

// CancelAddLiquidityOffer permanently voids the unfilled remainder of the
// offer.
func (e *Engine) CancelAddLiquidityOffer(caller [20]byte, o *AddLiquidityOffer) error {
	return e.cancel(o.Hash(e.domain), o.Maker, caller)
}

// CancelRemoveLiquidityOffer permanently voids the unfilled remainder of the
// offer.
func (e *Engine) CancelRemoveLiquidityOffer(caller [20]byte, o *RemoveLiquidityOffer) error {
	return e.cancel(o.Hash(e.domain), o.Maker, caller)
}
