package pool

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"claimchain/core/events"
	"claimchain/core/types"
	nativecommon "claimchain/native/common"
	"claimchain/native/gov"
	"claimchain/native/token"
)

var (
	errNilState  = errors.New("pool registry: state not configured")
	errNilTokens = errors.New("pool registry: token ledger not configured")
	errNilGov    = errors.New("pool registry: governance view not configured")
	errNilClaims = errors.New("pool registry: fee ledger not configured")

	// ErrPoolNotFound is returned for operations on unknown pool ids.
	ErrPoolNotFound = errors.New("pool registry: pool not found")
	// ErrPoolExpired rejects liquidity additions after expiry.
	ErrPoolExpired = errors.New("pool registry: pool expired")
	// ErrCapacityExceeded rejects deposits that would push the collateral
	// balance above the pool's capacity.
	ErrCapacityExceeded = errors.New("pool registry: capacity exceeded")
	// ErrStatusConflict rejects collateral returns on confirmed pools.
	ErrStatusConflict = errors.New("pool registry: operation not allowed in current status")
	// ErrZeroFee rejects removals whose non-zero fee rate rounds to zero,
	// closing the fee-free dust-removal loophole.
	ErrZeroFee = errors.New("pool registry: fee amount rounds to zero")
	// ErrFeeOnTransfer rejects collateral assets that deliver less than the
	// requested transfer amount.
	ErrFeeOnTransfer = errors.New("pool registry: fee-on-transfer collateral not supported")
)

type registryState interface {
	PoolNextID() (uint64, error)
	PoolPut(*Pool) error
	PoolGet(id uint64) (*Pool, bool, error)
}

type governanceView interface {
	CurrentParameters(now int64) (gov.Snapshot, error)
}

// feeLedger is the slice of the claim ledger the registry needs: immediate
// treasury allocations and deferred per-pool reservations.
type feeLedger interface {
	Allocate(asset, recipient [20]byte, amount *big.Int) error
	Reserve(poolID uint64, amount *big.Int) error
}

type poolEvent struct {
	evt *types.Event
}

func (p poolEvent) EventType() string {
	if p.evt == nil {
		return ""
	}
	return p.evt.Type
}

func (p poolEvent) Event() *types.Event { return p.evt }

// Engine validates and creates pools, snapshots the active governance
// parameters into them, and handles liquidity against that snapshot.
type Engine struct {
	state   registryState
	tokens  *token.Ledger
	gov     governanceView
	claims  feeLedger
	pauses  nativecommon.PauseView
	vault   [20]byte
	emitter events.Emitter
	nowFn   func() int64
}

// NewEngine creates a pool registry with a no-op emitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state registryState) { e.state = state }

// SetTokens wires the fungible asset ledger.
func (e *Engine) SetTokens(l *token.Ledger) { e.tokens = l }

// SetGovernance wires the governance parameter view snapshotted at creation.
func (e *Engine) SetGovernance(g governanceView) { e.gov = g }

// SetFeeLedger wires the claim ledger receiving protocol fees and
// settlement-fee reservations.
func (e *Engine) SetFeeLedger(c feeLedger) { e.claims = c }

// SetPauses wires the pause switches guarding collateral returns.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetVault configures the protocol vault address holding pooled collateral
// and acting as position-token mint authority.
func (e *Engine) SetVault(addr [20]byte) { e.vault = addr }

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
	e.emitter.Emit(poolEvent{evt: event})
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
	case e.gov == nil:
		return errNilGov
	case e.claims == nil:
		return errNilClaims
	default:
		return nil
	}
}

// Vault returns the protocol vault address.
func (e *Engine) Vault() [20]byte { return e.vault }

// Get returns a copy of the stored pool.
func (e *Engine) Get(id uint64) (*Pool, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	p, ok, err := e.state.PoolGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrPoolNotFound, id)
	}
	return p, nil
}

// DerivePositionToken computes the deterministic address of a pool's long or
// short token. Side is 'L' or 'S'.
func DerivePositionToken(poolID uint64, side byte) [20]byte {
	var buf [9]byte
	binary.BigEndian.PutUint64(buf[:8], poolID)
	buf[8] = side
	hash := ethcrypto.Keccak256(buf[:])
	var addr [20]byte
	copy(addr[:], hash[12:])
	return addr
}

// ValidateParams runs the creation-time parameter checks without touching
// state, so callers can derive whether a CreatePool with these parameters
// would be accepted right now.
func (e *Engine) ValidateParams(params Params) error {
	if err := e.ready(); err != nil {
		return err
	}
	return e.validateParams(params, e.now())
}

func (e *Engine) validateParams(params Params, now int64) error {
	if params.ExpiryTime <= now {
		return fmt.Errorf("pool registry: expiry time must be in the future")
	}
	if len(params.ReferenceAsset) == 0 {
		return fmt.Errorf("pool registry: reference asset must not be empty")
	}
	floor := cloneBigInt(params.Floor)
	inflection := cloneBigInt(params.Inflection)
	cap := cloneBigInt(params.Cap)
	if floor.Cmp(inflection) > 0 || inflection.Cmp(cap) > 0 {
		return fmt.Errorf("pool registry: floor <= inflection <= cap violated")
	}
	if cap.Cmp(CapBound) >= 0 {
		return fmt.Errorf("pool registry: cap exceeds sanity bound")
	}
	gradient := cloneBigInt(params.Gradient)
	if gradient.Sign() < 0 || gradient.Cmp(gov.UnitScale) > 0 {
		return fmt.Errorf("pool registry: gradient outside [0, 1]")
	}
	amount := cloneBigInt(params.CollateralAmount)
	if amount.Cmp(MinCollateralAmount) < 0 {
		return fmt.Errorf("pool registry: collateral amount below minimum")
	}
	// Capacity zero means uncapped.
	if params.Capacity != nil && params.Capacity.Sign() > 0 && amount.Cmp(params.Capacity) > 0 {
		return ErrCapacityExceeded
	}
	if params.DataProvider == ([20]byte{}) {
		return fmt.Errorf("pool registry: data provider must be non-zero")
	}
	if params.CollateralToken == ([20]byte{}) {
		return fmt.Errorf("pool registry: collateral token must be non-zero")
	}
	if params.LongRecipient == ([20]byte{}) && params.ShortRecipient == ([20]byte{}) {
		return fmt.Errorf("pool registry: at least one position recipient must be non-zero")
	}
	decimals, err := e.tokens.DecimalsOf(params.CollateralToken)
	if err != nil {
		return err
	}
	if decimals < MinCollateralDecimals || decimals > MaxCollateralDecimals {
		return fmt.Errorf("pool registry: collateral decimals %d outside [%d, %d]", decimals, MinCollateralDecimals, MaxCollateralDecimals)
	}
	return nil
}

// pullCollateral moves amount of the asset from the source into the vault and
// rejects assets that deliver less than requested.
func (e *Engine) pullCollateral(asset, from [20]byte, amount *big.Int) error {
	received, err := e.tokens.TransferFrom(asset, e.vault, from, e.vault, amount)
	if err != nil {
		return err
	}
	if received.Cmp(amount) != 0 {
		return ErrFeeOnTransfer
	}
	return nil
}

type leg struct {
	source [20]byte
	amount *big.Int
}

// CreatePool validates the parameters, pulls collateral from the creator,
// registers and mints the position token pair, and persists the pool with the
// currently active governance snapshot.
func (e *Engine) CreatePool(creator [20]byte, params Params) (*Pool, error) {
	amount := cloneBigInt(params.CollateralAmount)
	return e.createPool(params, []leg{{source: creator, amount: amount}}, creator, params.LongRecipient, params.ShortRecipient)
}

// CreatePoolFromSources creates a pool funded by two counterparties, used by
// the offer engine to settle signed create-pool offers.
func (e *Engine) CreatePoolFromSources(params Params, makerSource [20]byte, makerAmount *big.Int, takerSource [20]byte, takerAmount *big.Int, longRecipient, shortRecipient [20]byte) (*Pool, error) {
	total := new(big.Int).Add(cloneBigInt(makerAmount), cloneBigInt(takerAmount))
	params.CollateralAmount = total
	params.LongRecipient = longRecipient
	params.ShortRecipient = shortRecipient
	legs := []leg{
		{source: makerSource, amount: cloneBigInt(makerAmount)},
		{source: takerSource, amount: cloneBigInt(takerAmount)},
	}
	return e.createPool(params, legs, makerSource, longRecipient, shortRecipient)
}

func (e *Engine) createPool(params Params, legs []leg, creator, longRecipient, shortRecipient [20]byte) (*Pool, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	now := e.now()
	if err := e.validateParams(params, now); err != nil {
		return nil, err
	}
	snapshot, err := e.gov.CurrentParameters(now)
	if err != nil {
		return nil, err
	}
	for _, l := range legs {
		if l.amount.Sign() == 0 {
			continue
		}
		if err := e.pullCollateral(params.CollateralToken, l.source, l.amount); err != nil {
			return nil, err
		}
	}
	id, err := e.state.PoolNextID()
	if err != nil {
		return nil, err
	}
	decimals, err := e.tokens.DecimalsOf(params.CollateralToken)
	if err != nil {
		return nil, err
	}
	longAddr := DerivePositionToken(id, 'L')
	shortAddr := DerivePositionToken(id, 'S')
	for _, side := range []struct {
		addr   [20]byte
		name   string
		symbol string
	}{
		{longAddr, fmt.Sprintf("Claimchain Long %d", id), fmt.Sprintf("L%d", id)},
		{shortAddr, fmt.Sprintf("Claimchain Short %d", id), fmt.Sprintf("S%d", id)},
	} {
		asset := &token.Asset{
			Address:         side.addr,
			Name:            side.name,
			Symbol:          side.symbol,
			Decimals:        decimals,
			Supply:          big.NewInt(0),
			PermissionToken: params.PermissionToken,
			MintAuthority:   e.vault,
		}
		if err := e.tokens.Register(asset); err != nil {
			return nil, err
		}
	}
	amount := cloneBigInt(params.CollateralAmount)
	if err := e.tokens.Mint(longAddr, e.vault, longRecipient, amount); err != nil {
		return nil, err
	}
	if err := e.tokens.Mint(shortAddr, e.vault, shortRecipient, amount); err != nil {
		return nil, err
	}
	p := &Pool{
		ID:                  id,
		ReferenceAsset:      params.ReferenceAsset,
		ExpiryTime:          params.ExpiryTime,
		Floor:               cloneBigInt(params.Floor),
		Inflection:          cloneBigInt(params.Inflection),
		Cap:                 cloneBigInt(params.Cap),
		Gradient:            cloneBigInt(params.Gradient),
		CollateralToken:     params.CollateralToken,
		CollateralBalance:   amount,
		Capacity:            cloneBigInt(params.Capacity),
		DataProvider:        params.DataProvider,
		PermissionToken:     params.PermissionToken,
		LongToken:           longAddr,
		ShortToken:          shortAddr,
		FeesIndex:           snapshot.FeesIndex,
		PeriodsIndex:        snapshot.PeriodsIndex,
		Fees:                snapshot.Fees,
		Periods:             snapshot.Periods,
		Status:              StatusOpen,
		StatusTimestamp:     now,
		FinalReferenceValue: big.NewInt(0),
		ChallengeValue:      big.NewInt(0),
		PayoutLong:          big.NewInt(0),
		PayoutShort:         big.NewInt(0),
		CreatedAt:           now,
	}
	if err := e.state.PoolPut(p); err != nil {
		return nil, err
	}
	e.emit(events.PoolIssued{
		PoolID:           id,
		Creator:          creator,
		ReferenceAsset:   p.ReferenceAsset,
		CollateralToken:  p.CollateralToken,
		CollateralAmount: amount,
		ExpiryTime:       p.ExpiryTime,
		DataProvider:     p.DataProvider,
		LongToken:        longAddr,
		ShortToken:       shortAddr,
	}.Event())
	return p.Clone(), nil
}

// AddLiquidity deposits additional collateral into an open pool and mints
// matching position tokens to the supplied recipients.
func (e *Engine) AddLiquidity(caller [20]byte, poolID uint64, amount *big.Int, longRecipient, shortRecipient [20]byte) error {
	amt := cloneBigInt(amount)
	return e.addLiquidity(poolID, []leg{{source: caller, amount: amt}}, caller, longRecipient, shortRecipient)
}

// AddLiquidityFromSources deposits collateral pulled from two counterparties,
// used by the offer engine.
func (e *Engine) AddLiquidityFromSources(poolID uint64, makerSource [20]byte, makerAmount *big.Int, takerSource [20]byte, takerAmount *big.Int, longRecipient, shortRecipient [20]byte) error {
	legs := []leg{
		{source: makerSource, amount: cloneBigInt(makerAmount)},
		{source: takerSource, amount: cloneBigInt(takerAmount)},
	}
	return e.addLiquidity(poolID, legs, makerSource, longRecipient, shortRecipient)
}

func (e *Engine) addLiquidity(poolID uint64, legs []leg, caller, longRecipient, shortRecipient [20]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	p, err := e.Get(poolID)
	if err != nil {
		return err
	}
	now := e.now()
	if now >= p.ExpiryTime {
		return ErrPoolExpired
	}
	total := big.NewInt(0)
	for _, l := range legs {
		if l.amount.Sign() < 0 {
			return fmt.Errorf("pool registry: negative liquidity amount")
		}
		total.Add(total, l.amount)
	}
	if total.Sign() <= 0 {
		return fmt.Errorf("pool registry: liquidity amount must be positive")
	}
	if p.Capacity.Sign() > 0 {
		next := new(big.Int).Add(p.CollateralBalance, total)
		if next.Cmp(p.Capacity) > 0 {
			return ErrCapacityExceeded
		}
	}
	if longRecipient == ([20]byte{}) && shortRecipient == ([20]byte{}) {
		return fmt.Errorf("pool registry: at least one position recipient must be non-zero")
	}
	for _, l := range legs {
		if l.amount.Sign() == 0 {
			continue
		}
		if err := e.pullCollateral(p.CollateralToken, l.source, l.amount); err != nil {
			return err
		}
	}
	if err := e.tokens.Mint(p.LongToken, e.vault, longRecipient, total); err != nil {
		return err
	}
	if err := e.tokens.Mint(p.ShortToken, e.vault, shortRecipient, total); err != nil {
		return err
	}
	p.CollateralBalance = new(big.Int).Add(p.CollateralBalance, total)
	if err := e.state.PoolPut(p); err != nil {
		return err
	}
	e.emit(events.LiquidityAdded{
		PoolID:         poolID,
		From:           caller,
		Amount:         total,
		LongRecipient:  longRecipient,
		ShortRecipient: shortRecipient,
	}.Event())
	return nil
}

// calcFee applies a 1e18-scaled rate to an amount. Non-zero rates must yield
// at least one collateral unit.
func calcFee(rate, amount *big.Int) (*big.Int, error) {
	fee := new(big.Int).Mul(cloneBigInt(rate), amount)
	fee.Div(fee, gov.UnitScale)
	if rate != nil && rate.Sign() > 0 && fee.Sign() == 0 {
		return nil, ErrZeroFee
	}
	return fee, nil
}

// RemoveLiquidity burns an equal amount of both position tokens from the
// caller, deducts the snapshotted fees, and returns the remainder.
func (e *Engine) RemoveLiquidity(caller [20]byte, poolID uint64, amount *big.Int) (*big.Int, error) {
	amt := cloneBigInt(amount)
	return e.removeLiquidity(poolID, caller, caller, amt, nil, caller, [20]byte{})
}

// RemoveLiquiditySplit burns the long side from longHolder and the short side
// from shortHolder, routing makerShare of the net proceeds to makerRecipient
// and the remainder to takerRecipient. Used by the offer engine.
func (e *Engine) RemoveLiquiditySplit(poolID uint64, longHolder, shortHolder [20]byte, amount, makerShare *big.Int, makerRecipient, takerRecipient [20]byte) (*big.Int, error) {
	return e.removeLiquidity(poolID, longHolder, shortHolder, cloneBigInt(amount), cloneBigInt(makerShare), makerRecipient, takerRecipient)
}

func (e *Engine) removeLiquidity(poolID uint64, longHolder, shortHolder [20]byte, amount, makerShare *big.Int, primaryRecipient, secondaryRecipient [20]byte) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, gov.ModuleReturnCollateral); err != nil {
		return nil, err
	}
	p, err := e.Get(poolID)
	if err != nil {
		return nil, err
	}
	if p.Status == StatusConfirmed {
		return nil, ErrStatusConflict
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("pool registry: removal amount must be positive")
	}
	now := e.now()
	protocolFee, err := calcFee(p.Fees.ProtocolRate, amount)
	if err != nil {
		return nil, err
	}
	settlementFee, err := calcFee(p.Fees.SettlementRate, amount)
	if err != nil {
		return nil, err
	}
	if err := e.tokens.Burn(p.LongToken, e.vault, longHolder, amount); err != nil {
		return nil, err
	}
	if err := e.tokens.Burn(p.ShortToken, e.vault, shortHolder, amount); err != nil {
		return nil, err
	}
	snapshot, err := e.gov.CurrentParameters(now)
	if err != nil {
		return nil, err
	}
	if protocolFee.Sign() > 0 {
		if err := e.claims.Allocate(p.CollateralToken, snapshot.Treasury, protocolFee); err != nil {
			return nil, err
		}
	}
	if settlementFee.Sign() > 0 {
		if err := e.claims.Reserve(poolID, settlementFee); err != nil {
			return nil, err
		}
	}
	net := new(big.Int).Sub(amount, protocolFee)
	net.Sub(net, settlementFee)
	if makerShare == nil {
		if _, err := e.tokens.Transfer(p.CollateralToken, e.vault, primaryRecipient, net); err != nil {
			return nil, err
		}
	} else {
		if makerShare.Cmp(net) > 0 {
			return nil, fmt.Errorf("pool registry: maker share exceeds net proceeds")
		}
		if _, err := e.tokens.Transfer(p.CollateralToken, e.vault, primaryRecipient, makerShare); err != nil {
			return nil, err
		}
		rest := new(big.Int).Sub(net, makerShare)
		if _, err := e.tokens.Transfer(p.CollateralToken, e.vault, secondaryRecipient, rest); err != nil {
			return nil, err
		}
	}
	p.CollateralBalance = new(big.Int).Sub(p.CollateralBalance, amount)
	if err := e.state.PoolPut(p); err != nil {
		return nil, err
	}
	e.emit(events.LiquidityRemoved{
		PoolID:        poolID,
		Caller:        longHolder,
		Amount:        amount,
		ProtocolFee:   protocolFee,
		SettlementFee: settlementFee,
		Returned:      net,
	}.Event())
	return net, nil
}

// BatchCreatePool applies CreatePool per item with no cross-item coupling.
// The first failure aborts the batch.
func (e *Engine) BatchCreatePool(creator [20]byte, items []Params) ([]*Pool, error) {
	pools := make([]*Pool, 0, len(items))
	for i, params := range items {
		p, err := e.CreatePool(creator, params)
		if err != nil {
			return nil, fmt.Errorf("batch item %d: %w", i, err)
		}
		pools = append(pools, p)
	}
	return pools, nil
}

// BatchAddLiquidityItem is one entry of a batched liquidity addition.
type BatchAddLiquidityItem struct {
	PoolID         uint64
	Amount         *big.Int
	LongRecipient  [20]byte
	ShortRecipient [20]byte
}

// BatchAddLiquidity applies AddLiquidity per item.
func (e *Engine) BatchAddLiquidity(caller [20]byte, items []BatchAddLiquidityItem) error {
	for i, item := range items {
		if err := e.AddLiquidity(caller, item.PoolID, item.Amount, item.LongRecipient, item.ShortRecipient); err != nil {
			return fmt.Errorf("batch item %d: %w", i, err)
		}
	}
	return nil
}

// BatchRemoveLiquidityItem is one entry of a batched liquidity removal.
type BatchRemoveLiquidityItem struct {
	PoolID uint64
	Amount *big.Int
}

// BatchRemoveLiquidity applies RemoveLiquidity per item.
func (e *Engine) BatchRemoveLiquidity(caller [20]byte, items []BatchRemoveLiquidityItem) error {
	for i, item := range items {
		if _, err := e.RemoveLiquidity(caller, item.PoolID, item.Amount); err != nil {
			return fmt.Errorf("batch item %d: %w", i, err)
		}
	}
	return nil
}
