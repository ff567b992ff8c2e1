package settlement

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"claimchain/core/events"
	"claimchain/core/types"
	nativecommon "claimchain/native/common"
	"claimchain/native/gov"
	"claimchain/native/pool"
	"claimchain/native/token"
)

var (
	errNilState  = errors.New("settlement: state not configured")
	errNilTokens = errors.New("settlement: token ledger not configured")
	errNilGov    = errors.New("settlement: governance view not configured")
	errNilClaims = errors.New("settlement: claim ledger not configured")

	// ErrUnauthorized rejects submissions and challenges from callers who
	// are not eligible in the current window.
	ErrUnauthorized = errors.New("settlement: caller not eligible")
	// ErrStatusConflict rejects operations against the wrong settlement
	// status.
	ErrStatusConflict = errors.New("settlement: operation not allowed in current status")
	// ErrPoolNotExpired rejects submissions before the pool's expiry time.
	ErrPoolNotExpired = errors.New("settlement: pool not yet expired")
	// ErrWindowOpen rejects lazy confirmation while the challenge or review
	// window is still running.
	ErrWindowOpen = errors.New("settlement: window still open")
	// ErrWindowClosed rejects submissions and challenges whose window has
	// lapsed.
	ErrWindowClosed = errors.New("settlement: window closed")
	// ErrNoPositionBalance rejects challenges from callers holding neither
	// position token.
	ErrNoPositionBalance = errors.New("settlement: challenger holds no position tokens")
	// ErrWrongPositionToken rejects redemptions with a token that does not
	// belong to the pool.
	ErrWrongPositionToken = errors.New("settlement: token does not belong to pool")
)

type registryState interface {
	PoolGet(id uint64) (*pool.Pool, bool, error)
	PoolPut(*pool.Pool) error
}

type governanceView interface {
	CurrentParameters(now int64) (gov.Snapshot, error)
}

type reservedClaims interface {
	ResolveReserved(poolID uint64, asset, recipient [20]byte) error
}

type settlementEvent struct {
	evt *types.Event
}

func (s settlementEvent) EventType() string {
	if s.evt == nil {
		return ""
	}
	return s.evt.Type
}

func (s settlementEvent) Event() *types.Event { return s.evt }

// Engine drives the per-pool settlement status progression: provider
// submissions, challenges, fallback and expired-window settlement, lazy
// confirmation, and position redemption. Every window is evaluated against
// the pool's snapshotted periods, never the ledger's current ones.
type Engine struct {
	state   registryState
	tokens  *token.Ledger
	gov     governanceView
	claims  reservedClaims
	pauses  nativecommon.PauseView
	vault   [20]byte
	emitter events.Emitter
	nowFn   func() int64
}

// NewEngine creates a settlement engine with a no-op emitter.
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

// SetGovernance wires the view resolving the current fallback provider and
// treasury at settlement time.
func (e *Engine) SetGovernance(g governanceView) { e.gov = g }

// SetClaims wires the claim ledger resolving reserved fees on confirmation.
func (e *Engine) SetClaims(c reservedClaims) { e.claims = c }

// SetPauses wires the pause switches guarding collateral returns.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetVault configures the protocol vault address.
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
	e.emitter.Emit(settlementEvent{evt: event})
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

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func (e *Engine) loadPool(id uint64) (*pool.Pool, error) {
	p, ok, err := e.state.PoolGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %d", pool.ErrPoolNotFound, id)
	}
	return p, nil
}

// confirm finalizes the pool: payouts are fixed from the curve and the
// reserved claim is released to the confirming identity.
func (e *Engine) confirm(p *pool.Pool, value *big.Int, recipient [20]byte, now int64) error {
	long, short := PayoutsPerUnit(p.Floor, p.Inflection, p.Cap, p.Gradient, value)
	p.FinalReferenceValue = cloneBigInt(value)
	p.PayoutLong = long
	p.PayoutShort = short
	p.Status = pool.StatusConfirmed
	p.StatusTimestamp = now
	if err := e.state.PoolPut(p); err != nil {
		return err
	}
	if err := e.claims.ResolveReserved(p.ID, p.CollateralToken, recipient); err != nil {
		return err
	}
	e.emit(events.FinalValueConfirmed{
		PoolID:      p.ID,
		Value:       p.FinalReferenceValue,
		PayoutLong:  long,
		PayoutShort: short,
		Recipient:   recipient,
	}.Event())
	return nil
}

// SetFinalReferenceValue submits a final reference value. Eligibility depends
// on the caller and the elapsed windows: the assigned provider during the
// submission period, the current fallback provider during the fallback window
// (confirms immediately), and anyone after both windows lapse, forcing the
// value to the pool's inflection with the reserved claim going to the
// treasury. While challenged, the assigned provider may resubmit within the
// review period.
func (e *Engine) SetFinalReferenceValue(caller [20]byte, poolID uint64, value *big.Int, allowChallenge bool) error {
	if err := e.ready(); err != nil {
		return err
	}
	p, err := e.loadPool(poolID)
	if err != nil {
		return err
	}
	now := e.now()
	val := cloneBigInt(value)
	switch p.Status {
	case pool.StatusOpen:
		if now < p.ExpiryTime {
			return ErrPoolNotExpired
		}
		submissionEnd := p.ExpiryTime + p.Periods.Submission
		fallbackEnd := submissionEnd + p.Periods.FallbackSubmission
		switch {
		case now <= submissionEnd:
			if caller != p.DataProvider {
				return ErrUnauthorized
			}
			p.FinalReferenceValue = val
			if !allowChallenge {
				return e.confirm(p, val, p.DataProvider, now)
			}
			p.Status = pool.StatusSubmitted
			p.StatusTimestamp = now
			if err := e.state.PoolPut(p); err != nil {
				return err
			}
			e.emit(events.FinalValueSubmitted{PoolID: poolID, Submitter: caller, Value: val, AllowChallenge: true}.Event())
			return nil
		case now <= fallbackEnd:
			snapshot, err := e.gov.CurrentParameters(now)
			if err != nil {
				return err
			}
			if caller != snapshot.FallbackProvider {
				return ErrUnauthorized
			}
			e.emit(events.FinalValueSubmitted{PoolID: poolID, Submitter: caller, Value: val}.Event())
			return e.confirm(p, val, snapshot.FallbackProvider, now)
		default:
			// Both windows lapsed: anyone may settle, the value defaults
			// to the inflection and the reservation goes to the treasury.
			snapshot, err := e.gov.CurrentParameters(now)
			if err != nil {
				return err
			}
			forced := cloneBigInt(p.Inflection)
			e.emit(events.FinalValueSubmitted{PoolID: poolID, Submitter: caller, Value: forced}.Event())
			return e.confirm(p, forced, snapshot.Treasury, now)
		}
	case pool.StatusChallenged:
		if caller != p.DataProvider {
			return ErrUnauthorized
		}
		if now > p.StatusTimestamp+p.Periods.Review {
			return ErrWindowClosed
		}
		p.FinalReferenceValue = val
		p.Status = pool.StatusSubmitted
		p.StatusTimestamp = now
		if err := e.state.PoolPut(p); err != nil {
			return err
		}
		e.emit(events.FinalValueSubmitted{PoolID: poolID, Submitter: caller, Value: val, AllowChallenge: true}.Event())
		return nil
	default:
		return ErrStatusConflict
	}
}

// ChallengeFinalReferenceValue disputes a submitted value. Only position token
// holders may challenge, and only within the challenge window. The proposed
// value is informational; a successful review resubmission decides the final
// value.
func (e *Engine) ChallengeFinalReferenceValue(caller [20]byte, poolID uint64, proposedValue *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	p, err := e.loadPool(poolID)
	if err != nil {
		return err
	}
	if p.Status != pool.StatusSubmitted {
		return ErrStatusConflict
	}
	now := e.now()
	if now > p.StatusTimestamp+p.Periods.Challenge {
		return ErrWindowClosed
	}
	longBal, err := e.tokens.BalanceOf(p.LongToken, caller)
	if err != nil {
		return err
	}
	shortBal, err := e.tokens.BalanceOf(p.ShortToken, caller)
	if err != nil {
		return err
	}
	if longBal.Sign() <= 0 && shortBal.Sign() <= 0 {
		return ErrNoPositionBalance
	}
	p.ChallengeValue = cloneBigInt(proposedValue)
	p.Status = pool.StatusChallenged
	p.StatusTimestamp = now
	if err := e.state.PoolPut(p); err != nil {
		return err
	}
	e.emit(events.FinalValueChallenged{PoolID: poolID, Challenger: caller, ProposedValue: p.ChallengeValue}.Event())
	return nil
}

// ConfirmPendingValue finalizes a submission whose challenge window lapsed
// unchallenged, or a challenge whose review window lapsed without
// resubmission. In both cases the originally submitted value wins and the
// reserved claim is paid to the assigned provider.
func (e *Engine) ConfirmPendingValue(poolID uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	p, err := e.loadPool(poolID)
	if err != nil {
		return err
	}
	now := e.now()
	switch p.Status {
	case pool.StatusSubmitted:
		if now <= p.StatusTimestamp+p.Periods.Challenge {
			return ErrWindowOpen
		}
	case pool.StatusChallenged:
		if now <= p.StatusTimestamp+p.Periods.Review {
			return ErrWindowOpen
		}
	default:
		return ErrStatusConflict
	}
	return e.confirm(p, p.FinalReferenceValue, p.DataProvider, now)
}

// RedeemPositionToken burns position tokens and pays the curve payout. The
// first redemption after a lapsed challenge or review window confirms the
// pending value as a side effect.
func (e *Engine) RedeemPositionToken(caller [20]byte, poolID uint64, positionToken [20]byte, amount *big.Int) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, gov.ModuleReturnCollateral); err != nil {
		return nil, err
	}
	p, err := e.loadPool(poolID)
	if err != nil {
		return nil, err
	}
	if p.Status == pool.StatusSubmitted || p.Status == pool.StatusChallenged {
		if err := e.ConfirmPendingValue(poolID); err != nil {
			return nil, err
		}
		p, err = e.loadPool(poolID)
		if err != nil {
			return nil, err
		}
	}
	if p.Status != pool.StatusConfirmed {
		return nil, ErrStatusConflict
	}
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return nil, fmt.Errorf("settlement: redemption amount must be positive")
	}
	var perUnit *big.Int
	switch positionToken {
	case p.LongToken:
		perUnit = p.PayoutLong
	case p.ShortToken:
		perUnit = p.PayoutShort
	default:
		return nil, ErrWrongPositionToken
	}
	if err := e.tokens.Burn(positionToken, e.vault, caller, amt); err != nil {
		return nil, err
	}
	payout := new(big.Int).Mul(amt, perUnit)
	payout.Div(payout, gov.UnitScale)
	if payout.Cmp(p.CollateralBalance) > 0 {
		payout = cloneBigInt(p.CollateralBalance)
	}
	if payout.Sign() > 0 {
		if _, err := e.tokens.Transfer(p.CollateralToken, e.vault, caller, payout); err != nil {
			return nil, err
		}
	}
	p.CollateralBalance = new(big.Int).Sub(p.CollateralBalance, payout)
	if err := e.state.PoolPut(p); err != nil {
		return nil, err
	}
	e.emit(events.PositionRedeemed{
		PoolID:        poolID,
		Caller:        caller,
		PositionToken: positionToken,
		Amount:        amt,
		Payout:        payout,
	}.Event())
	return payout, nil
}
