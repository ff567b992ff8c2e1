package gov

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"claimchain/core/events"
	"claimchain/core/types"
)

var (
	errNilState = errors.New("governance: state not configured")

	// ErrNotOwner rejects propose/revoke/pause calls from anyone but the
	// protocol owner.
	ErrNotOwner = errors.New("governance: caller is not the protocol owner")
	// ErrPendingUpdate rejects a propose call while a previously proposed
	// entry has not yet activated.
	ErrPendingUpdate = errors.New("governance: pending update exists, revoke it first")
	// ErrNoPendingUpdate rejects a revoke call when the latest entry is
	// already active.
	ErrNoPendingUpdate = errors.New("governance: no pending update to revoke")
)

type ledgerState interface {
	GovFeesHistory() ([]Fees, error)
	GovFeesPutHistory([]Fees) error
	GovPeriodsHistory() ([]Periods, error)
	GovPeriodsPutHistory([]Periods) error
	GovRolesGet() (*Roles, bool, error)
	GovRolesPut(*Roles) error
}

type govEvent struct {
	evt *types.Event
}

func (g govEvent) EventType() string {
	if g.evt == nil {
		return ""
	}
	return g.evt.Type
}

func (g govEvent) Event() *types.Event { return g.evt }

// Engine maintains the governance parameter ledger: append-only fee and period
// histories with delayed activation, versioned treasury and fallback-provider
// addresses, and the collateral-return pause switch.
type Engine struct {
	state   ledgerState
	emitter events.Emitter
	nowFn   func() int64
}

// NewEngine constructs a governance engine with a no-op emitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state ledgerState) { e.state = state }

// SetEmitter configures the event emitter. Passing nil resets the emitter to a
// no-op implementation.
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
	e.emitter.Emit(govEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// InitGenesis seeds the ledger with its first fee and period entries, both
// active immediately, and the initial role addresses. It fails if the ledger
// was already initialised.
func (e *Engine) InitGenesis(owner, treasury, fallbackProvider [20]byte, fees Fees, periods Periods) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if _, ok, err := e.state.GovRolesGet(); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("governance: ledger already initialised")
	}
	if owner == ([20]byte{}) || treasury == ([20]byte{}) || fallbackProvider == ([20]byte{}) {
		return fmt.Errorf("governance: genesis addresses must be non-zero")
	}
	if err := validateFeeRate(fees.ProtocolRate); err != nil {
		return err
	}
	if err := validateFeeRate(fees.SettlementRate); err != nil {
		return err
	}
	for _, p := range []struct {
		name  string
		value int64
	}{
		{"submission", periods.Submission},
		{"challenge", periods.Challenge},
		{"review", periods.Review},
		{"fallback submission", periods.FallbackSubmission},
	} {
		if err := validatePeriod(p.name, p.value); err != nil {
			return err
		}
	}
	now := e.now()
	fees.StartTime = now
	periods.StartTime = now
	if err := e.state.GovFeesPutHistory([]Fees{fees.Clone()}); err != nil {
		return err
	}
	if err := e.state.GovPeriodsPutHistory([]Periods{periods}); err != nil {
		return err
	}
	roles := &Roles{
		Owner:            owner,
		Treasury:         Versioned{Previous: treasury},
		FallbackProvider: Versioned{Previous: fallbackProvider},
	}
	return e.state.GovRolesPut(roles)
}

func (e *Engine) roles() (*Roles, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	roles, ok, err := e.state.GovRolesGet()
	if err != nil {
		return nil, err
	}
	if !ok || roles == nil {
		return nil, fmt.Errorf("governance: ledger not initialised")
	}
	return roles, nil
}

func (e *Engine) requireOwner(caller [20]byte) (*Roles, error) {
	roles, err := e.roles()
	if err != nil {
		return nil, err
	}
	if caller != roles.Owner {
		return nil, ErrNotOwner
	}
	return roles, nil
}

// Owner returns the protocol owner address.
func (e *Engine) Owner() ([20]byte, error) {
	roles, err := e.roles()
	if err != nil {
		return [20]byte{}, err
	}
	return roles.Owner, nil
}

// IsPaused implements the common.PauseView interface for collateral-return
// operations.
func (e *Engine) IsPaused(module string) bool {
	if module != ModuleReturnCollateral {
		return false
	}
	roles, err := e.roles()
	if err != nil {
		return false
	}
	return roles.ReturnCollateralPaused
}

// ProposeFees appends a new fee entry activating after the main governance
// delay. A not-yet-active entry must be revoked before proposing again.
func (e *Engine) ProposeFees(caller [20]byte, protocolRate, settlementRate *big.Int) error {
	if _, err := e.requireOwner(caller); err != nil {
		return err
	}
	if err := validateFeeRate(protocolRate); err != nil {
		return err
	}
	if err := validateFeeRate(settlementRate); err != nil {
		return err
	}
	history, err := e.state.GovFeesHistory()
	if err != nil {
		return err
	}
	now := e.now()
	if n := len(history); n > 0 && history[n-1].StartTime > now {
		return ErrPendingUpdate
	}
	entry := Fees{
		StartTime:      now + MainDelay,
		ProtocolRate:   protocolRate,
		SettlementRate: settlementRate,
	}.Clone()
	if err := e.state.GovFeesPutHistory(append(history, entry)); err != nil {
		return err
	}
	e.emit(events.GovernanceUpdated{Parameter: "fees", Activation: entry.StartTime}.Event())
	return nil
}

// RevokeFees deletes the latest not-yet-active fee entry, restoring the
// previous values.
func (e *Engine) RevokeFees(caller [20]byte) error {
	if _, err := e.requireOwner(caller); err != nil {
		return err
	}
	history, err := e.state.GovFeesHistory()
	if err != nil {
		return err
	}
	n := len(history)
	if n == 0 || history[n-1].StartTime <= e.now() {
		return ErrNoPendingUpdate
	}
	if err := e.state.GovFeesPutHistory(history[:n-1]); err != nil {
		return err
	}
	e.emit(events.GovernanceRevoked{Parameter: "fees"}.Event())
	return nil
}

// ProposePeriods appends a new settlement-period entry activating after the
// main governance delay.
func (e *Engine) ProposePeriods(caller [20]byte, submission, challenge, review, fallbackSubmission int64) error {
	if _, err := e.requireOwner(caller); err != nil {
		return err
	}
	for _, p := range []struct {
		name  string
		value int64
	}{
		{"submission", submission},
		{"challenge", challenge},
		{"review", review},
		{"fallback submission", fallbackSubmission},
	} {
		if err := validatePeriod(p.name, p.value); err != nil {
			return err
		}
	}
	history, err := e.state.GovPeriodsHistory()
	if err != nil {
		return err
	}
	now := e.now()
	if n := len(history); n > 0 && history[n-1].StartTime > now {
		return ErrPendingUpdate
	}
	entry := Periods{
		StartTime:          now + MainDelay,
		Submission:         submission,
		Challenge:          challenge,
		Review:             review,
		FallbackSubmission: fallbackSubmission,
	}
	if err := e.state.GovPeriodsPutHistory(append(history, entry)); err != nil {
		return err
	}
	e.emit(events.GovernanceUpdated{Parameter: "periods", Activation: entry.StartTime}.Event())
	return nil
}

// RevokePeriods deletes the latest not-yet-active period entry.
func (e *Engine) RevokePeriods(caller [20]byte) error {
	if _, err := e.requireOwner(caller); err != nil {
		return err
	}
	history, err := e.state.GovPeriodsHistory()
	if err != nil {
		return err
	}
	n := len(history)
	if n == 0 || history[n-1].StartTime <= e.now() {
		return ErrNoPendingUpdate
	}
	if err := e.state.GovPeriodsPutHistory(history[:n-1]); err != nil {
		return err
	}
	e.emit(events.GovernanceRevoked{Parameter: "periods"}.Event())
	return nil
}

func (e *Engine) proposeRole(caller [20]byte, addr [20]byte, delay int64, pick func(*Roles) *Versioned, name string) error {
	roles, err := e.requireOwner(caller)
	if err != nil {
		return err
	}
	if addr == ([20]byte{}) {
		return fmt.Errorf("governance: %s address must be non-zero", name)
	}
	now := e.now()
	slot := pick(roles)
	if slot.PendingAt(now) {
		return ErrPendingUpdate
	}
	slot.Previous = slot.Effective(now)
	slot.Pending = addr
	slot.Activation = now + delay
	if err := e.state.GovRolesPut(roles); err != nil {
		return err
	}
	e.emit(events.GovernanceUpdated{Parameter: name, Activation: slot.Activation}.Event())
	return nil
}

func (e *Engine) revokeRole(caller [20]byte, pick func(*Roles) *Versioned, name string) error {
	roles, err := e.requireOwner(caller)
	if err != nil {
		return err
	}
	slot := pick(roles)
	if !slot.PendingAt(e.now()) {
		return ErrNoPendingUpdate
	}
	slot.Pending = [20]byte{}
	slot.Activation = 0
	if err := e.state.GovRolesPut(roles); err != nil {
		return err
	}
	e.emit(events.GovernanceRevoked{Parameter: name}.Event())
	return nil
}

// ProposeTreasury schedules a treasury change after the short treasury delay.
func (e *Engine) ProposeTreasury(caller, addr [20]byte) error {
	return e.proposeRole(caller, addr, TreasuryDelay, func(r *Roles) *Versioned { return &r.Treasury }, "treasury")
}

// RevokeTreasury deletes a pending treasury change.
func (e *Engine) RevokeTreasury(caller [20]byte) error {
	return e.revokeRole(caller, func(r *Roles) *Versioned { return &r.Treasury }, "treasury")
}

// ProposeFallbackProvider schedules a fallback-provider change after the main
// governance delay.
func (e *Engine) ProposeFallbackProvider(caller, addr [20]byte) error {
	return e.proposeRole(caller, addr, MainDelay, func(r *Roles) *Versioned { return &r.FallbackProvider }, "fallbackProvider")
}

// RevokeFallbackProvider deletes a pending fallback-provider change.
func (e *Engine) RevokeFallbackProvider(caller [20]byte) error {
	return e.revokeRole(caller, func(r *Roles) *Versioned { return &r.FallbackProvider }, "fallbackProvider")
}

// SetReturnCollateralPause flips the immediate pause switch guarding
// collateral-return operations. Unlike parameter updates there is no
// activation delay.
func (e *Engine) SetReturnCollateralPause(caller [20]byte, paused bool) error {
	roles, err := e.requireOwner(caller)
	if err != nil {
		return err
	}
	if roles.ReturnCollateralPaused == paused {
		return nil
	}
	roles.ReturnCollateralPaused = paused
	if err := e.state.GovRolesPut(roles); err != nil {
		return err
	}
	e.emit(events.GovernancePaused{Module: ModuleReturnCollateral, Paused: paused}.Event())
	return nil
}

// Treasury resolves the effective treasury address at the supplied time.
func (e *Engine) Treasury(now int64) ([20]byte, error) {
	roles, err := e.roles()
	if err != nil {
		return [20]byte{}, err
	}
	return roles.Treasury.Effective(now), nil
}

// FallbackProvider resolves the effective fallback provider at the supplied
// time.
func (e *Engine) FallbackProvider(now int64) ([20]byte, error) {
	roles, err := e.roles()
	if err != nil {
		return [20]byte{}, err
	}
	return roles.FallbackProvider.Effective(now), nil
}

// FeesAt returns the fee history entry stored at the given index. Superseded
// entries remain queryable.
func (e *Engine) FeesAt(index uint64) (Fees, error) {
	if e == nil || e.state == nil {
		return Fees{}, errNilState
	}
	history, err := e.state.GovFeesHistory()
	if err != nil {
		return Fees{}, err
	}
	if index >= uint64(len(history)) {
		return Fees{}, fmt.Errorf("governance: fee index %d out of range", index)
	}
	return history[index].Clone(), nil
}

// PeriodsAt returns the period history entry stored at the given index.
func (e *Engine) PeriodsAt(index uint64) (Periods, error) {
	if e == nil || e.state == nil {
		return Periods{}, errNilState
	}
	history, err := e.state.GovPeriodsHistory()
	if err != nil {
		return Periods{}, err
	}
	if index >= uint64(len(history)) {
		return Periods{}, fmt.Errorf("governance: period index %d out of range", index)
	}
	return history[index], nil
}

// CurrentParameters resolves the active (never pending) governance snapshot at
// the supplied time. Pending history entries stay invisible until their
// activation time passes; this is what insulates existing pools from later
// governance changes.
func (e *Engine) CurrentParameters(now int64) (Snapshot, error) {
	if e == nil || e.state == nil {
		return Snapshot{}, errNilState
	}
	feesHistory, err := e.state.GovFeesHistory()
	if err != nil {
		return Snapshot{}, err
	}
	if len(feesHistory) == 0 {
		return Snapshot{}, fmt.Errorf("governance: ledger not initialised")
	}
	periodsHistory, err := e.state.GovPeriodsHistory()
	if err != nil {
		return Snapshot{}, err
	}
	if len(periodsHistory) == 0 {
		return Snapshot{}, fmt.Errorf("governance: ledger not initialised")
	}
	roles, err := e.roles()
	if err != nil {
		return Snapshot{}, err
	}
	feesIdx := activeIndex(len(feesHistory), func(i int) int64 { return feesHistory[i].StartTime }, now)
	periodsIdx := activeIndex(len(periodsHistory), func(i int) int64 { return periodsHistory[i].StartTime }, now)
	return Snapshot{
		Fees:             feesHistory[feesIdx].Clone(),
		FeesIndex:        uint64(feesIdx),
		Periods:          periodsHistory[periodsIdx],
		PeriodsIndex:     uint64(periodsIdx),
		Treasury:         roles.Treasury.Effective(now),
		FallbackProvider: roles.FallbackProvider.Effective(now),
	}, nil
}

// activeIndex returns the index of the latest entry whose start time has
// passed. The genesis entry is always active, so index 0 is the floor.
func activeIndex(n int, startTime func(int) int64, now int64) int {
	for i := n - 1; i > 0; i-- {
		if startTime(i) <= now {
			return i
		}
	}
	return 0
}
