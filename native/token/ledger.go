package token

import (
	"errors"
	"fmt"
	"math/big"
)

var (
	errNilState           = errors.New("token ledger: state not configured")
	ErrAssetNotFound      = errors.New("token ledger: asset not found")
	ErrAssetExists        = errors.New("token ledger: asset already registered")
	ErrInsufficientFunds  = errors.New("token ledger: insufficient balance")
	ErrInsufficientAllow  = errors.New("token ledger: insufficient allowance")
	ErrNotAuthorized      = errors.New("token ledger: caller not authorized")
	ErrHolderNotPermitted = errors.New("token ledger: holder lacks permission token")
)

type ledgerState interface {
	TokenPut(*Asset) error
	TokenGet(addr [20]byte) (*Asset, bool, error)
	BalancePut(asset, holder [20]byte, amount *big.Int) error
	BalanceGet(asset, holder [20]byte) (*big.Int, error)
	AllowancePut(asset, owner, spender [20]byte, amount *big.Int) error
	AllowanceGet(asset, owner, spender [20]byte) (*big.Int, error)
}

// Ledger implements the fungible asset boundary consumed by every engine:
// balances, allowances, mint/burn, and the optional permission-token gate on
// position tokens.
type Ledger struct {
	state ledgerState
}

// NewLedger creates an unbound ledger. Callers wire the state backend via
// SetState before use.
func NewLedger() *Ledger {
	return &Ledger{}
}

// SetState configures the state backend used by the ledger.
func (l *Ledger) SetState(state ledgerState) { l.state = state }

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func isZeroAddress(addr [20]byte) bool {
	return addr == [20]byte{}
}

func (l *Ledger) asset(addr [20]byte) (*Asset, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	asset, ok, err := l.state.TokenGet(addr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %x", ErrAssetNotFound, addr)
	}
	return asset, nil
}

// Register persists a new asset definition. Registration of an address that is
// already tracked fails.
func (l *Ledger) Register(a *Asset) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	sanitized, err := SanitizeAsset(a)
	if err != nil {
		return err
	}
	if _, ok, err := l.state.TokenGet(sanitized.Address); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("%w: %x", ErrAssetExists, sanitized.Address)
	}
	return l.state.TokenPut(sanitized)
}

// Exists reports whether the asset address is registered.
func (l *Ledger) Exists(addr [20]byte) (bool, error) {
	if l == nil || l.state == nil {
		return false, errNilState
	}
	_, ok, err := l.state.TokenGet(addr)
	return ok, err
}

// DecimalsOf returns the registered decimals for the asset.
func (l *Ledger) DecimalsOf(addr [20]byte) (uint8, error) {
	asset, err := l.asset(addr)
	if err != nil {
		return 0, err
	}
	return asset.Decimals, nil
}

// TotalSupply returns the current supply of the asset.
func (l *Ledger) TotalSupply(addr [20]byte) (*big.Int, error) {
	asset, err := l.asset(addr)
	if err != nil {
		return nil, err
	}
	return cloneBigInt(asset.Supply), nil
}

// BalanceOf returns the holder's balance for the asset.
func (l *Ledger) BalanceOf(asset, holder [20]byte) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	bal, err := l.state.BalanceGet(asset, holder)
	if err != nil {
		return nil, err
	}
	return cloneBigInt(bal), nil
}

// Allowance returns the remaining spend allowance granted by owner to spender.
func (l *Ledger) Allowance(asset, owner, spender [20]byte) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	allow, err := l.state.AllowanceGet(asset, owner, spender)
	if err != nil {
		return nil, err
	}
	return cloneBigInt(allow), nil
}

// Approve sets the spender's allowance over the owner's balance.
func (l *Ledger) Approve(asset, owner, spender [20]byte, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	amt := cloneBigInt(amount)
	if amt.Sign() < 0 {
		return fmt.Errorf("token ledger: negative allowance")
	}
	if _, err := l.asset(asset); err != nil {
		return err
	}
	return l.state.AllowancePut(asset, owner, spender, amt)
}

func (l *Ledger) checkPermission(asset *Asset, holder [20]byte) error {
	if isZeroAddress(asset.PermissionToken) {
		return nil
	}
	// The zero address is a burn sink, never a gated holder.
	if isZeroAddress(holder) {
		return nil
	}
	bal, err := l.state.BalanceGet(asset.PermissionToken, holder)
	if err != nil {
		return err
	}
	if bal == nil || bal.Sign() <= 0 {
		return ErrHolderNotPermitted
	}
	return nil
}

// Mint creates amount units of the asset for the recipient. Only the asset's
// mint authority may mint, and gated assets require the recipient to hold the
// permission token.
func (l *Ledger) Mint(assetAddr, caller, to [20]byte, amount *big.Int) error {
	asset, err := l.asset(assetAddr)
	if err != nil {
		return err
	}
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return fmt.Errorf("token ledger: mint amount must be positive")
	}
	if isZeroAddress(asset.MintAuthority) || caller != asset.MintAuthority {
		return ErrNotAuthorized
	}
	if err := l.checkPermission(asset, to); err != nil {
		return err
	}
	bal, err := l.state.BalanceGet(assetAddr, to)
	if err != nil {
		return err
	}
	if err := l.state.BalancePut(assetAddr, to, new(big.Int).Add(cloneBigInt(bal), amt)); err != nil {
		return err
	}
	asset.Supply = new(big.Int).Add(asset.Supply, amt)
	return l.state.TokenPut(asset)
}

// Burn destroys amount units held by from. The asset's mint authority may burn
// any holder's balance; everyone else may only burn their own.
func (l *Ledger) Burn(assetAddr, caller, from [20]byte, amount *big.Int) error {
	asset, err := l.asset(assetAddr)
	if err != nil {
		return err
	}
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return fmt.Errorf("token ledger: burn amount must be positive")
	}
	if caller != from && caller != asset.MintAuthority {
		return ErrNotAuthorized
	}
	bal, err := l.state.BalanceGet(assetAddr, from)
	if err != nil {
		return err
	}
	have := cloneBigInt(bal)
	if have.Cmp(amt) < 0 {
		return ErrInsufficientFunds
	}
	if err := l.state.BalancePut(assetAddr, from, have.Sub(have, amt)); err != nil {
		return err
	}
	asset.Supply = new(big.Int).Sub(asset.Supply, amt)
	return l.state.TokenPut(asset)
}

// Transfer moves amount from one holder to another and returns the amount the
// recipient actually received. Assets registered with a synthetic transfer fee
// burn the fee leg, which lets callers detect fee-on-transfer behaviour by
// comparing the returned amount against the requested one.
func (l *Ledger) Transfer(assetAddr, from, to [20]byte, amount *big.Int) (*big.Int, error) {
	asset, err := l.asset(assetAddr)
	if err != nil {
		return nil, err
	}
	amt := cloneBigInt(amount)
	if amt.Sign() < 0 {
		return nil, fmt.Errorf("token ledger: negative transfer amount")
	}
	if amt.Sign() == 0 {
		return big.NewInt(0), nil
	}
	if err := l.checkPermission(asset, from); err != nil {
		return nil, err
	}
	if err := l.checkPermission(asset, to); err != nil {
		return nil, err
	}
	fromBal, err := l.state.BalanceGet(assetAddr, from)
	if err != nil {
		return nil, err
	}
	have := cloneBigInt(fromBal)
	if have.Cmp(amt) < 0 {
		return nil, ErrInsufficientFunds
	}
	fee := new(big.Int).Mul(amt, new(big.Int).SetUint64(uint64(asset.TransferFeeBps)))
	fee.Div(fee, big.NewInt(10_000))
	received := new(big.Int).Sub(amt, fee)
	toBal, err := l.state.BalanceGet(assetAddr, to)
	if err != nil {
		return nil, err
	}
	if err := l.state.BalancePut(assetAddr, from, have.Sub(have, amt)); err != nil {
		return nil, err
	}
	if err := l.state.BalancePut(assetAddr, to, new(big.Int).Add(cloneBigInt(toBal), received)); err != nil {
		return nil, err
	}
	if fee.Sign() > 0 {
		asset.Supply = new(big.Int).Sub(asset.Supply, fee)
		if err := l.state.TokenPut(asset); err != nil {
			return nil, err
		}
	}
	return received, nil
}

// TransferFrom moves amount on behalf of spender, consuming the owner's
// allowance, and returns the amount received.
func (l *Ledger) TransferFrom(assetAddr, spender, from, to [20]byte, amount *big.Int) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	amt := cloneBigInt(amount)
	if amt.Sign() < 0 {
		return nil, fmt.Errorf("token ledger: negative transfer amount")
	}
	if spender != from {
		allow, err := l.state.AllowanceGet(assetAddr, from, spender)
		if err != nil {
			return nil, err
		}
		remaining := cloneBigInt(allow)
		if remaining.Cmp(amt) < 0 {
			return nil, ErrInsufficientAllow
		}
		if err := l.state.AllowancePut(assetAddr, from, spender, remaining.Sub(remaining, amt)); err != nil {
			return nil, err
		}
	}
	return l.Transfer(assetAddr, from, to, amt)
}
