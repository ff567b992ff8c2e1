package state

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"

	"claimchain/native/gov"
	"claimchain/native/offer"
	"claimchain/native/pool"
	"claimchain/native/token"
	"claimchain/storage"
)

// Key prefixes. Fixed-width suffixes (addresses, ids, hashes) are appended
// raw, so prefixes must not be prefixes of one another.
var (
	keyAsset      = []byte("tok/a/")
	keyBalance    = []byte("tok/b/")
	keyAllowance  = []byte("tok/w/")
	keyGovFees    = []byte("gov/fees")
	keyGovPeriods = []byte("gov/periods")
	keyGovRoles   = []byte("gov/roles")
	keyPoolSeq    = []byte("pool/seq")
	keyPool       = []byte("pool/r/")
	keyClaim      = []byte("claim/c/")
	keyReserved   = []byte("claim/r/")
	keyOfferFill  = []byte("offer/f/")
)

// StateDB persists every module's records in a key-value store and provides
// an all-or-nothing overlay so a failing operation leaves no partial writes.
type StateDB struct {
	db storage.Database

	mu      sync.Mutex
	overlay map[string][]byte
	deleted map[string]struct{}
}

// NewStateDB wraps the supplied database.
func NewStateDB(db storage.Database) *StateDB {
	return &StateDB{db: db}
}

// Begin starts an overlay transaction. Writes land in memory until Commit.
func (s *StateDB) Begin() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overlay = make(map[string][]byte)
	s.deleted = make(map[string]struct{})
}

// Commit flushes the overlay into the underlying database.
func (s *StateDB) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, value := range s.overlay {
		if err := s.db.Put([]byte(key), value); err != nil {
			return err
		}
	}
	for key := range s.deleted {
		if err := s.db.Delete([]byte(key)); err != nil {
			return err
		}
	}
	s.overlay = nil
	s.deleted = nil
	return nil
}

// Rollback discards the overlay.
func (s *StateDB) Rollback() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overlay = nil
	s.deleted = nil
}

func (s *StateDB) put(key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.overlay != nil {
		delete(s.deleted, string(key))
		s.overlay[string(key)] = value
		return nil
	}
	return s.db.Put(key, value)
}

func (s *StateDB) get(key []byte) ([]byte, bool, error) {
	s.mu.Lock()
	if s.overlay != nil {
		if _, gone := s.deleted[string(key)]; gone {
			s.mu.Unlock()
			return nil, false, nil
		}
		if value, ok := s.overlay[string(key)]; ok {
			s.mu.Unlock()
			return value, true, nil
		}
	}
	s.mu.Unlock()
	value, err := s.db.Get(key)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (s *StateDB) putRecord(key []byte, record interface{}) error {
	encoded, err := rlp.EncodeToBytes(record)
	if err != nil {
		return fmt.Errorf("state: encode %q: %w", key, err)
	}
	return s.put(key, encoded)
}

func (s *StateDB) getRecord(key []byte, out interface{}) (bool, error) {
	raw, ok, err := s.get(key)
	if err != nil || !ok {
		return false, err
	}
	if err := rlp.DecodeBytes(raw, out); err != nil {
		return false, fmt.Errorf("state: decode %q: %w", key, err)
	}
	return true, nil
}

func join(parts ...[]byte) []byte {
	size := 0
	for _, p := range parts {
		size += len(p)
	}
	out := make([]byte, 0, size)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func uint64Key(prefix []byte, v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return join(prefix, buf[:])
}

// RLP supports unsigned integers only, so timestamps are widened on write and
// narrowed on read.
func u64(v int64) uint64 {
	if v < 0 {
		return 0
	}
	return uint64(v)
}

func nonNil(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}

// --- Token ledger records ---

type storedAsset struct {
	Address         [20]byte
	Name            string
	Symbol          string
	Decimals        uint8
	Supply          *big.Int
	TransferFeeBps  uint32
	PermissionToken [20]byte
	MintAuthority   [20]byte
}

// TokenPut stores an asset definition keyed by its address.
func (s *StateDB) TokenPut(a *token.Asset) error {
	if a == nil {
		return fmt.Errorf("state: nil asset")
	}
	record := storedAsset{
		Address:         a.Address,
		Name:            a.Name,
		Symbol:          a.Symbol,
		Decimals:        a.Decimals,
		Supply:          nonNil(a.Supply),
		TransferFeeBps:  a.TransferFeeBps,
		PermissionToken: a.PermissionToken,
		MintAuthority:   a.MintAuthority,
	}
	return s.putRecord(join(keyAsset, a.Address[:]), record)
}

// TokenGet loads an asset definition.
func (s *StateDB) TokenGet(addr [20]byte) (*token.Asset, bool, error) {
	var record storedAsset
	ok, err := s.getRecord(join(keyAsset, addr[:]), &record)
	if err != nil || !ok {
		return nil, false, err
	}
	return &token.Asset{
		Address:         record.Address,
		Name:            record.Name,
		Symbol:          record.Symbol,
		Decimals:        record.Decimals,
		Supply:          nonNil(record.Supply),
		TransferFeeBps:  record.TransferFeeBps,
		PermissionToken: record.PermissionToken,
		MintAuthority:   record.MintAuthority,
	}, true, nil
}

func (s *StateDB) putAmount(key []byte, amount *big.Int) error {
	return s.putRecord(key, nonNil(amount))
}

func (s *StateDB) getAmount(key []byte) (*big.Int, error) {
	amount := new(big.Int)
	ok, err := s.getRecord(key, amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return amount, nil
}

// BalancePut stores a holder's asset balance.
func (s *StateDB) BalancePut(asset, holder [20]byte, amount *big.Int) error {
	return s.putAmount(join(keyBalance, asset[:], holder[:]), amount)
}

// BalanceGet loads a holder's asset balance, zero when absent.
func (s *StateDB) BalanceGet(asset, holder [20]byte) (*big.Int, error) {
	return s.getAmount(join(keyBalance, asset[:], holder[:]))
}

// AllowancePut stores a spender allowance.
func (s *StateDB) AllowancePut(asset, owner, spender [20]byte, amount *big.Int) error {
	return s.putAmount(join(keyAllowance, asset[:], owner[:], spender[:]), amount)
}

// AllowanceGet loads a spender allowance, zero when absent.
func (s *StateDB) AllowanceGet(asset, owner, spender [20]byte) (*big.Int, error) {
	return s.getAmount(join(keyAllowance, asset[:], owner[:], spender[:]))
}

// --- Governance records ---

type storedFees struct {
	StartTime      uint64
	ProtocolRate   *big.Int
	SettlementRate *big.Int
}

type storedPeriods struct {
	StartTime          uint64
	Submission         uint64
	Challenge          uint64
	Review             uint64
	FallbackSubmission uint64
}

type storedVersioned struct {
	Previous   [20]byte
	Pending    [20]byte
	Activation uint64
}

type storedRoles struct {
	Owner                  [20]byte
	Treasury               storedVersioned
	FallbackProvider       storedVersioned
	ReturnCollateralPaused bool
}

// GovFeesPutHistory stores the full append-only fee history.
func (s *StateDB) GovFeesPutHistory(history []gov.Fees) error {
	records := make([]storedFees, len(history))
	for i, f := range history {
		records[i] = storedFees{
			StartTime:      u64(f.StartTime),
			ProtocolRate:   nonNil(f.ProtocolRate),
			SettlementRate: nonNil(f.SettlementRate),
		}
	}
	return s.putRecord(keyGovFees, records)
}

// GovFeesHistory loads the fee history, nil when unset.
func (s *StateDB) GovFeesHistory() ([]gov.Fees, error) {
	var records []storedFees
	ok, err := s.getRecord(keyGovFees, &records)
	if err != nil || !ok {
		return nil, err
	}
	history := make([]gov.Fees, len(records))
	for i, r := range records {
		history[i] = gov.Fees{
			StartTime:      int64(r.StartTime),
			ProtocolRate:   nonNil(r.ProtocolRate),
			SettlementRate: nonNil(r.SettlementRate),
		}
	}
	return history, nil
}

// GovPeriodsPutHistory stores the full append-only period history.
func (s *StateDB) GovPeriodsPutHistory(history []gov.Periods) error {
	records := make([]storedPeriods, len(history))
	for i, p := range history {
		records[i] = storedPeriods{
			StartTime:          u64(p.StartTime),
			Submission:         u64(p.Submission),
			Challenge:          u64(p.Challenge),
			Review:             u64(p.Review),
			FallbackSubmission: u64(p.FallbackSubmission),
		}
	}
	return s.putRecord(keyGovPeriods, records)
}

// GovPeriodsHistory loads the period history, nil when unset.
func (s *StateDB) GovPeriodsHistory() ([]gov.Periods, error) {
	var records []storedPeriods
	ok, err := s.getRecord(keyGovPeriods, &records)
	if err != nil || !ok {
		return nil, err
	}
	history := make([]gov.Periods, len(records))
	for i, r := range records {
		history[i] = gov.Periods{
			StartTime:          int64(r.StartTime),
			Submission:         int64(r.Submission),
			Challenge:          int64(r.Challenge),
			Review:             int64(r.Review),
			FallbackSubmission: int64(r.FallbackSubmission),
		}
	}
	return history, nil
}

func toStoredVersioned(v gov.Versioned) storedVersioned {
	return storedVersioned{Previous: v.Previous, Pending: v.Pending, Activation: u64(v.Activation)}
}

func fromStoredVersioned(v storedVersioned) gov.Versioned {
	return gov.Versioned{Previous: v.Previous, Pending: v.Pending, Activation: int64(v.Activation)}
}

// GovRolesPut stores the governed role record.
func (s *StateDB) GovRolesPut(r *gov.Roles) error {
	if r == nil {
		return fmt.Errorf("state: nil roles")
	}
	record := storedRoles{
		Owner:                  r.Owner,
		Treasury:               toStoredVersioned(r.Treasury),
		FallbackProvider:       toStoredVersioned(r.FallbackProvider),
		ReturnCollateralPaused: r.ReturnCollateralPaused,
	}
	return s.putRecord(keyGovRoles, record)
}

// GovRolesGet loads the governed role record.
func (s *StateDB) GovRolesGet() (*gov.Roles, bool, error) {
	var record storedRoles
	ok, err := s.getRecord(keyGovRoles, &record)
	if err != nil || !ok {
		return nil, false, err
	}
	return &gov.Roles{
		Owner:                  record.Owner,
		Treasury:               fromStoredVersioned(record.Treasury),
		FallbackProvider:       fromStoredVersioned(record.FallbackProvider),
		ReturnCollateralPaused: record.ReturnCollateralPaused,
	}, true, nil
}

// --- Pool records ---

type storedPool struct {
	ID                  uint64
	ReferenceAsset      string
	ExpiryTime          uint64
	Floor               *big.Int
	Inflection          *big.Int
	Cap                 *big.Int
	Gradient            *big.Int
	CollateralToken     [20]byte
	CollateralBalance   *big.Int
	Capacity            *big.Int
	DataProvider        [20]byte
	PermissionToken     [20]byte
	LongToken           [20]byte
	ShortToken          [20]byte
	FeesIndex           uint64
	PeriodsIndex        uint64
	Fees                storedFees
	Periods             storedPeriods
	Status              uint8
	StatusTimestamp     uint64
	FinalReferenceValue *big.Int
	ChallengeValue      *big.Int
	PayoutLong          *big.Int
	PayoutShort         *big.Int
	CreatedAt           uint64
}

// PoolNextID allocates the next pool id. Ids start at 1; zero marks an
// unassigned pool reference.
func (s *StateDB) PoolNextID() (uint64, error) {
	raw, ok, err := s.get(keyPoolSeq)
	if err != nil {
		return 0, err
	}
	var next uint64 = 1
	if ok && len(raw) == 8 {
		next = binary.BigEndian.Uint64(raw) + 1
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], next)
	if err := s.put(keyPoolSeq, buf[:]); err != nil {
		return 0, err
	}
	return next, nil
}

// PoolPut stores a pool record keyed by id.
func (s *StateDB) PoolPut(p *pool.Pool) error {
	sanitized, err := pool.SanitizePool(p)
	if err != nil {
		return err
	}
	record := storedPool{
		ID:                  sanitized.ID,
		ReferenceAsset:      sanitized.ReferenceAsset,
		ExpiryTime:          u64(sanitized.ExpiryTime),
		Floor:               sanitized.Floor,
		Inflection:          sanitized.Inflection,
		Cap:                 sanitized.Cap,
		Gradient:            sanitized.Gradient,
		CollateralToken:     sanitized.CollateralToken,
		CollateralBalance:   sanitized.CollateralBalance,
		Capacity:            sanitized.Capacity,
		DataProvider:        sanitized.DataProvider,
		PermissionToken:     sanitized.PermissionToken,
		LongToken:           sanitized.LongToken,
		ShortToken:          sanitized.ShortToken,
		FeesIndex:           sanitized.FeesIndex,
		PeriodsIndex:        sanitized.PeriodsIndex,
		Fees: storedFees{
			StartTime:      u64(sanitized.Fees.StartTime),
			ProtocolRate:   nonNil(sanitized.Fees.ProtocolRate),
			SettlementRate: nonNil(sanitized.Fees.SettlementRate),
		},
		Periods: storedPeriods{
			StartTime:          u64(sanitized.Periods.StartTime),
			Submission:         u64(sanitized.Periods.Submission),
			Challenge:          u64(sanitized.Periods.Challenge),
			Review:             u64(sanitized.Periods.Review),
			FallbackSubmission: u64(sanitized.Periods.FallbackSubmission),
		},
		Status:              uint8(sanitized.Status),
		StatusTimestamp:     u64(sanitized.StatusTimestamp),
		FinalReferenceValue: sanitized.FinalReferenceValue,
		ChallengeValue:      sanitized.ChallengeValue,
		PayoutLong:          sanitized.PayoutLong,
		PayoutShort:         sanitized.PayoutShort,
		CreatedAt:           u64(sanitized.CreatedAt),
	}
	return s.putRecord(uint64Key(keyPool, sanitized.ID), record)
}

// PoolGet loads a pool record by id.
func (s *StateDB) PoolGet(id uint64) (*pool.Pool, bool, error) {
	var record storedPool
	ok, err := s.getRecord(uint64Key(keyPool, id), &record)
	if err != nil || !ok {
		return nil, false, err
	}
	p := &pool.Pool{
		ID:                record.ID,
		ReferenceAsset:    record.ReferenceAsset,
		ExpiryTime:        int64(record.ExpiryTime),
		Floor:             nonNil(record.Floor),
		Inflection:        nonNil(record.Inflection),
		Cap:               nonNil(record.Cap),
		Gradient:          nonNil(record.Gradient),
		CollateralToken:   record.CollateralToken,
		CollateralBalance: nonNil(record.CollateralBalance),
		Capacity:          nonNil(record.Capacity),
		DataProvider:      record.DataProvider,
		PermissionToken:   record.PermissionToken,
		LongToken:         record.LongToken,
		ShortToken:        record.ShortToken,
		FeesIndex:         record.FeesIndex,
		PeriodsIndex:      record.PeriodsIndex,
		Fees: gov.Fees{
			StartTime:      int64(record.Fees.StartTime),
			ProtocolRate:   nonNil(record.Fees.ProtocolRate),
			SettlementRate: nonNil(record.Fees.SettlementRate),
		},
		Periods: gov.Periods{
			StartTime:          int64(record.Periods.StartTime),
			Submission:         int64(record.Periods.Submission),
			Challenge:          int64(record.Periods.Challenge),
			Review:             int64(record.Periods.Review),
			FallbackSubmission: int64(record.Periods.FallbackSubmission),
		},
		Status:              pool.Status(record.Status),
		StatusTimestamp:     int64(record.StatusTimestamp),
		FinalReferenceValue: nonNil(record.FinalReferenceValue),
		ChallengeValue:      nonNil(record.ChallengeValue),
		PayoutLong:          nonNil(record.PayoutLong),
		PayoutShort:         nonNil(record.PayoutShort),
		CreatedAt:           int64(record.CreatedAt),
	}
	return p, true, nil
}

// --- Claim records ---

// ClaimPut stores a claimable fee balance.
func (s *StateDB) ClaimPut(asset, recipient [20]byte, amount *big.Int) error {
	return s.putAmount(join(keyClaim, asset[:], recipient[:]), amount)
}

// ClaimGet loads a claimable fee balance, zero when absent.
func (s *StateDB) ClaimGet(asset, recipient [20]byte) (*big.Int, error) {
	return s.getAmount(join(keyClaim, asset[:], recipient[:]))
}

// ReservedPut stores a pool's reserved settlement fee.
func (s *StateDB) ReservedPut(poolID uint64, amount *big.Int) error {
	return s.putAmount(uint64Key(keyReserved, poolID), amount)
}

// ReservedGet loads a pool's reserved settlement fee, zero when absent.
func (s *StateDB) ReservedGet(poolID uint64) (*big.Int, error) {
	return s.getAmount(uint64Key(keyReserved, poolID))
}

// --- Offer records ---

type storedFillState struct {
	TakerFilled *big.Int
	Cancelled   bool
	PoolID      uint64
}

// OfferFillPut stores the fill progress for an offer hash.
func (s *StateDB) OfferFillPut(hash [32]byte, fs *offer.FillState) error {
	if fs == nil {
		return fmt.Errorf("state: nil fill state")
	}
	record := storedFillState{
		TakerFilled: nonNil(fs.TakerFilled),
		Cancelled:   fs.Cancelled,
		PoolID:      fs.PoolID,
	}
	return s.putRecord(join(keyOfferFill, hash[:]), record)
}

// OfferFillGet loads the fill progress for an offer hash.
func (s *StateDB) OfferFillGet(hash [32]byte) (*offer.FillState, bool, error) {
	var record storedFillState
	ok, err := s.getRecord(join(keyOfferFill, hash[:]), &record)
	if err != nil || !ok {
		return nil, false, err
	}
	return &offer.FillState{
		TakerFilled: nonNil(record.TakerFilled),
		Cancelled:   record.Cancelled,
		PoolID:      record.PoolID,
	}, true, nil
}
