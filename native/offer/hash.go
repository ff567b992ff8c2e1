package offer

import (
	"encoding/binary"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Typed-data hashing in the EIP-712 style: each offer variant has a type hash,
// struct fields are ABI-encoded as 32-byte words, and the final digest binds
// the struct hash to a per-chain domain separator.

const (
	domainName    = "Claimchain Protocol"
	domainVersion = "1"
)

var (
	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"),
	)
	createPoolOfferTypeHash = ethcrypto.Keccak256(
		[]byte("OfferCreateContingentPool(address maker,address taker,uint256 makerCollateralAmount,uint256 takerCollateralAmount,bool makerIsLong,uint256 offerExpiry,uint256 minimumTakerFillAmount,string referenceAsset,uint256 expiryTime,uint256 floor,uint256 inflection,uint256 cap,uint256 gradient,address collateralToken,address dataProvider,uint256 capacity,address permissionToken,uint256 salt)"),
	)
	addLiquidityOfferTypeHash = ethcrypto.Keccak256(
		[]byte("OfferAddLiquidity(address maker,address taker,uint256 makerCollateralAmount,uint256 takerCollateralAmount,bool makerIsLong,uint256 offerExpiry,uint256 minimumTakerFillAmount,uint256 poolId,uint256 salt)"),
	)
	removeLiquidityOfferTypeHash = ethcrypto.Keccak256(
		[]byte("OfferRemoveLiquidity(address maker,address taker,uint256 positionTokenAmount,uint256 makerCollateralAmount,bool makerIsLong,uint256 offerExpiry,uint256 minimumTakerFillAmount,uint256 poolId,uint256 salt)"),
	)
)

// Domain identifies the signing context. Offers signed for one chain or
// verifying address are invalid on any other.
type Domain struct {
	ChainID           uint64
	VerifyingContract [20]byte
}

// Separator returns the domain separator hash.
func (d Domain) Separator() []byte {
	return ethcrypto.Keccak256(concatBytes(
		eip712DomainTypeHash,
		ethcrypto.Keccak256([]byte(domainName)),
		ethcrypto.Keccak256([]byte(domainVersion)),
		uint64To32Bytes(d.ChainID),
		addressTo32Bytes(d.VerifyingContract),
	))
}

// digest computes keccak256(0x19 0x01 || domainSeparator || structHash).
func (d Domain) digest(structHash []byte) [32]byte {
	var out [32]byte
	copy(out[:], ethcrypto.Keccak256(concatBytes([]byte{0x19, 0x01}, d.Separator(), structHash)))
	return out
}

// Hash returns the signing digest of the offer under the given domain.
func (o *CreatePoolOffer) Hash(d Domain) [32]byte {
	structHash := ethcrypto.Keccak256(concatBytes(
		createPoolOfferTypeHash,
		addressTo32Bytes(o.Maker),
		addressTo32Bytes(o.Taker),
		bigIntTo32Bytes(o.MakerCollateralAmount),
		bigIntTo32Bytes(o.TakerCollateralAmount),
		boolTo32Bytes(o.MakerIsLong),
		int64To32Bytes(o.OfferExpiry),
		bigIntTo32Bytes(o.MinimumTakerFillAmount),
		ethcrypto.Keccak256([]byte(o.ReferenceAsset)),
		int64To32Bytes(o.ExpiryTime),
		bigIntTo32Bytes(o.Floor),
		bigIntTo32Bytes(o.Inflection),
		bigIntTo32Bytes(o.Cap),
		bigIntTo32Bytes(o.Gradient),
		addressTo32Bytes(o.CollateralToken),
		addressTo32Bytes(o.DataProvider),
		bigIntTo32Bytes(o.Capacity),
		addressTo32Bytes(o.PermissionToken),
		bigIntTo32Bytes(o.Salt),
	))
	return d.digest(structHash)
}

// Hash returns the signing digest of the offer under the given domain.
func (o *AddLiquidityOffer) Hash(d Domain) [32]byte {
	structHash := ethcrypto.Keccak256(concatBytes(
		addLiquidityOfferTypeHash,
		addressTo32Bytes(o.Maker),
		addressTo32Bytes(o.Taker),
		bigIntTo32Bytes(o.MakerCollateralAmount),
		bigIntTo32Bytes(o.TakerCollateralAmount),
		boolTo32Bytes(o.MakerIsLong),
		int64To32Bytes(o.OfferExpiry),
		bigIntTo32Bytes(o.MinimumTakerFillAmount),
		uint64To32Bytes(o.PoolID),
		bigIntTo32Bytes(o.Salt),
	))
	return d.digest(structHash)
}

// Hash returns the signing digest of the offer under the given domain.
func (o *RemoveLiquidityOffer) Hash(d Domain) [32]byte {
	structHash := ethcrypto.Keccak256(concatBytes(
		removeLiquidityOfferTypeHash,
		addressTo32Bytes(o.Maker),
		addressTo32Bytes(o.Taker),
		bigIntTo32Bytes(o.PositionTokenAmount),
		bigIntTo32Bytes(o.MakerCollateralAmount),
		boolTo32Bytes(o.MakerIsLong),
		int64To32Bytes(o.OfferExpiry),
		bigIntTo32Bytes(o.MinimumTakerFillAmount),
		uint64To32Bytes(o.PoolID),
		bigIntTo32Bytes(o.Salt),
	))
	return d.digest(structHash)
}

func bigIntTo32Bytes(v *big.Int) []byte {
	out := make([]byte, 32)
	if v != nil {
		v.FillBytes(out)
	}
	return out
}

func addressTo32Bytes(addr [20]byte) []byte {
	out := make([]byte, 32)
	copy(out[12:], addr[:])
	return out
}

func boolTo32Bytes(v bool) []byte {
	out := make([]byte, 32)
	if v {
		out[31] = 1
	}
	return out
}

func uint64To32Bytes(v uint64) []byte {
	out := make([]byte, 32)
	binary.BigEndian.PutUint64(out[24:], v)
	return out
}

func int64To32Bytes(v int64) []byte {
	if v < 0 {
		v = 0
	}
	return uint64To32Bytes(uint64(v))
}

func concatBytes(parts ...[]byte) []byte {
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
