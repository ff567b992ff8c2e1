package events

import (
	"encoding/hex"
	"math/big"

	"claimchain/crypto"
)

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func intToString(v int64) string {
	return big.NewInt(v).String()
}

func uintToString(v uint64) string {
	return new(big.Int).SetUint64(v).String()
}

func addrString(addr [20]byte) string {
	return crypto.NewAddress(crypto.ClaimPrefix, addr[:]).String()
}

func hashString(h [32]byte) string {
	return hex.EncodeToString(h[:])
}
