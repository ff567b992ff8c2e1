package main

import (
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"claimchain/crypto"
	"claimchain/native/offer"
	"claimchain/protocol"
)

const passEnv = "CLAIMCHAIN_KEY_PASS"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	var err error
	switch os.Args[1] {
	case "generate-key":
		err = generateKey(os.Args[2:])
	case "show-address":
		err = showAddress(os.Args[2:])
	case "sign-offer":
		err = signOffer(os.Args[2:])
	case "offer-hash":
		err = offerHash(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage:
  claimchain-cli generate-key <keystore-file>
  claimchain-cli show-address <keystore-file>
  claimchain-cli sign-offer  -key <keystore-file> -type <create-pool|add-liquidity|remove-liquidity> -offer <offer.json> -chain-id <id>
  claimchain-cli offer-hash  -type <create-pool|add-liquidity|remove-liquidity> -offer <offer.json> -chain-id <id>

The keystore passphrase is read from the CLAIMCHAIN_KEY_PASS environment variable.`)
}

func passphrase() (string, error) {
	pass := os.Getenv(passEnv)
	if strings.TrimSpace(pass) == "" {
		return "", fmt.Errorf("set %s to the keystore passphrase", passEnv)
	}
	return pass, nil
}

func generateKey(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("generate-key requires a keystore file path")
	}
	pass, err := passphrase()
	if err != nil {
		return err
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return err
	}
	if err := crypto.SaveToKeystore(args[0], key, pass); err != nil {
		return err
	}
	fmt.Printf("Address: %s\n", key.PubKey().Address().String())
	return nil
}

func showAddress(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("show-address requires a keystore file path")
	}
	pass, err := passphrase()
	if err != nil {
		return err
	}
	key, err := crypto.LoadFromKeystore(args[0], pass)
	if err != nil {
		return err
	}
	fmt.Printf("Address: %s\n", key.PubKey().Address().String())
	return nil
}

// offerFile is the on-disk offer layout shared by sign-offer and offer-hash.
// Addresses are bech32 strings, amounts decimal strings.
type offerFile struct {
	Maker                  string `json:"maker"`
	Taker                  string `json:"taker,omitempty"`
	OfferExpiry            int64  `json:"offerExpiry"`
	MinimumTakerFillAmount string `json:"minimumTakerFillAmount,omitempty"`
	Salt                   string `json:"salt"`

	MakerCollateralAmount string `json:"makerCollateralAmount,omitempty"`
	TakerCollateralAmount string `json:"takerCollateralAmount,omitempty"`
	MakerIsLong           bool   `json:"makerIsLong"`
	PoolID                uint64 `json:"poolId,omitempty"`
	PositionTokenAmount   string `json:"positionTokenAmount,omitempty"`

	ReferenceAsset  string `json:"referenceAsset,omitempty"`
	ExpiryTime      int64  `json:"expiryTime,omitempty"`
	Floor           string `json:"floor,omitempty"`
	Inflection      string `json:"inflection,omitempty"`
	Cap             string `json:"cap,omitempty"`
	Gradient        string `json:"gradient,omitempty"`
	CollateralToken string `json:"collateralToken,omitempty"`
	DataProvider    string `json:"dataProvider,omitempty"`
	Capacity        string `json:"capacity,omitempty"`
	PermissionToken string `json:"permissionToken,omitempty"`
}

func parseOfferFlags(args []string, withKey bool) (keyPath, offerType, offerPath string, chainID uint64, err error) {
	fs := flag.NewFlagSet("offer", flag.ContinueOnError)
	key := fs.String("key", "", "Keystore file holding the maker key")
	typ := fs.String("type", "", "Offer type: create-pool, add-liquidity or remove-liquidity")
	path := fs.String("offer", "", "Path to the offer JSON file")
	chain := fs.Uint64("chain-id", 1, "Chain id the offer is scoped to")
	if err = fs.Parse(args); err != nil {
		return
	}
	if withKey && *key == "" {
		err = fmt.Errorf("-key is required")
		return
	}
	if *typ == "" || *path == "" {
		err = fmt.Errorf("-type and -offer are required")
		return
	}
	return *key, *typ, *path, *chain, nil
}

func loadOfferDigest(offerType, offerPath string, chainID uint64) ([32]byte, error) {
	raw, err := os.ReadFile(offerPath)
	if err != nil {
		return [32]byte{}, err
	}
	var file offerFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return [32]byte{}, fmt.Errorf("decoding offer file: %w", err)
	}
	domain := offer.Domain{ChainID: chainID, VerifyingContract: protocol.VaultAddress()}

	terms, err := file.terms()
	if err != nil {
		return [32]byte{}, err
	}
	switch offerType {
	case "create-pool":
		o, err := file.createPool(terms)
		if err != nil {
			return [32]byte{}, err
		}
		return o.Hash(domain), nil
	case "add-liquidity":
		o, err := file.addLiquidity(terms)
		if err != nil {
			return [32]byte{}, err
		}
		return o.Hash(domain), nil
	case "remove-liquidity":
		o, err := file.removeLiquidity(terms)
		if err != nil {
			return [32]byte{}, err
		}
		return o.Hash(domain), nil
	default:
		return [32]byte{}, fmt.Errorf("unknown offer type %q", offerType)
	}
}

func signOffer(args []string) error {
	keyPath, offerType, offerPath, chainID, err := parseOfferFlags(args, true)
	if err != nil {
		return err
	}
	pass, err := passphrase()
	if err != nil {
		return err
	}
	key, err := crypto.LoadFromKeystore(keyPath, pass)
	if err != nil {
		return err
	}
	digest, err := loadOfferDigest(offerType, offerPath, chainID)
	if err != nil {
		return err
	}
	sig, err := ethcrypto.Sign(digest[:], key.PrivateKey)
	if err != nil {
		return err
	}
	fmt.Printf("Offer hash: 0x%s\n", hex.EncodeToString(digest[:]))
	fmt.Printf("Signature:  0x%s\n", hex.EncodeToString(sig))
	return nil
}

func offerHash(args []string) error {
	_, offerType, offerPath, chainID, err := parseOfferFlags(args, false)
	if err != nil {
		return err
	}
	digest, err := loadOfferDigest(offerType, offerPath, chainID)
	if err != nil {
		return err
	}
	fmt.Printf("Offer hash: 0x%s\n", hex.EncodeToString(digest[:]))
	return nil
}
