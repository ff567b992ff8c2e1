package rpc

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"claimchain/crypto"
	"claimchain/native/offer"
	"claimchain/native/pool"
)

// Wire conventions: addresses are bech32 strings, amounts and rates are
// decimal strings, hashes and signatures are 0x-prefixed hex.

func parseAddress(field, value string) ([20]byte, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return [20]byte{}, nil
	}
	addr, err := crypto.DecodeAddress(value)
	if err != nil {
		return [20]byte{}, fmt.Errorf("%s: %w", field, err)
	}
	return addr.Raw(), nil
}

func requireAddress(field, value string) ([20]byte, error) {
	addr, err := parseAddress(field, value)
	if err != nil {
		return [20]byte{}, err
	}
	if addr == ([20]byte{}) {
		return [20]byte{}, fmt.Errorf("%s: address required", field)
	}
	return addr, nil
}

func parseAmount(field, value string) (*big.Int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("%s: invalid decimal amount %q", field, value)
	}
	return amount, nil
}

func parseHex(field, value string) ([]byte, error) {
	value = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(value), "0x"))
	out, err := hex.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	return out, nil
}

func formatAddress(addr [20]byte) string {
	return crypto.NewAddress(crypto.ClaimPrefix, addr[:]).String()
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func formatHash(h [32]byte) string {
	return "0x" + hex.EncodeToString(h[:])
}

// --- Pool payloads ---

type poolParamsPayload struct {
	ReferenceAsset   string `json:"referenceAsset"`
	ExpiryTime       int64  `json:"expiryTime"`
	Floor            string `json:"floor"`
	Inflection       string `json:"inflection"`
	Cap              string `json:"cap"`
	Gradient         string `json:"gradient"`
	CollateralAmount string `json:"collateralAmount"`
	CollateralToken  string `json:"collateralToken"`
	DataProvider     string `json:"dataProvider"`
	Capacity         string `json:"capacity,omitempty"`
	LongRecipient    string `json:"longRecipient"`
	ShortRecipient   string `json:"shortRecipient"`
	PermissionToken  string `json:"permissionToken,omitempty"`
}

func (p poolParamsPayload) toParams() (pool.Params, error) {
	var params pool.Params
	var err error
	params.ReferenceAsset = strings.TrimSpace(p.ReferenceAsset)
	params.ExpiryTime = p.ExpiryTime
	if params.Floor, err = parseAmount("floor", p.Floor); err != nil {
		return params, err
	}
	if params.Inflection, err = parseAmount("inflection", p.Inflection); err != nil {
		return params, err
	}
	if params.Cap, err = parseAmount("cap", p.Cap); err != nil {
		return params, err
	}
	if params.Gradient, err = parseAmount("gradient", p.Gradient); err != nil {
		return params, err
	}
	if params.CollateralAmount, err = parseAmount("collateralAmount", p.CollateralAmount); err != nil {
		return params, err
	}
	if params.Capacity, err = parseAmount("capacity", p.Capacity); err != nil {
		return params, err
	}
	if params.CollateralToken, err = requireAddress("collateralToken", p.CollateralToken); err != nil {
		return params, err
	}
	if params.DataProvider, err = requireAddress("dataProvider", p.DataProvider); err != nil {
		return params, err
	}
	if params.LongRecipient, err = parseAddress("longRecipient", p.LongRecipient); err != nil {
		return params, err
	}
	if params.ShortRecipient, err = parseAddress("shortRecipient", p.ShortRecipient); err != nil {
		return params, err
	}
	if params.PermissionToken, err = parseAddress("permissionToken", p.PermissionToken); err != nil {
		return params, err
	}
	return params, nil
}

type poolResponse struct {
	ID                  uint64 `json:"id"`
	ReferenceAsset      string `json:"referenceAsset"`
	ExpiryTime          int64  `json:"expiryTime"`
	Floor               string `json:"floor"`
	Inflection          string `json:"inflection"`
	Cap                 string `json:"cap"`
	Gradient            string `json:"gradient"`
	CollateralToken     string `json:"collateralToken"`
	CollateralBalance   string `json:"collateralBalance"`
	Capacity            string `json:"capacity"`
	DataProvider        string `json:"dataProvider"`
	PermissionToken     string `json:"permissionToken,omitempty"`
	LongToken           string `json:"longToken"`
	ShortToken          string `json:"shortToken"`
	Status              string `json:"status"`
	StatusTimestamp     int64  `json:"statusTimestamp"`
	FinalReferenceValue string `json:"finalReferenceValue"`
	PayoutLong          string `json:"payoutLong"`
	PayoutShort         string `json:"payoutShort"`
	CreatedAt           int64  `json:"createdAt"`
}

func toPoolResponse(p *pool.Pool) poolResponse {
	resp := poolResponse{
		ID:                  p.ID,
		ReferenceAsset:      p.ReferenceAsset,
		ExpiryTime:          p.ExpiryTime,
		Floor:               formatAmount(p.Floor),
		Inflection:          formatAmount(p.Inflection),
		Cap:                 formatAmount(p.Cap),
		Gradient:            formatAmount(p.Gradient),
		CollateralToken:     formatAddress(p.CollateralToken),
		CollateralBalance:   formatAmount(p.CollateralBalance),
		Capacity:            formatAmount(p.Capacity),
		DataProvider:        formatAddress(p.DataProvider),
		LongToken:           formatAddress(p.LongToken),
		ShortToken:          formatAddress(p.ShortToken),
		Status:              p.Status.String(),
		StatusTimestamp:     p.StatusTimestamp,
		FinalReferenceValue: formatAmount(p.FinalReferenceValue),
		PayoutLong:          formatAmount(p.PayoutLong),
		PayoutShort:         formatAmount(p.PayoutShort),
		CreatedAt:           p.CreatedAt,
	}
	if p.PermissionToken != ([20]byte{}) {
		resp.PermissionToken = formatAddress(p.PermissionToken)
	}
	return resp
}

// --- Offer payloads ---

type offerTermsPayload struct {
	Maker                  string `json:"maker"`
	Taker                  string `json:"taker,omitempty"`
	OfferExpiry            int64  `json:"offerExpiry"`
	MinimumTakerFillAmount string `json:"minimumTakerFillAmount,omitempty"`
	Salt                   string `json:"salt"`
}

func (t offerTermsPayload) toTerms() (offer.Terms, error) {
	var terms offer.Terms
	var err error
	if terms.Maker, err = requireAddress("maker", t.Maker); err != nil {
		return terms, err
	}
	if terms.Taker, err = parseAddress("taker", t.Taker); err != nil {
		return terms, err
	}
	terms.OfferExpiry = t.OfferExpiry
	if terms.MinimumTakerFillAmount, err = parseAmount("minimumTakerFillAmount", t.MinimumTakerFillAmount); err != nil {
		return terms, err
	}
	if terms.Salt, err = parseAmount("salt", t.Salt); err != nil {
		return terms, err
	}
	return terms, nil
}

type createPoolOfferPayload struct {
	offerTermsPayload
	MakerCollateralAmount string `json:"makerCollateralAmount"`
	TakerCollateralAmount string `json:"takerCollateralAmount"`
	MakerIsLong           bool   `json:"makerIsLong"`

	ReferenceAsset  string `json:"referenceAsset"`
	ExpiryTime      int64  `json:"expiryTime"`
	Floor           string `json:"floor"`
	Inflection      string `json:"inflection"`
	Cap             string `json:"cap"`
	Gradient        string `json:"gradient"`
	CollateralToken string `json:"collateralToken"`
	DataProvider    string `json:"dataProvider"`
	Capacity        string `json:"capacity,omitempty"`
	PermissionToken string `json:"permissionToken,omitempty"`
}

func (p createPoolOfferPayload) toOffer() (*offer.CreatePoolOffer, error) {
	terms, err := p.toTerms()
	if err != nil {
		return nil, err
	}
	o := &offer.CreatePoolOffer{Terms: terms, MakerIsLong: p.MakerIsLong}
	o.ReferenceAsset = strings.TrimSpace(p.ReferenceAsset)
	o.ExpiryTime = p.ExpiryTime
	if o.MakerCollateralAmount, err = parseAmount("makerCollateralAmount", p.MakerCollateralAmount); err != nil {
		return nil, err
	}
	if o.TakerCollateralAmount, err = parseAmount("takerCollateralAmount", p.TakerCollateralAmount); err != nil {
		return nil, err
	}
	if o.Floor, err = parseAmount("floor", p.Floor); err != nil {
		return nil, err
	}
	if o.Inflection, err = parseAmount("inflection", p.Inflection); err != nil {
		return nil, err
	}
	if o.Cap, err = parseAmount("cap", p.Cap); err != nil {
		return nil, err
	}
	if o.Gradient, err = parseAmount("gradient", p.Gradient); err != nil {
		return nil, err
	}
	if o.Capacity, err = parseAmount("capacity", p.Capacity); err != nil {
		return nil, err
	}
	if o.CollateralToken, err = requireAddress("collateralToken", p.CollateralToken); err != nil {
		return nil, err
	}
	if o.DataProvider, err = requireAddress("dataProvider", p.DataProvider); err != nil {
		return nil, err
	}
	if o.PermissionToken, err = parseAddress("permissionToken", p.PermissionToken); err != nil {
		return nil, err
	}
	return o, nil
}

type addLiquidityOfferPayload struct {
	offerTermsPayload
	PoolID                uint64 `json:"poolId"`
	MakerCollateralAmount string `json:"makerCollateralAmount"`
	TakerCollateralAmount string `json:"takerCollateralAmount"`
	MakerIsLong           bool   `json:"makerIsLong"`
}

func (p addLiquidityOfferPayload) toOffer() (*offer.AddLiquidityOffer, error) {
	terms, err := p.toTerms()
	if err != nil {
		return nil, err
	}
	o := &offer.AddLiquidityOffer{Terms: terms, PoolID: p.PoolID, MakerIsLong: p.MakerIsLong}
	if o.MakerCollateralAmount, err = parseAmount("makerCollateralAmount", p.MakerCollateralAmount); err != nil {
		return nil, err
	}
	if o.TakerCollateralAmount, err = parseAmount("takerCollateralAmount", p.TakerCollateralAmount); err != nil {
		return nil, err
	}
	return o, nil
}

type removeLiquidityOfferPayload struct {
	offerTermsPayload
	PoolID                uint64 `json:"poolId"`
	PositionTokenAmount   string `json:"positionTokenAmount"`
	MakerCollateralAmount string `json:"makerCollateralAmount"`
	MakerIsLong           bool   `json:"makerIsLong"`
}

func (p removeLiquidityOfferPayload) toOffer() (*offer.RemoveLiquidityOffer, error) {
	terms, err := p.toTerms()
	if err != nil {
		return nil, err
	}
	o := &offer.RemoveLiquidityOffer{Terms: terms, PoolID: p.PoolID, MakerIsLong: p.MakerIsLong}
	if o.PositionTokenAmount, err = parseAmount("positionTokenAmount", p.PositionTokenAmount); err != nil {
		return nil, err
	}
	if o.MakerCollateralAmount, err = parseAmount("makerCollateralAmount", p.MakerCollateralAmount); err != nil {
		return nil, err
	}
	return o, nil
}

type offerStateResponse struct {
	Status               string `json:"status"`
	TakerFilled          string `json:"takerFilled"`
	ActualFillableAmount string `json:"actualFillableAmount"`
	PoolID               uint64 `json:"poolId,omitempty"`
}

func toOfferStateResponse(st *offer.State) offerStateResponse {
	return offerStateResponse{
		Status:               st.Status.String(),
		TakerFilled:          formatAmount(st.TakerFilled),
		ActualFillableAmount: formatAmount(st.ActualFillableAmount),
		PoolID:               st.PoolID,
	}
}
