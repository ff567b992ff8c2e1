package main

import (
	"fmt"
	"math/big"
	"strings"

	"claimchain/crypto"
	"claimchain/native/offer"
)

func parseAddr(field, value string) ([20]byte, error) {
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

func parseAmt(field, value string) (*big.Int, error) {
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

func (f offerFile) terms() (offer.Terms, error) {
	var terms offer.Terms
	var err error
	if terms.Maker, err = parseAddr("maker", f.Maker); err != nil {
		return terms, err
	}
	if terms.Maker == ([20]byte{}) {
		return terms, fmt.Errorf("maker address is required")
	}
	if terms.Taker, err = parseAddr("taker", f.Taker); err != nil {
		return terms, err
	}
	terms.OfferExpiry = f.OfferExpiry
	if terms.MinimumTakerFillAmount, err = parseAmt("minimumTakerFillAmount", f.MinimumTakerFillAmount); err != nil {
		return terms, err
	}
	if terms.Salt, err = parseAmt("salt", f.Salt); err != nil {
		return terms, err
	}
	return terms, nil
}

func (f offerFile) createPool(terms offer.Terms) (*offer.CreatePoolOffer, error) {
	o := &offer.CreatePoolOffer{Terms: terms, MakerIsLong: f.MakerIsLong}
	o.ReferenceAsset = strings.TrimSpace(f.ReferenceAsset)
	o.ExpiryTime = f.ExpiryTime
	var err error
	if o.MakerCollateralAmount, err = parseAmt("makerCollateralAmount", f.MakerCollateralAmount); err != nil {
		return nil, err
	}
	if o.TakerCollateralAmount, err = parseAmt("takerCollateralAmount", f.TakerCollateralAmount); err != nil {
		return nil, err
	}
	if o.Floor, err = parseAmt("floor", f.Floor); err != nil {
		return nil, err
	}
	if o.Inflection, err = parseAmt("inflection", f.Inflection); err != nil {
		return nil, err
	}
	if o.Cap, err = parseAmt("cap", f.Cap); err != nil {
		return nil, err
	}
	if o.Gradient, err = parseAmt("gradient", f.Gradient); err != nil {
		return nil, err
	}
	if o.Capacity, err = parseAmt("capacity", f.Capacity); err != nil {
		return nil, err
	}
	if o.CollateralToken, err = parseAddr("collateralToken", f.CollateralToken); err != nil {
		return nil, err
	}
	if o.DataProvider, err = parseAddr("dataProvider", f.DataProvider); err != nil {
		return nil, err
	}
	if o.PermissionToken, err = parseAddr("permissionToken", f.PermissionToken); err != nil {
		return nil, err
	}
	return o, nil
}

func (f offerFile) addLiquidity(terms offer.Terms) (*offer.AddLiquidityOffer, error) {
	o := &offer.AddLiquidityOffer{Terms: terms, PoolID: f.PoolID, MakerIsLong: f.MakerIsLong}
	var err error
	if o.MakerCollateralAmount, err = parseAmt("makerCollateralAmount", f.MakerCollateralAmount); err != nil {
		return nil, err
	}
	if o.TakerCollateralAmount, err = parseAmt("takerCollateralAmount", f.TakerCollateralAmount); err != nil {
		return nil, err
	}
	return o, nil
}

func (f offerFile) removeLiquidity(terms offer.Terms) (*offer.RemoveLiquidityOffer, error) {
	o := &offer.RemoveLiquidityOffer{Terms: terms, PoolID: f.PoolID, MakerIsLong: f.MakerIsLong}
	var err error
	if o.PositionTokenAmount, err = parseAmt("positionTokenAmount", f.PositionTokenAmount); err != nil {
		return nil, err
	}
	if o.MakerCollateralAmount, err = parseAmt("makerCollateralAmount", f.MakerCollateralAmount); err != nil {
		return nil, err
	}
	return o, nil
}
