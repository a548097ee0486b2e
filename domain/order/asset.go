package order

import (
	"bytes"

	"github.com/mr-tron/base58"
)

// Asset identifies an asset on the chain by the digest of its issue
// transaction. The zero value stands for the native coin, which has no
// on-chain id.
type Asset [32]byte

// Native is the chain's own coin.
var Native Asset

func (a Asset) IsNative() bool { return a == Native }

func (a Asset) String() string {
	if a.IsNative() {
		return "NATIVE"
	}
	return base58.Encode(a[:])
}

// AssetFromString decodes a base58 asset id. The empty string decodes
// to the native asset.
func AssetFromString(s string) (Asset, error) {
	var a Asset
	if s == "" || s == "NATIVE" {
		return a, nil
	}
	raw, err := base58.Decode(s)
	if err != nil {
		return a, err
	}
	copy(a[:], raw)
	return a, nil
}

// AssetPair is the two legs of a market. Price is quoted as price-asset
// units per amount-asset unit, scaled by PriceConstant.
type AssetPair struct {
	AmountAsset Asset
	PriceAsset  Asset
}

func (p AssetPair) String() string {
	return p.AmountAsset.String() + "-" + p.PriceAsset.String()
}

// Key renders a stable byte key for routing and storage.
func (p AssetPair) Key() string {
	var buf bytes.Buffer
	buf.Write(p.AmountAsset[:])
	buf.Write(p.PriceAsset[:])
	return buf.String()
}
