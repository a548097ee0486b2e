package order

import (
	"crypto/ed25519"
	"encoding/binary"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"
)

// PriceConstant scales every price: a price of 1*PriceConstant means one
// price-asset unit buys one amount-asset unit.
const PriceConstant = 100_000_000

// MaxAmount bounds order amounts; anything at or above it is rejected.
const MaxAmount = PriceConstant * PriceConstant

// MinExpirationAhead is how far past now an order must stay valid to be
// accepted.
const MinExpirationAhead = 60_000 // ms

type Side byte

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Buy {
		return "buy"
	}
	return "sell"
}

// Opposite returns the other side of the book.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Digest is a blake2b-256 hash used for order and transaction ids.
type Digest [32]byte

func (d Digest) String() string { return base58.Encode(d[:]) }

// Order is a signed limit order. It never changes after signing; the
// mutable matching view lives in LimitOrder.
type Order struct {
	Version    byte
	SenderPK   ed25519.PublicKey
	MatcherPK  ed25519.PublicKey
	Pair       AssetPair
	Side       Side
	Price      int64 // price-asset per amount unit, scaled by PriceConstant
	Amount     int64 // amount-asset units
	MatcherFee int64 // native units
	Timestamp  int64 // ms
	Expiration int64 // ms
	Proofs     [][]byte
}

// BodyBytes is the canonical binary form covered by the sender's
// signature and hashed into the order id. The layout is versioned and
// fixed; changing it forks the chain.
func (o *Order) BodyBytes() []byte {
	buf := make([]byte, 0, 1+32+32+66+1+5*8)
	buf = append(buf, o.Version)
	buf = append(buf, o.SenderPK...)
	buf = append(buf, o.MatcherPK...)
	buf = appendAsset(buf, o.Pair.AmountAsset)
	buf = appendAsset(buf, o.Pair.PriceAsset)
	buf = append(buf, byte(o.Side))
	buf = appendInt64(buf, o.Price)
	buf = appendInt64(buf, o.Amount)
	buf = appendInt64(buf, o.MatcherFee)
	buf = appendInt64(buf, o.Timestamp)
	buf = appendInt64(buf, o.Expiration)
	return buf
}

func appendAsset(buf []byte, a Asset) []byte {
	if a.IsNative() {
		return append(buf, 0)
	}
	buf = append(buf, 1)
	return append(buf, a[:]...)
}

func appendInt64(buf []byte, v int64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	return append(buf, b[:]...)
}

// ID is the blake2b-256 digest of the canonical body.
func (o *Order) ID() Digest {
	return blake2b.Sum256(o.BodyBytes())
}

// Sign appends an ed25519 signature over the body as the first proof.
func (o *Order) Sign(priv ed25519.PrivateKey) {
	o.Proofs = [][]byte{ed25519.Sign(priv, o.BodyBytes())}
}

// SignatureValid reports whether any proof is a valid sender signature
// over the canonical body.
func (o *Order) SignatureValid() bool {
	if len(o.SenderPK) != ed25519.PublicKeySize {
		return false
	}
	body := o.BodyBytes()
	for _, proof := range o.Proofs {
		if len(proof) == ed25519.SignatureSize && ed25519.Verify(o.SenderPK, body, proof) {
			return true
		}
	}
	return false
}

// SenderAddress renders the sender key as a base58 address.
func (o *Order) SenderAddress() string {
	sum := blake2b.Sum256(o.SenderPK)
	return base58.Encode(sum[:20])
}

// SpendAsset is the asset this order pays with.
func (o *Order) SpendAsset() Asset {
	if o.Side == Buy {
		return o.Pair.PriceAsset
	}
	return o.Pair.AmountAsset
}

// ReceiveAsset is the asset this order is paid in.
func (o *Order) ReceiveAsset() Asset {
	if o.Side == Buy {
		return o.Pair.AmountAsset
	}
	return o.Pair.PriceAsset
}

// Expired reports whether the order is past its expiration at now (ms).
func (o *Order) Expired(now int64) bool {
	return o.Expiration <= now
}

// Valid runs the order-level sanity checks: supported version, positive
// price and amount, sane timestamps.
func (o *Order) Valid(now int64) bool {
	if o.Version != 1 {
		return false
	}
	if o.Price <= 0 || o.Amount <= 0 || o.MatcherFee <= 0 {
		return false
	}
	if o.Amount >= MaxAmount {
		return false
	}
	if o.Expired(now) {
		return false
	}
	return true
}
