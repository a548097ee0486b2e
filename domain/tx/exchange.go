// Package tx builds the exchange transactions the matcher emits for
// every fill. Body bytes are bit-stable: every node must produce the
// same encoding for the same fill or the chain forks.
package tx

import (
	"crypto/ed25519"
	"encoding/binary"

	"golang.org/x/crypto/blake2b"

	"reef/domain/order"
)

// ExchangeTransaction settles one execution between a buy and a sell
// order at the resting order's price.
type ExchangeTransaction struct {
	BuyOrder       *order.Order
	SellOrder      *order.Order
	Price          int64
	Amount         int64
	BuyMatcherFee  int64
	SellMatcherFee int64
	Fee            int64 // matcher's own transaction fee
	Timestamp      int64 // ms
	Proofs         [][]byte
}

// BodyBytes is the canonical binary body: both orders length-prefixed,
// then the numeric fields big-endian in fixed sequence.
func (t *ExchangeTransaction) BodyBytes() []byte {
	buyBody := t.BuyOrder.BodyBytes()
	sellBody := t.SellOrder.BodyBytes()

	buf := make([]byte, 0, 8+len(buyBody)+len(sellBody)+6*8)
	buf = appendBytes(buf, buyBody)
	buf = appendBytes(buf, sellBody)
	buf = appendInt64(buf, t.Price)
	buf = appendInt64(buf, t.Amount)
	buf = appendInt64(buf, t.BuyMatcherFee)
	buf = appendInt64(buf, t.SellMatcherFee)
	buf = appendInt64(buf, t.Fee)
	buf = appendInt64(buf, t.Timestamp)
	return buf
}

// ID is the blake2b-256 digest of the body.
func (t *ExchangeTransaction) ID() order.Digest {
	return blake2b.Sum256(t.BodyBytes())
}

// Sign sets the matcher signature as the sole proof.
func (t *ExchangeTransaction) Sign(priv ed25519.PrivateKey) {
	t.Proofs = [][]byte{ed25519.Sign(priv, t.BodyBytes())}
}

// SignatureValid checks the matcher signature against the matcher key
// both orders name.
func (t *ExchangeTransaction) SignatureValid() bool {
	pk := t.BuyOrder.MatcherPK
	if len(pk) != ed25519.PublicKeySize {
		return false
	}
	body := t.BodyBytes()
	for _, proof := range t.Proofs {
		if len(proof) == ed25519.SignatureSize && ed25519.Verify(pk, body, proof) {
			return true
		}
	}
	return false
}

func appendBytes(buf, b []byte) []byte {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(b)))
	buf = append(buf, n[:]...)
	return append(buf, b...)
}

func appendInt64(buf []byte, v int64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	return append(buf, b[:]...)
}
