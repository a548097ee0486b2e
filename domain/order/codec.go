package order

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Marshal encodes the full order: canonical body followed by proofs.
func (o *Order) Marshal() []byte {
	buf := o.BodyBytes()
	buf = append(buf, byte(len(o.Proofs)))
	for _, proof := range o.Proofs {
		var n [2]byte
		binary.BigEndian.PutUint16(n[:], uint16(len(proof)))
		buf = append(buf, n[:]...)
		buf = append(buf, proof...)
	}
	return buf
}

var errShortBuffer = errors.New("order: short buffer")

// Unmarshal decodes an order encoded with Marshal.
func Unmarshal(b []byte) (*Order, error) {
	r := reader{buf: b}

	o := &Order{}
	version, err := r.byte()
	if err != nil {
		return nil, err
	}
	o.Version = version
	if o.SenderPK, err = r.bytes(32); err != nil {
		return nil, err
	}
	if o.MatcherPK, err = r.bytes(32); err != nil {
		return nil, err
	}
	if o.Pair.AmountAsset, err = r.asset(); err != nil {
		return nil, err
	}
	if o.Pair.PriceAsset, err = r.asset(); err != nil {
		return nil, err
	}
	side, err := r.byte()
	if err != nil {
		return nil, err
	}
	if side > byte(Sell) {
		return nil, fmt.Errorf("order: bad side %d", side)
	}
	o.Side = Side(side)
	for _, dst := range []*int64{&o.Price, &o.Amount, &o.MatcherFee, &o.Timestamp, &o.Expiration} {
		if *dst, err = r.int64(); err != nil {
			return nil, err
		}
	}

	nProofs, err := r.byte()
	if err != nil {
		return nil, err
	}
	for i := 0; i < int(nProofs); i++ {
		n, err := r.uint16()
		if err != nil {
			return nil, err
		}
		proof, err := r.bytes(int(n))
		if err != nil {
			return nil, err
		}
		o.Proofs = append(o.Proofs, proof)
	}
	return o, nil
}

type reader struct {
	buf []byte
	pos int
}

func (r *reader) byte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, errShortBuffer
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	if r.pos+n > len(r.buf) {
		return nil, errShortBuffer
	}
	out := make([]byte, n)
	copy(out, r.buf[r.pos:r.pos+n])
	r.pos += n
	return out, nil
}

func (r *reader) int64() (int64, error) {
	b, err := r.bytes(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

func (r *reader) uint16() (uint16, error) {
	b, err := r.bytes(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *reader) asset() (Asset, error) {
	var a Asset
	flag, err := r.byte()
	if err != nil {
		return a, err
	}
	if flag == 0 {
		return a, nil
	}
	raw, err := r.bytes(32)
	if err != nil {
		return a, err
	}
	copy(a[:], raw)
	return a, nil
}
