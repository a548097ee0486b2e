package history

import (
	"encoding/binary"
	"errors"
	"fmt"

	"reef/domain/order"
)

// Logical keyspace, string keys with '/' separators (base58 segments
// never contain '/'):
//
//	o/<id>         order bytes
//	i/<id>         order info record
//	v/<addr>/<asset>   open volume slot
//	vs/<addr>      asset index sequence number
//	va/<addr>/<n>  asset index entry
//	os/<addr>      order index sequence number
//	ol/<addr>/<n>  order index entry

func orderKey(id order.Digest) []byte     { return []byte("o/" + id.String()) }
func orderInfoKey(id order.Digest) []byte { return []byte("i/" + id.String()) }

func openVolumeKey(addr string, asset order.Asset) []byte {
	return []byte("v/" + addr + "/" + asset.String())
}

func openVolumePrefix(addr string) ([]byte, []byte) {
	return []byte("v/" + addr + "/"), []byte("v/" + addr + "/~")
}

func assetSeqKey(addr string) []byte { return []byte("vs/" + addr) }

func assetIndexKey(addr string, n uint64) []byte {
	return []byte(fmt.Sprintf("va/%s/%010d", addr, n))
}

func orderSeqKey(addr string) []byte { return []byte("os/" + addr) }

func orderIndexKey(addr string, n uint64) []byte {
	return []byte(fmt.Sprintf("ol/%s/%010d", addr, n))
}

func orderIndexPrefix(addr string) ([]byte, []byte) {
	return []byte("ol/" + addr + "/"), []byte("ol/" + addr + "/~")
}

// record is the stored form of an OrderInfo plus the journal offset of
// the last event folded into it, which makes replay idempotent.
type record struct {
	info       order.OrderInfo
	lastOffset uint64
}

// binary layout: [amount:8][filled:8][minAmount:8][remainingFee:8]
// [totalSpend:8][lastOffset:8][flags:1]
const recordSize = 6*8 + 1

func encodeRecord(r record) []byte {
	buf := make([]byte, recordSize)
	binary.BigEndian.PutUint64(buf[0:], uint64(r.info.Amount))
	binary.BigEndian.PutUint64(buf[8:], uint64(r.info.Filled))
	binary.BigEndian.PutUint64(buf[16:], uint64(r.info.MinAmount))
	binary.BigEndian.PutUint64(buf[24:], uint64(r.info.RemainingFee))
	binary.BigEndian.PutUint64(buf[32:], uint64(r.info.UnsafeTotalSpend))
	binary.BigEndian.PutUint64(buf[40:], r.lastOffset)
	if r.info.Canceled {
		buf[48] = 1
	}
	return buf
}

func decodeRecord(b []byte) (record, error) {
	if len(b) != recordSize {
		return record{}, errors.New("history: invalid order info record length")
	}
	return record{
		info: order.OrderInfo{
			Amount:           int64(binary.BigEndian.Uint64(b[0:])),
			Filled:           int64(binary.BigEndian.Uint64(b[8:])),
			MinAmount:        int64(binary.BigEndian.Uint64(b[16:])),
			RemainingFee:     int64(binary.BigEndian.Uint64(b[24:])),
			UnsafeTotalSpend: int64(binary.BigEndian.Uint64(b[32:])),
			Canceled:         b[48] == 1,
		},
		lastOffset: binary.BigEndian.Uint64(b[40:]),
	}, nil
}

func encodeInt64(v int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v))
	return buf
}

func decodeInt64(b []byte) (int64, error) {
	if len(b) != 8 {
		return 0, errors.New("history: invalid int64 value length")
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}
