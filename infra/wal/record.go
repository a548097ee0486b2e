package wal

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"google.golang.org/protobuf/encoding/protowire"

	"reef/domain/order"
	"reef/domain/orderbook"
)

const (
	RecordAdded    = 1
	RecordExecuted = 2
	RecordCanceled = 3
)

// Record is one framed journal entry: a typed, CRC-guarded event at a
// monotonic offset.
type Record struct {
	Type   int
	Offset uint64
	Data   []byte
}

var ErrCorruptRecord = errors.New("wal: corrupted record")

// frame: [type:int32][offset:uint64][len:uint32][data][crc32(data)]
func EncodeRecord(rec *Record) []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, int32(rec.Type))
	binary.Write(buf, binary.LittleEndian, rec.Offset)
	binary.Write(buf, binary.LittleEndian, uint32(len(rec.Data)))
	buf.Write(rec.Data)
	binary.Write(buf, binary.LittleEndian, crc32.ChecksumIEEE(rec.Data))
	return buf.Bytes()
}

func DecodeRecord(r io.Reader) (*Record, error) {
	var typ int32
	var offset uint64
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &typ); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &offset); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	var crc uint32
	if err := binary.Read(r, binary.LittleEndian, &crc); err != nil {
		return nil, err
	}
	if crc32.ChecksumIEEE(data) != crc {
		return nil, ErrCorruptRecord
	}
	return &Record{Type: int(typ), Offset: offset, Data: data}, nil
}

// Event payloads are protowire-encoded. Field numbers are part of the
// on-disk format; never renumber them.
//
//	added/canceled: 1=order bytes, 2=remaining amount, 3=remaining fee,
//	                4=unmatchable (canceled only)
//	executed:       1,2,3 = submitted order/amount/fee
//	                4,5,6 = counter order/amount/fee

// EncodeEvent renders a book event as a journal record payload.
func EncodeEvent(ev orderbook.Event) (*Record, error) {
	switch e := ev.(type) {
	case *orderbook.OrderAdded:
		return &Record{Type: RecordAdded, Data: appendLimitOrder(nil, 1, e.Order)}, nil
	case *orderbook.OrderExecuted:
		data := appendLimitOrder(nil, 1, e.Submitted)
		data = appendLimitOrder(data, 4, e.Counter)
		return &Record{Type: RecordExecuted, Data: data}, nil
	case *orderbook.OrderCanceled:
		data := appendLimitOrder(nil, 1, e.Order)
		if e.Unmatchable {
			data = protowire.AppendTag(data, 4, protowire.VarintType)
			data = protowire.AppendVarint(data, 1)
		}
		return &Record{Type: RecordCanceled, Data: data}, nil
	}
	return nil, fmt.Errorf("wal: unknown event %T", ev)
}

// DecodeEvent rebuilds the book event from a journal record.
func DecodeEvent(rec *Record) (orderbook.Event, error) {
	fields, err := parseFields(rec.Data)
	if err != nil {
		return nil, err
	}
	switch rec.Type {
	case RecordAdded:
		lo, err := limitOrderFromFields(fields, 1)
		if err != nil {
			return nil, err
		}
		return &orderbook.OrderAdded{Order: lo}, nil
	case RecordExecuted:
		sub, err := limitOrderFromFields(fields, 1)
		if err != nil {
			return nil, err
		}
		cnt, err := limitOrderFromFields(fields, 4)
		if err != nil {
			return nil, err
		}
		return &orderbook.OrderExecuted{Submitted: sub, Counter: cnt}, nil
	case RecordCanceled:
		lo, err := limitOrderFromFields(fields, 1)
		if err != nil {
			return nil, err
		}
		return &orderbook.OrderCanceled{Order: lo, Unmatchable: fields.varints[4] == 1}, nil
	}
	return nil, fmt.Errorf("wal: unknown record type %d", rec.Type)
}

// appendLimitOrder writes a limit-order view as three consecutive
// fields starting at base: order bytes, remaining amount, remaining
// fee.
func appendLimitOrder(data []byte, base protowire.Number, lo *order.LimitOrder) []byte {
	data = protowire.AppendTag(data, base, protowire.BytesType)
	data = protowire.AppendBytes(data, lo.Order.Marshal())
	data = protowire.AppendTag(data, base+1, protowire.VarintType)
	data = protowire.AppendVarint(data, uint64(lo.Amount))
	data = protowire.AppendTag(data, base+2, protowire.VarintType)
	data = protowire.AppendVarint(data, uint64(lo.Fee))
	return data
}

type fieldSet struct {
	bytes   map[protowire.Number][]byte
	varints map[protowire.Number]uint64
}

func parseFields(data []byte) (*fieldSet, error) {
	fs := &fieldSet{
		bytes:   make(map[protowire.Number][]byte),
		varints: make(map[protowire.Number]uint64),
	}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, ErrCorruptRecord
		}
		data = data[n:]
		switch typ {
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, ErrCorruptRecord
			}
			fs.bytes[num] = v
			data = data[n:]
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, ErrCorruptRecord
			}
			fs.varints[num] = v
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, ErrCorruptRecord
			}
			data = data[n:]
		}
	}
	return fs, nil
}

func limitOrderFromFields(fs *fieldSet, base protowire.Number) (*order.LimitOrder, error) {
	raw, ok := fs.bytes[base]
	if !ok {
		return nil, ErrCorruptRecord
	}
	o, err := order.Unmarshal(raw)
	if err != nil {
		return nil, err
	}
	lo := order.NewLimitOrder(o)
	lo.Amount = int64(fs.varints[base+1])
	lo.Fee = int64(fs.varints[base+2])
	return lo, nil
}
