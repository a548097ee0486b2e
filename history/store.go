// Package history is the durable accounting of every order the matcher
// has seen: per-order info records, the per-trader open-volume ledger,
// and the per-trader indexes that make both enumerable. It is the
// authority the validator checks reservations against.
package history

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/rs/zerolog"

	"reef/domain/order"
	"reef/domain/orderbook"
)

// Store folds order-book events into pebble. One event is one atomic
// batch; a mutex serializes writers against readers of the same keys
// (open-volume slots are read by the validator as absolute values, so
// updates cannot interleave with reads).
type Store struct {
	db  *pebble.DB
	mu  sync.Mutex
	log zerolog.Logger
}

func Open(dir string, log zerolog.Logger) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &Store{db: db, log: log}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// eventKind drives the open-volume delta; the info diff alone cannot
// tell an unmatchable removal (canceled=false) from a live order.
type eventKind byte

const (
	evAdded eventKind = iota
	evExecuted
	evCanceled
)

// change is one order's slice of an event.
type change struct {
	kind           eventKind
	order          *order.Order
	minAmount      int64
	executedAmount int64
	executedFee    int64
	lastSpend      int64
	unmatchable    bool
}

// Process folds one event into the store. offset is the event's journal
// offset; replaying an offset already folded into an order's record is
// a no-op, which makes journal replay idempotent.
func (s *Store) Process(offset uint64, ev orderbook.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := s.db.NewIndexedBatch()
	defer batch.Close()

	for _, c := range collectChanges(ev) {
		if err := s.applyChange(batch, offset, c); err != nil {
			return err
		}
	}
	return batch.Commit(pebble.Sync)
}

func collectChanges(ev orderbook.Event) []change {
	switch e := ev.(type) {
	case *orderbook.OrderAdded:
		return []change{{
			kind:      evAdded,
			order:     e.Order.Order,
			minAmount: e.Order.MinAmountOfAmountAsset(),
		}}
	case *orderbook.OrderExecuted:
		x := e.ExecutedAmount()
		subFee, cntFee := e.SubmittedExecutedFee(), e.CounterExecutedFee()
		return []change{
			{
				kind:           evExecuted,
				order:          e.Submitted.Order,
				minAmount:      e.SubmittedRemaining().MinAmountOfAmountAsset(),
				executedAmount: x,
				executedFee:    subFee,
				lastSpend:      e.Submitted.Partial(x, subFee).SpendAmount(),
			},
			{
				kind:           evExecuted,
				order:          e.Counter.Order,
				minAmount:      e.CounterRemaining().MinAmountOfAmountAsset(),
				executedAmount: x,
				executedFee:    cntFee,
				lastSpend:      e.Counter.Partial(x, cntFee).SpendAmount(),
			},
		}
	case *orderbook.OrderCanceled:
		return []change{{
			kind:        evCanceled,
			order:       e.Order.Order,
			unmatchable: e.Unmatchable,
		}}
	}
	return nil
}

func (s *Store) applyChange(batch *pebble.Batch, offset uint64, c change) error {
	id := c.order.ID()
	rec, err := s.readRecord(batch, id)
	if err != nil {
		return err
	}
	if offset != 0 && rec.lastOffset >= offset {
		return nil // already folded in; journal replay
	}

	prev := rec.info
	updated := foldChange(prev, c)
	rec.info = updated
	rec.lastOffset = offset

	if err := batch.Set(orderInfoKey(id), encodeRecord(rec), nil); err != nil {
		return err
	}
	if !prev.Known() {
		if err := s.registerOrder(batch, c.order); err != nil {
			return err
		}
	}

	delta := volumeDelta(c.kind, c.order, prev, updated)
	return s.saveOpenVolume(batch, c.order.SenderAddress(), delta)
}

// foldChange applies one order-info diff. Filled is non-decreasing and
// RemainingFee non-increasing until the order is final.
func foldChange(prev order.OrderInfo, c change) order.OrderInfo {
	info := prev
	if !prev.Known() {
		info = order.OrderInfo{
			Amount:       c.order.Amount,
			RemainingFee: c.order.MatcherFee,
		}
	}
	switch c.kind {
	case evAdded:
		info.MinAmount = c.minAmount
	case evExecuted:
		info.Filled += c.executedAmount
		info.RemainingFee -= c.executedFee
		if info.RemainingFee < 0 {
			info.RemainingFee = 0
		}
		info.UnsafeTotalSpend += c.lastSpend
		info.MinAmount = c.minAmount
	case evCanceled:
		if !prev.Known() {
			info.Canceled = true
		} else if !c.unmatchable {
			info.Canceled = true
		}
	}
	return info
}

// volumeDelta is the open-volume adjustment one change causes. The
// invariant it preserves: a trader's open volume always equals the sum
// of Reservation over their live orders, and a final or removed order
// reserves nothing.
func volumeDelta(kind eventKind, o *order.Order, prev, updated order.OrderInfo) order.OpenPortfolio {
	switch kind {
	case evAdded:
		if !prev.Known() && !updated.Status().Final() {
			return order.Reservation(o, updated)
		}
		return nil
	case evExecuted:
		if !prev.Known() {
			if updated.Status().Final() {
				return nil
			}
			return order.Reservation(o, updated)
		}
		delta := order.Reservation(o, prev).Negate()
		if !updated.Status().Final() {
			delta = delta.Add(order.Reservation(o, updated))
		}
		return delta
	case evCanceled:
		if !prev.Known() {
			return nil
		}
		return order.Reservation(o, updated).Negate()
	}
	return nil
}

func (s *Store) saveOpenVolume(batch *pebble.Batch, addr string, delta order.OpenPortfolio) error {
	for asset, d := range delta {
		current, found, err := s.readInt64(batch, openVolumeKey(addr, asset))
		if err != nil {
			return err
		}
		next := current + d
		if next < 0 {
			s.log.Error().
				Str("address", addr).
				Str("asset", asset.String()).
				Int64("volume", next).
				Msg("open volume went negative; clamping")
			next = 0
		}
		if err := batch.Set(openVolumeKey(addr, asset), encodeInt64(next), nil); err != nil {
			return err
		}
		if !found {
			if err := s.registerAsset(batch, addr, asset); err != nil {
				return err
			}
		}
	}
	return nil
}

// registerAsset appends a first-seen asset to the trader's asset index.
func (s *Store) registerAsset(batch *pebble.Batch, addr string, asset order.Asset) error {
	seq, _, err := s.readInt64(batch, assetSeqKey(addr))
	if err != nil {
		return err
	}
	if err := batch.Set(assetIndexKey(addr, uint64(seq)), []byte(asset.String()), nil); err != nil {
		return err
	}
	return batch.Set(assetSeqKey(addr), encodeInt64(seq+1), nil)
}

// registerOrder saves the order bytes and appends its id to the
// trader's order index.
func (s *Store) registerOrder(batch *pebble.Batch, o *order.Order) error {
	id := o.ID()
	if err := batch.Set(orderKey(id), o.Marshal(), nil); err != nil {
		return err
	}
	addr := o.SenderAddress()
	seq, _, err := s.readInt64(batch, orderSeqKey(addr))
	if err != nil {
		return err
	}
	if err := batch.Set(orderIndexKey(addr, uint64(seq)), id[:], nil); err != nil {
		return err
	}
	return batch.Set(orderSeqKey(addr), encodeInt64(seq+1), nil)
}

// DeleteOrder garbage-collects a terminal order's storage. Only Filled
// and Cancelled orders may go; open volume is untouched (it is already
// zero for a terminal order).
func (s *Store) DeleteOrder(id order.Digest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.readRecord(s.db, id)
	if err != nil {
		return err
	}
	switch st := rec.info.Status(); st {
	case order.Filled, order.Cancelled:
	default:
		return fmt.Errorf("history: cannot delete order %s in status %s", id, st)
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Delete(orderKey(id), nil); err != nil {
		return err
	}
	if err := batch.Delete(orderInfoKey(id), nil); err != nil {
		return err
	}
	return batch.Commit(pebble.Sync)
}

//
// Queries
//

// OrderInfo returns the stored record; the zero value means NotFound.
func (s *Store) OrderInfo(id order.Digest) (order.OrderInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.readRecord(s.db, id)
	return rec.info, err
}

// Order returns the stored order bytes decoded, if present.
func (s *Store) Order(id order.Digest) (*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	val, closer, err := s.db.Get(orderKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return order.Unmarshal(val)
}

// OpenVolume is the trader's current reservation in one asset.
func (s *Store) OpenVolume(addr string, asset order.Asset) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, _, err := s.readInt64(s.db, openVolumeKey(addr, asset))
	return v, err
}

// OpenPortfolio enumerates every reserved asset of a trader.
func (s *Store) OpenPortfolio(addr string) (order.OpenPortfolio, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lower, upper := openVolumePrefix(addr)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	out := order.OpenPortfolio{}
	for iter.First(); iter.Valid(); iter.Next() {
		asset, err := order.AssetFromString(string(iter.Key()[len(lower):]))
		if err != nil {
			return nil, err
		}
		v, err := decodeInt64(iter.Value())
		if err != nil {
			return nil, err
		}
		if v != 0 {
			out[asset] = v
		}
	}
	return out, iter.Error()
}

// OrderIDsByAddress lists the ids of a trader's stored orders, oldest
// first. Orders removed by DeleteOrder are skipped.
func (s *Store) OrderIDsByAddress(addr string) ([]order.Digest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lower, upper := orderIndexPrefix(addr)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []order.Digest
	for iter.First(); iter.Valid(); iter.Next() {
		var id order.Digest
		copy(id[:], iter.Value())
		rec, err := s.readRecord(s.db, id)
		if err != nil {
			return nil, err
		}
		if !rec.info.Known() {
			continue // deleted; the index entry is left in place
		}
		out = append(out, id)
	}
	return out, iter.Error()
}

type pebbleReader interface {
	Get(key []byte) ([]byte, io.Closer, error)
}

func (s *Store) readRecord(r pebbleReader, id order.Digest) (record, error) {
	val, closer, err := r.Get(orderInfoKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return record{}, nil
	}
	if err != nil {
		return record{}, err
	}
	defer closer.Close()
	return decodeRecord(val)
}

func (s *Store) readInt64(r pebbleReader, key []byte) (int64, bool, error) {
	val, closer, err := r.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	defer closer.Close()
	v, err := decodeInt64(val)
	return v, true, err
}
