package orderbook

import "reef/domain/order"

// Apply folds one journaled event back into the book during recovery.
// Replay never re-matches: the journal already fixed every outcome, so
// application is a pure state edit and deterministic.
func (b *OrderBook) Apply(ev Event) {
	switch e := ev.(type) {
	case *OrderAdded:
		if !b.Contains(e.Order.ID()) {
			b.insert(e.Order)
		}
	case *OrderExecuted:
		cur, ok := b.index[e.Counter.ID()]
		if !ok {
			return // counter already gone; submitted never rested
		}
		rest := e.CounterRemaining()
		switch {
		case rest.Amount <= 0:
			b.remove(cur)
		case rest.Amount < rest.MinAmountOfAmountAsset() || !rest.Valid():
			b.remove(cur) // its cancel record follows in the journal
		default:
			b.replace(cur, rest)
		}
	case *OrderCanceled:
		if cur, ok := b.index[e.Order.ID()]; ok {
			b.remove(cur)
		}
	}
}

// Order returns the resting view of an order, if present.
func (b *OrderBook) Order(id order.Digest) (*order.LimitOrder, bool) {
	lo, ok := b.index[id]
	return lo, ok
}
