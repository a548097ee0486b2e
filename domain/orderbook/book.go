package orderbook

import (
	"bytes"
	"errors"

	"github.com/google/btree"

	"reef/domain/order"
)

// level is one price rung: resting orders in time priority.
type level struct {
	price  int64
	orders []*order.LimitOrder
}

// levelItem adapts a level to the btree; bids invert the comparison so
// that the tree's minimum is always the best price on either side.
type levelItem struct {
	level *level
	desc  bool
}

func (it *levelItem) Less(than btree.Item) bool {
	other := than.(*levelItem)
	if it.desc {
		return it.level.price > other.level.price
	}
	return it.level.price < other.level.price
}

// OrderBook holds one pair's resting orders. It is not safe for
// concurrent use; the pair actor owns it.
type OrderBook struct {
	Pair  order.AssetPair
	bids  *btree.BTree
	asks  *btree.BTree
	index map[order.Digest]*order.LimitOrder
}

func NewOrderBook(pair order.AssetPair) *OrderBook {
	return &OrderBook{
		Pair:  pair,
		bids:  btree.New(32),
		asks:  btree.New(32),
		index: make(map[order.Digest]*order.LimitOrder),
	}
}

// ErrCounterRejected marks an execution refused because of the resting
// order, not the submitted one. The book removes the counter order and
// keeps matching the submitted order against the rest of the queue.
var ErrCounterRejected = errors.New("counter order rejected")

// ExecFunc is called once per execution before the book commits it.
// Returning an error aborts the execution: the counter order does not
// advance. An error wrapping ErrCounterRejected evicts the counter
// order; any other error discards the submitted order and ends the
// match.
type ExecFunc func(e *OrderExecuted) error

// Match runs the inbound order against the opposite side until it
// rests, fills, or dies. Events are emitted in effect order. The
// returned error is the exec callback's, when it aborted the match.
func (b *OrderBook) Match(submitted *order.LimitOrder, exec ExecFunc) ([]Event, error) {
	var events []Event
	for {
		counter := b.head(submitted.Side().Opposite())
		if counter == nil || !submitted.Crosses(counter) {
			b.insert(submitted)
			return append(events, &OrderAdded{Order: submitted}), nil
		}

		e := &OrderExecuted{Submitted: submitted, Counter: counter}
		if e.ExecutedAmount() == 0 {
			// Rounding dust: one side cannot settle a whole
			// price-asset unit against the other.
			if counter.AmountOfAmountAsset() == 0 || !counter.Valid() {
				b.remove(counter)
				events = append(events, &OrderCanceled{Order: counter, Unmatchable: true})
				continue
			}
			return append(events, &OrderCanceled{Order: submitted, Unmatchable: true}), nil
		}

		if err := exec(e); err != nil {
			if errors.Is(err, ErrCounterRejected) {
				b.remove(counter)
				events = append(events, &OrderCanceled{Order: counter})
				continue
			}
			return append(events, &OrderCanceled{Order: submitted, Unmatchable: true}), err
		}
		events = append(events, e)

		counterRest := e.CounterRemaining()
		switch {
		case counterRest.Amount <= 0:
			b.remove(counter)
		case counterRest.Amount < counterRest.MinAmountOfAmountAsset() || !counterRest.Valid():
			b.remove(counter)
			events = append(events, &OrderCanceled{Order: counterRest, Unmatchable: true})
		default:
			b.replace(counter, counterRest)
			// submitted is exhausted against a live counter; a
			// rounding leftover cannot settle here and is dropped
			if rest := e.SubmittedRemaining(); rest.Amount > 0 {
				events = append(events, &OrderCanceled{Order: rest, Unmatchable: true})
			}
			return events, nil
		}

		submitted = e.SubmittedRemaining()
		if submitted.Amount <= 0 {
			return events, nil
		}
		if submitted.Amount < submitted.MinAmountOfAmountAsset() || !submitted.Valid() {
			return append(events, &OrderCanceled{Order: submitted, Unmatchable: true}), nil
		}
	}
}

// Cancel removes the order by id. The second result is false when the
// order is not resting in this book.
func (b *OrderBook) Cancel(id order.Digest) (*OrderCanceled, bool) {
	lo, ok := b.index[id]
	if !ok {
		return nil, false
	}
	b.remove(lo)
	return &OrderCanceled{Order: lo}, true
}

// RemoveExpired sweeps both sides and drops every order whose
// expiration is at or before now.
func (b *OrderBook) RemoveExpired(now int64) []Event {
	var expired []*order.LimitOrder
	for _, lo := range b.index {
		if lo.Order.Expired(now) {
			expired = append(expired, lo)
		}
	}
	// deterministic sweep order
	sortOrders(expired)
	events := make([]Event, 0, len(expired))
	for _, lo := range expired {
		b.remove(lo)
		events = append(events, &OrderCanceled{Order: lo})
	}
	return events
}

// Contains reports whether the order rests in this book.
func (b *OrderBook) Contains(id order.Digest) bool {
	_, ok := b.index[id]
	return ok
}

// BestBid returns the highest resting bid, or nil.
func (b *OrderBook) BestBid() *order.LimitOrder { return b.head(order.Buy) }

// BestAsk returns the lowest resting ask, or nil.
func (b *OrderBook) BestAsk() *order.LimitOrder { return b.head(order.Sell) }

// BidOrders lists resting bids in price-time priority.
func (b *OrderBook) BidOrders() []*order.LimitOrder { return collect(b.bids) }

// AskOrders lists resting asks in price-time priority.
func (b *OrderBook) AskOrders() []*order.LimitOrder { return collect(b.asks) }

// AllOrders lists bids then asks, each in priority order.
func (b *OrderBook) AllOrders() []*order.LimitOrder {
	return append(b.BidOrders(), b.AskOrders()...)
}

// Size is the number of resting orders.
func (b *OrderBook) Size() int { return len(b.index) }

// Restore re-inserts a resting order during snapshot load or journal
// replay, bypassing matching.
func (b *OrderBook) Restore(lo *order.LimitOrder) {
	b.insert(lo)
}

func (b *OrderBook) tree(side order.Side) *btree.BTree {
	if side == order.Buy {
		return b.bids
	}
	return b.asks
}

func (b *OrderBook) probe(side order.Side, price int64) *levelItem {
	return &levelItem{level: &level{price: price}, desc: side == order.Buy}
}

func (b *OrderBook) head(side order.Side) *order.LimitOrder {
	min := b.tree(side).Min()
	if min == nil {
		return nil
	}
	lvl := min.(*levelItem).level
	if len(lvl.orders) == 0 {
		return nil
	}
	return lvl.orders[0]
}

func (b *OrderBook) insert(lo *order.LimitOrder) {
	side := lo.Side()
	tree := b.tree(side)
	probe := b.probe(side, lo.Price)

	var lvl *level
	if existing := tree.Get(probe); existing != nil {
		lvl = existing.(*levelItem).level
	} else {
		lvl = probe.level
		tree.ReplaceOrInsert(probe)
	}

	// time priority within the level: timestamp, then id
	pos := len(lvl.orders)
	for i, other := range lvl.orders {
		if sortsBefore(lo, other) {
			pos = i
			break
		}
	}
	lvl.orders = append(lvl.orders, nil)
	copy(lvl.orders[pos+1:], lvl.orders[pos:])
	lvl.orders[pos] = lo
	b.index[lo.ID()] = lo
}

func (b *OrderBook) remove(lo *order.LimitOrder) {
	side := lo.Side()
	tree := b.tree(side)
	probe := b.probe(side, lo.Price)

	if existing := tree.Get(probe); existing != nil {
		lvl := existing.(*levelItem).level
		id := lo.ID()
		for i, other := range lvl.orders {
			if other.ID() == id {
				lvl.orders = append(lvl.orders[:i], lvl.orders[i+1:]...)
				break
			}
		}
		if len(lvl.orders) == 0 {
			tree.Delete(probe)
		}
	}
	delete(b.index, lo.ID())
}

// replace swaps a resting order for its post-execution remainder,
// keeping its queue position.
func (b *OrderBook) replace(old, rest *order.LimitOrder) {
	side := old.Side()
	if existing := b.tree(side).Get(b.probe(side, old.Price)); existing != nil {
		lvl := existing.(*levelItem).level
		id := old.ID()
		for i, other := range lvl.orders {
			if other.ID() == id {
				lvl.orders[i] = rest
				break
			}
		}
	}
	b.index[old.ID()] = rest
}

func collect(tree *btree.BTree) []*order.LimitOrder {
	out := make([]*order.LimitOrder, 0, tree.Len())
	tree.Ascend(func(item btree.Item) bool {
		out = append(out, item.(*levelItem).level.orders...)
		return true
	})
	return out
}

func sortsBefore(a, b *order.LimitOrder) bool {
	if a.Order.Timestamp != b.Order.Timestamp {
		return a.Order.Timestamp < b.Order.Timestamp
	}
	aid, bid := a.ID(), b.ID()
	return bytes.Compare(aid[:], bid[:]) < 0
}

func sortOrders(orders []*order.LimitOrder) {
	for i := 1; i < len(orders); i++ {
		for j := i; j > 0 && sortsBefore(orders[j], orders[j-1]); j-- {
			orders[j], orders[j-1] = orders[j-1], orders[j]
		}
	}
}
