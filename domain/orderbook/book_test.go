package orderbook

import (
	"crypto/ed25519"
	"errors"
	"testing"

	"reef/domain/order"
)

const P = order.PriceConstant

var testPair = func() order.AssetPair {
	var btc order.Asset
	btc[0] = 7
	return order.AssetPair{AmountAsset: btc, PriceAsset: order.Native}
}()

var orderTag byte

func newOrder(side order.Side, price, amount, ts int64) *order.Order {
	orderTag++
	seed := make([]byte, ed25519.SeedSize)
	seed[0] = orderTag
	priv := ed25519.NewKeyFromSeed(seed)
	return &order.Order{
		Version:    1,
		SenderPK:   priv.Public().(ed25519.PublicKey),
		MatcherPK:  priv.Public().(ed25519.PublicKey),
		Pair:       testPair,
		Side:       side,
		Price:      price,
		Amount:     amount,
		MatcherFee: 300_000,
		Timestamp:  ts,
		Expiration: ts + 86_400_000,
	}
}

func place(t *testing.T, b *OrderBook, o *order.Order) []Event {
	t.Helper()
	events, err := b.Match(order.NewLimitOrder(o), func(*OrderExecuted) error { return nil })
	if err != nil {
		t.Fatalf("match failed: %v", err)
	}
	return events
}

func checkNotCrossed(t *testing.T, b *OrderBook) {
	t.Helper()
	bid, ask := b.BestBid(), b.BestAsk()
	if bid != nil && ask != nil && bid.Price >= ask.Price {
		t.Fatalf("book crossed: bid %d >= ask %d", bid.Price, ask.Price)
	}
}

func TestPriceTimePriority(t *testing.T) {
	b := NewOrderBook(testPair)
	place(t, b, newOrder(order.Buy, 34118, 1_583_290_045_643, 1))
	place(t, b, newOrder(order.Buy, 34120, 170_484_969, 2))
	place(t, b, newOrder(order.Buy, 34000, 44_521_418_496, 3))

	bids := b.BidOrders()
	if len(bids) != 3 {
		t.Fatalf("got %d bids, want 3", len(bids))
	}
	for i, want := range []int64{34120, 34118, 34000} {
		if bids[i].Price != want {
			t.Errorf("bids[%d].Price = %d, want %d", i, bids[i].Price, want)
		}
	}
	if all := b.AllOrders(); len(all) != 3 || all[0].Price != 34120 {
		t.Error("AllOrders must lead with the best bid")
	}
}

func TestTimePriorityWithinLevel(t *testing.T) {
	b := NewOrderBook(testPair)
	late := newOrder(order.Buy, 100, 1*P, 20)
	early := newOrder(order.Buy, 100, 2*P, 10)
	place(t, b, late)
	place(t, b, early)

	bids := b.BidOrders()
	if bids[0].Order.Timestamp != 10 {
		t.Error("earlier timestamp must lead the level")
	}
}

func TestPartialFill(t *testing.T) {
	b := NewOrderBook(testPair)
	place(t, b, newOrder(order.Buy, 100, 10*P, 1))
	events := place(t, b, newOrder(order.Sell, 100, 15*P, 2))

	if len(b.BidOrders()) != 0 {
		t.Fatal("bid must be fully filled")
	}
	asks := b.AskOrders()
	if len(asks) != 1 {
		t.Fatalf("got %d asks, want 1", len(asks))
	}
	if asks[0].Amount != 5*P {
		t.Errorf("remaining amount = %d, want %d", asks[0].Amount, 5*P)
	}
	wantFee := int64(300_000) - order.PartialFee(300_000, 15*P, 10*P)
	if asks[0].Fee != wantFee {
		t.Errorf("remaining fee = %d, want %d", asks[0].Fee, wantFee)
	}

	// executed then rested
	if _, ok := events[0].(*OrderExecuted); !ok {
		t.Fatalf("events[0] = %T, want OrderExecuted", events[0])
	}
	if _, ok := events[1].(*OrderAdded); !ok {
		t.Fatalf("events[1] = %T, want OrderAdded", events[1])
	}
	checkNotCrossed(t, b)
}

func TestExecutionReducesRemaining(t *testing.T) {
	b := NewOrderBook(testPair)
	place(t, b, newOrder(order.Buy, 100, 10*P, 1))
	events := place(t, b, newOrder(order.Sell, 100, 4*P, 2))

	for _, ev := range events {
		e, ok := ev.(*OrderExecuted)
		if !ok {
			continue
		}
		before := e.Submitted.Amount + e.Counter.Amount
		after := e.SubmittedRemaining().Amount + e.CounterRemaining().Amount
		if after >= before {
			t.Error("execution must strictly reduce total remaining amount")
		}
	}
}

func TestFillPriceIsCounterPrice(t *testing.T) {
	b := NewOrderBook(testPair)
	place(t, b, newOrder(order.Buy, 120, 10*P, 1))
	events := place(t, b, newOrder(order.Sell, 100, 10*P, 2))

	e, ok := events[0].(*OrderExecuted)
	if !ok {
		t.Fatalf("events[0] = %T", events[0])
	}
	if e.Price() != 120 {
		t.Errorf("fill price = %d, want the resting order's 120", e.Price())
	}
}

func TestUnmatchableRemainderEvicted(t *testing.T) {
	b := NewOrderBook(testPair)
	// resting sell whose remainder will fall below the floor
	min := order.MinAmountOfAmountAssetByPrice(34118) // 2932
	place(t, b, newOrder(order.Sell, 34118, min+min/2, 1))
	events := place(t, b, newOrder(order.Buy, 34118, min, 2))

	var canceled *OrderCanceled
	for _, ev := range events {
		if c, ok := ev.(*OrderCanceled); ok {
			canceled = c
		}
	}
	if canceled == nil || !canceled.Unmatchable {
		t.Fatal("sub-minimum remainder must be evicted as unmatchable")
	}
	if len(b.AskOrders()) != 0 {
		t.Error("evicted remainder must leave the book")
	}
	if len(b.BidOrders()) != 0 {
		t.Error("fully filled submitted order must not rest")
	}
}

func TestCancel(t *testing.T) {
	b := NewOrderBook(testPair)
	o := newOrder(order.Buy, 100, 10*P, 1)
	place(t, b, o)

	ev, ok := b.Cancel(o.ID())
	if !ok {
		t.Fatal("cancel must find the resting order")
	}
	if ev.Unmatchable {
		t.Error("user cancel must not be marked unmatchable")
	}
	if b.Size() != 0 {
		t.Error("canceled order must leave the book")
	}
	if _, ok := b.Cancel(o.ID()); ok {
		t.Error("second cancel must miss")
	}
}

func TestExpirySweep(t *testing.T) {
	b := NewOrderBook(testPair)
	expiring := newOrder(order.Buy, 34118, 2932, 1)
	expiring.Expiration = 1000
	place(t, b, expiring)
	place(t, b, newOrder(order.Buy, 34000, 2950, 2)) // lives on

	events := b.RemoveExpired(1001)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	c := events[0].(*OrderCanceled)
	if c.Unmatchable {
		t.Error("expiry removal must not be marked unmatchable")
	}
	if c.Order.ID() != expiring.ID() {
		t.Error("wrong order swept")
	}
	if len(b.BidOrders()) != 1 {
		t.Error("unexpired order must survive the sweep")
	}
}

func TestExecAbortRollsBackSubmitted(t *testing.T) {
	b := NewOrderBook(testPair)
	counter := newOrder(order.Buy, 100, 10*P, 1)
	place(t, b, counter)

	boom := errors.New("pool refused")
	events, err := b.Match(order.NewLimitOrder(newOrder(order.Sell, 100, 10*P, 2)), func(*OrderExecuted) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want the callback's", err)
	}

	// counter did not advance
	bids := b.BidOrders()
	if len(bids) != 1 || bids[0].Amount != 10*P || bids[0].Fee != 300_000 {
		t.Fatal("counter order must be untouched")
	}
	// submitted is gone, flagged unmatchable
	last := events[len(events)-1].(*OrderCanceled)
	if !last.Unmatchable || len(b.AskOrders()) != 0 {
		t.Error("submitted order must be discarded")
	}
}

func TestCounterRejectedEvictedAndMatchContinues(t *testing.T) {
	b := NewOrderBook(testPair)
	good := newOrder(order.Buy, 100, 20*P, 1)
	invalid := newOrder(order.Buy, 5000, 1000*P, 2)
	place(t, b, good)
	place(t, b, invalid)

	invalidID := invalid.ID()
	events, err := b.Match(order.NewLimitOrder(newOrder(order.Sell, 100, 10*P, 3)), func(e *OrderExecuted) error {
		if e.Counter.ID() == invalidID {
			return ErrCounterRejected
		}
		return nil
	})
	if err != nil {
		t.Fatalf("match must continue past the rejected counter: %v", err)
	}

	if _, ok := events[0].(*OrderCanceled); !ok {
		t.Fatalf("events[0] = %T, want the invalid order's cancel", events[0])
	}
	if _, ok := events[1].(*OrderExecuted); !ok {
		t.Fatalf("events[1] = %T, want the real execution", events[1])
	}

	bids := b.BidOrders()
	if len(bids) != 1 || bids[0].ID() != good.ID() {
		t.Fatal("only the good bid may remain")
	}
	if bids[0].Amount != 10*P {
		t.Errorf("remaining bid amount = %d, want %d", bids[0].Amount, 10*P)
	}
	wantFee := int64(300_000) - order.PartialFee(300_000, 20*P, 10*P)
	if bids[0].Fee != wantFee {
		t.Errorf("remaining bid fee = %d, want %d", bids[0].Fee, wantFee)
	}
	checkNotCrossed(t, b)
}

func TestReplayRebuildsBook(t *testing.T) {
	live := NewOrderBook(testPair)
	var journal []Event
	journal = append(journal, place(t, live, newOrder(order.Buy, 100, 10*P, 1))...)
	journal = append(journal, place(t, live, newOrder(order.Sell, 100, 15*P, 2))...)

	replayed := NewOrderBook(testPair)
	for _, ev := range journal {
		replayed.Apply(ev)
	}

	if replayed.Size() != live.Size() {
		t.Fatalf("replayed size = %d, want %d", replayed.Size(), live.Size())
	}
	wantAsks := live.AskOrders()
	gotAsks := replayed.AskOrders()
	if len(gotAsks) != 1 || gotAsks[0].Amount != wantAsks[0].Amount || gotAsks[0].Fee != wantAsks[0].Fee {
		t.Error("replayed ask remainder differs from the live book")
	}
}
