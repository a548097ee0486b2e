package history

import (
	"crypto/ed25519"
	"testing"

	"github.com/rs/zerolog"

	"reef/domain/order"
	"reef/domain/orderbook"
)

const P = order.PriceConstant

var testPair = func() order.AssetPair {
	var btc order.Asset
	btc[0] = 7
	return order.AssetPair{AmountAsset: btc, PriceAsset: order.Native}
}()

var orderTag byte

func newOrder(side order.Side, price, amount int64) *order.Order {
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
		Timestamp:  1_700_000_000_000,
		Expiration: 1_700_000_000_000 + 86_400_000,
	}
}

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// checkConservation verifies the trader's stored open volume equals the
// sum of reservations over the given live orders.
func checkConservation(t *testing.T, s *Store, addr string, live ...*order.Order) {
	t.Helper()
	want := order.OpenPortfolio{}
	for _, o := range live {
		info, err := s.OrderInfo(o.ID())
		if err != nil {
			t.Fatal(err)
		}
		want = want.Add(order.Reservation(o, info))
	}
	got, err := s.OpenPortfolio(addr)
	if err != nil {
		t.Fatal(err)
	}
	for asset, v := range want {
		if got[asset] != v {
			t.Errorf("open volume %s = %d, want %d", asset, got[asset], v)
		}
		if v < 0 {
			t.Errorf("reservation %s negative", asset)
		}
	}
	for asset, v := range got {
		if _, ok := want[asset]; !ok && v != 0 {
			t.Errorf("unexpected open volume %s = %d", asset, v)
		}
	}
}

func TestAddedReservesOpenVolume(t *testing.T) {
	s := openStore(t)
	o := newOrder(order.Buy, 2*P, 5*P)
	lo := order.NewLimitOrder(o)

	if err := s.Process(1, &orderbook.OrderAdded{Order: lo}); err != nil {
		t.Fatal(err)
	}

	info, err := s.OrderInfo(o.ID())
	if err != nil {
		t.Fatal(err)
	}
	if info.Status() != order.Accepted {
		t.Fatalf("status = %s, want Accepted", info.Status())
	}
	if info.MinAmount != lo.MinAmountOfAmountAsset() {
		t.Error("min amount not recorded")
	}
	checkConservation(t, s, o.SenderAddress(), o)

	// buy on a native-priced pair reserves spend plus fee natively
	vol, err := s.OpenVolume(o.SenderAddress(), order.Native)
	if err != nil {
		t.Fatal(err)
	}
	if want := lo.RawSpendAmount() + o.MatcherFee; vol != want {
		t.Errorf("native volume = %d, want %d", vol, want)
	}
}

func TestExecutionReleasesProportionally(t *testing.T) {
	s := openStore(t)
	buyOrd := newOrder(order.Buy, 100, 10*P)
	sellOrd := newOrder(order.Sell, 100, 15*P)
	buy, sell := order.NewLimitOrder(buyOrd), order.NewLimitOrder(sellOrd)

	if err := s.Process(1, &orderbook.OrderAdded{Order: buy}); err != nil {
		t.Fatal(err)
	}
	exec := &orderbook.OrderExecuted{Submitted: sell, Counter: buy}
	if err := s.Process(2, exec); err != nil {
		t.Fatal(err)
	}
	if err := s.Process(3, &orderbook.OrderAdded{Order: exec.SubmittedRemaining()}); err != nil {
		t.Fatal(err)
	}

	buyInfo, err := s.OrderInfo(buyOrd.ID())
	if err != nil {
		t.Fatal(err)
	}
	if buyInfo.Status() != order.Filled {
		t.Fatalf("buy status = %s, want Filled", buyInfo.Status())
	}
	sellInfo, err := s.OrderInfo(sellOrd.ID())
	if err != nil {
		t.Fatal(err)
	}
	if sellInfo.Status() != order.PartiallyFilled {
		t.Fatalf("sell status = %s, want PartiallyFilled", sellInfo.Status())
	}
	if sellInfo.Filled != 10*P {
		t.Errorf("sell filled = %d, want %d", sellInfo.Filled, 10*P)
	}
	if want := int64(300_000) - order.PartialFee(300_000, 15*P, 10*P); sellInfo.RemainingFee != want {
		t.Errorf("sell remaining fee = %d, want %d", sellInfo.RemainingFee, want)
	}

	// filled buy reserves nothing; partially filled sell reserves its rest
	checkConservation(t, s, buyOrd.SenderAddress())
	checkConservation(t, s, sellOrd.SenderAddress(), sellOrd)
}

func TestCancelReleasesEverything(t *testing.T) {
	s := openStore(t)
	o := newOrder(order.Sell, 2*P, 5*P)
	lo := order.NewLimitOrder(o)

	if err := s.Process(1, &orderbook.OrderAdded{Order: lo}); err != nil {
		t.Fatal(err)
	}
	if err := s.Process(2, &orderbook.OrderCanceled{Order: lo}); err != nil {
		t.Fatal(err)
	}

	info, err := s.OrderInfo(o.ID())
	if err != nil {
		t.Fatal(err)
	}
	if info.Status() != order.Cancelled {
		t.Fatalf("status = %s, want Cancelled", info.Status())
	}
	checkConservation(t, s, o.SenderAddress())
}

func TestUnmatchableRemovalKeepsStatus(t *testing.T) {
	s := openStore(t)
	buyOrd := newOrder(order.Buy, 34118, 4398)
	sellOrd := newOrder(order.Sell, 34118, 2932)
	buy, sell := order.NewLimitOrder(buyOrd), order.NewLimitOrder(sellOrd)

	if err := s.Process(1, &orderbook.OrderAdded{Order: buy}); err != nil {
		t.Fatal(err)
	}
	exec := &orderbook.OrderExecuted{Submitted: sell, Counter: buy}
	if err := s.Process(2, exec); err != nil {
		t.Fatal(err)
	}
	// the buy remainder fell under the floor and was removed unmatched
	if err := s.Process(3, &orderbook.OrderCanceled{Order: exec.CounterRemaining(), Unmatchable: true}); err != nil {
		t.Fatal(err)
	}

	info, err := s.OrderInfo(buyOrd.ID())
	if err != nil {
		t.Fatal(err)
	}
	// an unmatchable removal is not a user cancel
	if info.Status() != order.PartiallyFilled {
		t.Errorf("status = %s, want PartiallyFilled", info.Status())
	}
	// but its reservation is fully released
	checkConservation(t, s, buyOrd.SenderAddress())
}

func TestReplayIsIdempotent(t *testing.T) {
	s := openStore(t)
	o := newOrder(order.Buy, 2*P, 5*P)
	lo := order.NewLimitOrder(o)

	ev := &orderbook.OrderAdded{Order: lo}
	if err := s.Process(1, ev); err != nil {
		t.Fatal(err)
	}
	before, err := s.OpenVolume(o.SenderAddress(), order.Native)
	if err != nil {
		t.Fatal(err)
	}

	// crash-recovery replays the same offset
	if err := s.Process(1, ev); err != nil {
		t.Fatal(err)
	}
	after, err := s.OpenVolume(o.SenderAddress(), order.Native)
	if err != nil {
		t.Fatal(err)
	}
	if before != after {
		t.Errorf("replay changed open volume: %d -> %d", before, after)
	}
}

func TestDeleteOrderOnlyFinal(t *testing.T) {
	s := openStore(t)
	o := newOrder(order.Buy, 2*P, 5*P)
	lo := order.NewLimitOrder(o)

	if err := s.Process(1, &orderbook.OrderAdded{Order: lo}); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteOrder(o.ID()); err == nil {
		t.Fatal("live order must not be deletable")
	}

	if err := s.Process(2, &orderbook.OrderCanceled{Order: lo}); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteOrder(o.ID()); err != nil {
		t.Fatalf("cancelled order must be deletable: %v", err)
	}

	info, err := s.OrderInfo(o.ID())
	if err != nil {
		t.Fatal(err)
	}
	if info.Status() != order.NotFound {
		t.Errorf("status after delete = %s, want NotFound", info.Status())
	}
}

func TestOrderIndex(t *testing.T) {
	s := openStore(t)
	o := newOrder(order.Buy, 2*P, 5*P)

	if err := s.Process(1, &orderbook.OrderAdded{Order: order.NewLimitOrder(o)}); err != nil {
		t.Fatal(err)
	}
	ids, err := s.OrderIDsByAddress(o.SenderAddress())
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != o.ID() {
		t.Fatal("order index must list the placed order")
	}

	stored, err := s.Order(o.ID())
	if err != nil {
		t.Fatal(err)
	}
	if stored == nil || stored.ID() != o.ID() {
		t.Fatal("stored order must round-trip")
	}
}
