package order

import "math/big"

// The scaled price math below runs through big.Int: price*amount can
// overflow 64 bits, and every node must round the same way.

var priceConstant = big.NewInt(PriceConstant)

// AmountOfPriceAsset converts an amount-asset quantity into price-asset
// units at the given price, rounding down.
func AmountOfPriceAsset(amount, price int64) int64 {
	v := new(big.Int).Mul(big.NewInt(amount), big.NewInt(price))
	v.Quo(v, priceConstant)
	return v.Int64()
}

// MinAmountOfAmountAssetByPrice is the smallest amount-asset quantity
// that maps to at least one price-asset unit at the given price.
func MinAmountOfAmountAssetByPrice(price int64) int64 {
	return ceilQuo(new(big.Int).Set(priceConstant), big.NewInt(price))
}

// CorrectedAmountOfAmountAsset maps an amount to the smallest quantity
// that settles the same whole number of price-asset units at the given
// price; the result never exceeds the input, and an amount that settles
// no whole unit corrects to zero. It keeps residual dust out of the book.
func CorrectedAmountOfAmountAsset(price, amount int64) int64 {
	settled := new(big.Int).Mul(big.NewInt(amount), big.NewInt(price))
	settled.Quo(settled, priceConstant)
	settled.Mul(settled, priceConstant)
	return ceilQuo(settled, big.NewInt(price))
}

// PartialFee prorates a fee for a partial execution. Truncation, never
// rounding: every node must agree on the result.
func PartialFee(totalFee, totalAmount, partialAmount int64) int64 {
	if totalAmount == 0 {
		return 0
	}
	v := new(big.Int).Mul(big.NewInt(totalFee), big.NewInt(partialAmount))
	v.Quo(v, big.NewInt(totalAmount))
	return v.Int64()
}

func ceilQuo(a, b *big.Int) int64 {
	q, r := new(big.Int).QuoRem(a, b, new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return q.Int64()
}

// LimitOrder is the matching view of an Order: the price it rests at
// and what remains of its amount and matcher fee.
type LimitOrder struct {
	Price  int64
	Amount int64 // remaining amount-asset units
	Fee    int64 // remaining matcher fee, native units
	Order  *Order
}

// NewLimitOrder builds the initial matching view of a signed order.
func NewLimitOrder(o *Order) *LimitOrder {
	return &LimitOrder{Price: o.Price, Amount: o.Amount, Fee: o.MatcherFee, Order: o}
}

// Partial returns the view left after an execution.
func (lo *LimitOrder) Partial(amount, fee int64) *LimitOrder {
	return &LimitOrder{Price: lo.Price, Amount: amount, Fee: fee, Order: lo.Order}
}

func (lo *LimitOrder) Side() Side { return lo.Order.Side }
func (lo *LimitOrder) ID() Digest { return lo.Order.ID() }

// AmountOfAmountAsset is the remaining amount corrected to the nearest
// cleanly-settling quantity.
func (lo *LimitOrder) AmountOfAmountAsset() int64 {
	return CorrectedAmountOfAmountAsset(lo.Price, lo.Amount)
}

// AmountOfPriceAsset is the price-asset value of the remaining amount.
func (lo *LimitOrder) AmountOfPriceAsset() int64 {
	return AmountOfPriceAsset(lo.Amount, lo.Price)
}

// MinAmountOfAmountAsset is the matchability floor at this price.
func (lo *LimitOrder) MinAmountOfAmountAsset() int64 {
	return MinAmountOfAmountAssetByPrice(lo.Price)
}

// SpendAmount is what the trader still pays if the remainder fills.
func (lo *LimitOrder) SpendAmount() int64 {
	if lo.Side() == Buy {
		return lo.AmountOfPriceAsset()
	}
	return lo.AmountOfAmountAsset()
}

// ReceiveAmount is what the trader is still owed if the remainder fills.
func (lo *LimitOrder) ReceiveAmount() int64 {
	if lo.Side() == Buy {
		return lo.AmountOfAmountAsset()
	}
	return lo.AmountOfPriceAsset()
}

// RawSpendAmount is the uncorrected upper bound of the spend, used for
// reservations. A sell earmarks its full remaining amount.
func (lo *LimitOrder) RawSpendAmount() int64 {
	if lo.Side() == Buy {
		return lo.AmountOfPriceAsset()
	}
	return lo.Amount
}

// ExecutionAmount is how much of this order can execute against the
// counter order's price.
func (lo *LimitOrder) ExecutionAmount(counter *LimitOrder) int64 {
	return CorrectedAmountOfAmountAsset(counter.Price, lo.Amount)
}

// Valid reports whether the remainder is still matchable.
func (lo *LimitOrder) Valid() bool {
	return lo.Amount > 0 &&
		lo.Amount >= lo.MinAmountOfAmountAsset() &&
		lo.Amount < MaxAmount &&
		lo.SpendAmount() > 0 &&
		lo.ReceiveAmount() > 0
}

// Crosses reports whether this inbound order trades against the given
// resting counter price.
func (lo *LimitOrder) Crosses(counter *LimitOrder) bool {
	if lo.Side() == Buy {
		return lo.Price >= counter.Price
	}
	return lo.Price <= counter.Price
}
