package order

// OpenPortfolio maps assets to signed reserved-fund deltas for one
// trader. It composes by pointwise addition; the empty map is the
// identity.
type OpenPortfolio map[Asset]int64

// Add folds another portfolio into this one and returns the result,
// allocating only when the receiver is nil. Zero slots are kept sparse.
func (p OpenPortfolio) Add(other OpenPortfolio) OpenPortfolio {
	if len(other) == 0 {
		return p
	}
	if p == nil {
		p = make(OpenPortfolio, len(other))
	}
	for asset, delta := range other {
		next := p[asset] + delta
		if next == 0 {
			delete(p, asset)
		} else {
			p[asset] = next
		}
	}
	return p
}

// Negate returns the pointwise negation.
func (p OpenPortfolio) Negate() OpenPortfolio {
	out := make(OpenPortfolio, len(p))
	for asset, delta := range p {
		out[asset] = -delta
	}
	return out
}

// Reservation is the open volume a live order with the given record
// still holds, per asset. It is the single source of truth behind the
// conservation invariant: openVolume(trader, asset) must always equal
// the sum of Reservation over the trader's live orders.
func Reservation(o *Order, info OrderInfo) OpenPortfolio {
	full := NewLimitOrder(o)
	p := OpenPortfolio{}
	if spend := full.RawSpendAmount() - info.UnsafeTotalSpend; spend > 0 {
		p = p.Add(OpenPortfolio{o.SpendAsset(): spend})
	}
	if fee := reservedFee(o, info.RemainingFee); fee > 0 {
		p = p.Add(OpenPortfolio{Native: fee})
	}
	return p
}

// reservedFee is how much of the remaining matcher fee must stay
// locked. When the order is paid in the fee asset, inbound funds cover
// the fee and only the shortfall stays reserved.
func reservedFee(o *Order, remainingFee int64) int64 {
	if !o.ReceiveAsset().IsNative() {
		return remainingFee
	}
	fee := remainingFee - NewLimitOrder(o).ReceiveAmount()
	if fee < 0 {
		return 0
	}
	return fee
}

// ReleaseFee is the fee reservation freed by an execution that moves
// the remaining fee from prev to updated. It never frees more than can
// still be owed.
func ReleaseFee(o *Order, prevRemaining, updatedRemaining int64) int64 {
	executed := prevRemaining - updatedRemaining
	if !o.ReceiveAsset().IsNative() {
		return executed
	}
	alreadyExecuted := o.MatcherFee - prevRemaining
	restReserved := o.MatcherFee - NewLimitOrder(o).ReceiveAmount() - alreadyExecuted
	if restReserved < 0 {
		restReserved = 0
	}
	if executed < restReserved {
		return executed
	}
	return restReserved
}
