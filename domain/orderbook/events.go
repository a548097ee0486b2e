package orderbook

import "reef/domain/order"

// Event is a state transition of one book. The journal persists events;
// history and the transaction pipeline consume them.
type Event interface {
	isEvent()
}

// OrderAdded: the order (or what remains of it) now rests in the book.
type OrderAdded struct {
	Order *order.LimitOrder
}

// OrderExecuted: submitted traded against the resting counter order.
// Both fields are the pre-execution views; the derived methods below
// give the executed quantities and the remainders.
type OrderExecuted struct {
	Submitted *order.LimitOrder
	Counter   *order.LimitOrder
}

// OrderCanceled: the order left the book without filling. Unmatchable
// marks remainders removed because they can no longer settle a whole
// price-asset unit; those are not reported as user cancels.
type OrderCanceled struct {
	Order       *order.LimitOrder
	Unmatchable bool
}

func (*OrderAdded) isEvent()    {}
func (*OrderExecuted) isEvent() {}
func (*OrderCanceled) isEvent() {}

// ExecutedAmount is the amount-asset quantity this execution settles.
func (e *OrderExecuted) ExecutedAmount() int64 {
	a := e.Submitted.ExecutionAmount(e.Counter)
	if c := e.Counter.AmountOfAmountAsset(); c < a {
		return c
	}
	return a
}

// Price is the fill price: the resting order's price.
func (e *OrderExecuted) Price() int64 { return e.Counter.Price }

// SubmittedExecutedFee prorates the submitted order's fee over this
// execution, against the original signed amounts.
func (e *OrderExecuted) SubmittedExecutedFee() int64 {
	o := e.Submitted.Order
	return order.PartialFee(o.MatcherFee, o.Amount, e.ExecutedAmount())
}

// CounterExecutedFee prorates the counter order's fee likewise.
func (e *OrderExecuted) CounterExecutedFee() int64 {
	o := e.Counter.Order
	return order.PartialFee(o.MatcherFee, o.Amount, e.ExecutedAmount())
}

// SubmittedRemaining is the submitted order's view after the execution.
func (e *OrderExecuted) SubmittedRemaining() *order.LimitOrder {
	return e.Submitted.Partial(e.Submitted.Amount-e.ExecutedAmount(), e.Submitted.Fee-e.SubmittedExecutedFee())
}

// CounterRemaining is the counter order's view after the execution.
func (e *OrderExecuted) CounterRemaining() *order.LimitOrder {
	return e.Counter.Partial(e.Counter.Amount-e.ExecutedAmount(), e.Counter.Fee-e.CounterExecutedFee())
}
