package service

import (
	"encoding/json"

	"reef/domain/orderbook"
	"reef/domain/tx"
)

// Wire payloads for the channel group. Transactions go through the
// durable outbox; book events are advisory market data.

type txPayload struct {
	V              int    `json:"v"`
	ID             string `json:"id"`
	Pair           string `json:"pair"`
	BuyOrderID     string `json:"buy_order_id"`
	SellOrderID    string `json:"sell_order_id"`
	Price          int64  `json:"price"`
	Amount         int64  `json:"amount"`
	BuyMatcherFee  int64  `json:"buy_matcher_fee"`
	SellMatcherFee int64  `json:"sell_matcher_fee"`
	Fee            int64  `json:"fee"`
	Timestamp      int64  `json:"timestamp"`
}

func encodeTxPayload(t *tx.ExchangeTransaction) []byte {
	payload, _ := json.Marshal(txPayload{
		V:              1,
		ID:             t.ID().String(),
		Pair:           t.BuyOrder.Pair.String(),
		BuyOrderID:     t.BuyOrder.ID().String(),
		SellOrderID:    t.SellOrder.ID().String(),
		Price:          t.Price,
		Amount:         t.Amount,
		BuyMatcherFee:  t.BuyMatcherFee,
		SellMatcherFee: t.SellMatcherFee,
		Fee:            t.Fee,
		Timestamp:      t.Timestamp,
	})
	return payload
}

type bookEventPayload struct {
	V           int    `json:"v"`
	Type        string `json:"type"`
	Pair        string `json:"pair"`
	OrderID     string `json:"order_id"`
	Side        string `json:"side"`
	Price       int64  `json:"price"`
	Amount      int64  `json:"amount"`
	Executed    int64  `json:"executed,omitempty"`
	Unmatchable bool   `json:"unmatchable,omitempty"`
}

func encodeBookEvent(pair string, ev orderbook.Event) []byte {
	var p bookEventPayload
	p.V = 1
	p.Pair = pair
	switch e := ev.(type) {
	case *orderbook.OrderAdded:
		p.Type = "added"
		p.OrderID = e.Order.ID().String()
		p.Side = e.Order.Side().String()
		p.Price = e.Order.Price
		p.Amount = e.Order.Amount
	case *orderbook.OrderExecuted:
		p.Type = "executed"
		p.OrderID = e.Submitted.ID().String()
		p.Side = e.Submitted.Side().String()
		p.Price = e.Price()
		p.Amount = e.Submitted.Amount
		p.Executed = e.ExecutedAmount()
	case *orderbook.OrderCanceled:
		p.Type = "canceled"
		p.OrderID = e.Order.ID().String()
		p.Side = e.Order.Side().String()
		p.Price = e.Order.Price
		p.Amount = e.Order.Amount
		p.Unmatchable = e.Unmatchable
	}
	payload, _ := json.Marshal(p)
	return payload
}
