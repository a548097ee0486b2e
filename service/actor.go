// Package service runs the matcher: one actor per asset pair
// serializes every request against that pair's book, and the
// supervisor routes and spawns actors on demand.
package service

import (
	"context"
	"crypto/ed25519"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"reef/domain/order"
	"reef/domain/orderbook"
	"reef/domain/tx"
	"reef/history"
	"reef/infra/kafka"
	"reef/infra/sequence"
	"reef/infra/wal"
	"reef/jobs/broadcaster"
	"reef/metrics"
	"reef/node"
	"reef/script"
	"reef/snapshot"
	"reef/validate"
)

// Deps is everything a pair actor shares with the rest of the node.
type Deps struct {
	Settings  *node.Settings
	Wallet    *node.Wallet
	Store     *history.Store
	Utx       node.UtxPool
	Validator *validate.Validator
	Verifier  *script.Verifier
	Clock     node.Clock
	Outbox    *broadcaster.Outbox // optional: transaction broadcast
	BookFeed  *kafka.Producer     // optional: market-data events
	Metrics   *metrics.Metrics    // optional
	Log       zerolog.Logger
}

type reqKind byte

const (
	reqPlace reqKind = iota
	reqCancel
	reqCleanup
	reqOrders
	reqRestart
)

// OrderSelector narrows a book query.
type OrderSelector byte

const (
	AllOrders OrderSelector = iota
	BidsOnly
	AsksOnly
)

type request struct {
	id       uuid.UUID
	kind     reqKind
	order    *order.Order
	senderPK ed25519.PublicKey
	orderID  order.Digest
	selector OrderSelector
	reply    chan response
}

type response struct {
	accepted *order.Order
	canceled string
	orders   []*order.LimitOrder
	err      error
}

// PairActor is the single writer for one pair. A request is processed
// to completion, including validation and pool acceptance, before the
// next one starts; that serialization point carries every book
// invariant.
type PairActor struct {
	pair order.AssetPair
	deps Deps
	dir  string

	book    *orderbook.OrderBook
	journal *wal.Journal
	offsets *sequence.Sequencer

	mailbox  chan *request
	done     chan struct{}
	stopOnce sync.Once

	// onChange, when set by the supervisor, receives a read-only view
	// after every mutation.
	onChange func(order.AssetPair, *BookView)

	log zerolog.Logger
}

// BookView is an immutable snapshot for query endpoints.
type BookView struct {
	Bids []*order.LimitOrder
	Asks []*order.LimitOrder
}

// NewPairActor opens the pair's journal, recovers the book from the
// latest snapshot plus the journal tail, and starts serving.
func NewPairActor(pair order.AssetPair, deps Deps) (*PairActor, error) {
	dir := filepath.Join(deps.Settings.DataDir, "pairs", pair.String())
	journal, err := wal.Open(wal.Config{Dir: filepath.Join(dir, "journal")})
	if err != nil {
		return nil, err
	}

	a := &PairActor{
		pair:    pair,
		deps:    deps,
		dir:     dir,
		journal: journal,
		offsets: sequence.New(0),
		mailbox: make(chan *request, 256),
		done:    make(chan struct{}),
		log:     deps.Log.With().Str("pair", pair.String()).Logger(),
	}
	if err := a.reload(); err != nil {
		journal.Close()
		return nil, err
	}
	go a.run()
	return a, nil
}

//
// Client API
//

// Place submits an order. On success the order was accepted into the
// book or fully filled.
func (a *PairActor) Place(ctx context.Context, o *order.Order) (*order.Order, error) {
	resp, err := a.ask(ctx, &request{kind: reqPlace, order: o})
	if err != nil {
		return nil, err
	}
	return resp.accepted, resp.err
}

// Cancel removes the sender's order from the book.
func (a *PairActor) Cancel(ctx context.Context, senderPK ed25519.PublicKey, id order.Digest) (string, error) {
	resp, err := a.ask(ctx, &request{kind: reqCancel, senderPK: senderPK, orderID: id})
	if err != nil {
		return "", err
	}
	return resp.canceled, resp.err
}

// Orders lists resting orders in priority order.
func (a *PairActor) Orders(ctx context.Context, sel OrderSelector) ([]*order.LimitOrder, error) {
	resp, err := a.ask(ctx, &request{kind: reqOrders, selector: sel})
	if err != nil {
		return nil, err
	}
	return resp.orders, resp.err
}

// Cleanup triggers the expiry sweep. Fire-and-forget.
func (a *PairActor) Cleanup() {
	select {
	case a.mailbox <- &request{id: uuid.New(), kind: reqCleanup}:
	case <-a.done:
	}
}

// Restart drops in-memory state and reloads from snapshot and journal.
func (a *PairActor) Restart(ctx context.Context) error {
	resp, err := a.ask(ctx, &request{kind: reqRestart})
	if err != nil {
		return err
	}
	return resp.err
}

// Stop shuts the actor down; queued requests fail transiently.
func (a *PairActor) Stop() {
	a.stopOnce.Do(func() { close(a.done) })
}

func (a *PairActor) ask(ctx context.Context, req *request) (response, error) {
	req.id = uuid.New()
	req.reply = make(chan response, 1)
	select {
	case a.mailbox <- req:
	case <-a.done:
		return response{}, ErrActorStopped
	case <-ctx.Done():
		return response{}, ctx.Err()
	}
	select {
	case resp := <-req.reply:
		return resp, nil
	case <-a.done:
		return response{}, ErrActorStopped
	case <-ctx.Done():
		return response{}, ctx.Err()
	}
}

//
// Actor loop
//

func (a *PairActor) run() {
	snapTicker := time.NewTicker(a.deps.Settings.SnapshotInterval)
	defer snapTicker.Stop()

	for {
		select {
		case <-a.done:
			a.writeSnapshot()
			a.journal.Close()
			return
		case <-snapTicker.C:
			a.writeSnapshot()
		case req := <-a.mailbox:
			a.dispatch(req)
		}
	}
}

func (a *PairActor) dispatch(req *request) {
	var resp response
	switch req.kind {
	case reqPlace:
		resp = a.handlePlace(req)
	case reqCancel:
		resp = a.handleCancel(req)
	case reqCleanup:
		a.handleCleanup()
	case reqOrders:
		resp = a.handleOrders(req)
	case reqRestart:
		resp = response{err: a.reload()}
	}
	if req.reply != nil {
		req.reply <- resp
	}
}

func (a *PairActor) handlePlace(req *request) response {
	o := req.order

	started := time.Now()
	if err := a.awaitValidation(o); err != nil {
		if a.deps.Metrics != nil {
			a.deps.Metrics.OrdersRejected.WithLabelValues(a.pair.String()).Inc()
		}
		a.log.Debug().
			Str("req", req.id.String()).
			Str("order", o.ID().String()).
			Err(err).
			Msg("placement rejected")
		return response{err: err}
	}
	if a.deps.Metrics != nil {
		a.deps.Metrics.ObserveValidation(time.Since(started))
	}

	events, matchErr := a.book.Match(order.NewLimitOrder(o), a.emitTransaction)
	if err := a.persistEvents(events); err != nil {
		return a.failover(err)
	}
	a.publishView()

	if matchErr != nil {
		if a.deps.Metrics != nil {
			a.deps.Metrics.Rollbacks.WithLabelValues(a.pair.String()).Inc()
		}
		a.log.Warn().
			Str("order", o.ID().String()).
			Err(matchErr).
			Msg("match rolled back; counter order restored")
		return response{err: &MatchingRolledBackError{OrderID: o.ID(), Cause: matchErr}}
	}

	if a.deps.Metrics != nil {
		a.deps.Metrics.OrdersPlaced.WithLabelValues(a.pair.String()).Inc()
	}
	a.log.Info().
		Str("order", o.ID().String()).
		Str("side", o.Side.String()).
		Int64("price", o.Price).
		Int64("amount", o.Amount).
		Msg("order accepted")
	return response{accepted: o}
}

// awaitValidation runs the shared validator, bounded by the configured
// timeout. The actor holds at most one outstanding validation; a reply
// arriving after the deadline is dropped with its channel.
func (a *PairActor) awaitValidation(o *order.Order) error {
	result := make(chan error, 1)
	go func() { result <- a.deps.Validator.ValidateOrder(o) }()

	timer := time.NewTimer(a.deps.Settings.ValidationTimeout)
	defer timer.Stop()
	select {
	case err := <-result:
		return err
	case <-timer.C:
		a.log.Warn().Str("order", o.ID().String()).Msg("validation timed out")
		return ErrTimeout
	}
}

// emitTransaction builds, signs, verifies and submits the exchange
// transaction for one execution. An error here aborts the match before
// the book commits the execution.
func (a *PairActor) emitTransaction(e *orderbook.OrderExecuted) error {
	buy, sell := e.Submitted, e.Counter
	buyFee, sellFee := e.SubmittedExecutedFee(), e.CounterExecutedFee()
	if buy.Side() != order.Buy {
		buy, sell = sell, buy
		buyFee, sellFee = sellFee, buyFee
	}

	t := &tx.ExchangeTransaction{
		BuyOrder:       buy.Order,
		SellOrder:      sell.Order,
		Price:          e.Price(),
		Amount:         e.ExecutedAmount(),
		BuyMatcherFee:  buyFee,
		SellMatcherFee: sellFee,
		Fee:            a.deps.Settings.OrderMatchTxFee,
		Timestamp:      node.Millis(a.deps.Clock.Now()),
	}
	t.Sign(a.deps.Wallet.PrivateKey())

	if err := a.deps.Verifier.VerifyExchangeTransaction(t, a.deps.Wallet.Address()); err != nil {
		return a.blame(e, err)
	}
	if err := a.deps.Utx.Accept(t); err != nil {
		return a.blame(e, err)
	}

	if a.deps.Outbox != nil {
		if err := a.deps.Outbox.Put(t.ID().String(), encodeTxPayload(t)); err != nil {
			a.log.Error().Err(err).Str("tx", t.ID().String()).Msg("outbox write failed")
		}
	}
	if a.deps.Metrics != nil {
		a.deps.Metrics.TradesExecuted.WithLabelValues(a.pair.String()).Inc()
	}
	a.log.Info().
		Str("tx", t.ID().String()).
		Int64("price", t.Price).
		Int64("amount", t.Amount).
		Msg("exchange transaction emitted")
	return nil
}

// blame decides which side of a refused execution is at fault. A
// refusal naming the resting order evicts it and matching continues;
// anything else rolls the submitted order back.
func (a *PairActor) blame(e *orderbook.OrderExecuted, err error) error {
	var rejected *node.OrderRejectedError
	if errors.As(err, &rejected) && rejected.OrderID == e.Counter.ID() {
		return errors.Join(orderbook.ErrCounterRejected, err)
	}
	return err
}

func (a *PairActor) handleCancel(req *request) response {
	if err := a.awaitCancelValidation(req.senderPK, req.orderID); err != nil {
		return response{err: err}
	}

	ev, ok := a.book.Cancel(req.orderID)
	if !ok {
		return response{err: &CancelRejectedError{Reason: "Order not found"}}
	}
	if err := a.persistEvents([]orderbook.Event{ev}); err != nil {
		return a.failover(err)
	}
	a.publishView()

	if a.deps.Metrics != nil {
		a.deps.Metrics.OrdersCanceled.WithLabelValues(a.pair.String()).Inc()
	}
	a.log.Info().Str("order", req.orderID.String()).Msg("order canceled")
	return response{canceled: req.orderID.String()}
}

func (a *PairActor) awaitCancelValidation(senderPK ed25519.PublicKey, id order.Digest) error {
	result := make(chan error, 1)
	go func() { result <- a.deps.Validator.ValidateCancel(senderPK, id) }()

	timer := time.NewTimer(a.deps.Settings.ValidationTimeout)
	defer timer.Stop()
	select {
	case err := <-result:
		var verr *validate.Error
		if errors.As(err, &verr) {
			return &CancelRejectedError{Reason: verr.Reason}
		}
		return err
	case <-timer.C:
		return ErrTimeout
	}
}

func (a *PairActor) handleCleanup() {
	now := node.Millis(a.deps.Clock.Now())
	events := a.book.RemoveExpired(now)
	if len(events) == 0 {
		return
	}
	if err := a.persistEvents(events); err != nil {
		a.failover(err)
		return
	}
	a.publishView()
	if a.deps.Metrics != nil {
		a.deps.Metrics.OrdersCanceled.WithLabelValues(a.pair.String()).Add(float64(len(events)))
	}
	a.log.Info().Int("expired", len(events)).Msg("expiry sweep")
}

func (a *PairActor) handleOrders(req *request) response {
	switch req.selector {
	case BidsOnly:
		return response{orders: a.book.BidOrders()}
	case AsksOnly:
		return response{orders: a.book.AskOrders()}
	default:
		return response{orders: a.book.AllOrders()}
	}
}

//
// Persistence
//

// persistEvents journals then folds each event, in emission order.
func (a *PairActor) persistEvents(events []orderbook.Event) error {
	for _, ev := range events {
		rec, err := wal.EncodeEvent(ev)
		if err != nil {
			return err
		}
		rec.Offset = a.offsets.Next()
		if err := a.journal.Append(rec); err != nil {
			return err
		}
		if err := a.deps.Store.Process(rec.Offset, ev); err != nil {
			return err
		}
		a.publishBookEvent(ev)
	}
	return nil
}

// failover handles a persistence failure: the durable state is the
// truth, so the actor reloads from it and the request fails.
func (a *PairActor) failover(cause error) response {
	a.log.Error().Err(cause).Msg("persistence failure; reloading from journal")
	if err := a.reload(); err != nil {
		a.log.Error().Err(err).Msg("reload failed; stopping actor")
		a.Stop()
	}
	return response{err: &InternalError{Cause: cause}}
}

func (a *PairActor) publishBookEvent(ev orderbook.Event) {
	if a.deps.BookFeed == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := a.deps.BookFeed.Send(ctx, []byte(a.pair.String()), encodeBookEvent(a.pair.String(), ev)); err != nil {
		a.log.Debug().Err(err).Msg("book event publish failed")
	}
}

func (a *PairActor) publishView() {
	if a.deps.Metrics != nil {
		pair := a.pair.String()
		a.deps.Metrics.BookDepth.WithLabelValues(pair, "bids").Set(float64(len(a.book.BidOrders())))
		a.deps.Metrics.BookDepth.WithLabelValues(pair, "asks").Set(float64(len(a.book.AskOrders())))
	}
	if a.onChange != nil {
		a.onChange(a.pair, &BookView{Bids: a.book.BidOrders(), Asks: a.book.AskOrders()})
	}
}

//
// Recovery
//

func (a *PairActor) snapDir() string { return filepath.Join(a.dir, "snapshots") }

// reload rebuilds the book from the latest snapshot plus the journal
// tail. History folding is idempotent per order and offset, so events
// already applied before a crash are skipped inside the store.
func (a *PairActor) reload() error {
	book := orderbook.NewOrderBook(a.pair)
	offset, err := snapshot.Load(a.snapDir(), book)
	if err != nil {
		return err
	}
	last := offset
	err = a.journal.ReplayFrom(offset, func(rec *wal.Record) error {
		ev, err := wal.DecodeEvent(rec)
		if err != nil {
			return err
		}
		if err := a.deps.Store.Process(rec.Offset, ev); err != nil {
			return err
		}
		book.Apply(ev)
		if rec.Offset > last {
			last = rec.Offset
		}
		return nil
	})
	if err != nil {
		return err
	}
	a.book = book
	a.offsets.Reset(last)
	a.log.Info().Uint64("offset", last).Int("resting", book.Size()).Msg("book recovered")
	return nil
}

func (a *PairActor) writeSnapshot() {
	w := snapshot.Writer{Dir: a.snapDir()}
	if err := w.Write(a.offsets.Current(), a.book); err != nil {
		a.log.Error().Err(err).Msg("snapshot write failed")
	}
}
