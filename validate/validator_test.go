package validate

import (
	"crypto/ed25519"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"reef/domain/order"
	"reef/domain/orderbook"
	"reef/history"
	"reef/node"
	"reef/script"
)

const P = order.PriceConstant

var testPair = func() order.AssetPair {
	var btc order.Asset
	btc[0] = 7
	return order.AssetPair{AmountAsset: btc, PriceAsset: order.Native}
}()

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

type env struct {
	validator *Validator
	store     *history.Store
	utx       *node.InMemoryUtx
	chain     *node.StaticBlockchain
	wallet    *node.Wallet
	settings  *node.Settings
	clock     *fixedClock
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store, err := history.Open(t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	wallet, err := node.NewWallet([]byte("matcher-test-seed"))
	if err != nil {
		t.Fatal(err)
	}
	settings := &node.Settings{
		MatcherAccount:            wallet.Address(),
		MinOrderFee:               300_000,
		ValidationTimeout:         10 * time.Minute,
		SmartAccountTradingHeight: 100,
	}
	utx := node.NewInMemoryUtx()
	chain := &node.StaticBlockchain{AccountScripts: map[string][]byte{}}
	clock := &fixedClock{now: time.UnixMilli(1_700_000_000_000)}

	runner := script.RunnerFunc(func(_ uint64, _ script.Subject, s []byte) (bool, error) {
		return string(s) == "true", nil
	})
	verifier := script.NewVerifier(chain, runner)

	return &env{
		validator: NewValidator(settings, wallet, store, utx, verifier, chain, clock, zerolog.Nop()),
		store:     store,
		utx:       utx,
		chain:     chain,
		wallet:    wallet,
		settings:  settings,
		clock:     clock,
	}
}

func (e *env) order(t *testing.T, priv ed25519.PrivateKey, side order.Side, price, amount int64) *order.Order {
	t.Helper()
	now := node.Millis(e.clock.Now())
	o := &order.Order{
		Version:    1,
		SenderPK:   priv.Public().(ed25519.PublicKey),
		MatcherPK:  e.wallet.Public,
		Pair:       testPair,
		Side:       side,
		Price:      price,
		Amount:     amount,
		MatcherFee: 300_000,
		Timestamp:  now,
		Expiration: now + 86_400_000,
	}
	o.Sign(priv)
	return o
}

func (e *env) fund(o *order.Order) {
	addr := o.SenderAddress()
	res := order.Reservation(o, order.OrderInfo{Amount: o.Amount, RemainingFee: o.MatcherFee})
	for asset, v := range res {
		e.utx.Credit(addr, asset, v)
	}
}

func key(tag byte) ed25519.PrivateKey {
	seed := make([]byte, ed25519.SeedSize)
	seed[0] = tag
	return ed25519.NewKeyFromSeed(seed)
}

func wantReason(t *testing.T, err error, reason string) {
	t.Helper()
	var verr *Error
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want validation error %q", err, reason)
	}
	if !strings.HasPrefix(verr.Reason, reason) {
		t.Fatalf("reason = %q, want prefix %q", verr.Reason, reason)
	}
}

func TestRejectsWrongMatcherKey(t *testing.T) {
	e := newEnv(t)
	o := e.order(t, key(1), order.Buy, 2*P, 5*P)
	o.MatcherPK = key(9).Public().(ed25519.PublicKey)
	o.Sign(key(1))
	wantReason(t, e.validator.ValidateOrder(o), "Incorrect matcher public key")
}

func TestRejectsShortExpiration(t *testing.T) {
	e := newEnv(t)
	o := e.order(t, key(1), order.Buy, 2*P, 5*P)
	o.Expiration = node.Millis(e.clock.Now()) + 30_000
	o.Sign(key(1))
	wantReason(t, e.validator.ValidateOrder(o), "Order expiration should be > 1 min")
}

func TestRejectsBadSignature(t *testing.T) {
	e := newEnv(t)
	o := e.order(t, key(1), order.Buy, 2*P, 5*P)
	o.Proofs[0][0] ^= 0xFF
	wantReason(t, e.validator.ValidateOrder(o), "signature should be valid")
}

func TestRejectsLowFee(t *testing.T) {
	e := newEnv(t)
	o := e.order(t, key(1), order.Buy, 2*P, 5*P)
	o.MatcherFee = 200_000
	o.Sign(key(1))
	e.fund(o)
	wantReason(t, e.validator.ValidateOrder(o), "Order matcherFee should be >= 300000")
}

func TestRejectsReplay(t *testing.T) {
	e := newEnv(t)
	o := e.order(t, key(1), order.Buy, 2*P, 5*P)
	e.fund(o)

	if err := e.validator.ValidateOrder(o); err != nil {
		t.Fatalf("first placement must validate: %v", err)
	}
	if err := e.store.Process(1, &orderbook.OrderAdded{Order: order.NewLimitOrder(o)}); err != nil {
		t.Fatal(err)
	}
	wantReason(t, e.validator.ValidateOrder(o), "Order is already accepted")
}

func TestRejectsInsufficientBalance(t *testing.T) {
	e := newEnv(t)
	o := e.order(t, key(1), order.Buy, 2*P, 5*P)
	// fund everything but one unit
	res := order.Reservation(o, order.OrderInfo{Amount: o.Amount, RemainingFee: o.MatcherFee})
	e.utx.Credit(o.SenderAddress(), order.Native, res[order.Native]-1)
	wantReason(t, e.validator.ValidateOrder(o), "Not enough tradable balance")
}

func TestBalanceAccountsForReservations(t *testing.T) {
	e := newEnv(t)
	priv := key(1)
	first := e.order(t, priv, order.Buy, 2*P, 5*P)
	e.fund(first) // exactly one order's worth

	if err := e.validator.ValidateOrder(first); err != nil {
		t.Fatalf("first order must fit: %v", err)
	}
	if err := e.store.Process(1, &orderbook.OrderAdded{Order: order.NewLimitOrder(first)}); err != nil {
		t.Fatal(err)
	}

	// same funds cannot back a second order of the same size
	second := e.order(t, priv, order.Buy, 2*P+1, 5*P)
	wantReason(t, e.validator.ValidateOrder(second), "Not enough tradable balance")
}

func TestSmartAccountGating(t *testing.T) {
	e := newEnv(t)
	bob := key(2)
	o := e.order(t, bob, order.Buy, 2*P, 5*P)
	e.fund(o)
	e.chain.AccountScripts[o.SenderAddress()] = []byte("true")

	e.chain.SetHeight(99) // below activation
	wantReason(t, e.validator.ValidateOrder(o), "Trading on scripted account isn't allowed yet.")

	e.chain.SetHeight(100) // activated
	if err := e.validator.ValidateOrder(o); err != nil {
		t.Fatalf("scripted placement must pass after activation: %v", err)
	}
}

func TestScriptDenialRejectsOrder(t *testing.T) {
	e := newEnv(t)
	bob := key(2)
	o := e.order(t, bob, order.Buy, 2*P, 5*P)
	e.fund(o)
	e.chain.AccountScripts[o.SenderAddress()] = []byte("false")
	e.chain.SetHeight(100)

	err := e.validator.ValidateOrder(o)
	var rejected *script.RejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("err = %v, want script rejection", err)
	}
}

func TestValidateCancel(t *testing.T) {
	e := newEnv(t)
	priv := key(1)
	o := e.order(t, priv, order.Buy, 2*P, 5*P)

	wantReason(t, e.validator.ValidateCancel(o.SenderPK, o.ID()), "Order not found")

	if err := e.store.Process(1, &orderbook.OrderAdded{Order: order.NewLimitOrder(o)}); err != nil {
		t.Fatal(err)
	}
	if err := e.validator.ValidateCancel(o.SenderPK, o.ID()); err != nil {
		t.Fatalf("owner cancel must validate: %v", err)
	}

	stranger := key(3).Public().(ed25519.PublicKey)
	wantReason(t, e.validator.ValidateCancel(stranger, o.ID()), "Order sender public key mismatch")
}
