package node

import (
	"fmt"
	"sync"
	"time"

	"reef/domain/order"
	"reef/domain/tx"
)

// UtxPool is the unconfirmed-transaction pool. It reports per-address
// spendable balances and accepts or refuses emitted exchange
// transactions (a scripted account or asset may refuse one).
type UtxPool interface {
	SpendableBalance(address string, asset order.Asset) int64
	Accept(t *tx.ExchangeTransaction) error
}

// OrderRejectedError is a pool refusal that blames one of the two
// orders in the transaction. The matcher evicts the blamed order when
// it is the resting one.
type OrderRejectedError struct {
	OrderID order.Digest
	Reason  string
}

func (e *OrderRejectedError) Error() string {
	return fmt.Sprintf("order %s rejected: %s", e.OrderID, e.Reason)
}

// BlockchainView is the read-only chain state the matcher consults for
// script policy.
type BlockchainView interface {
	Height() uint64
	AccountScript(address string) []byte // nil when the account is plain
	AssetScript(asset order.Asset) []byte
}

// Clock is the NTP-corrected time source. It is passed explicitly into
// the validator and the pair actors; nothing reads the wall clock
// directly in the matching path.
type Clock interface {
	Now() time.Time
}

// CorrectedClock applies a fixed offset obtained from an NTP exchange.
type CorrectedClock struct {
	Offset time.Duration
}

func (c CorrectedClock) Now() time.Time { return time.Now().Add(c.Offset) }

// Millis renders a clock reading in the protocol's millisecond unit.
func Millis(t time.Time) int64 { return t.UnixMilli() }

// InMemoryUtx is a self-contained pool used by tests and by nodes
// running without a chain backend. Balances are credited explicitly;
// accepted transactions are retained in arrival order.
type InMemoryUtx struct {
	mu       sync.Mutex
	balances map[string]map[order.Asset]int64
	accepted []*tx.ExchangeTransaction

	// RejectFn, when set, vetoes transactions (used to model script
	// denials at the pool boundary).
	RejectFn func(t *tx.ExchangeTransaction) error
}

func NewInMemoryUtx() *InMemoryUtx {
	return &InMemoryUtx{balances: make(map[string]map[order.Asset]int64)}
}

// Credit adds spendable balance for an address.
func (u *InMemoryUtx) Credit(address string, asset order.Asset, amount int64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.balances[address] == nil {
		u.balances[address] = make(map[order.Asset]int64)
	}
	u.balances[address][asset] += amount
}

func (u *InMemoryUtx) SpendableBalance(address string, asset order.Asset) int64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.balances[address][asset]
}

func (u *InMemoryUtx) Accept(t *tx.ExchangeTransaction) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.RejectFn != nil {
		if err := u.RejectFn(t); err != nil {
			return err
		}
	}
	u.accepted = append(u.accepted, t)
	return nil
}

// Accepted returns the transactions accepted so far.
func (u *InMemoryUtx) Accepted() []*tx.ExchangeTransaction {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]*tx.ExchangeTransaction, len(u.accepted))
	copy(out, u.accepted)
	return out
}

// StaticBlockchain is a fixed chain view for tests and standalone runs.
type StaticBlockchain struct {
	CurrentHeight  uint64
	AccountScripts map[string][]byte
	AssetScripts   map[order.Asset][]byte

	mu sync.Mutex
}

func (b *StaticBlockchain) Height() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.CurrentHeight
}

// SetHeight advances the chain view.
func (b *StaticBlockchain) SetHeight(h uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.CurrentHeight = h
}

func (b *StaticBlockchain) AccountScript(address string) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.AccountScripts[address]
}

func (b *StaticBlockchain) AssetScript(asset order.Asset) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.AssetScripts[asset]
}
