// Package validate is the placement and cancellation gate. Checks run
// in a fixed sequence and the first failure wins; every rejection
// carries a stable reason string the API edge maps to a 400.
package validate

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"reef/domain/order"
	"reef/history"
	"reef/node"
	"reef/script"
)

// Error is a validation rejection with its stable reason.
type Error struct {
	Reason string
}

func (e *Error) Error() string { return e.Reason }

func reject(reason string) error { return &Error{Reason: reason} }

// Validator checks placements against the matcher identity, order
// sanity, script policy and the balance-with-reservations rule. It is
// stateless per call and safe for concurrent use.
type Validator struct {
	settings *node.Settings
	wallet   *node.Wallet
	store    *history.Store
	utx      node.UtxPool
	verifier *script.Verifier
	chain    node.BlockchainView
	clock    node.Clock
	log      zerolog.Logger
}

func NewValidator(
	settings *node.Settings,
	wallet *node.Wallet,
	store *history.Store,
	utx node.UtxPool,
	verifier *script.Verifier,
	chain node.BlockchainView,
	clock node.Clock,
	log zerolog.Logger,
) *Validator {
	return &Validator{
		settings: settings,
		wallet:   wallet,
		store:    store,
		utx:      utx,
		verifier: verifier,
		chain:    chain,
		clock:    clock,
		log:      log,
	}
}

// ValidateOrder runs the placement checks in order.
func (v *Validator) ValidateOrder(o *order.Order) error {
	now := node.Millis(v.clock.Now())

	if !bytes.Equal(o.MatcherPK, v.wallet.Public) {
		return reject("Incorrect matcher public key")
	}
	if o.Expiration <= now+order.MinExpirationAhead {
		return reject("Order expiration should be > 1 min")
	}
	if err := v.checkScriptPolicy(o); err != nil {
		return err
	}
	if !o.Valid(now) || !order.NewLimitOrder(o).Valid() {
		return reject("Order is invalid")
	}
	if o.MatcherFee < v.settings.MinOrderFee {
		return reject(fmt.Sprintf("Order matcherFee should be >= %d", v.settings.MinOrderFee))
	}

	info, err := v.store.OrderInfo(o.ID())
	if err != nil {
		return err
	}
	if info.Status() != order.NotFound {
		return reject("Order is already accepted")
	}

	return v.checkTradableBalance(o)
}

// checkScriptPolicy enforces the smart-account trading gate, then the
// signature or account script.
func (v *Validator) checkScriptPolicy(o *order.Order) error {
	address := o.SenderAddress()
	if v.verifier.HasAccountScript(address) &&
		(v.settings.SmartAccountTradingHeight == 0 || v.chain.Height() < v.settings.SmartAccountTradingHeight) {
		return reject("Trading on scripted account isn't allowed yet.")
	}

	err := v.verifier.VerifyOrder(o)
	var rejected *script.RejectedError
	if errors.As(err, &rejected) && !v.verifier.HasAccountScript(address) {
		return reject("signature should be valid")
	}
	return err
}

// checkTradableBalance enforces balance sufficiency with reservations:
// for every asset the order would lock, the spendable balance minus the
// current open volume must cover the projected reservation.
func (v *Validator) checkTradableBalance(o *order.Order) error {
	address := o.SenderAddress()
	projected := order.Reservation(o, order.OrderInfo{
		Amount:       o.Amount,
		RemainingFee: o.MatcherFee,
	})

	for asset, needed := range projected {
		reserved, err := v.store.OpenVolume(address, asset)
		if err != nil {
			return err
		}
		tradable := v.utx.SpendableBalance(address, asset) - reserved
		if tradable < 0 {
			tradable = 0
		}
		if tradable < needed {
			return reject(fmt.Sprintf(
				"Not enough tradable balance: %d %s available, %d required",
				tradable, asset, needed,
			))
		}
	}
	return nil
}

// ValidateCancel checks a cancellation request: the order must be
// known, not yet final by filling, and owned by the requester.
func (v *Validator) ValidateCancel(senderPK ed25519.PublicKey, id order.Digest) error {
	info, err := v.store.OrderInfo(id)
	if err != nil {
		return err
	}
	switch info.Status() {
	case order.NotFound:
		return reject("Order not found")
	case order.Filled:
		return reject("Order is already filled")
	}

	stored, err := v.store.Order(id)
	if err != nil {
		return err
	}
	if stored == nil || !bytes.Equal(stored.SenderPK, senderPK) {
		return reject("Order sender public key mismatch")
	}
	return nil
}
