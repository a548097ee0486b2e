// Package script gates matching on account and asset script policy.
// The script language itself is not interpreted here; a Runner
// capability is injected and the verifier only sequences the checks.
package script

import (
	"fmt"

	"reef/domain/order"
	"reef/domain/tx"
	"reef/node"
)

// Subject is anything a script can judge: an order or an exchange
// transaction, presented by its canonical body bytes.
type Subject interface {
	BodyBytes() []byte
}

// Runner evaluates one script over a subject at a chain height. It
// returns the script's boolean verdict, or an error when execution
// itself failed.
type Runner interface {
	Run(height uint64, subject Subject, script []byte) (bool, error)
}

// RunnerFunc adapts a function to the Runner capability.
type RunnerFunc func(height uint64, subject Subject, script []byte) (bool, error)

func (f RunnerFunc) Run(height uint64, subject Subject, script []byte) (bool, error) {
	return f(height, subject, script)
}

// RejectedError: a script ran to completion and said no.
type RejectedError struct {
	Context       string
	Script        []byte
	IsAssetScript bool
}

func (e *RejectedError) Error() string {
	if e.IsAssetScript {
		return fmt.Sprintf("asset script rejected %s", e.Context)
	}
	return fmt.Sprintf("account script rejected %s", e.Context)
}

// ExecutionError: a script crashed or timed out.
type ExecutionError struct {
	Context       string
	Cause         error
	Script        []byte
	IsAssetScript bool
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("script execution failed on %s: %v", e.Context, e.Cause)
}

func (e *ExecutionError) Unwrap() error { return e.Cause }

// Verifier applies the policy: a plain account must present exactly one
// valid signature; a scripted account must satisfy its script; an
// exchange transaction must satisfy every involved account and asset
// script.
type Verifier struct {
	chain  node.BlockchainView
	runner Runner
}

func NewVerifier(chain node.BlockchainView, runner Runner) *Verifier {
	return &Verifier{chain: chain, runner: runner}
}

// HasAccountScript reports whether the address is scripted.
func (v *Verifier) HasAccountScript(address string) bool {
	return v.chain.AccountScript(address) != nil
}

// VerifyOrder checks one order against its sender's policy.
func (v *Verifier) VerifyOrder(o *order.Order) error {
	address := o.SenderAddress()
	script := v.chain.AccountScript(address)
	if script == nil {
		if !v.verifySingleProof(o) {
			return &RejectedError{Context: "order " + o.ID().String()}
		}
		return nil
	}
	return v.runOne(o, script, "order "+o.ID().String(), false)
}

// VerifyExchangeTransaction runs the matcher, buyer and seller account
// scripts plus every scripted asset of the pair. All must accept.
func (v *Verifier) VerifyExchangeTransaction(t *tx.ExchangeTransaction, matcherAddress string) error {
	ctx := "exchange transaction " + t.ID().String()

	accounts := []string{
		matcherAddress,
		t.BuyOrder.SenderAddress(),
		t.SellOrder.SenderAddress(),
	}
	for _, address := range accounts {
		script := v.chain.AccountScript(address)
		if script == nil {
			continue
		}
		if err := v.runOne(t, script, ctx, false); err != nil {
			return err
		}
	}

	pair := t.BuyOrder.Pair
	for _, asset := range []order.Asset{pair.AmountAsset, pair.PriceAsset} {
		if asset.IsNative() {
			continue
		}
		script := v.chain.AssetScript(asset)
		if script == nil {
			continue
		}
		if err := v.runOne(t, script, ctx, true); err != nil {
			return err
		}
	}
	return nil
}

func (v *Verifier) runOne(subject Subject, script []byte, ctx string, isAsset bool) error {
	ok, err := v.runner.Run(v.chain.Height(), subject, script)
	if err != nil {
		return &ExecutionError{Context: ctx, Cause: err, Script: script, IsAssetScript: isAsset}
	}
	if !ok {
		return &RejectedError{Context: ctx, Script: script, IsAssetScript: isAsset}
	}
	return nil
}

// verifySingleProof: exactly one proof, and it must verify as a sender
// signature over the body.
func (v *Verifier) verifySingleProof(o *order.Order) bool {
	return len(o.Proofs) == 1 && o.SignatureValid()
}
