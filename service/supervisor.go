package service

import (
	"context"
	"crypto/ed25519"
	"sync"
	"time"

	"reef/domain/order"
)

// Matcher is the supervisor: it routes every request to the pair actor
// for its asset pair, spawning actors on first use, and keeps a shared
// map of read-only book views for query endpoints.
type Matcher struct {
	deps Deps

	mu     sync.RWMutex
	actors map[string]*PairActor

	views sync.Map // pair key -> *BookView
}

func NewMatcher(deps Deps) *Matcher {
	return &Matcher{deps: deps, actors: make(map[string]*PairActor)}
}

// Place routes a placement to its pair's actor.
func (m *Matcher) Place(ctx context.Context, o *order.Order) (*order.Order, error) {
	actor, err := m.actor(o.Pair)
	if err != nil {
		return nil, err
	}
	return actor.Place(ctx, o)
}

// Cancel routes a cancellation.
func (m *Matcher) Cancel(ctx context.Context, pair order.AssetPair, senderPK ed25519.PublicKey, id order.Digest) (string, error) {
	actor, err := m.actor(pair)
	if err != nil {
		return "", err
	}
	return actor.Cancel(ctx, senderPK, id)
}

// Orders lists a pair's resting orders through its actor.
func (m *Matcher) Orders(ctx context.Context, pair order.AssetPair, sel OrderSelector) ([]*order.LimitOrder, error) {
	actor, err := m.actor(pair)
	if err != nil {
		return nil, err
	}
	return actor.Orders(ctx, sel)
}

// Restart asks one pair's actor to reload from durable state.
func (m *Matcher) Restart(ctx context.Context, pair order.AssetPair) error {
	actor, err := m.actor(pair)
	if err != nil {
		return err
	}
	return actor.Restart(ctx)
}

// View returns the last published read-only book view without touching
// the actor.
func (m *Matcher) View(pair order.AssetPair) (*BookView, bool) {
	v, ok := m.views.Load(pair.Key())
	if !ok {
		return nil, false
	}
	return v.(*BookView), true
}

// RunCleanup fans the expiry sweep to every live actor on the
// configured interval until the context ends.
func (m *Matcher) RunCleanup(ctx context.Context) {
	ticker := time.NewTicker(m.deps.Settings.OrderCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mu.RLock()
			for _, actor := range m.actors {
				actor.Cleanup()
			}
			m.mu.RUnlock()
		}
	}
}

// Close stops every actor.
func (m *Matcher) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, actor := range m.actors {
		actor.Stop()
	}
	m.actors = make(map[string]*PairActor)
}

func (m *Matcher) actor(pair order.AssetPair) (*PairActor, error) {
	key := pair.Key()

	m.mu.RLock()
	actor, ok := m.actors[key]
	m.mu.RUnlock()
	if ok {
		return actor, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if actor, ok := m.actors[key]; ok {
		return actor, nil
	}
	actor, err := NewPairActor(pair, m.deps)
	if err != nil {
		return nil, err
	}
	actor.onChange = func(p order.AssetPair, v *BookView) {
		m.views.Store(p.Key(), v)
	}
	m.actors[key] = actor
	m.deps.Log.Info().Str("pair", pair.String()).Msg("pair actor spawned")
	return actor, nil
}
