package broadcaster

import (
	"encoding/binary"
	"errors"
	"time"

	"github.com/cockroachdb/pebble"
)

// The outbox makes transaction broadcast survive restarts: an emitted
// transaction is recorded durably before the matcher replies, and the
// broadcast loop drains it to the channel group with at-least-once
// delivery.

type State uint8

const (
	StateNew State = iota
	StateSent
	StateAcked
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateSent:
		return "SENT"
	case StateAcked:
		return "ACKED"
	default:
		return "UNKNOWN"
	}
}

// Entry is one pending broadcast: the serialized transaction event and
// its delivery state.
type Entry struct {
	State       State
	Retries     uint32
	LastAttempt int64
	Payload     []byte
}

// binary encoding: [state:1][retries:4][lastAttempt:8][payload...]
func encodeEntry(e Entry) []byte {
	buf := make([]byte, 1+4+8+len(e.Payload))
	buf[0] = byte(e.State)
	binary.BigEndian.PutUint32(buf[1:5], e.Retries)
	binary.BigEndian.PutUint64(buf[5:13], uint64(e.LastAttempt))
	copy(buf[13:], e.Payload)
	return buf
}

func decodeEntry(b []byte) (Entry, error) {
	if len(b) < 13 {
		return Entry{}, errors.New("broadcaster: invalid outbox entry")
	}
	payload := make([]byte, len(b)-13)
	copy(payload, b[13:])
	return Entry{
		State:       State(b[0]),
		Retries:     binary.BigEndian.Uint32(b[1:5]),
		LastAttempt: int64(binary.BigEndian.Uint64(b[5:13])),
		Payload:     payload,
	}, nil
}

// Outbox is the pebble-backed pending set, keyed by transaction id.
type Outbox struct {
	db *pebble.DB
}

func OpenOutbox(dir string) (*Outbox, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &Outbox{db: db}, nil
}

func (o *Outbox) Close() error { return o.db.Close() }

func keyFor(txID string) []byte { return []byte("tx/" + txID) }

// Put records a freshly emitted transaction for broadcast.
func (o *Outbox) Put(txID string, payload []byte) error {
	return o.db.Set(keyFor(txID), encodeEntry(Entry{State: StateNew, Payload: payload}), pebble.Sync)
}

// Mark moves an entry to the given state, bumping the attempt counter.
func (o *Outbox) Mark(txID string, state State, retries uint32) error {
	val, closer, err := o.db.Get(keyFor(txID))
	if err != nil {
		return err
	}
	entry, err := decodeEntry(val)
	closer.Close()
	if err != nil {
		return err
	}
	entry.State = state
	entry.Retries = retries
	entry.LastAttempt = time.Now().UnixNano()
	return o.db.Set(keyFor(txID), encodeEntry(entry), pebble.Sync)
}

// ScanPending visits every entry not yet acknowledged.
func (o *Outbox) ScanPending(fn func(txID string, e Entry) error) error {
	iter, err := o.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte("tx/"),
		UpperBound: []byte("tx/~"),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		entry, err := decodeEntry(iter.Value())
		if err != nil {
			return err
		}
		if entry.State == StateAcked {
			continue
		}
		if err := fn(string(iter.Key()[len("tx/"):]), entry); err != nil {
			return err
		}
	}
	return iter.Error()
}

// PruneAcked deletes delivered entries.
func (o *Outbox) PruneAcked() error {
	iter, err := o.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte("tx/"),
		UpperBound: []byte("tx/~"),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	batch := o.db.NewBatch()
	defer batch.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		entry, err := decodeEntry(iter.Value())
		if err != nil {
			return err
		}
		if entry.State == StateAcked {
			key := append([]byte(nil), iter.Key()...)
			if err := batch.Delete(key, nil); err != nil {
				return err
			}
		}
	}
	if err := iter.Error(); err != nil {
		return err
	}
	return batch.Commit(pebble.Sync)
}
