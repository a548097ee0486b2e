package snapshot

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"reef/domain/order"
	"reef/domain/orderbook"
)

// Load restores the book from the directory's snapshot and returns the
// journal offset it supersedes. A missing snapshot is not an error: the
// book starts empty at offset zero and the whole journal replays.
func Load(dir string, book *orderbook.OrderBook) (uint64, error) {
	f, err := os.Open(filepath.Join(dir, "snapshot.bin"))
	if err != nil {
		return 0, nil
	}
	defer f.Close()

	var s Snapshot
	if err := gob.NewDecoder(f).Decode(&s); err != nil {
		return 0, err
	}
	if s.Version != SchemaVersion {
		return 0, fmt.Errorf("snapshot: unsupported schema version %d", s.Version)
	}

	for _, e := range s.Orders {
		o, err := order.Unmarshal(e.Order)
		if err != nil {
			return 0, err
		}
		lo := order.NewLimitOrder(o)
		lo.Amount = e.Amount
		lo.Fee = e.Fee
		book.Restore(lo)
	}
	return s.Offset, nil
}
