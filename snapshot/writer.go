package snapshot

import (
	"encoding/gob"
	"os"
	"path/filepath"
	"time"

	"reef/domain/orderbook"
)

type Writer struct {
	Dir string
}

// Write images the book at the given journal offset. The file is
// written aside and renamed so a crash never leaves a torn snapshot.
func (w *Writer) Write(offset uint64, book *orderbook.OrderBook) error {
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return err
	}

	s := Snapshot{
		Version: SchemaVersion,
		Pair:    book.Pair.String(),
		Offset:  offset,
		Created: time.Now(),
	}
	for _, lo := range book.AllOrders() {
		s.Orders = append(s.Orders, OrderEntry{
			Order:  lo.Order.Marshal(),
			Amount: lo.Amount,
			Fee:    lo.Fee,
		})
	}

	tmp := filepath.Join(w.Dir, "snapshot.bin.tmp")
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := gob.NewEncoder(f).Encode(&s); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(w.Dir, "snapshot.bin"))
}
