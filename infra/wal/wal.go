// Package wal is the per-pair event journal. Every state-changing book
// event is appended before its effects are acknowledged; on recovery
// the tail after the latest snapshot is replayed.
package wal

import (
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

type Config struct {
	Dir             string
	SegmentSize     int64
	SegmentDuration time.Duration
	FlushInterval   time.Duration
}

// Journal appends framed records to the active segment and rotates it
// by size or age. Rotated segments stay in the directory; nothing here
// deletes them, and replay skips records at or below a snapshot's offset.
type Journal struct {
	cfg   Config
	mu    sync.Mutex
	file  *os.File
	bytes int64
	start time.Time
	stop  chan struct{}
}

const activeSegment = "journal.log"

func Open(cfg Config) (*Journal, error) {
	if cfg.SegmentSize == 0 {
		cfg.SegmentSize = 16 << 20
	}
	if cfg.SegmentDuration == 0 {
		cfg.SegmentDuration = time.Hour
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = time.Second
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filepath.Join(cfg.Dir, activeSegment), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	j := &Journal{
		cfg:   cfg,
		file:  f,
		start: time.Now(),
		stop:  make(chan struct{}),
	}
	go j.autoFlush()
	return j, nil
}

// Append writes one record and returns when it is in the OS buffer.
func (j *Journal) Append(rec *Record) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	n, err := j.file.Write(EncodeRecord(rec))
	if err != nil {
		return err
	}
	j.bytes += int64(n)
	if j.bytes > j.cfg.SegmentSize || time.Since(j.start) > j.cfg.SegmentDuration {
		return j.rotate()
	}
	return nil
}

// Sync forces the active segment to stable storage.
func (j *Journal) Sync() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.file.Sync()
}

// ReplayFrom streams every record with offset strictly greater than
// after, oldest segment first.
func (j *Journal) ReplayFrom(after uint64, fn func(*Record) error) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	for _, name := range j.segments() {
		f, err := os.Open(filepath.Join(j.cfg.Dir, name))
		if err != nil {
			return err
		}
		for {
			rec, err := DecodeRecord(f)
			if err != nil {
				break // segment tail
			}
			if rec.Offset <= after {
				continue
			}
			if err := fn(rec); err != nil {
				f.Close()
				return err
			}
		}
		f.Close()
	}
	return nil
}

// LastOffset scans for the highest offset on disk.
func (j *Journal) LastOffset() (uint64, error) {
	var last uint64
	err := j.ReplayFrom(0, func(rec *Record) error {
		if rec.Offset > last {
			last = rec.Offset
		}
		return nil
	})
	return last, err
}

// segments lists rotated files oldest-first, then the active one.
// Rotated names are timestamps, so lexicographic order is age order.
func (j *Journal) segments() []string {
	entries, err := os.ReadDir(j.cfg.Dir)
	if err != nil {
		return nil
	}
	var rotated []string
	for _, e := range entries {
		if name := e.Name(); name != activeSegment && filepath.Ext(name) == ".log" {
			rotated = append(rotated, name)
		}
	}
	sort.Strings(rotated)
	return append(rotated, activeSegment)
}

func (j *Journal) rotate() error {
	if err := j.file.Sync(); err != nil {
		return err
	}
	if err := j.file.Close(); err != nil {
		return err
	}
	active := filepath.Join(j.cfg.Dir, activeSegment)
	rotated := filepath.Join(j.cfg.Dir, time.Now().UTC().Format("20060102T150405.000")+".log")
	if err := os.Rename(active, rotated); err != nil {
		return err
	}
	f, err := os.OpenFile(active, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	j.file = f
	j.bytes = 0
	j.start = time.Now()
	return nil
}

func (j *Journal) autoFlush() {
	ticker := time.NewTicker(j.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			j.mu.Lock()
			_ = j.file.Sync()
			j.mu.Unlock()
		case <-j.stop:
			return
		}
	}
}

func (j *Journal) Close() error {
	close(j.stop)
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.file.Sync(); err != nil {
		return err
	}
	return j.file.Close()
}
