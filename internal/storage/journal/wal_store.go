// Package journal persists report records in a write-ahead log so balance
// history survives restarts and can be replayed to late subscribers.
package journal

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"

	"github.com/vadiminshakov/sigrelay/internal/domain"
	"github.com/vadiminshakov/sigrelay/internal/events"
)

const (
	defaultJournalDir = "./wal/journal"
	segmentLimit      = 1000
	maxSegments       = 100
)

// WALStore appends records to a gowal log. Keys are "<kind>/<account>".
type WALStore struct {
	wal *gowal.Wal
	mu  sync.RWMutex
}

// NewWALStore opens (or creates) the journal under dir.
func NewWALStore(dir string) (*WALStore, error) {
	if dir == "" {
		dir = defaultJournalDir
	}

	cfg := gowal.Config{
		Dir:              dir,
		Prefix:           "journal_",
		SegmentThreshold: segmentLimit,
		MaxSegments:      maxSegments,
		IsInSyncDiskMode: true,
	}

	wal, err := gowal.NewWAL(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "init journal WAL")
	}

	return &WALStore{wal: wal}, nil
}

func key(r events.Record) string {
	return string(r.Kind) + "/" + r.Source.Account
}

// Append writes r at the next index and returns that index.
func (s *WALStore) Append(r events.Record) (uint64, error) {
	if s == nil || s.wal == nil {
		return 0, errors.New("journal is not initialized")
	}
	if r.Kind == "" {
		return 0, errors.New("record kind is required")
	}

	payload, err := json.Marshal(r)
	if err != nil {
		return 0, errors.Wrap(err, "marshal record")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.wal.CurrentIndex() + 1
	if err := s.wal.Write(idx, key(r), payload); err != nil {
		return 0, errors.Wrapf(err, "write record %d", idx)
	}
	return idx, nil
}

// RecordsAfter returns records written after index, restricted to kinds
// when any are given.
func (s *WALStore) RecordsAfter(index uint64, kinds ...events.Kind) ([]events.Record, error) {
	if s == nil || s.wal == nil {
		return nil, errors.New("journal is not initialized")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	current := s.wal.CurrentIndex()
	if current <= index {
		return nil, nil
	}

	var out []events.Record
	for idx := index + 1; idx <= current; idx++ {
		k, payload, err := s.wal.Get(idx)
		if err != nil || k == "" || !matchKind(k, kinds) {
			continue
		}
		var r events.Record
		if err := json.Unmarshal(payload, &r); err != nil {
			return nil, errors.Wrapf(err, "decode record %d", idx)
		}
		out = append(out, r)
	}

	return out, nil
}

// SnapshotsAfter returns balance snapshots written after index.
func (s *WALStore) SnapshotsAfter(index uint64) ([]domain.BalanceSnapshotRecord, error) {
	if s == nil || s.wal == nil {
		return nil, errors.New("journal is not initialized")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	current := s.wal.CurrentIndex()
	if current <= index {
		return nil, nil
	}

	records := make([]domain.BalanceSnapshotRecord, 0, current-index)
	for idx := index + 1; idx <= current; idx++ {
		k, payload, err := s.wal.Get(idx)
		if err != nil || k == "" || !matchKind(k, []events.Kind{events.KindBalanceSnapshot}) {
			continue
		}
		var r events.Record
		if err := json.Unmarshal(payload, &r); err != nil {
			return nil, errors.Wrapf(err, "decode balance snapshot %d", idx)
		}
		if r.Balance == nil {
			continue
		}
		records = append(records, domain.BalanceSnapshotRecord{Index: idx, Snapshot: *r.Balance})
	}

	return records, nil
}

func matchKind(k string, kinds []events.Kind) bool {
	if len(kinds) == 0 {
		return true
	}
	for _, kind := range kinds {
		if strings.HasPrefix(k, string(kind)+"/") {
			return true
		}
	}
	return false
}

// CurrentIndex returns the latest index stored.
func (s *WALStore) CurrentIndex() uint64 {
	if s == nil || s.wal == nil {
		return 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.wal.CurrentIndex()
}

func (s *WALStore) Close() error {
	if s == nil || s.wal == nil {
		return errors.New("journal is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}
