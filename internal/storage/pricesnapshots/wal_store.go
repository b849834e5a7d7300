// Package pricesnapshots keeps an append-only log of accepted price points.
// Points are stored in timestamp order: a point not newer than the last
// stored one is skipped, so the highest index is always the newest price.
package pricesnapshots

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"
	"github.com/vadiminshakov/marketpulse/internal/domain"
)

const (
	defaultDir   = "./wal/price"
	segmentLimit = 1000
	maxSegments  = 100
	keyPrefix    = "price_snapshot_"
)

var errNotInitialized = errors.New("price snapshot store is not initialized")

// WALStore persists price points in a gowal log so history survives restarts
// and can be replayed to late subscribers. Safe for concurrent use.
type WALStore struct {
	mu  sync.RWMutex
	wal *gowal.Wal
	// last is the newest stored point, nil while the log is empty
	last *domain.PricePoint
}

// NewWALStore opens the log under dir and loads its newest point.
func NewWALStore(dir string) (*WALStore, error) {
	if dir == "" {
		dir = defaultDir
	}

	wal, err := gowal.NewWAL(gowal.Config{
		Dir:              dir,
		Prefix:           "price_",
		SegmentThreshold: segmentLimit,
		MaxSegments:      maxSegments,
		IsInSyncDiskMode: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "init price snapshot WAL")
	}

	s := &WALStore{wal: wal}
	for idx := wal.CurrentIndex(); idx > 0; idx-- {
		p, ok, err := s.read(idx)
		if err != nil {
			_ = wal.Close()
			return nil, err
		}
		if ok {
			s.last = &p
			break
		}
	}
	return s, nil
}

// Save appends point when it is newer than the last stored one; older or
// equal timestamps are skipped without error. Callers may save concurrently.
func (s *WALStore) Save(point domain.PricePoint) error {
	if s == nil || s.wal == nil {
		return errNotInitialized
	}
	if point.Price.IsZero() {
		return errors.New("price snapshot without price")
	}

	payload, err := json.Marshal(point)
	if err != nil {
		return errors.Wrap(err, "marshal price snapshot")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.last != nil && !point.Timestamp.After(s.last.Timestamp) {
		return nil
	}
	if err := s.wal.Write(s.wal.CurrentIndex()+1, keyPrefix+point.Source, payload); err != nil {
		return errors.Wrap(err, "append price snapshot")
	}
	s.last = &point
	return nil
}

// SnapshotsAfter returns the snapshots written after index, oldest first.
func (s *WALStore) SnapshotsAfter(index uint64) ([]domain.PriceSnapshotRecord, error) {
	if s == nil || s.wal == nil {
		return nil, errNotInitialized
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	current := s.wal.CurrentIndex()
	if current <= index {
		return nil, nil
	}

	records := make([]domain.PriceSnapshotRecord, 0, current-index)
	for idx := index + 1; idx <= current; idx++ {
		p, ok, err := s.read(idx)
		if err != nil {
			return nil, err
		}
		if ok {
			records = append(records, domain.PriceSnapshotRecord{Index: idx, Point: p})
		}
	}
	return records, nil
}

// Last returns the newest stored snapshot, if any.
func (s *WALStore) Last() (domain.PricePoint, bool, error) {
	if s == nil || s.wal == nil {
		return domain.PricePoint{}, false, errNotInitialized
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.last == nil {
		return domain.PricePoint{}, false, nil
	}
	return *s.last, true, nil
}

// CurrentIndex returns the latest WAL index stored.
func (s *WALStore) CurrentIndex() uint64 {
	if s == nil || s.wal == nil {
		return 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.wal.CurrentIndex()
}

// Close closes the underlying WAL.
func (s *WALStore) Close() error {
	if s == nil || s.wal == nil {
		return errNotInitialized
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}

// read decodes the entry at idx. Missing entries and foreign keys report
// ok == false.
func (s *WALStore) read(idx uint64) (domain.PricePoint, bool, error) {
	key, payload, err := s.wal.Get(idx)
	if err != nil || !strings.HasPrefix(key, keyPrefix) {
		return domain.PricePoint{}, false, nil
	}
	var p domain.PricePoint
	if err := json.Unmarshal(payload, &p); err != nil {
		return domain.PricePoint{}, false, errors.Wrapf(err, "decode price snapshot %d", idx)
	}
	return p, true, nil
}
