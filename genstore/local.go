package genstore

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

const localShards = 32

type localGenEntry struct {
	gen       uint64
	updatedAt time.Time
}

type genShard struct {
	mu   sync.RWMutex
	gens map[string]localGenEntry
}

// LocalGenStore keeps generations in-process, sharded by key hash.
// An optional cleanup loop prunes long-inactive entries.
type LocalGenStore struct {
	shards [localShards]genShard

	ticker    *time.Ticker
	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

var _ GenStore = (*LocalGenStore)(nil)

func NewLocalGenStore(cleanupInterval, retention time.Duration) *LocalGenStore {
	s := &LocalGenStore{}
	for i := range s.shards {
		s.shards[i].gens = make(map[string]localGenEntry)
	}
	if cleanupInterval > 0 && retention > 0 {
		s.ticker = time.NewTicker(cleanupInterval)
		s.stopCh = make(chan struct{})
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for {
				select {
				case <-s.ticker.C:
					s.Cleanup(retention)
				case <-s.stopCh:
					return
				}
			}
		}()
	}
	return s
}

func (s *LocalGenStore) shard(k string) *genShard {
	return &s.shards[xxhash.Sum64String(k)%localShards]
}

func (s *LocalGenStore) Snapshot(_ context.Context, k string) (uint64, error) {
	sh := s.shard(k)
	sh.mu.RLock()
	e := sh.gens[k]
	sh.mu.RUnlock()
	return e.gen, nil
}

func (s *LocalGenStore) SnapshotMany(_ context.Context, ks []string) (map[string]uint64, error) {
	out := make(map[string]uint64, len(ks))
	for _, k := range ks {
		sh := s.shard(k)
		sh.mu.RLock()
		out[k] = sh.gens[k].gen // zero value (0) if missing
		sh.mu.RUnlock()
	}
	return out, nil
}

func (s *LocalGenStore) Bump(_ context.Context, k string) (uint64, error) {
	now := time.Now()
	sh := s.shard(k)
	sh.mu.Lock()
	e := sh.gens[k]
	e.gen++
	e.updatedAt = now
	sh.gens[k] = e
	sh.mu.Unlock()
	return e.gen, nil
}

// Cleanup drops generations not bumped within retention. A pruned key reads
// as generation 0 again, so frames written before the prune stop matching.
func (s *LocalGenStore) Cleanup(retention time.Duration) {
	if retention <= 0 {
		return
	}
	cutoff := time.Now().Add(-retention)
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for k, e := range sh.gens {
			if e.updatedAt.Before(cutoff) {
				delete(sh.gens, k)
			}
		}
		sh.mu.Unlock()
	}
}

func (s *LocalGenStore) Close(_ context.Context) error {
	s.closeOnce.Do(func() {
		if s.stopCh != nil {
			s.ticker.Stop()
			close(s.stopCh)
			s.wg.Wait()
		}
	})
	return nil
}
