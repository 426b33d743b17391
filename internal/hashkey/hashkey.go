// Package hashkey hashes internal cache keys for shard and lock-stripe selection.
package hashkey

import (
	"fmt"
	"hash/maphash"
	"sort"

	"github.com/cespare/xxhash/v2"
)

var seed = maphash.MakeSeed()

// Sum returns a 64-bit hash for k. k must hold a comparable dynamic value.
// Strings (the representation used by store-by-value keys) go through xxhash;
// everything else goes through maphash.Comparable.
func Sum(k any) uint64 {
	switch v := k.(type) {
	case string:
		return xxhash.Sum64String(v)
	case []byte:
		return xxhash.Sum64(v)
	default:
		return maphash.Comparable(seed, k)
	}
}

// Sort orders keys by hash, breaking ties by their printed form so that the
// resulting order is total and identical for every caller in the process.
// Duplicate keys are removed. The input slice is not modified.
func Sort(keys []any) []any {
	type hk struct {
		h uint64
		k any
	}
	seen := make(map[any]struct{}, len(keys))
	hs := make([]hk, 0, len(keys))
	for _, k := range keys {
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		hs = append(hs, hk{h: Sum(k), k: k})
	}
	sort.Slice(hs, func(i, j int) bool {
		if hs[i].h != hs[j].h {
			return hs[i].h < hs[j].h
		}
		return tiebreak(hs[i].k) < tiebreak(hs[j].k)
	})
	out := make([]any, len(hs))
	for i := range hs {
		out[i] = hs[i].k
	}
	return out
}

func tiebreak(k any) string {
	if s, ok := k.(string); ok {
		return s
	}
	return fmt.Sprintf("%T:%#v", k, k)
}
