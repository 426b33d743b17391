// Package redis stores frames in Redis. Per-entry TTLs map to key expiry,
// and GetMany reads a batch with a single MGET.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	pr "github.com/unkn0wn-root/entrycache/provider"
)

var ErrNilClient = errors.New("redis provider: nil client")

var (
	_ pr.Provider    = (*Provider)(nil)
	_ pr.BatchGetter = (*Provider)(nil)
)

type Provider struct {
	rdb  goredis.UniversalClient
	own  bool
	once sync.Once
}

type Config struct {
	Client goredis.UniversalClient
	// OwnClient makes Close also close Client.
	OwnClient bool
}

func New(cfg Config) (*Provider, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	return &Provider{rdb: cfg.Client, own: cfg.OwnClient}, nil
}

func (p *Provider) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := p.rdb.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, goredis.Nil):
		return nil, false, nil
	case err != nil:
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return b, true, nil
}

// GetMany returns the records present among keys. Absent keys are left out.
func (p *Provider) GetMany(ctx context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	vals, err := p.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget %d keys: %w", len(keys), err)
	}
	for i, v := range vals {
		switch vv := v.(type) {
		case nil:
		case string:
			out[keys[i]] = []byte(vv)
		default:
			return nil, fmt.Errorf("redis mget %s: unexpected %T", keys[i], v)
		}
	}
	return out, nil
}

// Set ignores cost. A ttl <= 0 stores without expiry.
func (p *Provider) Set(ctx context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	if ttl < 0 {
		ttl = 0
	}
	if err := p.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return false, fmt.Errorf("redis set %s: %w", key, err)
	}
	return true, nil
}

func (p *Provider) Del(ctx context.Context, key string) error {
	if err := p.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// Close closes the client only if the provider owns it. Repeated calls are no-ops.
func (p *Provider) Close(context.Context) error {
	var err error
	p.once.Do(func() {
		if !p.own {
			return
		}
		if cerr := p.rdb.Close(); cerr != nil && !errors.Is(cerr, goredis.ErrClosed) {
			err = cerr
		}
	})
	return err
}
