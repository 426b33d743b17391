// Package config builds cache options from a YAML file and the environment.
//
//	defaults:
//	  statistics: true
//	  expiry: {policy: accessed, ttl: 10m}
//	caches:
//	  - name: users
//	    store_by_value: true
//	    codec: cbor
//	  - name: sessions
//	    expiry: {policy: created, ttl: 1d}
//
// Durations accept day and week units ("1d12h", "2w") besides Go's own.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/xhit/go-str2duration/v2"
	"gopkg.in/yaml.v3"

	"github.com/unkn0wn-root/entrycache"
	"github.com/unkn0wn-root/entrycache/codec"
	"github.com/unkn0wn-root/entrycache/convert"
	"github.com/unkn0wn-root/entrycache/expiry"
)

// Env holds the environment overrides.
type Env struct {
	File       string `env:"ENTRYCACHE_CONFIG" envDefault:"entrycache.yaml"`
	LogLevel   string `env:"ENTRYCACHE_LOG_LEVEL" envDefault:"info"`
	Statistics *bool  `env:"ENTRYCACHE_STATISTICS"` // forces statistics on or off for every cache
}

func LoadEnv() (Env, error) {
	var e Env
	if err := env.Parse(&e); err != nil {
		return Env{}, fmt.Errorf("config: env: %w", err)
	}
	return e, nil
}

// Duration is a time.Duration read with str2duration.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		*d = 0
		return nil
	}
	v, err := str2duration.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: line %d: %w", n.Line, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return str2duration.String(time.Duration(d)), nil
}

type ExpirySpec struct {
	// Policy is one of eternal, created, accessed, modified, touched.
	Policy string   `yaml:"policy"`
	TTL    Duration `yaml:"ttl"`
}

type CacheSpec struct {
	Name         string     `yaml:"name"`
	Expiry       ExpirySpec `yaml:"expiry"`
	StoreByValue bool       `yaml:"store_by_value"`
	Codec        string     `yaml:"codec"` // json, cbor or msgpack; store_by_value only
	Statistics   *bool      `yaml:"statistics"`
	ReadThrough  bool       `yaml:"read_through"`
	WriteThrough bool       `yaml:"write_through"`
	Shards       int        `yaml:"shards"`
	LoadWorkers  int        `yaml:"load_workers"`
	LoadQueue    int        `yaml:"load_queue"`
	EventQueue   int        `yaml:"event_queue"`
	CloseTimeout Duration   `yaml:"close_timeout"`
}

type File struct {
	Defaults CacheSpec   `yaml:"defaults"`
	Caches   []CacheSpec `yaml:"caches"`
}

func Load(path string) (*File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return Parse(b)
}

// Parse decodes a registry file, rejecting unknown fields, and fills every
// cache's unset fields from defaults.
func Parse(b []byte) (*File, error) {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	var f File
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	seen := make(map[string]bool, len(f.Caches))
	var errs []error
	for i := range f.Caches {
		c := &f.Caches[i]
		c.inherit(f.Defaults)
		if c.Name == "" {
			errs = append(errs, fmt.Errorf("caches[%d]: name is required", i))
			continue
		}
		if seen[c.Name] {
			errs = append(errs, fmt.Errorf("caches[%d]: duplicate name %q", i, c.Name))
		}
		seen[c.Name] = true
		if err := c.validate(); err != nil {
			errs = append(errs, fmt.Errorf("cache %q: %w", c.Name, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &f, nil
}

func (c *CacheSpec) inherit(d CacheSpec) {
	if c.Expiry.Policy == "" {
		c.Expiry = d.Expiry
	}
	if !c.StoreByValue {
		c.StoreByValue = d.StoreByValue
	}
	if c.Codec == "" {
		c.Codec = d.Codec
	}
	if c.Statistics == nil {
		c.Statistics = d.Statistics
	}
	if !c.ReadThrough {
		c.ReadThrough = d.ReadThrough
	}
	if !c.WriteThrough {
		c.WriteThrough = d.WriteThrough
	}
	if c.Shards == 0 {
		c.Shards = d.Shards
	}
	if c.LoadWorkers == 0 {
		c.LoadWorkers = d.LoadWorkers
	}
	if c.LoadQueue == 0 {
		c.LoadQueue = d.LoadQueue
	}
	if c.EventQueue == 0 {
		c.EventQueue = d.EventQueue
	}
	if c.CloseTimeout == 0 {
		c.CloseTimeout = d.CloseTimeout
	}
}

func (c *CacheSpec) validate() error {
	switch c.Expiry.Policy {
	case "", "eternal":
	case "created", "accessed", "modified", "touched":
		if c.Expiry.TTL < 0 {
			return fmt.Errorf("negative ttl %s", time.Duration(c.Expiry.TTL))
		}
	default:
		return fmt.Errorf("unknown expiry policy %q", c.Expiry.Policy)
	}
	switch c.Codec {
	case "", "json", "cbor", "msgpack":
	default:
		return fmt.Errorf("unknown codec %q", c.Codec)
	}
	if c.Shards < 0 || c.LoadWorkers < 0 || c.LoadQueue < 0 || c.EventQueue < 0 {
		return errors.New("sizes must not be negative")
	}
	return nil
}

// Cache returns the named cache section.
func (f *File) Cache(name string) (CacheSpec, bool) {
	for _, c := range f.Caches {
		if c.Name == name {
			return c, true
		}
	}
	return CacheSpec{}, false
}

// Override applies environment overrides to every cache.
func (e Env) Override(f *File) {
	if e.Statistics == nil {
		return
	}
	for i := range f.Caches {
		f.Caches[i].Statistics = e.Statistics
	}
}

// Policy builds the expiry policy s names.
func Policy[K any](s ExpirySpec) expiry.Policy[K] {
	ttl := time.Duration(s.TTL)
	switch s.Policy {
	case "created":
		return expiry.NewCreated[K](ttl)
	case "accessed":
		return expiry.NewAccessed[K](ttl)
	case "modified":
		return expiry.NewModified[K](ttl)
	case "touched":
		return expiry.NewTouched[K](ttl)
	default:
		return expiry.NewEternal[K]()
	}
}

// Apply copies spec into opts. store_by_value copies values through the
// section's codec and keys through JSON, whose output is deterministic for
// comparable types; a KeyConverter already set on opts is kept.
//
// Collaborators (Loader, Writer, Logger, listeners) are left to the caller;
// a section asking for read- or write-through needs them set before
// entrycache.New.
func Apply[K comparable, V any](spec CacheSpec, opts *entrycache.Options[K, V]) error {
	if opts.Name == "" {
		opts.Name = spec.Name
	}
	opts.ExpiryPolicy = Policy[K](spec.Expiry)
	if spec.StoreByValue {
		c, err := codec.ByName[V](spec.Codec)
		if err != nil {
			return fmt.Errorf("config: cache %q: %w", spec.Name, err)
		}
		opts.ValueConverter = convert.ByValue[V]{Codec: c}
		if opts.KeyConverter == nil {
			opts.KeyConverter = convert.ByValue[K]{Codec: codec.JSON[K]{}}
		}
	}
	if spec.Statistics != nil {
		opts.StatisticsEnabled = *spec.Statistics
	}
	opts.ReadThrough = opts.ReadThrough || spec.ReadThrough
	opts.WriteThrough = opts.WriteThrough || spec.WriteThrough
	opts.Shards = spec.Shards
	opts.LoadWorkers = spec.LoadWorkers
	opts.LoadQueue = spec.LoadQueue
	opts.EventQueue = spec.EventQueue
	opts.CloseTimeout = time.Duration(spec.CloseTimeout)
	return nil
}
