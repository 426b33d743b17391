package entrycache

import "time"

const (
	defaultShards       = 64
	defaultLoadWorkers  = 4
	defaultLoadQueue    = 256
	defaultEventQueue   = 1024
	defaultCloseTimeout = 5 * time.Second
)

// coalesce returns def when v is the zero value of T - otherwise v.
func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
