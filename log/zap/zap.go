// Package zap adapts a *zap.Logger to entrycache.Logger.
package zap

import (
	"sort"

	"github.com/unkn0wn-root/entrycache"
	"go.uber.org/zap"
)

var _ entrycache.Logger = Logger{}

type Logger struct{ L *zap.Logger }

func New(l *zap.Logger) Logger { return Logger{L: l} }

func (z Logger) Debug(msg string, f entrycache.Fields) { z.L.Debug(msg, fields(f)...) }
func (z Logger) Info(msg string, f entrycache.Fields)  { z.L.Info(msg, fields(f)...) }
func (z Logger) Warn(msg string, f entrycache.Fields)  { z.L.Warn(msg, fields(f)...) }
func (z Logger) Error(msg string, f entrycache.Fields) { z.L.Error(msg, fields(f)...) }

func (z Logger) With(f entrycache.Fields) entrycache.Logger {
	return Logger{L: z.L.With(fields(f)...)}
}

// fields sorts by key so entries render the same way every time.
func fields(f entrycache.Fields) []zap.Field {
	if len(f) == 0 {
		return nil
	}
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]zap.Field, 0, len(f))
	for _, k := range keys {
		if err, ok := f[k].(error); ok {
			out = append(out, zap.NamedError(k, err))
			continue
		}
		out = append(out, zap.Any(k, f[k]))
	}
	return out
}
