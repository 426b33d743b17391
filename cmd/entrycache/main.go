// Command entrycache drives caches described by a registry file.
//
//	entrycache validate --config entrycache.yaml
//	entrycache bench --config entrycache.yaml --ops 200000 --workers 8
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/unkn0wn-root/entrycache"
	"github.com/unkn0wn-root/entrycache/config"
	zaplog "github.com/unkn0wn-root/entrycache/log/zap"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "entrycache",
		Short:         "Inspect and exercise entrycache registry files",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().String("config", "", "registry file (env ENTRYCACHE_CONFIG)")
	root.PersistentFlags().String("log-level", "", "debug, info, warn or error (env ENTRYCACHE_LOG_LEVEL)")
	root.AddCommand(newValidateCmd(), newBenchCmd())
	return root
}

// setup resolves flags over the environment and loads the registry file.
func setup(cmd *cobra.Command) (*config.File, entrycache.Logger, func(), error) {
	e, err := config.LoadEnv()
	if err != nil {
		return nil, nil, nil, err
	}
	if v, _ := cmd.Flags().GetString("config"); v != "" {
		e.File = v
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		e.LogLevel = v
	}

	level, err := zapcore.ParseLevel(e.LogLevel)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("log level: %w", err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zl, err := zc.Build()
	if err != nil {
		return nil, nil, nil, err
	}
	flush := func() { _ = zl.Sync() }

	f, err := config.Load(e.File)
	if err != nil {
		flush()
		return nil, nil, nil, err
	}
	e.Override(f)
	return f, zaplog.New(zl), flush, nil
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Parse the registry file and list its caches",
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, _, flush, err := setup(cmd)
			if err != nil {
				return err
			}
			defer flush()
			out := cmd.OutOrStdout()
			for _, c := range f.Caches {
				ttl := "-"
				if c.Expiry.Policy != "" && c.Expiry.Policy != "eternal" {
					ttl = time.Duration(c.Expiry.TTL).String()
				}
				fmt.Fprintf(out, "%-20s policy=%-9s ttl=%-8s by_value=%t\n",
					c.Name, orDefault(c.Expiry.Policy, "eternal"), ttl, c.StoreByValue)
			}
			return nil
		},
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
