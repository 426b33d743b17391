package main

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"os/signal"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/entrycache"
	"github.com/unkn0wn-root/entrycache/config"
)

type payload struct {
	ID    int    `json:"id" cbor:"id" msgpack:"id"`
	Label string `json:"label" cbor:"label" msgpack:"label"`
}

type benchOpts struct {
	ops     int
	workers int
	keys    int
}

func newBenchCmd() *cobra.Command {
	var o benchOpts
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Run a mixed workload against every cache in the registry file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, log, flush, err := setup(cmd)
			if err != nil {
				return err
			}
			defer flush()
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runBench(ctx, cmd.OutOrStdout(), f, log, o)
		},
	}
	cmd.Flags().IntVar(&o.ops, "ops", 100_000, "operations per cache")
	cmd.Flags().IntVar(&o.workers, "workers", 8, "concurrent workers per cache")
	cmd.Flags().IntVar(&o.keys, "keys", 1_000, "distinct keys")
	return cmd
}

func runBench(ctx context.Context, w io.Writer, f *config.File, log entrycache.Logger, o benchOpts) error {
	reg := entrycache.NewRegistry(entrycache.RegistryOptions{Logger: log})
	defer reg.Close(context.Background())

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "cache\tops\telapsed\thit%\tputs\tremovals\texpired\tavg get\tavg put")
	for _, spec := range f.Caches {
		opts := entrycache.Options[string, payload]{StatisticsEnabled: true}
		if err := config.Apply(spec, &opts); err != nil {
			return err
		}
		// the bench has no system of record
		opts.ReadThrough, opts.WriteThrough = false, false
		c, err := entrycache.Configure(reg, opts)
		if err != nil {
			return fmt.Errorf("cache %q: %w", spec.Name, err)
		}

		start := time.Now()
		if err := drive(ctx, c, o); err != nil {
			return fmt.Errorf("cache %q: %w", spec.Name, err)
		}
		elapsed := time.Since(start)

		st := c.Stats()
		fmt.Fprintf(tw, "%s\t%d\t%s\t%.1f\t%d\t%d\t%d\t%s\t%s\n",
			spec.Name, o.ops, elapsed.Round(time.Millisecond), st.HitPercentage(),
			st.Puts, st.Removals, st.Expirations, st.AverageGetTime, st.AveragePutTime)
	}
	return tw.Flush()
}

// drive spreads o.ops operations over o.workers goroutines: 70% get,
// 20% put, 5% remove, 5% increment through an entry processor.
func drive(ctx context.Context, c entrycache.Cache[string, payload], o benchOpts) error {
	workers := max(o.workers, 1)
	keys := max(o.keys, 1)
	per := o.ops / workers

	bump := func(e entrycache.MutableEntry[string, payload], _ ...any) (any, error) {
		v, _ := e.Value()
		v.ID++
		return nil, e.SetValue(v)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(seed uint64) {
			defer wg.Done()
			r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
			for n := 0; n < per; n++ {
				if ctx.Err() != nil {
					return
				}
				k := fmt.Sprintf("k%d", r.IntN(keys))
				var err error
				switch p := r.IntN(100); {
				case p < 70:
					_, _, err = c.Get(ctx, k)
				case p < 90:
					err = c.Put(ctx, k, payload{ID: n, Label: k})
				case p < 95:
					_, err = c.Remove(ctx, k)
				default:
					_, err = c.Invoke(ctx, k, bump)
				}
				if err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
					return
				}
			}
		}(uint64(i + 1))
	}
	wg.Wait()
	return firstErr
}
