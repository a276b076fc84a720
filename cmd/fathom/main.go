// fathom converts, corrects and exports multibeam survey data.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/dustin/go-humanize"

	"github.com/xtxerr/fathom/internal/adapter"
	"github.com/xtxerr/fathom/internal/crs"
	"github.com/xtxerr/fathom/internal/errors"
	"github.com/xtxerr/fathom/internal/executor"
	"github.com/xtxerr/fathom/internal/export"
	"github.com/xtxerr/fathom/internal/loader"
	"github.com/xtxerr/fathom/internal/logging"
	"github.com/xtxerr/fathom/internal/pipeline"
	"github.com/xtxerr/fathom/internal/record"
	"github.com/xtxerr/fathom/internal/store"
)

// Version is set at build time via ldflags
var Version = "dev"

// castsFile holds the survey-wide sound velocity casts under the store root.
const castsFile = "casts.yaml"

func usage() {
	fmt.Fprintf(os.Stderr, `fathom %s - multibeam survey processing

Usage:
  fathom convert -input <file> [flags]   ingest raw records into the store
  fathom process [flags]                 run the correction pipeline
  fathom export [flags]                  export corrected soundings

Common flags:
  -config <path>   config file (default config.yaml)
  -root <dir>      store root (overrides config)
  -v               debug logging
`, Version)
}

func main() {
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch cmd := flag.Arg(0); cmd {
	case "convert":
		err = runConvert(ctx, flag.Args()[1:])
	case "process":
		err = runProcess(ctx, flag.Args()[1:])
	case "export":
		err = runExport(ctx, flag.Args()[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "fathom %s: %v\n", flag.Arg(0), err)
		os.Exit(1)
	}
}

// commonFlags registers the flags every subcommand shares.
func commonFlags(fs *flag.FlagSet) (cfgPath, root *string, verbose *bool) {
	cfgPath = fs.String("config", "config.yaml", "config file path")
	root = fs.String("root", "", "store root directory (overrides config)")
	verbose = fs.Bool("v", false, "debug logging")
	return
}

func setup(cfgPath, root string, verbose bool) (*loader.Config, error) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logging.Init(level, false)

	cfg, err := loader.LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}
	if root != "" {
		cfg.Store.Root = root
	}
	if err := loader.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// =========================================================================
// convert
// =========================================================================

func runConvert(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("convert", flag.ExitOnError)
	cfgPath, root, verbose := commonFlags(fs)
	input := fs.String("input", "", "raw record file to ingest (- for stdin)")
	fs.Parse(args)

	cfg, err := setup(*cfgPath, *root, *verbose)
	if err != nil {
		return err
	}
	if *input == "" {
		return errors.NewMissingField("input")
	}

	in := os.Stdin
	if *input != "-" {
		f, err := os.Open(*input)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	if err := os.MkdirAll(cfg.Store.Root, 0755); err != nil {
		return fmt.Errorf("create store root: %w", err)
	}

	casts, err := record.LoadCasts(filepath.Join(cfg.Store.Root, castsFile))
	if err != nil {
		return err
	}

	opener := func(ds record.SystemDataset) (*store.Store, error) {
		schema := store.SurveySchema(ds, cfg.Store.ChunkSize)
		return store.OpenOrCreate(filepath.Join(cfg.Store.Root, ds.Serial),
			schema, cfg.StoreOptions())
	}

	a := adapter.New(adapter.Config{
		ReorderWindow: cfg.Convert.ReorderWindow,
		FlushBatch:    cfg.Convert.FlushBatch,
		MaxBeams:      cfg.Store.MaxBeams,
	}, opener, casts)

	res, err := a.Run(ctx, adapter.NewCSVSource(in))
	if err != nil {
		return err
	}

	if err := record.SaveCasts(filepath.Join(cfg.Store.Root, castsFile), casts); err != nil {
		return err
	}

	late := int64(0)
	for _, n := range res.LateRecords {
		late += n
	}
	fmt.Printf("converted %s pings, %s attitude, %s navigation, %d casts (%d systems, %d late records dropped)\n",
		humanize.Comma(res.Pings), humanize.Comma(res.Attitude),
		humanize.Comma(res.Navigation), res.Profiles, len(res.Serials), late)
	return nil
}

// =========================================================================
// process
// =========================================================================

func runProcess(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("process", flag.ExitOnError)
	cfgPath, root, verbose := commonFlags(fs)
	epsg := fs.Int("epsg", 0, "target EPSG code (overrides config; 0 = auto)")
	workers := fs.Int("workers", 0, "worker count (overrides config)")
	fs.Parse(args)

	cfg, err := setup(*cfgPath, *root, *verbose)
	if err != nil {
		return err
	}
	if *epsg != 0 {
		cfg.Pipeline.EPSG = *epsg
	}
	if *workers > 0 {
		cfg.Executor.Workers = *workers
	}

	casts, err := record.LoadCasts(filepath.Join(cfg.Store.Root, castsFile))
	if err != nil {
		return err
	}

	stores, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer closeStores(stores)

	for _, st := range stores {
		man, err := processStore(ctx, cfg, st, casts)
		if err != nil {
			return err
		}
		fmt.Printf("system %s run %s: %d chunks, angle %d/%d, svcorrect %d/%d, georef %d/%d\n",
			man.Serial, man.RunID, man.Chunks,
			man.Succeeded[store.StageAngle], man.Failed[store.StageAngle],
			man.Succeeded[store.StageSV], man.Failed[store.StageSV],
			man.Succeeded[store.StageGeoref], man.Failed[store.StageGeoref])
		for _, f := range man.Failures {
			fmt.Printf("  chunk %d failed %s: %s\n", f.Seq, f.Stage, f.Reason)
		}
	}
	return nil
}

func processStore(ctx context.Context, cfg *loader.Config, st *store.Store, casts *record.CastStore) (*executor.RunManifest, error) {
	transformer, err := buildTransformer(cfg, st)
	if err != nil {
		return nil, err
	}

	pipe, err := pipeline.New(st, casts, transformer, pipeline.Config{
		MaxAttitudeGap:    cfg.Pipeline.MaxAttitudeGap,
		VerticalReference: cfg.Pipeline.VerticalReference,
	})
	if err != nil {
		return nil, err
	}

	ex, err := executor.New(pipe, st, executor.Config{
		Workers:      cfg.Executor.Workers,
		QueueSize:    cfg.Executor.QueueSize,
		StageTimeout: cfg.Executor.StageTimeout,
	})
	if err != nil {
		return nil, err
	}
	return ex.Run(ctx)
}

// buildTransformer resolves the target CRS, picking a UTM zone from the first
// navigation fix when no EPSG code is pinned.
func buildTransformer(cfg *loader.Config, st *store.Store) (crs.Transformer, error) {
	epsg := cfg.Pipeline.EPSG
	if epsg == 0 {
		startUs, _, chunks := st.AxisExtent(store.AxisNavigation)
		if chunks == 0 {
			return nil, errors.Wrap(errors.ErrProjection,
				"no navigation data to select a UTM zone from")
		}
		nav, err := st.ReadNavigation(store.TimeRange{StartUs: startUs, EndUs: startUs + 1})
		if err != nil {
			return nil, err
		}
		epsg, err = crs.AutoEPSG(cfg.Pipeline.Datum, nav[0].Longitude, nav[0].Latitude)
		if err != nil {
			return nil, err
		}
	}
	return crs.StandardBuilder{}.Build(epsg, cfg.Pipeline.VerticalReference)
}

// =========================================================================
// export
// =========================================================================

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	cfgPath, root, verbose := commonFlags(fs)
	dest := fs.String("dest", "", "export directory (overrides config)")
	partition := fs.String("partition", "", "partition key: sector, frequency or system")
	fs.Parse(args)

	cfg, err := setup(*cfgPath, *root, *verbose)
	if err != nil {
		return err
	}
	if *dest != "" {
		cfg.Export.Dest = *dest
	}
	if *partition != "" {
		cfg.Export.Partition = *partition
		if err := loader.Validate(cfg); err != nil {
			return err
		}
	}

	stores, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer closeStores(stores)

	for _, st := range stores {
		svc, err := export.New(st)
		if err != nil {
			return err
		}
		res, err := svc.Export(ctx, cfg.Export.Partition,
			filepath.Join(cfg.Export.Dest, st.Dataset().Serial))
		svc.Close()
		if err != nil {
			return err
		}

		total := int64(0)
		for _, n := range res.Soundings {
			total += n
		}
		fmt.Printf("system %s: %s soundings across %d partitions\n",
			st.Dataset().Serial, humanize.Comma(total), len(res.Files))
		for _, key := range sortedKeys(res.Depths) {
			d := res.Depths[key]
			fmt.Printf("  %s=%s: %s soundings, depth %.2f..%.2f m (p50 %.2f, p95 %.2f)\n",
				cfg.Export.Partition, key, humanize.Comma(d.Count),
				d.Min, d.Max, d.P50, d.P95)
		}
	}
	return nil
}

func sortedKeys(m map[string]export.DepthSummary) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// =========================================================================
// store discovery
// =========================================================================

// openStores opens every per-system store under the configured root.
func openStores(cfg *loader.Config) ([]*store.Store, error) {
	entries, err := os.ReadDir(cfg.Store.Root)
	if err != nil {
		return nil, fmt.Errorf("read store root: %w", err)
	}

	var stores []*store.Store
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		st, err := store.Open(filepath.Join(cfg.Store.Root, e.Name()), cfg.StoreOptions())
		if err != nil {
			closeStores(stores)
			return nil, fmt.Errorf("open store %s: %w", e.Name(), err)
		}
		stores = append(stores, st)
	}
	if len(stores) == 0 {
		return nil, fmt.Errorf("no stores under %s, run convert first", cfg.Store.Root)
	}
	return stores, nil
}

func closeStores(stores []*store.Store) {
	for _, st := range stores {
		st.Close()
	}
}
