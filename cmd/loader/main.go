// Command loader loads customer-base extracts into the reporting database.
//
// Modes:
//
//	-mode=load         run the pipeline of one profile over -input
//	-mode=schema       create the profile's tables and seed the lookups
//	-mode=consolidate  copy one period into cliente_consolidado of -target_dsn
//
// main stays tiny; run receives its side effects through Deps so tests can
// drive every mode with fakes.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"baseloader/internal/blob"
	"baseloader/internal/config"
	"baseloader/internal/consolidate"
	"baseloader/internal/metrics"
	"baseloader/internal/metrics/datadog"
	"baseloader/internal/metrics/prompush"
	"baseloader/internal/pipeline"
	"baseloader/internal/schema"
	"baseloader/internal/store"

	// register every store backend; -db_driver picks one at runtime.
	_ "baseloader/internal/store/all"
)

// Deps holds the constructors run depends on.
type Deps struct {
	OpenStore      func(ctx context.Context, driver, dsn string) (store.Store, error)
	NewBlob        func(ctx context.Context, cfg blob.Config) (pipeline.Blob, error)
	NewPushgateway func(job, url string) (metrics.Backend, error)
	NewDatadog     func(cfg datadog.Config) (metrics.Backend, error)
}

func defaultDeps() Deps {
	return Deps{
		OpenStore: store.Open,
		NewBlob: func(ctx context.Context, cfg blob.Config) (pipeline.Blob, error) {
			return blob.New(ctx, cfg)
		},
		NewPushgateway: func(job, url string) (metrics.Backend, error) {
			return prompush.NewBackend(job, url)
		},
		NewDatadog: func(cfg datadog.Config) (metrics.Backend, error) {
			return datadog.NewBackend(cfg)
		},
	}
}

// run validates the configuration, wires metrics and the store, and executes
// the selected mode.
func run(ctx context.Context, cfg *config.Config, deps Deps) error {
	prof, err := config.ResolveProfile(cfg)
	if err != nil {
		return err
	}

	issues := append(config.ValidateConfig(cfg), config.ValidateProfile(prof)...)
	for _, iss := range issues {
		fmt.Fprintf(os.Stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if config.HasErrors(issues) {
		return fmt.Errorf("configuration is invalid (profile %s)", prof.Name)
	}

	flush := setupMetrics(cfg, prof, deps)
	defer flush()

	dsn := cfg.DSN
	if cfg.DBDriver == "postgres" {
		dsn = cfg.PostgresDSN()
	}
	s, err := deps.OpenStore(ctx, cfg.DBDriver, dsn)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.DBDriver, err)
	}
	defer s.Close()

	from, to, _ := cfg.YearRange()
	sc := schema.Build(prof, schema.Years(from, to))

	switch cfg.Mode {
	case config.ModeSchema:
		if err := s.EnsureSchema(ctx, sc); err != nil {
			return err
		}
		log.Printf("schema: profile=%s tables=%d years=%d-%d", prof.Name, len(sc.Tables), from, to)
		return nil

	case config.ModeConsolidate:
		return runConsolidate(ctx, cfg, prof, s, deps)

	default:
		if cfg.InitSchema {
			if err := s.EnsureSchema(ctx, sc); err != nil {
				return err
			}
		}
		var opts []pipeline.Option
		if blob.IsURL(cfg.Input) || cfg.ArchiveBucket != "" {
			b, err := deps.NewBlob(ctx, blob.Config{
				Region:          cfg.S3Region,
				Endpoint:        cfg.S3Endpoint,
				PathStyle:       cfg.S3PathStyle,
				AccessKeyID:     cfg.S3AccessKey,
				SecretAccessKey: cfg.S3SecretKey,
			})
			if err != nil {
				return err
			}
			opts = append(opts, pipeline.WithBlob(b))
		}
		log.Printf("loader: profile=%s validation=%s customers=%s driver=%s input=%s",
			prof.Name, prof.Validation, prof.CustomerPolicy, cfg.DBDriver, cfg.Input)
		_, err := pipeline.New(s, prof, pipeline.OptionsFromConfig(cfg), opts...).Run(ctx)
		return err
	}
}

func runConsolidate(ctx context.Context, cfg *config.Config, prof config.Profile, src store.Store, deps Deps) error {
	dst, err := deps.OpenStore(ctx, cfg.TargetDriver, cfg.TargetDSN)
	if err != nil {
		return fmt.Errorf("open target %s store: %w", cfg.TargetDriver, err)
	}
	defer dst.Close()
	if cfg.InitSchema {
		if err := dst.EnsureSchema(ctx, schema.Consolidated()); err != nil {
			return err
		}
	}
	_, err = consolidate.Run(ctx, src, dst, consolidate.ExtractSpecFor(prof), consolidate.RequestFromConfig(cfg, prof))
	return err
}

// setupMetrics installs the configured backend and returns the flush to run
// at exit. Backend failures disable metrics instead of failing the run.
func setupMetrics(cfg *config.Config, prof config.Profile, deps Deps) func() {
	var (
		b   metrics.Backend
		err error
	)
	switch cfg.MetricsBackend {
	case "pushgateway":
		b, err = deps.NewPushgateway("baseloader_"+prof.Name, cfg.PushgatewayURL)
	case "datadog":
		b, err = deps.NewDatadog(datadog.Config{
			Addr:       cfg.DatadogAddr,
			Namespace:  "baseloader.",
			GlobalTags: []string{"profile:" + prof.Name},
		})
	default:
		return func() {}
	}
	if err != nil {
		log.Printf("metrics: backend=%s init failed: %v; metrics disabled", cfg.MetricsBackend, err)
		return func() {}
	}
	log.Printf("metrics: backend=%s", cfg.MetricsBackend)
	metrics.SetBackend(b)
	return func() {
		if err := metrics.Flush(); err != nil {
			log.Printf("metrics: flush: %v", err)
		}
	}
}

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		log.Printf("config: %v", err)
	}
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, cfg, defaultDeps())
	stop()
	if err != nil {
		log.Printf("loader: %v", err)
		os.Exit(1)
	}
}
