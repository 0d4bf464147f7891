package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/keystone-reo/distress-scanner/internal/cache"
	"github.com/keystone-reo/distress-scanner/internal/config"
	"github.com/keystone-reo/distress-scanner/internal/fema"
	"github.com/keystone-reo/distress-scanner/internal/landsat"
	"github.com/keystone-reo/distress-scanner/internal/naip"
	"github.com/keystone-reo/distress-scanner/internal/pipeline"
	"github.com/keystone-reo/distress-scanner/internal/pkg/logger"
	"github.com/keystone-reo/distress-scanner/internal/planet"
	"github.com/keystone-reo/distress-scanner/internal/schedule"
	"github.com/keystone-reo/distress-scanner/internal/sentinel"
	"github.com/keystone-reo/distress-scanner/internal/storage"
	"github.com/keystone-reo/distress-scanner/internal/store"
	"github.com/keystone-reo/distress-scanner/internal/usps"
)

const usageText = `usage: scanner <command> [flags]

commands:
  migrate     add enrichment columns, audit table, and indexes
  scan        pass 1: NAIP NDVI + FEMA flood zone for unscanned parcels
  slope       pass 1.5: multi-year NDVI slope + composite recompute
  trend       pass 1.75: Sentinel/Landsat monthly trend for flagged parcels
  scene       pass 2: Planet scene-pair change detection
  vacancy     pass 2.25: USPS vacancy checks for top leads
  conviction  pass 2.5: fuse composite + signals + vacancy into one score
  replay      land journaled vacancy results without re-spending quota

run "scanner <command> -h" for command flags
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usageText)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1], os.Args[2:])
	stop()
	os.Exit(code)
}

func run(ctx context.Context, command string, args []string) int {
	fs := flag.NewFlagSet(command, flag.ContinueOnError)
	configPath := fs.String("config", "config.yaml", "yaml config path")
	county := fs.String("county", "", "county name (required for passes)")
	state := fs.String("state", "AZ", "state code")
	limit := fs.Int("limit", 0, "max parcels this run, 0 = no limit")
	workers := fs.Int("workers", 0, "worker goroutines, 0 = config default")
	flushEvery := fs.Int("flush-every", 0, "db flush batch size, 0 = config default")
	dryRun := fs.Bool("dry-run", false, "evaluate without writing to the database")
	propertyClass := fs.String("property-class", "", "restrict to one property class")
	verbose := fs.Bool("verbose", false, "debug logging")

	force := new(bool)
	compositeOnly := new(bool)
	skipMotivation := new(bool)
	ndviWeight := new(float64)
	femaWeight := new(float64)
	rate := new(float64)
	minComposite := new(float64)
	delayMin := new(float64)
	delayMax := new(float64)
	accounts := new(string)
	months := new(int)
	maxRequests := new(int)
	cacheDays := new(int)

	switch command {
	case "slope":
		compositeOnly = fs.Bool("composite-only", false, "skip history collection, only recompute composites")
		ndviWeight = fs.Float64("ndvi-weight", 0, "composite slope-percentile weight, 0 = default 0.70")
		femaWeight = fs.Float64("fema-weight", 0, "composite flood weight, 0 = default 0.30")
	case "trend":
		rate = fs.Float64("rate", 0, "seconds between upstream requests, 0 = no pacing")
		months = fs.Int("months", 0, "months of trend history, 0 = config default")
		maxRequests = fs.Int("max-requests", 0, "upstream request budget this run, 0 = no budget")
	case "scene":
		force = fs.Bool("force", false, "re-check rows this pass already stamped")
	case "vacancy":
		force = fs.Bool("force", false, "re-check rows this pass already stamped")
		minComposite = fs.Float64("min-composite", 7.0, "minimum composite score to check")
		accounts = fs.String("accounts", "", "credential indexes to use, e.g. \"1,3\"")
		delayMin = fs.Float64("delay-min", 0, "min seconds between requests per account")
		delayMax = fs.Float64("delay-max", 0, "max seconds between requests per account")
		cacheDays = fs.Int("cache-days", 60, "skip rows checked within this many days")
	case "conviction":
		skipMotivation = fs.Bool("skip-motivation", false, "score only, skip the motivation_scores backfill")
	}
	if err := fs.Parse(args); err != nil {
		return 1
	}

	if *verbose {
		logger.SetLevel(logger.DEBUG)
	}

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Printf("config: %v", err)
		return 1
	}
	if *months > 0 {
		cfg.Sentinel.Months = *months
	}
	if *workers == 0 {
		*workers = cfg.Scan.Workers
	}
	if *flushEvery == 0 {
		*flushEvery = cfg.Scan.FlushEvery
	}

	deps, cleanup, err := buildDeps(ctx, cfg)
	if err != nil {
		log.Printf("setup: %v", err)
		return 1
	}
	defer cleanup()

	if command != "migrate" && command != "replay" && *county == "" {
		log.Printf("--county is required for %s", command)
		return 1
	}

	opts := pipeline.Options{
		Filter: store.SelectFilter{
			County:        *county,
			State:         *state,
			Limit:         *limit,
			PropertyClass: *propertyClass,
			Force:         *force,
		},
		Workers:    *workers,
		FlushEvery: *flushEvery,
		DryRun:     *dryRun,
	}

	switch command {
	case "migrate":
		if err := deps.Store.Migrate(ctx); err != nil {
			log.Printf("migrate: %v", err)
			return 1
		}
		log.Println("migration complete")
		return 0

	case "scan":
		summary, err := pipeline.Pass1(ctx, deps, opts)
		return finishPass("scan", summary, err)

	case "slope":
		summary, err := pipeline.PassSlope(ctx, deps, opts, pipeline.SlopeOptions{
			CompositeOnly: *compositeOnly,
			NDVIWeight:    *ndviWeight,
			FEMAWeight:    *femaWeight,
		})
		return finishPass("slope", summary, err)

	case "trend":
		summary, err := pipeline.PassTrend(ctx, deps, opts, pipeline.TrendOptions{
			RateSec:     *rate,
			MaxRequests: *maxRequests,
		})
		return finishPass("trend", summary, err)

	case "scene":
		summary, err := pipeline.PassScene(ctx, deps, opts)
		return finishPass("scene", summary, err)

	case "vacancy":
		summary, err := pipeline.PassVacancy(ctx, deps, opts, pipeline.VacancyOptions{
			MinComposite: *minComposite,
			CacheDays:    *cacheDays,
			Accounts:     *accounts,
			DelayMinSec:  *delayMin,
			DelayMaxSec:  *delayMax,
		})
		if errors.Is(err, schedule.ErrAborted) {
			log.Println(pipeline.PassSummary("vacancy", summary))
			log.Printf("vacancy: %v", err)
			return 2
		}
		return finishPass("vacancy", summary, err)

	case "conviction":
		scored, err := pipeline.PassConviction(ctx, deps, opts, pipeline.ConvictionOptions{
			SkipMotivation: *skipMotivation,
		})
		if err != nil {
			log.Printf("conviction: %v", err)
			return 1
		}
		log.Printf("conviction: %d parcels scored", scored)
		return 0

	case "replay":
		n, err := pipeline.ReplayVacancy(ctx, deps)
		if err != nil {
			log.Printf("replay: %v", err)
			return 1
		}
		log.Printf("replay: %d rows landed", n)
		return 0

	default:
		fmt.Fprint(os.Stderr, usageText)
		return 1
	}
}

func finishPass(name string, summary schedule.Summary, errs ...error) int {
	for _, err := range errs {
		if err != nil {
			log.Printf("%s: %v", name, err)
			return 1
		}
	}
	log.Println(pipeline.PassSummary(name, summary))
	if summary.Interrupted {
		return 2
	}
	return 0
}

func buildDeps(ctx context.Context, cfg *config.Config) (*pipeline.Deps, func(), error) {
	if cfg.Database.URL == "" {
		return nil, nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("pinging database: %w", err)
	}

	uploader, err := storage.New(cfg.Storage)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("setting up storage: %w", err)
	}

	c := cache.New(cfg.Redis)
	deps := &pipeline.Deps{
		Store:    store.New(db),
		Cache:    c,
		NAIP:     naip.NewClient(cfg.NAIP, c),
		FEMA:     fema.NewClient(cfg.FEMA, c),
		Sentinel: sentinel.NewClient(cfg.Sentinel),
		Landsat:  landsat.NewClient(cfg.Sentinel.LandsatURL, c),
		Planet:   planet.NewClient(cfg.Planet, uploader),
		Resolver: usps.NewResolver(cfg.Nominatim, c),
		Uploader: uploader,
		Config:   cfg,
	}
	cleanup := func() {
		db.Close()
		c.Close()
	}
	return deps, cleanup, nil
}
