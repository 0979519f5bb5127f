package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cardops/alphacard-scraper/config"
	"github.com/cardops/alphacard-scraper/models"
	"github.com/cardops/alphacard-scraper/pipeline"
	"github.com/cardops/alphacard-scraper/scraper"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	defaultCfg := config.DefaultConfig()
	maxPrintersDefault := defaultCfg.MaxPrinters
	if value, ok, err := config.EnvInt("SCRAPER_MAX_PRINTERS"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid SCRAPER_MAX_PRINTERS: %v\n", err)
		os.Exit(1)
	} else if ok {
		maxPrintersDefault = value
	}
	delayDefault := int(defaultCfg.Delay / time.Millisecond)
	if value, ok, err := config.EnvInt("SCRAPER_DELAY_MS"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid SCRAPER_DELAY_MS: %v\n", err)
		os.Exit(1)
	} else if ok {
		delayDefault = value
	}
	outputDefault := defaultCfg.OutputDir
	if value, ok := config.EnvString("SCRAPER_OUTPUT_DIR"); ok {
		outputDefault = value
	}
	metricsDefault := defaultCfg.MetricsAddr
	if value, ok := config.EnvString("SCRAPER_METRICS_ADDR"); ok {
		metricsDefault = value
	}
	partialDefault := defaultCfg.PartialExport
	if value, ok, err := config.EnvBool("SCRAPER_PARTIAL_EXPORT"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid SCRAPER_PARTIAL_EXPORT: %v\n", err)
		os.Exit(1)
	} else if ok {
		partialDefault = value
	}

	maxPrinters := flag.Int("max-printers", maxPrintersDefault, "Maximum printers to scrape")
	delayMs := flag.Int("delay", delayDefault, "Delay between requests (milliseconds)")
	randomDelayMs := flag.Int("random-delay", 0, "Random jitter added to delay (milliseconds)")
	parallelism := flag.Int("parallel", defaultCfg.Parallelism, "Number of concurrent requests")
	maxRetries := flag.Int("max-retries", defaultCfg.MaxRetries, "Maximum retry attempts per URL")
	retryBackoffMs := flag.Int("retry-backoff", int(defaultCfg.RetryBackoff/time.Millisecond), "Initial retry backoff (milliseconds)")
	retryBackoffMaxMs := flag.Int("retry-backoff-max", int(defaultCfg.RetryBackoffMax/time.Millisecond), "Maximum retry backoff (milliseconds)")
	respectRobots := flag.Bool("respect-robots", false, "Respect robots.txt directives")
	outputDir := flag.String("output-dir", outputDefault, "Directory for export files")
	partialExport := flag.Bool("partial-export", partialDefault, "Export collected records even when some URLs failed permanently")
	verbose := flag.Bool("v", false, "Enable verbose logging")
	baseURL := flag.String("base-url", defaultCfg.BaseURL, "Catalog base URL")
	metricsAddr := flag.String("metrics-addr", metricsDefault, "Prometheus metrics listen address (e.g. :9090)")

	flag.Parse()

	logger, level := newLogger(*verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	cfg := config.DefaultConfig()
	cfg.BaseURL = *baseURL
	cfg.MaxPrinters = *maxPrinters
	cfg.Parallelism = *parallelism
	cfg.Delay = time.Duration(*delayMs) * time.Millisecond
	cfg.RandomDelay = time.Duration(*randomDelayMs) * time.Millisecond
	cfg.MaxRetries = *maxRetries
	cfg.RetryBackoff = time.Duration(*retryBackoffMs) * time.Millisecond
	cfg.RetryBackoffMax = time.Duration(*retryBackoffMaxMs) * time.Millisecond
	cfg.RespectRobotsTxt = *respectRobots
	cfg.OutputDir = *outputDir
	cfg.PartialExport = *partialExport
	cfg.Verbose = *verbose
	cfg.MetricsAddr = *metricsAddr

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	slog.Info("starting scrape",
		slog.String("base_url", cfg.BaseURL),
		slog.Int("max_printers", cfg.MaxPrinters),
		slog.Duration("delay", cfg.Delay),
		slog.String("output_dir", cfg.OutputDir),
	)

	s, err := scraper.NewScraper(cfg)
	if err != nil {
		slog.Error("initialising scraper", slog.Any("error", err))
		os.Exit(1)
	}

	writer, err := pipeline.NewExportSet(cfg.OutputDir)
	if err != nil {
		slog.Error("creating export set", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, waiting for in-flight work to finish")
	}()

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" && s.Metrics != nil {
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.HandlerFor(s.Metrics.Registry, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
	}

	p := pipeline.NewPipeline(ctx, writer, cfg)
	p.Start(cfg.Parallelism)
	if cfg.Verbose {
		p.StartMetricsReporting(10 * time.Second)
	}

	startTime := time.Now()
	result, runErr := s.Run(ctx, p)
	if runErr != nil && !errors.Is(runErr, scraper.ErrFetchIncomplete) {
		slog.Error("scraping failed", slog.Any("error", runErr))
		discardTempFiles(cfg.OutputDir)
		os.Exit(1)
	}
	if errors.Is(runErr, scraper.ErrFetchIncomplete) {
		slog.Error("run aborted, partial export disabled", slog.Any("error", runErr))
		if err := p.Close(); err != nil {
			slog.Error("pipeline shutdown failed", slog.Any("error", err))
		}
		discardTempFiles(cfg.OutputDir)
		os.Exit(1)
	}

	if err := p.Close(); err != nil {
		slog.Error("pipeline shutdown failed", slog.Any("error", err))
		discardTempFiles(cfg.OutputDir)
		os.Exit(1)
	}

	pipelineMetrics := p.GetMetrics()

	if err := writer.Close(); err != nil {
		slog.Error("publishing outputs failed", slog.Any("error", err))
		discardTempFiles(cfg.OutputDir)
		os.Exit(1)
	}
	if err := writer.Validate(); err != nil {
		slog.Error("output validation failed", slog.Any("error", err))
		os.Exit(1)
	}

	duration := time.Since(startTime)
	summary := pipeline.BuildSummary(result, pipelineMetrics, s.ParseFailures(), duration)
	summaryPath := filepath.Join(cfg.OutputDir, pipeline.FileSummary)
	if err := pipeline.WriteSummary(summaryPath, summary); err != nil {
		slog.Error("writing run summary failed", slog.Any("error", err))
		os.Exit(1)
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}

	printSummary(summary, cfg.OutputDir, duration)

	// The calling automation treats the catalog CSV as the run's success
	// signal.
	primary := filepath.Join(cfg.OutputDir, pipeline.FileCatalogCSV)
	if _, err := os.Stat(primary); err != nil {
		slog.Error("primary output missing", slog.String("path", primary), slog.Any("error", err))
		os.Exit(1)
	}
}

// discardTempFiles removes unpublished staging files so an aborted run
// leaves no partial outputs behind.
func discardTempFiles(outputDir string) {
	matches, err := filepath.Glob(filepath.Join(outputDir, "*.tmp"))
	if err != nil {
		return
	}
	for _, match := range matches {
		if err := os.Remove(match); err != nil && !os.IsNotExist(err) {
			slog.Warn("removing staging file", slog.String("path", match), slog.Any("error", err))
		}
	}
}

func printSummary(summary *models.RunSummary, outputDir string, duration time.Duration) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Scrape complete")
	fmt.Printf("  Printers:      %d\n", summary.TotalPrinters)
	fmt.Printf("  Pages fetched: %d\n", summary.PagesFetched)
	fmt.Printf("  Duplicates:    %d\n", summary.DuplicatesRemoved)
	fmt.Printf("  Parse failures:%d\n", summary.ParseFailures)
	fmt.Printf("  Fetch errors:  %d\n", summary.FetchErrors)
	fmt.Printf("  Retries:       %d\n", summary.RetryCount)
	if len(summary.ErrorsByType) > 0 {
		fmt.Printf("  Error types:   %v\n", summary.ErrorsByType)
	}
	if len(summary.Brands) > 0 {
		fmt.Printf("  Brands:        %v\n", summary.Brands)
	}
	fmt.Printf("  With prices:   %d\n", summary.WithPrices)
	fmt.Printf("  Duration:      %v\n", duration)
	fmt.Printf("  Output dir:    %s\n", outputDir)
	fmt.Println(separator)
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
