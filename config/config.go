package config

import (
	"fmt"
	"net/url"
	"time"
)

// Config holds scraper configuration.
type Config struct {
	BaseURL          string
	CategoryPaths    []string
	MaxPrinters      int
	Parallelism      int
	Delay            time.Duration
	RandomDelay      time.Duration
	Timeout          time.Duration
	MaxRetries       int
	RetryBackoff     time.Duration
	RetryBackoffMax  time.Duration
	OutputDir        string
	UserAgent        string
	Verbose          bool
	RespectRobotsTxt bool
	MetricsAddr      string

	// PartialExport controls what happens when a URL exhausts its
	// retries: true exports whatever was collected, false fails the run.
	PartialExport bool

	PipelineBufferSize int
	BatchSize          int
	DedupeMaxSize      int
}

// DefaultConfig returns conservative defaults for the vendor catalog.
func DefaultConfig() *Config {
	return &Config{
		BaseURL: "https://www.alphacard.com",
		CategoryPaths: []string{
			"/id-card-printers/view-all-id-printers",
			"/id-card-printers",
			"/id-card-printers/id-card-printers-by-manufacturer/alphacard-printers",
			"/id-card-printers/id-card-printers-by-manufacturer/magicard-printers",
			"/id-card-printers/id-card-printers-by-manufacturer/fargo-printers",
			"/id-card-printers/id-card-printers-by-manufacturer/zebra-printers",
			"/id-card-printers/id-card-printers-by-manufacturer/evolis-printers",
		},
		MaxPrinters:        200,
		Parallelism:        1,
		Delay:              2 * time.Second,
		RandomDelay:        0,
		Timeout:            30 * time.Second,
		MaxRetries:         3,
		RetryBackoff:       5 * time.Second,
		RetryBackoffMax:    15 * time.Second,
		OutputDir:          "output",
		UserAgent:          "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		Verbose:            false,
		RespectRobotsTxt:   false,
		MetricsAddr:        "",
		PartialExport:      true,
		PipelineBufferSize: 512,
		BatchSize:          64,
		DedupeMaxSize:      65536,
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}

	parsedURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("base URL must include a host")
	}

	if len(c.CategoryPaths) == 0 {
		return fmt.Errorf("at least one category path is required")
	}
	if c.MaxPrinters <= 0 {
		return fmt.Errorf("max printers must be positive")
	}
	if c.Parallelism <= 0 {
		return fmt.Errorf("parallelism must be positive")
	}
	if c.Delay < 0 {
		return fmt.Errorf("delay cannot be negative")
	}
	if c.RandomDelay < 0 {
		return fmt.Errorf("random delay cannot be negative")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	if c.OutputDir == "" {
		return fmt.Errorf("output directory cannot be empty")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.PipelineBufferSize <= 0 {
		return fmt.Errorf("pipeline buffer size must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.DedupeMaxSize <= 1 {
		return fmt.Errorf("dedupe max size must be greater than one")
	}

	return nil
}
