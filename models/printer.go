// Package models defines data structures for the scraper.
package models

import "time"

// Printer represents one card-printer product from the vendor catalog.
type Printer struct {
	SKU             string   `csv:"sku" json:"sku"`
	Name            string   `csv:"name" json:"name"`
	Brand           string   `csv:"brand" json:"brand"`
	Price           string   `csv:"price" json:"price"`
	PriceNumeric    float64  `csv:"price_numeric" json:"price_numeric"`
	Description     string   `csv:"description" json:"description"`
	Category        string   `csv:"category" json:"category"`
	ImageURLs       []string `csv:"image_urls" json:"image_urls"`
	URL             string   `csv:"url" json:"url"`
	PrintSpeedColor string   `csv:"print_speed_color" json:"print_speed_color"`
	PrintSpeedMono  string   `csv:"print_speed_mono" json:"print_speed_mono"`
	PrintResolution string   `csv:"print_resolution" json:"print_resolution"`
	CardCapacity    string   `csv:"card_capacity" json:"card_capacity"`
	Connectivity    string   `csv:"connectivity" json:"connectivity"`
	Dimensions      string   `csv:"dimensions" json:"dimensions"`
	Weight          string   `csv:"weight" json:"weight"`
	Warranty        string   `csv:"warranty" json:"warranty"`
	Features        string   `csv:"features" json:"features"`
	EncodingOptions string   `csv:"encoding_options" json:"encoding_options"`
	CardSizes       string   `csv:"card_sizes" json:"card_sizes"`

	ScrapedAt time.Time `csv:"scraped_at" json:"scraped_at"`
}

// ScraperResult holds the overall result of a scraping operation
type ScraperResult struct {
	StartTime    time.Time
	EndTime      time.Time
	TotalCount   int
	ErrorCount   int
	FailedURLs   []string
	ErrorsByType map[string]int
	RetryCount   int
	RequestCount int
	PageCount    int
}

// RunSummary is the run-level report written once at the end of a run.
type RunSummary struct {
	TotalPrinters     int            `json:"total_printers"`
	PagesFetched      int            `json:"pages_fetched"`
	RequestCount      int            `json:"request_count"`
	DuplicatesRemoved int            `json:"duplicates_removed"`
	ParseFailures     int            `json:"parse_failures"`
	FetchErrors       int            `json:"fetch_errors"`
	RetryCount        int            `json:"retry_count"`
	FailedURLs        []string       `json:"failed_urls"`
	ErrorsByType      map[string]int `json:"errors_by_type"`
	Brands            map[string]int `json:"brands"`
	WithPrices        int            `json:"with_prices"`
	WithDescriptions  int            `json:"with_descriptions"`
	ElapsedSeconds    float64        `json:"elapsed_seconds"`
	ScrapedAt         time.Time      `json:"scraped_at"`
}
