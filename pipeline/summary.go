package pipeline

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cardops/alphacard-scraper/models"
)

// BuildSummary assembles the run-level report from the scrape result, the
// pipeline counters, and the scraper's parse failure count. It is built
// once at the end of a run and never mutated afterward.
func BuildSummary(result *models.ScraperResult, pipelineMetrics map[string]interface{}, parseFailures int, elapsed time.Duration) *models.RunSummary {
	summary := &models.RunSummary{
		ParseFailures:  parseFailures,
		ElapsedSeconds: elapsed.Seconds(),
		ScrapedAt:      time.Now().UTC(),
		ErrorsByType:   map[string]int{},
		Brands:         map[string]int{},
		FailedURLs:     []string{},
	}

	if result != nil {
		summary.PagesFetched = result.PageCount
		summary.RequestCount = result.RequestCount
		summary.FetchErrors = result.ErrorCount
		summary.RetryCount = result.RetryCount
		if result.FailedURLs != nil {
			summary.FailedURLs = result.FailedURLs
		}
		for k, v := range result.ErrorsByType {
			summary.ErrorsByType[k] = v
		}
	}

	if pipelineMetrics != nil {
		if processed, ok := pipelineMetrics["processed_printers"].(int64); ok {
			summary.TotalPrinters = int(processed)
		}
		if duplicates, ok := pipelineMetrics["duplicates_removed"].(int64); ok {
			summary.DuplicatesRemoved = int(duplicates)
		}
		if validation, ok := pipelineMetrics["validation_errors"].(map[string]int); ok {
			summary.ParseFailures += validation["invalid_record"]
		}
		if brands, ok := pipelineMetrics["brands"].(map[string]int); ok {
			for k, v := range brands {
				summary.Brands[k] = v
			}
		}
		if withPrices, ok := pipelineMetrics["with_prices"].(int64); ok {
			summary.WithPrices = int(withPrices)
		}
		if withDescriptions, ok := pipelineMetrics["with_descriptions"].(int64); ok {
			summary.WithDescriptions = int(withDescriptions)
		}
	}

	return summary
}

// WriteSummary publishes the run summary JSON with the same atomic
// discipline as the record exports.
func WriteSummary(path string, summary *models.RunSummary) error {
	out, err := newAtomicFile(path)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		out.file.Close()
		return fmt.Errorf("encode summary: %w", err)
	}
	if _, err := out.file.Write(append(data, '\n')); err != nil {
		out.file.Close()
		return fmt.Errorf("write summary: %w", err)
	}
	return out.Commit()
}
