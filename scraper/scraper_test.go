package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/cardops/alphacard-scraper/config"
	"github.com/cardops/alphacard-scraper/models"
	"github.com/cardops/alphacard-scraper/pipeline"
	"github.com/gocolly/colly/v2"
	"github.com/jarcoal/httpmock"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.BaseURL = "http://example.test"
	cfg.CategoryPaths = []string{"/id-card-printers/all-printers-list"}
	cfg.MaxPrinters = 10
	cfg.Parallelism = 1
	cfg.Delay = 0
	cfg.MaxRetries = 0
	cfg.PipelineBufferSize = 64
	cfg.BatchSize = 1
	return cfg
}

func TestRetryManagerScheduleRespectsLimit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 2
	cfg.RetryBackoff = time.Hour
	cfg.RetryBackoffMax = time.Hour

	rm := newRetryManager(colly.NewCollector(), cfg, NewMetrics())

	if !rm.Schedule("http://example.test/page") {
		t.Fatalf("first retry should be scheduled")
	}
	if !rm.Schedule("http://example.test/page") {
		t.Fatalf("second retry should be scheduled")
	}
	if rm.Schedule("http://example.test/page") {
		t.Fatalf("third retry should not be scheduled")
	}

	rm.Stop()
	if got := rm.TotalRetries(); got != 2 {
		t.Fatalf("total retries = %d, want 2", got)
	}
}

func TestRetryManagerBackoffCapped(t *testing.T) {
	cfg := testConfig()
	cfg.RetryBackoff = 200 * time.Millisecond
	cfg.RetryBackoffMax = 500 * time.Millisecond

	rm := newRetryManager(colly.NewCollector(), cfg, NewMetrics())

	delay := rm.backoff(4)
	if delay > cfg.RetryBackoffMax {
		t.Fatalf("delay %v exceeds max %v", delay, cfg.RetryBackoffMax)
	}
	if first := rm.backoff(1); first != 200*time.Millisecond {
		t.Fatalf("first backoff = %v, want 200ms", first)
	}
	if second := rm.backoff(2); second != 400*time.Millisecond {
		t.Fatalf("second backoff = %v, want 400ms", second)
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		statusCode int
		expected   string
	}{
		{name: "nil", err: nil, statusCode: 0, expected: "unknown"},
		{name: "context timeout", err: context.DeadlineExceeded, statusCode: 0, expected: "timeout"},
		{name: "net timeout", err: &net.DNSError{IsTimeout: true}, statusCode: 0, expected: "timeout"},
		{name: "connection", err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, statusCode: 0, expected: "connection"},
		{name: "forbidden", err: nil, statusCode: http.StatusForbidden, expected: "forbidden"},
		{name: "not found", err: nil, statusCode: http.StatusNotFound, expected: "not_found"},
		{name: "rate limited", err: nil, statusCode: http.StatusTooManyRequests, expected: "rate_limited"},
		{name: "server error", err: nil, statusCode: http.StatusBadGateway, expected: "server"},
		{name: "other", err: errors.New("some other error"), statusCode: 0, expected: "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errorTypeLabel(classifyError(tt.err, tt.statusCode)); got != tt.expected {
				t.Fatalf("classifyError(%v, %d) = %q, want %q", tt.err, tt.statusCode, got, tt.expected)
			}
		})
	}
}

type collectingWriter struct {
	mu       sync.Mutex
	printers []*models.Printer
}

func (cw *collectingWriter) Write(printers []*models.Printer) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.printers = append(cw.printers, printers...)
	return nil
}

func (cw *collectingWriter) Close() error {
	return nil
}

func (cw *collectingWriter) Validate() error {
	return nil
}

func (cw *collectingWriter) All() []*models.Printer {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	out := make([]*models.Printer, len(cw.printers))
	copy(out, cw.printers)
	return out
}

func productPage(sku, name, price string) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><title>%s | AlphaCard</title></head>
<body>
<h1>%s</h1>
<div itemprop="sku">%s</div>
<span class="price">%s</span>
</body>
</html>`, name, name, sku, price)
}

func listingPage(next string, productPaths ...string) string {
	links := ""
	for _, p := range productPaths {
		links += fmt.Sprintf(`<a href="%s">product</a>`, p)
	}
	if next != "" {
		links += fmt.Sprintf(`<a class="action next" href="%s">Next</a>`, next)
	}
	return "<!DOCTYPE html><html><body>" + links + "</body></html>"
}

func htmlResponder(body string) httpmock.Responder {
	return func(req *http.Request) (*http.Response, error) {
		resp := httpmock.NewStringResponse(http.StatusOK, body)
		resp.Header.Set("Content-Type", "text/html")
		return resp, nil
	}
}

func TestScraperHTTPStatusClassification(t *testing.T) {
	tests := []struct {
		status   int
		expected string
	}{
		{status: http.StatusTooManyRequests, expected: "rate_limited"},
		{status: http.StatusForbidden, expected: "forbidden"},
		{status: http.StatusNotFound, expected: "not_found"},
		{status: http.StatusInternalServerError, expected: "server"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			cfg := testConfig()

			transport := httpmock.NewMockTransport()
			transport.RegisterResponder("GET", cfg.BaseURL+cfg.CategoryPaths[0],
				httpmock.NewStringResponder(tt.status, ""))

			s, err := NewScraper(cfg)
			if err != nil {
				t.Fatalf("new scraper: %v", err)
			}
			s.collector.WithTransport(transport)

			writer := &collectingWriter{}
			p := pipeline.NewPipeline(context.Background(), writer, cfg)
			p.Start(1)

			result, err := s.Run(context.Background(), p)
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			if err := p.Close(); err != nil {
				t.Fatalf("close pipeline: %v", err)
			}

			if got := result.ErrorsByType[tt.expected]; got == 0 {
				t.Fatalf("expected %q classification for status %d, got %v", tt.expected, tt.status, result.ErrorsByType)
			}
		})
	}
}

func TestScraperIntegrationDeduplicatesAcrossPages(t *testing.T) {
	cfg := testConfig()

	category := cfg.BaseURL + cfg.CategoryPaths[0]
	page2 := cfg.CategoryPaths[0] + "?p=2"

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", category, htmlResponder(listingPage(
		page2,
		"/id-card-printers/zebra-line/printer-a",
		"/id-card-printers/zebra-line/printer-b",
	)))
	transport.RegisterResponder("GET", cfg.BaseURL+page2, htmlResponder(listingPage(
		"",
		"/id-card-printers/fargo-line/printer-b-duplicate",
		"/id-card-printers/fargo-line/printer-c",
	)))
	transport.RegisterResponder("GET", cfg.BaseURL+"/id-card-printers/zebra-line/printer-a",
		htmlResponder(productPage("SKU-A", "Zebra Printer A", "$100.00")))
	transport.RegisterResponder("GET", cfg.BaseURL+"/id-card-printers/zebra-line/printer-b",
		htmlResponder(productPage("SKU-B", "Zebra Printer B", "$200.00")))
	transport.RegisterResponder("GET", cfg.BaseURL+"/id-card-printers/fargo-line/printer-b-duplicate",
		htmlResponder(productPage("SKU-B", "Zebra Printer B Mk2", "$250.00")))
	transport.RegisterResponder("GET", cfg.BaseURL+"/id-card-printers/fargo-line/printer-c",
		htmlResponder(productPage("SKU-C", "Fargo Printer C", "$300.00")))

	s, err := NewScraper(cfg)
	if err != nil {
		t.Fatalf("new scraper: %v", err)
	}
	s.collector.WithTransport(transport)

	writer := &collectingWriter{}
	p := pipeline.NewPipeline(context.Background(), writer, cfg)
	p.Start(1)

	result, err := s.Run(context.Background(), p)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close pipeline: %v", err)
	}

	printers := writer.All()
	if len(printers) != 3 {
		t.Fatalf("printers=%d, want 3 (requests=%d errors=%d failed=%v)",
			len(printers), result.RequestCount, result.ErrorCount, result.FailedURLs)
	}

	bySKU := make(map[string]*models.Printer, len(printers))
	for _, printer := range printers {
		bySKU[printer.SKU] = printer
	}
	for _, sku := range []string{"SKU-A", "SKU-B", "SKU-C"} {
		if bySKU[sku] == nil {
			t.Fatalf("missing %s in output", sku)
		}
	}

	// First-seen wins: the duplicate with the higher price arrived second.
	if bySKU["SKU-B"].Price != "200.00" {
		t.Fatalf("duplicate resolution kept %q, want first-seen 200.00", bySKU["SKU-B"].Price)
	}

	metrics := p.GetMetrics()
	if duplicates := metrics["duplicates_removed"].(int64); duplicates != 1 {
		t.Fatalf("duplicates_removed=%d, want 1", duplicates)
	}
	if result.PageCount != 2 {
		t.Fatalf("pages=%d, want 2", result.PageCount)
	}
	if s.ParseFailures() != 0 {
		t.Fatalf("parse failures=%d, want 0", s.ParseFailures())
	}
}

func TestScraperMaxPrintersCap(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPrinters = 1

	category := cfg.BaseURL + cfg.CategoryPaths[0]

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", category, htmlResponder(listingPage(
		"",
		"/id-card-printers/zebra-line/printer-a",
		"/id-card-printers/zebra-line/printer-b",
	)))
	transport.RegisterResponder("GET", cfg.BaseURL+"/id-card-printers/zebra-line/printer-a",
		htmlResponder(productPage("SKU-A", "Zebra Printer A", "$100.00")))
	transport.RegisterResponder("GET", cfg.BaseURL+"/id-card-printers/zebra-line/printer-b",
		htmlResponder(productPage("SKU-B", "Zebra Printer B", "$200.00")))

	s, err := NewScraper(cfg)
	if err != nil {
		t.Fatalf("new scraper: %v", err)
	}
	s.collector.WithTransport(transport)

	writer := &collectingWriter{}
	p := pipeline.NewPipeline(context.Background(), writer, cfg)
	p.Start(1)

	if _, err := s.Run(context.Background(), p); err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close pipeline: %v", err)
	}

	if got := len(writer.All()); got != 1 {
		t.Fatalf("printers=%d, want the cap of 1", got)
	}
}

func TestScraperParseFailureCounted(t *testing.T) {
	cfg := testConfig()

	category := cfg.BaseURL + cfg.CategoryPaths[0]

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", category, htmlResponder(listingPage(
		"",
		"/id-card-printers/zebra-line/printer-a",
		"/id-card-printers/zebra-line/broken",
	)))
	transport.RegisterResponder("GET", cfg.BaseURL+"/id-card-printers/zebra-line/printer-a",
		htmlResponder(productPage("SKU-A", "Zebra Printer A", "$100.00")))
	// Product page without a SKU cannot become a record.
	transport.RegisterResponder("GET", cfg.BaseURL+"/id-card-printers/zebra-line/broken",
		htmlResponder("<!DOCTYPE html><html><body><h1>Mystery Printer</h1></body></html>"))

	s, err := NewScraper(cfg)
	if err != nil {
		t.Fatalf("new scraper: %v", err)
	}
	s.collector.WithTransport(transport)

	writer := &collectingWriter{}
	p := pipeline.NewPipeline(context.Background(), writer, cfg)
	p.Start(1)

	if _, err := s.Run(context.Background(), p); err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close pipeline: %v", err)
	}

	if got := len(writer.All()); got != 1 {
		t.Fatalf("printers=%d, want 1", got)
	}
	if s.ParseFailures() != 1 {
		t.Fatalf("parse failures=%d, want 1", s.ParseFailures())
	}
}

func TestScraperAbortsWithoutPartialExport(t *testing.T) {
	cfg := testConfig()
	cfg.PartialExport = false

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", cfg.BaseURL+cfg.CategoryPaths[0],
		httpmock.NewStringResponder(http.StatusInternalServerError, ""))

	s, err := NewScraper(cfg)
	if err != nil {
		t.Fatalf("new scraper: %v", err)
	}
	s.collector.WithTransport(transport)

	writer := &collectingWriter{}
	p := pipeline.NewPipeline(context.Background(), writer, cfg)
	p.Start(1)

	_, runErr := s.Run(context.Background(), p)
	if !errors.Is(runErr, ErrFetchIncomplete) {
		t.Fatalf("run error = %v, want ErrFetchIncomplete", runErr)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close pipeline: %v", err)
	}
}
