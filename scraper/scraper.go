// Package scraper drives the catalog crawl: category discovery, product
// detail fetching, retries, and error accounting.
package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/cardops/alphacard-scraper/config"
	"github.com/cardops/alphacard-scraper/models"
	"github.com/cardops/alphacard-scraper/parser"
	"github.com/cardops/alphacard-scraper/pipeline"
	"github.com/gocolly/colly/v2"
)

// ErrFetchIncomplete is returned when URLs exhausted their retries and the
// configuration forbids exporting a partial catalog.
var ErrFetchIncomplete = errors.New("scraper: fetch incomplete")

// Scraper wraps the colly collector and retry logic for the vendor catalog.
type Scraper struct {
	cfg       *config.Config
	collector *colly.Collector
	retry     *retryManager
	Metrics   *Metrics

	requestCount  int64
	pageCount     int64
	errorCount    int64
	parseFailures int64
	discovered    int64

	mu           sync.Mutex
	failedURLs   []string
	errorsByType map[string]int
	seenProducts map[string]struct{}

	handlersOnce sync.Once
}

// NewScraper builds a scraper instance configured from cfg.
func NewScraper(cfg *config.Config) (*Scraper, error) {
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("base url must include a host")
	}

	collector := colly.NewCollector(
		colly.Async(true),
		colly.AllowedDomains(parsed.Host),
		colly.UserAgent(cfg.UserAgent),
	)

	collector.SetRequestTimeout(cfg.Timeout)
	collector.IgnoreRobotsTxt = !cfg.RespectRobotsTxt
	// Retried URLs are re-issued through Visit; product links are deduped
	// by the scraper's own seen set instead of colly's visit registry.
	collector.AllowURLRevisit = true
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: cfg.Parallelism,
		Delay:       cfg.Delay,
		RandomDelay: cfg.RandomDelay,
	}); err != nil {
		return nil, fmt.Errorf("configure rate limits: %w", err)
	}

	s := &Scraper{
		cfg:          cfg,
		collector:    collector,
		errorsByType: make(map[string]int),
		seenProducts: make(map[string]struct{}),
		Metrics:      NewMetrics(),
	}
	s.retry = newRetryManager(collector, cfg, s.Metrics)
	return s, nil
}

// Run visits every configured category page, follows pagination and product
// links up to the item cap, and streams parsed records through the pipeline.
func (s *Scraper) Run(ctx context.Context, p *pipeline.Pipeline) (*models.ScraperResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.retry.SetContext(ctx)
	s.configureHandlers(ctx, p)

	start := time.Now()
	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			s.collector.Wait()
			s.retry.Stop()
		case <-done:
		}
	}()

	visited := 0
	for _, path := range s.cfg.CategoryPaths {
		category := s.cfg.BaseURL + path
		if err := s.collector.Visit(category); err != nil {
			slog.Warn("category visit rejected", slog.String("url", category), slog.Any("error", err))
			continue
		}
		visited++
	}
	if visited == 0 {
		return nil, fmt.Errorf("no category page could be visited")
	}

	s.collector.Wait()
	s.retry.Stop()

	result := &models.ScraperResult{
		StartTime:    start,
		EndTime:      time.Now(),
		ErrorCount:   int(atomic.LoadInt64(&s.errorCount)),
		FailedURLs:   s.snapshotFailedURLs(),
		ErrorsByType: s.snapshotErrors(),
		RetryCount:   s.retry.TotalRetries(),
		RequestCount: int(atomic.LoadInt64(&s.requestCount)),
		PageCount:    int(atomic.LoadInt64(&s.pageCount)),
	}

	if metrics := p.GetMetrics(); metrics != nil {
		if processed, ok := metrics["processed_printers"].(int64); ok {
			result.TotalCount = int(processed)
		}
	}

	if len(result.FailedURLs) > 0 && !s.cfg.PartialExport {
		return result, fmt.Errorf("%w: %d url(s) failed after %d retries", ErrFetchIncomplete, len(result.FailedURLs), s.cfg.MaxRetries)
	}

	return result, nil
}

// ParseFailures returns the number of product pages that did not yield a
// usable record.
func (s *Scraper) ParseFailures() int {
	return int(atomic.LoadInt64(&s.parseFailures))
}

func (s *Scraper) configureHandlers(ctx context.Context, p *pipeline.Pipeline) {
	s.handlersOnce.Do(func() {
		s.collector.OnRequest(func(r *colly.Request) {
			r.Ctx.Put("start", time.Now())
			current := atomic.AddInt64(&s.requestCount, 1)
			if s.Metrics != nil {
				s.Metrics.IncRequest("started")
			}
			if current%25 == 0 {
				slog.Debug("scraper request progress",
					slog.Int64("requests", current),
					slog.Int64("pages", atomic.LoadInt64(&s.pageCount)),
					slog.String("url", r.URL.String()),
				)
			}
		})

		s.collector.OnResponse(func(r *colly.Response) {
			if s.Metrics != nil {
				if start, ok := r.Request.Ctx.GetAny("start").(time.Time); ok {
					s.Metrics.ObserveDuration(time.Since(start))
				}
			}

			pageURL := r.Request.URL.String()
			doc, err := goquery.NewDocumentFromReader(bytes.NewReader(r.Body))
			if err != nil {
				atomic.AddInt64(&s.parseFailures, 1)
				if s.Metrics != nil {
					s.Metrics.IncParseFailures()
				}
				slog.Warn("unreadable page markup", slog.String("url", pageURL), slog.Any("error", err))
				return
			}

			if IsProductURL(pageURL) {
				s.handleProductPage(doc, pageURL, p)
				return
			}
			s.handleCategoryPage(ctx, doc, r.Request)
		})

		s.collector.OnError(func(r *colly.Response, err error) {
			atomic.AddInt64(&s.errorCount, 1)
			statusCode := 0
			if r != nil {
				statusCode = r.StatusCode
			}
			classified := classifyError(err, statusCode)
			category := errorTypeLabel(classified)

			s.mu.Lock()
			s.errorsByType[category]++
			s.mu.Unlock()

			url := ""
			if r != nil && r.Request != nil && r.Request.URL != nil {
				url = r.Request.URL.String()
			}
			slog.Error("request error",
				slog.String("url", url),
				slog.String("category", category),
				slog.Any("error", err),
			)
			if s.Metrics != nil {
				s.Metrics.IncError(category)
			}

			if !s.retry.Schedule(url) {
				s.mu.Lock()
				s.failedURLs = append(s.failedURLs, url)
				s.mu.Unlock()
			}
		})
	})
}

func (s *Scraper) handleProductPage(doc *goquery.Document, pageURL string, p *pipeline.Pipeline) {
	printer, err := parser.ExtractPrinter(doc, pageURL)
	if err != nil {
		atomic.AddInt64(&s.parseFailures, 1)
		if s.Metrics != nil {
			s.Metrics.IncParseFailures()
		}
		slog.Warn("product page rejected", slog.String("url", pageURL), slog.Any("error", err))
		return
	}

	if s.Metrics != nil {
		s.Metrics.IncPrinters()
	}
	if err := p.Process(printer); err != nil && err != pipeline.ErrPipelineClosed {
		slog.Error("pipeline process error", slog.Any("error", err))
	}
}

func (s *Scraper) handleCategoryPage(ctx context.Context, doc *goquery.Document, req *colly.Request) {
	atomic.AddInt64(&s.pageCount, 1)
	if s.Metrics != nil {
		s.Metrics.IncPages()
	}
	if ctx.Err() != nil {
		return
	}

	doc.Find("a[href]").Each(func(_ int, link *goquery.Selection) {
		href, ok := link.Attr("href")
		if !ok {
			return
		}
		abs := req.AbsoluteURL(href)
		if abs == "" || !IsProductURL(abs) {
			return
		}
		s.enqueueProduct(abs)
	})

	// Magento listing pagination.
	if next, ok := doc.Find("a.action.next").First().Attr("href"); ok {
		if atomic.LoadInt64(&s.discovered) < int64(s.cfg.MaxPrinters) {
			if abs := req.AbsoluteURL(next); abs != "" {
				s.collector.Visit(abs)
			}
		}
	}
}

func (s *Scraper) enqueueProduct(productURL string) {
	s.mu.Lock()
	if _, ok := s.seenProducts[productURL]; ok {
		s.mu.Unlock()
		return
	}
	s.seenProducts[productURL] = struct{}{}
	s.mu.Unlock()

	if atomic.AddInt64(&s.discovered, 1) > int64(s.cfg.MaxPrinters) {
		return
	}
	if err := s.collector.Visit(productURL); err != nil {
		slog.Debug("product visit rejected", slog.String("url", productURL), slog.Any("error", err))
	}
}

func (s *Scraper) snapshotFailedURLs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.failedURLs))
	copy(out, s.failedURLs)
	return out
}

func (s *Scraper) snapshotErrors() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.errorsByType))
	for k, v := range s.errorsByType {
		out[k] = v
	}
	return out
}

func classifyError(err error, statusCode int) error {
	if err == nil && statusCode == 0 {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrConnection{Err: err}
	}

	if statusCode != 0 {
		wrapped := err
		if wrapped == nil {
			wrapped = fmt.Errorf("http status %d", statusCode)
		}
		switch {
		case statusCode == http.StatusForbidden:
			return ErrForbidden{Err: wrapped}
		case statusCode == http.StatusNotFound:
			return ErrNotFound{Err: wrapped}
		case statusCode == http.StatusTooManyRequests:
			return ErrRateLimited{Err: wrapped}
		case statusCode >= http.StatusInternalServerError:
			return ErrServer{Err: wrapped}
		}
	}

	if err == nil {
		return nil
	}
	return err
}
