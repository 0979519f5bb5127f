// Package pipeline normalizes, de-duplicates, and exports printer records.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cardops/alphacard-scraper/config"
	"github.com/cardops/alphacard-scraper/models"
	"github.com/cardops/alphacard-scraper/parser"
	lru "github.com/hashicorp/golang-lru/v2"
)

var (
	// ErrPipelineClosed is returned when Process is called after shutdown.
	ErrPipelineClosed = errors.New("pipeline: closed")
)

// OutputWriter defines the interface for data output.
type OutputWriter interface {
	Write(printers []*models.Printer) error
	Close() error
	Validate() error
}

// Pipeline coordinates validation, SKU de-duplication, and output writing.
// Duplicate SKUs resolve first-seen wins: the record already in the dedupe
// cache is kept and later arrivals are dropped and counted.
type Pipeline struct {
	ctx       context.Context
	writer    OutputWriter
	printerCh chan *models.Printer
	batchSize int

	wg sync.WaitGroup

	seen   *lru.Cache[string, struct{}]
	seenMu sync.Mutex

	metrics metrics

	mu     sync.Mutex // guards closed/err
	closed bool
	err    error

	closeOnce    sync.Once
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// NewPipeline builds a pipeline with a bounded in-memory buffer and a
// bounded dedupe cache sized from cfg.
func NewPipeline(ctx context.Context, writer OutputWriter, cfg *config.Config) *Pipeline {
	if ctx == nil {
		ctx = context.Background()
	}
	seen, err := lru.New[string, struct{}](cfg.DedupeMaxSize)
	if err != nil {
		// Only reachable with a non-positive size, which Validate rejects.
		panic(fmt.Sprintf("pipeline: dedupe cache: %v", err))
	}
	return &Pipeline{
		ctx:       ctx,
		writer:    writer,
		printerCh: make(chan *models.Printer, cfg.PipelineBufferSize),
		batchSize: cfg.BatchSize,
		seen:      seen,
		metrics:   newMetrics(),
		shutdown:  make(chan struct{}),
	}
}

// Start launches worker goroutines.
func (p *Pipeline) Start(workers int) {
	if workers <= 0 {
		workers = 1
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Process enqueues printers for downstream processing.
func (p *Pipeline) Process(printers ...*models.Printer) error {
	if len(printers) == 0 {
		return nil
	}

	closed, err := p.state()
	if err != nil {
		return err
	}
	if closed {
		return ErrPipelineClosed
	}

	for _, printer := range printers {
		if printer == nil {
			continue
		}
		if err := p.enqueue(printer); err != nil {
			return err
		}
	}
	return nil
}

// Close waits for workers to finish and prevents more submissions.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
	}
	p.mu.Unlock()

	p.signalShutdown()
	p.closeOnce.Do(func() {
		close(p.printerCh)
	})

	p.wg.Wait()
	return p.Err()
}

// Err returns the first error encountered during processing.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// GetMetrics returns a snapshot of the internal counters.
func (p *Pipeline) GetMetrics() map[string]interface{} {
	return p.metrics.snapshot()
}

// StartMetricsReporting emits periodic progress logs.
func (p *Pipeline) StartMetricsReporting(interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				snapshot := p.GetMetrics()
				processed := snapshot["processed_printers"].(int64)
				duplicates := snapshot["duplicates_removed"].(int64)
				validation := snapshot["validation_errors"].(map[string]int)
				slog.Info("pipeline progress",
					slog.Int64("processed", processed),
					slog.Int64("duplicates", duplicates),
					slog.Int("validation_error_kinds", len(validation)),
				)
			case <-p.shutdown:
				return
			}
		}
	}()
}

func (p *Pipeline) worker() {
	defer p.wg.Done()

	batch := make([]*models.Printer, 0, p.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := p.writer.Write(batch); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	for printer := range p.printerCh {
		prepared := p.prepare(printer)
		if prepared == nil {
			continue
		}
		batch = append(batch, prepared)
		if len(batch) >= p.batchSize {
			if err := flush(); err != nil {
				p.setErr(fmt.Errorf("write batch: %w", err))
				return
			}
		}
	}

	if err := flush(); err != nil {
		p.setErr(fmt.Errorf("write batch: %w", err))
	}
}

func (p *Pipeline) prepare(printer *models.Printer) *models.Printer {
	if err := parser.ValidatePrinter(printer); err != nil {
		p.metrics.addValidation("invalid_record")
		return nil
	}

	p.seenMu.Lock()
	if _, ok := p.seen.Get(printer.SKU); ok {
		p.seenMu.Unlock()
		p.metrics.addDuplicate()
		return nil
	}
	p.seen.Add(printer.SKU, struct{}{})
	p.seenMu.Unlock()

	printer.Price = parser.NormalizePrice(printer.Price)
	if printer.PriceNumeric == 0 {
		printer.PriceNumeric = parser.PriceNumeric(printer.Price)
	}
	if printer.Brand == "" {
		printer.Brand = parser.DetectBrand(printer.Name)
	}

	p.metrics.recordProcessed(printer)
	return printer
}

func (p *Pipeline) enqueue(printer *models.Printer) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ErrPipelineClosed
		}
	}()

	select {
	case <-p.shutdown:
		return ErrPipelineClosed
	case <-p.ctx.Done():
		return p.ctx.Err()
	case p.printerCh <- printer:
		return nil
	}
}

func (p *Pipeline) setErr(err error) {
	if err == nil {
		return
	}

	p.mu.Lock()
	if p.err != nil {
		p.mu.Unlock()
		return
	}
	p.err = err
	p.closed = true
	p.mu.Unlock()

	p.signalShutdown()
	p.closeOnce.Do(func() {
		close(p.printerCh)
	})
}

func (p *Pipeline) state() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed, p.err
}

func (p *Pipeline) signalShutdown() {
	p.shutdownOnce.Do(func() {
		close(p.shutdown)
	})
}

type metrics struct {
	mu               sync.Mutex
	processed        int64
	duplicates       int64
	validation       map[string]int
	brands           map[string]int
	withPrices       int64
	withDescriptions int64
}

func newMetrics() metrics {
	return metrics{
		validation: make(map[string]int),
		brands:     make(map[string]int),
	}
}

func (m *metrics) recordProcessed(printer *models.Printer) {
	m.mu.Lock()
	m.processed++
	brand := printer.Brand
	if brand == "" {
		brand = "Unknown"
	}
	m.brands[brand]++
	if printer.Price != "" {
		m.withPrices++
	}
	if printer.Description != "" {
		m.withDescriptions++
	}
	m.mu.Unlock()
}

func (m *metrics) addDuplicate() {
	m.mu.Lock()
	m.duplicates++
	m.mu.Unlock()
}

func (m *metrics) addValidation(kind string) {
	m.mu.Lock()
	m.validation[kind]++
	m.mu.Unlock()
}

func (m *metrics) snapshot() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	copyValidation := make(map[string]int, len(m.validation))
	for k, v := range m.validation {
		copyValidation[k] = v
	}
	copyBrands := make(map[string]int, len(m.brands))
	for k, v := range m.brands {
		copyBrands[k] = v
	}

	return map[string]interface{}{
		"processed_printers": m.processed,
		"duplicates_removed": m.duplicates,
		"validation_errors":  copyValidation,
		"brands":             copyBrands,
		"with_prices":        m.withPrices,
		"with_descriptions":  m.withDescriptions,
	}
}
