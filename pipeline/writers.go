package pipeline

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cardops/alphacard-scraper/models"
	"github.com/cardops/alphacard-scraper/parser"
)

// Canonical output filenames consumed by the calling automation.
const (
	FileJSONDump   = "alphacard_printers.json"
	FileCatalogCSV = "alphacard_printers_woocommerce.csv"
	FileImportCSV  = "woocommerce_import_ready.csv"
	FileSummary    = "scrape_summary.json"
)

// catalogHeader is the full-fidelity CSV column set, one column per record
// field in declaration order.
var catalogHeader = []string{
	"sku", "name", "brand", "price", "price_numeric", "description",
	"category", "image_urls", "url", "print_speed_color", "print_speed_mono",
	"print_resolution", "card_capacity", "connectivity", "dimensions",
	"weight", "warranty", "features", "encoding_options", "card_sizes",
	"scraped_at",
}

// importHeader is the WooCommerce product-importer column subset.
var importHeader = []string{
	"Type", "SKU", "Name", "Published", "Short description", "Description",
	"Regular price", "Categories", "Images", "In stock?",
}

// atomicFile streams writes into a temporary sibling and renames it over
// the final path on commit, so a partially written file is never visible
// under the published name.
type atomicFile struct {
	final string
	tmp   string
	file  *os.File
}

func newAtomicFile(final string) (*atomicFile, error) {
	if err := ensureDir(final); err != nil {
		return nil, err
	}

	tmp := final + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", tmp, err)
	}
	return &atomicFile{final: final, tmp: tmp, file: f}, nil
}

func (a *atomicFile) Commit() error {
	if err := a.file.Sync(); err != nil {
		a.file.Close()
		return fmt.Errorf("sync %s: %w", a.tmp, err)
	}
	if err := a.file.Close(); err != nil {
		return fmt.Errorf("close %s: %w", a.tmp, err)
	}
	if err := os.Rename(a.tmp, a.final); err != nil {
		return fmt.Errorf("publish %s: %w", a.final, err)
	}
	return nil
}

// validateFile ensures a published output exists and has content.
func validateFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Size() <= 0 {
		return fmt.Errorf("%s is empty", path)
	}
	return nil
}

// CSVWriter writes the full-fidelity catalog CSV.
type CSVWriter struct {
	out    *atomicFile
	writer *csv.Writer
	mu     sync.Mutex
}

// NewCSVWriter initialises a CSV writer and writes the header row.
func NewCSVWriter(filename string) (*CSVWriter, error) {
	out, err := newAtomicFile(filename)
	if err != nil {
		return nil, err
	}

	writer := csv.NewWriter(out.file)
	if err := writer.Write(catalogHeader); err != nil {
		out.file.Close()
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		out.file.Close()
		return nil, fmt.Errorf("flush csv header: %w", err)
	}

	return &CSVWriter{out: out, writer: writer}, nil
}

// Write appends printers to the CSV output.
func (cw *CSVWriter) Write(printers []*models.Printer) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	for _, p := range printers {
		record := []string{
			p.SKU,
			p.Name,
			p.Brand,
			p.Price,
			strconv.FormatFloat(p.PriceNumeric, 'f', -1, 64),
			p.Description,
			p.Category,
			strings.Join(p.ImageURLs, ", "),
			p.URL,
			p.PrintSpeedColor,
			p.PrintSpeedMono,
			p.PrintResolution,
			p.CardCapacity,
			p.Connectivity,
			p.Dimensions,
			p.Weight,
			p.Warranty,
			p.Features,
			p.EncodingOptions,
			p.CardSizes,
			p.ScrapedAt.Format(time.RFC3339),
		}
		if err := cw.writer.Write(record); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
	}
	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv records: %w", err)
	}
	return nil
}

// Close flushes the writer and publishes the file.
func (cw *CSVWriter) Close() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv writer: %w", err)
	}
	return cw.out.Commit()
}

// Validate ensures the published file exists with at least the header.
func (cw *CSVWriter) Validate() error {
	return validateFile(cw.out.final)
}

// ImportCSVWriter writes the import-ready WooCommerce column subset.
type ImportCSVWriter struct {
	out    *atomicFile
	writer *csv.Writer
	mu     sync.Mutex
}

// NewImportCSVWriter initialises the import CSV and writes its header.
func NewImportCSVWriter(filename string) (*ImportCSVWriter, error) {
	out, err := newAtomicFile(filename)
	if err != nil {
		return nil, err
	}

	writer := csv.NewWriter(out.file)
	if err := writer.Write(importHeader); err != nil {
		out.file.Close()
		return nil, fmt.Errorf("write import header: %w", err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		out.file.Close()
		return nil, fmt.Errorf("flush import header: %w", err)
	}

	return &ImportCSVWriter{out: out, writer: writer}, nil
}

// Write appends printers as importable simple products.
func (iw *ImportCSVWriter) Write(printers []*models.Printer) error {
	iw.mu.Lock()
	defer iw.mu.Unlock()

	for _, p := range printers {
		price := ""
		if p.PriceNumeric > 0 {
			price = strconv.FormatFloat(p.PriceNumeric, 'f', 2, 64)
		}
		record := []string{
			"simple",
			p.SKU,
			p.Name,
			"1",
			parser.Excerpt(p.Description, 160),
			p.Description,
			price,
			p.Category,
			strings.Join(p.ImageURLs, ", "),
			"1",
		}
		if err := iw.writer.Write(record); err != nil {
			return fmt.Errorf("write import record: %w", err)
		}
	}
	iw.writer.Flush()
	if err := iw.writer.Error(); err != nil {
		return fmt.Errorf("flush import records: %w", err)
	}
	return nil
}

// Close flushes the writer and publishes the file.
func (iw *ImportCSVWriter) Close() error {
	iw.mu.Lock()
	defer iw.mu.Unlock()

	iw.writer.Flush()
	if err := iw.writer.Error(); err != nil {
		return fmt.Errorf("flush import writer: %w", err)
	}
	return iw.out.Commit()
}

// Validate ensures the published file exists with at least the header.
func (iw *ImportCSVWriter) Validate() error {
	return validateFile(iw.out.final)
}

// JSONWriter accumulates records and publishes them as one indented JSON
// array on Close. The catalog is bounded by the item cap, so buffering the
// run in memory is acceptable.
type JSONWriter struct {
	out      *atomicFile
	printers []*models.Printer
	mu       sync.Mutex
}

// NewJSONWriter initialises the JSON dump writer.
func NewJSONWriter(filename string) (*JSONWriter, error) {
	out, err := newAtomicFile(filename)
	if err != nil {
		return nil, err
	}
	return &JSONWriter{out: out, printers: make([]*models.Printer, 0, 64)}, nil
}

// Write buffers printers for the final dump.
func (jw *JSONWriter) Write(printers []*models.Printer) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()
	jw.printers = append(jw.printers, printers...)
	return nil
}

// Close marshals the buffered records and publishes the file.
func (jw *JSONWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	data, err := json.MarshalIndent(jw.printers, "", "  ")
	if err != nil {
		return fmt.Errorf("encode json dump: %w", err)
	}
	if _, err := jw.out.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write json dump: %w", err)
	}
	return jw.out.Commit()
}

// Validate ensures the published JSON dump has data.
func (jw *JSONWriter) Validate() error {
	return validateFile(jw.out.final)
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
