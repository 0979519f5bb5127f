package pipeline

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/cardops/alphacard-scraper/models"
)

// MultiWriter fans records out to every configured writer.
type MultiWriter struct {
	writers []OutputWriter
	mu      sync.Mutex
}

// NewMultiWriter creates a writer that writes to all provided writers.
func NewMultiWriter(writers ...OutputWriter) *MultiWriter {
	return &MultiWriter{writers: writers}
}

// NewExportSet builds the canonical three-file export: the JSON dump, the
// full catalog CSV, and the import-ready CSV, all rooted at outputDir.
func NewExportSet(outputDir string) (*MultiWriter, error) {
	jsonWriter, err := NewJSONWriter(filepath.Join(outputDir, FileJSONDump))
	if err != nil {
		return nil, fmt.Errorf("create json writer: %w", err)
	}

	csvWriter, err := NewCSVWriter(filepath.Join(outputDir, FileCatalogCSV))
	if err != nil {
		jsonWriter.Close()
		return nil, fmt.Errorf("create catalog csv writer: %w", err)
	}

	importWriter, err := NewImportCSVWriter(filepath.Join(outputDir, FileImportCSV))
	if err != nil {
		jsonWriter.Close()
		csvWriter.Close()
		return nil, fmt.Errorf("create import csv writer: %w", err)
	}

	return NewMultiWriter(jsonWriter, csvWriter, importWriter), nil
}

// Write writes printers to every underlying writer, stopping on the first
// failure.
func (mw *MultiWriter) Write(printers []*models.Printer) error {
	mw.mu.Lock()
	defer mw.mu.Unlock()

	for _, w := range mw.writers {
		if err := w.Write(printers); err != nil {
			return fmt.Errorf("multi write: %w", err)
		}
	}
	return nil
}

// Close closes every writer, returning the accumulated errors.
func (mw *MultiWriter) Close() error {
	mw.mu.Lock()
	defer mw.mu.Unlock()

	var errs []error
	for _, w := range mw.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close writers: %v", errs)
	}
	return nil
}

// Validate validates every published output file.
func (mw *MultiWriter) Validate() error {
	var errs []error
	for _, w := range mw.writers {
		if err := w.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("validate outputs: %v", errs)
	}
	return nil
}
