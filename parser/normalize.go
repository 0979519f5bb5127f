package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/cardops/alphacard-scraper/models"
)

var htmlTagPattern = regexp.MustCompile(`<[^>]+>`)

// ValidatePrinter ensures the scraper captured the required fields.
func ValidatePrinter(p *models.Printer) error {
	if p == nil {
		return fmt.Errorf("printer is nil")
	}
	if strings.TrimSpace(p.SKU) == "" {
		return fmt.Errorf("printer missing SKU for %q", p.Name)
	}
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("printer missing name for SKU %s", p.SKU)
	}
	return nil
}

// NormalizePrice trims whitespace and the currency symbol, keeping the
// thousands separators out of the stored value.
func NormalizePrice(price string) string {
	price = strings.TrimSpace(price)
	price = strings.TrimPrefix(price, "$")
	price = strings.ReplaceAll(price, ",", "")
	return strings.TrimSpace(price)
}

// PriceNumeric parses a raw price string into a float. Unparseable input
// yields zero.
func PriceNumeric(price string) float64 {
	value, err := strconv.ParseFloat(NormalizePrice(price), 64)
	if err != nil {
		return 0
	}
	return value
}

// Excerpt reduces an HTML fragment to plain text of at most max runes,
// suitable for short-description columns.
func Excerpt(html string, max int) string {
	text := htmlTagPattern.ReplaceAllString(html, " ")
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if max > 0 && len(runes) > max {
		return strings.TrimSpace(string(runes[:max]))
	}
	return text
}
