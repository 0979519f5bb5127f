// Package parser extracts printer records from vendor catalog markup.
package parser

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/cardops/alphacard-scraper/models"
)

var (
	pricePattern      = regexp.MustCompile(`\$[\d,]+\.?\d*`)
	resolutionPattern = regexp.MustCompile(`(?i)(\d+\s*x\s*\d+|\d+)\s*dpi`)

	speedPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(\d+)\s*cards?\s*per\s*hour`),
		regexp.MustCompile(`(?i)(\d+)\s*cph`),
	}
	secondsPerCardPattern = regexp.MustCompile(`(?i)full\s*color.*?(\d+)\s*seconds?`)

	warrantyPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(\d+)\s*year\s*warranty`),
		regexp.MustCompile(`(?i)warranty[:\s]*(\d+)\s*years?`),
		regexp.MustCompile(`(?i)(\d+)-year\s*warranty`),
	}

	wrapperDivPatterns = []*regexp.Regexp{
		regexp.MustCompile(`<div[^>]*data-content-type="html"[^>]*>`),
		regexp.MustCompile(`<div[^>]*data-appearance="default"[^>]*>`),
		regexp.MustCompile(`<div[^>]*data-element="main"[^>]*>`),
		regexp.MustCompile(`<div[^>]*class="value"[^>]*>`),
	}
	openDivPattern  = regexp.MustCompile(`<div[^>]*>`)
	closeDivPattern = regexp.MustCompile(`</div>`)
	spacePattern    = regexp.MustCompile(`\s+`)
)

// knownBrands maps lowercase markers found in product names to display brands.
var knownBrands = []struct {
	marker string
	brand  string
}{
	{"alphacard", "AlphaCard"},
	{"magicard", "Magicard"},
	{"fargo", "Fargo"},
	{"zebra", "Zebra"},
	{"evolis", "Evolis"},
	{"datacard", "Entrust Datacard"},
	{"entrust", "Entrust Datacard"},
	{"idp", "IDP"},
	{"swiftcolor", "SwiftColor"},
	{"matica", "Matica"},
}

// descriptionFallbacks are tried in order when the primary Magento
// description block is absent.
var descriptionFallbacks = []string{
	".product-description",
	".description",
	`[data-content-type="html"]`,
	".product-info-main .description",
	".product-attribute-description",
}

// ExtractPrinter builds a candidate record from one product detail page.
// Optional fields may be empty; a page without a SKU or name yields an error
// and the record is counted as a parse failure by the caller.
func ExtractPrinter(doc *goquery.Document, pageURL string) (*models.Printer, error) {
	if doc == nil {
		return nil, fmt.Errorf("parse %s: nil document", pageURL)
	}

	p := &models.Printer{
		URL:       pageURL,
		ScrapedAt: time.Now().UTC(),
	}

	p.Name = extractName(doc)
	if p.Name == "" {
		return nil, fmt.Errorf("parse %s: missing product name", pageURL)
	}

	p.SKU = extractSKU(doc)
	if p.SKU == "" {
		return nil, fmt.Errorf("parse %s: missing SKU", pageURL)
	}

	p.Brand = DetectBrand(p.Name)
	p.Description = extractDescription(doc)
	p.Category = extractCategory(doc)
	p.ImageURLs = extractImages(doc)

	doc.Find("table tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td, th")
		if cells.Length() < 2 {
			return
		}
		key := strings.TrimSpace(cells.Eq(0).Text())
		value := strings.TrimSpace(cells.Eq(1).Text())
		MapSpecification(key, value, p)
	})

	p.Features = extractFeatures(doc)

	pageText := doc.Text()
	if price := pricePattern.FindString(pageText); price != "" {
		p.Price = price
		p.PriceNumeric = PriceNumeric(price)
	}
	if p.PrintSpeedColor == "" {
		p.PrintSpeedColor = extractSpeed(pageText)
	}
	if p.PrintResolution == "" {
		if res := resolutionPattern.FindString(pageText); res != "" {
			p.PrintResolution = res
		}
	}
	if p.Warranty == "" {
		for _, pattern := range warrantyPatterns {
			if m := pattern.FindStringSubmatch(pageText); m != nil {
				p.Warranty = m[1] + " years"
				break
			}
		}
	}

	return p, nil
}

func extractName(doc *goquery.Document) string {
	if name := strings.TrimSpace(doc.Find("h1").First().Text()); name != "" {
		return spacePattern.ReplaceAllString(name, " ")
	}
	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		return ""
	}
	if idx := strings.Index(title, "|"); idx >= 0 {
		title = title[:idx]
	}
	return strings.TrimSpace(title)
}

func extractSKU(doc *goquery.Document) string {
	if sku := strings.TrimSpace(doc.Find(`[itemprop="sku"]`).First().Text()); sku != "" {
		return sku
	}
	return strings.TrimSpace(doc.Find("div.product.attribute.sku div.value").First().Text())
}

func extractDescription(doc *goquery.Document) string {
	sel := doc.Find(`div.product.attribute.description div.value div[data-content-type="html"]`).First()
	if sel.Length() == 0 {
		sel = doc.Find("div.product.attribute.description div.value").First()
	}
	if sel.Length() == 0 {
		sel = doc.Find("div.product.attribute.description").First()
	}
	if sel.Length() == 0 {
		for _, selector := range descriptionFallbacks {
			if candidate := doc.Find(selector).First(); candidate.Length() > 0 {
				sel = candidate
				break
			}
		}
	}
	if sel.Length() == 0 {
		return ""
	}

	html, err := sel.Html()
	if err != nil {
		return ""
	}
	return CleanDescription(html)
}

func extractCategory(doc *goquery.Document) string {
	var crumbs []string
	doc.Find(".breadcrumbs li").Each(func(_ int, li *goquery.Selection) {
		text := strings.TrimSpace(li.Text())
		if text == "" || strings.EqualFold(text, "home") {
			return
		}
		crumbs = append(crumbs, text)
	})
	if len(crumbs) > 1 {
		// The last crumb is the product itself.
		return strings.Join(crumbs[:len(crumbs)-1], " > ")
	}
	if len(crumbs) == 1 {
		return crumbs[0]
	}
	return "ID Card Printers"
}

func extractImages(doc *goquery.Document) []string {
	seen := make(map[string]struct{})
	var urls []string
	add := func(src string) {
		src = strings.TrimSpace(src)
		if src == "" || strings.HasPrefix(src, "data:") {
			return
		}
		if _, ok := seen[src]; ok {
			return
		}
		seen[src] = struct{}{}
		urls = append(urls, src)
	}

	if og, ok := doc.Find(`meta[property="og:image"]`).First().Attr("content"); ok {
		add(og)
	}
	doc.Find(".product.media img, .gallery-placeholder img").Each(func(_ int, img *goquery.Selection) {
		if src, ok := img.Attr("src"); ok {
			add(src)
		}
	})
	return urls
}

func extractFeatures(doc *goquery.Document) string {
	var features []string
	doc.Find("ul li, ol li").Each(func(_ int, li *goquery.Selection) {
		// Lists inside the description block would duplicate its content;
		// breadcrumb items are navigation, not product features.
		if li.ParentsFiltered("div.product.attribute.description").Length() > 0 ||
			li.ParentsFiltered(".breadcrumbs").Length() > 0 {
			return
		}
		text := strings.TrimSpace(li.Text())
		if len(text) > 10 && len(text) < 200 && len(features) < 10 {
			features = append(features, spacePattern.ReplaceAllString(text, " "))
		}
	})
	return strings.Join(features, "; ")
}

func extractSpeed(pageText string) string {
	for _, pattern := range speedPatterns {
		if m := pattern.FindStringSubmatch(pageText); m != nil {
			return m[1] + " cards/hour"
		}
	}
	if m := secondsPerCardPattern.FindStringSubmatch(pageText); m != nil {
		seconds := 0
		fmt.Sscanf(m[1], "%d", &seconds)
		if seconds > 0 {
			return fmt.Sprintf("%d cards/hour (estimated from %ds per card)", 3600/seconds, seconds)
		}
	}
	return ""
}

// CleanDescription strips Magento wrapper divs from a description HTML
// fragment and collapses whitespace.
func CleanDescription(html string) string {
	for _, pattern := range wrapperDivPatterns {
		html = pattern.ReplaceAllString(html, "")
	}

	// Balance orphaned closing tags left behind by the wrapper removal.
	excess := len(closeDivPattern.FindAllString(html, -1)) - len(openDivPattern.FindAllString(html, -1))
	for i := 0; i < excess; i++ {
		if idx := strings.LastIndex(html, "</div>"); idx >= 0 {
			html = html[:idx] + html[idx+len("</div>"):]
		}
	}

	html = spacePattern.ReplaceAllString(html, " ")
	return strings.TrimSpace(html)
}

// MapSpecification assigns a spec-table row onto the record. Keys are
// matched loosely; the first value seen for a field wins.
func MapSpecification(key, value string, p *models.Printer) {
	if value == "" || len(value) > 300 {
		return
	}

	key = strings.ToLower(key)
	switch {
	case strings.Contains(key, "speed") && p.PrintSpeedColor == "":
		p.PrintSpeedColor = value
	case strings.Contains(key, "resolution") && p.PrintResolution == "":
		p.PrintResolution = value
	case (strings.Contains(key, "capacity") || strings.Contains(key, "hopper")) && p.CardCapacity == "":
		p.CardCapacity = value
	case strings.Contains(key, "connectivity") && p.Connectivity == "":
		p.Connectivity = value
	case strings.Contains(key, "dimension") && p.Dimensions == "":
		p.Dimensions = value
	case strings.Contains(key, "weight") && p.Weight == "":
		p.Weight = value
	case strings.Contains(key, "warranty") && p.Warranty == "":
		p.Warranty = value
	case (strings.Contains(key, "encoding") || strings.Contains(key, "magnetic")) && p.EncodingOptions == "":
		p.EncodingOptions = value
	case strings.Contains(key, "card") && strings.Contains(key, "size") && p.CardSizes == "":
		p.CardSizes = value
	}
}

// DetectBrand resolves the display brand from a product name, or returns
// an empty string for unrecognised manufacturers.
func DetectBrand(name string) string {
	lower := strings.ToLower(name)
	for _, b := range knownBrands {
		if strings.Contains(lower, b.marker) {
			return b.brand
		}
	}
	return ""
}
