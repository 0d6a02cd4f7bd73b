package render

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"
)

var (
	ErrNoPrices = errors.New("no prices found")
	ErrBlocked  = errors.New("blocked by bot detection")
)

// Extractor pulls prices out of rendered category markup
type Extractor struct {
	selector     string
	currency     string
	blockMarkers []string
}

func NewExtractor(selector, currency string, blockMarkers []string) *Extractor {
	return &Extractor{
		selector:     selector,
		currency:     currency,
		blockMarkers: blockMarkers,
	}
}

// MinPrice returns the lowest parseable price on the page
func (e *Extractor) MinPrice(html string) (float64, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return 0, fmt.Errorf("parse html: %w", err)
	}

	prices := e.Prices(doc)
	if len(prices) == 0 {
		if e.blocked(doc) {
			return 0, ErrBlocked
		}
		return 0, ErrNoPrices
	}

	min := prices[0]
	for _, p := range prices[1:] {
		if p.LessThan(min) {
			min = p
		}
	}

	return min.InexactFloat64(), nil
}

// Prices returns every parseable price matched by the selector
func (e *Extractor) Prices(doc *goquery.Document) []decimal.Decimal {
	prices := make([]decimal.Decimal, 0)

	doc.Find(e.selector).Each(func(_ int, s *goquery.Selection) {
		price, ok := ParsePrice(s.Text(), e.currency)
		if ok {
			prices = append(prices, price)
		}
	})

	return prices
}

func (e *Extractor) blocked(doc *goquery.Document) bool {
	title := strings.ToLower(doc.Find("title").Text())
	body := strings.ToLower(doc.Find("body").Text())

	for _, marker := range e.blockMarkers {
		marker = strings.ToLower(marker)
		if marker == "" {
			continue
		}
		if strings.Contains(title, marker) || strings.Contains(body, marker) {
			return true
		}
	}
	return false
}

// ParsePrice turns a price label such as "1 234,56 BYN" into a decimal
func ParsePrice(text, currency string) (decimal.Decimal, bool) {
	if currency != "" {
		text = strings.ReplaceAll(text, currency, "")
	}

	var b strings.Builder
	for _, r := range text {
		switch {
		case unicode.IsDigit(r), r == '.':
			b.WriteRune(r)
		case r == ',':
			b.WriteRune('.')
		}
	}

	cleaned := strings.Trim(b.String(), ".")
	if cleaned == "" {
		return decimal.Decimal{}, false
	}

	price, err := decimal.NewFromString(cleaned)
	if err != nil || price.IsNegative() {
		return decimal.Decimal{}, false
	}
	return price, true
}
