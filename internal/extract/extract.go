package extract

import (
	"bytes"
	"danawa-tracker/lib/htmlutil"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	ErrPriceNotFound    = errors.New("price not found")
	ErrPriceUnparseable = errors.New("price unparseable")
	ErrMalformedMarkup  = errors.New("malformed markup")
)

// UnparseableError carries the text that could not be read as a price.
type UnparseableError struct {
	Strategy string
	Text     string
}

func (e *UnparseableError) Error() string {
	return fmt.Sprintf("%s: '%s' (from %s)", ErrPriceUnparseable, e.Text, e.Strategy)
}

func (e *UnparseableError) Is(target error) bool {
	return target == ErrPriceUnparseable
}

// Strategy locates one node in the document. When Attr is empty the node's text is used.
type Strategy struct {
	Name     string
	Selector string
	Attr     string
}

func (s Strategy) lookup(doc *goquery.Document) (string, bool) {
	sel := doc.Find(s.Selector).First()
	if sel.Length() == 0 {
		return "", false
	}
	if s.Attr == "" {
		return htmlutil.CleanText(htmlutil.GetText(sel.Nodes[0])), true
	}
	value, ok := sel.Attr(s.Attr)
	if !ok || strings.TrimSpace(value) == "" {
		return "", false
	}
	return strings.TrimSpace(value), true
}

// DefaultPriceStrategies covers the single best match layout first and the list view second.
var DefaultPriceStrategies = []Strategy{
	{Name: "standard_price", Selector: ".click_log_product_standard_price_"},
	{Name: "price_section", Selector: ".price_sect"},
}

var DefaultImageStrategies = []Strategy{
	{Name: "standard_image", Selector: ".click_log_product_standard_img_ img", Attr: "src"},
	{Name: "searched_image", Selector: ".click_log_product_searched_img_ img", Attr: "src"},
}

type Result struct {
	Price    int
	ImageRef string
}

type Extractor struct {
	Price []Strategy
	Image []Strategy
}

// NewExtractor returns an Extractor using the default strategies.
func NewExtractor() Extractor {
	return Extractor{
		Price: DefaultPriceStrategies,
		Image: DefaultImageStrategies,
	}
}

func (e Extractor) Extract(body []byte) (Result, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrMalformedMarkup, err)
	}

	var out Result

	found := false
	for _, s := range e.Price {
		text, ok := s.lookup(doc)
		if !ok {
			continue
		}
		price, err := ParsePrice(text)
		if err != nil {
			return Result{}, &UnparseableError{Strategy: s.Name, Text: text}
		}
		out.Price = price
		found = true
		break
	}
	if !found {
		return Result{}, ErrPriceNotFound
	}

	for _, s := range e.Image {
		src, ok := s.lookup(doc)
		if ok {
			out.ImageRef = src
			break
		}
	}

	return out, nil
}

var priceReplacer = strings.NewReplacer("원", "", ",", "")

// ParsePrice reads text like "129,000원" as 129000.
func ParsePrice(text string) (int, error) {
	cleaned := strings.TrimSpace(priceReplacer.Replace(strings.TrimSpace(text)))
	if cleaned == "" {
		return 0, ErrPriceUnparseable
	}
	for _, r := range cleaned {
		if r < '0' || r > '9' {
			return 0, ErrPriceUnparseable
		}
	}
	price, err := strconv.Atoi(cleaned)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrPriceUnparseable, err)
	}
	return price, nil
}
