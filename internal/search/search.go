package search

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
)

// BaseURL is the search endpoint every request is built on, the keyword is appended escaped.
const BaseURL = "https://search.danawa.com/dsearch.php?query="

type SortCode string

const (
	SortPopular      SortCode = "saveDESC"
	SortNewest       SortCode = "dateDESC"
	SortPriceAsc     SortCode = "priceASC"
	SortPriceDesc    SortCode = "priceDESC"
	SortMostOpinions SortCode = "opinionDESC"
)

type sortEntry struct {
	code  SortCode
	label string
}

var sortTable = []sortEntry{
	{code: SortPopular, label: "인기상품순"},
	{code: SortNewest, label: "신상품순"},
	{code: SortPriceAsc, label: "낮은가격순"},
	{code: SortPriceDesc, label: "높은가격순"},
	{code: SortMostOpinions, label: "상품의견많은순"},
}

// Sorts returns every known sort code in display order.
func Sorts() []SortCode {
	out := make([]SortCode, len(sortTable))
	for i, e := range sortTable {
		out[i] = e.code
	}
	return out
}

// Label returns the display label of the sort, or the raw code if it is unknown.
func (s SortCode) Label() string {
	for _, e := range sortTable {
		if e.code == s {
			return e.label
		}
	}
	return string(s)
}

func (s SortCode) Valid() bool {
	for _, e := range sortTable {
		if e.code == s {
			return true
		}
	}
	return false
}

type FilterCode string

const (
	FilterCoupangMember   FilterCode = "CoupangMemberSort"
	FilterIncludeDelivery FilterCode = "addDelivery"
)

type filterEntry struct {
	code  FilterCode
	label string
}

var filterTable = []filterEntry{
	{code: FilterCoupangMember, label: "쿠팡와우할인"},
	{code: FilterIncludeDelivery, label: "배송비포함"},
}

// Filters returns every known filter code in table order.
func Filters() []FilterCode {
	out := make([]FilterCode, len(filterTable))
	for i, e := range filterTable {
		out[i] = e.code
	}
	return out
}

func (f FilterCode) Label() string {
	for _, e := range filterTable {
		if e.code == f {
			return e.label
		}
	}
	return string(f)
}

func (f FilterCode) Valid() bool {
	return f.index() >= 0
}

func (f FilterCode) index() int {
	for i, e := range filterTable {
		if e.code == f {
			return i
		}
	}
	return -1
}

// ConfigError is returned when a keyword configuration cannot be turned into a request.
type ConfigError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s '%s': %s", e.Field, e.Value, e.Reason)
}

// ParseSort accepts either a sort code or its label.
func ParseSort(s string) (SortCode, error) {
	s = strings.TrimSpace(s)
	for _, e := range sortTable {
		if string(e.code) == s || e.label == s {
			return e.code, nil
		}
	}
	return "", &ConfigError{Field: "sort_type", Value: s, Reason: "unknown sort"}
}

// ParseFilters accepts filter codes or labels, duplicates are removed.
func ParseFilters(values []string) ([]FilterCode, error) {
	var out []FilterCode
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		code, ok := lookupFilter(v)
		if !ok {
			return nil, &ConfigError{Field: "filter", Value: v, Reason: "unknown filter"}
		}
		if !slices.Contains(out, code) {
			out = append(out, code)
		}
	}
	return sortFilters(out), nil
}

func lookupFilter(v string) (FilterCode, bool) {
	for _, e := range filterTable {
		if string(e.code) == v || e.label == v {
			return e.code, true
		}
	}
	return "", false
}

func sortFilters(filters []FilterCode) []FilterCode {
	slices.SortFunc(filters, func(a, b FilterCode) int {
		return a.index() - b.index()
	})
	return filters
}

// Query is everything needed to build one search request.
type Query struct {
	Keyword string
	Sort    SortCode
	Filters []FilterCode
}

func (q Query) Validate() error {
	if strings.TrimSpace(q.Keyword) == "" {
		return &ConfigError{Field: "word", Value: q.Keyword, Reason: "keyword must not be empty"}
	}
	if !q.Sort.Valid() {
		return &ConfigError{Field: "sort_type", Value: string(q.Sort), Reason: "unknown sort"}
	}
	for _, f := range q.Filters {
		if !f.Valid() {
			return &ConfigError{Field: "filter", Value: string(f), Reason: "unknown filter"}
		}
	}
	return nil
}

// Build returns the request URL for a query. It assumes the query has been validated,
// filters are emitted once each in table order regardless of their order in the query.
func Build(q Query) string {
	var b strings.Builder
	b.WriteString(BaseURL)
	b.WriteString(url.QueryEscape(q.Keyword))
	b.WriteString("&sort=")
	b.WriteString(string(q.Sort))
	for _, e := range filterTable {
		if slices.Contains(q.Filters, e.code) {
			b.WriteString("&")
			b.WriteString(string(e.code))
			b.WriteString("=Y")
		}
	}
	return b.String()
}
