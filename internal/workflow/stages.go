package workflow

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/orderdesk/orderdesk/internal/store"
)

// Availability describes whether a product can be fulfilled and how fast.
type Availability struct {
	InStock  bool `json:"in_stock"`
	LeadDays int  `json:"lead_days"`
}

// FulfillmentChecker answers availability queries for a single order line.
type FulfillmentChecker interface {
	Check(ctx context.Context, item store.ProductOrderItem) (Availability, error)
}

// FulfillmentStage looks up availability for every product in the order.
type FulfillmentStage struct {
	checker FulfillmentChecker
}

// NewFulfillmentStage creates the fulfillment lookup stage.
func NewFulfillmentStage(checker FulfillmentChecker) *FulfillmentStage {
	return &FulfillmentStage{checker: checker}
}

// Name identifies the stage.
func (s *FulfillmentStage) Name() string { return "fulfillment" }

// Run checks each order line. The first checker error aborts the stage; the
// availability gathered so far stays on the state.
func (s *FulfillmentStage) Run(ctx context.Context, state *State) error {
	if state.Fulfillment == nil {
		state.Fulfillment = make(map[string]Availability, len(state.Products))
	}
	for _, item := range state.Products {
		availability, err := s.checker.Check(ctx, item)
		if err != nil {
			return fmt.Errorf("check %q: %w", item.Product, err)
		}
		state.Fulfillment[item.Product] = availability
	}
	return nil
}

// Match is one catalog hit for an ordered product.
type Match struct {
	SKU   string  `json:"sku"`
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// Matcher searches the product catalog.
type Matcher interface {
	Match(ctx context.Context, query string) ([]Match, error)
}

// SearchStage resolves each ordered product name against the catalog.
type SearchStage struct {
	matcher Matcher
}

// NewSearchStage creates the catalog matching stage.
func NewSearchStage(matcher Matcher) *SearchStage {
	return &SearchStage{matcher: matcher}
}

// Name identifies the stage.
func (s *SearchStage) Name() string { return "search" }

func (s *SearchStage) Run(ctx context.Context, state *State) error {
	if state.Matches == nil {
		state.Matches = make(map[string][]Match, len(state.Products))
	}
	for _, item := range state.Products {
		matches, err := s.matcher.Match(ctx, item.Product)
		if err != nil {
			return fmt.Errorf("match %q: %w", item.Product, err)
		}
		state.Matches[item.Product] = matches
	}
	return nil
}

// CatalogEntry is one product the in-memory catalog knows about.
type CatalogEntry struct {
	SKU  string
	Name string
}

// MemoryCatalog is a Matcher and FulfillmentChecker over a fixed product
// list. It scores matches by word overlap between the query and the entry
// name.
type MemoryCatalog struct {
	entries []CatalogEntry
	stock   map[string]Availability // keyed by SKU
}

// NewMemoryCatalog creates an in-memory catalog.
func NewMemoryCatalog(entries []CatalogEntry) *MemoryCatalog {
	return &MemoryCatalog{
		entries: entries,
		stock:   make(map[string]Availability),
	}
}

// SetStock records availability for a SKU.
func (c *MemoryCatalog) SetStock(sku string, availability Availability) {
	c.stock[sku] = availability
}

func (c *MemoryCatalog) Match(_ context.Context, query string) ([]Match, error) {
	queryWords := splitWords(query)
	if len(queryWords) == 0 {
		return nil, nil
	}

	var matches []Match
	for _, entry := range c.entries {
		score := overlap(queryWords, splitWords(entry.Name))
		if score > 0 {
			matches = append(matches, Match{SKU: entry.SKU, Name: entry.Name, Score: score})
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	return matches, nil
}

func (c *MemoryCatalog) Check(ctx context.Context, item store.ProductOrderItem) (Availability, error) {
	matches, err := c.Match(ctx, item.Product)
	if err != nil || len(matches) == 0 {
		return Availability{}, err
	}
	if availability, ok := c.stock[matches[0].SKU]; ok {
		return availability, nil
	}
	return Availability{}, nil
}

func splitWords(s string) []string {
	return strings.Fields(strings.ToLower(s))
}

// overlap is the fraction of query words present in the candidate words.
func overlap(query, candidate []string) float64 {
	if len(query) == 0 {
		return 0
	}
	set := make(map[string]bool, len(candidate))
	for _, w := range candidate {
		set[w] = true
	}
	hits := 0
	for _, w := range query {
		if set[w] {
			hits++
		}
	}
	return float64(hits) / float64(len(query))
}
