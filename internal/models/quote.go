package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PriceQuote is a single price observation from the external feed.
type PriceQuote struct {
	Symbol    string    `json:"symbol"`
	Price     string    `json:"price"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Validate checks that the quote carries a symbol and a parseable decimal price.
func (q *PriceQuote) Validate() error {
	if q.Symbol == "" {
		return errors.New("quote symbol must not be empty")
	}
	if q.Price == "" {
		return errors.New("quote price must not be empty")
	}
	if _, err := decimal.NewFromString(q.Price); err != nil {
		return fmt.Errorf("quote price %q is not a decimal: %w", q.Price, err)
	}
	return nil
}
