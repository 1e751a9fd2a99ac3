package oracle

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// PriceDecimals is the number of implied decimals in the on-chain price.
const PriceDecimals = 2

// FormatPrice rounds a decimal price string half away from zero to
// PriceDecimals places, e.g. "1234.565" -> "1234.57", "1234.5" -> "1234.50".
func FormatPrice(price string) (string, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(price))
	if err != nil {
		return "", fmt.Errorf("invalid price %q: %w", price, err)
	}
	return d.StringFixed(PriceDecimals), nil
}

// ToFixedPoint converts a decimal price string to the contract's integer
// representation: the price rounded as in FormatPrice, scaled by 100.
func ToFixedPoint(price string) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(price))
	if err != nil {
		return nil, fmt.Errorf("invalid price %q: %w", price, err)
	}
	return d.Round(PriceDecimals).Shift(PriceDecimals).BigInt(), nil
}
