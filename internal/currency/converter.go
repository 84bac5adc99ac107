// Package currency converts amounts between the currencies the payment
// gateways settle in. Rates are static and USD-referenced; this is a
// display and fraud-scoring aid, not a treasury system.
package currency

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// usdRates holds units of each currency per one USD.
var usdRates = map[string]decimal.Decimal{
	"USD": decimal.RequireFromString("1.0"),
	"EUR": decimal.RequireFromString("0.85"),
	"GBP": decimal.RequireFromString("0.73"),
	"NGN": decimal.RequireFromString("1600"),
	"GHS": decimal.RequireFromString("16"),
	"KES": decimal.RequireFromString("160"),
	"UGX": decimal.RequireFromString("3700"),
	"ZAR": decimal.RequireFromString("18.5"),
}

var symbols = map[string]string{
	"USD": "$",
	"EUR": "€",
	"GBP": "£",
	"NGN": "₦",
	"GHS": "GH₵",
	"KES": "KSh",
	"UGX": "USh",
	"ZAR": "R",
}

type UnsupportedCurrencyError struct {
	Currency string
}

func (e *UnsupportedCurrencyError) Error() string {
	return fmt.Sprintf("unsupported currency: %s", e.Currency)
}

type Converter struct {
	rates map[string]decimal.Decimal
}

func NewConverter() *Converter {
	return &Converter{rates: usdRates}
}

// Convert exchanges amount from one currency to another, rounding to two
// decimal places, half away from zero. Same-currency conversion returns
// the amount untouched, without rounding.
func (c *Converter) Convert(amount decimal.Decimal, from, to string) (decimal.Decimal, error) {
	if from == to {
		return amount, nil
	}
	fromRate, ok := c.rates[from]
	if !ok {
		return decimal.Zero, &UnsupportedCurrencyError{Currency: from}
	}
	toRate, ok := c.rates[to]
	if !ok {
		return decimal.Zero, &UnsupportedCurrencyError{Currency: to}
	}
	return amount.Div(fromRate).Mul(toRate).Round(2), nil
}

// Rate returns the multiplier applied when converting from one currency
// to another.
func (c *Converter) Rate(from, to string) (decimal.Decimal, error) {
	fromRate, ok := c.rates[from]
	if !ok {
		return decimal.Zero, &UnsupportedCurrencyError{Currency: from}
	}
	toRate, ok := c.rates[to]
	if !ok {
		return decimal.Zero, &UnsupportedCurrencyError{Currency: to}
	}
	return toRate.Div(fromRate), nil
}

func (c *Converter) ToUSD(amount decimal.Decimal, from string) (decimal.Decimal, error) {
	return c.Convert(amount, from, "USD")
}

func (c *Converter) IsSupported(currency string) bool {
	_, ok := c.rates[currency]
	return ok
}

func (c *Converter) Supported() []string {
	codes := make([]string, 0, len(c.rates))
	for code := range c.rates {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Format renders an amount with its currency symbol, falling back to the
// ISO code for currencies without one.
func (c *Converter) Format(amount decimal.Decimal, currency string) string {
	if symbol, ok := symbols[currency]; ok {
		return symbol + amount.StringFixed(2)
	}
	return currency + " " + amount.StringFixed(2)
}
