package payments

import (
	"errors"
	"math"
	"strings"
)

// Default contribution bounds in decimal major units, inclusive.
const (
	DefaultMinAmount = 1.00
	DefaultMaxAmount = 10000.00
)

var (
	ErrAmountNotANumber    = errors.New("amount is not a valid number")
	ErrAmountBelowMinimum  = errors.New("amount is below the minimum contribution")
	ErrAmountAboveMaximum  = errors.New("amount is above the maximum contribution")
	ErrCurrencyUnsupported = errors.New("currency is not supported")
)

// DefaultCurrencies is the currency allow-list used when the environment does
// not configure one.
var DefaultCurrencies = []string{"usd", "eur", "gbp", "cad", "aud"}

// AmountLimits holds the configured contribution bounds. The zero value is
// not usable; construct with NewAmountLimits.
type AmountLimits struct {
	Min        float64
	Max        float64
	Currencies []string
}

// NewAmountLimits normalizes the configured bounds, falling back to defaults
// for unset values.
func NewAmountLimits(min, max float64, currencies []string) AmountLimits {
	if min <= 0 {
		min = DefaultMinAmount
	}
	if max <= 0 {
		max = DefaultMaxAmount
	}
	if len(currencies) == 0 {
		currencies = DefaultCurrencies
	}
	normalized := make([]string, 0, len(currencies))
	for _, c := range currencies {
		c = strings.ToLower(strings.TrimSpace(c))
		if c != "" {
			normalized = append(normalized, c)
		}
	}
	return AmountLimits{Min: min, Max: max, Currencies: normalized}
}

// ValidateAmount checks a contribution amount in decimal major units against
// the configured inclusive bounds. Pure; no side effects.
func (l AmountLimits) ValidateAmount(amount float64) error {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return ErrAmountNotANumber
	}
	if amount < l.Min {
		return ErrAmountBelowMinimum
	}
	if amount > l.Max {
		return ErrAmountAboveMaximum
	}
	return nil
}

// ValidateCurrency checks a currency code against the allow-list. Pure.
func (l AmountLimits) ValidateCurrency(code string) error {
	c := strings.ToLower(strings.TrimSpace(code))
	for _, allowed := range l.Currencies {
		if c == allowed {
			return nil
		}
	}
	return ErrCurrencyUnsupported
}

// ToMinorUnits converts a decimal major-unit amount to integer minor units
// (cents). Together with FromMinorUnits it is one of exactly two conversion
// points in the codebase; converting anywhere else risks rounding drift.
func ToMinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// FromMinorUnits converts integer minor units back to a decimal major-unit
// amount. See ToMinorUnits.
func FromMinorUnits(minor int64) float64 {
	return float64(minor) / 100
}
