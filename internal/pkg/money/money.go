package money

import (
	"strings"

	"github.com/shopspring/decimal"
)

// zeroDecimalCurrencies have no minor unit (amount 500 JPY is sent as 500).
var zeroDecimalCurrencies = map[string]struct{}{
	"BIF": {}, "CLP": {}, "DJF": {}, "GNF": {}, "JPY": {}, "KMF": {}, "KRW": {},
	"MGA": {}, "PYG": {}, "RWF": {}, "UGX": {}, "VND": {}, "VUV": {}, "XAF": {},
	"XOF": {}, "XPF": {},
}

// NormalizeCurrency returns the ISO 4217 code in upper case.
func NormalizeCurrency(currency string) string {
	return strings.ToUpper(strings.TrimSpace(currency))
}

// Exponent returns the number of minor-unit digits for a currency.
func Exponent(currency string) int32 {
	if _, ok := zeroDecimalCurrencies[NormalizeCurrency(currency)]; ok {
		return 0
	}
	return 2
}

// ToMinor converts an amount to provider minor units (cents), rounding half away from zero.
func ToMinor(amount decimal.Decimal, currency string) int64 {
	exp := Exponent(currency)
	return amount.Shift(exp).Round(0).IntPart()
}

// FromMinor converts provider minor units back to a decimal amount.
func FromMinor(minor int64, currency string) decimal.Decimal {
	return decimal.New(minor, -Exponent(currency))
}

// Parse reads a provider string amount such as "25.00".
func Parse(value string) (decimal.Decimal, error) {
	return decimal.NewFromString(strings.TrimSpace(value))
}

// Format renders an amount with the currency's fixed number of decimals.
func Format(amount decimal.Decimal, currency string) string {
	return amount.StringFixed(Exponent(currency))
}

// Matches reports whether two amounts agree within half a minor unit of the
// currency and the currencies are the same.
func Matches(expected decimal.Decimal, expectedCurrency string, actual decimal.Decimal, actualCurrency string) bool {
	if NormalizeCurrency(expectedCurrency) != NormalizeCurrency(actualCurrency) {
		return false
	}
	half := decimal.New(5, -Exponent(expectedCurrency)-1)
	return expected.Sub(actual).Abs().LessThan(half)
}

// LineTotal returns price * quantity.
func LineTotal(price decimal.Decimal, quantity int) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(int64(quantity)))
}
