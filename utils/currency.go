package utils

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// DefaultCurrency is used for amounts whose currency is unknown.
const DefaultCurrency = "RWF"

// unitsPerUSD is a static table: how many units of a currency buy one USD.
var unitsPerUSD = map[string]decimal.Decimal{
	"USD": decimal.NewFromInt(1),
	"RWF": decimal.NewFromInt(1400),
	"EUR": decimal.RequireFromString("0.92"),
	"GBP": decimal.RequireFromString("0.79"),
	"KES": decimal.NewFromInt(129),
	"UGX": decimal.NewFromInt(3700),
	"TZS": decimal.NewFromInt(2600),
	"NGN": decimal.NewFromInt(1550),
	"ZAR": decimal.RequireFromString("18.5"),
	"GHS": decimal.RequireFromString("15.5"),
}

// SupportedCurrency reports whether code has a rate.
func SupportedCurrency(code string) bool {
	_, ok := unitsPerUSD[normalizeCode(code)]
	return ok
}

// CurrencyConverter converts with a configurable fallback currency.
type CurrencyConverter struct {
	fallback string
}

func NewCurrencyConverter(fallback string) (*CurrencyConverter, error) {
	fallback = normalizeCode(fallback)
	if !SupportedCurrency(fallback) {
		return nil, fmt.Errorf("unsupported default currency %q", fallback)
	}
	return &CurrencyConverter{fallback: fallback}, nil
}

// ToUSD converts amount from code. USD passes through untouched; unknown
// codes use the fallback currency's rate. Results are rounded to cents.
func (c *CurrencyConverter) ToUSD(amount decimal.Decimal, code string) decimal.Decimal {
	code = normalizeCode(code)
	if code == "USD" {
		return amount
	}
	rate, ok := unitsPerUSD[code]
	if !ok {
		rate = unitsPerUSD[c.fallback]
	}
	return amount.Div(rate).Round(2)
}

var defaultConverter = &CurrencyConverter{fallback: DefaultCurrency}

// ConvertToUSD converts with the platform default fallback.
func ConvertToUSD(amount decimal.Decimal, code string) decimal.Decimal {
	return defaultConverter.ToUSD(amount, code)
}

// FormatMoney renders amount for notification text, e.g. "$ 600.00".
func FormatMoney(amount decimal.Decimal, code string) string {
	unit, err := currency.ParseISO(normalizeCode(code))
	if err != nil {
		unit = currency.USD
	}
	f, _ := amount.Float64()
	p := message.NewPrinter(language.English)
	return p.Sprint(currency.Symbol(unit.Amount(f)))
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
