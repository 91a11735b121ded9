package utils

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestConvertToUSDPassesUSDThrough(t *testing.T) {
	amount := decimal.RequireFromString("600.125")
	if got := ConvertToUSD(amount, "usd"); !got.Equal(amount) {
		t.Errorf("ConvertToUSD(USD) = %s, want %s", got, amount)
	}
}

func TestConvertToUSDUsesTable(t *testing.T) {
	got := ConvertToUSD(decimal.NewFromInt(140000), "RWF")
	if !got.Equal(decimal.NewFromInt(100)) {
		t.Errorf("140000 RWF = %s USD, want 100", got)
	}
}

func TestConvertToUSDFallsBackToDefaultCurrency(t *testing.T) {
	amount := decimal.NewFromInt(2800)
	got := ConvertToUSD(amount, "XYZ")
	want := ConvertToUSD(amount, DefaultCurrency)
	if !got.Equal(want) {
		t.Errorf("unsupported code = %s, want default-rate %s", got, want)
	}
}

func TestCurrencyConverterFallback(t *testing.T) {
	conv, err := NewCurrencyConverter("eur")
	if err != nil {
		t.Fatalf("NewCurrencyConverter: %v", err)
	}
	got := conv.ToUSD(decimal.RequireFromString("92"), "???")
	if !got.Equal(decimal.NewFromInt(100)) {
		t.Errorf("fallback EUR conversion = %s, want 100", got)
	}

	if _, err := NewCurrencyConverter("ABC"); err == nil {
		t.Error("expected error for unsupported default currency")
	}
}

func TestFormatMoney(t *testing.T) {
	got := FormatMoney(decimal.NewFromInt(600), "USD")
	if !strings.Contains(got, "600") {
		t.Errorf("FormatMoney = %q, want amount in output", got)
	}
}
