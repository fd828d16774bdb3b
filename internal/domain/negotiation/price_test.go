package negotiation

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestResolvePriceOverrideWins(t *testing.T) {
	msgs := []Message{{OfferedPrice: dec("100")}, {OfferedPrice: dec("90")}}
	got := ResolvePrice(msgs, dec("85"), decimal.NewFromInt(120))
	if !got.Equal(decimal.NewFromInt(85)) {
		t.Fatalf("expected override 85, got %s", got)
	}
}

func TestResolvePriceMostRecentPriced(t *testing.T) {
	note := "sounds fair"
	msgs := []Message{
		{OfferedPrice: dec("100")},
		{OfferedPrice: dec("90")},
		{Note: &note},
	}
	got := ResolvePrice(msgs, nil, decimal.NewFromInt(120))
	if !got.Equal(decimal.NewFromInt(90)) {
		t.Fatalf("expected 90, got %s", got)
	}
}

func TestResolvePriceFallsBackToInitial(t *testing.T) {
	note := "hello"
	got := ResolvePrice([]Message{{Note: &note}}, nil, decimal.NewFromInt(120))
	if !got.Equal(decimal.NewFromInt(120)) {
		t.Fatalf("expected initial 120, got %s", got)
	}
	got = ResolvePrice(nil, nil, decimal.NewFromInt(7))
	if !got.Equal(decimal.NewFromInt(7)) {
		t.Fatalf("expected initial 7, got %s", got)
	}
}

func TestResolvePriceDeterministic(t *testing.T) {
	msgs := []Message{{OfferedPrice: dec("10.50")}, {OfferedPrice: dec("11.25")}}
	first := ResolvePrice(msgs, nil, decimal.NewFromInt(1))
	for i := 0; i < 10; i++ {
		if got := ResolvePrice(msgs, nil, decimal.NewFromInt(1)); !got.Equal(first) {
			t.Fatalf("run %d: expected %s, got %s", i, first, got)
		}
	}
	if len(msgs) != 2 || !msgs[0].OfferedPrice.Equal(decimal.RequireFromString("10.50")) {
		t.Fatal("messages were modified")
	}
}

func TestCheckPrice(t *testing.T) {
	tests := []struct {
		name  string
		price string
		valid bool
	}{
		{"whole", "95", true},
		{"two places", "95.55", true},
		{"trailing zeros", "95.500", true},
		{"largest", "999999999999.99", true},
		{"zero", "0", false},
		{"negative", "-1", false},
		{"three places", "95.555", false},
		{"at bound", "1000000000000", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckPrice("price", decimal.RequireFromString(tt.price))
			if tt.valid && err != nil {
				t.Fatalf("expected %s to be accepted, got %v", tt.price, err)
			}
			if !tt.valid && !errors.Is(err, ErrValidation) {
				t.Fatalf("expected validation error for %s, got %v", tt.price, err)
			}
		})
	}
}
