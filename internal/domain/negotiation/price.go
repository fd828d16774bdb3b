package negotiation

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ResolvePrice returns override when given, else the most recent priced
// message, else initial.
func ResolvePrice(messages []Message, override *decimal.Decimal, initial decimal.Decimal) decimal.Decimal {
	if override != nil {
		return *override
	}
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].OfferedPrice != nil {
			return *messages[i].OfferedPrice
		}
	}
	return initial
}

// PriceScale is the number of decimal places a price may carry.
const PriceScale = 2

// MaxPrice is the exclusive upper bound for any stored amount.
var MaxPrice = decimal.New(1, 12)

// CheckPrice rejects amounts that are not positive, carry more than
// PriceScale decimal places, or reach MaxPrice.
func CheckPrice(label string, p decimal.Decimal) error {
	if !p.IsPositive() {
		return fmt.Errorf("%w: %s must be positive", ErrValidation, label)
	}
	if !p.Equal(p.Truncate(PriceScale)) {
		return fmt.Errorf("%w: %s allows at most %d decimal places", ErrValidation, label, PriceScale)
	}
	if p.GreaterThanOrEqual(MaxPrice) {
		return fmt.Errorf("%w: %s must be below %s", ErrValidation, label, MaxPrice.String())
	}
	return nil
}
