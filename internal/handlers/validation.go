package handlers

import (
	"fmt"
	"strings"

	"bizledger/internal/money"
	"bizledger/internal/services"
)

// parseAmount reads a decimal rupee string. Sign and range checks belong to
// the service so the rules live in one place.
func parseAmount(field, raw string) (int64, error) {
	if strings.TrimSpace(raw) == "" {
		return 0, nil
	}
	amount, err := money.ParseMinor(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %v", services.ErrValidation, field, err)
	}
	return amount, nil
}
