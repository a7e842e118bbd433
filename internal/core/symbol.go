package core

import (
	"errors"
	"fmt"
	"strings"
)

// MaxSymbolLength bounds ticker symbols accepted at every boundary.
const MaxSymbolLength = 10

// ErrInvalidSymbol is returned for malformed ticker symbols.
var ErrInvalidSymbol = errors.New("invalid symbol")

// NormalizeSymbol trims and uppercases a symbol, then validates it.
func NormalizeSymbol(raw string) (string, error) {
	symbol := strings.ToUpper(strings.TrimSpace(raw))
	if err := ValidateSymbol(symbol); err != nil {
		return "", err
	}
	return symbol, nil
}

// ValidateSymbol reports whether symbol is 1-10 uppercase ASCII letters.
func ValidateSymbol(symbol string) error {
	if symbol == "" || len(symbol) > MaxSymbolLength {
		return fmt.Errorf("%w: %q must be 1-%d letters", ErrInvalidSymbol, symbol, MaxSymbolLength)
	}
	for _, r := range symbol {
		if r < 'A' || r > 'Z' {
			return fmt.Errorf("%w: %q must contain only uppercase letters", ErrInvalidSymbol, symbol)
		}
	}
	return nil
}
