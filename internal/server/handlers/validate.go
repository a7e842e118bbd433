package handlers

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/quotelens/quotelens/internal/core"
)

// MaxNotesLength caps watchlist notes, in characters.
const MaxNotesLength = 500

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// ticker accepts anything NormalizeSymbol accepts, so "aapl" is valid.
	_ = v.RegisterValidation("ticker", func(fl validator.FieldLevel) bool {
		_, err := core.NormalizeSymbol(fl.Field().String())
		return err == nil
	})
	return v
}

// validateRequest checks body against its validate tags and reports the
// first failure as a readable message.
func validateRequest(body interface{}) error {
	err := validate.Struct(body)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%s is required", field)
	case "max":
		return fmt.Errorf("%s must be at most %s characters", field, fe.Param())
	case "ticker":
		return fmt.Errorf("%s must be 1-%d letters", field, core.MaxSymbolLength)
	default:
		return fmt.Errorf("%s failed %s validation", field, fe.Tag())
	}
}
