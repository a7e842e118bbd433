package chat

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

const (
	MaxMessageLength = 2000
	MaxContextLength = 1000
)

// ErrInvalidMessage wraps every validation failure.
var ErrInvalidMessage = errors.New("invalid chat message")

var tickerPattern = regexp.MustCompile(`^[A-Z]{1,10}$`)

// Input is one chat send as accepted by the HTTP API and CLI.
type Input struct {
	Message string `json:"message" validate:"required,max=2000"`
	Symbol  string `json:"symbol,omitempty" validate:"omitempty,ticker"`
	Context string `json:"context,omitempty" validate:"max=1000"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("ticker", func(fl validator.FieldLevel) bool {
		return tickerPattern.MatchString(fl.Field().String())
	})
	return v
}

// Validate checks in after sanitizing it. Lengths count characters, not bytes.
func Validate(in Input) (Input, error) {
	in.Message = Sanitize(in.Message)
	in.Context = Sanitize(in.Context)
	in.Symbol = strings.TrimSpace(in.Symbol)

	if err := validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return in, fmt.Errorf("%w: %s", ErrInvalidMessage, describe(verrs[0]))
		}
		return in, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return in, nil
}

// Sanitize drops control characters other than newline and tab and trims
// surrounding whitespace.
func Sanitize(s string) string {
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}

func describe(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "ticker":
		return field + " must be 1-10 uppercase letters"
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}
