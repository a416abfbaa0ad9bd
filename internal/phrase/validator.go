package phrase

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
	enTranslations "github.com/go-playground/validator/v10/translations/en"
)

// ErrInvalid is returned for phrases rejected at the boundary.
var ErrInvalid = errors.New("invalid phrase")

var (
	validatorOnce sync.Once
	validate      *validator.Validate
	translator    ut.Translator
	validatorErr  error
)

func newValidator() (*validator.Validate, ut.Translator, error) {
	v := validator.New()

	enLocale := en.New()
	uni := ut.New(enLocale, enLocale)
	trans, _ := uni.GetTranslator("en")
	if err := enTranslations.RegisterDefaultTranslations(v, trans); err != nil {
		return nil, nil, fmt.Errorf("failed to register default translations: %w", err)
	}

	if err := v.RegisterValidation("notblank", validators.NotBlank); err != nil {
		return nil, nil, fmt.Errorf("failed to register notblank validation: %w", err)
	}
	if err := v.RegisterTranslation("notblank", trans, func(ut ut.Translator) error {
		return ut.Add("notblank", "{0} must not be blank", true)
	}, func(ut ut.Translator, fe validator.FieldError) string {
		t, _ := ut.T("notblank", fe.Field())
		return t
	}); err != nil {
		return nil, nil, fmt.Errorf("failed to register notblank translation: %w", err)
	}
	return v, trans, nil
}

// Validate rejects malformed phrases: blank text fields, out-of-range difficulty,
// negative counters and inconsistent scheduling payloads. Nothing is coerced.
func Validate(p Phrase) error {
	validatorOnce.Do(func() {
		validate, translator, validatorErr = newValidator()
	})
	if validatorErr != nil {
		return validatorErr
	}

	if err := validate.Struct(p); err != nil {
		var validationErrors validator.ValidationErrors
		if !errors.As(err, &validationErrors) {
			return fmt.Errorf("validate.Struct() > %w", err)
		}
		var msgs []string
		for _, e := range validationErrors {
			msgs = append(msgs, e.Translate(translator))
		}
		return fmt.Errorf("%w %q: %s", ErrInvalid, p.ID, strings.Join(msgs, ", "))
	}
	return nil
}
