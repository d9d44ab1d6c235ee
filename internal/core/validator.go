package core

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"herald/internal/types"
)

// ValidationError is one failed constraint, reported with the JSON field name.
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationResult carries blocking errors and non-blocking warnings.
type ValidationResult struct {
	Errors   []ValidationError `json:"errors,omitempty"`
	Warnings []ValidationError `json:"warnings,omitempty"`
}

// IsValid reports whether there are no blocking errors.
func (r ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// Validator wraps go-playground/validator and registers the domain tags:
//   - is_timezone: loadable IANA zone name
//   - is_identifier: tenant identifier pattern
//   - is_domain: DNS delivery domain
//   - is_channel: EMAIL, SMS or PUSH
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator creates a Validator with the custom tags registered.
func NewValidator(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	mustRegister(v, "is_timezone", validateTimezone)
	mustRegister(v, "is_identifier", func(fl validator.FieldLevel) bool {
		return types.ValidateIdentifier(fl.Field().String()) == nil
	})
	mustRegister(v, "is_domain", func(fl validator.FieldLevel) bool {
		return types.ValidateDomain(fl.Field().String()) == nil
	})
	mustRegister(v, "is_channel", func(fl validator.FieldLevel) bool {
		return types.Channel(fl.Field().String()).Valid()
	})

	return &Validator{validate: v, logger: logger}
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("core: register validation %q: %v", tag, err))
	}
}

// validateTimezone accepts an empty value so optional zones can omit it;
// combine with required when the zone is mandatory.
func validateTimezone(fl validator.FieldLevel) bool {
	tz := fl.Field().String()
	if tz == "" {
		return true
	}
	_, err := time.LoadLocation(tz)
	return err == nil
}

// ValidateStruct validates s and returns an *types.AppError whose code is
// that of the first failure. Details carry field, reason and the full list.
func (v *Validator) ValidateStruct(s any) error {
	result := v.ValidateStructWithWarnings(s)
	if result.IsValid() {
		return nil
	}
	first := result.Errors[0]
	return types.NewAppErrorWithDetails(
		types.ErrorCode(first.Code),
		fmt.Sprintf("%s: %s", first.Field, first.Message),
		nil,
		map[string]any{
			"field":             first.Field,
			"reason":            first.Message,
			"validation_errors": result.Errors,
		},
	)
}

// ValidateStructWithWarnings runs validation and collects every failure.
func (v *Validator) ValidateStructWithWarnings(s any) ValidationResult {
	var result ValidationResult

	err := v.validate.Struct(s)
	if err == nil {
		return result
	}

	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		v.logger.Error("validator invoked on non-struct", "error", err)
		result.Errors = append(result.Errors, ValidationError{
			Field:   "",
			Code:    string(types.ErrCodeValidationInvalidField),
			Message: "request body is invalid",
		})
		return result
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		result.Errors = append(result.Errors, ValidationError{
			Code:    string(types.ErrCodeValidationInvalidField),
			Message: err.Error(),
		})
		return result
	}

	for _, fe := range fieldErrs {
		result.Errors = append(result.Errors, ValidationError{
			Field:   fieldPath(fe),
			Code:    tagToErrorCode(fe.Tag()),
			Message: tagMessage(fe),
		})
	}
	return result
}

// fieldPath drops the top-level struct name from the namespace.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func tagToErrorCode(tag string) string {
	switch tag {
	case "required", "required_if", "required_unless", "required_with":
		return string(types.ErrCodeValidationMissingField)
	case "email":
		return string(types.ErrCodeValidationInvalidEmail)
	case "e164":
		return string(types.ErrCodeValidationInvalidPhone)
	case "is_timezone":
		return string(types.ErrCodeValidationInvalidTimezone)
	case "is_identifier":
		return string(types.ErrCodeValidationInvalidID)
	case "is_domain", "fqdn", "hostname":
		return string(types.ErrCodeValidationInvalidDomain)
	case "is_channel":
		return string(types.ErrCodeValidationInvalidChannel)
	case "max":
		return string(types.ErrCodeValidationFieldTooLong)
	default:
		return string(types.ErrCodeValidationInvalidField)
	}
}

func tagMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if", "required_unless", "required_with":
		return "is required"
	case "email":
		return "is not a valid email address"
	case "e164":
		return "must be an E.164 number"
	case "is_timezone":
		return "is not a known IANA time zone"
	case "is_identifier":
		return "must be 3-63 lowercase letters, digits, '-' or '_'"
	case "is_domain":
		return "is not a valid domain"
	case "is_channel":
		return "must be one of EMAIL, SMS, PUSH"
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of %s", fe.Param())
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}
