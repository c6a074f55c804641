package scrape

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks the stored-config invariants. An empty CategoryURL is
// allowed here; runs reject it separately via ValidateForRun.
func (c ScraperConfig) Validate() error {
	err := structValidator().Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, describeFieldError(fe))
	}
	return &ValidationError{Fields: fields}
}

// ValidateForRun additionally requires a target URL.
func (c ScraperConfig) ValidateForRun() error {
	if strings.TrimSpace(c.CategoryURL) == "" {
		return &ValidationError{Fields: []string{"categoryUrl is required"}}
	}
	return c.Validate()
}

func describeFieldError(fe validator.FieldError) string {
	name := jsonFieldName(fe.StructField())
	switch fe.Tag() {
	case "url":
		return name + " must be an absolute URL"
	case "ltefield":
		return name + " must be <= " + jsonFieldName(fe.Param())
	case "gte":
		return name + " must be >= " + fe.Param()
	case "gt":
		return name + " must be > " + fe.Param()
	default:
		return name + " failed " + fe.Tag()
	}
}

func jsonFieldName(structField string) string {
	switch structField {
	case "CategoryURL":
		return "categoryUrl"
	case "":
		return structField
	default:
		return strings.ToLower(structField[:1]) + structField[1:]
	}
}
