package form

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ValidationError reports a selection that cannot be sent to the predictor.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Field + " " + e.Reason
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their wire names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// Validate checks that every field is set, kms_driven is non-negative, and
// each value is present in the catalog, including the (company, model) pair.
func (c *Controller) Validate(sel Selection) error {
	if err := validate.Struct(sel); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return fromFieldError(fieldErrs[0])
		}
		return &ValidationError{Field: "selection", Reason: err.Error()}
	}

	switch {
	case !c.catalog.HasCompany(sel.Company):
		return &ValidationError{Field: "company", Reason: fmt.Sprintf("%q is not in the catalog", sel.Company)}
	case !c.catalog.HasModel(sel.Company, sel.Model):
		return &ValidationError{Field: "name", Reason: fmt.Sprintf("%q is not a %s model", sel.Model, sel.Company)}
	case !c.catalog.HasFuelType(sel.FuelType):
		return &ValidationError{Field: "fuel_type", Reason: fmt.Sprintf("%q is not in the catalog", sel.FuelType)}
	case !c.catalog.HasYear(sel.Year):
		return &ValidationError{Field: "year", Reason: fmt.Sprintf("%d is not in the catalog", sel.Year)}
	}
	return nil
}

func fromFieldError(fe validator.FieldError) *ValidationError {
	switch fe.Tag() {
	case "required":
		return &ValidationError{Field: fe.Field(), Reason: "is required"}
	case "gte":
		return &ValidationError{Field: fe.Field(), Reason: "must be " + fe.Param() + " or greater"}
	}
	return &ValidationError{Field: fe.Field(), Reason: "failed " + fe.Tag() + " check"}
}
