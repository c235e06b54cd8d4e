package core

// validation.go checks request rows against the struct tags on Row.
//
// Every row is checked and every violation collected, so a client sees all
// problems with a batch in one response rather than fixing them one by one.
// Request bodies are rejected as a whole; rows from a CSV file are rejected
// one at a time and the rest of the file is still stored.

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report JSON names (ip_address) instead of Go field names (IPAddress).
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ValidateRows checks each row and returns a *ValidationError listing every
// violation, or nil.
func ValidateRows(rows []Row) error {
	var fields []FieldError
	for i := range rows {
		errs, err := validateRow(i, rows[i])
		if err != nil {
			return err
		}
		fields = append(fields, errs...)
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// partitionRows splits rows into the positions that pass validation and a
// failure for each row that does not. Failures are in row order.
func partitionRows(rows []Row) ([]int, []RowFailure, error) {
	accepted := make([]int, 0, len(rows))
	var rejected []RowFailure
	for i := range rows {
		errs, err := validateRow(i, rows[i])
		if err != nil {
			return nil, nil, err
		}
		if len(errs) == 0 {
			accepted = append(accepted, i)
			continue
		}
		verr := &ValidationError{Fields: errs}
		rejected = append(rejected, RowFailure{
			Row:   i,
			Line:  rows[i].Line,
			Code:  ErrorCode(verr),
			Error: verr.Error(),
		})
	}
	return accepted, rejected, nil
}

// validateRow returns the violations of row, which sits at position i.
func validateRow(i int, row Row) ([]FieldError, error) {
	err := validate.Struct(row)
	if err == nil {
		return nil, nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil, err
	}
	fields := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, FieldError{
			Row:   i,
			Line:  row.Line,
			Field: fe.Field(),
			Rule:  fe.Tag(),
			Param: fe.Param(),
		})
	}
	return fields, nil
}
