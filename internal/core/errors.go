package core

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCSVParse is returned when a CSV file cannot be parsed. The whole
	// file is rejected.
	ErrCSVParse = errors.New("invalid csv")

	// ErrMissingColumn is returned when a required CSV column is absent.
	ErrMissingColumn = errors.New("missing required column")

	// ErrEmptyBatch is returned for a CSV file without a header row.
	ErrEmptyBatch = errors.New("empty file")

	// ErrTooManyRows is returned when a batch exceeds the configured limit.
	ErrTooManyRows = errors.New("too many rows")
)

// FieldError describes one failed validation rule. Row is the zero-based
// position in the batch; Line is set for rows read from a CSV file.
type FieldError struct {
	Row   int    `json:"row"`
	Line  int    `json:"line,omitempty"`
	Field string `json:"field"`
	Rule  string `json:"rule"`
	Param string `json:"param,omitempty"`
}

func (e FieldError) String() string {
	where := fmt.Sprintf("row %d", e.Row)
	if e.Line > 0 {
		where = fmt.Sprintf("line %d", e.Line)
	}
	if e.Param != "" {
		return fmt.Sprintf("%s: %s failed %s=%s", where, e.Field, e.Rule, e.Param)
	}
	return fmt.Sprintf("%s: %s failed %s", where, e.Field, e.Rule)
}

// ValidationError lists every rule a batch violated.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.String()
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}
