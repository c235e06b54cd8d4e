// Package schema describes the CSV layout accepted by the batch loader.
package schema

import "strings"

// FieldType is the expected data type of a CSV column.
type FieldType int

const (
	FieldText FieldType = iota
	FieldNumeric
	FieldInteger
)

func (t FieldType) String() string {
	switch t {
	case FieldNumeric:
		return "numeric"
	case FieldInteger:
		return "integer"
	default:
		return "text"
	}
}

// FieldSpec defines the rules for one CSV column.
type FieldSpec struct {
	Name     string    // Header name, matched case-insensitively
	Type     FieldType // Expected data type; selects the cell parser
	Required bool      // Column must exist in the header
}

// ConversionFieldSpecs are the columns of a conversion export.
var ConversionFieldSpecs = []FieldSpec{
	{Name: "ip_address", Type: FieldText, Required: true},
	{Name: "marketing_channel", Type: FieldText, Required: true},
	{Name: "purchase", Type: FieldNumeric},
	{Name: "state", Type: FieldText, Required: true},
	{Name: "time_spent_seconds", Type: FieldInteger},
}

// MissingColumns returns the required spec names absent from header.
func MissingColumns(specs []FieldSpec, header []string) []string {
	seen := make(map[string]bool, len(header))
	for _, h := range header {
		seen[strings.ToLower(strings.TrimSpace(h))] = true
	}
	var missing []string
	for _, s := range specs {
		if s.Required && !seen[strings.ToLower(s.Name)] {
			missing = append(missing, s.Name)
		}
	}
	return missing
}
