package core

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/JonMunkholm/convpipe/internal/enrich"
	"github.com/JonMunkholm/convpipe/internal/schema"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// CellWarning reports a cell that could not be parsed and was loaded as a
// missing value.
type CellWarning struct {
	Line   int    `json:"line"`
	Column string `json:"column"`
	Value  string `json:"value"`
	Reason string `json:"reason"`
}

// LoadCSV reads conversion rows from r. The header is matched
// case-insensitively against schema.ConversionFieldSpecs and each cell is
// parsed by its column type. A leading UTF-8 BOM is ignored and bytes that
// are not valid UTF-8 are read as '?'. Unparseable numeric cells become
// missing values and are reported as warnings; a malformed file or a
// missing required column rejects the whole load. Each row carries its CSV
// line. maxRows <= 0 means no limit.
func LoadCSV(r io.Reader, maxRows int) ([]Row, []CellWarning, error) {
	br := bufio.NewReader(r)
	if b, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(b, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}

	sanitizer := newUTF8Sanitizer(br)
	reader := csv.NewReader(sanitizer)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, ErrEmptyBatch
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrCSVParse, err)
	}
	if missing := schema.MissingColumns(schema.ConversionFieldSpecs, header); len(missing) > 0 {
		return nil, nil, fmt.Errorf("%w: %s", ErrMissingColumn, strings.Join(missing, ", "))
	}

	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(CleanCell(h))] = i
	}

	var (
		rows     []Row
		warnings []CellWarning
	)
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", ErrCSVParse, err)
		}
		if maxRows > 0 && len(rows) >= maxRows {
			return nil, nil, fmt.Errorf("%w: limit is %d", ErrTooManyRows, maxRows)
		}
		line, _ := reader.FieldPos(0)

		cell := func(name string) string {
			i, ok := idx[name]
			if !ok || i >= len(record) {
				return ""
			}
			return CleanCell(record[i])
		}
		warn := func(column string, err error) {
			warnings = append(warnings, CellWarning{
				Line:   line,
				Column: column,
				Value:  cell(column),
				Reason: err.Error(),
			})
		}

		row := Row{Line: line}
		for _, spec := range schema.ConversionFieldSpecs {
			if err := setField(&row, spec, cell(spec.Name)); err != nil {
				warn(spec.Name, err)
			}
		}
		rows = append(rows, row)
	}

	if sanitizer.replaced > 0 {
		slog.Warn("csv contained invalid UTF-8", "replaced_bytes", sanitizer.replaced)
	}
	return rows, warnings, nil
}

// setField parses value according to spec.Type and stores it in the Row
// field for spec.Name. A numeric cell that does not parse leaves the field
// missing and returns the parse error.
func setField(row *Row, spec schema.FieldSpec, value string) error {
	dst := rowField(row, spec.Name)
	var err error
	switch spec.Type {
	case schema.FieldNumeric:
		p, ok := dst.(**float64)
		if !ok {
			return fmt.Errorf("column %s is not a numeric field", spec.Name)
		}
		*p, err = ParseAmount(value)
	case schema.FieldInteger:
		p, ok := dst.(**int64)
		if !ok {
			return fmt.Errorf("column %s is not an integer field", spec.Name)
		}
		*p, err = ParseSeconds(value)
	default:
		p, ok := dst.(*string)
		if !ok {
			return fmt.Errorf("column %s is not a text field", spec.Name)
		}
		*p = value
	}
	return err
}

// rowField returns a pointer to the Row field that holds column name, or nil.
func rowField(row *Row, name string) any {
	switch name {
	case enrich.ColIPAddress:
		return &row.IPAddress
	case enrich.ColMarketingChannel:
		return &row.MarketingChannel
	case enrich.ColPurchase:
		return &row.Purchase
	case enrich.ColState:
		return &row.State
	case enrich.ColTimeSpentSeconds:
		return &row.TimeSpentSeconds
	}
	return nil
}
