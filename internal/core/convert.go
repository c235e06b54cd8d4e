package core

// convert.go moves rows in and out of a frame and turns raw CSV cells into
// typed values.
//
// CSV cells are messy: currency symbols, thousands separators, accounting
// negatives "(12.50)", Excel formula prefixes (="value"). Cells that still do
// not parse become missing values; the caller decides whether to warn.

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/JonMunkholm/convpipe/internal/enrich"
	"github.com/JonMunkholm/convpipe/internal/frame"
)

var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

var (
	errNotNumber  = errors.New("invalid number")
	errNegative   = errors.New("negative value")
	errNotWhole   = errors.New("not a whole number")
	errOutOfRange = errors.New("number out of range")
)

var inputColumns = []string{
	enrich.ColIPAddress,
	enrich.ColMarketingChannel,
	enrich.ColPurchase,
	enrich.ColState,
	enrich.ColTimeSpentSeconds,
}

// maxSeconds is the largest value the INTEGER column holds.
var maxSeconds = decimal.NewFromInt(math.MaxInt32)

// Enrich runs p over rows and returns the enriched rows in input order.
// rows is not modified.
func Enrich(p *enrich.Pipeline, rows []Row) ([]EnrichedRow, error) {
	f := toFrame(rows)
	if err := p.Run(f); err != nil {
		return nil, err
	}
	return fromFrame(f)
}

func toFrame(rows []Row) *frame.Frame {
	f := frame.New(inputColumns...)
	for _, r := range rows {
		f.Append(frame.Record{
			enrich.ColIPAddress:        r.IPAddress,
			enrich.ColMarketingChannel: r.MarketingChannel,
			enrich.ColPurchase:         deref(r.Purchase),
			enrich.ColState:            r.State,
			enrich.ColTimeSpentSeconds: deref(r.TimeSpentSeconds),
		})
	}
	return f
}

func fromFrame(f *frame.Frame) ([]EnrichedRow, error) {
	out := make([]EnrichedRow, 0, f.Len())
	for i, rec := range f.Rows() {
		var (
			row EnrichedRow
			err error
		)
		row.IPAddress, _ = rec[enrich.ColIPAddress].(string)
		row.MarketingChannel, _ = rec[enrich.ColMarketingChannel].(string)
		row.State, _ = rec[enrich.ColState].(string)
		if abbr, ok := rec[enrich.ColStateAbbreviation].(string); ok {
			row.StateAbbreviation = &abbr
		}

		if row.Purchase, err = optFloat(rec[enrich.ColPurchase]); err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		if row.PurchaseNormalized, err = optFloat(rec[enrich.ColPurchaseNormalized]); err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		secs, err := optFloat(rec[enrich.ColTimeSpentSeconds])
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		if secs != nil {
			// A filled median may be fractional; the column is an integer.
			v := int64(math.Round(*secs))
			row.TimeSpentSeconds = &v
		}

		row.Converted, err = flagValue(rec[enrich.ColConverted])
		if err == nil {
			row.Percentile85State, err = flagValue(rec[enrich.ColPercentile85State])
		}
		if err == nil {
			row.Percentile85National, err = flagValue(rec[enrich.ColPercentile85National])
		}
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out = append(out, row)
	}
	return out, nil
}

func optFloat(v any) (*float64, error) {
	f, ok, err := frame.ToFloat(v)
	if err != nil || !ok {
		return nil, err
	}
	return &f, nil
}

func flagValue(v any) (int64, error) {
	f, _, err := frame.ToFloat(v)
	return int64(f), err
}

// CleanCell removes common CSV artifacts from a cell value: surrounding
// whitespace, the Excel formula wrapper ="..." and one pair of quotes.
func CleanCell(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, `="`) && strings.HasSuffix(s, `"`) && len(s) >= 3 {
		s = s[2 : len(s)-1]
	}
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	return strings.TrimSpace(s)
}

// ParseAmount parses a non-negative money amount such as "$1,234.50".
// Empty input yields (nil, nil).
func ParseAmount(s string) (*float64, error) {
	d, err := parseDecimal(s)
	if err != nil || d == nil {
		return nil, err
	}
	if d.IsNegative() {
		return nil, errNegative
	}
	f := d.InexactFloat64()
	return &f, nil
}

// ParseSeconds parses a non-negative whole number of seconds. "120.0" is
// accepted; "120.5" is not. Empty input yields (nil, nil).
func ParseSeconds(s string) (*int64, error) {
	d, err := parseDecimal(s)
	if err != nil || d == nil {
		return nil, err
	}
	if d.IsNegative() {
		return nil, errNegative
	}
	if !d.Equal(d.Truncate(0)) {
		return nil, errNotWhole
	}
	if d.GreaterThan(maxSeconds) {
		return nil, errOutOfRange
	}
	v := d.IntPart()
	return &v, nil
}

// parseDecimal handles currency symbols, thousands separators and the
// accounting negative format "(123.45)".
func parseDecimal(s string) (*decimal.Decimal, error) {
	s = CleanCell(s)
	if s == "" {
		return nil, nil
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	s = strings.NewReplacer("$", "", "€", "", "£", "", ",", "").Replace(s)
	s = strings.TrimSpace(s)
	if negative {
		s = "-" + s
	}

	if !numericRegex.MatchString(s) {
		return nil, fmt.Errorf("%w: %q", errNotNumber, s)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", errNotNumber, s)
	}
	return &d, nil
}
