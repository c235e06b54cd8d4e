package enrich

import (
	"fmt"
	"slices"

	"github.com/JonMunkholm/convpipe/internal/frame"
)

// Column names read and written by the default pipeline.
const (
	ColIPAddress            = "ip_address"
	ColMarketingChannel     = "marketing_channel"
	ColPurchase             = "purchase"
	ColState                = "state"
	ColTimeSpentSeconds     = "time_spent_seconds"
	ColConverted            = "converted"
	ColStateAbbreviation    = "state_abbreviation"
	ColPurchaseNormalized   = "purchase_normalized"
	ColPercentile85State    = "percentile_85_state"
	ColPercentile85National = "percentile_85_national"
)

// NormalizedSuffix is appended to a column name by AddNormalized.
const NormalizedSuffix = "_normalized"

// Step is one named transformation over a frame.
type Step struct {
	Name  string
	Apply func(f *frame.Frame) error
}

// AddConverted sets converted to 1 where purchase is present and 0 otherwise.
func AddConverted() Step {
	return Step{
		Name: "add_converted",
		Apply: func(f *frame.Frame) error {
			if !f.HasColumn(ColPurchase) {
				return fmt.Errorf("%w: %q", frame.ErrNoColumn, ColPurchase)
			}
			return f.AddColumn(ColConverted, func(_ int, r frame.Record) (any, error) {
				return flag(!frame.IsMissing(r[ColPurchase])), nil
			})
		},
	}
}

// AddStateAbbreviation looks up the state column in table. Unknown names
// produce a missing abbreviation.
func AddStateAbbreviation(table StateTable) Step {
	return Step{
		Name: "add_state_abbreviation",
		Apply: func(f *frame.Frame) error {
			if !f.HasColumn(ColState) {
				return fmt.Errorf("%w: %q", frame.ErrNoColumn, ColState)
			}
			return f.AddColumn(ColStateAbbreviation, func(_ int, r frame.Record) (any, error) {
				name, ok := r[ColState].(string)
				if !ok {
					return nil, nil
				}
				if code, ok := table.Lookup(name); ok {
					return code, nil
				}
				return nil, nil
			})
		},
	}
}

// AddNormalized writes the z-score of column into column+"_normalized" using
// the sample standard deviation. Every row is missing when fewer than two
// values are present or all present values are equal.
func AddNormalized(column string) Step {
	return Step{
		Name: "add_normalized(" + column + ")",
		Apply: func(f *frame.Frame) error {
			values, mask, err := f.Floats(column)
			if err != nil {
				return err
			}
			mean, std, ok := meanStd(present(values, mask))
			return f.AddColumn(column+NormalizedSuffix, func(i int, _ frame.Record) (any, error) {
				if !ok || !mask[i] {
					return nil, nil
				}
				return (values[i] - mean) / std, nil
			})
		},
	}
}

// AddPercentileByGroup flags rows whose value is at or above the q-th
// quantile of value within their group. Rows with a missing value, a missing
// group, or a group without values get 0.
func AddPercentileByGroup(groupCol, valueCol, out string, q float64) Step {
	return Step{
		Name: fmt.Sprintf("add_percentile_by_group(%s,%s,%g)", groupCol, valueCol, q),
		Apply: func(f *frame.Frame) error {
			values, mask, err := f.Floats(valueCol)
			if err != nil {
				return err
			}
			groups, err := f.Column(groupCol)
			if err != nil {
				return err
			}

			byGroup := make(map[any][]float64)
			for i, g := range groups {
				if g == nil || !mask[i] {
					continue
				}
				byGroup[g] = append(byGroup[g], values[i])
			}
			thresholds := make(map[any]float64, len(byGroup))
			for g, vs := range byGroup {
				slices.Sort(vs)
				thresholds[g] = Quantile(vs, q)
			}

			return f.AddColumn(out, func(i int, _ frame.Record) (any, error) {
				if !mask[i] || groups[i] == nil {
					return 0, nil
				}
				t, ok := thresholds[groups[i]]
				return flag(ok && values[i] >= t), nil
			})
		},
	}
}

// AddPercentile flags rows whose value is at or above the q-th quantile of
// value across the whole frame.
func AddPercentile(valueCol, out string, q float64) Step {
	return Step{
		Name: fmt.Sprintf("add_percentile(%s,%g)", valueCol, q),
		Apply: func(f *frame.Frame) error {
			values, mask, err := f.Floats(valueCol)
			if err != nil {
				return err
			}
			sorted := present(values, mask)
			slices.Sort(sorted)
			threshold := Quantile(sorted, q)

			return f.AddColumn(out, func(i int, _ frame.Record) (any, error) {
				return flag(mask[i] && values[i] >= threshold), nil
			})
		},
	}
}

// FillMissingWithMedian replaces missing entries of column with the median of
// its present values. A column with no present values is left as is.
func FillMissingWithMedian(column string) Step {
	return Step{
		Name: "fill_missing_with_median(" + column + ")",
		Apply: func(f *frame.Frame) error {
			values, mask, err := f.Floats(column)
			if err != nil {
				return err
			}
			vs := present(values, mask)
			if len(vs) == 0 {
				return nil
			}
			return f.FillMissing(column, Median(vs))
		},
	}
}

func flag(b bool) int {
	if b {
		return 1
	}
	return 0
}
