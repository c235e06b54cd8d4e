package enrich

import (
	"slices"

	"github.com/JonMunkholm/convpipe/internal/frame"
)

// ColumnSummary holds descriptive statistics for one numeric column.
// Statistics that are undefined for the data are nil.
type ColumnSummary struct {
	Column string   `json:"column"`
	Count  int      `json:"count"`
	Mean   *float64 `json:"mean"`
	Std    *float64 `json:"std"`
	Min    *float64 `json:"min"`
	Q25    *float64 `json:"25%"`
	Median *float64 `json:"50%"`
	Q75    *float64 `json:"75%"`
	Max    *float64 `json:"max"`
}

// Describe summarizes each named numeric column over its present values.
// Columns the frame lacks are skipped.
func Describe(f *frame.Frame, columns ...string) ([]ColumnSummary, error) {
	out := make([]ColumnSummary, 0, len(columns))
	for _, col := range columns {
		if !f.HasColumn(col) {
			continue
		}
		values, mask, err := f.Floats(col)
		if err != nil {
			return nil, err
		}
		vs := present(values, mask)
		s := ColumnSummary{Column: col, Count: len(vs)}
		if len(vs) > 0 {
			slices.Sort(vs)
			var sum float64
			for _, v := range vs {
				sum += v
			}
			s.Mean = ptr(sum / float64(len(vs)))
			s.Min = ptr(vs[0])
			s.Q25 = ptr(Quantile(vs, 0.25))
			s.Median = ptr(Quantile(vs, 0.5))
			s.Q75 = ptr(Quantile(vs, 0.75))
			s.Max = ptr(vs[len(vs)-1])
		}
		if len(vs) > 1 {
			if _, std, ok := meanStd(vs); ok {
				s.Std = ptr(std)
			} else {
				s.Std = ptr(0)
			}
		}
		out = append(out, s)
	}
	return out, nil
}

func ptr(v float64) *float64 { return &v }
