// Package enrich derives analysis columns from raw conversion records.
//
// A Pipeline is an ordered list of Steps applied to a frame.Frame in place.
// The default pipeline adds, in order: the converted flag, the state
// abbreviation, the normalized purchase amount, the state and national 85th
// percentile flags, and finally fills missing time_spent_seconds with the
// median. The fill runs last because none of the other steps read it.
package enrich

import (
	"fmt"

	"github.com/JonMunkholm/convpipe/internal/frame"
)

// TopPercentile is the quantile used for the percentile flags.
const TopPercentile = 0.85

// Pipeline applies steps to a frame in order.
type Pipeline struct {
	steps []Step
}

// New creates a pipeline from steps.
func New(steps ...Step) *Pipeline {
	return &Pipeline{steps: steps}
}

// Default returns the reference enrichment pipeline.
func Default(states StateTable) *Pipeline {
	return New(
		AddConverted(),
		AddStateAbbreviation(states),
		AddNormalized(ColPurchase),
		AddPercentileByGroup(ColState, ColPurchase, ColPercentile85State, TopPercentile),
		AddPercentile(ColPurchase, ColPercentile85National, TopPercentile),
		FillMissingWithMedian(ColTimeSpentSeconds),
	)
}

// Steps returns the step names in execution order.
func (p *Pipeline) Steps() []string {
	names := make([]string, len(p.steps))
	for i, s := range p.steps {
		names[i] = s.Name
	}
	return names
}

// Run applies every step to f. The first failing step stops the run; f may
// then hold the columns added by the steps before it.
func (p *Pipeline) Run(f *frame.Frame) error {
	for _, s := range p.steps {
		if err := s.Apply(f); err != nil {
			return fmt.Errorf("step %s: %w", s.Name, err)
		}
	}
	return nil
}
