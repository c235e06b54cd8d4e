package enrich

import (
	"errors"
	"strings"
	"testing"

	"github.com/JonMunkholm/convpipe/internal/frame"
)

func TestDefault_StepOrder(t *testing.T) {
	got := Default(USStates()).Steps()
	want := []string{
		"add_converted",
		"add_state_abbreviation",
		"add_normalized(purchase)",
		"add_percentile_by_group(state,purchase,0.85)",
		"add_percentile(purchase,0.85)",
		"fill_missing_with_median(time_spent_seconds)",
	}
	if len(got) != len(want) {
		t.Fatalf("Steps() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Steps()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestDefault_EndToEnd(t *testing.T) {
	f := frame.New(ColIPAddress, ColMarketingChannel, ColPurchase, ColState, ColTimeSpentSeconds)
	f.Append(frame.Record{
		ColIPAddress:        "1.1.1.1",
		ColMarketingChannel: "ads",
		ColPurchase:         100.0,
		ColState:            "New York",
		ColTimeSpentSeconds: int64(120),
	})
	f.Append(frame.Record{
		ColIPAddress:        "2.2.2.2",
		ColMarketingChannel: "ads",
		ColState:            "California",
	})

	if err := Default(USStates()).Run(f); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	checks := []struct {
		row  int
		col  string
		want any
	}{
		{0, ColConverted, 1},
		{0, ColStateAbbreviation, "NY"},
		{0, ColPurchaseNormalized, nil},
		{0, ColPercentile85State, 1},
		{0, ColPercentile85National, 1},
		{0, ColTimeSpentSeconds, int64(120)},
		{1, ColConverted, 0},
		{1, ColStateAbbreviation, "CA"},
		{1, ColPercentile85State, 0},
		{1, ColPercentile85National, 0},
		{1, ColTimeSpentSeconds, 120.0},
	}
	for _, c := range checks {
		got, err := f.Value(c.row, c.col)
		if err != nil {
			t.Fatalf("Value(%d, %s) error = %v", c.row, c.col, err)
		}
		if got != c.want {
			t.Errorf("row %d %s = %v (%T), want %v (%T)", c.row, c.col, got, got, c.want, c.want)
		}
	}
}

func TestRun_WrapsStepName(t *testing.T) {
	f := frame.New(ColState, ColPurchase, ColTimeSpentSeconds)
	f.Append(frame.Record{ColState: "Ohio", ColPurchase: "twelve"})

	err := Default(USStates()).Run(f)
	if !errors.Is(err, frame.ErrNotNumeric) {
		t.Fatalf("Run() error = %v, want ErrNotNumeric", err)
	}
	if !strings.Contains(err.Error(), "add_normalized(purchase)") {
		t.Errorf("Run() error = %q, want step name", err)
	}
}

func TestRun_MissingInputColumn(t *testing.T) {
	f := frame.New(ColState)

	err := Default(USStates()).Run(f)
	if !errors.Is(err, frame.ErrNoColumn) {
		t.Errorf("Run() error = %v, want ErrNoColumn", err)
	}
}
