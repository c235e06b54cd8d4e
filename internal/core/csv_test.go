package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/JonMunkholm/convpipe/internal/schema"
)

func TestLoadCSV(t *testing.T) {
	input := "\xEF\xBB\xBFIP_Address,marketing_channel,purchase,state,time_spent_seconds\n" +
		"1.1.1.1,ads,$100.00,New York,120\n" +
		"2.2.2.2,email,,California,\n" +
		"3.3.3.3,ads,lots,Texas,12.5\n"

	rows, warnings, err := LoadCSV(strings.NewReader(input), 0)
	if err != nil {
		t.Fatalf("LoadCSV() error = %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("LoadCSV() returned %d rows, want 3", len(rows))
	}

	if rows[0].IPAddress != "1.1.1.1" || rows[0].State != "New York" {
		t.Errorf("row 0 = %+v", rows[0])
	}
	for i, row := range rows {
		if row.Line != i+2 {
			t.Errorf("row %d line = %d, want %d", i, row.Line, i+2)
		}
	}
	if rows[0].Purchase == nil || *rows[0].Purchase != 100 {
		t.Errorf("row 0 purchase = %v, want 100", rows[0].Purchase)
	}
	if rows[0].TimeSpentSeconds == nil || *rows[0].TimeSpentSeconds != 120 {
		t.Errorf("row 0 time_spent_seconds = %v, want 120", rows[0].TimeSpentSeconds)
	}
	if rows[1].Purchase != nil || rows[1].TimeSpentSeconds != nil {
		t.Errorf("row 1 = %+v, want missing purchase and time", rows[1])
	}
	if rows[2].Purchase != nil || rows[2].TimeSpentSeconds != nil {
		t.Errorf("row 2 = %+v, want invalid cells loaded as missing", rows[2])
	}

	if len(warnings) != 2 {
		t.Fatalf("warnings = %+v, want 2", warnings)
	}
	if warnings[0].Line != 4 || warnings[0].Column != "purchase" || warnings[0].Value != "lots" {
		t.Errorf("warnings[0] = %+v, want line 4 purchase=lots", warnings[0])
	}
	if warnings[1].Column != "time_spent_seconds" {
		t.Errorf("warnings[1].Column = %q, want time_spent_seconds", warnings[1].Column)
	}
}

func TestLoadCSV_OptionalColumnsAbsent(t *testing.T) {
	rows, _, err := LoadCSV(strings.NewReader("ip_address,marketing_channel,state\n1.1.1.1,ads,Ohio\n"), 0)
	if err != nil {
		t.Fatalf("LoadCSV() error = %v", err)
	}
	if len(rows) != 1 || rows[0].Purchase != nil || rows[0].TimeSpentSeconds != nil {
		t.Errorf("LoadCSV() = %+v, want one row with missing optionals", rows)
	}
}

func TestLoadCSV_InvalidUTF8(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	input := "ip_address,marketing_channel,state\n1.1.1.1,ads,Qu\xE9bec\n"

	rows, _, err := LoadCSV(strings.NewReader(input), 0)
	if err != nil {
		t.Fatalf("LoadCSV() error = %v", err)
	}
	if len(rows) != 1 || rows[0].State != "Qu?bec" {
		t.Errorf("rows = %+v, want state Qu?bec", rows)
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output %q: %v", buf.String(), err)
	}
	if entry["msg"] != "csv contained invalid UTF-8" || entry["replaced_bytes"] != 1.0 {
		t.Errorf("log entry = %v, want one replaced byte", entry)
	}
}

func TestSetField(t *testing.T) {
	for _, spec := range schema.ConversionFieldSpecs {
		var row Row
		if err := setField(&row, spec, ""); err != nil {
			t.Errorf("setField(%s) error = %v", spec.Name, err)
		}
	}

	var row Row
	if err := setField(&row, schema.FieldSpec{Name: "time_spent_seconds", Type: schema.FieldInteger}, "90"); err != nil || row.TimeSpentSeconds == nil || *row.TimeSpentSeconds != 90 {
		t.Errorf("setField(time_spent_seconds) = %v, %v", row.TimeSpentSeconds, err)
	}
	if err := setField(&row, schema.FieldSpec{Name: "purchase", Type: schema.FieldNumeric}, "n/a"); err == nil || row.Purchase != nil {
		t.Errorf("setField(purchase, n/a) = %v, %v, want parse error and missing value", row.Purchase, err)
	}
	if err := setField(&row, schema.FieldSpec{Name: "state", Type: schema.FieldNumeric}, "1"); err == nil {
		t.Error("setField(state as numeric) error = nil, want type mismatch")
	}
	if err := setField(&row, schema.FieldSpec{Name: "unknown", Type: schema.FieldText}, "x"); err == nil {
		t.Error("setField(unknown) error = nil, want error")
	}
}

func TestLoadCSV_ShortRecord(t *testing.T) {
	rows, _, err := LoadCSV(strings.NewReader("ip_address,marketing_channel,state,purchase\n1.1.1.1,ads,Ohio\n"), 0)
	if err != nil {
		t.Fatalf("LoadCSV() error = %v", err)
	}
	if len(rows) != 1 || rows[0].State != "Ohio" || rows[0].Purchase != nil {
		t.Errorf("LoadCSV() = %+v, want trailing cells treated as empty", rows)
	}
}

func TestLoadCSV_Errors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		maxRows int
		wantErr error
	}{
		{"empty file", "", 0, ErrEmptyBatch},
		{"missing state column", "ip_address,marketing_channel,purchase\n1.1.1.1,ads,1\n", 0, ErrMissingColumn},
		{"bare quote", "ip_address,marketing_channel,state\n1.1.1.1,a\"ds,Ohio\n", 0, ErrCSVParse},
		{"unterminated quote", "ip_address,marketing_channel,state\n1.1.1.1,\"ads,Ohio\n", 0, ErrCSVParse},
		{"row limit", "ip_address,marketing_channel,state\na,b,Ohio\nc,d,Utah\n", 1, ErrTooManyRows},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := LoadCSV(strings.NewReader(tt.input), tt.maxRows)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("LoadCSV() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
