package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/convpipe/internal/config"
	"github.com/JonMunkholm/convpipe/internal/core"
	"github.com/JonMunkholm/convpipe/internal/database"
	"github.com/JonMunkholm/convpipe/internal/enrich"
)

type fakeProcessor struct {
	result    *core.BatchResult
	err       error
	records   []database.ProcessedRecord
	deleteErr error
	summary   []enrich.ColumnSummary

	gotRows   []core.Row
	deletedID int64
}

func (f *fakeProcessor) Process(_ context.Context, _ string, rows []core.Row) (*core.BatchResult, error) {
	f.gotRows = rows
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	ids := make([]int64, len(rows))
	for i := range rows {
		ids[i] = int64(i + 1)
	}
	return &core.BatchResult{BatchID: "b-1", Total: len(rows), Inserted: len(rows), IDs: ids}, nil
}

func (f *fakeProcessor) Records(context.Context) ([]database.ProcessedRecord, error) {
	return f.records, f.err
}

func (f *fakeProcessor) DeleteRecord(_ context.Context, id int64) error {
	f.deletedID = id
	return f.deleteErr
}

func (f *fakeProcessor) Summary(context.Context) ([]enrich.ColumnSummary, error) {
	return f.summary, f.err
}

func (f *fakeProcessor) Steps() []string {
	return []string{"add_converted", "add_normalized(<purchase>)"}
}

func (f *fakeProcessor) Gatherer() prometheus.Gatherer { return prometheus.NewRegistry() }

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{RequestTimeout: 5 * time.Second},
		Ingest: config.IngestConfig{MaxBodyBytes: 1024, MaxRows: 100, OnRowError: config.OnRowErrorContinue},
	}
}

func do(t *testing.T, s *Server, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

const scenarioBody = `{"data": [
	{"ip_address": "1.1.1.1", "marketing_channel": "ads", "purchase": 100.0, "state": "New York", "time_spent_seconds": 120},
	{"ip_address": "2.2.2.2", "marketing_channel": "ads", "state": "California", "time_spent_seconds": null}
]}`

func TestRootRedirectsToDocs(t *testing.T) {
	s := NewServer(&fakeProcessor{}, testConfig())

	rec := do(t, s, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusTemporaryRedirect, rec.Code)
	assert.Equal(t, "/docs", rec.Header().Get("Location"))
}

func TestDocsPage(t *testing.T) {
	s := NewServer(&fakeProcessor{}, testConfig())

	rec := do(t, s, http.MethodGet, "/docs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	body := rec.Body.String()
	assert.Contains(t, body, "/process_data/")
	assert.Contains(t, body, "add_converted")
	assert.Contains(t, body, "add_normalized(&lt;purchase&gt;)")
}

func TestProcessData(t *testing.T) {
	t.Run("Should store every row and report success", func(t *testing.T) {
		fake := &fakeProcessor{}
		s := NewServer(fake, testConfig())

		rec := do(t, s, http.MethodPost, "/process_data/", scenarioBody)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp ProcessResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, SuccessMessage, resp.Message)
		assert.Equal(t, 2, resp.Inserted)
		assert.Equal(t, []int64{1, 2}, resp.IDs)

		require.Len(t, fake.gotRows, 2)
		require.NotNil(t, fake.gotRows[0].Purchase)
		assert.Equal(t, 100.0, *fake.gotRows[0].Purchase)
		assert.Nil(t, fake.gotRows[1].Purchase)
		assert.Nil(t, fake.gotRows[1].TimeSpentSeconds)
	})

	t.Run("Should accept the path without a trailing slash", func(t *testing.T) {
		s := NewServer(&fakeProcessor{}, testConfig())

		rec := do(t, s, http.MethodPost, "/process_data", scenarioBody)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("Should reject malformed JSON", func(t *testing.T) {
		fake := &fakeProcessor{}
		s := NewServer(fake, testConfig())

		rec := do(t, s, http.MethodPost, "/process_data/", `{"data": [`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "REQ001", decodeError(t, rec).Code)
		assert.Nil(t, fake.gotRows)
	})

	t.Run("Should reject an empty body", func(t *testing.T) {
		s := NewServer(&fakeProcessor{}, testConfig())

		rec := do(t, s, http.MethodPost, "/process_data/", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("Should reject wrong field types", func(t *testing.T) {
		s := NewServer(&fakeProcessor{}, testConfig())

		rec := do(t, s, http.MethodPost, "/process_data/", `{"data": [{"ip_address": 1}]}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "REQ001", decodeError(t, rec).Code)
	})

	t.Run("Should require the data field", func(t *testing.T) {
		s := NewServer(&fakeProcessor{}, testConfig())

		rec := do(t, s, http.MethodPost, "/process_data/", `{"rows": []}`)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Equal(t, "VAL001", decodeError(t, rec).Code)
	})

	t.Run("Should reject oversized bodies", func(t *testing.T) {
		s := NewServer(&fakeProcessor{}, testConfig())
		body := `{"data": [{"ip_address": "` + strings.Repeat("1", 2048) + `"}]}`

		rec := do(t, s, http.MethodPost, "/process_data/", body)
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
		assert.Equal(t, "REQ002", decodeError(t, rec).Code)
	})

	t.Run("Should return validation details", func(t *testing.T) {
		fake := &fakeProcessor{err: &core.ValidationError{Fields: []core.FieldError{{Row: 1, Field: "state", Rule: "required"}}}}
		s := NewServer(fake, testConfig())

		rec := do(t, s, http.MethodPost, "/process_data/", scenarioBody)
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

		var resp struct {
			Code    string            `json:"code"`
			Details []core.FieldError `json:"details"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, "VAL001", resp.Code)
		require.Len(t, resp.Details, 1)
		assert.Equal(t, "state", resp.Details[0].Field)
	})

	t.Run("Should fail the request when any row was not stored", func(t *testing.T) {
		fake := &fakeProcessor{result: &core.BatchResult{
			BatchID: "b-2", Total: 2, Inserted: 1, IDs: []int64{4},
			Failures: []core.RowFailure{{Row: 1, Code: "DB001", Error: "constraint"}},
		}}
		s := NewServer(fake, testConfig())

		rec := do(t, s, http.MethodPost, "/process_data/", scenarioBody)
		require.Equal(t, http.StatusInternalServerError, rec.Code)

		var resp ProcessResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, "1 of 2 rows could not be stored", resp.Message)
		require.Len(t, resp.Failures, 1)
		assert.Equal(t, 1, resp.Failures[0].Row)
	})

	t.Run("Should map service failures", func(t *testing.T) {
		s := NewServer(&fakeProcessor{err: errors.New("dial tcp: connection refused")}, testConfig())

		rec := do(t, s, http.MethodPost, "/process_data/", scenarioBody)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "DB002", decodeError(t, rec).Code)
	})

	t.Run("Should map the row limit to 413", func(t *testing.T) {
		s := NewServer(&fakeProcessor{err: core.ErrTooManyRows}, testConfig())

		rec := do(t, s, http.MethodPost, "/process_data/", scenarioBody)
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})
}

func TestProcessData_Busy(t *testing.T) {
	s := NewServer(&fakeProcessor{err: core.ErrBusy}, testConfig())

	rec := do(t, s, http.MethodPost, "/process_data/", scenarioBody)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "5", rec.Header().Get("Retry-After"))
	assert.Equal(t, "REQ004", decodeError(t, rec).Code)
}

func TestListData(t *testing.T) {
	t.Run("Should serialize missing values as null", func(t *testing.T) {
		purchase, abbr := 100.0, "NY"
		fake := &fakeProcessor{records: []database.ProcessedRecord{{
			ID: 1, IPAddress: "1.1.1.1", MarketingChannel: "ads", Purchase: &purchase,
			State: "New York", StateAbbreviation: &abbr,
		}}}
		s := NewServer(fake, testConfig())

		rec := do(t, s, http.MethodGet, "/data/", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var got []map[string]any
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
		require.Len(t, got, 1)
		assert.Equal(t, "NY", got[0]["state_abbreviation"])
		assert.Equal(t, 100.0, got[0]["purchase"])
		v, ok := got[0]["purchase_normalized"]
		assert.True(t, ok, "purchase_normalized must be present")
		assert.Nil(t, v)
	})

	t.Run("Should return an empty array", func(t *testing.T) {
		s := NewServer(&fakeProcessor{}, testConfig())

		rec := do(t, s, http.MethodGet, "/data/", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, "[]", rec.Body.String())
	})
}

func TestDeleteData(t *testing.T) {
	t.Run("Should delete by id", func(t *testing.T) {
		fake := &fakeProcessor{}
		s := NewServer(fake, testConfig())

		rec := do(t, s, http.MethodDelete, "/data/7", "")
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, int64(7), fake.deletedID)
	})

	t.Run("Should return 404 for unknown ids", func(t *testing.T) {
		s := NewServer(&fakeProcessor{deleteErr: database.ErrNotFound}, testConfig())

		rec := do(t, s, http.MethodDelete, "/data/7", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "DB004", decodeError(t, rec).Code)
	})

	t.Run("Should return 404 for malformed ids", func(t *testing.T) {
		fake := &fakeProcessor{}
		s := NewServer(fake, testConfig())

		rec := do(t, s, http.MethodDelete, "/data/abc", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Zero(t, fake.deletedID)
	})
}

func TestSummary(t *testing.T) {
	mean := 20.0
	s := NewServer(&fakeProcessor{summary: []enrich.ColumnSummary{{Column: "purchase", Count: 2, Mean: &mean}}}, testConfig())

	rec := do(t, s, http.MethodGet, "/summary/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"column":"purchase"`)
	assert.Contains(t, rec.Body.String(), `"25%":null`)
}

func TestAPIKeyRequired(t *testing.T) {
	cfg := testConfig()
	cfg.Security = config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"secret-key"}}
	s := NewServer(&fakeProcessor{}, cfg)

	assert.Equal(t, http.StatusUnauthorized, do(t, s, http.MethodGet, "/data/", "").Code)
	assert.Equal(t, http.StatusForbidden, do(t, s, http.MethodGet, "/data/", "", "X-API-Key", "wrong").Code)
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/data/", "", "X-API-Key", "secret-key").Code)
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/data/", "", "Authorization", "Bearer secret-key").Code)

	// Docs and metrics stay public.
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/docs", "").Code)
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/metrics", "").Code)
}

func TestSecurityHeaders(t *testing.T) {
	s := NewServer(&fakeProcessor{}, testConfig())

	rec := do(t, s, http.MethodGet, "/data/", "")
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}
