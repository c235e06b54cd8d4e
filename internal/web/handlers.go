package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/convpipe/internal/core"
	"github.com/JonMunkholm/convpipe/internal/database"
)

// SuccessMessage is returned when every row of a batch was stored.
const SuccessMessage = core.SuccessMessage

// ProcessResponse is the body returned by POST /process_data/.
type ProcessResponse struct {
	Message  string            `json:"message"`
	BatchID  string            `json:"batch_id"`
	Inserted int               `json:"inserted"`
	IDs      []int64           `json:"ids"`
	Failures []core.RowFailure `json:"failures,omitempty"`
}

func (s *Server) handleProcessData(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Ingest.MaxBodyBytes)

	var batch core.Batch
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			s.respondError(w, r, err, http.StatusRequestEntityTooLarge)
		case errors.Is(err, io.EOF):
			s.respondError(w, r, fmt.Errorf("empty body: %w", io.ErrUnexpectedEOF), http.StatusBadRequest)
		default:
			s.respondError(w, r, err, http.StatusBadRequest)
		}
		return
	}
	if batch.Data == nil {
		s.respondError(w, r, &core.ValidationError{Fields: []core.FieldError{
			{Row: -1, Field: "data", Rule: "required"},
		}}, http.StatusUnprocessableEntity)
		return
	}

	result, err := s.svc.Process(r.Context(), core.SourceAPI, batch.Data)
	if err != nil {
		var verr *core.ValidationError
		switch {
		case errors.As(err, &verr):
			s.respondError(w, r, err, http.StatusUnprocessableEntity)
		case errors.Is(err, core.ErrTooManyRows):
			s.respondError(w, r, err, http.StatusRequestEntityTooLarge)
		case errors.Is(err, core.ErrBusy):
			w.Header().Set("Retry-After", "5")
			s.respondError(w, r, err, http.StatusServiceUnavailable)
		default:
			s.respondError(w, r, err, http.StatusInternalServerError)
		}
		return
	}

	resp := ProcessResponse{
		Message:  SuccessMessage,
		BatchID:  result.BatchID,
		Inserted: result.Inserted,
		IDs:      result.IDs,
		Failures: result.Failures,
	}
	if !result.OK() {
		resp.Message = fmt.Sprintf("%d of %d rows could not be stored", result.Total-result.Inserted, result.Total)
		writeJSON(w, http.StatusInternalServerError, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListData(w http.ResponseWriter, r *http.Request) {
	records, err := s.svc.Records(r.Context())
	if err != nil {
		s.respondError(w, r, err, http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []database.ProcessedRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleDeleteData(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		s.respondError(w, r, fmt.Errorf("invalid record id %q: %w", chi.URLParam(r, "id"), database.ErrNotFound), http.StatusNotFound)
		return
	}

	if err := s.svc.DeleteRecord(r.Context(), id); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			s.respondError(w, r, err, http.StatusNotFound)
			return
		}
		s.respondError(w, r, err, http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.svc.Summary(r.Context())
	if err != nil {
		s.respondError(w, r, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
