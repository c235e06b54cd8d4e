package core

// error_messages.go maps technical errors to user-facing messages with a
// code that can be quoted to support.
//
// Codes by category:
//
//	DB001  constraint violation       DB002  cannot connect
//	DB003  timed out                  DB004  record not found
//	DB005  database not configured
//	VAL001 row validation failed      VAL002 required column missing
//	VAL003 non-numeric value
//	FILE001 invalid CSV               FILE002 empty file
//	FILE003 too many rows
//	REQ001 malformed JSON body        REQ002 body too large
//	REQ003 request cancelled          REQ004 too many batches in progress
//	ERR000 anything else; check the logs for the underlying error
//
// Sentinel errors are matched first with errors.Is. Remaining errors are
// matched case-insensitively against message fragments; the first match wins.

import (
	"context"
	"errors"
	"strings"

	"github.com/JonMunkholm/convpipe/internal/database"
	"github.com/JonMunkholm/convpipe/internal/frame"
)

// UserMessage is a user-friendly description of an error.
type UserMessage struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
}

var (
	msgConstraint = UserMessage{"DB001", "A value violates a database constraint", "Check required fields and value lengths"}
	msgConnect    = UserMessage{"DB002", "Unable to connect to database", "Please try again in a few moments"}
	msgTimeout    = UserMessage{"DB003", "Operation timed out", "Try a smaller batch or try again later"}
	msgNotFound   = UserMessage{"DB004", "Record not found", "Verify the record id"}
	msgNoDatabase = UserMessage{"DB005", "Database is not configured", "Set DATABASE_URL and restart"}
	msgValidation = UserMessage{"VAL001", "Some rows failed validation", "Fix the listed fields and resubmit"}
	msgMissingCol = UserMessage{"VAL002", "Required column is missing from CSV", "Include ip_address, marketing_channel and state headers"}
	msgNotNumeric = UserMessage{"VAL003", "A numeric column holds a non-numeric value", "Use plain decimal numbers"}
	msgCSV        = UserMessage{"FILE001", "File is not a valid CSV", "Ensure the file is comma-separated with balanced quotes"}
	msgEmpty      = UserMessage{"FILE002", "The file is empty", "Provide a header row and data rows"}
	msgTooMany    = UserMessage{"FILE003", "Too many rows in one batch", "Split the data into smaller batches"}
	msgBadJSON    = UserMessage{"REQ001", "Request body is not valid JSON", `Send {"data": [...]}`}
	msgTooLarge   = UserMessage{"REQ002", "Request body is too large", "Split the data into smaller batches"}
	msgCancelled  = UserMessage{"REQ003", "Request was cancelled", "Please try again"}
	msgBusy       = UserMessage{"REQ004", "Too many batches in progress", "Please try again in a few moments"}
	msgUnknown    = UserMessage{"ERR000", "An unexpected error occurred", "Please try again or contact support"}
)

var sentinelMessages = []struct {
	target error
	msg    UserMessage
}{
	{database.ErrConstraint, msgConstraint},
	{database.ErrNotFound, msgNotFound},
	{database.ErrMissingURL, msgNoDatabase},
	{database.ErrNotConnected, msgConnect},
	{frame.ErrNotNumeric, msgNotNumeric},
	{ErrMissingColumn, msgMissingCol},
	{ErrCSVParse, msgCSV},
	{ErrEmptyBatch, msgEmpty},
	{ErrTooManyRows, msgTooMany},
	{ErrBusy, msgBusy},
	{context.DeadlineExceeded, msgTimeout},
	{context.Canceled, msgCancelled},
}

var patternMessages = []struct {
	pattern string
	msg     UserMessage
}{
	{"violates", msgConstraint},
	{"connection refused", msgConnect},
	{"connection reset", msgConnect},
	{"timeout", msgTimeout},
	{"request body too large", msgTooLarge},
	{"invalid character", msgBadJSON},
	{"cannot unmarshal", msgBadJSON},
	{"unexpected end of json", msgBadJSON},
	{"unexpected eof", msgBadJSON},
}

// MapError converts err to a UserMessage. A nil error maps to the zero value.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}
	var verr *ValidationError
	if errors.As(err, &verr) {
		return msgValidation
	}
	for _, s := range sentinelMessages {
		if errors.Is(err, s.target) {
			return s.msg
		}
	}
	lower := strings.ToLower(err.Error())
	for _, p := range patternMessages {
		if strings.Contains(lower, p.pattern) {
			return p.msg
		}
	}
	return msgUnknown
}

// ErrorCode returns just the code of MapError(err).
func ErrorCode(err error) string {
	return MapError(err).Code
}
