package core

// error_messages.go maps technical errors to user-facing messages with codes
// for support reference. Users quote the code; support looks it up here.
//
// # Database Errors (DB001-DB099)
//
//	DB001 - Duplicate key             Patterns: SQLSTATE 23505, "duplicate key"
//	DB002 - Unique constraint         Patterns: "unique constraint", "violates unique"
//	DB003 - Missing referenced record Patterns: SQLSTATE 23503, "foreign key"
//	DB004 - Connection refused        Patterns: "connection refused"
//	DB005 - Connection reset          Patterns: "connection reset"
//	DB006 - Timeout                   Patterns: SQLSTATE 57014, "timeout"
//	DB007 - Deadlock                  Patterns: SQLSTATE 40P01, "deadlock"
//	DB008 - Check constraint          Patterns: SQLSTATE 23514, "check constraint"
//
// # Validation Errors (VAL001-VAL099)
//
//	VAL001 - Invalid date             Patterns: "invalid date", "must be a date"
//	VAL002 - Invalid number           Patterns: "invalid number", "must be a valid number"
//	VAL003 - Required field           Patterns: "is required"
//	VAL004 - Missing column           Patterns: "missing required column"
//	VAL005 - Date order               Patterns: "must be after"
//	VAL006 - Invalid enum             Patterns: "must be one of"
//	VAL007 - Unknown reference        Patterns: "does not match any"
//	VAL008 - Out of range             Patterns: "positive number", "zero or greater"
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - File too large          Patterns: "file too large"
//	FILE002 - Unsupported format      Patterns: "unsupported file format"
//	FILE003 - Invalid CSV             Patterns: "invalid csv"
//	FILE004 - Encoding error          Patterns: "encoding error"
//	FILE005 - No file                 Patterns: "no file provided"
//	FILE006 - Empty file              Patterns: "empty file"
//
// # Import Errors (IMP001-IMP099)
//
//	IMP001 - Import cancelled         Patterns: "import cancelled"
//	IMP002 - System busy              Patterns: "too many concurrent imports"
//	IMP003 - Run expired              Patterns: "import run not found"
//	IMP004 - Duplicate import         Patterns: "import already in progress"
//	IMP005 - Invalid correction step  Patterns: "invalid correction state"
//	IMP006 - Row already resolved     Patterns: "correction row not found"
//	IMP007 - Unknown entity           Patterns: "unknown entity"
//	IMP008 - Unknown field            Patterns: "unknown field"
//
// # Request Errors (REQ001-REQ099)
//
//	REQ001 - Request cancelled        Patterns: "context canceled"
//	REQ002 - Request timeout          Patterns: "context deadline exceeded"
//
// # Default Error (ERR000)
//
// Fallback when nothing matches. Check the logs for the technical error.
//
// Patterns are matched case-insensitively with strings.Contains and the first
// match wins, so specific patterns come before general ones. Postgres errors
// are matched on their SQLSTATE before any text matching.

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"`
	Action  string `json:"action"`
	Code    string `json:"code"`
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var (
	msgDuplicate   = UserMessage{Message: "A record with this key already exists", Action: "Remove the duplicate row and submit again", Code: "DB001"}
	msgForeignKey  = UserMessage{Message: "Referenced record does not exist", Action: "Create the category or account first", Code: "DB003"}
	msgTimeout     = UserMessage{Message: "Operation timed out", Action: "Try a smaller file or try again later", Code: "DB006"}
	msgDeadlock    = UserMessage{Message: "Database was busy with conflicting operations", Action: "Please try again", Code: "DB007"}
	msgCheckFailed = UserMessage{Message: "A value was rejected by the database", Action: "Review the row's values", Code: "DB008"}
)

// sqlStates maps Postgres error codes to messages.
var sqlStates = map[string]UserMessage{
	"23505": msgDuplicate,
	"23503": msgForeignKey,
	"23514": msgCheckFailed,
	"57014": msgTimeout,
	"40P01": msgDeadlock,
}

var errorPatterns = []errorPattern{
	// =========================================================================
	// Database (DB001-DB008)
	// =========================================================================
	{"duplicate key", msgDuplicate},
	{"unique constraint", UserMessage{Message: "This value must be unique but already exists", Action: "Check for duplicate entries in your file", Code: "DB002"}},
	{"violates unique", UserMessage{Message: "A duplicate value was found", Action: "Review your data for duplicate key values", Code: "DB002"}},
	{"foreign key", msgForeignKey},
	{"connection refused", UserMessage{Message: "Unable to connect to database", Action: "Please try again in a few moments", Code: "DB004"}},
	{"connection reset", UserMessage{Message: "Database connection was interrupted", Action: "Please try again", Code: "DB005"}},
	{"timeout", msgTimeout},
	{"deadlock", msgDeadlock},
	{"check constraint", msgCheckFailed},

	// =========================================================================
	// Validation (VAL001-VAL008)
	// =========================================================================
	{"invalid date", UserMessage{Message: "Invalid date format detected", Action: "Use " + DateFormatsHint, Code: "VAL001"}},
	{"must be a date", UserMessage{Message: "Invalid date format detected", Action: "Use " + DateFormatsHint, Code: "VAL001"}},
	{"invalid number", UserMessage{Message: "Invalid number format detected", Action: "Use digits with an optional decimal point", Code: "VAL002"}},
	{"must be a valid number", UserMessage{Message: "Invalid number format detected", Action: "Use digits with an optional decimal point", Code: "VAL002"}},
	{"missing required column", UserMessage{Message: "Required column is missing from the file", Action: "Download the template and compare the headers", Code: "VAL004"}},
	{"is required", UserMessage{Message: "Required field is empty", Action: "Fill in every required column", Code: "VAL003"}},
	{"must be after", UserMessage{Message: "Dates are in the wrong order", Action: "Make sure the end date comes after the start date", Code: "VAL005"}},
	{"must be one of", UserMessage{Message: "Value is not in the allowed list", Action: "Check the allowed values for this field", Code: "VAL006"}},
	{"does not match any", UserMessage{Message: "Referenced category or account was not found", Action: "Pick an existing value or create it first", Code: "VAL007"}},
	{"positive number", UserMessage{Message: "Value is out of range", Action: "Enter a number greater than zero", Code: "VAL008"}},
	{"zero or greater", UserMessage{Message: "Value is out of range", Action: "Enter zero or a positive number", Code: "VAL008"}},

	// =========================================================================
	// File (FILE001-FILE006)
	// =========================================================================
	{"file too large", UserMessage{Message: "File exceeds the maximum upload size", Action: "Split the file into smaller chunks", Code: "FILE001"}},
	{"unsupported file format", UserMessage{Message: "File type is not supported", Action: "Upload a .csv or .xlsx file", Code: "FILE002"}},
	{"invalid csv", UserMessage{Message: "File is not a valid CSV", Action: "Ensure the file is comma-separated", Code: "FILE003"}},
	{"encoding error", UserMessage{Message: "File contains invalid characters", Action: "Save the file as UTF-8", Code: "FILE004"}},
	{"no file provided", UserMessage{Message: "No file was selected", Action: "Please select a file to upload", Code: "FILE005"}},
	{"empty file", UserMessage{Message: "The uploaded file has no data", Action: "Upload a file with a header row and data rows", Code: "FILE006"}},

	// =========================================================================
	// Import runs (IMP001-IMP008)
	// =========================================================================
	{"import cancelled", UserMessage{Message: "Import stopped before this row was saved", Action: "Submit the row again", Code: "IMP001"}},
	{"too many concurrent imports", UserMessage{Message: "System is busy processing other imports", Action: "Please wait a moment and try again", Code: "IMP002"}},
	{"import run not found", UserMessage{Message: "Import session not found", Action: "The import may have expired. Please upload the file again", Code: "IMP003"}},
	{"import already in progress", UserMessage{Message: "An import of this type is already running", Action: "Wait for it to finish before starting another", Code: "IMP004"}},
	{"invalid correction state", UserMessage{Message: "This row is not in a state that allows that action", Action: "Reload the correction list", Code: "IMP005"}},
	{"correction row not found", UserMessage{Message: "This row is no longer awaiting correction", Action: "Reload the correction list", Code: "IMP006"}},
	{"unknown entity", UserMessage{Message: "Unknown import type", Action: "Choose one of the listed import types", Code: "IMP007"}},
	{"unknown field", UserMessage{Message: "Unknown field", Action: "Use one of the schema's field names", Code: "IMP008"}},

	// =========================================================================
	// Requests (REQ001-REQ002)
	// =========================================================================
	{"context canceled", UserMessage{Message: "Request was cancelled", Action: "Please try again", Code: "REQ001"}},
	{"context deadline exceeded", UserMessage{Message: "Request timed out", Action: "Try a smaller file or check your connection", Code: "REQ002"}},
}

// defaultMessage is returned when no pattern matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
//
//	err := errors.New("duplicate key violation")
//	msg := MapError(err)
//	// msg.Code == "DB001"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if msg, ok := sqlStates[pgErr.Code]; ok {
			return msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError renders "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err matches a known pattern rather than the
// ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error (for logs) with its user message.
type UserError struct {
	Technical error
	User      UserMessage
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err. Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
