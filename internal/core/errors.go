package core

import "errors"

// Structural errors stop a run before any row is processed.
var (
	ErrEmptyFile              = errors.New("empty file: no header row found")
	ErrNoDataRows             = errors.New("empty file: header row has no data rows")
	ErrMissingRequiredColumns = errors.New("missing required column")
	ErrFileTooLarge           = errors.New("file too large")
	ErrUnsupportedFormat      = errors.New("invalid csv: unsupported file format")
)

// Run and correction errors.
var (
	ErrUnknownEntity     = errors.New("unknown entity")
	ErrRunNotFound       = errors.New("import run not found")
	ErrCandidateNotFound = errors.New("correction row not found")
	ErrInvalidTransition = errors.New("invalid correction state")
	ErrUnknownField      = errors.New("unknown field")
	ErrImportInProgress  = errors.New("import already in progress")
	ErrTooManyImports    = errors.New("too many concurrent imports, please try again later")
	ErrImportCancelled   = errors.New("import cancelled before row was saved")
	ErrRunOwnedByAnother = errors.New("import run not found for this user")
)
