package web

// errors.go turns service errors into responses.
//
// The technical error is logged with the request id; clients get the coded
// user message from core.NewUserError, as JSON or as an HTMX alert fragment.

import (
	"errors"
	"net/http"

	"github.com/JonMunkholm/finimport/internal/core"
	"github.com/JonMunkholm/finimport/internal/logging"
)

// ErrorResponse is the JSON body of every API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`

	// Fields is set when a submitted row failed validation.
	Fields core.FieldErrors `json:"fields,omitempty"`
}

// statusFor picks the HTTP status for a service error.
func statusFor(err error) int {
	var fieldErrs core.FieldErrors
	switch {
	case errors.As(err, &fieldErrs):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrRunNotFound),
		errors.Is(err, core.ErrRunOwnedByAnother),
		errors.Is(err, core.ErrCandidateNotFound),
		errors.Is(err, core.ErrUnknownEntity):
		return http.StatusNotFound
	case errors.Is(err, core.ErrInvalidTransition),
		errors.Is(err, core.ErrImportInProgress):
		return http.StatusConflict
	case errors.Is(err, core.ErrUnknownField),
		errors.Is(err, errNoFile),
		errors.Is(err, core.ErrMissingRequiredColumns),
		errors.Is(err, core.ErrEmptyFile),
		errors.Is(err, core.ErrNoDataRows):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, core.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, core.ErrTooManyImports):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError logs err and writes its user message with the status
// statusFor picks.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	s.respondErrorStatus(w, r, err, statusFor(err))
}

func (s *Server) respondErrorStatus(w http.ResponseWriter, r *http.Request, err error, status int) {
	ue := core.NewUserError(err)
	msg := ue.User

	logger := logging.FromContext(r.Context())
	log := logger.Info
	if status >= http.StatusInternalServerError {
		log = logger.Error
	}
	log("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", ue.Technical.Error(),
		"code", msg.Code,
	)

	if isHTMX(r) {
		renderFragment(w, r, status, errorAlert(msg))
		return
	}

	resp := ErrorResponse{
		Error:   ue.Technical.Error(),
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	}
	if status >= http.StatusInternalServerError {
		resp.Error = msg.Message
	}
	var fieldErrs core.FieldErrors
	if errors.As(err, &fieldErrs) {
		resp.Fields = fieldErrs
	}
	writeJSONStatus(w, status, resp)
}

// badRequest reports a malformed request that never reached the service.
func (s *Server) badRequest(w http.ResponseWriter, r *http.Request, err error) {
	s.respondErrorStatus(w, r, err, http.StatusBadRequest)
}

func isHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}
