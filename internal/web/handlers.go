package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/a-h/templ"
	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/finimport/internal/core"
	"github.com/JonMunkholm/finimport/internal/logging"
	"github.com/JonMunkholm/finimport/internal/schema"
	"github.com/JonMunkholm/finimport/internal/web/middleware"
)

var errNoFile = errors.New("no file provided")

// multipartSlack covers multipart framing on top of the file itself.
const multipartSlack = 1 << 20

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status":  "ok",
		"imports": s.service.Guard().Status(),
	})
}

/* ----------------------------------------
	Schemas & Templates
---------------------------------------- */

type fieldView struct {
	Name     string   `json:"name"`
	Label    string   `json:"label"`
	Kind     string   `json:"kind"`
	Required bool     `json:"required"`
	Aliases  []string `json:"aliases,omitempty"`
	Enum     []string `json:"enum,omitempty"`
	Ref      string   `json:"ref,omitempty"`
}

type schemaView struct {
	Entity      string      `json:"entity"`
	Label       string      `json:"label"`
	Description string      `json:"description,omitempty"`
	Fields      []fieldView `json:"fields"`
	NaturalKey  []string    `json:"naturalKey,omitempty"`
}

func newSchemaView(sc *core.Schema) schemaView {
	v := schemaView{
		Entity:      string(sc.Entity),
		Label:       sc.Label,
		Description: sc.Description,
		NaturalKey:  sc.NaturalKey,
		Fields:      make([]fieldView, len(sc.Fields)),
	}
	for i, f := range sc.Fields {
		v.Fields[i] = fieldView{
			Name:     f.Name,
			Label:    f.DisplayName(),
			Kind:     string(f.Kind),
			Required: f.Required,
			Aliases:  f.Aliases,
			Enum:     f.EnumValues(),
			Ref:      string(f.Ref),
		}
	}
	return v
}

func (s *Server) handleListSchemas(w http.ResponseWriter, r *http.Request) {
	schemas := s.service.Schemas()
	out := make([]schemaView, len(schemas))
	for i, sc := range schemas {
		out[i] = newSchemaView(sc)
	}
	writeJSON(w, out)
}

func (s *Server) handleDownloadTemplate(w http.ResponseWriter, r *http.Request) {
	sc, err := s.service.Schema(core.EntityKind(chi.URLParam(r, "entity")))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s_template.csv"`, sc.Entity))
	_, _ = io.WriteString(w, schema.TemplateCSV(sc))
}

/* ----------------------------------------
	Imports
---------------------------------------- */

// handleImport accepts a multipart "file" field or the raw file as the body.
// A raw body may name itself with ?filename= so spreadsheets are recognized.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	entity := core.EntityKind(chi.URLParam(r, "entity"))
	if _, err := s.service.Schema(entity); err != nil {
		s.respondError(w, r, err)
		return
	}

	autoCreate := false
	if v := r.URL.Query().Get("autoCreateCategories"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			s.badRequest(w, r, fmt.Errorf("invalid autoCreateCategories %q", v))
			return
		}
		autoCreate = b
	}

	table, err := s.readUpload(w, r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	run, err := s.service.StartImport(r.Context(), core.ImportRequest{
		UserID:               middleware.UserID(r.Context()),
		Entity:               entity,
		Table:                table,
		AutoCreateCategories: autoCreate,
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	res := run.Result()
	logging.ForRun(r.Context(), res.RunID, string(entity)).Debug("import response",
		"success", res.Success,
		"imported", res.ImportedCount,
		"skipped", res.SkippedCount,
	)
	writeJSON(w, res)
}

func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (core.RawTable, error) {
	limit := s.cfg.Import.MaxFileSize

	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if r.ContentLength == 0 {
			return nil, errNoFile
		}
		return core.ReadTable(r.URL.Query().Get("filename"), r.Body, limit)
	}

	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartSlack)
	if err := r.ParseMultipartForm(limit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, fmt.Errorf("%w: limit is %d bytes", core.ErrFileTooLarge, limit)
		}
		return nil, fmt.Errorf("invalid upload form: %w", err)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, errNoFile
	}
	defer file.Close()

	return core.ReadTable(header.Filename, file, limit)
}

func (s *Server) handleImportRow(w http.ResponseWriter, r *http.Request) {
	var dto ImportRowDTO
	if err := decodeJSON(w, r, &dto, false); err != nil {
		s.badRequest(w, r, err)
		return
	}

	entity := core.EntityKind(chi.URLParam(r, "entity"))
	id, err := s.service.ImportSingleRow(r.Context(), middleware.UserID(r.Context()), entity, dto.Headers, dto.Cells)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, map[string]string{"recordId": id})
}

/* ----------------------------------------
	Runs
---------------------------------------- */

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.service.Run(chi.URLParam(r, "runID"), middleware.UserID(r.Context()))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, run.Result())
}

func (s *Server) handleCloseRun(w http.ResponseWriter, r *http.Request) {
	if err := s.service.CloseRun(r.Context(), chi.URLParam(r, "runID"), middleware.UserID(r.Context())); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListCandidates(w http.ResponseWriter, r *http.Request) {
	sess, err := s.service.Session(chi.URLParam(r, "runID"), middleware.UserID(r.Context()))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	run := sess.Run()
	candidates := run.Candidates()

	if isHTMX(r) {
		sc, err := s.service.Schema(run.Entity())
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		rows := templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
			for _, c := range candidates {
				if err := candidateRow(run.ID(), sc.Fields, c).Render(ctx, w); err != nil {
					return err
				}
			}
			return nil
		})
		renderFragment(w, r, http.StatusOK, rows)
		return
	}

	writeJSON(w, map[string]any{
		"runId":      run.ID(),
		"entity":     run.Entity(),
		"candidates": candidates,
	})
}

/* ----------------------------------------
	Corrections
---------------------------------------- */

// session resolves the run and row of a candidate route. It writes the
// error response itself and returns ok=false on failure.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*core.Session, int, bool) {
	row, err := strconv.Atoi(chi.URLParam(r, "row"))
	if err != nil || row < 2 {
		s.badRequest(w, r, fmt.Errorf("invalid row number %q", chi.URLParam(r, "row")))
		return nil, 0, false
	}
	sess, err := s.service.Session(chi.URLParam(r, "runID"), middleware.UserID(r.Context()))
	if err != nil {
		s.respondError(w, r, err)
		return nil, 0, false
	}
	return sess, row, true
}

// respondCandidate writes the candidate's current state, as a table row for
// HTMX requests.
func (s *Server) respondCandidate(w http.ResponseWriter, r *http.Request, sess *core.Session, row int) {
	run := sess.Run()
	view, err := run.Candidate(row)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if isHTMX(r) {
		sc, err := s.service.Schema(run.Entity())
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		renderFragment(w, r, http.StatusOK, candidateRow(run.ID(), sc.Fields, view))
		return
	}
	writeJSON(w, view)
}

func (s *Server) handleOpenCandidate(w http.ResponseWriter, r *http.Request) {
	sess, row, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := sess.Open(row); err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondCandidate(w, r, sess, row)
}

func (s *Server) handleSetField(w http.ResponseWriter, r *http.Request) {
	sess, row, ok := s.session(w, r)
	if !ok {
		return
	}
	var dto SetFieldDTO
	if err := decodeJSON(w, r, &dto, false); err != nil {
		s.badRequest(w, r, err)
		return
	}
	if err := sess.SetField(row, dto.Field, dto.Value); err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondCandidate(w, r, sess, row)
}

func (s *Server) handleResetField(w http.ResponseWriter, r *http.Request) {
	sess, row, ok := s.session(w, r)
	if !ok {
		return
	}
	var dto ResetFieldDTO
	if err := decodeJSON(w, r, &dto, false); err != nil {
		s.badRequest(w, r, err)
		return
	}
	if _, err := sess.ResetField(row, dto.Field); err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondCandidate(w, r, sess, row)
}

func (s *Server) handleDiscardCandidate(w http.ResponseWriter, r *http.Request) {
	sess, row, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := sess.Discard(row); err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondCandidate(w, r, sess, row)
}

// handleSubmitCandidate submits the open draft, or the cells in the body
// when given. A row that fails again stays in the run and is returned with
// its errors.
func (s *Server) handleSubmitCandidate(w http.ResponseWriter, r *http.Request) {
	sess, row, ok := s.session(w, r)
	if !ok {
		return
	}
	var dto SubmitDTO
	if err := decodeJSON(w, r, &dto, true); err != nil {
		s.badRequest(w, r, err)
		return
	}

	var (
		out core.SubmitOutcome
		err error
	)
	if len(dto.Cells) > 0 {
		out, err = sess.SubmitCells(r.Context(), row, dto.Cells)
	} else {
		out, err = sess.Submit(r.Context(), row)
	}
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	if !out.Imported && isHTMX(r) {
		s.respondCandidate(w, r, sess, row)
		return
	}
	writeJSON(w, out)
}

func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	sess, row, ok := s.session(w, r)
	if !ok {
		return
	}
	field := r.URL.Query().Get("field")
	if field == "" {
		s.badRequest(w, r, errors.New("field is required"))
		return
	}
	suggestions, err := sess.Suggestions(row, field)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if suggestions == nil {
		suggestions = []string{}
	}
	writeJSON(w, map[string]any{
		"field":       field,
		"suggestions": suggestions,
	})
}
