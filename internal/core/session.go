package core

// session.go drives row-level correction of a run's candidates.
//
// Edits only ever touch a candidate's draft; the raw cells stay as uploaded
// so a field can be reset and the edit history stays meaningful. A
// successful submit imports the single row outside the batch machinery.

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

// maxSuggestions caps Suggestions results.
const maxSuggestions = 5

// Session corrects the candidates of one run.
type Session struct {
	svc *Service
	run *Run
}

// SubmitOutcome reports a submit attempt.
type SubmitOutcome struct {
	Imported bool        `json:"imported"`
	RecordID string      `json:"recordId,omitempty"`
	Errors   FieldErrors `json:"errors,omitempty"`
	Reason   string      `json:"reason,omitempty"`
}

// Run returns the run being corrected.
func (s *Session) Run() *Run { return s.run }

// Open starts editing a pending candidate.
func (s *Session) Open(row int) error {
	r := s.run
	r.mu.Lock()
	defer r.mu.Unlock()
	r.touch(s.svc.now())

	c, _, err := r.find(row)
	if err != nil {
		return err
	}
	if c.State != StatePending {
		return fmt.Errorf("%w: row %d is %s, expected %s", ErrInvalidTransition, row, c.State, StatePending)
	}
	c.Draft = c.Mapped.Clone()
	c.State = StateEditing
	return nil
}

// SetField changes one field of the draft.
func (s *Session) SetField(row int, field, value string) error {
	r := s.run
	r.mu.Lock()
	defer r.mu.Unlock()
	r.touch(s.svc.now())

	c, err := s.editing(row)
	if err != nil {
		return err
	}
	if _, ok := r.schema.Field(field); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	s.record(c, field, value)
	return nil
}

// ResetField recomputes one draft field from the original cells and returns it.
func (s *Session) ResetField(row int, field string) (string, error) {
	r := s.run
	r.mu.Lock()
	defer r.mu.Unlock()
	r.touch(s.svc.now())

	c, err := s.editing(row)
	if err != nil {
		return "", err
	}
	if _, ok := r.schema.Field(field); !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	value := r.fields.ExtractField(c.Cells, field)
	s.record(c, field, value)
	return value, nil
}

// Discard drops the draft and returns the candidate to pending with its
// last persisted mapped values.
func (s *Session) Discard(row int) error {
	r := s.run
	r.mu.Lock()
	defer r.mu.Unlock()
	r.touch(s.svc.now())

	c, err := s.editing(row)
	if err != nil {
		return err
	}
	c.Draft = nil
	c.State = StatePending
	return nil
}

// Submit re-validates the draft. A valid row is imported in its own
// transaction and leaves the run; an invalid one goes back to pending with
// the draft kept as its mapped values.
func (s *Session) Submit(ctx context.Context, row int) (SubmitOutcome, error) {
	r := s.run
	r.mu.Lock()
	defer r.mu.Unlock()
	r.touch(s.svc.now())

	c, idx, err := r.find(row)
	if err != nil {
		return SubmitOutcome{}, err
	}
	if c.State != StateEditing {
		return SubmitOutcome{}, fmt.Errorf("%w: row %d is %s, expected %s", ErrInvalidTransition, row, c.State, StateEditing)
	}
	return s.submit(ctx, c, idx)
}

// SubmitCells replaces the whole row with an edited cell array, laid out
// like the run's header, and submits it. Pending candidates are opened first.
func (s *Session) SubmitCells(ctx context.Context, row int, cells []string) (SubmitOutcome, error) {
	r := s.run
	r.mu.Lock()
	defer r.mu.Unlock()
	r.touch(s.svc.now())

	c, idx, err := r.find(row)
	if err != nil {
		return SubmitOutcome{}, err
	}
	switch c.State {
	case StatePending:
		c.Draft = c.Mapped.Clone()
		c.State = StateEditing
	case StateEditing:
	default:
		return SubmitOutcome{}, fmt.Errorf("%w: row %d is %s", ErrInvalidTransition, row, c.State)
	}

	for name, value := range r.fields.Extract(cells) {
		if c.Draft[name] != value {
			s.record(c, name, value)
		}
	}
	return s.submit(ctx, c, idx)
}

func (s *Session) submit(ctx context.Context, c *Candidate, idx int) (SubmitOutcome, error) {
	r := s.run
	logger := s.svc.runLogger(ctx, r).With("row", c.Row)
	c.State = StateValidating

	rec, errs := NewRowValidator(r.schema, r.refs, r.policy).ValidateRow(c.Draft)
	if len(errs) > 0 {
		s.settle(c, errs, "")
		logger.Info("correction rejected", "errors", len(errs))
		s.svc.recorder.CorrectionSubmitted(r.entity, "invalid")
		return SubmitOutcome{Errors: errs}, nil
	}

	id, err := s.svc.persistOne(ctx, r.userID, r.schema, r.refs, rec)
	if err != nil {
		reason := persistenceReason(err)
		s.settle(c, nil, reason)
		logger.Error("correction import failed", "error", err)
		s.svc.recorder.CorrectionSubmitted(r.entity, "failed")
		return SubmitOutcome{Reason: reason}, nil
	}

	c.State = StateImported
	c.Draft = nil
	r.removeCandidate(idx, id)
	logger.Info("correction imported", "record_id", id)
	s.svc.recorder.CorrectionSubmitted(r.entity, "imported")
	return SubmitOutcome{Imported: true, RecordID: id}, nil
}

// settle keeps the draft as the candidate's mapped values and returns it to pending.
func (s *Session) settle(c *Candidate, errs FieldErrors, reason string) {
	c.Mapped = c.Draft
	c.Draft = nil
	c.Errors = errs
	c.Reason = reason
	c.State = StatePending
}

func (s *Session) editing(row int) (*Candidate, error) {
	c, _, err := s.run.find(row)
	if err != nil {
		return nil, err
	}
	if c.State != StateEditing {
		return nil, fmt.Errorf("%w: row %d is %s, expected %s", ErrInvalidTransition, row, c.State, StateEditing)
	}
	return c, nil
}

func (s *Session) record(c *Candidate, field, value string) {
	c.Edits = append(c.Edits, Edit{Field: field, From: c.Draft[field], To: value, At: s.svc.now()})
	c.Draft[field] = value
}

// Suggestions ranks plausible values for a reference or enum field against
// the candidate's current value. Other fields have no suggestions.
func (s *Session) Suggestions(row int, field string) ([]string, error) {
	r := s.run
	r.mu.Lock()
	defer r.mu.Unlock()

	c, _, err := r.find(row)
	if err != nil {
		return nil, err
	}
	f, ok := r.schema.Field(field)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	values := c.values()

	var options []string
	switch {
	case f.Kind == KindEnum:
		options = f.EnumValues()
	case f.Kind == KindReference && f.Ref == RefAccount:
		for _, a := range r.refs.Accounts() {
			options = append(options, a.DisplayName())
		}
	case f.Kind == KindReference && f.Ref == RefCategory:
		typ := f.RefType
		if f.RefTypeField != "" {
			if tf, ok := r.schema.Field(f.RefTypeField); ok {
				typ, _ = MatchEnum(values[f.RefTypeField], tf.Enum)
			}
		}
		for _, cat := range r.refs.Categories() {
			if cat.Hidden {
				continue
			}
			if typ == "" || strings.EqualFold(cat.Type, typ) {
				options = append(options, cat.Name)
			}
		}
	default:
		return nil, nil
	}

	return rankSuggestions(strings.TrimSpace(values[field]), options), nil
}

// rankSuggestions orders options by fuzzy distance to query. With no query,
// or no fuzzy hit, the first options are returned in their natural order.
func rankSuggestions(query string, options []string) []string {
	if len(options) == 0 {
		return []string{}
	}
	var out []string
	if query != "" {
		ranks := fuzzy.RankFindNormalizedFold(query, options)
		if len(ranks) == 0 {
			// Fall back to matching the options inside the query ("Food & Drinks" -> "Food").
			for _, o := range options {
				if fuzzy.MatchNormalizedFold(o, query) {
					out = append(out, o)
				}
			}
		} else {
			sort.Sort(ranks)
			for _, rk := range ranks {
				out = append(out, rk.Target)
			}
		}
	}
	if len(out) == 0 {
		out = options
	}
	if len(out) > maxSuggestions {
		out = out[:maxSuggestions]
	}
	return append([]string(nil), out...)
}
