package core

import (
	"sort"
	"sync"
	"time"
)

// CandidateState is the correction state of one rejected row.
//
//	pending -> editing -> validating -> pending | imported
//	editing -> pending (discard)
type CandidateState string

const (
	StatePending    CandidateState = "pending"
	StateEditing    CandidateState = "editing"
	StateValidating CandidateState = "validating"
	StateImported   CandidateState = "imported"
)

// CandidateOrigin records why a row became a candidate.
type CandidateOrigin string

const (
	OriginValidation  CandidateOrigin = "validation"
	OriginPersistence CandidateOrigin = "persistence"
)

// Edit is one audited change to a candidate's mapped values.
type Edit struct {
	Field string    `json:"field"`
	From  string    `json:"from"`
	To    string    `json:"to"`
	At    time.Time `json:"at"`
}

// Candidate is a rejected row awaiting correction. Cells are the original
// raw cells and are never modified.
type Candidate struct {
	Row    int
	Cells  []string
	Mapped MappedRow
	Draft  MappedRow
	Errors FieldErrors
	Reason string
	State  CandidateState
	Origin CandidateOrigin
	Edits  []Edit
}

func (c *Candidate) message() string {
	if c.Reason != "" {
		return c.Reason
	}
	return c.Errors.Error()
}

// values returns the draft while editing, the mapped row otherwise.
func (c *Candidate) values() MappedRow {
	if c.Draft != nil {
		return c.Draft
	}
	return c.Mapped
}

// CandidateView is a read-only snapshot of a candidate.
type CandidateView struct {
	Row    int               `json:"row"`
	State  CandidateState    `json:"state"`
	Origin CandidateOrigin   `json:"origin"`
	Values map[string]string `json:"values"`
	Errors FieldErrors       `json:"errors,omitempty"`
	Reason string            `json:"reason,omitempty"`
	Edits  []Edit            `json:"edits,omitempty"`
}

// Run is one import and its correction candidates. It lives in memory until
// the caller closes it or it sits idle past the run TTL.
type Run struct {
	mu sync.Mutex

	id     string
	userID string
	entity EntityKind
	schema *Schema
	fields *FieldMap
	refs   *ReferenceIndex
	policy RowPolicy

	structural error
	total      int
	imported   []ImportedRow
	candidates []*Candidate
	skipped    int
	errored    int

	createdAt time.Time
	touchedAt time.Time
}

// ID returns the run id.
func (r *Run) ID() string { return r.id }

// UserID returns the acting user.
func (r *Run) UserID() string { return r.userID }

// Entity returns the imported entity.
func (r *Run) Entity() EntityKind { return r.entity }

// Structural returns the error that stopped the run before any row was
// processed, or nil.
func (r *Run) Structural() error { return r.structural }

// Counts returns total, imported, skipped (validation) and errored
// (persistence) row counts.
func (r *Run) Counts() (total, imported, skipped, errored int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total, len(r.imported), r.skipped, r.errored
}

// ImportedIDs returns committed record ids in row order.
func (r *Run) ImportedIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, len(r.imported))
	for i, row := range r.imported {
		ids[i] = row.ID
	}
	return ids
}

// Result projects the run onto the ImportResult shape.
func (r *Run) Result() ImportResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	res := ImportResult{RunID: r.id, Errors: []RowError{}}
	if r.structural != nil {
		res.Errors = append(res.Errors, RowError{Row: 1, Error: r.structural.Error()})
		return res
	}

	res.ImportedCount = len(r.imported)
	res.SkippedCount = len(r.candidates)
	res.Success = res.ImportedCount > 0
	for _, c := range r.sortedCandidates() {
		res.Errors = append(res.Errors, RowError{
			Row:   c.Row,
			Error: c.message(),
			Data:  r.fields.RowData(c.Cells),
		})
	}
	return res
}

// Candidates returns snapshots of every open candidate, ordered by row.
func (r *Run) Candidates() []CandidateView {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]CandidateView, 0, len(r.candidates))
	for _, c := range r.sortedCandidates() {
		out = append(out, r.view(c))
	}
	return out
}

// Candidate returns a snapshot of one candidate.
func (r *Run) Candidate(row int) (CandidateView, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, _, err := r.find(row)
	if err != nil {
		return CandidateView{}, err
	}
	return r.view(c), nil
}

func (r *Run) view(c *Candidate) CandidateView {
	values := make(map[string]string, len(r.schema.Fields))
	for _, f := range r.schema.Fields {
		v := c.values()[f.Name]
		if f.Sensitive && v != "" {
			v = maskedValue
		}
		values[f.Name] = v
	}
	return CandidateView{
		Row:    c.Row,
		State:  c.State,
		Origin: c.Origin,
		Values: values,
		Errors: append(FieldErrors(nil), c.Errors...),
		Reason: c.Reason,
		Edits:  r.maskEdits(c.Edits),
	}
}

func (r *Run) maskEdits(edits []Edit) []Edit {
	out := make([]Edit, len(edits))
	for i, e := range edits {
		if f, ok := r.schema.Field(e.Field); ok && f.Sensitive {
			e.From, e.To = maskedValue, maskedValue
		}
		out[i] = e
	}
	return out
}

func (r *Run) sortedCandidates() []*Candidate {
	out := append([]*Candidate(nil), r.candidates...)
	sort.Slice(out, func(i, j int) bool { return out[i].Row < out[j].Row })
	return out
}

func (r *Run) find(row int) (*Candidate, int, error) {
	for i, c := range r.candidates {
		if c.Row == row {
			return c, i, nil
		}
	}
	return nil, -1, ErrCandidateNotFound
}

// removeCandidate drops an imported candidate and moves it into the
// imported counts.
func (r *Run) removeCandidate(i int, id string) {
	c := r.candidates[i]
	r.candidates = append(r.candidates[:i], r.candidates[i+1:]...)
	r.imported = append(r.imported, ImportedRow{Row: c.Row, ID: id})
	sort.Slice(r.imported, func(a, b int) bool { return r.imported[a].Row < r.imported[b].Row })
	switch c.Origin {
	case OriginValidation:
		r.skipped--
	case OriginPersistence:
		r.errored--
	}
}

func (r *Run) touch(now time.Time) { r.touchedAt = now }

func (r *Run) idleSince() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.touchedAt
}
