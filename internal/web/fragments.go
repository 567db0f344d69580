package web

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/a-h/templ"

	"github.com/JonMunkholm/finimport/internal/core"
	"github.com/JonMunkholm/finimport/internal/logging"
)

// errorAlert renders a dismissible alert with the message, action and code.
func errorAlert(msg core.UserMessage) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var b strings.Builder
		b.WriteString(`<div class="alert alert-error" role="alert">`)
		fmt.Fprintf(&b, `<p class="alert-message">%s</p>`, templ.EscapeString(msg.Message))
		if msg.Action != "" {
			fmt.Fprintf(&b, `<p class="alert-action">%s</p>`, templ.EscapeString(msg.Action))
		}
		fmt.Fprintf(&b, `<p class="alert-code">Code: %s</p>`, templ.EscapeString(msg.Code))
		b.WriteString(`</div>`)
		_, err := io.WriteString(w, b.String())
		return err
	})
}

// candidateRow renders one correction row as a table row. Field errors are
// shown under their cell; edited fields are marked.
func candidateRow(runID string, fields []core.FieldSpec, c core.CandidateView) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		edited := make(map[string]bool, len(c.Edits))
		for _, e := range c.Edits {
			edited[e.Field] = true
		}

		var b strings.Builder
		fmt.Fprintf(&b, `<tr id="candidate-%d" class="candidate candidate-%s" data-run="%s">`,
			c.Row, templ.EscapeString(string(c.State)), templ.EscapeString(runID))
		fmt.Fprintf(&b, `<td class="row-number">%d</td>`, c.Row)
		for _, f := range fields {
			class := "cell"
			if edited[f.Name] {
				class += " cell-edited"
			}
			fmt.Fprintf(&b, `<td class="%s" data-field="%s">%s`,
				class, templ.EscapeString(f.Name), templ.EscapeString(c.Values[f.Name]))
			for _, msg := range c.Errors.For(f.Name) {
				fmt.Fprintf(&b, `<span class="field-error">%s</span>`, templ.EscapeString(msg))
			}
			b.WriteString(`</td>`)
		}
		if c.Reason != "" {
			fmt.Fprintf(&b, `<td class="reason">%s</td>`, templ.EscapeString(c.Reason))
		} else {
			b.WriteString(`<td class="reason"></td>`)
		}
		b.WriteString(`</tr>`)
		_, err := io.WriteString(w, b.String())
		return err
	})
}

func renderFragment(w http.ResponseWriter, r *http.Request, status int, c templ.Component) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := c.Render(r.Context(), w); err != nil {
		logging.FromContext(r.Context()).Error("render fragment", "error", err)
	}
}
