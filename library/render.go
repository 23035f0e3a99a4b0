package library

import (
	"fmt"
	"html/template"
	"io"
	"strings"
	"unicode/utf8"
)

// Renderer draws one fragment. The controller calls it after every fetch that
// replaces a panel.
type Renderer interface {
	Render(f Fragment) error
}

// RendererFunc adapts a function to the Renderer interface.
type RendererFunc func(f Fragment) error

func (fn RendererFunc) Render(f Fragment) error { return fn(f) }

// TextRenderer prints fragments as fixed-width terminal tables.
type TextRenderer struct {
	Out      io.Writer
	MaxWidth int // column cap; 0 means 30
}

func (r TextRenderer) Render(f Fragment) error {
	if f.Hidden {
		return nil
	}
	switch {
	case f.Nav != nil:
		_, err := fmt.Fprintf(r.Out, "%s  %s\n", f.Nav.Text, actionLabels(f.Nav.Actions))
		return err
	case f.Banner != nil:
		if f.Banner.Text == "" {
			return nil
		}
		if f.Banner.Kind == MessageError {
			_, err := fmt.Fprintf(r.Out, "Error: %s\n", f.Banner.Text)
			return err
		}
		_, err := fmt.Fprintln(r.Out, f.Banner.Text)
		return err
	case f.Table != nil:
		return r.renderTable(f.Title, f.Table)
	}
	return nil
}

func (r TextRenderer) renderTable(title string, t *Table) error {
	var sb strings.Builder
	if title != "" {
		sb.WriteString("\n" + title + "\n")
	}
	if len(t.Rows) == 0 {
		sb.WriteString(t.Empty + "\n")
		_, err := io.WriteString(r.Out, sb.String())
		return err
	}

	maxWidth := r.MaxWidth
	if maxWidth <= 0 {
		maxWidth = 30
	}

	lines := make([][]string, 0, len(t.Rows))
	for _, row := range t.Rows {
		cells := append([]string(nil), row.Cells...)
		if t.HasActions {
			if len(row.Actions) > 0 {
				cells = append(cells, actionLabels(row.Actions))
			} else {
				cells = append(cells, row.Note)
			}
		}
		if strings.Contains(row.Class, "overdue") && len(cells) > 0 {
			cells[0] = "! " + cells[0]
		}
		lines = append(lines, cells)
	}

	widths := make([]int, len(t.Headers))
	for i, h := range t.Headers {
		widths[i] = utf8.RuneCountInString(h)
	}
	last := len(t.Headers) - 1
	for _, cells := range lines {
		for i, c := range cells {
			if i >= len(widths) {
				break
			}
			n := utf8.RuneCountInString(c)
			if i != last && n > maxWidth {
				n = maxWidth
			}
			if n > widths[i] {
				widths[i] = n
			}
		}
	}

	total := 0
	for _, w := range widths {
		total += w + 1
	}
	writeRow(&sb, t.Headers, widths)
	sb.WriteString(strings.Repeat("-", total) + "\n")
	for _, cells := range lines {
		writeRow(&sb, cells, widths)
	}
	_, err := io.WriteString(r.Out, sb.String())
	return err
}

func writeRow(sb *strings.Builder, cells []string, widths []int) {
	last := len(widths) - 1
	for i, w := range widths {
		var c string
		if i < len(cells) {
			c = cells[i]
		}
		if i == last {
			sb.WriteString(c)
			break
		}
		c = truncateString(c, w)
		sb.WriteString(c)
		sb.WriteString(strings.Repeat(" ", w-utf8.RuneCountInString(c)+1))
	}
	sb.WriteString("\n")
}

// actionLabels renders actions as "Edit(#3) Delete(#3)" so the id can be
// typed back into the shell.
func actionLabels(actions []Action) string {
	parts := make([]string, 0, len(actions))
	for _, a := range actions {
		if a.Target != 0 {
			parts = append(parts, fmt.Sprintf("%s(#%d)", a.Label, a.Target))
		} else {
			parts = append(parts, "["+a.Label+"]")
		}
	}
	return strings.Join(parts, " ")
}

func truncateString(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}

// HTMLRenderer writes fragments as HTML. All data goes through html/template,
// so titles and authors are escaped; actions carry data attributes instead of
// inline handlers.
type HTMLRenderer struct {
	Out io.Writer
}

var htmlTemplates = template.Must(template.New("page").Parse(`
{{- define "action" -}}
<button type="button" class="action-button {{.Kind}}" data-action="{{.Kind}}" data-target="{{.Target}}">{{.Label}}</button>
{{- end -}}

{{- define "fragment" -}}
<section id="{{.Panel}}">
{{- with .Title}}<h2>{{.}}</h2>{{end}}
{{- with .Nav}}<nav><span>{{.Text}}</span>{{range .Actions}} {{template "action" .}}{{end}}</nav>{{end}}
{{- with .Banner}}{{if .Text}}<div class="message-area {{.Kind}}">{{.Text}}</div>{{end}}{{end}}
{{- with .Table}}{{if .Rows}}
<table>
<thead><tr>{{range .Headers}}<th>{{.}}</th>{{end}}</tr></thead>
<tbody>
{{- range .Rows}}
<tr{{with .Class}} class="{{.}}"{{end}}>{{range .Cells}}<td>{{.}}</td>{{end}}
{{- if $.Table.HasActions}}<td>{{range .Actions}}{{template "action" .}}{{else}}{{with .Note}}<span class="note">{{.}}</span>{{end}}{{end}}</td>{{end}}</tr>
{{- end}}
</tbody>
</table>
{{- else}}<p>{{.Empty}}</p>{{end}}{{end}}
</section>
{{end -}}

<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Library</title></head>
<body>
{{range .}}{{template "fragment" .}}{{end}}
</body>
</html>
`))

func (r HTMLRenderer) Render(f Fragment) error {
	if f.Hidden {
		return nil
	}
	return htmlTemplates.ExecuteTemplate(r.Out, "fragment", f)
}

// WriteScreen writes a complete HTML page of the screen's visible fragments.
func (r HTMLRenderer) WriteScreen(s *Screen) error {
	return htmlTemplates.Execute(r.Out, s.Snapshot())
}
