// Package templates renders the phase prompts sent to the agent backend.
// Prompt wording lives in embedded template files, not in loop logic.
package templates

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"
)

//go:embed *.tpl.md
var templateFS embed.FS

// PhaseTemplate names one embedded prompt template.
type PhaseTemplate string

const (
	// PlanTemplate asks the agent to produce a task checklist.
	PlanTemplate PhaseTemplate = "plan.tpl.md"
	// BuildTemplate asks the agent to execute a single task.
	BuildTemplate PhaseTemplate = "build.tpl.md"
	// EvalTemplate asks for a COMPLETE/NEEDS_WORK verdict on the plan.
	EvalTemplate PhaseTemplate = "eval.tpl.md"
	// IdeaSelectionTemplate asks the agent to choose among queued ideas.
	IdeaSelectionTemplate PhaseTemplate = "idea_selection.tpl.md"
)

// IdeaSummary is one queue entry presented in the selection prompt.
type IdeaSummary struct {
	Index    int // 1-based, matches the SELECTED_IDEA token
	Filename string
	Excerpt  string
}

// TemplateData carries everything a phase prompt can reference.
type TemplateData struct {
	WorkDir         string
	Cycle           int
	IdeaContent     string
	PlanContent     string
	TaskDescription string
	Ideas           []IdeaSummary
}

// Renderer holds the parsed prompt templates.
type Renderer struct {
	templates map[PhaseTemplate]*template.Template
}

// NewRenderer parses all embedded templates.
func NewRenderer() (*Renderer, error) {
	r := &Renderer{templates: make(map[PhaseTemplate]*template.Template)}

	for _, name := range []PhaseTemplate{PlanTemplate, BuildTemplate, EvalTemplate, IdeaSelectionTemplate} {
		content, err := templateFS.ReadFile(string(name))
		if err != nil {
			return nil, fmt.Errorf("read template %s: %w", name, err)
		}
		tmpl, err := template.New(string(name)).Funcs(template.FuncMap{
			"trim": strings.TrimSpace,
		}).Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}
		r.templates[name] = tmpl
	}
	return r, nil
}

// Render executes the named template with the given data.
func (r *Renderer) Render(name PhaseTemplate, data *TemplateData) (string, error) {
	tmpl, ok := r.templates[name]
	if !ok {
		return "", fmt.Errorf("unknown template: %s", name)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute template %s: %w", name, err)
	}
	return buf.String(), nil
}
