package templates

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderPlanWithIdea(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	out, err := r.Render(PlanTemplate, &TemplateData{
		WorkDir:     "/repo",
		Cycle:       3,
		IdeaContent: "Add request tracing\n",
	})
	require.NoError(t, err)
	assert.Contains(t, out, "/repo")
	assert.Contains(t, out, "cycle 3")
	assert.Contains(t, out, "Add request tracing")
	assert.NotContains(t, out, "decide what to improve next")
}

func TestRenderPlanAutonomous(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	out, err := r.Render(PlanTemplate, &TemplateData{WorkDir: "/repo", Cycle: 1})
	require.NoError(t, err)
	assert.Contains(t, out, "decide what to improve next")
}

func TestRenderBuild(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	out, err := r.Render(BuildTemplate, &TemplateData{
		WorkDir:         "/repo",
		Cycle:           1,
		PlanContent:     "- [ ] write docs",
		TaskDescription: "write docs",
	})
	require.NoError(t, err)
	assert.Contains(t, out, "Execute exactly this task now")
	assert.Contains(t, out, "write docs")
}

func TestRenderEvalMentionsVerdicts(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	out, err := r.Render(EvalTemplate, &TemplateData{WorkDir: "/repo", PlanContent: "- [x] done"})
	require.NoError(t, err)
	assert.Contains(t, out, "COMPLETE")
	assert.Contains(t, out, "NEEDS_WORK")
}

func TestRenderIdeaSelection(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	out, err := r.Render(IdeaSelectionTemplate, &TemplateData{
		WorkDir: "/repo",
		Ideas: []IdeaSummary{
			{Index: 1, Filename: "a.md", Excerpt: "first thing"},
			{Index: 2, Filename: "b.md", Excerpt: "second thing"},
		},
	})
	require.NoError(t, err)
	assert.Contains(t, out, "Idea 1: a.md")
	assert.Contains(t, out, "Idea 2: b.md")
	assert.Contains(t, out, "SELECTED_IDEA")
}

func TestRenderUnknownTemplate(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	_, err = r.Render("nope.tpl.md", &TemplateData{})
	assert.Error(t, err)
}
