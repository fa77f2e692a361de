package plan

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCheckboxes(t *testing.T) {
	text := "- [ ] first task\n- [x] second task\n* [ ] third task"
	tasks := Parse(text)

	require.Len(t, tasks, 3)
	assert.Equal(t, "first task", tasks[0].Description)
	assert.False(t, tasks[0].Completed)
	assert.True(t, tasks[1].Completed)
	assert.Equal(t, 3, tasks[2].LineNumber)
}

func TestParseNumberedItems(t *testing.T) {
	text := "1. do one thing\n2) do another\nDONE: 3. already finished"
	tasks := Parse(text)

	require.Len(t, tasks, 3)
	assert.False(t, tasks[0].Completed)
	assert.False(t, tasks[1].Completed)
	assert.True(t, tasks[2].Completed)
	assert.Equal(t, "already finished", tasks[2].Description)
}

func TestParseStepHeadings(t *testing.T) {
	text := "Step 1: set up the repo\nTask 2: write the parser"
	tasks := Parse(text)

	require.Len(t, tasks, 2)
	assert.Equal(t, "set up the repo", tasks[0].Description)
	assert.Equal(t, "write the parser", tasks[1].Description)
}

func TestParseSkipsHeadings(t *testing.T) {
	text := "# Plan\n## Tasks\n- [ ] real task"
	tasks := Parse(text)

	require.Len(t, tasks, 1)
	assert.Equal(t, "real task", tasks[0].Description)
}

func TestParsePlainBullets(t *testing.T) {
	text := "- refactor the loop\n- DONE: nothing here"
	tasks := Parse(text)

	require.Len(t, tasks, 2)
	assert.False(t, tasks[0].Completed)
}

func TestParseEmptyText(t *testing.T) {
	assert.Nil(t, Parse(""))
	assert.Nil(t, Parse("   \n\n  "))
}

func TestParseFallbackTask(t *testing.T) {
	text := "# Goal\nShip the new importer with tests.\nMore prose follows."
	tasks := Parse(text)

	require.Len(t, tasks, 1)
	assert.True(t, IsFallback(&tasks[0]))
	assert.Equal(t, "Complete the goal: Ship the new importer with tests.", tasks[0].Description)
	assert.Equal(t, 2, tasks[0].LineNumber)

	// Reparsing identical text yields the identical fallback.
	again := Parse(text)
	require.Len(t, again, 1)
	assert.Equal(t, tasks[0], again[0])
}

func TestParseFallbackTruncates(t *testing.T) {
	long := strings.Repeat("a", 150)
	tasks := Parse(long)

	require.Len(t, tasks, 1)
	assert.Equal(t, "Complete the goal: "+strings.Repeat("a", 100), tasks[0].Description)
}

func TestMarkCompleteCheckbox(t *testing.T) {
	text := "- [ ] a\n- [ ] b"
	tasks := Parse(text)
	require.Len(t, tasks, 2)
	assert.Equal(t, 2, CountUncompleted(tasks))

	edited, err := MarkComplete(text, 1)
	require.NoError(t, err)
	assert.Equal(t, "- [x] a\n- [ ] b", edited)
	assert.Equal(t, 1, CountUncompleted(Parse(edited)))
}

func TestMarkCompleteAddsExactlyOne(t *testing.T) {
	texts := []string{
		"- [ ] a\n- [ ] b\n- [x] c",
		"1. one\n2. two",
		"Step 1: alpha\nStep 2: beta",
		"- plain one\n- plain two",
	}
	for _, text := range texts {
		tasks := Parse(text)
		target, ok := FirstUncompleted(tasks)
		require.True(t, ok, "text %q", text)

		before := CountUncompleted(tasks)
		edited, err := MarkComplete(text, target.LineNumber)
		require.NoError(t, err)
		after := CountUncompleted(Parse(edited))
		assert.Equal(t, before-1, after, "text %q", text)
	}
}

func TestMarkCompleteIdempotent(t *testing.T) {
	text := "1. one\n2. two"
	once, err := MarkComplete(text, 1)
	require.NoError(t, err)
	twice, err := MarkComplete(once, 1)
	require.NoError(t, err)
	assert.Equal(t, once, twice)
}

func TestMarkCompleteFallback(t *testing.T) {
	text := "Just prose describing the goal."
	tasks := Parse(text)
	require.Len(t, tasks, 1)

	edited, err := MarkComplete(text, tasks[0].LineNumber)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(edited, completedMarker))
	assert.Equal(t, 0, CountUncompleted(Parse(edited)))

	// Idempotent: completing again does not stack markers.
	again, err := MarkComplete(edited, tasks[0].LineNumber)
	if err == nil {
		assert.Equal(t, 1, strings.Count(again, completedMarker))
	}
}

func TestMarkSkippedAnnotates(t *testing.T) {
	text := "- [ ] a\n- [ ] b"
	edited, err := MarkSkipped(text, 1)
	require.NoError(t, err)

	tasks := Parse(edited)
	require.Len(t, tasks, 2)
	assert.True(t, tasks[0].Completed)
	assert.Contains(t, tasks[0].Description, "(skipped)")
	assert.False(t, tasks[1].Completed)
	assert.Equal(t, "b", tasks[1].Description)
}

func TestValidate(t *testing.T) {
	assert.Error(t, Validate(""))
	assert.Error(t, Validate("- [x] all done"))
	assert.NoError(t, Validate("- [ ] pending"))
	assert.NoError(t, Validate("plain prose goal"))
}

func TestFirstUncompleted(t *testing.T) {
	tasks := Parse("- [x] done\n- [ ] next\n- [ ] later")
	task, ok := FirstUncompleted(tasks)
	require.True(t, ok)
	assert.Equal(t, "next", task.Description)

	_, ok = FirstUncompleted(Parse("- [x] done"))
	assert.False(t, ok)
}
