// Package plan parses checklist-style plan documents into task records.
// The parser is a pure function over the document text; tasks are never
// stored independently and are recomputed by reparsing after every edit.
package plan

import (
	"fmt"
	"regexp"
	"strings"
)

// Task is one actionable unit of work extracted from a plan document.
type Task struct {
	LineNumber  int
	Description string
	Completed   bool
}

// completedMarker marks a whole document as done. It is how the synthetic
// fallback task records completion, since there is no bullet to flip.
const completedMarker = "<!-- COMPLETED -->"

// doneMarker prefixes non-checkbox tasks when they are marked complete.
const doneMarker = "DONE:"

// fallbackPrefix prefixes the description of the synthetic fallback task.
const fallbackPrefix = "Complete the goal: "

// fallbackMaxLen caps the fallback description taken from the first
// substantive line.
const fallbackMaxLen = 100

var (
	checkboxRe = regexp.MustCompile(`^\s*[-*]\s*\[([ xX])\]\s*(.+)$`)
	numberedRe = regexp.MustCompile(`^\s*(DONE:\s*)?(\d+)[.)]\s+(.+)$`)
	stepRe     = regexp.MustCompile(`^\s*(DONE:\s*)?(?:Step|Task)\s+\d+\s*:\s*(.+)$`)
	bulletRe   = regexp.MustCompile(`^\s*(DONE:\s*)?[-*]\s+(.+)$`)
	headingRe  = regexp.MustCompile(`^\s*#{1,6}\s`)
)

// Parse extracts tasks from plan text. Recognized per line, in priority
// order: checkbox bullets, numbered items, "Step N:"/"Task N:" headings,
// and plain bullets. Markdown headings are skipped. If the text contains no
// structured task and is neither empty nor marked completed, exactly one
// synthetic fallback task is returned.
func Parse(text string) []Task {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	docCompleted := strings.Contains(text, completedMarker)

	var tasks []Task
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		task, ok := parseLine(line)
		if !ok {
			continue
		}
		task.LineNumber = i + 1
		if docCompleted {
			task.Completed = true
		}
		tasks = append(tasks, task)
	}

	if len(tasks) > 0 {
		return tasks
	}
	if docCompleted {
		return nil
	}

	fallback, ok := fallbackTask(lines)
	if !ok {
		return nil
	}
	return []Task{fallback}
}

// parseLine matches a single line against the task conventions in priority
// order. Returns false for headings and non-task lines.
func parseLine(line string) (Task, bool) {
	if m := checkboxRe.FindStringSubmatch(line); m != nil {
		return Task{
			Description: strings.TrimSpace(m[2]),
			Completed:   m[1] == "x" || m[1] == "X",
		}, true
	}

	// Headings are structure, not work. Checked after checkboxes so a
	// checkbox inside a heading-like line still counts as a checkbox.
	if headingRe.MatchString(line) {
		return Task{}, false
	}

	if m := stepRe.FindStringSubmatch(line); m != nil {
		return Task{
			Description: strings.TrimSpace(m[2]),
			Completed:   m[1] != "",
		}, true
	}

	if m := numberedRe.FindStringSubmatch(line); m != nil {
		return Task{
			Description: strings.TrimSpace(m[3]),
			Completed:   m[1] != "",
		}, true
	}

	if m := bulletRe.FindStringSubmatch(line); m != nil {
		return Task{
			Description: strings.TrimSpace(m[2]),
			Completed:   m[1] != "",
		}, true
	}

	return Task{}, false
}

// fallbackTask synthesizes a single task from the first substantive line.
// The description is deterministic for unmodified text.
func fallbackTask(lines []string) (Task, bool) {
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || headingRe.MatchString(line) {
			continue
		}
		if len(trimmed) > fallbackMaxLen {
			trimmed = trimmed[:fallbackMaxLen]
		}
		return Task{
			LineNumber:  i + 1,
			Description: fallbackPrefix + trimmed,
		}, true
	}
	return Task{}, false
}

// IsFallback reports whether the task was synthesized rather than parsed
// from a structured line.
func IsFallback(t *Task) bool {
	return strings.HasPrefix(t.Description, fallbackPrefix)
}

// FirstUncompleted returns the first task that is not yet complete.
func FirstUncompleted(tasks []Task) (Task, bool) {
	for i := range tasks {
		if !tasks[i].Completed {
			return tasks[i], true
		}
	}
	return Task{}, false
}

// CountUncompleted returns the number of tasks not yet complete.
func CountUncompleted(tasks []Task) int {
	count := 0
	for i := range tasks {
		if !tasks[i].Completed {
			count++
		}
	}
	return count
}

// MarkComplete marks the task at the given 1-based line number complete and
// returns the edited text. The edit is format-aware: checkbox bullets get
// their bracket flipped, other formats get a done marker prepended
// idempotently. A fallback task (no structured line to edit) is completed by
// prepending a whole-document completed marker.
func MarkComplete(text string, lineNumber int) (string, error) {
	tasks := Parse(text)
	if len(tasks) == 0 {
		return "", fmt.Errorf("no tasks in plan text")
	}

	var target *Task
	for i := range tasks {
		if tasks[i].LineNumber == lineNumber {
			target = &tasks[i]
			break
		}
	}
	if target == nil {
		return "", fmt.Errorf("no task at line %d", lineNumber)
	}

	if IsFallback(target) {
		if strings.Contains(text, completedMarker) {
			return text, nil
		}
		return completedMarker + "\n" + text, nil
	}

	lines := strings.Split(text, "\n")
	if lineNumber < 1 || lineNumber > len(lines) {
		return "", fmt.Errorf("line %d out of range", lineNumber)
	}
	line := lines[lineNumber-1]

	if checkboxRe.MatchString(line) {
		line = strings.Replace(line, "[ ]", "[x]", 1)
	} else if !strings.Contains(line, doneMarker) {
		indent := line[:len(line)-len(strings.TrimLeft(line, " \t"))]
		line = indent + doneMarker + " " + strings.TrimLeft(line, " \t")
	}
	lines[lineNumber-1] = line

	return strings.Join(lines, "\n"), nil
}

// MarkSkipped marks the task complete and annotates its description so a
// skipped task is distinguishable from a genuinely finished one.
func MarkSkipped(text string, lineNumber int) (string, error) {
	edited, err := MarkComplete(text, lineNumber)
	if err != nil {
		return "", err
	}

	lines := strings.Split(edited, "\n")
	// The completed marker may have shifted line numbers by one.
	offset := 0
	if strings.HasPrefix(edited, completedMarker) && !strings.HasPrefix(text, completedMarker) {
		offset = 1
	}
	idx := lineNumber - 1 + offset
	if idx >= 0 && idx < len(lines) && !strings.Contains(lines[idx], "(skipped)") {
		lines[idx] += " (skipped)"
	}
	return strings.Join(lines, "\n"), nil
}

// Validate reports whether the text is a usable plan: non-empty with at
// least one uncompleted task remaining.
func Validate(text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("plan text is empty")
	}
	tasks := Parse(text)
	if CountUncompleted(tasks) == 0 {
		return fmt.Errorf("plan has no uncompleted tasks")
	}
	return nil
}
