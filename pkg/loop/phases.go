package loop

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"devloop/pkg/ideas"
	"devloop/pkg/logx"
	"devloop/pkg/plan"
	"devloop/pkg/state"
	"devloop/pkg/templates"
)

// excerptLen bounds how much of each idea the selection prompt quotes.
const excerptLen = 500

// runPlan obtains a plan document, validates it, and writes it durably
// before the pinned idea is consumed.
func (c *Controller) runPlan(ctx context.Context) error {
	c.st.StartCycle(c.now())
	c.sink.Phase(c.st.Cycle, "plan", "")
	c.recordCycleStart()

	idea, err := c.pickIdea(ctx)
	if err != nil {
		return err
	}

	data := &templates.TemplateData{
		WorkDir: c.cfg.Paths.WorkDir,
		Cycle:   c.st.Cycle,
	}
	if idea != nil {
		data.IdeaContent = idea.Content
	}
	prompt, err := c.renderer.Render(templates.PlanTemplate, data)
	if err != nil {
		return err
	}

	response, err := c.callAgent(ctx, c.agent.Plan, prompt)
	if err != nil {
		return err
	}

	if err := plan.Validate(response); err != nil {
		return fmt.Errorf("%w: %v", errInvalidPlan, err)
	}
	if err := c.writePlan(response); err != nil {
		return err
	}

	// The plan is durable; only now is it safe to consume the idea.
	if idea != nil {
		if err := c.queue.Archive(idea.Filename); err != nil {
			c.logger.Warn("archive idea %s: %v", idea.Filename, err)
		}
		c.recorder.IdeaProcessed()
		c.st.CurrentIdea = nil
	}

	c.st.SessionRef = c.agent.SessionRef()
	c.st.Phase = state.PhaseBuild
	c.st.TaskIndex = 0
	c.logger.Info("plan written with %d tasks", plan.CountUncompleted(plan.Parse(response)))
	return nil
}

// pickIdea applies the selection policy: zero ideas means autonomous
// planning, one is used directly, more than one is put to the agent. The
// chosen idea is pinned into state before the slow planning call so a crash
// resumes against the same idea.
func (c *Controller) pickIdea(ctx context.Context) (*ideas.Idea, error) {
	if c.st.CurrentIdea != nil {
		idea, err := c.queue.Load(c.st.CurrentIdea.Filename)
		if err != nil {
			c.logger.Warn("pinned idea %s is gone, replanning without it: %v", c.st.CurrentIdea.Filename, err)
			c.st.CurrentIdea = nil
			return nil, nil
		}
		return &idea, nil
	}

	queued, err := c.queue.List()
	if err != nil {
		return nil, err
	}

	var chosen *ideas.Idea
	switch len(queued) {
	case 0:
		return nil, nil
	case 1:
		chosen = &queued[0]
	default:
		chosen = c.selectIdea(ctx, queued)
		if chosen == nil {
			return nil, nil
		}
	}

	c.st.CurrentIdea = &state.IdeaRef{Path: chosen.Path, Filename: chosen.Filename}
	c.persist()
	return chosen, nil
}

// selectIdea asks the agent to choose by index. Any failure falls back to
// autonomous planning; selection never blocks the cycle.
func (c *Controller) selectIdea(ctx context.Context, queued []ideas.Idea) *ideas.Idea {
	summaries := make([]templates.IdeaSummary, len(queued))
	for i, idea := range queued {
		excerpt := idea.Content
		if len(excerpt) > excerptLen {
			excerpt = excerpt[:excerptLen]
		}
		summaries[i] = templates.IdeaSummary{Index: i + 1, Filename: idea.Filename, Excerpt: excerpt}
	}

	prompt, err := c.renderer.Render(templates.IdeaSelectionTemplate, &templates.TemplateData{
		WorkDir: c.cfg.Paths.WorkDir,
		Ideas:   summaries,
	})
	if err != nil {
		c.logger.Warn("render selection prompt: %v", err)
		return nil
	}

	response, err := c.callAgent(ctx, c.agent.SelectIdea, prompt)
	if err != nil {
		c.logger.Warn("idea selection failed, planning autonomously: %v", err)
		return nil
	}

	index, ok := ideas.ParseSelection(response, len(queued))
	if !ok {
		c.logger.Warn("selection response had no usable index, planning autonomously")
		return nil
	}
	c.logger.Info("agent selected idea %d: %s", index+1, queued[index].Filename)
	return &queued[index]
}

// runBuild executes the first uncompleted task, or advances to eval when
// none remain.
func (c *Controller) runBuild(ctx context.Context) error {
	text, err := c.readPlan()
	if err != nil {
		return err
	}

	tasks := plan.Parse(text)
	task, ok := plan.FirstUncompleted(tasks)
	if !ok {
		c.logger.Info("no tasks remain, moving to eval")
		c.st.Phase = state.PhaseEval
		return nil
	}

	c.sink.Phase(c.st.Cycle, "build", task.Description)
	c.sink.Step(task.Description)

	prompt, err := c.renderer.Render(templates.BuildTemplate, &templates.TemplateData{
		WorkDir:         c.cfg.Paths.WorkDir,
		Cycle:           c.st.Cycle,
		PlanContent:     text,
		TaskDescription: task.Description,
	})
	if err != nil {
		return err
	}

	if _, err := c.callAgent(ctx, c.agent.Build, prompt); err != nil {
		return err
	}

	// The task is marked complete whatever the agent reported about it; a
	// broken task must not wedge the loop. Reread the file in case the
	// agent edited the plan while working.
	current, err := c.readPlan()
	if err != nil {
		current = text
	}
	edited, err := plan.MarkComplete(current, task.LineNumber)
	if err != nil {
		c.logger.Warn("mark task complete: %v", err)
		edited, err = plan.MarkComplete(text, task.LineNumber)
		if err != nil {
			return err
		}
	}
	if err := c.writePlan(edited); err != nil {
		return err
	}

	c.st.TaskIndex++
	c.st.SessionRef = c.agent.SessionRef()
	c.recorder.TaskCompleted()
	c.recordTask(task.Description, false)

	if remaining := plan.CountUncompleted(plan.Parse(edited)); remaining == 0 {
		c.st.Phase = state.PhaseEval
		return nil
	}

	// Pause between tasks so the backend and the repository settle.
	if delay := c.cfg.Timing.TaskDelay.Std(); delay > 0 {
		if err := c.sleep(ctx, delay); err != nil {
			return err
		}
	}
	return nil
}

// runEval asks for a verdict on the cycle and advances accordingly.
func (c *Controller) runEval(ctx context.Context) error {
	text, err := c.readPlan()
	if err != nil {
		return err
	}

	c.sink.Phase(c.st.Cycle, "eval", "")

	prompt, err := c.renderer.Render(templates.EvalTemplate, &templates.TemplateData{
		WorkDir:     c.cfg.Paths.WorkDir,
		Cycle:       c.st.Cycle,
		PlanContent: text,
	})
	if err != nil {
		return err
	}

	response, err := c.callAgent(ctx, c.agent.Eval, prompt)
	if err != nil {
		return err
	}

	complete, reason, err := parseVerdict(response)
	if err != nil {
		return err
	}

	if !complete {
		remaining := plan.CountUncompleted(plan.Parse(text))
		if remaining > 0 {
			c.logger.Info("eval verdict NEEDS_WORK (%s), %d tasks remain", reason, remaining)
			c.st.Phase = state.PhaseBuild
			return nil
		}
		// Nothing left to build; forcing a new cycle guards against an
		// evaluator that never says COMPLETE.
		c.logger.Warn("eval verdict NEEDS_WORK (%s) but no tasks remain, forcing a new cycle", reason)
		c.finishCycle(ctx, "NEEDS_WORK")
		return nil
	}

	c.logger.Info("eval verdict COMPLETE")
	c.finishCycle(ctx, "COMPLETE")
	return nil
}

// finishCycle archives the plan, records the outcome, and resets for the
// next cycle.
func (c *Controller) finishCycle(ctx context.Context, outcome string) {
	c.archivePlan()
	c.recorder.CycleCompleted()
	if c.history != nil {
		if err := c.history.CycleCompleted(c.st.Cycle, c.now(), outcome); err != nil {
			c.logger.Debug("record cycle completion: %v", err)
		}
	}
	c.agent.EndCycle(ctx)
	c.st.AdvanceCycle()
}

// archivePlan moves the finished plan into the archive directory with a
// cycle-stamped name. Failure is logged; losing an archive copy is not worth
// failing the cycle over.
func (c *Controller) archivePlan() {
	archiveDir := c.cfg.Resolve(c.cfg.Paths.ArchiveDir)
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		c.logger.Warn("create archive directory: %v", err)
		return
	}

	dst := filepath.Join(archiveDir, fmt.Sprintf("plan-cycle-%04d.md", c.st.Cycle))
	if err := os.Rename(c.planPath, dst); err != nil {
		c.logger.Warn("archive plan: %v", err)
	}
}

func (c *Controller) recordCycleStart() {
	if c.history == nil || c.st.CycleStartTime == nil {
		return
	}
	ideaName := ""
	if c.st.CurrentIdea != nil {
		ideaName = c.st.CurrentIdea.Filename
	}
	if err := c.history.CycleStarted(c.st.Cycle, *c.st.CycleStartTime, ideaName); err != nil {
		c.logger.Debug("record cycle start: %v", err)
	}
}

// callAgent wraps one remote call with a request timeout and a progress
// indicator that the session manager cancels when output starts.
func (c *Controller) callAgent(ctx context.Context, call func(context.Context, string) (string, error), prompt string) (string, error) {
	if timeout := c.cfg.Timing.RequestTimeout.Std(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	spinner := logx.NewSpinner()
	c.agent.SetProgress(spinner)
	defer spinner.Cancel()

	start := c.now()
	response, err := call(ctx, prompt)
	c.recorder.AddRuntime(c.now().Sub(start))
	return response, err
}

// parseVerdict extracts the binary verdict from an eval response. The first
// line carrying either token wins; a response with neither is an error and
// gets retried.
func parseVerdict(response string) (complete bool, reason string, err error) {
	for _, line := range strings.Split(response, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		upper := strings.ToUpper(trimmed)
		switch {
		case strings.HasPrefix(upper, "COMPLETE"):
			return true, "", nil
		case strings.HasPrefix(upper, "NEEDS_WORK"):
			rest := trimmed[len("NEEDS_WORK"):]
			rest = strings.TrimLeft(rest, ": ")
			return false, strings.TrimSpace(rest), nil
		}
	}
	return false, "", fmt.Errorf("eval response contained no verdict")
}
