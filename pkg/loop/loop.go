// Package loop implements the phase state machine that drives development
// cycles: plan, build, eval, repeat. The controller owns the persisted state
// record and is the only component that mutates it.
package loop

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"devloop/pkg/agent"
	"devloop/pkg/config"
	"devloop/pkg/ideas"
	"devloop/pkg/logx"
	"devloop/pkg/metrics"
	"devloop/pkg/persistence"
	"devloop/pkg/plan"
	"devloop/pkg/retry"
	"devloop/pkg/state"
	"devloop/pkg/templates"
)

// Agent is the slice of the session manager the controller needs. The
// concrete implementation is agent.Manager.
type Agent interface {
	Plan(ctx context.Context, prompt string) (string, error)
	Build(ctx context.Context, prompt string) (string, error)
	Eval(ctx context.Context, prompt string) (string, error)
	SelectIdea(ctx context.Context, prompt string) (string, error)
	SetProgress(p agent.Progress)
	SessionRef() string
	Restore(ref string)
	EndCycle(ctx context.Context)
}

// errInvalidPlan marks a planning response that produced no usable tasks.
var errInvalidPlan = errors.New("invalid plan")

// Controller is the loop driver.
type Controller struct {
	cfg      *config.Config
	store    *state.Store
	st       *state.State
	agent    Agent
	queue    *ideas.Queue
	renderer *templates.Renderer
	recorder *metrics.Recorder
	history  *persistence.Store
	policy   retry.Policy
	sink     logx.EventSink
	logger   *logx.Logger

	// now and sleep are swappable for tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	planPath string
}

// New assembles a controller. history may be nil; cycle history is then not
// recorded.
func New(cfg *config.Config, store *state.Store, ag Agent, queue *ideas.Queue,
	renderer *templates.Renderer, recorder *metrics.Recorder,
	history *persistence.Store, sink logx.EventSink) (*Controller, error) {

	st, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}

	c := &Controller{
		cfg:      cfg,
		store:    store,
		st:       st,
		agent:    ag,
		queue:    queue,
		renderer: renderer,
		recorder: recorder,
		history:  history,
		policy: retry.Policy{
			MaxRetries:     cfg.Retry.MaxRetries,
			InitialDelay:   cfg.Retry.InitialDelay.Std(),
			MaxDelay:       cfg.Retry.MaxDelay.Std(),
			JitterFraction: retry.DefaultPolicy.JitterFraction,
		},
		sink:     sink,
		logger:   logx.NewLogger("loop"),
		now:      time.Now,
		sleep:    retry.Wait,
		planPath: cfg.Resolve(cfg.Paths.PlanFile),
	}

	c.resume()
	return c, nil
}

// resume reattaches to work left behind by a previous run. Task counts are
// always recomputed from the plan file; cached numbers in the state record
// are never trusted across a restart.
func (c *Controller) resume() {
	if c.st.Phase == state.PhaseBuild && c.st.SessionRef != "" {
		c.agent.Restore(c.st.SessionRef)
	}
	if c.st.CurrentIdea != nil {
		c.logger.Info("resuming with pinned idea %s", c.st.CurrentIdea.Filename)
	}
	if c.st.Phase == state.PhaseBuild || c.st.Phase == state.PhaseEval {
		if _, err := c.readPlan(); err != nil {
			c.logger.Warn("plan file unreadable on resume, replanning: %v", err)
			c.st.Phase = state.PhasePlan
		}
	}
}

// Run drives the loop until the context is cancelled. Phase errors never
// escape; every error is classified and routed through the retry policy.
func (c *Controller) Run(ctx context.Context) error {
	c.logger.Info("starting at cycle %d phase %s", c.st.Cycle, c.st.Phase)

	for {
		if ctx.Err() != nil {
			c.persist()
			return ctx.Err()
		}

		c.applyCycleTimeout()

		var err error
		switch c.st.Phase {
		case state.PhaseInit, state.PhasePlan:
			err = c.runPlan(ctx)
		case state.PhaseBuild:
			err = c.runBuild(ctx)
		case state.PhaseEval:
			err = c.runEval(ctx)
		}

		if err != nil {
			// Shutdown is detected on the parent context only. A deadline or
			// cancellation bubbling out of a phase otherwise comes from the
			// per-request timeout and is retryable like any other failure.
			if ctx.Err() != nil {
				c.persist()
				return ctx.Err()
			}
			c.handleFailure(ctx, err)
		} else {
			c.st.ClearRetries()
		}

		c.st.LastUpdate = c.now().UTC()
		c.persist()
	}
}

// applyCycleTimeout forces a transition when the cycle has run too long:
// replanning restarts the clock, building skips ahead to evaluation.
func (c *Controller) applyCycleTimeout() {
	timeout := c.cfg.Timing.CycleTimeout.Std()
	if !c.st.CycleExpired(c.now(), timeout) {
		return
	}

	switch c.st.Phase {
	case state.PhaseInit, state.PhasePlan:
		c.logger.Warn("cycle %d timed out during planning, restarting the cycle clock", c.st.Cycle)
		c.st.CycleStartTime = nil
	case state.PhaseBuild:
		c.logger.Warn("cycle %d timed out during build, skipping to eval", c.st.Cycle)
		c.st.Phase = state.PhaseEval
	case state.PhaseEval:
		// Eval runs to a verdict regardless of elapsed time.
	}
}

// handleFailure counts a retry, sleeps with backoff, and applies per-phase
// remediation once retries are exhausted.
func (c *Controller) handleFailure(ctx context.Context, err error) {
	phase := c.st.Phase
	c.sink.Failure(fmt.Sprintf("cycle %d phase %s", c.st.Cycle, phase), err)

	c.st.RecordError(c.now())
	c.recorder.Retry()

	if !c.policy.Exhausted(c.st.RetryCount) {
		c.persist()
		delay := c.policy.Delay(c.st.RetryCount)
		c.logger.Info("retry %d/%d in %s", c.st.RetryCount, c.policy.MaxRetries, delay.Round(time.Millisecond))
		if sleepErr := c.sleep(ctx, delay); sleepErr != nil {
			return
		}
		return
	}

	c.sink.Alert("cycle %d phase %s failed %d times, giving up: %v", c.st.Cycle, phase, c.st.RetryCount, err)
	c.st.ClearRetries()
	c.remediate(phase)
}

// remediate applies the give-up policy for a phase whose retries ran out.
func (c *Controller) remediate(phase state.Phase) {
	switch phase {
	case state.PhaseInit, state.PhasePlan:
		if c.st.CurrentIdea != nil {
			c.logger.Warn("dropping pinned idea %s, falling back to autonomous planning", c.st.CurrentIdea.Filename)
			c.st.CurrentIdea = nil
		}
	case state.PhaseBuild:
		c.skipCurrentTask()
	case state.PhaseEval:
		// No remediation; evaluation keeps retrying until it succeeds.
	}
}

// skipCurrentTask marks the in-flight task complete with a skip annotation
// so a permanently broken task cannot wedge the loop.
func (c *Controller) skipCurrentTask() {
	text, err := c.readPlan()
	if err != nil {
		c.logger.Error("cannot read plan to skip task: %v", err)
		return
	}

	task, ok := plan.FirstUncompleted(plan.Parse(text))
	if !ok {
		return
	}

	edited, err := plan.MarkSkipped(text, task.LineNumber)
	if err != nil {
		c.logger.Error("cannot mark task skipped: %v", err)
		return
	}
	if err := c.writePlan(edited); err != nil {
		c.logger.Error("cannot write plan after skip: %v", err)
		return
	}

	c.recorder.TaskSkipped()
	c.recordTask(task.Description, true)
	c.logger.Warn("skipped task: %s", task.Description)
}

func (c *Controller) persist() {
	if err := c.store.Save(c.st); err != nil {
		c.logger.Error("persist state: %v", err)
	}
}

func (c *Controller) readPlan() (string, error) {
	data, err := os.ReadFile(c.planPath)
	if err != nil {
		return "", fmt.Errorf("read plan: %w", err)
	}
	return string(data), nil
}

// writePlan replaces the plan document atomically; the file must stay
// parseable even if the process dies mid-write.
func (c *Controller) writePlan(text string) error {
	if err := os.MkdirAll(filepath.Dir(c.planPath), 0o755); err != nil {
		return fmt.Errorf("create plan directory: %w", err)
	}
	tmp := c.planPath + ".tmp"
	if err := os.WriteFile(tmp, []byte(text), 0o644); err != nil {
		return fmt.Errorf("write plan: %w", err)
	}
	if err := os.Rename(tmp, c.planPath); err != nil {
		return fmt.Errorf("replace plan: %w", err)
	}
	return nil
}

func (c *Controller) recordTask(description string, skipped bool) {
	if c.history == nil {
		return
	}
	if err := c.history.TaskRecorded(c.st.Cycle, description, skipped, c.now()); err != nil {
		c.logger.Debug("record task history: %v", err)
	}
}

// State exposes the current state record for inspection. Callers must not
// mutate it.
func (c *Controller) State() *state.State {
	return c.st
}
