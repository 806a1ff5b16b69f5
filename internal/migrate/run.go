package migrate

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/konflux-ci/pipeline-migration-tool/internal/executor"
	"github.com/konflux-ci/pipeline-migration-tool/internal/pipeline"
	"github.com/konflux-ci/pipeline-migration-tool/internal/plan"
	"github.com/konflux-ci/pipeline-migration-tool/internal/version"
)

// StepState is the lifecycle state of one plan step during a run.
type StepState int

const (
	StepPending StepState = iota
	StepFetching
	StepApplying
	StepApplied
	StepSkipped
	StepFailed
)

func (s StepState) String() string {
	switch s {
	case StepPending:
		return "pending"
	case StepFetching:
		return "fetching"
	case StepApplying:
		return "applying"
	case StepApplied:
		return "applied"
	case StepSkipped:
		return "skipped"
	case StepFailed:
		return "failed"
	default:
		return fmt.Sprintf("StepState(%d)", int(s))
	}
}

// RunState is the overall outcome of a run.
type RunState int

const (
	RunPlanned RunState = iota
	RunSucceeded
	RunFailed
)

func (s RunState) String() string {
	switch s {
	case RunPlanned:
		return "planned"
	case RunSucceeded:
		return "succeeded"
	case RunFailed:
		return "failed"
	default:
		return fmt.Sprintf("RunState(%d)", int(s))
	}
}

// StepError reports the failure of one step. The run stops at the failing
// step; earlier applied steps are not rolled back.
type StepError struct {
	Version version.Version
	Bundle  string
	// Stage is "fetch" or "apply".
	Stage string
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("migration step %s failed during %s: %v", e.Version, e.Stage, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// StepReport is the per-step view of a run.
type StepReport struct {
	Step  plan.Step
	State StepState
	// Output is the combined stdout/stderr of the applied script.
	Output string
	Err    error
}

// RunReport is the outcome of executing one plan against one pipeline file.
type RunReport struct {
	ID    string
	Repo  string
	File  string
	From  version.Version
	To    version.Version
	State RunState
	Steps []*StepReport
}

// Failed returns the failing step report, or nil.
func (r *RunReport) Failed() *StepReport {
	for _, s := range r.Steps {
		if s.State == StepFailed {
			return s
		}
	}
	return nil
}

// Runner executes a plan against a pipeline definition: fetch each step's
// script, apply it, stop at the first failure. Steps without a script are
// skipped and execution continues.
type Runner struct {
	fetcher *Fetcher
	scripts executor.ScriptRunner
	logger  zerolog.Logger
}

// NewRunner creates a Runner.
func NewRunner(fetcher *Fetcher, scripts executor.ScriptRunner, logger zerolog.Logger) *Runner {
	return &Runner{fetcher: fetcher, scripts: scripts, logger: logger}
}

func newReport(p *plan.Plan, file string) *RunReport {
	report := &RunReport{
		ID:    uuid.NewString(),
		Repo:  p.Repo,
		File:  file,
		From:  p.From,
		To:    p.To,
		State: RunPlanned,
		Steps: make([]*StepReport, len(p.Steps)),
	}
	for i, step := range p.Steps {
		report.Steps[i] = &StepReport{Step: step, State: StepPending}
	}
	return report
}

// Execute runs the plan against def. The returned report always describes
// every step; on error it accompanies a *StepError so the caller can render
// partial progress.
func (r *Runner) Execute(ctx context.Context, p *plan.Plan, def *pipeline.Definition) (*RunReport, error) {
	report := newReport(p, def.Path)
	if p.Empty() {
		report.State = RunSucceeded
		return report, nil
	}

	logger := r.logger.With().Str("run", report.ID).Str("repo", p.Repo).Str("file", def.Path).Logger()
	logger.Info().Strs("versions", p.Versions()).Msg("applying migrations")

	err := def.WithWorkableFile(func(path string) error {
		for _, sr := range report.Steps {
			if err := r.runStep(ctx, logger, p.Repo, sr, path); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		report.State = RunFailed
		return report, err
	}

	report.State = RunSucceeded
	return report, nil
}

func (r *Runner) runStep(ctx context.Context, logger zerolog.Logger, repo string, sr *StepReport, pipelineFile string) error {
	step := sr.Step

	sr.State = StepFetching
	script, err := r.fetcher.Fetch(ctx, repo, step)
	if err != nil {
		if errors.Is(err, ErrNoMigration) {
			sr.State = StepSkipped
			return nil
		}
		sr.State = StepFailed
		sr.Err = err
		return &StepError{Version: step.Version, Bundle: bundleRef(repo, step), Stage: "fetch", Err: err}
	}

	sr.State = StepApplying
	logger.Info().Stringer("version", step.Version).Str("bundle", script.Bundle).Msg("applying migration")
	result, err := r.scripts.Run(ctx, script.Content, pipelineFile,
		executor.WithCombinedWriter(os.Stderr))
	if result != nil {
		sr.Output = result.Combined
	}
	if err != nil {
		sr.State = StepFailed
		sr.Err = err
		return &StepError{Version: step.Version, Bundle: script.Bundle, Stage: "apply", Err: err}
	}

	sr.State = StepApplied
	return nil
}

func bundleRef(repo string, step plan.Step) string {
	return fmt.Sprintf("%s:%s@%s", repo, step.Tag.Name, step.Tag.Digest)
}
