// Package plan resolves the ordered migration plan for one version upgrade:
// the version groups in the open-closed interval (from, to], one selected
// tag per group, consumed strictly in ascending order by the executor.
package plan

import (
	"context"
	"fmt"

	"github.com/konflux-ci/pipeline-migration-tool/internal/discovery"
	"github.com/konflux-ci/pipeline-migration-tool/internal/registry"
	"github.com/konflux-ci/pipeline-migration-tool/internal/version"
)

// InvalidRangeError reports a source version greater than the target. It is
// raised before any network call.
type InvalidRangeError struct {
	From version.Version
	To   version.Version
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("invalid version range: source %s is greater than target %s", e.From, e.To)
}

// Step is one plan entry: a version and the tag selected for it.
type Step struct {
	Version version.Version
	Tag     registry.Tag
}

// Plan is the ordered migration plan for one task reference. Immutable
// after construction.
type Plan struct {
	Repo  string
	From  version.Version
	To    version.Version
	Steps []Step
}

// Empty reports whether the plan has no steps.
func (p *Plan) Empty() bool { return len(p.Steps) == 0 }

// Versions returns the versions of the plan in order, for reporting.
func (p *Plan) Versions() []string {
	out := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		out[i] = s.Version.String()
	}
	return out
}

// ResolveRange selects every group g with from < g.Version <= to,
// preserving ascending order. from == to yields an empty result, which is
// not an error; version gaps simply yield fewer entries.
func ResolveRange(groups []discovery.VersionGroup, from, to version.Version) ([]discovery.VersionGroup, error) {
	if to.Less(from) {
		return nil, &InvalidRangeError{From: from, To: to}
	}

	var out []discovery.VersionGroup
	for _, g := range groups {
		if from.Less(g.Version) && !to.Less(g.Version) {
			out = append(out, g)
		}
	}
	return out, nil
}

// Builder builds plans from discovery results.
type Builder struct {
	index    *discovery.Index
	selector *discovery.Selector
}

// NewBuilder creates a Builder.
func NewBuilder(index *discovery.Index, selector *discovery.Selector) *Builder {
	return &Builder{index: index, selector: selector}
}

// Build discovers repo's version groups, resolves the (from, to] range and
// selects one tag per group. The range check runs before discovery so an
// inverted range never reaches the network.
func (b *Builder) Build(ctx context.Context, repo string, from, to version.Version) (*Plan, error) {
	if to.Less(from) {
		return nil, &InvalidRangeError{From: from, To: to}
	}

	p := &Plan{Repo: repo, From: from, To: to}
	if from.Equal(to) {
		return p, nil
	}

	groups, err := b.index.ListVersionGroups(ctx, repo)
	if err != nil {
		return nil, err
	}

	inRange, err := ResolveRange(groups, from, to)
	if err != nil {
		return nil, err
	}

	for _, g := range inRange {
		tag, err := b.selector.Select(ctx, repo, g)
		if err != nil {
			return nil, fmt.Errorf("failed to select tag for version %s of %s: %w", g.Version, repo, err)
		}
		p.Steps = append(p.Steps, Step{Version: g.Version, Tag: tag})
	}
	return p, nil
}
