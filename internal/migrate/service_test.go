package migrate

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/konflux-ci/pipeline-migration-tool/internal/registry/registrytest"
	"github.com/konflux-ci/pipeline-migration-tool/internal/version"
)

// seedHistory registers the release history used by the end to end tests:
//
//	0.2    three identical tags
//	0.2.1  two identical tags
//	0.3    two rebuild tags with the same script
//	0.3.1  two diverging tags, the later one fixed
func seedHistory(fake *registrytest.Fake) {
	base := time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)

	fake.AddBundle(testRepo, registrytest.Bundle{Tag: "0.2-aaa", Seed: "v02", CreatedAt: base, Script: []byte("echo 0.2\n")})
	fake.AddBundle(testRepo, registrytest.Bundle{Tag: "0.2-bbb", Seed: "v02", CreatedAt: base, Script: []byte("echo 0.2\n")})
	fake.AddBundle(testRepo, registrytest.Bundle{Tag: "0.2-ccc", Seed: "v02", CreatedAt: base, Script: []byte("echo 0.2\n")})

	fake.AddBundle(testRepo, registrytest.Bundle{Tag: "0.2.1-aaa", Seed: "v021", CreatedAt: base.Add(time.Hour), Script: []byte("echo 0.2.1\n")})
	fake.AddBundle(testRepo, registrytest.Bundle{Tag: "0.2.1-bbb", Seed: "v021", CreatedAt: base.Add(time.Hour), Script: []byte("echo 0.2.1\n")})

	fake.AddBundle(testRepo, registrytest.Bundle{Tag: "0.3-aaa", Seed: "v03-build1", CreatedAt: base.Add(2 * time.Hour), Script: []byte("echo 0.3\n")})
	fake.AddBundle(testRepo, registrytest.Bundle{Tag: "0.3-bbb", Seed: "v03-build2", CreatedAt: base.Add(3 * time.Hour), Script: []byte("echo 0.3\n")})

	fake.AddBundle(testRepo, registrytest.Bundle{Tag: "0.3.1-aaa", Seed: "v031-broken", CreatedAt: base.Add(4 * time.Hour), Script: []byte("echo 0.3.1 broken\n")})
	fake.AddBundle(testRepo, registrytest.Bundle{Tag: "0.3.1-bbb", Seed: "v031-fixed", CreatedAt: base.Add(5 * time.Hour), Script: []byte("echo 0.3.1 fixed\n")})

	fake.AddRawTag(testRepo, "latest")
}

func TestServiceMigrateEndToEnd(t *testing.T) {
	fake := registrytest.New()
	seedHistory(fake)

	scripts := &recordingRunner{}
	svc := NewService(fake, scripts, WithLogger(zerolog.Nop()))

	newDigest := "sha256:3333333333333333333333333333333333333333333333333333333333333333"
	path := writePipelineFile(t)
	report, err := svc.Migrate(context.Background(), Request{
		Repo:      testRepo,
		From:      version.MustParse("0.2"),
		To:        version.MustParse("0.3.1"),
		File:      path,
		NewTag:    "0.3.1",
		NewDigest: newDigest,
	})
	require.NoError(t, err)

	assert.Equal(t, RunSucceeded, report.State)
	require.Len(t, report.Steps, 3)
	assert.Equal(t, "0.2.1", report.Steps[0].Step.Version.String())
	assert.Equal(t, "0.3", report.Steps[1].Step.Version.String())
	assert.Equal(t, "0.3.1", report.Steps[2].Step.Version.String())

	// Identical and rebuilt groups select deterministically; the diverging
	// 0.3.1 group selects the later, fixed tag.
	assert.Equal(t, "0.2.1-aaa", report.Steps[0].Step.Tag.Name)
	assert.Equal(t, "0.3-aaa", report.Steps[1].Step.Tag.Name)
	assert.Equal(t, "0.3.1-bbb", report.Steps[2].Step.Tag.Name)

	assert.Equal(t, []string{"echo 0.2.1\n", "echo 0.3\n", "echo 0.3.1 fixed\n"}, scripts.scripts)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), testRepo+":0.3.1@"+newDigest)
}

func TestServiceMigrateDryRun(t *testing.T) {
	fake := registrytest.New()
	seedHistory(fake)

	scripts := &recordingRunner{}
	svc := NewService(fake, scripts, WithDryRun(true), WithLogger(zerolog.Nop()))

	path := writePipelineFile(t)
	report, err := svc.Migrate(context.Background(), Request{
		Repo: testRepo,
		From: version.MustParse("0.2"),
		To:   version.MustParse("0.3.1"),
		File: path,
	})
	require.NoError(t, err)

	assert.Equal(t, RunPlanned, report.State)
	require.Len(t, report.Steps, 3)
	for _, s := range report.Steps {
		assert.Equal(t, StepPending, s.State)
	}
	assert.Empty(t, scripts.scripts)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, pipelineDoc, string(data))
}

func TestServicePlanIsCached(t *testing.T) {
	fake := registrytest.New()
	seedHistory(fake)

	svc := NewService(fake, &recordingRunner{}, WithLogger(zerolog.Nop()))

	from, to := version.MustParse("0.2"), version.MustParse("0.3.1")
	_, err := svc.Plan(context.Background(), testRepo, from, to)
	require.NoError(t, err)
	listCalls := countCalls(fake, "ListTags")

	_, err = svc.Plan(context.Background(), testRepo, from, to)
	require.NoError(t, err)
	assert.Equal(t, listCalls, countCalls(fake, "ListTags"), "repeated plans must reuse discovery")
}

func countCalls(fake *registrytest.Fake, prefix string) int {
	n := 0
	for _, c := range fake.Calls {
		if len(c) >= len(prefix) && c[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

func TestServiceMigrateUpgrades(t *testing.T) {
	fake := registrytest.New()
	seedHistory(fake)

	scripts := &recordingRunner{}
	svc := NewService(fake, scripts, WithConcurrency(2), WithLogger(zerolog.Nop()))

	dir := t.TempDir()
	fileA := filepath.Join(dir, "build-a.yaml")
	fileB := filepath.Join(dir, "build-b.yaml")
	require.NoError(t, os.WriteFile(fileA, []byte(pipelineDoc), 0o600))
	require.NoError(t, os.WriteFile(fileB, []byte(pipelineDoc), 0o600))

	upgrade := func(file string) Upgrade {
		return Upgrade{
			DepName:       testRepo,
			CurrentValue:  "0.2",
			CurrentDigest: upgradeDigestA,
			NewValue:      "0.3.1",
			NewDigest:     upgradeDigestB,
			PackageFile:   file,
			DepTypes:      []string{DepTypeTektonBundle},
		}
	}

	// The duplicate entry for fileA must be collapsed: migrating the same
	// file twice would double-apply the scripts.
	reports, err := svc.MigrateUpgrades(context.Background(), []Upgrade{
		upgrade(fileA), upgrade(fileA), upgrade(fileB),
	})
	require.NoError(t, err)

	require.Len(t, reports, 2)
	for _, r := range reports {
		assert.Equal(t, RunSucceeded, r.State)
	}
	assert.Len(t, scripts.scripts, 6, "three steps per file, once per file")
}

func TestServiceMigrateUpgradesReportsStepFailure(t *testing.T) {
	fake := registrytest.New()
	seedHistory(fake)

	scripts := &recordingRunner{failMarker: "fixed"}
	svc := NewService(fake, scripts, WithConcurrency(1), WithLogger(zerolog.Nop()))

	dir := t.TempDir()
	fileA := filepath.Join(dir, "build-a.yaml")
	require.NoError(t, os.WriteFile(fileA, []byte(pipelineDoc), 0o600))

	reports, err := svc.MigrateUpgrades(context.Background(), []Upgrade{{
		DepName:       testRepo,
		CurrentValue:  "0.2",
		CurrentDigest: upgradeDigestA,
		NewValue:      "0.3.1",
		NewDigest:     upgradeDigestB,
		PackageFile:   fileA,
		DepTypes:      []string{DepTypeTektonBundle},
	}})

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	require.Len(t, reports, 1)
	assert.Equal(t, RunFailed, reports[0].State)
	assert.Equal(t, []StepState{StepApplied, StepApplied, StepFailed}, stepStates(reports[0]))
}

func TestServiceMigrateInvertedRange(t *testing.T) {
	svc := NewService(registrytest.New(), &recordingRunner{}, WithLogger(zerolog.Nop()))

	_, err := svc.Migrate(context.Background(), Request{
		Repo: testRepo,
		From: version.MustParse("0.3"),
		To:   version.MustParse("0.2"),
		File: writePipelineFile(t),
	})
	require.Error(t, err)
}
