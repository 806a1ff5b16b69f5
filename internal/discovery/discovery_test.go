package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/konflux-ci/pipeline-migration-tool/internal/registry"
	"github.com/konflux-ci/pipeline-migration-tool/internal/registry/registrytest"
)

const testRepo = "registry.example.com/tasks/task-init"

func TestParseReleaseTag(t *testing.T) {
	tests := []struct {
		name    string
		tag     string
		want    string
		release bool
	}{
		{name: "two segment with sha", tag: "0.1-abc123", want: "0.1", release: true},
		{name: "three segment with sha", tag: "0.3.1-deadbeef", want: "0.3.1", release: true},
		{name: "discriminator with dashes", tag: "1.2-build-42-final", want: "1.2", release: true},
		{name: "no discriminator", tag: "0.1", release: false},
		{name: "empty discriminator", tag: "0.1-", release: false},
		{name: "latest", tag: "latest", release: false},
		{name: "non numeric version", tag: "v1.2-abc", release: false},
		{name: "four segments", tag: "1.2.3.4-abc", release: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, ok := ParseReleaseTag(tt.tag)
			require.Equal(t, tt.release, ok)
			if ok {
				assert.Equal(t, tt.want, v.String())
			}
		})
	}
}

func TestListVersionGroups(t *testing.T) {
	fake := registrytest.New()
	fake.AddBundle(testRepo, registrytest.Bundle{Tag: "0.2-aaa", Seed: "s1"})
	fake.AddBundle(testRepo, registrytest.Bundle{Tag: "0.1-bbb", Seed: "s2"})
	fake.AddBundle(testRepo, registrytest.Bundle{Tag: "0.2-ccc", Seed: "s1"})
	fake.AddBundle(testRepo, registrytest.Bundle{Tag: "0.10-ddd", Seed: "s3"})
	fake.AddRawTag(testRepo, "latest")
	fake.AddRawTag(testRepo, "0.2")

	index := NewIndex(fake, zerolog.Nop())
	groups, err := index.ListVersionGroups(context.Background(), testRepo)
	require.NoError(t, err)

	require.Len(t, groups, 3)
	assert.Equal(t, "0.1", groups[0].Version.String())
	assert.Equal(t, "0.2", groups[1].Version.String())
	assert.Equal(t, "0.10", groups[2].Version.String())

	// Grouping keeps every release tag and drops only non-release ones.
	require.Len(t, groups[1].Tags, 2)
	assert.Equal(t, "0.2-aaa", groups[1].Tags[0].Name)
	assert.Equal(t, "0.2-ccc", groups[1].Tags[1].Name)
}

func TestListVersionGroupsError(t *testing.T) {
	fake := registrytest.New()
	fake.ListTagsErr = &registry.TransportError{Op: "list tags", Ref: testRepo, Err: context.DeadlineExceeded}

	index := NewIndex(fake, zerolog.Nop())
	_, err := index.ListVersionGroups(context.Background(), testRepo)

	var discoveryErr *DiscoveryError
	require.ErrorAs(t, err, &discoveryErr)
	assert.Equal(t, testRepo, discoveryErr.Repo)
}

func TestSelectSingleTag(t *testing.T) {
	fake := registrytest.New()
	tag := fake.AddBundle(testRepo, registrytest.Bundle{Tag: "0.1-abc", Seed: "s1"})

	selector := NewSelector(fake, zerolog.Nop())
	got, err := selector.Select(context.Background(), testRepo, VersionGroup{Tags: []registry.Tag{tag}})
	require.NoError(t, err)
	assert.Equal(t, tag, got)
	assert.Empty(t, fake.Calls, "single tag needs no content probing")
}

func TestSelectSameDigestPicksLowestLexical(t *testing.T) {
	fake := registrytest.New()
	script := []byte("#!/bin/bash\necho migrate\n")
	b := fake.AddBundle(testRepo, registrytest.Bundle{Tag: "0.1-bbb", Seed: "same", Script: script})
	a := fake.AddBundle(testRepo, registrytest.Bundle{Tag: "0.1-aaa", Seed: "same", Script: script})
	require.Equal(t, a.Digest, b.Digest, "same seed and script must share a digest")

	selector := NewSelector(fake, zerolog.Nop())
	got, err := selector.Select(context.Background(), testRepo,
		VersionGroup{Tags: []registry.Tag{b, a}})
	require.NoError(t, err)
	assert.Equal(t, "0.1-aaa", got.Name)
}

func TestSelectRebuildsWithSameScriptPickLowestLexical(t *testing.T) {
	// Different manifest digests (different seeds) but identical attached
	// scripts: a rebuild, not a divergence.
	fake := registrytest.New()
	script := []byte("#!/bin/bash\necho migrate\n")
	b := fake.AddBundle(testRepo, registrytest.Bundle{Tag: "0.1-bbb", Seed: "build-2", Script: script})
	a := fake.AddBundle(testRepo, registrytest.Bundle{Tag: "0.1-aaa", Seed: "build-1", Script: script})
	require.NotEqual(t, a.Digest, b.Digest)

	selector := NewSelector(fake, zerolog.Nop())
	got, err := selector.Select(context.Background(), testRepo,
		VersionGroup{Tags: []registry.Tag{b, a}})
	require.NoError(t, err)
	assert.Equal(t, "0.1-aaa", got.Name)
}

func TestSelectDivergingContentPicksLatestCreated(t *testing.T) {
	fake := registrytest.New()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	early := fake.AddBundle(testRepo, registrytest.Bundle{
		Tag: "0.1-aaa", Seed: "s1", CreatedAt: base,
		Script: []byte("echo one\n"),
	})
	late := fake.AddBundle(testRepo, registrytest.Bundle{
		Tag: "0.1-bbb", Seed: "s2", CreatedAt: base.Add(time.Hour),
		Script: []byte("echo two\n"),
	})

	selector := NewSelector(fake, zerolog.Nop())
	got, err := selector.Select(context.Background(), testRepo,
		VersionGroup{Tags: []registry.Tag{late, early}})
	require.NoError(t, err)
	assert.Equal(t, "0.1-bbb", got.Name)
}

func TestSelectDivergingWithoutTimestampsUsesListOrder(t *testing.T) {
	fake := registrytest.New()
	first := fake.AddBundle(testRepo, registrytest.Bundle{Tag: "0.1-aaa", Seed: "s1", Script: []byte("echo one\n")})
	second := fake.AddBundle(testRepo, registrytest.Bundle{Tag: "0.1-bbb", Seed: "s2", Script: []byte("echo two\n")})
	require.True(t, first.CreatedAt.IsZero())

	selector := NewSelector(fake, zerolog.Nop())
	got, err := selector.Select(context.Background(), testRepo,
		VersionGroup{Tags: []registry.Tag{first, second}})
	require.NoError(t, err)
	assert.Equal(t, second.Name, got.Name)
}

func TestSelectEmptyGroup(t *testing.T) {
	selector := NewSelector(registrytest.New(), zerolog.Nop())
	_, err := selector.Select(context.Background(), testRepo, VersionGroup{})
	require.Error(t, err)
}
