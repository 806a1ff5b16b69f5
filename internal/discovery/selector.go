package discovery

import (
	"context"
	"fmt"
	"sort"

	"github.com/opencontainers/go-digest"
	"github.com/rs/zerolog"

	"github.com/konflux-ci/pipeline-migration-tool/internal/registry"
)

// Selector picks the single authoritative tag of a version group.
//
// Migration content must not change after release; that contract is
// enforced by publish-time CI, not here. The selector assumes it holds,
// verifies cheaply via digests, and degrades to a latest-intent fallback
// when the contract was violated. The fallback is best-effort recovery, not
// a correctness guarantee: consumers that already applied the earlier
// script never see the corrected one.
type Selector struct {
	client registry.Client
	logger zerolog.Logger
}

// NewSelector creates a Selector over the given registry client.
func NewSelector(client registry.Client, logger zerolog.Logger) *Selector {
	return &Selector{client: client, logger: logger}
}

// Select returns the authoritative tag of the group:
//
//  1. a single tag is returned as-is;
//  2. tags whose content agrees (same manifest digest, or same attached
//     script digest across rebuilds) yield the lexically lowest tag, so
//     repeated runs are reproducible;
//  3. diverging content yields the most recently created tag, falling back
//     to the latest listing position when timestamps are absent or tied.
func (s *Selector) Select(ctx context.Context, repo string, group VersionGroup) (registry.Tag, error) {
	if len(group.Tags) == 0 {
		return registry.Tag{}, fmt.Errorf("version group %s has no tags", group.Version)
	}
	if len(group.Tags) == 1 {
		return group.Tags[0], nil
	}

	if sameManifestDigest(group.Tags) {
		return lowestLexical(group.Tags), nil
	}

	// Rebuilds legitimately produce fresh manifest digests over identical
	// scripts, so divergence is decided on the attached script content,
	// not the bundle manifest.
	agree, err := s.scriptsAgree(ctx, repo, group.Tags)
	if err != nil {
		return registry.Tag{}, err
	}
	if agree {
		return lowestLexical(group.Tags), nil
	}

	s.logger.Warn().Str("repo", repo).Stringer("version", group.Version).
		Msg("version group has diverging migration content; selecting latest tag by creation time")
	return latestByCreation(group.Tags), nil
}

func sameManifestDigest(tags []registry.Tag) bool {
	first := tags[0].Digest
	for _, tag := range tags[1:] {
		if tag.Digest != first {
			return false
		}
	}
	return true
}

// scriptsAgree resolves the migration script content digest behind each
// distinct manifest digest, without downloading any blob, and reports
// whether all tags carry identical script content. Tags with no attachment
// at all also count as agreeing.
func (s *Selector) scriptsAgree(ctx context.Context, repo string, tags []registry.Tag) (bool, error) {
	resolved := make(map[digest.Digest]digest.Digest)

	var first digest.Digest
	haveFirst := false
	for _, tag := range tags {
		scriptDigest, ok := resolved[tag.Digest]
		if !ok {
			var err error
			scriptDigest, err = s.scriptContentDigest(ctx, repo, tag.Digest)
			if err != nil {
				return false, err
			}
			resolved[tag.Digest] = scriptDigest
		}
		if !haveFirst {
			first = scriptDigest
			haveFirst = true
			continue
		}
		if scriptDigest != first {
			return false, nil
		}
	}
	return true, nil
}

// scriptContentDigest returns the digest of the migration script attached
// to the bundle, or "" when the bundle ships none.
func (s *Selector) scriptContentDigest(ctx context.Context, repo string, bundle digest.Digest) (digest.Digest, error) {
	referrers, err := s.client.ListReferrers(ctx, repo, bundle, registry.ArtifactTypeScript)
	if err != nil {
		return "", fmt.Errorf("failed to probe migration attachment of %s@%s: %w", repo, bundle, err)
	}

	for _, desc := range referrers {
		if !registry.IsTrue(desc.Annotations[registry.AnnotationIsMigration]) {
			continue
		}
		man, err := s.client.GetManifest(ctx, repo, desc.Digest.String())
		if err != nil {
			return "", fmt.Errorf("failed to resolve migration attachment of %s@%s: %w", repo, bundle, err)
		}
		if len(man.Manifest.Layers) == 0 {
			return "", nil
		}
		return man.Manifest.Layers[0].Digest, nil
	}
	return "", nil
}

func lowestLexical(tags []registry.Tag) registry.Tag {
	selected := tags[0]
	for _, tag := range tags[1:] {
		if tag.Name < selected.Name {
			selected = tag
		}
	}
	return selected
}

func latestByCreation(tags []registry.Tag) registry.Tag {
	sorted := make([]registry.Tag, len(tags))
	copy(sorted, tags)
	// Stable ordering: creation time first, listing position as the
	// tie-break when timestamps are absent or equal.
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
		}
		return sorted[i].ListIndex < sorted[j].ListIndex
	})
	return sorted[len(sorted)-1]
}
