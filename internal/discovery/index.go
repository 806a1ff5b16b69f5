// Package discovery turns a repository's flat, loosely-ordered tag listing
// into version groups and picks the authoritative tag per group. The
// registry is treated as a set-producing source: this package sorts and
// groups tags itself and never trusts push order as semantic order, except
// as the tie-break signal in the selector's fallback path.
package discovery

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/konflux-ci/pipeline-migration-tool/internal/registry"
	"github.com/konflux-ci/pipeline-migration-tool/internal/version"
)

// VersionGroup is a version plus the non-empty set of tags sharing it.
// Tags keep their listing order.
type VersionGroup struct {
	Version version.Version
	Tags    []registry.Tag
}

// DiscoveryError reports that the registry enumeration itself failed. It is
// terminal for the whole operation; no partial group list accompanies it.
type DiscoveryError struct {
	Repo string
	Err  error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("tag discovery for %s failed: %v", e.Repo, e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// ParseReleaseTag extracts the version from a release tag of the form
// <version>-<discriminator>. Tags without a discriminator are movable
// pointers (bare "0.2", "latest"), not releases, and report ok false, as
// does anything whose stem is not a version.
func ParseReleaseTag(name string) (version.Version, bool) {
	i := strings.IndexByte(name, '-')
	if i < 0 || i == len(name)-1 {
		return version.Version{}, false
	}
	v, err := version.Parse(name[:i])
	if err != nil {
		return version.Version{}, false
	}
	return v, true
}

// Index lists version groups for a repository.
type Index struct {
	client registry.Client
	logger zerolog.Logger
}

// NewIndex creates an Index over the given registry client.
func NewIndex(client registry.Client, logger zerolog.Logger) *Index {
	return &Index{client: client, logger: logger}
}

// ListVersionGroups enumerates every tag of repo, keeps release tags,
// buckets them by parsed version and returns the buckets in ascending
// version order. Unparsable tags are logged and ignored; a failed
// enumeration is a *DiscoveryError.
func (ix *Index) ListVersionGroups(ctx context.Context, repo string) ([]VersionGroup, error) {
	tags, err := ix.client.ListTags(ctx, repo)
	if err != nil {
		return nil, &DiscoveryError{Repo: repo, Err: err}
	}

	buckets := make(map[version.Version]*VersionGroup)
	order := make([]version.Version, 0)
	for _, tag := range tags {
		v, ok := ParseReleaseTag(tag.Name)
		if !ok {
			ix.logger.Debug().Str("repo", repo).Str("tag", tag.Name).
				Msg("ignoring non-release tag")
			continue
		}
		group, seen := buckets[v]
		if !seen {
			group = &VersionGroup{Version: v}
			buckets[v] = group
			order = append(order, v)
		}
		group.Tags = append(group.Tags, tag)
	}

	sort.Slice(order, func(i, j int) bool { return order[i].Less(order[j]) })

	groups := make([]VersionGroup, 0, len(order))
	for _, v := range order {
		groups = append(groups, *buckets[v])
	}
	ix.logger.Debug().Str("repo", repo).Int("tags", len(tags)).Int("groups", len(groups)).
		Msg("grouped release tags")
	return groups, nil
}
