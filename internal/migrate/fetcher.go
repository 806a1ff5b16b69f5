// Package migrate drives one version upgrade end to end: fetch the
// migration script behind each plan step and apply the scripts in ascending
// version order against a pipeline definition, with forward-only failure
// semantics.
package migrate

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/konflux-ci/pipeline-migration-tool/internal/plan"
	"github.com/konflux-ci/pipeline-migration-tool/internal/registry"
	"github.com/konflux-ci/pipeline-migration-tool/internal/version"
)

// ErrNoMigration reports that a bundle ships no migration script. It is a
// legitimate per-step condition, not a failure: the step is skipped and the
// run continues.
var ErrNoMigration = errors.New("no migration script attached")

// AttachmentError reports a bundle with a malformed migration attachment,
// e.g. more than one migration referrer where the publish pipeline
// guarantees at most one.
type AttachmentError struct {
	Bundle string
	Count  int
}

func (e *AttachmentError) Error() string {
	return fmt.Sprintf("%d migration attachments found for %s, expected exactly one", e.Count, e.Bundle)
}

// MigrationScript is the resolved script content for one plan step.
type MigrationScript struct {
	Version version.Version
	// Bundle is the full reference of the bundle the script migrates to,
	// with both tag and digest.
	Bundle  string
	Content []byte
}

// Fetcher resolves a selected tag to its attached migration script.
type Fetcher struct {
	client registry.Client
	logger zerolog.Logger
}

// NewFetcher creates a Fetcher.
func NewFetcher(client registry.Client, logger zerolog.Logger) *Fetcher {
	return &Fetcher{client: client, logger: logger}
}

// Fetch resolves the migration script of a plan step. The bundle manifest's
// has-migration annotation gates the referrers lookup: bundles published
// without it carry no migration. Returns ErrNoMigration when the step ships
// no script; transport failures surface as *registry.TransportError.
func (f *Fetcher) Fetch(ctx context.Context, repo string, step plan.Step) (*MigrationScript, error) {
	bundle := fmt.Sprintf("%s:%s@%s", repo, step.Tag.Name, step.Tag.Digest)

	manifest, err := f.client.GetManifest(ctx, repo, step.Tag.Digest.String())
	if err != nil {
		return nil, err
	}
	if !registry.IsTrue(manifest.Annotation(registry.AnnotationHasMigration)) {
		f.logger.Info().Str("bundle", bundle).Msg("task bundle does not have migration")
		return nil, ErrNoMigration
	}

	referrers, err := f.client.ListReferrers(ctx, repo, step.Tag.Digest, registry.ArtifactTypeScript)
	if err != nil {
		return nil, err
	}

	var scripts []string
	for _, desc := range referrers {
		if registry.IsTrue(desc.Annotations[registry.AnnotationIsMigration]) {
			scripts = append(scripts, desc.Digest.String())
		}
	}
	if len(scripts) > 1 {
		return nil, &AttachmentError{Bundle: bundle, Count: len(scripts)}
	}
	if len(scripts) == 0 {
		// The annotation promised a migration but no attachment exists;
		// treated as absent so a publish-side gap does not block upgrades.
		f.logger.Warn().Str("bundle", bundle).
			Msg("bundle is annotated as having a migration but no attachment was found")
		return nil, ErrNoMigration
	}

	attachment, err := f.client.GetManifest(ctx, repo, scripts[0])
	if err != nil {
		return nil, err
	}
	if len(attachment.Manifest.Layers) == 0 {
		return nil, &AttachmentError{Bundle: bundle, Count: 0}
	}

	content, err := f.client.GetBlob(ctx, repo, attachment.Manifest.Layers[0])
	if err != nil {
		return nil, err
	}

	f.logger.Info().Str("bundle", bundle).Msg("task bundle has migration")
	return &MigrationScript{Version: step.Version, Bundle: bundle, Content: content}, nil
}
