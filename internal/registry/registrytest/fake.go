// Package registrytest provides an in-memory registry.Client double for
// tests. Bundles and their migration script attachments are registered
// through helpers that mirror how the publish pipeline lays content out in
// a real registry: a bundle manifest per tag, a referrer manifest carrying
// the script as its single layer, and content-addressed blobs.
package registrytest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/konflux-ci/pipeline-migration-tool/internal/registry"
)

// Fake implements registry.Client from in-memory maps.
type Fake struct {
	mu        sync.Mutex
	tags      map[string][]registry.Tag
	manifests map[string]*registry.Manifest
	referrers map[string][]ocispec.Descriptor
	blobs     map[string][]byte

	// Error injection. When set, the corresponding operation fails.
	ListTagsErr    error
	GetManifestErr error
	GetBlobErr     error
	ReferrersErr   error

	// Calls records operations in order, for assertions on access patterns.
	Calls []string
}

// New creates an empty fake registry.
func New() *Fake {
	return &Fake{
		tags:      make(map[string][]registry.Tag),
		manifests: make(map[string]*registry.Manifest),
		referrers: make(map[string][]ocispec.Descriptor),
		blobs:     make(map[string][]byte),
	}
}

var _ registry.Client = (*Fake)(nil)

// Bundle describes one tagged bundle release to register.
type Bundle struct {
	Tag string
	// Seed distinguishes bundle content: tags registered with the same
	// Seed and Script share a manifest digest, like registry rebuild tags
	// pointing at identical content.
	Seed      string
	CreatedAt time.Time
	// Script is the attached migration script; nil registers a bundle
	// without a migration attachment.
	Script []byte
	// NoAnnotation suppresses the has-migration annotation even when a
	// script is attached, modelling bundles published outside the standard
	// pipeline.
	NoAnnotation bool
}

// AddBundle registers a bundle under repo and returns the resulting tag.
func (f *Fake) AddBundle(repo string, b Bundle) registry.Tag {
	f.mu.Lock()
	defer f.mu.Unlock()

	annotations := map[string]string{"test.bundle.seed": b.Seed}
	if b.Script != nil && !b.NoAnnotation {
		annotations[registry.AnnotationHasMigration] = registry.AnnotationTruthValue
	}

	man := ocispec.Manifest{
		MediaType:   ocispec.MediaTypeImageManifest,
		Annotations: annotations,
	}
	if b.Script != nil {
		// The script layer digest is embedded so that identical scripts
		// yield identical bundle manifests for the same seed.
		man.Annotations["test.bundle.script"] = digest.FromBytes(b.Script).String()
	}
	raw, err := json.Marshal(man)
	if err != nil {
		panic(fmt.Sprintf("registrytest: marshal bundle manifest: %v", err))
	}
	d := digest.FromBytes(raw)
	desc := ocispec.Descriptor{MediaType: ocispec.MediaTypeImageManifest, Digest: d, Size: int64(len(raw))}

	stored := &registry.Manifest{Descriptor: desc, Manifest: man, Raw: raw}
	f.manifests[repo+"|"+d.String()] = stored
	f.manifests[repo+"|"+b.Tag] = stored

	tag := registry.Tag{
		Name:      b.Tag,
		Digest:    d,
		CreatedAt: b.CreatedAt,
		ListIndex: len(f.tags[repo]),
	}
	f.tags[repo] = append(f.tags[repo], tag)

	if b.Script != nil {
		f.attachScript(repo, desc, b.Script)
	}
	return tag
}

func (f *Fake) attachScript(repo string, subject ocispec.Descriptor, script []byte) {
	blobDesc := ocispec.Descriptor{
		MediaType: registry.ArtifactTypeScript,
		Digest:    digest.FromBytes(script),
		Size:      int64(len(script)),
	}
	f.blobs[repo+"|"+blobDesc.Digest.String()] = script

	scriptMan := ocispec.Manifest{
		MediaType:    ocispec.MediaTypeImageManifest,
		ArtifactType: registry.ArtifactTypeScript,
		Layers:       []ocispec.Descriptor{blobDesc},
		Subject:      &subject,
		Annotations:  map[string]string{registry.AnnotationIsMigration: registry.AnnotationTruthValue},
	}
	raw, err := json.Marshal(scriptMan)
	if err != nil {
		panic(fmt.Sprintf("registrytest: marshal script manifest: %v", err))
	}
	d := digest.FromBytes(raw)
	desc := ocispec.Descriptor{
		MediaType:    ocispec.MediaTypeImageManifest,
		ArtifactType: registry.ArtifactTypeScript,
		Digest:       d,
		Size:         int64(len(raw)),
		Annotations:  map[string]string{registry.AnnotationIsMigration: registry.AnnotationTruthValue},
	}
	f.manifests[repo+"|"+d.String()] = &registry.Manifest{Descriptor: desc, Manifest: scriptMan, Raw: raw}
	key := repo + "|" + subject.Digest.String()
	for _, existing := range f.referrers[key] {
		if existing.Digest == desc.Digest {
			// Rebuild tags sharing a manifest digest share the attachment.
			return
		}
	}
	f.referrers[key] = append(f.referrers[key], desc)
}

// AddRawTag registers a tag without any backing manifest, e.g. pointers
// like "latest" that discovery must ignore.
func (f *Fake) AddRawTag(repo, name string) registry.Tag {
	f.mu.Lock()
	defer f.mu.Unlock()
	tag := registry.Tag{
		Name:      name,
		Digest:    digest.FromString("raw-tag-" + name),
		ListIndex: len(f.tags[repo]),
	}
	f.tags[repo] = append(f.tags[repo], tag)
	return tag
}

// AddReferrer registers an extra referrer descriptor for a subject, for
// tests that need malformed attachment layouts.
func (f *Fake) AddReferrer(repo string, subject digest.Digest, desc ocispec.Descriptor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := repo + "|" + subject.String()
	f.referrers[key] = append(f.referrers[key], desc)
}

func (f *Fake) record(call string) {
	f.Calls = append(f.Calls, call)
}

// ListTags implements registry.Client.
func (f *Fake) ListTags(ctx context.Context, repo string) ([]registry.Tag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("ListTags " + repo)
	if f.ListTagsErr != nil {
		return nil, f.ListTagsErr
	}
	out := make([]registry.Tag, len(f.tags[repo]))
	copy(out, f.tags[repo])
	return out, nil
}

// GetManifest implements registry.Client.
func (f *Fake) GetManifest(ctx context.Context, repo, reference string) (*registry.Manifest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("GetManifest " + repo + ":" + reference)
	if f.GetManifestErr != nil {
		return nil, f.GetManifestErr
	}
	m, ok := f.manifests[repo+"|"+reference]
	if !ok {
		return nil, &registry.TransportError{Op: "get manifest", Ref: repo + ":" + reference,
			Err: fmt.Errorf("not found")}
	}
	return m, nil
}

// ListReferrers implements registry.Client.
func (f *Fake) ListReferrers(ctx context.Context, repo string, subject digest.Digest, artifactType string) ([]ocispec.Descriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("ListReferrers " + repo + "@" + subject.String())
	if f.ReferrersErr != nil {
		return nil, f.ReferrersErr
	}
	var out []ocispec.Descriptor
	for _, desc := range f.referrers[repo+"|"+subject.String()] {
		if artifactType == "" || desc.ArtifactType == artifactType {
			out = append(out, desc)
		}
	}
	return out, nil
}

// GetBlob implements registry.Client.
func (f *Fake) GetBlob(ctx context.Context, repo string, desc ocispec.Descriptor) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("GetBlob " + repo + "@" + desc.Digest.String())
	if f.GetBlobErr != nil {
		return nil, f.GetBlobErr
	}
	data, ok := f.blobs[repo+"|"+desc.Digest.String()]
	if !ok {
		return nil, &registry.TransportError{Op: "get blob", Ref: repo + "@" + desc.Digest.String(),
			Err: fmt.Errorf("not found")}
	}
	return data, nil
}
