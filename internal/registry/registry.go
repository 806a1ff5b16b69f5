// Package registry provides the container registry capability consumed by
// discovery and migration fetching: tag enumeration with digests and
// creation timestamps, manifest and referrer retrieval, and blob downloads.
// The ORAS-backed implementation lives in oras.go; callers depend only on
// the Client interface so tests can substitute an in-memory double.
package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// Tag is a registry-visible reference to a task bundle release. Tags are
// immutable name-to-digest pointers at the registry level, but the content a
// digest references is only stable by external convention.
type Tag struct {
	// Name is the raw tag string, e.g. "0.2" or "0.2-18a61693".
	Name string

	// Digest is the manifest digest the tag currently points at.
	Digest digest.Digest

	// CreatedAt is the tag creation time, when the listing backend exposes
	// one. Zero when unavailable.
	CreatedAt time.Time

	// ListIndex is the tag's position in the registry listing. The listing
	// is append-only in practice, so a greater index means the tag was
	// pushed more recently. It is the tie-break signal when CreatedAt is
	// absent or ambiguous.
	ListIndex int
}

// Manifest is a fetched OCI manifest together with its descriptor and raw
// bytes.
type Manifest struct {
	Descriptor ocispec.Descriptor
	Manifest   ocispec.Manifest
	Raw        []byte
}

// Annotation returns the manifest-level annotation for key, or "" when
// absent.
func (m *Manifest) Annotation(key string) string {
	if m == nil || m.Manifest.Annotations == nil {
		return ""
	}
	return m.Manifest.Annotations[key]
}

// Client is the registry capability boundary. A repo argument is a full
// repository path without tag or digest, e.g. "quay.io/konflux-ci/task-clone".
type Client interface {
	// ListTags enumerates every active tag of the repository, in listing
	// order. Transport failures are terminal; no partial listing is
	// returned.
	ListTags(ctx context.Context, repo string) ([]Tag, error)

	// GetManifest fetches and parses the manifest for a tag or digest
	// reference.
	GetManifest(ctx context.Context, repo, reference string) (*Manifest, error)

	// ListReferrers lists the descriptors of artifacts referring to the
	// given subject digest, filtered by artifact type when non-empty.
	ListReferrers(ctx context.Context, repo string, subject digest.Digest, artifactType string) ([]ocispec.Descriptor, error)

	// GetBlob downloads the blob identified by the descriptor.
	GetBlob(ctx context.Context, repo string, desc ocispec.Descriptor) ([]byte, error)
}

// TransportError wraps a terminal registry transport failure, after any
// retries were exhausted. Callers use it to distinguish retried-then-fatal
// network conditions from content-level conditions such as a missing
// attachment.
type TransportError struct {
	Op   string
	Ref  string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("registry %s %s: %v", e.Op, e.Ref, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
