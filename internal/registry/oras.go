package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/rs/zerolog"
	"oras.land/oras-go/v2/content"
	"oras.land/oras-go/v2/registry/remote"
	"oras.land/oras-go/v2/registry/remote/auth"
	"oras.land/oras-go/v2/registry/remote/credentials"
)

// Tag listing backends. The OCI distribution API lists bare tag names only;
// Quay's listRepoTags API additionally reports manifest digests and creation
// timestamps, which the tag selector's fallback policy wants.
const (
	TagAPIAuto         = "auto"
	TagAPIQuay         = "quay"
	TagAPIDistribution = "distribution"
)

// StaticCredential provides fixed credentials for one registry host,
// overriding the Docker credential chain for that host.
type StaticCredential struct {
	Registry string
	Username string
	Password string
}

// Options configures the ORAS-backed client.
type Options struct {
	// Credentials are static per-registry overrides. Hosts not listed fall
	// back to the Docker credential chain (config file + helpers).
	Credentials []StaticCredential

	// PlainHTTP lists registry hosts to talk to over HTTP instead of HTTPS,
	// e.g. local test registries.
	PlainHTTP []string

	// MaxRetries and RetryDelay bound the transient-error retry loop.
	MaxRetries int
	RetryDelay time.Duration

	// CacheDir enables the file-based response cache when non-empty.
	CacheDir string

	// TagAPI selects the tag listing backend: TagAPIAuto picks Quay's API
	// for quay.io hosts and the distribution API elsewhere.
	TagAPI string

	// HTTPClient is used for Quay API calls. A pooled default is created
	// when nil.
	HTTPClient *http.Client

	Logger zerolog.Logger
}

func (o *Options) setDefaults() {
	if o.MaxRetries == 0 {
		o.MaxRetries = 3
	}
	if o.RetryDelay == 0 {
		o.RetryDelay = time.Second
	}
	if o.TagAPI == "" {
		o.TagAPI = TagAPIAuto
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
}

// ORASClient implements Client on top of oras-go's remote registry support.
// It is safe for concurrent use.
type ORASClient struct {
	opts       Options
	authClient *auth.Client
	cache      *fileCache
	quay       *quayLister
	logger     zerolog.Logger
}

var _ Client = (*ORASClient)(nil)

// NewClient creates an ORAS-backed registry client.
//
// Authentication behavior:
//  1. A static credential configured for the host takes precedence.
//  2. Otherwise the Docker credential chain is consulted (config file and
//     credential helpers).
//  3. Otherwise access is anonymous.
func NewClient(opts Options) (*ORASClient, error) {
	opts.setDefaults()

	if err := validateOptions(&opts); err != nil {
		return nil, fmt.Errorf("invalid registry options: %w", err)
	}

	static := make(map[string]auth.Credential, len(opts.Credentials))
	for _, sc := range opts.Credentials {
		static[sc.Registry] = auth.Credential{Username: sc.Username, Password: sc.Password}
	}

	fallback := dockerCredentialChain(opts.Logger)
	credential := func(ctx context.Context, host string) (auth.Credential, error) {
		if cred, ok := static[host]; ok {
			return cred, nil
		}
		return fallback(ctx, host)
	}

	c := &ORASClient{
		opts: opts,
		authClient: &auth.Client{
			Client:     opts.HTTPClient,
			Cache:      auth.NewCache(),
			Credential: credential,
		},
		logger: opts.Logger,
	}

	if opts.CacheDir != "" {
		cache, err := newFileCache(opts.CacheDir)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize response cache: %w", err)
		}
		c.cache = cache
	}

	c.quay = &quayLister{
		httpClient: opts.HTTPClient,
		maxRetries: opts.MaxRetries,
		retryDelay: opts.RetryDelay,
		plainHTTP:  c.plainHTTP,
	}

	return c, nil
}

func validateOptions(opts *Options) error {
	for _, sc := range opts.Credentials {
		if sc.Registry == "" {
			return fmt.Errorf("static credential requires a registry host")
		}
		if sc.Username == "" || sc.Password == "" {
			return fmt.Errorf("static credential for %s requires both username and password", sc.Registry)
		}
	}
	switch opts.TagAPI {
	case TagAPIAuto, TagAPIQuay, TagAPIDistribution:
	default:
		return fmt.Errorf("unknown tag API %q", opts.TagAPI)
	}
	return nil
}

// dockerCredentialChain returns a credential func backed by the Docker
// credential store, degrading to anonymous access when no store is usable.
func dockerCredentialChain(logger zerolog.Logger) auth.CredentialFunc {
	store, err := credentials.NewStoreFromDocker(credentials.StoreOptions{})
	if err != nil {
		logger.Warn().Err(err).Msg("docker credential store unavailable, using anonymous access")
		return func(ctx context.Context, host string) (auth.Credential, error) {
			return auth.EmptyCredential, nil
		}
	}
	return credentials.Credential(store)
}

func (c *ORASClient) plainHTTP(host string) bool {
	for _, h := range c.opts.PlainHTTP {
		if host == h {
			return true
		}
	}
	return false
}

func (c *ORASClient) repository(repo string) (*remote.Repository, error) {
	r, err := remote.NewRepository(repo)
	if err != nil {
		return nil, fmt.Errorf("invalid repository %q: %w", repo, err)
	}
	r.PlainHTTP = c.plainHTTP(r.Reference.Registry)
	r.Client = c.authClient
	return r, nil
}

// ListTags implements Client. The backend is chosen per Options.TagAPI; the
// distribution fallback resolves digests per tag and reports zero creation
// timestamps, leaving ListIndex as the only recency signal.
func (c *ORASClient) ListTags(ctx context.Context, repo string) ([]Tag, error) {
	useQuay := c.opts.TagAPI == TagAPIQuay ||
		(c.opts.TagAPI == TagAPIAuto && isQuayHost(repo))
	if useQuay {
		return c.quay.ListTags(ctx, repo)
	}
	return c.listTagsDistribution(ctx, repo)
}

func isQuayHost(repo string) bool {
	host, _, _ := strings.Cut(repo, "/")
	return host == "quay.io" || strings.HasSuffix(host, ".quay.io")
}

func (c *ORASClient) listTagsDistribution(ctx context.Context, repo string) ([]Tag, error) {
	r, err := c.repository(repo)
	if err != nil {
		return nil, err
	}

	var names []string
	err = retryTransient(ctx, c.opts.MaxRetries, c.opts.RetryDelay, func() error {
		names = names[:0]
		return r.Tags(ctx, "", func(page []string) error {
			names = append(names, page...)
			return nil
		})
	})
	if err != nil {
		return nil, &TransportError{Op: "list tags", Ref: repo, Err: err}
	}

	tags := make([]Tag, 0, len(names))
	for i, name := range names {
		var desc ocispec.Descriptor
		err = retryTransient(ctx, c.opts.MaxRetries, c.opts.RetryDelay, func() error {
			var resolveErr error
			desc, resolveErr = r.Resolve(ctx, name)
			return resolveErr
		})
		if err != nil {
			return nil, &TransportError{Op: "resolve tag", Ref: repo + ":" + name, Err: err}
		}
		tags = append(tags, Tag{Name: name, Digest: desc.Digest, ListIndex: i})
	}
	c.logger.Debug().Str("repo", repo).Int("tags", len(tags)).Msg("listed tags via distribution API")
	return tags, nil
}

// GetManifest implements Client. Digest-addressed manifests are cached;
// tag references are always fetched fresh since tags may move.
func (c *ORASClient) GetManifest(ctx context.Context, repo, reference string) (*Manifest, error) {
	var cacheKey string
	if d, err := digest.Parse(reference); err == nil {
		cacheKey = "manifest|" + repo + "|" + d.String()
		if raw, ok := c.cacheGet(cacheKey); ok {
			return manifestFromRaw(d, raw)
		}
	}

	r, err := c.repository(repo)
	if err != nil {
		return nil, err
	}

	var desc ocispec.Descriptor
	var raw []byte
	err = retryTransient(ctx, c.opts.MaxRetries, c.opts.RetryDelay, func() error {
		d, rc, fetchErr := r.FetchReference(ctx, reference)
		if fetchErr != nil {
			return fetchErr
		}
		defer rc.Close()
		b, readErr := content.ReadAll(rc, d)
		if readErr != nil {
			return readErr
		}
		desc, raw = d, b
		return nil
	})
	if err != nil {
		return nil, &TransportError{Op: "get manifest", Ref: repo + ":" + reference, Err: err}
	}

	if cacheKey != "" {
		c.cachePut(cacheKey, raw)
	}

	var man ocispec.Manifest
	if err := json.Unmarshal(raw, &man); err != nil {
		return nil, fmt.Errorf("unrecognized manifest format for %s:%s: %w", repo, reference, err)
	}
	return &Manifest{Descriptor: desc, Manifest: man, Raw: raw}, nil
}

func manifestFromRaw(d digest.Digest, raw []byte) (*Manifest, error) {
	var man ocispec.Manifest
	if err := json.Unmarshal(raw, &man); err != nil {
		return nil, fmt.Errorf("corrupt cached manifest %s: %w", d, err)
	}
	desc := ocispec.Descriptor{
		MediaType: man.MediaType,
		Digest:    d,
		Size:      int64(len(raw)),
	}
	return &Manifest{Descriptor: desc, Manifest: man, Raw: raw}, nil
}

// ListReferrers implements Client using the OCI referrers API, with
// oras-go's tag-schema fallback for registries without native support.
func (c *ORASClient) ListReferrers(ctx context.Context, repo string, subject digest.Digest, artifactType string) ([]ocispec.Descriptor, error) {
	cacheKey := "referrers|" + repo + "|" + subject.String() + "|" + artifactType
	if raw, ok := c.cacheGet(cacheKey); ok {
		var cached []ocispec.Descriptor
		if err := json.Unmarshal(raw, &cached); err == nil {
			return cached, nil
		}
	}

	r, err := c.repository(repo)
	if err != nil {
		return nil, err
	}

	var subjectDesc ocispec.Descriptor
	err = retryTransient(ctx, c.opts.MaxRetries, c.opts.RetryDelay, func() error {
		var resolveErr error
		subjectDesc, resolveErr = r.Resolve(ctx, subject.String())
		return resolveErr
	})
	if err != nil {
		return nil, &TransportError{Op: "resolve subject", Ref: repo + "@" + subject.String(), Err: err}
	}

	var referrers []ocispec.Descriptor
	err = retryTransient(ctx, c.opts.MaxRetries, c.opts.RetryDelay, func() error {
		referrers = referrers[:0]
		return r.Referrers(ctx, subjectDesc, artifactType, func(page []ocispec.Descriptor) error {
			referrers = append(referrers, page...)
			return nil
		})
	})
	if err != nil {
		return nil, &TransportError{Op: "list referrers", Ref: repo + "@" + subject.String(), Err: err}
	}

	if raw, marshalErr := json.Marshal(referrers); marshalErr == nil {
		c.cachePut(cacheKey, raw)
	}
	return referrers, nil
}

// GetBlob implements Client. Blobs are content-addressed and therefore
// always cacheable.
func (c *ORASClient) GetBlob(ctx context.Context, repo string, desc ocispec.Descriptor) ([]byte, error) {
	cacheKey := "blob|" + repo + "|" + desc.Digest.String()
	if raw, ok := c.cacheGet(cacheKey); ok {
		return raw, nil
	}

	r, err := c.repository(repo)
	if err != nil {
		return nil, err
	}

	var data []byte
	err = retryTransient(ctx, c.opts.MaxRetries, c.opts.RetryDelay, func() error {
		rc, fetchErr := r.Blobs().Fetch(ctx, desc)
		if fetchErr != nil {
			return fetchErr
		}
		defer rc.Close()
		b, readErr := content.ReadAll(rc, desc)
		if readErr != nil {
			return readErr
		}
		data = b
		return nil
	})
	if err != nil {
		return nil, &TransportError{Op: "get blob", Ref: repo + "@" + desc.Digest.String(), Err: err}
	}

	c.cachePut(cacheKey, data)
	return data, nil
}

func (c *ORASClient) cacheGet(key string) ([]byte, bool) {
	if c.cache == nil {
		return nil, false
	}
	return c.cache.Get(key)
}

func (c *ORASClient) cachePut(key string, data []byte) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Put(key, data); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("response cache write failed")
	}
}
