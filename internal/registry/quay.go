package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/opencontainers/go-digest"
)

// quayLister lists tags through Quay's listRepoTags API, which reports the
// manifest digest and creation timestamp per tag alongside the name. The
// endpoint paginates; pages are walked until has_additional is false.
type quayLister struct {
	httpClient *http.Client
	maxRetries int
	retryDelay time.Duration
	plainHTTP  func(host string) bool
}

type quayTagInfo struct {
	Name           string `json:"name"`
	ManifestDigest string `json:"manifest_digest"`
	StartTS        int64  `json:"start_ts"`
}

type quayTagPage struct {
	Tags          []quayTagInfo `json:"tags"`
	Page          int           `json:"page"`
	HasAdditional bool          `json:"has_additional"`
}

func (q *quayLister) ListTags(ctx context.Context, repo string) ([]Tag, error) {
	host, path, ok := strings.Cut(repo, "/")
	if !ok || path == "" {
		return nil, fmt.Errorf("invalid repository %q: expected HOST/NAMESPACE/NAME", repo)
	}

	scheme := "https"
	if q.plainHTTP != nil && q.plainHTTP(host) {
		scheme = "http"
	}

	var tags []Tag
	page := 1
	for {
		var body quayTagPage
		err := retryTransient(ctx, q.maxRetries, q.retryDelay, func() error {
			return q.fetchPage(ctx, scheme, host, path, page, &body)
		})
		if err != nil {
			return nil, &TransportError{Op: "list tags", Ref: repo, Err: err}
		}

		for _, info := range body.Tags {
			d, err := digest.Parse(info.ManifestDigest)
			if err != nil {
				return nil, fmt.Errorf("tag %s of %s has malformed digest %q: %w",
					info.Name, repo, info.ManifestDigest, err)
			}
			tags = append(tags, Tag{
				Name:      info.Name,
				Digest:    d,
				CreatedAt: time.Unix(info.StartTS, 0).UTC(),
				ListIndex: len(tags),
			})
		}

		if !body.HasAdditional {
			return tags, nil
		}
		page = body.Page + 1
	}
}

func (q *quayLister) fetchPage(ctx context.Context, scheme, host, path string, page int, out *quayTagPage) error {
	params := url.Values{}
	params.Set("page", fmt.Sprintf("%d", page))
	params.Set("onlyActiveTags", "true")

	apiURL := fmt.Sprintf("%s://%s/api/v1/repository/%s/tag/?%s", scheme, host, path, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := q.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Body is drained for connection reuse; the status text carries the
		// retry classification (5xx is transient).
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("listRepoTags page %d: %s", page, strings.ToLower(resp.Status))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode listRepoTags response: %w", err)
	}
	return nil
}
