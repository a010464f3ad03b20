package fragments

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
)

const maxFragmentBytes = 1 << 20

// ErrNotFound is returned by a Source when the requested file does not exist.
var ErrNotFound = errors.New("fragments: not found")

// Source reads raw fragment files such as "footer.md" or "loader.html".
type Source interface {
	Read(ctx context.Context, file string) ([]byte, error)
}

// FSSource reads fragments from a filesystem, either the embedded defaults or a directory.
type FSSource struct {
	fsys fs.FS
}

// NewFSSource wraps fsys.
func NewFSSource(fsys fs.FS) *FSSource {
	return &FSSource{fsys: fsys}
}

// Read implements Source.
func (s *FSSource) Read(_ context.Context, file string) ([]byte, error) {
	data, err := fs.ReadFile(s.fsys, file)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, file)
	}
	return data, err
}

// HTTPSource fetches fragments relative to a base URL.
type HTTPSource struct {
	base   *url.URL
	client *http.Client
}

// NewHTTPSource parses baseURL. A nil client gets a 5 second timeout.
func NewHTTPSource(baseURL string, client *http.Client) (*HTTPSource, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("fragments: invalid base url %q", baseURL)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &HTTPSource{base: u, client: client}, nil
}

// Read implements Source.
func (s *HTTPSource) Read(ctx context.Context, file string) ([]byte, error) {
	endpoint := s.base.ResolveReference(&url.URL{Path: file})
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, file)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("fragments: %s returned status %d", endpoint, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxFragmentBytes))
}

type objectOpener func(ctx context.Context, bucket, object string) (io.ReadCloser, error)

// GCSSource reads fragments from a Cloud Storage bucket under an optional prefix.
type GCSSource struct {
	bucket string
	prefix string
	open   objectOpener
}

// NewGCSSource builds a source over client. The caller owns the client.
func NewGCSSource(client *gcs.Client, bucket, prefix string) (*GCSSource, error) {
	if client == nil {
		return nil, errors.New("fragments: storage client is required")
	}
	return newGCSSource(bucket, prefix, func(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
		return client.Bucket(bucket).Object(object).NewReader(ctx)
	})
}

func newGCSSource(bucket, prefix string, open objectOpener) (*GCSSource, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("fragments: bucket is required")
	}
	return &GCSSource{bucket: bucket, prefix: strings.Trim(strings.TrimSpace(prefix), "/"), open: open}, nil
}

// Read implements Source.
func (s *GCSSource) Read(ctx context.Context, file string) ([]byte, error) {
	object := file
	if s.prefix != "" {
		object = path.Join(s.prefix, file)
	}
	r, err := s.open(ctx, s.bucket, object)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: gs://%s/%s", ErrNotFound, s.bucket, object)
	}
	if err != nil {
		return nil, fmt.Errorf("fragments: read gs://%s/%s: %w", s.bucket, object, err)
	}
	defer r.Close()
	return io.ReadAll(io.LimitReader(r, maxFragmentBytes))
}
