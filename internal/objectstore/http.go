package objectstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/specialistvlad/etlgrid/internal/credentials"
	"github.com/specialistvlad/etlgrid/internal/ctxlog"
)

// defaultClient is shared by HTTP stores without an explicit client so TCP
// connections are reused.
var defaultClient = &http.Client{}

// ManifestSuffix marks a listing document rather than a data object.
const ManifestSuffix = ".manifest"

// StatusError is a non-2xx response.
type StatusError struct {
	URL    string
	Status string
	Code   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: %s", e.URL, e.Status)
}

// Temporary reports whether retrying the request may succeed.
func (e *StatusError) Temporary() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests || e.Code == http.StatusRequestTimeout
}

// HTTP reads objects over plain GET requests, e.g. from presigned bucket
// URLs. Listing is only possible through a manifest: a JSON document of the
// form {"entries": [{"url": "...", "meta": {"content_length": 123}}]}.
// Listing any other key yields that key as the single object.
type HTTP struct {
	Base   string
	Client *http.Client
	// Creds and CredentialID add a bearer token from the credential's
	// "token" key when both are set.
	Creds        credentials.Provider
	CredentialID string
}

// NewHTTP returns a store rooted at base.
func NewHTTP(base string) *HTTP {
	return &HTTP{Base: base}
}

type manifest struct {
	Entries []struct {
		URL       string `json:"url"`
		Mandatory bool   `json:"mandatory"`
		Meta      struct {
			ContentLength int64 `json:"content_length"`
		} `json:"meta"`
	} `json:"entries"`
}

// List implements Store.
func (s *HTTP) List(ctx context.Context, prefix string) ([]Object, error) {
	target := s.url(prefix)
	if !strings.HasSuffix(target, ManifestSuffix) {
		return []Object{{Key: prefix, Size: -1}}, nil
	}

	body, err := s.get(ctx, target)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var m manifest
	if err := json.NewDecoder(body).Decode(&m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest %s: %w", target, err)
	}
	out := make([]Object, 0, len(m.Entries))
	for _, e := range m.Entries {
		out = append(out, Object{Key: e.URL, Size: e.Meta.ContentLength})
	}
	ctxlog.FromContext(ctx).Debug("Manifest listed.", "url", target, "objects", len(out))
	return out, nil
}

// Open implements Store. Absolute URLs are fetched as is.
func (s *HTTP) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	return s.get(ctx, s.url(key))
}

func (s *HTTP) url(key string) string {
	if strings.HasPrefix(key, "http://") || strings.HasPrefix(key, "https://") {
		return key
	}
	if key == "" {
		return s.Base
	}
	return strings.TrimSuffix(s.Base, "/") + "/" + strings.TrimPrefix(key, "/")
}

func (s *HTTP) get(ctx context.Context, target string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request for %s: %w", target, err)
	}
	if s.Creds != nil && s.CredentialID != "" {
		cred, err := s.Creds.Lookup(ctx, s.CredentialID)
		if err != nil {
			return nil, err
		}
		if tok, ok := cred.Get("token"); ok {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	client := s.Client
	if client == nil {
		client = defaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", target, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, &StatusError{URL: target, Status: resp.Status, Code: resp.StatusCode}
	}
	return resp.Body, nil
}
