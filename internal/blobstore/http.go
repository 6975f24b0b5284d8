package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// HTTPClient abstracts HTTP operations for testability.
// *http.Client satisfies it.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPStore reads and writes objects at {BaseURL}/{bucket}/{key} with GET
// and PUT, the path-style addressing object stores accept for public or
// presigned access.
type HTTPStore struct {
	BaseURL string
	Client  HTTPClient
}

// NewHTTPStore creates an HTTPStore. A nil client uses http.DefaultClient.
func NewHTTPStore(baseURL string, client HTTPClient) *HTTPStore {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPStore{BaseURL: strings.TrimSuffix(baseURL, "/"), Client: client}
}

func (s *HTTPStore) objectURL(bucket, key string) (string, error) {
	if err := validate(bucket, key); err != nil {
		return "", err
	}
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return s.BaseURL + "/" + url.PathEscape(bucket) + "/" + strings.Join(parts, "/"), nil
}

// Fetch GETs the object.
func (s *HTTPStore) Fetch(ctx context.Context, bucket, key string) ([]byte, error) {
	u, err := s.objectURL(bucket, key)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s/%s: %w", bucket, key, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%s/%s: %w", bucket, key, ErrNotFound)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("fetch %s/%s: unexpected status %d", bucket, key, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s/%s: %w", bucket, key, err)
	}
	return data, nil
}

// Put PUTs the object.
func (s *HTTPStore) Put(ctx context.Context, bucket, key string, data []byte) error {
	u, err := s.objectURL(bucket, key)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.ContentLength = int64(len(data))
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := s.Client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to put %s/%s: %w", bucket, key, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("put %s/%s: unexpected status %d", bucket, key, resp.StatusCode)
	}
	return nil
}
