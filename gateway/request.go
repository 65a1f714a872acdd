package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// Request fully describes an API call so that it can be issued again after
// a refresh. Body is held as bytes for that reason.
type Request struct {
	Method string
	Path   string // Relative to the API base URL, e.g. "/fall/12/"
	Query  url.Values
	Header http.Header
	Body   []byte

	// ID correlates the original call and its replay (X-Request-ID).
	// Assigned on first execution when empty.
	ID string
}

// NewRequest creates a request description.
func NewRequest(method, path string, body []byte) *Request {
	return &Request{
		Method: method,
		Path:   path,
		Header: make(http.Header),
		Body:   body,
	}
}

// Get describes a GET of path.
func Get(path string) *Request {
	return NewRequest(http.MethodGet, path, nil)
}

// JSON describes a request whose body is v encoded as JSON.
func JSON(method, path string, v any) (*Request, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("[gateway JSON] marshal body: %w", err)
	}
	r := NewRequest(method, path, body)
	r.Header.Set("Content-Type", "application/json")
	return r, nil
}

func (r *Request) build(ctx context.Context, rawURL string) (*http.Request, error) {
	if len(r.Query) > 0 {
		rawURL += "?" + r.Query.Encode()
	}
	var body io.Reader
	if r.Body != nil {
		body = bytes.NewReader(r.Body)
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, rawURL, body)
	if err != nil {
		return nil, err
	}
	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	return req, nil
}

// StatusError is returned by DecodeJSON for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// DecodeJSON decodes a 2xx response body into v and closes it.
func DecodeJSON(resp *http.Response, v any) error {
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return &StatusError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("[gateway DecodeJSON] %w", err)
	}
	return nil
}
