// Package upstream holds the small amount of HTTP plumbing shared by the
// hand-written provider clients.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// StatusError is returned when a provider answers with a non-2xx status.
type StatusError struct {
	StatusCode int    // e.g. 401
	Status     string // e.g. "401 Unauthorized"
	Body       string
}

func (e StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return e.Status
	}
	return fmt.Sprintf("%s: %s", e.Status, body)
}

// Request is a JSON request to a provider.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   any
}

// Do sends req and returns the response when the status is 2xx. Any other
// status is read and returned as a StatusError.
func Do(ctx context.Context, client *http.Client, req Request) (*http.Response, error) {
	var body io.Reader
	if req.Body != nil {
		bts, err := json.Marshal(req.Body)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(bts)
	}

	r, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, err
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			r.Header.Add(k, v)
		}
	}
	if req.Body != nil {
		r.Header.Set("Content-Type", "application/json")
	}
	r.Header.Set("Accept", "application/json")

	resp, err := client.Do(r)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		bts, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, StatusError{StatusCode: resp.StatusCode, Status: resp.Status, Body: string(bts)}
	}
	return resp, nil
}

// DoJSON sends req and decodes a 2xx response body into out.
func DoJSON(ctx context.Context, client *http.Client, req Request, out any) error {
	resp, err := Do(ctx, client, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(out)
}

// Fetch downloads url and returns its body.
func Fetch(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	r, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(r)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bts, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, StatusError{StatusCode: resp.StatusCode, Status: resp.Status, Body: string(bts)}
	}
	return io.ReadAll(resp.Body)
}

// BearerToken strips an optional "Bearer " prefix.
func BearerToken(auth string) string {
	return strings.TrimSpace(strings.TrimPrefix(strings.TrimLeft(auth, " "), "Bearer "))
}
