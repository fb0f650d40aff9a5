package image

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
)

type exchangeKey struct{}

// exchange carries the prompt down to the transport and the response body
// back up from it, for one request.
type exchange struct {
	prompt string
	raw    []byte
}

// recordingTransport keeps the prompt field on the wire even when it is empty
// and records the gateway's response body. Requests without an exchange in
// their context pass straight through.
type recordingTransport struct {
	base http.RoundTripper
}

func (t *recordingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ex, ok := req.Context().Value(exchangeKey{}).(*exchange)
	if !ok {
		return t.base.RoundTrip(req)
	}

	if req.Body != nil && req.Body != http.NoBody {
		body, err := io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, err
		}
		if body, err = withPrompt(body, ex.prompt); err != nil {
			return nil, err
		}
		req = req.Clone(req.Context())
		req.Body = io.NopCloser(bytes.NewReader(body))
		req.GetBody = func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(body)), nil }
		req.ContentLength = int64(len(body))
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	raw, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, err
	}
	ex.raw = raw
	resp.Body = io.NopCloser(bytes.NewReader(raw))
	return resp, nil
}

// withPrompt adds the prompt to a JSON object body that omitted it.
func withPrompt(body []byte, prompt string) ([]byte, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	if _, ok := fields["prompt"]; ok {
		return body, nil
	}
	p, err := json.Marshal(prompt)
	if err != nil {
		return nil, err
	}
	fields["prompt"] = p
	return json.Marshal(fields)
}
