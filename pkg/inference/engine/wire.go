package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/pkg/errors"
)

// WireRequest is a provider request ready to be sent. Body is the typed
// provider payload, Extra is merged over it when encoding.
type WireRequest struct {
	Method string
	URL    string
	Header http.Header
	Body   interface{}
	Extra  map[string]interface{}
	Stream bool
	N      int
}

// Encode marshals Body and overlays Extra on the top level object.
func (r *WireRequest) Encode() ([]byte, error) {
	body, err := json.Marshal(r.Body)
	if err != nil {
		return nil, errors.Wrap(err, "encode request body")
	}
	if len(r.Extra) == 0 {
		return body, nil
	}

	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, errors.Wrap(err, "request body is not an object")
	}
	for k, v := range r.Extra {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, errors.Wrapf(err, "encode extra option %s", k)
		}
		fields[k] = b
	}
	return json.Marshal(fields)
}

// NewHTTPRequest builds the outgoing request bound to ctx. Header values of
// the wire request are copied, extra headers are applied last.
func (r *WireRequest) NewHTTPRequest(ctx context.Context, extra http.Header) (*http.Request, error) {
	body, err := r.Encode()
	if err != nil {
		return nil, err
	}
	method := r.Method
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequestWithContext(ctx, method, r.URL, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	for k, vs := range extra {
		req.Header.Del(k)
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// ReadJSONResponse decodes a non-streaming response into v, surfacing
// non-2xx statuses as *HTTPError.
func ReadJSONResponse(resp *http.Response, v interface{}) error {
	defer func(Body io.ReadCloser) {
		_ = Body.Close()
	}(resp.Body)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "read response body")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return NewHTTPError(resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return errors.Wrapf(ErrMalformedEvent, "decode response: %v", err)
	}
	return nil
}
