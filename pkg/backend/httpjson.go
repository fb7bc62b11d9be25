package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/tidwall/gjson"
)

// maxBodyBytes bounds how much of a response body is read.
const maxBodyBytes = 8 << 20

// JSONClient performs one JSON-over-HTTP exchange per call and classifies
// every failure into a [*TransportError]. It is the shared transport of the
// HTTP-based backends.
type JSONClient struct {
	// Backend is the backend name stamped on errors.
	Backend string

	// HTTP is the client used for requests. When nil, http.DefaultClient is
	// used.
	HTTP *http.Client

	// Header holds headers added to every request (e.g. API keys).
	Header http.Header
}

// Do sends body (JSON-encoded, omitted when nil) to url with the given method
// and decodes the 2xx response body into out (skipped when out is nil).
// operation is used only for error attribution.
func (c *JSONClient) Do(ctx context.Context, method, url, operation string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return NewError(KindDecode, c.Backend, operation, "encode request", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return NewError(KindNetwork, c.Backend, operation, "build request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, vs := range c.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return c.classifyDoErr(ctx, operation, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return c.classifyDoErr(ctx, operation, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		kind := KindForStatus(resp.StatusCode)
		if gjson.ValidBytes(data) && KindForRemoteCode(gjson.GetBytes(data, "code").String()) == KindRateLimit {
			kind = KindRateLimit
		}
		te := NewError(kind, c.Backend, operation,
			fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
		te.StatusCode = resp.StatusCode
		return te
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return NewError(KindDecode, c.Backend, operation, "decode response", err)
	}
	return nil
}

func (c *JSONClient) classifyDoErr(ctx context.Context, operation string, err error) error {
	var ne net.Error
	if ctx.Err() != nil || (errors.As(err, &ne) && ne.Timeout()) {
		return NewError(KindTimeout, c.Backend, operation, "request timed out", err)
	}
	return NewError(KindNetwork, c.Backend, operation, "request failed", err)
}
