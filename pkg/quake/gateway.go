package quake

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// call is the single authenticated request path used by every resource operation.
// It ensures a valid token, sends body as JSON and decodes a 2xx response into out.
func (c *Client) call(ctx context.Context, endpoint, method, path string, body, out any) error {
	token, err := c.tokens.ensure(ctx, false)
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("quake: encode %s body: %w", endpoint, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.apiBase+path, reader)
	if err != nil {
		return fmt.Errorf("quake: build %s request: %w", endpoint, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.exec.DoJSON(ctx, req, c.CompanyID(), endpoint, out)
}

// record is implemented by every resource type.
type record interface {
	json.Unmarshaler
	bind(*Client)
}

// decoderFor returns a decoder that builds a PT from raw JSON and attaches c.
func decoderFor[T any, PT interface {
	*T
	record
}](c *Client) func(json.RawMessage) (PT, error) {
	return func(raw json.RawMessage) (PT, error) {
		v := PT(new(T))
		if err := v.UnmarshalJSON(raw); err != nil {
			return nil, err
		}
		v.bind(c)
		return v, nil
	}
}

var errEmptyResponse = errors.New("quake: empty response body")

// fetchOne issues a single-resource call and decodes the body, accepting both a
// bare object and one wrapped in {"data": {...}}.
func fetchOne[T any, PT interface {
	*T
	record
}](ctx context.Context, c *Client, endpoint, method, path string, body any) (PT, error) {
	var raw json.RawMessage
	if err := c.call(ctx, endpoint, method, path, body, &raw); err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, errEmptyResponse
	}
	v, err := decoderFor[T, PT](c)(unwrapData(raw))
	if err != nil {
		return nil, fmt.Errorf("quake: decode %s: %w", endpoint, err)
	}
	return v, nil
}

func unwrapData(raw json.RawMessage) json.RawMessage {
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &env); err == nil && len(env.Data) > 0 && env.Data[0] == '{' {
		return env.Data
	}
	return raw
}
