package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var ErrSessionExpired = errors.New("clubos session expired")

type StatusError struct {
	Path string
	Code int
}

func (e StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.Path, e.Code)
}

type Weight int

const (
	// Light requests are JSON endpoints and probes.
	Light Weight = iota
	// Bulk requests are full HTML documents.
	Bulk
)

func (c *Client) timeout(weight Weight) time.Duration {
	if weight == Bulk {
		return c.Timeouts.Bulk
	}
	return c.Timeouts.Light
}

// Get fetches path as the current session with the timeout of `weight`. A
// response outside of 2xx is returned as a StatusError, landing on the login page
// invalidates the session and returns ErrSessionExpired.
func (c *Client) Get(ctx context.Context, weight Weight, path string, query url.Values) (*resty.Response, error) {
	ctx, span := tracer.Start(
		ctx,
		"client:Get",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("path", path)),
	)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.timeout(weight))
	defer cancel()

	req := c.Request(ctx)
	if weight == Light {
		req.SetHeader("accept", "application/json, text/plain, */*")
		req.SetHeader("x-requested-with", "XMLHttpRequest")
	}
	if len(query) > 0 {
		req.SetQueryParamsFromValues(query)
	}

	generation := c.Session.Generation()
	res, err := req.Get(path)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch")
		return nil, fmt.Errorf("GET %s (timeout %s): %w", path, c.timeout(weight), err)
	}
	span.SetAttributes(attribute.Int("status", res.StatusCode()))
	if redirectedToLogin(res) && !isLoginPath(path) {
		span.SetStatus(codes.Error, "session expired")
		c.Session.InvalidateGeneration(generation)
		return nil, fmt.Errorf("GET %s: %w", path, ErrSessionExpired)
	}
	if res.StatusCode() < 200 || res.StatusCode() >= 300 {
		span.SetStatus(codes.Error, "unexpected status")
		return nil, StatusError{Path: path, Code: res.StatusCode()}
	}
	return res, nil
}

// GetJSON is a Light Get that decodes the body, numbers are kept as json.Number.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values) (any, error) {
	res, err := c.Get(ctx, Light, path, query)
	if err != nil {
		return nil, err
	}
	value, err := DecodeJSON(res.Body())
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", path, err)
	}
	return value, nil
}

// GetPage is a Bulk Get that returns the raw document.
func (c *Client) GetPage(ctx context.Context, path string, query url.Values) ([]byte, error) {
	res, err := c.Get(ctx, Bulk, path, query)
	if err != nil {
		return nil, err
	}
	return res.Body(), nil
}

// DecodeJSON decodes an arbitrary JSON document, numbers are kept as json.Number
// so that money amounts are never rounded through float64.
func DecodeJSON(body []byte) (any, error) {
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	var value any
	err := decoder.Decode(&value)
	if err != nil {
		return nil, err
	}
	return value, nil
}
