// Package delhivery is a thin transport for the Delhivery B2C API. It knows
// the wire formats and folds the carrier's inconsistent responses into
// typed results or *carrier.Error values. It holds no order state and never
// retries.
package delhivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/example/orderdesk/pkg/carrier"
	"github.com/example/orderdesk/pkg/config"
)

const maxBodyBytes = 8 << 20

// ErrInvalidRequest is returned before any network call when the request
// lacks a field the carrier requires.
var ErrInvalidRequest = errors.New("delhivery: invalid request")

type response struct {
	status      int
	body        []byte
	contentType string
}

func (r *response) ok() bool {
	return r.status >= 200 && r.status < 300
}

type Client struct {
	baseURL    string
	token      string
	timeout    time.Duration
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker[*response]
	logger     *zap.Logger
}

// NewClient builds a client for one Delhivery account. It is safe for
// concurrent use and meant to be created once per process.
func NewClient(cfg *config.DelhiveryConfig, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	breakerTimeout := cfg.BreakerTimeout
	if breakerTimeout <= 0 {
		breakerTimeout = time.Minute
	}

	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		timeout:    timeout,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}

	c.cb = gobreaker.NewCircuitBreaker[*response](gobreaker.Settings{
		Name:        "delhivery-api",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Carrier circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return c
}

// do executes one HTTP call under the request timeout and the circuit
// breaker. Transport errors, 429 and 5xx come back as transient carrier
// errors; every other status is returned for the caller to interpret.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, contentType string, body []byte) (*response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	resp, err := c.cb.Execute(func() (*response, error) {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Token "+c.token)
		req.Header.Set("Accept", "application/json")
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}

		res, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer res.Body.Close()

		data, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		r := &response{status: res.StatusCode, body: data, contentType: res.Header.Get("Content-Type")}
		if res.StatusCode >= 500 || res.StatusCode == http.StatusTooManyRequests {
			return r, &carrier.StatusError{Code: res.StatusCode, Body: truncate(string(data), 512)}
		}
		return r, nil
	})
	if err != nil {
		c.logger.Warn("Carrier call failed",
			zap.String("op", op),
			zap.String("path", path),
			zap.Error(err))
		return nil, carrier.Transient(op, err)
	}
	return resp, nil
}

func (c *Client) postJSON(ctx context.Context, op, path string, payload any) (*response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%s: encode request: %w", op, err)
	}
	return c.do(ctx, op, http.MethodPost, path, nil, "application/json", body)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// flexString decodes JSON strings and numbers alike. Delhivery returns ids
// as either depending on the endpoint.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(strings.TrimSpace(string(data)))
	return nil
}

// remarkList decodes a remark given as a string or a list of strings.
// Anything else (booleans, objects) decodes to an empty list.
type remarkList []string

func (r *remarkList) UnmarshalJSON(data []byte) error {
	*r = nil
	if len(data) == 0 {
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if strings.TrimSpace(s) != "" {
			*r = remarkList{s}
		}
	case '[':
		var list []any
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		for _, v := range list {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				*r = append(*r, s)
			}
		}
	}
	return nil
}
