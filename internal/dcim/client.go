// Package dcim is the HTTP gateway to the upstream traffic-management API.
package dcim

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/majidisaloo/easydcim-traffic/internal/config"
	"github.com/majidisaloo/easydcim-traffic/internal/observability/metrics"
	"github.com/majidisaloo/easydcim-traffic/internal/observability/tracing"
	"go.uber.org/zap"
)

const timeLayout = "2006-01-02 15:04:05"

// APIError is a non-2xx or transport failure from the upstream API.
type APIError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("dcim api error: %s %s status=%d", e.Method, e.Path, e.Status)
}

// Port is one network port attached to a remote service.
type Port struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Client calls the upstream DCIM API with bearer-token auth and optional
// user impersonation.
type Client struct {
	http        *http.Client
	baseURL     string
	token       string
	impersonate string
	swap        bool
	inFields    []string
	outFields   []string
	log         *zap.Logger
	metrics     *metrics.ReconcileMetrics
}

func NewClient(cfg config.Config, log *zap.Logger, m *metrics.ReconcileMetrics) *Client {
	return &Client{
		http:        tracing.WrapHTTPClient(&http.Client{Timeout: cfg.DCIM.Timeout}),
		baseURL:     trimTrailingSlash(cfg.DCIM.BaseURL),
		token:       cfg.DCIM.Token,
		impersonate: cfg.DCIM.Impersonate,
		swap:        cfg.DCIM.SwapDirections,
		inFields:    cfg.DCIM.InFields,
		outFields:   cfg.DCIM.OutFields,
		log:         log.Named("dcim.client"),
		metrics:     m,
	}
}

// Usage fetches the traffic sample for a remote service over the window.
// One upstream variant expects {startDate, endDate} instead of {start, end};
// the primary body is probed first and the variant is tried on a non-2xx.
func (c *Client) Usage(ctx context.Context, remoteServiceID int64, start, end time.Time, impersonate string) (Sample, error) {
	path := fmt.Sprintf("/api/v3/client/services/%d/bandwidth", remoteServiceID)

	body := map[string]string{
		"start": start.Format(timeLayout),
		"end":   end.Format(timeLayout),
	}
	data, status, err := c.do(ctx, http.MethodPost, path, body, impersonate, true)
	if err != nil {
		return Sample{}, err
	}
	if status < 200 || status > 299 {
		variant := map[string]string{
			"startDate": start.Format(timeLayout),
			"endDate":   end.Format(timeLayout),
		}
		data, _, err = c.do(ctx, http.MethodPost, path, variant, impersonate, false)
		if err != nil {
			return Sample{}, err
		}
	}

	payload, err := decodePayload(data)
	if err != nil {
		return Sample{}, fmt.Errorf("decode bandwidth payload: %w", err)
	}
	return ExtractSample(payload, c.inFields, c.outFields, c.swap), nil
}

// ListPorts returns the ports of a remote service.
func (c *Client) ListPorts(ctx context.Context, remoteServiceID int64, impersonate string) ([]Port, error) {
	path := fmt.Sprintf("/api/v3/client/services/%d/ports?with_traffic=true", remoteServiceID)
	data, _, err := c.do(ctx, http.MethodGet, path, nil, impersonate, false)
	if err != nil {
		return nil, err
	}
	return decodePorts(data)
}

// DisablePort shuts down one port.
func (c *Client) DisablePort(ctx context.Context, portID int64) error {
	path := fmt.Sprintf("/api/v3/admin/ports/%d/disable", portID)
	_, _, err := c.do(ctx, http.MethodPost, path, nil, "", false)
	return err
}

// EnablePort brings one port back up.
func (c *Client) EnablePort(ctx context.Context, portID int64) error {
	path := fmt.Sprintf("/api/v3/admin/ports/%d/enable", portID)
	_, _, err := c.do(ctx, http.MethodPost, path, nil, "", false)
	return err
}

// SuspendOrder suspends the remote order backing a service. The remote
// system models suspension at order granularity.
func (c *Client) SuspendOrder(ctx context.Context, remoteOrderID int64) error {
	path := fmt.Sprintf("/api/v3/admin/orders/%d/service/suspend", remoteOrderID)
	_, _, err := c.do(ctx, http.MethodPost, path, nil, "", false)
	return err
}

// UnsuspendOrder lifts a previous order suspension.
func (c *Client) UnsuspendOrder(ctx context.Context, remoteOrderID int64) error {
	path := fmt.Sprintf("/api/v3/admin/orders/%d/service/unsuspend", remoteOrderID)
	_, _, err := c.do(ctx, http.MethodPost, path, nil, "", false)
	return err
}

// ExportGraph fetches the exported usage graph as opaque JSON.
func (c *Client) ExportGraph(ctx context.Context, remoteServiceID int64, start, end time.Time, raw bool, impersonate string) (json.RawMessage, error) {
	path := fmt.Sprintf("/api/v3/client/graphs/%d/export", remoteServiceID)
	body := map[string]any{
		"type":   "AggregateTraffic",
		"target": "service",
		"start":  start.Format(timeLayout),
		"end":    end.Format(timeLayout),
		"raw":    raw,
	}
	data, _, err := c.do(ctx, http.MethodPost, path, body, impersonate, false)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

// do performs one API call. When probe is set a non-2xx response is returned
// to the caller instead of becoming an APIError, so callers can fall back to
// an alternate request shape.
func (c *Client) do(ctx context.Context, method, path string, body any, impersonate string, probe bool) ([]byte, int, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if impersonate == "" {
		impersonate = c.impersonate
	}
	if impersonate != "" {
		req.Header.Set("X-Impersonate-User", impersonate)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	latency := time.Since(start)
	if err != nil {
		c.log.Warn("upstream call failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Duration("latency", latency),
			zap.Error(err),
		)
		c.metrics.ObserveUpstream(endpointLabel(method, path), "error", latency)
		return nil, 0, &APIError{Method: method, Path: path, Status: 0, Body: err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}

	c.log.Debug("upstream call",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", latency),
	)
	c.metrics.ObserveUpstream(endpointLabel(method, path), strconv.Itoa(resp.StatusCode), latency)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if probe {
			return data, resp.StatusCode, nil
		}
		c.log.Warn("upstream call returned error status",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.Duration("latency", latency),
		)
		return data, resp.StatusCode, &APIError{
			Method: method,
			Path:   path,
			Status: resp.StatusCode,
			Body:   string(data),
		}
	}
	return data, resp.StatusCode, nil
}

func trimTrailingSlash(value string) string {
	for len(value) > 0 && value[len(value)-1] == '/' {
		value = value[:len(value)-1]
	}
	return value
}
