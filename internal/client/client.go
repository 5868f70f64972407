// Package client is a typed HTTP client for the delivery tracking API.
// It owns the quirks of the wire contract so callers never see them:
// heterogeneous list envelopes are normalized, a missing delivery for an
// order reads as an empty state rather than an error, and local state is
// always replaced with the server's returned object, never merged.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/rbhatta/go-delivery-trackflow/internal/deliveries"
	"github.com/rbhatta/go-delivery-trackflow/internal/orders"
	"github.com/rbhatta/go-delivery-trackflow/internal/partners"
	"github.com/rbhatta/go-delivery-trackflow/internal/timeline"
	"github.com/rbhatta/go-delivery-trackflow/internal/validation"
)

const (
	tenantHeader   = "X-Tenant-ID"
	defaultTimeout = 30 * time.Second
)

// ErrNoTenant is returned when the client has no tenant configured.
// Callers treat it as "not ready yet", not a failure.
var ErrNoTenant = errors.New("no tenant configured")

// APIError is a non-2xx response from the API.
type APIError struct {
	Message string
	Status  int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// IsNotFound reports whether err is a 404 APIError.
func IsNotFound(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Status == http.StatusNotFound
}

// Config configures a Client. Retries enables retry-on-5xx for reads and
// idempotent writes; zero means a single attempt.
type Config struct {
	BaseURL    string
	TenantID   string
	HTTPClient *http.Client
	Retries    int
}

// Client is a tenant-scoped delivery API client. It tracks the most
// recently fetched delivery so callers rendering a single tracking view
// can read Current without replumbing every response.
type Client struct {
	baseURL  string
	tenantID string
	http     *http.Client
	retries  int

	mu      sync.Mutex
	current *deliveries.Delivery
}

// New builds a Client from cfg.
func New(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		baseURL:  cfg.BaseURL,
		tenantID: cfg.TenantID,
		http:     hc,
		retries:  cfg.Retries,
	}
}

// Current returns the delivery last fetched or mutated through this
// client, or nil.
func (c *Client) Current() *deliveries.Delivery {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *Client) setCurrent(d *deliveries.Delivery) {
	c.mu.Lock()
	c.current = d
	c.mu.Unlock()
}

// ListDeliveries lists deliveries with f applied server-side. The server
// historically answered both bare arrays and envelopes; both normalize to
// a ListResponse here.
func (c *Client) ListDeliveries(ctx context.Context, f deliveries.ListFilter) (*deliveries.ListResponse, error) {
	q := url.Values{}
	if f.Skip > 0 {
		q.Set("skip", strconv.Itoa(f.Skip))
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.Search != "" {
		q.Set("search", f.Search)
	}
	if f.Status != "" {
		q.Set("status", f.Status)
	}
	if f.Stage != "" {
		q.Set("stage", f.Stage)
	}
	if f.PartnerID != "" {
		q.Set("partner_id", f.PartnerID)
	}
	if f.OrderID != "" {
		q.Set("order_id", f.OrderID)
	}

	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/deliveries?"+q.Encode(), nil, "", &raw); err != nil {
		return nil, err
	}
	return normalizeList(raw, f)
}

// normalizeList folds the two historical list shapes into one envelope.
func normalizeList(raw json.RawMessage, f deliveries.ListFilter) (*deliveries.ListResponse, error) {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var items []deliveries.Delivery
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("decode delivery list: %w", err)
		}
		limit := f.Limit
		if limit <= 0 {
			limit = len(items)
		}
		return &deliveries.ListResponse{
			Items: items,
			Total: len(items),
			Skip:  f.Skip,
			Limit: limit,
		}, nil
	}
	var resp deliveries.ListResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode delivery envelope: %w", err)
	}
	return &resp, nil
}

// GetDelivery fetches one delivery by id.
func (c *Client) GetDelivery(ctx context.Context, id string) (*deliveries.Delivery, error) {
	var d deliveries.Delivery
	if err := c.do(ctx, http.MethodGet, "/deliveries/"+url.PathEscape(id), nil, "", &d); err != nil {
		return nil, err
	}
	c.setCurrent(&d)
	return &d, nil
}

// CreateDelivery creates a delivery. idempotencyKey guards against
// duplicate submissions and is required by the server.
func (c *Client) CreateDelivery(ctx context.Context, req validation.CreateDeliveryRequest, idempotencyKey string) (*deliveries.Delivery, error) {
	var d deliveries.Delivery
	if err := c.do(ctx, http.MethodPost, "/deliveries", req, idempotencyKey, &d); err != nil {
		return nil, err
	}
	c.setCurrent(&d)
	return &d, nil
}

// AddStage appends a stage to a delivery. The tracked current delivery is
// replaced with exactly the object the server returns.
func (c *Client) AddStage(ctx context.Context, deliveryID string, req validation.AppendStageRequest) (*deliveries.Delivery, error) {
	var d deliveries.Delivery
	if err := c.do(ctx, http.MethodPost, "/deliveries/"+url.PathEscape(deliveryID)+"/stages", req, "", &d); err != nil {
		return nil, err
	}
	c.setCurrent(&d)
	return &d, nil
}

// AddPickupPoint appends a handoff record to a delivery.
func (c *Client) AddPickupPoint(ctx context.Context, deliveryID string, req validation.AppendPickupPointRequest) (*deliveries.Delivery, error) {
	var d deliveries.Delivery
	if err := c.do(ctx, http.MethodPost, "/deliveries/"+url.PathEscape(deliveryID)+"/pickup-points", req, "", &d); err != nil {
		return nil, err
	}
	c.setCurrent(&d)
	return &d, nil
}

// GetTimeline fetches the rendered stage timeline for a delivery.
func (c *Client) GetTimeline(ctx context.Context, deliveryID string) (*timeline.Timeline, error) {
	var t timeline.Timeline
	if err := c.do(ctx, http.MethodGet, "/deliveries/"+url.PathEscape(deliveryID)+"/timeline", nil, "", &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// GetOrderDelivery fetches the delivery for an order. A 404 means
// tracking was never initiated and reads as (nil, nil).
func (c *Client) GetOrderDelivery(ctx context.Context, orderID string) (*deliveries.Delivery, error) {
	var d deliveries.Delivery
	err := c.do(ctx, http.MethodGet, "/orders/"+url.PathEscape(orderID)+"/delivery", nil, "", &d)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	c.setCurrent(&d)
	return &d, nil
}

// OrderView is an order plus the assignment action the server offers.
type OrderView struct {
	Order  orders.Order `json:"order"`
	Action string       `json:"action"`
}

// GetOrder fetches an order with its assignment affordance.
func (c *Client) GetOrder(ctx context.Context, orderID string) (*OrderView, error) {
	var v OrderView
	if err := c.do(ctx, http.MethodGet, "/orders/"+url.PathEscape(orderID), nil, "", &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// AssignPartner runs the assignment workflow for an order.
func (c *Client) AssignPartner(ctx context.Context, orderID, partnerID string) (*deliveries.Delivery, error) {
	var d deliveries.Delivery
	req := validation.AssignPartnerRequest{PartnerID: partnerID}
	if err := c.do(ctx, http.MethodPost, "/orders/"+url.PathEscape(orderID)+"/assign", req, "", &d); err != nil {
		return nil, err
	}
	c.setCurrent(&d)
	return &d, nil
}

// ListPartners lists assignable partners.
func (c *Client) ListPartners(ctx context.Context, f partners.ListFilter) ([]partners.Partner, error) {
	q := url.Values{}
	if f.Type != "" {
		q.Set("type", string(f.Type))
	}
	if f.Search != "" {
		q.Set("search", f.Search)
	}
	if f.ActiveOnly {
		q.Set("is_active", "true")
	}
	if f.AvailableOnly {
		q.Set("is_available", "true")
	}
	var list []partners.Partner
	if err := c.do(ctx, http.MethodGet, "/partners?"+q.Encode(), nil, "", &list); err != nil {
		return nil, err
	}
	return list, nil
}

// do performs one API call, retrying transport errors and 5xx responses
// when Retries is configured. Stage appends are CAS-guarded server-side,
// so a replayed request cannot double-apply; retries still default to
// off.
func (c *Client) do(ctx context.Context, method, path string, body interface{}, idempotencyKey string, out interface{}) error {
	if c.tenantID == "" {
		return ErrNoTenant
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	attempts := c.retries + 1
	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set(tenantHeader, c.tenantID)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if idempotencyKey != "" {
			req.Header.Set("Idempotency-Key", idempotencyKey)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		if resp.StatusCode >= 500 {
			lastErr = &APIError{Message: errorMessage(data), Status: resp.StatusCode}
			continue
		}
		if resp.StatusCode >= 400 {
			return &APIError{Message: errorMessage(data), Status: resp.StatusCode}
		}

		if out == nil || len(data) == 0 {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
	return lastErr
}

// errorMessage pulls the API's error code out of a gin.H error body,
// falling back to the raw body.
func errorMessage(data []byte) string {
	var body struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.Error != "" {
		if body.Detail != "" {
			return body.Error + ": " + body.Detail
		}
		return body.Error
	}
	return string(data)
}
