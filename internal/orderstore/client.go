package orderstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"restaurant-sync/internal/common/logger"
	"restaurant-sync/internal/domain"
)

// ErrNotFound indicates the order store doesn't know the entity.
var ErrNotFound = errors.New("not found")

// Client is the HTTP consumer of the external order store: authoritative
// reads plus fire-and-verify mutations. All responses are full current
// representations, never deltas.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	lg         *logger.Logger
}

func NewClient(baseURL string, lg *logger.Logger) (*Client, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse order store url: %w", err)
	}
	if !parsed.IsAbs() {
		return nil, errors.New("order store url must be absolute")
	}
	return &Client{
		baseURL: parsed,
		lg:      lg,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}, nil
}

func (c *Client) GetOrder(ctx context.Context, id int64) (domain.Order, error) {
	var order domain.Order
	err := c.getJSON(ctx, fmt.Sprintf("/api/orders/%d", id), &order)
	return order, err
}

func (c *Client) ListOrders(ctx context.Context) ([]domain.Order, error) {
	var orders []domain.Order
	err := c.getJSON(ctx, "/api/orders", &orders)
	return orders, err
}

func (c *Client) GetRequest(ctx context.Context, id int64) (domain.TableRequest, error) {
	var req domain.TableRequest
	err := c.getJSON(ctx, fmt.Sprintf("/api/requests/%d", id), &req)
	return req, err
}

func (c *Client) ListRequests(ctx context.Context) ([]domain.TableRequest, error) {
	var reqs []domain.TableRequest
	err := c.getJSON(ctx, "/api/requests", &reqs)
	return reqs, err
}

func (c *Client) SetOrderStatus(ctx context.Context, id int64, status domain.OrderStatus) error {
	return c.putJSON(ctx, fmt.Sprintf("/api/orders/%d/status", id),
		map[string]string{"status": string(status)})
}

func (c *Client) SetRequestStatus(ctx context.Context, id int64, status domain.RequestStatus) error {
	return c.putJSON(ctx, fmt.Sprintf("/api/requests/%d/status", id),
		map[string]string{"status": string(status)})
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		return json.Unmarshal(body, out)
	case http.StatusNotFound:
		return ErrNotFound
	default:
		return c.unexpected(resp)
	}
}

func (c *Client) putJSON(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := c.newRequest(ctx, http.MethodPut, path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		return ErrNotFound
	default:
		return c.unexpected(resp)
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	endpoint := *c.baseURL
	endpoint.Path = endpoint.Path + path
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) unexpected(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var problem struct {
		Type   string `json:"type"`
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &problem) == nil && problem.Type != "" {
		return fmt.Errorf("order store: %s (%s): %s", resp.Status, problem.Type, problem.Detail)
	}
	err := fmt.Errorf("order store: %s", resp.Status)
	c.lg.Error("order_store_request_failed", err, map[string]any{
		"status": resp.StatusCode, "body": string(body),
	})
	return err
}
