package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"marketplace-orders/internal/models"
	"marketplace-orders/internal/service"
)

// APIError is a non-2xx response from the order service.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
}

func (e *APIError) Error() string {
	return fmt.Sprintf("order service returned %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// Unwrap maps the response onto the domain sentinels. Server errors are
// transient so pollers may retry them.
func (e *APIError) Unwrap() error {
	if e.StatusCode >= 500 {
		return models.ErrTransientNetwork
	}
	return models.ErrorForCode(e.Code)
}

// Client talks to the order service HTTP API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New creates a client for baseURL, for example http://localhost:8080.
// token is sent as a bearer token when not empty.
func New(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// GetCart returns the buyer's cart.
func (c *Client) GetCart(ctx context.Context, buyerID string) (*models.Cart, error) {
	var cart models.Cart
	err := c.do(ctx, http.MethodGet, "/api/v1/carts/"+url.PathEscape(buyerID), nil, &cart)
	return &cart, err
}

// AddToCart adds qty units of a product to the buyer's cart.
func (c *Client) AddToCart(ctx context.Context, buyerID, productID string, qty int) (*models.Cart, error) {
	body := map[string]interface{}{"product_id": productID, "quantity": qty}
	var cart models.Cart
	err := c.do(ctx, http.MethodPost, "/api/v1/carts/"+url.PathEscape(buyerID)+"/items", body, &cart)
	return &cart, err
}

// CreateOrder turns the buyer's cart into a draft order.
func (c *Client) CreateOrder(ctx context.Context, req *service.CreateOrderRequest) (*models.Order, error) {
	var order models.Order
	err := c.do(ctx, http.MethodPost, "/api/v1/orders", req, &order)
	return &order, err
}

// GetOrder fetches an order with its product orders.
func (c *Client) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	var order models.Order
	err := c.do(ctx, http.MethodGet, "/api/v1/orders/"+url.PathEscape(orderID), nil, &order)
	return &order, err
}

// Checkout marks the order for payment and returns the payment page URL.
func (c *Client) Checkout(ctx context.Context, orderID, actorID string) (*service.CheckoutResult, error) {
	body := map[string]string{"actor_id": actorID}
	var result service.CheckoutResult
	err := c.do(ctx, http.MethodPatch, "/api/v1/orders/"+url.PathEscape(orderID)+"/checkout", body, &result)
	return &result, err
}

// CheckPaymentStatus runs one server-side synchronizer tick.
func (c *Client) CheckPaymentStatus(ctx context.Context, orderID string) (*models.Order, error) {
	var order models.Order
	if err := c.do(ctx, http.MethodPost, "/api/v1/orders/"+url.PathEscape(orderID)+"/payment-check", nil, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// CancelOrder cancels an order on behalf of actor.
func (c *Client) CancelOrder(ctx context.Context, orderID string, actor models.Actor, reason string) (*models.Order, error) {
	body := map[string]string{"actor_id": actor.ID, "actor_role": actor.Role, "reason": reason}
	var order models.Order
	err := c.do(ctx, http.MethodPatch, "/api/v1/orders/"+url.PathEscape(orderID)+"/cancel", body, &order)
	return &order, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s %s: %v: %w", method, path, err, models.ErrTransientNetwork)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	var body struct {
		Error   string                 `json:"error"`
		Code    string                 `json:"code"`
		Details map[string]interface{} `json:"details"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err := json.Unmarshal(raw, &body); err != nil {
		apiErr.Message = strings.TrimSpace(string(raw))
		return apiErr
	}

	apiErr.Code = body.Code
	apiErr.Message = body.Error
	apiErr.Details = body.Details
	return apiErr
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, models.ErrTransientNetwork)
}
