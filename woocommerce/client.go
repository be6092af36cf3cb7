package woocommerce

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

//go:generate mockgen -destination=mocks/mock_client.go -package=mocks github.com/tourdesk/backoffice/woocommerce OrderFetcher

// OrderFetcher is what the sync needs from a storefront.
type OrderFetcher interface {
	ListOrders(ctx context.Context, params ListOrdersParams) ([]Order, PageInfo, error)
	GetOrder(ctx context.Context, id int64) (Order, error)
}

const apiPath = "/wp-json/wc/v3"

type Client struct {
	baseURL        string
	consumerKey    string
	consumerSecret string
	http           *http.Client
	limiter        *rate.Limiter
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http = &http.Client{Timeout: d}
		}
	}
}

// WithRequestDelay spaces consecutive requests at least d apart. Zero disables the delay.
func WithRequestDelay(d time.Duration) Option {
	return func(c *Client) {
		if d <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

// NewClient accepts either the shop root or a URL that already ends in /wp-json/wc/v3.
func NewClient(apiURL, consumerKey, consumerSecret string, opts ...Option) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(apiURL), "/")
	if base == "" {
		return nil, errors.New("woocommerce api url is empty")
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("invalid woocommerce api url %q: %w", apiURL, err)
	}
	if strings.TrimSpace(consumerKey) == "" || strings.TrimSpace(consumerSecret) == "" {
		return nil, errors.New("woocommerce consumer key/secret is empty")
	}
	if i := strings.Index(base, "/wp-json"); i >= 0 {
		base = base[:i]
	}
	c := &Client{
		baseURL:        base + apiPath,
		consumerKey:    consumerKey,
		consumerSecret: consumerSecret,
		http:           &http.Client{Timeout: 30 * time.Second},
		limiter:        rate.NewLimiter(rate.Every(time.Second), 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) ListOrders(ctx context.Context, params ListOrdersParams) ([]Order, PageInfo, error) {
	q := url.Values{}
	if params.Page > 0 {
		q.Set("page", strconv.Itoa(params.Page))
	}
	if params.PerPage > 0 {
		q.Set("per_page", strconv.Itoa(params.PerPage))
	}
	if params.After != "" {
		q.Set("after", params.After)
	}
	if params.Status != "" {
		q.Set("status", params.Status)
	}
	q.Set("orderby", "date")
	q.Set("order", "asc")

	var orders []Order
	header, err := c.get(ctx, "/orders", q, &orders)
	if err != nil {
		return nil, PageInfo{}, err
	}
	info := PageInfo{}
	info.Total, _ = strconv.Atoi(header.Get("X-WP-Total"))
	info.TotalPages, _ = strconv.Atoi(header.Get("X-WP-TotalPages"))
	return orders, info, nil
}

func (c *Client) GetOrder(ctx context.Context, id int64) (Order, error) {
	var order Order
	_, err := c.get(ctx, "/orders/"+strconv.FormatInt(id, 10), nil, &order)
	return order, err
}

func (c *Client) get(ctx context.Context, path string, params url.Values, dest interface{}) (http.Header, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint = endpoint + "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.consumerKey, c.consumerSecret)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if jsonErr := json.Unmarshal(body, apiErr); jsonErr != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(body))
		}
		return nil, apiErr
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return resp.Header, nil
}
