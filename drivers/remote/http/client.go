// Package http is a syncstore.Remote over net/http for JSON REST APIs that
// page with Link headers.
package http

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/burugo/syncstore"
)

// AcceptStringIDs asks the API to encode every ID as a string.
const AcceptStringIDs = "application/json+canvas-string-ids"

const (
	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "syncstore/1.0"
)

// Options configures a Client.
type Options struct {
	BaseURL   string
	Token     string
	UserAgent string
	Timeout   time.Duration
	// HTTPClient replaces the default client; Timeout is ignored then.
	HTTPClient *http.Client
}

// Client implements syncstore.Remote.
type Client struct {
	client    *http.Client
	baseURL   *url.URL
	token     string
	userAgent string
}

var _ syncstore.Remote = (*Client)(nil)

// NewClient builds a Client for the API rooted at opts.BaseURL.
func NewClient(opts Options) (*Client, error) {
	base, err := url.Parse(opts.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("%w: invalid base url %q", syncstore.ErrInvalidConfig, opts.BaseURL)
	}
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		client = &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				MaxIdleConnsPerHost: 10,
			},
		}
	}
	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &Client{client: client, baseURL: base, token: opts.Token, userAgent: userAgent}, nil
}

// SetToken sets the bearer token sent with every request.
func (c *Client) SetToken(token string) {
	c.token = token
}

// Do sends req. Non-2xx responses come back as both the Response and a
// *syncstore.StatusError.
func (c *Client) Do(ctx context.Context, req syncstore.Request) (*syncstore.Response, error) {
	target, err := c.resolve(req)
	if err != nil {
		return nil, err
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("create request %s %s: %w", method, target, err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", AcceptStringIDs)
	}
	if len(req.Body) > 0 && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("User-Agent", c.userAgent)
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, target, err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body of %s %s: %w", method, target, err)
	}
	log.Printf("HTTP %s %s -> %d (%s)", method, target, httpResp.StatusCode, time.Since(start))

	resp := &syncstore.Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       data,
		URL:        httpResp.Request.URL.String(),
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return resp, &syncstore.StatusError{StatusCode: httpResp.StatusCode, Body: data}
	}
	return resp, nil
}

// resolve joins req.Path onto the base URL; absolute paths (next-page links)
// are used as they are.
func (c *Client) resolve(req syncstore.Request) (string, error) {
	ref, err := url.Parse(req.Path)
	if err != nil {
		return "", fmt.Errorf("invalid request path %q: %w", req.Path, err)
	}
	var target *url.URL
	if ref.IsAbs() {
		target = ref
	} else {
		target = c.baseURL.JoinPath(strings.TrimPrefix(ref.Path, "/"))
		target.RawQuery = ref.RawQuery
	}
	if len(req.Query) > 0 {
		q := target.Query()
		for k, vs := range req.Query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		target.RawQuery = q.Encode()
	}
	return target.String(), nil
}
