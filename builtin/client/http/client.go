// Copyright 2023 Kami
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package http is the edge host's client for external HTTP brokers: a
// weighted-round-robin, retrying client whose endpoints follow the
// cluster's service discovery (ReInit) and whose retry behavior is
// split into two lanes so urgent session traffic (high-priority bus
// messages) is not queued behind bulk transfers.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gojek/heimdall/v7"
	"github.com/gojek/heimdall/v7/httpclient"
	"github.com/govoltron/matrix"
	"github.com/govoltron/matrix/balance"
	"github.com/relaycore/edgehost"
)

var (
	ErrClientNotReady = errors.New("http client is not ready")
	ErrNoEndpoints    = errors.New("http client has no live endpoints")
)

const (
	defaultTimeoutMS    = 3000
	defaultBackoffMinMS = 50
	defaultBackoffMaxMS = 1000
)

type ClientOptions struct {
	SevName    string            `json:"-"`
	Raw        string            `json:"-"`
	Endpoints  []matrix.Endpoint `json:"-"`
	Scheme     string            `json:"scheme,omitempty"`
	Host       string            `json:"host,omitempty"`
	Timeout    int64             `json:"timeout,omitempty"`
	RetryCount int               `json:"retry_count,omitempty"`

	// UrgentPriority is the bus-message priority at or above which
	// PostMessage uses the urgent lane (0 disables the split).
	UrgentPriority uint `json:"urgent_priority,omitempty"`

	// UrgentTimeout caps the urgent lane's per-request time in
	// milliseconds; Timeout/2 when unset.
	UrgentTimeout int64 `json:"urgent_timeout,omitempty"`

	// BackoffMin and BackoffMax bound the bulk lane's exponential
	// retry backoff, in milliseconds.
	BackoffMin int64 `json:"backoff_min,omitempty"`
	BackoffMax int64 `json:"backoff_max,omitempty"`
}

// ServiceName
func (opts *ClientOptions) ServiceName() (name string) {
	return opts.SevName
}

// Client is a load-balanced HTTP client with two retry lanes: "bulk"
// (exponential backoff, the configured retry count) for ordinary
// calls, and "urgent" (constant minimal backoff, tighter timeout, one
// extra attempt) for high-priority session messages. Endpoints are
// re-balanced in place whenever discovery reports a membership change.
type Client struct {
	scheme   string
	host     string
	urgentAt uint

	mu        sync.RWMutex
	endpoints []matrix.Endpoint
	balancer  *balance.WeightRoundRobinBalancer

	bulk   *httpclient.Client
	urgent *httpclient.Client

	ready uint32
}

// Name implements edgehost.Client
func (c *Client) Name() (name string) {
	return "httpclient"
}

// Init implements edgehost.Client
func (c *Client) Init(ctx context.Context, opts edgehost.ClientOptions) (err error) {
	co, ok := opts.(*ClientOptions)
	if !ok {
		return fmt.Errorf("invalid options for http client")
	}

	if !atomic.CompareAndSwapUint32(&c.ready, 0, 1) {
		return
	}

	timeout := millis(co.Timeout, defaultTimeoutMS)
	backoffMin := millis(co.BackoffMin, defaultBackoffMinMS)
	backoffMax := millis(co.BackoffMax, defaultBackoffMaxMS)

	bulkOpts := []httpclient.Option{
		httpclient.WithHTTPTimeout(timeout),
		httpclient.WithRetrier(heimdall.NewRetrier(
			heimdall.NewExponentialBackoff(backoffMin, backoffMax, 2, backoffMin/2),
		)),
	}
	if co.RetryCount > 0 {
		bulkOpts = append(bulkOpts, httpclient.WithRetryCount(co.RetryCount))
	}

	urgentTimeout := millis(co.UrgentTimeout, 0)
	if urgentTimeout <= 0 {
		urgentTimeout = timeout / 2
	}
	urgentOpts := []httpclient.Option{
		httpclient.WithHTTPTimeout(urgentTimeout),
		httpclient.WithRetrier(heimdall.NewRetrier(
			heimdall.NewConstantBackoff(backoffMin, backoffMin/2),
		)),
		httpclient.WithRetryCount(co.RetryCount + 1),
	}

	c.host = co.Host
	c.scheme = co.Scheme
	c.urgentAt = co.UrgentPriority
	c.bulk = httpclient.NewClient(bulkOpts...)
	c.urgent = httpclient.NewClient(urgentOpts...)
	c.rebalance(co.Endpoints)

	return
}

// ReInit implements edgehost.Client: discovery re-announced this
// service, so swap in the new endpoint set without tearing down the
// in-flight lanes. A client that was never initialized falls through
// to Init.
func (c *Client) ReInit(ctx context.Context, opts edgehost.ClientOptions) (err error) {
	co, ok := opts.(*ClientOptions)
	if !ok {
		return fmt.Errorf("invalid options for http client")
	}
	if atomic.LoadUint32(&c.ready) != 1 {
		return c.Init(ctx, co)
	}
	c.rebalance(co.Endpoints)
	return
}

// rebalance replaces the endpoint set and rebuilds the weighted
// round-robin balancer over it.
func (c *Client) rebalance(endpoints []matrix.Endpoint) {
	balancer := balance.NewWeightRoundRobinBalancer()
	for _, endpoint := range endpoints {
		balancer.Add(balance.Endpoint{Addr: endpoint.Addr, Weight: endpoint.Weight})
	}
	c.mu.Lock()
	c.endpoints = endpoints
	c.balancer = balancer
	c.mu.Unlock()
}

// NewOptions
func (c *Client) NewOptions(ctx context.Context, options []byte, endpoints []matrix.Endpoint) edgehost.ClientOptions {
	var (
		opts = &ClientOptions{}
	)
	opts.Raw = string(options)
	// Decode options
	json.Unmarshal(options, opts)
	// Endpoints
	for _, endpoint := range endpoints {
		opts.Endpoints = append(opts.Endpoints, endpoint)
	}
	return opts
}

// Shutdown implements edgehost.Client
func (c *Client) Shutdown(ctx context.Context) {
	atomic.CompareAndSwapUint32(&c.ready, 1, 0)
}

// PostMessage delivers one bus message body to "/<topic>" on the next
// balanced endpoint, choosing the urgent lane when priority reaches
// the configured threshold. This is the entry point the
// RequestResponse channel transport uses.
func (c *Client) PostMessage(topic string, priority uint, body io.Reader, headers http.Header) (*http.Response, error) {
	if atomic.LoadUint32(&c.ready) != 1 {
		return nil, ErrClientNotReady
	}
	url, err := c.buildUrl("/" + topic)
	if err != nil {
		return nil, err
	}
	lane := c.bulk
	if c.urgentAt > 0 && priority >= c.urgentAt {
		lane = c.urgent
	}
	return lane.Post(url, body, c.buildHeaders(headers))
}

func (c *Client) Get(uri string, headers http.Header) (*http.Response, error) {
	if atomic.LoadUint32(&c.ready) != 1 {
		return nil, ErrClientNotReady
	}
	url, err := c.buildUrl(uri)
	if err != nil {
		return nil, err
	}
	return c.bulk.Get(url, c.buildHeaders(headers))
}

func (c *Client) Post(uri string, body io.Reader, headers http.Header) (*http.Response, error) {
	if atomic.LoadUint32(&c.ready) != 1 {
		return nil, ErrClientNotReady
	}
	url, err := c.buildUrl(uri)
	if err != nil {
		return nil, err
	}
	return c.bulk.Post(url, body, c.buildHeaders(headers))
}

func (c *Client) Put(uri string, body io.Reader, headers http.Header) (*http.Response, error) {
	if atomic.LoadUint32(&c.ready) != 1 {
		return nil, ErrClientNotReady
	}
	url, err := c.buildUrl(uri)
	if err != nil {
		return nil, err
	}
	return c.bulk.Put(url, body, c.buildHeaders(headers))
}

func (c *Client) Patch(uri string, body io.Reader, headers http.Header) (*http.Response, error) {
	if atomic.LoadUint32(&c.ready) != 1 {
		return nil, ErrClientNotReady
	}
	url, err := c.buildUrl(uri)
	if err != nil {
		return nil, err
	}
	return c.bulk.Patch(url, body, c.buildHeaders(headers))
}

func (c *Client) Delete(uri string, headers http.Header) (*http.Response, error) {
	if atomic.LoadUint32(&c.ready) != 1 {
		return nil, ErrClientNotReady
	}
	url, err := c.buildUrl(uri)
	if err != nil {
		return nil, err
	}
	return c.bulk.Delete(url, c.buildHeaders(headers))
}

// buildUrl
func (c *Client) buildUrl(uri string) (string, error) {
	c.mu.RLock()
	balancer, n := c.balancer, len(c.endpoints)
	c.mu.RUnlock()
	if balancer == nil || n == 0 {
		return "", ErrNoEndpoints
	}
	addr := c.scheme + "://" + balancer.Next()
	if uri == "/" {
		return addr, nil
	}
	if !strings.HasPrefix(uri, "/") {
		uri = "/" + uri
	}
	return addr + uri, nil
}

// buildHeader
func (c *Client) buildHeaders(headers http.Header) (newheaders http.Header) {
	if headers == nil {
		headers = make(http.Header)
	}
	if c.host != "" {
		headers.Set("Host", c.host)
	}
	return headers
}

func millis(v, fallback int64) time.Duration {
	if v <= 0 {
		v = fallback
	}
	return time.Duration(v) * time.Millisecond
}
