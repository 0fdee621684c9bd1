// Package client talks to other nodes over the peer-to-peer HTTP API.
package client

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

	"eventnode/swarm/protocol"

	"github.com/hashicorp/go-retryablehttp"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultTimeout = time.Second
	maxBodySize    = 64 << 20
)

type Client struct {
	client  *retryablehttp.Client
	timeout time.Duration
}

type Option func(*Client)

// WithTimeout bounds every request, including retries.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithRetries sets how many times a request failing at the transport level is retried.
func WithRetries(n int) Option {
	return func(c *Client) {
		c.client.RetryMax = n
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.client.HTTPClient = hc
	}
}

func New(opts ...Option) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 0
	rc.RetryWaitMin = 50 * time.Millisecond
	rc.RetryWaitMax = 200 * time.Millisecond
	rc.Logger = leveledLogger{}
	// Hand the last response back as is so status failures stay distinguishable from transport failures
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	c := &Client{
		client:  rc,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Handshake announces this node to the peer at addr and returns the peer's chain height.
// self is sent only for server-role callers.
func (c *Client) Handshake(ctx context.Context, addr string, isClient bool, self string) (*protocol.HandshakeResponse, error) {
	q := url.Values{}
	q.Set(protocol.ParamIsClient, strconv.FormatBool(isClient))
	if !isClient {
		q.Set(protocol.ParamAddr, self)
	}

	res := &protocol.HandshakeResponse{}
	if err := c.get(ctx, endpoint(addr, protocol.PathHandshake, q), res); err != nil {
		return nil, err
	}
	return res, nil
}

// GetPeers fetches the peer list known to the peer at addr.
func (c *Client) GetPeers(ctx context.Context, addr string) (*protocol.GetPeersResponse, error) {
	res := &protocol.GetPeersResponse{}
	if err := c.get(ctx, endpoint(addr, protocol.PathGetPeers, nil), res); err != nil {
		return nil, err
	}
	return res, nil
}

// GetEvents fetches one page of spend and sent events from the peer at addr.
func (c *Client) GetEvents(ctx context.Context, addr string, fromSpend, fromSent, length uint64) (*protocol.GetEventsResponse, error) {
	q := url.Values{}
	q.Set(protocol.ParamFromSpend, strconv.FormatUint(fromSpend, 10))
	q.Set(protocol.ParamFromSent, strconv.FormatUint(fromSent, 10))
	q.Set(protocol.ParamLength, strconv.FormatUint(length, 10))

	res := &protocol.GetEventsResponse{}
	if err := c.get(ctx, endpoint(addr, protocol.PathEvents, q), res); err != nil {
		return nil, err
	}
	return res, nil
}

func endpoint(addr, path string, q url.Values) string {
	base := addr
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	u := strings.TrimRight(base, "/") + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

func (c *Client) get(ctx context.Context, u string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return &Error{Kind: Transport, URL: u, Err: err}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &Error{Kind: Transport, URL: u, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))
		return &Error{Kind: Status, URL: u, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return &Error{Kind: Transport, URL: u, Err: err}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &Error{Kind: Parse, URL: u, Err: err}
	}
	return nil
}

// FailureKind classifies why a peer request failed.
type FailureKind uint8

const (
	None FailureKind = iota
	Transport
	Status
	Parse
)

func (k FailureKind) String() string {
	switch k {
	case None:
		return "ok"
	case Transport:
		return "transport"
	case Status:
		return "status"
	case Parse:
		return "parse"
	default:
		return fmt.Sprintf("failure(%d)", uint8(k))
	}
}

type Error struct {
	Kind       FailureKind
	URL        string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	switch e.Kind {
	case Status:
		return fmt.Sprintf("%s: unexpected status %d", e.URL, e.StatusCode)
	default:
		return fmt.Sprintf("%s: %s failure: %v", e.URL, e.Kind, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the failure classification of err. Errors not produced by
// this package count as transport failures.
func KindOf(err error) FailureKind {
	if err == nil {
		return None
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return Transport
}

// leveledLogger routes retryablehttp logging into logrus.
type leveledLogger struct{}

func fields(keysAndValues []interface{}) log.Fields {
	f := log.Fields{}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		f[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return f
}

func (leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	log.WithFields(fields(keysAndValues)).Error(msg)
}

func (leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	log.WithFields(fields(keysAndValues)).Info(msg)
}

func (leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	log.WithFields(fields(keysAndValues)).Debug(msg)
}

func (leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	log.WithFields(fields(keysAndValues)).Warn(msg)
}
