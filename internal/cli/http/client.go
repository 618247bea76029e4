package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"arena/internal/cli/metrics"
	"arena/internal/cli/state"
	appErr "arena/pkg/errors"
	"arena/pkg/utils/contextkey"
	"arena/pkg/utils/logger"

	"github.com/klauspost/compress/gzhttp"
	"go.uber.org/zap"
)

// Service names one of the backends. The value is what error reports show.
type Service string

const (
	Judge    Service = "Judge"
	Data     Service = "Submissions"
	Auth     Service = "Auth"
	Problems Service = "Problems"
)

// Services lists every backend in a stable order.
var Services = []Service{Judge, Data, Auth, Problems}

// Endpoints maps each service to its base URL.
type Endpoints map[Service]string

// Request describes one call against a service.
type Request struct {
	Service      Service
	Method       string
	Path         string
	Body         interface{} // encoded as JSON when RawBody is nil
	RawBody      []byte
	ContentType  string // defaults to application/json
	RequiresAuth bool
}

// Outcome is the result of a call that did not fail.
type Outcome struct {
	Payload    json.RawMessage
	StatusCode int
	Duration   time.Duration
	Skipped    bool // auth was required and no token was present; nothing was sent
}

// Decode unmarshals the payload into v.
func (o Outcome) Decode(v interface{}) error {
	if len(o.Payload) == 0 {
		return fmt.Errorf("empty payload")
	}
	return json.Unmarshal(o.Payload, v)
}

// Client executes requests against the four backends.
type Client struct {
	mu         sync.RWMutex
	endpoints  Endpoints
	httpClient *http.Client
	metrics    *metrics.Metrics
}

// New builds a client. A zero timeout leaves the transport defaults in place.
func New(endpoints Endpoints, timeout time.Duration, m *metrics.Metrics) *Client {
	copied := make(Endpoints, len(endpoints))
	for k, v := range endpoints {
		copied[k] = strings.TrimRight(v, "/")
	}
	return &Client{
		endpoints: copied,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: gzhttp.Transport(http.DefaultTransport),
		},
		metrics: m,
	}
}

func (c *Client) SetBaseURL(service Service, baseURL string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endpoints[service] = strings.TrimRight(baseURL, "/")
}

func (c *Client) BaseURL(service Service) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.endpoints[service]
}

func (c *Client) SetTimeout(timeout time.Duration) {
	if timeout >= 0 {
		c.mu.Lock()
		c.httpClient.Timeout = timeout
		c.mu.Unlock()
	}
}

func (c *Client) Timeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.httpClient.Timeout
}

// Invoke performs exactly one attempt. Requests needing auth without a valid
// session return a skipped outcome and send nothing. Every failure, whether
// transport, status or error payload, is a ServiceUnreachable error.
func (c *Client) Invoke(ctx context.Context, req Request, session state.Session) (Outcome, error) {
	ctx = context.WithValue(ctx, contextkey.Service, string(req.Service))
	if req.RequiresAuth && !session.Valid() {
		logger.Debug(ctx, "skip authenticated call without token", zap.String("path", req.Path))
		c.metrics.ServiceCall(string(req.Service), metrics.OutcomeSkipped)
		return Outcome{Skipped: true}, nil
	}

	httpReq, err := c.build(ctx, req, session)
	if err != nil {
		return Outcome{}, err
	}

	c.mu.RLock()
	client := c.httpClient
	c.mu.RUnlock()

	start := time.Now()
	resp, err := client.Do(httpReq)
	duration := time.Since(start)
	if err != nil {
		return Outcome{}, c.fail(ctx, req, appErr.ServiceUnreachable(string(req.Service), err))
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Outcome{}, c.fail(ctx, req, appErr.ServiceUnreachable(string(req.Service), err).
			WithDetail(appErr.DetailStatus, resp.StatusCode))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		e := appErr.ServiceUnreachable(string(req.Service), fmt.Errorf("unexpected status %d", resp.StatusCode)).
			WithDetail(appErr.DetailStatus, resp.StatusCode)
		if msg := payloadMessage(body); msg != "" {
			e.WithDetail(appErr.DetailMessage, msg)
		}
		return Outcome{}, c.fail(ctx, req, e)
	}
	if reported, msg := payloadError(body); reported {
		e := appErr.ServiceUnreachable(string(req.Service), fmt.Errorf("service reported error")).
			WithDetail(appErr.DetailStatus, resp.StatusCode)
		if msg != "" {
			e.WithDetail(appErr.DetailMessage, msg)
		}
		return Outcome{}, c.fail(ctx, req, e)
	}

	logger.Debug(ctx, "service call ok",
		zap.String("method", req.Method),
		zap.String("path", req.Path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", duration),
	)
	c.metrics.ServiceCall(string(req.Service), metrics.OutcomeOK)
	return Outcome{Payload: body, StatusCode: resp.StatusCode, Duration: duration}, nil
}

func (c *Client) build(ctx context.Context, req Request, session state.Session) (*http.Request, error) {
	base := c.BaseURL(req.Service)
	if base == "" {
		return nil, appErr.ValidationError("service", fmt.Sprintf("no base url for %s", req.Service))
	}

	var reader io.Reader
	contentType := req.ContentType
	switch {
	case req.RawBody != nil:
		reader = bytes.NewReader(req.RawBody)
		if contentType == "" {
			contentType = "text/plain"
		}
	case req.Body != nil:
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, appErr.Wrapf(err, appErr.InternalServerError, "encode request body failed")
		}
		reader = bytes.NewReader(data)
		if contentType == "" {
			contentType = "application/json"
		}
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, base+req.Path, reader)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.InvalidParams, "build request failed")
	}
	httpReq.Header.Set("Accept", "application/json")
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if req.RequiresAuth {
		httpReq.Header.Set("Authorization", BearerValue(session.Token))
	}
	return httpReq, nil
}

func (c *Client) fail(ctx context.Context, req Request, err *appErr.Error) error {
	logger.Warn(ctx, "service call failed",
		zap.String("method", req.Method),
		zap.String("path", req.Path),
		zap.Int("status", appErr.StatusOf(err)),
		zap.Error(err.Unwrap()),
	)
	c.metrics.ServiceCall(string(req.Service), metrics.OutcomeFailed)
	return err
}

// BearerValue formats the Authorization header value. Tokens persisted by
// older clients already carry the scheme.
func BearerValue(token string) string {
	if strings.HasPrefix(token, "Bearer ") {
		return token
	}
	return "Bearer " + token
}

type errorEnvelope struct {
	Error   json.RawMessage `json:"error"`
	Message string          `json:"message"`
}

// payloadError reports whether a JSON object body carries a truthy "error" field.
func payloadError(body []byte) (bool, string) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return false, ""
	}
	var env errorEnvelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return false, ""
	}
	switch strings.TrimSpace(string(env.Error)) {
	case "", "null", "false", `""`, "0":
		return false, ""
	}
	msg := env.Message
	if msg == "" {
		var s string
		if json.Unmarshal(env.Error, &s) == nil {
			msg = s
		}
	}
	return true, msg
}

func payloadMessage(body []byte) string {
	_, msg := payloadError(body)
	if msg != "" {
		return msg
	}
	var env errorEnvelope
	if json.Unmarshal(bytes.TrimSpace(body), &env) == nil {
		return env.Message
	}
	return ""
}
