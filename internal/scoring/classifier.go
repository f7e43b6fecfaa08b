package scoring

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
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// probeCacheTTL bounds how often the reachability probe actually hits the
// endpoint; health queries in between reuse the cached verdict.
const probeCacheTTL = 60 * time.Second

// maxErrorBodyBytes limits how much of an error response body ends up in an
// error message.
const maxErrorBodyBytes = 300

// ErrNotConfigured indicates the classifier endpoint settings are
// incomplete; remote scoring is skipped entirely.
var ErrNotConfigured = errors.New("classifier endpoint is not configured")

// ClientConfig holds the remote classifier endpoint settings.
type ClientConfig struct {
	Host        string
	Token       string
	Endpoint    string
	InputColumn string
	Timeout     time.Duration
}

// Client calls a model-serving scoring endpoint. A segment is classified
// with a single bounded attempt; a stale utterance is not worth retrying in
// a real-time stream.
type Client struct {
	cfg  ClientConfig
	http *http.Client

	mu           sync.Mutex
	probeChecked time.Time
	probeOK      bool
	probeReason  string
}

// NewClient creates a classifier client. The zero-value config produces an
// unconfigured client whose Classify always returns ErrNotConfigured.
func NewClient(cfg ClientConfig) *Client {
	if cfg.InputColumn == "" {
		cfg.InputColumn = "comment_text"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

// Configured reports whether host, token and endpoint are all present.
func (c *Client) Configured() bool {
	return c.configError() == nil
}

// Endpoint returns the configured endpoint name, used to resolve the output
// spec for normalization.
func (c *Client) Endpoint() string {
	return c.cfg.Endpoint
}

func (c *Client) configError() error {
	if c.cfg.Host == "" {
		return fmt.Errorf("%w: missing host", ErrNotConfigured)
	}
	u, err := url.Parse(c.cfg.Host)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: host must be an http(s) URL", ErrNotConfigured)
	}
	if c.cfg.Token == "" {
		return fmt.Errorf("%w: missing token", ErrNotConfigured)
	}
	if c.cfg.Endpoint == "" {
		return fmt.Errorf("%w: missing endpoint name", ErrNotConfigured)
	}
	return nil
}

// invocationsURL resolves the scoring URL. Absolute endpoints are used
// verbatim, rooted paths are joined to the host, bare names take the
// serving-endpoints invocations route.
func (c *Client) invocationsURL() string {
	ep := c.cfg.Endpoint
	if strings.HasPrefix(ep, "http://") || strings.HasPrefix(ep, "https://") {
		return ep
	}
	if strings.HasPrefix(ep, "/") {
		return c.cfg.Host + ep
	}
	return fmt.Sprintf("%s/serving-endpoints/%s/invocations", c.cfg.Host, ep)
}

// Classify scores text with one attempt and returns the decoded response
// payload for normalization.
func (c *Client) Classify(ctx context.Context, text string) (any, error) {
	if err := c.configError(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("text for classification must be non-empty")
	}

	body, err := json.Marshal(map[string]any{
		"dataframe_records": []map[string]string{{c.cfg.InputColumn: text}},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.invocationsURL(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("classifier request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil, fmt.Errorf("classifier returned status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var payload any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		if errors.Is(err, io.EOF) {
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("classifier response is not valid JSON: %w", err)
	}
	return payload, nil
}

// Probe checks endpoint reachability without running a full inference: first
// the endpoint info route, then a tiny invocations payload when the info
// route is not usable. Results are cached for probeCacheTTL. It never
// panics; failures come back as (false, reason).
func (c *Client) Probe(ctx context.Context) (bool, string) {
	c.mu.Lock()
	if time.Since(c.probeChecked) < probeCacheTTL && !c.probeChecked.IsZero() {
		ok, reason := c.probeOK, c.probeReason
		c.mu.Unlock()
		return ok, reason
	}
	c.mu.Unlock()

	ok, reason := c.probe(ctx)

	c.mu.Lock()
	c.probeChecked = time.Now()
	c.probeOK, c.probeReason = ok, reason
	c.mu.Unlock()
	return ok, reason
}

func (c *Client) probe(ctx context.Context) (bool, string) {
	if err := c.configError(); err != nil {
		return false, err.Error()
	}

	infoURL := fmt.Sprintf("%s/api/2.0/serving-endpoints/%s", c.cfg.Host, c.cfg.Endpoint)
	if strings.HasPrefix(c.cfg.Endpoint, "http://") ||
		strings.HasPrefix(c.cfg.Endpoint, "https://") ||
		strings.HasPrefix(c.cfg.Endpoint, "/") {
		infoURL = c.invocationsURL()
	}

	status, err := c.fetch(ctx, http.MethodGet, infoURL, nil)
	if err != nil {
		return false, err.Error()
	}
	switch status {
	case http.StatusOK:
		return true, ""
	case http.StatusUnauthorized, http.StatusForbidden:
		return false, "authentication failed while probing endpoint"
	}

	// Info route not usable; try the invocations route with a tiny
	// payload.
	ping, _ := json.Marshal(map[string]any{
		"dataframe_records": []map[string]string{{c.cfg.InputColumn: "ping"}},
	})
	status, err = c.fetch(ctx, http.MethodPost, c.invocationsURL(), ping)
	if err != nil {
		return false, err.Error()
	}
	switch status {
	case http.StatusOK, http.StatusBadRequest, http.StatusTooManyRequests, http.StatusServiceUnavailable:
		// 400/429/503 still prove something is answering at the
		// endpoint.
		return true, ""
	case http.StatusUnauthorized, http.StatusForbidden:
		return false, "authentication failed while probing endpoint"
	}
	return false, fmt.Sprintf("unexpected status %d while probing endpoint", status)
}

func (c *Client) fetch(ctx context.Context, method, rawURL string, body []byte) (int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		log.Debug().Err(err).Str("url", rawURL).Msg("Classifier probe request failed")
		return 0, fmt.Errorf("endpoint unreachable: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return resp.StatusCode, nil
}
