// Package elastic is the small slice of the Elasticsearch REST API the
// toolkit needs: searching the RedELK indices and installing index
// templates.
package elastic

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/sirupsen/logrus"
)

// Defaults for a local RedELK server.
const (
	DefaultURL      = "https://localhost:9200"
	DefaultUsername = "elastic"
	DefaultTimeout  = 30 * time.Second
)

const maxResponse = 16 << 20

// Config describes how to reach the cluster.
type Config struct {
	URL      string
	Username string
	Password string
	CACert   string // PEM bundle; empty disables certificate verification
	Timeout  time.Duration
	Attempts uint
	Delay    time.Duration
	Logger   *logrus.Entry
}

// Client talks to one Elasticsearch node over HTTPS with basic auth.
type Client struct {
	base     *url.URL
	username string
	password string
	http     *http.Client
	attempts uint
	delay    time.Duration
	logger   *logrus.Entry
}

// StatusError is a response outside the 2xx range.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	if body == "" {
		return fmt.Sprintf("elasticsearch: HTTP %d", e.Code)
	}
	return fmt.Sprintf("elasticsearch: HTTP %d: %s", e.Code, body)
}

// New validates cfg and builds the HTTP transport.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Username == "" {
		cfg.Username = DefaultUsername
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = 3
	}
	if cfg.Delay == 0 {
		cfg.Delay = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(logrus.StandardLogger())
	}

	base, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid elasticsearch url %q", cfg.URL)
	}

	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if cfg.CACert != "" {
		pem, err := os.ReadFile(cfg.CACert)
		if err != nil {
			return nil, fmt.Errorf("read elasticsearch ca: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates in %s", cfg.CACert)
		}
		tlsConfig.RootCAs = pool
	} else {
		tlsConfig.InsecureSkipVerify = true
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = tlsConfig

	return &Client{
		base:     base,
		username: cfg.Username,
		password: cfg.Password,
		http:     &http.Client{Timeout: cfg.Timeout, Transport: transport},
		attempts: cfg.Attempts,
		delay:    cfg.Delay,
		logger:   cfg.Logger,
	}, nil
}

// Search runs query against index and decodes the response into out.
func (c *Client) Search(ctx context.Context, index string, query any, out any) error {
	body, err := json.Marshal(query)
	if err != nil {
		return fmt.Errorf("encode query: %w", err)
	}
	return c.do(ctx, http.MethodPost, "/"+index+"/_search", body, out)
}

// PutIndexTemplate creates or replaces a composable index template.
func (c *Client) PutIndexTemplate(ctx context.Context, name string, body []byte) error {
	if !json.Valid(body) {
		return fmt.Errorf("index template %s: invalid JSON", name)
	}
	return c.do(ctx, http.MethodPut, "/_index_template/"+url.PathEscape(name), body, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	target := c.base.String() + path
	var data []byte
	err := retry.Do(func() error {
		req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
		if err != nil {
			return retry.Unrecoverable(err)
		}
		req.SetBasicAuth(c.username, c.password)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		data, err = io.ReadAll(io.LimitReader(resp.Body, maxResponse+1))
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		if len(data) > maxResponse {
			return retry.Unrecoverable(fmt.Errorf("%s %s: response exceeds %d bytes", method, path, maxResponse))
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			serr := &StatusError{Code: resp.StatusCode, Body: string(data)}
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return retry.Unrecoverable(serr)
			}
			return serr
		}
		return nil
	},
		retry.Context(ctx),
		retry.Attempts(c.attempts),
		retry.Delay(c.delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Debugf("%s %s (attempt %d): %v", method, path, n+1, err)
		}),
	)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// IsNotFound reports whether err is a 404 from the cluster, e.g. a
// search against an index pattern nothing has been written to.
func IsNotFound(err error) bool {
	var serr *StatusError
	return errors.As(err, &serr) && serr.Code == http.StatusNotFound
}
