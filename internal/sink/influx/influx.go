// Package influx is the InfluxDB 1.x sink. It speaks line protocol
// over the HTTP write endpoint directly; identical points (same
// timestamp, tag set and fields) overwrite on the server, which is
// what makes duplicate window resends after a crash harmless.
package influx

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/arraybeat/arraybeat/internal/model"
)

// Config describes the InfluxDB endpoint.
type Config struct {
	Host     string
	Port     int
	SSL      bool
	User     string
	Password string
	Database string
	Timeout  time.Duration
}

// Client writes point batches to one InfluxDB database.
type Client struct {
	baseURL  string
	database string
	user     string
	password string
	http     *http.Client
}

// New creates the sink client. No connection is made until Ping or
// the first Write.
func New(cfg Config) *Client {
	scheme := "http"
	if cfg.SSL {
		scheme = "https"
	}
	port := cfg.Port
	if port == 0 {
		port = 8086
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:  fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, port),
		database: cfg.Database,
		user:     cfg.User,
		password: cfg.Password,
		http:     &http.Client{Timeout: timeout},
	}
}

// Write persists one batch. Client-side rejections (4xx) map to
// ErrSinkRejected, everything else to ErrSinkTransient.
func (c *Client) Write(ctx context.Context, batch model.Batch, opts model.WriteOptions) error {
	body := encodeBatch(batch, opts.MeasurementPrefix)
	if body == "" {
		return nil
	}

	query := url.Values{}
	query.Set("db", c.database)
	query.Set("precision", "ms")
	if opts.RetentionPolicy != "" {
		query.Set("rp", opts.RetentionPolicy)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/write?"+query.Encode(), strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("building write request: %w", err)
	}
	if c.user != "" {
		req.SetBasicAuth(c.user, c.password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrSinkTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNoContent:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return fmt.Errorf("%w: status %d: %s", model.ErrSinkRejected, resp.StatusCode, readError(resp.Body))
	default:
		return fmt.Errorf("%w: status %d: %s", model.ErrSinkTransient, resp.StatusCode, readError(resp.Body))
	}
}

// Ping verifies the server is reachable and returns quickly; the
// version header is logged by the caller.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/ping", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrSinkTransient, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: ping status %d", model.ErrSinkTransient, resp.StatusCode)
	}
	return nil
}

// Version reports the server version from the ping response header.
func (c *Client) Version(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/ping", nil)
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	return resp.Header.Get("X-Influxdb-Version"), nil
}

func (c *Client) Close() error { return nil }

func readError(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 512))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
