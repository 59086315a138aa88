// Package flasharray is a thin REST 2.x client for Pure FlashArray.
// It covers exactly the endpoints the metric families need and
// classifies failures into the source error taxonomy.
package flasharray

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/arraybeat/arraybeat/internal/model"
)

// DefaultAPIVersion is the REST version the endpoint paths target.
const DefaultAPIVersion = "2.7"

const tokenPath = "/oauth2/1.0/token"

// Config describes one array endpoint and its API client credentials.
type Config struct {
	Host       string
	APIVersion string

	User     string
	ClientID string
	KeyID    string
	Issuer   string

	// PrivateKey holds the PEM key inline; PrivateKeyFile points to it
	// on disk. Exactly one is set, enforced during config validation.
	PrivateKey         string
	PrivateKeyFile     string
	PrivateKeyPassword string

	Timeout time.Duration
}

// endpoint describes how one metric family maps onto the REST API.
type endpoint struct {
	path      string
	ranged    bool // accepts a resolution parameter
	startTime bool // accepts start_time/end_time
	destroyed bool // supports filtering out destroyed entities
}

var endpoints = map[string]endpoint{
	"arrays_performance":             {path: "arrays/performance", ranged: true, startTime: true},
	"volumes_performance":            {path: "volumes/performance", ranged: true, startTime: true, destroyed: true},
	"volume_groups_performance":      {path: "volume-groups/performance", ranged: true, startTime: true, destroyed: true},
	"network_interfaces_performance": {path: "network-interfaces/performance", ranged: true, startTime: true},
	"hosts_performance":              {path: "hosts/performance"},
	"volumes_space":                  {path: "volumes/space", ranged: true, startTime: true, destroyed: true},
	"arrays_space":                   {path: "arrays/space", ranged: true, startTime: true},
	"controllers":                    {path: "controllers"},

	// The endpoint returns no data when start_time is passed, so only
	// the resolution is sent and the window filtering happens there.
	"pods_performance_replication_by_array": {path: "pods/performance/replication/by-array", ranged: true},
}

// Client implements model.SourceClient against one array. The access
// token is cached and refreshed ahead of expiry; a 401 on a cached
// token forces one re-login before the failure is treated as fatal.
type Client struct {
	cfg     Config
	baseURL string
	http    *http.Client
	key     *rsa.PrivateKey

	mu       sync.Mutex
	token    string
	tokenExp time.Time
}

// New parses the private key and prepares the client. No request is
// made until the first Fetch.
func New(cfg Config) (*Client, error) {
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	key, err := loadPrivateKey(cfg)
	if err != nil {
		return nil, fmt.Errorf("array %s: %w", cfg.Host, err)
	}

	return &Client{
		cfg:     cfg,
		baseURL: "https://" + cfg.Host,
		http:    &http.Client{Timeout: cfg.Timeout},
		key:     key,
	}, nil
}

func loadPrivateKey(cfg Config) (*rsa.PrivateKey, error) {
	raw := []byte(strings.TrimSpace(cfg.PrivateKey))
	if cfg.PrivateKeyFile != "" {
		data, err := os.ReadFile(cfg.PrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("reading private key: %w", err)
		}
		raw = data
	}

	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, errors.New("private key: no PEM block found")
	}

	der := block.Bytes
	if x509.IsEncryptedPEMBlock(block) {
		var err error
		der, err = x509.DecryptPEMBlock(block, []byte(cfg.PrivateKeyPassword))
		if err != nil {
			return nil, fmt.Errorf("decrypting private key: %w", err)
		}
	}

	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key: unsupported type %T", parsed)
	}
	return key, nil
}

// Fetch implements model.SourceClient.
func (c *Client) Fetch(ctx context.Context, family string, window model.Window) ([]model.Row, error) {
	ep, ok := endpoints[family]
	if !ok {
		return nil, fmt.Errorf("%w: unknown metric family %q", model.ErrSourceValidation, family)
	}

	query := url.Values{}
	if ep.ranged && window.Resolution > 0 {
		query.Set("resolution", strconv.FormatInt(window.Resolution.Milliseconds(), 10))
	}
	if ep.startTime && window.Resolution > 0 {
		query.Set("start_time", strconv.FormatInt(window.Start.UnixMilli(), 10))
		query.Set("end_time", strconv.FormatInt(window.End.UnixMilli(), 10))
	}
	if ep.destroyed {
		query.Set("destroyed", "false")
	}

	var rows []model.Row
	continuation := ""
	for {
		q := query
		if continuation != "" {
			q = url.Values{}
			for k, v := range query {
				q[k] = v
			}
			q.Set("continuation_token", continuation)
		}

		page, next, err := c.getPage(ctx, ep.path, q)
		if err != nil {
			return nil, err
		}
		rows = append(rows, page...)
		if next == "" {
			break
		}
		continuation = next
	}
	return rows, nil
}

type apiResponse struct {
	Items              []model.Row `json:"items"`
	MoreItemsRemaining bool        `json:"more_items_remaining"`
	ContinuationToken  string      `json:"continuation_token"`
}

type apiError struct {
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func (c *Client) getPage(ctx context.Context, path string, query url.Values) ([]model.Row, string, error) {
	resp, err := c.do(ctx, path, query, true)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	var body apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, "", fmt.Errorf("%w: decoding %s response: %v", model.ErrSourceConnection, path, err)
	}
	if !body.MoreItemsRemaining {
		return body.Items, "", nil
	}
	return body.Items, body.ContinuationToken, nil
}

// do issues one authenticated GET. A 401 invalidates the cached token
// and retries the login exactly once.
func (c *Client) do(ctx context.Context, path string, query url.Values, retryAuth bool) (*http.Response, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	u := c.baseURL + "/api/" + c.cfg.APIVersion + "/" + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", path, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return resp, nil

	case resp.StatusCode == http.StatusUnauthorized && retryAuth:
		resp.Body.Close()
		c.invalidateToken()
		return c.do(ctx, path, query, false)

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		defer resp.Body.Close()
		return nil, fmt.Errorf("%w: %s: status %d: %s",
			model.ErrSourceAuth, path, resp.StatusCode, readAPIError(resp))

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		defer resp.Body.Close()
		return nil, fmt.Errorf("%w: %s: status %d: %s",
			model.ErrSourceValidation, path, resp.StatusCode, readAPIError(resp))

	default:
		defer resp.Body.Close()
		return nil, fmt.Errorf("%w: %s: status %d",
			model.ErrSourceConnection, path, resp.StatusCode)
	}
}

func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

// accessToken returns the cached token or performs the OAuth2 token
// exchange with a self-signed JWT assertion.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && time.Now().Before(c.tokenExp.Add(-time.Minute)) {
		return c.token, nil
	}

	assertion, err := c.signAssertion()
	if err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrSourceAuth, err)
	}

	form := url.Values{}
	form.Set("grant_type", "urn:ietf:params:oauth:grant-type:token-exchange")
	form.Set("subject_token", assertion)
	form.Set("subject_token_type", "urn:ietf:params:oauth:token-type:jwt")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+tokenPath, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("building token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", classifyTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: token exchange: status %d: %s",
			model.ErrSourceAuth, resp.StatusCode, readAPIError(resp))
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("%w: decoding token response: %v", model.ErrSourceAuth, err)
	}
	if body.AccessToken == "" {
		return "", fmt.Errorf("%w: token exchange returned no access token", model.ErrSourceAuth)
	}

	c.token = body.AccessToken
	if body.ExpiresIn > 0 {
		c.tokenExp = time.Now().Add(time.Duration(body.ExpiresIn) * time.Second)
	} else {
		c.tokenExp = time.Now().Add(8 * time.Hour)
	}
	return c.token, nil
}

// signAssertion builds the RS256-signed JWT the array exchanges for an
// access token.
func (c *Client) signAssertion() (string, error) {
	issuer := c.cfg.Issuer
	if issuer == "" {
		issuer = c.cfg.ClientID
	}
	now := time.Now()

	header := map[string]string{"alg": "RS256", "typ": "JWT", "kid": c.cfg.KeyID}
	claims := map[string]any{
		"iss": issuer,
		"aud": c.cfg.ClientID,
		"sub": c.cfg.User,
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	}

	hdr, err := json.Marshal(header)
	if err != nil {
		return "", err
	}
	cls, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	signing := base64.RawURLEncoding.EncodeToString(hdr) + "." + base64.RawURLEncoding.EncodeToString(cls)

	digest := sha256.Sum256([]byte(signing))
	sig, err := rsa.SignPKCS1v15(rand.Reader, c.key, crypto.SHA256, digest[:])
	if err != nil {
		return "", fmt.Errorf("signing assertion: %w", err)
	}
	return signing + "." + base64.RawURLEncoding.EncodeToString(sig), nil
}

func classifyTransport(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", model.ErrSourceTimeout, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", model.ErrSourceTimeout, err)
	}
	return fmt.Errorf("%w: %v", model.ErrSourceConnection, err)
}

func readAPIError(resp *http.Response) string {
	var body apiError
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && len(body.Errors) > 0 {
		msgs := make([]string, 0, len(body.Errors))
		for _, e := range body.Errors {
			msgs = append(msgs, e.Message)
		}
		return strings.Join(msgs, "; ")
	}
	return resp.Status
}
