package clients

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/vadiminshakov/copier/internal/domain"
)

const (
	BitgetBaseURL = "https://api.bitget.com"

	bitgetPaperTradingHeader = "paptrading"
	defaultBitgetTimeout     = 10 * time.Second
)

// BitgetClient is a minimal signed REST client for the Bitget v2 spot API.
type BitgetClient struct {
	BaseURL    string
	HTTPClient *http.Client

	creds domain.Credentials
	paper bool
	now   func() time.Time
}

// NewBitgetClient builds a client for creds. Test and demo environments
// trade against the paper-trading sandbox.
func NewBitgetClient(creds domain.Credentials, env domain.Environment, baseURL string, httpClient *http.Client) *BitgetClient {
	if baseURL == "" {
		baseURL = BitgetBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultBitgetTimeout}
	}
	return &BitgetClient{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: httpClient,
		creds:      creds,
		paper:      env.IsSandbox(),
		now:        time.Now,
	}
}

// BitgetResponse is a raw exchange reply.
type BitgetResponse struct {
	StatusCode int
	Body       []byte
}

// Sign returns base64(HMAC-SHA256(secret, timestamp+METHOD+requestPath+body)).
func Sign(secret, timestamp, method, requestPath, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + strings.ToUpper(method) + requestPath + body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Get performs a signed GET request.
func (c *BitgetClient) Get(ctx context.Context, path string, query url.Values) (*BitgetResponse, error) {
	return c.do(ctx, http.MethodGet, path, query, nil)
}

// Post performs a signed POST request with a JSON body.
func (c *BitgetClient) Post(ctx context.Context, path string, payload any) (*BitgetResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "encode bitget request body")
	}
	return c.do(ctx, http.MethodPost, path, nil, body)
}

func (c *BitgetClient) do(ctx context.Context, method, path string, query url.Values, body []byte) (*BitgetResponse, error) {
	requestPath := path
	if len(query) > 0 {
		requestPath = path + "?" + query.Encode()
	}

	ts := strconv.FormatInt(c.now().UnixMilli(), 10)

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+requestPath, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build bitget request")
	}

	req.Header.Set("ACCESS-KEY", c.creds.APIKey)
	req.Header.Set("ACCESS-SIGN", Sign(c.creds.APISecret, ts, method, requestPath, string(body)))
	req.Header.Set("ACCESS-TIMESTAMP", ts)
	req.Header.Set("ACCESS-PASSPHRASE", c.creds.Passphrase)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("locale", "en-US")
	if c.paper {
		req.Header.Set(bitgetPaperTradingHeader, "1")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "bitget %s %s", method, path)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read bitget response")
	}

	return &BitgetResponse{StatusCode: resp.StatusCode, Body: data}, nil
}
