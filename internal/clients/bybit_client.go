package clients

import (
	"net/http"

	"github.com/hirokisan/bybit/v2"

	"github.com/vadiminshakov/copier/internal/domain"
)

// NewBybitClient builds an authenticated V5 client. An empty baseURL selects
// the endpoint matching env.
func NewBybitClient(creds domain.Credentials, env domain.Environment, baseURL string, httpClient *http.Client) *bybit.Client {
	if baseURL == "" {
		baseURL = bybit.MainNetBaseURL
		if env.IsSandbox() {
			baseURL = bybit.TestNetBaseURL
		}
	}

	client := bybit.NewClient().WithAuth(creds.APIKey, creds.APISecret).WithBaseURL(baseURL)
	if httpClient != nil {
		client = client.WithHTTPClient(httpClient)
	}

	return client
}
