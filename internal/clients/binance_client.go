package clients

import (
	"net/http"

	"github.com/adshao/go-binance/v2"

	"github.com/vadiminshakov/copier/internal/domain"
)

const (
	BinanceLiveURL    = "https://api.binance.com"
	BinanceTestnetURL = "https://testnet.binance.vision"

	BinanceLiveStreamURL    = "wss://stream.binance.com:9443/ws"
	BinanceTestnetStreamURL = "wss://stream.testnet.binance.vision/ws"
)

// BinanceBaseURL returns the REST endpoint for env.
func BinanceBaseURL(env domain.Environment) string {
	if env.IsSandbox() {
		return BinanceTestnetURL
	}
	return BinanceLiveURL
}

// BinanceStreamURL returns the websocket endpoint for env.
func BinanceStreamURL(env domain.Environment) string {
	if env.IsSandbox() {
		return BinanceTestnetStreamURL
	}
	return BinanceLiveStreamURL
}

// NewBinanceClient builds a client for creds. An empty baseURL selects the
// endpoint matching env.
func NewBinanceClient(creds domain.Credentials, env domain.Environment, baseURL string, httpClient *http.Client) *binance.Client {
	client := binance.NewClient(creds.APIKey, creds.APISecret)
	if baseURL == "" {
		baseURL = BinanceBaseURL(env)
	}
	client.BaseURL = baseURL
	if httpClient != nil {
		client.HTTPClient = httpClient
	}
	return client
}
