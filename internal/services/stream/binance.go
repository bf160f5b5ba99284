package stream

import (
	"context"
	"net/http"

	"github.com/adshao/go-binance/v2"

	"github.com/vadiminshakov/copier/internal/clients"
	"github.com/vadiminshakov/copier/internal/domain"
)

// BinanceListenKeys manages spot user-data listen keys over REST.
type BinanceListenKeys struct {
	client *binance.Client
}

// NewBinanceListenKeys builds the listen key API for a leader account. An
// empty baseURL selects the endpoint matching env.
func NewBinanceListenKeys(creds domain.Credentials, env domain.Environment, baseURL string, httpClient *http.Client) *BinanceListenKeys {
	return &BinanceListenKeys{client: clients.NewBinanceClient(creds, env, baseURL, httpClient)}
}

func (b *BinanceListenKeys) Start(ctx context.Context) (string, error) {
	return b.client.NewStartUserStreamService().Do(ctx)
}

func (b *BinanceListenKeys) Keepalive(ctx context.Context, key string) error {
	return b.client.NewKeepaliveUserStreamService().ListenKey(key).Do(ctx)
}

func (b *BinanceListenKeys) Close(ctx context.Context, key string) error {
	return b.client.NewCloseUserStreamService().ListenKey(key).Do(ctx)
}
